package verification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Tank-Iberica/trust-engine/engine/domain"
)

// fakeStore is an in-memory DocumentStore with the same compare-and-set
// transition semantics as the Neo4j-backed store.
type fakeStore struct {
	mu          sync.Mutex
	docs        map[string]domain.VerificationDocument
	levels      map[string]domain.VerificationLevel
	failWith    error
	transitions int
	saves       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:   make(map[string]domain.VerificationDocument),
		levels: make(map[string]domain.VerificationLevel),
	}
}

func (s *fakeStore) CreateDocument(_ context.Context, doc domain.VerificationDocument) (domain.VerificationDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return domain.VerificationDocument{}, s.failWith
	}
	s.docs[doc.ID] = doc
	return doc, nil
}

func (s *fakeStore) GetDocument(_ context.Context, id string) (domain.VerificationDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return domain.VerificationDocument{}, s.failWith
	}
	doc, ok := s.docs[id]
	if !ok {
		return domain.VerificationDocument{}, domain.ErrNotFound
	}
	return doc, nil
}

func (s *fakeStore) ListByVehicle(_ context.Context, vehicleID string) ([]domain.VerificationDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	var out []domain.VerificationDocument
	for _, d := range s.docs {
		if d.VehicleID == vehicleID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeStore) TransitionDocument(_ context.Context, id string, to domain.DocumentStatus, actorID, reason string, at time.Time) (domain.VerificationDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return domain.VerificationDocument{}, s.failWith
	}
	doc, ok := s.docs[id]
	if !ok {
		return domain.VerificationDocument{}, domain.ErrNotFound
	}
	if doc.Status != domain.StatusPending {
		return domain.VerificationDocument{}, domain.ErrInvalidTransition
	}
	doc.Status = to
	doc.VerifiedBy = actorID
	doc.VerifiedAt = at
	doc.RejectionReason = reason
	s.docs[id] = doc
	s.transitions++
	return doc, nil
}

func (s *fakeStore) SaveLevel(_ context.Context, vehicleID string, level domain.VerificationLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.levels[vehicleID] = level
	s.saves++
	return nil
}

type fakeSink struct {
	mu     sync.Mutex
	events []LevelEvent
	err    error
}

func (s *fakeSink) Publish(_ context.Context, event LevelEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func newTestController(store DocumentStore, sink EventSink) *Controller {
	c := NewController(store,
		WithEvents(sink),
		WithClock(func() time.Time { return testNow }),
	)
	// Fast retries so infrastructure-failure tests don't sleep.
	c.retry.InitialWait = time.Millisecond
	c.retry.MaxWait = time.Millisecond
	return c
}

func TestSubmitCreatesPendingDocument(t *testing.T) {
	store := newFakeStore()
	c := newTestController(store, nil)

	id, err := c.Submit(context.Background(), "veh-1", domain.DocFotoKM, "s3://bucket/km.jpg", "seller-9", nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a document id")
	}

	doc := store.docs[id]
	if doc.Status != domain.StatusPending {
		t.Fatalf("expected pending, got %s", doc.Status)
	}
	if doc.VehicleID != "veh-1" || doc.DocType != domain.DocFotoKM {
		t.Fatalf("unexpected document %#v", doc)
	}
	if doc.SubmittedBy != "seller-9" || doc.FileRef != "s3://bucket/km.jpg" {
		t.Fatalf("unexpected document %#v", doc)
	}
	if !doc.GeneratedAt.Equal(testNow) {
		t.Fatalf("expected clock time, got %v", doc.GeneratedAt)
	}
}

func TestSubmitValidates(t *testing.T) {
	store := newFakeStore()
	c := newTestController(store, nil)

	if _, err := c.Submit(context.Background(), "", domain.DocFotoKM, "", "", nil); !errors.Is(err, domain.ErrEmptyVehicleID) {
		t.Fatalf("expected ErrEmptyVehicleID, got %v", err)
	}
	if _, err := c.Submit(context.Background(), "veh-1", "passport", "", "", nil); !errors.Is(err, domain.ErrUnknownDocType) {
		t.Fatalf("expected ErrUnknownDocType, got %v", err)
	}
	if len(store.docs) != 0 {
		t.Fatal("validation failures must not create documents")
	}
}

func TestApproveTransitionsAndPublishes(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	c := newTestController(store, sink)

	id, _ := c.Submit(context.Background(), "veh-1", domain.DocDGTReport, "", "", nil)

	level, err := c.Approve(context.Background(), id, "admin-1")
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if level != domain.LevelAudited {
		t.Fatalf("expected audited after DGT approval, got %s", level)
	}

	doc := store.docs[id]
	if doc.Status != domain.StatusVerified || doc.VerifiedBy != "admin-1" {
		t.Fatalf("unexpected document %#v", doc)
	}
	if store.levels["veh-1"] != domain.LevelAudited {
		t.Fatalf("expected cached level audited, got %s", store.levels["veh-1"])
	}

	if len(sink.events) != 1 {
		t.Fatalf("expected one event, got %d", len(sink.events))
	}
	ev := sink.events[0]
	if ev.VehicleID != "veh-1" || ev.DocumentID != id || ev.Status != domain.StatusVerified || ev.Level != "audited" {
		t.Fatalf("unexpected event %#v", ev)
	}
}

func TestApproveValidatesApprover(t *testing.T) {
	c := newTestController(newFakeStore(), nil)
	if _, err := c.Approve(context.Background(), "doc-1", ""); !errors.Is(err, domain.ErrEmptyApprover) {
		t.Fatalf("expected ErrEmptyApprover, got %v", err)
	}
}

func TestApproveUnknownDocument(t *testing.T) {
	c := newTestController(newFakeStore(), nil)
	if _, err := c.Approve(context.Background(), "missing", "admin-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNotFoundLookupsDoNotTripBreaker(t *testing.T) {
	store := newFakeStore()
	c := newTestController(store, nil)
	ctx := context.Background()

	// A burst of lookups for unknown documents is client input, not a store
	// outage: subsequent writes against the healthy store must still work.
	for i := 0; i < 10; i++ {
		if _, err := c.Approve(ctx, "missing", "admin-1"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("lookup %d: expected ErrNotFound, got %v", i, err)
		}
	}

	id, err := c.Submit(ctx, "veh-1", domain.DocFichaTecnica, "", "seller-1", nil)
	if err != nil {
		t.Fatalf("submit after not-found burst failed: %v", err)
	}
	if _, ok := store.docs[id]; !ok {
		t.Fatal("document was not stored")
	}
}

func TestReApproveSameApproverIsIdempotent(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	c := newTestController(store, sink)

	id, _ := c.Submit(context.Background(), "veh-1", domain.DocDGTReport, "", "", nil)
	if _, err := c.Approve(context.Background(), id, "admin-1"); err != nil {
		t.Fatalf("first approve failed: %v", err)
	}
	transitions := store.transitions
	events := len(sink.events)

	level, err := c.Approve(context.Background(), id, "admin-1")
	if err != nil {
		t.Fatalf("re-approve by same approver must be a no-op, got %v", err)
	}
	if level != domain.LevelAudited {
		t.Fatalf("expected current level, got %s", level)
	}
	if store.transitions != transitions {
		t.Fatal("re-approve must not write a transition")
	}
	if len(sink.events) != events {
		t.Fatal("re-approve must not publish an event")
	}
}

func TestReApproveDifferentApproverFails(t *testing.T) {
	store := newFakeStore()
	c := newTestController(store, nil)

	id, _ := c.Submit(context.Background(), "veh-1", domain.DocDGTReport, "", "", nil)
	if _, err := c.Approve(context.Background(), id, "admin-1"); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if _, err := c.Approve(context.Background(), id, "admin-2"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	store := newFakeStore()
	c := newTestController(store, nil)

	id, _ := c.Submit(context.Background(), "veh-1", domain.DocFotoKM, "", "", nil)
	if _, err := c.Reject(context.Background(), id, "admin-1", ""); !errors.Is(err, domain.ErrEmptyReason) {
		t.Fatalf("expected ErrEmptyReason, got %v", err)
	}
	if store.docs[id].Status != domain.StatusPending {
		t.Fatal("document must remain pending after failed validation")
	}
}

func TestRejectRecordsReason(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	c := newTestController(store, sink)

	id, _ := c.Submit(context.Background(), "veh-1", domain.DocFotoKM, "", "", nil)
	level, err := c.Reject(context.Background(), id, "admin-1", "photo is unreadable")
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if level != domain.LevelNone {
		t.Fatalf("expected level none, got %s", level)
	}

	doc := store.docs[id]
	if doc.Status != domain.StatusRejected {
		t.Fatalf("expected rejected, got %s", doc.Status)
	}
	if doc.RejectionReason != "photo is unreadable" {
		t.Fatalf("expected recorded reason, got %q", doc.RejectionReason)
	}
	if len(sink.events) != 1 || sink.events[0].Status != domain.StatusRejected {
		t.Fatalf("expected rejection event, got %#v", sink.events)
	}
}

func TestRejectTerminalDocumentFails(t *testing.T) {
	store := newFakeStore()
	c := newTestController(store, nil)

	id, _ := c.Submit(context.Background(), "veh-1", domain.DocFotoKM, "", "", nil)
	if _, err := c.Reject(context.Background(), id, "admin-1", "blurry"); err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if _, err := c.Reject(context.Background(), id, "admin-1", "still blurry"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := c.Approve(context.Background(), id, "admin-1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition approving rejected doc, got %v", err)
	}
}

func TestLevelRecomputedAcrossApprovals(t *testing.T) {
	store := newFakeStore()
	c := newTestController(store, nil)
	ctx := context.Background()

	base := []domain.VerificationDocType{
		domain.DocFichaTecnica, domain.DocFotoKM, domain.DocFotosExteriores,
	}
	var last domain.VerificationLevel
	for _, dt := range base {
		id, err := c.Submit(ctx, "veh-1", dt, "", "", nil)
		if err != nil {
			t.Fatalf("submit %s failed: %v", dt, err)
		}
		last, err = c.Approve(ctx, id, "admin-1")
		if err != nil {
			t.Fatalf("approve %s failed: %v", dt, err)
		}
	}
	if last != domain.LevelVerified {
		t.Fatalf("expected verified after base set, got %s", last)
	}

	// Rejecting an unrelated document leaves the level alone.
	id, _ := c.Submit(ctx, "veh-1", domain.DocADR, "", "", nil)
	level, err := c.Reject(ctx, id, "admin-1", "wrong vehicle on certificate")
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if level != domain.LevelVerified {
		t.Fatalf("rejection of unrelated doc must not lower level, got %s", level)
	}
}

func TestCurrentLevelAndMissing(t *testing.T) {
	store := newFakeStore()
	c := newTestController(store, nil)
	ctx := context.Background()

	level, err := c.CurrentLevel(ctx, "veh-1")
	if err != nil {
		t.Fatalf("current level failed: %v", err)
	}
	if level != domain.LevelNone {
		t.Fatalf("expected none for unknown vehicle, got %s", level)
	}

	missing, err := c.MissingForLevel(ctx, "veh-1", domain.LevelVerified)
	if err != nil {
		t.Fatalf("missing docs failed: %v", err)
	}
	if len(missing) != 3 {
		t.Fatalf("expected 3 missing base docs, got %v", missing)
	}
}

func TestStoreFailureSurfacesAsUnavailable(t *testing.T) {
	store := newFakeStore()
	store.failWith = domain.ErrStoreUnavailable
	c := newTestController(store, nil)

	_, err := c.Submit(context.Background(), "veh-1", domain.DocFotoKM, "", "", nil)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if !domain.IsRetryable(err) {
		t.Fatal("store failures must classify as retryable")
	}
}

func TestPublishFailureDoesNotFailTransition(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{err: errors.New("nats down")}
	c := newTestController(store, sink)

	id, _ := c.Submit(context.Background(), "veh-1", domain.DocDGTReport, "", "", nil)
	level, err := c.Approve(context.Background(), id, "admin-1")
	if err != nil {
		t.Fatalf("approve must succeed despite publish failure, got %v", err)
	}
	if level != domain.LevelAudited {
		t.Fatalf("expected audited, got %s", level)
	}
	if store.docs[id].Status != domain.StatusVerified {
		t.Fatal("transition must be committed")
	}
}
