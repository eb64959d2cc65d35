package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Tank-Iberica/trust-engine/engine/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// --- fakes ---

type fakeResult struct {
	neo4j.ResultWithContext
	records []*neo4j.Record
	idx     int
}

func (r *fakeResult) Next(_ context.Context) bool {
	if r.idx < len(r.records) {
		r.idx++
		return true
	}
	return false
}

func (r *fakeResult) Record() *neo4j.Record {
	return r.records[r.idx-1]
}

type fakeSession struct {
	records []*neo4j.Record
	err     error
	cyphers []string
	params  []map[string]any
	closed  bool
}

func (s *fakeSession) Run(_ context.Context, cypher string, params map[string]any) (neo4j.ResultWithContext, error) {
	s.cyphers = append(s.cyphers, cypher)
	s.params = append(s.params, params)
	if s.err != nil {
		return nil, s.err
	}
	return &fakeResult{records: s.records}, nil
}

func (s *fakeSession) Close(_ context.Context) error {
	s.closed = true
	return nil
}

// fakeOpener hands out one queued session per OpenSession call, repeating the
// last one if the queue runs dry.
type fakeOpener struct {
	sessions []*fakeSession
	idx      int
}

func (o *fakeOpener) OpenSession(_ context.Context) CypherSession {
	if o.idx < len(o.sessions)-1 {
		o.idx++
		return o.sessions[o.idx-1]
	}
	return o.sessions[len(o.sessions)-1]
}

func docRecord(key string, props map[string]any) *neo4j.Record {
	return &neo4j.Record{
		Keys:   []string{key},
		Values: []any{dbtype.Node{Props: props}},
	}
}

func pendingProps(id string) map[string]any {
	return map[string]any{
		"id":         id,
		"vehicle_id": "veh-1",
		"doc_type":   "foto_km",
		"status":     "pending",
	}
}

// --- tests ---

func TestCreateDocument(t *testing.T) {
	sess := &fakeSession{records: []*neo4j.Record{docRecord("d", pendingProps("doc-1"))}}
	store := NewWithOpener(&fakeOpener{sessions: []*fakeSession{sess}})

	doc := domain.VerificationDocument{
		ID:        "doc-1",
		VehicleID: "veh-1",
		DocType:   domain.DocFotoKM,
		Status:    domain.StatusPending,
	}
	created, err := store.CreateDocument(context.Background(), doc)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID != "doc-1" || created.Status != domain.StatusPending {
		t.Fatalf("unexpected document %#v", created)
	}
	if sess.params[0]["vehicleID"] != "veh-1" {
		t.Fatalf("expected vehicle id param, got %#v", sess.params[0])
	}
	if !sess.closed {
		t.Fatal("session must be closed")
	}
}

func TestCreateDocumentStoreError(t *testing.T) {
	sess := &fakeSession{err: errors.New("connection refused")}
	store := NewWithOpener(&fakeOpener{sessions: []*fakeSession{sess}})

	_, err := store.CreateDocument(context.Background(), domain.VerificationDocument{ID: "doc-1"})
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if !domain.IsRetryable(err) {
		t.Fatal("store errors must classify as retryable")
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	sess := &fakeSession{}
	store := NewWithOpener(&fakeOpener{sessions: []*fakeSession{sess}})

	_, err := store.GetDocument(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListByVehicle(t *testing.T) {
	sess := &fakeSession{records: []*neo4j.Record{
		docRecord("n", pendingProps("doc-1")),
		docRecord("n", pendingProps("doc-2")),
	}}
	store := NewWithOpener(&fakeOpener{sessions: []*fakeSession{sess}})

	docs, err := store.ListByVehicle(context.Background(), "veh-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "doc-1" || docs[1].ID != "doc-2" {
		t.Fatalf("unexpected documents %#v", docs)
	}
}

func TestTransitionDocument(t *testing.T) {
	props := pendingProps("doc-1")
	props["status"] = "verified"
	props["verified_by"] = "admin-1"
	sess := &fakeSession{records: []*neo4j.Record{docRecord("d", props)}}
	store := NewWithOpener(&fakeOpener{sessions: []*fakeSession{sess}})

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	doc, err := store.TransitionDocument(context.Background(), "doc-1", domain.StatusVerified, "admin-1", "", at)
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if doc.Status != domain.StatusVerified || doc.VerifiedBy != "admin-1" {
		t.Fatalf("unexpected document %#v", doc)
	}

	params := sess.params[0]
	if params["pending"] != "pending" || params["to"] != "verified" {
		t.Fatalf("compare-and-set params wrong: %#v", params)
	}
	if params["at"] != at.Format(time.RFC3339Nano) {
		t.Fatalf("expected RFC3339Nano timestamp, got %v", params["at"])
	}
}

func TestTransitionDocumentAlreadyResolved(t *testing.T) {
	// CAS matches zero rows; the follow-up read finds a verified document.
	resolved := pendingProps("doc-1")
	resolved["status"] = "verified"
	casSess := &fakeSession{}
	getSess := &fakeSession{records: []*neo4j.Record{docRecord("n", resolved)}}
	store := NewWithOpener(&fakeOpener{sessions: []*fakeSession{casSess, getSess}})

	_, err := store.TransitionDocument(context.Background(), "doc-1", domain.StatusRejected, "admin-2", "dup", time.Now())
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransitionDocumentMissing(t *testing.T) {
	// CAS matches zero rows and the follow-up read finds nothing.
	store := NewWithOpener(&fakeOpener{sessions: []*fakeSession{{}, {}}})

	_, err := store.TransitionDocument(context.Background(), "ghost", domain.StatusVerified, "admin-1", "", time.Now())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveLevel(t *testing.T) {
	sess := &fakeSession{}
	store := NewWithOpener(&fakeOpener{sessions: []*fakeSession{sess}})

	if err := store.SaveLevel(context.Background(), "veh-1", domain.LevelExtended); err != nil {
		t.Fatalf("save level failed: %v", err)
	}
	params := sess.params[0]
	if params["id"] != "veh-1" || params["level"] != "extended" {
		t.Fatalf("unexpected params %#v", params)
	}
}

func TestDocPropertyMapping(t *testing.T) {
	verifiedAt := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	doc := domain.VerificationDocument{
		ID:          "doc-1",
		VehicleID:   "veh-1",
		DocType:     domain.DocTarjetaITV,
		FileRef:     "s3://docs/itv.pdf",
		Status:      domain.StatusVerified,
		SubmittedBy: "seller-1",
		VerifiedBy:  "admin-1",
		VerifiedAt:  verifiedAt,
		GeneratedAt: verifiedAt.AddDate(0, 0, -3),
		ExpiresAt:   verifiedAt.AddDate(1, 0, 0),
		PriceCents:  1500,
		Extracted: &domain.ExtractedData{
			PlateNumber: "1234ABC",
			VIN:         "VF1RFB00X57000000",
			OdometerKM:  412000,
			Issuer:      "ITV Zaragoza",
		},
	}

	props := docToMap(doc)
	if props["doc_type"] != "tarjeta_itv" || props["status"] != "verified" {
		t.Fatalf("unexpected props %#v", props)
	}
	if props["extracted_plate"] != "1234ABC" || props["extracted_odometer_km"] != int64(412000) {
		t.Fatalf("extracted fields not flattened: %#v", props)
	}
	if _, ok := props["rejection_reason"]; ok {
		t.Fatal("empty fields must be omitted")
	}

	back := docFromProps(props)
	if back.ID != doc.ID || back.DocType != doc.DocType || back.Status != doc.Status {
		t.Fatalf("round trip mismatch: %#v", back)
	}
	if !back.VerifiedAt.Equal(verifiedAt) || !back.ExpiresAt.Equal(doc.ExpiresAt) {
		t.Fatalf("time round trip mismatch: %#v", back)
	}
	if back.Extracted == nil || back.Extracted.VIN != doc.Extracted.VIN || back.Extracted.OdometerKM != 412000 {
		t.Fatalf("extracted round trip mismatch: %#v", back.Extracted)
	}
}

func TestDocFromPropsWithoutExtracted(t *testing.T) {
	doc := docFromProps(pendingProps("doc-1"))
	if doc.Extracted != nil {
		t.Fatalf("expected nil extracted data, got %#v", doc.Extracted)
	}
	if doc.DocType != domain.DocFotoKM {
		t.Fatalf("unexpected doc type %s", doc.DocType)
	}
}
