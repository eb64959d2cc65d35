// Package docstore persists verification documents and cached vehicle levels
// in Neo4j. Documents hang off their Vehicle node via HAS_DOCUMENT edges;
// lifecycle transitions are single-statement compare-and-set updates so two
// concurrent admins cannot both resolve the same pending document.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tank-Iberica/trust-engine/engine/domain"
	"github.com/Tank-Iberica/trust-engine/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// CypherSession is the minimal session surface the store needs.
type CypherSession interface {
	Run(ctx context.Context, cypher string, params map[string]any) (neo4j.ResultWithContext, error)
	Close(ctx context.Context) error
}

// SessionOpener opens sessions; faked in tests.
type SessionOpener interface {
	OpenSession(ctx context.Context) CypherSession
}

type driverOpener struct {
	driver neo4j.DriverWithContext
}

type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (neo4j.ResultWithContext, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a sessionAdapter) Close(ctx context.Context) error { return a.sess.Close(ctx) }

func (o driverOpener) OpenSession(ctx context.Context) CypherSession {
	return sessionAdapter{sess: o.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

// Store is the Neo4j-backed document store.
type Store struct {
	opener SessionOpener
	docs   *repo.Neo4jRepo[domain.VerificationDocument, string]
}

// New creates a Store on top of a Neo4j driver.
func New(driver neo4j.DriverWithContext) *Store {
	return &Store{
		opener: driverOpener{driver: driver},
		docs: repo.NewNeo4jRepo[domain.VerificationDocument, string](
			driver, "Document", docToMap, docFromRecord),
	}
}

// NewWithOpener creates a Store with a custom session opener (tests).
func NewWithOpener(opener SessionOpener) *Store {
	return &Store{opener: opener}
}

// CreateDocument persists a new pending document and links it to its vehicle,
// creating the vehicle node if this is its first document.
func (s *Store) CreateDocument(ctx context.Context, doc domain.VerificationDocument) (domain.VerificationDocument, error) {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (v:Vehicle {id: $vehicleID})
	           CREATE (d:Document $props)
	           MERGE (v)-[:HAS_DOCUMENT]->(d)
	           RETURN d`
	result, err := sess.Run(ctx, cypher, map[string]any{
		"vehicleID": doc.VehicleID,
		"props":     docToMap(doc),
	})
	if err != nil {
		return domain.VerificationDocument{}, storeErr("create document", err)
	}
	if !result.Next(ctx) {
		return domain.VerificationDocument{}, storeErr("create document", errors.New("no row returned"))
	}
	return docFromRecordKey(result.Record(), "d")
}

// GetDocument fetches a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (domain.VerificationDocument, error) {
	if s.docs != nil {
		doc, err := s.docs.Get(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.VerificationDocument{}, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
		}
		if err != nil {
			return domain.VerificationDocument{}, storeErr("get document", err)
		}
		return doc, nil
	}

	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, `MATCH (n:Document {id: $id}) RETURN n`, map[string]any{"id": id})
	if err != nil {
		return domain.VerificationDocument{}, storeErr("get document", err)
	}
	if !result.Next(ctx) {
		return domain.VerificationDocument{}, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return docFromRecord(result.Record())
}

// ListByVehicle returns all documents for a vehicle regardless of status.
func (s *Store) ListByVehicle(ctx context.Context, vehicleID string) ([]domain.VerificationDocument, error) {
	if s.docs != nil {
		// Level derivation needs the complete set. A vehicle holds at most a
		// few dozen documents (one per type plus re-submissions), so a single
		// page of 500 covers it with a wide margin.
		docs, err := s.docs.List(ctx, repo.ListOpts{
			Limit:  500,
			Filter: map[string]any{"vehicle_id": vehicleID},
		})
		if err != nil {
			return nil, storeErr("list documents", err)
		}
		return docs, nil
	}

	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, `MATCH (n:Document {vehicle_id: $vehicleID}) RETURN n`,
		map[string]any{"vehicleID": vehicleID})
	if err != nil {
		return nil, storeErr("list documents", err)
	}
	var docs []domain.VerificationDocument
	for result.Next(ctx) {
		doc, err := docFromRecord(result.Record())
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// TransitionDocument moves a pending document to the given terminal status.
// The status check and update run in one statement, so a concurrent
// transition on the same document loses cleanly instead of overwriting.
func (s *Store) TransitionDocument(ctx context.Context, id string, to domain.DocumentStatus, actorID, reason string, at time.Time) (domain.VerificationDocument, error) {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (d:Document {id: $id})
	           WHERE d.status = $pending
	           SET d.status = $to, d.verified_by = $actor, d.verified_at = $at, d.rejection_reason = $reason
	           RETURN d`
	result, err := sess.Run(ctx, cypher, map[string]any{
		"id":      id,
		"pending": string(domain.StatusPending),
		"to":      string(to),
		"actor":   actorID,
		"at":      at.UTC().Format(time.RFC3339Nano),
		"reason":  reason,
	})
	if err != nil {
		return domain.VerificationDocument{}, storeErr("transition document", err)
	}
	if result.Next(ctx) {
		return docFromRecordKey(result.Record(), "d")
	}

	// Zero rows: either the document is gone or it already left pending.
	if _, err := s.GetDocument(ctx, id); err != nil {
		return domain.VerificationDocument{}, err
	}
	return domain.VerificationDocument{}, fmt.Errorf("document %s is not pending: %w", id, domain.ErrInvalidTransition)
}

// SaveLevel caches the derived verification level on the vehicle node.
func (s *Store) SaveLevel(ctx context.Context, vehicleID string, level domain.VerificationLevel) error {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (v:Vehicle {id: $id})
	           SET v.level = $level, v.level_updated_at = $at`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"id":    vehicleID,
		"level": level.String(),
		"at":    time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return storeErr("save level", err)
	}
	return nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("docstore: %s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

// --- node property mapping ---

func docToMap(d domain.VerificationDocument) map[string]any {
	props := map[string]any{
		"id":         d.ID,
		"vehicle_id": d.VehicleID,
		"doc_type":   string(d.DocType),
		"status":     string(d.Status),
	}
	setIfNonEmpty := func(key, val string) {
		if val != "" {
			props[key] = val
		}
	}
	setIfNonEmpty("file_ref", d.FileRef)
	setIfNonEmpty("rejection_reason", d.RejectionReason)
	setIfNonEmpty("submitted_by", d.SubmittedBy)
	setIfNonEmpty("verified_by", d.VerifiedBy)
	setIfNonEmpty("verified_at", timeProp(d.VerifiedAt))
	setIfNonEmpty("generated_at", timeProp(d.GeneratedAt))
	setIfNonEmpty("expires_at", timeProp(d.ExpiresAt))
	if d.PriceCents != 0 {
		props["price_cents"] = d.PriceCents
	}
	if d.Extracted != nil {
		setIfNonEmpty("extracted_plate", d.Extracted.PlateNumber)
		setIfNonEmpty("extracted_vin", d.Extracted.VIN)
		setIfNonEmpty("extracted_issuer", d.Extracted.Issuer)
		setIfNonEmpty("extracted_issued_at", timeProp(d.Extracted.IssuedAt))
		if d.Extracted.OdometerKM != 0 {
			props["extracted_odometer_km"] = d.Extracted.OdometerKM
		}
	}
	return props
}

func docFromRecord(record *neo4j.Record) (domain.VerificationDocument, error) {
	return docFromRecordKey(record, "n")
}

func docFromRecordKey(record *neo4j.Record, key string) (domain.VerificationDocument, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](record, key)
	if err != nil {
		return domain.VerificationDocument{}, fmt.Errorf("docstore: read node: %w", err)
	}
	return docFromProps(node.Props), nil
}

func docFromProps(props map[string]any) domain.VerificationDocument {
	d := domain.VerificationDocument{
		ID:              strProp(props, "id"),
		VehicleID:       strProp(props, "vehicle_id"),
		DocType:         domain.VerificationDocType(strProp(props, "doc_type")),
		FileRef:         strProp(props, "file_ref"),
		Status:          domain.DocumentStatus(strProp(props, "status")),
		RejectionReason: strProp(props, "rejection_reason"),
		SubmittedBy:     strProp(props, "submitted_by"),
		VerifiedBy:      strProp(props, "verified_by"),
		VerifiedAt:      timeFromProp(props, "verified_at"),
		GeneratedAt:     timeFromProp(props, "generated_at"),
		ExpiresAt:       timeFromProp(props, "expires_at"),
		PriceCents:      intProp(props, "price_cents"),
	}

	extracted := domain.ExtractedData{
		PlateNumber: strProp(props, "extracted_plate"),
		VIN:         strProp(props, "extracted_vin"),
		Issuer:      strProp(props, "extracted_issuer"),
		IssuedAt:    timeFromProp(props, "extracted_issued_at"),
		OdometerKM:  intProp(props, "extracted_odometer_km"),
	}
	if extracted != (domain.ExtractedData{}) {
		d.Extracted = &extracted
	}
	return d
}

func timeProp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func timeFromProp(props map[string]any, key string) time.Time {
	s := strProp(props, key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func strProp(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

func intProp(props map[string]any, key string) int64 {
	switch v := props[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
