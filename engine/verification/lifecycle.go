package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tank-Iberica/trust-engine/engine/domain"
	"github.com/Tank-Iberica/trust-engine/pkg/fn"
	"github.com/Tank-Iberica/trust-engine/pkg/resilience"
	"github.com/google/uuid"
)

// DocumentStore is the persistence collaborator for verification documents.
// The engine keeps no document state of its own.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc domain.VerificationDocument) (domain.VerificationDocument, error)
	GetDocument(ctx context.Context, id string) (domain.VerificationDocument, error)
	ListByVehicle(ctx context.Context, vehicleID string) ([]domain.VerificationDocument, error)
	// TransitionDocument atomically moves a pending document to the given
	// status (compare-and-set on status). It returns ErrInvalidTransition if
	// the document is no longer pending, ErrNotFound if it does not exist.
	TransitionDocument(ctx context.Context, id string, to domain.DocumentStatus, actorID, reason string, at time.Time) (domain.VerificationDocument, error)
	// SaveLevel caches the derived level on the vehicle.
	SaveLevel(ctx context.Context, vehicleID string, level domain.VerificationLevel) error
}

// LevelEvent is published after every successful document transition.
type LevelEvent struct {
	VehicleID  string                     `json:"vehicle_id"`
	DocumentID string                     `json:"document_id"`
	DocType    domain.VerificationDocType `json:"doc_type"`
	Status     domain.DocumentStatus      `json:"status"`
	Level      string                     `json:"level"`
	OccurredAt time.Time                  `json:"occurred_at"`
}

// SubjectVerificationUpdated is the NATS subject for level change events.
const SubjectVerificationUpdated = "trust.verification.updated"

// EventSink receives level events. Publish failures are logged, never allowed
// to roll back a committed transition.
type EventSink interface {
	Publish(ctx context.Context, event LevelEvent) error
}

// Controller validates and applies document lifecycle transitions, triggering
// level re-derivation after every successful one.
type Controller struct {
	store   DocumentStore
	events  EventSink
	breaker *resilience.Breaker
	retry   fn.RetryOpts
	log     *slog.Logger
	now     func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithEvents attaches an event sink for level change notifications.
func WithEvents(sink EventSink) Option {
	return func(c *Controller) { c.events = sink }
}

// WithLogger sets the controller logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a lifecycle controller over the given store.
func NewController(store DocumentStore, opts ...Option) *Controller {
	c := &Controller{
		store: store,
		// Only infrastructure failures count toward the breaker; NotFound
		// and transition conflicts come from client input and must not
		// manufacture an outage.
		breaker: resilience.NewBreaker(resilience.BreakerOpts{IsFailure: retryable}),
		retry: fn.RetryOpts{
			MaxAttempts: 3,
			InitialWait: 100 * time.Millisecond,
			MaxWait:     time.Second,
			Jitter:      true,
		},
		log: slog.Default(),
		now: time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Submit creates a new pending document for a vehicle and returns its ID.
// Multiple pending or rejected documents of the same type may coexist;
// derivation only looks at verified status. Extracted data, when present, is
// stored alongside the document for the reviewing admin.
func (c *Controller) Submit(ctx context.Context, vehicleID string, docType domain.VerificationDocType, fileRef, submittedBy string, extracted *domain.ExtractedData) (string, error) {
	if err := domain.ValidateSubmission(vehicleID, docType); err != nil {
		return "", err
	}

	doc := domain.VerificationDocument{
		ID:          uuid.NewString(),
		VehicleID:   vehicleID,
		DocType:     docType,
		FileRef:     fileRef,
		Extracted:   extracted,
		Status:      domain.StatusPending,
		SubmittedBy: submittedBy,
		GeneratedAt: c.now(),
	}

	created, err := storeCall(ctx, c, func(ctx context.Context) (domain.VerificationDocument, error) {
		return c.store.CreateDocument(ctx, doc)
	})
	if err != nil {
		return "", fmt.Errorf("submit %s for vehicle %s: %w", docType, vehicleID, err)
	}

	c.log.Info("document submitted",
		"document_id", created.ID, "vehicle_id", vehicleID, "doc_type", docType)
	return created.ID, nil
}

// Approve transitions a pending document to verified and returns the
// vehicle's re-derived level. Re-approving an already verified document by
// the same approver is idempotent; any other transition on a terminal
// document is invalid.
func (c *Controller) Approve(ctx context.Context, docID, approverID string) (domain.VerificationLevel, error) {
	if err := domain.ValidateApproval(approverID); err != nil {
		return domain.LevelNone, err
	}
	return c.transition(ctx, docID, domain.StatusVerified, approverID, "")
}

// Reject transitions a pending document to rejected, recording the mandatory
// reason, and returns the vehicle's re-derived level.
func (c *Controller) Reject(ctx context.Context, docID, approverID, reason string) (domain.VerificationLevel, error) {
	if err := domain.ValidateRejection(approverID, reason); err != nil {
		return domain.LevelNone, err
	}
	return c.transition(ctx, docID, domain.StatusRejected, approverID, reason)
}

// MissingForLevel returns the document types a vehicle still needs to reach
// the target level.
func (c *Controller) MissingForLevel(ctx context.Context, vehicleID string, target domain.VerificationLevel) ([]domain.VerificationDocType, error) {
	docs, err := storeCall(ctx, c, func(ctx context.Context) ([]domain.VerificationDocument, error) {
		return c.store.ListByVehicle(ctx, vehicleID)
	})
	if err != nil {
		return nil, fmt.Errorf("missing docs for vehicle %s: %w", vehicleID, err)
	}
	return MissingDocs(docs, target, c.now()), nil
}

// CurrentLevel derives a vehicle's level from its current document set.
func (c *Controller) CurrentLevel(ctx context.Context, vehicleID string) (domain.VerificationLevel, error) {
	docs, err := storeCall(ctx, c, func(ctx context.Context) ([]domain.VerificationDocument, error) {
		return c.store.ListByVehicle(ctx, vehicleID)
	})
	if err != nil {
		return domain.LevelNone, fmt.Errorf("level for vehicle %s: %w", vehicleID, err)
	}
	return CalculateLevel(docs, c.now()), nil
}

func (c *Controller) transition(ctx context.Context, docID string, to domain.DocumentStatus, actorID, reason string) (domain.VerificationLevel, error) {
	doc, err := storeCall(ctx, c, func(ctx context.Context) (domain.VerificationDocument, error) {
		return c.store.GetDocument(ctx, docID)
	})
	if err != nil {
		return domain.LevelNone, fmt.Errorf("transition %s: %w", docID, err)
	}

	if doc.Status != domain.StatusPending {
		// Re-approval by the same approver is a no-op, not an error.
		if to == domain.StatusVerified && doc.Status == domain.StatusVerified && doc.VerifiedBy == actorID {
			return c.CurrentLevel(ctx, doc.VehicleID)
		}
		return domain.LevelNone, fmt.Errorf("document %s is %s: %w", docID, doc.Status, domain.ErrInvalidTransition)
	}

	at := c.now()
	updated, err := storeCall(ctx, c, func(ctx context.Context) (domain.VerificationDocument, error) {
		return c.store.TransitionDocument(ctx, docID, to, actorID, reason, at)
	})
	if err != nil {
		return domain.LevelNone, fmt.Errorf("transition %s to %s: %w", docID, to, err)
	}

	level, err := c.recomputeLevel(ctx, updated.VehicleID)
	if err != nil {
		return domain.LevelNone, err
	}

	c.log.Info("document transitioned",
		"document_id", docID, "vehicle_id", updated.VehicleID,
		"doc_type", updated.DocType, "status", to, "level", level.String())

	c.publish(ctx, LevelEvent{
		VehicleID:  updated.VehicleID,
		DocumentID: updated.ID,
		DocType:    updated.DocType,
		Status:     to,
		Level:      level.String(),
		OccurredAt: at,
	})
	return level, nil
}

// recomputeLevel is read-derive-write. The derivation is pure over the
// document set, so the write is idempotent and safe to retry.
func (c *Controller) recomputeLevel(ctx context.Context, vehicleID string) (domain.VerificationLevel, error) {
	docs, err := storeCall(ctx, c, func(ctx context.Context) ([]domain.VerificationDocument, error) {
		return c.store.ListByVehicle(ctx, vehicleID)
	})
	if err != nil {
		return domain.LevelNone, fmt.Errorf("recompute level for vehicle %s: %w", vehicleID, err)
	}

	level := CalculateLevel(docs, c.now())

	_, err = storeCall(ctx, c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.store.SaveLevel(ctx, vehicleID, level)
	})
	if err != nil {
		return domain.LevelNone, fmt.Errorf("save level for vehicle %s: %w", vehicleID, err)
	}
	return level, nil
}

func (c *Controller) publish(ctx context.Context, event LevelEvent) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(ctx, event); err != nil {
		c.log.Warn("level event publish failed",
			"vehicle_id", event.VehicleID, "document_id", event.DocumentID, "error", err)
	}
}

// storeCall runs a store operation through the controller's circuit breaker,
// retrying only infrastructure failures. Validation and transition errors
// surface immediately.
func storeCall[T any](ctx context.Context, c *Controller, f func(context.Context) (T, error)) (T, error) {
	result := fn.RetryIf(ctx, c.retry, retryable, func(ctx context.Context) fn.Result[T] {
		return resilience.CallResult(c.breaker, ctx, func(ctx context.Context) fn.Result[T] {
			return fn.FromPair(f(ctx))
		})
	})
	v, err := result.Unwrap()
	if errors.Is(err, resilience.ErrCircuitOpen) {
		err = fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return v, err
}

func retryable(err error) bool {
	return domain.IsRetryable(err)
}
