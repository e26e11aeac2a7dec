/*
audit.go - Append-only audit recorder

PURPOSE:
  Records every state-changing operation with actor, entity, before/after
  images, and timestamp. Audit is best-effort observability, not a
  consistency gate: a failed audit write is logged and surfaced as
  ErrAuditWriteFailed in the log fields, but never aborts or rolls back
  the primary change it describes.

DECORATOR:
  Audited() wraps a mutating operation so that a successful run emits
  exactly one audit entry. Both ledgers funnel their writes through it,
  so no call site duplicates the record-after-mutate pattern. A retried
  operation that only succeeds on its final attempt still emits exactly
  one entry, because failures emit nothing.
*/
package commerce

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Recorder appends audit entries. Entries are immutable once written.
type Recorder struct {
	store  AuditStore
	logger *zap.Logger
}

func NewRecorder(store AuditStore, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, logger: logger}
}

// Record appends one audit entry. Never fails in a way that aborts the
// caller: persistence errors are logged and swallowed.
func (r *Recorder) Record(ctx context.Context, actor ActorID, action AuditAction, entityType EntityType, entityID string, before, after map[string]any) {
	entry := &AuditEntry{
		ID:         uuid.NewString(),
		ActorID:    actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Before:     before,
		After:      after,
		CreatedAt:  time.Now().UTC(),
	}

	if err := r.store.AppendAuditEntry(ctx, entry); err != nil {
		r.logger.Warn("audit write failed",
			zap.String("action", string(action)),
			zap.String("entity_type", string(entityType)),
			zap.String("entity_id", entityID),
			zap.String("actor", string(actor)),
			zap.NamedError("cause", err),
			zap.Error(ErrAuditWriteFailed),
		)
	}
}

// Mutation applies a state change and reports the before/after images of the
// entity it touched. Images are only meaningful when err is nil.
type Mutation func(ctx context.Context) (before, after map[string]any, err error)

// Audited wraps op so that a successful run emits exactly one audit entry.
// Failed runs emit nothing, which keeps retried operations at one entry per
// observable state change.
func (r *Recorder) Audited(actor ActorID, action AuditAction, entityType EntityType, entityID string, op Mutation) func(context.Context) error {
	return func(ctx context.Context) error {
		before, after, err := op(ctx)
		if err != nil {
			return err
		}
		r.Record(ctx, actor, action, entityType, entityID, before, after)
		return nil
	}
}
