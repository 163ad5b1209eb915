package prescription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *PrescriptionRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*PrescriptionRecord, error)

	// Save persists the record conditionally on the version it was loaded
	// with and increments it on success. Returns ErrVersionConflict when
	// another writer has updated the row in the meantime.
	Save(ctx context.Context, p *PrescriptionRecord) error

	List(ctx context.Context, q *ListQuery) (*PagedRecords, error)

	// FindExpirable returns records in pending or in_review whose expiry
	// date is at or before now, oldest first, capped at limit.
	FindExpirable(ctx context.Context, now time.Time, limit int) ([]*PrescriptionRecord, error)
}
