package patient

import (
	"context"

	"github.com/google/uuid"
)

// Repository reads the patient safety projection. Writes happen upstream in
// the platform's patient directory; this service never mutates patients.
type Repository interface {
	// GetByID retrieves a patient by primary key. Returns ErrPatientNotFound if not found.
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
}
