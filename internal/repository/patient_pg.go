package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/metapharm/rxgate/internal/domain/patient"
	"github.com/metapharm/rxgate/pkg/metrics"
)

type PatientRepository struct {
	db      *gorm.DB
	metrics *metrics.Collector
}

func NewPatientRepository(db *gorm.DB, collector *metrics.Collector) *PatientRepository {
	return &PatientRepository{db: db, metrics: collector}
}

func (r *PatientRepository) GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error) {
	defer observe(r.metrics, "get", "patients", time.Now())

	var p patient.Patient
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, patient.ErrPatientNotFound
		}
		return nil, fmt.Errorf("loading patient %s: %w", id, err)
	}
	return &p, nil
}
