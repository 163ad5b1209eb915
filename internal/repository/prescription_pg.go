package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/metapharm/rxgate/internal/domain/prescription"
	"github.com/metapharm/rxgate/pkg/metrics"
)

// savedColumns lists every column the review workflow may change after
// intake. Identity, provenance and dates are written once at create time.
var savedColumns = []string{
	"status", "pharmacist_id", "ai_confidence",
	"line_items", "findings", "clarifications",
	"rejection_reason", "decided_by", "decided_at",
	"version", "updated_at",
}

type PrescriptionRepository struct {
	db      *gorm.DB
	metrics *metrics.Collector
}

func NewPrescriptionRepository(db *gorm.DB, collector *metrics.Collector) *PrescriptionRepository {
	return &PrescriptionRepository{db: db, metrics: collector}
}

func (r *PrescriptionRepository) Create(ctx context.Context, p *prescription.PrescriptionRecord) error {
	defer observe(r.metrics, "create", "prescriptions", time.Now())
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PrescriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*prescription.PrescriptionRecord, error) {
	defer observe(r.metrics, "get", "prescriptions", time.Now())

	var rec prescription.PrescriptionRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, prescription.ErrRecordNotFound
		}
		return nil, fmt.Errorf("loading prescription %s: %w", id, err)
	}
	return &rec, nil
}

// Save writes the record back conditionally on the version it was loaded
// with. Zero rows affected means another writer got there first.
func (r *PrescriptionRepository) Save(ctx context.Context, p *prescription.PrescriptionRecord) error {
	defer observe(r.metrics, "save", "prescriptions", time.Now())

	next := *p
	next.Version = p.Version + 1
	next.UpdatedAt = time.Now().UTC()

	res := r.db.WithContext(ctx).
		Model(&prescription.PrescriptionRecord{}).
		Where("id = ? AND version = ?", p.ID, p.Version).
		Select(savedColumns).
		Updates(&next)
	if res.Error != nil {
		return fmt.Errorf("saving prescription %s: %w", p.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return prescription.ErrVersionConflict
	}

	p.Version = next.Version
	p.UpdatedAt = next.UpdatedAt
	return nil
}

func (r *PrescriptionRepository) List(ctx context.Context, q *prescription.ListQuery) (*prescription.PagedRecords, error) {
	defer observe(r.metrics, "list", "prescriptions", time.Now())

	query := r.db.WithContext(ctx).Model(&prescription.PrescriptionRecord{})
	if q.PatientID != nil {
		query = query.Where("patient_id = ?", *q.PatientID)
	}
	if q.Status != nil {
		query = query.Where("status = ?", *q.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("counting prescriptions: %w", err)
	}

	var records []*prescription.PrescriptionRecord
	offset := (q.Page - 1) * q.PageSize
	if err := query.Order("created_at desc").Offset(offset).Limit(q.PageSize).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing prescriptions: %w", err)
	}

	totalPages := int((total + int64(q.PageSize) - 1) / int64(q.PageSize))
	return &prescription.PagedRecords{
		Records:    records,
		TotalCount: total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: totalPages,
	}, nil
}

func (r *PrescriptionRepository) FindExpirable(ctx context.Context, now time.Time, limit int) ([]*prescription.PrescriptionRecord, error) {
	defer observe(r.metrics, "find_expirable", "prescriptions", time.Now())

	var records []*prescription.PrescriptionRecord
	err := r.db.WithContext(ctx).
		Where("status IN ? AND expiry_date IS NOT NULL AND expiry_date <= ?",
			[]prescription.Status{prescription.StatusPending, prescription.StatusInReview}, now).
		Order("expiry_date asc").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("finding expirable prescriptions: %w", err)
	}
	return records, nil
}
