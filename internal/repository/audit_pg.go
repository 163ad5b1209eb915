package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/metapharm/rxgate/internal/domain"
	"github.com/metapharm/rxgate/pkg/metrics"
)

type AuditRepository struct {
	db      *gorm.DB
	metrics *metrics.Collector
}

func NewAuditRepository(db *gorm.DB, collector *metrics.Collector) *AuditRepository {
	return &AuditRepository{db: db, metrics: collector}
}

func (r *AuditRepository) Create(ctx context.Context, entry *domain.AuditLog) error {
	defer observe(r.metrics, "create", "audit_logs", time.Now())

	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("writing audit log: %w", err)
	}
	return nil
}
