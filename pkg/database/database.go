package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/metapharm/rxgate/config"
	"github.com/metapharm/rxgate/internal/domain"
	"github.com/metapharm/rxgate/internal/domain/patient"
	"github.com/metapharm/rxgate/internal/domain/prescription"
)

func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:      gormlogger.Default.LogMode(gormlogger.Silent),
		PrepareStmt: true,
	}

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: cfg.DSN(),
	}), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}

func Migrate(db *gorm.DB, log *zap.Logger) error {
	log.Info("running database migrations")
	start := time.Now()

	schemas := []string{"pharmacy", "audit"}
	for _, schema := range schemas {
		if err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)).Error; err != nil {
			return fmt.Errorf("creating schema %s: %w", schema, err)
		}
	}

	models := []any{
		&domain.AuditLog{},
		&patient.Patient{},
		&prescription.PrescriptionRecord{},
	}

	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto-migrating models: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("creating indexes: %w", err)
	}

	log.Info("migrations completed", zap.Duration("duration", time.Since(start)))
	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []struct {
		name  string
		query string
	}{
		// The expiry sweep scans open records by due date.
		{
			name:  "idx_prescriptions_expiry_sweep",
			query: `CREATE INDEX IF NOT EXISTS idx_prescriptions_expiry_sweep ON pharmacy.prescriptions (expiry_date) WHERE status IN ('pending', 'in_review') AND expiry_date IS NOT NULL`,
		},
		// Patient history listing, newest first.
		{
			name:  "idx_prescriptions_patient_created",
			query: `CREATE INDEX IF NOT EXISTS idx_prescriptions_patient_created ON pharmacy.prescriptions (patient_id, created_at DESC)`,
		},
		// The review queue filters on status.
		{
			name:  "idx_prescriptions_status",
			query: `CREATE INDEX IF NOT EXISTS idx_prescriptions_status ON pharmacy.prescriptions (status, created_at DESC)`,
		},
		{
			name:  "idx_audit_logs_resource",
			query: `CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit.logs (resource_type, resource_id, occurred_at)`,
		},
	}

	for _, idx := range indexes {
		if err := db.Exec(idx.query).Error; err != nil {
			return fmt.Errorf("creating index %s: %w", idx.name, err)
		}
	}

	return nil
}
