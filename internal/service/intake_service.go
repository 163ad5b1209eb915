package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/metapharm/rxgate/internal/domain"
	"github.com/metapharm/rxgate/internal/domain/patient"
	"github.com/metapharm/rxgate/internal/domain/prescription"
	"github.com/metapharm/rxgate/pkg/metrics"
)

// IntakeService accepts prescription submissions from every channel and owns
// record retrieval. Review state never changes here; a new record always
// starts pending.
type IntakeService struct {
	repo        prescription.Repository
	patientRepo patient.Repository
	auditSvc    *AuditService
	metrics     *metrics.Collector
	log         *zap.Logger
}

func NewIntakeService(repo prescription.Repository, patientRepo patient.Repository, auditSvc *AuditService, collector *metrics.Collector, log *zap.Logger) *IntakeService {
	return &IntakeService{repo: repo, patientRepo: patientRepo, auditSvc: auditSvc, metrics: collector, log: log}
}

func (s *IntakeService) Create(ctx context.Context, cmd *prescription.CreateCommand, callerID uuid.UUID, callerRole domain.Role, ip string) (*prescription.PrescriptionRecord, error) {
	if !callerRole.CanSubmit() {
		return nil, ErrForbidden
	}

	var fields []string
	if !cmd.Source.IsValid() {
		fields = append(fields, "source")
	}
	hasImage := cmd.ImageRef != nil && strings.TrimSpace(*cmd.ImageRef) != ""
	if !hasImage && len(cmd.Items) == 0 {
		fields = append(fields, "image_ref")
	}
	for i, it := range cmd.Items {
		if strings.TrimSpace(it.Name) == "" {
			fields = append(fields, fmt.Sprintf("items[%d].name", i))
		}
		if it.Quantity <= 0 {
			fields = append(fields, fmt.Sprintf("items[%d].quantity", i))
		}
	}
	if cmd.PrescribedDate.IsZero() {
		fields = append(fields, "prescribed_date")
	}
	if cmd.ExpiryDate != nil && !cmd.ExpiryDate.After(cmd.PrescribedDate) {
		fields = append(fields, "expiry_date")
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	pat, err := s.patientRepo.GetByID(ctx, cmd.PatientID)
	if err != nil {
		return nil, fmt.Errorf("verifying patient: %w", err)
	}
	if !pat.IsActive() {
		return nil, &ValidationError{Fields: []string{"patient_id"}}
	}

	// Structured fields arrive human-entered and carry no confidence scores.
	items := make([]prescription.MedicationLineItem, 0, len(cmd.Items))
	for _, in := range cmd.Items {
		items = append(items, prescription.MedicationLineItem{
			Name:      strings.TrimSpace(in.Name),
			Dosage:    strings.TrimSpace(in.Dosage),
			Frequency: strings.TrimSpace(in.Frequency),
			Duration:  strings.TrimSpace(in.Duration),
			Quantity:  in.Quantity,
		})
	}

	rec := &prescription.PrescriptionRecord{
		Version:        1,
		PatientID:      cmd.PatientID,
		Source:         cmd.Source,
		ImageRef:       cmd.ImageRef,
		Status:         prescription.StatusPending,
		PrescribedDate: cmd.PrescribedDate,
		ExpiryDate:     cmd.ExpiryDate,
		LineItems:      items,
		CreatedBy:      cmd.CreatedBy,
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating prescription record: %w", err)
	}

	s.metrics.PrescriptionsCreated.Inc()
	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID: callerID, UserRole: callerRole,
		Action: domain.ActionPrescriptionCreated, ResourceType: "prescription", ResourceID: rec.ID.String(), IPAddress: ip,
		Metadata: auditMetadata(map[string]any{"source": cmd.Source, "items": len(items), "has_image": hasImage}),
	})

	return rec, nil
}

func (s *IntakeService) Get(ctx context.Context, id uuid.UUID, callerID uuid.UUID, callerRole domain.Role) (*prescription.PrescriptionRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Patients authenticate with their directory id as subject and may only
	// see their own prescriptions.
	if callerRole == domain.RolePatient && rec.PatientID != callerID {
		return nil, ErrForbidden
	}

	return rec, nil
}

func (s *IntakeService) List(ctx context.Context, q *prescription.ListQuery, callerID uuid.UUID, callerRole domain.Role) (*prescription.PagedRecords, error) {
	if callerRole == domain.RolePatient {
		q.PatientID = &callerID
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 || q.PageSize > 100 {
		q.PageSize = 20
	}
	return s.repo.List(ctx, q)
}
