package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/metapharm/rxgate/internal/domain"
	"github.com/metapharm/rxgate/internal/domain/prescription"
	"github.com/metapharm/rxgate/internal/events"
	"github.com/metapharm/rxgate/pkg/metrics"
)

// expiryBatchSize caps how many records a single sweep pass loads. The
// sweeper runs on an interval, so a backlog larger than this drains over
// consecutive passes.
const expiryBatchSize = 500

// ReviewService carries the human side of the workflow: the reviewing
// pharmacist's decisions, field corrections, clarification round trips, and
// the system expiry sweep.
type ReviewService struct {
	repo      prescription.Repository
	auditSvc  *AuditService
	publisher events.Publisher
	metrics   *metrics.Collector
	log       *zap.Logger
	threshold int
}

func NewReviewService(
	repo prescription.Repository,
	auditSvc *AuditService,
	publisher events.Publisher,
	collector *metrics.Collector,
	log *zap.Logger,
	lowConfidenceThreshold int,
) *ReviewService {
	return &ReviewService{
		repo:      repo,
		auditSvc:  auditSvc,
		publisher: publisher,
		metrics:   collector,
		log:       log,
		threshold: lowConfidenceThreshold,
	}
}

// Approve marks the prescription approved after every safety gate passes:
// no unresolved critical finding, no unverified low-confidence field, and
// valid quantities on at least one line item. The note, if any, lands in the
// audit trail.
func (s *ReviewService) Approve(ctx context.Context, id uuid.UUID, note string, callerID uuid.UUID, callerRole domain.Role, ip string) (*prescription.PrescriptionRecord, error) {
	if !callerRole.CanReview() {
		return nil, ErrForbidden
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rec.AssignPharmacist(callerID)
	if err := rec.Approve(callerID, s.threshold); err != nil {
		return nil, err
	}
	if err := saveRecord(ctx, s.repo, s.metrics, rec); err != nil {
		return nil, err
	}
	s.metrics.WorkflowTransitions.WithLabelValues(string(prescription.StatusApproved)).Inc()

	s.publisher.PublishDecision(ctx, events.DecisionEvent{
		EventType:      events.EventPrescriptionApproved,
		PrescriptionID: rec.ID,
		PatientID:      rec.PatientID,
		ActorID:        callerID,
		OccurredAt:     time.Now().UTC(),
	})

	meta := map[string]any{"items": len(rec.LineItems)}
	if note != "" {
		meta["note"] = note
	}
	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID: callerID, UserRole: callerRole,
		Action: domain.ActionPrescriptionApproved, ResourceType: "prescription", ResourceID: id.String(), IPAddress: ip,
		Metadata: auditMetadata(meta),
	})

	return rec, nil
}

// Reject closes the prescription with a mandatory reason code, checked
// before anything is loaded or touched. Unlike approval it is allowed from
// any non-terminal status.
func (s *ReviewService) Reject(ctx context.Context, id uuid.UUID, reasonCode string, callerID uuid.UUID, callerRole domain.Role, ip string) (*prescription.PrescriptionRecord, error) {
	if !callerRole.CanReview() {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(reasonCode) == "" {
		return nil, &ValidationError{Fields: []string{"reason_code"}}
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rec.AssignPharmacist(callerID)
	if err := rec.Reject(callerID, reasonCode); err != nil {
		return nil, err
	}
	if err := saveRecord(ctx, s.repo, s.metrics, rec); err != nil {
		return nil, err
	}
	s.metrics.WorkflowTransitions.WithLabelValues(string(prescription.StatusRejected)).Inc()

	s.publisher.PublishDecision(ctx, events.DecisionEvent{
		EventType:      events.EventPrescriptionRejected,
		PrescriptionID: rec.ID,
		PatientID:      rec.PatientID,
		ActorID:        callerID,
		Reason:         rec.RejectionReason,
		OccurredAt:     time.Now().UTC(),
	})

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID: callerID, UserRole: callerRole,
		Action: domain.ActionPrescriptionRejected, ResourceType: "prescription", ResourceID: id.String(), IPAddress: ip,
		Metadata: auditMetadata(map[string]any{"reason": rec.RejectionReason}),
	})

	return rec, nil
}

// RequestClarification parks the review until the prescriber answers.
func (s *ReviewService) RequestClarification(ctx context.Context, id uuid.UUID, question string, callerID uuid.UUID, callerRole domain.Role, ip string) (*prescription.PrescriptionRecord, error) {
	if !callerRole.CanReview() {
		return nil, ErrForbidden
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rec.AssignPharmacist(callerID)
	if err := rec.RequestClarification(question, callerID); err != nil {
		return nil, err
	}
	if err := saveRecord(ctx, s.repo, s.metrics, rec); err != nil {
		return nil, err
	}
	s.metrics.WorkflowTransitions.WithLabelValues(string(prescription.StatusClarificationNeeded)).Inc()

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID: callerID, UserRole: callerRole,
		Action: domain.ActionClarificationRequested, ResourceType: "prescription", ResourceID: id.String(), IPAddress: ip,
		Metadata: auditMetadata(map[string]any{"question": question}),
	})

	return rec, nil
}

// RespondClarification records the prescriber's answer and resumes the
// review. Prescribers answer their own clarifications, so this is the one
// review operation open to the doctor role.
func (s *ReviewService) RespondClarification(ctx context.Context, id uuid.UUID, answer string, callerID uuid.UUID, callerRole domain.Role, ip string) (*prescription.PrescriptionRecord, error) {
	if callerRole != domain.RoleDoctor && callerRole != domain.RoleAdmin {
		return nil, ErrForbidden
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := rec.RespondClarification(answer, callerID); err != nil {
		return nil, err
	}
	if err := saveRecord(ctx, s.repo, s.metrics, rec); err != nil {
		return nil, err
	}
	s.metrics.WorkflowTransitions.WithLabelValues(string(prescription.StatusInReview)).Inc()

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID: callerID, UserRole: callerRole,
		Action: domain.ActionClarificationResponded, ResourceType: "prescription", ResourceID: id.String(), IPAddress: ip,
	})

	return rec, nil
}

// EditField corrects a transcribed value on one line item. The pre-edit
// value lands in the item's edit history and in the audit trail; the edit
// does not verify the field.
func (s *ReviewService) EditField(ctx context.Context, id uuid.UUID, itemIndex int, field prescription.Field, value string, callerID uuid.UUID, callerRole domain.Role, ip string) (*prescription.PrescriptionRecord, error) {
	if !callerRole.CanReview() {
		return nil, ErrForbidden
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	previous, err := rec.EditField(itemIndex, field, value, callerID)
	if err != nil {
		return nil, err
	}
	if err := saveRecord(ctx, s.repo, s.metrics, rec); err != nil {
		return nil, err
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID: callerID, UserRole: callerRole,
		Action: domain.ActionPrescriptionFieldEdited, ResourceType: "prescription", ResourceID: id.String(), IPAddress: ip,
		Metadata: auditMetadata(map[string]any{
			"item":     itemIndex,
			"field":    string(field),
			"previous": previous,
			"value":    value,
		}),
	})

	return rec, nil
}

// VerifyField records the pharmacist's explicit confirmation of a
// low-confidence transcription value.
func (s *ReviewService) VerifyField(ctx context.Context, id uuid.UUID, itemIndex int, field prescription.Field, callerID uuid.UUID, callerRole domain.Role, ip string) (*prescription.PrescriptionRecord, error) {
	if !callerRole.CanReview() {
		return nil, ErrForbidden
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := rec.VerifyField(itemIndex, field); err != nil {
		return nil, err
	}
	if err := saveRecord(ctx, s.repo, s.metrics, rec); err != nil {
		return nil, err
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID: callerID, UserRole: callerRole,
		Action: domain.ActionPrescriptionFieldChecked, ResourceType: "prescription", ResourceID: id.String(), IPAddress: ip,
		Metadata: auditMetadata(map[string]any{
			"item":  itemIndex,
			"field": string(field),
		}),
	})

	return rec, nil
}

// ResolveFinding marks a safety finding as reviewed and waved through.
func (s *ReviewService) ResolveFinding(ctx context.Context, id uuid.UUID, findingID uuid.UUID, note string, callerID uuid.UUID, callerRole domain.Role, ip string) (*prescription.PrescriptionRecord, error) {
	if !callerRole.CanReview() {
		return nil, ErrForbidden
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := rec.ResolveFinding(findingID, callerID); err != nil {
		return nil, err
	}
	if err := saveRecord(ctx, s.repo, s.metrics, rec); err != nil {
		return nil, err
	}

	meta := map[string]any{"finding_id": findingID.String()}
	if note != "" {
		meta["note"] = note
	}
	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID: callerID, UserRole: callerRole,
		Action: domain.ActionFindingResolved, ResourceType: "prescription", ResourceID: id.String(), IPAddress: ip,
		Metadata: auditMetadata(meta),
	})

	return rec, nil
}

// ExpireDue sweeps records whose expiry date has passed and moves the
// eligible ones to expired. A record that fails to expire is logged and
// skipped so one bad row never stalls the sweep; it is retried on the next
// pass.
func (s *ReviewService) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	s.metrics.ExpirySweeps.Inc()

	due, err := s.repo.FindExpirable(ctx, now, expiryBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, rec := range due {
		if err := rec.Expire(now); err != nil {
			var ite *prescription.InvalidTransitionError
			if errors.As(err, &ite) {
				// Raced a reviewer decision or a clarification request
				// between the query and the load.
				continue
			}
			s.log.Warn("skipping record during expiry sweep",
				zap.String("prescription_id", rec.ID.String()), zap.Error(err))
			continue
		}
		if err := saveRecord(ctx, s.repo, s.metrics, rec); err != nil {
			s.log.Warn("failed to persist expiry, will retry next sweep",
				zap.String("prescription_id", rec.ID.String()), zap.Error(err))
			continue
		}
		expired++
		s.metrics.WorkflowTransitions.WithLabelValues(string(prescription.StatusExpired)).Inc()
		s.metrics.RecordsExpired.Inc()

		s.publisher.PublishDecision(ctx, events.DecisionEvent{
			EventType:      events.EventPrescriptionExpired,
			PrescriptionID: rec.ID,
			PatientID:      rec.PatientID,
			OccurredAt:     now.UTC(),
		})

		s.auditSvc.LogAsync(ctx, AuditEntry{
			UserID: uuid.Nil, UserRole: domain.RoleSystem,
			Action: domain.ActionPrescriptionExpired, ResourceType: "prescription", ResourceID: rec.ID.String(),
		})
	}

	if expired > 0 {
		s.log.Info("expiry sweep completed",
			zap.Int("expired", expired), zap.Int("candidates", len(due)))
	}
	return expired, nil
}
