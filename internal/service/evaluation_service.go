package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/metapharm/rxgate/internal/domain"
	"github.com/metapharm/rxgate/internal/domain/patient"
	"github.com/metapharm/rxgate/internal/domain/prescription"
	"github.com/metapharm/rxgate/internal/provider"
	"github.com/metapharm/rxgate/pkg/metrics"
)

const tracerName = "github.com/metapharm/rxgate/internal/service"

// EvaluationService runs the automated review stages: AI transcription of the
// prescription image and the safety evaluation against the patient profile.
type EvaluationService struct {
	repo              prescription.Repository
	patientRepo       patient.Repository
	transcriber       provider.Transcriber
	interactions      provider.InteractionChecker
	allergies         provider.AllergyChecker
	contraindications provider.ContraindicationChecker
	auditSvc          *AuditService
	metrics           *metrics.Collector
	log               *zap.Logger
}

func NewEvaluationService(
	repo prescription.Repository,
	patientRepo patient.Repository,
	transcriber provider.Transcriber,
	interactions provider.InteractionChecker,
	allergies provider.AllergyChecker,
	contraindications provider.ContraindicationChecker,
	auditSvc *AuditService,
	collector *metrics.Collector,
	log *zap.Logger,
) *EvaluationService {
	return &EvaluationService{
		repo:              repo,
		patientRepo:       patientRepo,
		transcriber:       transcriber,
		interactions:      interactions,
		allergies:         allergies,
		contraindications: contraindications,
		auditSvc:          auditSvc,
		metrics:           collector,
		log:               log,
	}
}

// Transcribe sends the prescription image to the OCR provider and replaces
// the record's line items with the result. Nothing is written on provider
// failure; the record stays exactly as it was.
func (s *EvaluationService) Transcribe(ctx context.Context, id uuid.UUID, callerID uuid.UUID, callerRole domain.Role, ip string) (*prescription.PrescriptionRecord, error) {
	if !callerRole.CanEvaluate() {
		return nil, ErrForbidden
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := rec.EnsureEvaluable(prescription.EventTranscribe); err != nil {
		return nil, err
	}
	if rec.ImageRef == nil || strings.TrimSpace(*rec.ImageRef) == "" {
		return nil, &ValidationError{Fields: []string{"image_ref"}}
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "prescription.transcribe")
	defer span.End()
	span.SetAttributes(attribute.String("prescription.id", id.String()))

	transcript, err := s.transcriber.Transcribe(ctx, *rec.ImageRef)
	if err != nil {
		s.metrics.ProviderFailures.WithLabelValues("ocr").Inc()
		span.RecordError(err)
		s.log.Warn("transcription provider failed",
			zap.String("prescription_id", id.String()), zap.Error(err))
		return nil, &TranscriptionError{Err: err}
	}
	if err := validateTranscript(transcript); err != nil {
		s.metrics.ProviderFailures.WithLabelValues("ocr").Inc()
		span.RecordError(err)
		s.log.Warn("transcription provider returned a malformed payload",
			zap.String("prescription_id", id.String()), zap.Error(err))
		return nil, &TranscriptionError{Err: err}
	}

	items := make([]prescription.MedicationLineItem, 0, len(transcript.Items))
	for _, ti := range transcript.Items {
		conf := make(map[prescription.Field]int, len(ti.Confidence))
		for f, c := range ti.Confidence {
			conf[f] = c
		}
		items = append(items, prescription.MedicationLineItem{
			Name:       ti.Name,
			Dosage:     ti.Dosage,
			Frequency:  ti.Frequency,
			Duration:   ti.Duration,
			Quantity:   ti.Quantity,
			Confidence: conf,
		})
	}

	wasPending := rec.Status == prescription.StatusPending
	if err := rec.ApplyTranscript(items, transcript.OverallConfidence); err != nil {
		return nil, err
	}
	if err := saveRecord(ctx, s.repo, s.metrics, rec); err != nil {
		return nil, err
	}
	if wasPending {
		s.metrics.WorkflowTransitions.WithLabelValues(string(prescription.StatusInReview)).Inc()
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID: callerID, UserRole: callerRole,
		Action: domain.ActionPrescriptionTranscribed, ResourceType: "prescription", ResourceID: id.String(), IPAddress: ip,
		Metadata: auditMetadata(map[string]any{
			"overall_confidence": transcript.OverallConfidence,
			"items":              len(items),
		}),
	})

	return rec, nil
}

// validateTranscript rejects confidence scores outside the 0-100 scale so a
// misbehaving provider cannot plant values the review gates never check for.
func validateTranscript(t *provider.Transcript) error {
	if t.OverallConfidence < 0 || t.OverallConfidence > 100 {
		return fmt.Errorf("overall confidence %d outside 0-100", t.OverallConfidence)
	}
	for i, ti := range t.Items {
		for f, c := range ti.Confidence {
			if c < 0 || c > 100 {
				return fmt.Errorf("item %d field %q confidence %d outside 0-100", i, f, c)
			}
		}
	}
	return nil
}

// EvaluateSafety fans out to the three safety checkers in parallel and merges
// their concerns into the record's finding set. One or two checker failures
// degrade to partial results; only a total blackout fails the operation.
func (s *EvaluationService) EvaluateSafety(ctx context.Context, id uuid.UUID, callerID uuid.UUID, callerRole domain.Role, ip string) (*prescription.PrescriptionRecord, error) {
	if !callerRole.CanEvaluate() {
		return nil, ErrForbidden
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := rec.EnsureEvaluable(prescription.EventEvaluateSafety); err != nil {
		return nil, err
	}
	if len(rec.LineItems) == 0 {
		return nil, &ValidationError{Fields: []string{"line_items"}}
	}

	pat, err := s.patientRepo.GetByID(ctx, rec.PatientID)
	if err != nil {
		return nil, fmt.Errorf("loading patient profile: %w", err)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "prescription.evaluate_safety")
	defer span.End()
	span.SetAttributes(
		attribute.String("prescription.id", id.String()),
		attribute.Int("prescription.medications", len(rec.LineItems)),
	)

	meds := rec.MedicationNames()

	var (
		wg              sync.WaitGroup
		interactions    []provider.InteractionConcern
		allergyMatches  []provider.AllergyMatch
		contras         []provider.ContraindicationConcern
		interactionErr  error
		allergyErr      error
		contraindicaErr error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		interactions, interactionErr = s.interactions.Check(ctx, meds)
	}()
	go func() {
		defer wg.Done()
		allergyMatches, allergyErr = s.allergies.Check(ctx, meds, pat.Allergies)
	}()
	go func() {
		defer wg.Done()
		contras, contraindicaErr = s.contraindications.Check(ctx, meds, pat.ChronicConditions, pat.Pregnant)
	}()
	wg.Wait()

	var causes []error
	checkers := []struct {
		name string
		err  error
	}{
		{"interaction", interactionErr},
		{"allergy", allergyErr},
		{"contraindication", contraindicaErr},
	}
	for _, c := range checkers {
		if c.err == nil {
			continue
		}
		causes = append(causes, fmt.Errorf("%s: %w", c.name, c.err))
		s.metrics.ProviderFailures.WithLabelValues(c.name).Inc()
		s.log.Warn("safety checker failed, continuing with the others",
			zap.String("checker", c.name),
			zap.String("prescription_id", id.String()),
			zap.Error(c.err),
		)
	}
	if len(causes) == len(checkers) {
		span.RecordError(causes[0])
		return nil, &SafetyCheckError{Causes: causes}
	}

	fresh := buildFindings(interactions, allergyMatches, contras, pat)
	wasPending := rec.Status == prescription.StatusPending
	if err := rec.ApplyFindings(fresh); err != nil {
		return nil, err
	}
	if err := saveRecord(ctx, s.repo, s.metrics, rec); err != nil {
		return nil, err
	}
	if wasPending {
		s.metrics.WorkflowTransitions.WithLabelValues(string(prescription.StatusInReview)).Inc()
	}

	for _, f := range rec.Findings {
		s.metrics.SafetyFindings.WithLabelValues(string(f.Kind), string(f.Severity)).Inc()
	}

	failed := make([]string, 0, len(causes))
	for _, c := range checkers {
		if c.err != nil {
			failed = append(failed, c.name)
		}
	}
	byKind := map[string]int{}
	for _, f := range rec.Findings {
		byKind[string(f.Kind)]++
	}
	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID: callerID, UserRole: callerRole,
		Action: domain.ActionSafetyEvaluated, ResourceType: "prescription", ResourceID: id.String(), IPAddress: ip,
		Metadata: auditMetadata(map[string]any{
			"findings":        byKind,
			"failed_checkers": failed,
		}),
	})

	return rec, nil
}

// buildFindings applies the severity policy to raw checker output:
//   - drug interactions are moderate, critical when the source marks the
//     pair contraindicated
//   - allergy matches are critical when the patient's recorded allergy is
//     severe, moderate otherwise
//   - contraindications are critical when teratogenic, moderate otherwise
func buildFindings(
	interactions []provider.InteractionConcern,
	allergyMatches []provider.AllergyMatch,
	contras []provider.ContraindicationConcern,
	pat *patient.Patient,
) []prescription.SafetyFinding {
	findings := make([]prescription.SafetyFinding, 0, len(interactions)+len(allergyMatches)+len(contras))

	for _, c := range interactions {
		severity := prescription.SeverityModerate
		if c.Contraindicated {
			severity = prescription.SeverityCritical
		}
		findings = append(findings, prescription.SafetyFinding{
			Kind:        prescription.FindingDrugInteraction,
			Severity:    severity,
			Description: c.Description,
			Medications: []string{c.MedicationA, c.MedicationB},
		})
	}

	for _, m := range allergyMatches {
		severity := prescription.SeverityModerate
		if allergyIsSevere(pat, m.Substance) {
			severity = prescription.SeverityCritical
		}
		findings = append(findings, prescription.SafetyFinding{
			Kind:        prescription.FindingAllergy,
			Severity:    severity,
			Description: m.Description,
			Medications: []string{m.Medication},
		})
	}

	for _, c := range contras {
		severity := prescription.SeverityModerate
		if c.Teratogenic {
			severity = prescription.SeverityCritical
		}
		findings = append(findings, prescription.SafetyFinding{
			Kind:        prescription.FindingContraindication,
			Severity:    severity,
			Description: c.Description,
			Medications: []string{c.Medication},
		})
	}

	return findings
}

func allergyIsSevere(pat *patient.Patient, substance string) bool {
	for _, a := range pat.Allergies {
		if strings.EqualFold(a.Substance, substance) {
			return a.IsSevere()
		}
	}
	return false
}
