// Package provider holds the HTTP clients for the external transcription and
// safety-check services. Each client carries its own timeout and circuit
// breaker; callers decide how to degrade when a provider is down.
package provider

import (
	"context"

	"github.com/metapharm/rxgate/internal/domain/patient"
	"github.com/metapharm/rxgate/internal/domain/prescription"
)

// Transcript is the OCR provider's reading of a prescription image.
type Transcript struct {
	Items             []TranscriptItem `json:"items"`
	OverallConfidence int              `json:"overall_confidence"`
}

type TranscriptItem struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Duration  string `json:"duration"`
	Quantity  int    `json:"quantity"`

	// Per-field confidence, 0-100, keyed by medication field name.
	Confidence map[prescription.Field]int `json:"confidence"`
}

type Transcriber interface {
	Transcribe(ctx context.Context, imageRef string) (*Transcript, error)
}

// InteractionConcern is one pairwise drug-drug interaction reported by the
// interaction knowledge base. Contraindicated marks the pairs the source
// considers unsafe to co-prescribe.
type InteractionConcern struct {
	MedicationA     string `json:"medication_a"`
	MedicationB     string `json:"medication_b"`
	Description     string `json:"description"`
	Contraindicated bool   `json:"contraindicated"`
}

type InteractionChecker interface {
	Check(ctx context.Context, medications []string) ([]InteractionConcern, error)
}

// AllergyMatch pairs a prescribed medication with a recorded patient allergy.
// Severity is judged by the caller from the patient's allergy record.
type AllergyMatch struct {
	Medication  string `json:"medication"`
	Substance   string `json:"substance"`
	Description string `json:"description"`
}

type AllergyChecker interface {
	Check(ctx context.Context, medications []string, allergies []patient.Allergy) ([]AllergyMatch, error)
}

// ContraindicationConcern flags a medication against a patient condition.
// Teratogenic marks pregnancy-related contraindications.
type ContraindicationConcern struct {
	Medication  string `json:"medication"`
	Condition   string `json:"condition"`
	Description string `json:"description"`
	Teratogenic bool   `json:"teratogenic"`
}

type ContraindicationChecker interface {
	Check(ctx context.Context, medications []string, conditions []string, pregnant bool) ([]ContraindicationConcern, error)
}
