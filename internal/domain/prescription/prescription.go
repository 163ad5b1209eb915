package prescription

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Source string

const (
	SourcePatientUpload    Source = "patient_upload"
	SourceDoctorDirect     Source = "doctor_direct"
	SourceTeleconsultation Source = "teleconsultation"
)

func (s Source) IsValid() bool {
	switch s {
	case SourcePatientUpload, SourceDoctorDirect, SourceTeleconsultation:
		return true
	}
	return false
}

// State transitions possibilities:
//
//	pending → in_review → approved
//	in_review ⇄ clarification_needed
//	pending | in_review | clarification_needed → rejected
//	pending | in_review → expired (system sweep only)
type Status string

const (
	StatusPending             Status = "pending"
	StatusInReview            Status = "in_review"
	StatusClarificationNeeded Status = "clarification_needed"
	StatusApproved            Status = "approved"
	StatusRejected            Status = "rejected"
	StatusExpired             Status = "expired"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInReview, StatusClarificationNeeded, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
// Terminal records are immutable.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// Field names the editable parts of a medication line item.
type Field string

const (
	FieldMedicationName Field = "medication_name"
	FieldDosage         Field = "dosage"
	FieldFrequency      Field = "frequency"
	FieldDuration       Field = "duration"
	FieldQuantity       Field = "quantity"
)

func (f Field) IsValid() bool {
	switch f {
	case FieldMedicationName, FieldDosage, FieldFrequency, FieldDuration, FieldQuantity:
		return true
	}
	return false
}

// Transition event names, used to report which operation a guard refused.
const (
	EventBeginReview          = "begin_review"
	EventTranscribe           = "transcribe"
	EventEvaluateSafety       = "evaluate_safety"
	EventApprove              = "approve"
	EventReject               = "reject"
	EventRequestClarification = "request_clarification"
	EventRespondClarification = "respond_clarification"
	EventExpire               = "expire"
	EventEditField            = "edit_field"
	EventVerifyField          = "verify_field"
	EventResolveFinding       = "resolve_finding"
)

// FieldEdit is one append-only history entry. It stores the value the field
// held before the edit, so the first entry for a field preserves the original
// transcribed value.
type FieldEdit struct {
	Field         Field     `json:"field"`
	PreviousValue string    `json:"previous_value"`
	EditedBy      uuid.UUID `json:"edited_by"`
	EditedAt      time.Time `json:"edited_at"`
}

type MedicationLineItem struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`    // e.g. "500mg"
	Frequency string `json:"frequency"` // e.g. "twice daily"
	Duration  string `json:"duration"`  // e.g. "7 days"
	Quantity  int    `json:"quantity"`

	// Per-field transcription confidence, 0-100. A field with no entry was
	// entered by a human and is never considered low-confidence.
	Confidence map[Field]int  `json:"confidence,omitempty"`
	Verified   map[Field]bool `json:"verified,omitempty"`
	Edits      []FieldEdit    `json:"edits,omitempty"`
}

func (m *MedicationLineItem) FieldValue(f Field) string {
	switch f {
	case FieldMedicationName:
		return m.Name
	case FieldDosage:
		return m.Dosage
	case FieldFrequency:
		return m.Frequency
	case FieldDuration:
		return m.Duration
	case FieldQuantity:
		return strconv.Itoa(m.Quantity)
	}
	return ""
}

func (m *MedicationLineItem) setFieldValue(f Field, value string) error {
	switch f {
	case FieldMedicationName:
		m.Name = value
	case FieldDosage:
		m.Dosage = value
	case FieldFrequency:
		m.Frequency = value
	case FieldDuration:
		m.Duration = value
	case FieldQuantity:
		qty, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || qty <= 0 {
			return ErrInvalidQuantity
		}
		m.Quantity = qty
	default:
		return ErrUnknownField
	}
	return nil
}

// edit appends a history entry holding the previous value, then applies
// the new one. History is append-only and never rewritten.
func (m *MedicationLineItem) edit(f Field, value string, editedBy uuid.UUID, at time.Time) error {
	if !f.IsValid() {
		return ErrUnknownField
	}
	previous := m.FieldValue(f)
	if err := m.setFieldValue(f, value); err != nil {
		return err
	}
	m.Edits = append(m.Edits, FieldEdit{
		Field:         f,
		PreviousValue: previous,
		EditedBy:      editedBy,
		EditedAt:      at,
	})
	return nil
}

func (m *MedicationLineItem) verify(f Field) error {
	if !f.IsValid() {
		return ErrUnknownField
	}
	if m.Verified == nil {
		m.Verified = make(map[Field]bool)
	}
	m.Verified[f] = true
	return nil
}

func (m *MedicationLineItem) IsVerified(f Field) bool {
	return m.Verified[f]
}

// EditHistory returns the append-only edit trail for one field, oldest first.
func (m *MedicationLineItem) EditHistory(f Field) []FieldEdit {
	var out []FieldEdit
	for _, e := range m.Edits {
		if e.Field == f {
			out = append(out, e)
		}
	}
	return out
}

// LowConfidenceFields returns the fields whose transcription confidence is
// below the threshold, regardless of verification state.
func (m *MedicationLineItem) LowConfidenceFields(threshold int) []Field {
	var out []Field
	for _, f := range orderedFields {
		if c, ok := m.Confidence[f]; ok && c < threshold {
			out = append(out, f)
		}
	}
	return out
}

var orderedFields = []Field{FieldMedicationName, FieldDosage, FieldFrequency, FieldDuration, FieldQuantity}

// FieldRef addresses one field of one line item.
type FieldRef struct {
	Item  int   `json:"item"`
	Field Field `json:"field"`
}

type PrescriptionRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	// Optimistic concurrency token. Saves are conditional on the version the
	// record was loaded with and increment it on success.
	Version int `gorm:"column:version;not null;default:1"`

	PatientID    uuid.UUID  `gorm:"column:patient_id;type:uuid;not null;index"`
	PharmacistID *uuid.UUID `gorm:"column:pharmacist_id;type:uuid;index"`

	Source   Source  `gorm:"column:source;type:varchar(30);not null"`
	ImageRef *string `gorm:"column:image_ref;type:varchar(512)"`

	Status Status `gorm:"column:status;type:varchar(30);not null;default:'pending';index"`

	// Overall transcription confidence, 0-100. Nil until transcribed.
	AIConfidence *int `gorm:"column:ai_confidence"`

	PrescribedDate time.Time  `gorm:"column:prescribed_date;not null"`
	ExpiryDate     *time.Time `gorm:"column:expiry_date;index"`

	LineItems      []MedicationLineItem `gorm:"column:line_items;serializer:json"`
	Findings       []SafetyFinding      `gorm:"column:findings;serializer:json"`
	Clarifications []Clarification      `gorm:"column:clarifications;serializer:json"`

	RejectionReason string     `gorm:"column:rejection_reason;type:varchar(100)"`
	DecidedBy       *uuid.UUID `gorm:"column:decided_by;type:uuid"`
	DecidedAt       *time.Time `gorm:"column:decided_at"`

	CreatedBy uuid.UUID `gorm:"column:created_by;type:uuid;not null"`
}

func (PrescriptionRecord) TableName() string {
	return "pharmacy.prescriptions"
}

func (p *PrescriptionRecord) CanTransitionTo(newStatus Status) bool {
	allowed := map[Status][]Status{
		StatusPending:             {StatusInReview, StatusRejected, StatusExpired},
		StatusInReview:            {StatusApproved, StatusRejected, StatusClarificationNeeded, StatusExpired},
		StatusClarificationNeeded: {StatusInReview, StatusRejected},
		StatusApproved:            {},
		StatusRejected:            {},
		StatusExpired:             {},
	}

	for _, s := range allowed[p.Status] {
		if s == newStatus {
			return true
		}
	}
	return false
}

func (p *PrescriptionRecord) IsTerminal() bool {
	return p.Status.IsTerminal()
}

// UnderReview reports whether pharmacist review actions (edits, verification,
// finding resolution, decisions) are currently permitted.
func (p *PrescriptionRecord) UnderReview() bool {
	return p.Status == StatusInReview
}

// beginReview moves a pending record under review. Transcription and safety
// evaluation call this on their first successful run.
func (p *PrescriptionRecord) beginReview() {
	if p.Status == StatusPending {
		p.Status = StatusInReview
	}
}

// EnsureEvaluable refuses transcription and safety evaluation outside the
// pending and in_review statuses.
func (p *PrescriptionRecord) EnsureEvaluable(event string) error {
	if p.Status == StatusPending || p.Status == StatusInReview {
		return nil
	}
	return &InvalidTransitionError{From: p.Status, Event: event, Guard: "allowed only while pending or under review"}
}

// ApplyTranscript replaces every line item with the transcribed set and
// records the overall confidence. All items are written together or not at
// all; prior items, including their edit histories, fall away. A pending
// record enters review.
func (p *PrescriptionRecord) ApplyTranscript(items []MedicationLineItem, overallConfidence int) error {
	if err := p.EnsureEvaluable(EventTranscribe); err != nil {
		return err
	}
	p.LineItems = items
	p.AIConfidence = &overallConfidence
	p.beginReview()
	return nil
}

// ApplyFindings replaces the finding set with the merged result of a fresh
// safety evaluation. Resolution marks carry over by finding identity. A
// pending record enters review.
func (p *PrescriptionRecord) ApplyFindings(fresh []SafetyFinding) error {
	if err := p.EnsureEvaluable(EventEvaluateSafety); err != nil {
		return err
	}
	p.Findings = MergeFindings(p.Findings, fresh)
	p.beginReview()
	return nil
}

// UnresolvedCriticalFindings returns the findings that block approval.
func (p *PrescriptionRecord) UnresolvedCriticalFindings() []SafetyFinding {
	var out []SafetyFinding
	for _, f := range p.Findings {
		if f.Severity == SeverityCritical && !f.Resolved {
			out = append(out, f)
		}
	}
	return out
}

// UnverifiedLowConfidenceFields returns every field whose transcription
// confidence is below the threshold and which no pharmacist has verified.
func (p *PrescriptionRecord) UnverifiedLowConfidenceFields(threshold int) []FieldRef {
	var out []FieldRef
	for i := range p.LineItems {
		for _, f := range p.LineItems[i].LowConfidenceFields(threshold) {
			if !p.LineItems[i].IsVerified(f) {
				out = append(out, FieldRef{Item: i, Field: f})
			}
		}
	}
	return out
}

// Approve finalizes the prescription. Every guard must hold: the record is
// under review, no critical finding is unresolved, every low-confidence field
// has been verified, and all quantities are positive.
func (p *PrescriptionRecord) Approve(approvedBy uuid.UUID, lowConfidenceThreshold int) error {
	if !p.CanTransitionTo(StatusApproved) {
		return &InvalidTransitionError{From: p.Status, Event: EventApprove, Guard: GuardNotAllowed}
	}
	if len(p.LineItems) == 0 {
		return &InvalidTransitionError{From: p.Status, Event: EventApprove, Guard: "no medication line items to approve"}
	}
	if n := len(p.UnresolvedCriticalFindings()); n > 0 {
		return &InvalidTransitionError{From: p.Status, Event: EventApprove, Guard: "unresolved critical safety findings"}
	}
	if refs := p.UnverifiedLowConfidenceFields(lowConfidenceThreshold); len(refs) > 0 {
		return &InvalidTransitionError{From: p.Status, Event: EventApprove, Guard: "unverified low-confidence fields"}
	}
	for i := range p.LineItems {
		if p.LineItems[i].Quantity <= 0 {
			return &InvalidTransitionError{From: p.Status, Event: EventApprove, Guard: "medication quantity must be positive"}
		}
	}
	now := time.Now()
	p.Status = StatusApproved
	p.DecidedBy = &approvedBy
	p.DecidedAt = &now
	return nil
}

// Reject is allowed from any non-terminal status. The reason code is
// mandatory and checked before any state changes.
func (p *PrescriptionRecord) Reject(rejectedBy uuid.UUID, reasonCode string) error {
	if strings.TrimSpace(reasonCode) == "" {
		return ErrReasonRequired
	}
	if !p.CanTransitionTo(StatusRejected) {
		return &InvalidTransitionError{From: p.Status, Event: EventReject, Guard: GuardNotAllowed}
	}
	now := time.Now()
	p.Status = StatusRejected
	p.RejectionReason = reasonCode
	p.DecidedBy = &rejectedBy
	p.DecidedAt = &now
	return nil
}

// RequestClarification parks the review until the prescriber answers.
func (p *PrescriptionRecord) RequestClarification(question string, askedBy uuid.UUID) error {
	if strings.TrimSpace(question) == "" {
		return ErrQuestionRequired
	}
	if !p.CanTransitionTo(StatusClarificationNeeded) {
		return &InvalidTransitionError{From: p.Status, Event: EventRequestClarification, Guard: GuardNotAllowed}
	}
	p.Clarifications = append(p.Clarifications, Clarification{
		ID:       uuid.New(),
		Question: question,
		AskedBy:  askedBy,
		AskedAt:  time.Now(),
	})
	p.Status = StatusClarificationNeeded
	return nil
}

// RespondClarification records the prescriber's answer on the most recent
// open clarification and returns the record to review.
func (p *PrescriptionRecord) RespondClarification(answer string, answeredBy uuid.UUID) error {
	if strings.TrimSpace(answer) == "" {
		return ErrAnswerRequired
	}
	if p.Status != StatusClarificationNeeded {
		return &InvalidTransitionError{From: p.Status, Event: EventRespondClarification, Guard: "no clarification is awaiting a response"}
	}
	for i := len(p.Clarifications) - 1; i >= 0; i-- {
		c := &p.Clarifications[i]
		if c.AnsweredAt == nil {
			now := time.Now()
			c.Answer = answer
			c.AnsweredBy = &answeredBy
			c.AnsweredAt = &now
			break
		}
	}
	p.Status = StatusInReview
	return nil
}

// Expire transitions a record whose validity window has lapsed. The sweep
// passes its own clock so a whole batch observes one instant.
func (p *PrescriptionRecord) Expire(now time.Time) error {
	if !p.CanTransitionTo(StatusExpired) {
		return &InvalidTransitionError{From: p.Status, Event: EventExpire, Guard: GuardNotAllowed}
	}
	if p.ExpiryDate == nil || now.Before(*p.ExpiryDate) {
		return &InvalidTransitionError{From: p.Status, Event: EventExpire, Guard: "expiry date not reached"}
	}
	p.Status = StatusExpired
	p.DecidedAt = &now
	return nil
}

// ExpiryDue reports whether the record should be picked up by the expiry sweep.
func (p *PrescriptionRecord) ExpiryDue(now time.Time) bool {
	if p.ExpiryDate == nil || p.Status.IsTerminal() || p.Status == StatusClarificationNeeded {
		return false
	}
	return !now.Before(*p.ExpiryDate)
}

// EditField changes one field of one line item, appending to its history.
func (p *PrescriptionRecord) EditField(itemIndex int, field Field, value string, editedBy uuid.UUID) (previous string, err error) {
	if !p.UnderReview() {
		return "", &InvalidTransitionError{From: p.Status, Event: EventEditField, Guard: "fields are editable only while under review"}
	}
	if itemIndex < 0 || itemIndex >= len(p.LineItems) {
		return "", ErrLineItemNotFound
	}
	item := &p.LineItems[itemIndex]
	previous = item.FieldValue(field)
	if err := item.edit(field, value, editedBy, time.Now()); err != nil {
		return "", err
	}
	return previous, nil
}

// VerifyField marks one transcribed field as explicitly checked by the
// reviewing pharmacist. Editing a field does not verify it.
func (p *PrescriptionRecord) VerifyField(itemIndex int, field Field) error {
	if !p.UnderReview() {
		return &InvalidTransitionError{From: p.Status, Event: EventVerifyField, Guard: "fields can be verified only while under review"}
	}
	if itemIndex < 0 || itemIndex >= len(p.LineItems) {
		return ErrLineItemNotFound
	}
	return p.LineItems[itemIndex].verify(field)
}

// ResolveFinding marks a safety finding as reviewed and dismissed. Resolving
// an already-resolved finding is a no-op.
func (p *PrescriptionRecord) ResolveFinding(findingID uuid.UUID, resolvedBy uuid.UUID) error {
	if !p.UnderReview() {
		return &InvalidTransitionError{From: p.Status, Event: EventResolveFinding, Guard: "findings can be resolved only while under review"}
	}
	for i := range p.Findings {
		if p.Findings[i].ID == findingID {
			if p.Findings[i].Resolved {
				return nil
			}
			now := time.Now()
			p.Findings[i].Resolved = true
			p.Findings[i].ResolvedBy = &resolvedBy
			p.Findings[i].ResolvedAt = &now
			return nil
		}
	}
	return ErrFindingNotFound
}

// AssignPharmacist records the reviewing pharmacist on their first action.
func (p *PrescriptionRecord) AssignPharmacist(id uuid.UUID) {
	if p.PharmacistID == nil {
		p.PharmacistID = &id
	}
}

// MedicationNames returns the current medication names in line-item order.
func (p *PrescriptionRecord) MedicationNames() []string {
	names := make([]string, 0, len(p.LineItems))
	for i := range p.LineItems {
		if n := strings.TrimSpace(p.LineItems[i].Name); n != "" {
			names = append(names, n)
		}
	}
	return names
}

type CreateCommand struct {
	PatientID      uuid.UUID
	Source         Source
	ImageRef       *string
	Items          []ItemInput
	PrescribedDate time.Time
	ExpiryDate     *time.Time
	CreatedBy      uuid.UUID
}

// ItemInput carries structured medication fields supplied at intake on the
// doctor-direct path. Human-entered fields carry no confidence scores.
type ItemInput struct {
	Name      string
	Dosage    string
	Frequency string
	Duration  string
	Quantity  int
}

type ListQuery struct {
	PatientID *uuid.UUID
	Status    *Status
	Page      int
	PageSize  int
}

type PagedRecords struct {
	Records    []*PrescriptionRecord
	TotalCount int64
	Page       int
	PageSize   int
	TotalPages int
}
