package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin      Role = "admin"
	RolePharmacist Role = "pharmacist"
	RoleDoctor     Role = "doctor"
	RolePatient    Role = "patient"
	RoleSystem     Role = "system"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RolePharmacist, RoleDoctor, RolePatient, RoleSystem:
		return true
	}
	return false
}

// CanReview reports whether the role is allowed to act as the reviewing
// pharmacist on a prescription.
func (r Role) CanReview() bool {
	return r == RolePharmacist || r == RoleAdmin
}

// CanSubmit reports whether the role may submit new prescriptions.
func (r Role) CanSubmit() bool {
	return r == RolePatient || r == RoleDoctor || r == RoleAdmin
}

// CanEvaluate reports whether the role may run the automated review stages.
// System covers the ingestion pipeline triggering them on its own schedule.
func (r Role) CanEvaluate() bool {
	return r == RolePharmacist || r == RoleSystem || r == RoleAdmin
}

type AuditAction string

const (
	ActionPrescriptionCreated      AuditAction = "prescription.created"
	ActionPrescriptionTranscribed  AuditAction = "prescription.transcribed"
	ActionSafetyEvaluated          AuditAction = "prescription.safety_evaluated"
	ActionPrescriptionApproved     AuditAction = "prescription.approved"
	ActionPrescriptionRejected     AuditAction = "prescription.rejected"
	ActionClarificationRequested   AuditAction = "prescription.clarification_requested"
	ActionClarificationResponded   AuditAction = "prescription.clarification_responded"
	ActionPrescriptionFieldEdited  AuditAction = "prescription.field_edited"
	ActionPrescriptionFieldChecked AuditAction = "prescription.field_verified"
	ActionFindingResolved          AuditAction = "prescription.finding_resolved"
	ActionPrescriptionExpired      AuditAction = "prescription.expired"
)

type AuditLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OccurredAt time.Time `gorm:"autoCreateTime;index"`

	// Who
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`
	UserRole  Role      `gorm:"column:user_role;type:varchar(30);not null"`
	IPAddress string    `gorm:"column:ip_address;type:varchar(45)"` // Supports IPv6

	// What
	Action       AuditAction `gorm:"column:action;type:varchar(60);not null;index"`
	ResourceType string      `gorm:"column:resource_type;type:varchar(50);not null;index"`
	ResourceID   string      `gorm:"column:resource_id;type:varchar(50);index"`

	RequestID string `gorm:"column:request_id;type:varchar(50);index"`

	Metadata string `gorm:"column:metadata;type:jsonb"`
}

func (AuditLog) TableName() string {
	return "audit.logs"
}

type Claims struct {
	UserID uuid.UUID `json:"sub"`
	Role   Role      `json:"role"`
}

type contextKey string

const requestIDKey contextKey = "request_id"

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
