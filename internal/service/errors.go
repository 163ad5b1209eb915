package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/metapharm/rxgate/internal/domain"
)

var ErrForbidden = errors.New("forbidden: insufficient permissions")

type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

// TranscriptionError wraps an OCR provider failure. The record is left
// untouched when this is returned; callers may retry.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string {
	return "transcription failed: " + e.Err.Error()
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

// SafetyCheckError is returned only when every safety checker failed and no
// findings could be produced. Partial checker failures degrade to partial
// results instead.
type SafetyCheckError struct {
	Causes []error
}

func (e *SafetyCheckError) Error() string {
	msgs := make([]string, len(e.Causes))
	for i, c := range e.Causes {
		msgs[i] = c.Error()
	}
	return "safety evaluation failed: " + strings.Join(msgs, "; ")
}

// ConcurrencyConflictError reports a lost optimistic-concurrency race: the
// record changed between read and save. The client should reload and retry.
type ConcurrencyConflictError struct {
	PrescriptionID uuid.UUID
	Version        int
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("prescription %s was modified concurrently (version %d is stale)", e.PrescriptionID, e.Version)
}

type AuditEntry struct {
	UserID       uuid.UUID
	UserRole     domain.Role
	Action       domain.AuditAction
	ResourceType string
	ResourceID   string
	IPAddress    string
	RequestID    string
	Metadata     string
}
