package prescription

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type FindingKind string

const (
	FindingDrugInteraction  FindingKind = "drug_interaction"
	FindingAllergy          FindingKind = "allergy"
	FindingContraindication FindingKind = "contraindication"
)

func (k FindingKind) IsValid() bool {
	switch k {
	case FindingDrugInteraction, FindingAllergy, FindingContraindication:
		return true
	}
	return false
}

type Severity string

const (
	SeverityInformational Severity = "informational"
	SeverityModerate      Severity = "moderate"
	SeverityCritical      Severity = "critical"
)

// SafetyFinding is one concern raised by the safety evaluation. Critical
// findings block approval until a pharmacist resolves them.
type SafetyFinding struct {
	ID          uuid.UUID   `json:"id"`
	Kind        FindingKind `json:"kind"`
	Severity    Severity    `json:"severity"`
	Description string      `json:"description"`
	Medications []string    `json:"medications"`

	Resolved   bool       `json:"resolved"`
	ResolvedBy *uuid.UUID `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// IdentityKey identifies a finding across evaluations so that resolution
// marks survive re-runs. Two findings with the same kind, medication set and
// description are the same finding.
func (f *SafetyFinding) IdentityKey() string {
	meds := make([]string, len(f.Medications))
	for i, m := range f.Medications {
		meds[i] = strings.ToLower(strings.TrimSpace(m))
	}
	sort.Strings(meds)
	return string(f.Kind) + "|" + strings.Join(meds, ",") + "|" + f.Description
}

var findingKindRank = map[FindingKind]int{
	FindingDrugInteraction:  0,
	FindingAllergy:          1,
	FindingContraindication: 2,
}

// MergeFindings produces the finding set after a fresh evaluation. The fresh
// set wins: findings absent from it disappear, duplicates within it collapse,
// and resolution marks carry over from existing findings with the same
// identity. The result is ordered by kind, then description, then identity,
// so repeated evaluations of unchanged inputs yield identical sets.
func MergeFindings(existing, fresh []SafetyFinding) []SafetyFinding {
	prior := make(map[string]*SafetyFinding, len(existing))
	for i := range existing {
		prior[existing[i].IdentityKey()] = &existing[i]
	}

	merged := make([]SafetyFinding, 0, len(fresh))
	seen := make(map[string]bool, len(fresh))
	for _, f := range fresh {
		key := f.IdentityKey()
		if seen[key] {
			continue
		}
		seen[key] = true

		if old, ok := prior[key]; ok {
			f.ID = old.ID
			f.Resolved = old.Resolved
			f.ResolvedBy = old.ResolvedBy
			f.ResolvedAt = old.ResolvedAt
		} else if f.ID == uuid.Nil {
			f.ID = uuid.New()
		}
		merged = append(merged, f)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if r1, r2 := findingKindRank[merged[i].Kind], findingKindRank[merged[j].Kind]; r1 != r2 {
			return r1 < r2
		}
		if merged[i].Description != merged[j].Description {
			return merged[i].Description < merged[j].Description
		}
		return merged[i].IdentityKey() < merged[j].IdentityKey()
	})
	return merged
}

// Clarification is one question/answer exchange between the reviewing
// pharmacist and the prescriber.
type Clarification struct {
	ID       uuid.UUID `json:"id"`
	Question string    `json:"question"`
	AskedBy  uuid.UUID `json:"asked_by"`
	AskedAt  time.Time `json:"asked_at"`

	Answer     string     `json:"answer,omitempty"`
	AnsweredBy *uuid.UUID `json:"answered_by,omitempty"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
}
