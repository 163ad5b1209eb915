package prescription

import (
	"testing"

	"github.com/google/uuid"
)

func TestMergeFindings_CarriesResolution(t *testing.T) {
	resolver := uuid.New()
	existing := []SafetyFinding{{
		ID:          uuid.New(),
		Kind:        FindingDrugInteraction,
		Severity:    SeverityCritical,
		Description: "warfarin potentiation",
		Medications: []string{"Warfarin", "Aspirin"},
		Resolved:    true,
		ResolvedBy:  &resolver,
	}}
	fresh := []SafetyFinding{{
		Kind:        FindingDrugInteraction,
		Severity:    SeverityCritical,
		Description: "warfarin potentiation",
		Medications: []string{"Aspirin", "Warfarin"}, // order must not matter
	}}

	merged := MergeFindings(existing, fresh)
	if len(merged) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(merged))
	}
	if !merged[0].Resolved {
		t.Error("resolution mark did not carry over")
	}
	if merged[0].ID != existing[0].ID {
		t.Error("finding identity did not carry over")
	}
	if merged[0].ResolvedBy == nil || *merged[0].ResolvedBy != resolver {
		t.Error("resolver did not carry over")
	}
}

func TestMergeFindings_DropsStale(t *testing.T) {
	existing := []SafetyFinding{{
		ID:          uuid.New(),
		Kind:        FindingAllergy,
		Severity:    SeverityCritical,
		Description: "penicillin allergy",
		Medications: []string{"Amoxicillin"},
	}}

	merged := MergeFindings(existing, nil)
	if len(merged) != 0 {
		t.Errorf("expected stale findings to disappear, got %d", len(merged))
	}
}

func TestMergeFindings_DedupesFreshSet(t *testing.T) {
	f := SafetyFinding{
		Kind:        FindingContraindication,
		Severity:    SeverityModerate,
		Description: "renal impairment",
		Medications: []string{"Ibuprofen"},
	}

	merged := MergeFindings(nil, []SafetyFinding{f, f})
	if len(merged) != 1 {
		t.Fatalf("expected duplicates to collapse, got %d findings", len(merged))
	}
	if merged[0].ID == uuid.Nil {
		t.Error("merged finding missing an ID")
	}
}

func TestMergeFindings_DeterministicOrder(t *testing.T) {
	fresh := []SafetyFinding{
		{Kind: FindingContraindication, Severity: SeverityModerate, Description: "b", Medications: []string{"X"}},
		{Kind: FindingAllergy, Severity: SeverityCritical, Description: "c", Medications: []string{"X"}},
		{Kind: FindingDrugInteraction, Severity: SeverityModerate, Description: "z", Medications: []string{"X", "Y"}},
		{Kind: FindingDrugInteraction, Severity: SeverityModerate, Description: "a", Medications: []string{"X", "Y"}},
	}

	first := MergeFindings(nil, fresh)
	reversed := []SafetyFinding{fresh[3], fresh[2], fresh[1], fresh[0]}
	second := MergeFindings(nil, reversed)

	if len(first) != 4 || len(second) != 4 {
		t.Fatalf("expected 4 findings, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].IdentityKey() != second[i].IdentityKey() {
			t.Fatalf("order differs at %d: %q vs %q", i, first[i].Description, second[i].Description)
		}
	}
	if first[0].Kind != FindingDrugInteraction || first[0].Description != "a" {
		t.Errorf("unexpected first finding: %s %q", first[0].Kind, first[0].Description)
	}
	if first[3].Kind != FindingContraindication {
		t.Errorf("expected contraindication last, got %s", first[3].Kind)
	}
}

func TestMergeFindings_Idempotent(t *testing.T) {
	fresh := []SafetyFinding{
		{Kind: FindingAllergy, Severity: SeverityCritical, Description: "sulfa allergy", Medications: []string{"Sulfamethoxazole"}},
		{Kind: FindingDrugInteraction, Severity: SeverityModerate, Description: "additive sedation", Medications: []string{"Zolpidem", "Diazepam"}},
	}

	once := MergeFindings(nil, fresh)
	twice := MergeFindings(once, fresh)

	if len(once) != len(twice) {
		t.Fatalf("re-evaluation changed finding count: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].ID != twice[i].ID {
			t.Errorf("finding %d changed identity on re-evaluation", i)
		}
	}
}

func TestIdentityKey_MedicationOrderInsensitive(t *testing.T) {
	a := SafetyFinding{Kind: FindingDrugInteraction, Description: "x", Medications: []string{"A", "b"}}
	b := SafetyFinding{Kind: FindingDrugInteraction, Description: "x", Medications: []string{"B", "a"}}
	if a.IdentityKey() != b.IdentityKey() {
		t.Error("identity key must not depend on medication order or case")
	}
}
