package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/metapharm/rxgate/internal/domain/patient"
	"github.com/metapharm/rxgate/internal/domain/prescription"
)

func activePatient() *patient.Patient {
	return &patient.Patient{
		ID:        uuid.New(),
		FirstName: "Amara",
		LastName:  "Okafor",
		Status:    patient.StatusActive,
	}
}

func newIntakeFixture(patients ...*patient.Patient) (*IntakeService, *mockPrescriptionRepo) {
	repo := newMockPrescriptionRepo()
	auditSvc, _ := newTestAuditService()
	svc := NewIntakeService(repo, newMockPatientRepo(patients...), auditSvc, newTestCollector(), zap.NewNop())
	return svc, repo
}

func TestCreate_PatientUpload(t *testing.T) {
	pat := activePatient()
	svc, repo := newIntakeFixture(pat)

	imageRef := "s3://rx-images/2026/08/scan-9912.png"
	rec, err := svc.Create(context.Background(), &prescription.CreateCommand{
		PatientID:      pat.ID,
		Source:         prescription.SourcePatientUpload,
		ImageRef:       &imageRef,
		PrescribedDate: time.Now().AddDate(0, 0, -1),
		CreatedBy:      pat.ID,
	}, pat.ID, "patient", "10.0.0.7")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if rec.ID == uuid.Nil {
		t.Fatal("expected record to get an id on create")
	}
	if rec.Status != prescription.StatusPending {
		t.Errorf("status = %q, want pending", rec.Status)
	}
	if rec.Version != 1 {
		t.Errorf("version = %d, want 1", rec.Version)
	}
	if stored := repo.stored(rec.ID); stored == nil {
		t.Error("record not persisted")
	}
}

func TestCreate_DoctorDirect(t *testing.T) {
	pat := activePatient()
	svc, _ := newIntakeFixture(pat)
	doctorID := uuid.New()

	rec, err := svc.Create(context.Background(), &prescription.CreateCommand{
		PatientID: pat.ID,
		Source:    prescription.SourceDoctorDirect,
		Items: []prescription.ItemInput{
			{Name: "  Metformin ", Dosage: "850mg", Frequency: "twice daily", Duration: "90 days", Quantity: 180},
		},
		PrescribedDate: time.Now(),
		CreatedBy:      doctorID,
	}, doctorID, "doctor", "10.0.0.8")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if len(rec.LineItems) != 1 {
		t.Fatalf("line items = %d, want 1", len(rec.LineItems))
	}
	item := rec.LineItems[0]
	if item.Name != "Metformin" {
		t.Errorf("name = %q, want trimmed %q", item.Name, "Metformin")
	}
	if len(item.Confidence) != 0 {
		t.Errorf("human-entered item should carry no confidence scores, got %v", item.Confidence)
	}
}

func TestCreate_ValidationFailures(t *testing.T) {
	pat := activePatient()
	imageRef := "s3://rx-images/ok.png"
	yesterday := time.Now().AddDate(0, 0, -1)
	lastWeek := time.Now().AddDate(0, 0, -7)

	cases := []struct {
		name  string
		cmd   prescription.CreateCommand
		field string
	}{
		{
			name:  "unknown source",
			cmd:   prescription.CreateCommand{PatientID: pat.ID, Source: "fax", ImageRef: &imageRef, PrescribedDate: yesterday},
			field: "source",
		},
		{
			name:  "neither image nor items",
			cmd:   prescription.CreateCommand{PatientID: pat.ID, Source: prescription.SourcePatientUpload, PrescribedDate: yesterday},
			field: "image_ref",
		},
		{
			name: "item without a name",
			cmd: prescription.CreateCommand{
				PatientID: pat.ID, Source: prescription.SourceDoctorDirect, PrescribedDate: yesterday,
				Items: []prescription.ItemInput{{Name: "   ", Quantity: 10}},
			},
			field: "items[0].name",
		},
		{
			name: "non-positive quantity",
			cmd: prescription.CreateCommand{
				PatientID: pat.ID, Source: prescription.SourceDoctorDirect, PrescribedDate: yesterday,
				Items: []prescription.ItemInput{{Name: "Metformin", Quantity: 0}},
			},
			field: "items[0].quantity",
		},
		{
			name:  "missing prescribed date",
			cmd:   prescription.CreateCommand{PatientID: pat.ID, Source: prescription.SourcePatientUpload, ImageRef: &imageRef},
			field: "prescribed_date",
		},
		{
			name: "expiry before prescribed date",
			cmd: prescription.CreateCommand{
				PatientID: pat.ID, Source: prescription.SourcePatientUpload, ImageRef: &imageRef,
				PrescribedDate: yesterday, ExpiryDate: &lastWeek,
			},
			field: "expiry_date",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newIntakeFixture(pat)
			_, err := svc.Create(context.Background(), &tc.cmd, uuid.New(), "admin", "10.0.0.1")

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			found := false
			for _, f := range verr.Fields {
				if f == tc.field {
					found = true
				}
			}
			if !found {
				t.Errorf("fields = %v, want to include %q", verr.Fields, tc.field)
			}
		})
	}
}

func TestCreate_UnknownPatient(t *testing.T) {
	svc, _ := newIntakeFixture()
	imageRef := "s3://rx-images/ok.png"

	_, err := svc.Create(context.Background(), &prescription.CreateCommand{
		PatientID:      uuid.New(),
		Source:         prescription.SourcePatientUpload,
		ImageRef:       &imageRef,
		PrescribedDate: time.Now(),
	}, uuid.New(), "admin", "10.0.0.1")
	if !errors.Is(err, patient.ErrPatientNotFound) {
		t.Fatalf("expected patient not found, got %v", err)
	}
}

func TestCreate_InactivePatient(t *testing.T) {
	pat := activePatient()
	pat.Status = patient.StatusInactive
	svc, _ := newIntakeFixture(pat)
	imageRef := "s3://rx-images/ok.png"

	_, err := svc.Create(context.Background(), &prescription.CreateCommand{
		PatientID:      pat.ID,
		Source:         prescription.SourcePatientUpload,
		ImageRef:       &imageRef,
		PrescribedDate: time.Now(),
	}, uuid.New(), "admin", "10.0.0.1")

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Fields) != 1 || verr.Fields[0] != "patient_id" {
		t.Errorf("fields = %v, want [patient_id]", verr.Fields)
	}
}

func TestCreate_ForbiddenRole(t *testing.T) {
	pat := activePatient()
	svc, _ := newIntakeFixture(pat)
	imageRef := "s3://rx-images/ok.png"

	_, err := svc.Create(context.Background(), &prescription.CreateCommand{
		PatientID:      pat.ID,
		Source:         prescription.SourcePatientUpload,
		ImageRef:       &imageRef,
		PrescribedDate: time.Now(),
	}, uuid.New(), "pharmacist", "10.0.0.1")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestGet_PatientSeesOnlyOwnRecords(t *testing.T) {
	pat := activePatient()
	svc, repo := newIntakeFixture(pat)

	rec := &prescription.PrescriptionRecord{
		ID: uuid.New(), Version: 1, PatientID: pat.ID,
		Source: prescription.SourcePatientUpload, Status: prescription.StatusPending,
	}
	repo.seed(rec)

	if _, err := svc.Get(context.Background(), rec.ID, pat.ID, "patient"); err != nil {
		t.Fatalf("owner read failed: %v", err)
	}
	if _, err := svc.Get(context.Background(), rec.ID, uuid.New(), "patient"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for another patient, got %v", err)
	}
	if _, err := svc.Get(context.Background(), rec.ID, uuid.New(), "pharmacist"); err != nil {
		t.Fatalf("pharmacist read failed: %v", err)
	}
	if _, err := svc.Get(context.Background(), uuid.New(), pat.ID, "patient"); !errors.Is(err, prescription.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestList_PatientScopedAndPaged(t *testing.T) {
	pat := activePatient()
	svc, repo := newIntakeFixture(pat)

	for i := 0; i < 3; i++ {
		repo.seed(&prescription.PrescriptionRecord{
			ID: uuid.New(), Version: 1, PatientID: pat.ID,
			Source: prescription.SourcePatientUpload, Status: prescription.StatusPending,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Minute),
		})
	}
	repo.seed(&prescription.PrescriptionRecord{
		ID: uuid.New(), Version: 1, PatientID: uuid.New(),
		Source: prescription.SourcePatientUpload, Status: prescription.StatusPending,
	})

	// A patient's listing is forced onto their own records regardless of
	// the filter they pass.
	other := uuid.New()
	page, err := svc.List(context.Background(), &prescription.ListQuery{PatientID: &other}, pat.ID, "patient")
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if page.TotalCount != 3 {
		t.Errorf("total = %d, want 3", page.TotalCount)
	}
	for _, rec := range page.Records {
		if rec.PatientID != pat.ID {
			t.Errorf("listing leaked record for patient %s", rec.PatientID)
		}
	}
	if page.Page != 1 || page.PageSize != 20 {
		t.Errorf("page defaults = %d/%d, want 1/20", page.Page, page.PageSize)
	}

	// Reviewers see everything.
	all, err := svc.List(context.Background(), &prescription.ListQuery{Page: 1, PageSize: 2}, uuid.New(), "pharmacist")
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if all.TotalCount != 4 || len(all.Records) != 2 || all.TotalPages != 2 {
		t.Errorf("got total=%d len=%d pages=%d, want 4/2/2", all.TotalCount, len(all.Records), all.TotalPages)
	}
}
