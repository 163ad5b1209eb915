package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/metapharm/rxgate/internal/domain"
	"github.com/metapharm/rxgate/internal/domain/patient"
	"github.com/metapharm/rxgate/internal/domain/prescription"
	"github.com/metapharm/rxgate/internal/events"
	"github.com/metapharm/rxgate/internal/provider"
	"github.com/metapharm/rxgate/pkg/metrics"
)

// mockPrescriptionRepo keeps records in a map and enforces the same
// version-conditional save contract as the Postgres repository. GetByID hands
// out deep copies so in-memory mutations only land via Save, matching how a
// real row behaves.
type mockPrescriptionRepo struct {
	mu       sync.Mutex
	records  map[uuid.UUID]*prescription.PrescriptionRecord
	saveErr  error
	conflict bool // force the next Save to report a version conflict
}

func newMockPrescriptionRepo() *mockPrescriptionRepo {
	return &mockPrescriptionRepo{records: map[uuid.UUID]*prescription.PrescriptionRecord{}}
}

// Create fills the generated columns the way the Postgres repository does.
func (m *mockPrescriptionRepo) Create(_ context.Context, p *prescription.PrescriptionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	m.records[p.ID] = cloneRecord(p)
	return nil
}

func (m *mockPrescriptionRepo) GetByID(_ context.Context, id uuid.UUID) (*prescription.PrescriptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, prescription.ErrRecordNotFound
	}
	return cloneRecord(rec), nil
}

func (m *mockPrescriptionRepo) Save(_ context.Context, p *prescription.PrescriptionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	stored, ok := m.records[p.ID]
	if !ok {
		return prescription.ErrRecordNotFound
	}
	if m.conflict || stored.Version != p.Version {
		m.conflict = false
		return prescription.ErrVersionConflict
	}
	p.Version++
	m.records[p.ID] = cloneRecord(p)
	return nil
}

func (m *mockPrescriptionRepo) List(_ context.Context, q *prescription.ListQuery) (*prescription.PagedRecords, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*prescription.PrescriptionRecord
	for _, rec := range m.records {
		if q.PatientID != nil && rec.PatientID != *q.PatientID {
			continue
		}
		if q.Status != nil && rec.Status != *q.Status {
			continue
		}
		matched = append(matched, cloneRecord(rec))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := (q.Page - 1) * q.PageSize
	if start > len(matched) {
		start = len(matched)
	}
	end := start + q.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	pages := int((total + int64(q.PageSize) - 1) / int64(q.PageSize))
	return &prescription.PagedRecords{
		Records:    matched[start:end],
		TotalCount: total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: pages,
	}, nil
}

func (m *mockPrescriptionRepo) FindExpirable(_ context.Context, now time.Time, limit int) ([]*prescription.PrescriptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*prescription.PrescriptionRecord
	for _, rec := range m.records {
		if rec.ExpiryDue(now) {
			due = append(due, cloneRecord(rec))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ExpiryDate.Before(*due[j].ExpiryDate)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// seed stores a record directly, bypassing Create, for test setup.
func (m *mockPrescriptionRepo) seed(p *prescription.PrescriptionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[p.ID] = cloneRecord(p)
}

// stored returns the persisted state of a record, not a live reference.
func (m *mockPrescriptionRepo) stored(id uuid.UUID) *prescription.PrescriptionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRecord(m.records[id])
}

func cloneRecord(p *prescription.PrescriptionRecord) *prescription.PrescriptionRecord {
	if p == nil {
		return nil
	}
	cp := *p
	cp.LineItems = make([]prescription.MedicationLineItem, len(p.LineItems))
	for i, it := range p.LineItems {
		ci := it
		if it.Confidence != nil {
			ci.Confidence = make(map[prescription.Field]int, len(it.Confidence))
			for k, v := range it.Confidence {
				ci.Confidence[k] = v
			}
		}
		if it.Verified != nil {
			ci.Verified = make(map[prescription.Field]bool, len(it.Verified))
			for k, v := range it.Verified {
				ci.Verified[k] = v
			}
		}
		ci.Edits = append([]prescription.FieldEdit(nil), it.Edits...)
		cp.LineItems[i] = ci
	}
	cp.Findings = make([]prescription.SafetyFinding, len(p.Findings))
	for i, f := range p.Findings {
		cf := f
		cf.Medications = append([]string(nil), f.Medications...)
		cp.Findings[i] = cf
	}
	cp.Clarifications = append([]prescription.Clarification(nil), p.Clarifications...)
	return &cp
}

type mockPatientRepo struct {
	patients map[uuid.UUID]*patient.Patient
}

func newMockPatientRepo(patients ...*patient.Patient) *mockPatientRepo {
	m := &mockPatientRepo{patients: map[uuid.UUID]*patient.Patient{}}
	for _, p := range patients {
		m.patients[p.ID] = p
	}
	return m
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, patient.ErrPatientNotFound
	}
	return p, nil
}

type mockAuditRepo struct {
	mu      sync.Mutex
	entries []*domain.AuditLog
}

func (m *mockAuditRepo) Create(_ context.Context, entry *domain.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// capturePublisher records decision events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []events.DecisionEvent
}

func (c *capturePublisher) PublishDecision(_ context.Context, ev events.DecisionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *capturePublisher) Close() error { return nil }

func (c *capturePublisher) published() []events.DecisionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.DecisionEvent(nil), c.events...)
}

type fakeTranscriber struct {
	transcript *provider.Transcript
	err        error
	gotImage   string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, imageRef string) (*provider.Transcript, error) {
	f.gotImage = imageRef
	if f.err != nil {
		return nil, f.err
	}
	return f.transcript, nil
}

type fakeInteractionChecker struct {
	concerns []provider.InteractionConcern
	err      error
	gotMeds  []string
}

func (f *fakeInteractionChecker) Check(_ context.Context, medications []string) ([]provider.InteractionConcern, error) {
	f.gotMeds = medications
	if f.err != nil {
		return nil, f.err
	}
	return f.concerns, nil
}

type fakeAllergyChecker struct {
	matches      []provider.AllergyMatch
	err          error
	gotAllergies []patient.Allergy
}

func (f *fakeAllergyChecker) Check(_ context.Context, medications []string, allergies []patient.Allergy) ([]provider.AllergyMatch, error) {
	f.gotAllergies = allergies
	if f.err != nil {
		return nil, f.err
	}
	return f.matches, nil
}

type fakeContraindicationChecker struct {
	concerns      []provider.ContraindicationConcern
	err           error
	gotConditions []string
	gotPregnant   bool
}

func (f *fakeContraindicationChecker) Check(_ context.Context, medications []string, conditions []string, pregnant bool) ([]provider.ContraindicationConcern, error) {
	f.gotConditions = conditions
	f.gotPregnant = pregnant
	if f.err != nil {
		return nil, f.err
	}
	return f.concerns, nil
}

func newTestCollector() *metrics.Collector {
	return metrics.NewCollectorWith(prometheus.NewRegistry(), "rxgate_test")
}

func newTestAuditService() (*AuditService, *mockAuditRepo) {
	repo := &mockAuditRepo{}
	return NewAuditService(repo, zap.NewNop(), newTestCollector()), repo
}
