package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/metapharm/rxgate/internal/domain"
)

func TestAuditService_WritesEntries(t *testing.T) {
	svc, repo := newTestAuditService()

	userID := uuid.New()
	svc.LogAsync(context.Background(), AuditEntry{
		UserID: userID, UserRole: "pharmacist",
		Action: domain.ActionPrescriptionApproved, ResourceType: "prescription",
		ResourceID: "abc", IPAddress: "10.0.0.1", Metadata: `{"items":1}`,
	})
	svc.Shutdown()

	if len(repo.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(repo.entries))
	}
	got := repo.entries[0]
	if got.UserID != userID || got.UserRole != domain.RolePharmacist || got.Action != domain.ActionPrescriptionApproved {
		t.Errorf("entry not mapped: %+v", got)
	}
	if got.Metadata != `{"items":1}` {
		t.Errorf("metadata = %q", got.Metadata)
	}
}

func TestAuditService_LogAfterShutdownDrops(t *testing.T) {
	repo := &mockAuditRepo{}
	collector := newTestCollector()
	svc := NewAuditService(repo, zap.NewNop(), collector)

	svc.Shutdown()

	// A late background writer (an expiry sweep racing shutdown) must be
	// dropped, not crash the process.
	svc.LogAsync(context.Background(), AuditEntry{
		UserID: uuid.New(), UserRole: "system",
		Action: domain.ActionPrescriptionExpired, ResourceType: "prescription",
	})

	if got := testutil.ToFloat64(collector.AuditBufferDropped); got != 1 {
		t.Errorf("dropped counter = %v, want 1", got)
	}
	if len(repo.entries) != 0 {
		t.Errorf("entries = %d, want 0", len(repo.entries))
	}

	svc.Shutdown() // second call is a no-op
}

// blockingAuditRepo parks the worker inside Create so a test can fill the
// buffer behind it.
type blockingAuditRepo struct {
	entered chan struct{}
	release chan struct{}
}

func (r *blockingAuditRepo) Create(_ context.Context, _ *domain.AuditLog) error {
	r.entered <- struct{}{}
	<-r.release
	return nil
}

func TestAuditService_DropsWhenSaturated(t *testing.T) {
	repo := &blockingAuditRepo{entered: make(chan struct{}), release: make(chan struct{})}
	collector := newTestCollector()
	svc := NewAuditService(repo, zap.NewNop(), collector)

	entry := AuditEntry{UserID: uuid.New(), UserRole: "system", Action: domain.ActionPrescriptionExpired, ResourceType: "prescription"}

	svc.LogAsync(context.Background(), entry)
	<-repo.entered // worker is now stuck writing the first entry

	for i := 0; i < auditBufferSize; i++ {
		svc.LogAsync(context.Background(), entry)
	}
	svc.LogAsync(context.Background(), entry) // buffer full, must drop

	if got := testutil.ToFloat64(collector.AuditBufferDropped); got != 1 {
		t.Errorf("dropped counter = %v, want 1", got)
	}

	close(repo.release)
	drained := make(chan struct{})
	go func() {
		for range repo.entered {
		}
		close(drained)
	}()
	svc.Shutdown()
	close(repo.entered)
	<-drained
}
