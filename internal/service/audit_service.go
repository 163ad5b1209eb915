package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/metapharm/rxgate/internal/domain"
	"github.com/metapharm/rxgate/pkg/metrics"
)

type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
}

type AuditService struct {
	repo    AuditRepository
	log     *zap.Logger
	metrics *metrics.Collector
	entries chan *domain.AuditLog
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

const auditBufferSize = 10_000

func NewAuditService(repo AuditRepository, log *zap.Logger, collector *metrics.Collector) *AuditService {
	svc := &AuditService{
		repo:    repo,
		log:     log,
		metrics: collector,
		entries: make(chan *domain.AuditLog, auditBufferSize),
		done:    make(chan struct{}),
	}
	go svc.worker()
	return svc
}

// LogAsync enqueues an audit entry for async persistence.
// If the buffer is full, the entry is dropped and a warning is emitted.
func (s *AuditService) LogAsync(ctx context.Context, entry AuditEntry) {
	if entry.RequestID == "" {
		entry.RequestID = domain.RequestIDFromContext(ctx)
	}

	al := &domain.AuditLog{
		UserID:       entry.UserID,
		UserRole:     entry.UserRole,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		IPAddress:    entry.IPAddress,
		RequestID:    entry.RequestID,
		Metadata:     entry.Metadata,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.metrics.AuditBufferDropped.Inc()
		s.log.Warn("audit service shut down, dropping entry",
			zap.String("action", string(entry.Action)),
			zap.String("resource", entry.ResourceType),
		)
		return
	}

	select {
	case s.entries <- al:
	default:
		s.metrics.AuditBufferDropped.Inc()
		s.log.Warn("audit log buffer full, dropping entry",
			zap.String("action", string(entry.Action)),
			zap.String("resource", entry.ResourceType),
		)
	}
}

// Shutdown stops intake, drains buffered entries and waits for the worker.
// It is idempotent, and LogAsync after Shutdown drops instead of panicking.
func (s *AuditService) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.entries)
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-time.After(10 * time.Second):
		s.log.Warn("audit service shutdown timed out; some entries may be lost")
	}
}

func (s *AuditService) worker() {
	defer close(s.done)
	for entry := range s.entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.repo.Create(ctx, entry); err != nil {
			s.log.Error("failed to persist audit log", zap.Error(err))
		} else {
			s.metrics.AuditEntriesTotal.Inc()
		}
		cancel()
	}
}
