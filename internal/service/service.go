// Package service implements the prescription review workflow: intake,
// AI transcription, safety evaluation, and pharmacist review decisions.
// Every operation runs under the acting user's identity and emits an audit
// entry; state changes go through the domain's guarded transitions and are
// saved with optimistic concurrency.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/metapharm/rxgate/internal/domain/prescription"
	"github.com/metapharm/rxgate/pkg/metrics"
)

// saveRecord persists a mutated record, translating a lost version race into
// a ConcurrencyConflictError for the caller. Operations do not retry; the
// client re-reads and decides.
func saveRecord(ctx context.Context, repo prescription.Repository, collector *metrics.Collector, rec *prescription.PrescriptionRecord) error {
	if err := repo.Save(ctx, rec); err != nil {
		if errors.Is(err, prescription.ErrVersionConflict) {
			collector.VersionConflicts.Inc()
			return &ConcurrencyConflictError{PrescriptionID: rec.ID, Version: rec.Version}
		}
		return fmt.Errorf("saving prescription: %w", err)
	}
	return nil
}

func auditMetadata(kv map[string]any) string {
	b, err := json.Marshal(kv)
	if err != nil {
		return "{}"
	}
	return string(b)
}
