// Package repository implements the domain repositories on Postgres through
// gorm. Optimistic concurrency lives here: updates are conditional on the
// version the record was loaded with.
package repository

import (
	"time"

	"github.com/metapharm/rxgate/pkg/metrics"
)

func observe(collector *metrics.Collector, operation, table string, start time.Time) {
	collector.DBQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
}
