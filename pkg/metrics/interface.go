package metrics

import "context"

// Collector is the metrics surface the engine reports to. The
// Prometheus-backed collector is the production implementation; Noop is
// the default when observability isn't wired.
type Collector interface {
	RecordOperation(ctx context.Context, operation string, status string, durationMs int64)
	RecordStage(ctx context.Context, operation string, stage string, durationMs int64)
	RecordError(ctx context.Context, operation string, errorType string)
	SetStorageCount(ctx context.Context, storageType string, count int64)
}
