package collector

import (
	"context"
	"time"
)

// Source is the interface for pluggable QPS sources.
// Implementations include the CloudMonitor source and the PromQL source.
//
// A source receives the reference with its scheme prefix already stripped:
// for "alb:alb-xxxx" the CloudMonitor source sees "alb-xxxx", for
// "promql:<query>" the Prometheus source sees the raw query.
type Source interface {
	// Name returns the unique scheme of this source (e.g., "alb", "promql").
	Name() string

	// FetchQPS returns the average QPS for the reference over the window
	// ending at now. Returns an error wrapping ErrMetricUnavailable when
	// the source has no data for the window.
	FetchQPS(ctx context.Context, ref string, window time.Duration, now time.Time) (float64, error)
}
