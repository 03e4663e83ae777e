package collector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/interfaces"
)

// Router dispatches a load source reference to the source registered for
// its scheme prefix. References look like "alb:alb-xxxx" or
// "promql:sum(rate(http_requests_total[5m]))".
type Router struct {
	sources map[string]Source
}

func NewRouter(sources ...Source) *Router {
	r := &Router{sources: make(map[string]Source, len(sources))}
	for _, s := range sources {
		r.sources[s.Name()] = s
	}
	return r
}

// Register adds a source, replacing any existing source with the same name.
func (r *Router) Register(s Source) {
	r.sources[s.Name()] = s
}

// FetchQPS splits the reference into scheme and rest and delegates to the
// matching source. An unknown or malformed reference is a metric
// availability error, not a panic: the evaluator isolates it per policy.
func (r *Router) FetchQPS(ctx context.Context, ref string, window time.Duration, now time.Time) (float64, error) {
	scheme, rest, ok := strings.Cut(ref, ":")
	if !ok || scheme == "" || rest == "" {
		return 0, fmt.Errorf("load source ref %q has no scheme prefix: %w", ref, interfaces.ErrMetricUnavailable)
	}
	src, ok := r.sources[scheme]
	if !ok {
		return 0, fmt.Errorf("no metric source registered for scheme %q: %w", scheme, interfaces.ErrMetricUnavailable)
	}
	return src.FetchQPS(ctx, rest, window, now)
}
