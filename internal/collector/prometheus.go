package collector

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/interfaces"
)

// PrometheusSource evaluates raw PromQL queries against a Prometheus
// server. The query itself is the load source reference, so the operator
// controls windowing and aggregation (e.g. sum(rate(...[5m]))); the
// evaluation window configured on the policy is not applied again here.
type PrometheusSource struct {
	api v1.API
}

func NewPrometheusSource(serverURL string) (*PrometheusSource, error) {
	client, err := api.NewClient(api.Config{Address: serverURL})
	if err != nil {
		return nil, fmt.Errorf("creating prometheus client for %q: %w", serverURL, err)
	}
	return &PrometheusSource{api: v1.NewAPI(client)}, nil
}

func (s *PrometheusSource) Name() string { return "promql" }

// FetchQPS runs the query as an instant query at now. A vector result is
// averaged across its series; an empty result or a non-finite value maps to
// ErrMetricUnavailable.
func (s *PrometheusSource) FetchQPS(ctx context.Context, query string, _ time.Duration, now time.Time) (float64, error) {
	value, warnings, err := s.api.Query(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("prometheus query %q: %v: %w", query, err, interfaces.ErrMetricUnavailable)
	}
	if len(warnings) > 0 {
		logr.FromContextOrDiscard(ctx).V(1).Info("prometheus query returned warnings",
			"query", query, "warnings", warnings)
	}

	switch v := value.(type) {
	case model.Vector:
		if len(v) == 0 {
			return 0, fmt.Errorf("prometheus query %q returned no series: %w", query, interfaces.ErrMetricUnavailable)
		}
		var sum float64
		for _, sample := range v {
			sum += float64(sample.Value)
		}
		return finite(sum/float64(len(v)), query)
	case *model.Scalar:
		return finite(float64(v.Value), query)
	default:
		return 0, fmt.Errorf("prometheus query %q returned unsupported result type %s: %w",
			query, value.Type(), interfaces.ErrMetricUnavailable)
	}
}

func finite(v float64, query string) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("prometheus query %q returned non-finite value: %w", query, interfaces.ErrMetricUnavailable)
	}
	return v, nil
}
