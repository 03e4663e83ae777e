// Package collector provides pluggable QPS collection for the autoscaler.
//
// Every policy names its load source with a scheme-prefixed reference, and
// the Router dispatches the fetch to the source registered for the scheme:
//
//   - "alb:<load-balancer-id>": CloudMonitor QPS for a BytePlus ALB
//     instance, averaged over the policy's metric period.
//   - "promql:<query>": an instant PromQL query against a Prometheus
//     server, for load balancers scraped by an existing monitoring stack.
//
// # Key Components
//
// Source (interfaces.go):
//   - Name(): the scheme this source serves
//   - FetchQPS(): average QPS over a window ending at a given time
//
// Router (source.go):
//   - Splits the reference on its scheme prefix and delegates.
//   - An unknown scheme or missing data surfaces as ErrMetricUnavailable,
//     which the batch evaluator isolates to the owning policy.
//
// TimeSeries (types.go):
//   - Shared sample aggregation used by sources that return raw datapoints.
//
// The CloudMonitor source lives in internal/cloud next to the signed API
// client it depends on; the PromQL source lives here.
package collector
