// Package metrics emits the autoscaler's own operational metrics in
// Prometheus format: per-policy QPS and desired capacity gauges plus
// evaluation and error counters. The exposed gauges let an operator chart
// what the loop saw against what it asked for.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/interfaces"
)

// Emitter owns a registry and the metric families registered on it. Each
// process builds exactly one Emitter; tests build their own so metric
// state never leaks between cases.
type Emitter struct {
	registry *prometheus.Registry

	desiredCapacity *prometheus.GaugeVec
	qps             *prometheus.GaugeVec
	qpsPerInstance  *prometheus.GaugeVec
	evaluations     *prometheus.CounterVec
	errors          *prometheus.CounterVec
}

func NewEmitter() *Emitter {
	e := &Emitter{
		registry: prometheus.NewRegistry(),
		desiredCapacity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "albscaler_desired_capacity",
			Help: "Desired instance count computed for the policy on its last evaluation",
		}, []string{"policy"}),
		qps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "albscaler_qps",
			Help: "Average QPS observed for the policy's load source on its last evaluation",
		}, []string{"policy"}),
		qpsPerInstance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "albscaler_qps_per_instance",
			Help: "Observed QPS divided by current capacity on the last evaluation",
		}, []string{"policy"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "albscaler_evaluations_total",
			Help: "Policy evaluations by outcome status",
		}, []string{"policy", "outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "albscaler_errors_total",
			Help: "Errors recorded during evaluation by source",
		}, []string{"source"}),
	}

	e.registry.MustRegister(
		e.desiredCapacity, e.qps, e.qpsPerInstance, e.evaluations, e.errors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return e
}

// RecordEvaluation publishes the gauges and outcome counter for one
// completed policy evaluation.
func (e *Emitter) RecordEvaluation(result interfaces.EvaluationResult) {
	e.qps.WithLabelValues(result.PolicyName).Set(result.QPS)
	e.qpsPerInstance.WithLabelValues(result.PolicyName).Set(result.QPSPerInstance)
	e.desiredCapacity.WithLabelValues(result.PolicyName).Set(float64(result.DesiredCapacity))
	e.evaluations.WithLabelValues(result.PolicyName, result.Status).Inc()
}

// RecordError counts one error attributed to a source (metric_source,
// capacity_backend, persistence, engine).
func (e *Emitter) RecordError(source string) {
	e.errors.WithLabelValues(source).Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (e *Emitter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
