// Package engine computes scaling decisions. Decide is a pure function of
// the policy, the observed metric, the group's current capacity, and its
// bounds; it performs no I/O and consults no clocks. Cooldown and circuit
// gating live in the guard package, execution in the evaluator.
package engine

import (
	"math"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/interfaces"
)

// Reason codes attached to decisions.
const (
	ReasonBelowOptimal        = "capacity_below_optimal"
	ReasonAboveOptimal        = "capacity_above_optimal"
	ReasonAtOptimal           = "at_optimal_capacity"
	ReasonQPSAboveThreshold   = "qps_above_threshold"
	ReasonQPSBelowThreshold   = "qps_below_threshold"
	ReasonQPSWithinThresholds = "qps_within_thresholds"
	ReasonAtMaxCapacity       = "at_max_capacity"
	ReasonAtMinCapacity       = "at_min_capacity"
)

// Decide returns the scaling decision for one observation. metricValue is
// the averaged QPS over the policy's metric period; currentCapacity may be
// zero. Bounds are assumed fresh (0 <= min <= max).
func Decide(p interfaces.Policy, metricValue float64, currentCapacity int, bounds interfaces.Bounds) interfaces.Decision {
	if p.Mode == interfaces.ModeThreshold {
		return decideThreshold(p, metricValue, currentCapacity, bounds)
	}
	return decideDynamic(p, metricValue, currentCapacity, bounds)
}

// decideDynamic implements the HPA-style sizing rule:
// desired = clamp(ceil(qps / target), min, max).
//
// A zero metric with min = 0 legitimately drives the group to zero; callers
// that never want an empty group must configure min >= 1 on the group itself.
func decideDynamic(p interfaces.Policy, metricValue float64, currentCapacity int, bounds interfaces.Bounds) interfaces.Decision {
	optimal := int(math.Ceil(metricValue / p.TargetQPSPerInstance))
	desired := clamp(optimal, bounds.Min, bounds.Max)

	d := interfaces.Decision{
		Action:            interfaces.ActionNoOp,
		DesiredCapacity:   desired,
		ReasonCode:        ReasonAtOptimal,
		MetricValue:       metricValue,
		MetricPerInstance: perInstance(metricValue, currentCapacity),
		LimitedByBounds:   optimal != desired,
	}

	switch {
	case desired > currentCapacity:
		d.Action = interfaces.ActionScaleUp
		d.Delta = desired - currentCapacity
		d.ReasonCode = ReasonBelowOptimal
	case desired < currentCapacity:
		d.Action = interfaces.ActionScaleDown
		d.Delta = desired - currentCapacity
		d.ReasonCode = ReasonAboveOptimal
	}
	return d
}

// decideThreshold implements the legacy fixed-step rule: compare QPS per
// instance against the up/down thresholds and step by the configured
// increment, never crossing the group bounds. The scale-down floor is the
// group min, raised to one instance unless the policy allows scale-to-zero.
func decideThreshold(p interfaces.Policy, metricValue float64, currentCapacity int, bounds interfaces.Bounds) interfaces.Decision {
	qpsPerInstance := perInstance(metricValue, currentCapacity)
	upThreshold := p.TargetQPSPerInstance * p.ScaleUpThresholdRatio
	downThreshold := p.TargetQPSPerInstance * p.ScaleDownThresholdRatio

	d := interfaces.Decision{
		Action:            interfaces.ActionNoOp,
		DesiredCapacity:   currentCapacity,
		ReasonCode:        ReasonQPSWithinThresholds,
		MetricValue:       metricValue,
		MetricPerInstance: qpsPerInstance,
	}

	switch {
	case qpsPerInstance > upThreshold:
		if currentCapacity >= bounds.Max {
			d.ReasonCode = ReasonAtMaxCapacity
			d.LimitedByBounds = true
			return d
		}
		desired := currentCapacity + p.ScaleUpIncrement
		if desired > bounds.Max {
			desired = bounds.Max
			d.LimitedByBounds = true
		}
		d.Action = interfaces.ActionScaleUp
		d.DesiredCapacity = desired
		d.Delta = desired - currentCapacity
		d.ReasonCode = ReasonQPSAboveThreshold

	case qpsPerInstance < downThreshold:
		floor := bounds.Min
		if !p.AllowScaleToZero && floor < 1 {
			floor = 1
		}
		if currentCapacity <= floor {
			d.ReasonCode = ReasonAtMinCapacity
			d.LimitedByBounds = true
			return d
		}
		desired := currentCapacity - p.ScaleDownDecrement
		if desired < floor {
			desired = floor
			d.LimitedByBounds = true
		}
		d.Action = interfaces.ActionScaleDown
		d.DesiredCapacity = desired
		d.Delta = desired - currentCapacity
		d.ReasonCode = ReasonQPSBelowThreshold
	}
	return d
}

func perInstance(metricValue float64, capacity int) float64 {
	if capacity < 1 {
		capacity = 1
	}
	return metricValue / float64(capacity)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
