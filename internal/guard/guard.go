// Package guard gates scaling actions with cooldowns and a per-policy
// circuit breaker. The guard holds no state of its own: every check and
// transition is a pure function of the stored target state, the policy,
// and the caller's clock, so the derived machine survives restarts.
package guard

import (
	"math"
	"time"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/interfaces"
)

// Block reasons, in precedence order.
const (
	ReasonSuspended         = "suspended"
	ReasonCircuitOpen       = "circuit_open"
	ReasonCooldownGeneral   = "cooldown_general"
	ReasonCooldownScaleUp   = "cooldown_scale_up"
	ReasonCooldownScaleDown = "cooldown_scale_down"
)

// Verdict is the outcome of a guard check. Reason is empty when Allowed.
type Verdict struct {
	Allowed bool
	Reason  string
	// Until is the expiry of the blocking window, when one applies.
	// Suspension has no expiry.
	Until time.Time
}

func allowed() Verdict { return Verdict{Allowed: true} }

func blocked(reason string, until time.Time) Verdict {
	return Verdict{Reason: reason, Until: until}
}

// Check reports whether the given action may execute now. Precedence:
// suspension, then the open circuit, then the general cooldown, then the
// cooldown matching the action's direction. A no-op action is always
// allowed; the guard only gates mutations.
func Check(state interfaces.TargetState, action interfaces.Action, now time.Time) Verdict {
	if action == interfaces.ActionNoOp {
		return allowed()
	}
	if state.Suspended {
		return blocked(ReasonSuspended, time.Time{})
	}
	if state.CircuitOpenUntil.After(now) {
		return blocked(ReasonCircuitOpen, state.CircuitOpenUntil)
	}
	if state.CooldownUntil.After(now) {
		return blocked(ReasonCooldownGeneral, state.CooldownUntil)
	}
	switch action {
	case interfaces.ActionScaleUp:
		if state.ScaleUpCooldownUntil.After(now) {
			return blocked(ReasonCooldownScaleUp, state.ScaleUpCooldownUntil)
		}
	case interfaces.ActionScaleDown:
		if state.ScaleDownCooldownUntil.After(now) {
			return blocked(ReasonCooldownScaleDown, state.ScaleDownCooldownUntil)
		}
	}
	return allowed()
}

// AfterAction returns the state as it should be persisted after an action
// was executed against the backend. The direction cooldown and the general
// cooldown both start; the error streak and circuit reset, since a
// successful mutation proves the path healthy again.
func AfterAction(state interfaces.TargetState, p interfaces.Policy, action interfaces.Action, now time.Time) interfaces.TargetState {
	switch action {
	case interfaces.ActionScaleUp:
		if p.ScaleUpCooldown > 0 {
			state.ScaleUpCooldownUntil = now.Add(p.ScaleUpCooldown)
		}
	case interfaces.ActionScaleDown:
		if p.ScaleDownCooldown > 0 {
			state.ScaleDownCooldownUntil = now.Add(p.ScaleDownCooldown)
		}
	default:
		return state
	}
	if p.GeneralCooldown > 0 {
		state.CooldownUntil = now.Add(p.GeneralCooldown)
	}
	state.ConsecutiveErrors = 0
	state.CircuitOpenUntil = time.Time{}
	return state
}

// AfterError records one failed evaluation. Once the streak reaches the
// policy's threshold the circuit opens; each re-opening while the streak
// persists widens the window geometrically up to the configured cap, so a
// flapping dependency backs the loop off instead of hammering it.
func AfterError(state interfaces.TargetState, p interfaces.Policy, now time.Time) interfaces.TargetState {
	state.ConsecutiveErrors++
	if p.CircuitBreakerThreshold <= 0 || state.ConsecutiveErrors < p.CircuitBreakerThreshold {
		return state
	}
	state.CircuitOpenUntil = now.Add(openWindow(p, state.ConsecutiveErrors))
	return state
}

// AfterSuccess clears the error streak and any open circuit after an
// evaluation that completed without error, whether or not it acted.
func AfterSuccess(state interfaces.TargetState) interfaces.TargetState {
	state.ConsecutiveErrors = 0
	state.CircuitOpenUntil = time.Time{}
	return state
}

// AfterNoOp is AfterSuccess plus the general cooldown. No-op is still a
// decision outcome: starting the general cooldown here is what damps the
// loop under rapid re-evaluation intervals, so a capacity that just
// settled is not immediately re-disturbed by the next tick.
func AfterNoOp(state interfaces.TargetState, p interfaces.Policy, now time.Time) interfaces.TargetState {
	state = AfterSuccess(state)
	if p.GeneralCooldown > 0 {
		state.CooldownUntil = now.Add(p.GeneralCooldown)
	}
	return state
}

// openWindow computes base * factor^trips, where trips counts errors past
// the threshold, clamped to the policy's maximum open duration.
func openWindow(p interfaces.Policy, streak int) time.Duration {
	window := p.CircuitBaseOpen
	factor := p.CircuitBackoffFactor
	if factor < 1 {
		factor = 1
	}
	trips := streak - p.CircuitBreakerThreshold
	if trips > 0 && factor > 1 {
		scaled := float64(window) * math.Pow(factor, float64(trips))
		if scaled > float64(p.CircuitMaxOpen) || scaled < 0 {
			return p.CircuitMaxOpen
		}
		window = time.Duration(scaled)
	}
	if p.CircuitMaxOpen > 0 && window > p.CircuitMaxOpen {
		window = p.CircuitMaxOpen
	}
	return window
}
