// Package interfaces defines the domain types and collaborator contracts
// shared across the autoscaler: policies, target state, decisions, activity
// records, and the store/backend interfaces the evaluation pipeline consumes.
package interfaces

import (
	"time"
)

// Action is the direction of a scaling decision.
type Action string

const (
	ActionScaleUp   Action = "scale_up"
	ActionScaleDown Action = "scale_down"
	ActionNoOp      Action = "no_op"
)

// ScalingMode selects the decision algorithm for a policy.
type ScalingMode string

const (
	// ModeDynamic sizes the group directly from the metric:
	// desired = clamp(ceil(qps / target), min, max).
	ModeDynamic ScalingMode = "dynamic"

	// ModeThreshold is the legacy fixed-step algorithm: compare QPS per
	// instance against ratio thresholds and step by a configured increment.
	ModeThreshold ScalingMode = "threshold"
)

// Policy pairs one load source with one capacity group and carries the
// scaling rules for that pairing. Policies are configured by an operator and
// are read-only to the evaluation pipeline.
type Policy struct {
	ID   int64
	Name string

	// LoadSourceRef identifies where QPS comes from. The scheme prefix
	// selects the metric source: "alb:<resource-id>" for CloudMonitor,
	// "promql:<query>" for Prometheus.
	LoadSourceRef string

	// CapacityGroupRef is the scaling group managed by this policy.
	CapacityGroupRef string

	Region string

	// TargetQPSPerInstance is the load one instance should carry. Must be > 0.
	TargetQPSPerInstance float64

	Mode ScalingMode

	// Threshold-mode tuning. ScaleUpThresholdRatio must be strictly greater
	// than ScaleDownThresholdRatio; validated at policy load, not by the engine.
	ScaleUpThresholdRatio   float64
	ScaleDownThresholdRatio float64
	ScaleUpIncrement        int
	ScaleDownDecrement      int

	// AllowScaleToZero permits threshold mode to step below one instance.
	// Dynamic mode scale-to-zero is governed by the group's min bound instead.
	AllowScaleToZero bool

	ScaleUpCooldown   time.Duration
	ScaleDownCooldown time.Duration
	GeneralCooldown   time.Duration

	// MetricPeriod is both the QPS averaging window and the activity-key
	// time bucket granularity.
	MetricPeriod time.Duration

	// Circuit breaker tuning. The open window starts at CircuitBaseOpen and
	// multiplies by CircuitBackoffFactor on consecutive trips, capped at
	// CircuitMaxOpen. A factor of 1.0 gives a fixed window.
	CircuitBreakerThreshold int
	CircuitBaseOpen         time.Duration
	CircuitBackoffFactor    float64
	CircuitMaxOpen          time.Duration

	DryRun  bool
	Enabled bool
}

// TargetState is the per-policy bookkeeping mutated after every evaluation.
// The guard never stores a state enum: the logical state (cooldown, circuit
// open, suspended) is derived from these fields at read time.
type TargetState struct {
	PolicyID int64

	LastEvaluatedAt time.Time

	// CooldownUntil is the general cooldown set after any decision outcome.
	CooldownUntil          time.Time
	ScaleUpCooldownUntil   time.Time
	ScaleDownCooldownUntil time.Time

	ConsecutiveErrors int
	CircuitOpenUntil  time.Time

	// Suspended is an operator flag; it overrides everything and has no
	// automatic exit.
	Suspended bool

	LatestQPS      float64
	LatestCapacity int
}

// Bounds are the capacity limits of a scaling group, fetched fresh each
// evaluation and never cached across cycles.
type Bounds struct {
	Min int
	Max int
}

// Decision is the transient output of the decision engine. It is never
// persisted directly; the recorder converts it into an Activity.
type Decision struct {
	Action          Action
	Delta           int
	DesiredCapacity int
	ReasonCode      string
	MetricValue     float64

	// MetricPerInstance is QPS divided by current capacity (capacity floored
	// at one to avoid division by zero).
	MetricPerInstance float64

	// LimitedByBounds is true when the unclamped optimal capacity differed
	// from the clamped desired capacity.
	LimitedByBounds bool
}

// ActivityStatus is the lifecycle status of a recorded scaling activity.
type ActivityStatus string

const (
	StatusAccepted   ActivityStatus = "accepted"
	StatusInProgress ActivityStatus = "in_progress"
	StatusSuccessful ActivityStatus = "successful"
	StatusFailed     ActivityStatus = "failed"
	StatusSkipped    ActivityStatus = "skipped"
	StatusDryRun     ActivityStatus = "dry_run"
)

// Activity is one append-only audit record of an executed (or dry-run)
// scaling decision. ActivityKey is unique: re-recording the same decision
// within the same time bucket is rejected by the store as a benign duplicate.
type Activity struct {
	ID              string
	PolicyID        int64
	ActivityKey     string
	RequestedAt     time.Time
	Action          Action
	Delta           int
	DesiredCapacity int
	Status          ActivityStatus

	// Response holds the raw capacity-backend payload, if any.
	Response     string
	ErrorMessage string

	EvalQPS      float64
	EvalCapacity int
	TargetQPS    float64
}

// ErrorRecord is one append-only error log row. PolicyID is zero for
// system-wide errors not attributable to a single policy.
type ErrorRecord struct {
	PolicyID   int64
	Source     string
	Message    string
	Context    map[string]string
	OccurredAt time.Time
}

// EvaluationResult is the uniform per-policy outcome returned by the batch
// evaluator for aggregation and alerting.
type EvaluationResult struct {
	PolicyID         int64  `json:"policy_id"`
	PolicyName       string `json:"policy_name"`
	LoadSourceRef    string `json:"load_source_ref"`
	CapacityGroupRef string `json:"capacity_group_ref"`

	Action Action `json:"action"`
	Status string `json:"status"`
	Reason string `json:"reason"`

	QPS                  float64 `json:"qps"`
	Capacity             int     `json:"capacity"`
	QPSPerInstance       float64 `json:"qps_per_instance"`
	TargetQPSPerInstance float64 `json:"target_qps_per_instance"`
	DesiredCapacity      int     `json:"desired_capacity"`

	DryRun      bool   `json:"dry_run"`
	ActivityKey string `json:"activity_key,omitempty"`
	Error       string `json:"error,omitempty"`
}

// GroupStatus is the current shape of a scaling group as reported by the
// capacity backend.
type GroupStatus struct {
	GroupRef       string
	LifecycleState string
	Current        int
	Desired        int
	Min            int
	Max            int
}

// Bounds returns the min/max bounds carried by the status.
func (s GroupStatus) Bounds() Bounds {
	return Bounds{Min: s.Min, Max: s.Max}
}

// ActivityHandle is the capacity backend's reference to an asynchronous
// scaling operation.
type ActivityHandle struct {
	ActivityID string
	StatusCode string

	// Raw is the backend response body for audit storage.
	Raw string
}
