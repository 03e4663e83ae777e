// Package evaluator runs the periodic evaluation pipeline: for every
// enabled policy it fetches the load metric and group status, asks the
// engine for a decision, applies the guard, executes allowed actions
// against the capacity backend, and records the outcome. Policies are
// evaluated in parallel with full failure isolation: one policy's broken
// load balancer never blocks another's scale-up.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/engine"
	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/guard"
	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/interfaces"
	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/recorder"
)

// Evaluation outcome statuses, used in results and as the metric outcome
// label.
const (
	OutcomeScaled    = "scaled"
	OutcomeDryRun    = "dry_run"
	OutcomeNoOp      = "no_op"
	OutcomeSkipped   = "skipped"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// Skip reasons not produced by the engine or guard.
const (
	ReasonLeaseHeld          = "lease_held"
	ReasonScalingInProgress  = "scaling_in_progress"
	ReasonMetricsUnavailable = "metrics_unavailable"
)

// Error sources for error records and counters.
const (
	SourceMetricSource    = "metric_source"
	SourceCapacityBackend = "capacity_backend"
	SourcePersistence     = "persistence"
)

// MetricFetcher resolves a load source reference to average QPS.
// *collector.Router satisfies it.
type MetricFetcher interface {
	FetchQPS(ctx context.Context, ref string, window time.Duration, now time.Time) (float64, error)
}

// Observer receives per-evaluation telemetry. *metrics.Emitter satisfies it.
type Observer interface {
	RecordEvaluation(result interfaces.EvaluationResult)
	RecordError(source string)
}

// Notifier delivers alerts for executed (or dry-run) actions.
// *alert.Notifier satisfies it; a nil *alert.Notifier is silent.
type Notifier interface {
	Notify(ctx context.Context, result interfaces.EvaluationResult) error
}

// Options tune a Batch evaluator.
type Options struct {
	// Parallelism bounds concurrent policy evaluations. Zero means 4.
	Parallelism int

	// LeaseTTL is how long a per-policy lease lives if never released.
	LeaseTTL time.Duration

	// DryRun forces every policy into dry-run regardless of its own flag.
	DryRun bool
}

// Batch evaluates all enabled policies once per Run call.
type Batch struct {
	policies interfaces.PolicyStore
	states   interfaces.StateStore
	leases   interfaces.LeaseStore
	errs     interfaces.ErrorStore

	recorder *recorder.Recorder
	metrics  MetricFetcher
	backend  interfaces.CapacityBackend
	observer Observer
	notifier Notifier

	opts   Options
	holder string
	now    func() time.Time
}

func New(
	policies interfaces.PolicyStore,
	states interfaces.StateStore,
	leases interfaces.LeaseStore,
	errs interfaces.ErrorStore,
	rec *recorder.Recorder,
	metrics MetricFetcher,
	backend interfaces.CapacityBackend,
	observer Observer,
	notifier Notifier,
	opts Options,
) *Batch {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 90 * time.Second
	}
	return &Batch{
		policies: policies,
		states:   states,
		leases:   leases,
		errs:     errs,
		recorder: rec,
		metrics:  metrics,
		backend:  backend,
		observer: observer,
		notifier: notifier,
		opts:     opts,
		holder:   "albscaler-" + uuid.NewString(),
		now:      time.Now,
	}
}

// ForceDryRun switches the whole batch into dry-run mode, as if every
// policy carried the flag.
func (b *Batch) ForceDryRun() {
	b.opts.DryRun = true
}

// Run evaluates every enabled policy and returns one result per policy, in
// the order the store listed them. Only listing policies can fail the
// whole run; everything after that is isolated per policy.
func (b *Batch) Run(ctx context.Context) ([]interfaces.EvaluationResult, error) {
	log := logr.FromContextOrDiscard(ctx)

	policies, err := b.policies.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing enabled policies: %w", err)
	}
	if len(policies) == 0 {
		log.V(1).Info("no enabled policies to evaluate")
		return nil, nil
	}

	results := make([]interfaces.EvaluationResult, len(policies))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(b.opts.Parallelism)

	for i, policy := range policies {
		group.Go(func() error {
			results[i] = b.evaluateOne(groupCtx, policy)
			return nil
		})
	}
	// Workers never return errors; the wait is for completion only.
	_ = group.Wait()

	for _, result := range results {
		if b.observer != nil {
			b.observer.RecordEvaluation(result)
		}
		log.Info("policy evaluated",
			"policy", result.PolicyName,
			"status", result.Status,
			"action", result.Action,
			"reason", result.Reason,
			"qps", result.QPS,
			"capacity", result.Capacity,
			"desired", result.DesiredCapacity)
	}
	return results, nil
}

// evaluateOne runs the full pipeline for a single policy. All failure
// paths return a result; they never propagate an error to the batch.
func (b *Batch) evaluateOne(ctx context.Context, policy interfaces.Policy) interfaces.EvaluationResult {
	now := b.now()

	result := interfaces.EvaluationResult{
		PolicyID:             policy.ID,
		PolicyName:           policy.Name,
		LoadSourceRef:        policy.LoadSourceRef,
		CapacityGroupRef:     policy.CapacityGroupRef,
		Action:               interfaces.ActionNoOp,
		TargetQPSPerInstance: policy.TargetQPSPerInstance,
		DryRun:               b.dryRun(policy),
	}

	acquired, err := b.leases.Acquire(ctx, policy.ID, b.holder, b.opts.LeaseTTL, now)
	if err != nil {
		return b.fail(ctx, policy, result, SourcePersistence, fmt.Errorf("acquiring lease: %w", err))
	}
	if !acquired {
		result.Status = OutcomeSkipped
		result.Reason = ReasonLeaseHeld
		return result
	}
	defer func() {
		if err := b.leases.Release(ctx, policy.ID, b.holder); err != nil {
			logr.FromContextOrDiscard(ctx).Error(err, "releasing evaluation lease", "policy", policy.Name)
		}
	}()

	state, err := b.states.Get(ctx, policy.ID)
	if err != nil {
		return b.fail(ctx, policy, result, SourcePersistence, fmt.Errorf("loading target state: %w", err))
	}

	// Suspension and an open circuit skip the whole pipeline, including
	// the external fetches: the circuit exists to stop hammering a failing
	// dependency, so it must short-circuit before the API calls.
	if state.Suspended {
		return b.skipEarly(ctx, policy, state, result, guard.ReasonSuspended, now)
	}
	if state.CircuitOpenUntil.After(now) {
		return b.skipEarly(ctx, policy, state, result, guard.ReasonCircuitOpen, now)
	}

	inProgress, err := b.backend.ScalingInProgress(ctx, policy.CapacityGroupRef)
	if err != nil {
		return b.failWithState(ctx, policy, state, result, SourceCapacityBackend, now, err)
	}
	if inProgress {
		return b.skipEarly(ctx, policy, state, result, ReasonScalingInProgress, now)
	}

	status, err := b.backend.GroupStatus(ctx, policy.CapacityGroupRef)
	if err != nil {
		return b.failWithState(ctx, policy, state, result, SourceCapacityBackend, now, err)
	}
	result.Capacity = status.Current

	qps, err := b.metrics.FetchQPS(ctx, policy.LoadSourceRef, policy.MetricPeriod, now)
	if err != nil {
		result.Reason = ReasonMetricsUnavailable
		return b.failWithState(ctx, policy, state, result, SourceMetricSource, now, err)
	}
	result.QPS = qps

	decision := engine.Decide(policy, qps, status.Current, status.Bounds())
	result.Action = decision.Action
	result.Reason = decision.ReasonCode
	result.QPSPerInstance = decision.MetricPerInstance
	result.DesiredCapacity = decision.DesiredCapacity

	// Observational fields update on every completed evaluation, whatever
	// the guard says next.
	state.LastEvaluatedAt = now
	state.LatestQPS = qps
	state.LatestCapacity = status.Current

	if decision.Action == interfaces.ActionNoOp {
		result.Status = OutcomeNoOp
		state = guard.AfterNoOp(state, policy, now)
		b.persistState(ctx, policy, state, &result)
		return result
	}

	if verdict := guard.Check(state, decision.Action, now); !verdict.Allowed {
		result.Status = OutcomeSkipped
		result.Reason = verdict.Reason
		activity, duplicate, err := b.recorder.Write(ctx, recorder.Record{
			Policy:      policy,
			Decision:    decision,
			Status:      interfaces.StatusSkipped,
			RequestedAt: now,
			Capacity:    status.Current,
		})
		if err != nil {
			b.recordError(ctx, policy, SourcePersistence, err)
		} else if !duplicate {
			result.ActivityKey = activity.ActivityKey
		}
		state = guard.AfterSuccess(state)
		b.persistState(ctx, policy, state, &result)
		return result
	}

	if b.dryRun(policy) {
		result.Status = OutcomeDryRun
		activity, duplicate, err := b.recorder.Write(ctx, recorder.Record{
			Policy:      policy,
			Decision:    decision,
			Status:      interfaces.StatusDryRun,
			RequestedAt: now,
			Capacity:    status.Current,
		})
		if err != nil {
			b.recordError(ctx, policy, SourcePersistence, err)
		} else if duplicate {
			result.Status = OutcomeDuplicate
		} else {
			result.ActivityKey = activity.ActivityKey
		}
		// Dry runs do not start cooldowns: nothing actually changed.
		state = guard.AfterSuccess(state)
		b.persistState(ctx, policy, state, &result)
		return result
	}

	handle, execErr := b.backend.SetDesiredCapacity(ctx, policy.CapacityGroupRef, decision.DesiredCapacity)
	if execErr != nil {
		result.Status = OutcomeFailed
		result.Error = execErr.Error()
		if _, _, err := b.recorder.Write(ctx, recorder.Record{
			Policy:       policy,
			Decision:     decision,
			Status:       interfaces.StatusFailed,
			RequestedAt:  now,
			ErrorMessage: execErr.Error(),
			Capacity:     status.Current,
		}); err != nil {
			b.recordError(ctx, policy, SourcePersistence, err)
		}
		b.recordError(ctx, policy, SourceCapacityBackend, execErr)
		state = guard.AfterError(state, policy, now)
		b.persistState(ctx, policy, state, &result)
		return result
	}

	result.Status = OutcomeScaled
	activity, duplicate, err := b.recorder.Write(ctx, recorder.Record{
		Policy:      policy,
		Decision:    decision,
		Status:      interfaces.StatusAccepted,
		RequestedAt: now,
		Response:    handle.Raw,
		Capacity:    status.Current,
	})
	if err != nil {
		b.recordError(ctx, policy, SourcePersistence, err)
	} else if duplicate {
		result.Status = OutcomeDuplicate
	} else {
		result.ActivityKey = activity.ActivityKey
	}

	state = guard.AfterAction(state, policy, decision.Action, now)
	b.persistState(ctx, policy, state, &result)

	if b.notifier != nil {
		if err := b.notifier.Notify(ctx, result); err != nil {
			logr.FromContextOrDiscard(ctx).Error(err, "sending alert", "policy", policy.Name)
		}
	}
	return result
}

// skipEarly finalizes an evaluation that never reached the decision
// engine: only the evaluation timestamp moves.
func (b *Batch) skipEarly(ctx context.Context, policy interfaces.Policy, state interfaces.TargetState, result interfaces.EvaluationResult, reason string, now time.Time) interfaces.EvaluationResult {
	result.Status = OutcomeSkipped
	result.Reason = reason
	state.LastEvaluatedAt = now
	b.persistState(ctx, policy, state, &result)
	return result
}

// failWithState records the failure both as an error record and in the
// target state's error streak, possibly tripping the circuit.
func (b *Batch) failWithState(ctx context.Context, policy interfaces.Policy, state interfaces.TargetState, result interfaces.EvaluationResult, source string, now time.Time, err error) interfaces.EvaluationResult {
	result.Status = OutcomeFailed
	result.Error = err.Error()
	if result.Reason == "" {
		result.Reason = source
	}
	b.recordError(ctx, policy, source, err)
	state.LastEvaluatedAt = now
	state = guard.AfterError(state, policy, now)
	b.persistState(ctx, policy, state, &result)
	return result
}

// fail handles failures that happen before target state is loaded.
func (b *Batch) fail(ctx context.Context, policy interfaces.Policy, result interfaces.EvaluationResult, source string, err error) interfaces.EvaluationResult {
	result.Status = OutcomeFailed
	result.Reason = source
	result.Error = err.Error()
	b.recordError(ctx, policy, source, err)
	return result
}

func (b *Batch) persistState(ctx context.Context, policy interfaces.Policy, state interfaces.TargetState, result *interfaces.EvaluationResult) {
	if err := b.states.Upsert(ctx, state); err != nil {
		b.recordError(ctx, policy, SourcePersistence, err)
		if result.Error == "" {
			result.Error = err.Error()
		}
	}
}

func (b *Batch) recordError(ctx context.Context, policy interfaces.Policy, source string, cause error) {
	logr.FromContextOrDiscard(ctx).Error(cause, "evaluation error", "policy", policy.Name, "source", source)
	if b.observer != nil {
		b.observer.RecordError(source)
	}
	record := interfaces.ErrorRecord{
		PolicyID:   policy.ID,
		Source:     source,
		Message:    cause.Error(),
		Context:    map[string]string{"policy": policy.Name, "group": policy.CapacityGroupRef},
		OccurredAt: b.now(),
	}
	if err := b.errs.InsertError(ctx, record); err != nil && !errors.Is(err, context.Canceled) {
		logr.FromContextOrDiscard(ctx).Error(err, "persisting error record", "policy", policy.Name)
	}
}

func (b *Batch) dryRun(policy interfaces.Policy) bool {
	return b.opts.DryRun || policy.DryRun
}
