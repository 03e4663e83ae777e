// Package recorder writes the append-only scaling activity audit trail.
// Every record carries a deterministic activity key, so retried or
// overlapping evaluations that reach the same decision in the same time
// bucket collapse into a single row.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/interfaces"
)

// Key builds the idempotency key for an activity: policy, desired capacity,
// and the evaluation time truncated to the bucket width. Two evaluations of
// the same policy that want the same capacity within one bucket produce the
// same key. A non-positive bucket falls back to one minute so the key always
// has finite granularity.
func Key(policyID int64, desired int, at time.Time, bucket time.Duration) string {
	if bucket <= 0 {
		bucket = time.Minute
	}
	return fmt.Sprintf("%d:%d:%d", policyID, desired, at.UTC().Truncate(bucket).Unix())
}

// Recorder persists activities and downgrades duplicate keys to a benign
// outcome instead of an error.
type Recorder struct {
	activities interfaces.ActivityStore
}

func New(activities interfaces.ActivityStore) *Recorder {
	return &Recorder{activities: activities}
}

// Record carries everything the audit row needs beyond the decision itself.
type Record struct {
	Policy      interfaces.Policy
	Decision    interfaces.Decision
	Status      interfaces.ActivityStatus
	RequestedAt time.Time

	// Response is the raw backend payload, empty for dry runs and skips.
	Response string
	// ErrorMessage is set when Status is failed.
	ErrorMessage string
	// Capacity is the group's capacity at evaluation time.
	Capacity int
}

// Write inserts the activity. The returned activity has its ID and
// ActivityKey populated. duplicate is true when an identical decision was
// already recorded in this time bucket; the caller should treat that as an
// already-handled decision, not a failure.
func (r *Recorder) Write(ctx context.Context, rec Record) (interfaces.Activity, bool, error) {
	key := Key(rec.Policy.ID, rec.Decision.DesiredCapacity, rec.RequestedAt, rec.Policy.MetricPeriod)
	switch rec.Status {
	case interfaces.StatusSkipped, interfaces.StatusFailed:
		// Only completed actions claim the bare key. A skip or a failed
		// attempt must not keep a later execution of the same decision in
		// the same bucket from being recorded.
		key += ":" + string(rec.Status)
	}

	activity := interfaces.Activity{
		ID:              uuid.NewString(),
		PolicyID:        rec.Policy.ID,
		ActivityKey:     key,
		RequestedAt:     rec.RequestedAt.UTC(),
		Action:          rec.Decision.Action,
		Delta:           rec.Decision.Delta,
		DesiredCapacity: rec.Decision.DesiredCapacity,
		Status:          rec.Status,
		Response:        rec.Response,
		ErrorMessage:    rec.ErrorMessage,
		EvalQPS:         rec.Decision.MetricValue,
		EvalCapacity:    rec.Capacity,
		TargetQPS:       rec.Policy.TargetQPSPerInstance,
	}

	err := r.activities.Insert(ctx, activity)
	if errors.Is(err, interfaces.ErrDuplicateActivity) {
		logr.FromContextOrDiscard(ctx).V(1).Info("duplicate activity key, decision already recorded",
			"policy", rec.Policy.Name, "activityKey", activity.ActivityKey)
		return activity, true, nil
	}
	if err != nil {
		return activity, false, fmt.Errorf("inserting scaling activity for policy %q: %w", rec.Policy.Name, err)
	}
	return activity, false, nil
}
