package interfaces

import (
	"context"
	"time"
)

// CapacityBackend mutates and inspects scaling groups. Implementations wrap
// the cloud provider's autoscaling API.
type CapacityBackend interface {
	// GroupStatus returns bounds and current capacity for the group. The
	// result is fetched fresh per evaluation, never cached.
	GroupStatus(ctx context.Context, groupRef string) (GroupStatus, error)

	// SetDesiredCapacity requests the group converge to desired instances.
	// The operation is asynchronous; the handle references the backend's
	// scaling activity.
	SetDesiredCapacity(ctx context.Context, groupRef string, desired int) (ActivityHandle, error)

	// ScalingInProgress reports whether the backend already has a scaling
	// activity running for the group.
	ScalingInProgress(ctx context.Context, groupRef string) (bool, error)
}

// PolicyStore lists the policies eligible for evaluation.
type PolicyStore interface {
	ListEnabled(ctx context.Context) ([]Policy, error)
}

// StateStore persists per-policy target state.
type StateStore interface {
	// Get returns the stored state for the policy, or a zero-value state
	// with PolicyID set when the policy has never been evaluated.
	Get(ctx context.Context, policyID int64) (TargetState, error)

	Upsert(ctx context.Context, state TargetState) error
}

// ActivityStore appends scaling activity records. Insert returns
// ErrDuplicateActivity when the activity key already exists.
type ActivityStore interface {
	Insert(ctx context.Context, activity Activity) error
}

// ErrorStore appends error records.
type ErrorStore interface {
	InsertError(ctx context.Context, record ErrorRecord) error
}

// LeaseStore hands out short-lived per-policy evaluation leases so
// overlapping batch invocations do not evaluate the same policy from stale
// state. A lease left unreleased expires on its own.
type LeaseStore interface {
	// Acquire takes the lease for the policy if it is free or expired.
	// Returns false without error when another holder has it.
	Acquire(ctx context.Context, policyID int64, holder string, ttl time.Duration, now time.Time) (bool, error)

	Release(ctx context.Context, policyID int64, holder string) error
}
