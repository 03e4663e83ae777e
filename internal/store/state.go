package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/interfaces"
)

// Get returns the stored target state for the policy. A policy that has
// never been evaluated gets a zero-value state with PolicyID set, so
// callers never distinguish "missing" from "fresh".
func (s *Store) Get(ctx context.Context, policyID int64) (interfaces.TargetState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT last_evaluated_at, cooldown_until, scale_up_cooldown_until,
		       scale_down_cooldown_until, consecutive_errors, circuit_open_until,
		       suspended, latest_qps, latest_capacity
		FROM resource_group_state WHERE policy_id = ?
	`, policyID)

	state := interfaces.TargetState{PolicyID: policyID}
	var lastEvaluated, cooldown, upCooldown, downCooldown, circuitOpen sql.NullString

	err := row.Scan(&lastEvaluated, &cooldown, &upCooldown, &downCooldown,
		&state.ConsecutiveErrors, &circuitOpen,
		&state.Suspended, &state.LatestQPS, &state.LatestCapacity)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return interfaces.TargetState{}, fmt.Errorf("get state for policy %d: %w", policyID, err)
	}

	for _, field := range []struct {
		src sql.NullString
		dst *time.Time
	}{
		{lastEvaluated, &state.LastEvaluatedAt},
		{cooldown, &state.CooldownUntil},
		{upCooldown, &state.ScaleUpCooldownUntil},
		{downCooldown, &state.ScaleDownCooldownUntil},
		{circuitOpen, &state.CircuitOpenUntil},
	} {
		t, err := timeFromDB(field.src)
		if err != nil {
			return interfaces.TargetState{}, fmt.Errorf("get state for policy %d: %w", policyID, err)
		}
		*field.dst = t
	}
	return state, nil
}

// Upsert writes the target state, replacing any previous row for the policy.
func (s *Store) Upsert(ctx context.Context, state interfaces.TargetState) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resource_group_state (
			policy_id, last_evaluated_at, cooldown_until,
			scale_up_cooldown_until, scale_down_cooldown_until,
			consecutive_errors, circuit_open_until, suspended,
			latest_qps, latest_capacity, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(policy_id) DO UPDATE SET
			last_evaluated_at = excluded.last_evaluated_at,
			cooldown_until = excluded.cooldown_until,
			scale_up_cooldown_until = excluded.scale_up_cooldown_until,
			scale_down_cooldown_until = excluded.scale_down_cooldown_until,
			consecutive_errors = excluded.consecutive_errors,
			circuit_open_until = excluded.circuit_open_until,
			suspended = excluded.suspended,
			latest_qps = excluded.latest_qps,
			latest_capacity = excluded.latest_capacity,
			updated_at = excluded.updated_at
	`,
		state.PolicyID,
		timeToDB(state.LastEvaluatedAt), timeToDB(state.CooldownUntil),
		timeToDB(state.ScaleUpCooldownUntil), timeToDB(state.ScaleDownCooldownUntil),
		state.ConsecutiveErrors, timeToDB(state.CircuitOpenUntil), state.Suspended,
		state.LatestQPS, state.LatestCapacity, now,
	)
	if err != nil {
		return fmt.Errorf("upsert state for policy %d: %w", state.PolicyID, err)
	}
	return nil
}

// SetSuspended flips the operator suspension flag, creating the state row
// if the policy has never been evaluated.
func (s *Store) SetSuspended(ctx context.Context, policyID int64, suspended bool) error {
	state, err := s.Get(ctx, policyID)
	if err != nil {
		return err
	}
	state.Suspended = suspended
	return s.Upsert(ctx, state)
}
