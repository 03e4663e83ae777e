package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/interfaces"
)

const policyColumns = `id, name, load_source_ref, capacity_group_ref, region,
	target_qps_per_instance, mode,
	scale_up_threshold_ratio, scale_down_threshold_ratio,
	scale_up_increment, scale_down_decrement, allow_scale_to_zero,
	scale_up_cooldown_seconds, scale_down_cooldown_seconds, general_cooldown_seconds,
	metric_period_seconds,
	circuit_breaker_threshold, circuit_base_open_seconds, circuit_backoff_factor, circuit_max_open_seconds,
	dry_run, enabled`

// UpsertPolicy inserts the policy or, when a policy with the same name
// exists, updates it in place. The policy's assigned ID is returned.
func (s *Store) UpsertPolicy(ctx context.Context, p interfaces.Policy) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resource_groups (
			name, load_source_ref, capacity_group_ref, region,
			target_qps_per_instance, mode,
			scale_up_threshold_ratio, scale_down_threshold_ratio,
			scale_up_increment, scale_down_decrement, allow_scale_to_zero,
			scale_up_cooldown_seconds, scale_down_cooldown_seconds, general_cooldown_seconds,
			metric_period_seconds,
			circuit_breaker_threshold, circuit_base_open_seconds, circuit_backoff_factor, circuit_max_open_seconds,
			dry_run, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			load_source_ref = excluded.load_source_ref,
			capacity_group_ref = excluded.capacity_group_ref,
			region = excluded.region,
			target_qps_per_instance = excluded.target_qps_per_instance,
			mode = excluded.mode,
			scale_up_threshold_ratio = excluded.scale_up_threshold_ratio,
			scale_down_threshold_ratio = excluded.scale_down_threshold_ratio,
			scale_up_increment = excluded.scale_up_increment,
			scale_down_decrement = excluded.scale_down_decrement,
			allow_scale_to_zero = excluded.allow_scale_to_zero,
			scale_up_cooldown_seconds = excluded.scale_up_cooldown_seconds,
			scale_down_cooldown_seconds = excluded.scale_down_cooldown_seconds,
			general_cooldown_seconds = excluded.general_cooldown_seconds,
			metric_period_seconds = excluded.metric_period_seconds,
			circuit_breaker_threshold = excluded.circuit_breaker_threshold,
			circuit_base_open_seconds = excluded.circuit_base_open_seconds,
			circuit_backoff_factor = excluded.circuit_backoff_factor,
			circuit_max_open_seconds = excluded.circuit_max_open_seconds,
			dry_run = excluded.dry_run,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`,
		p.Name, p.LoadSourceRef, p.CapacityGroupRef, p.Region,
		p.TargetQPSPerInstance, string(p.Mode),
		p.ScaleUpThresholdRatio, p.ScaleDownThresholdRatio,
		p.ScaleUpIncrement, p.ScaleDownDecrement, p.AllowScaleToZero,
		int64(p.ScaleUpCooldown.Seconds()), int64(p.ScaleDownCooldown.Seconds()), int64(p.GeneralCooldown.Seconds()),
		int64(p.MetricPeriod.Seconds()),
		p.CircuitBreakerThreshold, int64(p.CircuitBaseOpen.Seconds()), p.CircuitBackoffFactor, int64(p.CircuitMaxOpen.Seconds()),
		p.DryRun, p.Enabled, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert policy %q: %w", p.Name, err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM resource_groups WHERE name = ?`, p.Name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert policy %q: read id: %w", p.Name, err)
	}
	return id, nil
}

// ListEnabled returns the policies eligible for evaluation, ordered by name.
func (s *Store) ListEnabled(ctx context.Context) ([]interfaces.Policy, error) {
	return s.listPolicies(ctx, `SELECT `+policyColumns+` FROM resource_groups WHERE enabled = 1 ORDER BY name`)
}

// ListAll returns every stored policy, enabled or not, ordered by name.
func (s *Store) ListAll(ctx context.Context) ([]interfaces.Policy, error) {
	return s.listPolicies(ctx, `SELECT `+policyColumns+` FROM resource_groups ORDER BY name`)
}

// GetPolicyByName returns the named policy, or sql.ErrNoRows if absent.
func (s *Store) GetPolicyByName(ctx context.Context, name string) (interfaces.Policy, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM resource_groups WHERE name = ?`, name)
	p, err := scanPolicy(row)
	if err != nil {
		return interfaces.Policy{}, fmt.Errorf("get policy %q: %w", name, err)
	}
	return p, nil
}

// SetPolicyEnabled flips the enabled flag for the named policy.
func (s *Store) SetPolicyEnabled(ctx context.Context, name string, enabled bool) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE resource_groups SET enabled = ?, updated_at = ? WHERE name = ?`, enabled, now, name)
	if err != nil {
		return fmt.Errorf("set policy %q enabled=%t: %w", name, enabled, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set policy %q enabled=%t: rows affected: %w", name, enabled, err)
	}
	if n == 0 {
		return fmt.Errorf("set policy %q enabled=%t: %w", name, enabled, sql.ErrNoRows)
	}
	return nil
}

func (s *Store) listPolicies(ctx context.Context, query string) ([]interfaces.Policy, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var policies []interfaces.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("list policies: %w", err)
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	return policies, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (interfaces.Policy, error) {
	var p interfaces.Policy
	var mode string
	var upCooldown, downCooldown, generalCooldown, metricPeriod, circuitBase, circuitMax int64

	err := row.Scan(
		&p.ID, &p.Name, &p.LoadSourceRef, &p.CapacityGroupRef, &p.Region,
		&p.TargetQPSPerInstance, &mode,
		&p.ScaleUpThresholdRatio, &p.ScaleDownThresholdRatio,
		&p.ScaleUpIncrement, &p.ScaleDownDecrement, &p.AllowScaleToZero,
		&upCooldown, &downCooldown, &generalCooldown,
		&metricPeriod,
		&p.CircuitBreakerThreshold, &circuitBase, &p.CircuitBackoffFactor, &circuitMax,
		&p.DryRun, &p.Enabled,
	)
	if err != nil {
		return interfaces.Policy{}, err
	}

	p.Mode = interfaces.ScalingMode(mode)
	p.ScaleUpCooldown = time.Duration(upCooldown) * time.Second
	p.ScaleDownCooldown = time.Duration(downCooldown) * time.Second
	p.GeneralCooldown = time.Duration(generalCooldown) * time.Second
	p.MetricPeriod = time.Duration(metricPeriod) * time.Second
	p.CircuitBaseOpen = time.Duration(circuitBase) * time.Second
	p.CircuitMaxOpen = time.Duration(circuitMax) * time.Second
	return p, nil
}
