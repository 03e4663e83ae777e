package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/interfaces"
)

// Insert appends a scaling activity. A duplicate activity key returns
// ErrDuplicateActivity; the caller decides whether that is benign.
func (s *Store) Insert(ctx context.Context, a interfaces.Activity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scaling_activities (
			id, policy_id, activity_key, requested_at, action, delta,
			desired_capacity, status, response, error_message,
			eval_qps, eval_capacity, target_qps
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.PolicyID, a.ActivityKey,
		a.RequestedAt.UTC().Format(time.RFC3339Nano),
		string(a.Action), a.Delta, a.DesiredCapacity, string(a.Status),
		nullableString(a.Response), nullableString(a.ErrorMessage),
		a.EvalQPS, a.EvalCapacity, a.TargetQPS,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("activity key %q: %w", a.ActivityKey, interfaces.ErrDuplicateActivity)
	}
	if err != nil {
		return fmt.Errorf("insert activity %q: %w", a.ActivityKey, err)
	}
	return nil
}

// UpdateActivityStatus moves a recorded activity to a final status, e.g.
// from accepted to successful once the backend activity settles.
func (s *Store) UpdateActivityStatus(ctx context.Context, id string, status interfaces.ActivityStatus, errorMessage string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scaling_activities SET status = ?, error_message = ? WHERE id = ?`,
		string(status), nullableString(errorMessage), id)
	if err != nil {
		return fmt.Errorf("update activity %s status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update activity %s status: rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("update activity %s status: %w", id, sql.ErrNoRows)
	}
	return nil
}

// RecentActivities returns the newest activities for a policy, newest first.
func (s *Store) RecentActivities(ctx context.Context, policyID int64, limit int) ([]interfaces.Activity, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, policy_id, activity_key, requested_at, action, delta,
		       desired_capacity, status, response, error_message,
		       eval_qps, eval_capacity, target_qps
		FROM scaling_activities WHERE policy_id = ?
		ORDER BY requested_at DESC LIMIT ?
	`, policyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activities for policy %d: %w", policyID, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var activities []interfaces.Activity
	for rows.Next() {
		var a interfaces.Activity
		var requestedAt, action, status string
		var response, errorMessage sql.NullString

		err := rows.Scan(&a.ID, &a.PolicyID, &a.ActivityKey, &requestedAt, &action,
			&a.Delta, &a.DesiredCapacity, &status, &response, &errorMessage,
			&a.EvalQPS, &a.EvalCapacity, &a.TargetQPS)
		if err != nil {
			return nil, fmt.Errorf("list activities for policy %d: %w", policyID, err)
		}

		a.RequestedAt, err = time.Parse(time.RFC3339Nano, requestedAt)
		if err != nil {
			return nil, fmt.Errorf("list activities for policy %d: parse requested_at: %w", policyID, err)
		}
		a.Action = interfaces.Action(action)
		a.Status = interfaces.ActivityStatus(status)
		a.Response = response.String
		a.ErrorMessage = errorMessage.String
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list activities for policy %d: %w", policyID, err)
	}
	return activities, nil
}

// InsertError appends an error record. The context map is stored as JSON.
func (s *Store) InsertError(ctx context.Context, rec interfaces.ErrorRecord) error {
	var contextJSON any
	if len(rec.Context) > 0 {
		encoded, err := json.Marshal(rec.Context)
		if err != nil {
			return fmt.Errorf("insert error record: encode context: %w", err)
		}
		contextJSON = string(encoded)
	}

	var policyID any
	if rec.PolicyID != 0 {
		policyID = rec.PolicyID
	}

	occurredAt := rec.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO errors (policy_id, source, message, context, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`, policyID, rec.Source, rec.Message, contextJSON, occurredAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert error record from %q: %w", rec.Source, err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
