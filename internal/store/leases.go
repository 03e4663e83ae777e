package store

import (
	"context"
	"fmt"
	"time"
)

// Acquire takes the evaluation lease for the policy if it is free, expired,
// or already held by the same holder. Returns false without error when
// another live holder has it.
func (s *Store) Acquire(ctx context.Context, policyID int64, holder string, ttl time.Duration, now time.Time) (bool, error) {
	// Expiry is compared numerically, so the lease column holds unix
	// nanoseconds rather than a formatted timestamp.
	expires := now.Add(ttl).UnixNano()

	// The conditional upsert is atomic under sqlite's single writer: the
	// update only fires when the existing lease is expired or ours.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO evaluation_leases (policy_id, holder, expires_at_unix_nano)
		VALUES (?, ?, ?)
		ON CONFLICT(policy_id) DO UPDATE SET
			holder = excluded.holder,
			expires_at_unix_nano = excluded.expires_at_unix_nano
		WHERE evaluation_leases.expires_at_unix_nano <= ? OR evaluation_leases.holder = excluded.holder
	`, policyID, holder, expires, now.UnixNano())
	if err != nil {
		return false, fmt.Errorf("acquire lease for policy %d: %w", policyID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease for policy %d: rows affected: %w", policyID, err)
	}
	return n > 0, nil
}

// Release frees the lease if this holder still owns it. Releasing a lease
// that expired and was taken over is a no-op, not an error.
func (s *Store) Release(ctx context.Context, policyID int64, holder string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM evaluation_leases WHERE policy_id = ? AND holder = ?`, policyID, holder)
	if err != nil {
		return fmt.Errorf("release lease for policy %d: %w", policyID, err)
	}
	return nil
}
