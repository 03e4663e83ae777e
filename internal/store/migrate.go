package store

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is the latest schema version supported by the migrator.
const SchemaVersion = 1

// Migrate ensures the SQLite schema exists and is upgraded to SchemaVersion.
func Migrate(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("migrate: db is nil")
	}

	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY);`)
	if err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	var current int
	err = db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&current)
	if err != nil {
		return fmt.Errorf("migrate: read current version: %w", err)
	}
	if current >= SchemaVersion {
		return nil
	}

	transaction, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate: begin transaction: %w", err)
	}
	defer func() {
		_ = transaction.Rollback()
	}()

	_, err = transaction.Exec(`
		CREATE TABLE IF NOT EXISTS resource_groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			load_source_ref TEXT NOT NULL,
			capacity_group_ref TEXT NOT NULL,
			region TEXT NOT NULL,
			target_qps_per_instance REAL NOT NULL,
			mode TEXT NOT NULL,
			scale_up_threshold_ratio REAL NOT NULL,
			scale_down_threshold_ratio REAL NOT NULL,
			scale_up_increment INTEGER NOT NULL,
			scale_down_decrement INTEGER NOT NULL,
			allow_scale_to_zero INTEGER NOT NULL DEFAULT 0,
			scale_up_cooldown_seconds INTEGER NOT NULL,
			scale_down_cooldown_seconds INTEGER NOT NULL,
			general_cooldown_seconds INTEGER NOT NULL,
			metric_period_seconds INTEGER NOT NULL,
			circuit_breaker_threshold INTEGER NOT NULL,
			circuit_base_open_seconds INTEGER NOT NULL,
			circuit_backoff_factor REAL NOT NULL,
			circuit_max_open_seconds INTEGER NOT NULL,
			dry_run INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate: create resource_groups table: %w", err)
	}

	_, err = transaction.Exec(`
		CREATE TABLE IF NOT EXISTS resource_group_state (
			policy_id INTEGER PRIMARY KEY,
			last_evaluated_at TEXT NULL,
			cooldown_until TEXT NULL,
			scale_up_cooldown_until TEXT NULL,
			scale_down_cooldown_until TEXT NULL,
			consecutive_errors INTEGER NOT NULL DEFAULT 0,
			circuit_open_until TEXT NULL,
			suspended INTEGER NOT NULL DEFAULT 0,
			latest_qps REAL NOT NULL DEFAULT 0,
			latest_capacity INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			FOREIGN KEY(policy_id) REFERENCES resource_groups(id)
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate: create resource_group_state table: %w", err)
	}

	_, err = transaction.Exec(`
		CREATE TABLE IF NOT EXISTS scaling_activities (
			id TEXT PRIMARY KEY,
			policy_id INTEGER NOT NULL,
			activity_key TEXT NOT NULL UNIQUE,
			requested_at TEXT NOT NULL,
			action TEXT NOT NULL,
			delta INTEGER NOT NULL,
			desired_capacity INTEGER NOT NULL,
			status TEXT NOT NULL,
			response TEXT NULL,
			error_message TEXT NULL,
			eval_qps REAL NOT NULL,
			eval_capacity INTEGER NOT NULL,
			target_qps REAL NOT NULL,
			FOREIGN KEY(policy_id) REFERENCES resource_groups(id)
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate: create scaling_activities table: %w", err)
	}

	_, err = transaction.Exec(`
		CREATE TABLE IF NOT EXISTS errors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			policy_id INTEGER NULL,
			source TEXT NOT NULL,
			message TEXT NOT NULL,
			context TEXT NULL,
			occurred_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate: create errors table: %w", err)
	}

	_, err = transaction.Exec(`
		CREATE TABLE IF NOT EXISTS evaluation_leases (
			policy_id INTEGER PRIMARY KEY,
			holder TEXT NOT NULL,
			expires_at_unix_nano INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate: create evaluation_leases table: %w", err)
	}

	_, err = transaction.Exec(`CREATE INDEX IF NOT EXISTS idx_activities_policy_requested ON scaling_activities(policy_id, requested_at);`)
	if err != nil {
		return fmt.Errorf("migrate: create idx_activities_policy_requested: %w", err)
	}

	_, err = transaction.Exec(`CREATE INDEX IF NOT EXISTS idx_errors_policy_occurred ON errors(policy_id, occurred_at);`)
	if err != nil {
		return fmt.Errorf("migrate: create idx_errors_policy_occurred: %w", err)
	}

	_, err = transaction.Exec(`INSERT INTO schema_migrations(version) VALUES (?);`, SchemaVersion)
	if err != nil {
		return fmt.Errorf("migrate: record schema version: %w", err)
	}

	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("migrate: commit transaction: %w", err)
	}
	return nil
}
