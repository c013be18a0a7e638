package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR PRIMARY KEY,
		email VARCHAR NOT NULL,
		name VARCHAR NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS monitors (
		id VARCHAR PRIMARY KEY,
		user_id VARCHAR NOT NULL,
		name VARCHAR NOT NULL,
		url VARCHAR NOT NULL,
		check_interval VARCHAR NOT NULL,
		timeout_seconds INTEGER,
		retries INTEGER NOT NULL DEFAULT 0,
		channels VARCHAR NOT NULL DEFAULT '',
		state VARCHAR NOT NULL DEFAULT 'pending',
		last_checked_at TIMESTAMP,
		last_latency_ms BIGINT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS check_results (
		id VARCHAR PRIMARY KEY,
		monitor_id VARCHAR NOT NULL,
		state VARCHAR NOT NULL,
		latency_ms BIGINT,
		status_code INTEGER,
		error_message VARCHAR,
		error_kind VARCHAR,
		tls_days_remaining INTEGER,
		tls_expiry TIMESTAMP,
		timing_connect_ms BIGINT NOT NULL DEFAULT 0,
		timing_tls_handshake_ms BIGINT NOT NULL DEFAULT 0,
		timing_conn_acquired_ms BIGINT NOT NULL DEFAULT 0,
		timing_first_response_byte_ms BIGINT NOT NULL DEFAULT 0,
		checked_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS check_results_monitor_id_checked_at ON check_results (monitor_id, checked_at)`,
	`CREATE TABLE IF NOT EXISTS monitor_daily_stats (
		monitor_id VARCHAR NOT NULL,
		date DATE NOT NULL,
		total_checks BIGINT NOT NULL,
		avg_latency_ms BIGINT NOT NULL,
		min_latency_ms BIGINT NOT NULL,
		max_latency_ms BIGINT NOT NULL,
		uptime_rate DOUBLE NOT NULL,
		incidents BIGINT NOT NULL,
		PRIMARY KEY (monitor_id, date)
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id VARCHAR PRIMARY KEY,
		user_id VARCHAR NOT NULL,
		title VARCHAR NOT NULL,
		message VARCHAR NOT NULL,
		severity VARCHAR NOT NULL,
		monitor_id VARCHAR,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS notifications_user_id ON notifications (user_id)`,
	`CREATE TABLE IF NOT EXISTS webhooks (
		id VARCHAR PRIMARY KEY,
		user_id VARCHAR NOT NULL,
		name VARCHAR NOT NULL,
		url VARCHAR NOT NULL,
		secret VARCHAR,
		events VARCHAR NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id VARCHAR PRIMARY KEY,
		webhook_id VARCHAR NOT NULL,
		event_type VARCHAR NOT NULL,
		payload VARCHAR NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		response_status INTEGER,
		response_body VARCHAR,
		last_error VARCHAR,
		next_retry_at TIMESTAMP,
		status VARCHAR NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
}

var dropStatements = []string{
	`DROP TABLE IF EXISTS webhook_deliveries`,
	`DROP TABLE IF EXISTS webhooks`,
	`DROP TABLE IF EXISTS notifications`,
	`DROP TABLE IF EXISTS monitor_daily_stats`,
	`DROP TABLE IF EXISTS check_results`,
	`DROP TABLE IF EXISTS monitors`,
	`DROP TABLE IF EXISTS users`,
}

// Migrate creates the schema when up is true, and drops it otherwise.
// Every statement is idempotent.
func Migrate(db *sql.DB, ctx context.Context, up bool) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("getting db connection: %w", err)
	}
	defer conn.Close()

	statements := migrationStatements
	if !up {
		statements = dropStatements
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, statement := range statements {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("executing migration statement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}

	slog.DebugContext(ctx, "database migrated", slog.Bool("up", up), slog.Int("statements", len(statements)))
	return nil
}
