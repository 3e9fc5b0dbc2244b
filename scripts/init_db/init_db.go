package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found — using system environment variables")
	}

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		dbGetEnv("DB_USER", "fleet_user"),
		dbGetEnv("DB_PASSWORD", "fleet_password"),
		dbGetEnv("DB_HOST", "localhost"),
		dbGetEnv("DB_PORT", "5432"),
		dbGetEnv("DB_NAME", "fleet_monitor"),
	)

	ctx := context.Background()

	fmt.Println("Connecting to TimescaleDB...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure TimescaleDB is running:\n  docker-compose up -d timescaledb", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	step1_extensions(ctx, conn)
	step2_directory_tables(ctx, conn)
	step3_exceptions_table(ctx, conn)
	step4_driver_action_tables(ctx, conn)
	step5_telemetry_table(ctx, conn)
	step6_indexes(ctx, conn)
	step7_verify(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Run next: go run ./scripts/seed_redis")
}

// ─────────────────────────────────────────────────────────────
// Step 1 — Extensions
// ─────────────────────────────────────────────────────────────
func step1_extensions(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: Extensions ──────────────────────────")

	execOrFatal(ctx, conn,
		"CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE;",
		"timescaledb extension",
	)
}

// ─────────────────────────────────────────────────────────────
// Step 2 — people and jobs the auto-actions resolve
// ─────────────────────────────────────────────────────────────
func step2_directory_tables(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 2: user_profiles / jobs ────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS user_profiles (
			id                 TEXT        PRIMARY KEY,
			role               TEXT        NOT NULL DEFAULT 'driver',
			is_active          BOOLEAN     NOT NULL DEFAULT true,
			supervisor_id      TEXT        REFERENCES user_profiles (id),

			-- Columns a driver may change through update_profile
			full_name          TEXT        NOT NULL DEFAULT '',
			phone              TEXT,
			email              TEXT,
			line_user_id       TEXT,
			avatar_url         TEXT,
			license_number     TEXT,
			emergency_contact  TEXT,
			emergency_phone    TEXT,

			updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),

			CONSTRAINT chk_role CHECK (role IN ('driver', 'dispatcher', 'supervisor', 'admin'))
		);
	`, "user_profiles table created")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS jobs (
			id              TEXT        PRIMARY KEY,
			reference       TEXT        NOT NULL UNIQUE,
			driver_id       TEXT        REFERENCES user_profiles (id),
			customer_name   TEXT,
			customer_phone  TEXT,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`, "jobs table created")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS customer_notifications (
			id       BIGSERIAL   PRIMARY KEY,
			job_id   TEXT        NOT NULL,
			type     TEXT        NOT NULL,
			message  TEXT        NOT NULL,
			sent_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`, "customer_notifications table created")
}

// ─────────────────────────────────────────────────────────────
// Step 3 — job_exceptions
// ─────────────────────────────────────────────────────────────
func step3_exceptions_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 3: job_exceptions table ────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS job_exceptions (
			id               TEXT        PRIMARY KEY,
			driver_id        TEXT        NOT NULL,
			job_id           TEXT,
			rule_id          TEXT        NOT NULL,
			severity         TEXT        NOT NULL,
			message_th       TEXT        NOT NULL DEFAULT '',
			message_en       TEXT        NOT NULL DEFAULT '',

			-- Snapshot that fired the rule, kept for review
			telemetry        JSONB,
			location         JSONB,

			status           TEXT        NOT NULL DEFAULT 'open',
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),

			-- NULL until a dispatcher resolves the exception
			resolved_by      TEXT,
			resolved_at      TIMESTAMPTZ,
			resolution_note  TEXT,

			CONSTRAINT chk_severity CHECK (
				severity IN ('low', 'medium', 'high', 'critical')
			),
			CONSTRAINT chk_status CHECK (
				status IN ('open', 'resolved')
			)
		);
	`, "job_exceptions table created")
}

// ─────────────────────────────────────────────────────────────
// Step 4 — tables the outbox writes to
// ─────────────────────────────────────────────────────────────
func step4_driver_action_tables(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 4: driver action tables ────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS driver_logs (
			id             BIGSERIAL        PRIMARY KEY,
			driver_id      TEXT             NOT NULL,
			job_reference  TEXT             NOT NULL,
			action         TEXT             NOT NULL,
			latitude       DOUBLE PRECISION NOT NULL,
			longitude      DOUBLE PRECISION NOT NULL,
			accuracy       DOUBLE PRECISION NOT NULL DEFAULT 0,
			logged_at      TIMESTAMPTZ      NOT NULL,

			CONSTRAINT chk_action CHECK (action IN ('check_in', 'check_out'))
		);
	`, "driver_logs table created")

	// One row per driver — update_location overwrites it
	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS driver_locations (
			driver_id   TEXT             PRIMARY KEY,
			latitude    DOUBLE PRECISION NOT NULL,
			longitude   DOUBLE PRECISION NOT NULL,
			accuracy    DOUBLE PRECISION NOT NULL DEFAULT 0,
			speed       DOUBLE PRECISION NOT NULL DEFAULT 0,
			battery     DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at  TIMESTAMPTZ      NOT NULL
		);
	`, "driver_locations table created")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS job_photos (
			id           BIGSERIAL   PRIMARY KEY,
			job_id       TEXT        NOT NULL,
			stop_id      TEXT        NOT NULL,
			url          TEXT        NOT NULL,
			uploaded_at  TIMESTAMPTZ NOT NULL
		);
	`, "job_photos table created")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS alcohol_tests (
			id         BIGSERIAL        PRIMARY KEY,
			driver_id  TEXT             NOT NULL,
			job_id     TEXT             NOT NULL,
			result     DOUBLE PRECISION NOT NULL,
			photo_url  TEXT,
			tested_at  TIMESTAMPTZ      NOT NULL
		);
	`, "alcohol_tests table created")
}

// ─────────────────────────────────────────────────────────────
// Step 5 — driver_telemetry hypertable
// ─────────────────────────────────────────────────────────────
func step5_telemetry_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 5: driver_telemetry table ──────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS driver_telemetry (
			timestamp            TIMESTAMPTZ      NOT NULL,
			received_at          TIMESTAMPTZ      NOT NULL DEFAULT NOW(),

			driver_id            TEXT             NOT NULL,
			job_id               TEXT,

			latitude             DOUBLE PRECISION NOT NULL DEFAULT 0,
			longitude            DOUBLE PRECISION NOT NULL DEFAULT 0,
			accuracy             DOUBLE PRECISION NOT NULL DEFAULT 0,
			gps_status           TEXT             NOT NULL DEFAULT '',
			offline_duration     DOUBLE PRECISION NOT NULL DEFAULT 0,

			is_stopped           BOOLEAN          NOT NULL DEFAULT false,
			stop_duration        DOUBLE PRECISION NOT NULL DEFAULT 0,
			distance_from_route  DOUBLE PRECISION NOT NULL DEFAULT 0,
			eta_delay            DOUBLE PRECISION NOT NULL DEFAULT 0,
			speed                DOUBLE PRECISION NOT NULL DEFAULT 0,
			speed_limit          DOUBLE PRECISION NOT NULL DEFAULT 0,
			emergency_triggered  BOOLEAN          NOT NULL DEFAULT false
		);
	`, "driver_telemetry table created")

	execOrFatal(ctx, conn, `
		SELECT create_hypertable(
			'driver_telemetry',
			'timestamp',
			if_not_exists => TRUE
		);
	`, "driver_telemetry converted to hypertable")
}

// ─────────────────────────────────────────────────────────────
// Step 6 — Indexes
// ─────────────────────────────────────────────────────────────
func step6_indexes(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 6: Indexes ─────────────────────────────")

	indexes := []struct {
		name string
		sql  string
		why  string
	}{
		{
			name: "idx_telemetry_driver_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_telemetry_driver_time
				  ON driver_telemetry (driver_id, timestamp DESC);`,
			why: "query: telemetry history for one driver",
		},
		{
			name: "idx_exceptions_driver_open",
			sql: `CREATE INDEX IF NOT EXISTS idx_exceptions_driver_open
				  ON job_exceptions (driver_id, created_at DESC)
				  WHERE status = 'open';`,
			why: "query: active exceptions for one driver",
		},
		{
			name: "idx_exceptions_created",
			sql: `CREATE INDEX IF NOT EXISTS idx_exceptions_created
				  ON job_exceptions (created_at);`,
			why: "query: exception stats over a time range",
		},
		{
			name: "idx_driver_logs_driver",
			sql: `CREATE INDEX IF NOT EXISTS idx_driver_logs_driver
				  ON driver_logs (driver_id, logged_at DESC);`,
			why: "query: check-in history for one driver",
		},
		{
			name: "idx_profiles_dispatchers",
			sql: `CREATE INDEX IF NOT EXISTS idx_profiles_dispatchers
				  ON user_profiles (role)
				  WHERE is_active;`,
			why: "query: active dispatchers (partial index)",
		},
	}

	for _, idx := range indexes {
		execOrFatal(ctx, conn, idx.sql,
			fmt.Sprintf("%-40s ← %s", idx.name, idx.why),
		)
	}
}

// ─────────────────────────────────────────────────────────────
// Step 7 — Verify everything was created
// ─────────────────────────────────────────────────────────────
func step7_verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 7: Verification ────────────────────────")

	tables := []string{
		"user_profiles", "jobs", "customer_notifications", "job_exceptions",
		"driver_logs", "driver_locations", "job_photos", "alcohol_tests",
		"driver_telemetry",
	}
	for _, table := range tables {
		var exists bool
		err := conn.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil || !exists {
			log.Fatalf("Table %s was not created: %v", table, err)
		}
		fmt.Printf("  ✓ table: %s\n", table)
	}

	var hypertableName string
	err := conn.QueryRow(ctx, `
		SELECT hypertable_name
		FROM timescaledb_information.hypertables
		WHERE hypertable_name = 'driver_telemetry'
	`).Scan(&hypertableName)
	if err != nil {
		log.Fatalf("driver_telemetry is not a hypertable: %v", err)
	}
	fmt.Printf("  ✓ hypertable: %s (time partitioned)\n", hypertableName)

	var indexCount int
	err = conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM pg_indexes
		WHERE tablename = ANY($1)
		AND indexname LIKE 'idx_%'
	`, tables).Scan(&indexCount)
	if err != nil {
		log.Fatalf("Index check failed: %v", err)
	}
	fmt.Printf("  ✓ indexes created: %d\n", indexCount)
}

// execOrFatal runs a SQL statement and prints result or exits on error
func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string) {
	_, err := conn.Exec(ctx, sql)
	if err != nil {
		log.Fatalf("FAILED — %s\nError: %v\nSQL: %s", label, err, sql)
	}
	fmt.Printf("  ✓ %s\n", label)
}

func dbGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
