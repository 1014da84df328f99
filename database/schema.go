package database

import (
	"database/sql"
	"fmt"
	"log"
)

// EnsureSchema creates the tables and indexes the tracker needs. Every
// statement is idempotent so it runs on every startup.
func EnsureSchema(db *sql.DB) error {
	schema := `
	-- Job queue table
	CREATE TABLE IF NOT EXISTS jobs (
		id UUID PRIMARY KEY,
		url TEXT NOT NULL,
		canonical_url TEXT UNIQUE NOT NULL,
		company VARCHAR(255),
		title VARCHAR(255),
		source VARCHAR(50),
		status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_failure_reason VARCHAR(64),
		enqueued_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- One row per application attempt
	CREATE TABLE IF NOT EXISTS application_attempts (
		id SERIAL PRIMARY KEY,
		job_id UUID NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		outcome VARCHAR(32) NOT NULL,
		failure_reason VARCHAR(64),
		failure_detail TEXT,
		fields_filled INTEGER NOT NULL DEFAULT 0,
		fields_total INTEGER NOT NULL DEFAULT 0,
		failed_fields TEXT[],
		warnings TEXT[],
		screenshot_key TEXT,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Captcha challenge log
	CREATE TABLE IF NOT EXISTS captcha_events (
		id SERIAL PRIMARY KEY,
		job_id UUID NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		captcha_type VARCHAR(32) NOT NULL,
		site_key TEXT,
		resolution VARCHAR(20) NOT NULL DEFAULT 'pending',
		solver VARCHAR(20),
		cost_usd NUMERIC(8,4) NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		resolved_at TIMESTAMP
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("error creating tables: %v", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_enqueued_at ON jobs(enqueued_at)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_job_id ON application_attempts(job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_captcha_events_job_id ON captcha_events(job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_captcha_events_created_at ON captcha_events(created_at)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			log.Printf("Warning: could not create index: %v", err)
		}
	}

	return nil
}
