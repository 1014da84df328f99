package models

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// AttemptOutcome is the terminal result of a single application attempt.
type AttemptOutcome string

const (
	OutcomeSubmitted         AttemptOutcome = "submitted"
	OutcomeFailed            AttemptOutcome = "failed"
	OutcomeCaptchaUnresolved AttemptOutcome = "captcha_unresolved"
)

type ApplicationAttempt struct {
	ID            int            `json:"id"`
	JobID         string         `json:"job_id"`
	Outcome       AttemptOutcome `json:"outcome"`
	FailureReason string         `json:"failure_reason,omitempty"`
	FailureDetail string         `json:"failure_detail,omitempty"`
	FieldsFilled  int            `json:"fields_filled"`
	FieldsTotal   int            `json:"fields_total"`
	FailedFields  []string       `json:"failed_fields,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
	ScreenshotKey string         `json:"screenshot_key,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	CreatedAt     time.Time      `json:"created_at"`
}

type ApplicationAttemptModel struct {
	DB *sql.DB
}

func NewApplicationAttemptModel(db *sql.DB) *ApplicationAttemptModel {
	return &ApplicationAttemptModel{DB: db}
}

func (m *ApplicationAttemptModel) Create(attempt *ApplicationAttempt) (*ApplicationAttempt, error) {
	query := `
		INSERT INTO application_attempts (job_id, outcome, failure_reason, failure_detail, fields_filled, fields_total, failed_fields, warnings, screenshot_key, started_at, finished_at, created_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12)
		RETURNING id, created_at
	`
	err := m.DB.QueryRow(query,
		attempt.JobID, string(attempt.Outcome), attempt.FailureReason, attempt.FailureDetail,
		attempt.FieldsFilled, attempt.FieldsTotal,
		pq.Array(attempt.FailedFields), pq.Array(attempt.Warnings),
		attempt.ScreenshotKey, attempt.StartedAt, attempt.FinishedAt, time.Now(),
	).Scan(&attempt.ID, &attempt.CreatedAt)
	if err != nil {
		return nil, err
	}
	return attempt, nil
}

func (m *ApplicationAttemptModel) GetByJobID(jobID string) ([]ApplicationAttempt, error) {
	attempts := []ApplicationAttempt{}
	query := `
		SELECT id, job_id, outcome, failure_reason, failure_detail, fields_filled, fields_total, failed_fields, warnings, screenshot_key, started_at, finished_at, created_at
		FROM application_attempts
		WHERE job_id = $1
		ORDER BY started_at ASC
	`
	rows, err := m.DB.Query(query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var attempt ApplicationAttempt
		var failureReason, failureDetail, screenshotKey sql.NullString
		err := rows.Scan(
			&attempt.ID, &attempt.JobID, &attempt.Outcome, &failureReason, &failureDetail,
			&attempt.FieldsFilled, &attempt.FieldsTotal,
			pq.Array(&attempt.FailedFields), pq.Array(&attempt.Warnings),
			&screenshotKey, &attempt.StartedAt, &attempt.FinishedAt, &attempt.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		if failureReason.Valid {
			attempt.FailureReason = failureReason.String
		}
		if failureDetail.Valid {
			attempt.FailureDetail = failureDetail.String
		}
		if screenshotKey.Valid {
			attempt.ScreenshotKey = screenshotKey.String
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

// SumFieldsFilled returns the total number of fields filled across every
// attempt ever made.
func (m *ApplicationAttemptModel) SumFieldsFilled() (int, error) {
	var total int
	err := m.DB.QueryRow(`SELECT COALESCE(SUM(fields_filled), 0) FROM application_attempts`).Scan(&total)
	return total, err
}

func (m *ApplicationAttemptModel) CountByOutcome() (map[AttemptOutcome]int, error) {
	counts := map[AttemptOutcome]int{}
	rows, err := m.DB.Query(`SELECT outcome, COUNT(*) FROM application_attempts GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, err
		}
		counts[AttemptOutcome(outcome)] = count
	}
	return counts, rows.Err()
}
