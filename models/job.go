package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// JobStatus tracks a job through the queue lifecycle.
type JobStatus string

const (
	JobStatusPending  JobStatus = "PENDING"
	JobStatusApplying JobStatus = "APPLYING"
	JobStatusApplied  JobStatus = "APPLIED"
	JobStatusDeclined JobStatus = "DECLINED"
	JobStatusFailed   JobStatus = "FAILED"
)

// IsTerminal reports whether the status can no longer change.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusApplied || s == JobStatusDeclined || s == JobStatusFailed
}

type Job struct {
	ID                string    `json:"id"`
	URL               string    `json:"url"`
	CanonicalURL      string    `json:"canonical_url"`
	Company           string    `json:"company"`
	Title             string    `json:"title"`
	Source            string    `json:"source"`
	Status            JobStatus `json:"status"`
	RetryCount        int       `json:"retry_count"`
	LastFailureReason string    `json:"last_failure_reason,omitempty"`
	EnqueuedAt        time.Time `json:"enqueued_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type JobModel struct {
	DB *sql.DB
}

func NewJobModel(db *sql.DB) *JobModel {
	return &JobModel{DB: db}
}

func (m *JobModel) Create(url, canonicalURL, company, title, source string) (*Job, error) {
	job := &Job{}

	query := `
		INSERT INTO jobs (id, url, canonical_url, company, title, source, status, enqueued_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id, url, canonical_url, company, title, source, status, retry_count, last_failure_reason, enqueued_at, updated_at
	`
	var failureReason sql.NullString
	err := m.DB.QueryRow(query, uuid.New().String(), url, canonicalURL, company, title, source, string(JobStatusPending), time.Now()).Scan(
		&job.ID, &job.URL, &job.CanonicalURL, &job.Company, &job.Title, &job.Source,
		&job.Status, &job.RetryCount, &failureReason, &job.EnqueuedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if failureReason.Valid {
		job.LastFailureReason = failureReason.String
	}
	return job, nil
}

func (m *JobModel) GetByID(id string) (*Job, error) {
	job := &Job{}
	query := `
		SELECT id, url, canonical_url, company, title, source, status, retry_count, last_failure_reason, enqueued_at, updated_at
		FROM jobs WHERE id = $1
	`
	var failureReason sql.NullString
	err := m.DB.QueryRow(query, id).Scan(
		&job.ID, &job.URL, &job.CanonicalURL, &job.Company, &job.Title, &job.Source,
		&job.Status, &job.RetryCount, &failureReason, &job.EnqueuedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if failureReason.Valid {
		job.LastFailureReason = failureReason.String
	}
	return job, nil
}

// GetByCanonicalURL returns the job holding the canonical form of a URL,
// or sql.ErrNoRows when the URL has never been enqueued.
func (m *JobModel) GetByCanonicalURL(canonicalURL string) (*Job, error) {
	job := &Job{}
	query := `
		SELECT id, url, canonical_url, company, title, source, status, retry_count, last_failure_reason, enqueued_at, updated_at
		FROM jobs WHERE canonical_url = $1
	`
	var failureReason sql.NullString
	err := m.DB.QueryRow(query, canonicalURL).Scan(
		&job.ID, &job.URL, &job.CanonicalURL, &job.Company, &job.Title, &job.Source,
		&job.Status, &job.RetryCount, &failureReason, &job.EnqueuedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if failureReason.Valid {
		job.LastFailureReason = failureReason.String
	}
	return job, nil
}

// NextPending returns the oldest pending job, or sql.ErrNoRows when the
// queue is empty.
func (m *JobModel) NextPending() (*Job, error) {
	job := &Job{}
	query := `
		SELECT id, url, canonical_url, company, title, source, status, retry_count, last_failure_reason, enqueued_at, updated_at
		FROM jobs
		WHERE status = $1
		ORDER BY enqueued_at ASC
		LIMIT 1
	`
	var failureReason sql.NullString
	err := m.DB.QueryRow(query, string(JobStatusPending)).Scan(
		&job.ID, &job.URL, &job.CanonicalURL, &job.Company, &job.Title, &job.Source,
		&job.Status, &job.RetryCount, &failureReason, &job.EnqueuedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if failureReason.Valid {
		job.LastFailureReason = failureReason.String
	}
	return job, nil
}

func (m *JobModel) List(status string, limit, offset int) ([]Job, error) {
	jobs := []Job{}
	query := `
		SELECT id, url, canonical_url, company, title, source, status, retry_count, last_failure_reason, enqueued_at, updated_at
		FROM jobs
	`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1 ORDER BY enqueued_at ASC LIMIT $2 OFFSET $3`
		args = append(args, status, limit, offset)
	} else {
		query += ` ORDER BY enqueued_at ASC LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}

	rows, err := m.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var job Job
		var failureReason sql.NullString
		err := rows.Scan(
			&job.ID, &job.URL, &job.CanonicalURL, &job.Company, &job.Title, &job.Source,
			&job.Status, &job.RetryCount, &failureReason, &job.EnqueuedAt, &job.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}

		if failureReason.Valid {
			job.LastFailureReason = failureReason.String
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (m *JobModel) UpdateStatus(id string, status JobStatus, failureReason string) error {
	query := `UPDATE jobs SET status = $1, last_failure_reason = NULLIF($2, ''), updated_at = $3 WHERE id = $4`
	_, err := m.DB.Exec(query, string(status), failureReason, time.Now(), id)
	return err
}

// UpdateDetails fills in the company and title learned from the page,
// keeping existing values when the new ones are empty.
func (m *JobModel) UpdateDetails(id, company, title string) error {
	query := `UPDATE jobs SET company = COALESCE(NULLIF($1, ''), company), title = COALESCE(NULLIF($2, ''), title), updated_at = $3 WHERE id = $4`
	_, err := m.DB.Exec(query, company, title, time.Now(), id)
	return err
}

// IncrementRetry bumps the retry counter and returns the new count.
func (m *JobModel) IncrementRetry(id string) (int, error) {
	var count int
	query := `UPDATE jobs SET retry_count = retry_count + 1, updated_at = $1 WHERE id = $2 RETURNING retry_count`
	err := m.DB.QueryRow(query, time.Now(), id).Scan(&count)
	return count, err
}

func (m *JobModel) CountsByStatus() (map[JobStatus]int, error) {
	counts := map[JobStatus]int{}
	rows, err := m.DB.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[JobStatus(status)] = count
	}
	return counts, rows.Err()
}

func (m *JobModel) Delete(id string) error {
	query := `DELETE FROM jobs WHERE id = $1`
	_, err := m.DB.Exec(query, id)
	return err
}
