package models

import (
	"database/sql"
	"time"
)

// CaptchaResolution tracks how a challenge ended.
type CaptchaResolution string

const (
	ResolutionPending  CaptchaResolution = "pending"
	ResolutionSolved   CaptchaResolution = "solved"
	ResolutionSkipped  CaptchaResolution = "skipped"
	ResolutionTimedOut CaptchaResolution = "timed_out"
)

type CaptchaEvent struct {
	ID          int               `json:"id"`
	JobID       string            `json:"job_id"`
	CaptchaType string            `json:"captcha_type"`
	SiteKey     string            `json:"site_key,omitempty"`
	Resolution  CaptchaResolution `json:"resolution"`
	Solver      string            `json:"solver,omitempty"`
	CostUSD     float64           `json:"cost_usd"`
	CreatedAt   time.Time         `json:"created_at"`
	ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
}

type CaptchaEventModel struct {
	DB *sql.DB
}

func NewCaptchaEventModel(db *sql.DB) *CaptchaEventModel {
	return &CaptchaEventModel{DB: db}
}

func (m *CaptchaEventModel) Create(jobID, captchaType, siteKey string) (*CaptchaEvent, error) {
	event := &CaptchaEvent{
		JobID:       jobID,
		CaptchaType: captchaType,
		SiteKey:     siteKey,
		Resolution:  ResolutionPending,
	}

	query := `
		INSERT INTO captcha_events (job_id, captcha_type, site_key, resolution, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		RETURNING id, created_at
	`
	err := m.DB.QueryRow(query, jobID, captchaType, siteKey, string(ResolutionPending), time.Now()).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (m *CaptchaEventModel) UpdateResolution(id int, resolution CaptchaResolution, solver string, costUSD float64) error {
	query := `
		UPDATE captcha_events
		SET resolution = $1, solver = NULLIF($2, ''), cost_usd = $3, resolved_at = $4
		WHERE id = $5
	`
	_, err := m.DB.Exec(query, string(resolution), solver, costUSD, time.Now(), id)
	return err
}

func (m *CaptchaEventModel) GetByJobID(jobID string) ([]CaptchaEvent, error) {
	events := []CaptchaEvent{}
	query := `
		SELECT id, job_id, captcha_type, site_key, resolution, solver, cost_usd, created_at, resolved_at
		FROM captcha_events
		WHERE job_id = $1
		ORDER BY created_at ASC
	`
	rows, err := m.DB.Query(query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var event CaptchaEvent
		var siteKey, solver sql.NullString
		var resolvedAt sql.NullTime
		err := rows.Scan(
			&event.ID, &event.JobID, &event.CaptchaType, &siteKey,
			&event.Resolution, &solver, &event.CostUSD, &event.CreatedAt, &resolvedAt,
		)
		if err != nil {
			return nil, err
		}

		if siteKey.Valid {
			event.SiteKey = siteKey.String
		}
		if solver.Valid {
			event.Solver = solver.String
		}
		if resolvedAt.Valid {
			event.ResolvedAt = &resolvedAt.Time
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// SpendSince sums paid solver cost recorded after the cutoff. The Redis
// guard enforces the live budget; this query backs the daily digest.
func (m *CaptchaEventModel) SpendSince(cutoff time.Time) (float64, error) {
	var total float64
	query := `SELECT COALESCE(SUM(cost_usd), 0) FROM captcha_events WHERE created_at >= $1`
	err := m.DB.QueryRow(query, cutoff).Scan(&total)
	return total, err
}
