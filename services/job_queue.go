package services

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"applypilot/models"
	"applypilot/utils"
)

// Failure reasons an attempt can carry. The set is closed; everything
// unexpected maps to ReasonUnexpected.
const (
	ReasonNavigationError       = "navigation_error"
	ReasonNoFormDetected        = "no_form_detected"
	ReasonFieldWriteError       = "field_write_error"
	ReasonCaptchaUnresolved     = "captcha_unresolved"
	ReasonVerificationAmbiguous = "submission_verification_ambiguous"
	ReasonUnexpected            = "unexpected_error"
)

var (
	// ErrQueueEmpty says there is no pending job to hand out.
	ErrQueueEmpty = errors.New("no pending jobs in queue")
	// ErrAttemptInProgress enforces one application attempt at a time.
	ErrAttemptInProgress = errors.New("an application attempt is already in progress")
	// ErrJobNotPending guards operator actions that only apply to
	// jobs still waiting in the queue.
	ErrJobNotPending = errors.New("job is not pending")
	// ErrJobNotTerminal guards reenqueueing jobs still in the pipeline.
	ErrJobNotTerminal = errors.New("job is not in a terminal state")
)

// retryableReasons get one automatic requeue; everything else is
// terminal on first failure.
var retryableReasons = map[string]bool{
	ReasonNavigationError:   true,
	ReasonCaptchaUnresolved: true,
}

// JobStore is the persistence the queue needs for jobs.
type JobStore interface {
	Create(url, canonicalURL, company, title, source string) (*models.Job, error)
	GetByID(id string) (*models.Job, error)
	GetByCanonicalURL(canonicalURL string) (*models.Job, error)
	NextPending() (*models.Job, error)
	List(status string, limit, offset int) ([]models.Job, error)
	UpdateStatus(id string, status models.JobStatus, failureReason string) error
	UpdateDetails(id, company, title string) error
	IncrementRetry(id string) (int, error)
	CountsByStatus() (map[models.JobStatus]int, error)
}

// AttemptStore is the persistence the queue needs for attempt history.
type AttemptStore interface {
	Create(attempt *models.ApplicationAttempt) (*models.ApplicationAttempt, error)
	SumFieldsFilled() (int, error)
	CountByOutcome() (map[models.AttemptOutcome]int, error)
}

// QueueStats is the operator-facing summary of the queue.
type QueueStats struct {
	Pending      int     `json:"pending"`
	Applying     int     `json:"applying"`
	Applied      int     `json:"applied"`
	Declined     int     `json:"declined"`
	Failed       int     `json:"failed"`
	Total        int     `json:"total"`
	FieldsFilled int     `json:"fields_filled"`
	SuccessRate  float64 `json:"success_rate"`
}

// JobQueue owns the job lifecycle: FIFO dispatch, URL dedup, the
// single-flight guard and the retry policy.
type JobQueue struct {
	jobs     JobStore
	attempts AttemptStore
	maxRetry int
	logger   *utils.Logger

	mu       sync.Mutex
	inFlight string
}

func NewJobQueue(jobs JobStore, attempts AttemptStore, maxRetry int) *JobQueue {
	return &JobQueue{
		jobs:     jobs,
		attempts: attempts,
		maxRetry: maxRetry,
		logger:   utils.GlobalLogger.Named("queue"),
	}
}

// Enqueue adds a posting URL to the queue. The same posting enqueued
// twice, through whatever link variant, returns the existing job with
// existed=true instead of creating a duplicate.
func (q *JobQueue) Enqueue(jobURL string) (*models.Job, bool, error) {
	canonical, err := CanonicalizeJobURL(jobURL)
	if err != nil {
		return nil, false, err
	}

	existing, err := q.jobs.GetByCanonicalURL(canonical)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("could not check for existing job: %v", err)
	}

	platform, err := DetectPlatform(jobURL)
	if err != nil {
		return nil, false, err
	}
	company := ExtractCompanyFromURL(jobURL)

	job, err := q.jobs.Create(jobURL, canonical, company, "", platform.Slug)
	if err != nil {
		return nil, false, fmt.Errorf("could not enqueue job: %v", err)
	}

	jobsEnqueuedTotal.Inc()
	q.logger.Info("job enqueued", map[string]interface{}{
		"job_id": job.ID, "source": job.Source, "company": job.Company,
	})
	return job, false, nil
}

// Next hands out the oldest pending job and marks it APPLYING. Only
// one job may be in flight at a time.
func (q *JobQueue) Next() (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inFlight != "" {
		return nil, ErrAttemptInProgress
	}

	job, err := q.jobs.NextPending()
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("could not fetch next job: %v", err)
	}

	if err := q.jobs.UpdateStatus(job.ID, models.JobStatusApplying, ""); err != nil {
		return nil, fmt.Errorf("could not mark job applying: %v", err)
	}
	job.Status = models.JobStatusApplying
	q.inFlight = job.ID

	return job, nil
}

// RecordAttempt persists the attempt, applies the retry policy to pick
// the job's next status, and releases the single-flight slot. Every
// attempt ends here regardless of outcome.
func (q *JobQueue) RecordAttempt(job *models.Job, attempt *models.ApplicationAttempt) (*models.Job, error) {
	attempt.JobID = job.ID
	if _, err := q.attempts.Create(attempt); err != nil {
		q.release(job.ID)
		return nil, fmt.Errorf("could not record attempt: %v", err)
	}

	status, reason, err := q.nextStatus(job, attempt)
	if err != nil {
		q.release(job.ID)
		return nil, err
	}

	if err := q.jobs.UpdateStatus(job.ID, status, reason); err != nil {
		q.release(job.ID)
		return nil, fmt.Errorf("could not update job status: %v", err)
	}

	q.release(job.ID)

	updated, err := q.jobs.GetByID(job.ID)
	if err != nil {
		return nil, fmt.Errorf("could not reload job: %v", err)
	}

	q.logger.Info("attempt recorded", map[string]interface{}{
		"job_id": job.ID, "outcome": attempt.Outcome, "status": updated.Status,
		"fields_filled": attempt.FieldsFilled, "fields_total": attempt.FieldsTotal,
	})
	return updated, nil
}

func (q *JobQueue) nextStatus(job *models.Job, attempt *models.ApplicationAttempt) (models.JobStatus, string, error) {
	if attempt.Outcome == models.OutcomeSubmitted {
		return models.JobStatusApplied, "", nil
	}

	reason := attempt.FailureReason
	if attempt.Outcome == models.OutcomeCaptchaUnresolved {
		reason = ReasonCaptchaUnresolved
	}

	if retryableReasons[reason] {
		count, err := q.jobs.IncrementRetry(job.ID)
		if err != nil {
			return "", "", fmt.Errorf("could not bump retry count: %v", err)
		}
		if count <= q.maxRetry {
			return models.JobStatusPending, reason, nil
		}
	}

	return models.JobStatusFailed, reason, nil
}

func (q *JobQueue) release(jobID string) {
	q.mu.Lock()
	if q.inFlight == jobID {
		q.inFlight = ""
	}
	q.mu.Unlock()
}

// Decline removes a pending job from consideration on operator request.
func (q *JobQueue) Decline(jobID, note string) (*models.Job, error) {
	job, err := q.jobs.GetByID(jobID)
	if err != nil {
		return nil, fmt.Errorf("could not load job: %v", err)
	}
	if job.Status != models.JobStatusPending {
		return nil, ErrJobNotPending
	}

	if err := q.jobs.UpdateStatus(jobID, models.JobStatusDeclined, note); err != nil {
		return nil, fmt.Errorf("could not decline job: %v", err)
	}
	return q.jobs.GetByID(jobID)
}

// Reenqueue puts a declined or failed job back in line. Retry counts
// are kept so the automatic retry cap still holds.
func (q *JobQueue) Reenqueue(jobID string) (*models.Job, error) {
	job, err := q.jobs.GetByID(jobID)
	if err != nil {
		return nil, fmt.Errorf("could not load job: %v", err)
	}
	if !job.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: job %s is %s", ErrJobNotTerminal, jobID, job.Status)
	}

	if err := q.jobs.UpdateStatus(jobID, models.JobStatusPending, ""); err != nil {
		return nil, fmt.Errorf("could not reenqueue job: %v", err)
	}
	return q.jobs.GetByID(jobID)
}

// Get returns one job by id.
func (q *JobQueue) Get(jobID string) (*models.Job, error) {
	return q.jobs.GetByID(jobID)
}

// List returns jobs, optionally filtered to one status.
func (q *JobQueue) List(status string, limit, offset int) ([]models.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return q.jobs.List(status, limit, offset)
}

// UpdateDetails records the company and title learned during an
// attempt.
func (q *JobQueue) UpdateDetails(jobID, company, title string) error {
	return q.jobs.UpdateDetails(jobID, company, title)
}

// InFlight reports the job currently being applied to, if any.
func (q *JobQueue) InFlight() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight, q.inFlight != ""
}

// Stats summarizes queue health. The success rate is applications
// submitted over jobs that reached any terminal state.
func (q *JobQueue) Stats() (QueueStats, error) {
	counts, err := q.jobs.CountsByStatus()
	if err != nil {
		return QueueStats{}, fmt.Errorf("could not count jobs: %v", err)
	}

	fieldsFilled, err := q.attempts.SumFieldsFilled()
	if err != nil {
		return QueueStats{}, fmt.Errorf("could not sum filled fields: %v", err)
	}

	stats := QueueStats{
		Pending:      counts[models.JobStatusPending],
		Applying:     counts[models.JobStatusApplying],
		Applied:      counts[models.JobStatusApplied],
		Declined:     counts[models.JobStatusDeclined],
		Failed:       counts[models.JobStatusFailed],
		FieldsFilled: fieldsFilled,
	}
	stats.Total = stats.Pending + stats.Applying + stats.Applied + stats.Declined + stats.Failed

	terminal := stats.Applied + stats.Declined + stats.Failed
	if terminal > 0 {
		stats.SuccessRate = float64(stats.Applied) / float64(terminal)
	}
	return stats, nil
}
