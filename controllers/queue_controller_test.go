package controllers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"applypilot/models"
	"applypilot/services"
)

type memJobStore struct {
	mu    sync.Mutex
	seq   int
	jobs  map[string]*models.Job
	order []string
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: map[string]*models.Job{}}
}

func (s *memJobStore) Create(url, canonicalURL, company, title, source string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	job := &models.Job{
		ID:           fmt.Sprintf("job-%d", s.seq),
		URL:          url,
		CanonicalURL: canonicalURL,
		Company:      company,
		Title:        title,
		Source:       source,
		Status:       models.JobStatusPending,
		EnqueuedAt:   time.Now(),
	}
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	copied := *job
	return &copied, nil
}

func (s *memJobStore) GetByID(id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *job
	return &copied, nil
}

func (s *memJobStore) GetByCanonicalURL(canonicalURL string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		if s.jobs[id].CanonicalURL == canonicalURL {
			copied := *s.jobs[id]
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *memJobStore) NextPending() (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		if s.jobs[id].Status == models.JobStatusPending {
			copied := *s.jobs[id]
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *memJobStore) List(status string, limit, offset int) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Job
	for _, id := range s.order {
		if status == "" || string(s.jobs[id].Status) == status {
			out = append(out, *s.jobs[id])
		}
	}
	return out, nil
}

func (s *memJobStore) UpdateStatus(id string, status models.JobStatus, failureReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	job.Status = status
	job.LastFailureReason = failureReason
	return nil
}

func (s *memJobStore) UpdateDetails(id, company, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if company != "" {
		job.Company = company
	}
	if title != "" {
		job.Title = title
	}
	return nil
}

func (s *memJobStore) IncrementRetry(id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return 0, sql.ErrNoRows
	}
	job.RetryCount++
	return job.RetryCount, nil
}

func (s *memJobStore) CountsByStatus() (map[models.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[models.JobStatus]int{}
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

type memAttemptStore struct {
	mu       sync.Mutex
	attempts []models.ApplicationAttempt
}

func (s *memAttemptStore) Create(attempt *models.ApplicationAttempt) (*models.ApplicationAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt.ID = len(s.attempts) + 1
	s.attempts = append(s.attempts, *attempt)
	return attempt, nil
}

func (s *memAttemptStore) SumFieldsFilled() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, a := range s.attempts {
		total += a.FieldsFilled
	}
	return total, nil
}

func (s *memAttemptStore) CountByOutcome() (map[models.AttemptOutcome]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[models.AttemptOutcome]int{}
	for _, a := range s.attempts {
		counts[a.Outcome]++
	}
	return counts, nil
}

func (s *memAttemptStore) GetByJobID(jobID string) ([]models.ApplicationAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.ApplicationAttempt{}
	for _, a := range s.attempts {
		if a.JobID == jobID {
			out = append(out, a)
		}
	}
	return out, nil
}

type approvalRecorder struct {
	mu   sync.Mutex
	jobs []*models.Job
}

func (r *approvalRecorder) SendJobApproval(ctx context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *approvalRecorder) SendCaptchaEscalation(ctx context.Context, requestID string, job *models.Job, challenge *services.CaptchaChallenge, screenshotURL string, timeout time.Duration) error {
	return nil
}

func (r *approvalRecorder) SendAttemptResult(ctx context.Context, job *models.Job, attempt *models.ApplicationAttempt) error {
	return nil
}

func (r *approvalRecorder) SendDailyDigest(ctx context.Context, stats services.QueueStats, captchaSpend float64) error {
	return nil
}

func (r *approvalRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

type queueFixture struct {
	router    *gin.Engine
	queue     *services.JobQueue
	jobs      *memJobStore
	attempts  *memAttemptStore
	messenger *approvalRecorder
}

func newQueueFixture() *queueFixture {
	gin.SetMode(gin.TestMode)

	jobs := newMemJobStore()
	attempts := &memAttemptStore{}
	messenger := &approvalRecorder{}
	queue := services.NewJobQueue(jobs, attempts, 1)
	qc := NewQueueController(queue, attempts, messenger)

	router := gin.New()
	router.POST("/api/queue/jobs", qc.EnqueueJob)
	router.GET("/api/queue/jobs", qc.ListJobs)
	router.GET("/api/queue/jobs/next", qc.NextJob)
	router.GET("/api/queue/stats", qc.GetStats)
	router.POST("/api/queue/jobs/:id/decline", qc.DeclineJob)
	router.POST("/api/queue/jobs/:id/retry", qc.RetryJob)
	router.GET("/api/attempts", qc.ListAttempts)

	return &queueFixture{router: router, queue: queue, jobs: jobs, attempts: attempts, messenger: messenger}
}

func (f *queueFixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewBuffer(raw)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	f.router.ServeHTTP(w, req)
	return w
}

func TestEnqueueJob_CreatesPendingJob(t *testing.T) {
	f := newQueueFixture()

	w := f.do("POST", "/api/queue/jobs", gin.H{
		"url":     "https://boards.greenhouse.io/acme/jobs/42",
		"company": "Acme Robotics",
		"title":   "Senior Go Engineer",
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"PENDING"`)
	assert.Contains(t, w.Body.String(), "Acme Robotics")
	assert.Contains(t, w.Body.String(), "Senior Go Engineer")

	// Fresh jobs go to the channel for approval.
	assert.Equal(t, 1, f.messenger.count())
}

func TestEnqueueJob_DedupReturnsExisting(t *testing.T) {
	f := newQueueFixture()

	first := f.do("POST", "/api/queue/jobs", gin.H{"url": "https://boards.greenhouse.io/acme/jobs/42?utm_source=linkedin"})
	assert.Equal(t, http.StatusCreated, first.Code)

	second := f.do("POST", "/api/queue/jobs", gin.H{"url": "https://boards.greenhouse.io/acme/jobs/42/#apply"})
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Contains(t, second.Body.String(), "Job already queued")

	// No duplicate row, no second approval message.
	jobs, _ := f.jobs.List("", 10, 0)
	assert.Len(t, jobs, 1)
	assert.Equal(t, 1, f.messenger.count())
}

func TestEnqueueJob_RejectsBadInput(t *testing.T) {
	f := newQueueFixture()

	w := f.do("POST", "/api/queue/jobs", gin.H{"url": "not a url"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do("POST", "/api/queue/jobs", gin.H{"url": "ftp://example.com/job"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid job URL")

	w = f.do("POST", "/api/queue/jobs", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListJobs_FiltersByStatus(t *testing.T) {
	f := newQueueFixture()
	f.do("POST", "/api/queue/jobs", gin.H{"url": "https://jobs.lever.co/acme/1"})
	f.do("POST", "/api/queue/jobs", gin.H{"url": "https://jobs.lever.co/acme/2"})

	jobs, _ := f.jobs.List("", 10, 0)
	assert.NoError(t, f.jobs.UpdateStatus(jobs[0].ID, models.JobStatusApplied, ""))

	w := f.do("GET", "/api/queue/jobs?status=PENDING", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), jobs[0].ID)
	assert.Contains(t, w.Body.String(), jobs[1].ID)
}

func TestNextJob_PeeksWithoutClaiming(t *testing.T) {
	f := newQueueFixture()
	f.do("POST", "/api/queue/jobs", gin.H{"url": "https://jobs.lever.co/acme/1"})
	f.do("POST", "/api/queue/jobs", gin.H{"url": "https://jobs.lever.co/acme/2"})

	w := f.do("GET", "/api/queue/jobs/next", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "job-1")

	// Peeking must not claim: the job stays pending and the
	// single-flight slot stays free for the worker.
	job, err := f.jobs.GetByID("job-1")
	assert.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	_, busy := f.queue.InFlight()
	assert.False(t, busy)
}

func TestNextJob_EmptyQueue(t *testing.T) {
	f := newQueueFixture()

	w := f.do("GET", "/api/queue/jobs/next", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Queue is empty")
}

func TestGetStats_ReportsCountsAndInFlight(t *testing.T) {
	f := newQueueFixture()
	f.do("POST", "/api/queue/jobs", gin.H{"url": "https://jobs.lever.co/acme/1"})
	f.do("POST", "/api/queue/jobs", gin.H{"url": "https://jobs.lever.co/acme/2"})

	claimed, err := f.queue.Next()
	assert.NoError(t, err)

	w := f.do("GET", "/api/queue/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data QueueStatsResponse `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Data.Pending)
	assert.Equal(t, 1, resp.Data.Applying)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, claimed.ID, resp.Data.InFlightJobID)
}

func TestDeclineJob(t *testing.T) {
	f := newQueueFixture()
	f.do("POST", "/api/queue/jobs", gin.H{"url": "https://jobs.lever.co/acme/1"})

	w := f.do("POST", "/api/queue/jobs/job-1/decline", gin.H{"note": "salary band too low"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"DECLINED"`)

	job, _ := f.jobs.GetByID("job-1")
	assert.Equal(t, "salary band too low", job.LastFailureReason)

	// A second decline hits the not-pending guard.
	w = f.do("POST", "/api/queue/jobs/job-1/decline", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDeclineJob_UnknownID(t *testing.T) {
	f := newQueueFixture()

	w := f.do("POST", "/api/queue/jobs/ghost/decline", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Job not found")
}

func TestRetryJob(t *testing.T) {
	f := newQueueFixture()
	f.do("POST", "/api/queue/jobs", gin.H{"url": "https://jobs.lever.co/acme/1"})

	// Still pending, nothing to retry.
	w := f.do("POST", "/api/queue/jobs/job-1/retry", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	f.do("POST", "/api/queue/jobs/job-1/decline", nil)

	w = f.do("POST", "/api/queue/jobs/job-1/retry", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"PENDING"`)
}

func TestListAttempts(t *testing.T) {
	f := newQueueFixture()
	f.do("POST", "/api/queue/jobs", gin.H{"url": "https://jobs.lever.co/acme/1"})

	_, err := f.attempts.Create(&models.ApplicationAttempt{
		JobID:         "job-1",
		Outcome:       models.OutcomeFailed,
		FailureReason: "navigation_error",
		StartedAt:     time.Now(),
		FinishedAt:    time.Now(),
	})
	assert.NoError(t, err)
	_, err = f.attempts.Create(&models.ApplicationAttempt{
		JobID:        "job-1",
		Outcome:      models.OutcomeSubmitted,
		FieldsFilled: 7,
		FieldsTotal:  7,
		StartedAt:    time.Now(),
		FinishedAt:   time.Now(),
	})
	assert.NoError(t, err)

	w := f.do("GET", "/api/attempts?job_id=job-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data JobAttemptsResponse `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp.Data.Job.ID)
	assert.Len(t, resp.Data.Attempts, 2)
	assert.Equal(t, models.OutcomeSubmitted, resp.Data.Attempts[1].Outcome)
}

func TestListAttempts_RequiresJobID(t *testing.T) {
	f := newQueueFixture()

	w := f.do("GET", "/api/attempts", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do("GET", "/api/attempts?job_id=ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
