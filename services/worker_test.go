package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"applypilot/config"
	"applypilot/models"
)

type recordingMessenger struct {
	mu        sync.Mutex
	outcomes  []models.AttemptOutcome
	statuses  []models.JobStatus
	digests   int
	lastStats QueueStats
	lastSpend float64
}

func (m *recordingMessenger) SendCaptchaEscalation(ctx context.Context, requestID string, job *models.Job, challenge *CaptchaChallenge, screenshotURL string, timeout time.Duration) error {
	return nil
}

func (m *recordingMessenger) SendJobApproval(ctx context.Context, job *models.Job) error {
	return nil
}

func (m *recordingMessenger) SendAttemptResult(ctx context.Context, job *models.Job, attempt *models.ApplicationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, attempt.Outcome)
	m.statuses = append(m.statuses, job.Status)
	return nil
}

func (m *recordingMessenger) SendDailyDigest(ctx context.Context, stats QueueStats, captchaSpend float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.digests++
	m.lastStats = stats
	m.lastSpend = captchaSpend
	return nil
}

type fakeSpend struct{ amount float64 }

func (f fakeSpend) SpendSince(cutoff time.Time) (float64, error) {
	return f.amount, nil
}

// sessionFactoryFunc adapts a func to SessionOpener, handing each
// attempt its own scripted session.
type sessionFactoryFunc func() BrowserSession

func (f sessionFactoryFunc) Open() (BrowserSession, error) {
	return f(), nil
}

func happySessionFactory() SessionOpener {
	return sessionFactoryFunc(func() BrowserSession {
		return &scriptedSession{
			preHTML:   openPostingHTML,
			postHTML:  confirmationHTML,
			inventory: applicationFormInventory(),
		}
	})
}

func newTestWorker(opener SessionOpener, deps WorkerDeps) (*Worker, *JobQueue, *fakeAttemptStore) {
	queue, _, attempts := newTestQueue()
	deps.Queue = queue
	deps.Engine = NewApplicationEngine(opener, NewFieldMapper(), NewSubmissionVerifier(), quietResolver(), nil, nil)
	if deps.Profile.FirstName == "" {
		deps.Profile = engineProfile()
	}
	worker := NewWorker(deps, config.AutomationConfig{
		WorkerSpec: "@every 2m",
		DigestSpec: "0 9 * * *",
	})
	return worker, queue, attempts
}

func TestWorker_TickDrainsWholeQueue(t *testing.T) {
	messenger := &recordingMessenger{}
	worker, queue, attempts := newTestWorker(happySessionFactory(), WorkerDeps{Messenger: messenger})

	_, _, err := queue.Enqueue("https://boards.greenhouse.io/acme/jobs/1")
	assert.NoError(t, err)
	_, _, err = queue.Enqueue("https://boards.greenhouse.io/acme/jobs/2")
	assert.NoError(t, err)

	worker.Tick()

	stats, err := queue.Stats()
	assert.NoError(t, err)
	assert.Equal(t, 2, stats.Applied)
	assert.Equal(t, 0, stats.Pending)

	assert.Len(t, attempts.attempts, 2)
	assert.Equal(t, []models.AttemptOutcome{models.OutcomeSubmitted, models.OutcomeSubmitted}, messenger.outcomes)
	assert.Equal(t, []models.JobStatus{models.JobStatusApplied, models.JobStatusApplied}, messenger.statuses)
}

func TestWorker_TickOnEmptyQueueIsQuiet(t *testing.T) {
	messenger := &recordingMessenger{}
	worker, _, attempts := newTestWorker(happySessionFactory(), WorkerDeps{Messenger: messenger})

	worker.Tick()

	assert.Empty(t, attempts.attempts)
	assert.Empty(t, messenger.outcomes)
}

func TestWorker_OverlappingTickExitsImmediately(t *testing.T) {
	worker, queue, attempts := newTestWorker(happySessionFactory(), WorkerDeps{})
	_, _, err := queue.Enqueue("https://boards.greenhouse.io/acme/jobs/1")
	assert.NoError(t, err)

	worker.running = true
	worker.Tick()

	job, err := queue.Next()
	assert.NoError(t, err, "the job must still be pending")
	assert.Equal(t, models.JobStatusApplying, job.Status)
	assert.Empty(t, attempts.attempts)
}

func TestWorker_GeneratedDocumentsAttachedAndCleanedUp(t *testing.T) {
	var sessions []*scriptedSession
	opener := sessionFactoryFunc(func() BrowserSession {
		controls := []rawControl{
			{DomIndex: 0, Tag: "input", Type: "text", Name: "first_name", LabelFor: "First Name", Visible: true},
			{DomIndex: 1, Tag: "input", Type: "file", Name: "resume", LabelFor: "Resume/CV"},
		}
		session := &scriptedSession{
			preHTML:   openPostingHTML,
			postHTML:  confirmationHTML,
			inventory: NewFormAnalyzer().BuildInventory("https://boards.greenhouse.io/acme/jobs/1", controls),
		}
		sessions = append(sessions, session)
		return session
	})

	worker, queue, _ := newTestWorker(opener, WorkerDeps{Docs: NewDocumentGenerator()})
	_, _, err := queue.Enqueue("https://boards.greenhouse.io/acme/jobs/1")
	assert.NoError(t, err)

	worker.Tick()

	assert.Len(t, sessions, 1)
	var resumePath string
	for _, write := range sessions[0].writes {
		if write.Kind == FieldFile {
			resumePath = write.FilePath
		}
	}
	assert.True(t, strings.HasSuffix(resumePath, "Ada_Lovelace_Resume.docx"), "upload should use the generated resume, got %q", resumePath)

	// The per-attempt document dir is removed once the attempt ends.
	_, statErr := os.Stat(filepath.Dir(resumePath))
	assert.True(t, os.IsNotExist(statErr))
}

func TestWorker_DigestPostsStatsAndSpend(t *testing.T) {
	messenger := &recordingMessenger{}
	worker, queue, _ := newTestWorker(happySessionFactory(), WorkerDeps{
		Messenger: messenger,
		Spend:     fakeSpend{amount: 0.42},
	})
	_, _, err := queue.Enqueue("https://boards.greenhouse.io/acme/jobs/1")
	assert.NoError(t, err)

	worker.Digest()

	assert.Equal(t, 1, messenger.digests)
	assert.Equal(t, 1, messenger.lastStats.Pending)
	assert.InDelta(t, 0.42, messenger.lastSpend, 1e-9)
}

func TestWorker_TriggerNowRunsAsync(t *testing.T) {
	worker, queue, _ := newTestWorker(happySessionFactory(), WorkerDeps{})
	_, _, err := queue.Enqueue("https://boards.greenhouse.io/acme/jobs/1")
	assert.NoError(t, err)

	worker.TriggerNow()

	assert.Eventually(t, func() bool {
		stats, err := queue.Stats()
		return err == nil && stats.Applied == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorker_StartRejectsBadSchedule(t *testing.T) {
	queue, _, _ := newTestQueue()
	worker := NewWorker(WorkerDeps{Queue: queue}, config.AutomationConfig{
		WorkerSpec: "not a cron spec",
		DigestSpec: "0 9 * * *",
	})
	assert.Error(t, worker.Start())
}
