package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"applypilot/config"
	"applypilot/models"
	"applypilot/utils"
)

// SpendReader reports captcha solver spend for the digest.
type SpendReader interface {
	SpendSince(cutoff time.Time) (float64, error)
}

// WorkerDeps are the collaborators a worker drives. Tailor, Docs,
// Messenger and Spend may be nil; the worker degrades around them.
type WorkerDeps struct {
	Queue      *JobQueue
	Engine     *ApplicationEngine
	Tailor     *TailoringService
	Docs       *DocumentGenerator
	Messenger  Messenger
	Spend      SpendReader
	Profile    config.ApplicantProfile
	ResumeText string
}

// Worker drains the queue on a cron schedule and posts the morning
// digest. One tick applies to jobs one at a time; a tick that finds
// another tick running exits immediately.
type Worker struct {
	deps       WorkerDeps
	workerSpec string
	digestSpec string
	cron       *cron.Cron
	logger     *utils.Logger

	mu      sync.Mutex
	running bool
}

func NewWorker(deps WorkerDeps, cfg config.AutomationConfig) *Worker {
	return &Worker{
		deps:       deps,
		workerSpec: cfg.WorkerSpec,
		digestSpec: cfg.DigestSpec,
		cron:       cron.New(),
		logger:     utils.GlobalLogger.Named("worker"),
	}
}

// Start registers the schedules and launches the cron loop.
func (w *Worker) Start() error {
	if _, err := w.cron.AddFunc(w.workerSpec, w.Tick); err != nil {
		return fmt.Errorf("could not register worker schedule: %v", err)
	}
	if _, err := w.cron.AddFunc(w.digestSpec, w.Digest); err != nil {
		return fmt.Errorf("could not register digest schedule: %v", err)
	}

	w.cron.Start()
	w.logger.Info("worker started", map[string]interface{}{
		"worker_spec": w.workerSpec, "digest_spec": w.digestSpec,
	})
	return nil
}

// Stop halts the schedule and waits for a running tick to finish.
func (w *Worker) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
	w.logger.Info("worker stopped", nil)
}

// TriggerNow runs a drain outside the schedule, without blocking the
// caller. Used by the operator API and Slack approvals.
func (w *Worker) TriggerNow() {
	go w.Tick()
}

// Tick drains the queue until it is empty or another tick holds it.
func (w *Worker) Tick() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	for {
		job, err := w.deps.Queue.Next()
		if errors.Is(err, ErrQueueEmpty) || errors.Is(err, ErrAttemptInProgress) {
			w.sampleQueueDepth()
			return
		}
		if err != nil {
			w.logger.Error("could not fetch next job", err)
			return
		}
		w.processJob(job)
	}
}

func (w *Worker) processJob(job *models.Job) {
	ctx := context.Background()
	w.logger.Info("applying to job", map[string]interface{}{
		"job_id": job.ID, "company": job.Company, "url": job.URL,
	})

	profile, cleanup := w.prepareDocuments(ctx, job)
	defer cleanup()

	attempt := w.deps.Engine.Apply(ctx, job, profile)

	updated, err := w.deps.Queue.RecordAttempt(job, attempt)
	if err != nil {
		w.logger.Error("could not record attempt", err, map[string]interface{}{
			"job_id": job.ID,
		})
		return
	}

	if w.deps.Messenger != nil {
		if err := w.deps.Messenger.SendAttemptResult(ctx, updated, attempt); err != nil {
			w.logger.Warn("could not notify attempt result", map[string]interface{}{"error": err.Error()})
		}
	}
}

// prepareDocuments tailors the summary and generates fresh documents
// for this attempt. The returned profile points at the generated files;
// any failure falls back to the applicant's own documents. The cleanup
// func removes the per-attempt dir and must run after the attempt.
func (w *Worker) prepareDocuments(ctx context.Context, job *models.Job) (config.ApplicantProfile, func()) {
	profile := w.deps.Profile
	if w.deps.Docs == nil {
		return profile, func() {}
	}

	summary := ""
	if w.deps.Tailor != nil && w.deps.Tailor.Enabled() && w.deps.ResumeText != "" {
		result, err := w.deps.Tailor.Tailor(ctx, w.deps.ResumeText, job.Title, job.Company, "")
		if err != nil {
			w.logger.Warn("tailoring failed, using the stock summary", map[string]interface{}{
				"job_id": job.ID, "error": err.Error(),
			})
		} else {
			summary = result.Summary
			w.logger.Info("summary tailored", map[string]interface{}{
				"job_id": job.ID, "match_score": result.MatchScore,
			})
		}
	}

	dir, err := w.deps.Docs.AttemptDir()
	if err != nil {
		w.logger.Warn("could not create document dir", map[string]interface{}{"error": err.Error()})
		return profile, func() {}
	}
	cleanup := func() { os.RemoveAll(dir) }

	if path, err := w.deps.Docs.GenerateResume(dir, profile, summary); err != nil {
		w.logger.Warn("resume generation failed", map[string]interface{}{"error": err.Error()})
	} else {
		profile.ResumePath = path
	}

	if path, err := w.deps.Docs.GenerateCoverLetter(dir, profile, job, summary); err != nil {
		w.logger.Warn("cover letter generation failed", map[string]interface{}{"error": err.Error()})
	} else {
		profile.CoverLetterPath = path
	}

	return profile, cleanup
}

// Digest posts queue stats and solver spend to the operator channel.
func (w *Worker) Digest() {
	stats, err := w.deps.Queue.Stats()
	if err != nil {
		w.logger.Error("could not build digest stats", err)
		return
	}
	w.publishQueueDepth(stats)

	spend := 0.0
	if w.deps.Spend != nil {
		midnight := time.Now().Truncate(24 * time.Hour)
		if spend, err = w.deps.Spend.SpendSince(midnight); err != nil {
			w.logger.Warn("could not read captcha spend", map[string]interface{}{"error": err.Error()})
			spend = 0
		}
	}

	if w.deps.Messenger == nil {
		return
	}
	if err := w.deps.Messenger.SendDailyDigest(context.Background(), stats, spend); err != nil {
		w.logger.Warn("could not post digest", map[string]interface{}{"error": err.Error()})
	}
}

func (w *Worker) sampleQueueDepth() {
	stats, err := w.deps.Queue.Stats()
	if err != nil {
		return
	}
	w.publishQueueDepth(stats)
}

func (w *Worker) publishQueueDepth(stats QueueStats) {
	queueDepth.WithLabelValues(string(models.JobStatusPending)).Set(float64(stats.Pending))
	queueDepth.WithLabelValues(string(models.JobStatusApplying)).Set(float64(stats.Applying))
	queueDepth.WithLabelValues(string(models.JobStatusApplied)).Set(float64(stats.Applied))
	queueDepth.WithLabelValues(string(models.JobStatusDeclined)).Set(float64(stats.Declined))
	queueDepth.WithLabelValues(string(models.JobStatusFailed)).Set(float64(stats.Failed))
}
