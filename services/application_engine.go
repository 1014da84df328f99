package services

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/gmail/v1"

	"applypilot/config"
	"applypilot/models"
	"applypilot/utils"
)

// SessionOpener hands out a fresh browser session per attempt.
type SessionOpener interface {
	Open() (BrowserSession, error)
}

// ConfirmationChecker is the inbox side of submission verification.
type ConfirmationChecker interface {
	Enabled() bool
	FetchRecent(ctx context.Context, query string, max int64) ([]*gmail.Message, error)
}

const fieldWriteRetries = 3

// fieldRetryDelay spaces out retries of a failed field write so a
// still-rendering widget gets a chance to settle.
var fieldRetryDelay = 500 * time.Millisecond

// ApplicationEngine walks one job through a complete application
// attempt: navigate, analyze, fill, clear captchas, submit, verify.
type ApplicationEngine struct {
	sessions SessionOpener
	mapper   *FieldMapper
	verifier *SubmissionVerifier
	captchas *CaptchaResolver
	email    ConfirmationChecker
	shots    *ScreenshotService
	logger   *utils.Logger
}

func NewApplicationEngine(sessions SessionOpener, mapper *FieldMapper, verifier *SubmissionVerifier, captchas *CaptchaResolver, email ConfirmationChecker, shots *ScreenshotService) *ApplicationEngine {
	return &ApplicationEngine{
		sessions: sessions,
		mapper:   mapper,
		verifier: verifier,
		captchas: captchas,
		email:    email,
		shots:    shots,
		logger:   utils.GlobalLogger.Named("engine"),
	}
}

// Apply runs one attempt against the job's page. It never returns an
// error: every way an attempt can end, including a panic somewhere in
// the browser layer, is folded into the attempt record so the queue
// always gets a finalized outcome. The first terminal reason recorded
// wins; later stages cannot overwrite it.
func (e *ApplicationEngine) Apply(ctx context.Context, job *models.Job, profile config.ApplicantProfile) (attempt *models.ApplicationAttempt) {
	started := time.Now()
	attempt = &models.ApplicationAttempt{
		JobID:     job.ID,
		StartedAt: started,
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("attempt panicked", fmt.Errorf("%v", r), map[string]interface{}{
				"job_id": job.ID,
			})
			e.fail(attempt, ReasonUnexpected, fmt.Sprintf("panic: %v", r))
		}
		attempt.FinishedAt = time.Now()
		attemptsTotal.WithLabelValues(string(attempt.Outcome)).Inc()
		attemptDuration.Observe(attempt.FinishedAt.Sub(started).Seconds())
		fieldsFilledTotal.Add(float64(attempt.FieldsFilled))

		e.logger.Info("attempt finished", map[string]interface{}{
			"job_id":        job.ID,
			"outcome":       string(attempt.Outcome),
			"reason":        attempt.FailureReason,
			"fields_filled": attempt.FieldsFilled,
			"fields_total":  attempt.FieldsTotal,
		})
	}()

	session, err := e.sessions.Open()
	if err != nil {
		e.fail(attempt, ReasonNavigationError, fmt.Sprintf("could not open browser session: %v", err))
		return attempt
	}
	defer session.Close()

	// NAVIGATING
	if err := session.Navigate(job.URL); err != nil {
		e.fail(attempt, ReasonNavigationError, err.Error())
		return attempt
	}

	// ANALYZING. A closed posting is checked before the form scan so a
	// leftover form on a dead page does not get filled.
	if html, err := session.HTML(); err == nil {
		if phrase, closed := e.verifier.PostingClosed(html); closed {
			e.fail(attempt, ReasonNoFormDetected, fmt.Sprintf("posting closed: page says %q", phrase))
			return attempt
		}
	}

	inventory, err := session.Analyze(job.URL)
	if err != nil {
		e.fail(attempt, ReasonUnexpected, fmt.Sprintf("page scan failed: %v", err))
		return attempt
	}
	if inventory.Len() == 0 {
		e.fail(attempt, ReasonNoFormDetected, "page has no fillable controls")
		return attempt
	}
	attempt.FieldsTotal = inventory.Len()

	// FILLING
	mapping := e.mapper.Map(inventory, profile)
	attempt.Warnings = mapping.Warnings

	if !e.clearCaptcha(ctx, job, session, attempt) {
		return attempt
	}

	for _, assignment := range mapping.Assignments {
		field := inventory.Fields[assignment.FieldIndex]
		if err := e.writeWithRetry(session, field, assignment); err != nil {
			attempt.FailedFields = append(attempt.FailedFields, describeField(field))
			e.logger.Warn("field write failed", map[string]interface{}{
				"job_id": job.ID, "field": describeField(field), "error": err.Error(),
			})
			continue
		}
		attempt.FieldsFilled++
	}

	if len(mapping.Assignments) > 0 && attempt.FieldsFilled == 0 {
		e.snapshot(session, attempt, "fill_failure")
		e.fail(attempt, ReasonFieldWriteError, "every field write failed")
		return attempt
	}

	// A challenge can appear only after the form is touched, so scan
	// again before submitting.
	if !e.clearCaptcha(ctx, job, session, attempt) {
		return attempt
	}

	// SUBMITTING
	clicked, err := session.Submit()
	if err != nil {
		attempt.Warnings = append(attempt.Warnings, fmt.Sprintf("submit failed: %v", err))
	} else if !clicked {
		attempt.Warnings = append(attempt.Warnings, "submit control was disabled")
	}

	// VERIFYING
	e.snapshot(session, attempt, "submission")

	html, err := session.HTML()
	if err != nil {
		e.fail(attempt, ReasonVerificationAmbiguous, fmt.Sprintf("could not read result page: %v", err))
		return attempt
	}

	verdict, evidence := e.verifier.Verify(session.PageURL(), session.PageTitle(), html)
	switch verdict {
	case VerdictConfirmed:
		e.succeed(attempt, job, evidence)
	case VerdictRejected:
		e.fail(attempt, ReasonFieldWriteError, "form rejected the submission: "+evidence)
	default:
		if subject, ok := e.emailConfirms(ctx, job); ok {
			e.succeed(attempt, job, fmt.Sprintf("inbox receipt %q", subject))
			return attempt
		}
		e.fail(attempt, ReasonVerificationAmbiguous, evidence)
	}
	return attempt
}

// clearCaptcha scans for a challenge and, when one is present, runs it
// through the resolver. A false return means the attempt is over.
func (e *ApplicationEngine) clearCaptcha(ctx context.Context, job *models.Job, session BrowserSession, attempt *models.ApplicationAttempt) bool {
	challenge, found := session.DetectCaptcha()
	if !found {
		return true
	}

	e.logger.Info("captcha detected", map[string]interface{}{
		"job_id": job.ID, "type": string(challenge.Type),
	})
	outcome := e.captchas.Resolve(ctx, job, challenge, session)

	if challenge.ScreenshotKey != "" && attempt.ScreenshotKey == "" {
		attempt.ScreenshotKey = challenge.ScreenshotKey
	}

	if !outcome.Resolved {
		e.fail(attempt, ReasonCaptchaUnresolved, fmt.Sprintf("%s challenge %s", challenge.Type, outcome.Decision))
		return false
	}

	if outcome.Token != "" {
		if err := session.InjectCaptchaToken(challenge, outcome.Token); err != nil {
			// Verification will judge whether the submission survived
			// without the token.
			attempt.Warnings = append(attempt.Warnings, fmt.Sprintf("token injection failed: %v", err))
		}
	}
	return true
}

func (e *ApplicationEngine) writeWithRetry(session BrowserSession, field FieldDescriptor, assignment FieldAssignment) error {
	var err error
	for try := 0; try < fieldWriteRetries; try++ {
		if try > 0 {
			time.Sleep(fieldRetryDelay)
		}
		if err = session.WriteField(field, assignment); err == nil {
			return nil
		}
	}
	return err
}

// emailConfirms asks the inbox whether an ATS receipt arrived for this
// company. An unconfigured checker leaves the ambiguity standing.
func (e *ApplicationEngine) emailConfirms(ctx context.Context, job *models.Job) (string, bool) {
	if e.email == nil || !e.email.Enabled() {
		return "", false
	}
	msgs, err := e.email.FetchRecent(ctx, ConfirmationQuery, 10)
	if err != nil {
		e.logger.Warn("inbox check failed", map[string]interface{}{
			"job_id": job.ID, "error": err.Error(),
		})
		return "", false
	}
	if ok, subject := ConfirmsSubmission(msgs, job.Company); ok {
		return subject, true
	}
	return "", false
}

func (e *ApplicationEngine) snapshot(session BrowserSession, attempt *models.ApplicationAttempt, kind string) {
	if !e.shots.Enabled() {
		return
	}
	shot, err := session.CapturePage()
	if err != nil {
		e.logger.Warn("page screenshot failed", map[string]interface{}{"error": err.Error()})
		return
	}
	key, _, err := e.shots.Upload(shot, kind)
	if err != nil {
		e.logger.Warn("screenshot upload failed", map[string]interface{}{"error": err.Error()})
		return
	}
	attempt.ScreenshotKey = key
}

func (e *ApplicationEngine) succeed(attempt *models.ApplicationAttempt, job *models.Job, evidence string) {
	if attempt.Outcome != "" {
		return
	}
	attempt.Outcome = models.OutcomeSubmitted
	e.logger.Info("submission confirmed", map[string]interface{}{
		"job_id": job.ID, "evidence": evidence,
	})
}

func (e *ApplicationEngine) fail(attempt *models.ApplicationAttempt, reason, detail string) {
	if attempt.Outcome != "" {
		return
	}
	if reason == ReasonCaptchaUnresolved {
		attempt.Outcome = models.OutcomeCaptchaUnresolved
	} else {
		attempt.Outcome = models.OutcomeFailed
	}
	attempt.FailureReason = reason
	attempt.FailureDetail = detail
}
