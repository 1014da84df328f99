package services

import (
	"context"
	"errors"

	"applypilot/models"
	"applypilot/utils"
)

// CaptchaEventStore records challenge lifecycle rows for auditing spend
// and human load.
type CaptchaEventStore interface {
	Create(jobID, captchaType, siteKey string) (*models.CaptchaEvent, error)
	UpdateResolution(id int, resolution models.CaptchaResolution, solver string, costUSD float64) error
}

// ChallengeViewer captures an image of the captcha widget for the
// escalation message. The browser session implements it.
type ChallengeViewer interface {
	CaptureChallenge(challenge *CaptchaChallenge) ([]byte, error)
}

// CaptchaOutcome reports how a challenge ended and what the engine
// still has to do. A non-empty Token must be injected into the page; a
// human-solved challenge carries no token because the operator acted on
// the live page.
type CaptchaOutcome struct {
	Resolved bool
	Token    string
	Solver   string
	CostUSD  float64
	Decision HumanDecision
}

// CaptchaResolver runs the three-tier resolution ladder: cached token,
// paid solver, human escalation. Every challenge ends in exactly one of
// those, and every challenge is recorded as a captcha event.
type CaptchaResolver struct {
	solver    CaptchaSolver
	guard     *CaptchaGuard
	assistant *HumanAssistant
	messenger Messenger
	shots     *ScreenshotService
	events    CaptchaEventStore
	logger    *utils.Logger
}

func NewCaptchaResolver(solver CaptchaSolver, guard *CaptchaGuard, assistant *HumanAssistant, messenger Messenger, shots *ScreenshotService, events CaptchaEventStore) *CaptchaResolver {
	return &CaptchaResolver{
		solver:    solver,
		guard:     guard,
		assistant: assistant,
		messenger: messenger,
		shots:     shots,
		events:    events,
		logger:    utils.GlobalLogger.Named("captcha"),
	}
}

// Resolve works a challenge to a decision. It never returns an error:
// anything that blocks automation falls through to the human tier, and
// a human non-answer is itself a decision.
func (r *CaptchaResolver) Resolve(ctx context.Context, job *models.Job, challenge *CaptchaChallenge, viewer ChallengeViewer) CaptchaOutcome {
	eventID := r.openEvent(job, challenge)

	if token, ok := r.cachedToken(ctx, challenge); ok {
		r.closeEvent(eventID, models.ResolutionSolved, "cache", 0)
		captchaResolutionsTotal.WithLabelValues(string(challenge.Type), "cache", "solved").Inc()
		return CaptchaOutcome{Resolved: true, Token: token, Solver: "cache"}
	}

	if token, cost, ok := r.trySolver(ctx, challenge); ok {
		r.closeEvent(eventID, models.ResolutionSolved, "2captcha", cost)
		captchaResolutionsTotal.WithLabelValues(string(challenge.Type), "2captcha", "solved").Inc()
		captchaSpendUSD.Add(cost)
		return CaptchaOutcome{Resolved: true, Token: token, Solver: "2captcha", CostUSD: cost}
	}

	decision := r.askHuman(ctx, job, challenge, viewer)
	outcome := CaptchaOutcome{Solver: "human", Decision: decision}
	switch decision {
	case DecisionSolved:
		outcome.Resolved = true
		r.closeEvent(eventID, models.ResolutionSolved, "human", 0)
	case DecisionSkipped:
		r.closeEvent(eventID, models.ResolutionSkipped, "human", 0)
	default:
		r.closeEvent(eventID, models.ResolutionTimedOut, "human", 0)
	}
	captchaResolutionsTotal.WithLabelValues(string(challenge.Type), "human", string(decision)).Inc()
	return outcome
}

func (r *CaptchaResolver) cachedToken(ctx context.Context, challenge *CaptchaChallenge) (string, bool) {
	if r.guard == nil || challenge.SiteKey == "" {
		return "", false
	}
	token, ok, err := r.guard.CachedToken(ctx, challenge.SiteKey, challenge.PageURL)
	if err != nil {
		r.logger.Warn("token cache lookup failed", map[string]interface{}{"error": err.Error()})
		return "", false
	}
	if ok {
		r.logger.Info("reusing cached captcha token", map[string]interface{}{
			"type": challenge.Type, "page": challenge.PageURL,
		})
	}
	return token, ok
}

// trySolver runs the paid tier. Any refusal, whether rate limit,
// budget, unsupported type or solver failure, means escalation.
func (r *CaptchaResolver) trySolver(ctx context.Context, challenge *CaptchaChallenge) (string, float64, bool) {
	if r.solver == nil {
		return "", 0, false
	}
	if challenge.Type == CaptchaImage {
		// Bare image captchas have no token flow to automate here.
		return "", 0, false
	}

	if r.guard != nil {
		allowed, err := r.guard.AllowAttempt(ctx)
		if err != nil {
			r.logger.Warn("rate limit check failed", map[string]interface{}{"error": err.Error()})
			return "", 0, false
		}
		if !allowed {
			r.logger.Warn("hourly solve limit reached, escalating", nil)
			return "", 0, false
		}

		price := r.solver.Price(challenge.Type)
		affordable, err := r.guard.CanSpend(ctx, price)
		if err != nil {
			r.logger.Warn("budget check failed", map[string]interface{}{"error": err.Error()})
			return "", 0, false
		}
		if !affordable {
			r.logger.Warn("daily solver budget exhausted, escalating", map[string]interface{}{
				"price": price,
			})
			return "", 0, false
		}
	}

	token, cost, err := r.solver.SolveChallenge(ctx, challenge)
	if err != nil {
		if !errors.Is(err, ErrSolverUnsupported) {
			r.logger.Warn("automated solve failed", map[string]interface{}{
				"type": challenge.Type, "error": err.Error(),
			})
		}
		return "", 0, false
	}

	if r.guard != nil {
		if err := r.guard.RecordSpend(ctx, cost); err != nil {
			r.logger.Warn("could not record solver spend", map[string]interface{}{"error": err.Error()})
		}
		if challenge.SiteKey != "" {
			if err := r.guard.CacheToken(ctx, challenge.SiteKey, challenge.PageURL, token); err != nil {
				r.logger.Warn("could not cache token", map[string]interface{}{"error": err.Error()})
			}
		}
	}
	return token, cost, true
}

// askHuman posts the escalation and blocks until the operator acts or
// the window closes.
func (r *CaptchaResolver) askHuman(ctx context.Context, job *models.Job, challenge *CaptchaChallenge, viewer ChallengeViewer) HumanDecision {
	screenshotKey, screenshotURL := r.challengeShot(challenge, viewer)
	challenge.ScreenshotKey = screenshotKey

	req := r.assistant.OpenRequest()
	r.logger.Info("escalating captcha to human", map[string]interface{}{
		"request_id": req.ID, "job_id": job.ID, "type": challenge.Type,
	})

	if r.messenger != nil {
		if err := r.messenger.SendCaptchaEscalation(ctx, req.ID, job, challenge, screenshotURL, r.assistant.Timeout()); err != nil {
			r.logger.Warn("could not deliver escalation message", map[string]interface{}{"error": err.Error()})
		}
	}

	return req.Await(ctx)
}

func (r *CaptchaResolver) challengeShot(challenge *CaptchaChallenge, viewer ChallengeViewer) (string, string) {
	if viewer == nil || !r.shots.Enabled() {
		return "", ""
	}
	shot, err := viewer.CaptureChallenge(challenge)
	if err != nil {
		r.logger.Warn("could not capture challenge", map[string]interface{}{"error": err.Error()})
		return "", ""
	}
	key, url, err := r.shots.Upload(shot, "captcha")
	if err != nil {
		r.logger.Warn("could not store challenge screenshot", map[string]interface{}{"error": err.Error()})
		return key, ""
	}
	return key, url
}

func (r *CaptchaResolver) openEvent(job *models.Job, challenge *CaptchaChallenge) int {
	if r.events == nil {
		return 0
	}
	event, err := r.events.Create(job.ID, string(challenge.Type), challenge.SiteKey)
	if err != nil {
		r.logger.Warn("could not record captcha event", map[string]interface{}{"error": err.Error()})
		return 0
	}
	return event.ID
}

func (r *CaptchaResolver) closeEvent(eventID int, resolution models.CaptchaResolution, solver string, costUSD float64) {
	if r.events == nil || eventID == 0 {
		return
	}
	if err := r.events.UpdateResolution(eventID, resolution, solver, costUSD); err != nil {
		r.logger.Warn("could not update captcha event", map[string]interface{}{"error": err.Error()})
	}
}
