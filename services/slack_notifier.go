package services

import (
	"context"
	"fmt"
	"time"

	"github.com/slack-go/slack"

	"applypilot/config"
	"applypilot/models"
	"applypilot/utils"
)

// Slack action IDs carried by interactive buttons. The actions
// controller routes callbacks by these.
const (
	ActionCaptchaSolved = "captcha_solved"
	ActionCaptchaSkip   = "captcha_skip"
	ActionAutoApply     = "auto_apply_job"
	ActionDeclineJob    = "decline_job"
	ActionManualApply   = "manual_apply_job"
)

// Messenger is the notification surface the worker and captcha
// escalation depend on.
type Messenger interface {
	SendCaptchaEscalation(ctx context.Context, requestID string, job *models.Job, challenge *CaptchaChallenge, screenshotURL string, timeout time.Duration) error
	SendJobApproval(ctx context.Context, job *models.Job) error
	SendAttemptResult(ctx context.Context, job *models.Job, attempt *models.ApplicationAttempt) error
	SendDailyDigest(ctx context.Context, stats QueueStats, captchaSpend float64) error
}

// SlackMessenger posts interactive messages to the operator channel.
// With no bot token configured it degrades to logging, and captcha
// escalations simply time out.
type SlackMessenger struct {
	client  *slack.Client
	channel string
	logger  *utils.Logger
}

func NewSlackMessenger(cfg config.SlackConfig) *SlackMessenger {
	messenger := &SlackMessenger{
		channel: cfg.Channel,
		logger:  utils.GlobalLogger.Named("slack"),
	}
	if cfg.BotToken != "" {
		messenger.client = slack.New(cfg.BotToken)
	}
	return messenger
}

func (m *SlackMessenger) Enabled() bool {
	return m.client != nil
}

// SendCaptchaEscalation posts the challenge screenshot with solved and
// skip buttons wired to the escalation request.
func (m *SlackMessenger) SendCaptchaEscalation(ctx context.Context, requestID string, job *models.Job, challenge *CaptchaChallenge, screenshotURL string, timeout time.Duration) error {
	if !m.Enabled() {
		m.logger.Warn("slack disabled, captcha escalation will time out", map[string]interface{}{"job_id": job.ID})
		return nil
	}

	headline := fmt.Sprintf(
		"🧩 *Captcha needs a human* (%s)\n*%s* at *%s*\n<%s|Open the application page>, solve the challenge, then press a button within %s.",
		challenge.Type, job.Title, job.Company, job.URL, timeout.Round(time.Second),
	)

	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, headline, false, false), nil, nil),
	}
	if screenshotURL != "" {
		blocks = append(blocks, slack.NewImageBlock(screenshotURL, "captcha challenge", "", nil))
	}

	solvedBtn := slack.NewButtonBlockElement(ActionCaptchaSolved, requestID,
		slack.NewTextBlockObject(slack.PlainTextType, "I solved it", false, false))
	solvedBtn.Style = slack.StylePrimary
	skipBtn := slack.NewButtonBlockElement(ActionCaptchaSkip, requestID,
		slack.NewTextBlockObject(slack.PlainTextType, "Skip this job", false, false))
	skipBtn.Style = slack.StyleDanger
	blocks = append(blocks, slack.NewActionBlock("", solvedBtn, skipBtn))

	_, _, err := m.client.PostMessageContext(ctx, m.channel,
		slack.MsgOptionText(fmt.Sprintf("Captcha needs a human for %s at %s", job.Title, job.Company), false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return fmt.Errorf("could not post captcha escalation: %v", err)
	}
	return nil
}

// SendJobApproval announces a newly enqueued job with apply, decline
// and manual buttons.
func (m *SlackMessenger) SendJobApproval(ctx context.Context, job *models.Job) error {
	if !m.Enabled() {
		return nil
	}

	headline := fmt.Sprintf("📋 *New job queued*\n*%s* at *%s* (%s)\n<%s|View posting>",
		job.Title, job.Company, job.Source, job.URL)

	applyBtn := slack.NewButtonBlockElement(ActionAutoApply, job.ID,
		slack.NewTextBlockObject(slack.PlainTextType, "Auto-apply", false, false))
	applyBtn.Style = slack.StylePrimary
	declineBtn := slack.NewButtonBlockElement(ActionDeclineJob, job.ID,
		slack.NewTextBlockObject(slack.PlainTextType, "Decline", false, false))
	declineBtn.Style = slack.StyleDanger
	manualBtn := slack.NewButtonBlockElement(ActionManualApply, job.ID,
		slack.NewTextBlockObject(slack.PlainTextType, "I'll apply myself", false, false))

	_, _, err := m.client.PostMessageContext(ctx, m.channel,
		slack.MsgOptionText(fmt.Sprintf("New job queued: %s at %s", job.Title, job.Company), false),
		slack.MsgOptionBlocks(
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, headline, false, false), nil, nil),
			slack.NewActionBlock("", applyBtn, declineBtn, manualBtn),
		),
	)
	if err != nil {
		return fmt.Errorf("could not post job approval: %v", err)
	}
	return nil
}

// SendAttemptResult reports how an application attempt ended.
func (m *SlackMessenger) SendAttemptResult(ctx context.Context, job *models.Job, attempt *models.ApplicationAttempt) error {
	if !m.Enabled() {
		return nil
	}

	var text string
	switch attempt.Outcome {
	case models.OutcomeSubmitted:
		text = fmt.Sprintf("✅ Applied to *%s* at *%s* (%d/%d fields filled)",
			job.Title, job.Company, attempt.FieldsFilled, attempt.FieldsTotal)
	case models.OutcomeCaptchaUnresolved:
		text = fmt.Sprintf("🧩 Gave up on *%s* at *%s*: captcha went unresolved", job.Title, job.Company)
	default:
		text = fmt.Sprintf("❌ Failed to apply to *%s* at *%s*: %s", job.Title, job.Company, attempt.FailureReason)
		if attempt.FailureDetail != "" {
			text += "\n> " + attempt.FailureDetail
		}
	}
	for _, warning := range attempt.Warnings {
		text += "\n• " + warning
	}

	_, _, err := m.client.PostMessageContext(ctx, m.channel,
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		return fmt.Errorf("could not post attempt result: %v", err)
	}
	return nil
}

// SendDailyDigest posts the morning summary of queue health and
// captcha spend.
func (m *SlackMessenger) SendDailyDigest(ctx context.Context, stats QueueStats, captchaSpend float64) error {
	if !m.Enabled() {
		return nil
	}

	text := fmt.Sprintf(
		"☀️ *Daily application digest*\nPending: %d · Applying: %d · Applied: %d · Declined: %d · Failed: %d\nFields filled all-time: %d\nSuccess rate: %.0f%%\nCaptcha spend today: $%.3f",
		stats.Pending, stats.Applying, stats.Applied, stats.Declined, stats.Failed,
		stats.FieldsFilled, stats.SuccessRate*100, captchaSpend,
	)

	_, _, err := m.client.PostMessageContext(ctx, m.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("could not post daily digest: %v", err)
	}
	return nil
}
