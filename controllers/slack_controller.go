package controllers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"

	"applypilot/services"
	"applypilot/utils"
)

// TickTrigger kicks the worker outside its schedule.
type TickTrigger interface {
	TriggerNow()
}

// SlackController receives interactive button callbacks: captcha
// solved/skip buttons resolve waiting escalations, job approval buttons
// drive queue decisions.
type SlackController struct {
	signingSecret string
	assistant     *services.HumanAssistant
	queue         *services.JobQueue
	worker        TickTrigger
	logger        *utils.Logger
}

func NewSlackController(signingSecret string, assistant *services.HumanAssistant, queue *services.JobQueue, worker TickTrigger) *SlackController {
	return &SlackController{
		signingSecret: signingSecret,
		assistant:     assistant,
		queue:         queue,
		worker:        worker,
		logger:        utils.GlobalLogger.Named("slack"),
	}
}

// HandleInteraction verifies and routes one interaction callback. Slack
// posts these as form-encoded bodies with the JSON in a payload field.
func (sc *SlackController) HandleInteraction(ctx *gin.Context) {
	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		utils.BadRequestError(ctx, "Could not read request body", err)
		return
	}

	if sc.signingSecret != "" {
		if err := sc.verifySignature(ctx.Request.Header, body); err != nil {
			sc.logger.Warn("rejected slack callback", map[string]interface{}{"error": err.Error()})
			utils.UnauthorizedError(ctx, "Slack signature verification failed")
			return
		}
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		utils.BadRequestError(ctx, "Could not parse form body", err)
		return
	}
	payload := values.Get("payload")
	if payload == "" {
		utils.BadRequestError(ctx, "Missing payload field", nil)
		return
	}

	var callback slack.InteractionCallback
	if err := json.Unmarshal([]byte(payload), &callback); err != nil {
		utils.BadRequestError(ctx, "Could not decode interaction payload", err)
		return
	}

	if callback.Type != slack.InteractionTypeBlockActions || len(callback.ActionCallback.BlockActions) == 0 {
		// Slack sends other callback kinds too; acknowledge and move on.
		ctx.Status(http.StatusOK)
		return
	}

	action := callback.ActionCallback.BlockActions[0]
	sc.logger.Info("slack action received", map[string]interface{}{
		"action": action.ActionID, "value": action.Value, "user": callback.User.Name,
	})

	switch action.ActionID {
	case services.ActionCaptchaSolved:
		sc.resolveCaptcha(ctx, action.Value, services.DecisionSolved)
	case services.ActionCaptchaSkip:
		sc.resolveCaptcha(ctx, action.Value, services.DecisionSkipped)
	case services.ActionAutoApply:
		sc.autoApply(ctx, action.Value)
	case services.ActionDeclineJob:
		sc.decline(ctx, action.Value, "declined from Slack")
	case services.ActionManualApply:
		sc.decline(ctx, action.Value, "operator will apply manually")
	default:
		sc.logger.Warn("unknown slack action", map[string]interface{}{"action": action.ActionID})
		ctx.Status(http.StatusOK)
	}
}

func (sc *SlackController) verifySignature(header http.Header, body []byte) error {
	verifier, err := slack.NewSecretsVerifier(header, sc.signingSecret)
	if err != nil {
		return err
	}
	if _, err := verifier.Write(body); err != nil {
		return err
	}
	return verifier.Ensure()
}

func (sc *SlackController) resolveCaptcha(ctx *gin.Context, requestID string, decision services.HumanDecision) {
	if sc.assistant.Resolve(requestID, decision) {
		if decision == services.DecisionSolved {
			sc.reply(ctx, "Got it, resuming the application.")
		} else {
			sc.reply(ctx, "Understood, skipping this job.")
		}
		return
	}
	sc.reply(ctx, "That challenge already closed, nothing to do.")
}

// autoApply leaves the job pending, the worker owns dispatch order. The
// button press just spares the operator the wait for the next tick.
func (sc *SlackController) autoApply(ctx *gin.Context, jobID string) {
	if _, err := sc.queue.Get(jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			sc.reply(ctx, "I don't know that job anymore.")
			return
		}
		utils.InternalServerError(ctx, "Could not load job", err)
		return
	}

	if sc.worker != nil {
		sc.worker.TriggerNow()
		sc.reply(ctx, "On it, the worker is picking the queue up now.")
		return
	}
	sc.reply(ctx, "Queued for the next worker cycle.")
}

func (sc *SlackController) decline(ctx *gin.Context, jobID, note string) {
	_, err := sc.queue.Decline(jobID, note)
	if err == nil {
		sc.reply(ctx, "Done, that job won't be applied to automatically.")
		return
	}
	if errors.Is(err, services.ErrJobNotPending) {
		sc.reply(ctx, "Too late, that job already left the queue.")
		return
	}
	utils.InternalServerError(ctx, "Could not decline job", err)
}

// reply sends a short acknowledgement. Slack shows nothing from the
// immediate response for block actions, the text is for humans reading
// raw webhook logs.
func (sc *SlackController) reply(ctx *gin.Context, text string) {
	ctx.JSON(http.StatusOK, gin.H{"text": text})
}
