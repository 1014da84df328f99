package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"applypilot/config"
	"applypilot/utils"
)

// ConfirmationQuery narrows the inbox scan to the emails ATS platforms
// send right after a submission.
const ConfirmationQuery = "subject:(application OR confirmation OR received OR thank) newer_than:1d"

var confirmationKeywords = []string{
	"application received",
	"we received your application",
	"thank you for applying",
	"thank you for your application",
	"application confirmation",
	"successfully submitted",
	"confirmation",
}

// EmailVerifier cross-checks ambiguous submissions against the
// applicant's inbox. Most ATS platforms send a receipt within minutes,
// so a matching email turns an ambiguous verification into a confirmed
// one. Unconfigured, the ambiguity simply stands.
type EmailVerifier struct {
	gmail  *gmail.Service
	logger *utils.Logger
}

// NewEmailVerifier builds a Gmail-backed verifier. The OAuth token must
// already be provisioned; a daemon cannot run the consent flow.
func NewEmailVerifier(ctx context.Context, cfg config.GmailConfig) (*EmailVerifier, error) {
	verifier := &EmailVerifier{logger: utils.GlobalLogger.Named("email")}
	if !cfg.Enabled {
		return verifier, nil
	}

	b, err := os.ReadFile(cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file: %v", err)
	}
	oauthConfig, err := google.ConfigFromJSON(b, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %v", err)
	}

	token, err := tokenFromFile(cfg.TokenPath)
	if err != nil {
		return nil, fmt.Errorf("no gmail token at %s, authorize the app first: %v", cfg.TokenPath, err)
	}

	client := oauthConfig.Client(ctx, token)
	service, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create gmail service: %v", err)
	}

	verifier.gmail = service
	return verifier, nil
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	token := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(token)
	return token, err
}

func (v *EmailVerifier) Enabled() bool {
	return v != nil && v.gmail != nil
}

// FetchRecent pulls the latest messages matching the query with full
// payloads.
func (v *EmailVerifier) FetchRecent(ctx context.Context, query string, max int64) ([]*gmail.Message, error) {
	if !v.Enabled() {
		return nil, nil
	}

	resp, err := v.gmail.Users.Messages.List("me").Q(query).MaxResults(max).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("could not list messages: %v", err)
	}

	var messages []*gmail.Message
	for _, header := range resp.Messages {
		msg, err := v.gmail.Users.Messages.Get("me", header.Id).Context(ctx).Do()
		if err != nil {
			v.logger.Warn("could not fetch message", map[string]interface{}{"id": header.Id, "error": err.Error()})
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// ConfirmsSubmission scans fetched messages for an application receipt
// from the given company. Company match is a substring check on sender
// and subject; with no company known, any receipt counts.
func ConfirmsSubmission(msgs []*gmail.Message, company string) (bool, string) {
	companyLower := strings.ToLower(strings.TrimSpace(company))

	for _, msg := range msgs {
		headers := messageHeaders(msg)
		subject := headers["Subject"]
		sender := headers["From"]
		subjectLower := strings.ToLower(subject)
		senderLower := strings.ToLower(sender)

		if companyLower != "" &&
			!strings.Contains(senderLower, companyLower) &&
			!strings.Contains(subjectLower, companyLower) {
			continue
		}

		for _, keyword := range confirmationKeywords {
			if strings.Contains(subjectLower, keyword) {
				return true, subject
			}
		}
	}
	return false, ""
}

func messageHeaders(msg *gmail.Message) map[string]string {
	headers := make(map[string]string)
	if msg == nil || msg.Payload == nil {
		return headers
	}
	for _, h := range msg.Payload.Headers {
		headers[h.Name] = h.Value
	}
	return headers
}
