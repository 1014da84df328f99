package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"applypilot/config"
	"applypilot/utils"
)

const tailoringTimeout = 60 * time.Second

// TailorResult is what the model returns for one job posting.
type TailorResult struct {
	Summary    string `json:"summary"`
	MatchScore int    `json:"match_score"`
}

// TailoringService rewrites the profile summary for a specific posting.
// It is strictly optional: any failure here degrades to the untailored
// profile text and never blocks an attempt.
type TailoringService struct {
	client  openai.Client
	model   string
	enabled bool
	logger  *utils.Logger
}

func NewTailoringService(cfg config.OpenAIConfig) *TailoringService {
	s := &TailoringService{
		model:  cfg.Model,
		logger: utils.GlobalLogger.Named("tailoring"),
	}
	if cfg.APIKey != "" {
		s.client = openai.NewClient(option.WithAPIKey(cfg.APIKey))
		s.enabled = true
	}
	return s
}

func (s *TailoringService) Enabled() bool {
	return s != nil && s.enabled
}

// Tailor runs one chat completion and parses the JSON answer.
func (s *TailoringService) Tailor(ctx context.Context, resumeText, jobTitle, company, description string) (TailorResult, error) {
	if !s.Enabled() {
		return TailorResult{}, fmt.Errorf("tailoring not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, tailoringTimeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(buildTailoringPrompt(resumeText, jobTitle, company, description)),
		},
		Temperature: openai.Float(0.3),
		MaxTokens:   openai.Int(500),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		},
	}

	completion, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return TailorResult{}, fmt.Errorf("tailoring call failed: %v", err)
	}
	if len(completion.Choices) == 0 {
		return TailorResult{}, fmt.Errorf("no completion choices returned")
	}

	var result TailorResult
	content := cleanJSONResponse(completion.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return TailorResult{}, fmt.Errorf("could not parse tailoring response: %v", err)
	}

	if result.MatchScore < 0 {
		result.MatchScore = 0
	}
	if result.MatchScore > 100 {
		result.MatchScore = 100
	}

	s.logger.Info("summary tailored", map[string]interface{}{
		"company": company, "title": jobTitle, "match_score": result.MatchScore,
	})
	return result, nil
}

func buildTailoringPrompt(resumeText, jobTitle, company, description string) string {
	return fmt.Sprintf(`You are an expert resume writer.

Rewrite the candidate's professional summary so it targets the job below. Keep it truthful to the resume, 3 sentences maximum, no buzzword padding.

Job title: %s
Company: %s

Job description:
%s

Candidate resume:
%s

Return ONLY a JSON object with two keys: "summary" (the rewritten summary) and "match_score" (0-100, how well the resume fits the job).`, jobTitle, company, description, resumeText)
}

// cleanJSONResponse strips the markdown fence some models wrap around
// JSON even when asked not to.
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
