package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mikey/phish-triage/internal/utils"
)

// TextScorer is an implementation of the TextScorer interface using
// OpenAI chat completions.
type TextScorer struct {
	client        *openai.Client
	modelName     string
	maxTokens     int
	temperature   float32
	topP          float32
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
	promptFormat  string
}

// scoreResponse represents the structured response from the model.
type scoreResponse struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// NewTextScorer creates a new OpenAI text scorer
func NewTextScorer(
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *TextScorer {
	client := openai.NewClient(apiKey)

	return &TextScorer{
		client:        client,
		modelName:     modelName,
		maxTokens:     maxTokens,
		temperature:   temperature,
		topP:          topP,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
		promptFormat: `You are a phishing detection system. Analyze the following email text and rate how likely it is to be a phishing attempt.
Respond with a JSON object containing:
- score: number between 0 and 1 (higher means more likely phishing)
- reasoning: string (brief explanation of the rating)

Subject: %s
Body:
%s

Respond only with the JSON object and nothing else.`,
	}
}

// ScoreText rates the subject and body for phishing likelihood.
func (s *TextScorer) ScoreText(ctx context.Context, subject, body string) (float64, error) {
	processedBody := s.textProcessor.ProcessText(body, s.maxBodySize)
	prompt := fmt.Sprintf(s.promptFormat, subject, processedBody)

	req := openai.ChatCompletionRequest{
		Model: s.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a phishing detection system. Respond only with JSON.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		TopP:        s.topP,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("failed to create chat completion with OpenAI: %w", err)
	}
	if len(resp.Choices) == 0 {
		return 0, fmt.Errorf("empty response from OpenAI")
	}

	parsed, err := parseScoreResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return 0, err
	}

	s.logger.Debug("OpenAI text score",
		zap.Float64("score", parsed.Score),
		zap.String("model", s.modelName),
		zap.String("processing_id", resp.ID))

	return parsed.Score, nil
}

// parseScoreResponse decodes the model output, tolerating prose around
// the JSON object.
func parseScoreResponse(text string) (scoreResponse, error) {
	var parsed scoreResponse
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return parsed, nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return scoreResponse{}, fmt.Errorf("no JSON object in model response")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return scoreResponse{}, fmt.Errorf("failed to parse model response as JSON: %w", err)
	}
	return parsed, nil
}
