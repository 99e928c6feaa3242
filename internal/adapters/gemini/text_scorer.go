package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/mikey/phish-triage/internal/utils"
)

// TextScorer is an implementation of the TextScorer interface using
// Google Gemini.
type TextScorer struct {
	client        *genai.Client
	model         *genai.GenerativeModel
	modelName     string
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

// NewTextScorer creates a new Gemini text scorer
func NewTextScorer(
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) (*TextScorer, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(temperature)
	model.SetTopP(topP)
	model.SetMaxOutputTokens(int32(maxTokens))

	return &TextScorer{
		client:        client,
		model:         model,
		modelName:     modelName,
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
	}, nil
}

// Close closes the Gemini client
func (s *TextScorer) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// ScoreText rates the subject and body for phishing likelihood.
func (s *TextScorer) ScoreText(ctx context.Context, subject, body string) (float64, error) {
	processedBody := s.textProcessor.ProcessText(body, s.maxBodySize)
	prompt := fmt.Sprintf(s.promptFormat, subject, processedBody)

	resp, err := s.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return 0, fmt.Errorf("failed to generate content with Gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return 0, fmt.Errorf("empty response from Gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	parsed, err := parseScoreResponse(responseText.String())
	if err != nil {
		return 0, err
	}

	s.logger.Debug("Gemini text score",
		zap.Float64("score", parsed.Score),
		zap.String("model", s.modelName))

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
