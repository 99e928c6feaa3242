package factory

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"

	"github.com/mikey/phish-triage/internal/adapters/bedrock"
	"github.com/mikey/phish-triage/internal/adapters/gemini"
	"github.com/mikey/phish-triage/internal/adapters/openai"
	"github.com/mikey/phish-triage/internal/config"
	"github.com/mikey/phish-triage/internal/core"
	"github.com/mikey/phish-triage/internal/utils"
)

// ScorerFactory creates ML text scorers
type ScorerFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewScorerFactory creates a new scorer factory
func NewScorerFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *ScorerFactory {
	return &ScorerFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateTextScorer creates a text scorer based on the configuration.
// A nil scorer with a nil error means no scorer is configured; the
// content evaluator falls back to its rule engine.
func (f *ScorerFactory) CreateTextScorer() (core.TextScorer, error) {
	scorerCfg := f.cfg.GetScorer()

	switch scorerCfg.Provider {
	case "bedrock":
		bedrockCfg := f.cfg.GetBedrock()
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(bedrockCfg.Region),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		client := bedrockruntime.NewFromConfig(awsCfg)
		return bedrock.NewTextScorer(
			client,
			bedrockCfg.ModelID,
			bedrockCfg.MaxTokens,
			bedrockCfg.Temperature,
			bedrockCfg.TopP,
			bedrockCfg.MaxBodySize,
			f.logger,
			f.textProcessor,
		), nil
	case "gemini":
		geminiCfg := f.cfg.GetGemini()
		return gemini.NewTextScorer(
			geminiCfg.APIKey,
			geminiCfg.ModelName,
			geminiCfg.MaxTokens,
			geminiCfg.Temperature,
			geminiCfg.TopP,
			geminiCfg.MaxBodySize,
			f.logger,
			f.textProcessor,
		)
	case "openai":
		openaiCfg := f.cfg.GetOpenAI()
		return openai.NewTextScorer(
			openaiCfg.APIKey,
			openaiCfg.ModelName,
			openaiCfg.MaxTokens,
			openaiCfg.Temperature,
			openaiCfg.TopP,
			openaiCfg.MaxBodySize,
			f.logger,
			f.textProcessor,
		), nil
	case "none", "":
		f.logger.Info("No text scorer configured, content evaluator will use rules only")
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported scorer provider: %s", scorerCfg.Provider)
	}
}
