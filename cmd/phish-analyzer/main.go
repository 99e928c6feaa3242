package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mikey/phish-triage/internal/adapters/smtpfilter"
	"github.com/mikey/phish-triage/internal/config"
	"github.com/mikey/phish-triage/internal/core"
	"github.com/mikey/phish-triage/internal/factory"
	"github.com/mikey/phish-triage/internal/logging"
	"github.com/mikey/phish-triage/internal/utils"
)

var (
	// Scorer flags
	provider    = flag.String("provider", "none", "ML scorer provider (bedrock, gemini, openai, none)")
	maxTokens   = flag.Int("max-tokens", 1000, "Maximum tokens for scorer response")
	temperature = flag.Float64("temperature", 0.1, "Temperature for scorer generation")
	topP        = flag.Float64("top-p", 0.9, "Top-p for scorer generation")
	maxBodySize = flag.Int("max-body-size", 4096, "Maximum email body size to send to the scorer")

	// Bedrock flags
	bedrockRegion  = flag.String("bedrock-region", "us-east-1", "AWS region for Bedrock")
	bedrockModelID = flag.String("bedrock-model", "anthropic.claude-v2", "Bedrock model ID")

	// Gemini flags
	geminiAPIKey    = flag.String("gemini-api-key", "", "API key for Google Gemini")
	geminiModelName = flag.String("gemini-model", "gemini-pro", "Gemini model name")

	// OpenAI flags
	openaiAPIKey    = flag.String("openai-api-key", "", "API key for OpenAI")
	openaiModelName = flag.String("openai-model", "gpt-4", "OpenAI model name")

	// Analysis flags
	trustedDomains = flag.String("trusted", "", "Comma-separated list of trusted domains")
	whoisEnabled   = flag.Bool("whois", false, "Enable WHOIS registration age lookups")

	// Input flags
	inputFile  = flag.String("file", "", "Input email file (use stdin if not specified)")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	jsonLog    = flag.Bool("json-log", false, "Output logs in JSON format")
	configFile = flag.String("config", "", "Path to config file (overrides command line flags)")
)

func main() {
	flag.Parse()
	_ = godotenv.Load()

	logger, err := logging.InitConsoleLogger(*verbose, *jsonLog)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	var cfg *config.Config
	if *configFile != "" {
		cfg, err = config.New()
		if err != nil {
			logger.Fatal("Failed to load configuration", zap.Error(err))
		}
		logger.Info("Loaded configuration from file", zap.String("file", cfg.GetViper().ConfigFileUsed()))
	} else {
		cfg = createConfigFromFlags()
	}

	// Assemble the pipeline without a persistent history store
	textProcessor := utils.NewTextProcessor(logger)
	scorerFactory := factory.NewScorerFactory(cfg, logger, textProcessor)
	scorer, err := scorerFactory.CreateTextScorer()
	if err != nil {
		logger.Fatal("Failed to create text scorer", zap.Error(err))
	}

	historyFactory := factory.NewHistoryFactory(cfg, logger)
	store, err := historyFactory.CreateHistoryStore()
	if err != nil {
		logger.Fatal("Failed to create history store", zap.Error(err))
	}

	evaluatorFactory := factory.NewEvaluatorFactory(cfg, logger)
	ageLookup, err := evaluatorFactory.CreateDomainAgeLookup()
	if err != nil {
		logger.Fatal("Failed to create domain age lookup", zap.Error(err))
	}
	evaluators := evaluatorFactory.CreateEvaluators(scorer, store, ageLookup)
	orchestrator, err := evaluatorFactory.CreateOrchestrator(evaluators)
	if err != nil {
		logger.Fatal("Failed to create orchestrator", zap.Error(err))
	}
	headerEval := evaluatorFactory.CreateHeaderEvaluator()

	// Read email from file or stdin
	var emailReader io.Reader
	if *inputFile != "" {
		file, err := os.Open(*inputFile)
		if err != nil {
			logger.Fatal("Failed to open input file", zap.Error(err), zap.String("file", *inputFile))
		}
		defer file.Close()
		emailReader = file
		logger.Info("Reading email from file", zap.String("file", *inputFile))
	} else {
		emailReader = os.Stdin
		logger.Info("Reading email from stdin")
	}

	msg, err := mail.ReadMessage(bufio.NewReader(emailReader))
	if err != nil {
		logger.Fatal("Failed to parse email", zap.Error(err))
	}

	email, err := smtpfilter.EmailFromMessage(msg, "", nil)
	if err != nil {
		logger.Fatal("Failed to extract email content", zap.Error(err))
	}

	fmt.Printf("\n=== Email Summary ===\n")
	fmt.Printf("From: %s\n", email.From)
	fmt.Printf("To: %s\n", email.To)
	fmt.Printf("Subject: %s\n", email.Subject)
	fmt.Printf("Body length: %d bytes\n", len(email.BodyText)+len(email.BodyHTML))
	fmt.Printf("Attachments: %d\n", len(email.Attachments))

	startTime := time.Now()
	result, err := orchestrator.Analyze(context.Background(), email)
	if err != nil {
		logger.Fatal("Failed to analyze email", zap.Error(err))
	}
	headerFinding, err := headerEval.Evaluate(context.Background(), email)
	if err != nil {
		logger.Fatal("Failed to analyze headers", zap.Error(err))
	}
	duration := time.Since(startTime)

	fmt.Printf("\n=== Results ===\n")
	fmt.Printf("Action: %s\n", result.Action)
	fmt.Printf("Risk score: %.4f\n", result.FinalScore)
	fmt.Printf("Confidence: %.4f\n", result.Confidence)
	fmt.Printf("Summary: %s\n", result.Summary)
	for _, reason := range result.RankedReasons {
		fmt.Printf("  [%s] %.2f: %s\n", reason.Evaluator, reason.Score, reason.Text)
	}

	fmt.Printf("\n=== Routing ===\n")
	if details, ok := headerFinding.Details.(core.HeaderDetails); ok {
		fmt.Printf("Verdict: %s\n", details.Verdict)
		fmt.Printf("Header score: %.4f\n", headerFinding.Score)
		if details.Routing != nil {
			fmt.Printf("Hops: %d (origin %s, delivered by %s)\n",
				details.Routing.TotalHops, details.Routing.OriginServer, details.Routing.FinalServer)
		}
		for _, reason := range headerFinding.Reasons {
			fmt.Printf("  %s\n", reason)
		}
	}
	fmt.Printf("\nProcessing time: %v\n", duration)

	if store != nil {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close history store", zap.Error(err))
		}
	}
	if closer, ok := scorer.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close text scorer", zap.Error(err))
		}
	}
}

// createConfigFromFlags creates a configuration from command line flags
func createConfigFromFlags() *config.Config {
	v := config.NewEmptyViper()

	v.Set("scorer.provider", *provider)
	switch *provider {
	case "bedrock":
		v.Set("bedrock.region", *bedrockRegion)
		v.Set("bedrock.model_id", *bedrockModelID)
		v.Set("bedrock.max_tokens", *maxTokens)
		v.Set("bedrock.temperature", *temperature)
		v.Set("bedrock.top_p", *topP)
		v.Set("bedrock.max_body_size", *maxBodySize)
	case "gemini":
		v.Set("gemini.api_key", *geminiAPIKey)
		v.Set("gemini.model_name", *geminiModelName)
		v.Set("gemini.max_tokens", *maxTokens)
		v.Set("gemini.temperature", *temperature)
		v.Set("gemini.top_p", *topP)
		v.Set("gemini.max_body_size", *maxBodySize)
	case "openai":
		v.Set("openai.api_key", *openaiAPIKey)
		v.Set("openai.model_name", *openaiModelName)
		v.Set("openai.max_tokens", *maxTokens)
		v.Set("openai.temperature", *temperature)
		v.Set("openai.top_p", *topP)
		v.Set("openai.max_body_size", *maxBodySize)
	}

	if *trustedDomains != "" {
		domains := strings.Split(*trustedDomains, ",")
		for i, domain := range domains {
			domains[i] = strings.TrimSpace(domain)
		}
		v.Set("evaluators.trusted_domains", domains)
	}
	v.Set("whois.enabled", *whoisEnabled)
	v.Set("whois.timeout", "5s")
	v.Set("whois.cache_ttl", "24h")
	v.Set("history.type", "memory")

	return config.NewFromViper(v)
}
