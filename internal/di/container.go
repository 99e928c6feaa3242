package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/phish-triage/internal/adapters/httpapi"
	"github.com/mikey/phish-triage/internal/adapters/smtpfilter"
	"github.com/mikey/phish-triage/internal/config"
	"github.com/mikey/phish-triage/internal/core"
	"github.com/mikey/phish-triage/internal/factory"
	"github.com/mikey/phish-triage/internal/logging"
	"github.com/mikey/phish-triage/internal/utils"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register text processor
	if err := container.Provide(utils.NewTextProcessor); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewScorerFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewHistoryFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewEvaluatorFactory); err != nil {
		return nil, err
	}

	// Register text scorer
	if err := container.Provide(func(f *factory.ScorerFactory) (core.TextScorer, error) {
		return f.CreateTextScorer()
	}); err != nil {
		return nil, err
	}

	// Register sender history store
	if err := container.Provide(func(f *factory.HistoryFactory) (core.SenderHistoryStore, error) {
		return f.CreateHistoryStore()
	}); err != nil {
		return nil, err
	}

	// Register domain age lookup
	if err := container.Provide(func(f *factory.EvaluatorFactory) (core.DomainAgeLookup, error) {
		return f.CreateDomainAgeLookup()
	}); err != nil {
		return nil, err
	}

	// Register evaluators and orchestrator
	if err := container.Provide(func(
		f *factory.EvaluatorFactory,
		scorer core.TextScorer,
		store core.SenderHistoryStore,
		ageLookup core.DomainAgeLookup,
	) []core.Evaluator {
		return f.CreateEvaluators(scorer, store, ageLookup)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(f *factory.EvaluatorFactory, evaluators []core.Evaluator) (*core.Orchestrator, error) {
		return f.CreateOrchestrator(evaluators)
	}); err != nil {
		return nil, err
	}

	// Register header evaluator, named so it is not confused with the
	// fused evaluator slice
	if err := container.Provide(func(f *factory.EvaluatorFactory) core.Evaluator {
		return f.CreateHeaderEvaluator()
	}, dig.Name("header")); err != nil {
		return nil, err
	}

	// Register transports
	if err := container.Provide(func(in transportDeps) *httpapi.Server {
		return httpapi.NewServer(in.Cfg.GetHTTP(), in.Orchestrator, in.HeaderEval, in.Logger)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(cfg *config.Config, orchestrator *core.Orchestrator, logger *zap.Logger) *smtpfilter.Filter {
		return smtpfilter.NewFilter(cfg.GetSMTP(), orchestrator, logger)
	}); err != nil {
		return nil, err
	}

	return container, nil
}

// transportDeps pulls the named header evaluator alongside the rest of
// the HTTP server's dependencies.
type transportDeps struct {
	dig.In

	Cfg          *config.Config
	Orchestrator *core.Orchestrator
	HeaderEval   core.Evaluator `name:"header"`
	Logger       *zap.Logger
}
