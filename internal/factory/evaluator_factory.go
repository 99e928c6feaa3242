package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/phish-triage/internal/adapters/qrcodec"
	"github.com/mikey/phish-triage/internal/adapters/whois"
	"github.com/mikey/phish-triage/internal/allowlist"
	"github.com/mikey/phish-triage/internal/config"
	"github.com/mikey/phish-triage/internal/core"
	"github.com/mikey/phish-triage/internal/evaluators/behavior"
	"github.com/mikey/phish-triage/internal/evaluators/content"
	"github.com/mikey/phish-triage/internal/evaluators/header"
	"github.com/mikey/phish-triage/internal/evaluators/link"
	"github.com/mikey/phish-triage/internal/evaluators/qr"
)

// EvaluatorFactory assembles the risk evaluators and the orchestrator
// that fuses them.
type EvaluatorFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewEvaluatorFactory creates a new evaluator factory
func NewEvaluatorFactory(cfg *config.Config, logger *zap.Logger) *EvaluatorFactory {
	return &EvaluatorFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateDomainAgeLookup creates the WHOIS registration age lookup, or
// nil when disabled.
func (f *EvaluatorFactory) CreateDomainAgeLookup() (core.DomainAgeLookup, error) {
	if !f.cfg.GetBool("whois.enabled") {
		return nil, nil
	}
	timeout, err := f.cfg.GetDuration("whois.timeout")
	if err != nil {
		return nil, fmt.Errorf("invalid whois timeout: %w", err)
	}
	cacheTTL, err := f.cfg.GetDuration("whois.cache_ttl")
	if err != nil {
		return nil, fmt.Errorf("invalid whois cache TTL: %w", err)
	}
	return whois.NewAgeLookup(timeout, cacheTTL, f.logger), nil
}

// CreateEvaluators builds the four fused evaluators.
func (f *EvaluatorFactory) CreateEvaluators(
	scorer core.TextScorer,
	store core.SenderHistoryStore,
	ageLookup core.DomainAgeLookup,
) []core.Evaluator {
	evaluatorsCfg := f.cfg.GetEvaluators()
	checker := allowlist.NewChecker(evaluatorsCfg.TrustedDomains, f.logger)
	domainScorer := link.NewDomainScorer(checker, ageLookup, f.logger)

	return []core.Evaluator{
		content.NewEvaluator(scorer, f.logger),
		link.NewEvaluator(domainScorer, f.logger),
		behavior.NewEvaluator(store, f.logger),
		qr.NewEvaluator(qrcodec.NewGozxingCodec(f.logger), f.logger),
	}
}

// CreateHeaderEvaluator builds the routing analysis evaluator, which
// is scored outside the weighted fusion.
func (f *EvaluatorFactory) CreateHeaderEvaluator() core.Evaluator {
	return header.NewEvaluator(f.logger)
}

// CreateOrchestrator builds the orchestrator from the configured
// fusion weights.
func (f *EvaluatorFactory) CreateOrchestrator(evaluators []core.Evaluator) (*core.Orchestrator, error) {
	evaluatorsCfg := f.cfg.GetEvaluators()
	return core.NewOrchestrator(core.OrchestrationConfig{
		ContentWeight:  evaluatorsCfg.ContentWeight,
		LinkWeight:     evaluatorsCfg.LinkWeight,
		BehaviorWeight: evaluatorsCfg.BehaviorWeight,
		QRWeight:       evaluatorsCfg.QRWeight,
	}, evaluators, f.logger)
}
