package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidWeights is returned when the configured evaluator weights do
// not sum to 1 within tolerance. It is raised at construction time only.
var ErrInvalidWeights = errors.New("evaluator weights must sum to 1.0")

// weightTolerance is the allowed deviation of the weight sum from 1.0.
const weightTolerance = 1e-3

// Decision thresholds for the three-band action scheme.
const (
	flagThreshold       = 0.4
	quarantineThreshold = 0.7
)

// overrideThreshold is the per-evaluator score at which escalation
// overrides start to apply.
const overrideThreshold = 0.8

// maxSummaryReasons caps how many ranked reasons feed the summary line.
const maxSummaryReasons = 3

// OrchestrationConfig holds the fixed per-evaluator fusion weights.
type OrchestrationConfig struct {
	ContentWeight  float64
	LinkWeight     float64
	BehaviorWeight float64
	QRWeight       float64
}

// DefaultOrchestrationConfig returns the standard weight distribution.
func DefaultOrchestrationConfig() OrchestrationConfig {
	return OrchestrationConfig{
		ContentWeight:  0.35,
		LinkWeight:     0.25,
		BehaviorWeight: 0.25,
		QRWeight:       0.15,
	}
}

// NewOrchestrationConfig validates and returns a weight configuration.
// Weights that do not sum to 1 within tolerance are rejected eagerly so
// an invalid configuration can never reach request handling.
func NewOrchestrationConfig(content, link, behavior, qr float64) (OrchestrationConfig, error) {
	cfg := OrchestrationConfig{
		ContentWeight:  content,
		LinkWeight:     link,
		BehaviorWeight: behavior,
		QRWeight:       qr,
	}
	if err := cfg.Validate(); err != nil {
		return OrchestrationConfig{}, err
	}
	return cfg, nil
}

// Validate checks the weight-sum invariant.
func (c OrchestrationConfig) Validate() error {
	total := c.ContentWeight + c.LinkWeight + c.BehaviorWeight + c.QRWeight
	if math.Abs(total-1.0) > weightTolerance {
		return fmt.Errorf("%w: got %v", ErrInvalidWeights, total)
	}
	return nil
}

// Weight returns the fusion weight for an evaluator kind. The header
// evaluator is not part of the fused score and carries weight 0.
func (c OrchestrationConfig) Weight(kind EvaluatorKind) float64 {
	switch kind {
	case EvaluatorContent:
		return c.ContentWeight
	case EvaluatorLink:
		return c.LinkWeight
	case EvaluatorBehavior:
		return c.BehaviorWeight
	case EvaluatorQR:
		return c.QRWeight
	default:
		return 0
	}
}

// Orchestrator fans one email out to all evaluators, fuses their scores
// with the configured weights and applies the escalation overrides.
type Orchestrator struct {
	config     OrchestrationConfig
	evaluators []Evaluator
	logger     *zap.Logger
}

// NewOrchestrator creates an orchestrator over the given evaluators.
// The configuration must already be validated; an invalid one is
// rejected here as well so the invariant cannot be bypassed.
func NewOrchestrator(cfg OrchestrationConfig, evaluators []Evaluator, logger *zap.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{
		config:     cfg,
		evaluators: evaluators,
		logger:     logger,
	}, nil
}

// Analyze runs all evaluators concurrently against the email and fuses
// their findings. A failing evaluator degrades to a neutral finding;
// the only error ever returned is the caller's context cancellation,
// in which case no partial result is emitted.
func (o *Orchestrator) Analyze(ctx context.Context, email *EmailRecord) (*OrchestrationResult, error) {
	requestID := uuid.NewString()
	findings := make([]RiskFinding, len(o.evaluators))

	g, gctx := errgroup.WithContext(ctx)
	for i, ev := range o.evaluators {
		i, ev := i, ev
		g.Go(func() error {
			findings[i] = o.safeEvaluate(gctx, ev, email)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byKind := make(map[EvaluatorKind]RiskFinding, len(findings))
	for _, f := range findings {
		byKind[f.Evaluator] = f
	}

	finalScore := o.fuse(byKind)
	action := o.decide(finalScore, byKind)
	confidence := o.confidence(finalScore, byKind)
	ranked := o.rankReasons(byKind)
	summary := o.summarize(finalScore, ranked, byKind)

	result := &OrchestrationResult{
		FinalScore:    finalScore,
		Action:        action,
		Confidence:    confidence,
		Summary:       summary,
		RankedReasons: ranked,
		Findings:      byKind,
		AnalyzedAt:    time.Now(),
		RequestID:     requestID,
	}

	o.logger.Info("Email analyzed",
		zap.String("request_id", requestID),
		zap.String("sender", email.From),
		zap.Float64("final_score", finalScore),
		zap.String("action", string(action)),
		zap.Float64("confidence", confidence))

	return result, nil
}

// safeEvaluate shields the fan-out from a misbehaving evaluator: a panic
// or error becomes a neutral zero-confidence finding and never aborts
// the orchestration.
func (o *Orchestrator) safeEvaluate(ctx context.Context, ev Evaluator, email *EmailRecord) (finding RiskFinding) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Evaluator panicked",
				zap.String("evaluator", string(ev.Kind())),
				zap.Any("panic", r))
			finding = NeutralFinding(ev.Kind(), fmt.Sprintf("panic: %v", r))
		}
	}()

	finding, err := ev.Evaluate(ctx, email)
	if err != nil {
		o.logger.Warn("Evaluator failed",
			zap.String("evaluator", string(ev.Kind())),
			zap.Error(err))
		return NeutralFinding(ev.Kind(), err.Error())
	}
	finding.Evaluator = ev.Kind()
	finding.Score = clamp01(finding.Score)
	finding.Confidence = clamp01(finding.Confidence)
	if len(finding.Reasons) > MaxReasonsPerFinding {
		finding.Reasons = finding.Reasons[:MaxReasonsPerFinding]
	}
	return finding
}

// NeutralFinding is the degraded finding substituted for a failed
// evaluator: score 0, confidence 0, one explanatory reason.
func NeutralFinding(kind EvaluatorKind, cause string) RiskFinding {
	return RiskFinding{
		Evaluator:  kind,
		Score:      0,
		Confidence: 0,
		Reasons:    []string{fmt.Sprintf("%s evaluator failed: %s", kind, cause)},
	}
}

func (o *Orchestrator) fuse(findings map[EvaluatorKind]RiskFinding) float64 {
	score := findings[EvaluatorContent].Score*o.config.ContentWeight +
		findings[EvaluatorLink].Score*o.config.LinkWeight +
		findings[EvaluatorBehavior].Score*o.config.BehaviorWeight +
		findings[EvaluatorQR].Score*o.config.QRWeight
	return clamp01(score)
}

// decide applies the baseline thresholds and then the escalation
// overrides in their fixed priority order. Overrides only ever raise
// the action.
func (o *Orchestrator) decide(finalScore float64, findings map[EvaluatorKind]RiskFinding) Action {
	action := ActionAllow
	switch {
	case finalScore >= quarantineThreshold:
		action = ActionQuarantine
	case finalScore >= flagThreshold:
		action = ActionFlag
	}

	// Rule 1: a high-scoring link finding backed by at least one
	// high-risk URL (IP literal, malformed, etc) forces quarantine.
	link := findings[EvaluatorLink]
	if link.Score >= overrideThreshold {
		if details, ok := link.Details.(LinkDetails); ok {
			for _, a := range details.Assessments {
				if a.Score >= overrideThreshold {
					action = action.AtLeast(ActionQuarantine)
					break
				}
			}
		}
	}

	// Rule 2: high behavioral suspicion escalates one step.
	if findings[EvaluatorBehavior].Score >= overrideThreshold {
		action = action.AtLeast(action.Escalate())
	}

	// Rule 3: high QR suspicion with concrete suspicious codes
	// escalates one step.
	qr := findings[EvaluatorQR]
	if qr.Score >= overrideThreshold {
		if details, ok := qr.Details.(QRDetails); ok && details.SuspiciousCount > 0 {
			action = action.AtLeast(action.Escalate())
		}
	}

	return action
}

func (o *Orchestrator) confidence(finalScore float64, findings map[EvaluatorKind]RiskFinding) float64 {
	scores := []float64{
		findings[EvaluatorContent].Score,
		findings[EvaluatorLink].Score,
		findings[EvaluatorBehavior].Score,
		findings[EvaluatorQR].Score,
	}

	confidence := 0.6 + finalScore*0.3
	confidence += math.Max(0, 0.1-stddev(scores))
	for _, s := range scores {
		if s >= overrideThreshold {
			confidence += 0.05
		}
	}
	return math.Min(0.99, confidence)
}

// rankReasons merges every evaluator reason into one list tagged with
// priority = raw score * fusion weight, sorted descending. Per-URL and
// per-code reasons from the detail payloads are folded in as well, two
// per item, so the summary can name the concrete culprit.
func (o *Orchestrator) rankReasons(findings map[EvaluatorKind]RiskFinding) []RankedReason {
	var ranked []RankedReason

	add := func(kind EvaluatorKind, score float64, text string) {
		weight := o.config.Weight(kind)
		ranked = append(ranked, RankedReason{
			Evaluator: kind,
			Score:     score,
			Weight:    weight,
			Priority:  score * weight,
			Text:      text,
		})
	}

	// Zero-score findings keep their reasons: a degraded evaluator's
	// explanation still belongs in the ranking, at priority 0.
	for _, kind := range []EvaluatorKind{EvaluatorContent, EvaluatorLink, EvaluatorBehavior, EvaluatorQR} {
		for _, reason := range findings[kind].Reasons {
			add(kind, findings[kind].Score, fmt.Sprintf("%s: %s", titleFor(kind), reason))
		}
	}

	if details, ok := findings[EvaluatorLink].Details.(LinkDetails); ok {
		for _, a := range details.Assessments {
			if a.Score < 0.5 {
				continue
			}
			for i, reason := range a.Reasons {
				if i >= 2 {
					break
				}
				add(EvaluatorLink, a.Score, fmt.Sprintf("Link %s: %s", a.Domain, reason))
			}
		}
	}

	if details, ok := findings[EvaluatorQR].Details.(QRDetails); ok {
		for _, c := range details.Codes {
			if c.Score < 0.5 {
				continue
			}
			for i, reason := range c.Reasons {
				if i >= 2 {
					break
				}
				add(EvaluatorQR, c.Score, fmt.Sprintf("QR code (%s): %s", c.ContentType, reason))
			}
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Priority > ranked[j].Priority
	})
	return ranked
}

// summarize builds the human-readable one-liner: risk band, top ranked
// reasons, then a highlight for every evaluator scoring at least 0.5.
func (o *Orchestrator) summarize(finalScore float64, ranked []RankedReason, findings map[EvaluatorKind]RiskFinding) string {
	band := "LOW"
	switch {
	case finalScore >= quarantineThreshold:
		band = "HIGH"
	case finalScore >= flagThreshold:
		band = "MEDIUM"
	}

	parts := []string{fmt.Sprintf("%s RISK (Score: %.2f)", band, finalScore)}

	if len(ranked) > 0 {
		top := ranked
		if len(top) > maxSummaryReasons {
			top = top[:maxSummaryReasons]
		}
		texts := make([]string, len(top))
		for i, r := range top {
			texts[i] = r.Text
		}
		parts = append(parts, "Key concerns: "+strings.Join(texts, "; "))
	} else {
		parts = append(parts, "No significant threats detected")
	}

	var highlights []string

	if f := findings[EvaluatorContent]; f.Score >= 0.5 {
		if details, ok := f.Details.(ContentDetails); ok && len(details.Highlights) > 0 {
			highlights = append(highlights, fmt.Sprintf("Content: %d suspicious elements", len(details.Highlights)))
		} else {
			highlights = append(highlights, "Content: High ML suspicion")
		}
	}
	if f := findings[EvaluatorLink]; f.Score >= 0.5 {
		if details, ok := f.Details.(LinkDetails); ok && details.SuspiciousCount > 0 {
			highlights = append(highlights, fmt.Sprintf("Links: %d/%d suspicious", details.SuspiciousCount, details.TotalURLs))
		}
	}
	if f := findings[EvaluatorBehavior]; f.Score >= 0.5 {
		if details, ok := f.Details.(BehaviorDetails); ok && details.IsNewSender {
			highlights = append(highlights, "Behavior: New sender")
		} else {
			highlights = append(highlights, "Behavior: Pattern anomalies")
		}
	}
	if f := findings[EvaluatorQR]; f.Score >= 0.5 {
		if details, ok := f.Details.(QRDetails); ok {
			if details.SuspiciousCount > 0 {
				highlights = append(highlights, fmt.Sprintf("QR codes: %d/%d suspicious", details.SuspiciousCount, details.TotalCodes))
			} else {
				highlights = append(highlights, fmt.Sprintf("QR codes: %d detected", details.TotalCodes))
			}
		}
	}

	if len(highlights) > 0 {
		parts = append(parts, "Analysis: "+strings.Join(highlights, "; "))
	}

	return strings.Join(parts, ". ")
}

func titleFor(kind EvaluatorKind) string {
	switch kind {
	case EvaluatorContent:
		return "Content"
	case EvaluatorLink:
		return "Links"
	case EvaluatorBehavior:
		return "Behavior"
	case EvaluatorQR:
		return "QR codes"
	case EvaluatorHeader:
		return "Headers"
	default:
		return string(kind)
	}
}

func stddev(values []float64) float64 {
	if len(values) <= 1 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
