package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubEvaluator struct {
	kind    EvaluatorKind
	finding RiskFinding
	err     error
	panics  bool
}

func (s stubEvaluator) Kind() EvaluatorKind { return s.kind }

func (s stubEvaluator) Evaluate(ctx context.Context, _ *EmailRecord) (RiskFinding, error) {
	if s.panics {
		panic("boom")
	}
	if s.err != nil {
		return RiskFinding{}, s.err
	}
	if err := ctx.Err(); err != nil {
		return RiskFinding{}, err
	}
	return s.finding, nil
}

func scored(kind EvaluatorKind, score float64, details FindingDetails) stubEvaluator {
	return stubEvaluator{
		kind: kind,
		finding: RiskFinding{
			Evaluator:  kind,
			Score:      score,
			Confidence: 0.9,
			Reasons:    []string{"stub reason"},
			Details:    details,
		},
	}
}

func newOrchestrator(t *testing.T, evaluators ...Evaluator) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(DefaultOrchestrationConfig(), evaluators, zap.NewNop())
	require.NoError(t, err)
	return o
}

func allQuiet() []Evaluator {
	return []Evaluator{
		scored(EvaluatorContent, 0, nil),
		scored(EvaluatorLink, 0, nil),
		scored(EvaluatorBehavior, 0, nil),
		scored(EvaluatorQR, 0, nil),
	}
}

func TestNewOrchestrationConfigRejectsBadWeights(t *testing.T) {
	_, err := NewOrchestrationConfig(0.5, 0.5, 0.5, 0.5)
	assert.ErrorIs(t, err, ErrInvalidWeights)

	_, err = NewOrchestrationConfig(0.35, 0.25, 0.25, 0.15)
	assert.NoError(t, err)
}

func TestNewOrchestrationConfigTolerance(t *testing.T) {
	_, err := NewOrchestrationConfig(0.35, 0.25, 0.25, 0.1504)
	assert.NoError(t, err)

	_, err = NewOrchestrationConfig(0.35, 0.25, 0.25, 0.16)
	assert.ErrorIs(t, err, ErrInvalidWeights)
}

func TestNewOrchestratorRejectsInvalidConfig(t *testing.T) {
	_, err := NewOrchestrator(OrchestrationConfig{ContentWeight: 1.5}, nil, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidWeights)
}

func TestAnalyzeWeightedFusion(t *testing.T) {
	o := newOrchestrator(t,
		scored(EvaluatorContent, 1.0, nil),
		scored(EvaluatorLink, 0, nil),
		scored(EvaluatorBehavior, 0, nil),
		scored(EvaluatorQR, 0, nil),
	)

	result, err := o.Analyze(context.Background(), &EmailRecord{})
	require.NoError(t, err)
	assert.InDelta(t, 0.35, result.FinalScore, 1e-9)
	assert.Equal(t, ActionAllow, result.Action)
}

func TestAnalyzeActionBands(t *testing.T) {
	cases := []struct {
		name  string
		score float64
		want  Action
	}{
		{"allow below flag threshold", 0.3, ActionAllow},
		{"flag in middle band", 0.5, ActionFlag},
		{"quarantine at top band", 0.8, ActionQuarantine},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Same score on every channel makes the fused score equal it.
			o := newOrchestrator(t,
				scored(EvaluatorContent, tc.score, nil),
				scored(EvaluatorLink, tc.score, nil),
				scored(EvaluatorBehavior, tc.score, nil),
				scored(EvaluatorQR, tc.score, nil),
			)
			result, err := o.Analyze(context.Background(), &EmailRecord{})
			require.NoError(t, err)
			assert.Equal(t, tc.want, result.Action)
		})
	}
}

func TestAnalyzeLinkOverrideForcesQuarantine(t *testing.T) {
	details := LinkDetails{
		Assessments:     []DomainAssessment{{URL: "http://10.0.0.1/x", Domain: "10.0.0.1", Score: 0.9}},
		TotalURLs:       1,
		SuspiciousCount: 1,
	}
	o := newOrchestrator(t,
		scored(EvaluatorContent, 0, nil),
		scored(EvaluatorLink, 0.9, details),
		scored(EvaluatorBehavior, 0, nil),
		scored(EvaluatorQR, 0, nil),
	)

	result, err := o.Analyze(context.Background(), &EmailRecord{})
	require.NoError(t, err)
	// Fused score 0.225 is in the allow band; the override escalates.
	assert.Equal(t, ActionQuarantine, result.Action)
}

func TestAnalyzeBehaviorOverrideEscalatesOneStep(t *testing.T) {
	o := newOrchestrator(t,
		scored(EvaluatorContent, 0, nil),
		scored(EvaluatorLink, 0, nil),
		scored(EvaluatorBehavior, 0.85, nil),
		scored(EvaluatorQR, 0, nil),
	)

	result, err := o.Analyze(context.Background(), &EmailRecord{})
	require.NoError(t, err)
	// Fused 0.2125 is allow; one escalation step lands on flag.
	assert.Equal(t, ActionFlag, result.Action)
}

func TestAnalyzeQROverrideRequiresSuspiciousCodes(t *testing.T) {
	noCodes := QRDetails{TotalCodes: 1, SuspiciousCount: 0}
	o := newOrchestrator(t,
		scored(EvaluatorContent, 0, nil),
		scored(EvaluatorLink, 0, nil),
		scored(EvaluatorBehavior, 0, nil),
		scored(EvaluatorQR, 0.9, noCodes),
	)

	result, err := o.Analyze(context.Background(), &EmailRecord{})
	require.NoError(t, err)
	assert.Equal(t, ActionAllow, result.Action)

	withCodes := QRDetails{TotalCodes: 1, SuspiciousCount: 1}
	o = newOrchestrator(t,
		scored(EvaluatorContent, 0, nil),
		scored(EvaluatorLink, 0, nil),
		scored(EvaluatorBehavior, 0, nil),
		scored(EvaluatorQR, 0.9, withCodes),
	)

	result, err = o.Analyze(context.Background(), &EmailRecord{})
	require.NoError(t, err)
	assert.Equal(t, ActionFlag, result.Action)
}

func TestAnalyzeOverridesNeverLowerAction(t *testing.T) {
	// All channels at 0.9: baseline is already quarantine. The
	// behavior override's single-step escalation must not regress it.
	o := newOrchestrator(t,
		scored(EvaluatorContent, 0.9, nil),
		scored(EvaluatorLink, 0.9, nil),
		scored(EvaluatorBehavior, 0.9, nil),
		scored(EvaluatorQR, 0.9, nil),
	)

	result, err := o.Analyze(context.Background(), &EmailRecord{})
	require.NoError(t, err)
	assert.Equal(t, ActionQuarantine, result.Action)
}

func TestAnalyzeEvaluatorErrorDegrades(t *testing.T) {
	o := newOrchestrator(t,
		stubEvaluator{kind: EvaluatorContent, err: errors.New("model offline")},
		scored(EvaluatorLink, 0.4, nil),
		scored(EvaluatorBehavior, 0, nil),
		scored(EvaluatorQR, 0, nil),
	)

	result, err := o.Analyze(context.Background(), &EmailRecord{})
	require.NoError(t, err)

	content := result.Findings[EvaluatorContent]
	assert.Equal(t, 0.0, content.Score)
	assert.Equal(t, 0.0, content.Confidence)
	require.Len(t, content.Reasons, 1)
	assert.Contains(t, content.Reasons[0], "content evaluator failed")
}

func TestAnalyzeEvaluatorPanicDegrades(t *testing.T) {
	o := newOrchestrator(t,
		stubEvaluator{kind: EvaluatorContent, panics: true},
		scored(EvaluatorLink, 0, nil),
		scored(EvaluatorBehavior, 0, nil),
		scored(EvaluatorQR, 0, nil),
	)

	result, err := o.Analyze(context.Background(), &EmailRecord{})
	require.NoError(t, err)
	assert.Contains(t, result.Findings[EvaluatorContent].Reasons[0], "panic")
}

func TestAnalyzeScoreClampedToUnitRange(t *testing.T) {
	o := newOrchestrator(t,
		scored(EvaluatorContent, 7.0, nil),
		scored(EvaluatorLink, -3.0, nil),
		scored(EvaluatorBehavior, 1.0, nil),
		scored(EvaluatorQR, 1.0, nil),
	)

	result, err := o.Analyze(context.Background(), &EmailRecord{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.FinalScore, 0.0)
	assert.LessOrEqual(t, result.FinalScore, 1.0)
	assert.Equal(t, 1.0, result.Findings[EvaluatorContent].Score)
	assert.Equal(t, 0.0, result.Findings[EvaluatorLink].Score)
}

func TestAnalyzeConfidenceBounds(t *testing.T) {
	o := newOrchestrator(t,
		scored(EvaluatorContent, 1.0, nil),
		scored(EvaluatorLink, 1.0, nil),
		scored(EvaluatorBehavior, 1.0, nil),
		scored(EvaluatorQR, 1.0, nil),
	)

	result, err := o.Analyze(context.Background(), &EmailRecord{})
	require.NoError(t, err)
	// 0.6 + 0.3 + 0.1 (zero spread) + 4*0.05 caps at 0.99.
	assert.InDelta(t, 0.99, result.Confidence, 1e-9)
}

func TestAnalyzeCancelledContext(t *testing.T) {
	o := newOrchestrator(t, allQuiet()...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := o.Analyze(ctx, &EmailRecord{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
}

func TestAnalyzeSummaryAndRanking(t *testing.T) {
	details := LinkDetails{
		Assessments: []DomainAssessment{
			{URL: "http://evil.tk/x", Domain: "evil.tk", Score: 0.9, Reasons: []string{"uses suspicious TLD: .tk"}},
		},
		TotalURLs:       1,
		SuspiciousCount: 1,
	}
	o := newOrchestrator(t,
		scored(EvaluatorContent, 0.8, nil),
		scored(EvaluatorLink, 0.9, details),
		scored(EvaluatorBehavior, 0.2, nil),
		scored(EvaluatorQR, 0, nil),
	)

	result, err := o.Analyze(context.Background(), &EmailRecord{})
	require.NoError(t, err)

	require.NotEmpty(t, result.RankedReasons)
	for i := 1; i < len(result.RankedReasons); i++ {
		assert.GreaterOrEqual(t, result.RankedReasons[i-1].Priority, result.RankedReasons[i].Priority)
	}
	assert.Contains(t, result.Summary, "RISK (Score:")
	assert.Contains(t, result.Summary, "Key concerns:")
	assert.Contains(t, result.Summary, "Links: 1/1 suspicious")
	assert.NotEmpty(t, result.RequestID)
}

func TestRankedReasonsKeepDegradedEvaluators(t *testing.T) {
	o := newOrchestrator(t,
		stubEvaluator{kind: EvaluatorContent, err: errors.New("model unavailable")},
		scored(EvaluatorLink, 0.9, nil),
		scored(EvaluatorBehavior, 0, nil),
		scored(EvaluatorQR, 0, nil),
	)

	result, err := o.Analyze(context.Background(), &EmailRecord{})
	require.NoError(t, err)

	var degraded *RankedReason
	for i := range result.RankedReasons {
		if result.RankedReasons[i].Evaluator == EvaluatorContent {
			degraded = &result.RankedReasons[i]
		}
	}
	require.NotNil(t, degraded, "degraded evaluator's reason must be ranked")
	assert.Contains(t, degraded.Text, "content evaluator failed: model unavailable")
	assert.Zero(t, degraded.Priority)

	// Priority 0 sorts after every positive finding.
	last := result.RankedReasons[len(result.RankedReasons)-1]
	assert.Zero(t, last.Priority)
	assert.Equal(t, 0.9*0.25, result.RankedReasons[0].Priority)
}

func TestActionEscalationIsMonotonic(t *testing.T) {
	assert.Equal(t, ActionFlag, ActionAllow.Escalate())
	assert.Equal(t, ActionQuarantine, ActionFlag.Escalate())
	assert.Equal(t, ActionQuarantine, ActionQuarantine.Escalate())

	assert.Equal(t, ActionQuarantine, ActionQuarantine.AtLeast(ActionAllow))
	assert.Equal(t, ActionQuarantine, ActionAllow.AtLeast(ActionQuarantine))
}
