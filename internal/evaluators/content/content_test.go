package content

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/phish-triage/internal/core"
)

type stubScorer struct {
	score float64
	err   error
}

func (s stubScorer) ScoreText(_ context.Context, _, _ string) (float64, error) {
	return s.score, s.err
}

func TestEvaluateBenignText(t *testing.T) {
	ev := NewEvaluator(nil, zap.NewNop())

	finding, err := ev.Evaluate(context.Background(), &core.EmailRecord{
		Subject:  "lunch tomorrow",
		BodyText: "are you around at noon?",
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, finding.Score)
}

func TestEvaluateKeywordAccumulation(t *testing.T) {
	ev := NewEvaluator(nil, zap.NewNop())

	finding, err := ev.Evaluate(context.Background(), &core.EmailRecord{
		Subject:  "urgent",
		BodyText: "verify your password",
	})
	require.NoError(t, err)

	// Three keywords at 0.1 each, no scorer configured.
	assert.InDelta(t, 0.3, finding.Score, 1e-9)
	details := finding.Details.(core.ContentDetails)
	assert.InDelta(t, 0.3, details.KeywordScore, 1e-9)
	assert.Equal(t, -1.0, details.ModelScore)
}

func TestEvaluateBlendsModelScore(t *testing.T) {
	ev := NewEvaluator(stubScorer{score: 0.9}, zap.NewNop())

	finding, err := ev.Evaluate(context.Background(), &core.EmailRecord{
		Subject:  "urgent",
		BodyText: "verify your password",
	})
	require.NoError(t, err)

	// 0.6*0.9 + 0.4*0.3
	assert.InDelta(t, 0.66, finding.Score, 1e-9)
	assert.InDelta(t, 0.9, finding.Confidence, 1e-9)
}

func TestEvaluateScorerFailureFallsBack(t *testing.T) {
	ev := NewEvaluator(stubScorer{err: errors.New("api down")}, zap.NewNop())

	finding, err := ev.Evaluate(context.Background(), &core.EmailRecord{
		Subject: "urgent",
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.1, finding.Score, 1e-9)
	assert.Contains(t, finding.Reasons, "ML scorer unavailable, rule-based analysis only")
}

func TestEvaluateHighlights(t *testing.T) {
	ev := NewEvaluator(nil, zap.NewNop())

	finding, err := ev.Evaluate(context.Background(), &core.EmailRecord{
		Subject:  "Account suspended!!!",
		BodyText: "verify at http://evil.example NOW",
	})
	require.NoError(t, err)

	details := finding.Details.(core.ContentDetails)
	require.NotEmpty(t, details.Highlights)
	assert.LessOrEqual(t, len(details.Highlights), 5)
	for _, h := range details.Highlights {
		assert.Less(t, h.Start, h.End)
		assert.NotEmpty(t, h.Token)
	}
}

func TestEvaluatePatternsOnly(t *testing.T) {
	ev := NewEvaluator(nil, zap.NewNop())

	finding, err := ev.Evaluate(context.Background(), &core.EmailRecord{
		BodyText: "WINNING numbers today!!! $$$ 12345678901",
	})
	require.NoError(t, err)
	assert.Greater(t, finding.Score, 0.0)
}

func TestEvaluateCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEvaluator(nil, zap.NewNop()).Evaluate(ctx, &core.EmailRecord{})
	assert.ErrorIs(t, err, context.Canceled)
}
