// Package content scores the email text: rule-based keyword and
// punctuation heuristics blended with an external ML text scorer when
// one is reachable.
package content

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/mikey/phish-triage/internal/core"
)

const (
	keywordWeight = 0.1
	patternWeight = 0.05

	modelBlend   = 0.6
	keywordBlend = 0.4

	maxHighlights = 5
)

var phishingKeywords = []string{
	"urgent", "immediate", "verify", "suspend", "expire", "confirm",
	"update", "click here", "act now", "limited time", "offer expires",
	"congratulations", "winner", "prize", "inheritance", "lottery",
	"tax refund", "stimulus", "social security", "account suspended",
	"temporary suspension", "your account will be closed", "final notice",
	"last chance", "expires today", "within 24 hours", "immediately",
	"password", "username", "login", "credentials", "identity",
	"refund", "claim", "bonus", "free", "guaranteed", "exclusive",
	"limited offer", "act fast", "don't miss", "hurry", "rush",
}

var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`!{2,}`),
	regexp.MustCompile(`\${2,}`),
	regexp.MustCompile(`[A-Z]{5,}`),
	regexp.MustCompile(`[0-9]{10,}`),
	regexp.MustCompile(`www\.[^.\s]+\.[a-z]{2,}`),
	regexp.MustCompile(`https?://\S+`),
}

// Evaluator implements core.Evaluator over the subject and body text.
// The scorer is optional; without it the rule-based score stands alone.
type Evaluator struct {
	scorer core.TextScorer
	logger *zap.Logger
}

func NewEvaluator(scorer core.TextScorer, logger *zap.Logger) *Evaluator {
	return &Evaluator{scorer: scorer, logger: logger}
}

func (e *Evaluator) Kind() core.EvaluatorKind { return core.EvaluatorContent }

func (e *Evaluator) Evaluate(ctx context.Context, email *core.EmailRecord) (core.RiskFinding, error) {
	if err := ctx.Err(); err != nil {
		return core.RiskFinding{}, err
	}

	fullText := email.Subject + " " + email.BodyText
	keywordScore, matches := analyzeKeywords(fullText)

	modelScore := -1.0
	confidence := 0.7
	if e.scorer != nil {
		score, err := e.scorer.ScoreText(ctx, email.Subject, email.BodyText)
		if err != nil {
			if ctx.Err() != nil {
				return core.RiskFinding{}, ctx.Err()
			}
			e.logger.Warn("Text scorer unavailable, using rule-based score only", zap.Error(err))
		} else {
			modelScore = clamp01(score)
			confidence = 0.9
		}
	}

	final := keywordScore
	if modelScore >= 0 {
		final = modelBlend*modelScore + keywordBlend*keywordScore
	}

	return core.RiskFinding{
		Evaluator:  core.EvaluatorContent,
		Score:      clamp01(final),
		Confidence: confidence,
		Reasons:    buildReasons(matches, modelScore),
		Details: core.ContentDetails{
			Highlights:   findHighlights(fullText, matches),
			KeywordScore: keywordScore,
			ModelScore:   modelScore,
		},
	}, nil
}

// analyzeKeywords accumulates the rule-based score: a tenth per
// keyword, a twentieth per punctuation pattern, capped at 1.0.
func analyzeKeywords(text string) (float64, []string) {
	lower := strings.ToLower(text)

	var score float64
	var matches []string
	for _, kw := range phishingKeywords {
		if strings.Contains(lower, kw) {
			score += keywordWeight
			matches = append(matches, kw)
		}
	}
	for _, p := range suspiciousPatterns {
		if p.MatchString(text) {
			score += patternWeight
		}
	}
	return clamp01(score), matches
}

func buildReasons(matches []string, modelScore float64) []string {
	var reasons []string
	if len(matches) > 0 {
		shown := matches
		if len(shown) > 3 {
			shown = shown[:3]
		}
		reasons = append(reasons, "phishing language detected: "+strings.Join(shown, ", "))
	}
	switch {
	case modelScore >= 0.7:
		reasons = append(reasons, "language model rates content as likely phishing")
	case modelScore < 0:
		reasons = append(reasons, "ML scorer unavailable, rule-based analysis only")
	}
	if len(reasons) == 0 {
		reasons = []string{"no suspicious content indicators"}
	}
	return reasons
}

// findHighlights locates the first occurrence of each matched keyword
// and each punctuation pattern in the text, capped at five spans.
func findHighlights(text string, matches []string) []core.Highlight {
	lower := strings.ToLower(text)

	var highlights []core.Highlight
	for _, kw := range matches {
		pos := strings.Index(lower, kw)
		if pos < 0 {
			continue
		}
		highlights = append(highlights, core.Highlight{
			Start:  pos,
			End:    pos + len(kw),
			Reason: "suspicious_keyword",
			Token:  text[pos : pos+len(kw)],
		})
		if len(highlights) == maxHighlights {
			return highlights
		}
	}
	for _, p := range suspiciousPatterns {
		loc := p.FindStringIndex(text)
		if loc == nil {
			continue
		}
		highlights = append(highlights, core.Highlight{
			Start:  loc[0],
			End:    loc[1],
			Reason: "suspicious_pattern",
			Token:  text[loc[0]:loc[1]],
		})
		if len(highlights) == maxHighlights {
			break
		}
	}
	return highlights
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
