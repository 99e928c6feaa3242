// Package link scores every URL an email carries or embeds for
// phishing indicators: typosquatting, obfuscated hosts, disposable
// infrastructure and deceptive URL construction.
package link

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/mikey/phish-triage/internal/core"
)

// maxURLsPerEmail bounds the work a single email can demand.
const maxURLsPerEmail = 50

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// Evaluator implements core.Evaluator for the link surface of an email.
type Evaluator struct {
	scorer *DomainScorer
	logger *zap.Logger
}

// NewEvaluator wires the link evaluator around a domain scorer.
func NewEvaluator(scorer *DomainScorer, logger *zap.Logger) *Evaluator {
	return &Evaluator{scorer: scorer, logger: logger}
}

func (e *Evaluator) Kind() core.EvaluatorKind { return core.EvaluatorLink }

// Evaluate extracts every URL from the email and averages their
// per-URL risk scores. An email with no URLs scores zero.
func (e *Evaluator) Evaluate(ctx context.Context, email *core.EmailRecord) (core.RiskFinding, error) {
	urls := collectURLs(email)
	if len(urls) == 0 {
		return core.RiskFinding{
			Evaluator:  core.EvaluatorLink,
			Score:      0,
			Confidence: 0.95,
			Reasons:    []string{"no URLs found in email"},
			Details:    core.LinkDetails{},
		}, nil
	}

	assessments := make([]core.DomainAssessment, 0, len(urls))
	var total float64
	suspicious := 0
	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return core.RiskFinding{}, err
		}
		a := e.scorer.Score(ctx, u)
		assessments = append(assessments, a)
		total += a.Score
		if a.Score >= 0.5 {
			suspicious++
		}
	}

	score := total / float64(len(assessments))
	e.logger.Debug("Link evaluation complete",
		zap.Int("urls", len(assessments)),
		zap.Int("suspicious", suspicious),
		zap.Float64("score", score))

	return core.RiskFinding{
		Evaluator:  core.EvaluatorLink,
		Score:      score,
		Confidence: 0.9,
		Reasons:    topReasons(assessments),
		Details: core.LinkDetails{
			Assessments:     assessments,
			TotalURLs:       len(assessments),
			SuspiciousCount: suspicious,
		},
	}, nil
}

// topReasons picks the evaluator-level reason list: the worst URLs
// first, one headline reason each.
func topReasons(assessments []core.DomainAssessment) []string {
	ranked := make([]core.DomainAssessment, len(assessments))
	copy(ranked, assessments)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	var reasons []string
	for _, a := range ranked {
		if a.Score < 0.3 || len(a.Reasons) == 0 {
			continue
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s", a.Domain, a.Reasons[0]))
		if len(reasons) == core.MaxReasonsPerFinding {
			break
		}
	}
	if len(reasons) == 0 {
		reasons = append(reasons, fmt.Sprintf("%d URLs analyzed, none suspicious", len(assessments)))
	}
	return reasons
}

// collectURLs merges the explicitly provided URL list with URLs
// extracted from the text and HTML bodies, deduplicated in first-seen
// order.
func collectURLs(email *core.EmailRecord) []string {
	seen := make(map[string]struct{})
	var urls []string
	add := func(u string) {
		u = strings.TrimRight(strings.TrimSpace(u), ").,;")
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		if len(urls) < maxURLsPerEmail {
			urls = append(urls, u)
		}
	}

	for _, u := range email.URLs {
		add(u)
	}
	for _, u := range urlPattern.FindAllString(email.BodyText, -1) {
		add(u)
	}
	if email.BodyHTML != "" {
		for _, u := range extractHTMLURLs(email.BodyHTML) {
			add(u)
		}
		for _, u := range urlPattern.FindAllString(email.BodyHTML, -1) {
			add(u)
		}
	}
	return urls
}

// extractHTMLURLs walks the HTML tree collecting href and src
// attributes. Parse errors yield whatever was recovered; the regex
// pass over the raw markup catches the rest.
func extractHTMLURLs(body string) []string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil
	}

	var urls []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, attr := range n.Attr {
				if attr.Key != "href" && attr.Key != "src" {
					continue
				}
				val := strings.TrimSpace(attr.Val)
				if strings.HasPrefix(val, "http://") || strings.HasPrefix(val, "https://") {
					urls = append(urls, val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return urls
}
