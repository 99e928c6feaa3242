// Package header reconstructs an email's delivery path from its
// Received trace and checks the claimed sender identity, the routing
// shape, the authentication results and general header hygiene.
package header

import (
	"context"
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/mikey/phish-triage/internal/allowlist"
	"github.com/mikey/phish-triage/internal/core"
)

const (
	maxReasonableHops = 8

	penaltyOriginMismatch = 0.4
	penaltyBrandSpoof     = 0.3
	penaltyReturnPath     = 0.2
	penaltyLongPath       = 0.3
	penaltyLongishPath    = 0.1
	penaltyFlaggedHop     = 0.2
	penaltyHopTLD         = 0.15
	penaltyTimeReversal   = 0.2
	penaltyTimeGap        = 0.1
	penaltySPFFail        = 0.4
	penaltySPFSoftfail    = 0.2
	penaltySPFNone        = 0.1
	penaltySPFAbsent      = 0.05
	penaltyDKIMFail       = 0.3
	penaltyDKIMMissing    = 0.1
	penaltyDMARCFail      = 0.5
	penaltyDMARCNone      = 0.1
	penaltyMissingHeader  = 0.1
	penaltyBadMessageID   = 0.1
	penaltyBulkMailer     = 0.1
)

var messageIDPattern = regexp.MustCompile(`^<[^<>@\s]+@[^<>\s]+>$`)

// Evaluator analyzes the header surface of an email. It runs outside
// the weighted fusion and renders its own routing verdict.
type Evaluator struct {
	logger *zap.Logger
}

func NewEvaluator(logger *zap.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

func (e *Evaluator) Kind() core.EvaluatorKind { return core.EvaluatorHeader }

// Evaluate reconstructs the delivery path and scores identity, routing,
// authentication and hygiene. The verdict escalates from normal through
// suspicious_routing to identity_mismatch, never the other way.
func (e *Evaluator) Evaluate(ctx context.Context, email *core.EmailRecord) (core.RiskFinding, error) {
	if err := ctx.Err(); err != nil {
		return core.RiskFinding{}, err
	}

	routing := ParseRoute(email.Headers["Received"])

	var score float64
	identityReasons := e.checkIdentity(email, routing)
	routingReasons := e.checkRouting(routing)
	authReasons := e.checkAuthentication(email)
	anomalyReasons := e.checkAnomalies(email)

	for _, group := range []struct {
		reasons []scoredReason
	}{{identityReasons}, {routingReasons}, {authReasons}, {anomalyReasons}} {
		for _, r := range group.reasons {
			score += r.penalty
		}
	}
	if score > 1.0 {
		score = 1.0
	}

	verdict := core.VerdictNormal
	switch {
	case len(identityReasons) > 0 && score >= 0.3:
		verdict = core.VerdictIdentityMismatch
	case (len(routingReasons) > 0 && score >= 0.4) || score >= 0.6:
		verdict = core.VerdictSuspiciousRouting
	}

	reasons := flattenReasons(identityReasons, routingReasons, authReasons, anomalyReasons)
	e.logger.Debug("Header evaluation complete",
		zap.Int("hops", routing.TotalHops),
		zap.String("verdict", string(verdict)),
		zap.Float64("score", score))

	return core.RiskFinding{
		Evaluator:  core.EvaluatorHeader,
		Score:      score,
		Confidence: 0.85,
		Reasons:    reasons,
		Details: core.HeaderDetails{
			Routing: routing,
			Verdict: verdict,
		},
	}, nil
}

type scoredReason struct {
	penalty float64
	text    string
}

func flattenReasons(groups ...[]scoredReason) []string {
	var out []string
	for _, group := range groups {
		for _, r := range group {
			if len(out) == core.MaxReasonsPerFinding {
				return out
			}
			out = append(out, r.text)
		}
	}
	return out
}

// checkIdentity compares the From domain against the routing origin,
// the display name against known brands, and the Return-Path.
func (e *Evaluator) checkIdentity(email *core.EmailRecord, routing *core.RoutingAnalysis) []scoredReason {
	var reasons []scoredReason

	fromDomain := addressDomain(email.From)
	if fromDomain != "" && routing.OriginServer != "" {
		originDomain := registrableDomain(routing.OriginServer)
		if !originMatches(fromDomain, originDomain) {
			reasons = append(reasons, scoredReason{penaltyOriginMismatch,
				fmt.Sprintf("sender domain %s does not match origin server %s", fromDomain, routing.OriginServer)})
		}
	}

	if brand, ok := allowlist.BrandForDisplayName(email.DisplayName); ok && fromDomain != "" {
		if !allowlist.BrandOwnsDomain(brand, fromDomain) {
			reasons = append(reasons, scoredReason{penaltyBrandSpoof,
				fmt.Sprintf("display name claims %s but sender domain is %s", brand, fromDomain)})
		}
	}

	if rp := addressDomain(email.Header("Return-Path")); rp != "" && fromDomain != "" {
		if rp != fromDomain && !allowlist.SameProvider(rp, fromDomain) {
			reasons = append(reasons, scoredReason{penaltyReturnPath,
				fmt.Sprintf("Return-Path domain %s differs from sender domain %s", rp, fromDomain)})
		}
	}
	return reasons
}

// originMatches accepts exact and subdomain matches, known provider
// alias groups, and recognized forwarding relays.
func originMatches(fromDomain, originDomain string) bool {
	if originDomain == "" {
		return true
	}
	if fromDomain == originDomain {
		return true
	}
	if strings.HasSuffix(originDomain, "."+fromDomain) || strings.HasSuffix(fromDomain, "."+originDomain) {
		return true
	}
	if allowlist.SameProvider(fromDomain, originDomain) {
		return true
	}
	return allowlist.LegitimateForwarders[originDomain]
}

func (e *Evaluator) checkRouting(routing *core.RoutingAnalysis) []scoredReason {
	var reasons []scoredReason
	if routing.TotalHops == 0 {
		return reasons
	}

	if routing.TotalHops > maxReasonableHops {
		reasons = append(reasons, scoredReason{penaltyLongPath,
			fmt.Sprintf("unusually long delivery path (%d hops)", routing.TotalHops)})
	} else if float64(routing.TotalHops) > float64(maxReasonableHops)*0.75 {
		reasons = append(reasons, scoredReason{penaltyLongishPath,
			fmt.Sprintf("longer than typical delivery path (%d hops)", routing.TotalHops)})
	}

	for _, flagged := range routing.SuspiciousHops {
		reasons = append(reasons, scoredReason{penaltyFlaggedHop, flagged})
	}

	seenTLDs := make(map[string]bool)
	for _, hop := range routing.Hops {
		for _, tld := range allowlist.RoutingSuspiciousTLDs {
			if strings.HasSuffix(hop.Server, tld) && !seenTLDs[tld] {
				seenTLDs[tld] = true
				reasons = append(reasons, scoredReason{penaltyHopTLD,
					"delivery path crosses suspicious TLD: " + tld})
			}
		}
	}

	if r, ok := checkTimestamps(routing.Hops); ok {
		reasons = append(reasons, r)
	}
	return reasons
}

// checkTimestamps walks consecutive timestamped hops and reports the
// first ordering violation: a reversal, or a gap over an hour.
func checkTimestamps(hops []core.RouteHop) (scoredReason, bool) {
	var prev *core.RouteHop
	for i := range hops {
		hop := &hops[i]
		if !hop.HasTimestamp() {
			continue
		}
		if prev != nil {
			delta := hop.Timestamp.Sub(prev.Timestamp)
			if delta < 0 {
				return scoredReason{penaltyTimeReversal, "delivery timestamps out of chronological order"}, true
			}
			if delta.Hours() > 1 {
				return scoredReason{penaltyTimeGap,
					fmt.Sprintf("unusual %.1fh delay between relays", delta.Hours())}, true
			}
		}
		prev = hop
	}
	return scoredReason{}, false
}

// checkAuthentication inspects SPF, DKIM and DMARC outcomes from the
// Received-SPF and Authentication-Results headers.
func (e *Evaluator) checkAuthentication(email *core.EmailRecord) []scoredReason {
	var reasons []scoredReason

	authResults := strings.ToLower(strings.Join(email.Headers["Authentication-Results"], " "))

	spf := strings.ToLower(email.Header("Received-SPF"))
	if spf == "" && authResults != "" {
		if idx := strings.Index(authResults, "spf="); idx >= 0 {
			spf = authResults[idx+4:]
		}
	}
	switch {
	case spf == "":
		reasons = append(reasons, scoredReason{penaltySPFAbsent, "no SPF result recorded"})
	case strings.HasPrefix(spf, "softfail"):
		reasons = append(reasons, scoredReason{penaltySPFSoftfail, "SPF softfail"})
	case strings.HasPrefix(spf, "fail"):
		reasons = append(reasons, scoredReason{penaltySPFFail, "SPF validation failed"})
	case strings.HasPrefix(spf, "none"), strings.HasPrefix(spf, "neutral"):
		reasons = append(reasons, scoredReason{penaltySPFNone, "SPF inconclusive"})
	}

	hasDKIM := email.Header("DKIM-Signature") != ""
	switch {
	case hasDKIM && strings.Contains(authResults, "dkim=fail"):
		reasons = append(reasons, scoredReason{penaltyDKIMFail, "DKIM signature failed validation"})
	case !hasDKIM:
		reasons = append(reasons, scoredReason{penaltyDKIMMissing, "message is not DKIM signed"})
	}

	if strings.Contains(authResults, "dmarc=fail") {
		reasons = append(reasons, scoredReason{penaltyDMARCFail, "DMARC validation failed"})
	} else if strings.Contains(authResults, "dmarc=none") {
		reasons = append(reasons, scoredReason{penaltyDMARCNone, "no DMARC policy applied"})
	}
	return reasons
}

func (e *Evaluator) checkAnomalies(email *core.EmailRecord) []scoredReason {
	var reasons []scoredReason

	for _, required := range []string{"From", "To", "Date", "Message-ID"} {
		if email.Header(required) == "" {
			reasons = append(reasons, scoredReason{penaltyMissingHeader,
				"missing required header: " + required})
		}
	}

	if mid := strings.TrimSpace(email.Header("Message-ID")); mid != "" && !messageIDPattern.MatchString(mid) {
		reasons = append(reasons, scoredReason{penaltyBadMessageID, "malformed Message-ID"})
	}

	mailer := strings.ToLower(email.Header("X-Mailer"))
	if mailer != "" {
		for _, indicator := range allowlist.BulkMailIndicators {
			if strings.Contains(mailer, indicator) {
				reasons = append(reasons, scoredReason{penaltyBulkMailer,
					"bulk mailing software: " + email.Header("X-Mailer")})
				break
			}
		}
	}
	return reasons
}

// addressDomain extracts the domain of an RFC 5322 address, accepting
// bare addresses and angle-bracket forms.
func addressDomain(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(value); err == nil {
		value = addr.Address
	} else {
		value = strings.Trim(value, "<>")
	}
	at := strings.LastIndex(value, "@")
	if at < 0 || at == len(value)-1 {
		return ""
	}
	return strings.ToLower(value[at+1:])
}

// registrableDomain reduces a server name to its registrable domain.
func registrableDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		labels := strings.Split(host, ".")
		if len(labels) <= 2 {
			return host
		}
		return strings.Join(labels[len(labels)-2:], ".")
	}
	return domain
}
