package header

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/phish-triage/internal/core"
)

func TestParseRouteChronologicalOrder(t *testing.T) {
	// Physical order is newest first; hop 0 must come out as the origin.
	received := []string{
		"from mx3.example.net (mx3.example.net [203.0.113.30]) by inbox.example.org; Mon, 2 Jun 2025 10:02:00 +0000",
		"from mx2.example.net (mx2.example.net [203.0.113.20]) by mx3.example.net; Mon, 2 Jun 2025 10:01:00 +0000",
		"from origin.sender.com (origin.sender.com [203.0.113.10]) by mx2.example.net; Mon, 2 Jun 2025 10:00:00 +0000",
	}

	routing := ParseRoute(received)
	require.Equal(t, 3, routing.TotalHops)
	assert.Equal(t, "origin.sender.com", routing.Hops[0].Server)
	assert.Equal(t, "origin.sender.com", routing.OriginServer)
	assert.Equal(t, "203.0.113.10", routing.OriginIP)
	assert.Equal(t, "inbox.example.org", routing.FinalServer)
	assert.True(t, routing.Hops[0].Timestamp.Before(routing.Hops[2].Timestamp))
}

func TestParseRouteUnparseableHopStillCounts(t *testing.T) {
	routing := ParseRoute([]string{"(qmail 12345 invoked by uid 89)"})
	assert.Equal(t, 1, routing.TotalHops)
	assert.Equal(t, "", routing.Hops[0].Server)
}

func TestParseRouteIgnoresCommentClauses(t *testing.T) {
	// "by" inside the parenthesized comment must not shadow the real
	// tokens; the bracketed IP inside it is still the peer address.
	routing := ParseRoute([]string{
		"from origin.sender.com (qmail 12345 invoked by uid 89 [203.0.113.10]) by mx.example.org; Mon, 2 Jun 2025 10:00:00 +0000",
	})
	require.Equal(t, 1, routing.TotalHops)
	assert.Equal(t, "origin.sender.com", routing.Hops[0].Server)
	assert.Equal(t, "203.0.113.10", routing.Hops[0].IP)
	assert.Equal(t, "mx.example.org", routing.FinalServer)
}

func TestParseRouteFlagsSuspiciousHops(t *testing.T) {
	received := []string{
		"from bulk-blast.sender.ru (bulk-blast.sender.ru [203.0.113.99]) by inbox.example.org; Mon, 2 Jun 2025 10:00:00 +0000",
	}
	routing := ParseRoute(received)
	require.Len(t, routing.SuspiciousHops, 1)
	assert.Contains(t, routing.SuspiciousHops[0], "suspicious TLD")
}

func TestParseRouteFlagsPrivateRelay(t *testing.T) {
	received := []string{
		"from internal.example.org (internal.example.org [10.0.0.5]) by inbox.example.org; Mon, 2 Jun 2025 10:00:00 +0000",
	}
	routing := ParseRoute(received)
	require.Len(t, routing.SuspiciousHops, 1)
	assert.Contains(t, routing.SuspiciousHops[0], "private address")
}

func baseHeaders() map[string][]string {
	return map[string][]string{
		"From":                   {"PayPal Support <service@paypal.com>"},
		"To":                     {"victim@example.org"},
		"Date":                   {"Mon, 2 Jun 2025 10:05:00 +0000"},
		"Message-ID":             {"<abc123@paypal.com>"},
		"DKIM-Signature":         {"v=1; a=rsa-sha256; d=paypal.com; s=sel;"},
		"Received-SPF":           {"pass (sender SPF authorized)"},
		"Authentication-Results": {"mx.example.org; spf=pass; dkim=pass; dmarc=pass"},
	}
}

func evaluate(t *testing.T, headers map[string][]string, received ...string) core.RiskFinding {
	t.Helper()
	headers["Received"] = received

	email := &core.EmailRecord{
		Subject:     "Your account",
		From:        headers["From"][0],
		DisplayName: "PayPal Support",
		Headers:     headers,
	}
	finding, err := NewEvaluator(zap.NewNop()).Evaluate(context.Background(), email)
	require.NoError(t, err)
	return finding
}

func TestEvaluateNormalVerdict(t *testing.T) {
	finding := evaluate(t, baseHeaders(),
		"from mx.paypal.com (mx.paypal.com [203.0.113.5]) by inbox.example.org; Mon, 2 Jun 2025 10:00:00 +0000")

	details := finding.Details.(core.HeaderDetails)
	assert.Equal(t, core.VerdictNormal, details.Verdict)
	assert.Less(t, finding.Score, 0.3)
}

func TestEvaluateIdentityMismatch(t *testing.T) {
	finding := evaluate(t, baseHeaders(),
		"from mail.suspicious.ru (mail.suspicious.ru [203.0.113.66]) by inbox.example.org; Mon, 2 Jun 2025 10:00:00 +0000")

	details := finding.Details.(core.HeaderDetails)
	assert.Equal(t, core.VerdictIdentityMismatch, details.Verdict)
	assert.GreaterOrEqual(t, finding.Score, 0.3)
	require.NotEmpty(t, finding.Reasons)
	assert.Contains(t, finding.Reasons[0], "does not match origin server")
}

func TestEvaluateIdentityOutranksRouting(t *testing.T) {
	// Both identity and routing problems present: identity wins.
	headers := baseHeaders()
	received := []string{
		"from bulk-blast.evil.ru (bulk-blast.evil.ru [203.0.113.66]) by inbox.example.org; Mon, 2 Jun 2025 10:00:00 +0000",
	}
	finding := evaluate(t, headers, received...)

	details := finding.Details.(core.HeaderDetails)
	assert.Equal(t, core.VerdictIdentityMismatch, details.Verdict)
}

func TestEvaluateSuspiciousRoutingVerdict(t *testing.T) {
	headers := baseHeaders()
	headers["From"] = []string{"Colleague <someone@example.net>"}
	delete(headers, "DKIM-Signature")
	delete(headers, "Received-SPF")
	delete(headers, "Authentication-Results")

	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	var received []string
	for i := 10; i >= 0; i-- {
		received = append(received, fmt.Sprintf(
			"from relay%d.example.net (relay%d.example.net [203.0.113.%d]) by relay%d.example.net; %s",
			i, i, 10+i, i+1, base.Add(time.Duration(i)*time.Minute).Format(time.RFC1123Z)))
	}

	email := &core.EmailRecord{
		From:    headers["From"][0],
		Headers: headers,
	}
	headers["Received"] = received

	finding, err := NewEvaluator(zap.NewNop()).Evaluate(context.Background(), email)
	require.NoError(t, err)

	details := finding.Details.(core.HeaderDetails)
	assert.Equal(t, 11, details.Routing.TotalHops)
	assert.Equal(t, core.VerdictSuspiciousRouting, details.Verdict)
}

func TestEvaluateTimestampReversal(t *testing.T) {
	headers := baseHeaders()
	headers["From"] = []string{"someone@paypal.com"}
	received := []string{
		"from mx2.paypal.com (mx2.paypal.com [203.0.113.2]) by inbox.example.org; Mon, 2 Jun 2025 09:00:00 +0000",
		"from mx1.paypal.com (mx1.paypal.com [203.0.113.1]) by mx2.paypal.com; Mon, 2 Jun 2025 10:00:00 +0000",
	}
	finding := evaluate(t, headers, received...)

	assert.Contains(t, finding.Reasons, "delivery timestamps out of chronological order")
}

func TestEvaluateAuthFailures(t *testing.T) {
	headers := baseHeaders()
	headers["Received-SPF"] = []string{"fail (not authorized)"}
	headers["Authentication-Results"] = []string{"mx.example.org; spf=fail; dkim=fail; dmarc=fail"}

	finding := evaluate(t, headers,
		"from mx.paypal.com (mx.paypal.com [203.0.113.5]) by inbox.example.org; Mon, 2 Jun 2025 10:00:00 +0000")

	assert.Contains(t, finding.Reasons, "SPF validation failed")
	assert.Contains(t, finding.Reasons, "DKIM signature failed validation")
	assert.Contains(t, finding.Reasons, "DMARC validation failed")
	assert.GreaterOrEqual(t, finding.Score, 0.6)
}

func TestEvaluateAnomalies(t *testing.T) {
	headers := map[string][]string{
		"From":       {"someone@example.net"},
		"Message-ID": {"not-a-message-id"},
		"X-Mailer":   {"MassBlast Pro 2.1"},
	}
	email := &core.EmailRecord{From: "someone@example.net", Headers: headers}

	finding, err := NewEvaluator(zap.NewNop()).Evaluate(context.Background(), email)
	require.NoError(t, err)

	assert.Contains(t, finding.Reasons, "missing required header: To")
	assert.Contains(t, finding.Reasons, "missing required header: Date")
	assert.Contains(t, finding.Reasons, "malformed Message-ID")
}

func TestAddressDomain(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"service@paypal.com", "paypal.com"},
		{"PayPal <service@PAYPAL.COM>", "paypal.com"},
		{"<bounce@mailer.example.net>", "mailer.example.net"},
		{"not an address", ""},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, addressDomain(tc.in), tc.in)
	}
}
