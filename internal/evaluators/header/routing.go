package header

import (
	"net"
	"net/mail"
	"regexp"
	"strings"

	"github.com/mikey/phish-triage/internal/allowlist"
	"github.com/mikey/phish-triage/internal/core"
)

var (
	fromTokenPattern = regexp.MustCompile(`(?i)from\s+([^\s(;\[]+)`)
	byTokenPattern   = regexp.MustCompile(`(?i)\bby\s+([^\s(;\[]+)`)
	bracketIPPattern = regexp.MustCompile(`\[([0-9a-fA-F:.]+)\]`)
)

// ParseRoute reconstructs the delivery path from the Received header
// values. MTAs prepend Received lines, so the physical order is newest
// first; the returned analysis is chronological, Hops[0] being the
// relay closest to the origin.
func ParseRoute(received []string) *core.RoutingAnalysis {
	analysis := &core.RoutingAnalysis{}
	if len(received) == 0 {
		return analysis
	}

	for i := len(received) - 1; i >= 0; i-- {
		analysis.Hops = append(analysis.Hops, parseHop(received[i]))
	}
	analysis.TotalHops = len(analysis.Hops)

	origin := analysis.Hops[0]
	analysis.OriginServer = origin.Server
	analysis.OriginIP = origin.IP

	last := stripComments(received[0])
	if m := byTokenPattern.FindStringSubmatch(last); m != nil {
		analysis.FinalServer = normalizeServer(m[1])
	}

	for _, hop := range analysis.Hops {
		if reason := suspiciousHopReason(hop); reason != "" {
			analysis.SuspiciousHops = append(analysis.SuspiciousHops, reason)
		}
	}
	return analysis
}

// parseHop extracts the sending server, its bracketed IP and the
// trailing timestamp clause from one Received line. Every field is
// best effort; a hop with nothing parseable still counts.
func parseHop(line string) core.RouteHop {
	hop := core.RouteHop{Raw: line}

	// Clause keywords inside parenthesized comments ("invoked by uid")
	// must not masquerade as from/by tokens. IPs and timestamps are
	// still read from the full line, since MTAs bracket the peer
	// address inside the comment.
	clauses := stripComments(line)
	if m := fromTokenPattern.FindStringSubmatch(clauses); m != nil {
		hop.Server = normalizeServer(m[1])
	} else if m := byTokenPattern.FindStringSubmatch(clauses); m != nil {
		hop.Server = normalizeServer(m[1])
	}

	if m := bracketIPPattern.FindStringSubmatch(line); m != nil {
		if net.ParseIP(m[1]) != nil {
			hop.IP = m[1]
		}
	}

	if idx := strings.LastIndex(line, ";"); idx >= 0 {
		if ts, err := mail.ParseDate(strings.TrimSpace(line[idx+1:])); err == nil {
			hop.Timestamp = ts
		}
	}
	return hop
}

// stripComments removes RFC 5322 parenthesized comments, which may
// nest.
func stripComments(line string) string {
	var b strings.Builder
	depth := 0
	for _, r := range line {
		switch {
		case r == '(':
			depth++
		case r == ')':
			if depth > 0 {
				depth--
			}
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeServer(token string) string {
	return strings.ToLower(strings.Trim(token, `.,;:"'`))
}

// suspiciousHopReason classifies one hop: relay names on phishing-heavy
// TLDs, bulk-campaign infrastructure, and private address space in the
// public delivery path.
func suspiciousHopReason(hop core.RouteHop) string {
	server := strings.ToLower(hop.Server)
	if server != "" {
		for _, tld := range allowlist.RoutingSuspiciousTLDs {
			if strings.HasSuffix(server, tld) {
				return "relay on suspicious TLD: " + hop.Server
			}
		}
		for _, indicator := range allowlist.BulkMailIndicators {
			if strings.Contains(server, indicator) {
				return "bulk mail infrastructure: " + hop.Server
			}
		}
	}
	if hop.IP != "" {
		if ip := net.ParseIP(hop.IP); ip != nil &&
			(ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast()) {
			return "private address in delivery path: " + hop.IP
		}
	}
	return ""
}
