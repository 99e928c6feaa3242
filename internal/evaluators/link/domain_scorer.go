package link

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/unicode/norm"

	"github.com/mikey/phish-triage/internal/allowlist"
	"github.com/mikey/phish-triage/internal/core"
)

// Penalty weights for the per-URL checks. Each check triggers
// independently; the accumulated score is capped at 1.0.
const (
	penaltyIPLiteral      = 0.8
	penaltyTyposquatHigh  = 0.6
	penaltyTyposquatMed   = 0.4
	penaltyTyposquatLow   = 0.3
	penaltyShortener      = 0.3
	penaltySuspiciousTLD  = 0.4
	penaltyPunycode       = 0.3
	penaltyPunycodeDiff   = 0.2
	penaltyPunycodeBad    = 0.1
	penaltyNonASCII       = 0.2
	penaltyPerHomoglyph   = 0.1
	homoglyphCap          = 0.5
	penaltyAgeUnder7      = 0.5
	penaltyAgeUnder30     = 0.3
	penaltyAgeUnder90     = 0.1
	penaltyAgeUnknown     = 0.2
	penaltyRedirectParam  = 0.2
	penaltyRedirectTokens = 0.3
	penaltyLongURL        = 0.2
	penaltyLoginPath      = 0.1
	penaltyInsecureLogin  = 0.3
	penaltyDeepSubdomain  = 0.2
	penaltySubKeyword     = 0.15
	penaltyLongSubdomain  = 0.1
)

var (
	suspiciousParams   = []string{"redirect", "goto", "url", "link", "target", "forward"}
	suspiciousPaths    = []string{"/login", "/verify", "/confirm", "/update", "/secure"}
	suspiciousSubWords = []string{"secure", "verify", "login", "account", "update", "confirm"}

	ipv4Pattern = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)
	// Simplified IPv6 shape: groups of hex digits joined by colons.
	ipv6Pattern = regexp.MustCompile(`^([0-9a-fA-F]{0,4}:){2,7}[0-9a-fA-F]{0,4}$`)
)

// DomainScorer assesses a single URL for phishing indicators. It is
// deterministic for a given URL and allowlist apart from the external
// registration-age lookup.
type DomainScorer struct {
	allow     *allowlist.Checker
	ageLookup core.DomainAgeLookup
	logger    *zap.Logger
	now       func() time.Time
}

// NewDomainScorer creates a scorer. ageLookup may be nil, in which case
// registration recency is treated as unknown (scored toward suspicion).
func NewDomainScorer(allow *allowlist.Checker, ageLookup core.DomainAgeLookup, logger *zap.Logger) *DomainScorer {
	return &DomainScorer{
		allow:     allow,
		ageLookup: ageLookup,
		logger:    logger,
		now:       time.Now,
	}
}

// Score analyzes one raw URL. Malformed input is never an error: it is
// scored at maximum suspicion so it participates in normal fusion.
func (s *DomainScorer) Score(ctx context.Context, rawURL string) core.DomainAssessment {
	normalized := rawURL
	if !strings.Contains(normalized, "://") {
		normalized = "http://" + normalized
	}

	parsed, err := url.Parse(normalized)
	if err != nil || parsed.Host == "" {
		return core.DomainAssessment{
			URL:     rawURL,
			Domain:  "invalid",
			Score:   1.0,
			Reasons: []string{"malformed URL"},
		}
	}

	host := strings.ToLower(parsed.Hostname())
	var score float64
	var reasons []string

	if isIPLiteral(host) {
		score += penaltyIPLiteral
		reasons = append(reasons, "uses IP address instead of domain")

		patternScore, patternReasons := s.checkURLPatterns(parsed, normalized)
		score += patternScore
		reasons = append(reasons, patternReasons...)

		return s.finish(rawURL, host, score, reasons)
	}

	domain, subdomain := splitRegistrable(host)

	if typoScore, nearest := s.checkTyposquat(domain); typoScore > 0 {
		score += typoScore
		if typoScore >= 0.4 {
			reasons = append(reasons, fmt.Sprintf("similar to trusted domain %q (possible typosquatting)", nearest))
		} else {
			reasons = append(reasons, fmt.Sprintf("resembles trusted domain %q", nearest))
		}
	}

	if allowlist.URLShorteners[domain] {
		score += penaltyShortener
		reasons = append(reasons, "uses URL shortening service")
	}

	if tld, ok := allowlist.HasSuspiciousTLD(domain); ok {
		score += penaltySuspiciousTLD
		reasons = append(reasons, fmt.Sprintf("uses suspicious TLD: %s", tld))
	}

	punyScore, punyReasons := checkPunycode(host)
	score += punyScore
	reasons = append(reasons, punyReasons...)

	// Punycode hosts hide their confusables behind ASCII encoding, so
	// the look-alike scan runs on the decoded, normalized form.
	scanHost := domain
	if strings.Contains(host, "xn--") {
		if decoded, err := idna.ToUnicode(host); err == nil {
			scanHost = norm.NFC.String(decoded)
		}
	}
	if hits := findHomoglyphs(scanHost); len(hits) > 0 {
		contribution := float64(len(hits)) * penaltyPerHomoglyph
		if contribution > homoglyphCap {
			contribution = homoglyphCap
		}
		score += contribution
		chars := make([]string, len(hits))
		for i, h := range hits {
			chars[i] = h.String()
		}
		reasons = append(reasons, fmt.Sprintf("contains look-alike characters: %s", strings.Join(chars, "")))
	}

	ageScore, ageReason := s.checkRegistrationAge(ctx, domain)
	score += ageScore
	if ageReason != "" {
		reasons = append(reasons, ageReason)
	}

	patternScore, patternReasons := s.checkURLPatterns(parsed, normalized)
	score += patternScore
	reasons = append(reasons, patternReasons...)

	if subdomain != "" {
		subScore, subReasons := checkSubdomain(subdomain)
		score += subScore
		reasons = append(reasons, subReasons...)
	}

	return s.finish(rawURL, domain, score, reasons)
}

func (s *DomainScorer) finish(rawURL, domain string, score float64, reasons []string) core.DomainAssessment {
	if score > 1.0 {
		score = 1.0
	}
	if len(reasons) > core.MaxReasonsPerFinding {
		reasons = reasons[:core.MaxReasonsPerFinding]
	}
	return core.DomainAssessment{
		URL:     rawURL,
		Domain:  domain,
		Score:   score,
		Reasons: reasons,
	}
}

// checkTyposquat measures edit distance from the registrable domain to
// every allowlist entry. An exact allowlist match is trusted and incurs
// no penalty.
func (s *DomainScorer) checkTyposquat(domain string) (float64, string) {
	if s.allow.IsTrusted(domain) {
		return 0, ""
	}

	minDist := -1
	nearest := ""
	for _, trusted := range s.allow.Domains() {
		d := levenshtein(domain, trusted)
		if minDist < 0 || d < minDist {
			minDist = d
			nearest = trusted
		}
	}
	if nearest == "" {
		return 0, ""
	}

	maxLen := len(domain)
	if len(nearest) > maxLen {
		maxLen = len(nearest)
	}
	similarity := 1 - float64(minDist)/float64(maxLen)

	switch {
	case similarity >= 0.8 && minDist <= 3:
		return penaltyTyposquatHigh, nearest
	case similarity >= 0.7 && minDist <= 2:
		return penaltyTyposquatMed, nearest
	case similarity >= 0.6 && minDist == 1:
		return penaltyTyposquatLow, nearest
	}
	return 0, ""
}

func (s *DomainScorer) checkRegistrationAge(ctx context.Context, domain string) (float64, string) {
	if s.ageLookup == nil {
		return penaltyAgeUnknown, "domain registration date unknown (assumed recent)"
	}

	age, err := s.ageLookup.Lookup(ctx, domain)
	if err != nil {
		s.logger.Debug("Registration lookup failed",
			zap.String("domain", domain), zap.Error(err))
		return penaltyAgeUnknown, "registration lookup failed (assumed recent)"
	}
	if !age.Known {
		return penaltyAgeUnknown, "domain registration date unknown (assumed recent)"
	}

	days := age.AgeDays(s.now())
	switch {
	case days < 7:
		return penaltyAgeUnder7, fmt.Sprintf("domain registered very recently (%d days ago)", days)
	case days < 30:
		return penaltyAgeUnder30, fmt.Sprintf("domain registered recently (%d days ago)", days)
	case days < 90:
		return penaltyAgeUnder90, fmt.Sprintf("domain is relatively new (%d days ago)", days)
	}
	return 0, ""
}

func (s *DomainScorer) checkURLPatterns(parsed *url.URL, full string) (float64, []string) {
	var score float64
	var reasons []string

	lower := strings.ToLower(full)

	if parsed.RawQuery != "" {
		query := parsed.Query()
		for _, param := range suspiciousParams {
			if query.Has(param) {
				score += penaltyRedirectParam
				reasons = append(reasons, fmt.Sprintf("contains suspicious parameter: %s", param))
			}
		}
	}

	if strings.Count(lower, "redirect") > 1 || strings.Contains(lower, "goto") {
		score += penaltyRedirectTokens
		reasons = append(reasons, "multiple redirect indicators in URL")
	}

	if len(full) > 200 {
		score += penaltyLongURL
		reasons = append(reasons, "unusually long URL")
	}

	pathLower := strings.ToLower(parsed.Path)
	for _, p := range suspiciousPaths {
		if strings.Contains(pathLower, p) {
			score += penaltyLoginPath
			reasons = append(reasons, fmt.Sprintf("contains suspicious path: %s", p))
		}
	}

	if parsed.Scheme == "http" && strings.Contains(lower, "login") {
		score += penaltyInsecureLogin
		reasons = append(reasons, "HTTP used for login page (insecure)")
	}

	return score, reasons
}

func checkSubdomain(subdomain string) (float64, []string) {
	var score float64
	var reasons []string

	if strings.Count(subdomain, ".")+1 > 3 {
		score += penaltyDeepSubdomain
		reasons = append(reasons, "excessive subdomain levels")
	}

	lower := strings.ToLower(subdomain)
	for _, word := range suspiciousSubWords {
		if strings.Contains(lower, word) {
			score += penaltySubKeyword
			reasons = append(reasons, fmt.Sprintf("suspicious subdomain keyword: %s", word))
			break
		}
	}

	if len(subdomain) > 20 {
		score += penaltyLongSubdomain
		reasons = append(reasons, "unusually long subdomain")
	}

	return score, reasons
}

// checkPunycode flags xn-- labels, decodes them, and flags raw
// non-ASCII bytes outside punycode encoding.
func checkPunycode(host string) (float64, []string) {
	var score float64
	var reasons []string

	if strings.Contains(host, "xn--") {
		score += penaltyPunycode
		reasons = append(reasons, "contains punycode (internationalized characters)")

		decoded, err := idna.ToUnicode(host)
		if err != nil {
			score += penaltyPunycodeBad
			reasons = append(reasons, "invalid punycode encoding")
		} else if decoded != host {
			score += penaltyPunycodeDiff
			reasons = append(reasons, fmt.Sprintf("punycode decodes to: %s", decoded))
		}
	}

	for _, label := range strings.Split(host, ".") {
		if !isASCII(label) {
			score += penaltyNonASCII
			reasons = append(reasons, "contains non-ASCII characters")
			break
		}
	}

	return score, reasons
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// isIPLiteral reports whether the host is an IPv4 literal with valid
// octets or matches the simplified IPv6 shape.
func isIPLiteral(host string) bool {
	if ipv4Pattern.MatchString(host) {
		for _, part := range strings.Split(host, ".") {
			octet, err := strconv.Atoi(part)
			if err != nil || octet > 255 {
				return false
			}
		}
		return true
	}
	return strings.Contains(host, ":") && ipv6Pattern.MatchString(host)
}

// splitRegistrable separates a host into its registrable domain and
// subdomain using the public suffix list, falling back to the last two
// labels when the host is not a listed suffix.
func splitRegistrable(host string) (domain, subdomain string) {
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		labels := strings.Split(host, ".")
		if len(labels) <= 2 {
			return host, ""
		}
		domain = strings.Join(labels[len(labels)-2:], ".")
	}
	if len(host) > len(domain) {
		subdomain = strings.TrimSuffix(host[:len(host)-len(domain)], ".")
	}
	return domain, subdomain
}
