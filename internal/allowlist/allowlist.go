// Package allowlist holds the trusted-domain knowledge shared by the
// risk evaluators: the typosquatting allowlist, URL-shortener and
// suspicious-TLD sets, and the known-provider alias groups used when
// matching sender identity against routing.
package allowlist

import (
	"strings"

	"go.uber.org/zap"
)

// DefaultTrustedDomains is the allowlist used for typosquatting checks
// when none is configured.
var DefaultTrustedDomains = []string{
	"microsoft.com", "google.com", "paypal.com", "amazon.com",
	"apple.com", "facebook.com", "twitter.com", "linkedin.com",
	"github.com", "stackoverflow.com", "wikipedia.org", "youtube.com",
	"gmail.com", "outlook.com", "yahoo.com", "hotmail.com",
	"office.com", "live.com", "dropbox.com", "zoom.us",
}

// URLShorteners are known link-shortening services.
var URLShorteners = map[string]bool{
	"bit.ly": true, "tinyurl.com": true, "goo.gl": true, "t.co": true,
	"ow.ly": true, "short.link": true, "tiny.cc": true, "rebrand.ly": true,
	"clicky.me": true, "is.gd": true, "buff.ly": true, "cutt.ly": true,
	"soo.gd": true,
}

// SuspiciousTLDs are top-level domains disproportionately used in
// phishing campaigns.
var SuspiciousTLDs = []string{
	".tk", ".ml", ".ga", ".cf", ".gq", ".ru", ".cn",
	".cc", ".pw", ".top", ".click", ".download",
}

// RoutingSuspiciousTLDs is the subset applied to relay server names.
var RoutingSuspiciousTLDs = []string{
	".ru", ".cn", ".tk", ".ml", ".ga", ".cf", ".gq", ".cc", ".pw",
}

// BulkMailIndicators are tokens in relay names or X-Mailer values that
// mark bulk or campaign mail infrastructure.
var BulkMailIndicators = []string{
	"bulk", "mass", "blast", "campaign", "newsletter", "marketing",
	"mailgun", "sendgrid", "mandrill", "mailchimp",
}

// ProviderAliases groups the registered domains of the major providers.
// Two domains in the same group are considered to belong to one
// operator when matching sender identity against routing origin.
var ProviderAliases = map[string][]string{
	"gmail.com":     {"gmail.com", "google.com", "googlemail.com"},
	"outlook.com":   {"outlook.com", "hotmail.com", "live.com", "office365.com"},
	"yahoo.com":     {"yahoo.com", "yahoomail.com", "ymail.com"},
	"apple.com":     {"apple.com", "icloud.com", "me.com", "mac.com"},
	"amazon.com":    {"amazon.com", "amazonaws.com", "amazonses.com"},
	"paypal.com":    {"paypal.com", "paypalobjects.com"},
	"microsoft.com": {"microsoft.com", "office.com", "office365.com"},
	"facebook.com":  {"facebook.com", "facebookmail.com"},
	"twitter.com":   {"twitter.com", "x.com"},
}

// LegitimateForwarders are relays routinely seen originating mail for
// domains they do not own (webmail, forwarding services).
var LegitimateForwarders = map[string]bool{
	"gmail.com": true, "google.com": true, "outlook.com": true,
	"office365.com": true, "yahoo.com": true, "icloud.com": true,
	"protonmail.com": true,
}

// BrandDisplayPatterns maps a brand key to display-name substrings that
// claim affiliation with it. Used for display-name spoofing checks.
var BrandDisplayPatterns = map[string][]string{
	"amazon":    {"amazon", "amazon.com", "amazon customer service", "amazon support"},
	"paypal":    {"paypal", "paypal.com", "paypal service", "paypal support"},
	"microsoft": {"microsoft", "microsoft.com", "microsoft support", "microsoft team"},
	"google":    {"google", "google.com", "google team", "google support"},
	"apple":     {"apple", "apple.com", "apple support", "apple team"},
	"facebook":  {"facebook", "facebook.com", "meta"},
	"twitter":   {"twitter", "twitter.com", "x.com"},
	"linkedin":  {"linkedin", "linkedin.com"},
}

// Checker answers trusted-domain membership questions for a configured
// allowlist.
type Checker struct {
	domains []string
	logger  *zap.Logger
}

// NewChecker creates a checker over the given trusted domains. Domains
// are normalized to lower case; an empty list falls back to the default
// allowlist.
func NewChecker(domains []string, logger *zap.Logger) *Checker {
	if len(domains) == 0 {
		domains = DefaultTrustedDomains
	}
	normalized := make([]string, len(domains))
	for i, d := range domains {
		normalized[i] = strings.ToLower(strings.TrimSpace(d))
	}

	if logger != nil {
		logger.Info("Initialized trusted-domain allowlist", zap.Int("domains", len(normalized)))
	}

	return &Checker{domains: normalized, logger: logger}
}

// Domains returns the normalized allowlist.
func (c *Checker) Domains() []string {
	return c.domains
}

// IsTrusted reports whether the registrable domain is an exact
// allowlist member.
func (c *Checker) IsTrusted(domain string) bool {
	domain = strings.ToLower(domain)
	for _, d := range c.domains {
		if d == domain {
			return true
		}
	}
	return false
}

// HasSuspiciousTLD reports whether the host ends in one of the
// suspicious TLDs.
func HasSuspiciousTLD(host string) (string, bool) {
	host = strings.ToLower(host)
	for _, tld := range SuspiciousTLDs {
		if strings.HasSuffix(host, tld) {
			return tld, true
		}
	}
	return "", false
}

// SameProvider reports whether two domains belong to one known
// provider alias group.
func SameProvider(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	for _, group := range ProviderAliases {
		var foundA, foundB bool
		for _, d := range group {
			if d == a {
				foundA = true
			}
			if d == b {
				foundB = true
			}
		}
		if foundA && foundB {
			return true
		}
	}
	return false
}

// BrandForDisplayName returns the brand a display name claims, if any.
func BrandForDisplayName(displayName string) (string, bool) {
	lower := strings.ToLower(displayName)
	for brand, patterns := range BrandDisplayPatterns {
		for _, p := range patterns {
			if strings.Contains(lower, p) {
				return brand, true
			}
		}
	}
	return "", false
}

// BrandOwnsDomain reports whether the sender domain belongs to the
// named brand's registered domains.
func BrandOwnsDomain(brand, domain string) bool {
	domain = strings.ToLower(domain)
	if strings.Contains(domain, brand) {
		return true
	}
	group, ok := ProviderAliases[brand+".com"]
	if !ok {
		return false
	}
	for _, d := range group {
		if d == domain {
			return true
		}
	}
	return false
}
