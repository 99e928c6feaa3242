package qr

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/mikey/phish-triage/internal/allowlist"
	"github.com/mikey/phish-triage/internal/core"
)

const (
	qrURLIPScore        = 0.7
	qrURLTLDScore       = 0.4
	qrURLShortenerScore = 0.5
	qrURLTrustedCredit  = 0.2
	qrURLInsecureScore  = 0.2
	qrURLPathScore      = 0.2
	qrURLMalformedScore = 0.5
	qrCryptoScore       = 0.6
	qrFinancialScore    = 0.7
	qrVCardOrgScore     = 0.3
	qrVCardPhonesScore  = 0.2
	qrWiFiScore         = 0.3
	qrWiFiOpenScore     = 0.2
	qrWiFiNameScore     = 0.1
	qrKeywordScore      = 0.1
	qrKeywordCap        = 0.5
)

var qrSuspiciousKeywords = []string{
	"urgent", "verify", "suspend", "limited", "expired", "confirm",
	"update", "secure", "click", "act now", "immediate", "winner",
	"congratulations", "prize", "bitcoin", "crypto", "investment",
	"inheritance", "lawsuit", "tax", "refund", "irs", "police",
}

var qrSuspiciousPaths = []string{"/login", "/verify", "/confirm", "/update", "/secure", "/download"}

var qrSuspiciousOrgs = []string{"bank", "police", "irs", "government", "security", "microsoft", "apple", "google"}

var qrOpenWiFiNames = []string{"free", "public", "guest", "open", "wifi", "internet"}

var (
	bitcoinPattern  = regexp.MustCompile(`\b[13][a-km-zA-HJ-NP-Z1-9]{25,34}\b`)
	ethereumPattern = regexp.MustCompile(`\b0x[a-fA-F0-9]{40}\b`)
	litecoinPattern = regexp.MustCompile(`\b[LM3][a-km-zA-HJ-NP-Z1-9]{26,33}\b`)

	cardNumberPattern = regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`)
	ibanPattern       = regexp.MustCompile(`\biban[\s:]*[a-z]{2}\d{2}[a-z0-9]{4}\d{7}[a-z0-9]{0,16}\b`)
	routingPattern    = regexp.MustCompile(`\brouting[\s:]*\d{9}\b`)

	phonePattern  = regexp.MustCompile(`^[+]?[\d\s\-()]{7,15}$`)
	ipHostPattern = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}(:\d+)?$`)
)

// analyzeCode scores one decoded payload: a small base for the QR
// itself plus content-type specific checks and a keyword sweep.
func analyzeCode(content, location string) core.QRAssessment {
	contentType := classifyContent(content)

	score := baseQRScore
	reasons := []string{"contains QR code (requires user interaction)"}

	var typeScore float64
	var typeReasons []string
	switch contentType {
	case "url":
		typeScore, typeReasons = analyzeURL(content)
	case "text":
		typeScore, typeReasons = analyzeText(content)
	case "vcard":
		typeScore, typeReasons = analyzeVCard(content)
	case "wifi":
		typeScore, typeReasons = analyzeWiFi(content)
	}
	score += typeScore
	reasons = append(reasons, typeReasons...)

	kwScore, kwReasons := checkKeywords(content)
	score += kwScore
	reasons = append(reasons, kwReasons...)

	if len(reasons) > core.MaxReasonsPerFinding {
		reasons = reasons[:core.MaxReasonsPerFinding]
	}

	return core.QRAssessment{
		Content:     truncate(content),
		ContentType: contentType,
		Location:    location,
		Score:       clamp01(score),
		Reasons:     reasons,
	}
}

// classifyContent identifies what scanning this code would trigger.
func classifyContent(content string) string {
	lower := strings.ToLower(content)

	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "ftp://"):
		return "url"
	case strings.HasPrefix(lower, "mailto:"),
		strings.Contains(content, "@") && strings.Contains(content, ".") && !strings.ContainsAny(content, " \n"):
		return "email"
	case strings.HasPrefix(lower, "tel:"), phonePattern.MatchString(content):
		return "phone"
	case strings.HasPrefix(lower, "sms:"), strings.HasPrefix(lower, "smsto:"):
		return "sms"
	case strings.HasPrefix(content, "BEGIN:VCARD"), strings.Contains(lower, "vcard"):
		return "vcard"
	case strings.HasPrefix(lower, "wifi:"):
		return "wifi"
	case strings.Contains(lower, "play.google.com"), strings.Contains(lower, "apps.apple.com"):
		return "app_store"
	}
	return "text"
}

func analyzeURL(raw string) (float64, []string) {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return qrURLMalformedScore, []string{"QR URL is malformed"}
	}

	host := strings.ToLower(parsed.Hostname())
	domain := registrableLast2(host)

	var score float64
	var reasons []string

	if ipHostPattern.MatchString(parsed.Host) {
		score += qrURLIPScore
		reasons = append(reasons, "QR URL uses IP address")
	}

	if tld, ok := allowlist.HasSuspiciousTLD(host); ok {
		score += qrURLTLDScore
		reasons = append(reasons, "QR URL uses suspicious TLD: "+tld)
	}

	if allowlist.URLShorteners[domain] {
		score += qrURLShortenerScore
		reasons = append(reasons, "QR URL uses shortening service")
	}

	if containsString(allowlist.DefaultTrustedDomains, domain) {
		score -= qrURLTrustedCredit
		if score < 0 {
			score = 0
		}
	}

	if parsed.Scheme == "http" {
		score += qrURLInsecureScore
		reasons = append(reasons, "QR URL uses insecure HTTP")
	}

	pathLower := strings.ToLower(parsed.Path)
	for _, p := range qrSuspiciousPaths {
		if strings.Contains(pathLower, p) {
			score += qrURLPathScore
			reasons = append(reasons, "QR URL contains suspicious path: "+p)
		}
	}
	return score, reasons
}

func analyzeText(text string) (float64, []string) {
	var score float64
	var reasons []string

	if bitcoinPattern.MatchString(text) || ethereumPattern.MatchString(text) || litecoinPattern.MatchString(text) {
		score += qrCryptoScore
		reasons = append(reasons, "QR contains cryptocurrency address")
	}

	lower := strings.ToLower(text)
	if cardNumberPattern.MatchString(lower) || ibanPattern.MatchString(lower) || routingPattern.MatchString(lower) {
		score += qrFinancialScore
		reasons = append(reasons, "QR contains financial information")
	}
	return score, reasons
}

func analyzeVCard(vcard string) (float64, []string) {
	var score float64
	var reasons []string

	lower := strings.ToLower(vcard)
	for _, org := range qrSuspiciousOrgs {
		if strings.Contains(lower, org) {
			score += qrVCardOrgScore
			reasons = append(reasons, "vCard claims affiliation with "+org)
		}
	}

	if strings.Count(vcard, "TEL:") > 3 {
		score += qrVCardPhonesScore
		reasons = append(reasons, "vCard contains many phone numbers")
	}
	return score, reasons
}

func analyzeWiFi(wifi string) (float64, []string) {
	score := qrWiFiScore
	reasons := []string{"WiFi QR code (potential security risk)"}

	lower := strings.ToLower(wifi)
	if strings.Contains(lower, "nopass") || strings.Contains(lower, "open") {
		score += qrWiFiOpenScore
		reasons = append(reasons, "WiFi QR code for open network")
	}
	for _, name := range qrOpenWiFiNames {
		if strings.Contains(lower, name) {
			score += qrWiFiNameScore
			reasons = append(reasons, fmt.Sprintf("WiFi network name contains %q", name))
		}
	}
	return score, reasons
}

func checkKeywords(content string) (float64, []string) {
	lower := strings.ToLower(content)

	var score float64
	var hits []string
	for _, kw := range qrSuspiciousKeywords {
		if strings.Contains(lower, kw) {
			score += qrKeywordScore
			hits = append(hits, kw)
		}
	}
	if score > qrKeywordCap {
		score = qrKeywordCap
	}
	if len(hits) == 0 {
		return 0, nil
	}
	return score, []string{"QR content contains suspicious keywords: " + strings.Join(hits, ", ")}
}

// registrableLast2 approximates the registrable domain as the last two
// labels, enough for shortener and trusted-domain membership checks.
func registrableLast2(host string) string {
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
