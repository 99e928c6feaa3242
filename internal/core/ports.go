package core

import (
	"context"
	"time"
)

// Evaluator is the interface every risk evaluator implements.
type Evaluator interface {
	// Kind identifies the evaluator in findings and configuration.
	Kind() EvaluatorKind

	// Evaluate analyzes an email and returns a finding. Implementations
	// must not panic past this boundary; degraded results are reported
	// as low-confidence findings, not errors. An error return is
	// reserved for context cancellation.
	Evaluate(ctx context.Context, email *EmailRecord) (RiskFinding, error)
}

// SenderHistoryStore persists per-sender observations across requests.
type SenderHistoryStore interface {
	// GetHistory retrieves the accumulated history for a sender, or
	// (nil, nil) when the sender has never been seen.
	GetHistory(ctx context.Context, sender string) (*SenderHistory, error)

	// Record appends one observation for a sender. Growth is
	// append-only; existing rows are never rewritten.
	Record(ctx context.Context, sender, displayName, replyTo string, timestamp time.Time) error

	// Close releases the underlying storage.
	Close() error
}

// TextScorer is the opaque ML collaborator of the content evaluator.
// It returns a phishing probability in [0,1] for the given text.
type TextScorer interface {
	ScoreText(ctx context.Context, subject, body string) (float64, error)
}

// DecodedPayload is one QR code extracted from an image.
type DecodedPayload struct {
	Content string
	Format  string
}

// QRCodec is the opaque image-decoding collaborator of the QR evaluator.
type QRCodec interface {
	Decode(ctx context.Context, imageData []byte) ([]DecodedPayload, error)
}

// DomainAge is the result of a registration-recency lookup.
type DomainAge struct {
	Created time.Time
	Known   bool
}

// AgeDays returns the domain age in days relative to now.
func (a DomainAge) AgeDays(now time.Time) int {
	if !a.Known {
		return 0
	}
	return int(now.Sub(a.Created).Hours() / 24)
}

// DomainAgeLookup resolves how recently a domain was registered.
// Implementations wrap WHOIS-like services and are expected to fail
// fast; the link evaluator treats failure as "assume recent".
type DomainAgeLookup interface {
	Lookup(ctx context.Context, domain string) (DomainAge, error)
}
