// Package behavior scores an email against the sender's accumulated
// history: first contact, changed display names or reply-to addresses,
// and sending patterns that do not fit a personal correspondent.
package behavior

import (
	"context"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/phish-triage/internal/allowlist"
	"github.com/mikey/phish-triage/internal/core"
)

const (
	penaltyNewSender        = 0.4
	penaltyNewDisplayName   = 0.2
	penaltyNewReplyTo       = 0.15
	penaltyReplyToMismatch  = 0.3
	penaltyBrandMismatch    = 0.2
	penaltyGenericName      = 0.1
	penaltyAddressInName    = 0.15
	penaltyHighFrequency    = 0.1
	penaltyMissingMessageID = 0.1
	penaltyBulkMailer       = 0.15
	penaltyOddHour          = 0.05
	penaltyUrgentSubject    = 0.1

	highFrequencyPerDay = 10
)

var genericDisplayNames = []string{
	"admin", "administrator", "support", "service", "noreply", "no-reply",
	"security", "help desk", "helpdesk", "customer service", "it department",
}

var urgencyWords = []string{
	"urgent", "immediate", "action required", "suspended", "verify now",
	"expires", "final notice", "last chance",
}

var addressInNamePattern = regexp.MustCompile(`\S+@\S+\.\S+`)

// Evaluator implements core.Evaluator over a sender history store.
type Evaluator struct {
	store  core.SenderHistoryStore
	logger *zap.Logger
	now    func() time.Time
}

func NewEvaluator(store core.SenderHistoryStore, logger *zap.Logger) *Evaluator {
	return &Evaluator{store: store, logger: logger, now: time.Now}
}

func (e *Evaluator) Kind() core.EvaluatorKind { return core.EvaluatorBehavior }

// Evaluate scores the sender against history and then records the
// message. Recording failures are logged, never surfaced: the score
// already stands and history is advisory.
func (e *Evaluator) Evaluate(ctx context.Context, email *core.EmailRecord) (core.RiskFinding, error) {
	if err := ctx.Err(); err != nil {
		return core.RiskFinding{}, err
	}

	sender := canonicalAddress(email.From)
	history, err := e.store.GetHistory(ctx, sender)
	if err != nil {
		e.logger.Warn("Sender history lookup failed", zap.String("sender", sender), zap.Error(err))
		history = nil
	}

	var score float64
	var reasons []string
	add := func(penalty float64, reason string) {
		score += penalty
		reasons = append(reasons, reason)
	}

	replyTo := canonicalAddress(email.Header("Reply-To"))

	if history == nil {
		add(penaltyNewSender, "first message from this sender")
	} else {
		if email.DisplayName != "" && !containsFold(history.DisplayNames, email.DisplayName) {
			add(penaltyNewDisplayName, fmt.Sprintf("sender is using a new display name: %q", email.DisplayName))
		}
		if replyTo != "" && replyTo != sender && !containsFold(history.ReplyTos, replyTo) {
			add(penaltyNewReplyTo, "sender is using a new reply-to address")
		}
		if n := messagesPerDay(history, e.now()); n > highFrequencyPerDay {
			add(penaltyHighFrequency, fmt.Sprintf("high sending frequency (%d messages/day)", n))
		}
	}

	if replyTo != "" && sender != "" && replyTo != sender {
		if localPart(replyTo) != localPart(sender) && !allowlist.SameProvider(domainPart(replyTo), domainPart(sender)) {
			add(penaltyReplyToMismatch, "reply-to routes responses to a different mailbox")
		}
	}

	if brand, ok := allowlist.BrandForDisplayName(email.DisplayName); ok {
		if !allowlist.BrandOwnsDomain(brand, domainPart(sender)) {
			add(penaltyBrandMismatch, fmt.Sprintf("display name claims %s but sender is %s", brand, domainPart(sender)))
		}
	}

	if isGenericName(email.DisplayName) {
		add(penaltyGenericName, fmt.Sprintf("generic display name: %q", email.DisplayName))
	}

	if addressInNamePattern.MatchString(email.DisplayName) {
		add(penaltyAddressInName, "display name contains an email address")
	}

	if email.Header("Message-ID") == "" {
		add(penaltyMissingMessageID, "message has no Message-ID")
	}

	if mailer := strings.ToLower(email.Header("X-Mailer")); mailer != "" {
		for _, indicator := range allowlist.BulkMailIndicators {
			if strings.Contains(mailer, indicator) {
				add(penaltyBulkMailer, "sent with bulk mailing software")
				break
			}
		}
	}

	if sent, err := mail.ParseDate(email.Header("Date")); err == nil {
		if hour := sent.Hour(); hour >= 2 && hour < 6 {
			add(penaltyOddHour, fmt.Sprintf("sent at unusual hour (%02d:00)", hour))
		}
	}

	if word := firstUrgencyWord(email.Subject); word != "" {
		add(penaltyUrgentSubject, fmt.Sprintf("urgency pressure in subject: %q", word))
	}

	if score > 1.0 {
		score = 1.0
	}
	if len(reasons) > core.MaxReasonsPerFinding {
		reasons = reasons[:core.MaxReasonsPerFinding]
	}
	if len(reasons) == 0 {
		reasons = []string{"sender behavior consistent with history"}
	}

	if sender != "" {
		if err := e.store.Record(ctx, sender, email.DisplayName, replyTo, e.now()); err != nil {
			e.logger.Warn("Failed to record sender history", zap.String("sender", sender), zap.Error(err))
		}
	}

	return core.RiskFinding{
		Evaluator:  core.EvaluatorBehavior,
		Score:      score,
		Confidence: 0.8,
		Reasons:    reasons,
		Details: core.BehaviorDetails{
			IsNewSender: history == nil,
			History:     history,
		},
	}, nil
}

// messagesPerDay averages the history's message count over its
// observed lifetime, minimum one day.
func messagesPerDay(h *core.SenderHistory, now time.Time) int {
	days := int(now.Sub(h.FirstSeen).Hours() / 24)
	if days < 1 {
		days = 1
	}
	return h.MessageCount / days
}

func isGenericName(displayName string) bool {
	lower := strings.ToLower(strings.TrimSpace(displayName))
	for _, g := range genericDisplayNames {
		if lower == g {
			return true
		}
	}
	return false
}

func firstUrgencyWord(subject string) string {
	lower := strings.ToLower(subject)
	for _, w := range urgencyWords {
		if strings.Contains(lower, w) {
			return w
		}
	}
	return ""
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}

// canonicalAddress lowercases and strips the display portion of an
// address header value.
func canonicalAddress(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(value); err == nil {
		value = addr.Address
	} else {
		value = strings.Trim(value, "<>")
	}
	return strings.ToLower(value)
}

func localPart(address string) string {
	if at := strings.LastIndex(address, "@"); at > 0 {
		return address[:at]
	}
	return address
}

func domainPart(address string) string {
	if at := strings.LastIndex(address, "@"); at >= 0 && at < len(address)-1 {
		return address[at+1:]
	}
	return ""
}
