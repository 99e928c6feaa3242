package behavior

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/phish-triage/internal/core"
)

type stubStore struct {
	history  *core.SenderHistory
	getErr   error
	recorded []string
}

func (s *stubStore) GetHistory(_ context.Context, _ string) (*core.SenderHistory, error) {
	return s.history, s.getErr
}

func (s *stubStore) Record(_ context.Context, sender, _, _ string, _ time.Time) error {
	s.recorded = append(s.recorded, sender)
	return nil
}

func (s *stubStore) Close() error { return nil }

func knownSender() *core.SenderHistory {
	return &core.SenderHistory{
		Sender:       "alice@example.net",
		MessageCount: 40,
		FirstSeen:    time.Now().AddDate(0, -2, 0),
		LastSeen:     time.Now().AddDate(0, 0, -1),
		DisplayNames: []string{"Alice Jones"},
		ReplyTos:     []string{},
	}
}

func plainEmail() *core.EmailRecord {
	return &core.EmailRecord{
		Subject:     "meeting notes",
		From:        "alice@example.net",
		DisplayName: "Alice Jones",
		Headers: map[string][]string{
			"Message-ID": {"<xyz@example.net>"},
			"Date":       {"Mon, 2 Jun 2025 14:00:00 +0000"},
		},
	}
}

func TestEvaluateNewSender(t *testing.T) {
	store := &stubStore{}
	ev := NewEvaluator(store, zap.NewNop())

	finding, err := ev.Evaluate(context.Background(), plainEmail())
	require.NoError(t, err)

	assert.InDelta(t, 0.4, finding.Score, 1e-9)
	assert.Contains(t, finding.Reasons, "first message from this sender")
	assert.True(t, finding.Details.(core.BehaviorDetails).IsNewSender)
}

func TestEvaluateKnownSenderConsistent(t *testing.T) {
	store := &stubStore{history: knownSender()}
	ev := NewEvaluator(store, zap.NewNop())

	finding, err := ev.Evaluate(context.Background(), plainEmail())
	require.NoError(t, err)

	assert.Equal(t, 0.0, finding.Score)
	assert.False(t, finding.Details.(core.BehaviorDetails).IsNewSender)
}

func TestEvaluateNewDisplayName(t *testing.T) {
	store := &stubStore{history: knownSender()}
	ev := NewEvaluator(store, zap.NewNop())

	email := plainEmail()
	email.DisplayName = "IT Security Team"
	finding, err := ev.Evaluate(context.Background(), email)
	require.NoError(t, err)

	assert.InDelta(t, 0.2, finding.Score, 1e-9)
}

func TestEvaluateReplyToMismatch(t *testing.T) {
	store := &stubStore{history: knownSender()}
	ev := NewEvaluator(store, zap.NewNop())

	email := plainEmail()
	email.Headers["Reply-To"] = []string{"collector@attacker-drop.example"}
	finding, err := ev.Evaluate(context.Background(), email)
	require.NoError(t, err)

	// New reply-to (0.15) plus local-part mismatch (0.3).
	assert.InDelta(t, 0.45, finding.Score, 1e-9)
	assert.Contains(t, finding.Reasons, "reply-to routes responses to a different mailbox")
}

func TestEvaluateBrandSpoofAndUrgency(t *testing.T) {
	store := &stubStore{}
	ev := NewEvaluator(store, zap.NewNop())

	email := &core.EmailRecord{
		Subject:     "URGENT: your account is suspended",
		From:        "no-reply@randomhost.example",
		DisplayName: "PayPal Support",
		Headers: map[string][]string{
			"Message-ID": {"<a@b.example>"},
			"Date":       {"Mon, 2 Jun 2025 14:00:00 +0000"},
		},
	}
	finding, err := ev.Evaluate(context.Background(), email)
	require.NoError(t, err)

	// New sender 0.4, brand mismatch 0.2, urgency 0.1.
	assert.InDelta(t, 0.7, finding.Score, 1e-9)
}

func TestEvaluateOddHourAndBulkMailer(t *testing.T) {
	store := &stubStore{history: knownSender()}
	ev := NewEvaluator(store, zap.NewNop())

	email := plainEmail()
	email.Headers["Date"] = []string{"Mon, 2 Jun 2025 03:30:00 +0000"}
	email.Headers["X-Mailer"] = []string{"BulkSender 9000"}
	finding, err := ev.Evaluate(context.Background(), email)
	require.NoError(t, err)

	assert.InDelta(t, 0.2, finding.Score, 1e-9)
	assert.Contains(t, finding.Reasons, "sent with bulk mailing software")
}

func TestEvaluateHighFrequency(t *testing.T) {
	history := knownSender()
	history.MessageCount = 1200
	store := &stubStore{history: history}
	ev := NewEvaluator(store, zap.NewNop())

	finding, err := ev.Evaluate(context.Background(), plainEmail())
	require.NoError(t, err)
	assert.InDelta(t, 0.1, finding.Score, 1e-9)
}

func TestEvaluateRecordsAfterScoring(t *testing.T) {
	store := &stubStore{}
	ev := NewEvaluator(store, zap.NewNop())

	_, err := ev.Evaluate(context.Background(), plainEmail())
	require.NoError(t, err)
	assert.Equal(t, []string{"alice@example.net"}, store.recorded)
}

func TestEvaluateStoreFailureDegrades(t *testing.T) {
	store := &stubStore{getErr: errors.New("db closed")}
	ev := NewEvaluator(store, zap.NewNop())

	finding, err := ev.Evaluate(context.Background(), plainEmail())
	require.NoError(t, err)
	// Lookup failure falls back to treating the sender as new.
	assert.InDelta(t, 0.4, finding.Score, 1e-9)
}

func TestEvaluateCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEvaluator(&stubStore{}, zap.NewNop()).Evaluate(ctx, plainEmail())
	assert.ErrorIs(t, err, context.Canceled)
}
