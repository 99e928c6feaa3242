package smtpfilter

import (
	"encoding/base64"
	"net/mail"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/phish-triage/internal/config"
	"github.com/mikey/phish-triage/internal/core"
)

func parseRaw(t *testing.T, raw string) *mail.Message {
	t.Helper()
	msg, err := mail.ReadMessage(strings.NewReader(raw))
	require.NoError(t, err)
	return msg
}

func TestEmailFromMessagePlainText(t *testing.T) {
	msg := parseRaw(t, "From: \"Support Team\" <support@example.com>\r\n"+
		"To: victim@corp.example\r\n"+
		"Subject: Account notice\r\n"+
		"\r\n"+
		"Please review your account.\r\n")

	email, err := EmailFromMessage(msg, "support@example.com", []string{"victim@corp.example"})
	require.NoError(t, err)

	assert.Equal(t, "support@example.com", email.From)
	assert.Equal(t, "Support Team", email.DisplayName)
	assert.Equal(t, "victim@corp.example", email.To)
	assert.Equal(t, "Account notice", email.Subject)
	assert.Contains(t, email.BodyText, "Please review your account.")
	assert.Empty(t, email.BodyHTML)
	assert.Empty(t, email.Attachments)
}

func TestEmailFromMessageMultipart(t *testing.T) {
	png := base64.StdEncoding.EncodeToString([]byte("not-a-real-png"))
	raw := "From: alerts@bank.example\r\n" +
		"To: victim@corp.example\r\n" +
		"Subject: =?utf-8?q?Urgent_verification?=\r\n" +
		"Content-Type: multipart/mixed; boundary=outer\r\n" +
		"\r\n" +
		"--outer\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Scan the attached code.\r\n" +
		"--outer\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<a href=\"https://evil.example\">click</a>\r\n" +
		"--outer\r\n" +
		"Content-Type: image/png\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"Content-Disposition: attachment; filename=\"qr.png\"\r\n" +
		"\r\n" +
		png + "\r\n" +
		"--outer--\r\n"

	msg := parseRaw(t, raw)
	email, err := EmailFromMessage(msg, "alerts@bank.example", nil)
	require.NoError(t, err)

	assert.Equal(t, "Urgent verification", email.Subject)
	assert.Equal(t, "victim@corp.example", email.To)
	assert.Contains(t, email.BodyText, "Scan the attached code.")
	assert.Contains(t, email.BodyHTML, "https://evil.example")

	require.Len(t, email.Attachments, 1)
	assert.Equal(t, "qr.png", email.Attachments[0].Filename)
	assert.Equal(t, "image/png", email.Attachments[0].ContentType)
	decoded, err := base64.StdEncoding.DecodeString(email.Attachments[0].Content)
	require.NoError(t, err)
	assert.Equal(t, "not-a-real-png", string(decoded))
}

func TestEmailFromMessageQuotedPrintable(t *testing.T) {
	msg := parseRaw(t, "From: a@b.example\r\n"+
		"Subject: test\r\n"+
		"Content-Type: text/plain\r\n"+
		"Content-Transfer-Encoding: quoted-printable\r\n"+
		"\r\n"+
		"caf=C3=A9 account\r\n")

	email, err := EmailFromMessage(msg, "a@b.example", nil)
	require.NoError(t, err)
	assert.Contains(t, email.BodyText, "café account")
}

func TestStampVerdictPrependsHeaders(t *testing.T) {
	filter := NewFilter(config.SMTPConfig{
		ActionHeader:  "X-Phish-Action",
		ScoreHeader:   "X-Phish-Score",
		SummaryHeader: "X-Phish-Summary",
	}, nil, zap.NewNop())
	s := &session{filter: filter}

	raw := []byte("Subject: hello\r\n\r\nbody\r\n")
	stamped := s.stampVerdict(raw, &core.OrchestrationResult{
		Action:     core.ActionFlag,
		FinalScore: 0.5123,
		Summary:    "MODERATE RISK\nsecond line",
	}, nil)

	text := string(stamped)
	assert.Contains(t, text, "X-Phish-Action: flag\r\n")
	assert.Contains(t, text, "X-Phish-Score: 0.5123\r\n")
	assert.Contains(t, text, "X-Phish-Summary: MODERATE RISK second line\r\n")
	assert.True(t, strings.HasSuffix(text, "Subject: hello\r\n\r\nbody\r\n"))
}

func TestExtractAddress(t *testing.T) {
	assert.Equal(t, "a@b.example", extractAddress("<a@b.example>"))
	assert.Equal(t, "a@b.example", extractAddress("Alice <a@b.example>"))
	assert.Equal(t, "a@b.example", extractAddress("a@b.example"))
}
