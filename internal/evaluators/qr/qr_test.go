package qr

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/phish-triage/internal/core"
)

type stubCodec struct {
	payloads []core.DecodedPayload
	err      error
}

func (s stubCodec) Decode(_ context.Context, _ []byte) ([]core.DecodedPayload, error) {
	return s.payloads, s.err
}

func pngAttachment() core.Attachment {
	return core.Attachment{
		Filename:    "code.png",
		ContentType: "image/png",
		Content:     base64.StdEncoding.EncodeToString([]byte("fake png bytes")),
	}
}

func TestEvaluateNoQRCodes(t *testing.T) {
	ev := NewEvaluator(stubCodec{}, zap.NewNop())

	finding, err := ev.Evaluate(context.Background(), &core.EmailRecord{BodyText: "plain email"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, finding.Score)
}

func TestEvaluateSuspiciousURLCode(t *testing.T) {
	codec := stubCodec{payloads: []core.DecodedPayload{
		{Content: "http://phish-site.tk/verify", Format: "QR_CODE"},
	}}
	ev := NewEvaluator(codec, zap.NewNop())

	finding, err := ev.Evaluate(context.Background(), &core.EmailRecord{
		Attachments: []core.Attachment{pngAttachment()},
	})
	require.NoError(t, err)

	details := finding.Details.(core.QRDetails)
	require.Equal(t, 1, details.TotalCodes)
	assert.Equal(t, 1, details.SuspiciousCount)
	assert.Equal(t, "url", details.Codes[0].ContentType)
	// Base 0.1 + TLD 0.4 + http 0.2 + path 0.2 + keyword "verify" 0.1.
	assert.InDelta(t, 1.0, details.Codes[0].Score, 1e-9)
}

func TestEvaluateTrustedURLCode(t *testing.T) {
	codec := stubCodec{payloads: []core.DecodedPayload{
		{Content: "https://github.com/some/repo", Format: "QR_CODE"},
	}}
	ev := NewEvaluator(codec, zap.NewNop())

	finding, err := ev.Evaluate(context.Background(), &core.EmailRecord{
		Attachments: []core.Attachment{pngAttachment()},
	})
	require.NoError(t, err)

	details := finding.Details.(core.QRDetails)
	assert.Equal(t, 0, details.SuspiciousCount)
	assert.Less(t, details.Codes[0].Score, 0.5)
}

func TestEvaluateCryptoTextCode(t *testing.T) {
	codec := stubCodec{payloads: []core.DecodedPayload{
		{Content: "send payment to 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", Format: "QR_CODE"},
	}}
	ev := NewEvaluator(codec, zap.NewNop())

	finding, err := ev.Evaluate(context.Background(), &core.EmailRecord{
		Attachments: []core.Attachment{pngAttachment()},
	})
	require.NoError(t, err)

	details := finding.Details.(core.QRDetails)
	assert.Contains(t, details.Codes[0].Reasons, "QR contains cryptocurrency address")
	assert.GreaterOrEqual(t, details.Codes[0].Score, 0.7)
}

func TestEvaluateWiFiCode(t *testing.T) {
	codec := stubCodec{payloads: []core.DecodedPayload{
		{Content: "WIFI:T:nopass;S:Free Airport WiFi;;", Format: "QR_CODE"},
	}}
	ev := NewEvaluator(codec, zap.NewNop())

	finding, err := ev.Evaluate(context.Background(), &core.EmailRecord{
		Attachments: []core.Attachment{pngAttachment()},
	})
	require.NoError(t, err)

	details := finding.Details.(core.QRDetails)
	assert.Equal(t, "wifi", details.Codes[0].ContentType)
	assert.GreaterOrEqual(t, details.Codes[0].Score, 0.5)
}

func TestEvaluateUndecodableImage(t *testing.T) {
	ev := NewEvaluator(stubCodec{err: errors.New("no code found")}, zap.NewNop())

	finding, err := ev.Evaluate(context.Background(), &core.EmailRecord{
		Attachments: []core.Attachment{pngAttachment()},
	})
	require.NoError(t, err)

	details := finding.Details.(core.QRDetails)
	require.Equal(t, 1, details.TotalCodes)
	assert.InDelta(t, 0.8, details.Codes[0].Score, 1e-9)
}

func TestEvaluateExternalQRImage(t *testing.T) {
	ev := NewEvaluator(stubCodec{}, zap.NewNop())

	finding, err := ev.Evaluate(context.Background(), &core.EmailRecord{
		BodyHTML: `<html><body><img src="https://qr-generator.example/qr?data=x"></body></html>`,
	})
	require.NoError(t, err)

	details := finding.Details.(core.QRDetails)
	require.Equal(t, 1, details.TotalCodes)
	assert.Equal(t, "external_image", details.Codes[0].ContentType)
	assert.InDelta(t, 0.4, details.Codes[0].Score, 1e-9)
}

func TestEvaluateEmbeddedDataURI(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("png"))
	codec := stubCodec{payloads: []core.DecodedPayload{
		{Content: "https://bit.ly/3abc", Format: "QR_CODE"},
	}}
	ev := NewEvaluator(codec, zap.NewNop())

	finding, err := ev.Evaluate(context.Background(), &core.EmailRecord{
		BodyHTML: `<img src="data:image/png;base64,` + payload + `">`,
	})
	require.NoError(t, err)

	details := finding.Details.(core.QRDetails)
	require.Equal(t, 1, details.TotalCodes)
	assert.Equal(t, "embedded_image", details.Codes[0].Location)
	// Base 0.1 + shortener 0.5.
	assert.InDelta(t, 0.6, details.Codes[0].Score, 1e-9)
}

func TestClassifyContent(t *testing.T) {
	cases := []struct {
		content string
		want    string
	}{
		{"https://example.org", "url"},
		{"mailto:a@b.example", "email"},
		{"tel:+15551234567", "phone"},
		{"smsto:5551234:hello", "sms"},
		{"BEGIN:VCARD\nFN:Bob\nEND:VCARD", "vcard"},
		{"WIFI:S:net;T:WPA;P:pw;;", "wifi"},
		{"just some words", "text"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classifyContent(tc.content), tc.content)
	}
}
