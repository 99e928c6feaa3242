// Package qr extracts QR codes from embedded images and attachments
// and scores what they would make a victim's phone do: open a URL,
// pay a crypto address, join a network, trust a contact card.
package qr

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/mikey/phish-triage/internal/core"
)

const (
	baseQRScore        = 0.1
	undecodableScore   = 0.8
	externalImageScore = 0.3

	maxContentDisplay = 100
)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp"}

// extractedImage is one candidate image pulled from the email.
type extractedImage struct {
	data     []byte
	location string
}

// Evaluator implements core.Evaluator over the QR surface of an email.
type Evaluator struct {
	codec  core.QRCodec
	logger *zap.Logger
}

func NewEvaluator(codec core.QRCodec, logger *zap.Logger) *Evaluator {
	return &Evaluator{codec: codec, logger: logger}
}

func (e *Evaluator) Kind() core.EvaluatorKind { return core.EvaluatorQR }

// Evaluate decodes every embedded and attached image and averages the
// per-code scores. An image the codec cannot read scores high: opaque
// machine-readable content a human cannot preview is itself a signal.
func (e *Evaluator) Evaluate(ctx context.Context, email *core.EmailRecord) (core.RiskFinding, error) {
	if err := ctx.Err(); err != nil {
		return core.RiskFinding{}, err
	}

	var codes []core.QRAssessment

	images, externals := extractImages(email)
	for _, ext := range externals {
		codes = append(codes, core.QRAssessment{
			Content:     truncate(ext),
			ContentType: "external_image",
			Location:    "external_image",
			Score:       baseQRScore + externalImageScore,
			Reasons:     []string{"QR code loaded from external source"},
		})
	}

	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return core.RiskFinding{}, err
		}
		payloads, err := e.codec.Decode(ctx, img.data)
		if err != nil {
			e.logger.Debug("QR decode failed", zap.String("location", img.location), zap.Error(err))
			codes = append(codes, core.QRAssessment{
				Content:     "undecodable image",
				ContentType: "unknown",
				Location:    img.location,
				Score:       undecodableScore,
				Reasons:     []string{"image could not be decoded"},
			})
			continue
		}
		for _, p := range payloads {
			codes = append(codes, analyzeCode(p.Content, img.location))
		}
	}

	if len(codes) == 0 {
		return core.RiskFinding{
			Evaluator:  core.EvaluatorQR,
			Score:      0,
			Confidence: 0.95,
			Reasons:    []string{"no QR codes found in email"},
			Details:    core.QRDetails{},
		}, nil
	}

	var total float64
	suspicious := 0
	for _, c := range codes {
		total += c.Score
		if c.Score >= 0.5 {
			suspicious++
		}
	}
	score := total / float64(len(codes))

	reasons := []string{fmt.Sprintf("%d QR code(s) found, %d suspicious", len(codes), suspicious)}
	for _, c := range codes {
		if c.Score >= 0.5 && len(c.Reasons) > 0 {
			reasons = append(reasons, c.Reasons[0])
		}
		if len(reasons) == core.MaxReasonsPerFinding {
			break
		}
	}

	return core.RiskFinding{
		Evaluator:  core.EvaluatorQR,
		Score:      clamp01(score),
		Confidence: 0.85,
		Reasons:    reasons,
		Details: core.QRDetails{
			Codes:           codes,
			TotalCodes:      len(codes),
			SuspiciousCount: suspicious,
		},
	}, nil
}

// extractImages pulls base64 data-URI images out of the HTML body and
// decodes image attachments. Img tags pointing at external URLs that
// look like QR services are returned separately; their content is
// unreachable but their presence is scored.
func extractImages(email *core.EmailRecord) ([]extractedImage, []string) {
	var images []extractedImage
	var externals []string

	if email.BodyHTML != "" {
		for _, src := range imgSources(email.BodyHTML) {
			if strings.HasPrefix(src, "data:image/") {
				if data, ok := decodeDataURI(src); ok {
					images = append(images, extractedImage{data: data, location: "embedded_image"})
				}
				continue
			}
			lower := strings.ToLower(src)
			if strings.Contains(lower, "qr") || strings.Contains(lower, "barcode") {
				externals = append(externals, "External QR image: "+src)
			}
		}
	}

	for _, att := range email.Attachments {
		if !isImageAttachment(att) {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(att.Content)
		if err != nil {
			continue
		}
		images = append(images, extractedImage{
			data:     data,
			location: "attachment:" + att.Filename,
		})
	}
	return images, externals
}

func imgSources(body string) []string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil
	}

	var sources []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "img" {
			for _, attr := range n.Attr {
				if attr.Key == "src" && attr.Val != "" {
					sources = append(sources, attr.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sources
}

func decodeDataURI(src string) ([]byte, bool) {
	idx := strings.Index(src, ",")
	if idx < 0 {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(src[idx+1:])
	if err != nil {
		return nil, false
	}
	return data, true
}

func isImageAttachment(att core.Attachment) bool {
	if strings.HasPrefix(att.ContentType, "image/") {
		return true
	}
	lower := strings.ToLower(att.Filename)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func truncate(content string) string {
	if len(content) <= maxContentDisplay {
		return content
	}
	return content[:maxContentDisplay] + "..."
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
