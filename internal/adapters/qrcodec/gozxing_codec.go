// Package qrcodec decodes QR codes from raster images using the
// gozxing barcode library.
package qrcodec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/multi"
	multiqr "github.com/makiuchi-d/gozxing/multi/qrcode"
	"go.uber.org/zap"

	"github.com/mikey/phish-triage/internal/core"
)

// GozxingCodec is a gozxing implementation of the QRCodec interface.
type GozxingCodec struct {
	reader multi.MultipleBarcodeReader
	logger *zap.Logger
}

// NewGozxingCodec creates a new gozxing-backed codec.
func NewGozxingCodec(logger *zap.Logger) *GozxingCodec {
	return &GozxingCodec{
		reader: multiqr.NewQRCodeMultiReader(),
		logger: logger,
	}
}

// Decode extracts every QR code from an image. An undecodable or
// code-free image returns an error; the evaluator decides what that
// means for the email's score.
func (c *GozxingCodec) Decode(ctx context.Context, imageData []byte) ([]core.DecodedPayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("failed to build binary bitmap: %w", err)
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	results, err := c.reader.DecodeMultiple(bmp, hints)
	if err != nil {
		return nil, fmt.Errorf("no QR code found: %w", err)
	}

	payloads := make([]core.DecodedPayload, 0, len(results))
	for _, r := range results {
		payloads = append(payloads, core.DecodedPayload{
			Content: r.GetText(),
			Format:  r.GetBarcodeFormat().String(),
		})
	}

	c.logger.Debug("Decoded QR codes from image",
		zap.String("image_format", format),
		zap.Int("codes", len(payloads)))

	return payloads, nil
}
