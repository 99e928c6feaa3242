package smtpfilter

import (
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/mikey/phish-triage/internal/core"
)

// EmailFromMessage maps a parsed RFC 822 message onto the record the
// evaluators consume. Text and HTML bodies come from the MIME tree,
// image parts are kept as attachments for QR scanning.
func EmailFromMessage(msg *mail.Message, sender string, recipients []string) (*core.EmailRecord, error) {
	email := &core.EmailRecord{
		From:    sender,
		Headers: make(map[string][]string, len(msg.Header)),
	}
	for key, values := range msg.Header {
		email.Headers[key] = values
	}

	email.Subject = decodeHeader(msg.Header.Get("Subject"))
	if from := msg.Header.Get("From"); from != "" {
		if addr, err := mail.ParseAddress(from); err == nil {
			email.DisplayName = addr.Name
			if email.From == "" {
				email.From = addr.Address
			}
		}
	}
	if len(recipients) > 0 {
		email.To = recipients[0]
	} else {
		email.To = msg.Header.Get("To")
	}

	if err := walkParts(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body, email, 0); err != nil {
		return nil, err
	}
	return email, nil
}

// maxPartDepth bounds recursion into nested multipart containers.
const maxPartDepth = 5

func walkParts(contentType, transferEncoding string, body io.Reader, email *core.EmailRecord, depth int) error {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Unlabelled or malformed content is treated as plain text.
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") && depth < maxPartDepth {
		boundary, ok := params["boundary"]
		if !ok {
			return collectPart(mediaType, "", transferEncoding, body, email)
		}
		mr := multipart.NewReader(body, boundary)
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				// A truncated part does not invalidate what we
				// already collected.
				return nil
			}
			partType := part.Header.Get("Content-Type")
			partEncoding := part.Header.Get("Content-Transfer-Encoding")
			filename := part.FileName()
			if strings.HasPrefix(partType, "multipart/") {
				if err := walkParts(partType, partEncoding, part, email, depth+1); err != nil {
					return err
				}
				continue
			}
			if err := collectNamedPart(partType, filename, partEncoding, part, email); err != nil {
				return err
			}
		}
	}

	return collectPart(mediaType, "", transferEncoding, body, email)
}

func collectNamedPart(contentType, filename, transferEncoding string, r io.Reader, email *core.EmailRecord) error {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}
	return collectPart(mediaType, filename, transferEncoding, r, email)
}

func collectPart(mediaType, filename, transferEncoding string, r io.Reader, email *core.EmailRecord) error {
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		data, err := io.ReadAll(decodeTransfer(transferEncoding, r))
		if err != nil {
			return nil
		}
		email.Attachments = append(email.Attachments, core.Attachment{
			Filename:    filename,
			ContentType: mediaType,
			Content:     base64.StdEncoding.EncodeToString(data),
		})
	case mediaType == "text/html":
		data, err := io.ReadAll(decodeTransfer(transferEncoding, r))
		if err != nil {
			return nil
		}
		if email.BodyHTML != "" {
			email.BodyHTML += "\n"
		}
		email.BodyHTML += string(data)
	case strings.HasPrefix(mediaType, "text/"):
		data, err := io.ReadAll(decodeTransfer(transferEncoding, r))
		if err != nil {
			return nil
		}
		if email.BodyText != "" {
			email.BodyText += "\n"
		}
		email.BodyText += string(data)
	}
	// Non-image, non-text parts are not analyzed.
	return nil
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

func decodeHeader(value string) string {
	decoder := mime.WordDecoder{}
	decoded, err := decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}
