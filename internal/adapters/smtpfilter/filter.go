// Package smtpfilter runs the triage pipeline as an MTA content
// filter. Mail arrives over SMTP, is scored, stamped with verdict
// headers and either reinjected upstream or rejected.
package smtpfilter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/mikey/phish-triage/internal/config"
	"github.com/mikey/phish-triage/internal/core"
)

// Filter is an SMTP content filter built on the analysis pipeline.
type Filter struct {
	orchestrator *core.Orchestrator
	logger       *zap.Logger
	cfg          config.SMTPConfig
	server       *smtp.Server
}

// NewFilter creates an SMTP filter around the orchestrator.
func NewFilter(cfg config.SMTPConfig, orchestrator *core.Orchestrator, logger *zap.Logger) *Filter {
	return &Filter{
		orchestrator: orchestrator,
		logger:       logger,
		cfg:          cfg,
	}
}

// Start brings the SMTP listener up in the background.
func (f *Filter) Start() error {
	f.server = smtp.NewServer(&backend{filter: f})
	f.server.Addr = f.cfg.ListenAddress
	f.server.Domain = f.cfg.Domain
	f.server.ReadTimeout = 30 * time.Second
	f.server.WriteTimeout = 30 * time.Second
	f.server.MaxMessageBytes = 30 * 1024 * 1024
	f.server.MaxRecipients = 50
	f.server.AllowInsecureAuth = true

	f.logger.Info("SMTP filter starting", zap.String("address", f.cfg.ListenAddress))

	go func() {
		if err := f.server.ListenAndServe(); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
			f.logger.Error("SMTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop closes the SMTP listener.
func (f *Filter) Stop() error {
	if f.server != nil {
		return f.server.Close()
	}
	return nil
}

// reinject hands the stamped message back to the upstream MTA.
func (f *Filter) reinject(sender string, recipients []string, data []byte) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	conn, err := net.DialTimeout("tcp", f.cfg.UpstreamAddress, 10*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to upstream MTA: %w", err)
	}
	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set connection deadline: %w", err)
	}

	c := smtp.NewClient(conn)
	defer c.Close()

	if err := c.Hello(hostname); err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}
	if err := c.Mail(sender, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}
	accepted := false
	for _, recipient := range recipients {
		if err := c.Rcpt(recipient, nil); err != nil {
			f.logger.Warn("RCPT TO failed",
				zap.String("recipient", recipient),
				zap.Error(err))
			continue
		}
		accepted = true
	}
	if !accepted {
		return fmt.Errorf("all recipients were rejected")
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return fmt.Errorf("failed to send message data: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}
	if err := c.Quit(); err != nil {
		f.logger.Warn("QUIT failed", zap.Error(err))
	}
	return nil
}

// backend implements the go-smtp Backend interface.
type backend struct {
	filter *Filter
}

func (b *backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{filter: b.filter}, nil
}

// session implements the go-smtp Session interface.
type session struct {
	filter     *Filter
	sender     string
	recipients []string
}

func (s *session) Reset() {
	s.sender = ""
	s.recipients = nil
}

func (s *session) AuthPlain(_ []byte) error {
	return smtp.ErrAuthUnsupported
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = from
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.recipients = append(s.recipients, to)
	return nil
}

// Data scores the message and decides its fate.
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		s.filter.logger.Error("Failed to read message data", zap.Error(err))
		return err
	}

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		s.filter.logger.Error("Failed to parse message", zap.Error(err))
		return err
	}

	email, err := EmailFromMessage(msg, extractAddress(s.sender), s.recipients)
	if err != nil {
		s.filter.logger.Error("Failed to extract message content", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, analysisErr := s.filter.orchestrator.Analyze(ctx, email)
	if analysisErr != nil {
		s.filter.logger.Error("Analysis failed, delivering unscored",
			zap.String("from", email.From),
			zap.Error(analysisErr))
		result = &core.OrchestrationResult{
			Action:  core.ActionAllow,
			Summary: fmt.Sprintf("analysis error: %v", analysisErr),
		}
	}

	if result.Action == core.ActionQuarantine && s.filter.cfg.BlockQuarantined && analysisErr == nil {
		s.filter.logger.Info("Rejecting quarantined email",
			zap.String("from", email.From),
			zap.Float64("score", result.FinalScore),
			zap.String("summary", result.Summary))
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 7, 1},
			Message:      fmt.Sprintf("Rejected as phishing (score: %.2f)", result.FinalScore),
		}
	}

	stamped := s.stampVerdict(raw, result, analysisErr)

	if s.filter.cfg.UpstreamEnabled {
		if err := s.filter.reinject(s.sender, s.recipients, stamped); err != nil {
			s.filter.logger.Error("Failed to reinject email",
				zap.String("from", email.From),
				zap.Error(err))
			return err
		}
	}

	s.filter.logger.Info("Processed email",
		zap.String("from", email.From),
		zap.String("action", string(result.Action)),
		zap.Float64("score", result.FinalScore))
	return nil
}

// stampVerdict prepends the verdict headers to the raw message,
// leaving the original headers and MIME structure untouched.
func (s *session) stampVerdict(raw []byte, result *core.OrchestrationResult, analysisErr error) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s: %s\r\n", s.filter.cfg.ActionHeader, result.Action)
	fmt.Fprintf(&buf, "%s: %.4f\r\n", s.filter.cfg.ScoreHeader, result.FinalScore)
	fmt.Fprintf(&buf, "%s: %s\r\n", s.filter.cfg.SummaryHeader, sanitizeHeaderValue(result.Summary))
	if analysisErr != nil {
		fmt.Fprintf(&buf, "X-Phish-Analysis-Error: %s\r\n", sanitizeHeaderValue(analysisErr.Error()))
	}
	buf.Write(raw)
	return buf.Bytes()
}

func (s *session) Logout() error {
	return nil
}

func extractAddress(raw string) string {
	if addr, err := mail.ParseAddress(raw); err == nil {
		return addr.Address
	}
	return strings.Trim(raw, "<>")
}

func sanitizeHeaderValue(value string) string {
	value = strings.ReplaceAll(value, "\r", " ")
	return strings.ReplaceAll(value, "\n", " ")
}
