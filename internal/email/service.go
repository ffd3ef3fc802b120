// Package email sends notification mail via SMTP.
package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/smtp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/emersion/go-message/mail"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Message is one HTML notification. The plain-text alternative is derived
// from HTML.
type Message struct {
	To      []string
	Subject string
	HTML    string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
	now    func() time.Time
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
		now:    time.Now,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// Send composes msg as multipart/alternative and hands it to the SMTP server.
func (s *Service) Send(ctx context.Context, msg Message) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	if len(msg.To) == 0 {
		return fmt.Errorf("email has no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := s.Compose(msg)
	if err != nil {
		return err
	}
	if err := s.send(s.server, s.auth, s.config.From, msg.To, raw); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// Compose renders the full RFC 5322 message.
func (s *Service) Compose(msg Message) ([]byte, error) {
	to := make([]*mail.Address, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, &mail.Address{Address: strings.TrimSpace(addr)})
	}

	var h mail.Header
	h.SetDate(s.now())
	h.SetAddressList("From", []*mail.Address{{Name: s.config.FromName, Address: s.config.From}})
	h.SetAddressList("To", to)
	h.SetSubject(msg.Subject)

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}
	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline writer: %w", err)
	}

	if err := writePart(tw, "text/plain", PlainText(msg.HTML)); err != nil {
		return nil, err
	}
	if err := writePart(tw, "text/html", msg.HTML); err != nil {
		return nil, err
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close inline writer: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mail writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writePart(tw *mail.InlineWriter, contentType, body string) error {
	var h mail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return w.Close()
}

// PlainText converts HTML to markdown-flavoured text for the text/plain part.
func PlainText(htmlBody string) string {
	converter := md.NewConverter("", true, nil)
	text, err := converter.ConvertString(htmlBody)
	if err != nil || strings.TrimSpace(text) == "" {
		return "Please view this email in an HTML-capable email client."
	}
	return text
}
