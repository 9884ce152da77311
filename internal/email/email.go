// Package email delivers meeting summaries over SMTP.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/AnnixInvestments/annix-sub033/internal/summary"
)

// ErrNoRecipients is returned when a message has nobody to go to.
var ErrNoRecipients = errors.New("no recipients")

// Message is a multipart text/HTML email.
type Message struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Config contains SMTP configuration.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// TLS is one of "mandatory", "opportunistic", "ssl" (implicit TLS) or "none".
	TLS     string
	Timeout time.Duration
}

// SMTPSender sends mail through a relay with go-mail.
type SMTPSender struct {
	config Config
	logger *slog.Logger
}

// NewSMTPSender validates config and creates a sender. A client is dialed per
// message; summaries are sent a few times a day at most.
func NewSMTPSender(config Config, logger *slog.Logger) (*SMTPSender, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if config.From == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	if config.Port <= 0 {
		config.Port = 587
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if _, err := tlsPolicy(config.TLS); err != nil {
		return nil, err
	}
	return &SMTPSender{config: config, logger: logger}, nil
}

func tlsPolicy(mode string) (mail.TLSPolicy, error) {
	switch mode {
	case "", "mandatory", "ssl":
		return mail.TLSMandatory, nil
	case "opportunistic":
		return mail.TLSOpportunistic, nil
	case "none":
		return mail.NoTLS, nil
	}
	return mail.NoTLS, fmt.Errorf("unknown smtp tls mode %q", mode)
}

func (s *SMTPSender) clientOptions() []mail.Option {
	policy, _ := tlsPolicy(s.config.TLS)
	opts := []mail.Option{
		mail.WithPort(s.config.Port),
		mail.WithTimeout(s.config.Timeout),
		mail.WithTLSPolicy(policy),
	}
	if s.config.TLS == "ssl" {
		opts = append(opts, mail.WithSSL())
	}
	if s.config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.config.Username),
			mail.WithPassword(s.config.Password),
		)
	}
	return opts
}

// buildMessage converts a Message into a go-mail message.
func (s *SMTPSender) buildMessage(msg Message) (*mail.Msg, error) {
	if len(msg.To) == 0 {
		return nil, ErrNoRecipients
	}

	m := mail.NewMsg()
	if err := m.From(s.config.From); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetDate()

	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBodyString(mail.TypeTextPlain, msg.Text)
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	case msg.HTML != "":
		m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	default:
		m.SetBodyString(mail.TypeTextPlain, msg.Text)
	}
	return m, nil
}

// Send delivers msg.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m, err := s.buildMessage(msg)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(s.config.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("failed to create smtp client: %w", err)
	}

	start := time.Now()
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("Email sent",
		slog.String("subject", msg.Subject),
		slog.Int("recipients", len(msg.To)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// SummaryMessage builds the summary email for recipients.
func SummaryMessage(s *summary.Summary, recipients []string) (Message, error) {
	html, err := summary.FormatHTML(s)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      recipients,
		Subject: "Meeting Summary: " + s.Title,
		Text:    summary.FormatText(s),
		HTML:    html,
	}, nil
}
