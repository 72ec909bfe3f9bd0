package notifier

import (
	"errors"
	"fmt"
	"mime"
	"net/smtp"
	"strings"

	"github.com/lilkinjongun/pncp-monitor/internal/notices"
	"go.uber.org/zap"
)

const digestBoundary = "pncp-digest-boundary"

// ErrNotConfigured indicates sender credentials are absent; delivery is
// skipped without contacting the server.
var ErrNotConfigured = errors.New("notifier: sender credentials not configured")

// sendFunc matches smtp.SendMail, which negotiates STARTTLS before
// authenticating when the server supports it.
type sendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// EmailConfig carries the outbound mail settings for an EmailNotifier.
type EmailConfig struct {
	Host         string
	Port         int
	Sender       string
	Password     string
	Municipality string
	Logger       *zap.Logger
}

// EmailNotifier formats new-notice digests and dispatches them over SMTP.
// It never panics past its boundary; all failures come back as errors.
type EmailNotifier struct {
	host         string
	port         int
	sender       string
	password     string
	municipality string
	send         sendFunc
	logger       *zap.Logger
}

// NewEmailNotifier constructs a notifier from cfg. Missing credentials are
// allowed at construction time; delivery short-circuits instead.
func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailNotifier{
		host:         cfg.Host,
		port:         cfg.Port,
		sender:       cfg.Sender,
		password:     cfg.Password,
		municipality: cfg.Municipality,
		send:         smtp.SendMail,
		logger:       logger,
	}
}

// NotifyNewNotices sends one digest covering batch to every recipient. An
// empty batch is a trivial success; absent credentials fail without any
// delivery attempt.
func (n *EmailNotifier) NotifyNewNotices(recipients []string, batch []notices.Notice) error {
	if len(batch) == 0 {
		n.logger.Info("no new notices to notify")
		return nil
	}
	if n.sender == "" || n.password == "" {
		n.logger.Warn("email credentials not configured, skipping notification")
		return ErrNotConfigured
	}
	if len(recipients) == 0 {
		return errors.New("notifier: no recipients configured")
	}

	message, err := n.buildMessage(recipients, batch)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", n.host, n.port)
	auth := smtp.PlainAuth("", n.sender, n.password, n.host)
	if err := n.send(addr, auth, n.sender, recipients, message); err != nil {
		n.logger.Error("email delivery failed", zap.Error(err))
		return fmt.Errorf("notifier: send digest: %w", err)
	}

	n.logger.Info("digest delivered",
		zap.Int("recipients", len(recipients)),
		zap.Int("notices", len(batch)))
	return nil
}

// buildMessage assembles a multipart/alternative MIME message carrying the
// plain-text and HTML digest renderings.
func (n *EmailNotifier) buildMessage(recipients []string, batch []notices.Notice) ([]byte, error) {
	htmlBody, err := renderHTML(n.municipality, batch)
	if err != nil {
		return nil, err
	}
	plainBody, err := renderPlain(n.municipality, batch)
	if err != nil {
		return nil, err
	}

	var builder strings.Builder
	fmt.Fprintf(&builder, "From: %s\r\n", n.sender)
	fmt.Fprintf(&builder, "To: %s\r\n", strings.Join(recipients, ", "))
	subject := mime.QEncoding.Encode("UTF-8", fmt.Sprintf("Novas Contratações - %s", n.municipality))
	fmt.Fprintf(&builder, "Subject: %s\r\n", subject)
	builder.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&builder, "Content-Type: multipart/alternative; boundary=%q\r\n", digestBoundary)
	builder.WriteString("\r\n")

	fmt.Fprintf(&builder, "--%s\r\n", digestBoundary)
	builder.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	builder.WriteString(plainBody)
	builder.WriteString("\r\n")

	fmt.Fprintf(&builder, "--%s\r\n", digestBoundary)
	builder.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	builder.WriteString(htmlBody)
	builder.WriteString("\r\n")

	fmt.Fprintf(&builder, "--%s--\r\n", digestBoundary)
	return []byte(builder.String()), nil
}
