package notification

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"text/template"
	"time"

	"github.com/smukkama/plant-monitor/pkg/config"
)

var emailTemplate = template.Must(template.New("email").Parse(`{{.Body}}

---
Plant Monitor Notification System
`))

// EmailSender delivers messages over SMTP.
type EmailSender struct {
	config config.SMTPConfig
	logger *slog.Logger
}

// NewEmailSender creates a new email sender
func NewEmailSender(cfg config.SMTPConfig, logger *slog.Logger) *EmailSender {
	return &EmailSender{config: cfg, logger: logger}
}

// Configured reports whether SMTP credentials are present.
func (e *EmailSender) Configured() bool {
	return e.config.Host != "" && e.config.Username != "" && e.config.Password != ""
}

// Send mails body to recipient. Without SMTP credentials the message is
// logged and dropped.
func (e *EmailSender) Send(ctx context.Context, recipient, subject, body string) error {
	msg, err := e.compose(recipient, subject, body)
	if err != nil {
		return fmt.Errorf("failed to render email: %w", err)
	}

	if !e.Configured() {
		e.logger.Info("smtp_not_configured", "subject", subject, "recipient", recipient)
		return nil
	}

	if err := e.deliver(ctx, recipient, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	e.logger.Debug("email_sent", "subject", subject, "recipient", recipient)
	return nil
}

func (e *EmailSender) compose(recipient, subject, body string) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", e.config.From)
	fmt.Fprintf(&buf, "To: %s\r\n", recipient)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	buf.WriteString("\r\n")

	var text bytes.Buffer
	if err := emailTemplate.Execute(&text, struct{ Body string }{body}); err != nil {
		return nil, err
	}
	buf.WriteString(strings.ReplaceAll(text.String(), "\n", "\r\n"))
	return buf.Bytes(), nil
}

// deliver runs one SMTP transaction bounded by ctx.
func (e *EmailSender) deliver(ctx context.Context, recipient string, msg []byte) error {
	addr := net.JoinHostPort(e.config.Host, fmt.Sprint(e.config.Port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, e.config.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: e.config.Host}); err != nil {
			return err
		}
	}
	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
	if err := client.Auth(auth); err != nil {
		return err
	}
	if err := client.Mail(e.config.From); err != nil {
		return err
	}
	if err := client.Rcpt(recipient); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
