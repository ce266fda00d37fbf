// Package notify builds and delivers contractor emails.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/onboard/model"
)

// ContractEmail builds the message carrying the signing link.
func ContractEmail(c model.Contractor, link string, expiry time.Time) model.Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", c.Personal.FullName())
	b.WriteString("Your contract is ready for review and signature. Open the link below to read and sign it:\n\n")
	fmt.Fprintf(&b, "%s\n\n", link)
	fmt.Fprintf(&b, "The link expires on %s.\n", expiry.UTC().Format("2 January 2006 15:04 MST"))
	return model.Notification{
		Kind:         model.NotifyContract,
		ContractorID: c.ID,
		To:           c.Personal.Email,
		Subject:      "Your contract is ready to sign",
		Body:         b.String(),
	}
}

// ActivationEmail builds the message carrying the temporary password.
func ActivationEmail(c model.Contractor, tempPassword string) model.Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", c.Personal.FullName())
	b.WriteString("Your contractor account has been activated.\n\n")
	fmt.Fprintf(&b, "Username: %s\nTemporary password: %s\n\n", c.Personal.Email, tempPassword)
	b.WriteString("You will be asked to choose a new password when you first sign in.\n")
	return model.Notification{
		Kind:         model.NotifyActivation,
		ContractorID: c.ID,
		To:           c.Personal.Email,
		Subject:      "Your account is active",
		Body:         b.String(),
	}
}

// LogNotifier writes notifications to the log instead of delivering them.
// Bodies are not logged since they carry links and passwords.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send logs n.
func (l *LogNotifier) Send(_ context.Context, n model.Notification) error {
	l.logger.Info("notification",
		zap.String("kind", string(n.Kind)),
		zap.String("contractor_id", n.ContractorID),
		zap.String("to", n.To),
		zap.String("subject", n.Subject),
	)
	return nil
}

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier delivers notifications over SMTP.
type SMTPNotifier struct {
	addr     string
	host     string
	from     string
	auth     smtp.Auth
	sendMail SendMailFunc
}

// NewSMTPNotifier creates an SMTPNotifier. Authentication is skipped when
// username is empty.
func NewSMTPNotifier(host string, port int, from, username, password string) *SMTPNotifier {
	n := &SMTPNotifier{
		addr:     fmt.Sprintf("%s:%d", host, port),
		host:     host,
		from:     from,
		sendMail: smtp.SendMail,
	}
	if username != "" {
		n.auth = smtp.PlainAuth("", username, password, host)
	}
	return n
}

// Send delivers n.
func (s *SMTPNotifier) Send(ctx context.Context, n model.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.To == "" {
		return model.NewFieldValidationError("to", "required", "notification has no recipient")
	}
	if err := s.sendMail(s.addr, s.auth, s.from, []string{n.To}, s.message(n)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", s.addr, err)
	}
	return nil
}

func (s *SMTPNotifier) message(n model.Notification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", n.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", n.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(n.Body, "\n", "\r\n"))
	return []byte(b.String())
}
