package mailer

import (
	"fmt"
	"net/smtp"

	"github.com/rs/zerolog/log"
	"doable/internal/platform/config"
)

// Mailer delivers outbound mail. The auth core only ever hands it a
// recipient and a reset link; delivery failures never affect the API
// response shape (account enumeration).
type Mailer interface {
	SendPasswordReset(email, resetURL string) error
}

func New(cfg config.EmailConfig) Mailer {
	if cfg.Provider == "smtp" {
		return &smtpMailer{cfg: cfg}
	}
	return &logMailer{}
}

type smtpMailer struct {
	cfg config.EmailConfig
}

func (m *smtpMailer) SendPasswordReset(email, resetURL string) error {
	s := m.cfg.SMTP
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)

	msg := fmt.Sprintf("From: %s <%s>\r\nTo: %s\r\nSubject: Reset your password\r\n\r\n"+
		"A password reset was requested for your account.\r\n\r\n"+
		"Reset link (valid for 1 hour): %s\r\n\r\n"+
		"If you did not request this, you can ignore this email.\r\n",
		s.FromName, s.FromAddress, email, resetURL)

	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}

	return smtp.SendMail(addr, auth, s.FromAddress, []string{email}, []byte(msg))
}

// logMailer is the development default. It logs that a mail would be sent
// but never the reset secret itself.
type logMailer struct{}

func (m *logMailer) SendPasswordReset(email, resetURL string) error {
	log.Info().Str("to", email).Msg("password reset email (dev mailer, link suppressed)")
	return nil
}
