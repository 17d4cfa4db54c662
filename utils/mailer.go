package utils

import (
	"fmt"

	"gopkg.in/gomail.v2"
)

// Mailer wraps the SMTP transport shared by the notification sender and
// the sequence delivery worker.
type Mailer struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

func NewMailer(host string, port int, username, password, fromEmail, fromName string) *Mailer {
	return &Mailer{
		Host:      host,
		Port:      port,
		Username:  username,
		Password:  password,
		FromEmail: fromEmail,
		FromName:  fromName,
	}
}

// Send delivers a single HTML email. from may be empty to use the
// configured default sender.
func (m *Mailer) Send(to, subject, htmlBody, from string) error {
	if m.Host == "" {
		return fmt.Errorf("SMTP is not configured")
	}
	if from == "" {
		from = m.FromEmail
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", from, m.FromName)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)

	dialer := gomail.NewDialer(m.Host, m.Port, m.Username, m.Password)
	if err := dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}
