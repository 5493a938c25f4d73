package utils

import (
	"fmt"

	"gopkg.in/gomail.v2"

	"mailflare/config"
)

// MailSender is the transport collaborator the dispatch engine sends
// through. A send either returns nil or an error; there is no partial
// outcome and no timeout handling here (the dialer owns that).
type MailSender interface {
	Send(from, to, subject, body string) error
}

// Mailer delivers plain-text mail over SMTP via gomail.
type Mailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func NewMailer() *Mailer {
	return &Mailer{
		Host:     config.AppConfig.SMTPHost,
		Port:     config.AppConfig.SMTPPort,
		Username: config.AppConfig.SMTPUsername,
		Password: config.AppConfig.SMTPPassword,
		From:     config.AppConfig.FromEmail,
	}
}

func (m *Mailer) Send(from, to, subject, body string) error {
	if from == "" {
		from = m.From
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	d := gomail.NewDialer(m.Host, m.Port, m.Username, m.Password)
	if err := d.DialAndSend(msg); err != nil {
		return fmt.Errorf("error sending email to %s: %v", to, err)
	}
	return nil
}
