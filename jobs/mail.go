package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// Message is a plain-text mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends messages to a relay.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig points at the outbound relay. Mailpit in development.
type SMTPConfig struct {
	Host string
	Port int
	From string
	// Username enables PLAIN auth when set.
	Username string
	Password string
}

// SMTPMailer delivers through net/smtp.
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now  func() time.Time
}

// NewSMTPMailer constructs an SMTPMailer.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("smtp: host and from are required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 25
	}
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail, now: time.Now}, nil
}

// Send writes msg to the relay.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(msg.To, "\r\n") || strings.ContainsAny(msg.Subject, "\r\n") {
		return errors.New("smtp: header injection")
	}
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.send(addr, auth, m.cfg.From, []string{msg.To}, m.compose(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (m *SMTPMailer) compose(msg Message) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", m.now().UTC().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return buf.Bytes()
}

const invitationSubject = "You have been invited to Odyssey"

var invitationTemplate = template.Must(template.New("invitation").Parse(`Hello{{if .Name}} {{.Name}}{{end}},

You have been invited to join Odyssey. Choose a password to activate your account:

{{.Link}}

This link can be used once and expires on {{.ExpiresAt.UTC.Format "2006-01-02 15:04 MST"}}.
If you were not expecting this invitation you can ignore this message.
`))

// RenderInvitation builds the invitation mail for payload.
func RenderInvitation(payload InvitationPayload) (Message, error) {
	var body bytes.Buffer
	if err := invitationTemplate.Execute(&body, payload); err != nil {
		return Message{}, err
	}
	return Message{To: payload.Email, Subject: invitationSubject, Body: body.String()}, nil
}
