// Package mailer delivers notification e-mails over SMTP.
package mailer

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

var ErrNotConfigured = errors.New("email not configured")

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	BaseURL  string
}

type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

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
	}
}

func (s *Service) IsConfigured() bool {
	return s != nil && s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) Send(msg Message) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("send email: empty recipient")
	}
	return s.send(s.server, s.auth, s.config.From, []string{msg.To}, s.encode(msg))
}

func (s *Service) encode(msg Message) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	boundary := "boundary-modhub"

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&buf, "%s\r\n\r\n", msg.Text)

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&buf, "%s\r\n\r\n", msg.HTML)
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}

type NotificationData struct {
	RecipientName string
	Kind          string
	Summary       string
	Link          string
}

var subjects = map[string]string{
	"update_submitted":  "An update is waiting for review",
	"update_approved":   "Your update was approved",
	"update_rejected":   "Your update was rejected",
	"update_superseded": "Your pending update was replaced",
	"new_comment":       "New comment on your item",
	"comment_reply":     "New reply to your comment",
	"mention":           "You were mentioned",
}

// Compose renders the e-mail for one notification.
func (s *Service) Compose(to string, data NotificationData) (Message, error) {
	subject, ok := subjects[data.Kind]
	if !ok {
		subject = "New notification"
	}
	if data.Summary == "" {
		data.Summary = subject
	}
	if s != nil && data.Link != "" && s.config.BaseURL != "" && strings.HasPrefix(data.Link, "/") {
		data.Link = strings.TrimRight(s.config.BaseURL, "/") + data.Link
	}
	html, err := renderNotification(data)
	if err != nil {
		return Message{}, fmt.Errorf("render notification template: %w", err)
	}
	text := data.Summary
	if data.Link != "" {
		text += "\n\n" + data.Link
	}
	return Message{To: to, Subject: "[modhub] " + subject, HTML: html, Text: text}, nil
}

var notificationTmpl = template.Must(template.New("notification").Parse(notificationTemplate))

func renderNotification(data NotificationData) (string, error) {
	var buf bytes.Buffer
	if err := notificationTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const notificationTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    {{if .RecipientName}}<p>Hi {{.RecipientName}},</p>{{end}}
    <p>{{.Summary}}</p>
    {{if .Link}}<p><a href="{{.Link}}">Open in modhub</a></p>{{end}}
    <p style="font-size: 12px; color: #666;">You are receiving this because of your notification settings.</p>
</body>
</html>`
