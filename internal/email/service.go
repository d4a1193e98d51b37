// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/smtp"
	"strings"
)

// ErrNotConfigured is returned when no SMTP server is set up.
var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   SendFunc
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
	}
}

// WithSender replaces the SMTP transport, used by tests.
func (s *Service) WithSender(send SendFunc) *Service {
	s.send = send
	return s
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// PlanData is the content of a garden plan email.
type PlanData struct {
	FamilyName  string
	ContactName string
	Title       string
	SummaryHTML template.HTML
	PlainText   string
	DownloadURL string
}

// SendPlan mails the garden plan to the household contact.
func (s *Service) SendPlan(to string, data PlanData) error {
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("send plan: no recipient")
	}
	html, err := renderTemplate(planEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render plan template: %w", err)
	}
	return s.SendMultipart([]string{to}, data.Title, data.PlainText, html)
}

// SendMultipart sends a message with plain text and HTML alternatives.
func (s *Service) SendMultipart(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}

	boundary := "boundary-wellfed"

	var msg bytes.Buffer
	writeHeaders(&msg, s.from(), to, subject)
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", crlf(textBody))

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", crlf(htmlBody))
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

func (s *Service) from() string {
	if s.config.FromName == "" {
		return s.config.From
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("UTF-8", s.config.FromName), s.config.From)
}

func writeHeaders(msg *bytes.Buffer, from string, to []string, subject string) {
	fmt.Fprintf(msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(msg, "From: %s\r\n", from)
	fmt.Fprintf(msg, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", subject))
	fmt.Fprintf(msg, "MIME-Version: 1.0\r\n")
}

func crlf(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\n", "\r\n")
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const planEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: Georgia, serif; line-height: 1.6; color: #2d3a2e; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #4a7c59; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #4a7c59; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.Title}}</h1>
    </div>

    <p>Aloha{{if .ContactName}} {{.ContactName}}{{end}},</p>

    <p>Mahalo for walking the land with us. Here is the garden plan we put together for the {{if .FamilyName}}{{.FamilyName}} {{end}}ʻohana.</p>

    {{if .SummaryHTML}}<div>{{.SummaryHTML}}</div>{{end}}

    {{if .DownloadURL}}
    <p>
        <a href="{{.DownloadURL}}" class="button">Download the full site analysis</a>
    </p>
    {{end}}

    <div class="footer">
        <p>You received this email because your address was recorded during a garden site visit.</p>
    </div>
</body>
</html>`
