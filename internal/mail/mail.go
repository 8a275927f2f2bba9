// Package mail delivers transactional email. The reset-password flow is its only caller.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"
	"time"
)

// Message is a single outgoing email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers a message or returns why it could not.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

const resetSubject = "Reset Password - Task Tracker"

var resetHTML = template.Must(template.New("reset").Parse(`<div style="font-family: sans-serif; text-align: center; padding: 20px;">
  <h2>Password reset request</h2>
  <p>Click the button below to choose a new password. The link expires in {{.Minutes}} minutes.</p>
  <a href="{{.Link}}" style="display:inline-block;padding:10px 20px;background:#2563eb;color:white;text-decoration:none;border-radius:8px;font-weight:bold;">
    Set a new password
  </a>
  <p style="color:#6b7280;font-size:12px;">If you did not ask for this, you can ignore this email.</p>
</div>`))

// ResetLink builds <frontendURL>/reset-password?token=<token>.
func ResetLink(frontendURL, token string) string {
	return frontendURL + "/reset-password?token=" + url.QueryEscape(token)
}

// ResetPasswordMessage renders the reset email for to.
func ResetPasswordMessage(to, link string, ttl time.Duration) (Message, error) {
	minutes := int(ttl.Round(time.Minute) / time.Minute)
	var buf bytes.Buffer
	if err := resetHTML.Execute(&buf, struct {
		Link    string
		Minutes int
	}{Link: link, Minutes: minutes}); err != nil {
		return Message{}, fmt.Errorf("render reset email: %w", err)
	}
	return Message{
		To:      to,
		Subject: resetSubject,
		HTML:    buf.String(),
		Text:    fmt.Sprintf("Open this link to set a new password (expires in %d minutes):\n%s\n", minutes, link),
	}, nil
}
