package messaging

import (
	"context"
	"fmt"
	"regexp"

	"github.com/garagedesk/notify/internal/email"
	"github.com/garagedesk/notify/internal/models"
)

// addressPattern is a deliberately simple address-shape check: one "@", a
// dot in the domain, no whitespace. Deliverability is the provider's job.
var addressPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidAddress reports whether addr passes the address-shape check.
func ValidAddress(addr string) bool {
	return addressPattern.MatchString(addr)
}

// EmailAdapter delivers notifications over transactional email.
type EmailAdapter struct {
	sender   email.Sender
	fromAddr string
}

// NewEmailAdapter creates an email adapter. fromAddr is the configured sender
// address; it is shape-checked on every send so a misconfigured deployment
// fails with a clear validation error instead of a provider rejection.
func NewEmailAdapter(sender email.Sender, fromAddr string) *EmailAdapter {
	return &EmailAdapter{sender: sender, fromAddr: fromAddr}
}

// Channel implements Adapter.
func (a *EmailAdapter) Channel() models.Channel {
	return models.ChannelEmail
}

// ValidateRecipient implements Adapter.
func (a *EmailAdapter) ValidateRecipient(contact models.UserContactInfo) (string, error) {
	if contact.Email == "" {
		return "", fmt.Errorf("email channel requires an email address: %w", models.ErrMissingContact)
	}
	if !ValidAddress(contact.Email) {
		return "", fmt.Errorf("recipient %q: %w", contact.Email, models.ErrInvalidEmail)
	}
	return contact.Email, nil
}

// Format implements Adapter.
func (a *EmailAdapter) Format(n models.Notification, contact models.UserContactInfo) (Content, error) {
	return emailContent(n, contact)
}

// Send implements Adapter.
func (a *EmailAdapter) Send(ctx context.Context, recipient string, content Content) (string, error) {
	if a.fromAddr != "" && !ValidAddress(a.fromAddr) {
		return "", fmt.Errorf("configured sender %q: %w", a.fromAddr, models.ErrInvalidEmail)
	}
	if content.Body == "" {
		return "", models.ErrEmptyBody
	}
	return a.sender.Send(ctx, email.Envelope{
		To:        recipient,
		Subject:   content.Subject,
		PlainText: content.Body,
		HTML:      content.HTML,
	})
}
