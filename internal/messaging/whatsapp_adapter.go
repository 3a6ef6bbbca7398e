package messaging

import (
	"context"
	"fmt"

	"github.com/garagedesk/notify/internal/models"
)

// ChatSender is the WhatsApp send primitive the adapter drives. Both the
// Twilio client and the direct whatsmeow client satisfy it.
type ChatSender interface {
	SendWhatsApp(ctx context.Context, to string, body string) (string, error)
}

// WhatsAppAdapter delivers notifications over WhatsApp chat.
type WhatsAppAdapter struct {
	sender ChatSender
}

// NewWhatsAppAdapter creates a WhatsApp adapter over the given send primitive.
func NewWhatsAppAdapter(sender ChatSender) *WhatsAppAdapter {
	return &WhatsAppAdapter{sender: sender}
}

// Channel implements Adapter.
func (a *WhatsAppAdapter) Channel() models.Channel {
	return models.ChannelWhatsApp
}

// ValidateRecipient implements Adapter. It requires both phone and country
// code and returns the normalized E.164 digits.
func (a *WhatsAppAdapter) ValidateRecipient(contact models.UserContactInfo) (string, error) {
	if contact.Phone == "" || contact.CountryCode == "" {
		return "", fmt.Errorf("whatsapp requires phone and country code: %w", models.ErrMissingContact)
	}
	return NormalizePhone(contact.Phone, contact.CountryCode)
}

// Format implements Adapter.
func (a *WhatsAppAdapter) Format(n models.Notification, contact models.UserContactInfo) (Content, error) {
	body, err := chatBody(n, contact)
	if err != nil {
		return Content{}, err
	}
	return Content{Body: body}, nil
}

// Send implements Adapter.
func (a *WhatsAppAdapter) Send(ctx context.Context, recipient string, content Content) (string, error) {
	if content.Body == "" {
		return "", models.ErrEmptyBody
	}
	return a.sender.SendWhatsApp(ctx, recipient, content.Body)
}
