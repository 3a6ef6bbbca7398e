package messaging

import (
	"context"
	"fmt"

	"github.com/garagedesk/notify/internal/models"
)

// SMSSender is the SMS send primitive the adapter drives.
type SMSSender interface {
	SendSMS(ctx context.Context, to string, body string) (string, error)
}

// SMSAdapter delivers notifications over SMS with shortened templates.
type SMSAdapter struct {
	sender SMSSender
}

// NewSMSAdapter creates an SMS adapter over the given send primitive.
func NewSMSAdapter(sender SMSSender) *SMSAdapter {
	return &SMSAdapter{sender: sender}
}

// Channel implements Adapter.
func (a *SMSAdapter) Channel() models.Channel {
	return models.ChannelSMS
}

// ValidateRecipient implements Adapter. SMS shares WhatsApp's phone
// normalization rules.
func (a *SMSAdapter) ValidateRecipient(contact models.UserContactInfo) (string, error) {
	if contact.Phone == "" || contact.CountryCode == "" {
		return "", fmt.Errorf("sms requires phone and country code: %w", models.ErrMissingContact)
	}
	return NormalizePhone(contact.Phone, contact.CountryCode)
}

// Format implements Adapter.
func (a *SMSAdapter) Format(n models.Notification, contact models.UserContactInfo) (Content, error) {
	body, err := smsBody(n, contact)
	if err != nil {
		return Content{}, err
	}
	return Content{Body: body}, nil
}

// Send implements Adapter.
func (a *SMSAdapter) Send(ctx context.Context, recipient string, content Content) (string, error) {
	if content.Body == "" {
		return "", models.ErrEmptyBody
	}
	return a.sender.SendSMS(ctx, recipient, content.Body)
}
