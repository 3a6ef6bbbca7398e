// Package messaging contains the channel adapters that turn a logical
// notification into channel-shaped content and hand it to the provider
// client for that channel. Adapters perform recipient validation and
// content formatting only; retries, circuit breaking, and persistence
// belong to the orchestrator.
package messaging

import (
	"context"

	"github.com/garagedesk/notify/internal/models"
)

// Content is the channel-shaped message produced by Format. Subject and
// HTML are only meaningful for email.
type Content struct {
	Subject string
	Body    string
	HTML    string
}

// Adapter binds one delivery channel: it validates the recipient address,
// formats notification content for the channel, and performs the send.
type Adapter interface {
	// Channel identifies the channel this adapter serves.
	Channel() models.Channel
	// ValidateRecipient extracts and validates the channel address from the
	// contact record. Returns models.ErrMissingContact when the required
	// contact field is absent.
	ValidateRecipient(contact models.UserContactInfo) (string, error)
	// Format renders the notification into channel-shaped content.
	Format(n models.Notification, contact models.UserContactInfo) (Content, error)
	// Send delivers content to the validated recipient address and returns
	// the provider message ID. Failures are *models.ProviderError where the
	// provider answered.
	Send(ctx context.Context, recipient string, content Content) (string, error)
}
