// Package email wraps the SendGrid mail-send API for the email channel of
// the notification engine.
package email

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/garagedesk/notify/internal/models"
)

// DefaultSendTimeout bounds a single mail-send call.
const DefaultSendTimeout = 15 * time.Second

// Envelope is one outbound email.
type Envelope struct {
	To        string
	ToName    string
	Subject   string
	PlainText string
	HTML      string
}

// Sender is the send primitive the email channel adapter depends on.
type Sender interface {
	// Send delivers the envelope and returns the provider message ID.
	Send(ctx context.Context, env Envelope) (string, error)
}

// Opts holds configuration options for the SendGrid client.
type Opts struct {
	APIKey      string
	FromEmail   string
	FromName    string
	SendTimeout time.Duration
}

// Option defines a configuration option for the SendGrid client.
type Option func(*Opts)

// WithAPIKey sets the SendGrid API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithFrom sets the sender address and display name.
func WithFrom(email, name string) Option {
	return func(o *Opts) {
		o.FromEmail = email
		o.FromName = name
	}
}

// WithSendTimeout overrides the per-call timeout.
func WithSendTimeout(d time.Duration) Option {
	return func(o *Opts) { o.SendTimeout = d }
}

// HasCredentials reports whether SendGrid credentials are present in the
// environment, which decides real-versus-sandbox client selection.
func HasCredentials() bool {
	return os.Getenv("SENDGRID_API_KEY") != ""
}

// Client sends email through SendGrid.
type Client struct {
	client      *sendgrid.Client
	fromEmail   string
	fromName    string
	sendTimeout time.Duration
}

// NewClient creates a SendGrid client, falling back to SENDGRID_* environment
// variables for any option not supplied.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("SENDGRID_API_KEY")
	}
	if cfg.FromEmail == "" {
		cfg.FromEmail = os.Getenv("SENDGRID_FROM_EMAIL")
	}
	if cfg.FromName == "" {
		cfg.FromName = os.Getenv("SENDGRID_FROM_NAME")
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	slog.Debug("SendGrid client config loaded",
		"api_key_set", cfg.APIKey != "",
		"from_email_set", cfg.FromEmail != "")

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("SendGrid API key must be provided")
	}
	if cfg.FromEmail == "" {
		return nil, fmt.Errorf("sender email address must be provided")
	}

	return &Client{
		client:      sendgrid.NewSendClient(cfg.APIKey),
		fromEmail:   cfg.FromEmail,
		fromName:    cfg.FromName,
		sendTimeout: cfg.SendTimeout,
	}, nil
}

// Send delivers the envelope, racing the provider call against the send
// timeout. A timeout surfaces as a service_unavailable-classified error.
func (c *Client) Send(ctx context.Context, env Envelope) (string, error) {
	from := mail.NewEmail(c.fromName, c.fromEmail)
	to := mail.NewEmail(env.ToName, env.To)
	html := env.HTML
	if html == "" {
		html = env.PlainText
	}
	message := mail.NewSingleEmail(from, env.Subject, to, env.PlainText, html)

	sendCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	resp, err := c.client.SendWithContext(sendCtx, message)
	if err != nil {
		if sendCtx.Err() != nil {
			slog.Error("SendGrid send timed out", "to", env.To, "timeout", c.sendTimeout)
			return "", &models.ProviderError{
				Channel:    models.ChannelEmail,
				StatusCode: 503,
				Message:    fmt.Sprintf("email send timed out after %s", c.sendTimeout),
				Err:        err,
			}
		}
		slog.Error("SendGrid send failed", "to", env.To, "error", err)
		return "", &models.ProviderError{Channel: models.ChannelEmail, Message: err.Error(), Err: err}
	}

	if resp.StatusCode >= 400 {
		perr := shapeResponseError(resp.StatusCode, resp.Body)
		slog.Error("SendGrid rejected send", "to", env.To, "status", resp.StatusCode, "error", perr)
		return "", perr
	}

	messageID := resp.Headers["X-Message-Id"]
	var id string
	if len(messageID) > 0 {
		id = messageID[0]
	}
	slog.Debug("SendGrid message accepted", "to", env.To, "status", resp.StatusCode, "message_id", id)
	return id, nil
}

// responseBody is the SendGrid v3 error envelope.
type responseBody struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
		Help    string `json:"help"`
	} `json:"errors"`
}

// shapeResponseError converts a >=400 SendGrid response into a ProviderError.
// A 403 whose body describes a sender-identity-verification failure gets an
// actionable remediation message rather than a bare status code.
func shapeResponseError(status int, body string) *models.ProviderError {
	var parsed responseBody
	_ = json.Unmarshal([]byte(body), &parsed)

	var messages []string
	for _, e := range parsed.Errors {
		if e.Message != "" {
			messages = append(messages, e.Message)
		}
	}
	message := strings.Join(messages, "; ")
	if message == "" {
		message = strings.TrimSpace(body)
	}

	if status == 403 && isIdentityVerificationError(message) {
		return &models.ProviderError{
			Channel:    models.ChannelEmail,
			StatusCode: status,
			Code:       "sender_identity_unverified",
			Message: "sender email address is not verified with the email provider: " +
				"verify the sender identity in the SendGrid dashboard (Settings > Sender Authentication), " +
				"or set SENDGRID_FROM_EMAIL to an already-verified address",
		}
	}

	return &models.ProviderError{
		Channel:    models.ChannelEmail,
		StatusCode: status,
		Code:       strconv.Itoa(status),
		Message:    message,
	}
}

func isIdentityVerificationError(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "verified sender identity") ||
		strings.Contains(lower, "sender identity") ||
		strings.Contains(lower, "does not match a verified sender")
}

// MockClient implements Sender for tests and sandbox operation.
type MockClient struct {
	Sent []Envelope

	// Errs are returned in order for successive sends; once exhausted,
	// sends succeed.
	Errs []error

	calls int
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Send records the envelope or returns the next scripted error.
func (m *MockClient) Send(ctx context.Context, env Envelope) (string, error) {
	m.calls++
	if m.calls <= len(m.Errs) {
		if err := m.Errs[m.calls-1]; err != nil {
			return "", err
		}
	}
	m.Sent = append(m.Sent, env)
	return fmt.Sprintf("mock-email-%d", len(m.Sent)), nil
}
