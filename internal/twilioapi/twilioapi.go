// Package twilioapi wraps the Twilio Messages API for the WhatsApp and SMS
// channels of the notification engine.
package twilioapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/garagedesk/notify/internal/models"
)

// DefaultSendTimeout bounds a single Messages API call. The Twilio SDK takes
// no context, so an unbounded hang here would stall the retry loop.
const DefaultSendTimeout = 15 * time.Second

// Sender is the send primitive the channel adapters depend on.
type Sender interface {
	// SendWhatsApp sends a WhatsApp message to an E.164 number (digits only,
	// no leading +) and returns the provider message SID.
	SendWhatsApp(ctx context.Context, to string, body string) (string, error)
	// SendSMS sends an SMS to an E.164 number and returns the provider
	// message SID.
	SendSMS(ctx context.Context, to string, body string) (string, error)
}

// Opts holds configuration options for the Twilio client.
type Opts struct {
	AccountSID   string
	AuthToken    string
	WhatsAppFrom string // sender in "whatsapp:+1234567890" format
	SMSFrom      string // sender in "+1234567890" format
	SendTimeout  time.Duration
}

// Option defines a configuration option for the Twilio client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithWhatsAppFrom sets the WhatsApp sender number.
func WithWhatsAppFrom(from string) Option {
	return func(o *Opts) { o.WhatsAppFrom = from }
}

// WithSMSFrom sets the SMS sender number.
func WithSMSFrom(from string) Option {
	return func(o *Opts) { o.SMSFrom = from }
}

// WithSendTimeout overrides the per-call timeout.
func WithSendTimeout(d time.Duration) Option {
	return func(o *Opts) { o.SendTimeout = d }
}

// HasCredentials reports whether Twilio credentials are present in the
// environment, which decides real-versus-sandbox client selection.
func HasCredentials() bool {
	return os.Getenv("TWILIO_ACCOUNT_SID") != "" && os.Getenv("TWILIO_AUTH_TOKEN") != ""
}

// Client wraps the Twilio REST API for WhatsApp and SMS sends.
type Client struct {
	client       *twilio.RestClient
	whatsAppFrom string
	smsFrom      string
	sendTimeout  time.Duration
}

// NewClient creates a Twilio client, falling back to TWILIO_* environment
// variables for any option not supplied.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.WhatsAppFrom == "" {
		cfg.WhatsAppFrom = os.Getenv("TWILIO_WHATSAPP_FROM")
	}
	if cfg.SMSFrom == "" {
		cfg.SMSFrom = os.Getenv("TWILIO_SMS_FROM")
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	slog.Debug("Twilio client config loaded",
		"account_sid_set", cfg.AccountSID != "",
		"auth_token_set", cfg.AuthToken != "",
		"whatsapp_from_set", cfg.WhatsAppFrom != "",
		"sms_from_set", cfg.SMSFrom != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.WhatsAppFrom == "" && cfg.SMSFrom == "" {
		return nil, fmt.Errorf("at least one of WhatsApp and SMS from numbers must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &Client{
		client:       client,
		whatsAppFrom: cfg.WhatsAppFrom,
		smsFrom:      cfg.SMSFrom,
		sendTimeout:  cfg.SendTimeout,
	}, nil
}

// SendWhatsApp sends a WhatsApp message using the Twilio Messages API.
func (c *Client) SendWhatsApp(ctx context.Context, to string, body string) (string, error) {
	if c.whatsAppFrom == "" {
		return "", &models.ProviderError{Channel: models.ChannelWhatsApp, Message: "whatsapp sender number not configured"}
	}
	return c.createMessage(ctx, models.ChannelWhatsApp, c.whatsAppFrom, "whatsapp:+"+to, body)
}

// SendSMS sends an SMS using the Twilio Messages API.
func (c *Client) SendSMS(ctx context.Context, to string, body string) (string, error) {
	if c.smsFrom == "" {
		return "", &models.ProviderError{Channel: models.ChannelSMS, Message: "sms sender number not configured"}
	}
	return c.createMessage(ctx, models.ChannelSMS, c.smsFrom, "+"+to, body)
}

type createResult struct {
	sid string
	err error
}

// createMessage races the Messages API call against the send timeout and the
// caller's context. CreateMessage takes no context, so a timed-out call is
// abandoned rather than cancelled; the goroutine finishes on its own.
func (c *Client) createMessage(ctx context.Context, channel models.Channel, from, to, body string) (string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetBody(body)

	done := make(chan createResult, 1)
	go func() {
		resp, err := c.client.Api.CreateMessage(params)
		if err != nil {
			done <- createResult{err: err}
			return
		}
		var sid string
		if resp != nil && resp.Sid != nil {
			sid = *resp.Sid
		}
		done <- createResult{sid: sid}
	}()

	timer := time.NewTimer(c.sendTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			slog.Error("Twilio send failed", "channel", channel, "to", to, "error", res.err)
			return "", shapeError(channel, res.err)
		}
		slog.Debug("Twilio message sent", "channel", channel, "to", to, "sid", res.sid)
		return res.sid, nil
	case <-timer.C:
		slog.Error("Twilio send timed out", "channel", channel, "to", to, "timeout", c.sendTimeout)
		return "", &models.ProviderError{
			Channel:    channel,
			StatusCode: 503,
			Message:    fmt.Sprintf("send timed out after %s", c.sendTimeout),
		}
	case <-ctx.Done():
		slog.Warn("Twilio send abandoned, context done", "channel", channel, "to", to)
		return "", &models.ProviderError{Channel: channel, Message: "send cancelled: " + ctx.Err().Error(), Err: ctx.Err()}
	}
}

// shapeError converts Twilio SDK errors into the ProviderError shape the
// classifier understands.
func shapeError(channel models.Channel, err error) error {
	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) {
		return &models.ProviderError{
			Channel:    channel,
			StatusCode: restErr.Status,
			Code:       strconv.Itoa(restErr.Code),
			Message:    restErr.Message,
			Err:        err,
		}
	}
	return &models.ProviderError{Channel: channel, Message: err.Error(), Err: err}
}

// MockClient implements Sender for tests and sandbox operation. It records
// every send and can be scripted to fail.
type MockClient struct {
	SentWhatsApp []SentMessage
	SentSMS      []SentMessage

	// WhatsAppErr / SMSErr, when non-nil, are returned by the corresponding
	// send instead of recording.
	WhatsAppErr error
	SMSErr      error

	// FailFirst fails the first N sends of each channel before succeeding.
	FailFirst int
	FailWith  error

	whatsAppCalls int
	smsCalls      int
}

// SentMessage is one recorded send.
type SentMessage struct {
	To   string
	Body string
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// SendWhatsApp records a WhatsApp send or returns the scripted error.
func (m *MockClient) SendWhatsApp(ctx context.Context, to string, body string) (string, error) {
	m.whatsAppCalls++
	if m.WhatsAppErr != nil {
		return "", m.WhatsAppErr
	}
	if m.whatsAppCalls <= m.FailFirst {
		return "", m.failErr(models.ChannelWhatsApp)
	}
	m.SentWhatsApp = append(m.SentWhatsApp, SentMessage{To: to, Body: body})
	return fmt.Sprintf("SM-mock-%d", len(m.SentWhatsApp)), nil
}

// SendSMS records an SMS send or returns the scripted error.
func (m *MockClient) SendSMS(ctx context.Context, to string, body string) (string, error) {
	m.smsCalls++
	if m.SMSErr != nil {
		return "", m.SMSErr
	}
	if m.smsCalls <= m.FailFirst {
		return "", m.failErr(models.ChannelSMS)
	}
	m.SentSMS = append(m.SentSMS, SentMessage{To: to, Body: body})
	return fmt.Sprintf("SM-mock-sms-%d", len(m.SentSMS)), nil
}

func (m *MockClient) failErr(channel models.Channel) error {
	if m.FailWith != nil {
		return m.FailWith
	}
	return &models.ProviderError{Channel: channel, StatusCode: 503, Message: "service unavailable"}
}
