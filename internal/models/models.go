// Package models defines the core data structures for the notification engine.
//
// It includes channels, error kinds, delivery results, and persisted message
// records, which are shared across modules.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Channel identifies one external notification delivery mechanism.
type Channel string

const (
	// ChannelWhatsApp delivers over the WhatsApp chat-messaging provider.
	ChannelWhatsApp Channel = "whatsapp"
	// ChannelEmail delivers over the transactional email provider.
	ChannelEmail Channel = "email"
	// ChannelSMS delivers over the SMS provider.
	ChannelSMS Channel = "sms"
)

// IsValidChannel checks if the given channel is supported.
func IsValidChannel(c Channel) bool {
	switch c {
	case ChannelWhatsApp, ChannelEmail, ChannelSMS:
		return true
	default:
		return false
	}
}

// ErrorKind is a coarse, closed classification of a provider failure used to
// decide retry eligibility and user messaging.
type ErrorKind string

const (
	// ErrorKindValidation indicates a malformed request or recipient; never retryable.
	ErrorKindValidation ErrorKind = "validation"
	// ErrorKindAuthentication indicates bad or missing provider credentials; never retryable.
	ErrorKindAuthentication ErrorKind = "authentication"
	// ErrorKindRateLimit indicates the provider throttled the request.
	ErrorKindRateLimit ErrorKind = "rate_limit"
	// ErrorKindServiceUnavailable indicates the provider is down or overloaded.
	ErrorKindServiceUnavailable ErrorKind = "service_unavailable"
	// ErrorKindPolicyViolation indicates the provider rejected the content or sender; never retryable.
	ErrorKindPolicyViolation ErrorKind = "policy_violation"
	// ErrorKindNetwork indicates a transport-level failure before the provider answered.
	ErrorKindNetwork ErrorKind = "network"
	// ErrorKindUnknown is the catch-all for unclassified failures.
	ErrorKindUnknown ErrorKind = "unknown"
)

// NotificationKind identifies a logical message family.
type NotificationKind string

const (
	// KindAppointmentConfirmation confirms a booked garage appointment.
	KindAppointmentConfirmation NotificationKind = "appointment_confirmation"
	// KindStatusUpdate reports a change in service status for a vehicle.
	KindStatusUpdate NotificationKind = "status_update"
	// KindBidResult reports the outcome of a service bid.
	KindBidResult NotificationKind = "bid_result"
	// KindPromotion is a promotional broadcast message.
	KindPromotion NotificationKind = "promotion"
	// KindOTP carries a one-time verification code.
	KindOTP NotificationKind = "otp"
)

// IsValidNotificationKind checks if the given notification kind is supported.
func IsValidNotificationKind(k NotificationKind) bool {
	switch k {
	case KindAppointmentConfirmation, KindStatusUpdate, KindBidResult, KindPromotion, KindOTP:
		return true
	default:
		return false
	}
}

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient     = errors.New("recipient cannot be empty")
	ErrInvalidPhoneNumber = errors.New("invalid phone number")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrMissingContact     = errors.New("contact field required by channel is missing")
	ErrInvalidKind        = errors.New("invalid notification kind")
	ErrEmptyBody          = errors.New("message body cannot be empty")
	ErrCircuitOpen        = errors.New("circuit breaker is open")
	ErrContactNotFound    = errors.New("contact info not found")
)

// ProviderError is a raw provider failure carrying enough shape for
// classification: an HTTP-ish status, a provider-specific code, and the
// human-readable message the provider returned.
type ProviderError struct {
	Channel    Channel
	StatusCode int    // HTTP status or provider status, 0 if unknown
	Code       string // provider-specific error code, "" if none
	Message    string
	Err        error // underlying error, may be nil
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s provider error (status=%d code=%s): %s", e.Channel, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s provider error (status=%d): %s", e.Channel, e.StatusCode, e.Message)
}

// Unwrap exposes the underlying error for errors.Is/As chains.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ResultMeta carries fixed, typed result metadata. Fields are zero-valued
// when not applicable to the outcome.
type ResultMeta struct {
	ProviderMessageID  string  `json:"provider_message_id,omitempty"`
	CircuitOpen        bool    `json:"circuit_open,omitempty"`
	FallbackFrom       Channel `json:"fallback_from,omitempty"`        // preferred channel that failed before fallback
	FailedChannelError string  `json:"failed_channel_error,omitempty"` // failure reason of the preferred channel
	AlternateError     string  `json:"alternate_error,omitempty"`      // failure reason of the alternate channel when both fail
}

// CommunicationResult is the outcome of one delivery attempt sequence.
// If Success is true, ErrorKind is empty. TotalAttempts >= RetryCount+1
// whenever at least one attempt reached a provider.
type CommunicationResult struct {
	Channel       Channel    `json:"channel,omitempty"` // channel that ultimately handled delivery
	Success       bool       `json:"success"`
	Message       string     `json:"message"`
	ErrorKind     ErrorKind  `json:"error_kind,omitempty"`
	Retryable     bool       `json:"retryable"`
	RetryCount    int        `json:"retry_count"`
	TotalAttempts int        `json:"total_attempts"`
	Meta          ResultMeta `json:"meta"`
}

// Validate checks the structural invariants of a CommunicationResult.
func (r *CommunicationResult) Validate() error {
	if r.Success && r.ErrorKind != "" {
		return errors.New("successful result must not carry an error kind")
	}
	if r.RetryCount < 0 || r.TotalAttempts < 0 {
		return errors.New("attempt counters cannot be negative")
	}
	if r.TotalAttempts > 0 && r.TotalAttempts < r.RetryCount+1 {
		return errors.New("total attempts must be at least retry count plus one")
	}
	return nil
}

// MessageStatus represents the delivery status of a persisted message record.
type MessageStatus string

const (
	// MessageStatusPending indicates the send was initiated but not resolved.
	MessageStatusPending MessageStatus = "pending"
	// MessageStatusSent indicates the message was accepted by the provider.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusFailed indicates the message failed without retries.
	MessageStatusFailed MessageStatus = "failed"
	// MessageStatusRetryFailed indicates the message failed after exhausting retries.
	MessageStatusRetryFailed MessageStatus = "retry_failed"
	// MessageStatusFallbackSent indicates delivery succeeded on the fallback channel.
	MessageStatusFallbackSent MessageStatus = "fallback_sent"
)

// MessageRecord is the persisted audit entry for one logical notification.
// It is created when a send is initiated and updated exactly once on
// completion; it is never deleted by the engine.
type MessageRecord struct {
	ID               string           `json:"id"`
	Recipient        string           `json:"recipient"`
	Channel          Channel          `json:"channel"`
	Kind             NotificationKind `json:"kind"`
	Content          string           `json:"content"`
	Status           MessageStatus    `json:"status"`
	RetryCount       int              `json:"retry_count"`
	LastRetryAt      time.Time        `json:"last_retry_at,omitempty"`
	FailureReason    string           `json:"failure_reason,omitempty"`
	ProviderResponse string           `json:"provider_response,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// MessageUpdate is the partial update applied to a MessageRecord on
// completion. Nil fields are left unchanged.
type MessageUpdate struct {
	Status           *MessageStatus
	RetryCount       *int
	LastRetryAt      *time.Time
	FailureReason    *string
	ProviderResponse *string
}

// UserContactInfo describes the contact record used to select and address
// channels. It is input only; the user-profile store owns it.
type UserContactInfo struct {
	Email            string  `json:"email,omitempty"`
	Phone            string  `json:"phone,omitempty"`
	CountryCode      string  `json:"country_code,omitempty"` // e.g. "+91"
	PreferredChannel Channel `json:"preferred_channel"`
	Name             string  `json:"name,omitempty"`
}

// Notification is a logical message to deliver, independent of channel.
type Notification struct {
	Kind NotificationKind `json:"kind"`

	// Appointment confirmation / status update fields
	ServiceName     string    `json:"service_name,omitempty"`
	LocationName    string    `json:"location_name,omitempty"`
	AppointmentTime time.Time `json:"appointment_time,omitempty"`
	VehicleDesc     string    `json:"vehicle_desc,omitempty"`
	Status          string    `json:"status,omitempty"`

	// Bid result fields
	BidAccepted bool   `json:"bid_accepted,omitempty"`
	BidAmount   string `json:"bid_amount,omitempty"`

	// Promotion fields
	PromoTitle string `json:"promo_title,omitempty"`
	PromoBody  string `json:"promo_body,omitempty"`

	// OTP fields
	OTPCode string `json:"otp_code,omitempty"`
}

// Validate performs kind-specific validation on a Notification.
func (n *Notification) Validate() error {
	if !IsValidNotificationKind(n.Kind) {
		return ErrInvalidKind
	}
	switch n.Kind {
	case KindAppointmentConfirmation:
		if n.ServiceName == "" || n.AppointmentTime.IsZero() {
			return errors.New("appointment confirmation requires service name and time")
		}
	case KindStatusUpdate:
		if n.Status == "" {
			return errors.New("status update requires a status")
		}
	case KindPromotion:
		if n.PromoBody == "" {
			return errors.New("promotion requires a body")
		}
	case KindOTP:
		if n.OTPCode == "" {
			return errors.New("otp notification requires a code")
		}
	}
	return nil
}

// RetryConfig bounds the exponential backoff retry loop.
type RetryConfig struct {
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	MaxRetries        int
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the retry configuration used when none is supplied.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		MaxRetries:        3,
		BackoffMultiplier: 2.0,
	}
}

// Validate checks the retry configuration invariants.
func (c RetryConfig) Validate() error {
	if c.InitialDelay <= 0 || c.MaxDelay <= 0 {
		return errors.New("retry delays must be positive")
	}
	if c.MaxDelay < c.InitialDelay {
		return errors.New("max delay must be at least the initial delay")
	}
	if c.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	if c.BackoffMultiplier <= 0 {
		return errors.New("backoff multiplier must be positive")
	}
	return nil
}

// BreakerConfig configures a per-channel circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// DefaultBreakerConfig returns the breaker configuration used when none is supplied.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  5 * time.Minute,
	}
}

// Validate checks the breaker configuration invariants.
func (c BreakerConfig) Validate() error {
	if c.FailureThreshold <= 0 {
		return errors.New("failure threshold must be positive")
	}
	if c.RecoveryTimeout <= 0 {
		return errors.New("recovery timeout must be positive")
	}
	return nil
}
