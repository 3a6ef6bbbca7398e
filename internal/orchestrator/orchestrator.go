// Package orchestrator coordinates notification delivery: channel selection,
// retry execution under per-channel circuit breakers, cross-channel fallback,
// bulk broadcast, and audit logging. It is the single entry point business
// code calls to deliver a notification.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/garagedesk/notify/internal/breaker"
	"github.com/garagedesk/notify/internal/contacts"
	"github.com/garagedesk/notify/internal/copywriter"
	"github.com/garagedesk/notify/internal/messaging"
	"github.com/garagedesk/notify/internal/models"
	"github.com/garagedesk/notify/internal/retry"
	"github.com/garagedesk/notify/internal/store"
	"github.com/garagedesk/notify/internal/util"
)

// DefaultBroadcastDelay is the fixed pause between broadcast recipients,
// keeping bulk sends under provider rate limits.
const DefaultBroadcastDelay = 250 * time.Millisecond

// OTPCodeLength is the number of digits in generated one-time codes.
const OTPCodeLength = 6

// Engine delivers notifications with retry, circuit breaking, and fallback.
// Build one per process with New and share it across goroutines; the
// per-channel breaker state is process-wide by design.
type Engine struct {
	adapters map[models.Channel]messaging.Adapter
	breakers map[models.Channel]*breaker.Breaker
	executor *retry.Executor
	audit    store.AuditRepo
	source   contacts.Source
	writer   *copywriter.Writer

	emailFallback  bool
	smsFallback    bool
	broadcastDelay time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

// Opts holds configuration options for the Engine.
type Opts struct {
	RetryConfig    models.RetryConfig
	BreakerConfig  models.BreakerConfig
	Adapters       []messaging.Adapter
	Audit          store.AuditRepo
	Contacts       contacts.Source
	Writer         *copywriter.Writer
	EmailFallback  bool
	SMSFallback    bool
	BroadcastDelay time.Duration
	Sleep          func(ctx context.Context, d time.Duration) error
}

// Option configures the Engine.
type Option func(*Opts)

// WithRetryConfig sets the retry configuration shared by all channels.
func WithRetryConfig(cfg models.RetryConfig) Option {
	return func(o *Opts) { o.RetryConfig = cfg }
}

// WithBreakerConfig sets the circuit breaker configuration shared by all channels.
func WithBreakerConfig(cfg models.BreakerConfig) Option {
	return func(o *Opts) { o.BreakerConfig = cfg }
}

// WithAdapter registers a channel adapter. Registering a second adapter for
// the same channel replaces the first.
func WithAdapter(a messaging.Adapter) Option {
	return func(o *Opts) { o.Adapters = append(o.Adapters, a) }
}

// WithAuditRepo sets the delivery audit log backend.
func WithAuditRepo(repo store.AuditRepo) Option {
	return func(o *Opts) { o.Audit = repo }
}

// WithContactSource sets the user contact lookup used by SendToUser and Broadcast.
func WithContactSource(src contacts.Source) Option {
	return func(o *Opts) { o.Contacts = src }
}

// WithCopywriter enables promo-copy personalization.
func WithCopywriter(w *copywriter.Writer) Option {
	return func(o *Opts) { o.Writer = w }
}

// WithEmailFallback toggles falling back to email when chat delivery fails.
func WithEmailFallback(enabled bool) Option {
	return func(o *Opts) { o.EmailFallback = enabled }
}

// WithSMSFallback toggles a final SMS attempt after both chat and email fail.
func WithSMSFallback(enabled bool) Option {
	return func(o *Opts) { o.SMSFallback = enabled }
}

// WithBroadcastDelay sets the fixed pause between broadcast recipients.
func WithBroadcastDelay(d time.Duration) Option {
	return func(o *Opts) { o.BroadcastDelay = d }
}

// WithSleep overrides the broadcast pause, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Opts) { o.Sleep = sleep }
}

// New creates an Engine. Fallback toggles default from the
// NOTIFY_ENABLE_EMAIL_FALLBACK (true) and NOTIFY_ENABLE_SMS_FALLBACK (false)
// environment variables; an Engine without an audit repo logs to memory.
func New(opts ...Option) *Engine {
	cfg := Opts{
		RetryConfig:    models.DefaultRetryConfig(),
		BreakerConfig:  models.DefaultBreakerConfig(),
		EmailFallback:  util.ParseBoolEnv("NOTIFY_ENABLE_EMAIL_FALLBACK", true),
		SMSFallback:    util.ParseBoolEnv("NOTIFY_ENABLE_SMS_FALLBACK", false),
		BroadcastDelay: DefaultBroadcastDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Audit == nil {
		cfg.Audit = store.NewInMemoryStore()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}

	e := &Engine{
		adapters:       make(map[models.Channel]messaging.Adapter),
		breakers:       make(map[models.Channel]*breaker.Breaker),
		executor:       retry.NewExecutor(cfg.RetryConfig),
		audit:          cfg.Audit,
		source:         cfg.Contacts,
		writer:         cfg.Writer,
		emailFallback:  cfg.EmailFallback,
		smsFallback:    cfg.SMSFallback,
		broadcastDelay: cfg.BroadcastDelay,
		sleep:          cfg.Sleep,
	}
	for _, a := range cfg.Adapters {
		e.adapters[a.Channel()] = a
		e.breakers[a.Channel()] = breaker.New(a.Channel(), cfg.BreakerConfig)
	}
	slog.Debug("orchestrator.New: engine initialized",
		"channels", len(e.adapters), "emailFallback", e.emailFallback, "smsFallback", e.smsFallback)
	return e
}

// channelOutcome is one channel's delivery attempt, including pre-send
// validation failures that never reached the provider.
type channelOutcome struct {
	channel models.Channel
	outcome retry.Outcome
}

func validationOutcome(ch models.Channel, err error) channelOutcome {
	return channelOutcome{
		channel: ch,
		outcome: retry.Outcome{
			Err:       err,
			ErrorKind: models.ErrorKindValidation,
			Retryable: false,
			Attempts:  0,
		},
	}
}

// attempt validates, formats, and sends on one channel under retry protection.
func (e *Engine) attempt(ctx context.Context, ch models.Channel, contact models.UserContactInfo, n models.Notification) channelOutcome {
	adapter, ok := e.adapters[ch]
	if !ok {
		return validationOutcome(ch, fmt.Errorf("no adapter registered for channel %s", ch))
	}
	addr, err := adapter.ValidateRecipient(contact)
	if err != nil {
		slog.Debug("recipient validation failed", "channel", ch, "error", err)
		return validationOutcome(ch, err)
	}
	content, err := adapter.Format(n, contact)
	if err != nil {
		return validationOutcome(ch, err)
	}

	outcome := e.executor.Do(ctx, e.breakers[ch], func(ctx context.Context) (string, error) {
		return adapter.Send(ctx, addr, content)
	}, string(ch)+" send", retry.Options{})
	return channelOutcome{channel: ch, outcome: outcome}
}

// alternateOf returns the cross-channel fallback for a preferred channel:
// the other of {whatsapp, email}. SMS has no implicit alternate.
func alternateOf(preferred models.Channel) models.Channel {
	switch preferred {
	case models.ChannelWhatsApp:
		return models.ChannelEmail
	case models.ChannelEmail:
		return models.ChannelWhatsApp
	default:
		return ""
	}
}

// fallbackAllowed reports whether the engine may fall back to ch.
func (e *Engine) fallbackAllowed(ch models.Channel) bool {
	switch ch {
	case models.ChannelEmail:
		return e.emailFallback
	case models.ChannelWhatsApp:
		return true
	case models.ChannelSMS:
		return e.smsFallback
	default:
		return false
	}
}

// SendNotification delivers n to the contact: preferred channel first, then
// the cross-channel alternate, then SMS when enabled. It always returns a
// structured result and never panics or aborts the caller's flow; audit
// write failures are logged, not propagated.
func (e *Engine) SendNotification(ctx context.Context, contact models.UserContactInfo, n models.Notification) models.CommunicationResult {
	if err := n.Validate(); err != nil {
		return models.CommunicationResult{
			Success:   false,
			Message:   err.Error(),
			ErrorKind: models.ErrorKindValidation,
		}
	}
	n = e.personalize(ctx, contact, n)

	preferred := contact.PreferredChannel
	if _, ok := e.adapters[preferred]; !ok || preferred == "" {
		preferred = models.ChannelWhatsApp
	}

	recordID := e.logInitiated(preferred, contact, n)

	first := e.attempt(ctx, preferred, contact, n)
	if first.outcome.Success {
		result := successResult(first, models.ResultMeta{ProviderMessageID: first.outcome.ProviderMessageID})
		e.logCompleted(recordID, result)
		return result
	}

	attempts := []channelOutcome{first}
	if alt := alternateOf(preferred); alt != "" && e.fallbackAllowed(alt) {
		second := e.attempt(ctx, alt, contact, n)
		attempts = append(attempts, second)
		if second.outcome.Success {
			result := fallbackResult(first, second)
			e.logCompleted(recordID, result)
			return result
		}
	}
	if e.smsFallback && preferred != models.ChannelSMS {
		third := e.attempt(ctx, models.ChannelSMS, contact, n)
		attempts = append(attempts, third)
		if third.outcome.Success {
			result := fallbackResult(first, third)
			e.logCompleted(recordID, result)
			return result
		}
	}

	result := failureResult(attempts)
	e.logCompleted(recordID, result)
	return result
}

// SendToUser resolves the user's contact record and delivers n.
func (e *Engine) SendToUser(ctx context.Context, userID string, n models.Notification) models.CommunicationResult {
	if e.source == nil {
		return models.CommunicationResult{
			Success:   false,
			Message:   "no contact source configured",
			ErrorKind: models.ErrorKindValidation,
		}
	}
	contact, err := e.source.GetContactInfo(ctx, userID)
	if err != nil {
		slog.Error("contact lookup failed", "userID", userID, "error", err)
		return models.CommunicationResult{
			Success:   false,
			Message:   fmt.Sprintf("contact lookup for user %s failed: %v", userID, err),
			ErrorKind: models.ErrorKindValidation,
		}
	}
	return e.SendNotification(ctx, *contact, n)
}

// SendOTP generates a one-time code, delivers it to the contact, and returns
// the code alongside the delivery result. Verification of the code is the
// caller's concern.
func (e *Engine) SendOTP(ctx context.Context, contact models.UserContactInfo) (string, models.CommunicationResult) {
	code, err := util.GenerateOTPCode(OTPCodeLength)
	if err != nil {
		return "", models.CommunicationResult{
			Success:   false,
			Message:   fmt.Sprintf("otp generation failed: %v", err),
			ErrorKind: models.ErrorKindUnknown,
		}
	}
	return code, e.SendNotification(ctx, contact, models.Notification{Kind: models.KindOTP, OTPCode: code})
}

// BroadcastSummary aggregates a bulk send. Results preserves the recipient
// input order.
type BroadcastSummary struct {
	Total      int                          `json:"total"`
	Successful int                          `json:"successful"`
	Failed     int                          `json:"failed"`
	Results    []models.CommunicationResult `json:"results"`
}

// Broadcast delivers n to every recipient sequentially with a fixed delay
// between sends, respecting per-channel rate limits. One recipient's failure
// never aborts the batch; cancellation marks the remaining recipients failed.
func (e *Engine) Broadcast(ctx context.Context, recipients []models.UserContactInfo, n models.Notification) BroadcastSummary {
	summary := BroadcastSummary{
		Total:   len(recipients),
		Results: make([]models.CommunicationResult, 0, len(recipients)),
	}
	cancelled := false
	for i, contact := range recipients {
		if !cancelled && i > 0 {
			if err := e.sleep(ctx, e.broadcastDelay); err != nil {
				cancelled = true
			}
		}
		if cancelled {
			summary.Results = append(summary.Results, models.CommunicationResult{
				Success:   false,
				Message:   "broadcast cancelled before this recipient",
				ErrorKind: models.ErrorKindUnknown,
			})
			summary.Failed++
			continue
		}

		result := e.SendNotification(ctx, contact, n)
		summary.Results = append(summary.Results, result)
		if result.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}
	slog.Info("broadcast finished", "total", summary.Total, "successful", summary.Successful, "failed", summary.Failed)
	return summary
}

// History returns the recent audit records for a recipient address.
func (e *Engine) History(recipient string, limit int) ([]models.MessageRecord, error) {
	return e.audit.GetMessageHistory(recipient, limit)
}

// personalize rewrites promo copy through the copywriter when one is
// configured. Failures inside the writer already fall back to static copy.
func (e *Engine) personalize(ctx context.Context, contact models.UserContactInfo, n models.Notification) models.Notification {
	if e.writer == nil || n.Kind != models.KindPromotion {
		return n
	}
	n.PromoBody = e.writer.PromoCopy(ctx, contact.Name, n.PromoBody)
	return n
}

func successResult(co channelOutcome, meta models.ResultMeta) models.CommunicationResult {
	return models.CommunicationResult{
		Channel:       co.channel,
		Success:       true,
		Message:       fmt.Sprintf("delivered via %s", co.channel),
		RetryCount:    co.outcome.RetryCount(),
		TotalAttempts: co.outcome.Attempts,
		Meta:          meta,
	}
}

func fallbackResult(failed, succeeded channelOutcome) models.CommunicationResult {
	result := successResult(succeeded, models.ResultMeta{
		ProviderMessageID:  succeeded.outcome.ProviderMessageID,
		FallbackFrom:       failed.channel,
		FailedChannelError: errString(failed.outcome.Err),
	})
	result.Message = fmt.Sprintf("delivered via %s after %s failed", succeeded.channel, failed.channel)
	result.TotalAttempts = failed.outcome.Attempts + succeeded.outcome.Attempts
	return result
}

func failureResult(attempts []channelOutcome) models.CommunicationResult {
	last := attempts[len(attempts)-1]
	meta := models.ResultMeta{
		FailedChannelError: errString(attempts[0].outcome.Err),
	}
	channels := make([]string, 0, len(attempts))
	total := 0
	// Report the classification of the last failure that reached a
	// provider; a fallback channel rejected on validation alone (missing
	// contact) should not mask why the real send failed.
	reported := last
	for _, co := range attempts {
		channels = append(channels, string(co.channel))
		total += co.outcome.Attempts
		if co.outcome.CircuitOpen {
			meta.CircuitOpen = true
		}
		if co.outcome.Attempts > 0 {
			reported = co
		}
	}
	if len(attempts) > 1 {
		meta.AlternateError = errString(last.outcome.Err)
	}

	message := fmt.Sprintf("delivery failed on %s", joinChannels(channels))
	return models.CommunicationResult{
		Success:       false,
		Message:       message,
		ErrorKind:     reported.outcome.ErrorKind,
		Retryable:     reported.outcome.Retryable,
		RetryCount:    reported.outcome.RetryCount(),
		TotalAttempts: total,
		Meta:          meta,
	}
}

func joinChannels(channels []string) string {
	switch len(channels) {
	case 0:
		return "all channels"
	case 1:
		return channels[0]
	default:
		out := channels[0]
		for _, ch := range channels[1:] {
			out += " and " + ch
		}
		return out
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// logInitiated creates the pending audit record for a send. Returns an empty
// ID when the write fails; completion logging then becomes a no-op.
func (e *Engine) logInitiated(ch models.Channel, contact models.UserContactInfo, n models.Notification) string {
	recipient := auditRecipient(ch, contact)
	rec, err := e.audit.LogMessage(models.MessageRecord{
		Recipient: recipient,
		Channel:   ch,
		Kind:      n.Kind,
		Content:   auditContent(n),
		Status:    models.MessageStatusPending,
	})
	if err != nil {
		slog.Error("audit log write failed", "recipient", recipient, "channel", ch, "error", err)
		return ""
	}
	return rec.ID
}

// logCompleted applies the single completion update for a send.
func (e *Engine) logCompleted(recordID string, result models.CommunicationResult) {
	if recordID == "" {
		return
	}
	status := completionStatus(result)
	update := models.MessageUpdate{
		Status:     &status,
		RetryCount: &result.RetryCount,
	}
	if result.RetryCount > 0 {
		now := time.Now()
		update.LastRetryAt = &now
	}
	if !result.Success {
		reason := result.Message
		if result.Meta.FailedChannelError != "" {
			reason = result.Meta.FailedChannelError
		}
		update.FailureReason = &reason
	} else if result.Meta.FallbackFrom != "" && result.Meta.FailedChannelError != "" {
		// Keep why the preferred channel failed even though delivery succeeded.
		update.FailureReason = &result.Meta.FailedChannelError
	}
	if result.Meta.ProviderMessageID != "" {
		update.ProviderResponse = &result.Meta.ProviderMessageID
	}
	if err := e.audit.UpdateMessage(recordID, update); err != nil {
		slog.Error("audit log update failed", "recordID", recordID, "error", err)
	}
}

func completionStatus(result models.CommunicationResult) models.MessageStatus {
	switch {
	case result.Success && result.Meta.FallbackFrom != "":
		return models.MessageStatusFallbackSent
	case result.Success:
		return models.MessageStatusSent
	case result.RetryCount > 0:
		return models.MessageStatusRetryFailed
	default:
		return models.MessageStatusFailed
	}
}

// auditRecipient picks a stable recipient identifier for the audit record.
func auditRecipient(ch models.Channel, contact models.UserContactInfo) string {
	switch ch {
	case models.ChannelEmail:
		if contact.Email != "" {
			return contact.Email
		}
	default:
		if contact.Phone != "" {
			if addr, err := messaging.NormalizePhone(contact.Phone, contact.CountryCode); err == nil {
				return addr
			}
			return contact.Phone
		}
	}
	if contact.Email != "" {
		return contact.Email
	}
	return contact.Name
}

// auditContent summarizes what was sent without persisting full bodies for
// sensitive kinds.
func auditContent(n models.Notification) string {
	if n.Kind == models.KindOTP {
		return "one-time verification code"
	}
	if n.Kind == models.KindPromotion {
		if n.PromoTitle != "" {
			return n.PromoTitle
		}
		return n.PromoBody
	}
	return string(n.Kind)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
