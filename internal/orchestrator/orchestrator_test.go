package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/garagedesk/notify/internal/contacts"
	"github.com/garagedesk/notify/internal/email"
	"github.com/garagedesk/notify/internal/messaging"
	"github.com/garagedesk/notify/internal/models"
	"github.com/garagedesk/notify/internal/store"
	"github.com/garagedesk/notify/internal/twilioapi"
)

var fastRetry = models.RetryConfig{
	InitialDelay:      time.Millisecond,
	MaxDelay:          5 * time.Millisecond,
	MaxRetries:        2,
	BackoffMultiplier: 2.0,
}

func fullContact() models.UserContactInfo {
	return models.UserContactInfo{
		Email:            "alice@example.com",
		Phone:            "9876543210",
		CountryCode:      "+91",
		PreferredChannel: models.ChannelWhatsApp,
		Name:             "Alice",
	}
}

func statusNotification() models.Notification {
	return models.Notification{Kind: models.KindStatusUpdate, Status: "ready for pickup", VehicleDesc: "VW Golf"}
}

func newTestEngine(chat *twilioapi.MockClient, mail *email.MockClient, opts ...Option) (*Engine, *store.InMemoryStore) {
	audit := store.NewInMemoryStore()
	base := []Option{
		WithRetryConfig(fastRetry),
		WithAdapter(messaging.NewWhatsAppAdapter(chat)),
		WithAdapter(messaging.NewSMSAdapter(chat)),
		WithAdapter(messaging.NewEmailAdapter(mail, "garage@example.com")),
		WithAuditRepo(audit),
		WithEmailFallback(true),
		WithSMSFallback(false),
	}
	return New(append(base, opts...)...), audit
}

func TestSendNotificationPreferredSucceeds(t *testing.T) {
	chat := &twilioapi.MockClient{}
	mail := &email.MockClient{}
	engine, audit := newTestEngine(chat, mail)

	result := engine.SendNotification(context.Background(), fullContact(), statusNotification())
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Channel != models.ChannelWhatsApp {
		t.Errorf("expected whatsapp channel, got %q", result.Channel)
	}
	if result.Meta.FallbackFrom != "" {
		t.Errorf("expected no fallback, got %q", result.Meta.FallbackFrom)
	}
	if result.TotalAttempts != 1 || result.RetryCount != 0 {
		t.Errorf("expected single attempt, got attempts=%d retries=%d", result.TotalAttempts, result.RetryCount)
	}
	if len(mail.Sent) != 0 {
		t.Errorf("email should not be touched, sent %d", len(mail.Sent))
	}

	records, err := audit.GetMessageHistory("919876543210", 10)
	if err != nil {
		t.Fatalf("GetMessageHistory error: %v", err)
	}
	if len(records) != 1 || records[0].Status != models.MessageStatusSent {
		t.Errorf("expected one sent record, got %+v", records)
	}
}

func TestSendNotificationFallsBackToEmail(t *testing.T) {
	chat := &twilioapi.MockClient{
		WhatsAppErr: &models.ProviderError{Channel: models.ChannelWhatsApp, StatusCode: 400, Code: "21211", Message: "invalid 'To' phone number"},
	}
	mail := &email.MockClient{}
	engine, audit := newTestEngine(chat, mail)

	result := engine.SendNotification(context.Background(), fullContact(), statusNotification())
	if !result.Success {
		t.Fatalf("expected fallback success, got %+v", result)
	}
	if result.Channel != models.ChannelEmail {
		t.Errorf("expected email channel, got %q", result.Channel)
	}
	if result.Meta.FallbackFrom != models.ChannelWhatsApp {
		t.Errorf("expected fallback from whatsapp, got %q", result.Meta.FallbackFrom)
	}
	if result.Meta.FailedChannelError == "" {
		t.Error("expected original failure reason in metadata")
	}
	// Non-retryable chat error means exactly one chat attempt plus one email attempt.
	if result.TotalAttempts != 2 {
		t.Errorf("expected 2 total attempts, got %d", result.TotalAttempts)
	}
	if len(mail.Sent) != 1 {
		t.Errorf("expected 1 email sent, got %d", len(mail.Sent))
	}

	records, err := audit.GetMessageHistory("919876543210", 10)
	if err != nil {
		t.Fatalf("GetMessageHistory error: %v", err)
	}
	if len(records) != 1 || records[0].Status != models.MessageStatusFallbackSent {
		t.Errorf("expected fallback_sent record, got %+v", records)
	}
}

func TestSendNotificationBothChannelsFail(t *testing.T) {
	chat := &twilioapi.MockClient{
		WhatsAppErr: &models.ProviderError{Channel: models.ChannelWhatsApp, StatusCode: 503, Message: "service unavailable"},
	}
	mail := &email.MockClient{
		Errs: []error{&models.ProviderError{Channel: models.ChannelEmail, StatusCode: 401, Message: "unauthorized"}},
	}
	engine, audit := newTestEngine(chat, mail)

	result := engine.SendNotification(context.Background(), fullContact(), statusNotification())
	if result.Success {
		t.Fatalf("expected failure, got %+v", result)
	}
	if result.Channel != "" {
		t.Errorf("expected no channel on total failure, got %q", result.Channel)
	}
	if !strings.Contains(result.Message, "whatsapp") || !strings.Contains(result.Message, "email") {
		t.Errorf("expected message naming both channels, got %q", result.Message)
	}
	if result.Meta.FailedChannelError == "" || result.Meta.AlternateError == "" {
		t.Errorf("expected both errors in metadata, got %+v", result.Meta)
	}
	// Retryable chat error exhausts retries: maxRetries+1 chat attempts plus
	// one non-retryable email attempt.
	if result.TotalAttempts != fastRetry.MaxRetries+2 {
		t.Errorf("expected %d total attempts, got %d", fastRetry.MaxRetries+2, result.TotalAttempts)
	}

	records, err := audit.GetMessageHistory("919876543210", 10)
	if err != nil {
		t.Fatalf("GetMessageHistory error: %v", err)
	}
	if len(records) != 1 || records[0].FailureReason == "" {
		t.Errorf("expected failed record with reason, got %+v", records)
	}
}

func TestSendNotificationNoAlternateContact(t *testing.T) {
	chat := &twilioapi.MockClient{
		WhatsAppErr: &models.ProviderError{Channel: models.ChannelWhatsApp, StatusCode: 503, Message: "service unavailable"},
	}
	engine, _ := newTestEngine(chat, &email.MockClient{})

	contact := fullContact()
	contact.Email = ""
	result := engine.SendNotification(context.Background(), contact, statusNotification())
	if result.Success {
		t.Fatalf("expected failure, got %+v", result)
	}
	// The email attempt died on validation; the reported kind is the chat failure's.
	if result.ErrorKind != models.ErrorKindServiceUnavailable {
		t.Errorf("expected service_unavailable kind, got %q", result.ErrorKind)
	}
	if result.Meta.AlternateError == "" {
		t.Error("expected the missing-contact failure in metadata")
	}
}

func TestSendNotificationMissingPreferredContact(t *testing.T) {
	chat := &twilioapi.MockClient{}
	mail := &email.MockClient{}
	engine, _ := newTestEngine(chat, mail)

	contact := fullContact()
	contact.Phone = ""
	result := engine.SendNotification(context.Background(), contact, statusNotification())
	if !result.Success {
		t.Fatalf("expected email fallback success, got %+v", result)
	}
	if result.Channel != models.ChannelEmail || result.Meta.FallbackFrom != models.ChannelWhatsApp {
		t.Errorf("unexpected result %+v", result)
	}
	if len(chat.SentWhatsApp) != 0 {
		t.Errorf("no chat send should happen without a phone, got %d", len(chat.SentWhatsApp))
	}
	// Missing contact never reaches the provider, so only the email attempt counts.
	if result.TotalAttempts != 1 {
		t.Errorf("expected 1 total attempt, got %d", result.TotalAttempts)
	}
}

func TestSendNotificationEmailFallbackDisabled(t *testing.T) {
	chat := &twilioapi.MockClient{
		WhatsAppErr: &models.ProviderError{Channel: models.ChannelWhatsApp, StatusCode: 400, Code: "21211", Message: "bad number"},
	}
	mail := &email.MockClient{}
	engine, _ := newTestEngine(chat, mail, WithEmailFallback(false))

	result := engine.SendNotification(context.Background(), fullContact(), statusNotification())
	if result.Success {
		t.Fatalf("expected failure, got %+v", result)
	}
	if len(mail.Sent) != 0 {
		t.Errorf("email fallback disabled but %d emails sent", len(mail.Sent))
	}
}

func TestSendNotificationSMSFallback(t *testing.T) {
	chat := &twilioapi.MockClient{
		WhatsAppErr: &models.ProviderError{Channel: models.ChannelWhatsApp, StatusCode: 400, Code: "21211", Message: "bad number"},
	}
	mail := &email.MockClient{
		Errs: []error{&models.ProviderError{Channel: models.ChannelEmail, StatusCode: 401, Message: "unauthorized"}},
	}
	engine, _ := newTestEngine(chat, mail, WithSMSFallback(true))

	result := engine.SendNotification(context.Background(), fullContact(), statusNotification())
	if !result.Success {
		t.Fatalf("expected sms fallback success, got %+v", result)
	}
	if result.Channel != models.ChannelSMS {
		t.Errorf("expected sms channel, got %q", result.Channel)
	}
	if len(chat.SentSMS) != 1 {
		t.Errorf("expected 1 sms sent, got %d", len(chat.SentSMS))
	}
}

func TestSendNotificationCircuitOpen(t *testing.T) {
	chat := &twilioapi.MockClient{
		WhatsAppErr: &models.ProviderError{Channel: models.ChannelWhatsApp, StatusCode: 400, Code: "21211", Message: "bad number"},
	}
	engine, _ := newTestEngine(chat, &email.MockClient{},
		WithEmailFallback(false),
		WithBreakerConfig(models.BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour}),
	)

	first := engine.SendNotification(context.Background(), fullContact(), statusNotification())
	if first.Success || first.Meta.CircuitOpen {
		t.Fatalf("first send should fail normally, got %+v", first)
	}

	second := engine.SendNotification(context.Background(), fullContact(), statusNotification())
	if second.Success {
		t.Fatalf("expected failure, got %+v", second)
	}
	if !second.Meta.CircuitOpen {
		t.Errorf("expected circuit-open flag, got %+v", second.Meta)
	}
	if second.TotalAttempts != 0 {
		t.Errorf("open breaker must reject before any attempt, got %d", second.TotalAttempts)
	}
}

func TestSendNotificationInvalidKind(t *testing.T) {
	engine, _ := newTestEngine(&twilioapi.MockClient{}, &email.MockClient{})
	result := engine.SendNotification(context.Background(), fullContact(), models.Notification{Kind: "carrier_pigeon"})
	if result.Success || result.ErrorKind != models.ErrorKindValidation {
		t.Errorf("expected validation failure, got %+v", result)
	}
}

func TestSendToUser(t *testing.T) {
	src := contacts.NewStaticSource(map[string]models.UserContactInfo{"user-1": fullContact()})
	engine, _ := newTestEngine(&twilioapi.MockClient{}, &email.MockClient{}, WithContactSource(src))

	result := engine.SendToUser(context.Background(), "user-1", statusNotification())
	if !result.Success {
		t.Errorf("expected success, got %+v", result)
	}

	missing := engine.SendToUser(context.Background(), "user-404", statusNotification())
	if missing.Success || missing.ErrorKind != models.ErrorKindValidation {
		t.Errorf("expected validation failure for unknown user, got %+v", missing)
	}
}

func TestSendOTP(t *testing.T) {
	chat := &twilioapi.MockClient{}
	engine, _ := newTestEngine(chat, &email.MockClient{})

	code, result := engine.SendOTP(context.Background(), fullContact())
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(code) != OTPCodeLength {
		t.Errorf("expected %d-digit code, got %q", OTPCodeLength, code)
	}
	if len(chat.SentWhatsApp) != 1 || !strings.Contains(chat.SentWhatsApp[0].Body, code) {
		t.Errorf("expected code in sent body, got %+v", chat.SentWhatsApp)
	}
}

func TestBroadcastPartialFailure(t *testing.T) {
	chat := &twilioapi.MockClient{}
	mail := &email.MockClient{}
	var delays int
	engine, _ := newTestEngine(chat, mail, WithSleep(func(ctx context.Context, d time.Duration) error {
		delays++
		return nil
	}))

	recipients := make([]models.UserContactInfo, 5)
	for i := range recipients {
		recipients[i] = fullContact()
	}
	// Recipient #3 has no usable contact on any channel.
	recipients[2] = models.UserContactInfo{Name: "Ghost", PreferredChannel: models.ChannelWhatsApp}

	summary := engine.Broadcast(context.Background(), recipients, models.Notification{
		Kind:      models.KindPromotion,
		PromoBody: "Free brake check this week. Book online.",
	})
	if summary.Total != 5 || summary.Successful != 4 || summary.Failed != 1 {
		t.Fatalf("expected total=5 successful=4 failed=1, got %+v", summary)
	}
	if len(summary.Results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(summary.Results))
	}
	for i, r := range summary.Results {
		wantSuccess := i != 2
		if r.Success != wantSuccess {
			t.Errorf("result %d: success=%v, want %v", i, r.Success, wantSuccess)
		}
	}
	if delays != 4 {
		t.Errorf("expected 4 inter-recipient delays, got %d", delays)
	}
}

func TestBroadcastCancellation(t *testing.T) {
	chat := &twilioapi.MockClient{}
	engine, _ := newTestEngine(chat, &email.MockClient{}, WithSleep(func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}))

	recipients := []models.UserContactInfo{fullContact(), fullContact(), fullContact()}
	summary := engine.Broadcast(context.Background(), recipients, models.Notification{
		Kind:      models.KindPromotion,
		PromoBody: "Offer.",
	})
	if summary.Total != 3 || summary.Successful != 1 || summary.Failed != 2 {
		t.Errorf("expected first recipient only, got %+v", summary)
	}
}
