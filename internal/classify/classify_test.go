package classify

import (
	"errors"
	"fmt"
	"testing"

	"github.com/garagedesk/notify/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		message string
		want    models.ErrorKind
	}{
		{"http 401", "401", "", models.ErrorKindAuthentication},
		{"http 429", "429", "", models.ErrorKindRateLimit},
		{"http 400", "400", "", models.ErrorKindValidation},
		{"http 403", "403", "", models.ErrorKindPolicyViolation},
		{"http 500", "500", "", models.ErrorKindServiceUnavailable},
		{"http 503", "503", "", models.ErrorKindServiceUnavailable},
		{"twilio invalid recipient", "21211", "the 'To' number is not a valid phone number", models.ErrorKindValidation},
		{"twilio opted out", "21610", "", models.ErrorKindValidation},
		{"twilio auth", "20003", "", models.ErrorKindAuthentication},
		{"twilio channel policy", "63013", "", models.ErrorKindPolicyViolation},
		{"twilio channel rate limit", "63018", "", models.ErrorKindRateLimit},
		{"message rate limit", "", "Rate limit exceeded, retry later", models.ErrorKindRateLimit},
		{"message auth", "", "could not authenticate request", models.ErrorKindAuthentication},
		{"message forbidden", "", "forbidden", models.ErrorKindPolicyViolation},
		{"message verified sender", "", "the from address does not match a verified sender identity", models.ErrorKindPolicyViolation},
		{"message network", "", "network unreachable", models.ErrorKindNetwork},
		{"message connection", "", "connection refused", models.ErrorKindNetwork},
		{"message dns", "", "dns lookup failed", models.ErrorKindNetwork},
		{"message timeout", "", "request timed out", models.ErrorKindServiceUnavailable},
		{"message invalid", "", "invalid recipient address", models.ErrorKindValidation},
		{"provider code beats http status", "21211", "some text", models.ErrorKindValidation},
		{"empty everything", "", "", models.ErrorKindUnknown},
		{"unrecognized", "799", "gremlins", models.ErrorKindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.code, tt.message); got != tt.want {
				t.Errorf("Classify(%q, %q) = %v, want %v", tt.code, tt.message, got, tt.want)
			}
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	// Identical inputs must yield identical output on repeated calls.
	for i := 0; i < 3; i++ {
		if got := Classify("429", "rate limit"); got != models.ErrorKindRateLimit {
			t.Fatalf("call %d: Classify changed its answer: %v", i, got)
		}
		if got := IsRetryable(models.ErrorKindUnknown, "21211"); got {
			t.Fatalf("call %d: IsRetryable changed its answer", i)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		kind models.ErrorKind
		code string
		want bool
	}{
		{models.ErrorKindValidation, "", false},
		{models.ErrorKindAuthentication, "", false},
		{models.ErrorKindPolicyViolation, "", false},
		{models.ErrorKindRateLimit, "", true},
		{models.ErrorKindServiceUnavailable, "", true},
		{models.ErrorKindNetwork, "", true},
		{models.ErrorKindUnknown, "", true},
		// channel-specific overrides: codes outrank the generic verdict
		{models.ErrorKindUnknown, "21211", false},
		{models.ErrorKindRateLimit, "21610", false},
		{models.ErrorKindUnknown, "63003", false},
		{models.ErrorKindServiceUnavailable, "99999", true},
	}

	for _, tt := range tests {
		name := fmt.Sprintf("%s/%s", tt.kind, tt.code)
		t.Run(name, func(t *testing.T) {
			if got := IsRetryable(tt.kind, tt.code); got != tt.want {
				t.Errorf("IsRetryable(%v, %q) = %v, want %v", tt.kind, tt.code, got, tt.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	pe := &models.ProviderError{Channel: models.ChannelWhatsApp, StatusCode: 400, Code: "21211", Message: "invalid 'To' phone number"}
	kind, retryable := ClassifyError(pe)
	if kind != models.ErrorKindValidation || retryable {
		t.Errorf("ClassifyError(provider) = (%v, %v), want (validation, false)", kind, retryable)
	}

	wrapped := fmt.Errorf("send failed: %w", &models.ProviderError{Channel: models.ChannelEmail, StatusCode: 503, Message: "service unavailable"})
	kind, retryable = ClassifyError(wrapped)
	if kind != models.ErrorKindServiceUnavailable || !retryable {
		t.Errorf("ClassifyError(wrapped) = (%v, %v), want (service_unavailable, true)", kind, retryable)
	}

	kind, retryable = ClassifyError(errors.New("dial tcp: connection refused"))
	if kind != models.ErrorKindNetwork || !retryable {
		t.Errorf("ClassifyError(plain) = (%v, %v), want (network, true)", kind, retryable)
	}

	kind, retryable = ClassifyError(errors.New("mystery"))
	if kind != models.ErrorKindUnknown || !retryable {
		t.Errorf("ClassifyError(unknown) = (%v, %v), want (unknown, true)", kind, retryable)
	}
}
