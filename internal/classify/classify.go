// Package classify maps raw provider failures to a closed set of error kinds
// and decides retry eligibility.
//
// Classification is a pure function over (status code, message text); it
// performs no I/O and holds no state.
package classify

import (
	"errors"
	"strconv"
	"strings"

	"github.com/garagedesk/notify/internal/models"
)

// Status code tables. Entries are matched as strings so both numeric HTTP
// statuses and provider-specific string codes resolve through one lookup.
var statusCodeKinds = map[string]models.ErrorKind{
	"400": models.ErrorKindValidation,
	"401": models.ErrorKindAuthentication,
	"403": models.ErrorKindPolicyViolation,
	"404": models.ErrorKindValidation,
	"408": models.ErrorKindNetwork,
	"413": models.ErrorKindValidation,
	"422": models.ErrorKindValidation,
	"429": models.ErrorKindRateLimit,
	"500": models.ErrorKindServiceUnavailable,
	"502": models.ErrorKindServiceUnavailable,
	"503": models.ErrorKindServiceUnavailable,
	"504": models.ErrorKindServiceUnavailable,
}

// Twilio-specific error codes that identify the failure more precisely than
// the HTTP status they arrive with.
var providerCodeKinds = map[string]models.ErrorKind{
	// invalid or unreachable recipient
	"21211": models.ErrorKindValidation, // invalid 'To' phone number
	"21408": models.ErrorKindValidation, // permission not enabled for region
	"21610": models.ErrorKindValidation, // recipient has opted out
	"21614": models.ErrorKindValidation, // 'To' is not a valid mobile number
	"63003": models.ErrorKindValidation, // channel could not find 'To' address
	"63013": models.ErrorKindPolicyViolation, // channel policy violation
	"63016": models.ErrorKindValidation, // free-form message outside session window
	// credentials
	"20003": models.ErrorKindAuthentication, // authenticate
	// throttling
	"20429": models.ErrorKindRateLimit,
	"63018": models.ErrorKindRateLimit, // channel rate limit exceeded
	// email provider
	"sender_identity_unverified": models.ErrorKindPolicyViolation,
}

// Message substring tables, matched against the lowered raw message in
// order. First match wins; more specific phrases come first.
var messageKinds = []struct {
	substr string
	kind   models.ErrorKind
}{
	{"rate limit", models.ErrorKindRateLimit},
	{"too many requests", models.ErrorKindRateLimit},
	{"quota exceeded", models.ErrorKindRateLimit},
	{"throttl", models.ErrorKindRateLimit},
	{"unauthorized", models.ErrorKindAuthentication},
	{"invalid api key", models.ErrorKindAuthentication},
	{"authenticate", models.ErrorKindAuthentication},
	{"auth", models.ErrorKindAuthentication},
	{"forbidden", models.ErrorKindPolicyViolation},
	{"policy", models.ErrorKindPolicyViolation},
	{"does not match a verified sender", models.ErrorKindPolicyViolation},
	{"service unavailable", models.ErrorKindServiceUnavailable},
	{"internal server error", models.ErrorKindServiceUnavailable},
	{"bad gateway", models.ErrorKindServiceUnavailable},
	{"timeout", models.ErrorKindServiceUnavailable},
	{"timed out", models.ErrorKindServiceUnavailable},
	{"network", models.ErrorKindNetwork},
	{"connection", models.ErrorKindNetwork},
	{"dns", models.ErrorKindNetwork},
	{"no such host", models.ErrorKindNetwork},
	{"invalid", models.ErrorKindValidation},
	{"not a valid", models.ErrorKindValidation},
	{"missing required", models.ErrorKindValidation},
}

// nonRetryableCodes are channel-specific provider codes that must never be
// retried even when their generic kind (unknown, rate_limit) would suggest
// otherwise. Retrying an opted-out or nonexistent recipient only burns quota.
var nonRetryableCodes = map[string]bool{
	"21211": true,
	"21408": true,
	"21610": true,
	"21614": true,
	"63003": true,
	"63016": true,
}

// Classify maps a raw provider error shape to an ErrorKind. statusCode may
// be an HTTP status ("503"), a provider code ("21211"), or empty; rawMessage
// is the provider's message text, possibly empty.
func Classify(statusCode, rawMessage string) models.ErrorKind {
	code := strings.TrimSpace(statusCode)
	if code != "" {
		if kind, ok := providerCodeKinds[code]; ok {
			return kind
		}
		if kind, ok := statusCodeKinds[code]; ok {
			return kind
		}
	}

	lower := strings.ToLower(rawMessage)
	for _, entry := range messageKinds {
		if strings.Contains(lower, entry.substr) {
			return entry.kind
		}
	}

	return models.ErrorKindUnknown
}

// IsRetryable reports whether a failure of the given kind and provider code
// may be retried. Validation, authentication, and policy violations are
// never retryable; the remaining kinds are retryable unless the code appears
// in the channel-specific non-retryable set.
func IsRetryable(kind models.ErrorKind, code string) bool {
	switch kind {
	case models.ErrorKindValidation, models.ErrorKindAuthentication, models.ErrorKindPolicyViolation:
		return false
	}
	if nonRetryableCodes[strings.TrimSpace(code)] {
		return false
	}
	return true
}

// ClassifyError extracts classification inputs from an error value. A
// *models.ProviderError contributes its code (preferred) or status; other
// errors classify on message text alone.
func ClassifyError(err error) (kind models.ErrorKind, retryable bool) {
	if err == nil {
		return models.ErrorKindUnknown, true
	}

	var code, message string
	var pe *models.ProviderError
	if errors.As(err, &pe) {
		code = pe.Code
		if code == "" && pe.StatusCode != 0 {
			code = strconv.Itoa(pe.StatusCode)
		}
		message = pe.Message
		if message == "" {
			message = err.Error()
		}
	} else {
		message = err.Error()
	}

	kind = Classify(code, message)
	return kind, IsRetryable(kind, code)
}
