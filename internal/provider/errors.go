package provider

import "strings"

// classifyHTTPError applies the shared heuristics from SPEC_FULL.md §4.2 to
// an HTTP status + body, producing one normalized ProviderErrorClass.
// Individual adapters may layer additional hints (e.g. Anthropic enriching
// auth errors with an x-api-key mention) on top of this base classification.
func classifyHTTPError(status int, body string) ProviderErrorClass {
	lower := strings.ToLower(body)

	switch {
	case status == 401, strings.Contains(lower, "unauthorized"), strings.Contains(lower, "invalid api key"):
		return ErrAuth
	case status == 402, strings.Contains(lower, "billing"), strings.Contains(lower, "payment"), strings.Contains(lower, "insufficient"):
		return ErrBilling
	case status == 429, strings.Contains(lower, "rate limit"):
		return ErrRateLimit
	case status >= 500, strings.Contains(lower, "unavailable"), strings.Contains(lower, "overloaded"):
		return ErrServer
	default:
		return ErrUnknown
	}
}

func newProviderError(status int, body []byte) *ProviderError {
	b := string(body)
	return &ProviderError{
		Class:   classifyHTTPError(status, b),
		Message: b,
	}
}

// classifyTransportError maps a transport-level Go error (not an HTTP
// response) to network vs timeout.
func classifyTransportError(err error) ProviderErrorClass {
	if err == nil {
		return ErrUnknown
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout") {
		return ErrTimeout
	}
	return ErrNetwork
}
