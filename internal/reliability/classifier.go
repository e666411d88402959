package reliability

import (
	"strings"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsExpectedClosure reports whether a capability error message is an
// artifact of an orderly or in-progress shutdown rather than a failure worth
// surfacing. Matching is on message text because the backend delivers errors
// as opaque strings.
func IsExpectedClosure(msg string) bool {
	m := strings.ToLower(msg)
	for _, marker := range []string{
		"normal closure",
		"going away",
		"use of closed network connection",
		"connection reset by peer",
		"websocket: close sent",
	} {
		if strings.Contains(m, marker) {
			return true
		}
	}
	return false
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
