package instagram

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var ErrInvalidToken = errors.New("instagram: access token rejected")

// RateLimitError is returned when the API throttles the caller.
// RetryAfter is zero when the response carried no hint.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("instagram: rate limited, retry after %s: %s", e.RetryAfter, e.Message)
	}
	return "instagram: rate limited: " + e.Message
}

type APIError struct {
	StatusCode int
	Code       int
	Subcode    int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("instagram: %s (status %d, code %d)", e.Message, e.StatusCode, e.Code)
}

// IsRateLimit returns the RetryAfter hint of a rate-limit error anywhere in err's chain.
func IsRateLimit(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

type graphErrorResponse struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		IsTransient  bool   `json:"is_transient"`
		FbtraceID    string `json:"fbtrace_id"`
	} `json:"error"`
}

// Graph error codes that signal throttling at the app, user or page level.
var rateLimitCodes = map[int]bool{4: true, 17: true, 32: true, 613: true}

const codeInvalidToken = 190

func classify(status int, header http.Header, body graphErrorResponse, raw []byte) error {
	msg := body.Error.Message
	if msg == "" {
		msg = string(raw)
	}

	switch {
	case status == http.StatusTooManyRequests || rateLimitCodes[body.Error.Code]:
		return &RateLimitError{RetryAfter: parseRetryAfter(header.Get("Retry-After")), Message: msg}
	case status == http.StatusUnauthorized || body.Error.Code == codeInvalidToken:
		return fmt.Errorf("%w: %s", ErrInvalidToken, msg)
	}

	return &APIError{
		StatusCode: status,
		Code:       body.Error.Code,
		Subcode:    body.Error.ErrorSubcode,
		Type:       body.Error.Type,
		Message:    msg,
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
