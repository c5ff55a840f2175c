package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// ErrPermissionDenied reports that the destination refuses posts from us.
// The destination is NOT auto-disabled; re-enabling rights is an explicit
// operator action.
var ErrPermissionDenied = errors.New("no permission to post")

// RateLimitedError is returned when the destination asks us to back off.
// The wait is honored by simply leaving the destination for the next
// natural trigger; nothing retries within the cycle.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// RateLimited wraps err with a backoff hint.
func RateLimited(err error, after time.Duration) error {
	if after < 0 {
		after = 0
	}
	return &RateLimitedError{RetryAfter: after, Err: err}
}

// Describe turns a dispatch outcome into the human-readable form recorded
// in the delivery log.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return fmt.Sprintf("Flood wait: %d seconds", int(rl.RetryAfter.Seconds()))
	}
	if errors.Is(err, ErrPermissionDenied) {
		return "No permission to post in group"
	}
	return err.Error()
}
