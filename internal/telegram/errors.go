package telegram

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoAvatar is returned by OpenAvatar when the user has no profile
// image or the source cannot serve one.
var ErrNoAvatar = errors.New("telegram: no avatar")

// ErrNoMedia is returned when an attachment has no downloadable content
// or thumbnail.
var ErrNoMedia = errors.New("telegram: no downloadable media")

// RateLimitedError reports a server-imposed wait before the next call.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// AuthError reports invalid or expired credentials. Runs cannot proceed
// past it.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}
