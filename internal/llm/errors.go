package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredential is returned before any request is made when no
	// API credential is configured.
	ErrMissingCredential = errors.New("missing API credential")

	// ErrUnauthorized matches any *AuthError via errors.Is.
	ErrUnauthorized = errors.New("unauthorized")
)

// AuthError is returned on HTTP 401 and 403.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (HTTP %d): %s", e.Status, e.Message)
}

func (e *AuthError) Is(target error) bool {
	return target == ErrUnauthorized
}

// rateLimitError is returned by a single attempt on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

// RateLimitError is returned once every backoff attempt hit HTTP 429.
type RateLimitError struct {
	Attempts int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited after %d retries", e.Attempts)
}

// NetworkError wraps a transport-level failure (DNS, refused connection,
// reset, timeout) where no HTTP response was received.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// StatusError is any other non-2xx response.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Message)
}

// IsNetwork reports whether err is a transport-level failure.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsRateLimit reports whether err is an exhausted rate limit.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}
