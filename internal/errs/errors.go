package errs

import (
	"errors"
	"fmt"
)

// Sentinel failures for the resilient connections. Callers classify with
// errors.Is; neither carries per-call detail beyond the wrapping site.
var (
	// ErrConnection marks a broker or cache connection failure. The owning
	// component retries reconnection in the background; the failing call
	// itself is surfaced to the caller as transient.
	ErrConnection = errors.New("connection unavailable")

	// ErrTimeout marks a connection initialization that exceeded its
	// deadline. Callers treat it the same as ErrConnection.
	ErrTimeout = errors.New("connection initialization timed out")

	// ErrBusUnavailable is returned by publish/consume attempts while the
	// message bus connection is down. Fail fast, never block.
	ErrBusUnavailable = errors.New("message bus unavailable")

	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")

	// ErrDuplicateMessage is returned when an inbox row for a message id
	// already exists. The duplicate delivery must be acknowledged and
	// dropped, not reprocessed.
	ErrDuplicateMessage = errors.New("message already recorded in inbox")
)

// ClaimError reports a token whose claims cannot be extracted: unparseable,
// bad signature, or a required claim missing. It is permanent; retrying the
// same token can never succeed.
type ClaimError struct {
	Reason string
	Err    error
}

func (e *ClaimError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token claim extraction failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("token claim extraction failed: %s", e.Reason)
}

func (e *ClaimError) Unwrap() error { return e.Err }

// CacheError is the single error type crossing the token cache boundary.
// Every underlying failure (timeout, connection, claim extraction,
// unexpected) is wrapped into one of these with the cause preserved, so
// callers never depend on the store's own error taxonomy.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("token cache: %s: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// AuthError is the only error type that crosses into the external-facing
// layer. UserFault tells the caller whether the request itself was invalid
// (do not retry) or the failure was transient infrastructure (retry is safe).
type AuthError struct {
	Message   string
	UserFault bool
	Err       error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// UserFault wraps a client-caused failure: bad credentials, revoked or
// malformed token.
func UserFault(message string, cause error) *AuthError {
	return &AuthError{Message: message, UserFault: true, Err: cause}
}

// ServerFault wraps a transient infrastructure failure the client may retry.
func ServerFault(message string, cause error) *AuthError {
	return &AuthError{Message: message, UserFault: false, Err: cause}
}

// IsUserFault reports whether err is an AuthError caused by the client.
func IsUserFault(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.UserFault
}
