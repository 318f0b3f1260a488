package resetd

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEngineNotReady is returned when a method is called on an engine that
	// was not fully built.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrValidation is the sentinel matched by all input validation failures.
	ErrValidation = errors.New("validation failed")
	// ErrRateLimited is the sentinel matched by reset-request throttling.
	ErrRateLimited = errors.New("reset request rate limited")
	// ErrUserNotFound is returned when an identifier resolves to no account.
	ErrUserNotFound = errors.New("user not found")
	// ErrAccountInactive is returned when the account exists but is disabled.
	ErrAccountInactive = errors.New("account inactive")
	// ErrSessionNotFound is returned when no reset session exists for the user.
	ErrSessionNotFound = errors.New("reset session not found")
	// ErrSessionExpired is returned when the reset session outlived its window.
	ErrSessionExpired = errors.New("reset session expired")
	// ErrInvalidOTP is the sentinel matched by OTP mismatches.
	ErrInvalidOTP = errors.New("invalid otp")
	// ErrTooManyAttempts is returned once the OTP attempt budget is exhausted.
	// The session is gone; the user must restart from a new request.
	ErrTooManyAttempts = errors.New("otp attempts exceeded")
	// ErrOTPRequired is returned when confirm is attempted on a phone session
	// before its OTP was verified.
	ErrOTPRequired = errors.New("otp verification required")
	// ErrInvalidToken is returned when a reset or confirm token matches no
	// live session.
	ErrInvalidToken = errors.New("invalid reset token")
	// ErrPasswordPolicy is returned when the new password fails the policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordMismatch is returned when the confirmation password differs.
	ErrPasswordMismatch = errors.New("password confirmation mismatch")
	// ErrResetUnavailable is returned for store or network failures. It is
	// deliberately opaque; details stay in logs and audit events.
	ErrResetUnavailable = errors.New("reset backend unavailable")
	// ErrCredentialUpdateFailed is returned when the directory rejects the
	// password write. The reset session is kept so the user can retry.
	ErrCredentialUpdateFailed = errors.New("credential update failed")
	// ErrSessionInvalidationFailed is returned when terminating the user's
	// auth sessions after a successful reset fails.
	ErrSessionInvalidationFailed = errors.New("session invalidation failed")
)

// RateLimitedError carries the wait hint for a throttled reset request.
// It matches ErrRateLimited under errors.Is.
type RateLimitedError struct {
	RetryAfter time.Duration
	Attempts   int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("reset request rate limited: retry after %ds", int(e.RetryAfter.Seconds()))
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// InvalidOTPError carries the remaining attempt budget after an OTP mismatch.
// It matches ErrInvalidOTP under errors.Is.
type InvalidOTPError struct {
	AttemptsRemaining int
}

func (e *InvalidOTPError) Error() string {
	return fmt.Sprintf("invalid otp: %d attempts remaining", e.AttemptsRemaining)
}

func (e *InvalidOTPError) Is(target error) bool {
	return target == ErrInvalidOTP
}

// ValidationError names the rejected field. Validation runs before any store
// access, so a ValidationError guarantees no state was touched.
// It matches ErrValidation under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
