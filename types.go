package resetd

import (
	"context"
	"time"
)

// ResetMethod selects the delivery channel for a password reset.
type ResetMethod string

const (
	// MethodPhone delivers a 6-digit OTP over SMS and requires a verify step.
	MethodPhone ResetMethod = "PHONE"
	// MethodEmail delivers a reset link; confirmation uses the link token
	// directly, no OTP step is issued.
	MethodEmail ResetMethod = "EMAIL"
)

// UserRecord is the account view the engine needs from the directory.
type UserRecord struct {
	UserID string
	Phone  string
	Email  string
	Role   string
	Active bool
}

// UserDirectory resolves identifiers to accounts and commits the new
// credential. Implementations return ErrUserNotFound for unknown
// identifiers; inactive accounts are returned with Active=false so the
// workflow can distinguish them.
type UserDirectory interface {
	GetUserByPhone(ctx context.Context, phone string) (UserRecord, error)
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)

	// UpdateCredential stores the new password hash and touches the
	// last-login timestamp in one transaction.
	UpdateCredential(ctx context.Context, userID, passwordHash string, at time.Time) error
}

// SessionInvalidator terminates every live authentication session for a
// user. Called after a successful reset so stolen sessions die with the
// old password.
type SessionInvalidator interface {
	InvalidateAllForUser(ctx context.Context, userID string) error
}

// Notifier delivers reset material out of band. Both calls are
// fire-and-forget from the workflow's perspective: delivery failures are
// logged by the implementation and never block the reset request.
type Notifier interface {
	SendOTP(ctx context.Context, phone, otp string, expiresIn time.Duration)
	SendResetLink(ctx context.Context, email, token string, expiresIn time.Duration)
}

// ResetRequest starts a reset for one identifier. Exactly one of Phone or
// Email must be set, matching Method.
type ResetRequest struct {
	Phone  string
	Email  string
	Method ResetMethod
}

// ResetRequestResult is returned for known and unknown identifiers alike;
// the shapes are identical so callers cannot probe for account existence.
type ResetRequestResult struct {
	Method         ResetMethod
	Identifier     string
	ExpiresIn      int
	CanResendAfter int
}

// VerifyOTPResult carries the confirm token issued after a successful OTP
// check and the remaining session window in seconds.
type VerifyOTPResult struct {
	ConfirmToken string
	ExpiresIn    int
}

// ConfirmResult reports a completed reset.
type ConfirmResult struct {
	UserID                string
	ResetAt               time.Time
	AllSessionsTerminated bool
}

// StatusQuery locates a session for a read-only status report. Exactly one
// field should be set; Token wins when several are.
type StatusQuery struct {
	Token string
	Phone string
	Email string
}

// StatusResult describes an active session without exposing any of its
// secrets. AttemptsUsed counts failed OTP checks so far.
type StatusResult struct {
	Method       ResetMethod
	ExpiresIn    int
	OTPVerified  bool
	AttemptsUsed int
	CreatedAt    time.Time
}

// CancelResult reports a cancelled session.
type CancelResult struct {
	UserID      string
	CancelledAt time.Time
}
