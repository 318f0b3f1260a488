package flows

import (
	"context"
	"errors"
	"time"
)

// Method values mirrored from the public API so this package stays free of
// a resetd import.
const (
	MethodPhone = "PHONE"
	MethodEmail = "EMAIL"
)

type ResetUser struct {
	UserID string
	Phone  string
	Email  string
	Role   string
	Active bool
}

type ResetSessionRecord struct {
	UserID       string
	Method       string
	ResetToken   string
	ConfirmToken string
	OTP          string
	OTPVerified  bool
	Attempts     uint16
	CreatedAt    int64
	ExpiresAt    int64
}

type RateDecision struct {
	Allowed    bool
	RetryAfter time.Duration
	Attempts   int
}

type ResetEvents struct {
	Request   string
	OTPVerify string
	Confirm   string
	Cancel    string
}

// ResetMetrics carries counter identifiers so this package can count
// outcomes without importing the engine's MetricID type.
type ResetMetrics struct {
	Request            int
	RequestRateLimited int
	OTPVerifySuccess   int
	OTPVerifyFailure   int
	AttemptsExceeded   int
	ConfirmSuccess     int
	ConfirmFailure     int
	Cancelled          int
}

type ResetErrors struct {
	EngineNotReady            error
	RateLimited               error
	UserNotFound              error
	AccountInactive           error
	SessionNotFound           error
	SessionExpired            error
	InvalidOTP                error
	TooManyAttempts           error
	OTPRequired               error
	InvalidToken              error
	Unavailable               error
	CredentialUpdateFailed    error
	SessionInvalidationFailed error
}

type ResetDeps struct {
	SessionTTL     time.Duration
	ResendAfter    time.Duration
	OTPDigits      int
	MaxOTPAttempts int

	Now func() time.Time

	CheckRequestLimit func(context.Context, string, string) (RateDecision, error)
	RecordRequest     func(context.Context, string, string) error
	MapLimiterError   func(error) error
	RateLimitedErr    func(time.Duration, int) error
	InvalidOTPErr     func(int) error

	GetUserByPhone func(context.Context, string) (ResetUser, error)
	GetUserByEmail func(context.Context, string) (ResetUser, error)
	GetUserByID    func(context.Context, string) (ResetUser, error)
	IsUserNotFound func(error) bool

	NewResetToken         func() string
	NewOTP                func(int) (string, error)
	SleepEnumerationDelay func(context.Context) error

	PutSession        func(context.Context, ResetSessionRecord, time.Duration) error
	GetSessionByUser  func(context.Context, string) (ResetSessionRecord, error)
	GetSessionByToken func(context.Context, string) (ResetSessionRecord, error)
	DeleteSession      func(context.Context, string) error
	FailOTPAttempt     func(context.Context, string, int, time.Duration) (int, error)
	MapStoreError      func(error) error
	IsStoreNotFound    func(error) bool
	IsAttemptsExceeded func(error) bool

	HashPassword       func(string) (string, error)
	UpdateCredential   func(context.Context, string, string, time.Time) error
	InvalidateSessions func(context.Context, string) error

	DispatchOTP       func(context.Context, string, string, time.Duration)
	DispatchResetLink func(context.Context, string, string, time.Duration)

	EmitAudit func(context.Context, string, bool, string, error, func() map[string]string)
	MetricInc func(int)

	Events  ResetEvents
	Metrics ResetMetrics
	Errors  ResetErrors
}

type RequestInput struct {
	Method     string
	Phone      string
	Email      string
	Identifier string
}

type RequestOutcome struct {
	Method         string
	Identifier     string
	ExpiresIn      int
	CanResendAfter int
}

// RunRequestReset starts a reset session for one identifier. Unknown
// identifiers get the same outcome as known ones: the rate limit is
// recorded, a randomized delay masks the faster lookup path, and the
// returned shape is identical.
func RunRequestReset(ctx context.Context, in RequestInput, deps ResetDeps) (RequestOutcome, error) {
	normalizeResetDeps(&deps)

	if deps.CheckRequestLimit == nil ||
		deps.RecordRequest == nil ||
		deps.GetUserByPhone == nil ||
		deps.GetUserByEmail == nil ||
		deps.NewResetToken == nil ||
		deps.NewOTP == nil ||
		deps.PutSession == nil {
		return RequestOutcome{}, deps.Errors.EngineNotReady
	}

	outcome := RequestOutcome{
		Method:         in.Method,
		Identifier:     in.Identifier,
		ExpiresIn:      int(deps.SessionTTL.Seconds()),
		CanResendAfter: int(deps.ResendAfter.Seconds()),
	}

	decision, err := deps.CheckRequestLimit(ctx, in.Method, in.Identifier)
	if err != nil {
		mapped := deps.MapLimiterError(err)
		deps.EmitAudit(ctx, deps.Events.Request, false, "", mapped, func() map[string]string {
			return map[string]string{
				"identifier": in.Identifier,
				"method":     in.Method,
			}
		})
		return RequestOutcome{}, mapped
	}
	if !decision.Allowed {
		rlErr := deps.RateLimitedErr(decision.RetryAfter, decision.Attempts)
		deps.MetricInc(deps.Metrics.RequestRateLimited)
		deps.EmitAudit(ctx, deps.Events.Request, false, "", rlErr, func() map[string]string {
			return map[string]string{
				"identifier": in.Identifier,
				"method":     in.Method,
			}
		})
		return RequestOutcome{}, rlErr
	}

	user, err := lookupRequestUser(ctx, in, deps)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return RequestOutcome{}, err
		}
		if deps.IsUserNotFound(err) {
			// The unknown-identifier path must cost the same budget and
			// roughly the same wall time as the known path.
			if recErr := deps.RecordRequest(ctx, in.Method, in.Identifier); recErr != nil {
				return RequestOutcome{}, deps.MapLimiterError(recErr)
			}
			if sleepErr := deps.SleepEnumerationDelay(ctx); sleepErr != nil {
				return RequestOutcome{}, sleepErr
			}
			deps.MetricInc(deps.Metrics.Request)
			deps.EmitAudit(ctx, deps.Events.Request, true, "", nil, func() map[string]string {
				return map[string]string{
					"identifier":       in.Identifier,
					"method":           in.Method,
					"enumeration_safe": "true",
				}
			})
			return outcome, nil
		}
		deps.EmitAudit(ctx, deps.Events.Request, false, "", deps.Errors.Unavailable, func() map[string]string {
			return map[string]string{
				"identifier": in.Identifier,
				"method":     in.Method,
			}
		})
		return RequestOutcome{}, deps.Errors.Unavailable
	}

	if !user.Active {
		deps.EmitAudit(ctx, deps.Events.Request, false, user.UserID, deps.Errors.AccountInactive, func() map[string]string {
			return map[string]string{
				"identifier": in.Identifier,
				"method":     in.Method,
			}
		})
		return RequestOutcome{}, deps.Errors.AccountInactive
	}

	resetToken := deps.NewResetToken()
	otp := ""
	if in.Method == MethodPhone {
		otp, err = deps.NewOTP(deps.OTPDigits)
		if err != nil {
			return RequestOutcome{}, deps.Errors.Unavailable
		}
	}

	now := deps.Now()
	record := ResetSessionRecord{
		UserID:     user.UserID,
		Method:     in.Method,
		ResetToken: resetToken,
		OTP:        otp,
		CreatedAt:  now.Unix(),
		ExpiresAt:  now.Add(deps.SessionTTL).Unix(),
	}

	if err := deps.PutSession(ctx, record, deps.SessionTTL); err != nil {
		mapped := deps.MapStoreError(err)
		deps.EmitAudit(ctx, deps.Events.Request, false, user.UserID, mapped, func() map[string]string {
			return map[string]string{
				"identifier": in.Identifier,
				"method":     in.Method,
			}
		})
		return RequestOutcome{}, mapped
	}

	if err := deps.RecordRequest(ctx, in.Method, in.Identifier); err != nil {
		mapped := deps.MapLimiterError(err)
		deps.EmitAudit(ctx, deps.Events.Request, false, user.UserID, mapped, nil)
		return RequestOutcome{}, mapped
	}

	switch in.Method {
	case MethodPhone:
		deps.DispatchOTP(ctx, user.Phone, otp, deps.SessionTTL)
	case MethodEmail:
		deps.DispatchResetLink(ctx, user.Email, resetToken, deps.SessionTTL)
	}

	deps.MetricInc(deps.Metrics.Request)
	deps.EmitAudit(ctx, deps.Events.Request, true, user.UserID, nil, func() map[string]string {
		return map[string]string{
			"identifier": in.Identifier,
			"method":     in.Method,
		}
	})
	return outcome, nil
}

type VerifyOutcome struct {
	ConfirmToken string
	ExpiresIn    int
}

// RunVerifyResetOTP checks the OTP of a phone session. Comparison is exact
// string equality. A mismatch spends one attempt; exhausting the budget
// burns the session and forces a fresh request.
func RunVerifyResetOTP(ctx context.Context, phone, otp string, deps ResetDeps) (VerifyOutcome, error) {
	normalizeResetDeps(&deps)

	if deps.GetUserByPhone == nil ||
		deps.GetSessionByUser == nil ||
		deps.FailOTPAttempt == nil ||
		deps.NewResetToken == nil ||
		deps.PutSession == nil {
		return VerifyOutcome{}, deps.Errors.EngineNotReady
	}

	user, err := deps.GetUserByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return VerifyOutcome{}, err
		}
		if deps.IsUserNotFound(err) {
			// Indistinguishable from a missing session so verify cannot be
			// used to enumerate accounts.
			return VerifyOutcome{}, deps.Errors.SessionNotFound
		}
		return VerifyOutcome{}, deps.Errors.Unavailable
	}

	session, err := deps.GetSessionByUser(ctx, user.UserID)
	if err != nil {
		if deps.IsStoreNotFound(err) {
			deps.EmitAudit(ctx, deps.Events.OTPVerify, false, user.UserID, deps.Errors.SessionNotFound, nil)
			return VerifyOutcome{}, deps.Errors.SessionNotFound
		}
		return VerifyOutcome{}, deps.MapStoreError(err)
	}

	if session.Method != MethodPhone {
		deps.EmitAudit(ctx, deps.Events.OTPVerify, false, user.UserID, deps.Errors.SessionNotFound, func() map[string]string {
			return map[string]string{
				"reason": "method_mismatch",
			}
		})
		return VerifyOutcome{}, deps.Errors.SessionNotFound
	}

	now := deps.Now()
	if now.Unix() > session.ExpiresAt {
		_ = deps.DeleteSession(ctx, user.UserID)
		deps.EmitAudit(ctx, deps.Events.OTPVerify, false, user.UserID, deps.Errors.SessionExpired, nil)
		return VerifyOutcome{}, deps.Errors.SessionExpired
	}

	if otp != session.OTP {
		remaining, failErr := deps.FailOTPAttempt(ctx, user.UserID, deps.MaxOTPAttempts, deps.SessionTTL)
		if failErr != nil {
			if deps.IsAttemptsExceeded(failErr) {
				deps.MetricInc(deps.Metrics.AttemptsExceeded)
				deps.MetricInc(deps.Metrics.OTPVerifyFailure)
				deps.EmitAudit(ctx, deps.Events.OTPVerify, false, user.UserID, deps.Errors.TooManyAttempts, func() map[string]string {
					return map[string]string{
						"reason": "attempts_exceeded",
					}
				})
				return VerifyOutcome{}, deps.Errors.TooManyAttempts
			}
			mapped := deps.MapStoreError(failErr)
			deps.EmitAudit(ctx, deps.Events.OTPVerify, false, user.UserID, mapped, nil)
			return VerifyOutcome{}, mapped
		}
		otpErr := deps.InvalidOTPErr(remaining)
		deps.MetricInc(deps.Metrics.OTPVerifyFailure)
		deps.EmitAudit(ctx, deps.Events.OTPVerify, false, user.UserID, otpErr, nil)
		return VerifyOutcome{}, otpErr
	}

	session.ConfirmToken = deps.NewResetToken()
	session.OTPVerified = true
	session.ExpiresAt = now.Add(deps.SessionTTL).Unix()

	if err := deps.PutSession(ctx, session, deps.SessionTTL); err != nil {
		return VerifyOutcome{}, deps.MapStoreError(err)
	}

	deps.MetricInc(deps.Metrics.OTPVerifySuccess)
	deps.EmitAudit(ctx, deps.Events.OTPVerify, true, user.UserID, nil, nil)
	return VerifyOutcome{
		ConfirmToken: session.ConfirmToken,
		ExpiresIn:    int(deps.SessionTTL.Seconds()),
	}, nil
}

type ConfirmOutcome struct {
	UserID  string
	ResetAt int64
}

// RunConfirmReset commits the new credential. The token may be either the
// reset token or the confirm token; the OTPVerified gate is what prevents
// a phone session from confirming with its reset token before the OTP
// step, so it must stay even though the token lookup alone would pass.
func RunConfirmReset(ctx context.Context, token, newPassword string, deps ResetDeps) (ConfirmOutcome, error) {
	normalizeResetDeps(&deps)

	if deps.GetSessionByToken == nil ||
		deps.GetUserByID == nil ||
		deps.HashPassword == nil ||
		deps.UpdateCredential == nil ||
		deps.DeleteSession == nil ||
		deps.InvalidateSessions == nil {
		return ConfirmOutcome{}, deps.Errors.EngineNotReady
	}

	session, err := deps.GetSessionByToken(ctx, token)
	if err != nil {
		if deps.IsStoreNotFound(err) {
			deps.MetricInc(deps.Metrics.ConfirmFailure)
			deps.EmitAudit(ctx, deps.Events.Confirm, false, "", deps.Errors.InvalidToken, nil)
			return ConfirmOutcome{}, deps.Errors.InvalidToken
		}
		return ConfirmOutcome{}, deps.MapStoreError(err)
	}

	now := deps.Now()
	if now.Unix() > session.ExpiresAt {
		_ = deps.DeleteSession(ctx, session.UserID)
		deps.MetricInc(deps.Metrics.ConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.Confirm, false, session.UserID, deps.Errors.SessionExpired, nil)
		return ConfirmOutcome{}, deps.Errors.SessionExpired
	}

	if session.Method == MethodPhone && !session.OTPVerified {
		deps.MetricInc(deps.Metrics.ConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.Confirm, false, session.UserID, deps.Errors.OTPRequired, func() map[string]string {
			return map[string]string{
				"reason": "otp_not_verified",
			}
		})
		return ConfirmOutcome{}, deps.Errors.OTPRequired
	}

	user, err := deps.GetUserByID(ctx, session.UserID)
	if err != nil {
		if deps.IsUserNotFound(err) {
			deps.MetricInc(deps.Metrics.ConfirmFailure)
			deps.EmitAudit(ctx, deps.Events.Confirm, false, session.UserID, deps.Errors.UserNotFound, nil)
			return ConfirmOutcome{}, deps.Errors.UserNotFound
		}
		return ConfirmOutcome{}, deps.Errors.Unavailable
	}
	if !user.Active {
		deps.MetricInc(deps.Metrics.ConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.Confirm, false, user.UserID, deps.Errors.AccountInactive, nil)
		return ConfirmOutcome{}, deps.Errors.AccountInactive
	}

	newHash, err := deps.HashPassword(newPassword)
	if err != nil {
		return ConfirmOutcome{}, deps.Errors.Unavailable
	}

	if err := deps.UpdateCredential(ctx, user.UserID, newHash, now); err != nil {
		// The session stays alive so the user can retry with the same token.
		deps.MetricInc(deps.Metrics.ConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.Confirm, false, user.UserID, err, func() map[string]string {
			return map[string]string{
				"reason": "credential_update_failed",
			}
		})
		return ConfirmOutcome{}, errors.Join(deps.Errors.CredentialUpdateFailed, err)
	}

	// Delete only after the credential commit. A leftover session is inert
	// once the password changed, so a failed delete is not worth failing
	// the reset over.
	_ = deps.DeleteSession(ctx, user.UserID)

	if err := deps.InvalidateSessions(ctx, user.UserID); err != nil {
		deps.MetricInc(deps.Metrics.ConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.Confirm, false, user.UserID, deps.Errors.SessionInvalidationFailed, func() map[string]string {
			return map[string]string{
				"reason": "session_invalidation_failed",
			}
		})
		return ConfirmOutcome{}, errors.Join(deps.Errors.SessionInvalidationFailed, err)
	}

	deps.MetricInc(deps.Metrics.ConfirmSuccess)
	deps.EmitAudit(ctx, deps.Events.Confirm, true, user.UserID, nil, func() map[string]string {
		return map[string]string{
			"method": session.Method,
		}
	})
	return ConfirmOutcome{
		UserID:  user.UserID,
		ResetAt: now.Unix(),
	}, nil
}

type StatusOutcome struct {
	Method      string
	ExpiresIn   int
	OTPVerified bool
	Attempts    int
	CreatedAt   int64
}

// RunResetStatus reports on a live session without mutating it and without
// exposing the OTP or either token.
func RunResetStatus(ctx context.Context, token, phone, email string, deps ResetDeps) (StatusOutcome, error) {
	normalizeResetDeps(&deps)

	if deps.GetSessionByToken == nil || deps.GetSessionByUser == nil {
		return StatusOutcome{}, deps.Errors.EngineNotReady
	}

	var (
		session ResetSessionRecord
		err     error
	)
	switch {
	case token != "":
		session, err = deps.GetSessionByToken(ctx, token)
	case phone != "":
		session, err = sessionByIdentifier(ctx, deps, deps.GetUserByPhone, phone)
	case email != "":
		session, err = sessionByIdentifier(ctx, deps, deps.GetUserByEmail, email)
	default:
		return StatusOutcome{}, deps.Errors.SessionNotFound
	}
	if err != nil {
		if deps.IsStoreNotFound(err) || deps.IsUserNotFound(err) {
			return StatusOutcome{}, deps.Errors.SessionNotFound
		}
		if errors.Is(err, deps.Errors.SessionNotFound) {
			return StatusOutcome{}, err
		}
		return StatusOutcome{}, deps.MapStoreError(err)
	}

	now := deps.Now()
	if now.Unix() > session.ExpiresAt {
		return StatusOutcome{}, deps.Errors.SessionNotFound
	}

	return StatusOutcome{
		Method:      session.Method,
		ExpiresIn:   int(session.ExpiresAt - now.Unix()),
		OTPVerified: session.OTPVerified,
		Attempts:    int(session.Attempts),
		CreatedAt:   session.CreatedAt,
	}, nil
}

type CancelOutcome struct {
	UserID      string
	CancelledAt int64
}

// RunCancelReset deletes the session matching the token. A second cancel
// with the same token fails with InvalidToken rather than succeeding
// silently.
func RunCancelReset(ctx context.Context, token string, deps ResetDeps) (CancelOutcome, error) {
	normalizeResetDeps(&deps)

	if deps.GetSessionByToken == nil || deps.DeleteSession == nil {
		return CancelOutcome{}, deps.Errors.EngineNotReady
	}

	session, err := deps.GetSessionByToken(ctx, token)
	if err != nil {
		if deps.IsStoreNotFound(err) {
			return CancelOutcome{}, deps.Errors.InvalidToken
		}
		return CancelOutcome{}, deps.MapStoreError(err)
	}

	if err := deps.DeleteSession(ctx, session.UserID); err != nil {
		if deps.IsStoreNotFound(err) {
			return CancelOutcome{}, deps.Errors.InvalidToken
		}
		return CancelOutcome{}, deps.MapStoreError(err)
	}

	deps.MetricInc(deps.Metrics.Cancelled)
	deps.EmitAudit(ctx, deps.Events.Cancel, true, session.UserID, nil, nil)
	return CancelOutcome{
		UserID:      session.UserID,
		CancelledAt: deps.Now().Unix(),
	}, nil
}

func sessionByIdentifier(
	ctx context.Context,
	deps ResetDeps,
	lookup func(context.Context, string) (ResetUser, error),
	identifier string,
) (ResetSessionRecord, error) {
	if lookup == nil {
		return ResetSessionRecord{}, deps.Errors.EngineNotReady
	}
	user, err := lookup(ctx, identifier)
	if err != nil {
		if deps.IsUserNotFound(err) {
			return ResetSessionRecord{}, deps.Errors.SessionNotFound
		}
		return ResetSessionRecord{}, deps.Errors.Unavailable
	}
	return deps.GetSessionByUser(ctx, user.UserID)
}

func lookupRequestUser(ctx context.Context, in RequestInput, deps ResetDeps) (ResetUser, error) {
	if in.Method == MethodEmail {
		return deps.GetUserByEmail(ctx, in.Email)
	}
	return deps.GetUserByPhone(ctx, in.Phone)
}

func normalizeResetDeps(deps *ResetDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.SleepEnumerationDelay == nil {
		deps.SleepEnumerationDelay = func(context.Context) error { return nil }
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, error, func() map[string]string) {}
	}
	if deps.MapLimiterError == nil {
		deps.MapLimiterError = func(error) error { return deps.Errors.Unavailable }
	}
	if deps.MapStoreError == nil {
		deps.MapStoreError = func(error) error { return deps.Errors.Unavailable }
	}
	if deps.IsStoreNotFound == nil {
		deps.IsStoreNotFound = func(error) bool { return false }
	}
	if deps.IsAttemptsExceeded == nil {
		deps.IsAttemptsExceeded = func(error) bool { return false }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.IsUserNotFound == nil {
		deps.IsUserNotFound = func(error) bool { return false }
	}
	if deps.RateLimitedErr == nil {
		deps.RateLimitedErr = func(time.Duration, int) error { return deps.Errors.RateLimited }
	}
	if deps.InvalidOTPErr == nil {
		deps.InvalidOTPErr = func(int) error { return deps.Errors.InvalidOTP }
	}
	if deps.DispatchOTP == nil {
		deps.DispatchOTP = func(context.Context, string, string, time.Duration) {}
	}
	if deps.DispatchResetLink == nil {
		deps.DispatchResetLink = func(context.Context, string, string, time.Duration) {}
	}
	if deps.DeleteSession == nil {
		deps.DeleteSession = func(context.Context, string) error { return deps.Errors.EngineNotReady }
	}
}
