package resetd

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"github.com/carebridge/resetd/internal"
	internalflows "github.com/carebridge/resetd/internal/flows"
	"github.com/carebridge/resetd/internal/limiters"
	"github.com/carebridge/resetd/internal/stores"
	"github.com/redis/go-redis/v9"
)

// RequestReset starts a password reset for one identifier. The returned
// result is intentionally identical for known and unknown identifiers;
// only AccountInactive, validation, and throttling surface as errors.
func (e *Engine) RequestReset(ctx context.Context, req ResetRequest) (*ResetRequestResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	identifier, err := validateResetRequest(req)
	if err != nil {
		return nil, err
	}

	in := internalflows.RequestInput{
		Method:     string(req.Method),
		Phone:      req.Phone,
		Email:      identifier,
		Identifier: identifier,
	}
	if req.Method == MethodPhone {
		in.Email = ""
	}

	outcome, err := internalflows.RunRequestReset(ctx, in, e.resetFlowDeps())
	if err != nil {
		return nil, err
	}

	return &ResetRequestResult{
		Method:         ResetMethod(outcome.Method),
		Identifier:     outcome.Identifier,
		ExpiresIn:      outcome.ExpiresIn,
		CanResendAfter: outcome.CanResendAfter,
	}, nil
}

// VerifyResetOTP checks the OTP for a phone-method session and, on match,
// issues the confirm token with a fresh session window.
func (e *Engine) VerifyResetOTP(ctx context.Context, phone, otp string) (*VerifyOTPResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	if err := validatePhone(phone); err != nil {
		return nil, err
	}
	if err := validateOTPFormat(otp, e.config.Reset.OTPDigits); err != nil {
		return nil, err
	}

	outcome, err := internalflows.RunVerifyResetOTP(ctx, phone, otp, e.resetFlowDeps())
	if err != nil {
		return nil, err
	}

	return &VerifyOTPResult{
		ConfirmToken: outcome.ConfirmToken,
		ExpiresIn:    outcome.ExpiresIn,
	}, nil
}

// ConfirmReset commits the new credential for the session matching token
// (reset or confirm token) and terminates every live auth session of the
// user. Password policy runs before any store access.
func (e *Engine) ConfirmReset(ctx context.Context, token, newPassword, confirmPassword string) (*ConfirmResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	if token == "" {
		return nil, &ValidationError{Field: "token", Reason: "required"}
	}
	if err := validateNewPassword(newPassword, confirmPassword); err != nil {
		return nil, err
	}

	outcome, err := internalflows.RunConfirmReset(ctx, token, newPassword, e.resetFlowDeps())
	if err != nil {
		return nil, err
	}

	return &ConfirmResult{
		UserID:                outcome.UserID,
		ResetAt:               time.Unix(outcome.ResetAt, 0).UTC(),
		AllSessionsTerminated: true,
	}, nil
}

// ResetStatus reports on a live session without mutating it. Secrets never
// appear in the result.
func (e *Engine) ResetStatus(ctx context.Context, q StatusQuery) (*StatusResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	switch {
	case q.Token != "":
	case q.Phone != "":
		if err := validatePhone(q.Phone); err != nil {
			return nil, err
		}
	case q.Email != "":
		if err := validateEmail(q.Email); err != nil {
			return nil, err
		}
	default:
		return nil, &ValidationError{Field: "query", Reason: "token, phone, or email required"}
	}

	outcome, err := internalflows.RunResetStatus(ctx, q.Token, q.Phone, q.Email, e.resetFlowDeps())
	if err != nil {
		return nil, err
	}

	return &StatusResult{
		Method:       ResetMethod(outcome.Method),
		ExpiresIn:    outcome.ExpiresIn,
		OTPVerified:  outcome.OTPVerified,
		AttemptsUsed: outcome.Attempts,
		CreatedAt:    time.Unix(outcome.CreatedAt, 0).UTC(),
	}, nil
}

// CancelReset deletes the session matching token. Cancelling twice yields
// InvalidToken the second time.
func (e *Engine) CancelReset(ctx context.Context, token string) (*CancelResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	if token == "" {
		return nil, &ValidationError{Field: "token", Reason: "required"}
	}

	outcome, err := internalflows.RunCancelReset(ctx, token, e.resetFlowDeps())
	if err != nil {
		return nil, err
	}

	return &CancelResult{
		UserID:      outcome.UserID,
		CancelledAt: time.Unix(outcome.CancelledAt, 0).UTC(),
	}, nil
}

func (e *Engine) resetFlowDeps() internalflows.ResetDeps {
	var cfg Config
	if e != nil {
		cfg = e.config
	}

	deps := internalflows.ResetDeps{
		SessionTTL:     cfg.Reset.SessionTTL,
		ResendAfter:    cfg.Reset.ResendAfter,
		OTPDigits:      cfg.Reset.OTPDigits,
		MaxOTPAttempts: cfg.Reset.MaxOTPAttempts,
		Now:            time.Now,

		MapLimiterError: mapResetLimiterError,
		MapStoreError:   mapResetStoreError,
		IsStoreNotFound: func(err error) bool {
			return errors.Is(err, stores.ErrSessionNotFound) || errors.Is(err, redis.Nil)
		},
		IsAttemptsExceeded: func(err error) bool {
			return errors.Is(err, stores.ErrAttemptsExceeded)
		},
		IsUserNotFound: func(err error) bool {
			return errors.Is(err, ErrUserNotFound)
		},
		RateLimitedErr: func(retryAfter time.Duration, attempts int) error {
			return &RateLimitedError{RetryAfter: retryAfter, Attempts: attempts}
		},
		InvalidOTPErr: func(remaining int) error {
			return &InvalidOTPError{AttemptsRemaining: remaining}
		},

		NewResetToken:         internal.NewResetToken,
		NewOTP:                internal.NewOTP,
		SleepEnumerationDelay: sleepResetEnumerationDelay,

		EmitAudit: e.emitAudit,
		MetricInc: func(id int) {
			if e != nil {
				e.metrics.Inc(MetricID(id))
			}
		},
		Events: internalflows.ResetEvents{
			Request:   AuditEventResetRequest,
			OTPVerify: AuditEventOTPVerify,
			Confirm:   AuditEventResetComplete,
			Cancel:    AuditEventResetCancel,
		},
		Metrics: internalflows.ResetMetrics{
			Request:            int(MetricResetRequest),
			RequestRateLimited: int(MetricResetRequestRateLimited),
			OTPVerifySuccess:   int(MetricOTPVerifySuccess),
			OTPVerifyFailure:   int(MetricOTPVerifyFailure),
			AttemptsExceeded:   int(MetricOTPAttemptsExceeded),
			ConfirmSuccess:     int(MetricConfirmSuccess),
			ConfirmFailure:     int(MetricConfirmFailure),
			Cancelled:          int(MetricResetCancelled),
		},
		Errors: internalflows.ResetErrors{
			EngineNotReady:            ErrEngineNotReady,
			RateLimited:               ErrRateLimited,
			UserNotFound:              ErrUserNotFound,
			AccountInactive:           ErrAccountInactive,
			SessionNotFound:           ErrSessionNotFound,
			SessionExpired:            ErrSessionExpired,
			InvalidOTP:                ErrInvalidOTP,
			TooManyAttempts:           ErrTooManyAttempts,
			OTPRequired:               ErrOTPRequired,
			InvalidToken:              ErrInvalidToken,
			Unavailable:               ErrResetUnavailable,
			CredentialUpdateFailed:    ErrCredentialUpdateFailed,
			SessionInvalidationFailed: ErrSessionInvalidationFailed,
		},
	}

	if e != nil && e.requestLimiter != nil {
		deps.CheckRequestLimit = func(ctx context.Context, method, identifier string) (internalflows.RateDecision, error) {
			decision, err := e.requestLimiter.Check(ctx, method, identifier)
			if err != nil {
				return internalflows.RateDecision{}, err
			}
			return internalflows.RateDecision{
				Allowed:    decision.Allowed,
				RetryAfter: decision.RetryAfter,
				Attempts:   decision.Attempts,
			}, nil
		}
		deps.RecordRequest = e.requestLimiter.Record
	}
	if e != nil && e.sessionStore != nil {
		deps.PutSession = func(ctx context.Context, record internalflows.ResetSessionRecord, ttl time.Duration) error {
			return e.sessionStore.Put(ctx, storeSessionFromFlow(record), ttl)
		}
		deps.GetSessionByUser = func(ctx context.Context, userID string) (internalflows.ResetSessionRecord, error) {
			session, err := e.sessionStore.GetByUserID(ctx, userID)
			if err != nil {
				return internalflows.ResetSessionRecord{}, err
			}
			return flowSessionFromStore(session), nil
		}
		deps.GetSessionByToken = func(ctx context.Context, token string) (internalflows.ResetSessionRecord, error) {
			session, err := e.sessionStore.GetByToken(ctx, token)
			if err != nil {
				return internalflows.ResetSessionRecord{}, err
			}
			return flowSessionFromStore(session), nil
		}
		deps.DeleteSession = e.sessionStore.Delete
		deps.FailOTPAttempt = e.sessionStore.FailOTPAttempt
	}
	if e != nil && e.directory != nil {
		deps.GetUserByPhone = func(ctx context.Context, phone string) (internalflows.ResetUser, error) {
			return flowUserFromDirectory(e.directory.GetUserByPhone(ctx, phone))
		}
		deps.GetUserByEmail = func(ctx context.Context, email string) (internalflows.ResetUser, error) {
			return flowUserFromDirectory(e.directory.GetUserByEmail(ctx, email))
		}
		deps.GetUserByID = func(ctx context.Context, userID string) (internalflows.ResetUser, error) {
			return flowUserFromDirectory(e.directory.GetUserByID(ctx, userID))
		}
		deps.UpdateCredential = e.directory.UpdateCredential
	}
	if e != nil && e.passwordHash != nil {
		deps.HashPassword = e.passwordHash.Hash
	}
	if e != nil && e.invalidator != nil {
		deps.InvalidateSessions = e.invalidator.InvalidateAllForUser
	}
	if e != nil && e.notifier != nil {
		deps.DispatchOTP = e.notifier.SendOTP
		deps.DispatchResetLink = e.notifier.SendResetLink
	}

	return deps
}

func storeSessionFromFlow(record internalflows.ResetSessionRecord) *stores.ResetSession {
	return &stores.ResetSession{
		UserID:       record.UserID,
		Method:       record.Method,
		ResetToken:   record.ResetToken,
		ConfirmToken: record.ConfirmToken,
		OTP:          record.OTP,
		OTPVerified:  record.OTPVerified,
		Attempts:     record.Attempts,
		CreatedAt:    record.CreatedAt,
		ExpiresAt:    record.ExpiresAt,
	}
}

func flowSessionFromStore(session *stores.ResetSession) internalflows.ResetSessionRecord {
	return internalflows.ResetSessionRecord{
		UserID:       session.UserID,
		Method:       session.Method,
		ResetToken:   session.ResetToken,
		ConfirmToken: session.ConfirmToken,
		OTP:          session.OTP,
		OTPVerified:  session.OTPVerified,
		Attempts:     session.Attempts,
		CreatedAt:    session.CreatedAt,
		ExpiresAt:    session.ExpiresAt,
	}
}

func flowUserFromDirectory(user UserRecord, err error) (internalflows.ResetUser, error) {
	if err != nil {
		return internalflows.ResetUser{}, err
	}
	return internalflows.ResetUser{
		UserID: user.UserID,
		Phone:  user.Phone,
		Email:  user.Email,
		Role:   user.Role,
		Active: user.Active,
	}, nil
}

func mapResetLimiterError(err error) error {
	switch {
	case errors.Is(err, limiters.ErrRedisUnavailable):
		return ErrResetUnavailable
	default:
		return ErrResetUnavailable
	}
}

func mapResetStoreError(err error) error {
	switch {
	case errors.Is(err, stores.ErrSessionNotFound), errors.Is(err, redis.Nil):
		return ErrSessionNotFound
	case errors.Is(err, stores.ErrRedisUnavailable):
		return ErrResetUnavailable
	default:
		return ErrResetUnavailable
	}
}

// sleepResetEnumerationDelay masks the faster unknown-identifier path with
// a randomized 20-40ms pause.
func sleepResetEnumerationDelay(ctx context.Context) error {
	minMs := int64(20)
	maxMs := int64(40)
	span := maxMs - minMs + 1

	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return err
	}

	delay := time.Duration(minMs+n.Int64()) * time.Millisecond
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
