package resetd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/carebridge/resetd/internal/stores"
)

const (
	testPhone = "+8801712345678"
	testEmail = "user@example.com"
)

type mockDirectory struct {
	mu          sync.Mutex
	users       map[string]UserRecord
	credentials map[string]string
	updateErr   error
	updateCalls int
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{
		users: map[string]UserRecord{
			"user-1": {
				UserID: "user-1",
				Phone:  testPhone,
				Email:  testEmail,
				Role:   "CAREGIVER",
				Active: true,
			},
		},
		credentials: map[string]string{},
	}
}

func (d *mockDirectory) lookup(match func(UserRecord) bool) (UserRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, user := range d.users {
		if match(user) {
			return user, nil
		}
	}
	return UserRecord{}, ErrUserNotFound
}

func (d *mockDirectory) GetUserByPhone(ctx context.Context, phone string) (UserRecord, error) {
	return d.lookup(func(u UserRecord) bool { return u.Phone == phone })
}

func (d *mockDirectory) GetUserByEmail(ctx context.Context, email string) (UserRecord, error) {
	return d.lookup(func(u UserRecord) bool { return u.Email == email })
}

func (d *mockDirectory) GetUserByID(ctx context.Context, userID string) (UserRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	user, ok := d.users[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return user, nil
}

func (d *mockDirectory) UpdateCredential(ctx context.Context, userID, passwordHash string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updateCalls++
	if d.updateErr != nil {
		return d.updateErr
	}
	if _, ok := d.users[userID]; !ok {
		return ErrUserNotFound
	}
	d.credentials[userID] = passwordHash
	return nil
}

type mockNotifier struct {
	mu    sync.Mutex
	otps  map[string]string
	links map[string]string
}

func (n *mockNotifier) SendOTP(ctx context.Context, phone, otp string, expiresIn time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.otps == nil {
		n.otps = make(map[string]string)
	}
	n.otps[phone] = otp
}

func (n *mockNotifier) SendResetLink(ctx context.Context, email, token string, expiresIn time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.links == nil {
		n.links = make(map[string]string)
	}
	n.links[email] = token
}

func (n *mockNotifier) lastOTP(phone string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.otps[phone]
}

func (n *mockNotifier) lastLink(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.links[email]
}

type mockInvalidator struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (m *mockInvalidator) InvalidateAllForUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, userID)
	return m.err
}

func (m *mockInvalidator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type testEnv struct {
	engine      *Engine
	directory   *mockDirectory
	notifier    *mockNotifier
	invalidator *mockInvalidator
	redis       *miniredis.Miniredis
}

func newTestRedisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func newTestEngine(t *testing.T) *testEnv {
	t.Helper()

	mr, client := newTestRedisClient(t)

	env := &testEnv{
		directory:   newMockDirectory(),
		notifier:    &mockNotifier{},
		invalidator: &mockInvalidator{},
		redis:       mr,
	}

	engine, err := New().
		WithRedis(client).
		WithDirectory(env.directory).
		WithSessionInvalidator(env.invalidator).
		WithNotifier(env.notifier).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	env.engine = engine
	return env
}

func requestPhoneReset(t *testing.T, env *testEnv) string {
	t.Helper()
	_, err := env.engine.RequestReset(context.Background(), ResetRequest{
		Phone:  testPhone,
		Method: MethodPhone,
	})
	if err != nil {
		t.Fatalf("RequestReset: %v", err)
	}
	otp := env.notifier.lastOTP(testPhone)
	if len(otp) != 6 {
		t.Fatalf("otp length = %d, want 6", len(otp))
	}
	return otp
}

func wrongOTP(otp string) string {
	if otp == "654321" {
		return "654322"
	}
	return "654321"
}

func TestRequestResetPhone(t *testing.T) {
	env := newTestEngine(t)

	result, err := env.engine.RequestReset(context.Background(), ResetRequest{
		Phone:  testPhone,
		Method: MethodPhone,
	})
	if err != nil {
		t.Fatalf("RequestReset: %v", err)
	}

	if result.Method != MethodPhone || result.Identifier != testPhone {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.ExpiresIn != 600 || result.CanResendAfter != 60 {
		t.Fatalf("unexpected windows: %+v", result)
	}

	session, err := env.engine.sessionStore.GetByUserID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("session not stored: %v", err)
	}
	if session.Method != "PHONE" || len(session.OTP) != 6 || session.ResetToken == "" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if session.OTP != env.notifier.lastOTP(testPhone) {
		t.Fatal("delivered otp differs from stored otp")
	}
}

func TestRequestResetEmailSkipsOTP(t *testing.T) {
	env := newTestEngine(t)

	result, err := env.engine.RequestReset(context.Background(), ResetRequest{
		Email:  "User@Example.com ",
		Method: MethodEmail,
	})
	if err != nil {
		t.Fatalf("RequestReset: %v", err)
	}
	if result.Identifier != testEmail {
		t.Fatalf("identifier not normalized: %q", result.Identifier)
	}

	session, err := env.engine.sessionStore.GetByUserID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("session not stored: %v", err)
	}
	if session.OTP != "" {
		t.Fatalf("email session has an otp: %+v", session)
	}
	if env.notifier.lastLink(testEmail) != session.ResetToken {
		t.Fatal("delivered token differs from stored reset token")
	}

	// Email resets confirm directly with the reset token, no OTP step.
	confirm, err := env.engine.ConfirmReset(context.Background(), session.ResetToken, "NewSecret1", "NewSecret1")
	if err != nil {
		t.Fatalf("ConfirmReset: %v", err)
	}
	if confirm.UserID != "user-1" || !confirm.AllSessionsTerminated {
		t.Fatalf("unexpected confirm result: %+v", confirm)
	}
}

func TestRequestResetUnknownIdentifierSameOutcome(t *testing.T) {
	env := newTestEngine(t)

	known, err := env.engine.RequestReset(context.Background(), ResetRequest{
		Phone:  testPhone,
		Method: MethodPhone,
	})
	if err != nil {
		t.Fatalf("known request: %v", err)
	}

	unknown, err := env.engine.RequestReset(context.Background(), ResetRequest{
		Phone:  "+8801999999999",
		Method: MethodPhone,
	})
	if err != nil {
		t.Fatalf("unknown request: %v", err)
	}

	if known.ExpiresIn != unknown.ExpiresIn || known.CanResendAfter != unknown.CanResendAfter {
		t.Fatalf("outcome shapes differ: %+v vs %+v", known, unknown)
	}
	if env.notifier.lastOTP("+8801999999999") != "" {
		t.Fatal("otp dispatched for unknown identifier")
	}
}

func TestRequestResetUnknownIdentifierStillThrottled(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	req := ResetRequest{Phone: "+8801999999999", Method: MethodPhone}

	for i := 0; i < 3; i++ {
		if _, err := env.engine.RequestReset(ctx, req); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}

	_, err := env.engine.RequestReset(ctx, req)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
}

func TestRequestResetRateLimited(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	req := ResetRequest{Phone: testPhone, Method: MethodPhone}

	for i := 0; i < 3; i++ {
		if _, err := env.engine.RequestReset(ctx, req); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}

	_, err := env.engine.RequestReset(ctx, req)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}

	var rateLimited *RateLimitedError
	if !errors.As(err, &rateLimited) {
		t.Fatalf("error does not carry retry hint: %v", err)
	}
	if rateLimited.RetryAfter <= 0 || rateLimited.RetryAfter > time.Hour {
		t.Fatalf("retryAfter out of range: %v", rateLimited.RetryAfter)
	}
	if rateLimited.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", rateLimited.Attempts)
	}
}

func TestRequestResetInactiveAccount(t *testing.T) {
	env := newTestEngine(t)
	env.directory.users["user-1"] = UserRecord{
		UserID: "user-1",
		Phone:  testPhone,
		Email:  testEmail,
		Active: false,
	}

	_, err := env.engine.RequestReset(context.Background(), ResetRequest{
		Phone:  testPhone,
		Method: MethodPhone,
	})
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("want ErrAccountInactive, got %v", err)
	}
}

func TestRequestResetValidation(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	cases := []ResetRequest{
		{Method: MethodPhone},
		{Phone: "01712345678", Method: MethodPhone},
		{Phone: "+8801212345678", Method: MethodPhone},
		{Email: "not-an-email", Method: MethodEmail},
		{Phone: testPhone, Method: "CARRIER_PIGEON"},
	}
	for _, req := range cases {
		if _, err := env.engine.RequestReset(ctx, req); !errors.Is(err, ErrValidation) {
			t.Fatalf("request %+v: want ErrValidation, got %v", req, err)
		}
	}
}

func TestVerifyOTPSuccess(t *testing.T) {
	env := newTestEngine(t)
	otp := requestPhoneReset(t, env)

	result, err := env.engine.VerifyResetOTP(context.Background(), testPhone, otp)
	if err != nil {
		t.Fatalf("VerifyResetOTP: %v", err)
	}
	if result.ConfirmToken == "" || result.ExpiresIn != 600 {
		t.Fatalf("unexpected result: %+v", result)
	}

	session, err := env.engine.sessionStore.GetByUserID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}
	if !session.OTPVerified || session.ConfirmToken != result.ConfirmToken {
		t.Fatalf("session not promoted: %+v", session)
	}
}

func TestVerifyOTPAttemptExhaustion(t *testing.T) {
	env := newTestEngine(t)
	otp := requestPhoneReset(t, env)
	ctx := context.Background()
	bad := wrongOTP(otp)

	_, err := env.engine.VerifyResetOTP(ctx, testPhone, bad)
	var invalidOTP *InvalidOTPError
	if !errors.As(err, &invalidOTP) || invalidOTP.AttemptsRemaining != 2 {
		t.Fatalf("first failure: got %v", err)
	}

	_, err = env.engine.VerifyResetOTP(ctx, testPhone, bad)
	if !errors.As(err, &invalidOTP) || invalidOTP.AttemptsRemaining != 1 {
		t.Fatalf("second failure: got %v", err)
	}

	_, err = env.engine.VerifyResetOTP(ctx, testPhone, bad)
	if !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("third failure: want ErrTooManyAttempts, got %v", err)
	}

	// The session is burned; even the right otp is refused now.
	_, err = env.engine.VerifyResetOTP(ctx, testPhone, otp)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("after exhaustion: want ErrSessionNotFound, got %v", err)
	}
}

func TestVerifyOTPUnknownPhone(t *testing.T) {
	env := newTestEngine(t)

	_, err := env.engine.VerifyResetOTP(context.Background(), "+8801999999999", "123456")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
}

func TestVerifyOTPEmailSessionRejected(t *testing.T) {
	env := newTestEngine(t)

	if _, err := env.engine.RequestReset(context.Background(), ResetRequest{
		Email:  testEmail,
		Method: MethodEmail,
	}); err != nil {
		t.Fatalf("RequestReset: %v", err)
	}

	_, err := env.engine.VerifyResetOTP(context.Background(), testPhone, "123456")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
}

func TestConfirmResetPhoneFullFlow(t *testing.T) {
	env := newTestEngine(t)
	otp := requestPhoneReset(t, env)
	ctx := context.Background()

	verify, err := env.engine.VerifyResetOTP(ctx, testPhone, otp)
	if err != nil {
		t.Fatalf("VerifyResetOTP: %v", err)
	}

	confirm, err := env.engine.ConfirmReset(ctx, verify.ConfirmToken, "NewSecret1", "NewSecret1")
	if err != nil {
		t.Fatalf("ConfirmReset: %v", err)
	}
	if confirm.UserID != "user-1" || !confirm.AllSessionsTerminated {
		t.Fatalf("unexpected result: %+v", confirm)
	}

	// The stored credential verifies against the new password.
	hash := env.directory.credentials["user-1"]
	if hash == "" {
		t.Fatal("credential not updated")
	}
	ok, err := env.engine.passwordHash.Verify("NewSecret1", hash)
	if err != nil || !ok {
		t.Fatalf("stored hash does not verify: ok=%v err=%v", ok, err)
	}

	if env.invalidator.callCount() != 1 {
		t.Fatalf("invalidator calls = %d, want 1", env.invalidator.callCount())
	}

	// Replay must fail: the session died with the confirm.
	_, err = env.engine.ConfirmReset(ctx, verify.ConfirmToken, "NewSecret2", "NewSecret2")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("replay: want ErrInvalidToken, got %v", err)
	}
}

func TestConfirmRequiresVerifiedOTPForPhone(t *testing.T) {
	env := newTestEngine(t)
	requestPhoneReset(t, env)

	session, err := env.engine.sessionStore.GetByUserID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}

	_, err = env.engine.ConfirmReset(context.Background(), session.ResetToken, "NewSecret1", "NewSecret1")
	if !errors.Is(err, ErrOTPRequired) {
		t.Fatalf("want ErrOTPRequired, got %v", err)
	}
}

func TestConfirmUnknownToken(t *testing.T) {
	env := newTestEngine(t)

	_, err := env.engine.ConfirmReset(context.Background(), "no-such-token", "NewSecret1", "NewSecret1")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("want ErrInvalidToken, got %v", err)
	}
}

func TestConfirmPasswordPolicy(t *testing.T) {
	env := newTestEngine(t)
	otp := requestPhoneReset(t, env)
	ctx := context.Background()

	verify, err := env.engine.VerifyResetOTP(ctx, testPhone, otp)
	if err != nil {
		t.Fatalf("VerifyResetOTP: %v", err)
	}

	cases := []struct{ password, confirm string }{
		{"short1A", "short1A"},
		{"alllowercase1", "alllowercase1"},
		{"ALLUPPERCASE1", "ALLUPPERCASE1"},
		{"NoDigitsHere", "NoDigitsHere"},
		{"GoodSecret1", "Different1"},
	}
	for _, tc := range cases {
		_, err := env.engine.ConfirmReset(ctx, verify.ConfirmToken, tc.password, tc.confirm)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("password %q: want ErrValidation, got %v", tc.password, err)
		}
	}

	// Policy failures run before any store access; the session survives.
	if _, err := env.engine.ConfirmReset(ctx, verify.ConfirmToken, "NewSecret1", "NewSecret1"); err != nil {
		t.Fatalf("valid confirm after rejections: %v", err)
	}
}

func TestConfirmCredentialFailureKeepsSession(t *testing.T) {
	env := newTestEngine(t)
	otp := requestPhoneReset(t, env)
	ctx := context.Background()

	verify, err := env.engine.VerifyResetOTP(ctx, testPhone, otp)
	if err != nil {
		t.Fatalf("VerifyResetOTP: %v", err)
	}

	env.directory.updateErr = errors.New("db down")
	_, err = env.engine.ConfirmReset(ctx, verify.ConfirmToken, "NewSecret1", "NewSecret1")
	if !errors.Is(err, ErrCredentialUpdateFailed) {
		t.Fatalf("want ErrCredentialUpdateFailed, got %v", err)
	}
	if env.invalidator.callCount() != 0 {
		t.Fatal("sessions invalidated despite failed credential update")
	}

	// The session survived, a retry succeeds once the directory recovers.
	env.directory.updateErr = nil
	if _, err := env.engine.ConfirmReset(ctx, verify.ConfirmToken, "NewSecret1", "NewSecret1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestConfirmExpiredSession(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	// Seed a session whose deadline already passed. The redis TTL is still
	// alive, so the token index resolves and the expiry check fires.
	session := &stores.ResetSession{
		UserID:      "user-1",
		Method:      "PHONE",
		ResetToken:  "expired-reset-token",
		OTPVerified: true,
		CreatedAt:   time.Now().Add(-20 * time.Minute).Unix(),
		ExpiresAt:   time.Now().Add(-10 * time.Minute).Unix(),
	}
	if err := env.engine.sessionStore.Put(ctx, session, 10*time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}

	_, err := env.engine.ConfirmReset(ctx, "expired-reset-token", "NewSecret1", "NewSecret1")
	if !errors.Is(err, ErrInvalidToken) && !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("want expiry rejection, got %v", err)
	}

	// The lazy purge removed the record.
	if _, err := env.engine.sessionStore.GetByUserID(ctx, "user-1"); !errors.Is(err, stores.ErrSessionNotFound) {
		t.Fatalf("expired session still present: %v", err)
	}
}

func TestNewRequestReplacesOldSession(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	requestPhoneReset(t, env)
	first, err := env.engine.sessionStore.GetByUserID(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}

	requestPhoneReset(t, env)
	second, err := env.engine.sessionStore.GetByUserID(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}

	if first.ResetToken == second.ResetToken {
		t.Fatal("new request reused the old reset token")
	}

	// The old token no longer confirms anything.
	_, err = env.engine.ConfirmReset(ctx, first.ResetToken, "NewSecret1", "NewSecret1")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("old token: want ErrInvalidToken, got %v", err)
	}
}

func TestResetStatus(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	_, err := env.engine.ResetStatus(ctx, StatusQuery{Phone: testPhone})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("no session: want ErrSessionNotFound, got %v", err)
	}

	otp := requestPhoneReset(t, env)

	status, err := env.engine.ResetStatus(ctx, StatusQuery{Phone: testPhone})
	if err != nil {
		t.Fatalf("ResetStatus: %v", err)
	}
	if status.Method != MethodPhone || status.OTPVerified || status.AttemptsUsed != 0 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.ExpiresIn <= 0 || status.ExpiresIn > 600 {
		t.Fatalf("expiresIn out of range: %d", status.ExpiresIn)
	}

	if _, err := env.engine.VerifyResetOTP(ctx, testPhone, wrongOTP(otp)); err == nil {
		t.Fatal("expected otp failure")
	}

	status, err = env.engine.ResetStatus(ctx, StatusQuery{Phone: testPhone})
	if err != nil {
		t.Fatalf("ResetStatus after failure: %v", err)
	}
	if status.AttemptsUsed != 1 {
		t.Fatalf("attemptsUsed = %d, want 1", status.AttemptsUsed)
	}
}

func TestResetStatusByToken(t *testing.T) {
	env := newTestEngine(t)
	requestPhoneReset(t, env)

	session, err := env.engine.sessionStore.GetByUserID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}

	status, err := env.engine.ResetStatus(context.Background(), StatusQuery{Token: session.ResetToken})
	if err != nil {
		t.Fatalf("ResetStatus: %v", err)
	}
	if status.Method != MethodPhone {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestCancelReset(t *testing.T) {
	env := newTestEngine(t)
	requestPhoneReset(t, env)
	ctx := context.Background()

	session, err := env.engine.sessionStore.GetByUserID(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}

	result, err := env.engine.CancelReset(ctx, session.ResetToken)
	if err != nil {
		t.Fatalf("CancelReset: %v", err)
	}
	if result.UserID != "user-1" {
		t.Fatalf("unexpected result: %+v", result)
	}

	// The second cancel finds nothing.
	_, err = env.engine.CancelReset(ctx, session.ResetToken)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("second cancel: want ErrInvalidToken, got %v", err)
	}
}

func TestNilEngine(t *testing.T) {
	var e *Engine
	ctx := context.Background()

	if _, err := e.RequestReset(ctx, ResetRequest{Phone: testPhone, Method: MethodPhone}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("RequestReset on nil engine: %v", err)
	}
	if _, err := e.VerifyResetOTP(ctx, testPhone, "123456"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("VerifyResetOTP on nil engine: %v", err)
	}
}
