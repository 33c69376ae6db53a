package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"roomchat/internal/auth"
	"roomchat/internal/testutil"
)

const testSecret = "user-test-secret"

type userFixture struct {
	svc   *UserService
	tr    *testutil.RecordingTransport
	clock *testutil.Clock
}

func newUserFixture(t *testing.T) userFixture {
	t.Helper()
	st := testutil.NewStore(t)
	tr := &testutil.RecordingTransport{}
	clock := testutil.NewClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	otp := NewOTPService(st, tr, OTPOptions{Now: clock.Now})
	guard := NewLockoutGuard(st, 5, time.Minute, clock.Now)
	return userFixture{svc: NewUserService(st, otp, guard, testSecret, 15), tr: tr, clock: clock}
}

func (f userFixture) register(t *testing.T, name, email, password string) {
	t.Helper()
	ctx := context.Background()
	if err := f.svc.RequestCode(ctx, name, email); err != nil {
		t.Fatalf("RequestCode() error = %v", err)
	}
	if err := f.svc.VerifyCode(ctx, email, f.tr.LastCode(t, email)); err != nil {
		t.Fatalf("VerifyCode() error = %v", err)
	}
	if _, err := f.svc.Register(ctx, name, email, password, password); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
}

func TestUserService_RegistrationFlow(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "alice@example.com", "hunter22")

	if err := f.svc.RequestCode(ctx, "alice2", "ALICE@example.com"); !errors.Is(err, ErrUserExists) {
		t.Errorf("RequestCode() for existing email = %v, want ErrUserExists", err)
	}
	if _, err := f.svc.Register(ctx, "alice", "alice@example.com", "hunter22", "hunter22"); !errors.Is(err, ErrUserExists) {
		t.Errorf("Register() twice = %v, want ErrUserExists", err)
	}
}

func TestUserService_RegisterValidation(t *testing.T) {
	f := newUserFixture(t)
	tests := []struct {
		name     string
		user     string
		password string
		confirm  string
	}{
		{"short password", "bob", "12345", "12345"},
		{"mismatch", "bob", "123456", "654321"},
		{"empty name", " ", "123456", "123456"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), tt.user, "bob@example.com", tt.password, tt.confirm)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("Register() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestUserService_Login(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	f.register(t, "carol", "carol@example.com", "correct-horse")

	res, err := f.svc.Login(ctx, "Carol@Example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	claims, err := auth.ParseAccessToken(res.AccessToken, testSecret)
	if err != nil || claims.Name != "carol" || claims.UserID != res.User.ID {
		t.Errorf("token claims = %+v, %v", claims, err)
	}
}

func TestUserService_LoginLockout(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	f.register(t, "dave", "dave@example.com", "right-password")

	for i := 1; i <= 5; i++ {
		_, err := f.svc.Login(ctx, "dave@example.com", "wrong")
		var ce *CredentialsError
		if !errors.As(err, &ce) || !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: error = %v, want CredentialsError", i, err)
		}
		if ce.Attempts != i || ce.Locked != (i == 5) {
			t.Errorf("attempt %d: %+v", i, ce)
		}
	}

	// 锁定期内即使密码正确也被拒绝
	_, err := f.svc.Login(ctx, "dave@example.com", "right-password")
	var le *LockedError
	if !errors.As(err, &le) || le.RemainingSeconds() != 60 {
		t.Fatalf("Login() while locked = %v, want LockedError with 60s", err)
	}

	f.clock.Advance(time.Minute)
	if _, err := f.svc.Login(ctx, "dave@example.com", "right-password"); err != nil {
		t.Fatalf("Login() after lockout = %v", err)
	}
	_, err = f.svc.Login(ctx, "dave@example.com", "wrong")
	var ce *CredentialsError
	if !errors.As(err, &ce) || ce.Attempts != 1 {
		t.Errorf("counter should be reset after success: %v", err)
	}
}

func TestUserService_LoginUnknownEmailCounts(t *testing.T) {
	f := newUserFixture(t)
	_, err := f.svc.Login(context.Background(), "ghost@example.com", "whatever")
	var ce *CredentialsError
	if !errors.As(err, &ce) || ce.Attempts != 1 {
		t.Errorf("Login(unknown) = %v, want CredentialsError with 1 attempt", err)
	}
}

func TestUserService_VerifyCodeIsExact(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	if err := f.svc.RequestCode(ctx, "ivy", "ivy@example.com"); err != nil {
		t.Fatalf("RequestCode() error = %v", err)
	}
	code := f.tr.LastCode(t, "ivy@example.com")

	if err := f.svc.VerifyCode(ctx, "ivy@example.com", " "+code+" "); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("VerifyCode() with padded code = %v, want ErrInvalidCode", err)
	}
	if err := f.svc.VerifyCode(ctx, "ivy@example.com", code); err != nil {
		t.Errorf("VerifyCode() with exact code = %v", err)
	}
}
