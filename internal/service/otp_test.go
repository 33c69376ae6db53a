package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"roomchat/internal/models"
	"roomchat/internal/store"
	"roomchat/internal/testutil"
)

var sixDigits = regexp.MustCompile(`^[1-9][0-9]{5}$`)

func newOTP(t *testing.T, opts OTPOptions) (*OTPService, *store.Store, *testutil.RecordingTransport, *testutil.Clock) {
	t.Helper()
	st := testutil.NewStore(t)
	tr := &testutil.RecordingTransport{}
	clock := testutil.NewClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	opts.Now = clock.Now
	return NewOTPService(st, tr, opts), st, tr, clock
}

func TestGenerateCode_Format(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("GenerateCode() error = %v", err)
		}
		if !sixDigits.MatchString(code) {
			t.Fatalf("GenerateCode() = %q, want 6 digits in [100000, 999999]", code)
		}
	}
}

func TestOTP_SingleUse(t *testing.T) {
	svc, _, tr, _ := newOTP(t, OTPOptions{})
	ctx := context.Background()

	if err := svc.Issue(ctx, " Alice@Example.com "); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	code := tr.LastCode(t, "alice@example.com")

	if err := svc.Verify(ctx, "alice@example.com", code); err != nil {
		t.Fatalf("first Verify() error = %v", err)
	}
	if err := svc.Verify(ctx, "alice@example.com", code); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("second Verify() error = %v, want ErrInvalidCode", err)
	}
}

func TestOTP_Expiry(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
		want    error
	}{
		{"just before expiry", 119 * time.Second, nil},
		{"exactly at expiry", 120 * time.Second, ErrExpired},
		{"well after expiry", 10 * time.Minute, ErrExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, tr, clock := newOTP(t, OTPOptions{})
			ctx := context.Background()
			if err := svc.Issue(ctx, "bob@example.com"); err != nil {
				t.Fatalf("Issue() error = %v", err)
			}
			code := tr.LastCode(t, "bob@example.com")
			clock.Advance(tt.advance)

			err := svc.Verify(ctx, "bob@example.com", code)
			if !errors.Is(err, tt.want) || (tt.want == nil && err != nil) {
				t.Fatalf("Verify() error = %v, want %v", err, tt.want)
			}
			// 命中的记录无论结果如何都已删除
			if err := svc.Verify(ctx, "bob@example.com", code); !errors.Is(err, ErrInvalidCode) {
				t.Errorf("Verify() after consume = %v, want ErrInvalidCode", err)
			}
		})
	}
}

func TestOTP_Supersession(t *testing.T) {
	svc, _, tr, _ := newOTP(t, OTPOptions{})
	ctx := context.Background()

	if err := svc.Issue(ctx, "carol@example.com"); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	first := tr.LastCode(t, "carol@example.com")
	var second string
	for {
		if err := svc.Issue(ctx, "carol@example.com"); err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
		if second = tr.LastCode(t, "carol@example.com"); second != first {
			break
		}
	}

	if err := svc.Verify(ctx, "carol@example.com", first); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("Verify(superseded) error = %v, want ErrInvalidCode", err)
	}
	if err := svc.Verify(ctx, "carol@example.com", second); err != nil {
		t.Errorf("Verify(latest) error = %v", err)
	}
}

func TestOTP_WrongCodeAndWrongEmail(t *testing.T) {
	svc, _, tr, _ := newOTP(t, OTPOptions{})
	ctx := context.Background()
	if err := svc.Issue(ctx, "dave@example.com"); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	code := tr.LastCode(t, "dave@example.com")

	if err := svc.Verify(ctx, "eve@example.com", code); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("Verify(other email) error = %v, want ErrInvalidCode", err)
	}
	if err := svc.Verify(ctx, "dave@example.com", "000000"); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("Verify(wrong code) error = %v, want ErrInvalidCode", err)
	}
	if err := svc.Verify(ctx, "", code); !errors.Is(err, ErrValidation) {
		t.Errorf("Verify(empty email) error = %v, want ErrValidation", err)
	}
	if err := svc.Verify(ctx, "dave@example.com", code); err != nil {
		t.Errorf("Verify(correct) after misses error = %v", err)
	}
}

func TestOTP_TransportFailure(t *testing.T) {
	tests := []struct {
		name       string
		rollback   bool
		wantStored bool
	}{
		{"record kept by default", false, true},
		{"record removed with rollback", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st, tr, _ := newOTP(t, OTPOptions{RollbackOnSendError: tt.rollback})
			tr.Err = errors.New("smtp down")
			ctx := context.Background()

			err := svc.Issue(ctx, "frank@example.com")
			if !errors.Is(err, ErrTransport) {
				t.Fatalf("Issue() error = %v, want ErrTransport", err)
			}
			now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
			n, err := st.DeleteExpiredOTPs(ctx, now)
			if err != nil {
				t.Fatalf("DeleteExpiredOTPs() error = %v", err)
			}
			if stored := n == 1; stored != tt.wantStored {
				t.Errorf("record stored = %v, want %v", stored, tt.wantStored)
			}
		})
	}
}

func TestOTP_SweptRecordIsInvalid(t *testing.T) {
	svc, st, tr, clock := newOTP(t, OTPOptions{})
	ctx := context.Background()
	if err := svc.Issue(ctx, "gina@example.com"); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	code := tr.LastCode(t, "gina@example.com")
	clock.Advance(3 * time.Minute)

	if n, err := st.DeleteExpiredOTPs(ctx, clock.Now()); err != nil || n != 1 {
		t.Fatalf("DeleteExpiredOTPs() = %d, %v; want 1", n, err)
	}
	if err := svc.Verify(ctx, "gina@example.com", code); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("Verify() after sweep = %v, want ErrInvalidCode", err)
	}
}

func TestOTP_IssueRequiresEmail(t *testing.T) {
	svc, _, tr, _ := newOTP(t, OTPOptions{})
	if err := svc.Issue(context.Background(), "   "); !errors.Is(err, ErrValidation) {
		t.Errorf("Issue(blank) error = %v, want ErrValidation", err)
	}
	if len(tr.Sent()) != 0 {
		t.Error("nothing should be sent for a blank email")
	}
}

// lockstepStore holds every FindOTP caller until both verifiers have read the
// record, so concurrent verifiers all see it before anyone deletes it.
type lockstepStore struct {
	*store.Store
	found sync.WaitGroup
}

func (s *lockstepStore) FindOTP(ctx context.Context, email, code string) (*models.OTP, error) {
	rec, err := s.Store.FindOTP(ctx, email, code)
	s.found.Done()
	s.found.Wait()
	return rec, err
}

func TestOTP_ConcurrentVerifySucceedsOnce(t *testing.T) {
	svc, st, tr, clock := newOTP(t, OTPOptions{})
	ctx := context.Background()
	if err := svc.Issue(ctx, "hank@example.com"); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	code := tr.LastCode(t, "hank@example.com")

	racing := &lockstepStore{Store: st}
	racing.found.Add(2)
	verifier := NewOTPService(racing, tr, OTPOptions{Now: clock.Now})

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { results <- verifier.Verify(ctx, "hank@example.com", code) }()
	}

	var ok, invalid int
	for i := 0; i < 2; i++ {
		switch err := <-results; {
		case err == nil:
			ok++
		case errors.Is(err, ErrInvalidCode):
			invalid++
		default:
			t.Fatalf("Verify() unexpected error = %v", err)
		}
	}
	if ok != 1 || invalid != 1 {
		t.Errorf("concurrent Verify() got %d successes and %d invalid, want exactly one of each", ok, invalid)
	}
}
