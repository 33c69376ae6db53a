package store_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"roomchat/internal/models"
	"roomchat/internal/store"

	"github.com/redis/go-redis/v9"
)

func openRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rdb, err := store.OpenRedis(ctx, url)
	if err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisOTPStore_Lifecycle(t *testing.T) {
	rdb := openRedis(t)
	s := store.NewRedisOTPStore(rdb, time.Minute)
	ctx := context.Background()
	email := "redis-" + time.Now().Format("150405.000000") + "@example.com"
	t.Cleanup(func() { _ = s.DeleteOTPs(ctx, email) })

	expires := time.Now().Add(2 * time.Minute)
	if err := s.InsertOTP(ctx, &models.OTP{Email: email, Code: "111111", ExpiresAt: expires}); err != nil {
		t.Fatalf("InsertOTP() error = %v", err)
	}

	ttl, err := rdb.TTL(ctx, "otp:"+email).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 2*time.Minute {
		t.Errorf("key ttl = %v, want code ttl plus grace", ttl)
	}

	if _, err := s.FindOTP(ctx, email, "222222"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("FindOTP() wrong code error = %v, want ErrNotFound", err)
	}
	got, err := s.FindOTP(ctx, email, "111111")
	if err != nil {
		t.Fatalf("FindOTP() error = %v", err)
	}
	if !got.ExpiresAt.Equal(time.Unix(0, expires.UnixNano())) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, expires)
	}

	if err := s.DeleteOTP(ctx, got); err != nil {
		t.Fatalf("DeleteOTP() error = %v", err)
	}
	if _, err := s.FindOTP(ctx, email, "111111"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("FindOTP() after delete error = %v, want ErrNotFound", err)
	}
}

func TestRedisOTPStore_DeleteOTPKeepsReissuedCode(t *testing.T) {
	rdb := openRedis(t)
	s := store.NewRedisOTPStore(rdb, time.Minute)
	ctx := context.Background()
	email := "redis-reissue-" + time.Now().Format("150405.000000") + "@example.com"
	t.Cleanup(func() { _ = s.DeleteOTPs(ctx, email) })

	expires := time.Now().Add(2 * time.Minute)
	if err := s.InsertOTP(ctx, &models.OTP{Email: email, Code: "111111", ExpiresAt: expires}); err != nil {
		t.Fatalf("InsertOTP() error = %v", err)
	}
	stale, err := s.FindOTP(ctx, email, "111111")
	if err != nil {
		t.Fatalf("FindOTP() error = %v", err)
	}
	if err := s.InsertOTP(ctx, &models.OTP{Email: email, Code: "222222", ExpiresAt: expires}); err != nil {
		t.Fatalf("InsertOTP() reissue error = %v", err)
	}

	if err := s.DeleteOTP(ctx, stale); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("DeleteOTP(stale) error = %v, want ErrNotFound", err)
	}
	fresh, err := s.FindOTP(ctx, email, "222222")
	if err != nil {
		t.Fatalf("reissued code should survive a stale delete: %v", err)
	}
	if err := s.DeleteOTP(ctx, fresh); err != nil {
		t.Fatalf("DeleteOTP(fresh) error = %v", err)
	}
	if err := s.DeleteOTP(ctx, fresh); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second DeleteOTP() error = %v, want ErrNotFound", err)
	}
}
