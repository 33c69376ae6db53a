package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"roomchat/internal/metrics"
	"roomchat/internal/models"
	"roomchat/internal/store"

	"github.com/rs/zerolog/log"
)

const (
	DefaultOTPTTL = 120 * time.Second

	codeMin   = 100000
	codeRange = 900000
)

// OTPStore 是验证码生命周期依赖的存储子集，gorm 与 Redis 两种实现均满足。
type OTPStore interface {
	DeleteOTPs(ctx context.Context, email string) error
	InsertOTP(ctx context.Context, otp *models.OTP) error
	FindOTP(ctx context.Context, email, code string) (*models.OTP, error)
	DeleteOTP(ctx context.Context, otp *models.OTP) error
}

// EmailTransport 把验证码投递到邮箱，返回前必须已经得到投递结果。
type EmailTransport interface {
	Send(ctx context.Context, to, code string) error
}

type OTPOptions struct {
	TTL time.Duration
	// RollbackOnSendError 为 true 时，投递失败会先删除刚写入的记录再返回错误。
	RollbackOnSendError bool
	Now                 func() time.Time
}

// OTPService 负责验证码的签发、校验与作废。
type OTPService struct {
	store     OTPStore
	transport EmailTransport
	ttl       time.Duration
	rollback  bool
	now       func() time.Time
}

func NewOTPService(store OTPStore, transport EmailTransport, opts OTPOptions) *OTPService {
	if opts.TTL <= 0 {
		opts.TTL = DefaultOTPTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &OTPService{store: store, transport: transport, ttl: opts.TTL, rollback: opts.RollbackOnSendError, now: opts.Now}
}

// GenerateCode 生成 6 位数字验证码，在 [100000, 999999] 上均匀分布。
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeRange))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

// Issue 作废该邮箱已有的验证码，写入新记录并同步等待邮件投递结果。
func (s *OTPService) Issue(ctx context.Context, email string) error {
	email = models.NormalizeEmail(email)
	if email == "" {
		return validation("email is required")
	}
	if err := s.store.DeleteOTPs(ctx, email); err != nil {
		return persistence(err)
	}
	code, err := GenerateCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	now := s.now()
	rec := &models.OTP{Email: email, Code: code, ExpiresAt: now.Add(s.ttl), CreatedAt: now}
	if err := s.store.InsertOTP(ctx, rec); err != nil {
		metrics.OTPIssuedTotal.WithLabelValues("store_error").Inc()
		return persistence(err)
	}
	if err := s.transport.Send(ctx, email, code); err != nil {
		metrics.OTPIssuedTotal.WithLabelValues("transport_error").Inc()
		if s.rollback {
			if derr := s.store.DeleteOTP(ctx, rec); derr != nil {
				log.Error().Err(derr).Str("email", email).Msg("rollback otp after send failure")
			}
		}
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	metrics.OTPIssuedTotal.WithLabelValues("ok").Inc()
	return nil
}

// Verify 校验验证码；无论成功还是过期，命中的记录都会被删除。
func (s *OTPService) Verify(ctx context.Context, email, code string) error {
	email = models.NormalizeEmail(email)
	if email == "" || code == "" {
		return validation("email and code are required")
	}
	rec, err := s.store.FindOTP(ctx, email, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.OTPVerifiedTotal.WithLabelValues("invalid").Inc()
			return ErrInvalidCode
		}
		return persistence(err)
	}
	expired := !s.now().Before(rec.ExpiresAt)
	// 删除成功才算认领了这条记录，并发校验中落败的一方按无效处理
	if err := s.store.DeleteOTP(ctx, rec); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.OTPVerifiedTotal.WithLabelValues("invalid").Inc()
			return ErrInvalidCode
		}
		return persistence(err)
	}
	if expired {
		metrics.OTPVerifiedTotal.WithLabelValues("expired").Inc()
		return ErrExpired
	}
	metrics.OTPVerifiedTotal.WithLabelValues("ok").Inc()
	return nil
}
