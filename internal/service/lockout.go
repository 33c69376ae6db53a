package service

import (
	"context"
	"errors"
	"time"

	"roomchat/internal/metrics"
	"roomchat/internal/models"
	"roomchat/internal/store"
)

const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 60 * time.Second
)

type AttemptStore interface {
	GetLoginAttempt(ctx context.Context, email string) (*models.LoginAttempt, error)
	UpsertLoginAttempt(ctx context.Context, a *models.LoginAttempt) error
	IncrementLoginAttempt(ctx context.Context, email string, at time.Time) (*models.LoginAttempt, error)
	SetLockout(ctx context.Context, email string, until time.Time) error
}

// Lockout 是一次检查的结果。
type Lockout struct {
	Locked           bool
	RemainingSeconds int
}

// LockoutGuard 记录连续登录失败次数，达到阈值后锁定一段时间。
// 它不比对凭据，只是一本限流账；锁定在下一次检查时惰性解除。
type LockoutGuard struct {
	store     AttemptStore
	threshold int
	duration  time.Duration
	now       func() time.Time
}

func NewLockoutGuard(store AttemptStore, threshold int, duration time.Duration, now func() time.Time) *LockoutGuard {
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	if duration <= 0 {
		duration = DefaultLockoutDuration
	}
	if now == nil {
		now = time.Now
	}
	return &LockoutGuard{store: store, threshold: threshold, duration: duration, now: now}
}

func (g *LockoutGuard) load(ctx context.Context, email string) (*models.LoginAttempt, error) {
	a, err := g.store.GetLoginAttempt(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, persistence(err)
	}
	return a, nil
}

// Check 报告 email 是否处于锁定期；锁定已过期时顺带清零计数。
func (g *LockoutGuard) Check(ctx context.Context, email string) (Lockout, error) {
	email = models.NormalizeEmail(email)
	a, err := g.load(ctx, email)
	if err != nil || a == nil || a.LockoutUntil == nil {
		return Lockout{}, err
	}
	now := g.now()
	if now.Before(*a.LockoutUntil) {
		return Lockout{Locked: true, RemainingSeconds: ceilSeconds(a.LockoutUntil.Sub(now))}, nil
	}
	a.Attempts = 0
	a.LockoutUntil = nil
	if err := g.store.UpsertLoginAttempt(ctx, a); err != nil {
		return Lockout{}, persistence(err)
	}
	return Lockout{}, nil
}

// RecordFailure 累加失败次数，达到阈值时设置锁定截止时间。
// 计数由存储层原子递增，并发失败各自计入。
func (g *LockoutGuard) RecordFailure(ctx context.Context, email string) (*models.LoginAttempt, error) {
	email = models.NormalizeEmail(email)
	now := g.now()
	a, err := g.store.IncrementLoginAttempt(ctx, email, now)
	if err != nil {
		return nil, persistence(err)
	}
	if a.Attempts >= g.threshold {
		if a.LockoutUntil == nil || !now.Before(*a.LockoutUntil) {
			metrics.LockoutsTotal.Inc()
		}
		until := now.Add(g.duration)
		if err := g.store.SetLockout(ctx, email, until); err != nil {
			return nil, persistence(err)
		}
		a.LockoutUntil = &until
	}
	return a, nil
}

// RecordSuccess 清零计数并解除锁定；没有记录时什么也不做。
func (g *LockoutGuard) RecordSuccess(ctx context.Context, email string) error {
	email = models.NormalizeEmail(email)
	a, err := g.load(ctx, email)
	if err != nil || a == nil {
		return err
	}
	a.Attempts = 0
	a.LockoutUntil = nil
	if err := g.store.UpsertLoginAttempt(ctx, a); err != nil {
		return persistence(err)
	}
	return nil
}

func (g *LockoutGuard) Threshold() int { return g.threshold }
