package service

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// 业务层通用错误，handler 与 ws 网关根据错误类型映射到 HTTP 状态码或私有错误事件。
// 所有错误只影响产生它的单个请求或连接，不做自动重试。
var (
	ErrValidation         = errors.New("validation failed")
	ErrDuplicateID        = errors.New("duplicate id")
	ErrPersistence        = errors.New("persistence failure")
	ErrInvalidCode        = errors.New("invalid code")
	ErrExpired            = errors.New("code expired")
	ErrTransport          = errors.New("email delivery failed")
	ErrRoomNotFound       = errors.New("room not found")
	ErrWrongSecret        = errors.New("wrong room secret")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// LockedError 表示身份处于锁定期，Remaining 为剩余时长。
type LockedError struct {
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("locked for %d more seconds", e.RemainingSeconds())
}

func (e *LockedError) RemainingSeconds() int {
	return ceilSeconds(e.Remaining)
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

func validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

func persistence(err error) error {
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}
