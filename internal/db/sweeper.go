package db

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// ExpiredOTPDeleter 由能够批量删除过期验证码的存储实现。
type ExpiredOTPDeleter interface {
	DeleteExpiredOTPs(ctx context.Context, now time.Time) (int64, error)
}

// StartOTPSweeper 周期性删除已过期的验证码，ctx 取消后退出。
func StartOTPSweeper(ctx context.Context, store ExpiredOTPDeleter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := store.DeleteExpiredOTPs(ctx, time.Now())
				if err != nil {
					log.Error().Err(err).Msg("sweep expired otps")
					continue
				}
				if removed > 0 {
					log.Debug().Int64("removed", removed).Msg("swept expired otps")
				}
			}
		}
	}()
}
