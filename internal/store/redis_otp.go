package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"roomchat/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	otpKeyPrefix = "otp:" // otp:{email} - hash{code, expires_at, created_at}

	// 过期后仍保留一段时间，使校验能区分“已过期”与“不存在”。
	DefaultOTPGrace = 10 * time.Minute
)

// RedisOTPStore 用 Redis 保存验证码，每个邮箱一个 hash，key 的 TTL 负责被动清理。
type RedisOTPStore struct {
	rdb   *redis.Client
	grace time.Duration
}

func NewRedisOTPStore(rdb *redis.Client, grace time.Duration) *RedisOTPStore {
	return &RedisOTPStore{rdb: rdb, grace: grace}
}

// OpenRedis 解析 redis:// URL 并确认连接可用。
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func otpKey(email string) string { return otpKeyPrefix + email }

func (s *RedisOTPStore) DeleteOTPs(ctx context.Context, email string) error {
	return s.rdb.Del(ctx, otpKey(email)).Err()
}

// deleteIfCode 只在 hash 里的 code 仍是调用方读到的那个时才删除 key，
// 避免校验与重新签发交错时误删新验证码。
var deleteIfCode = redis.NewScript(`
if redis.call("HGET", KEYS[1], "code") == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// DeleteOTP 删除 otp 对应的记录；code 已被替换或记录已不存在时返回 ErrNotFound。
func (s *RedisOTPStore) DeleteOTP(ctx context.Context, otp *models.OTP) error {
	n, err := deleteIfCode.Run(ctx, s.rdb, []string{otpKey(otp.Email)}, otp.Code).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisOTPStore) InsertOTP(ctx context.Context, otp *models.OTP) error {
	if otp.CreatedAt.IsZero() {
		otp.CreatedAt = time.Now()
	}
	key := otpKey(otp.Email)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, map[string]any{
			"code":       otp.Code,
			"expires_at": strconv.FormatInt(otp.ExpiresAt.UnixNano(), 10),
			"created_at": strconv.FormatInt(otp.CreatedAt.UnixNano(), 10),
		})
		p.ExpireAt(ctx, key, otp.ExpiresAt.Add(s.grace))
		return nil
	})
	return err
}

func (s *RedisOTPStore) FindOTP(ctx context.Context, email, code string) (*models.OTP, error) {
	fields, err := s.rdb.HGetAll(ctx, otpKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(fields) == 0 || fields["code"] != code {
		return nil, ErrNotFound
	}
	expires, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt otp record for %s: %w", email, err)
	}
	created, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	return &models.OTP{
		Email:     email,
		Code:      code,
		ExpiresAt: time.Unix(0, expires),
		CreatedAt: time.Unix(0, created),
	}, nil
}
