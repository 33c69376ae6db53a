package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

const (
	defaultJWTSecret     = "dev-secret-change-me"
	defaultSessionSecret = "dev-session-secret-change-me"
)

type Config struct {
	Port                  string `toml:"port"`
	DatabaseDSN           string `toml:"database_dsn"`
	RedisURL              string `toml:"redis_url"`
	JWTSecret             string `toml:"jwt_secret"`
	SessionSecret         string `toml:"session_secret"`
	Env                   string `toml:"env"`
	LogLevel              string `toml:"log_level"`
	AccessTokenTTLMinutes int    `toml:"access_token_ttl_minutes"`

	MailProvider string `toml:"mail_provider"`
	MailFrom     string `toml:"mail_from"`
	SMTPHost     string `toml:"smtp_host"`
	SMTPPort     int    `toml:"smtp_port"`
	SMTPUser     string `toml:"smtp_user"`
	SMTPPassword string `toml:"smtp_password"`

	OTPTTLSeconds          int  `toml:"otp_ttl_seconds"`
	OTPSweepSeconds        int  `toml:"otp_sweep_seconds"`
	OTPRollbackOnSendError bool `toml:"otp_rollback_on_send_error"`
	LockoutThreshold       int  `toml:"lockout_threshold"`
	LockoutSeconds         int  `toml:"lockout_seconds"`

	HistoryLimit          int   `toml:"history_limit"`
	MaxUploadBytes        int64 `toml:"max_upload_bytes"`
	WSEventTimeoutSeconds int   `toml:"ws_event_timeout_seconds"`
}

// Default 返回本地开发可直接运行的默认配置。
func Default() Config {
	return Config{
		Port:                  "8080",
		DatabaseDSN:           "host=localhost user=postgres password=postgres dbname=roomchat port=5432 sslmode=disable TimeZone=UTC",
		JWTSecret:             defaultJWTSecret,
		SessionSecret:         defaultSessionSecret,
		Env:                   "dev",
		AccessTokenTTLMinutes: 15,
		MailProvider:          "log",
		MailFrom:              "no-reply@roomchat.local",
		SMTPPort:              587,
		OTPTTLSeconds:         120,
		OTPSweepSeconds:       60,
		LockoutThreshold:      5,
		LockoutSeconds:        60,
		HistoryLimit:          50,
		MaxUploadBytes:        16 << 20,
		WSEventTimeoutSeconds: 10,
	}
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 只接受正整数，其余情况回退到默认值。
func getenvInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return b
}

// LoadFile 在默认配置之上叠加 TOML 文件，文件中未出现的字段保持默认值。
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Load 依次应用默认值、CONFIG_FILE 指向的 TOML 文件以及环境变量；文件无法解析时忽略该文件。
func Load() Config {
	cfg, err := LoadFrom(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return applyEnv(Default())
	}
	return cfg
}

// LoadFrom 与 Load 相同，但文件路径由调用方指定，解析错误会返回。
func LoadFrom(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return cfg, err
		}
	}
	return applyEnv(cfg), nil
}

func applyEnv(cfg Config) Config {
	cfg.Port = getenv("APP_PORT", cfg.Port)
	cfg.DatabaseDSN = getenv("DATABASE_DSN", cfg.DatabaseDSN)
	cfg.RedisURL = getenv("REDIS_URL", cfg.RedisURL)
	cfg.JWTSecret = getenv("JWT_SECRET", cfg.JWTSecret)
	cfg.SessionSecret = getenv("SESSION_SECRET", cfg.SessionSecret)
	cfg.Env = getenv("APP_ENV", cfg.Env)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.AccessTokenTTLMinutes = getenvInt("ACCESS_TOKEN_TTL_MINUTES", cfg.AccessTokenTTLMinutes)

	cfg.MailProvider = getenv("MAIL_PROVIDER", cfg.MailProvider)
	cfg.MailFrom = getenv("MAIL_FROM", cfg.MailFrom)
	cfg.SMTPHost = getenv("SMTP_HOST", cfg.SMTPHost)
	cfg.SMTPPort = getenvInt("SMTP_PORT", cfg.SMTPPort)
	cfg.SMTPUser = getenv("SMTP_USER", cfg.SMTPUser)
	cfg.SMTPPassword = getenv("SMTP_PASSWORD", cfg.SMTPPassword)

	cfg.OTPTTLSeconds = getenvInt("OTP_TTL_SECONDS", cfg.OTPTTLSeconds)
	cfg.OTPSweepSeconds = getenvInt("OTP_SWEEP_SECONDS", cfg.OTPSweepSeconds)
	cfg.OTPRollbackOnSendError = getenvBool("OTP_ROLLBACK_ON_SEND_ERROR", cfg.OTPRollbackOnSendError)
	cfg.LockoutThreshold = getenvInt("LOCKOUT_THRESHOLD", cfg.LockoutThreshold)
	cfg.LockoutSeconds = getenvInt("LOCKOUT_SECONDS", cfg.LockoutSeconds)

	cfg.HistoryLimit = getenvInt("HISTORY_LIMIT", cfg.HistoryLimit)
	if n, err := strconv.ParseInt(os.Getenv("MAX_UPLOAD_BYTES"), 10, 64); err == nil && n > 0 {
		cfg.MaxUploadBytes = n
	}
	cfg.WSEventTimeoutSeconds = getenvInt("WS_EVENT_TIMEOUT_SECONDS", cfg.WSEventTimeoutSeconds)
	return cfg
}

// Validate 在启动前检查关键配置，非 dev 环境禁止使用默认密钥与日志发信。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("port is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("database dsn is required")
	}
	if cfg.Env != "dev" {
		if cfg.JWTSecret == "" || cfg.JWTSecret == defaultJWTSecret {
			return errors.New("jwt secret must be set outside dev")
		}
		if cfg.SessionSecret == "" || cfg.SessionSecret == defaultSessionSecret {
			return errors.New("session secret must be set outside dev")
		}
	}
	switch cfg.MailProvider {
	case "log":
		// log 会把验证码原文写进日志，只允许在本地开发时使用
		if cfg.Env != "dev" {
			return errors.New("log mail provider is only allowed in dev")
		}
	case "smtp":
		if cfg.SMTPHost == "" {
			return errors.New("smtp host is required for smtp mail provider")
		}
	default:
		return fmt.Errorf("unknown mail provider %q", cfg.MailProvider)
	}
	return nil
}
