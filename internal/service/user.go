package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"roomchat/internal/auth"
	"roomchat/internal/models"
	"roomchat/internal/store"

	"github.com/rs/zerolog/log"
)

const (
	minPasswordLen = 6
	maxNameLen     = 64
)

type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
}

// CredentialsError 表示一次密码不匹配，Attempts 为累计失败次数。
type CredentialsError struct {
	Attempts int
	Locked   bool
}

func (e *CredentialsError) Error() string {
	return fmt.Sprintf("invalid credentials (%d failed attempts)", e.Attempts)
}

func (e *CredentialsError) Unwrap() error { return ErrInvalidCredentials }

// UserService 串联注册所需的验证码流程与登录所需的锁定检查。
type UserService struct {
	users     UserStore
	otp       *OTPService
	guard     *LockoutGuard
	jwtSecret string
	tokenTTL  int
}

func NewUserService(users UserStore, otp *OTPService, guard *LockoutGuard, jwtSecret string, tokenTTLMinutes int) *UserService {
	return &UserService{users: users, otp: otp, guard: guard, jwtSecret: jwtSecret, tokenTTL: tokenTTLMinutes}
}

type UserDTO struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func userDTO(u *models.User) UserDTO {
	return UserDTO{ID: u.ID, Name: u.Name, Email: u.Email, CreatedAt: u.CreatedAt}
}

func validName(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && len(name) <= maxNameLen
}

func (s *UserService) exists(ctx context.Context, email string) (bool, error) {
	_, err := s.users.FindUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, persistence(err)
	}
	return true, nil
}

// RequestCode 是注册第一步：邮箱未注册时签发验证码。
func (s *UserService) RequestCode(ctx context.Context, name, email string) error {
	email = models.NormalizeEmail(email)
	if !validName(name) || email == "" {
		return validation("name and email are required")
	}
	taken, err := s.exists(ctx, email)
	if err != nil {
		return err
	}
	if taken {
		return ErrUserExists
	}
	return s.otp.Issue(ctx, email)
}

// VerifyCode 是注册第二步，code 按原样比对；成功后由调用方记住已验证的邮箱。
func (s *UserService) VerifyCode(ctx context.Context, email, code string) error {
	return s.otp.Verify(ctx, email, code)
}

// Register 为已验证的邮箱设置密码并创建用户。
func (s *UserService) Register(ctx context.Context, name, email, password, confirm string) (*UserDTO, error) {
	email = models.NormalizeEmail(email)
	switch {
	case !validName(name) || email == "":
		return nil, validation("name and email are required")
	case len(password) < minPasswordLen:
		return nil, validation("password must be at least 6 characters")
	case password != confirm:
		return nil, validation("passwords do not match")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := models.User{Name: strings.TrimSpace(name), Email: email, PasswordHash: hash}
	if err := s.users.CreateUser(ctx, &u); err != nil {
		if errors.Is(err, store.ErrDuplicateID) {
			return nil, ErrUserExists
		}
		return nil, persistence(err)
	}
	log.Info().Uint("user_id", u.ID).Str("email", email).Msg("user registered")
	dto := userDTO(&u)
	return &dto, nil
}

type LoginResult struct {
	AccessToken string  `json:"access_token"`
	User        UserDTO `json:"user"`
}

// Login 先检查锁定状态，再比对密码；失败计入锁定账本，成功则清零。
// 锁定期间返回 *LockedError，密码错误返回 *CredentialsError。
func (s *UserService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = models.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, validation("email and password are required")
	}
	lock, err := s.guard.Check(ctx, email)
	if err != nil {
		return nil, err
	}
	if lock.Locked {
		return nil, &LockedError{Remaining: time.Duration(lock.RemainingSeconds) * time.Second}
	}

	u, err := s.users.FindUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, persistence(err)
	}
	if u == nil || !auth.VerifyPassword(u.PasswordHash, password) {
		a, ferr := s.guard.RecordFailure(ctx, email)
		if ferr != nil {
			return nil, ferr
		}
		log.Warn().Str("email", email).Int("attempts", a.Attempts).Msg("login failed")
		return nil, &CredentialsError{Attempts: a.Attempts, Locked: a.Attempts >= s.guard.Threshold()}
	}

	if err := s.guard.RecordSuccess(ctx, email); err != nil {
		return nil, err
	}
	token, err := auth.GenerateAccessToken(u.ID, u.Name, s.jwtSecret, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &LoginResult{AccessToken: token, User: userDTO(u)}, nil
}
