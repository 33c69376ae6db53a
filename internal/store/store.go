package store

import (
	"context"
	"errors"
	"time"

	"roomchat/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrDuplicateID = errors.New("duplicate id")
)

// Store 是基于 gorm 的凭据存储适配器，覆盖用户、房间、消息、OTP 与登录失败计数。
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *Store) FindRoom(ctx context.Context, id string) (*models.Room, error) {
	var room models.Room
	if err := s.db.WithContext(ctx).First(&room, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &room, nil
}

// CreateRoom 在事务内先查后写；并发情况下由主键冲突兜底。
func (s *Store) CreateRoom(ctx context.Context, room *models.Room) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Room{}).Where("id = ?", room.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateID
		}
		return tx.Create(room).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateID
	}
	return err
}

func (s *Store) ListRooms(ctx context.Context, limit int) ([]models.Room, error) {
	var rooms []models.Room
	if err := s.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}

// InsertMessage 写入消息，CreatedAt 与 ID 由存储层回填到 msg。
func (s *Store) InsertMessage(ctx context.Context, msg *models.Message) error {
	return s.db.WithContext(ctx).Create(msg).Error
}

// QueryMessages 返回房间最近的 limit 条消息，按时间倒序。
func (s *Store) QueryMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at desc").Order("id desc").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *Store) GetLoginAttempt(ctx context.Context, email string) (*models.LoginAttempt, error) {
	var a models.LoginAttempt
	if err := s.db.WithContext(ctx).First(&a, "email = ?", email).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (s *Store) UpsertLoginAttempt(ctx context.Context, a *models.LoginAttempt) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(a).Error
}

// IncrementLoginAttempt 原子地把 email 的失败次数加一并返回更新后的记录，
// 并发的失败登录不会互相覆盖计数。
func (s *Store) IncrementLoginAttempt(ctx context.Context, email string, at time.Time) (*models.LoginAttempt, error) {
	var a models.LoginAttempt
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.LoginAttempt{Email: email, Attempts: 1, LastAttempt: at}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "email"}},
			DoUpdates: clause.Assignments(map[string]any{
				"attempts":     gorm.Expr("login_attempts.attempts + 1"),
				"last_attempt": at,
			}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
		return tx.First(&a, "email = ?", email).Error
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SetLockout 只写锁定截止时间，不触碰计数。
func (s *Store) SetLockout(ctx context.Context, email string, until time.Time) error {
	return s.db.WithContext(ctx).Model(&models.LoginAttempt{}).
		Where("email = ?", email).
		Update("lockout_until", until).Error
}

func (s *Store) DeleteOTPs(ctx context.Context, email string) error {
	return s.db.WithContext(ctx).Where("email = ?", email).Delete(&models.OTP{}).Error
}

// DeleteOTP 删除单条验证码；记录已被他人删除时返回 ErrNotFound，
// 并发校验同一验证码时只有真正删掉记录的一方算作使用成功。
func (s *Store) DeleteOTP(ctx context.Context, otp *models.OTP) error {
	res := s.db.WithContext(ctx).Delete(&models.OTP{}, otp.ID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) InsertOTP(ctx context.Context, otp *models.OTP) error {
	return s.db.WithContext(ctx).Create(otp).Error
}

func (s *Store) FindOTP(ctx context.Context, email, code string) (*models.OTP, error) {
	var otp models.OTP
	if err := s.db.WithContext(ctx).Where("email = ? AND code = ?", email, code).First(&otp).Error; err != nil {
		return nil, notFound(err)
	}
	return &otp, nil
}

// DeleteExpiredOTPs 删除 now 之前过期的验证码，返回删除条数。
func (s *Store) DeleteExpiredOTPs(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.OTP{})
	return res.RowsAffected, res.Error
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) FindUserByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	err := s.db.WithContext(ctx).Create(u).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateID
	}
	return err
}
