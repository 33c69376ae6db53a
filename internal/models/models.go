package models

import (
	"strings"
	"time"
)

// Kind 标识消息负载类型。
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
)

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"size:64;not null"`
	Email        string `gorm:"uniqueIndex;size:254;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Room 创建后不再修改，ID 为规范化后的房间标识。
type Room struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:128;not null"`
	Secret    string `gorm:"size:128;not null"`
	CreatedBy string `gorm:"size:64;not null"`
	CreatedAt time.Time
}

// Message 中 Body 与 FileData 二者只会填充其一。
type Message struct {
	ID        uint   `gorm:"primaryKey"`
	RoomID    string `gorm:"index:idx_msg_room_created,priority:1;size:64;not null"`
	Sender    string `gorm:"size:64;not null"`
	Kind      Kind   `gorm:"size:16;not null"`
	Body      string `gorm:"type:text"`
	FileData  string `gorm:"type:text"`
	FileName  string `gorm:"size:255"`
	MimeType  string `gorm:"size:128"`
	FileSize  int64
	CreatedAt time.Time `gorm:"index:idx_msg_room_created,priority:2"`
}

type OTP struct {
	ID        uint      `gorm:"primaryKey"`
	Email     string    `gorm:"index;size:254;not null"`
	Code      string    `gorm:"size:16;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time
}

func (OTP) TableName() string { return "otps" }

type LoginAttempt struct {
	Email        string `gorm:"primaryKey;size:254"`
	Attempts     int    `gorm:"not null;default:0"`
	LockoutUntil *time.Time
	LastAttempt  time.Time
}

// NormalizeEmail 与 NormalizeRoomID 保证同一身份在存储中只有一种写法。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func NormalizeRoomID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// KindForMime 按 MIME 前缀归类附件。
func KindForMime(mimeType string) Kind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo
	default:
		return KindDocument
	}
}
