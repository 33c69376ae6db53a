package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"roomchat/internal/models"
	"roomchat/internal/store"
)

const (
	maxRoomIDLen   = 64
	maxRoomNameLen = 128
)

type RoomStore interface {
	FindRoom(ctx context.Context, id string) (*models.Room, error)
	CreateRoom(ctx context.Context, room *models.Room) error
	ListRooms(ctx context.Context, limit int) ([]models.Room, error)
}

// OnlineCounter 提供房间当前在线人数，由 presence.Registry 实现。
type OnlineCounter interface {
	Online(room string) int
}

// RoomService 封装房间相关的业务逻辑。
type RoomService struct {
	store  RoomStore
	online OnlineCounter
}

func NewRoomService(store RoomStore, online OnlineCounter) *RoomService {
	return &RoomService{store: store, online: online}
}

// RoomDTO 是对外输出的房间数据，不包含口令。
type RoomDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	Online    int       `json:"online"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *RoomService) toDTO(r models.Room) RoomDTO {
	return RoomDTO{ID: r.ID, Name: r.Name, CreatedBy: r.CreatedBy, Online: s.online.Online(r.ID), CreatedAt: r.CreatedAt}
}

// Create 创建新房间，ID 已存在时返回 ErrDuplicateID。
func (s *RoomService) Create(ctx context.Context, id, name, secret, createdBy string) (*RoomDTO, error) {
	id = models.NormalizeRoomID(id)
	switch {
	case id == "" || len(id) > maxRoomIDLen:
		return nil, validation("room id must be 1-64 characters")
	case name == "" || len(name) > maxRoomNameLen:
		return nil, validation("room name must be 1-128 characters")
	case secret == "":
		return nil, validation("room secret is required")
	}
	room := models.Room{ID: id, Name: name, Secret: secret, CreatedBy: createdBy}
	if err := s.store.CreateRoom(ctx, &room); err != nil {
		if errors.Is(err, store.ErrDuplicateID) {
			return nil, ErrDuplicateID
		}
		return nil, persistence(err)
	}
	dto := s.toDTO(room)
	return &dto, nil
}

// List 返回房间列表，附带各房间的在线人数。
func (s *RoomService) List(ctx context.Context, limit int) ([]RoomDTO, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	rooms, err := s.store.ListRooms(ctx, limit)
	if err != nil {
		return nil, persistence(err)
	}
	out := make([]RoomDTO, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, s.toDTO(r))
	}
	return out, nil
}

func (s *RoomService) Get(ctx context.Context, id string) (*models.Room, error) {
	room, err := s.store.FindRoom(ctx, models.NormalizeRoomID(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, persistence(err)
	}
	return room, nil
}

// Enter 校验房间口令，成功时返回房间记录。
func (s *RoomService) Enter(ctx context.Context, id, secret string) (*models.Room, error) {
	room, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(room.Secret), []byte(secret)) != 1 {
		return nil, ErrWrongSecret
	}
	return room, nil
}
