package service

import (
	"context"
	"encoding/base64"
	"time"

	"roomchat/internal/metrics"
	"roomchat/internal/models"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// MessageStore 是消息管道依赖的存储子集。
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *models.Message) error
	QueryMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error)
}

// Broadcaster 把已落库的消息扇出给房间内所有连接，由 ws.Hub 实现。
type Broadcaster interface {
	BroadcastMessage(roomID string, msg MessageDTO)
}

// MessageDTO 是对外输出的消息数据，附件以 base64 字符串携带。
type MessageDTO struct {
	ID        uint        `json:"id"`
	RoomID    string      `json:"room_id"`
	Sender    string      `json:"sender"`
	Kind      models.Kind `json:"kind"`
	Body      string      `json:"body,omitempty"`
	FileData  string      `json:"file_data,omitempty"`
	FileName  string      `json:"file_name,omitempty"`
	MimeType  string      `json:"mime_type,omitempty"`
	FileSize  int64       `json:"file_size,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

func toDTO(m models.Message) MessageDTO {
	return MessageDTO{
		ID:        m.ID,
		RoomID:    m.RoomID,
		Sender:    m.Sender,
		Kind:      m.Kind,
		Body:      m.Body,
		FileData:  m.FileData,
		FileName:  m.FileName,
		MimeType:  m.MimeType,
		FileSize:  m.FileSize,
		CreatedAt: m.CreatedAt,
	}
}

// Content 是一次提交的负载：文本或附件二选一。
type Content struct {
	Kind     models.Kind
	Body     string
	Data     []byte
	FileName string
	MimeType string
}

func TextContent(body string) Content {
	return Content{Kind: models.KindText, Body: body}
}

// FileContent 按 MIME 前缀推断附件类型。
func FileContent(data []byte, fileName, mimeType string) Content {
	return Content{Kind: models.KindForMime(mimeType), Data: data, FileName: fileName, MimeType: mimeType}
}

// MessageService 负责消息的“先落库、后广播”。
type MessageService struct {
	store MessageStore
	bc    Broadcaster
}

func NewMessageService(store MessageStore, bc Broadcaster) *MessageService {
	return &MessageService{store: store, bc: bc}
}

// Submit 落库成功后才广播；落库失败返回 ErrPersistence 且不产生任何广播。
// 同一房间的并发提交按落库完成的先后广播，不保证与提交顺序一致。
// 附件的大小与类型由上传入口在调用前校验。
func (s *MessageService) Submit(ctx context.Context, roomID, sender string, c Content) (MessageDTO, error) {
	msg := models.Message{RoomID: roomID, Sender: sender, Kind: c.Kind}
	if c.Kind == models.KindText {
		msg.Body = c.Body
	} else {
		msg.FileData = base64.StdEncoding.EncodeToString(c.Data)
		msg.FileName = c.FileName
		msg.MimeType = c.MimeType
		msg.FileSize = int64(len(c.Data))
	}
	if err := s.store.InsertMessage(ctx, &msg); err != nil {
		return MessageDTO{}, persistence(err)
	}
	dto := toDTO(msg)
	metrics.WsMessagesTotal.WithLabelValues(string(msg.Kind)).Inc()
	s.bc.BroadcastMessage(roomID, dto)
	return dto, nil
}

// History 返回房间最近 limit 条消息，按时间升序。
func (s *MessageService) History(ctx context.Context, roomID string, limit int) ([]MessageDTO, error) {
	if limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	msgs, err := s.store.QueryMessages(ctx, roomID, limit)
	if err != nil {
		return nil, persistence(err)
	}
	// 存储按倒序返回，这里反转为升序
	out := make([]MessageDTO, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = toDTO(m)
	}
	return out, nil
}
