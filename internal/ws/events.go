package ws

import (
	"encoding/json"
	"time"

	"roomchat/internal/service"
)

// 客户端发来的事件类型
const (
	InJoin   = "join"
	InLeave  = "leave"
	InSend   = "send"
	InTyping = "typing"
)

// 服务端推送的事件类型
const (
	EventPresenceList = "presence_list"
	EventUserJoined   = "user_joined"
	EventUserLeft     = "user_left"
	EventMessage      = "message"
	EventHistory      = "history"
	EventTyping       = "typing"
	EventError        = "error"
)

type Inbound struct {
	Type     string `json:"type"`
	Room     string `json:"room"`
	Secret   string `json:"secret"`
	Content  string `json:"content"`
	IsTyping bool   `json:"is_typing"`
}

type Outbound struct {
	Type     string               `json:"type"`
	Room     string               `json:"room,omitempty"`
	User     string               `json:"user,omitempty"`
	Users    []string             `json:"users,omitempty"`
	Message  *service.MessageDTO  `json:"message,omitempty"`
	Messages []service.MessageDTO `json:"messages,omitempty"`
	IsTyping bool                 `json:"is_typing,omitempty"`
	Error    string               `json:"error,omitempty"`
	At       time.Time            `json:"at"`
}

func encode(evt Outbound) []byte {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	b, _ := json.Marshal(evt)
	return b
}
