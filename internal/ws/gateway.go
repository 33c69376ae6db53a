package ws

import (
	"context"
	"errors"
	"strings"
	"time"

	"roomchat/internal/service"

	"github.com/rs/zerolog/log"
)

// Gateway 把单条连接上的入站事件分派给在线表与消息管道。
// Handle 与 Disconnect 只能在该连接自己的读 goroutine 中调用。
type Gateway struct {
	hub          *Hub
	msgs         *service.MessageService
	rooms        *service.RoomService
	historyLimit int
	timeout      time.Duration
}

func NewGateway(hub *Hub, msgs *service.MessageService, rooms *service.RoomService, historyLimit int, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{hub: hub, msgs: msgs, rooms: rooms, historyLimit: historyLimit, timeout: timeout}
}

func (g *Gateway) Handle(ctx context.Context, c *Client, in Inbound) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	switch in.Type {
	case InJoin:
		g.join(ctx, c, in.Room, in.Secret)
	case InLeave:
		g.leave(c)
	case InSend:
		g.send(ctx, c, in.Content)
	case InTyping:
		if c.room != nil {
			c.room.Broadcast(encode(Outbound{Type: EventTyping, Room: c.room.id, User: c.name, IsTyping: in.IsTyping}), c)
		}
	default:
		privateError(c, "unknown event type")
	}
}

// Disconnect 释放连接占用的在线名额并关闭发送队列；未 join 过的连接只关闭队列。
func (g *Gateway) Disconnect(c *Client) {
	g.leave(c)
	c.close()
}

func (g *Gateway) join(ctx context.Context, c *Client, roomID, secret string) {
	room, err := g.rooms.Enter(ctx, roomID, secret)
	if err != nil {
		privateError(c, errorText(err))
		return
	}
	if c.room != nil && c.room.id == room.ID {
		c.enqueue(c.room.presenceList())
		g.sendHistory(ctx, c, room.ID)
		return
	}
	g.leave(c)

	c.room = g.hub.Join(room.ID, c)
	g.sendHistory(ctx, c, room.ID)
}

func (g *Gateway) sendHistory(ctx context.Context, c *Client, roomID string) {
	hist, err := g.msgs.History(ctx, roomID, g.historyLimit)
	if err != nil {
		log.Error().Err(err).Str("room", roomID).Msg("load history")
		privateError(c, errorText(err))
		return
	}
	c.enqueue(encode(Outbound{Type: EventHistory, Room: roomID, Messages: hist}))
}

func (g *Gateway) leave(c *Client) {
	if c.room == nil {
		return
	}
	c.room.Leave(c)
	c.room = nil
}

func (g *Gateway) send(ctx context.Context, c *Client, content string) {
	if c.room == nil {
		privateError(c, "join a room first")
		return
	}
	if strings.TrimSpace(content) == "" {
		privateError(c, "message content is required")
		return
	}
	if _, err := g.msgs.Submit(ctx, c.room.id, c.name, service.TextContent(content)); err != nil {
		log.Error().Err(err).Str("room", c.room.id).Str("user", c.name).Msg("submit message")
		privateError(c, errorText(err))
	}
}

func privateError(c *Client, msg string) {
	c.enqueue(encode(Outbound{Type: EventError, Error: msg}))
}

func errorText(err error) string {
	switch {
	case errors.Is(err, service.ErrRoomNotFound):
		return "room not found"
	case errors.Is(err, service.ErrWrongSecret):
		return "wrong room secret"
	case errors.Is(err, service.ErrValidation):
		return err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	default:
		return "message could not be saved"
	}
}
