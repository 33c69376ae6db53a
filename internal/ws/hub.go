package ws

import (
	"sync"

	"roomchat/internal/metrics"
	"roomchat/internal/presence"
	"roomchat/internal/service"

	"github.com/rs/zerolog/log"
)

const (
	sendQueueSize = 256
	roomQueueSize = 256
)

// Hub 管理房间级别的子 Hub，实现延迟创建与并发安全。
type Hub struct {
	mu       sync.Mutex
	rooms    map[string]*RoomHub
	presence *presence.Registry
	quit     chan struct{}
	closed   bool
}

func NewHub(reg *presence.Registry) *Hub {
	return &Hub{rooms: make(map[string]*RoomHub), presence: reg, quit: make(chan struct{})}
}

// Room 若房间未初始化则懒加载一个 RoomHub。
func (h *Hub) Room(roomID string) *RoomHub {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rh, ok := h.rooms[roomID]; ok {
		return rh
	}
	rh := newRoomHub(roomID, h)
	h.rooms[roomID] = rh
	if !h.closed {
		go rh.run()
	}
	return rh
}

// Join 把 c 加入房间并返回承载它的 RoomHub。
// 拿到的 RoomHub 若恰好在投递前被回收，就换一个新建的重试。
func (h *Hub) Join(roomID string, c *Client) *RoomHub {
	for {
		rh := h.Room(roomID)
		if rh.wait(evJoin, c) || !rh.isStopped() {
			return rh
		}
	}
}

// BroadcastMessage 把已落库的消息推给房间内所有连接。
func (h *Hub) BroadcastMessage(roomID string, msg service.MessageDTO) {
	payload := encode(Outbound{Type: EventMessage, Room: roomID, Message: &msg})
	for {
		rh := h.Room(roomID)
		if rh.post(roomEvent{kind: evBroadcast, payload: payload}) || !rh.isStopped() {
			return
		}
	}
}

// reap 在房间没有连接且队列为空时摘除 rh，返回后其循环应退出。
// 有发送方正持有 rh.mu 时放弃本次回收，留给下一次空闲。
func (h *Hub) reap(rh *RoomHub) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !rh.mu.TryLock() {
		return false
	}
	defer rh.mu.Unlock()
	if len(rh.events) > 0 || len(rh.clients) > 0 {
		return false
	}
	rh.stopped = true
	if h.rooms[rh.id] == rh {
		delete(h.rooms, rh.id)
	}
	return true
}

// Close 停止所有房间循环，之后投递的事件会被丢弃。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.quit)
	}
}

type eventKind int

const (
	evJoin eventKind = iota
	evLeave
	evBroadcast
)

type roomEvent struct {
	kind    eventKind
	client  *Client
	payload []byte
	done    chan struct{}
}

// RoomHub 用单个 FIFO 队列串行处理一个房间的 join、leave 与广播，
// 在线表变更与对应通知的先后顺序因此在所有连接上一致。
// 房间空闲时循环退出并从 Hub 摘除，下一次访问重新创建。
type RoomHub struct {
	id       string
	hub      *Hub
	presence *presence.Registry
	clients  map[*Client]struct{}
	events   chan roomEvent
	quit     <-chan struct{}

	// mu 的读锁覆盖每次投递，stopped 之后不再接受事件
	mu      sync.RWMutex
	stopped bool
}

func newRoomHub(id string, h *Hub) *RoomHub {
	return &RoomHub{
		id:       id,
		hub:      h,
		presence: h.presence,
		clients:  make(map[*Client]struct{}),
		events:   make(chan roomEvent, roomQueueSize),
		quit:     h.quit,
	}
}

func (rh *RoomHub) ID() string { return rh.id }

func (rh *RoomHub) post(evt roomEvent) bool {
	rh.mu.RLock()
	defer rh.mu.RUnlock()
	if rh.stopped {
		return false
	}
	select {
	case rh.events <- evt:
		return true
	case <-rh.quit:
		return false
	}
}

func (rh *RoomHub) isStopped() bool {
	rh.mu.RLock()
	defer rh.mu.RUnlock()
	return rh.stopped
}

// wait 投递事件并等待房间循环处理完毕；未能投递时返回 false。
func (rh *RoomHub) wait(kind eventKind, c *Client) bool {
	done := make(chan struct{})
	if !rh.post(roomEvent{kind: kind, client: c, done: done}) {
		return false
	}
	select {
	case <-done:
	case <-rh.quit:
	}
	return true
}

// Leave 只应由房间内的连接调用，成员存在时房间不会被回收。
func (rh *RoomHub) Leave(c *Client) { rh.wait(evLeave, c) }

// Broadcast 把 payload 推给房间内除 except 以外的所有连接。
func (rh *RoomHub) Broadcast(payload []byte, except *Client) {
	rh.post(roomEvent{kind: evBroadcast, client: except, payload: payload})
}

func (rh *RoomHub) run() {
	for {
		select {
		case <-rh.quit:
			return
		case evt := <-rh.events:
			switch evt.kind {
			case evJoin:
				rh.join(evt.client)
			case evLeave:
				rh.leave(evt.client)
			case evBroadcast:
				rh.fanout(evt.payload, evt.client)
			}
			if evt.done != nil {
				close(evt.done)
			}
			if len(rh.clients) == 0 && rh.hub.reap(rh) {
				log.Debug().Str("room", rh.id).Msg("room idle, reaped")
				return
			}
		}
	}
}

func (rh *RoomHub) fanout(payload []byte, except *Client) {
	for c := range rh.clients {
		if c != except {
			c.enqueue(payload)
		}
	}
}

func (rh *RoomHub) presenceList() []byte {
	return encode(Outbound{Type: EventPresenceList, Room: rh.id, Users: rh.presence.ListUsers(rh.id)})
}

func (rh *RoomHub) join(c *Client) {
	rh.clients[c] = struct{}{}
	if rh.presence.Attach(rh.id, c.name, c.id) {
		rh.fanout(encode(Outbound{Type: EventUserJoined, Room: rh.id, User: c.name}), c)
	}
	list := rh.presenceList()
	c.enqueue(list)
	rh.fanout(list, nil)
	log.Debug().Str("room", rh.id).Str("user", c.name).Str("conn", c.id).Msg("joined")
}

func (rh *RoomHub) leave(c *Client) {
	if _, ok := rh.clients[c]; !ok {
		return
	}
	delete(rh.clients, c)
	gone := rh.presence.Detach(rh.id, c.name, c.id)
	if rh.presence.Online(rh.id) > 0 {
		rh.fanout(rh.presenceList(), nil)
	}
	if gone {
		rh.fanout(encode(Outbound{Type: EventUserLeft, Room: rh.id, User: c.name}), nil)
	}
	log.Debug().Str("room", rh.id).Str("user", c.name).Str("conn", c.id).Msg("left")
}

// Client 是一条连接在网关内的句柄；send 满时连接被判定为慢消费者并关闭。
type Client struct {
	id   string
	name string
	send chan []byte

	mu     sync.Mutex
	closed bool

	// room 只在该连接的读 goroutine 内访问
	room *RoomHub
}

func NewClient(id, name string) *Client {
	return &Client{id: id, name: name, send: make(chan []byte, sendQueueSize)}
}

func (c *Client) ID() string   { return c.id }
func (c *Client) Name() string { return c.name }

func (c *Client) enqueue(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		c.closed = true
		close(c.send)
		metrics.WsDroppedClients.Inc()
		log.Warn().Str("conn", c.id).Str("user", c.name).Msg("send queue full, dropping client")
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
