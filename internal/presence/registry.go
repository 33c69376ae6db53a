// Package presence 维护进程内“房间 -> 在线用户名”的映射。
//
// 每个操作都在一次加锁内完成读改写，调用方不会观察到中间状态。
// 进程重启后状态全部丢失，客户端重连时需要重新 join。
package presence

import "sync"

// nameHolder 是 Join/Leave 使用的匿名持有者。
const nameHolder = ""

type roomEntry struct {
	names   []string
	holders map[string]map[string]struct{}
}

func (e *roomEntry) remove(name string) {
	delete(e.holders, name)
	for i, n := range e.names {
		if n == name {
			e.names = append(e.names[:i], e.names[i+1:]...)
			return
		}
	}
}

// Registry 是显式持有的在线表，由 main 创建后注入网关。
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*roomEntry
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*roomEntry)}
}

// Join 将 user 加入 room，已存在时无副作用。
func (r *Registry) Join(room, user string) {
	r.Attach(room, user, nameHolder)
}

// Leave 移除 user，不论仍有多少连接持有该名字；房间为空时删除整个条目。
func (r *Registry) Leave(room, user string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rooms[room]
	if !ok {
		return
	}
	e.remove(user)
	if len(e.names) == 0 {
		delete(r.rooms, room)
	}
}

// Attach 记录连接 connID 以 user 身份加入 room，返回名字是否因此新出现在房间里。
// 同名的多个连接共享一个名字条目，直到最后一个连接 Detach。
func (r *Registry) Attach(room, user, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rooms[room]
	if !ok {
		e = &roomEntry{holders: make(map[string]map[string]struct{})}
		r.rooms[room] = e
	}
	h, added := e.holders[user], false
	if h == nil {
		h = make(map[string]struct{})
		e.holders[user] = h
		e.names = append(e.names, user)
		added = true
	}
	h[connID] = struct{}{}
	return added
}

// Detach 撤销 connID 对 user 的持有，返回名字是否因此离开房间。
func (r *Registry) Detach(room, user, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rooms[room]
	if !ok {
		return false
	}
	h, ok := e.holders[user]
	if !ok {
		return false
	}
	delete(h, connID)
	if len(h) > 0 {
		return false
	}
	e.remove(user)
	if len(e.names) == 0 {
		delete(r.rooms, room)
	}
	return true
}

// ListUsers 按加入顺序返回房间内用户名的副本。
func (r *Registry) ListUsers(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rooms[room]
	if !ok {
		return []string{}
	}
	return append([]string(nil), e.names...)
}

func (r *Registry) Online(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.rooms[room]; ok {
		return len(e.names)
	}
	return 0
}

// Has 报告房间条目是否存在；空房间不会保留条目。
func (r *Registry) Has(room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[room]
	return ok
}

// Rooms 返回当前有人在线的房间数。
func (r *Registry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
