// Package testutil contains shared test doubles and fixtures.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"roomchat/internal/db"
	"roomchat/internal/store"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// OpenDB opens a migrated in-memory SQLite database private to the test.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), db.Config())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

// NewStore returns a Store backed by OpenDB.
func NewStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(OpenDB(t))
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock { return &Clock{now: start} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// SentCode is one delivery recorded by RecordingTransport.
type SentCode struct {
	To   string
	Code string
}

// RecordingTransport records deliveries and fails with Err when set.
type RecordingTransport struct {
	mu   sync.Mutex
	Err  error
	sent []SentCode
}

func (r *RecordingTransport) Send(ctx context.Context, to, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, SentCode{To: to, Code: code})
	return nil
}

func (r *RecordingTransport) Sent() []SentCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SentCode(nil), r.sent...)
}

// LastCode returns the most recent code delivered to addr.
func (r *RecordingTransport) LastCode(t *testing.T, addr string) string {
	t.Helper()
	sent := r.Sent()
	for i := len(sent) - 1; i >= 0; i-- {
		if sent[i].To == addr {
			return sent[i].Code
		}
	}
	t.Fatalf("no code delivered to %s", addr)
	return ""
}
