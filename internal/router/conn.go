package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"handoff/internal/auth"
	"handoff/internal/chat"
)

type connRole string

const (
	roleVisitor connRole = "visitor"
	roleAgent   connRole = "agent"
	roleAdmin   connRole = "admin"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
)

// conn is one live websocket session. Outbound events are queued on send
// and written by a single writer goroutine; a client that falls too far
// behind is disconnected instead of stalling whoever is broadcasting.
type conn struct {
	id   string
	role connRole
	ws   *websocket.Conn
	send chan []byte
	log  *slog.Logger

	closeOnce sync.Once

	mu       sync.Mutex
	identity *auth.Identity
	name     string
	roomID   string // visitor: its room; agent: the room it has claimed
}

func newConn(ws *websocket.Conn, role connRole) *conn {
	id := uuid.NewString()
	return &conn{
		id:   id,
		role: role,
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		log:  slog.With("conn", id, "role", string(role)),
	}
}

// agentID is the identity a claim is recorded under. It is per connection,
// so a dropped connection releases exactly the room it held.
func (c *conn) agentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return ""
	}
	return c.identity.Subject + "#" + c.id
}

func (c *conn) agent() chat.Agent {
	return chat.Agent{ID: c.agentID(), Name: c.displayName()}
}

func (c *conn) displayName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *conn) room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *conn) bind(roomID string) {
	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()
}

// unbind clears the room binding if it still points at roomID.
func (c *conn) unbind(roomID string) {
	c.mu.Lock()
	if c.roomID == roomID {
		c.roomID = ""
	}
	c.mu.Unlock()
}

func (c *conn) authenticated() (auth.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return auth.Identity{}, false
	}
	return *c.identity, true
}

func (c *conn) setIdentity(id auth.Identity, name string) {
	c.mu.Lock()
	c.identity = &id
	c.name = name
	c.mu.Unlock()
}

// emit queues an event for delivery and never blocks.
func (c *conn) emit(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Error("failed to encode event", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn("send buffer full, dropping connection")
		c.closeSlow()
	}
}

func (c *conn) closeSlow() {
	c.closeOnce.Do(func() {
		go c.ws.Close(websocket.StatusPolicyViolation, "connection too slow to keep up with messages")
	})
}

func (c *conn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.log.Info("write failed", "error", err)
				return
			}
		}
	}
}
