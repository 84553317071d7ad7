// Package router connects visitors, agents and admins to the hub over
// websockets. Each connection is an actor with its own writer goroutine;
// handlers call into the hub and fan the results out to the right
// connections according to the room's state.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"handoff/internal/auth"
	"handoff/internal/chat"
	"handoff/internal/hub"
	"handoff/internal/metrics"
	"handoff/internal/notify"
	"handoff/internal/ratelimit"
	"handoff/internal/responder"
)

type Options struct {
	Hub       *hub.Hub
	Typing    *hub.Typing
	Responder responder.Responder
	Auth      auth.Authenticator
	Notifier  *notify.Dispatcher
	Limiter   *ratelimit.RateLimiter
	Metrics   *metrics.Metrics

	// AllowedOrigins are host patterns accepted for cross-origin websocket
	// handshakes.
	AllowedOrigins []string
	// StaticDir, when set, is served under /static/.
	StaticDir string
	// MetricsPath, when set, exposes the Prometheus handler.
	MetricsPath string
}

type Router struct {
	hub       *hub.Hub
	typing    *hub.Typing
	responder responder.Responder
	auth      auth.Authenticator
	notifier  *notify.Dispatcher
	limiter   *ratelimit.RateLimiter
	metrics   *metrics.Metrics
	opts      Options

	mu       sync.RWMutex
	visitors map[string]*conn // room id -> visitor connection
	assigned map[string]*conn // room id -> agent connection holding it
	agents   map[*conn]struct{}
	admins   map[*conn]struct{}
	conns    map[*conn]struct{}
	closing  bool

	sessions sync.WaitGroup
	// background responder calls
	wg sync.WaitGroup
}

// New builds a router and installs it as the hub's listener.
func New(opts Options) *Router {
	if opts.Hub == nil {
		panic("router: Options.Hub is required")
	}
	if opts.Typing == nil {
		opts.Typing = hub.NewTyping(hub.DefaultTypingTTL)
	}
	if opts.Responder == nil {
		opts.Responder = responder.Simulated{}
	}
	if opts.Auth == nil {
		opts.Auth = auth.Chain{}
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewDispatcher(notify.Log{}, 0)
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.NewRateLimiter(0, time.Minute)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	r := &Router{
		hub:       opts.Hub,
		typing:    opts.Typing,
		responder: opts.Responder,
		auth:      opts.Auth,
		notifier:  opts.Notifier,
		limiter:   opts.Limiter,
		metrics:   opts.Metrics,
		opts:      opts,
		visitors:  make(map[string]*conn),
		assigned:  make(map[string]*conn),
		agents:    make(map[*conn]struct{}),
		admins:    make(map[*conn]struct{}),
		conns:     make(map[*conn]struct{}),
	}
	opts.Hub.SetListener(r)
	return r
}

// Shutdown refuses new websocket sessions, closes the live ones and waits
// for their disconnect handling and any in-flight responder calls. The HTTP
// server's own Shutdown does not cover hijacked connections.
func (r *Router) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	live := make([]*conn, 0, len(r.conns))
	for c := range r.conns {
		live = append(live, c)
	}
	r.mu.Unlock()

	for _, c := range live {
		go c.ws.Close(websocket.StatusGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		r.sessions.Wait()
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d connections: %w", len(live), ctx.Err())
	}
}

// register admits a connection unless the router is shutting down.
func (r *Router) register(c *conn) bool {
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return false
	}
	r.conns[c] = struct{}{}
	r.sessions.Add(1)
	r.mu.Unlock()
	r.metrics.Connections.WithLabelValues(string(c.role)).Inc()
	c.log.Info("connected")
	return true
}

func (r *Router) unregister(c *conn) {
	r.mu.Lock()
	delete(r.conns, c)
	delete(r.agents, c)
	delete(r.admins, c)
	r.mu.Unlock()
	r.limiter.Forget(c.id)
	r.metrics.Connections.WithLabelValues(string(c.role)).Dec()
	r.sessions.Done()
}

// Connections reports the number of live websocket sessions.
func (r *Router) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Router) visitorOf(roomID string) *conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.visitors[roomID]
}

func (r *Router) agentOf(roomID string) *conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.assigned[roomID]
}

func (r *Router) setVisitor(roomID string, c *conn) *conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.visitors[roomID]
	r.visitors[roomID] = c
	return prev
}

// dropVisitor removes the visitor binding unless a newer connection has
// already taken the room over.
func (r *Router) dropVisitor(roomID string, c *conn) {
	r.mu.Lock()
	if r.visitors[roomID] == c {
		delete(r.visitors, roomID)
	}
	r.mu.Unlock()
}

func (r *Router) setAssigned(roomID string, c *conn) {
	r.mu.Lock()
	r.assigned[roomID] = c
	r.mu.Unlock()
}

func (r *Router) dropAssigned(roomID string, c *conn) {
	r.mu.Lock()
	if r.assigned[roomID] == c {
		delete(r.assigned, roomID)
	}
	r.mu.Unlock()
}

func (r *Router) addAgent(c *conn) {
	r.mu.Lock()
	r.agents[c] = struct{}{}
	r.mu.Unlock()
}

func (r *Router) addAdmin(c *conn) {
	r.mu.Lock()
	r.admins[c] = struct{}{}
	r.mu.Unlock()
}

// toAgents sends v to every authenticated agent except skip.
func (r *Router) toAgents(v any, skip *conn) {
	r.mu.RLock()
	targets := make([]*conn, 0, len(r.agents))
	for c := range r.agents {
		if c != skip {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()
	for _, c := range targets {
		c.emit(v)
	}
}

func (r *Router) toAdmins(v any) {
	r.mu.RLock()
	targets := make([]*conn, 0, len(r.admins))
	for c := range r.admins {
		targets = append(targets, c)
	}
	r.mu.RUnlock()
	for _, c := range targets {
		c.emit(v)
	}
}

// toRoom delivers a transcript entry to the room's live participants.
// Admins are never part of the live fan-out.
func (r *Router) toRoom(msg chat.Message, skip *conn) {
	ev := MessageEvent{Type: "message", Message: msg}
	if v := r.visitorOf(msg.RoomID); v != nil && v != skip {
		v.emit(ev)
	}
	if a := r.agentOf(msg.RoomID); a != nil && a != skip {
		a.emit(ev)
	}
}

// system appends a system message and shows it to the room's participants.
func (r *Router) system(ctx context.Context, roomID, format string, args ...any) {
	msg, _, err := r.hub.Append(ctx, hub.Post{
		RoomID: roomID,
		Sender: chat.SenderSystem,
		Body:   fmt.Sprintf(format, args...),
	})
	if err != nil {
		if !errors.Is(err, chat.ErrNotFound) {
			logger(ctx).Error("failed to append system message", "room", roomID, "error", err)
		}
		return
	}
	r.metrics.Messages.WithLabelValues(string(chat.SenderSystem)).Inc()
	r.toRoom(msg, nil)
}

// reject reports a failed event back to the connection that sent it.
func (r *Router) reject(c *conn, request, roomID string, err error) {
	code := chat.Code(err)
	r.metrics.Rejections.WithLabelValues(code).Inc()
	if code == "internal" {
		c.log.Error("event failed", "request", request, "room", roomID, "error", err)
	} else {
		c.log.Info("event rejected", "request", request, "room", roomID, "code", code, "error", err)
	}
	c.emit(ErrorEvent{
		Type:    "error",
		Code:    code,
		Message: err.Error(),
		RoomID:  roomID,
		Request: request,
	})
}

// --- hub.Listener ---

func (r *Router) RequestSubmitted(req chat.PendingRequest) {
	r.toAgents(RequestEvent{Type: "new_request", PendingRequest: req}, nil)
}

func (r *Router) RequestCanceled(roomID string) {
	r.toAgents(RoomEvent{Type: "request_canceled", RoomID: roomID}, nil)
}

func (r *Router) RoomUpdated(room chat.Room) {
	r.toAdmins(ChatEvent{Type: "chat_updated", Chat: room})
}

func (r *Router) RoomDeleted(roomID string) {
	r.toAdmins(RoomEvent{Type: "chat_deleted", RoomID: roomID})
}
