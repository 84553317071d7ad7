// Package hub owns the shared state of the hand-off service: the room
// registry, the pending human-request queue, per-room transcripts and the
// ephemeral typing tracker.
//
// Rooms live in an arena of lock-guarded entries reached through an index
// keyed by room id. The index lock is only held for lookups and inserts;
// all room mutations take the room's own lock. Queue operations take the
// queue lock first and the room lock second, which is the only lock order
// used anywhere in the package.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"handoff/internal/chat"
	"handoff/internal/store"
)

// Listener receives state changes that connected clients need to hear
// about. Calls happen after locks are released and must not block.
type Listener interface {
	RequestSubmitted(req chat.PendingRequest)
	RequestCanceled(roomID string)
	RoomUpdated(room chat.Room)
	RoomDeleted(roomID string)
}

type Option func(*Hub)

func WithStore(s store.Store) Option {
	return func(h *Hub) { h.store = s }
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(h *Hub) { h.newID = gen }
}

type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*roomEntry

	qmu      sync.Mutex
	pending  map[string]chat.PendingRequest
	requests map[string]chat.PendingRequest // last request per room, for re-enqueue

	store    store.Store
	listener Listener
	now      func() time.Time
	newID    func() string
}

func New(opts ...Option) *Hub {
	h := &Hub{
		rooms:    make(map[string]*roomEntry),
		pending:  make(map[string]chat.PendingRequest),
		requests: make(map[string]chat.PendingRequest),
		now:      time.Now,
		newID:    generateRoomID,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetListener installs the change listener. It must be called before the
// hub is shared between goroutines.
func (h *Hub) SetListener(l Listener) {
	h.listener = l
}

func generateRoomID() string {
	return "room_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func (h *Hub) lookup(roomID string) (*roomEntry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.rooms[roomID]
	return e, ok
}

// lockRoom returns the entry for roomID with its lock held.
func (h *Hub) lockRoom(roomID string) (*roomEntry, error) {
	e, ok := h.lookup(roomID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", roomID, chat.ErrNotFound)
	}
	e.mu.Lock()
	if e.deleted {
		e.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", roomID, chat.ErrNotFound)
	}
	return e, nil
}

// CreateRoom registers a new bot-served room for a visitor.
func (h *Hub) CreateRoom(ctx context.Context, visitorName, visitorEmail string) (chat.Room, error) {
	visitorName = strings.TrimSpace(visitorName)
	if visitorName == "" {
		return chat.Room{}, fmt.Errorf("visitor name is required: %w", chat.ErrInvalidInput)
	}
	visitorEmail = strings.TrimSpace(visitorEmail)

	// The entry is published locked, so nobody sees it before it is stored,
	// and the index lock is not held across store I/O.
	h.mu.Lock()
	id := h.newID()
	for _, taken := h.rooms[id]; taken; _, taken = h.rooms[id] {
		id = h.newID()
	}
	e := newRoomEntry(id, visitorName, visitorEmail, h.now())
	e.mu.Lock()
	h.rooms[id] = e
	total := len(h.rooms)
	h.mu.Unlock()

	if err := h.saveRoom(ctx, e.room); err != nil {
		e.deleted = true
		e.mu.Unlock()
		h.mu.Lock()
		if h.rooms[id] == e {
			delete(h.rooms, id)
		}
		h.mu.Unlock()
		return chat.Room{}, err
	}
	room := e.room
	e.mu.Unlock()

	slog.Info("room created", "room", id, "total", total)
	return room, nil
}

func (h *Hub) GetRoom(roomID string) (chat.Room, error) {
	e, err := h.lockRoom(roomID)
	if err != nil {
		return chat.Room{}, err
	}
	defer e.mu.Unlock()
	return e.room, nil
}

// ListRooms returns the rooms matching filter, most recently active first.
func (h *Hub) ListRooms(filter chat.RoomFilter) []chat.Room {
	h.mu.RLock()
	entries := make([]*roomEntry, 0, len(h.rooms))
	for _, e := range h.rooms {
		entries = append(entries, e)
	}
	h.mu.RUnlock()

	rooms := make([]chat.Room, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		r, deleted := e.room, e.deleted
		e.mu.Unlock()
		if !deleted && filter.Match(r) {
			rooms = append(rooms, r)
		}
	}
	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].LastActivity.Equal(rooms[j].LastActivity) {
			return rooms[i].LastActivity.After(rooms[j].LastActivity)
		}
		return rooms[i].ID < rooms[j].ID
	})
	return rooms
}

// Touch records activity that appends nothing, such as a visitor coming
// back to a room. Append advances last-activity on its own.
func (h *Hub) Touch(ctx context.Context, roomID string) error {
	e, err := h.lockRoom(roomID)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	e.touchLocked(h.now())
	return h.saveRoom(ctx, e.room)
}

// SetActive flags whether the visitor currently has a live connection.
func (h *Hub) SetActive(ctx context.Context, roomID string, active bool) (chat.Room, error) {
	e, err := h.lockRoom(roomID)
	if err != nil {
		return chat.Room{}, err
	}
	changed := e.room.Active != active
	e.room.Active = active
	room := e.room
	if changed {
		err = h.saveRoom(ctx, room)
	}
	e.mu.Unlock()
	if err != nil {
		return chat.Room{}, err
	}
	if changed {
		h.notifyRoom(room)
	}
	return room, nil
}

// CloseRoom moves a room to closed from any state. Closing an already closed
// room is a no-op. An outstanding request is dropped.
func (h *Hub) CloseRoom(ctx context.Context, roomID string) (chat.Room, error) {
	h.qmu.Lock()
	e, err := h.lockRoom(roomID)
	if err != nil {
		h.qmu.Unlock()
		return chat.Room{}, err
	}
	if e.room.Status == chat.StatusClosed {
		room := e.room
		e.mu.Unlock()
		h.qmu.Unlock()
		return room, nil
	}

	_, hadRequest := h.pending[roomID]
	next := e.room
	next.Status = chat.StatusClosed
	if now := h.now(); now.After(next.LastActivity) {
		next.LastActivity = now
	}
	if err := h.saveRoom(ctx, next); err != nil {
		e.mu.Unlock()
		h.qmu.Unlock()
		return chat.Room{}, err
	}
	if hadRequest {
		if err := h.deleteRequest(ctx, roomID); err != nil {
			slog.Error("failed to drop request of closed room", "room", roomID, "error", err)
		}
		delete(h.pending, roomID)
	}
	e.room = next
	e.mu.Unlock()
	h.qmu.Unlock()

	slog.Info("room closed", "room", roomID)
	if hadRequest {
		h.notifyCanceled(roomID)
	}
	h.notifyRoom(next)
	return next, nil
}

// DeleteRoom permanently removes a room, its transcript and any request.
func (h *Hub) DeleteRoom(ctx context.Context, roomID string) error {
	h.qmu.Lock()
	e, err := h.lockRoom(roomID)
	if err != nil {
		h.qmu.Unlock()
		return err
	}
	if h.store != nil {
		if err := h.store.DeleteRoom(ctx, roomID); err != nil {
			e.mu.Unlock()
			h.qmu.Unlock()
			return err
		}
	}
	e.deleted = true
	e.messages = nil
	e.mu.Unlock()

	h.mu.Lock()
	delete(h.rooms, roomID)
	total := len(h.rooms)
	h.mu.Unlock()

	_, hadRequest := h.pending[roomID]
	delete(h.pending, roomID)
	delete(h.requests, roomID)
	h.qmu.Unlock()

	slog.Info("room deleted", "room", roomID, "total", total)
	if hadRequest {
		h.notifyCanceled(roomID)
	}
	if h.listener != nil {
		h.listener.RoomDeleted(roomID)
	}
	return nil
}

// Restore rebuilds the hub from a durable snapshot. Rooms that were being
// served by a human have no live agent after a restart, so they go back to
// the queue with their last request.
func (h *Hub) Restore(ctx context.Context, snap *store.Snapshot) error {
	if snap == nil {
		return nil
	}
	requests := make(map[string]chat.PendingRequest, len(snap.Requests))
	for _, req := range snap.Requests {
		requests[req.RoomID] = req
	}

	h.qmu.Lock()
	defer h.qmu.Unlock()
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, r := range snap.Rooms {
		e := &roomEntry{room: r, messages: append([]chat.Message(nil), snap.Messages[r.ID]...)}
		e.room.Active = false
		e.room.MessageCount = len(e.messages)

		req, hasRequest := requests[r.ID]
		if r.Status == chat.StatusHumanServed {
			if !hasRequest {
				req = chat.PendingRequest{
					RoomID:       r.ID,
					VisitorName:  r.VisitorName,
					VisitorEmail: r.VisitorEmail,
					Issue:        "Conversation resumed after restart",
					Priority:     chat.PriorityMedium,
					RequestedAt:  r.LastActivity,
				}
				hasRequest = true
			}
			e.room.Status = chat.StatusPendingHuman
			e.room.AgentID = ""
			e.room.AgentName = ""
		}
		if hasRequest && e.room.Status == chat.StatusPendingHuman {
			h.pending[r.ID] = req
			h.requests[r.ID] = req
			if err := h.saveRequest(ctx, req); err != nil {
				return err
			}
		}
		if err := h.saveRoom(ctx, e.room); err != nil {
			return err
		}
		h.rooms[r.ID] = e
	}
	slog.Info("hub restored", "rooms", len(h.rooms), "pending", len(h.pending))
	return nil
}

func (h *Hub) saveRoom(ctx context.Context, r chat.Room) error {
	if h.store == nil {
		return nil
	}
	return h.store.SaveRoom(ctx, r)
}

func (h *Hub) saveRequest(ctx context.Context, req chat.PendingRequest) error {
	if h.store == nil {
		return nil
	}
	return h.store.SaveRequest(ctx, req)
}

func (h *Hub) deleteRequest(ctx context.Context, roomID string) error {
	if h.store == nil {
		return nil
	}
	return h.store.DeleteRequest(ctx, roomID)
}

func (h *Hub) notifyRoom(r chat.Room) {
	if h.listener != nil {
		h.listener.RoomUpdated(r)
	}
}

func (h *Hub) notifyCanceled(roomID string) {
	if h.listener != nil {
		h.listener.RequestCanceled(roomID)
	}
}
