package store

import (
	"context"
	"sort"
	"sync"

	"handoff/internal/chat"
)

// Memory keeps everything in process. It is the default when no durable
// driver is configured and doubles as a test double.
type Memory struct {
	mu       sync.Mutex
	rooms    map[string]chat.Room
	messages map[string][]chat.Message
	requests map[string]chat.PendingRequest
}

func NewMemory() *Memory {
	return &Memory{
		rooms:    make(map[string]chat.Room),
		messages: make(map[string][]chat.Message),
		requests: make(map[string]chat.PendingRequest),
	}
}

func (m *Memory) SaveRoom(_ context.Context, room chat.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room.ID] = room
	return nil
}

func (m *Memory) DeleteRoom(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomID)
	delete(m.messages, roomID)
	delete(m.requests, roomID)
	return nil
}

func (m *Memory) AppendMessage(_ context.Context, msg chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.RoomID] = append(m.messages[msg.RoomID], msg)
	return nil
}

func (m *Memory) SaveRequest(_ context.Context, req chat.PendingRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.RoomID] = req
	return nil
}

func (m *Memory) DeleteRequest(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.requests, roomID)
	return nil
}

func (m *Memory) Load(_ context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := &Snapshot{Messages: make(map[string][]chat.Message, len(m.messages))}
	for _, r := range m.rooms {
		snap.Rooms = append(snap.Rooms, r)
	}
	sort.Slice(snap.Rooms, func(i, j int) bool { return snap.Rooms[i].ID < snap.Rooms[j].ID })
	for id, msgs := range m.messages {
		snap.Messages[id] = append([]chat.Message(nil), msgs...)
	}
	for _, req := range m.requests {
		snap.Requests = append(snap.Requests, req)
	}
	sort.Slice(snap.Requests, func(i, j int) bool { return snap.Requests[i].RoomID < snap.Requests[j].RoomID })
	return snap, nil
}

func (m *Memory) Close() error { return nil }
