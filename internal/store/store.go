// Package store persists what must survive a restart: rooms, their
// transcripts and outstanding human requests.
package store

import (
	"context"

	"handoff/internal/chat"
)

// Store is a write-through sink for hub state. Implementations must be safe
// for concurrent use; the hub already serializes writes per room.
type Store interface {
	SaveRoom(ctx context.Context, room chat.Room) error
	DeleteRoom(ctx context.Context, roomID string) error
	AppendMessage(ctx context.Context, msg chat.Message) error
	SaveRequest(ctx context.Context, req chat.PendingRequest) error
	DeleteRequest(ctx context.Context, roomID string) error
	Load(ctx context.Context) (*Snapshot, error)
	Close() error
}

// Snapshot is the full durable state, used to rebuild the hub on start.
type Snapshot struct {
	Rooms    []chat.Room
	Messages map[string][]chat.Message
	Requests []chat.PendingRequest
}
