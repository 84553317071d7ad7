package hub

import (
	"sync"
	"time"

	"handoff/internal/chat"
)

// roomEntry owns one room's mutable state. Every mutation of the room or its
// transcript happens under mu, so rooms never contend with each other.
type roomEntry struct {
	mu       sync.Mutex
	room     chat.Room
	messages []chat.Message
	deleted  bool
}

func newRoomEntry(id, name, email string, now time.Time) *roomEntry {
	return &roomEntry{
		room: chat.Room{
			ID:           id,
			VisitorName:  name,
			VisitorEmail: email,
			Status:       chat.StatusBotServed,
			Active:       true,
			CreatedAt:    now,
			LastActivity: now,
		},
	}
}

// touchLocked advances last-activity without ever moving it backwards.
func (e *roomEntry) touchLocked(now time.Time) {
	if now.After(e.room.LastActivity) {
		e.room.LastActivity = now
	}
}

// nextTimestampLocked returns a timestamp no earlier than the last message.
func (e *roomEntry) nextTimestampLocked(now time.Time) time.Time {
	if n := len(e.messages); n > 0 {
		last := e.messages[n-1].Timestamp
		if now.Before(last) {
			return last.Add(time.Nanosecond)
		}
	}
	return now
}
