package hub

import (
	"sync"
	"time"

	"handoff/internal/chat"
)

// DefaultTypingTTL bounds how long a typing signal stays live without a
// refresh, so a dropped "stopped typing" does not leave the indicator stuck.
const DefaultTypingTTL = 10 * time.Second

// Typing tracks who is typing in which room. Nothing here is persisted.
type Typing struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	state map[string]map[chat.SenderRole]time.Time // room -> role -> expiry
}

func NewTyping(ttl time.Duration) *Typing {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &Typing{
		ttl:   ttl,
		now:   time.Now,
		state: make(map[string]map[chat.SenderRole]time.Time),
	}
}

// Set records a typing signal and reports whether the visible state changed
// (so repeated "still typing" pings are not re-broadcast).
func (t *Typing) Set(roomID string, role chat.SenderRole, typing bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	roles := t.state[roomID]
	expiry, had := roles[role]
	wasTyping := had && now.Before(expiry)

	if !typing {
		if had {
			delete(roles, role)
			if len(roles) == 0 {
				delete(t.state, roomID)
			}
		}
		return wasTyping
	}

	if roles == nil {
		roles = make(map[chat.SenderRole]time.Time)
		t.state[roomID] = roles
	}
	roles[role] = now.Add(t.ttl)
	return !wasTyping
}

func (t *Typing) IsTyping(roomID string, role chat.SenderRole) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	expiry, ok := t.state[roomID][role]
	return ok && t.now().Before(expiry)
}

// Clear forgets every signal in a room.
func (t *Typing) Clear(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.state, roomID)
}

// Counterpart returns the role whose clients should see a typing signal
// from role. Admins and the responder never receive typing events.
func Counterpart(role chat.SenderRole) chat.SenderRole {
	switch role {
	case chat.SenderVisitor:
		return chat.SenderAgent
	case chat.SenderAgent:
		return chat.SenderVisitor
	}
	return ""
}
