package chat

import "errors"

var (
	ErrNotFound         = errors.New("room not found")
	ErrAlreadyPending   = errors.New("human request already pending")
	ErrAlreadyClaimed   = errors.New("request already claimed")
	ErrNotAssigned      = errors.New("agent is not assigned to this room")
	ErrInvalidInput     = errors.New("invalid input")
	ErrResponderTimeout = errors.New("automated responder timed out")
	ErrRoomClosed       = errors.New("room is closed")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrAgentBusy        = errors.New("agent already holds a room")
)

// Code maps an error onto the stable identifier sent to clients.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyPending):
		return "already_pending"
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrNotAssigned):
		return "not_assigned"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrResponderTimeout):
		return "responder_timeout"
	case errors.Is(err, ErrRoomClosed):
		return "room_closed"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrAgentBusy):
		return "agent_busy"
	}
	return "internal"
}
