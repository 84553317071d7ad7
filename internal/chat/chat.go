// Package chat holds the domain types shared by the hand-off service: rooms,
// transcript messages, pending human requests and the error taxonomy.
package chat

import (
	"strings"
	"time"
)

type RoomStatus string

const (
	StatusBotServed    RoomStatus = "bot-served"
	StatusPendingHuman RoomStatus = "pending-human"
	StatusHumanServed  RoomStatus = "human-served"
	StatusClosed       RoomStatus = "closed"
)

// ParseRoomStatus accepts the canonical names; the empty string means "any".
func ParseRoomStatus(s string) (RoomStatus, bool) {
	switch RoomStatus(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return "", true
	case StatusBotServed:
		return StatusBotServed, true
	case StatusPendingHuman:
		return StatusPendingHuman, true
	case StatusHumanServed:
		return StatusHumanServed, true
	case StatusClosed:
		return StatusClosed, true
	}
	return "", false
}

type SenderRole string

const (
	SenderVisitor   SenderRole = "user"
	SenderResponder SenderRole = "bot"
	SenderAgent     SenderRole = "human"
	SenderSystem    SenderRole = "system"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority defaults to medium for an empty value.
func ParsePriority(s string) (Priority, bool) {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case "", PriorityMedium:
		return PriorityMedium, true
	case PriorityLow:
		return PriorityLow, true
	case PriorityHigh:
		return PriorityHigh, true
	}
	return "", false
}

// Room is a snapshot of a chat session. Values handed out by the hub are
// copies; mutating them has no effect on the registry.
type Room struct {
	ID           string     `json:"roomId"`
	VisitorName  string     `json:"userName"`
	VisitorEmail string     `json:"userEmail,omitempty"`
	Status       RoomStatus `json:"status"`
	AgentID      string     `json:"agentId,omitempty"`
	AgentName    string     `json:"agentName,omitempty"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"startTime"`
	LastActivity time.Time  `json:"lastActivity"`
	MessageCount int        `json:"messageCount"`
}

// Message is an immutable transcript entry.
type Message struct {
	Seq       int        `json:"seq"`
	RoomID    string     `json:"roomId"`
	Sender    SenderRole `json:"sender"`
	Body      string     `json:"message"`
	AgentName string     `json:"agentName,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// PendingRequest is a visitor's unclaimed ask for a human agent.
type PendingRequest struct {
	RoomID       string    `json:"roomId"`
	VisitorName  string    `json:"userName"`
	VisitorEmail string    `json:"userEmail,omitempty"`
	Issue        string    `json:"issue"`
	Priority     Priority  `json:"priority"`
	RequestedAt  time.Time `json:"timestamp"`
}

// Agent identifies the human agent claiming a room.
type Agent struct {
	ID   string
	Name string
}

// RoomFilter narrows the admin projection. Zero value matches everything.
type RoomFilter struct {
	Status RoomStatus
	Query  string
}

// Match reports whether r passes the filter. Query matching is a
// case-insensitive substring test against id, visitor name and email.
func (f RoomFilter) Match(r Room) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return containsFold(f.Query, r.ID, r.VisitorName, r.VisitorEmail)
}

// RequestFilter narrows the agent queue view.
type RequestFilter struct {
	Priority Priority
	Query    string
}

func (f RequestFilter) Match(p PendingRequest) bool {
	if f.Priority != "" && p.Priority != f.Priority {
		return false
	}
	return containsFold(f.Query, p.RoomID, p.VisitorName, p.VisitorEmail, p.Issue)
}

func containsFold(query string, fields ...string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}
