package router

import (
	"handoff/internal/chat"
	"handoff/internal/hub"
)

// --- client -> server ---

// inbound is the union of every field a client event may carry. Each
// handler reads only the fields its event defines.
type inbound struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	Message   string `json:"message"`
	UserName  string `json:"userName"`
	UserEmail string `json:"userEmail"`
	Issue     string `json:"issue"`
	Priority  string `json:"priority"`
	AgentName string `json:"agentName"`
	Token     string `json:"token"`
	Query     string `json:"query"`
	Status    string `json:"status"`
	Format    string `json:"format"`
	IsTyping  bool   `json:"isTyping"`
}

// --- server -> client ---

// RoomEvent carries only a room id: room_created, human_requested,
// request_canceled, room_joined, room_left, chat_deleted.
type RoomEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// AgentEvent announces an agent entering or leaving a room: human_joined,
// human_left, request_taken.
type AgentEvent struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	AgentName string `json:"agentName"`
}

// MessageEvent delivers one transcript entry.
type MessageEvent struct {
	Type string `json:"type"`
	chat.Message
}

type TypingEvent struct {
	Type     string          `json:"type"`
	RoomID   string          `json:"roomId"`
	IsTyping bool            `json:"isTyping"`
	Sender   chat.SenderRole `json:"sender"`
}

type ChatEndedEvent struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	AgentName string `json:"agentName,omitempty"`
	Reason    string `json:"reason"`
}

type HistoryEvent struct {
	Type     string         `json:"type"`
	RoomID   string         `json:"roomId"`
	Messages []chat.Message `json:"messages"`
}

// RequestEvent is new_request; the request fields are inlined.
type RequestEvent struct {
	Type string `json:"type"`
	chat.PendingRequest
}

type PendingRequestsEvent struct {
	Type     string                `json:"type"`
	Requests []chat.PendingRequest `json:"requests"`
}

type AuthenticatedEvent struct {
	Type string `json:"type"`
	Role string `json:"role"`
	Name string `json:"name"`
}

type ChatListEvent struct {
	Type  string      `json:"type"`
	Chats []chat.Room `json:"chats"`
}

// ChatEvent is new_chat_room and chat_updated.
type ChatEvent struct {
	Type string    `json:"type"`
	Chat chat.Room `json:"chat"`
}

type TranscriptEvent struct {
	Type string `json:"type"`
	hub.Transcript
}

type DownloadEvent struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// ErrorEvent is sent only to the connection whose event was rejected.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	RoomID  string `json:"roomId,omitempty"`
	Request string `json:"request,omitempty"`
}
