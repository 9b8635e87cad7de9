package protocol

import (
	"encoding/json"
	"time"
)

// EventName enumerates the events exchanged over a connection.
type EventName string

const (
	EventJoinRoom    EventName = "joinRoom"
	EventLeaveRoom   EventName = "leaveRoom"
	EventChatMessage EventName = "chatMessage"

	EventMessage    EventName = "message"
	EventUserStatus EventName = "userStatus"
	EventAck        EventName = "ack"
	EventError      EventName = "error"
)

// Role is the kind of account bound to a connection.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleCompany  Role = "company"
	RoleWorker   Role = "worker"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleCompany, RoleWorker:
		return true
	}
	return false
}

// Status is the derived presence of a user.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Envelope wraps every payload sent over the wire.
type Envelope struct {
	Event EventName       `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is implemented by every client→server payload.
type Inbound interface {
	EventName() EventName
}

// JoinRoom asks the server to add the connection to a room.
type JoinRoom struct {
	RoomID   string `json:"roomId" validate:"required,max=128"`
	UserID   string `json:"userId" validate:"required,max=128"`
	UserRole Role   `json:"userRole" validate:"required,oneof=customer company worker"`
}

// LeaveRoom removes the connection from a room.
type LeaveRoom struct {
	RoomID string `json:"roomId" validate:"required,max=128"`
}

// ChatMessage submits a message to a room. Body emptiness and size are
// checked by the router, not by the schema.
type ChatMessage struct {
	RoomID      string `json:"roomId" validate:"required,max=128"`
	SenderID    string `json:"senderId" validate:"required,max=128"`
	SenderModel Role   `json:"senderModel" validate:"required,oneof=customer company worker"`
	Message     string `json:"message"`
}

func (JoinRoom) EventName() EventName    { return EventJoinRoom }
func (LeaveRoom) EventName() EventName   { return EventLeaveRoom }
func (ChatMessage) EventName() EventName { return EventChatMessage }

// MessagePayload is the fan-out form of an accepted chat message.
type MessagePayload struct {
	RoomID      string    `json:"roomId"`
	SenderID    string    `json:"senderId"`
	SenderModel Role      `json:"senderModel"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// UserStatusPayload announces a presence change.
type UserStatusPayload struct {
	UserID string `json:"userId"`
	Status Status `json:"status"`
}

// AckPayload confirms a request that has no other visible effect for the sender.
type AckPayload struct {
	ReferenceID string    `json:"referenceId,omitempty"`
	Event       EventName `json:"event"`
	RoomID      string    `json:"roomId,omitempty"`
}

// ErrorPayload reports a rejected request back to its sender only.
type ErrorPayload struct {
	ReferenceID string `json:"referenceId,omitempty"`
	Code        string `json:"code"`
	Reason      string `json:"reason,omitempty"`
}
