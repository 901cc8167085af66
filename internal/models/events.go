package models

import "time"

// Event types
const (
	EventTypeTicketCreated  = "TICKET_CREATED"
	EventTypeTicketClosed   = "TICKET_CLOSED"
	EventTypeMessageSent    = "MESSAGE_SENT"
	EventTypeProductChanged = "PRODUCT_CHANGED"
)

// Product change operations carried on ProductChangedEvent
const (
	ProductOpCreated = "created"
	ProductOpUpdated = "updated"
	ProductOpDeleted = "deleted"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// TicketCreatedEvent published when a support ticket is opened
type TicketCreatedEvent struct {
	BaseEvent
	TicketID   string `json:"ticket_id"`
	TicketType string `json:"ticket_type"`
	UserID     string `json:"user_id"`
	UserName   string `json:"user_name"`
	Subject    string `json:"subject"`
	ProductID  string `json:"product_id,omitempty"`
}

// TicketClosedEvent published when an admin closes a ticket
type TicketClosedEvent struct {
	BaseEvent
	TicketID string `json:"ticket_id"`
	ClosedBy string `json:"closed_by"`
}

// MessageSentEvent published for every persisted chat message
type MessageSentEvent struct {
	BaseEvent
	TicketID  string `json:"ticket_id"`
	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id"`
	IsAdmin   bool   `json:"is_admin"`
	Preview   string `json:"preview"`
}

// ProductChangedEvent published on catalog writes
type ProductChangedEvent struct {
	BaseEvent
	ProductID string `json:"product_id"`
	Op        string `json:"op"`
	Name      string `json:"name,omitempty"`
	Category  string `json:"category,omitempty"`
}
