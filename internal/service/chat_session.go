package service

import (
	"context"
	"errors"
	"sync"

	"paragon-service/internal/docstore"
	"paragon-service/internal/models"
	"paragon-service/internal/util"

	"go.uber.org/zap"
)

// SessionState is the explicit chat widget state. Transitions happen
// only on Open, Send, an observed admin close, and Teardown.
type SessionState int

const (
	// StateIdle: widget closed, no ticket bound.
	StateIdle SessionState = iota
	// StateLookup: open in progress, querying for an existing inquiry.
	StateLookup
	// StateUnbound: widget open, no ticket yet; first send creates one.
	StateUnbound
	// StateBound: subscribed to a live ticket's messages.
	StateBound
	// StateClosed: ticket closed by an admin; read-only.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLookup:
		return "lookup"
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ChatSession mediates between one chat widget instance and the
// ticket/message services. Tickets are created lazily: opening the
// widget without typing never creates one.
type ChatSession struct {
	tickets  *TicketService
	messages *MessageService
	user     TicketUser

	onMessages func([]models.Message)
	onError    func(error)

	mu          sync.Mutex
	state       SessionState
	ticketID    string
	unsubscribe []func()

	logger *zap.Logger
}

// NewChatSession creates a session in the Idle state. onMessages
// receives the full ordered message list on every change once bound.
func NewChatSession(tickets *TicketService, messages *MessageService, user TicketUser, onMessages func([]models.Message), onError func(error)) *ChatSession {
	if user.ID == "" {
		user.ID = models.GuestUserID
	}
	return &ChatSession{
		tickets:    tickets,
		messages:   messages,
		user:       user,
		onMessages: onMessages,
		onError:    onError,
		state:      StateIdle,
		logger:     util.NamedLogger("chat"),
	}
}

// Open looks up the user's existing open inquiry and binds to it, or
// leaves the session Unbound with an empty thread. A lookup failure
// returns the session to Idle so the caller can surface a generic
// error state and retry.
func (cs *ChatSession) Open(ctx context.Context) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.state != StateIdle {
		return nil
	}
	cs.state = StateLookup

	ticketID, err := cs.tickets.FindOpenGeneralInquiry(ctx, cs.user.ID)
	if err != nil {
		cs.state = StateIdle
		return err
	}

	if ticketID == "" {
		cs.state = StateUnbound
		return nil
	}

	cs.bindLocked(ticketID)
	return nil
}

// Send appends text to the bound ticket, creating the ticket first when
// the session is still Unbound. On failure the session state is left
// untouched so the caller keeps the draft for retry.
func (cs *ChatSession) Send(ctx context.Context, text string) (*models.Message, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	switch cs.state {
	case StateIdle, StateLookup:
		return nil, ErrSessionNotOpen

	case StateClosed:
		return nil, ErrTicketClosed

	case StateUnbound:
		ticket, err := cs.tickets.CreateGeneralInquiry(ctx, cs.user)
		if err != nil {
			return nil, err
		}
		message, err := cs.messages.Send(ctx, ticket.ID, text, cs.user.ID, false)
		if err != nil {
			// The ticket exists now; bind so the retry reuses it.
			cs.bindLocked(ticket.ID)
			return nil, err
		}
		cs.bindLocked(ticket.ID)
		return message, nil

	default: // StateBound
		message, err := cs.messages.Send(ctx, cs.ticketID, text, cs.user.ID, false)
		if errors.Is(err, ErrTicketClosed) {
			cs.state = StateClosed
			return nil, err
		}
		return message, err
	}
}

// bindLocked subscribes to the ticket's messages and watches the
// ticket itself so an admin close flips the session to Closed.
func (cs *ChatSession) bindLocked(ticketID string) {
	cs.ticketID = ticketID
	cs.state = StateBound

	unsubMessages := cs.messages.Subscribe(ticketID, cs.onMessages, cs.onError)
	unsubTicket := cs.tickets.subscribe(
		docstore.Filters{"id": ticketID},
		docstore.OrderBy{Field: "created_at"},
		func(tickets []models.Ticket) {
			if len(tickets) == 0 {
				return
			}
			if tickets[0].Status == models.TicketStatusClosed {
				cs.mu.Lock()
				if cs.state == StateBound {
					cs.state = StateClosed
					cs.logger.Info("Chat session closed by operator",
						zap.String("ticket_id", ticketID))
				}
				cs.mu.Unlock()
			}
		}, cs.onError)

	cs.unsubscribe = append(cs.unsubscribe, unsubMessages, unsubTicket)
}

// State returns the current session state.
func (cs *ChatSession) State() SessionState {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state
}

// TicketID returns the bound ticket id, or "" before the first send.
func (cs *ChatSession) TicketID() string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.ticketID
}

// Teardown tears down all live subscriptions and returns the session
// to Idle. Safe to call repeatedly.
func (cs *ChatSession) Teardown() {
	cs.mu.Lock()
	unsubs := cs.unsubscribe
	cs.unsubscribe = nil
	cs.state = StateIdle
	cs.ticketID = ""
	cs.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}
