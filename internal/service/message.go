package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"paragon-service/internal/broker"
	"paragon-service/internal/docstore"
	"paragon-service/internal/models"
	"paragon-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// previewLimit caps the denormalized last-message text on the ticket.
const previewLimit = 120

// MessageService owns the append-only message log of each ticket.
// Messages are immutable once written; there is no edit or delete path.
type MessageService struct {
	store  docstore.Store
	hub    *docstore.Hub
	events *broker.EventPublisher
	logger *zap.Logger
}

// NewMessageService creates a new message service. events may be nil.
func NewMessageService(store docstore.Store, hub *docstore.Hub, events *broker.EventPublisher) *MessageService {
	return &MessageService{
		store:  store,
		hub:    hub,
		events: events,
		logger: util.GetLogger(),
	}
}

// Send appends a message to a ticket. The message insert and the
// ticket's denormalized preview patch commit in one store transaction,
// so list views never observe one without the other. Closed tickets
// reject the send outright.
func (s *MessageService) Send(ctx context.Context, ticketID, text, senderID string, isAdmin bool) (*models.Message, error) {
	ctx, span := util.StartSpan(ctx, "MessageService.Send")
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		util.MessagesRejectedTotal.WithLabelValues("empty").Inc()
		return nil, ErrEmptyMessage
	}

	message := &models.Message{
		ID:       "msg-" + uuid.New().String(),
		TicketID: ticketID,
		Text:     text,
		SenderID: senderID,
		IsAdmin:  isAdmin,
	}

	err := s.store.InTx(ctx, func(tx docstore.Store) error {
		// Lock the ticket row for the duration of the transaction so a
		// concurrent close cannot commit between the status check and
		// the message insert.
		doc, err := tx.GetForUpdate(ctx, models.CollectionTickets, ticketID)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		var ticket models.Ticket
		if err := doc.Decode(&ticket); err != nil {
			return err
		}
		if ticket.Status == models.TicketStatusClosed {
			return ErrTicketClosed
		}

		message.CreatedAt = time.Now().UTC()
		data, err := docstore.ToData(message)
		if err != nil {
			return err
		}
		if err := tx.CreateWithID(ctx, models.CollectionMessages, message.ID, data); err != nil {
			return fmt.Errorf("failed to append message: %w", err)
		}

		stamp := message.CreatedAt.Format(time.RFC3339Nano)
		return tx.Update(ctx, models.CollectionTickets, ticketID, map[string]interface{}{
			"last_message":    preview(text),
			"last_message_at": stamp,
			"updated_at":      stamp,
		})
	})
	if err != nil {
		if errors.Is(err, ErrTicketClosed) {
			util.MessagesRejectedTotal.WithLabelValues("closed").Inc()
		}
		return nil, err
	}

	sender := "user"
	if isAdmin {
		sender = "admin"
	}
	util.MessagesSentTotal.WithLabelValues(sender).Inc()

	if s.events != nil {
		event := &models.MessageSentEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeMessageSent,
				Timestamp: time.Now(),
			},
			TicketID:  ticketID,
			MessageID: message.ID,
			SenderID:  senderID,
			IsAdmin:   isAdmin,
			Preview:   preview(text),
		}
		if err := s.events.PublishMessageSent(ctx, event); err != nil {
			s.logger.Error("Failed to publish MessageSent event", zap.Error(err))
		}
	}

	return message, nil
}

// List returns the full message log of a ticket, oldest first.
func (s *MessageService) List(ctx context.Context, ticketID string) ([]models.Message, error) {
	docs, err := s.store.Query(ctx, models.CollectionMessages,
		docstore.Filters{"ticket_id": ticketID},
		docstore.OrderBy{Field: "created_at"})
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return decodeMessages(docs)
}

// Subscribe registers a live view over a ticket's messages. The
// callback receives the full ordered list on every change, not deltas;
// rapid successive sends may coalesce into a single delivery.
func (s *MessageService) Subscribe(ticketID string, onSnapshot func([]models.Message), onError func(error)) func() {
	return s.hub.Subscribe(models.CollectionMessages,
		docstore.Filters{"ticket_id": ticketID},
		docstore.OrderBy{Field: "created_at"},
		func(docs []docstore.Document) {
			messages, err := decodeMessages(docs)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				return
			}
			onSnapshot(messages)
		}, onError)
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLimit {
		return text
	}
	return string(runes[:previewLimit])
}

func decodeMessages(docs []docstore.Document) ([]models.Message, error) {
	messages := make([]models.Message, 0, len(docs))
	for i := range docs {
		var message models.Message
		if err := docs[i].Decode(&message); err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}
