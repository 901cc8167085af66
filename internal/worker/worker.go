package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paragon-service/internal/broker"
	"paragon-service/internal/docstore"
	"paragon-service/internal/models"
	"paragon-service/internal/util"

	"go.uber.org/zap"
)

// NotificationWorker consumes ticket and message events and maintains
// the denormalized unread counters the back-office list views render.
// Event handling is idempotent: processed event ids are recorded and
// redeliveries skipped.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        docstore.Store
	logger       *zap.Logger
}

// NewNotificationWorker wires the event handler callbacks.
func NewNotificationWorker(consumer *broker.Consumer, store docstore.Store) *NotificationWorker {
	w := &NotificationWorker{
		consumer: consumer,
		store:    store,
		logger:   util.NamedLogger("worker"),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnMessageSent(w.handleMessageSent)
	eventHandler.OnTicketCreated(w.handleTicketCreated)
	eventHandler.OnTicketClosed(w.handleTicketClosed)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

// handleMessageSent bumps the unread counter on the receiving side of
// the conversation.
func (w *NotificationWorker) handleMessageSent(ctx context.Context, event *models.MessageSentEvent) error {
	done, err := w.alreadyProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	field := "unread_admin"
	if event.IsAdmin {
		field = "unread_user"
	}
	if err := w.store.Increment(ctx, models.CollectionTickets, event.TicketID, field, 1); err != nil {
		return fmt.Errorf("failed to bump %s on ticket %s: %w", field, event.TicketID, err)
	}

	return w.markProcessed(ctx, event.EventID, event.EventType)
}

// handleTicketCreated surfaces new tickets in the operator log.
func (w *NotificationWorker) handleTicketCreated(ctx context.Context, event *models.TicketCreatedEvent) error {
	done, err := w.alreadyProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	w.logger.Info("New support ticket",
		zap.String("ticket_id", event.TicketID),
		zap.String("type", event.TicketType),
		zap.String("user", event.UserName),
		zap.String("subject", event.Subject))

	return w.markProcessed(ctx, event.EventID, event.EventType)
}

// handleTicketClosed clears the unread counters of a closed ticket.
func (w *NotificationWorker) handleTicketClosed(ctx context.Context, event *models.TicketClosedEvent) error {
	done, err := w.alreadyProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	err = w.store.Update(ctx, models.CollectionTickets, event.TicketID, map[string]interface{}{
		"unread_admin": 0,
		"unread_user":  0,
	})
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("failed to clear unread counters on ticket %s: %w", event.TicketID, err)
	}

	return w.markProcessed(ctx, event.EventID, event.EventType)
}

func (w *NotificationWorker) alreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	_, err := w.store.Get(ctx, models.CollectionProcessed, eventID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (w *NotificationWorker) markProcessed(ctx context.Context, eventID, eventType string) error {
	record := models.ProcessedEvent{
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: time.Now().UTC(),
	}
	data, err := docstore.ToData(record)
	if err != nil {
		return err
	}
	return w.store.Upsert(ctx, models.CollectionProcessed, eventID, data)
}
