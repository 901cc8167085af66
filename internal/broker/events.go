package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"paragon-service/internal/models"
	"paragon-service/internal/util"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishTicketCreated publishes a TicketCreated event
func (ep *EventPublisher) PublishTicketCreated(ctx context.Context, event *models.TicketCreatedEvent) error {
	util.EventsPublishedTotal.WithLabelValues(event.EventType).Inc()
	return ep.producer.PublishEvent(ctx, ticketKey(event.TicketID), event)
}

// PublishTicketClosed publishes a TicketClosed event
func (ep *EventPublisher) PublishTicketClosed(ctx context.Context, event *models.TicketClosedEvent) error {
	util.EventsPublishedTotal.WithLabelValues(event.EventType).Inc()
	return ep.producer.PublishEvent(ctx, ticketKey(event.TicketID), event)
}

// PublishMessageSent publishes a MessageSent event
func (ep *EventPublisher) PublishMessageSent(ctx context.Context, event *models.MessageSentEvent) error {
	util.EventsPublishedTotal.WithLabelValues(event.EventType).Inc()
	return ep.producer.PublishEvent(ctx, ticketKey(event.TicketID), event)
}

// PublishProductChanged publishes a ProductChanged event
func (ep *EventPublisher) PublishProductChanged(ctx context.Context, event *models.ProductChangedEvent) error {
	util.EventsPublishedTotal.WithLabelValues(event.EventType).Inc()
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("product-%s", event.ProductID), event)
}

func ticketKey(ticketID string) string {
	return fmt.Sprintf("ticket-%s", ticketID)
}

// EventHandler routes incoming events to registered callbacks
type EventHandler struct {
	onTicketCreated  func(context.Context, *models.TicketCreatedEvent) error
	onTicketClosed   func(context.Context, *models.TicketClosedEvent) error
	onMessageSent    func(context.Context, *models.MessageSentEvent) error
	onProductChanged func(context.Context, *models.ProductChangedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnTicketCreated registers a handler for TicketCreated events
func (eh *EventHandler) OnTicketCreated(handler func(context.Context, *models.TicketCreatedEvent) error) {
	eh.onTicketCreated = handler
}

// OnTicketClosed registers a handler for TicketClosed events
func (eh *EventHandler) OnTicketClosed(handler func(context.Context, *models.TicketClosedEvent) error) {
	eh.onTicketClosed = handler
}

// OnMessageSent registers a handler for MessageSent events
func (eh *EventHandler) OnMessageSent(handler func(context.Context, *models.MessageSentEvent) error) {
	eh.onMessageSent = handler
}

// OnProductChanged registers a handler for ProductChanged events
func (eh *EventHandler) OnProductChanged(handler func(context.Context, *models.ProductChangedEvent) error) {
	eh.onProductChanged = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	util.EventsConsumedTotal.WithLabelValues(baseEvent.EventType).Inc()

	switch baseEvent.EventType {
	case models.EventTypeTicketCreated:
		if eh.onTicketCreated != nil {
			var event models.TicketCreatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal TicketCreated event: %w", err)
			}
			return eh.onTicketCreated(ctx, &event)
		}

	case models.EventTypeTicketClosed:
		if eh.onTicketClosed != nil {
			var event models.TicketClosedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal TicketClosed event: %w", err)
			}
			return eh.onTicketClosed(ctx, &event)
		}

	case models.EventTypeMessageSent:
		if eh.onMessageSent != nil {
			var event models.MessageSentEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal MessageSent event: %w", err)
			}
			return eh.onMessageSent(ctx, &event)
		}

	case models.EventTypeProductChanged:
		if eh.onProductChanged != nil {
			var event models.ProductChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ProductChanged event: %w", err)
			}
			return eh.onProductChanged(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
