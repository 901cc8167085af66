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

// Locker serializes ticket creation per user. Backed by redis SetNX in
// production; a nil Locker falls back to plain check-then-act, which
// leaves the duplicate-inquiry race open across instances.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

const inquiryLockTTL = 10 * time.Second

// TicketUser identifies the party a ticket is created for.
type TicketUser struct {
	ID    string
	Name  string
	Email string
}

// OrderRequestInput carries an order-request form submission.
type OrderRequestInput struct {
	ProductID   string
	ProductName string
	User        TicketUser
	Notes       string
}

// TicketService owns the ticket lifecycle: lazy general inquiries,
// always-new order requests, admin close, and the live list views.
type TicketService struct {
	store  docstore.Store
	hub    *docstore.Hub
	locks  Locker
	events *broker.EventPublisher
	logger *zap.Logger
}

// NewTicketService creates a new ticket service. locks and events may
// be nil (tests, local development without redis/kafka).
func NewTicketService(store docstore.Store, hub *docstore.Hub, locks Locker, events *broker.EventPublisher) *TicketService {
	return &TicketService{
		store:  store,
		hub:    hub,
		locks:  locks,
		events: events,
		logger: util.GetLogger(),
	}
}

// FindOpenGeneralInquiry returns the id of the user's open general
// inquiry ticket, or "" when none exists. Creation is deferred to the
// first message send, so opening the chat widget alone never creates a
// ticket. Lookup failures propagate: treating a failed read as "none
// found" would mint a duplicate ticket on the next send.
func (s *TicketService) FindOpenGeneralInquiry(ctx context.Context, userID string) (string, error) {
	docs, err := s.store.Query(ctx, models.CollectionTickets, docstore.Filters{
		"user_id": userID,
		"type":    models.TicketTypeGeneralInquiry,
		"status":  models.TicketStatusOpen,
	}, docstore.OrderBy{Field: "created_at"})
	if err != nil {
		return "", fmt.Errorf("failed to look up open inquiry for user %s: %w", userID, err)
	}
	if len(docs) == 0 {
		return "", nil
	}
	return docs[0].ID, nil
}

// CreateGeneralInquiry creates the user's open inquiry ticket, joining
// an existing one when a concurrent creation won the race. The per-user
// lock closes the check-then-act window when a Locker is wired.
func (s *TicketService) CreateGeneralInquiry(ctx context.Context, user TicketUser) (*models.Ticket, error) {
	ctx, span := util.StartSpan(ctx, "TicketService.CreateGeneralInquiry")
	defer span.End()

	if user.ID == "" {
		user.ID = models.GuestUserID
	}

	if s.locks != nil {
		lockKey := "ticket:inquiry:" + user.ID
		acquired, err := s.locks.AcquireLock(ctx, lockKey, inquiryLockTTL)
		if err != nil {
			s.logger.Warn("Inquiry lock unavailable, proceeding unlocked",
				zap.String("user_id", user.ID), zap.Error(err))
		} else if !acquired {
			return nil, fmt.Errorf("inquiry creation already in progress for user %s", user.ID)
		} else {
			defer func() {
				if err := s.locks.ReleaseLock(ctx, lockKey); err != nil {
					s.logger.Warn("Failed to release inquiry lock", zap.Error(err))
				}
			}()
		}
	}

	// Re-check under the lock: a prior send may already have created it.
	existingID, err := s.FindOpenGeneralInquiry(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if existingID != "" {
		return s.GetTicket(ctx, existingID)
	}

	ticket := &models.Ticket{
		Type:      models.TicketTypeGeneralInquiry,
		Subject:   "General inquiry",
		UserID:    user.ID,
		UserName:  user.Name,
		UserEmail: user.Email,
	}
	if err := s.insertTicket(ctx, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

// CreateOrderRequest always creates a new ticket; order requests carry
// no per-user uniqueness constraint. The ticket appears in the admin
// live list within one notification cycle.
func (s *TicketService) CreateOrderRequest(ctx context.Context, input OrderRequestInput) (*models.Ticket, error) {
	ctx, span := util.StartSpan(ctx, "TicketService.CreateOrderRequest")
	defer span.End()

	if strings.TrimSpace(input.User.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if strings.TrimSpace(input.User.Email) == "" {
		return nil, fmt.Errorf("%w: email is required", ErrValidation)
	}
	if strings.TrimSpace(input.ProductID) == "" {
		return nil, fmt.Errorf("%w: product is required", ErrValidation)
	}
	if input.User.ID == "" {
		input.User.ID = models.GuestUserID
	}

	ticket := &models.Ticket{
		Type:        models.TicketTypeOrderRequest,
		Subject:     "Order request: " + input.ProductName,
		UserID:      input.User.ID,
		UserName:    input.User.Name,
		UserEmail:   input.User.Email,
		ProductID:   input.ProductID,
		ProductName: input.ProductName,
		Description: input.Notes,
	}
	if err := s.insertTicket(ctx, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

func (s *TicketService) insertTicket(ctx context.Context, ticket *models.Ticket) error {
	ticket.ID = "tkt-" + uuid.New().String()
	ticket.Status = models.TicketStatusOpen
	now := time.Now().UTC()
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	// Seed the preview timestamp so the admin list orders new tickets
	// by creation until the first message lands.
	ticket.LastMessageAt = now

	data, err := docstore.ToData(ticket)
	if err != nil {
		return err
	}
	if err := s.store.CreateWithID(ctx, models.CollectionTickets, ticket.ID, data); err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}

	util.TicketsCreatedTotal.WithLabelValues(ticket.Type).Inc()
	s.logger.Info("Ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.String("type", ticket.Type),
		zap.String("user_id", ticket.UserID))

	if s.events != nil {
		event := &models.TicketCreatedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeTicketCreated,
				Timestamp: time.Now(),
			},
			TicketID:   ticket.ID,
			TicketType: ticket.Type,
			UserID:     ticket.UserID,
			UserName:   ticket.UserName,
			Subject:    ticket.Subject,
			ProductID:  ticket.ProductID,
		}
		if err := s.events.PublishTicketCreated(ctx, event); err != nil {
			s.logger.Error("Failed to publish TicketCreated event", zap.Error(err))
		}
	}
	return nil
}

// CloseTicket flips an open ticket to closed. Closed is terminal: the
// message service rejects all further sends against it.
func (s *TicketService) CloseTicket(ctx context.Context, ticketID, closedBy string) error {
	ctx, span := util.StartSpan(ctx, "TicketService.CloseTicket")
	defer span.End()

	ticket, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if ticket.Status == models.TicketStatusClosed {
		return nil
	}

	patch := map[string]interface{}{
		"status":     models.TicketStatusClosed,
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.store.Update(ctx, models.CollectionTickets, ticketID, patch); err != nil {
		return fmt.Errorf("failed to close ticket: %w", err)
	}

	util.TicketsClosedTotal.Inc()
	s.logger.Info("Ticket closed",
		zap.String("ticket_id", ticketID),
		zap.String("closed_by", closedBy))

	if s.events != nil {
		event := &models.TicketClosedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeTicketClosed,
				Timestamp: time.Now(),
			},
			TicketID: ticketID,
			ClosedBy: closedBy,
		}
		if err := s.events.PublishTicketClosed(ctx, event); err != nil {
			s.logger.Error("Failed to publish TicketClosed event", zap.Error(err))
		}
	}
	return nil
}

// GetTicket retrieves a ticket by id.
func (s *TicketService) GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	doc, err := s.store.Get(ctx, models.CollectionTickets, ticketID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var ticket models.Ticket
	if err := doc.Decode(&ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

// ListForUser returns a user's tickets in creation order.
func (s *TicketService) ListForUser(ctx context.Context, userID string) ([]models.Ticket, error) {
	docs, err := s.store.Query(ctx, models.CollectionTickets,
		docstore.Filters{"user_id": userID},
		docstore.OrderBy{Field: "created_at"})
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets for user: %w", err)
	}
	return decodeTickets(docs)
}

// ListAll returns every ticket, most recently active first.
func (s *TicketService) ListAll(ctx context.Context) ([]models.Ticket, error) {
	docs, err := s.store.Query(ctx, models.CollectionTickets, nil,
		docstore.OrderBy{Field: "last_message_at", Desc: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	return decodeTickets(docs)
}

// SubscribeForUser registers a live view over a user's tickets.
func (s *TicketService) SubscribeForUser(userID string, onSnapshot func([]models.Ticket), onError func(error)) func() {
	return s.subscribe(docstore.Filters{"user_id": userID},
		docstore.OrderBy{Field: "created_at"}, onSnapshot, onError)
}

// SubscribeAll registers the admin live view, most recently active first.
func (s *TicketService) SubscribeAll(onSnapshot func([]models.Ticket), onError func(error)) func() {
	return s.subscribe(nil,
		docstore.OrderBy{Field: "last_message_at", Desc: true}, onSnapshot, onError)
}

func (s *TicketService) subscribe(filters docstore.Filters, orderBy docstore.OrderBy, onSnapshot func([]models.Ticket), onError func(error)) func() {
	return s.hub.Subscribe(models.CollectionTickets, filters, orderBy,
		func(docs []docstore.Document) {
			tickets, err := decodeTickets(docs)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				return
			}
			onSnapshot(tickets)
		}, onError)
}

func decodeTickets(docs []docstore.Document) ([]models.Ticket, error) {
	tickets := make([]models.Ticket, 0, len(docs))
	for i := range docs {
		var ticket models.Ticket
		if err := docs[i].Decode(&ticket); err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, nil
}
