package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"paragon-service/internal/docstore"
	"paragon-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChatEnv(t *testing.T, locks Locker) (*docstore.Memory, *TicketService, *MessageService) {
	t.Helper()
	store, hub := newTestStore(t)
	return store, NewTicketService(store, hub, locks, nil), NewMessageService(store, hub, nil)
}

func TestChatSessionStartsIdle(t *testing.T) {
	_, tickets, messages := newChatEnv(t, nil)

	session := NewChatSession(tickets, messages, testUser, func([]models.Message) {}, nil)
	defer session.Teardown()

	assert.Equal(t, StateIdle, session.State())
	assert.Empty(t, session.TicketID())

	_, err := session.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrSessionNotOpen)
}

func TestChatSessionOpenWithoutHistoryIsUnbound(t *testing.T) {
	store, tickets, messages := newChatEnv(t, nil)
	ctx := context.Background()

	session := NewChatSession(tickets, messages, testUser, func([]models.Message) {}, nil)
	defer session.Teardown()

	require.NoError(t, session.Open(ctx))
	assert.Equal(t, StateUnbound, session.State())

	// Opening the widget alone never creates a ticket.
	docs, err := store.Query(ctx, models.CollectionTickets, nil, docstore.OrderBy{})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestChatSessionOpenSurfacesLookupFailure(t *testing.T) {
	store, hub := newTestStore(t)
	failing := &queryFailStore{Store: store, collection: models.CollectionTickets}
	tickets := NewTicketService(failing, hub, nil, nil)
	messages := NewMessageService(failing, hub, nil)

	session := NewChatSession(tickets, messages, testUser, func([]models.Message) {}, nil)
	defer session.Teardown()

	// A failed lookup returns the session to idle instead of landing it
	// unbound, where the next send would mint a fresh ticket.
	err := session.Open(context.Background())
	assert.ErrorIs(t, err, errStoreUnavailable)
	assert.Equal(t, StateIdle, session.State())
}

func TestChatSessionFirstSendCreatesTicket(t *testing.T) {
	store, tickets, messages := newChatEnv(t, nil)
	ctx := context.Background()

	session := NewChatSession(tickets, messages, testUser, func([]models.Message) {}, nil)
	defer session.Teardown()

	require.NoError(t, session.Open(ctx))
	message, err := session.Send(ctx, "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hello", message.Text)
	assert.Equal(t, StateBound, session.State())
	require.NotEmpty(t, session.TicketID())

	// Exactly one open general inquiry with the preview set.
	docs, err := store.Query(ctx, models.CollectionTickets, docstore.Filters{
		"user_id": "u1",
		"type":    models.TicketTypeGeneralInquiry,
		"status":  models.TicketStatusOpen,
	}, docstore.OrderBy{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, session.TicketID(), docs[0].ID)
	assert.Equal(t, "Hello", docs[0].Data["last_message"])

	list, err := messages.List(ctx, session.TicketID())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Hello", list[0].Text)
}

func TestChatSessionReopensExistingInquiry(t *testing.T) {
	_, tickets, messages := newChatEnv(t, nil)
	ctx := context.Background()

	first := NewChatSession(tickets, messages, testUser, func([]models.Message) {}, nil)
	require.NoError(t, first.Open(ctx))
	_, err := first.Send(ctx, "Hello")
	require.NoError(t, err)
	ticketID := first.TicketID()
	first.Teardown()

	second := NewChatSession(tickets, messages, testUser, func([]models.Message) {}, nil)
	defer second.Teardown()
	require.NoError(t, second.Open(ctx))

	assert.Equal(t, StateBound, second.State())
	assert.Equal(t, ticketID, second.TicketID())
}

func TestChatSessionReceivesMessageSnapshots(t *testing.T) {
	_, tickets, messages := newChatEnv(t, nil)
	ctx := context.Background()

	snapshots := make(chan []models.Message, 16)
	session := NewChatSession(tickets, messages, testUser,
		func(list []models.Message) { snapshots <- list }, nil)
	defer session.Teardown()

	require.NoError(t, session.Open(ctx))
	_, err := session.Send(ctx, "Hello")
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case list := <-snapshots:
			if len(list) == 1 && list[0].Text == "Hello" {
				return
			}
		case <-deadline:
			t.Fatal("session never received its own message")
		}
	}
}

func TestChatSessionObservesAdminClose(t *testing.T) {
	_, tickets, messages := newChatEnv(t, nil)
	ctx := context.Background()

	session := NewChatSession(tickets, messages, testUser, func([]models.Message) {}, nil)
	defer session.Teardown()

	require.NoError(t, session.Open(ctx))
	_, err := session.Send(ctx, "Hello")
	require.NoError(t, err)

	require.NoError(t, tickets.CloseTicket(ctx, session.TicketID(), "admin"))

	require.Eventually(t, func() bool {
		return session.State() == StateClosed
	}, 2*time.Second, 10*time.Millisecond)

	_, err = session.Send(ctx, "anyone there?")
	assert.ErrorIs(t, err, ErrTicketClosed)
}

func TestChatSessionSendAgainstClosedTicketFlipsState(t *testing.T) {
	_, tickets, messages := newChatEnv(t, nil)
	ctx := context.Background()

	session := NewChatSession(tickets, messages, testUser, func([]models.Message) {}, nil)
	defer session.Teardown()

	require.NoError(t, session.Open(ctx))
	_, err := session.Send(ctx, "Hello")
	require.NoError(t, err)

	// Close and send before the watch notification lands. The rejected
	// send itself must flip the session to closed.
	require.NoError(t, tickets.CloseTicket(ctx, session.TicketID(), "admin"))
	_, err = session.Send(ctx, "too late")
	assert.ErrorIs(t, err, ErrTicketClosed)
	assert.Equal(t, StateClosed, session.State())
}

func TestChatSessionConcurrentFirstSendWithLock(t *testing.T) {
	store, tickets, messages := newChatEnv(t, newFakeLocker())
	ctx := context.Background()

	// Two widget instances for the same user racing their first send.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session := NewChatSession(tickets, messages, testUser, func([]models.Message) {}, nil)
			defer session.Teardown()
			if err := session.Open(ctx); err != nil {
				return
			}
			// The loser of the lock race surfaces an error and keeps the
			// draft; only the winner creates the ticket.
			_, _ = session.Send(ctx, "Hello")
		}()
	}
	wg.Wait()

	docs, err := store.Query(ctx, models.CollectionTickets, docstore.Filters{
		"user_id": "u1",
		"type":    models.TicketTypeGeneralInquiry,
		"status":  models.TicketStatusOpen,
	}, docstore.OrderBy{})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestChatSessionGuestFallback(t *testing.T) {
	_, tickets, messages := newChatEnv(t, nil)
	ctx := context.Background()

	session := NewChatSession(tickets, messages, TicketUser{}, func([]models.Message) {}, nil)
	defer session.Teardown()

	require.NoError(t, session.Open(ctx))
	_, err := session.Send(ctx, "anyone?")
	require.NoError(t, err)

	ticket, err := tickets.GetTicket(ctx, session.TicketID())
	require.NoError(t, err)
	assert.Equal(t, models.GuestUserID, ticket.UserID)
}

func TestChatSessionTeardownResets(t *testing.T) {
	_, tickets, messages := newChatEnv(t, nil)
	ctx := context.Background()

	session := NewChatSession(tickets, messages, testUser, func([]models.Message) {}, nil)
	require.NoError(t, session.Open(ctx))
	_, err := session.Send(ctx, "Hello")
	require.NoError(t, err)

	session.Teardown()
	session.Teardown() // safe to repeat

	assert.Equal(t, StateIdle, session.State())
	assert.Empty(t, session.TicketID())
}
