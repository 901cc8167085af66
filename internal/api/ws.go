package api

import (
	"net/http"
	"sync"

	"paragon-service/internal/models"
	"paragon-service/internal/service"
	"paragon-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsConn serializes writes; hub snapshots and error frames arrive from
// a different goroutine than the read loop.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) writeJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

// drain keeps reading until the peer goes away, then runs teardown.
func (w *wsConn) drain(teardown func()) {
	for {
		if _, _, err := w.conn.ReadMessage(); err != nil {
			break
		}
	}
	teardown()
}

func upgrade(c *gin.Context) (*wsConn, bool) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return nil, false
	}
	util.WebsocketSessionsActive.Inc()
	return &wsConn{conn: conn}, true
}

func (w *wsConn) close() {
	util.WebsocketSessionsActive.Dec()
	_ = w.conn.Close()
}

// watchProducts streams the live catalog: a full snapshot frame on
// connect and after every admin CRUD operation.
func (h *Handler) watchProducts(c *gin.Context) {
	ws, ok := upgrade(c)
	if !ok {
		return
	}
	defer ws.close()

	unsub := h.catalog.SubscribeProducts(
		func(products []models.Product) {
			_ = ws.writeJSON(gin.H{"type": "products", "products": products})
		},
		func(err error) {
			_ = ws.writeJSON(gin.H{"type": "error", "error": "Live view unavailable, please reload"})
		})
	defer unsub()

	ws.drain(func() {})
}

// watchMessages streams a ticket's full ordered message list.
func (h *Handler) watchMessages(c *gin.Context) {
	ticket, ok := h.ticketAccess(c)
	if !ok {
		return
	}

	ws, wsOK := upgrade(c)
	if !wsOK {
		return
	}
	defer ws.close()

	unsub := h.messages.Subscribe(ticket.ID,
		func(messages []models.Message) {
			_ = ws.writeJSON(gin.H{"type": "messages", "messages": messages})
		},
		func(err error) {
			_ = ws.writeJSON(gin.H{"type": "error", "error": "Live view unavailable, please reload"})
		})
	defer unsub()

	ws.drain(func() {})
}

// watchAllTickets streams the admin ticket list, most recently active
// first. New order requests appear here without a reload.
func (h *Handler) watchAllTickets(c *gin.Context) {
	ws, ok := upgrade(c)
	if !ok {
		return
	}
	defer ws.close()

	unsub := h.tickets.SubscribeAll(
		func(tickets []models.Ticket) {
			_ = ws.writeJSON(gin.H{"type": "tickets", "tickets": tickets})
		},
		func(err error) {
			_ = ws.writeJSON(gin.H{"type": "error", "error": "Live view unavailable, please reload"})
		})
	defer unsub()

	ws.drain(func() {})
}

// chatSocket runs one chat session per connection. Inbound frames are
// sends; outbound frames carry message snapshots, state changes and
// errors. The draft stays client-side on failure, so a failed send
// only produces an error frame.
func (h *Handler) chatSocket(c *gin.Context) {
	ident := identityFrom(c)

	ws, ok := upgrade(c)
	if !ok {
		return
	}
	defer ws.close()

	session := service.NewChatSession(h.tickets, h.messages,
		service.TicketUser{ID: ident.UID, Name: ident.DisplayName, Email: ident.Email},
		func(messages []models.Message) {
			_ = ws.writeJSON(gin.H{"type": "messages", "messages": messages})
		},
		func(err error) {
			_ = ws.writeJSON(gin.H{"type": "error", "error": "Live view unavailable, please reload"})
		})
	defer session.Teardown()

	if err := session.Open(c.Request.Context()); err != nil {
		_ = ws.writeJSON(gin.H{"type": "error", "error": "Chat unavailable, please try again"})
		return
	}
	_ = ws.writeJSON(gin.H{"type": "state", "state": session.State().String(), "ticket_id": session.TicketID()})

	for {
		var frame struct {
			Text string `json:"text"`
		}
		if err := ws.conn.ReadJSON(&frame); err != nil {
			break
		}

		if _, err := session.Send(c.Request.Context(), frame.Text); err != nil {
			msg := "Could not send, please try again"
			switch err {
			case service.ErrEmptyMessage:
				msg = "Message is empty"
			case service.ErrTicketClosed:
				msg = "This conversation is closed"
			}
			_ = ws.writeJSON(gin.H{"type": "error", "error": msg})
		}
		_ = ws.writeJSON(gin.H{"type": "state", "state": session.State().String(), "ticket_id": session.TicketID()})
	}
}
