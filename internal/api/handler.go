package api

import (
	"errors"
	"net/http"
	"time"

	"paragon-service/internal/identity"
	"paragon-service/internal/models"
	"paragon-service/internal/service"
	"paragon-service/internal/social"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	catalog   *service.CatalogService
	tickets   *service.TicketService
	messages  *service.MessageService
	analytics *service.AnalyticsService
	content   *service.ContentService
	idm       *identity.Manager
	social    *social.Registry
}

// NewHandler creates a new HTTP handler
func NewHandler(
	catalog *service.CatalogService,
	tickets *service.TicketService,
	messages *service.MessageService,
	analytics *service.AnalyticsService,
	content *service.ContentService,
	idm *identity.Manager,
	socialRegistry *social.Registry,
) *Handler {
	return &Handler{
		catalog:   catalog,
		tickets:   tickets,
		messages:  messages,
		analytics: analytics,
		content:   content,
		idm:       idm,
		social:    socialRegistry,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())
	router.Use(authMiddleware(h.idm))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)
		v1.GET("/products/watch", h.watchProducts)
		v1.GET("/categories", h.getCategories)

		v1.GET("/content/announcement", h.getAnnouncement)
		v1.GET("/content/social-urls", h.getSocialURLs)
		v1.GET("/content/company-rules", h.getCompanyRules)
		v1.GET("/content/about", h.getAbout)

		v1.POST("/analytics/page-view", h.recordPageView)
		v1.POST("/analytics/product-view", h.recordProductView)

		v1.POST("/order-requests", h.createOrderRequest)

		authed := v1.Group("")
		authed.Use(requireAuth())
		{
			authed.GET("/me/tickets", h.listMyTickets)
			authed.GET("/tickets/:id/messages", h.listMessages)
			authed.POST("/tickets/:id/messages", h.sendMessage)
			authed.GET("/tickets/:id/messages/watch", h.watchMessages)
			authed.GET("/chat/ws", h.chatSocket)
		}

		admin := v1.Group("/admin")
		admin.Use(requireAdmin(h.idm))
		{
			admin.POST("/products", h.createProduct)
			admin.PUT("/products/:id", h.updateProduct)
			admin.DELETE("/products/:id", h.deleteProduct)
			admin.PUT("/categories", h.saveCategories)

			admin.GET("/tickets", h.listAllTickets)
			admin.GET("/tickets/watch", h.watchAllTickets)
			admin.POST("/tickets/:id/close", h.closeTicket)

			admin.GET("/analytics", h.analyticsSnapshot)

			admin.PUT("/content/announcement", h.saveAnnouncement)
			admin.PUT("/content/social-urls", h.saveSocialURLs)
			admin.PUT("/content/company-rules", h.saveCompanyRules)
			admin.PUT("/content/about", h.saveAbout)

			admin.GET("/social/:platform", h.socialGet)
			admin.POST("/social/:platform", h.socialPost)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// --- catalog ---

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.catalog.ListProducts(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) getProduct(c *gin.Context) {
	product, err := h.catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) createProduct(c *gin.Context) {
	var product models.Product
	if err := c.ShouldBindJSON(&product); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if err := h.catalog.CreateProduct(c.Request.Context(), &product); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (h *Handler) updateProduct(c *gin.Context) {
	var product models.Product
	if err := c.ShouldBindJSON(&product); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if err := h.catalog.UpdateProduct(c.Request.Context(), c.Param("id"), &product); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) deleteProduct(c *gin.Context) {
	if err := h.catalog.DeleteProduct(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

func (h *Handler) getCategories(c *gin.Context) {
	list, err := h.catalog.GetCategories(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) saveCategories(c *gin.Context) {
	var req struct {
		Categories []string `json:"categories" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if err := h.catalog.SaveCategories(c.Request.Context(), req.Categories); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": req.Categories})
}

// --- tickets & messages ---

func (h *Handler) createOrderRequest(c *gin.Context) {
	var req struct {
		ProductID   string `json:"product_id" binding:"required"`
		ProductName string `json:"product_name"`
		Name        string `json:"name" binding:"required"`
		Email       string `json:"email" binding:"required"`
		Notes       string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	user := service.TicketUser{Name: req.Name, Email: req.Email}
	if ident := identityFrom(c); ident != nil {
		user.ID = ident.UID
	}

	ticket, err := h.tickets.CreateOrderRequest(c.Request.Context(), service.OrderRequestInput{
		ProductID:   req.ProductID,
		ProductName: req.ProductName,
		User:        user,
		Notes:       req.Notes,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, ticket)
}

func (h *Handler) listMyTickets(c *gin.Context) {
	ident := identityFrom(c)
	tickets, err := h.tickets.ListForUser(c.Request.Context(), ident.UID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets})
}

func (h *Handler) listAllTickets(c *gin.Context) {
	tickets, err := h.tickets.ListAll(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets})
}

func (h *Handler) closeTicket(c *gin.Context) {
	ident := identityFrom(c)
	if err := h.tickets.CloseTicket(c.Request.Context(), c.Param("id"), ident.Email); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket_id": c.Param("id"), "status": models.TicketStatusClosed})
}

// ticketAccess loads the ticket and rejects callers who neither own it
// nor hold the admin identity.
func (h *Handler) ticketAccess(c *gin.Context) (*models.Ticket, bool) {
	ident := identityFrom(c)
	ticket, err := h.tickets.GetTicket(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return nil, false
	}
	if ticket.UserID != ident.UID && !h.idm.IsAdmin(ident) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not your ticket"})
		return nil, false
	}
	return ticket, true
}

func (h *Handler) listMessages(c *gin.Context) {
	ticket, ok := h.ticketAccess(c)
	if !ok {
		return
	}
	messages, err := h.messages.List(c.Request.Context(), ticket.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket, "messages": messages})
}

func (h *Handler) sendMessage(c *gin.Context) {
	ticket, ok := h.ticketAccess(c)
	if !ok {
		return
	}

	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	ident := identityFrom(c)
	message, err := h.messages.Send(c.Request.Context(), ticket.ID, req.Text, ident.UID, h.idm.IsAdmin(ident))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, message)
}

// --- analytics ---

func (h *Handler) recordPageView(c *gin.Context) {
	var req struct {
		Page string `json:"page" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	h.analytics.RecordPageView(c.Request.Context(), req.Page)
	c.JSON(http.StatusAccepted, gin.H{"recorded": true})
}

func (h *Handler) recordProductView(c *gin.Context) {
	var req struct {
		ProductID   string `json:"product_id" binding:"required"`
		ProductName string `json:"product_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	h.analytics.RecordProductView(c.Request.Context(), req.ProductID, req.ProductName)
	c.JSON(http.StatusAccepted, gin.H{"recorded": true})
}

func (h *Handler) analyticsSnapshot(c *gin.Context) {
	snapshot, err := h.analytics.Snapshot(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// --- content singletons ---

func (h *Handler) getAnnouncement(c *gin.Context) {
	out, err := h.content.Announcement(c.Request.Context())
	respond(c, out, err)
}

func (h *Handler) saveAnnouncement(c *gin.Context) {
	var in models.Announcement
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	respond(c, in, h.content.SaveAnnouncement(c.Request.Context(), &in))
}

func (h *Handler) getSocialURLs(c *gin.Context) {
	out, err := h.content.SocialMediaURLs(c.Request.Context())
	respond(c, out, err)
}

func (h *Handler) saveSocialURLs(c *gin.Context) {
	var in models.SocialMediaURLs
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	respond(c, in, h.content.SaveSocialMediaURLs(c.Request.Context(), &in))
}

func (h *Handler) getCompanyRules(c *gin.Context) {
	out, err := h.content.CompanyRules(c.Request.Context())
	respond(c, out, err)
}

func (h *Handler) saveCompanyRules(c *gin.Context) {
	var in models.CompanyRules
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	respond(c, in, h.content.SaveCompanyRules(c.Request.Context(), &in))
}

func (h *Handler) getAbout(c *gin.Context) {
	out, err := h.content.About(c.Request.Context())
	respond(c, out, err)
}

func (h *Handler) saveAbout(c *gin.Context) {
	var in models.AboutContent
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	respond(c, in, h.content.SaveAbout(c.Request.Context(), &in))
}

// --- social pass-through ---

func (h *Handler) socialGet(c *gin.Context) {
	result, err := h.social.Dispatch(c.Request.Context(), c.Param("platform"), c.Query("action"), nil)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) socialPost(c *gin.Context) {
	var req struct {
		Action string                 `json:"action" binding:"required"`
		Data   map[string]interface{} `json:"data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.Data == nil {
		req.Data = map[string]interface{}{}
	}
	result, err := h.social.Dispatch(c.Request.Context(), c.Param("platform"), req.Action, req.Data)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// --- shared response helpers ---

func respond(c *gin.Context, payload interface{}, err error) {
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, service.ErrEmptyMessage), errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrTicketClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "This conversation is closed"})
	case errors.Is(err, social.ErrUnknownPlatform), errors.Is(err, social.ErrUnknownAction):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong, please try again", "details": err.Error()})
	}
}
