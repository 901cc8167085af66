package models

import "time"

// Product represents a storefront catalog item
type Product struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Price              string    `json:"price"`
	OriginalPrice      string    `json:"original_price,omitempty"`
	DiscountPercentage int       `json:"discount_percentage,omitempty"`
	Category           string    `json:"category"`
	Image              string    `json:"image"`
	Images             []string  `json:"images,omitempty"`
	Description        string    `json:"description"`
	BuyURL             string    `json:"buy_url,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// PrimaryImage returns the main product image, falling back to the
// first entry of the image list when none is set.
func (p *Product) PrimaryImage() string {
	if p.Image != "" {
		return p.Image
	}
	if len(p.Images) > 0 {
		return p.Images[0]
	}
	return ""
}

// CategoryList is the single ordered document holding all category labels
type CategoryList struct {
	Categories []string  `json:"categories"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Ticket represents a support conversation thread
type Ticket struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Subject       string    `json:"subject"`
	Status        string    `json:"status"`
	UserID        string    `json:"user_id"`
	UserName      string    `json:"user_name"`
	UserEmail     string    `json:"user_email"`
	ProductID     string    `json:"product_id,omitempty"`
	ProductName   string    `json:"product_name,omitempty"`
	Description   string    `json:"description"`
	LastMessage   string    `json:"last_message,omitempty"`
	LastMessageAt time.Time `json:"last_message_at"`
	UnreadAdmin   int       `json:"unread_admin"`
	UnreadUser    int       `json:"unread_user"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Message is a single utterance within a ticket, immutable once written
type Message struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	Text      string    `json:"text"`
	SenderID  string    `json:"sender_id"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// UserProfile is the denormalized identity record, merge-upserted on
// every authenticated request
type UserProfile struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	PhotoURL    string    `json:"photo_url,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
	CreatedAt   time.Time `json:"created_at"`
}

// Announcement is the storefront banner singleton
type Announcement struct {
	Text    string `json:"text"`
	Enabled bool   `json:"enabled"`
}

// SocialMediaURLs is the footer link singleton
type SocialMediaURLs struct {
	Etsy      string `json:"etsy"`
	Instagram string `json:"instagram"`
	Pinterest string `json:"pinterest"`
	Threads   string `json:"threads"`
}

// CompanyRules is the store policy singleton
type CompanyRules struct {
	Rules []string `json:"rules"`
}

// AboutContent is the about-page singleton
type AboutContent struct {
	Title  string   `json:"title"`
	Story  []string `json:"story"`
	Values []string `json:"values"`
}

// CounterSnapshot is a read of the site-wide analytics document
type CounterSnapshot struct {
	PageViews    map[string]int64 `json:"page_views"`
	ProductViews map[string]int64 `json:"product_views"`
}

// Ticket types
const (
	TicketTypeOrderRequest   = "order_request"
	TicketTypeGeneralInquiry = "general_inquiry"
)

// Ticket statuses
const (
	TicketStatusOpen   = "open"
	TicketStatusClosed = "closed"
)

// GuestUserID attributes tickets created without a signed-in identity
const GuestUserID = "guest"

// Collection names in the document store
const (
	CollectionProducts   = "products"
	CollectionCategories = "categories"
	CollectionTickets    = "tickets"
	CollectionMessages   = "messages"
	CollectionUsers      = "users"
	CollectionContent    = "content"
	CollectionCounters   = "counters"
	CollectionProcessed  = "processed_events"
)

// ProcessedEvent for worker idempotency
type ProcessedEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	ProcessedAt time.Time `json:"processed_at"`
}
