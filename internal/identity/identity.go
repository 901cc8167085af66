package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"paragon-service/internal/docstore"
	"paragon-service/internal/models"
	"paragon-service/internal/util"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

// Typed verification failures, mapped to distinct user-facing messages
// at the API boundary.
var (
	ErrTokenMissing = errors.New("bearer token missing")
	ErrTokenExpired = errors.New("bearer token expired")
	ErrTokenInvalid = errors.New("bearer token invalid")
)

// Identity is the verified profile extracted from a bearer token.
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url,omitempty"`
}

type claims struct {
	jwt.RegisteredClaims
	Email       string `json:"email"`
	DisplayName string `json:"name"`
	PhotoURL    string `json:"picture,omitempty"`
}

// Manager verifies tokens, answers admin checks and keeps the
// denormalized user profile fresh.
type Manager struct {
	secret     []byte
	adminEmail string
	store      docstore.Store
	logger     *zap.Logger
}

// NewManager creates an identity manager backed by an HMAC secret and
// a single configured admin address.
func NewManager(secret, adminEmail string, store docstore.Store) *Manager {
	return &Manager{
		secret:     []byte(secret),
		adminEmail: adminEmail,
		store:      store,
		logger:     util.NamedLogger("identity"),
	}
}

// Verify parses and validates a bearer token into an Identity.
func (m *Manager) Verify(token string) (*Identity, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrTokenMissing
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid || c.Subject == "" {
		return nil, ErrTokenInvalid
	}

	return &Identity{
		UID:         c.Subject,
		Email:       c.Email,
		DisplayName: c.DisplayName,
		PhotoURL:    c.PhotoURL,
	}, nil
}

// IsAdmin reports whether the identity matches the configured admin
// address. Enforced server-side in front of every admin write.
func (m *Manager) IsAdmin(ident *Identity) bool {
	return ident != nil && ident.Email != "" && strings.EqualFold(ident.Email, m.adminEmail)
}

// SyncProfile merge-upserts the user profile document with a fresh
// lastSeen. Best-effort: failures are logged and swallowed so a
// profile write never blocks an authenticated request.
func (m *Manager) SyncProfile(ctx context.Context, ident *Identity) {
	now := time.Now().UTC()
	profile := models.UserProfile{
		UID:         ident.UID,
		Email:       ident.Email,
		DisplayName: ident.DisplayName,
		PhotoURL:    ident.PhotoURL,
		LastSeen:    now,
	}

	data, err := docstore.ToData(profile)
	if err != nil {
		m.logger.Warn("Failed to encode user profile", zap.String("uid", ident.UID), zap.Error(err))
		return
	}

	// created_at is only meaningful on first sight; the merge upsert
	// would clobber it otherwise.
	if _, getErr := m.store.Get(ctx, models.CollectionUsers, ident.UID); getErr == nil {
		delete(data, "created_at")
	} else {
		data["created_at"] = now.Format(time.RFC3339Nano)
	}

	if err := m.store.Upsert(ctx, models.CollectionUsers, ident.UID, data); err != nil {
		m.logger.Warn("Failed to upsert user profile", zap.String("uid", ident.UID), zap.Error(err))
	}
}

// SignToken mints a token for an identity. Used by tests and local
// tooling; production tokens come from the external identity provider
// signed with the shared secret.
func SignToken(secret string, ident Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ident.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:       ident.Email,
		DisplayName: ident.DisplayName,
		PhotoURL:    ident.PhotoURL,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}
