package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"paragon-service/internal/docstore"
	"paragon-service/internal/models"
	"paragon-service/internal/util"

	"go.uber.org/zap"
)

// Singleton document ids in the content collection.
const (
	docAnnouncement = "announcement"
	docSocialURLs   = "social-urls"
	docCompanyRules = "company-rules"
	docAbout        = "about"
)

const contentCacheTTL = 10 * time.Minute

// ContentCache is the read-through cache in front of the singleton
// content documents. Backed by redis in production; nil disables
// caching entirely.
type ContentCache interface {
	CacheGet(ctx context.Context, key string) (string, error)
	CacheSet(ctx context.Context, key, value string, ttl time.Duration) error
	CacheInvalidate(ctx context.Context, key string) error
}

// ContentService owns the singleton configuration documents. Reads
// return a hardcoded default when the document has never been written;
// writes are merge upserts that invalidate the cache.
type ContentService struct {
	store  docstore.Store
	cache  ContentCache
	logger *zap.Logger
}

// NewContentService creates a new content service. cache may be nil.
func NewContentService(store docstore.Store, cache ContentCache) *ContentService {
	return &ContentService{
		store:  store,
		cache:  cache,
		logger: util.NamedLogger("content"),
	}
}

// Announcement returns the storefront banner singleton.
func (s *ContentService) Announcement(ctx context.Context) (*models.Announcement, error) {
	out := &models.Announcement{Text: "Welcome to ParagonDXB", Enabled: false}
	if err := s.read(ctx, docAnnouncement, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveAnnouncement upserts the banner singleton.
func (s *ContentService) SaveAnnouncement(ctx context.Context, a *models.Announcement) error {
	return s.write(ctx, docAnnouncement, a)
}

// SocialMediaURLs returns the footer link singleton.
func (s *ContentService) SocialMediaURLs(ctx context.Context) (*models.SocialMediaURLs, error) {
	out := &models.SocialMediaURLs{
		Etsy:      "https://www.etsy.com/shop/ParagonDXB",
		Instagram: "https://www.instagram.com/paragondxb",
		Pinterest: "https://www.pinterest.com/paragondxb",
		Threads:   "https://www.threads.net/@paragondxb",
	}
	if err := s.read(ctx, docSocialURLs, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveSocialMediaURLs upserts the footer link singleton.
func (s *ContentService) SaveSocialMediaURLs(ctx context.Context, u *models.SocialMediaURLs) error {
	return s.write(ctx, docSocialURLs, u)
}

// CompanyRules returns the store policy singleton.
func (s *ContentService) CompanyRules(ctx context.Context) (*models.CompanyRules, error) {
	out := &models.CompanyRules{Rules: []string{
		"All purchases are completed on the linked external store.",
		"Order requests are answered within two business days.",
	}}
	if err := s.read(ctx, docCompanyRules, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveCompanyRules upserts the store policy singleton.
func (s *ContentService) SaveCompanyRules(ctx context.Context, r *models.CompanyRules) error {
	return s.write(ctx, docCompanyRules, r)
}

// About returns the about-page singleton.
func (s *ContentService) About(ctx context.Context) (*models.AboutContent, error) {
	out := &models.AboutContent{
		Title:  "About Paragon",
		Story:  []string{"Paragon began as a small Dubai design studio."},
		Values: []string{"Craftsmanship", "Honesty"},
	}
	if err := s.read(ctx, docAbout, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveAbout upserts the about-page singleton.
func (s *ContentService) SaveAbout(ctx context.Context, a *models.AboutContent) error {
	return s.write(ctx, docAbout, a)
}

// read fills out from cache or store, leaving the passed-in default
// untouched when the document is absent.
func (s *ContentService) read(ctx context.Context, docID string, out interface{}) error {
	if s.cache != nil {
		cached, err := s.cache.CacheGet(ctx, docID)
		if err != nil {
			s.logger.Warn("Content cache read failed", zap.String("doc", docID), zap.Error(err))
		} else if cached != "" {
			if err := json.Unmarshal([]byte(cached), out); err == nil {
				return nil
			}
		}
	}

	doc, err := s.store.Get(ctx, models.CollectionContent, docID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read content %s: %w", docID, err)
	}
	if err := doc.Decode(out); err != nil {
		return err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(out); err == nil {
			if err := s.cache.CacheSet(ctx, docID, string(raw), contentCacheTTL); err != nil {
				s.logger.Warn("Content cache write failed", zap.String("doc", docID), zap.Error(err))
			}
		}
	}
	return nil
}

func (s *ContentService) write(ctx context.Context, docID string, value interface{}) error {
	data, err := docstore.ToData(value)
	if err != nil {
		return err
	}
	if err := s.store.Upsert(ctx, models.CollectionContent, docID, data); err != nil {
		return fmt.Errorf("failed to save content %s: %w", docID, err)
	}
	if s.cache != nil {
		if err := s.cache.CacheInvalidate(ctx, docID); err != nil {
			s.logger.Warn("Content cache invalidation failed", zap.String("doc", docID), zap.Error(err))
		}
	}
	return nil
}
