package social

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"paragon-service/config"
	"paragon-service/internal/util"

	"go.uber.org/zap"
)

var (
	ErrUnknownPlatform = errors.New("unknown social platform")
	ErrUnknownAction   = errors.New("unknown social action")
)

// Platform is a thin pass-through to one third-party API. Read actions
// map to GET, publish actions to POST. Responses come back reshaped
// into a flat {platform, action, result} envelope, no retries.
type Platform struct {
	Name    string
	BaseURL string
	Token   string

	// action name -> remote path, split by HTTP method
	reads  map[string]string
	writes map[string]string
}

// Registry dispatches per-platform actions for etsy, instagram,
// pinterest and threads.
type Registry struct {
	platforms map[string]*Platform
	client    *http.Client
	logger    *zap.Logger
}

func NewRegistry(cfg config.SocialConfig) *Registry {
	platforms := map[string]*Platform{
		"etsy": {
			Name:    "etsy",
			BaseURL: cfg.EtsyBaseURL,
			Token:   cfg.EtsyToken,
			reads: map[string]string{
				"stats":    "/application/shops/me/stats",
				"listings": "/application/shops/me/listings/active",
			},
			writes: map[string]string{
				"publish": "/application/shops/me/listings",
			},
		},
		"instagram": {
			Name:    "instagram",
			BaseURL: cfg.InstagramBaseURL,
			Token:   cfg.InstagramToken,
			reads: map[string]string{
				"stats": "/me/insights",
				"posts": "/me/media",
			},
			writes: map[string]string{
				"publish": "/me/media",
			},
		},
		"pinterest": {
			Name:    "pinterest",
			BaseURL: cfg.PinterestBaseURL,
			Token:   cfg.PinterestToken,
			reads: map[string]string{
				"stats": "/user_account/analytics",
				"posts": "/pins",
			},
			writes: map[string]string{
				"publish": "/pins",
			},
		},
		"threads": {
			Name:    "threads",
			BaseURL: cfg.ThreadsBaseURL,
			Token:   cfg.ThreadsToken,
			reads: map[string]string{
				"stats": "/me/threads_insights",
				"posts": "/me/threads",
			},
			writes: map[string]string{
				"publish": "/me/threads",
			},
		},
	}

	return &Registry{
		platforms: platforms,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    util.NamedLogger("social"),
	}
}

// Dispatch resolves platform and action and forwards the call. A nil
// data map means a read (GET); non-nil means publish (POST).
func (r *Registry) Dispatch(ctx context.Context, platform, action string, data map[string]interface{}) (map[string]interface{}, error) {
	p, ok := r.platforms[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}

	var (
		result map[string]interface{}
		err    error
	)
	if data == nil {
		result, err = r.get(ctx, p, action)
	} else {
		result, err = r.post(ctx, p, action, data)
	}
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"platform": p.Name,
		"action":   action,
		"result":   result,
	}, nil
}

func (r *Registry) get(ctx context.Context, p *Platform, action string) (map[string]interface{}, error) {
	path, ok := p.reads[action]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownAction, p.Name, action)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return r.do(p, req)
}

func (r *Registry) post(ctx context.Context, p *Platform, action string, data map[string]interface{}) (map[string]interface{}, error) {
	path, ok := p.writes[action]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownAction, p.Name, action)
	}

	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return r.do(p, req)
}

func (r *Registry) do(p *Platform, req *http.Request) (map[string]interface{}, error) {
	req.Header.Set("Authorization", "Bearer "+p.Token)

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("Social platform request failed",
			zap.String("platform", p.Name),
			zap.String("url", req.URL.String()),
			zap.Error(err))
		return nil, fmt.Errorf("%s request failed: %w", p.Name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		r.logger.Warn("Social platform returned an error",
			zap.String("platform", p.Name),
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%s returned status %d", p.Name, resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%s returned malformed response: %w", p.Name, err)
	}
	return result, nil
}

// OverrideBaseURL points a platform at a different host. Used to aim
// requests at a local test server.
func (r *Registry) OverrideBaseURL(platform, baseURL string) error {
	p, ok := r.platforms[platform]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return err
	}
	p.BaseURL = baseURL
	return nil
}
