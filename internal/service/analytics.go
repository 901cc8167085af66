package service

import (
	"context"
	"errors"
	"strings"

	"paragon-service/internal/docstore"
	"paragon-service/internal/models"
	"paragon-service/internal/util"

	"go.uber.org/zap"
)

// siteCounterID is the single shared counters document.
const siteCounterID = "site"

// productNamesID maps counted product ids to display names for the
// admin dashboard.
const productNamesID = "product-names"

// AnalyticsService records page and product view counts. All writes
// are fire-and-forget: failures are logged and swallowed, and a lost
// count is never surfaced to the end user.
type AnalyticsService struct {
	store  docstore.Store
	logger *zap.Logger
}

// NewAnalyticsService creates a new analytics service.
func NewAnalyticsService(store docstore.Store) *AnalyticsService {
	return &AnalyticsService{
		store:  store,
		logger: util.NamedLogger("analytics"),
	}
}

// RecordPageView atomically bumps the counter for a named page. The
// counters document is created on first use.
func (s *AnalyticsService) RecordPageView(ctx context.Context, page string) {
	page = counterKey(page)
	if page == "" {
		return
	}
	util.PageViewsTotal.WithLabelValues(page).Inc()

	err := s.store.Increment(ctx, models.CollectionCounters, siteCounterID, "pageViews."+page, 1)
	if err != nil {
		util.CounterWriteFailures.Inc()
		s.logger.Warn("Dropped page view increment", zap.String("page", page), zap.Error(err))
	}
}

// RecordProductView atomically bumps a product's view counter and,
// best-effort, remembers its display name.
func (s *AnalyticsService) RecordProductView(ctx context.Context, productID, productName string) {
	productID = counterKey(productID)
	if productID == "" {
		return
	}
	util.ProductViewsTotal.Inc()

	err := s.store.Increment(ctx, models.CollectionCounters, siteCounterID, "productViews."+productID, 1)
	if err != nil {
		util.CounterWriteFailures.Inc()
		s.logger.Warn("Dropped product view increment", zap.String("product_id", productID), zap.Error(err))
		return
	}

	if productName != "" {
		err := s.store.Upsert(ctx, models.CollectionCounters, productNamesID,
			map[string]interface{}{productID: productName})
		if err != nil {
			s.logger.Warn("Dropped product name record", zap.String("product_id", productID), zap.Error(err))
		}
	}
}

// Snapshot reads the current counter values for the admin dashboard.
// An unwritten counters document reads as all zeroes.
func (s *AnalyticsService) Snapshot(ctx context.Context) (*models.CounterSnapshot, error) {
	snapshot := &models.CounterSnapshot{
		PageViews:    map[string]int64{},
		ProductViews: map[string]int64{},
	}

	doc, err := s.store.Get(ctx, models.CollectionCounters, siteCounterID)
	if errors.Is(err, docstore.ErrNotFound) {
		return snapshot, nil
	}
	if err != nil {
		return nil, err
	}

	fillCounters(doc.Data, "pageViews", snapshot.PageViews)
	fillCounters(doc.Data, "productViews", snapshot.ProductViews)
	return snapshot, nil
}

func fillCounters(data map[string]interface{}, bucket string, out map[string]int64) {
	nested, ok := data[bucket].(map[string]interface{})
	if !ok {
		return
	}
	for key, value := range nested {
		out[key] = asInt64Value(value)
	}
}

func asInt64Value(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// counterKey keeps dynamic names safe for dotted field paths.
func counterKey(name string) string {
	name = strings.TrimSpace(name)
	return strings.ReplaceAll(name, ".", "_")
}
