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

const categoryListID = "list"

// CatalogService owns products and categories. Reads are public; all
// writes sit behind the admin authorization middleware and are
// broadcast to every live product subscription.
type CatalogService struct {
	store  docstore.Store
	hub    *docstore.Hub
	events *broker.EventPublisher
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service. events may be nil
// when no broker is wired (tests, local development).
func NewCatalogService(store docstore.Store, hub *docstore.Hub, events *broker.EventPublisher) *CatalogService {
	return &CatalogService{
		store:  store,
		hub:    hub,
		events: events,
		logger: util.GetLogger(),
	}
}

// CreateProduct validates and persists a new product.
func (s *CatalogService) CreateProduct(ctx context.Context, product *models.Product) error {
	ctx, span := util.StartSpan(ctx, "CatalogService.CreateProduct")
	defer span.End()

	if err := validateProduct(product); err != nil {
		return err
	}

	product.ID = "prod-" + uuid.New().String()
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	data, err := docstore.ToData(product)
	if err != nil {
		return err
	}
	if err := s.store.CreateWithID(ctx, models.CollectionProducts, product.ID, data); err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}

	util.ProductWritesTotal.WithLabelValues("create").Inc()
	s.logger.Info("Product created",
		zap.String("product_id", product.ID),
		zap.String("category", product.Category))

	s.publishProductChanged(ctx, product.ID, models.ProductOpCreated, product.Name, product.Category)
	return nil
}

// UpdateProduct replaces the mutable fields of an existing product.
func (s *CatalogService) UpdateProduct(ctx context.Context, id string, product *models.Product) error {
	ctx, span := util.StartSpan(ctx, "CatalogService.UpdateProduct")
	defer span.End()

	if err := validateProduct(product); err != nil {
		return err
	}

	product.ID = id
	product.UpdatedAt = time.Now().UTC()

	patch, err := docstore.ToData(product)
	if err != nil {
		return err
	}
	delete(patch, "created_at")

	if err := s.store.Update(ctx, models.CollectionProducts, id, patch); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update product: %w", err)
	}

	util.ProductWritesTotal.WithLabelValues("update").Inc()
	s.publishProductChanged(ctx, id, models.ProductOpUpdated, product.Name, product.Category)
	return nil
}

// DeleteProduct removes a product permanently. There is no soft delete.
func (s *CatalogService) DeleteProduct(ctx context.Context, id string) error {
	ctx, span := util.StartSpan(ctx, "CatalogService.DeleteProduct")
	defer span.End()

	if err := s.store.Delete(ctx, models.CollectionProducts, id); err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}

	util.ProductWritesTotal.WithLabelValues("delete").Inc()
	s.logger.Info("Product deleted", zap.String("product_id", id))
	s.publishProductChanged(ctx, id, models.ProductOpDeleted, "", "")
	return nil
}

// GetProduct retrieves a product by id.
func (s *CatalogService) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	doc, err := s.store.Get(ctx, models.CollectionProducts, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var product models.Product
	if err := doc.Decode(&product); err != nil {
		return nil, err
	}
	return &product, nil
}

// ListProducts returns the full catalog, newest first. Filtering and
// sorting beyond that happens client-side over the live list.
func (s *CatalogService) ListProducts(ctx context.Context) ([]models.Product, error) {
	docs, err := s.store.Query(ctx, models.CollectionProducts, nil,
		docstore.OrderBy{Field: "created_at", Desc: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return decodeProducts(docs)
}

// SubscribeProducts registers a live catalog view. Every admin CRUD
// operation reaches the callback within one notification cycle.
func (s *CatalogService) SubscribeProducts(onSnapshot func([]models.Product), onError func(error)) func() {
	return s.hub.Subscribe(models.CollectionProducts, nil,
		docstore.OrderBy{Field: "created_at", Desc: true},
		func(docs []docstore.Document) {
			products, err := decodeProducts(docs)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				return
			}
			onSnapshot(products)
		}, onError)
}

// GetCategories returns the flat ordered category list, empty when the
// singleton document has never been written.
func (s *CatalogService) GetCategories(ctx context.Context) (*models.CategoryList, error) {
	doc, err := s.store.Get(ctx, models.CollectionCategories, categoryListID)
	if errors.Is(err, docstore.ErrNotFound) {
		return &models.CategoryList{Categories: []string{}}, nil
	}
	if err != nil {
		return nil, err
	}
	var list models.CategoryList
	if err := doc.Decode(&list); err != nil {
		return nil, err
	}
	return &list, nil
}

// SaveCategories replaces the category list. Labels must be uppercase
// and unique; deleting a label does not cascade to products that still
// reference it.
func (s *CatalogService) SaveCategories(ctx context.Context, categories []string) error {
	seen := make(map[string]struct{}, len(categories))
	for _, label := range categories {
		if strings.TrimSpace(label) == "" {
			return fmt.Errorf("%w: empty category label", ErrValidation)
		}
		if label != strings.ToUpper(label) {
			return fmt.Errorf("%w: category %q must be uppercase", ErrValidation, label)
		}
		if _, dup := seen[label]; dup {
			return fmt.Errorf("%w: duplicate category %q", ErrValidation, label)
		}
		seen[label] = struct{}{}
	}

	list := models.CategoryList{Categories: categories, UpdatedAt: time.Now().UTC()}
	data, err := docstore.ToData(list)
	if err != nil {
		return err
	}
	if err := s.store.Upsert(ctx, models.CollectionCategories, categoryListID, data); err != nil {
		return fmt.Errorf("failed to save categories: %w", err)
	}
	return nil
}

func (s *CatalogService) publishProductChanged(ctx context.Context, id, op, name, category string) {
	if s.events == nil {
		return
	}
	event := &models.ProductChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeProductChanged,
			Timestamp: time.Now(),
		},
		ProductID: id,
		Op:        op,
		Name:      name,
		Category:  category,
	}
	if err := s.events.PublishProductChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish ProductChanged event", zap.Error(err))
	}
}

func validateProduct(product *models.Product) error {
	if strings.TrimSpace(product.Name) == "" {
		return fmt.Errorf("%w: product name is required", ErrValidation)
	}
	if strings.TrimSpace(product.Price) == "" {
		return fmt.Errorf("%w: product price is required", ErrValidation)
	}
	if strings.TrimSpace(product.Category) == "" {
		return fmt.Errorf("%w: product category is required", ErrValidation)
	}
	if product.DiscountPercentage < 0 || product.DiscountPercentage > 100 {
		return fmt.Errorf("%w: discount percentage must be between 0 and 100", ErrValidation)
	}
	if product.PrimaryImage() == "" {
		return fmt.Errorf("%w: product image is required", ErrValidation)
	}
	return nil
}

func decodeProducts(docs []docstore.Document) ([]models.Product, error) {
	products := make([]models.Product, 0, len(docs))
	for i := range docs {
		var product models.Product
		if err := docs[i].Decode(&product); err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, nil
}
