package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"paragon-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestProduct() *models.Product {
	return &models.Product{
		Name:        "Brass Lamp",
		Price:       "120 AED",
		Category:    "LIGHTING",
		Image:       "https://cdn.example.com/lamp.jpg",
		Description: "Hand finished brass table lamp",
	}
}

func TestCreateProductAssignsIDAndTimestamps(t *testing.T) {
	store, hub := newTestStore(t)
	svc := NewCatalogService(store, hub, nil)

	product := validTestProduct()
	require.NoError(t, svc.CreateProduct(context.Background(), product))

	assert.True(t, strings.HasPrefix(product.ID, "prod-"))
	assert.False(t, product.CreatedAt.IsZero())

	got, err := svc.GetProduct(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, "Brass Lamp", got.Name)
	assert.Equal(t, "120 AED", got.Price)
}

func TestCreateProductValidation(t *testing.T) {
	store, hub := newTestStore(t)
	svc := NewCatalogService(store, hub, nil)

	cases := []struct {
		name   string
		mutate func(*models.Product)
	}{
		{"missing name", func(p *models.Product) { p.Name = " " }},
		{"missing price", func(p *models.Product) { p.Price = "" }},
		{"missing category", func(p *models.Product) { p.Category = "" }},
		{"missing image", func(p *models.Product) { p.Image = ""; p.Images = nil }},
		{"discount out of range", func(p *models.Product) { p.DiscountPercentage = 101 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			product := validTestProduct()
			tc.mutate(product)
			err := svc.CreateProduct(context.Background(), product)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestCreateProductAcceptsGalleryOnlyImage(t *testing.T) {
	store, hub := newTestStore(t)
	svc := NewCatalogService(store, hub, nil)

	product := validTestProduct()
	product.Image = ""
	product.Images = []string{"https://cdn.example.com/gallery-1.jpg"}

	require.NoError(t, svc.CreateProduct(context.Background(), product))
	assert.Equal(t, "https://cdn.example.com/gallery-1.jpg", product.PrimaryImage())
}

func TestUpdateProductPreservesCreatedAt(t *testing.T) {
	store, hub := newTestStore(t)
	svc := NewCatalogService(store, hub, nil)
	ctx := context.Background()

	product := validTestProduct()
	require.NoError(t, svc.CreateProduct(ctx, product))
	created := product.CreatedAt

	time.Sleep(5 * time.Millisecond)
	patch := validTestProduct()
	patch.Name = "Brass Lamp v2"
	require.NoError(t, svc.UpdateProduct(ctx, product.ID, patch))

	got, err := svc.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, "Brass Lamp v2", got.Name)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.UpdatedAt.After(created))
}

func TestUpdateMissingProduct(t *testing.T) {
	store, hub := newTestStore(t)
	svc := NewCatalogService(store, hub, nil)

	err := svc.UpdateProduct(context.Background(), "prod-missing", validTestProduct())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListProductsNewestFirst(t *testing.T) {
	store, hub := newTestStore(t)
	svc := NewCatalogService(store, hub, nil)
	ctx := context.Background()

	first := validTestProduct()
	require.NoError(t, svc.CreateProduct(ctx, first))
	time.Sleep(2 * time.Millisecond)
	second := validTestProduct()
	second.Name = "Oak Shelf"
	require.NoError(t, svc.CreateProduct(ctx, second))

	products, err := svc.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Oak Shelf", products[0].Name)
	assert.Equal(t, "Brass Lamp", products[1].Name)
}

func TestSubscribeProductsSeesAdminWrite(t *testing.T) {
	store, hub := newTestStore(t)
	svc := NewCatalogService(store, hub, nil)
	ctx := context.Background()

	snapshots := make(chan []models.Product, 16)
	unsub := svc.SubscribeProducts(
		func(products []models.Product) { snapshots <- products }, nil)
	defer unsub()

	// Initial snapshot of the empty catalog.
	select {
	case products := <-snapshots:
		assert.Empty(t, products)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial snapshot")
	}

	product := validTestProduct()
	require.NoError(t, svc.CreateProduct(ctx, product))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case products := <-snapshots:
			if len(products) == 1 {
				assert.Equal(t, product.ID, products[0].ID)
				return
			}
		case <-deadline:
			t.Fatal("subscriber never saw the new product")
		}
	}
}

func TestDeleteProductDropsFromList(t *testing.T) {
	store, hub := newTestStore(t)
	svc := NewCatalogService(store, hub, nil)
	ctx := context.Background()

	product := validTestProduct()
	require.NoError(t, svc.CreateProduct(ctx, product))
	require.NoError(t, svc.DeleteProduct(ctx, product.ID))

	products, err := svc.ListProducts(ctx)
	require.NoError(t, err)
	assert.Empty(t, products)

	_, err = svc.GetProduct(ctx, product.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCategoriesRoundTrip(t *testing.T) {
	store, hub := newTestStore(t)
	svc := NewCatalogService(store, hub, nil)
	ctx := context.Background()

	list, err := svc.GetCategories(ctx)
	require.NoError(t, err)
	assert.Empty(t, list.Categories)

	require.NoError(t, svc.SaveCategories(ctx, []string{"LIGHTING", "DECOR"}))

	list, err = svc.GetCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"LIGHTING", "DECOR"}, list.Categories)
}

func TestSaveCategoriesValidation(t *testing.T) {
	store, hub := newTestStore(t)
	svc := NewCatalogService(store, hub, nil)
	ctx := context.Background()

	assert.ErrorIs(t, svc.SaveCategories(ctx, []string{"lighting"}), ErrValidation)
	assert.ErrorIs(t, svc.SaveCategories(ctx, []string{"DECOR", "DECOR"}), ErrValidation)
	assert.ErrorIs(t, svc.SaveCategories(ctx, []string{" "}), ErrValidation)
}
