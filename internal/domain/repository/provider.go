package repository

import (
	"context"
	"time"

	"PriceIntel/internal/domain/models"
)

// CatalogSource reads the product catalog and inventory.
type CatalogSource interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
	// GetProduct returns models.ErrNotFound for unknown ids.
	GetProduct(ctx context.Context, productID string) (models.Product, error)
	ProductsByCategory(ctx context.Context, category string) ([]models.Product, error)
	InventoryLevels(ctx context.Context) ([]models.InventoryLevel, error)
}

// PriceSource returns observations in ascending time order.
type PriceSource interface {
	PriceHistory(ctx context.Context, productID string, since time.Time) ([]models.PriceObservation, error)
	CompetitorPrices(ctx context.Context, productName string, since time.Time) ([]models.CompetitorPrice, error)
}

// SalesSource reads immutable sales records and their aggregates.
type SalesSource interface {
	SalesHistory(ctx context.Context, productID string, since time.Time) ([]models.SalesRecord, error)
	// SalesSince returns the newest records first, at most limit (0 = unbounded).
	SalesSince(ctx context.Context, since time.Time, limit int) ([]models.SalesRecord, error)
	CustomerSales(ctx context.Context, customerIDs []string, since time.Time) ([]models.SalesRecord, error)
	TopProducts(ctx context.Context, since time.Time, limit int) ([]models.ProductVolume, error)
	ProductVolumes(ctx context.Context, productIDs []string, since time.Time) (map[string]models.ProductVolume, error)
	AveragePrices(ctx context.Context, productIDs []string, since time.Time) (map[string]float64, error)
}

// BasketSource lists transactions as sets of distinct product ids.
type BasketSource interface {
	// Baskets returns orders with at least minItems distinct products, newest
	// first, capped at limit.
	Baskets(ctx context.Context, since time.Time, minItems, limit int) ([]models.Basket, error)
	BasketsContaining(ctx context.Context, productID string, since time.Time) ([]models.Basket, error)
}

// DataProvider is the read-only time-series source of the analytics core.
type DataProvider interface {
	CatalogSource
	PriceSource
	SalesSource
	BasketSource
	Ping(ctx context.Context) error
}
