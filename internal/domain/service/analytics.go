package service

import (
	"context"

	"PriceIntel/internal/domain/models"
)

// Forecaster projects price and demand for one product.
type Forecaster interface {
	ForecastPrices(ctx context.Context, productID string, horizon, lookback int) (models.Forecast, error)
	ForecastDemand(ctx context.Context, productID string, horizon, lookback int, scenario *models.DemandScenario) (models.Forecast, error)
	Report(ctx context.Context, productID string) (models.ForecastReport, error)
}

// AffinityMiner mines basket rules and product affinities.
type AffinityMiner interface {
	BasketAssociations(ctx context.Context, daysBack, minItems int) (models.RuleSet, error)
	ProductCorrelation(ctx context.Context, limit int) (models.CorrelationMatrix, error)
	BundleRecommendations(ctx context.Context, productID string, bundleSize int) (models.BundleRecommendation, error)
	CrossSellOpportunities(ctx context.Context, productID string, limit int) ([]models.CrossSellItem, error)
	UpsellOpportunities(ctx context.Context, productID string, margin float64) ([]models.UpsellItem, error)
	SegmentAffinity(ctx context.Context, segment models.Segment) (models.SegmentAffinity, error)
	ProductAffinityReport(ctx context.Context, productID string) (models.ProductAffinityReport, error)
}
