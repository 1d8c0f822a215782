package models

import "time"

type ForecastAccuracy struct {
	Points int     `json:"points"`
	MAE    float64 `json:"mae"`
	RMSE   float64 `json:"rmse"`
	MAPE   float64 `json:"mape"`
	Status string  `json:"status"`
}

type CompetitorTrend struct {
	Competitor   string        `json:"competitor"`
	CurrentPrice float64       `json:"current_price"`
	Avg30d       float64       `json:"avg_30d"`
	Trend        TrendEstimate `json:"trend"`
	DataPoints   int           `json:"data_points"`
}

// ForecastReport bundles everything forecastable about one product.
type ForecastReport struct {
	ProductID      string            `json:"product_id"`
	GeneratedAt    time.Time         `json:"generated_at"`
	Trend          TrendEstimate     `json:"trend"`
	Volatility     VolatilityProfile `json:"volatility"`
	PriceForecast  Forecast          `json:"price_forecast"`
	DemandForecast Forecast          `json:"demand_forecast"`
	Extrapolation  Forecast          `json:"extrapolation"`
	Competitors    []CompetitorTrend `json:"competitors,omitempty"`
	// Elasticity is fitted on our own prices against daily units sold.
	Elasticity *ElasticityEstimate `json:"elasticity,omitempty"`
	// MarginScenarios price out the configured changes over the demand horizon.
	MarginScenarios []MarginImpact    `json:"margin_scenarios,omitempty"`
	Errors          map[string]string `json:"errors,omitempty"`
}

// ProductIntelligence is the live per-product view served over HTTP.
type ProductIntelligence struct {
	Product     Product               `json:"product"`
	GeneratedAt time.Time             `json:"generated_at"`
	Forecast    ForecastReport        `json:"forecast"`
	Affinity    ProductAffinityReport `json:"affinity"`
	Position    *CompetitivePosition  `json:"competitive_position,omitempty"`
	Errors      map[string]string     `json:"errors,omitempty"`
}

// DemandScenario scales a demand forecast by 1 + (PriceChangePct*Elasticity)/100.
// A zero Elasticity is filled from the product's own sales history.
type DemandScenario struct {
	PriceChangePct float64 `json:"price_change_pct"`
	Elasticity     float64 `json:"elasticity"`
}

func (s *DemandScenario) Multiplier() float64 {
	if s == nil {
		return 1
	}
	return 1 + (s.PriceChangePct*s.Elasticity)/100
}
