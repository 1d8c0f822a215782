package models

// Request structs for the HTTP query surface, bound with echo and checked by validator.

type DashboardRequest struct {
	Limit int `query:"limit" json:"limit" default:"10" validate:"gte=1,lte=100"`
	Days  int `query:"days" json:"days" default:"30" validate:"gte=1,lte=365"`
}

type ChartRequest struct {
	ProductID string `query:"product_id" json:"product_id" validate:"required"`
	Days      int    `query:"days" json:"days" default:"30" validate:"gte=1,lte=365"`
}

// ForecastChartRequest optionally restates the forecast band at Confidence, a
// fraction in (0,1); zero keeps the stored band.
type ForecastChartRequest struct {
	ProductID  string  `query:"product_id" json:"product_id" validate:"required"`
	Confidence float64 `query:"confidence" json:"confidence" validate:"gte=0,lt=1"`
}

type ProductRequest struct {
	ProductID string `param:"id" validate:"required"`
}

type ListRunsRequest struct {
	Limit int `query:"limit" json:"limit" default:"20" validate:"gte=1,lte=200"`
}

// DemandScenarioRequest leaves Elasticity at zero to have it estimated from
// the product's sales history.
type DemandScenarioRequest struct {
	ProductID      string  `param:"id" validate:"required"`
	PriceChangePct float64 `query:"price_change_pct" json:"price_change_pct" validate:"gte=-90,lte=200"`
	Elasticity     float64 `query:"elasticity" json:"elasticity"`
	Horizon        int     `query:"horizon" json:"horizon" default:"14" validate:"gte=1,lte=90"`
}
