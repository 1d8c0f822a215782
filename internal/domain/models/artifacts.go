package models

import (
	"fmt"
	"time"
)

// Artifacts are keyed by (entity, calculation date) so a re-run of the same
// day overwrites instead of duplicating.

type PriceSnapshot struct {
	ProductID   string    `json:"product_id" db:"product_id"`
	ProductName string    `json:"product_name" db:"product_name"`
	Date        time.Time `json:"date" db:"snapshot_date"`
	Price       float64   `json:"price" db:"price"`
	Cost        float64   `json:"cost" db:"cost"`
}

const (
	StockOut = "out_of_stock"
	StockLow = "low"
	StockOK  = "ok"
)

type InventoryStatus struct {
	ProductID    string    `json:"product_id" db:"product_id"`
	Date         time.Time `json:"date" db:"status_date"`
	OnHand       int       `json:"on_hand" db:"on_hand"`
	ReorderPoint int       `json:"reorder_point" db:"reorder_point"`
	Status       string    `json:"status" db:"status"`
}

type VelocitySnapshot struct {
	ProductID     string    `json:"product_id" db:"product_id"`
	Date          time.Time `json:"date" db:"recorded_date"`
	Units7d       int       `json:"units_7d" db:"units_7d"`
	Units30d      int       `json:"units_30d" db:"units_30d"`
	Units90d      int       `json:"units_90d" db:"units_90d"`
	Orders30d     int       `json:"orders_30d" db:"orders_30d"`
	AvgDailyUnits float64   `json:"avg_daily_units" db:"avg_daily_units"`
}

// PriceStatistics is the per-product statistical summary of one run.
type PriceStatistics struct {
	ProductID  string            `json:"product_id"`
	Date       time.Time         `json:"date"`
	Trend      TrendEstimate     `json:"trend"`
	Volatility VolatilityProfile `json:"volatility"`
	// MeanInterval brackets the window's mean price; ReturnVolatility is the
	// standard deviation of daily log returns.
	MeanInterval     ConfidenceInterval `json:"mean_interval"`
	ReturnVolatility float64            `json:"return_volatility"`
	AnomalyCount     int                `json:"anomaly_count"`
	Seasonal         bool               `json:"seasonal"`
	ConfidenceScore  float64            `json:"confidence_score"`
	DataPoints       int                `json:"data_points"`
}

type AnomalyRecord struct {
	ProductID  string    `json:"product_id" db:"product_id"`
	ObservedAt time.Time `json:"observed_at" db:"observed_at"`
	Price      float64   `json:"price" db:"price"`
	ZScore     float64   `json:"z_score" db:"z_score"`
	Severity   string    `json:"severity" db:"severity"`
	Percentile float64   `json:"percentile" db:"percentile"`
	DetectedOn time.Time `json:"detected_on" db:"detected_on"`
}

type ForecastKind string

const (
	ForecastPrice  ForecastKind = "price"
	ForecastDemand ForecastKind = "demand"
)

type ForecastPoint struct {
	ProductID         string    `json:"product_id"`
	HorizonOffsetDays int       `json:"horizon_offset_days"`
	Date              time.Time `json:"date"`
	PointEstimate     float64   `json:"point_estimate"`
	LowerBound        float64   `json:"lower_bound"`
	UpperBound        float64   `json:"upper_bound"`
	Confidence        float64   `json:"confidence,omitempty"`
	BasisNote         string    `json:"basis_note"`
}

// Forecast is one generated sequence of points. It is replaced wholesale per
// (product, date, kind).
type Forecast struct {
	ProductID   string              `json:"product_id"`
	Kind        ForecastKind        `json:"kind"`
	Date        time.Time           `json:"date"`
	Horizon     int                 `json:"horizon"`
	Lookback    int                 `json:"lookback"`
	Trend       TrendEstimate       `json:"trend"`
	Volatility  VolatilityProfile   `json:"volatility"`
	Seasonality *SeasonalityProfile `json:"seasonality,omitempty"`
	Scenario    *DemandScenario     `json:"scenario,omitempty"`
	Points      []ForecastPoint     `json:"points"`
	Status      string              `json:"status"`
}

type AssociationRule struct {
	AntecedentID string  `json:"antecedent_id"`
	ConsequentID string  `json:"consequent_id"`
	Support      float64 `json:"support"`
	Confidence   float64 `json:"confidence"`
	Lift         float64 `json:"lift"`
	Count        int     `json:"count"`
}

// RuleSet is the outcome of one basket mining pass.
type RuleSet struct {
	Date          time.Time         `json:"date"`
	DaysBack      int               `json:"days_back"`
	Transactions  int               `json:"transactions"`
	PairsObserved int               `json:"pairs_observed"`
	RulesFiltered int               `json:"rules_filtered"`
	Rules         []AssociationRule `json:"rules"`
	Status        string            `json:"status"`
}

type BundleMember struct {
	ProductID      string  `json:"product_id"`
	AvgUnitPrice   float64 `json:"avg_unit_price"`
	CoPurchaseRate float64 `json:"co_purchase_rate"`
}

type BundleRecommendation struct {
	AnchorProductID      string         `json:"anchor_product_id"`
	Date                 time.Time      `json:"date"`
	MemberIDs            []string       `json:"member_ids"`
	Members              []BundleMember `json:"members"`
	TotalPrice           float64        `json:"total_price"`
	AverageUnitPrice     float64        `json:"average_unit_price"`
	CoPurchaseRate       float64        `json:"co_purchase_rate"`
	SuggestedBundlePrice float64        `json:"suggested_bundle_price"`
	Savings              float64        `json:"savings"`
	Status               string         `json:"status"`
}

type CompetitivePosition struct {
	ProductID       string    `json:"product_id"`
	ProductName     string    `json:"product_name"`
	Date            time.Time `json:"date"`
	OurPrice        float64   `json:"our_price"`
	Percentile      float64   `json:"percentile"`
	Rank            int       `json:"rank"`
	Total           int       `json:"total"`
	StrategyLabel   string    `json:"strategy_label"`
	CompetitorCount int       `json:"competitor_count"`
	MinPrice        float64   `json:"min_competitor_price"`
	MaxPrice        float64   `json:"max_competitor_price"`
	AvgPrice        float64   `json:"avg_competitor_price"`
	GapToLowest     float64   `json:"gap_to_lowest"`
	GapPctToLowest  float64   `json:"gap_pct_to_lowest"`
	PriceAdvantage  bool      `json:"has_price_advantage"`
	Score           float64   `json:"competitive_score"`
}

const (
	RecommendationUndercut    = "undercut"
	RecommendationTrendAdjust = "trend_adjust"
	RecommendationPending     = "pending"
)

type PriceRecommendation struct {
	ProductID        string    `json:"product_id"`
	Date             time.Time `json:"date"`
	Type             string    `json:"type"`
	CurrentPrice     float64   `json:"current_price"`
	RecommendedPrice float64   `json:"recommended_price"`
	ChangePct        float64   `json:"change_pct"`
	Priority         string    `json:"priority"`
	Reasoning        string    `json:"reasoning"`
	Confidence       float64   `json:"confidence"`
	Status           string    `json:"status"`
	ExpiresAt        time.Time `json:"expires_at"`
}

const (
	AlertLowStock      = "low_stock"
	AlertPriceAnomaly  = "price_anomaly"
	AlertPriceChange   = "significant_price_change"
	AlertPipelineError = "pipeline_failure"
)

// Alert is append-only; ID is derived from (type, product, day) so replaying
// a day is a no-op.
type Alert struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Severity        string    `json:"severity"`
	ProductID       string    `json:"product_id"`
	Message         string    `json:"message"`
	Timestamp       time.Time `json:"timestamp"`
	SuggestedAction string    `json:"suggested_action"`
}

func AlertID(alertType, productID string, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s", alertType, productID, day.UTC().Format("2006-01-02"))
}

// SeverityRank orders severities from most to least urgent.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium, SeverityWarning:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}
