package models

import "time"

const (
	PanelKPI             = "kpi_summary"
	PanelPrice           = "price_intelligence"
	PanelDemand          = "demand_intelligence"
	PanelAffinity        = "affinity_insights"
	PanelCompetitive     = "competitive_analysis"
	PanelAlerts          = "alerts_and_anomalies"
	PanelActivity        = "recent_activity"
	PanelRecommendations = "recommendations"
)

type DashboardFilter struct {
	Limit int       `json:"limit"`
	Days  int       `json:"days"`
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
}

// Dashboard is the composed response. A failed panel is nil and has an entry in Errors.
type Dashboard struct {
	GeneratedAt     time.Time             `json:"generated_at"`
	KPI             *KPISummary           `json:"kpi_summary,omitempty"`
	Price           *PriceIntelPanel      `json:"price_intelligence,omitempty"`
	Demand          *DemandPanel          `json:"demand_intelligence,omitempty"`
	Affinity        *AffinityPanel        `json:"affinity_insights,omitempty"`
	Competitive     *CompetitivePanel     `json:"competitive_analysis,omitempty"`
	Alerts          *AlertsPanel          `json:"alerts_and_anomalies,omitempty"`
	Activity        *ActivityPanel        `json:"recent_activity,omitempty"`
	Recommendations *RecommendationsPanel `json:"recommendations,omitempty"`
	Errors          map[string]string     `json:"errors,omitempty"`
}

type KPISummary struct {
	Revenue30d          float64   `json:"revenue_30d"`
	Transactions30d     int       `json:"transactions_30d"`
	AvgTransaction      float64   `json:"avg_transaction"`
	AvgPriceChange      float64   `json:"avg_price_change"`
	ProductsWithChanges int       `json:"products_with_changes"`
	Anomalies7d         int       `json:"anomalies_detected_7d"`
	ForecastAccuracyPct *float64  `json:"forecast_accuracy_pct"`
	LastRunStatus       string    `json:"last_run_status,omitempty"`
	GeneratedAt         time.Time `json:"generated_at"`
}

type PriceIntelItem struct {
	ProductID       string            `json:"product_id"`
	ProductName     string            `json:"product_name"`
	CurrentPrice    float64           `json:"current_price"`
	Min             float64           `json:"price_min"`
	Max             float64           `json:"price_max"`
	Avg             float64           `json:"price_avg"`
	Trend           TrendEstimate     `json:"trend"`
	Volatility      VolatilityProfile `json:"volatility"`
	Anomalies7d     int               `json:"anomalies_7d"`
	Forecast7d      []ForecastPoint   `json:"forecast_7d"`
	ConfidenceScore float64           `json:"confidence_score"`
}

type PriceIntelPanel struct {
	ProductsAnalyzed int              `json:"products_analyzed"`
	Data             []PriceIntelItem `json:"data"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

type DemandItem struct {
	ProductID   string           `json:"product_id"`
	ProductName string           `json:"product_name"`
	Velocity    VelocitySnapshot `json:"velocity"`
	Forecast    []ForecastPoint  `json:"forecast"`
}

type DemandPanel struct {
	ProductsAnalyzed int          `json:"products_analyzed"`
	Data             []DemandItem `json:"data"`
	GeneratedAt      time.Time    `json:"generated_at"`
}

type AffinityPanel struct {
	Bundles       []BundleRecommendation `json:"bundles"`
	TopRules      []AssociationRule      `json:"basket_associations"`
	TotalRules    int                    `json:"total_rules_discovered"`
	Transactions  int                    `json:"transactions"`
	RuleSetStatus string                 `json:"rule_set_status"`
	GeneratedAt   time.Time              `json:"generated_at"`
}

type CompetitivePanel struct {
	ProductsAnalyzed int                   `json:"products_analyzed"`
	Data             []CompetitivePosition `json:"data"`
	GeneratedAt      time.Time             `json:"generated_at"`
}

type AlertsPanel struct {
	AlertCount   int       `json:"alert_count"`
	HighSeverity int       `json:"high_severity"`
	Alerts       []Alert   `json:"alerts"`
	GeneratedAt  time.Time `json:"generated_at"`
}

type ActivityItem struct {
	Type      string    `json:"type"`
	ProductID string    `json:"product_id,omitempty"`
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

type ActivityPanel struct {
	ActivityCount int            `json:"activity_count"`
	Activity      []ActivityItem `json:"activity"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

type RecommendationsPanel struct {
	RecommendationCount int                    `json:"recommendation_count"`
	Prices              []PriceRecommendation  `json:"price_recommendations"`
	Bundles             []BundleRecommendation `json:"bundle_recommendations"`
	GeneratedAt         time.Time              `json:"generated_at"`
}

// ChartDataset uses nil for gaps so charts render breaks instead of zeros.
type ChartDataset struct {
	Label string     `json:"label"`
	Data  []*float64 `json:"data"`
}

type ChartSeries struct {
	ProductID   string         `json:"product_id"`
	Labels      []string       `json:"labels"`
	Datasets    []ChartDataset `json:"datasets"`
	GeneratedAt time.Time      `json:"generated_at"`
	Error       string         `json:"error,omitempty"`
}
