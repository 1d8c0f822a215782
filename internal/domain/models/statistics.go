package models

type TrendDirection string

const (
	TrendUp   TrendDirection = "up"
	TrendDown TrendDirection = "down"
	TrendFlat TrendDirection = "flat"
)

type TrendEstimate struct {
	ProductID  string         `json:"product_id,omitempty"`
	WindowDays int            `json:"window_days"`
	Slope      float64        `json:"slope"`
	Intercept  float64        `json:"intercept"`
	RSquared   float64        `json:"r_squared"`
	Direction  TrendDirection `json:"direction"`
	Strength   float64        `json:"strength"`
	Confidence float64        `json:"confidence"`
	DataPoints int            `json:"data_points"`
	Status     string         `json:"status"`
}

type VolatilityProfile struct {
	StdDev                 float64 `json:"std_dev"`
	Variance               float64 `json:"variance"`
	CoefficientOfVariation float64 `json:"coefficient_of_variation"`
	Mean                   float64 `json:"mean"`
	Min                    float64 `json:"min"`
	Max                    float64 `json:"max"`
	Range                  float64 `json:"range"`
	DataPoints             int     `json:"data_points"`
}

type ConfidenceInterval struct {
	Mean          float64 `json:"mean"`
	Lower         float64 `json:"lower"`
	Upper         float64 `json:"upper"`
	MarginOfError float64 `json:"margin_of_error"`
	Level         float64 `json:"level"`
	Z             float64 `json:"z"`
	N             int     `json:"n"`
}

// SeasonalityProfile holds one factor per phase; 1.0 means no seasonal effect.
type SeasonalityProfile struct {
	Period      int       `json:"period"`
	Factors     []float64 `json:"factors"`
	Variance    float64   `json:"variance"`
	Significant bool      `json:"significant"`
	Status      string    `json:"status"`
}

// Factor returns the seasonal factor for an absolute index, or 1 when not significant.
func (s SeasonalityProfile) Factor(index int) float64 {
	if !s.Significant || s.Period <= 0 || len(s.Factors) != s.Period {
		return 1
	}
	return s.Factors[index%s.Period]
}

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

type Anomaly struct {
	Index      int     `json:"index"`
	Value      float64 `json:"value"`
	ZScore     float64 `json:"z_score"`
	Severity   string  `json:"severity"`
	Percentile float64 `json:"percentile"`
}

type AnomalyReport struct {
	Mean      float64   `json:"mean"`
	StdDev    float64   `json:"std_dev"`
	Threshold float64   `json:"threshold"`
	Anomalies []Anomaly `json:"anomalies"`
}

const (
	ElasticityElastic      = "elastic"
	ElasticityUnit         = "unit_elastic"
	ElasticityInelastic    = "inelastic"
	ElasticityInsufficient = "insufficient_data"
)

type ElasticityEstimate struct {
	Elasticity     float64 `json:"elasticity"`
	Interpretation string  `json:"interpretation"`
	Recommendation string  `json:"recommendation"`
	DataPoints     int     `json:"data_points"`
	Status         string  `json:"status"`
}

const (
	MarginRecommended    = "RECOMMENDED"
	MarginNotRecommended = "NOT_RECOMMENDED"
)

type MarginImpact struct {
	CurrentPrice       float64 `json:"current_price"`
	NewPrice           float64 `json:"new_price"`
	Cost               float64 `json:"cost"`
	PriceChangePct     float64 `json:"price_change_pct"`
	VolumeChangePct    float64 `json:"volume_change_pct"`
	CurrentVolume      float64 `json:"current_volume"`
	NewVolume          float64 `json:"new_volume"`
	CurrentUnitMargin  float64 `json:"current_unit_margin"`
	NewUnitMargin      float64 `json:"new_unit_margin"`
	CurrentTotalMargin float64 `json:"current_total_margin"`
	NewTotalMargin     float64 `json:"new_total_margin"`
	MarginChange       float64 `json:"margin_change"`
	Recommendation     string  `json:"recommendation"`
}

const (
	StrategyLeader   = "leader"
	StrategyPremium  = "premium"
	StrategyFollower = "follower"
	StrategyDiscount = "discount"
)

// MarketPosition is the pure ranking of our price among competitor prices.
type MarketPosition struct {
	OurPrice        float64 `json:"our_price"`
	Rank            int     `json:"rank"`
	Total           int     `json:"total"`
	Percentile      float64 `json:"percentile"`
	CompetitorAvg   float64 `json:"competitor_avg"`
	CompetitorMin   float64 `json:"competitor_min"`
	CompetitorMax   float64 `json:"competitor_max"`
	AboveAverage    float64 `json:"above_average"`
	Strategy        string  `json:"strategy_label"`
	CompetitorCount int     `json:"competitor_count"`
	Status          string  `json:"status"`
}
