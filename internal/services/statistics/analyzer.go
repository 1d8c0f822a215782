// Package statistics holds the pure numeric analyses over chronologically
// ordered series. No function here returns an error or panics for short or
// empty input: callers get a neutral value or an insufficient_data status.
package statistics

import (
	"math"
	"sort"

	"PriceIntel/internal/domain/models"
)

// Config carries the tunable thresholds.
type Config struct {
	AnomalyThreshold     float64
	CriticalZ            float64
	SeasonalityThreshold float64
	ConfidenceLevel      float64
	CompetitiveBand      float64
}

func DefaultConfig() Config {
	return Config{
		AnomalyThreshold:     2.0,
		CriticalZ:            3.0,
		SeasonalityThreshold: 0.01,
		ConfidenceLevel:      0.95,
		CompetitiveBand:      0.05,
	}
}

// Analyzer applies Config to the threshold-dependent analyses.
type Analyzer struct {
	cfg Config
}

func New(cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.AnomalyThreshold <= 0 {
		cfg.AnomalyThreshold = def.AnomalyThreshold
	}
	if cfg.CriticalZ <= 0 {
		cfg.CriticalZ = def.CriticalZ
	}
	if cfg.SeasonalityThreshold <= 0 {
		cfg.SeasonalityThreshold = def.SeasonalityThreshold
	}
	if cfg.ConfidenceLevel <= 0 || cfg.ConfidenceLevel >= 1 {
		cfg.ConfidenceLevel = def.ConfidenceLevel
	}
	if cfg.CompetitiveBand <= 0 {
		cfg.CompetitiveBand = def.CompetitiveBand
	}
	return &Analyzer{cfg: cfg}
}

func (a *Analyzer) Config() Config { return a.cfg }

// MovingAverage returns len(prices)-period+1 window means.
func MovingAverage(prices []float64, period int) ([]float64, error) {
	if period <= 0 || len(prices) < period {
		return nil, models.ErrInsufficientData
	}
	out := make([]float64, 0, len(prices)-period+1)
	for end := period; end <= len(prices); end++ {
		sum := 0.0
		for _, p := range prices[end-period : end] {
			sum += p
		}
		out = append(out, sum/float64(period))
	}
	return out, nil
}

// Mean returns 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// linearFit is OLS of ys on x = 1..n.
func linearFit(ys []float64) (slope, intercept, r2 float64) {
	n := float64(len(ys))
	xMean := (n + 1) / 2
	yMean := Mean(ys)

	var num, den float64
	for i, y := range ys {
		dx := float64(i+1) - xMean
		num += dx * (y - yMean)
		den += dx * dx
	}
	if den != 0 {
		slope = num / den
	}
	intercept = yMean - slope*xMean

	var ssRes, ssTot float64
	for i, y := range ys {
		pred := intercept + slope*float64(i+1)
		ssRes += (y - pred) * (y - pred)
		ssTot += (y - yMean) * (y - yMean)
	}
	if ssTot != 0 {
		r2 = 1 - ssRes/ssTot
	}
	return slope, intercept, clamp(r2, 0, 1)
}

// DetectTrend fits a line over the last lookback points (all points when
// lookback <= 0).
func DetectTrend(prices []float64, lookback int) models.TrendEstimate {
	if lookback > 0 && len(prices) > lookback {
		prices = prices[len(prices)-lookback:]
	}
	est := models.TrendEstimate{
		WindowDays: lookback,
		Direction:  models.TrendFlat,
		DataPoints: len(prices),
		Status:     models.StatusInsufficientData,
	}
	if len(prices) < 2 {
		return est
	}

	slope, intercept, r2 := linearFit(prices)
	mean := Mean(prices)

	est.Slope = slope
	est.Intercept = intercept
	est.RSquared = r2
	switch {
	case slope > 0:
		est.Direction = models.TrendUp
	case slope < 0:
		est.Direction = models.TrendDown
	}
	est.Strength = math.Min(math.Abs(slope)/math.Max(math.Abs(mean), 0.01)*100, 100)
	est.Confidence = r2 * 100
	est.Status = models.StatusOK
	return est
}

// Volatility uses the population variance. Fewer than two points give a zero profile.
func Volatility(prices []float64) models.VolatilityProfile {
	if len(prices) < 2 {
		return models.VolatilityProfile{DataPoints: len(prices)}
	}
	mean := Mean(prices)
	lo, hi := prices[0], prices[0]
	ss := 0.0
	for _, p := range prices {
		ss += (p - mean) * (p - mean)
		lo = math.Min(lo, p)
		hi = math.Max(hi, p)
	}
	variance := ss / float64(len(prices))
	std := math.Sqrt(variance)

	cv := 0.0
	if mean > 0 {
		cv = std / mean * 100
	}
	return models.VolatilityProfile{
		StdDev:                 std,
		Variance:               variance,
		CoefficientOfVariation: cv,
		Mean:                   mean,
		Min:                    lo,
		Max:                    hi,
		Range:                  hi - lo,
		DataPoints:             len(prices),
	}
}

var zTable = map[float64]float64{
	0.80: 1.2816,
	0.90: 1.645,
	0.95: 1.96,
	0.98: 2.326,
	0.99: 2.576,
}

// ZForLevel returns the two-sided normal critical value for a confidence level.
func ZForLevel(level float64) float64 {
	if level <= 0 || level >= 1 {
		return zTable[0.95]
	}
	key := math.Round(level*100) / 100
	if z, ok := zTable[key]; ok && math.Abs(level-key) < 1e-9 {
		return z
	}
	return math.Sqrt2 * math.Erfinv(level)
}

// ConfidenceInterval is mean ± z*std/sqrt(n). A level outside (0,1) uses the configured one.
func (a *Analyzer) ConfidenceInterval(prices []float64, level float64) models.ConfidenceInterval {
	if level <= 0 || level >= 1 {
		level = a.cfg.ConfidenceLevel
	}
	z := ZForLevel(level)
	ci := models.ConfidenceInterval{Level: level, Z: z, N: len(prices)}
	if len(prices) == 0 {
		return ci
	}
	vol := Volatility(prices)
	ci.Mean = Mean(prices)
	ci.MarginOfError = z * vol.StdDev / math.Sqrt(float64(len(prices)))
	ci.Lower = ci.Mean - ci.MarginOfError
	ci.Upper = ci.Mean + ci.MarginOfError
	return ci
}

// DetectSeasonality needs at least two full periods.
func (a *Analyzer) DetectSeasonality(prices []float64, period int) models.SeasonalityProfile {
	prof := models.SeasonalityProfile{Period: period, Status: models.StatusInsufficientData}
	if period <= 1 || len(prices) < 2*period {
		return prof
	}

	overall := Mean(prices)
	factors := make([]float64, period)
	for phase := 0; phase < period; phase++ {
		sum, n := 0.0, 0
		for j := phase; j < len(prices); j += period {
			sum += prices[j]
			n++
		}
		factors[phase] = 1
		if overall > 0 && n > 0 {
			factors[phase] = (sum / float64(n)) / overall
		}
	}

	prof.Factors = factors
	prof.Variance = Volatility(factors).Variance
	prof.Significant = prof.Variance > a.cfg.SeasonalityThreshold
	prof.Status = models.StatusOK
	return prof
}

// DetectAnomalies flags points whose |z| exceeds threshold (configured value
// when threshold <= 0) against the whole-series mean and deviation.
func (a *Analyzer) DetectAnomalies(prices []float64, threshold float64) models.AnomalyReport {
	if threshold <= 0 {
		threshold = a.cfg.AnomalyThreshold
	}
	vol := Volatility(prices)
	rep := models.AnomalyReport{Mean: vol.Mean, StdDev: vol.StdDev, Threshold: threshold, Anomalies: []models.Anomaly{}}
	if len(prices) < 2 {
		return rep
	}

	std := vol.StdDev
	if std == 0 {
		std = 1
	}
	for i, p := range prices {
		z := (p - vol.Mean) / std
		if math.Abs(z) <= threshold {
			continue
		}
		sev := models.SeverityWarning
		if math.Abs(z) > a.cfg.CriticalZ {
			sev = models.SeverityCritical
		}
		pct := 0.0
		if vol.Range > 0 {
			pct = (p - vol.Min) / vol.Range * 100
		}
		rep.Anomalies = append(rep.Anomalies, models.Anomaly{
			Index:      i,
			Value:      p,
			ZScore:     z,
			Severity:   sev,
			Percentile: pct,
		})
	}
	return rep
}

// EstimateElasticity is the OLS slope of quantity on price over aligned series.
func EstimateElasticity(prices, quantities []float64) models.ElasticityEstimate {
	est := models.ElasticityEstimate{
		DataPoints:     len(prices),
		Interpretation: models.ElasticityInsufficient,
		Status:         models.StatusInsufficientData,
	}
	if len(prices) < 2 || len(prices) != len(quantities) {
		return est
	}

	xMean, yMean := Mean(prices), Mean(quantities)
	var num, den float64
	for i := range prices {
		dx := prices[i] - xMean
		num += dx * (quantities[i] - yMean)
		den += dx * dx
	}
	if den == 0 {
		return est
	}

	e := num / den
	abs := math.Abs(e)
	est.Elasticity = e
	est.Status = models.StatusOK
	switch {
	case abs > 1:
		est.Interpretation = models.ElasticityElastic
	case abs == 1:
		est.Interpretation = models.ElasticityUnit
	case abs > 0:
		est.Interpretation = models.ElasticityInelastic
	}
	switch {
	case abs > 1.5:
		est.Recommendation = "price_decrease"
	case abs > 1:
		est.Recommendation = "monitor"
	case abs > 0.5:
		est.Recommendation = "price_increase"
	default:
		est.Recommendation = "pricing_power"
	}
	return est
}

// ForecastMarginImpact projects volume as volume*(1+elasticity*pctChange/100).
func ForecastMarginImpact(price, cost, elasticity, volume, newPrice float64) models.MarginImpact {
	m := models.MarginImpact{
		CurrentPrice:   price,
		NewPrice:       newPrice,
		Cost:           cost,
		CurrentVolume:  volume,
		NewVolume:      volume,
		Recommendation: models.MarginNotRecommended,
	}
	if price > 0 {
		m.PriceChangePct = (newPrice - price) / price * 100
	}
	m.VolumeChangePct = m.PriceChangePct * elasticity
	m.NewVolume = math.Max(volume*(1+m.VolumeChangePct/100), 0)

	m.CurrentUnitMargin = price - cost
	m.NewUnitMargin = newPrice - cost
	m.CurrentTotalMargin = m.CurrentUnitMargin * volume
	m.NewTotalMargin = m.NewUnitMargin * m.NewVolume
	m.MarginChange = m.NewTotalMargin - m.CurrentTotalMargin
	if m.MarginChange > 0 {
		m.Recommendation = models.MarginRecommended
	}
	return m
}

// CompetitivePosition ranks ourPrice within ours+competitors and labels the
// strategy by proximity to the competitor min, max and average. The band is
// CompetitiveBand of the competitor price range.
func (a *Analyzer) CompetitivePosition(ourPrice float64, competitors []float64) models.MarketPosition {
	pos := models.MarketPosition{OurPrice: ourPrice, CompetitorCount: len(competitors), Status: models.StatusInsufficientData}
	if len(competitors) == 0 {
		return pos
	}

	all := append([]float64{ourPrice}, competitors...)
	sort.Float64s(all)
	rank := sort.SearchFloat64s(all, ourPrice) + 1

	lo, hi := competitors[0], competitors[0]
	for _, p := range competitors {
		lo = math.Min(lo, p)
		hi = math.Max(hi, p)
	}
	avg := Mean(competitors)
	tol := (hi - lo) * a.cfg.CompetitiveBand

	pos.Rank = rank
	pos.Total = len(all)
	pos.Percentile = float64(rank) / float64(len(all)) * 100
	pos.CompetitorAvg = avg
	pos.CompetitorMin = lo
	pos.CompetitorMax = hi
	pos.AboveAverage = ourPrice - avg
	pos.Status = models.StatusOK

	switch {
	case ourPrice <= lo+tol:
		pos.Strategy = models.StrategyLeader
	case ourPrice >= hi-tol:
		pos.Strategy = models.StrategyPremium
	case math.Abs(ourPrice-avg) < tol:
		pos.Strategy = models.StrategyFollower
	case ourPrice < avg:
		pos.Strategy = models.StrategyDiscount
	default:
		pos.Strategy = models.StrategyPremium
	}
	return pos
}

// ConfidenceScore blends fit quality with relative volatility into 0..100.
func ConfidenceScore(rSquared, stdDev, mean float64) float64 {
	score := rSquared * 100
	cv := 1.0
	if mean > 0 {
		cv = stdDev / mean
	}
	switch {
	case cv < 0.05:
		score += 10
	case cv < 0.1:
		score += 5
	case cv > 0.5:
		score -= 20
	}
	return clamp(score, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
