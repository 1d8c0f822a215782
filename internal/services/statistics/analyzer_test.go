package statistics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceIntel/internal/domain/models"
)

func TestMovingAverage(t *testing.T) {
	got, err := MovingAverage([]float64{10, 12, 14, 16}, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 13, 15}, got)

	got, err = MovingAverage([]float64{1, 2, 3, 4, 5, 6, 7}, 7)
	require.NoError(t, err)
	assert.Equal(t, []float64{4}, got)

	_, err = MovingAverage([]float64{1, 2}, 3)
	assert.ErrorIs(t, err, models.ErrInsufficientData)
	_, err = MovingAverage(nil, 0)
	assert.ErrorIs(t, err, models.ErrInsufficientData)
}

func TestDetectTrend(t *testing.T) {
	tests := []struct {
		name      string
		prices    []float64
		lookback  int
		direction models.TrendDirection
		slope     float64
		r2        float64
	}{
		{"rising line", []float64{1, 2, 3, 4, 5}, 30, models.TrendUp, 1, 1},
		{"falling line", []float64{9, 7, 5, 3}, 30, models.TrendDown, -2, 1},
		{"constant", []float64{5, 5, 5, 5}, 30, models.TrendFlat, 0, 0},
		{"lookback trims head", []float64{100, 50, 1, 2, 3}, 3, models.TrendUp, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectTrend(tt.prices, tt.lookback)
			assert.Equal(t, models.StatusOK, got.Status)
			assert.Equal(t, tt.direction, got.Direction)
			assert.InDelta(t, tt.slope, got.Slope, 1e-9)
			assert.InDelta(t, tt.r2, got.RSquared, 1e-9)
			assert.InDelta(t, got.RSquared*100, got.Confidence, 1e-9)
		})
	}

	up := DetectTrend([]float64{1, 2, 3, 4, 5}, 0)
	assert.InDelta(t, 0, up.Intercept, 1e-9)
	assert.InDelta(t, 100.0/3, up.Strength, 1e-9)
}

func TestDetectTrendShortInput(t *testing.T) {
	for _, prices := range [][]float64{nil, {}, {42}} {
		got := DetectTrend(prices, 30)
		assert.Equal(t, models.StatusInsufficientData, got.Status)
		assert.Equal(t, models.TrendFlat, got.Direction)
		assert.Zero(t, got.Slope)
	}
}

func TestDetectTrendRSquaredBounded(t *testing.T) {
	series := [][]float64{
		{10, 30, 5, 40, 1, 22},
		{3, 3, 3, 4},
		{1, -1, 1, -1, 1, -1},
		{0.01, 1000, 0.02, 999},
	}
	for _, s := range series {
		r2 := DetectTrend(s, 0).RSquared
		assert.GreaterOrEqual(t, r2, 0.0)
		assert.LessOrEqual(t, r2, 1.0)
	}
}

func TestVolatility(t *testing.T) {
	flat := Volatility([]float64{5, 5, 5, 5, 5})
	assert.Zero(t, flat.StdDev)
	assert.Zero(t, flat.CoefficientOfVariation)
	assert.Equal(t, 5.0, flat.Mean)

	v := Volatility([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 2, v.StdDev, 1e-12)
	assert.InDelta(t, 4, v.Variance, 1e-12)
	assert.InDelta(t, 40, v.CoefficientOfVariation, 1e-12)
	assert.Equal(t, 2.0, v.Min)
	assert.Equal(t, 9.0, v.Max)
	assert.Equal(t, 7.0, v.Range)

	assert.Equal(t, models.VolatilityProfile{DataPoints: 1}, Volatility([]float64{3}))
	assert.Zero(t, Volatility([]float64{-1, 1}).CoefficientOfVariation)
}

func TestConfidenceIntervalNarrowsWithN(t *testing.T) {
	a := New(DefaultConfig())
	alternating := func(n int) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = 9
			if i%2 == 1 {
				out[i] = 11
			}
		}
		return out
	}

	small := a.ConfidenceInterval(alternating(10), 0.95)
	large := a.ConfidenceInterval(alternating(100), 0.95)
	assert.Equal(t, 1.96, small.Z)
	assert.InDelta(t, 1.96/math.Sqrt(10), small.MarginOfError, 1e-12)
	assert.Less(t, large.MarginOfError, small.MarginOfError)
	assert.InDelta(t, 10, large.Mean, 1e-12)

	assert.Equal(t, 0, a.ConfidenceInterval(nil, 0.95).N)
}

func TestZForLevel(t *testing.T) {
	assert.Equal(t, 1.645, ZForLevel(0.90))
	assert.Equal(t, 2.576, ZForLevel(0.99))
	assert.InDelta(t, 1.4395, ZForLevel(0.85), 1e-3)
	assert.Equal(t, 1.96, ZForLevel(1.5))
}

func TestDetectSeasonality(t *testing.T) {
	a := New(DefaultConfig())
	week := []float64{10, 10, 10, 10, 10, 20, 20}
	prices := append(append([]float64{}, week...), week...)

	prof := a.DetectSeasonality(prices, 7)
	require.Equal(t, models.StatusOK, prof.Status)
	require.Len(t, prof.Factors, 7)
	assert.True(t, prof.Significant)
	assert.InDelta(t, 10/(90.0/7), prof.Factors[0], 1e-12)
	assert.InDelta(t, 20/(90.0/7), prof.Factor(12), 1e-12)

	flat := a.DetectSeasonality([]float64{5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5}, 7)
	assert.False(t, flat.Significant)
	assert.Equal(t, 1.0, flat.Factor(3))

	assert.Equal(t, models.StatusInsufficientData, a.DetectSeasonality(week, 7).Status)
}

func TestDetectAnomalies(t *testing.T) {
	a := New(DefaultConfig())

	none := a.DetectAnomalies([]float64{10, 10, 10, 12, 12, 12, 12}, 2.0)
	assert.Empty(t, none.Anomalies)

	series := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 50}
	rep := a.DetectAnomalies(series, 2.0)
	require.Len(t, rep.Anomalies, 1)
	got := rep.Anomalies[0]
	assert.Equal(t, 19, got.Index)
	assert.Equal(t, models.SeverityCritical, got.Severity)
	assert.InDelta(t, 100, got.Percentile, 1e-12)
	assert.Greater(t, got.ZScore, 3.0)

	assert.Empty(t, a.DetectAnomalies([]float64{7, 7, 7}, 0).Anomalies)
	assert.Empty(t, a.DetectAnomalies(nil, 0).Anomalies)
}

func TestEstimateElasticity(t *testing.T) {
	est := EstimateElasticity([]float64{10, 10, 9, 9}, []float64{100, 100, 120, 120})
	assert.Equal(t, models.StatusOK, est.Status)
	assert.InDelta(t, -20, est.Elasticity, 1e-9)
	assert.Less(t, est.Elasticity, 0.0)
	assert.Equal(t, models.ElasticityElastic, est.Interpretation)
	assert.Equal(t, "price_decrease", est.Recommendation)

	inelastic := EstimateElasticity([]float64{1, 2, 3}, []float64{10, 9.2, 8.4})
	assert.Equal(t, models.ElasticityInelastic, inelastic.Interpretation)
	assert.Equal(t, "price_increase", inelastic.Recommendation)

	assert.Equal(t, models.StatusInsufficientData, EstimateElasticity([]float64{5, 5}, []float64{1, 2}).Status)
	assert.Equal(t, models.StatusInsufficientData, EstimateElasticity([]float64{5, 6}, []float64{1}).Status)
}

func TestForecastMarginImpact(t *testing.T) {
	cut := ForecastMarginImpact(10, 6, -2, 100, 9)
	assert.InDelta(t, -10, cut.PriceChangePct, 1e-9)
	assert.InDelta(t, 120, cut.NewVolume, 1e-9)
	assert.InDelta(t, 360, cut.NewTotalMargin, 1e-9)
	assert.Equal(t, models.MarginNotRecommended, cut.Recommendation)

	rise := ForecastMarginImpact(10, 6, -2, 100, 10.5)
	assert.InDelta(t, 405, rise.NewTotalMargin, 1e-6)
	assert.Equal(t, models.MarginRecommended, rise.Recommendation)

	zero := ForecastMarginImpact(0, 0, -2, 100, 5)
	assert.Zero(t, zero.PriceChangePct)
}

func TestCompetitivePosition(t *testing.T) {
	a := New(DefaultConfig())
	comps := []float64{8, 12, 14}

	tests := []struct {
		our      float64
		strategy string
		rank     int
	}{
		{8, models.StrategyLeader, 1},
		{14, models.StrategyPremium, 3},
		{11.4, models.StrategyFollower, 2},
		{10, models.StrategyDiscount, 2},
		{13, models.StrategyPremium, 3},
	}
	for _, tt := range tests {
		pos := a.CompetitivePosition(tt.our, comps)
		assert.Equal(t, tt.strategy, pos.Strategy, "price %v", tt.our)
		assert.Equal(t, tt.rank, pos.Rank, "price %v", tt.our)
		assert.Equal(t, 4, pos.Total)
		assert.InDelta(t, float64(tt.rank)/4*100, pos.Percentile, 1e-12)
	}

	empty := a.CompetitivePosition(10, nil)
	assert.Equal(t, models.StatusInsufficientData, empty.Status)
}

func TestConfidenceScore(t *testing.T) {
	assert.InDelta(t, 90, ConfidenceScore(0.8, 0.1, 10), 1e-9)
	assert.InDelta(t, 85, ConfidenceScore(0.8, 0.8, 10), 1e-9)
	assert.Equal(t, 100.0, ConfidenceScore(0.95, 0, 10))
	assert.Equal(t, 0.0, ConfidenceScore(0.1, 1, 0))
	assert.InDelta(t, 30, ConfidenceScore(0.5, 6, 10), 1e-9)
}
