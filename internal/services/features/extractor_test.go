package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceIntel/internal/domain/models"
)

var day0 = time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

func at(days int, hour int) time.Time {
	return day0.AddDate(0, 0, days).Add(time.Duration(hour) * time.Hour)
}

func TestPriceSeriesSkipsCompetitors(t *testing.T) {
	obs := []models.PriceObservation{
		{Timestamp: at(2, 0), Price: 12, Source: models.SourceSelf},
		{Timestamp: at(0, 0), Price: 10, Source: models.SourceSelf},
		{Timestamp: at(1, 0), Price: 99, Source: "rival"},
		{Timestamp: at(1, 0), Price: 11},
	}
	assert.Equal(t, []float64{10, 11, 12}, PriceSeries(obs))
}

func TestDailyPricesKeepsLastOfDay(t *testing.T) {
	obs := []models.PriceObservation{
		{Timestamp: at(0, 9), Price: 10},
		{Timestamp: at(0, 17), Price: 11},
		{Timestamp: at(2, 8), Price: 12},
	}
	obs = append(obs, models.PriceObservation{Timestamp: at(1, 12), Price: 50, Source: "rival"})
	days, values := DailyPrices(obs, at(0, 0), at(2, 0))
	require.Len(t, days, 3)
	require.NotNil(t, values[0])
	assert.Equal(t, 11.0, *values[0])
	assert.Nil(t, values[1])
	assert.Equal(t, 12.0, *values[2])
}

func TestDailyUnitsZeroFills(t *testing.T) {
	sales := []models.SalesRecord{
		{Timestamp: at(0, 1), Quantity: 2},
		{Timestamp: at(0, 5), Quantity: 3},
		{Timestamp: at(3, 5), Quantity: 1},
		{Timestamp: at(9, 5), Quantity: 7},
	}
	_, units := DailyUnits(sales, at(0, 0), at(3, 0))
	assert.Equal(t, []float64{5, 0, 0, 1}, units)
}

func TestAlignPriceQuantity(t *testing.T) {
	obs := []models.PriceObservation{
		{Timestamp: at(0, 1), Price: 10},
		{Timestamp: at(1, 1), Price: 9},
		{Timestamp: at(2, 1), Price: 8},
	}
	sales := []models.SalesRecord{
		{Timestamp: at(0, 3), Quantity: 100},
		{Timestamp: at(2, 3), Quantity: 60},
		{Timestamp: at(2, 4), Quantity: 60},
	}
	prices, qty := AlignPriceQuantity(obs, sales)
	assert.Equal(t, []float64{10, 8}, prices)
	assert.Equal(t, []float64{100, 120}, qty)
}

func TestAlignPriceQuantityIgnoresCompetitors(t *testing.T) {
	obs := []models.PriceObservation{
		{Timestamp: at(0, 1), Price: 10, Source: models.SourceSelf},
		{Timestamp: at(0, 9), Price: 4, Source: "rival"},
		{Timestamp: at(1, 1), Price: 9, Source: models.SourceSelf},
		{Timestamp: at(1, 9), Price: 25, Source: "other"},
		{Timestamp: at(2, 9), Price: 3, Source: "rival"},
	}
	sales := []models.SalesRecord{
		{Timestamp: at(0, 3), Quantity: 100},
		{Timestamp: at(1, 3), Quantity: 110},
		{Timestamp: at(2, 3), Quantity: 500},
	}
	prices, qty := AlignPriceQuantity(obs, sales)
	assert.Equal(t, []float64{10, 9}, prices, "later competitor rows must not become the closing price")
	assert.Equal(t, []float64{100, 110}, qty, "a day priced only by competitors is not aligned")
}

func TestComputeLogReturns(t *testing.T) {
	r := ComputeLogReturns([]float64{100, 110, 0, 50})
	require.Len(t, r, 3)
	assert.InDelta(t, math.Log(1.1), r[0], 1e-12)
	assert.Zero(t, r[1])
	assert.Zero(t, r[2])
	assert.Nil(t, ComputeLogReturns([]float64{1}))
}

func TestLatestCompetitorPrices(t *testing.T) {
	cps := []models.CompetitorPrice{
		{Competitor: "b", Price: 20, Timestamp: at(1, 0)},
		{Competitor: "a", Price: 9, Timestamp: at(2, 0)},
		{Competitor: "a", Price: 10, Timestamp: at(1, 0)},
	}
	assert.Equal(t, []float64{9, 20}, LatestCompetitorPrices(cps))
}
