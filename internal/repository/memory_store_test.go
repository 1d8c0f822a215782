package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceIntel/internal/domain/models"
)

func day(d int) time.Time { return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC) }

func TestMemoryStore_UpsertIsKeyedByProductAndDay(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.UpsertPriceSnapshot(ctx, models.PriceSnapshot{ProductID: "p1", Date: day(1).Add(3 * time.Hour), Price: 10}))
	require.NoError(t, s.UpsertPriceSnapshot(ctx, models.PriceSnapshot{ProductID: "p1", Date: day(1).Add(9 * time.Hour), Price: 11}))
	require.NoError(t, s.UpsertPriceSnapshot(ctx, models.PriceSnapshot{ProductID: "p1", Date: day(2), Price: 12}))

	assert.Equal(t, 2, s.Counts()["price_snapshots"])

	prev, err := s.PreviousSnapshot(ctx, "p1", day(2))
	require.NoError(t, err)
	assert.Equal(t, 11.0, prev.Price)

	_, err = s.PreviousSnapshot(ctx, "p1", day(1))
	assert.ErrorIs(t, err, models.ErrNotFound)

	hist, err := s.SnapshotHistory(ctx, "p1", day(1), day(2))
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.True(t, hist[0].Date.Before(hist[1].Date))
}

func TestMemoryStore_AppendAlertsDeduplicates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := models.Alert{ID: models.AlertID(models.AlertLowStock, "p1", day(1)), Type: models.AlertLowStock, Timestamp: day(1)}

	n, err := s.AppendAlerts(ctx, []models.Alert{a, a})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.AppendAlerts(ctx, []models.Alert{a})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.AppendAlerts(ctx, []models.Alert{{Type: "x"}})
	assert.Error(t, err)
}

func TestMemoryStore_ReplaceForecast(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	f := models.Forecast{ProductID: "p1", Kind: models.ForecastPrice, Date: day(1), Points: make([]models.ForecastPoint, 14)}

	require.NoError(t, s.ReplaceForecast(ctx, f))
	f.Points = f.Points[:7]
	require.NoError(t, s.ReplaceForecast(ctx, f))

	got, err := s.LatestForecast(ctx, "p1", models.ForecastPrice)
	require.NoError(t, err)
	assert.Len(t, got.Points, 7)
	assert.Equal(t, 7, s.Counts()["forecast_points"])

	_, err = s.LatestForecast(ctx, "p1", models.ForecastDemand)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryStore_LatestReadsNewestDateOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.UpsertCompetitivePosition(ctx, models.CompetitivePosition{ProductID: "old", Date: day(1), Score: 99}))
	require.NoError(t, s.UpsertCompetitivePosition(ctx, models.CompetitivePosition{ProductID: "a", Date: day(2), Score: 40}))
	require.NoError(t, s.UpsertCompetitivePosition(ctx, models.CompetitivePosition{ProductID: "b", Date: day(2), Score: 70}))

	out, err := s.LatestCompetitivePositions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].ProductID)

	capped, err := s.LatestCompetitivePositions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, capped, 1)
}

func TestMemoryStore_ActiveRecommendations(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	pending := func(id string, d int, change float64) models.PriceRecommendation {
		return models.PriceRecommendation{
			ProductID: id, Date: day(d), ChangePct: change,
			Status: models.RecommendationPending, ExpiresAt: day(d).AddDate(0, 0, 7),
		}
	}
	require.NoError(t, s.UpsertRecommendation(ctx, pending("p1", 1, -2)))
	require.NoError(t, s.UpsertRecommendation(ctx, pending("p1", 2, -5)))
	require.NoError(t, s.UpsertRecommendation(ctx, pending("p2", 2, -3)))
	expired := pending("p3", 1, -9)
	expired.ExpiresAt = day(2)
	require.NoError(t, s.UpsertRecommendation(ctx, expired))

	out, err := s.ActiveRecommendations(ctx, day(3), 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "p1", out[0].ProductID)
	assert.Equal(t, -5.0, out[0].ChangePct)
	assert.Equal(t, "p2", out[1].ProductID)
}

func TestMemoryStore_RunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.AppendRun(ctx, models.PipelineRun{RunID: "r1", StartedAt: day(1)}))
	require.NoError(t, s.AppendRun(ctx, models.PipelineRun{RunID: "r2", StartedAt: day(2)}))
	assert.Error(t, s.AppendRun(ctx, models.PipelineRun{RunID: "r2"}))

	runs, err := s.ListRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].RunID)
}
