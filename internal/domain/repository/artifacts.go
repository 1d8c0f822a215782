package repository

import (
	"context"
	"time"

	"PriceIntel/internal/domain/models"
)

// ArtifactWriter persists computed artifacts. Every write is an upsert on the
// artifact's natural key, so concurrent workers and re-runs never duplicate rows.
type ArtifactWriter interface {
	UpsertPriceSnapshot(ctx context.Context, s models.PriceSnapshot) error
	UpsertInventoryStatus(ctx context.Context, s models.InventoryStatus) error
	UpsertVelocity(ctx context.Context, v models.VelocitySnapshot) error
	UpsertStatistics(ctx context.Context, s models.PriceStatistics) error
	UpsertAnomaly(ctx context.Context, a models.AnomalyRecord) error
	// ReplaceForecast deletes then writes all points of (product, date, kind).
	ReplaceForecast(ctx context.Context, f models.Forecast) error
	ReplaceRuleSet(ctx context.Context, rs models.RuleSet) error
	UpsertBundle(ctx context.Context, b models.BundleRecommendation) error
	UpsertCompetitivePosition(ctx context.Context, p models.CompetitivePosition) error
	UpsertRecommendation(ctx context.Context, r models.PriceRecommendation) error
	// AppendAlerts ignores alerts whose ID already exists and reports how many were new.
	AppendAlerts(ctx context.Context, alerts []models.Alert) (int, error)
	AppendRun(ctx context.Context, run models.PipelineRun) error
}

// ArtifactReader is the read side used by later tasks and the dashboard.
// Lookups of a single artifact return models.ErrNotFound when absent.
type ArtifactReader interface {
	PreviousSnapshot(ctx context.Context, productID string, before time.Time) (models.PriceSnapshot, error)
	SnapshotHistory(ctx context.Context, productID string, from, to time.Time) ([]models.PriceSnapshot, error)
	SnapshotsSince(ctx context.Context, from time.Time) ([]models.PriceSnapshot, error)
	GetStatistics(ctx context.Context, productID string, date time.Time) (models.PriceStatistics, error)
	LatestStatistics(ctx context.Context, limit int) ([]models.PriceStatistics, error)
	LatestVelocity(ctx context.Context, limit int) ([]models.VelocitySnapshot, error)
	LatestForecast(ctx context.Context, productID string, kind models.ForecastKind) (models.Forecast, error)
	ForecastsBetween(ctx context.Context, kind models.ForecastKind, from, to time.Time) ([]models.Forecast, error)
	LatestRuleSet(ctx context.Context) (models.RuleSet, error)
	LatestBundles(ctx context.Context, limit int) ([]models.BundleRecommendation, error)
	GetCompetitivePosition(ctx context.Context, productID string, date time.Time) (models.CompetitivePosition, error)
	LatestCompetitivePositions(ctx context.Context, limit int) ([]models.CompetitivePosition, error)
	// AnomaliesSince filters by product unless productID is empty.
	AnomaliesSince(ctx context.Context, productID string, from time.Time) ([]models.AnomalyRecord, error)
	AlertsSince(ctx context.Context, from time.Time, limit int) ([]models.Alert, error)
	ActiveRecommendations(ctx context.Context, asOf time.Time, limit int) ([]models.PriceRecommendation, error)
	ListRuns(ctx context.Context, limit int) ([]models.PipelineRun, error)
}

// ArtifactStore is the persisted artifact store.
type ArtifactStore interface {
	ArtifactWriter
	ArtifactReader
	Ping(ctx context.Context) error
	// CheckTables reports each required artifact table and whether it is usable.
	CheckTables(ctx context.Context) map[string]error
}

// ArtifactTables names every store the pipeline writes to.
var ArtifactTables = []string{
	"price_snapshots",
	"inventory_status",
	"sales_velocity",
	"price_statistics",
	"price_anomalies",
	"forecasts",
	"forecast_points",
	"rule_sets",
	"association_rules",
	"bundle_recommendations",
	"competitive_positions",
	"price_recommendations",
	"alerts",
	"pipeline_runs",
}
