package repository

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"PriceIntel/internal/domain/models"
	domrepo "PriceIntel/internal/domain/repository"
	"PriceIntel/pkg/util"
)

// MemoryStore is an ArtifactStore held in process memory. It backs the
// `memory` storage driver and the usecase tests, and follows the same keying
// and ordering rules as PostgresStore.
type MemoryStore struct {
	mu sync.RWMutex

	snapshots       map[string]models.PriceSnapshot
	inventory       map[string]models.InventoryStatus
	velocity        map[string]models.VelocitySnapshot
	statistics      map[string]models.PriceStatistics
	anomalies       map[string]models.AnomalyRecord
	forecasts       map[string]models.Forecast
	ruleSets        map[time.Time]models.RuleSet
	bundles         map[string]models.BundleRecommendation
	positions       map[string]models.CompetitivePosition
	recommendations map[string]models.PriceRecommendation
	alerts          map[string]models.Alert
	runs            map[string]models.PipelineRun
}

var _ domrepo.ArtifactStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots:       map[string]models.PriceSnapshot{},
		inventory:       map[string]models.InventoryStatus{},
		velocity:        map[string]models.VelocitySnapshot{},
		statistics:      map[string]models.PriceStatistics{},
		anomalies:       map[string]models.AnomalyRecord{},
		forecasts:       map[string]models.Forecast{},
		ruleSets:        map[time.Time]models.RuleSet{},
		bundles:         map[string]models.BundleRecommendation{},
		positions:       map[string]models.CompetitivePosition{},
		recommendations: map[string]models.PriceRecommendation{},
		alerts:          map[string]models.Alert{},
		runs:            map[string]models.PipelineRun{},
	}
}

func dayKey(id string, t time.Time) string {
	return id + "|" + util.FormatDay(t)
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) CheckTables(context.Context) map[string]error {
	out := make(map[string]error, len(domrepo.ArtifactTables))
	for _, t := range domrepo.ArtifactTables {
		out[t] = nil
	}
	return out
}

// Counts reports how many records each artifact kind holds.
func (m *MemoryStore) Counts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	points := 0
	for _, f := range m.forecasts {
		points += len(f.Points)
	}
	rules := 0
	for _, rs := range m.ruleSets {
		rules += len(rs.Rules)
	}
	return map[string]int{
		"price_snapshots":        len(m.snapshots),
		"inventory_status":       len(m.inventory),
		"sales_velocity":         len(m.velocity),
		"price_statistics":       len(m.statistics),
		"price_anomalies":        len(m.anomalies),
		"forecasts":              len(m.forecasts),
		"forecast_points":        points,
		"rule_sets":              len(m.ruleSets),
		"association_rules":      rules,
		"bundle_recommendations": len(m.bundles),
		"competitive_positions":  len(m.positions),
		"price_recommendations":  len(m.recommendations),
		"alerts":                 len(m.alerts),
		"pipeline_runs":          len(m.runs),
	}
}

func (m *MemoryStore) UpsertPriceSnapshot(_ context.Context, s models.PriceSnapshot) error {
	s.Date = util.Day(s.Date)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[dayKey(s.ProductID, s.Date)] = s
	return nil
}

func (m *MemoryStore) UpsertInventoryStatus(_ context.Context, s models.InventoryStatus) error {
	s.Date = util.Day(s.Date)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inventory[dayKey(s.ProductID, s.Date)] = s
	return nil
}

func (m *MemoryStore) UpsertVelocity(_ context.Context, v models.VelocitySnapshot) error {
	v.Date = util.Day(v.Date)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.velocity[dayKey(v.ProductID, v.Date)] = v
	return nil
}

func (m *MemoryStore) UpsertStatistics(_ context.Context, s models.PriceStatistics) error {
	s.Date = util.Day(s.Date)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statistics[dayKey(s.ProductID, s.Date)] = s
	return nil
}

func (m *MemoryStore) UpsertAnomaly(_ context.Context, a models.AnomalyRecord) error {
	a.DetectedOn = util.Day(a.DetectedOn)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anomalies[a.ProductID+"|"+a.ObservedAt.UTC().Format(time.RFC3339Nano)] = a
	return nil
}

func (m *MemoryStore) ReplaceForecast(_ context.Context, f models.Forecast) error {
	f.Date = util.Day(f.Date)
	f.Points = append([]models.ForecastPoint(nil), f.Points...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forecasts[dayKey(f.ProductID, f.Date)+"|"+string(f.Kind)] = f
	return nil
}

func (m *MemoryStore) ReplaceRuleSet(_ context.Context, rs models.RuleSet) error {
	rs.Date = util.Day(rs.Date)
	rs.Rules = append([]models.AssociationRule(nil), rs.Rules...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ruleSets[rs.Date] = rs
	return nil
}

func (m *MemoryStore) UpsertBundle(_ context.Context, b models.BundleRecommendation) error {
	b.Date = util.Day(b.Date)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bundles[dayKey(b.AnchorProductID, b.Date)] = b
	return nil
}

func (m *MemoryStore) UpsertCompetitivePosition(_ context.Context, p models.CompetitivePosition) error {
	p.Date = util.Day(p.Date)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[dayKey(p.ProductID, p.Date)] = p
	return nil
}

func (m *MemoryStore) UpsertRecommendation(_ context.Context, r models.PriceRecommendation) error {
	r.Date = util.Day(r.Date)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recommendations[dayKey(r.ProductID, r.Date)] = r
	return nil
}

func (m *MemoryStore) AppendAlerts(_ context.Context, alerts []models.Alert) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	added := 0
	for _, a := range alerts {
		if a.ID == "" {
			return added, fmt.Errorf("alert without id")
		}
		if _, ok := m.alerts[a.ID]; ok {
			continue
		}
		m.alerts[a.ID] = a
		added++
	}
	return added, nil
}

func (m *MemoryStore) AppendRun(_ context.Context, run models.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.RunID]; ok {
		return fmt.Errorf("run %s already recorded", run.RunID)
	}
	run.Tasks = append([]models.TaskResult(nil), run.Tasks...)
	m.runs[run.RunID] = run
	return nil
}

func (m *MemoryStore) PreviousSnapshot(_ context.Context, productID string, before time.Time) (models.PriceSnapshot, error) {
	before = util.Day(before)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		best  models.PriceSnapshot
		found bool
	)
	for _, s := range m.snapshots {
		if s.ProductID != productID || !s.Date.Before(before) {
			continue
		}
		if !found || s.Date.After(best.Date) {
			best, found = s, true
		}
	}
	if !found {
		return models.PriceSnapshot{}, models.ErrNotFound
	}
	return best, nil
}

func (m *MemoryStore) SnapshotHistory(_ context.Context, productID string, from, to time.Time) ([]models.PriceSnapshot, error) {
	from, to = util.Day(from), util.Day(to)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.PriceSnapshot{}
	for _, s := range m.snapshots {
		if s.ProductID == productID && !s.Date.Before(from) && !s.Date.After(to) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *MemoryStore) SnapshotsSince(_ context.Context, from time.Time) ([]models.PriceSnapshot, error) {
	from = util.Day(from)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.PriceSnapshot{}
	for _, s := range m.snapshots {
		if !s.Date.Before(from) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out, nil
}

func (m *MemoryStore) GetStatistics(_ context.Context, productID string, date time.Time) (models.PriceStatistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statistics[dayKey(productID, date)]
	if !ok {
		return models.PriceStatistics{}, models.ErrNotFound
	}
	return s, nil
}

// latestOf keeps the records carrying the newest date.
func latestOf[T any](items map[string]T, date func(T) time.Time) []T {
	var newest time.Time
	for _, it := range items {
		if d := date(it); d.After(newest) {
			newest = d
		}
	}
	out := []T{}
	for _, it := range items {
		if date(it).Equal(newest) {
			out = append(out, it)
		}
	}
	return out
}

func capped[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func (m *MemoryStore) LatestStatistics(_ context.Context, limit int) ([]models.PriceStatistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := latestOf(m.statistics, func(s models.PriceStatistics) time.Time { return s.Date })
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConfidenceScore != out[j].ConfidenceScore {
			return out[i].ConfidenceScore > out[j].ConfidenceScore
		}
		return out[i].ProductID < out[j].ProductID
	})
	return capped(out, limit), nil
}

func (m *MemoryStore) LatestVelocity(_ context.Context, limit int) ([]models.VelocitySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := latestOf(m.velocity, func(v models.VelocitySnapshot) time.Time { return v.Date })
	sort.Slice(out, func(i, j int) bool {
		if out[i].Units30d != out[j].Units30d {
			return out[i].Units30d > out[j].Units30d
		}
		return out[i].ProductID < out[j].ProductID
	})
	return capped(out, limit), nil
}

func (m *MemoryStore) LatestForecast(_ context.Context, productID string, kind models.ForecastKind) (models.Forecast, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		best  models.Forecast
		found bool
	)
	for _, f := range m.forecasts {
		if f.ProductID != productID || f.Kind != kind {
			continue
		}
		if !found || f.Date.After(best.Date) {
			best, found = f, true
		}
	}
	if !found {
		return models.Forecast{}, models.ErrNotFound
	}
	return best, nil
}

func (m *MemoryStore) ForecastsBetween(_ context.Context, kind models.ForecastKind, from, to time.Time) ([]models.Forecast, error) {
	from, to = util.Day(from), util.Day(to)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Forecast{}
	for _, f := range m.forecasts {
		if f.Kind == kind && !f.Date.Before(from) && !f.Date.After(to) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out, nil
}

func (m *MemoryStore) LatestRuleSet(context.Context) (models.RuleSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		best  models.RuleSet
		found bool
	)
	for d, rs := range m.ruleSets {
		if !found || d.After(best.Date) {
			best, found = rs, true
		}
	}
	if !found {
		return models.RuleSet{}, models.ErrNotFound
	}
	return best, nil
}

func (m *MemoryStore) LatestBundles(_ context.Context, limit int) ([]models.BundleRecommendation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := latestOf(m.bundles, func(b models.BundleRecommendation) time.Time { return b.Date })
	out := all[:0]
	for _, b := range all {
		if b.Status == models.StatusOK {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CoPurchaseRate != out[j].CoPurchaseRate {
			return out[i].CoPurchaseRate > out[j].CoPurchaseRate
		}
		return out[i].AnchorProductID < out[j].AnchorProductID
	})
	return capped(out, limit), nil
}

func (m *MemoryStore) GetCompetitivePosition(_ context.Context, productID string, date time.Time) (models.CompetitivePosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[dayKey(productID, date)]
	if !ok {
		return models.CompetitivePosition{}, models.ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) LatestCompetitivePositions(_ context.Context, limit int) ([]models.CompetitivePosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := latestOf(m.positions, func(p models.CompetitivePosition) time.Time { return p.Date })
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ProductID < out[j].ProductID
	})
	return capped(out, limit), nil
}

func (m *MemoryStore) AnomaliesSince(_ context.Context, productID string, from time.Time) ([]models.AnomalyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.AnomalyRecord{}
	for _, a := range m.anomalies {
		if productID != "" && a.ProductID != productID {
			continue
		}
		if !a.ObservedAt.Before(from) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ObservedAt.Equal(out[j].ObservedAt) {
			return out[i].ObservedAt.Before(out[j].ObservedAt)
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out, nil
}

func (m *MemoryStore) AlertsSince(_ context.Context, from time.Time, limit int) ([]models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Alert{}
	for _, a := range m.alerts {
		if !a.Timestamp.Before(from) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return capped(out, limit), nil
}

// ActiveRecommendations keeps the newest pending, unexpired recommendation per
// product, largest price change first.
func (m *MemoryStore) ActiveRecommendations(_ context.Context, asOf time.Time, limit int) ([]models.PriceRecommendation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	newest := map[string]models.PriceRecommendation{}
	for _, r := range m.recommendations {
		if r.Status != models.RecommendationPending || !r.ExpiresAt.After(asOf) {
			continue
		}
		if cur, ok := newest[r.ProductID]; !ok || r.Date.After(cur.Date) {
			newest[r.ProductID] = r
		}
	}
	out := make([]models.PriceRecommendation, 0, len(newest))
	for _, r := range newest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := math.Abs(out[i].ChangePct), math.Abs(out[j].ChangePct)
		if ai != aj {
			return ai > aj
		}
		return out[i].ProductID < out[j].ProductID
	})
	return capped(out, limit), nil
}

func (m *MemoryStore) ListRuns(_ context.Context, limit int) ([]models.PipelineRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.PipelineRun, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	return capped(out, limit), nil
}
