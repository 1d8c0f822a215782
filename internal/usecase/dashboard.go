package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"PriceIntel/internal/domain/models"
	domrepo "PriceIntel/internal/domain/repository"
	svcmetrics "PriceIntel/internal/service/metrics"
	"PriceIntel/internal/services/forecasting"
	"PriceIntel/pkg/cache"
	applogger "PriceIntel/pkg/logger"
	"PriceIntel/pkg/util"
)

const (
	maxDashboardAlerts = 20
	forecastPreview    = 7
	dashboardCacheKey  = "priceintel:dashboard"
)

// errPartialDashboard keeps dashboards with failed panels out of the cache.
var errPartialDashboard = errors.New("dashboard has failed panels")

type DashboardConfig struct {
	CacheTTL     time.Duration
	PanelTimeout time.Duration
	DefaultLimit int
}

// DashboardAggregator composes persisted artifacts into dashboard panels and
// chart series. It never triggers a computation.
type DashboardAggregator struct {
	store  domrepo.ArtifactReader
	sales  domrepo.SalesSource
	cache  cache.Service
	cfg    DashboardConfig
	now    domrepo.Clock
	l      *applogger.Logger
	panels map[string]panelFunc
}

type panelFunc func(ctx context.Context, f models.DashboardFilter) (interface{}, error)

func NewDashboardAggregator(store domrepo.ArtifactReader, sales domrepo.SalesSource, c cache.Service, cfg DashboardConfig, now domrepo.Clock, l *applogger.Logger) *DashboardAggregator {
	if cfg.PanelTimeout <= 0 {
		cfg.PanelTimeout = 5 * time.Second
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if now == nil {
		now = time.Now
	}
	if l == nil {
		l = applogger.Nop()
	}
	d := &DashboardAggregator{
		store: store,
		sales: sales,
		cache: c,
		cfg:   cfg,
		now:   now,
		l:     l.With(applogger.String("component", "dashboard")),
	}
	d.panels = map[string]panelFunc{
		models.PanelKPI: func(ctx context.Context, f models.DashboardFilter) (interface{}, error) { return d.KPISummary(ctx, f) },
		models.PanelPrice: func(ctx context.Context, f models.DashboardFilter) (interface{}, error) {
			return d.PriceIntelligence(ctx, f)
		},
		models.PanelDemand: func(ctx context.Context, f models.DashboardFilter) (interface{}, error) {
			return d.DemandIntelligence(ctx, f)
		},
		models.PanelAffinity: func(ctx context.Context, f models.DashboardFilter) (interface{}, error) {
			return d.AffinityInsights(ctx, f)
		},
		models.PanelCompetitive: func(ctx context.Context, f models.DashboardFilter) (interface{}, error) {
			return d.CompetitiveAnalysis(ctx, f)
		},
		models.PanelAlerts: func(ctx context.Context, f models.DashboardFilter) (interface{}, error) {
			return d.AlertsAndAnomalies(ctx, f)
		},
		models.PanelActivity: func(ctx context.Context, f models.DashboardFilter) (interface{}, error) {
			return d.RecentActivity(ctx, f)
		},
		models.PanelRecommendations: func(ctx context.Context, f models.DashboardFilter) (interface{}, error) {
			return d.Recommendations(ctx, f)
		},
	}
	return d
}

// PanelNames lists the panels in display order.
func PanelNames() []string {
	return []string{
		models.PanelKPI,
		models.PanelPrice,
		models.PanelDemand,
		models.PanelAffinity,
		models.PanelCompetitive,
		models.PanelAlerts,
		models.PanelActivity,
		models.PanelRecommendations,
	}
}

func (d *DashboardAggregator) normalize(f models.DashboardFilter) models.DashboardFilter {
	if f.Limit <= 0 {
		f.Limit = d.cfg.DefaultLimit
	}
	if f.Days <= 0 {
		f.Days = 30
	}
	if f.To.IsZero() {
		f.To = util.Day(d.now())
	}
	if f.From.IsZero() {
		f.From = util.DaysAgo(f.To, f.Days)
	}
	return f
}

// Dashboard builds every panel concurrently. A failed or timed-out panel is
// left nil with its error under Errors. Complete dashboards are cached.
func (d *DashboardAggregator) Dashboard(ctx context.Context, f models.DashboardFilter) (models.Dashboard, error) {
	f = d.normalize(f)
	key := cache.GenerateKey(dashboardCacheKey, f.Limit, util.FormatDay(f.From), util.FormatDay(f.To))

	loaded := false
	dash, err := cache.GetOrLoad(ctx, d.cache, key, d.cfg.CacheTTL, func(ctx context.Context) (models.Dashboard, error) {
		loaded = true
		dash := d.build(ctx, f)
		if len(dash.Errors) > 0 {
			return dash, errPartialDashboard
		}
		return dash, nil
	})
	if d.cache != nil {
		result := "hit"
		if loaded {
			result = "miss"
		}
		svcmetrics.CacheResults.WithLabelValues(result).Inc()
	}
	if err != nil && !errors.Is(err, errPartialDashboard) {
		return models.Dashboard{}, err
	}
	return dash, nil
}

// Invalidate drops cached dashboards, e.g. after a pipeline run.
func (d *DashboardAggregator) Invalidate(ctx context.Context) error {
	if d.cache == nil {
		return nil
	}
	return d.cache.DeleteByPattern(ctx, cache.BuildPattern(dashboardCacheKey))
}

func (d *DashboardAggregator) build(ctx context.Context, f models.DashboardFilter) models.Dashboard {
	start := time.Now()
	dash := models.Dashboard{GeneratedAt: d.now().UTC(), Errors: map[string]string{}}

	type item struct {
		name string
		val  interface{}
		err  error
	}
	names := PanelNames()
	ch := make(chan item, len(names))
	var wg sync.WaitGroup

	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			v, err := d.runPanel(ctx, name, f)
			ch <- item{name, v, err}
		}(name)
	}
	go func() { wg.Wait(); close(ch) }()

	for it := range ch {
		if it.err != nil {
			dash.Errors[it.name] = it.err.Error()
			continue
		}
		switch v := it.val.(type) {
		case *models.KPISummary:
			dash.KPI = v
		case *models.PriceIntelPanel:
			dash.Price = v
		case *models.DemandPanel:
			dash.Demand = v
		case *models.AffinityPanel:
			dash.Affinity = v
		case *models.CompetitivePanel:
			dash.Competitive = v
		case *models.AlertsPanel:
			dash.Alerts = v
		case *models.ActivityPanel:
			dash.Activity = v
		case *models.RecommendationsPanel:
			dash.Recommendations = v
		}
	}

	if len(dash.Errors) == 0 {
		dash.Errors = nil
	} else {
		d.l.Warn("dashboard built with failed panels", applogger.Int("failed", len(dash.Errors)))
	}
	d.l.Debug("dashboard built", applogger.Duration("duration_ms", time.Since(start)))
	return dash
}

// Panel builds one named panel.
func (d *DashboardAggregator) Panel(ctx context.Context, name string, f models.DashboardFilter) (interface{}, error) {
	if _, ok := d.panels[name]; !ok {
		return nil, fmt.Errorf("panel %q: %w", name, models.ErrNotFound)
	}
	return d.runPanel(ctx, name, d.normalize(f))
}

func (d *DashboardAggregator) runPanel(ctx context.Context, name string, f models.DashboardFilter) (v interface{}, err error) {
	fn := d.panels[name]
	started := time.Now()
	pctx, cancel := context.WithTimeout(ctx, d.cfg.PanelTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("panel panic: %v", r)
		}
		svcmetrics.ObservePanel(name, started, err)
		if err != nil {
			d.l.Error("panel failed", applogger.String("panel", name), applogger.Error(err))
		}
	}()
	return fn(pctx, f)
}

func (d *DashboardAggregator) KPISummary(ctx context.Context, f models.DashboardFilter) (*models.KPISummary, error) {
	today := util.Day(d.now())
	out := &models.KPISummary{GeneratedAt: d.now().UTC()}

	sales, err := d.sales.SalesSince(ctx, util.DaysAgo(today, 30), 0)
	if err != nil {
		return nil, fmt.Errorf("sales: %w", err)
	}
	orders := map[string]struct{}{}
	for _, s := range sales {
		out.Revenue30d += s.Revenue()
		orders[s.OrderID] = struct{}{}
	}
	out.Revenue30d = util.RoundCents(out.Revenue30d)
	out.Transactions30d = len(orders)
	if out.Transactions30d > 0 {
		out.AvgTransaction = util.RoundCents(out.Revenue30d / float64(out.Transactions30d))
	}

	snaps, err := d.store.SnapshotsSince(ctx, f.From)
	if err != nil {
		return nil, fmt.Errorf("snapshots: %w", err)
	}
	changes := priceChanges(snaps)
	sum := 0.0
	for _, c := range changes {
		sum += c
	}
	out.ProductsWithChanges = len(changes)
	if len(changes) > 0 {
		out.AvgPriceChange = util.Round(sum/float64(len(changes)), 2)
	}

	anomalies, err := d.store.AnomaliesSince(ctx, "", util.DaysAgo(today, 7))
	if err != nil {
		return nil, fmt.Errorf("anomalies: %w", err)
	}
	out.Anomalies7d = len(anomalies)

	acc, err := d.forecastAccuracy(ctx, today, snaps)
	if err != nil {
		return nil, err
	}
	out.ForecastAccuracyPct = acc

	runs, err := d.store.ListRuns(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("runs: %w", err)
	}
	if len(runs) > 0 {
		out.LastRunStatus = runs[0].Status
	}
	return out, nil
}

// priceChanges returns the percent change between the first and last snapshot
// of every product whose price moved. snaps are ordered by date.
func priceChanges(snaps []models.PriceSnapshot) map[string]float64 {
	first := map[string]float64{}
	last := map[string]float64{}
	for _, s := range snaps {
		if _, ok := first[s.ProductID]; !ok {
			first[s.ProductID] = s.Price
		}
		last[s.ProductID] = s.Price
	}
	out := map[string]float64{}
	for id, p0 := range first {
		if p0 <= 0 || last[id] == p0 {
			continue
		}
		out[id] = util.PercentChange(p0, last[id])
	}
	return out
}

// forecastAccuracy scores price forecasts whose horizon has at least partly
// elapsed against the snapshot prices. It is nil when nothing can be scored.
func (d *DashboardAggregator) forecastAccuracy(ctx context.Context, today time.Time, snaps []models.PriceSnapshot) (*float64, error) {
	forecasts, err := d.store.ForecastsBetween(ctx, models.ForecastPrice, util.DaysAgo(today, 30), util.DaysAgo(today, 1))
	if err != nil {
		return nil, fmt.Errorf("forecasts: %w", err)
	}
	actuals := map[string]map[time.Time]float64{}
	for _, s := range snaps {
		if actuals[s.ProductID] == nil {
			actuals[s.ProductID] = map[time.Time]float64{}
		}
		actuals[s.ProductID][util.Day(s.Date)] = s.Price
	}

	mapeSum, n := 0.0, 0
	for _, f := range forecasts {
		acc := forecasting.ValidateAccuracy(f, actuals[f.ProductID])
		if acc.Status != models.StatusOK {
			continue
		}
		mapeSum += acc.MAPE
		n++
	}
	if n == 0 {
		return nil, nil
	}
	v := util.Round(math.Max(0, 100-mapeSum/float64(n)), 2)
	return &v, nil
}

func (d *DashboardAggregator) PriceIntelligence(ctx context.Context, f models.DashboardFilter) (*models.PriceIntelPanel, error) {
	stats, err := d.store.LatestStatistics(ctx, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("statistics: %w", err)
	}
	snaps, err := d.store.SnapshotsSince(ctx, f.From)
	if err != nil {
		return nil, fmt.Errorf("snapshots: %w", err)
	}
	anomalies, err := d.store.AnomaliesSince(ctx, "", util.DaysAgo(util.Day(d.now()), 7))
	if err != nil {
		return nil, fmt.Errorf("anomalies: %w", err)
	}

	byProduct := map[string][]models.PriceSnapshot{}
	for _, s := range snaps {
		byProduct[s.ProductID] = append(byProduct[s.ProductID], s)
	}
	anomalyCount := map[string]int{}
	for _, a := range anomalies {
		anomalyCount[a.ProductID]++
	}

	out := &models.PriceIntelPanel{Data: make([]models.PriceIntelItem, 0, len(stats)), GeneratedAt: d.now().UTC()}
	for _, st := range stats {
		item := models.PriceIntelItem{
			ProductID:       st.ProductID,
			Trend:           st.Trend,
			Volatility:      st.Volatility,
			Anomalies7d:     anomalyCount[st.ProductID],
			ConfidenceScore: st.ConfidenceScore,
			Forecast7d:      []models.ForecastPoint{},
		}
		if hist := byProduct[st.ProductID]; len(hist) > 0 {
			item.ProductName = hist[len(hist)-1].ProductName
			item.CurrentPrice = hist[len(hist)-1].Price
			item.Min, item.Max = hist[0].Price, hist[0].Price
			sum := 0.0
			for _, s := range hist {
				item.Min = math.Min(item.Min, s.Price)
				item.Max = math.Max(item.Max, s.Price)
				sum += s.Price
			}
			item.Avg = util.RoundCents(sum / float64(len(hist)))
		}
		points, err := d.forecastPreview(ctx, st.ProductID, models.ForecastPrice)
		if err != nil {
			return nil, err
		}
		item.Forecast7d = points
		out.Data = append(out.Data, item)
	}
	out.ProductsAnalyzed = len(out.Data)
	return out, nil
}

func (d *DashboardAggregator) forecastPreview(ctx context.Context, productID string, kind models.ForecastKind) ([]models.ForecastPoint, error) {
	fc, err := d.store.LatestForecast(ctx, productID, kind)
	if errors.Is(err, models.ErrNotFound) {
		return []models.ForecastPoint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s forecast %s: %w", kind, productID, err)
	}
	if len(fc.Points) > forecastPreview {
		return fc.Points[:forecastPreview], nil
	}
	return fc.Points, nil
}

func (d *DashboardAggregator) productNames(ctx context.Context, from time.Time) (map[string]string, error) {
	snaps, err := d.store.SnapshotsSince(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("snapshots: %w", err)
	}
	names := make(map[string]string, len(snaps))
	for _, s := range snaps {
		names[s.ProductID] = s.ProductName
	}
	return names, nil
}

func (d *DashboardAggregator) DemandIntelligence(ctx context.Context, f models.DashboardFilter) (*models.DemandPanel, error) {
	velocity, err := d.store.LatestVelocity(ctx, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("velocity: %w", err)
	}
	names, err := d.productNames(ctx, f.From)
	if err != nil {
		return nil, err
	}

	out := &models.DemandPanel{Data: make([]models.DemandItem, 0, len(velocity)), GeneratedAt: d.now().UTC()}
	for _, v := range velocity {
		points, err := d.forecastPreview(ctx, v.ProductID, models.ForecastDemand)
		if err != nil {
			return nil, err
		}
		out.Data = append(out.Data, models.DemandItem{
			ProductID:   v.ProductID,
			ProductName: names[v.ProductID],
			Velocity:    v,
			Forecast:    points,
		})
	}
	out.ProductsAnalyzed = len(out.Data)
	return out, nil
}

func (d *DashboardAggregator) AffinityInsights(ctx context.Context, f models.DashboardFilter) (*models.AffinityPanel, error) {
	out := &models.AffinityPanel{
		Bundles:       []models.BundleRecommendation{},
		TopRules:      []models.AssociationRule{},
		RuleSetStatus: models.StatusInsufficientData,
		GeneratedAt:   d.now().UTC(),
	}
	rs, err := d.store.LatestRuleSet(ctx)
	switch {
	case errors.Is(err, models.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("rule set: %w", err)
	default:
		out.TotalRules = len(rs.Rules)
		out.Transactions = rs.Transactions
		out.RuleSetStatus = rs.Status
		out.TopRules = rs.Rules
		if len(out.TopRules) > f.Limit {
			out.TopRules = out.TopRules[:f.Limit]
		}
	}

	bundles, err := d.store.LatestBundles(ctx, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("bundles: %w", err)
	}
	out.Bundles = bundles
	return out, nil
}

func (d *DashboardAggregator) CompetitiveAnalysis(ctx context.Context, f models.DashboardFilter) (*models.CompetitivePanel, error) {
	positions, err := d.store.LatestCompetitivePositions(ctx, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("competitive positions: %w", err)
	}
	return &models.CompetitivePanel{ProductsAnalyzed: len(positions), Data: positions, GeneratedAt: d.now().UTC()}, nil
}

// AlertsAndAnomalies lists the last week's alerts, most severe first.
func (d *DashboardAggregator) AlertsAndAnomalies(ctx context.Context, _ models.DashboardFilter) (*models.AlertsPanel, error) {
	alerts, err := d.store.AlertsSince(ctx, util.DaysAgo(util.Day(d.now()), 7), 0)
	if err != nil {
		return nil, fmt.Errorf("alerts: %w", err)
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		ri, rj := models.SeverityRank(alerts[i].Severity), models.SeverityRank(alerts[j].Severity)
		if ri != rj {
			return ri < rj
		}
		return alerts[i].Timestamp.After(alerts[j].Timestamp)
	})

	out := &models.AlertsPanel{AlertCount: len(alerts), GeneratedAt: d.now().UTC()}
	for _, a := range alerts {
		if a.Severity == models.SeverityHigh || a.Severity == models.SeverityCritical {
			out.HighSeverity++
		}
	}
	if len(alerts) > maxDashboardAlerts {
		alerts = alerts[:maxDashboardAlerts]
	}
	out.Alerts = alerts
	return out, nil
}

// RecentActivity merges runs, alerts and recommendations into one timeline.
func (d *DashboardAggregator) RecentActivity(ctx context.Context, f models.DashboardFilter) (*models.ActivityPanel, error) {
	today := util.Day(d.now())
	runs, err := d.store.ListRuns(ctx, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("runs: %w", err)
	}
	alerts, err := d.store.AlertsSince(ctx, util.DaysAgo(today, 7), f.Limit)
	if err != nil {
		return nil, fmt.Errorf("alerts: %w", err)
	}
	recs, err := d.store.ActiveRecommendations(ctx, today, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("recommendations: %w", err)
	}

	items := make([]models.ActivityItem, 0, len(runs)+len(alerts)+len(recs))
	for _, r := range runs {
		items = append(items, models.ActivityItem{
			Type:      "pipeline_run",
			Data:      fmt.Sprintf("%s run by %s in %.1fs", r.Status, r.TriggeredBy, r.DurationSeconds),
			Timestamp: r.CompletedAt,
		})
	}
	for _, a := range alerts {
		items = append(items, models.ActivityItem{Type: a.Type, ProductID: a.ProductID, Data: a.Message, Timestamp: a.Timestamp})
	}
	for _, r := range recs {
		items = append(items, models.ActivityItem{
			Type:      "price_recommendation",
			ProductID: r.ProductID,
			Data:      fmt.Sprintf("%s: %.2f -> %.2f", r.Type, r.CurrentPrice, r.RecommendedPrice),
			Timestamp: r.Date,
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Timestamp.After(items[j].Timestamp) })
	if len(items) > f.Limit {
		items = items[:f.Limit]
	}
	return &models.ActivityPanel{ActivityCount: len(items), Activity: items, GeneratedAt: d.now().UTC()}, nil
}

func (d *DashboardAggregator) Recommendations(ctx context.Context, f models.DashboardFilter) (*models.RecommendationsPanel, error) {
	recs, err := d.store.ActiveRecommendations(ctx, util.Day(d.now()), f.Limit)
	if err != nil {
		return nil, fmt.Errorf("price recommendations: %w", err)
	}
	bundles, err := d.store.LatestBundles(ctx, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("bundles: %w", err)
	}
	return &models.RecommendationsPanel{
		RecommendationCount: len(recs) + len(bundles),
		Prices:              recs,
		Bundles:             bundles,
		GeneratedAt:         d.now().UTC(),
	}, nil
}
