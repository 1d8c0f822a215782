package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"PriceIntel/internal/domain/models"
	"PriceIntel/internal/services/features"
	"PriceIntel/internal/services/statistics"
	"PriceIntel/pkg/util"
)

const (
	minAnomalyPoints    = 7
	recommendationDays  = 7
	recommendationConf  = 75
	undercutTrigger     = 1.1
	undercutFactor      = 0.98
	trendCutFactor      = 0.95
	trendCutMinStrength = 30
)

// activeProducts loads the catalog once per run and lists active products.
func (o *PipelineOrchestrator) activeProducts(ctx context.Context, rc *runContext) ([]string, error) {
	rc.mu.RLock()
	ids := rc.catalogIDs
	rc.mu.RUnlock()
	if ids != nil {
		return ids, nil
	}

	products, err := o.provider.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	catalog := make(map[string]models.Product, len(products))
	ids = make([]string, 0, len(products))
	for _, p := range products {
		if !p.Active {
			continue
		}
		catalog[p.ID] = p
		ids = append(ids, p.ID)
	}
	sort.Strings(ids)

	rc.mu.Lock()
	rc.catalog = catalog
	rc.catalogIDs = ids
	rc.mu.Unlock()
	return ids, nil
}

func (o *PipelineOrchestrator) snapshotPrice(ctx context.Context, rc *runContext, id string) error {
	p, ok := rc.product(id)
	if !ok {
		return fmt.Errorf("product %s not in catalog", id)
	}
	prev, prevErr := o.store.PreviousSnapshot(ctx, id, rc.date)
	if prevErr != nil && !errors.Is(prevErr, models.ErrNotFound) {
		return fmt.Errorf("previous snapshot: %w", prevErr)
	}

	snap := models.PriceSnapshot{ProductID: id, ProductName: p.Name, Date: rc.date, Price: p.Price, Cost: p.Cost}
	if err := o.store.UpsertPriceSnapshot(ctx, snap); err != nil {
		return err
	}

	if prevErr == nil && prev.Price > 0 {
		change := util.PercentChange(prev.Price, p.Price)
		if math.Abs(change) > o.cfg.SignificantChangePct {
			return o.raise(ctx, models.Alert{
				ID:              models.AlertID(models.AlertPriceChange, id, rc.date),
				Type:            models.AlertPriceChange,
				Severity:        models.SeverityMedium,
				ProductID:       id,
				Message:         fmt.Sprintf("%s price moved %.1f%% (%.2f -> %.2f)", p.Name, change, prev.Price, p.Price),
				Timestamp:       rc.date,
				SuggestedAction: "Review the price change against competitor positioning",
			})
		}
	}
	return nil
}

func (o *PipelineOrchestrator) prepareInventory(ctx context.Context, rc *runContext) ([]string, error) {
	levels, err := o.provider.InventoryLevels(ctx)
	if err != nil {
		return nil, fmt.Errorf("inventory levels: %w", err)
	}
	ids := make([]string, 0, len(levels))
	rc.mu.Lock()
	for _, lv := range levels {
		rc.inventory[lv.ProductID] = lv
		ids = append(ids, lv.ProductID)
	}
	rc.mu.Unlock()
	sort.Strings(ids)
	return ids, nil
}

// StockStatus classifies an inventory level.
func StockStatus(onHand, reorderPoint, lowThreshold int) string {
	switch {
	case onHand <= 0:
		return models.StockOut
	case onHand < lowThreshold || onHand <= reorderPoint:
		return models.StockLow
	default:
		return models.StockOK
	}
}

func (o *PipelineOrchestrator) updateInventory(ctx context.Context, rc *runContext, id string) error {
	rc.mu.RLock()
	lv, ok := rc.inventory[id]
	rc.mu.RUnlock()
	if !ok {
		return errSkipped
	}

	status := StockStatus(lv.OnHand, lv.ReorderPoint, o.cfg.LowStockThreshold)
	err := o.store.UpsertInventoryStatus(ctx, models.InventoryStatus{
		ProductID:    id,
		Date:         rc.date,
		OnHand:       lv.OnHand,
		ReorderPoint: lv.ReorderPoint,
		Status:       status,
	})
	if err != nil || status == models.StockOK {
		return err
	}

	sev, msg := models.SeverityHigh, fmt.Sprintf("%s is low on stock: %d left (reorder point %d)", id, lv.OnHand, lv.ReorderPoint)
	if status == models.StockOut {
		sev, msg = models.SeverityCritical, fmt.Sprintf("%s is out of stock", id)
	}
	return o.raise(ctx, models.Alert{
		ID:              models.AlertID(models.AlertLowStock, id, rc.date),
		Type:            models.AlertLowStock,
		Severity:        sev,
		ProductID:       id,
		Message:         msg,
		Timestamp:       rc.date,
		SuggestedAction: "Reorder stock",
	})
}

// prepareVelocity fetches the three sales windows in three batched calls.
func (o *PipelineOrchestrator) prepareVelocity(ctx context.Context, rc *runContext) ([]string, error) {
	limit := o.cfg.MaxEntities
	if limit <= 0 {
		limit = DefaultPipelineConfig().MaxEntities
	}
	top, err := o.provider.TopProducts(ctx, util.DaysAgo(rc.date, 90), limit)
	if err != nil {
		return nil, fmt.Errorf("sales volumes 90d: %w", err)
	}
	ids := make([]string, 0, len(top))
	for _, v := range top {
		ids = append(ids, v.ProductID)
	}
	v30, err := o.provider.ProductVolumes(ctx, ids, util.DaysAgo(rc.date, 30))
	if err != nil {
		return nil, fmt.Errorf("sales volumes 30d: %w", err)
	}
	v7, err := o.provider.ProductVolumes(ctx, ids, util.DaysAgo(rc.date, 7))
	if err != nil {
		return nil, fmt.Errorf("sales volumes 7d: %w", err)
	}

	rc.mu.Lock()
	for _, v := range top {
		rc.velocity[v.ProductID] = &models.VelocitySnapshot{
			ProductID:     v.ProductID,
			Date:          rc.date,
			Units7d:       v7[v.ProductID].Units,
			Units30d:      v30[v.ProductID].Units,
			Units90d:      v.Units,
			Orders30d:     v30[v.ProductID].Orders,
			AvgDailyUnits: util.Round(float64(v30[v.ProductID].Units)/30, 2),
		}
	}
	rc.mu.Unlock()
	return ids, nil
}

func (o *PipelineOrchestrator) recordVelocity(ctx context.Context, rc *runContext, id string) error {
	rc.mu.RLock()
	v := rc.velocity[id]
	rc.mu.RUnlock()
	if v == nil {
		return errSkipped
	}
	return o.store.UpsertVelocity(ctx, *v)
}

// selfPrices returns our own observations in the statistics window, oldest first.
func (o *PipelineOrchestrator) selfPrices(ctx context.Context, rc *runContext, id string) ([]models.PriceObservation, error) {
	if obs, ok := rc.cachedSeries(id); ok {
		return obs, nil
	}
	obs, err := o.provider.PriceHistory(ctx, id, util.DaysAgo(rc.date, o.cfg.StatisticsWindow))
	if err != nil {
		return nil, fmt.Errorf("price history: %w", err)
	}
	self := make([]models.PriceObservation, 0, len(obs))
	for _, ob := range obs {
		if ob.Source == "" || ob.Source == models.SourceSelf {
			self = append(self, ob)
		}
	}
	sort.SliceStable(self, func(i, j int) bool { return self[i].Timestamp.Before(self[j].Timestamp) })
	rc.storeSeries(id, self)
	return self, nil
}

func (o *PipelineOrchestrator) computeStatistics(ctx context.Context, rc *runContext, id string) error {
	obs, err := o.selfPrices(ctx, rc, id)
	if err != nil {
		return err
	}
	series := features.PriceSeries(obs)
	if len(series) < 2 {
		return errSkipped
	}

	trend := statistics.DetectTrend(series, 0)
	trend.ProductID = id
	trend.WindowDays = o.cfg.StatisticsWindow
	vol := statistics.Volatility(series)
	anomalies := o.analyzer.DetectAnomalies(series, 0)
	seasonality := o.analyzer.DetectSeasonality(series, o.cfg.SeasonalPeriod)
	interval := o.analyzer.ConfidenceInterval(series, 0)

	return o.store.UpsertStatistics(ctx, models.PriceStatistics{
		ProductID:        id,
		Date:             rc.date,
		Trend:            trend,
		Volatility:       vol,
		MeanInterval:     interval,
		ReturnVolatility: util.Round(statistics.Volatility(features.ComputeLogReturns(series)).StdDev, 6),
		AnomalyCount:     len(anomalies.Anomalies),
		Seasonal:         seasonality.Significant,
		ConfidenceScore:  util.Round(statistics.ConfidenceScore(trend.RSquared, vol.StdDev, vol.Mean), 2),
		DataPoints:       len(series),
	})
}

func (o *PipelineOrchestrator) detectAnomalies(ctx context.Context, rc *runContext, id string) error {
	obs, err := o.selfPrices(ctx, rc, id)
	if err != nil {
		return err
	}
	if len(obs) < minAnomalyPoints {
		return errSkipped
	}
	prices := make([]float64, len(obs))
	for i, ob := range obs {
		prices[i] = ob.Price
	}

	rep := o.analyzer.DetectAnomalies(prices, 0)
	for _, a := range rep.Anomalies {
		observed := obs[a.Index].Timestamp
		rec := models.AnomalyRecord{
			ProductID:  id,
			ObservedAt: observed,
			Price:      a.Value,
			ZScore:     util.Round(a.ZScore, 4),
			Severity:   a.Severity,
			Percentile: util.Round(a.Percentile, 2),
			DetectedOn: rc.date,
		}
		if err := o.store.UpsertAnomaly(ctx, rec); err != nil {
			return err
		}
		if a.Severity != models.SeverityCritical {
			continue
		}
		// keyed by the observation day so the same outlier alerts once
		err := o.raise(ctx, models.Alert{
			ID:              models.AlertID(models.AlertPriceAnomaly, id, observed),
			Type:            models.AlertPriceAnomaly,
			Severity:        models.SeverityCritical,
			ProductID:       id,
			Message:         fmt.Sprintf("price %.2f on %s is %.1f standard deviations from the mean", a.Value, util.FormatDay(observed), a.ZScore),
			Timestamp:       rc.date,
			SuggestedAction: "Verify the price feed and competitor moves",
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *PipelineOrchestrator) topProducts(ctx context.Context, rc *runContext, n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}
	top, err := o.provider.TopProducts(ctx, util.DaysAgo(rc.date, 30), n)
	if err != nil {
		return nil, fmt.Errorf("top products: %w", err)
	}
	ids := make([]string, len(top))
	for i, v := range top {
		ids[i] = v.ProductID
	}
	return ids, nil
}

func (o *PipelineOrchestrator) prepareForecasts(ctx context.Context, rc *runContext) ([]string, error) {
	if o.forecaster == nil {
		return nil, errors.New("forecaster not configured")
	}
	return o.topProducts(ctx, rc, o.cfg.ForecastTopN)
}

func (o *PipelineOrchestrator) generateForecasts(ctx context.Context, rc *runContext, id string) error {
	price, err := o.forecaster.ForecastPrices(ctx, id, o.cfg.ForecastHorizon, o.cfg.ForecastLookback)
	if err != nil {
		return err
	}
	demand, err := o.forecaster.ForecastDemand(ctx, id, o.cfg.ForecastHorizon, o.cfg.ForecastLookback, nil)
	if err != nil {
		return err
	}

	written := 0
	for _, f := range []models.Forecast{price, demand} {
		if f.Status != models.StatusOK {
			continue
		}
		restamp(&f, rc)
		if err := o.store.ReplaceForecast(ctx, f); err != nil {
			return fmt.Errorf("%s forecast: %w", f.Kind, err)
		}
		written++
	}
	if written == 0 {
		return errSkipped
	}
	return nil
}

// restamp dates a forecast from the run's calculation date.
func restamp(f *models.Forecast, rc *runContext) {
	f.Date = rc.date
	for i := range f.Points {
		f.Points[i].Date = rc.date.AddDate(0, 0, f.Points[i].HorizonOffsetDays)
	}
}

func (o *PipelineOrchestrator) prepareAffinity(ctx context.Context, rc *runContext) ([]string, error) {
	if o.affinity == nil {
		return nil, errors.New("affinity miner not configured")
	}
	rs, err := o.affinity.BasketAssociations(ctx, o.cfg.AffinityDaysBack, 2)
	if err != nil {
		return nil, fmt.Errorf("mine basket rules: %w", err)
	}
	rs.Date = rc.date
	if err := o.store.ReplaceRuleSet(ctx, rs); err != nil {
		return nil, fmt.Errorf("store rule set: %w", err)
	}
	return o.topProducts(ctx, rc, o.cfg.BundleProducts)
}

func (o *PipelineOrchestrator) bundleFor(ctx context.Context, rc *runContext, id string) error {
	b, err := o.affinity.BundleRecommendations(ctx, id, o.cfg.BundleSize)
	if err != nil {
		return err
	}
	if b.Status != models.StatusOK {
		return errSkipped
	}
	b.Date = rc.date
	return o.store.UpsertBundle(ctx, b)
}

// CompetitiveScore is 70 for products priced in the cheaper half of the market, else 40.
func CompetitiveScore(percentile float64) float64 {
	if percentile <= 50 {
		return 70
	}
	return 40
}

func (o *PipelineOrchestrator) competitivePosition(ctx context.Context, rc *runContext, id string) error {
	p, ok := rc.product(id)
	if !ok {
		return fmt.Errorf("product %s not in catalog", id)
	}
	comps, err := o.provider.CompetitorPrices(ctx, p.Name, util.DaysAgo(rc.date, 1))
	if err != nil {
		return fmt.Errorf("competitor prices: %w", err)
	}
	latest := features.LatestCompetitorPrices(comps)
	if len(latest) == 0 {
		return errSkipped
	}

	mp := o.analyzer.CompetitivePosition(p.Price, latest)
	pos := models.CompetitivePosition{
		ProductID:       id,
		ProductName:     p.Name,
		Date:            rc.date,
		OurPrice:        p.Price,
		Percentile:      util.Round(mp.Percentile, 2),
		Rank:            mp.Rank,
		Total:           mp.Total,
		StrategyLabel:   mp.Strategy,
		CompetitorCount: mp.CompetitorCount,
		MinPrice:        mp.CompetitorMin,
		MaxPrice:        mp.CompetitorMax,
		AvgPrice:        util.RoundCents(mp.CompetitorAvg),
		GapToLowest:     util.RoundCents(p.Price - mp.CompetitorMin),
		PriceAdvantage:  p.Price <= mp.CompetitorMin,
		Score:           CompetitiveScore(mp.Percentile),
	}
	if mp.CompetitorMin > 0 {
		pos.GapPctToLowest = util.Round((p.Price-mp.CompetitorMin)/mp.CompetitorMin*100, 2)
	}
	return o.store.UpsertCompetitivePosition(ctx, pos)
}

func (o *PipelineOrchestrator) prepareRecommendations(ctx context.Context, rc *runContext) ([]string, error) {
	ids, err := o.activeProducts(ctx, rc)
	if err != nil {
		return nil, err
	}
	if o.cfg.RecommendationCap > 0 && len(ids) > o.cfg.RecommendationCap {
		ids = ids[:o.cfg.RecommendationCap]
	}
	return ids, nil
}

func (o *PipelineOrchestrator) recommend(ctx context.Context, rc *runContext, id string) error {
	p, ok := rc.product(id)
	if !ok {
		return fmt.Errorf("product %s not in catalog", id)
	}
	pos, posErr := o.store.GetCompetitivePosition(ctx, id, rc.date)
	if posErr != nil && !errors.Is(posErr, models.ErrNotFound) {
		return fmt.Errorf("competitive position: %w", posErr)
	}
	stats, statErr := o.store.GetStatistics(ctx, id, rc.date)
	if statErr != nil && !errors.Is(statErr, models.ErrNotFound) {
		return fmt.Errorf("statistics: %w", statErr)
	}

	rec, ok := RecommendPrice(p.Price, pos, posErr == nil, stats, statErr == nil)
	if !ok {
		return errSkipped
	}
	rec.ProductID = id
	rec.Date = rc.date
	rec.ExpiresAt = rc.date.AddDate(0, 0, recommendationDays)
	return o.store.UpsertRecommendation(ctx, rec)
}

// RecommendPrice applies the pricing rules: undercut an expensive product to
// just under the market average, otherwise follow a strong downward trend.
// ok is false when no rule fires or the price would not change.
func RecommendPrice(price float64, pos models.CompetitivePosition, hasPos bool, stats models.PriceStatistics, hasStats bool) (models.PriceRecommendation, bool) {
	rec := models.PriceRecommendation{
		CurrentPrice: price,
		Priority:     models.SeverityMedium,
		Confidence:   recommendationConf,
		Status:       models.RecommendationPending,
	}
	switch {
	case hasPos && pos.AvgPrice > 0 && price > pos.AvgPrice*undercutTrigger:
		rec.Type = models.RecommendationUndercut
		rec.RecommendedPrice = util.RoundCents(pos.AvgPrice * undercutFactor)
		rec.Reasoning = fmt.Sprintf("price %.2f is more than 10%% above the competitor average %.2f", price, pos.AvgPrice)
	case hasStats && stats.Trend.Direction == models.TrendDown && stats.Trend.Strength > trendCutMinStrength:
		rec.Type = models.RecommendationTrendAdjust
		rec.RecommendedPrice = util.RoundCents(price * trendCutFactor)
		rec.Reasoning = fmt.Sprintf("strong downward price trend (strength %.1f)", stats.Trend.Strength)
	default:
		return rec, false
	}
	if rec.RecommendedPrice == util.RoundCents(price) || price <= 0 {
		return rec, false
	}
	rec.ChangePct = util.Round(util.PercentChange(price, rec.RecommendedPrice), 2)
	return rec, true
}
