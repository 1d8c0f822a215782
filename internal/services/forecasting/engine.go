// Package forecasting projects price and demand series forward from the
// statistical profile of their history.
package forecasting

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"PriceIntel/internal/domain/models"
	domrepo "PriceIntel/internal/domain/repository"
	"PriceIntel/internal/services/features"
	"PriceIntel/internal/services/statistics"
	"PriceIntel/pkg/util"
)

type Config struct {
	MinPoints       int
	SeasonalPeriod  int
	ConfidenceLevel float64
	// Windows used by the report helpers.
	DefaultHorizon      int
	DefaultLookback     int
	ExtrapolationDays   int
	ExtrapolationMin    int
	CompetitorDays      int
	CompetitorMinPoints int
	// MarginScenarios are the price changes, in percent, the report prices out.
	MarginScenarios []float64
}

func DefaultConfig() Config {
	return Config{
		MinPoints:           7,
		SeasonalPeriod:      7,
		ConfidenceLevel:     0.95,
		DefaultHorizon:      14,
		DefaultLookback:     90,
		ExtrapolationDays:   60,
		ExtrapolationMin:    14,
		CompetitorDays:      60,
		CompetitorMinPoints: 14,
		MarginScenarios:     []float64{-10, -5, 5, 10},
	}
}

// Source is the slice of the data provider the engine reads.
type Source interface {
	domrepo.PriceSource
	domrepo.SalesSource
	GetProduct(ctx context.Context, productID string) (models.Product, error)
}

type Engine struct {
	src      Source
	analyzer *statistics.Analyzer
	cfg      Config
	now      func() time.Time
}

func New(src Source, analyzer *statistics.Analyzer, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.MinPoints <= 0 {
		cfg.MinPoints = def.MinPoints
	}
	if cfg.SeasonalPeriod < 2 {
		cfg.SeasonalPeriod = def.SeasonalPeriod
	}
	if cfg.ConfidenceLevel <= 0 || cfg.ConfidenceLevel >= 1 {
		cfg.ConfidenceLevel = def.ConfidenceLevel
	}
	if cfg.DefaultHorizon <= 0 {
		cfg.DefaultHorizon = def.DefaultHorizon
	}
	if cfg.DefaultLookback <= 0 {
		cfg.DefaultLookback = def.DefaultLookback
	}
	if cfg.ExtrapolationDays <= 0 {
		cfg.ExtrapolationDays = def.ExtrapolationDays
	}
	if cfg.ExtrapolationMin <= 0 {
		cfg.ExtrapolationMin = def.ExtrapolationMin
	}
	if cfg.CompetitorDays <= 0 {
		cfg.CompetitorDays = def.CompetitorDays
	}
	if cfg.CompetitorMinPoints <= 0 {
		cfg.CompetitorMinPoints = def.CompetitorMinPoints
	}
	if cfg.MarginScenarios == nil {
		cfg.MarginScenarios = def.MarginScenarios
	}
	return &Engine{src: src, analyzer: analyzer, cfg: cfg, now: time.Now}
}

// WithClock pins the calculation date, mainly for tests and backfills.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) ForecastPrices(ctx context.Context, productID string, horizon, lookback int) (models.Forecast, error) {
	horizon, lookback = e.windows(horizon, lookback)
	today := util.Day(e.now())

	obs, err := e.src.PriceHistory(ctx, productID, util.DaysAgo(today, lookback))
	if err != nil {
		return models.Forecast{}, fmt.Errorf("price history %s: %w", productID, err)
	}

	f := e.Project(features.PriceSeries(obs), horizon)
	f.ProductID = productID
	f.Kind = models.ForecastPrice
	f.Lookback = lookback
	e.stamp(&f, today, "price")
	return f, nil
}

// ForecastDemand runs the same projection over daily units sold. Days
// without sales count as zero demand, but at least MinPoints days must
// have sales for the forecast to be produced.
func (e *Engine) ForecastDemand(ctx context.Context, productID string, horizon, lookback int, scenario *models.DemandScenario) (models.Forecast, error) {
	horizon, lookback = e.windows(horizon, lookback)
	today := util.Day(e.now())
	from := util.DaysAgo(today, lookback)

	sales, err := e.src.SalesHistory(ctx, productID, from)
	if err != nil {
		return models.Forecast{}, fmt.Errorf("sales history %s: %w", productID, err)
	}

	_, units := features.DailyUnits(sales, from, today.AddDate(0, 0, -1))
	active := 0
	for _, u := range units {
		if u > 0 {
			active++
		}
	}

	var f models.Forecast
	if active < e.cfg.MinPoints {
		f = models.Forecast{
			Horizon: horizon,
			Trend:   statistics.DetectTrend(units, 0),
			Points:  []models.ForecastPoint{},
			Status:  models.StatusInsufficientData,
		}
	} else {
		f = e.Project(units, horizon)
	}
	f.ProductID = productID
	f.Kind = models.ForecastDemand
	f.Lookback = lookback

	if scenario != nil && scenario.Elasticity == 0 && scenario.PriceChangePct != 0 {
		est, err := e.EstimatePriceElasticity(ctx, productID, lookback)
		if err != nil {
			return models.Forecast{}, err
		}
		filled := *scenario
		filled.Elasticity = est.Elasticity
		scenario = &filled
	}
	if scenario != nil {
		f.Scenario = scenario
	}
	if m := scenario.Multiplier(); m != 1 {
		for i := range f.Points {
			p := &f.Points[i]
			p.PointEstimate = math.Max(0, p.PointEstimate*m)
			p.LowerBound = math.Max(0, p.LowerBound*m)
			p.UpperBound = math.Max(0, p.UpperBound*m)
		}
	}
	e.stamp(&f, today, "demand")
	return f, nil
}

// EstimatePriceElasticity regresses daily units sold on our own closing price
// over the lookback window. Competitor observations never enter the fit.
func (e *Engine) EstimatePriceElasticity(ctx context.Context, productID string, lookback int) (models.ElasticityEstimate, error) {
	_, lookback = e.windows(0, lookback)
	from := util.DaysAgo(util.Day(e.now()), lookback)

	obs, err := e.src.PriceHistory(ctx, productID, from)
	if err != nil {
		return models.ElasticityEstimate{}, fmt.Errorf("price history %s: %w", productID, err)
	}
	sales, err := e.src.SalesHistory(ctx, productID, from)
	if err != nil {
		return models.ElasticityEstimate{}, fmt.Errorf("sales history %s: %w", productID, err)
	}

	est := statistics.EstimateElasticity(features.AlignPriceQuantity(obs, sales))
	est.Elasticity = util.Round(est.Elasticity, 3)
	return est, nil
}

// MarginScenarios prices out each configured price change against the
// projected volume. Nothing is returned without a usable elasticity.
func (e *Engine) MarginScenarios(product models.Product, est models.ElasticityEstimate, volume float64) []models.MarginImpact {
	if est.Status != models.StatusOK || product.Price <= 0 || volume <= 0 {
		return nil
	}
	out := make([]models.MarginImpact, 0, len(e.cfg.MarginScenarios))
	for _, pct := range e.cfg.MarginScenarios {
		newPrice := util.RoundCents(product.Price * (1 + pct/100))
		out = append(out, statistics.ForecastMarginImpact(product.Price, product.Cost, est.Elasticity, volume, newPrice))
	}
	return out
}

// Project fits a line to the series and extends it horizon steps. Point d
// (1-based) sits at x = n+d and widens its band by sqrt(1 + d/n). Values are
// floored at zero since neither prices nor units can go negative.
func (e *Engine) Project(series []float64, horizon int) models.Forecast {
	n := len(series)
	f := models.Forecast{
		Horizon: horizon,
		Trend:   statistics.DetectTrend(series, 0),
		Points:  []models.ForecastPoint{},
		Status:  models.StatusInsufficientData,
	}
	if n < e.cfg.MinPoints || horizon <= 0 {
		return f
	}

	f.Volatility = statistics.Volatility(series)
	if n >= 2*e.cfg.SeasonalPeriod {
		s := e.analyzer.DetectSeasonality(series, e.cfg.SeasonalPeriod)
		f.Seasonality = &s
	}

	z := statistics.ZForLevel(e.cfg.ConfidenceLevel)
	seasonal := f.Seasonality != nil && f.Seasonality.Significant
	note := fmt.Sprintf("ols n=%d r2=%.3f z=%.3f seasonal=%t", n, f.Trend.RSquared, z, seasonal)

	points := make([]models.ForecastPoint, 0, horizon)
	for d := 1; d <= horizon; d++ {
		x := float64(n + d)
		est := f.Trend.Intercept + f.Trend.Slope*x
		if seasonal {
			// x is 1-based, the factors are indexed from zero
			est *= f.Seasonality.Factor(n + d - 1)
		}
		width := z * f.Volatility.StdDev * math.Sqrt(1+float64(d)/float64(n))

		points = append(points, models.ForecastPoint{
			HorizonOffsetDays: d,
			PointEstimate:     util.RoundCents(math.Max(0, est)),
			LowerBound:        util.RoundCents(math.Max(0, est-width)),
			UpperBound:        util.RoundCents(math.Max(0, est+width)),
			Confidence:        e.cfg.ConfidenceLevel * 100,
			BasisNote:         note,
		})
	}
	f.Points = points
	f.Status = models.StatusOK
	return f
}

// ExtrapolateTrend continues the recent slope from the last observed price.
// Confidence decays by 1.5 points per period, floored at 10.
func (e *Engine) ExtrapolateTrend(ctx context.Context, productID string, periods int) (models.Forecast, error) {
	if periods <= 0 {
		periods = e.cfg.DefaultHorizon
	}
	today := util.Day(e.now())

	obs, err := e.src.PriceHistory(ctx, productID, util.DaysAgo(today, e.cfg.ExtrapolationDays))
	if err != nil {
		return models.Forecast{}, fmt.Errorf("price history %s: %w", productID, err)
	}
	series := features.PriceSeries(obs)

	f := models.Forecast{
		ProductID: productID,
		Kind:      models.ForecastPrice,
		Horizon:   periods,
		Lookback:  e.cfg.ExtrapolationDays,
		Trend:     statistics.DetectTrend(series, 0),
		Points:    []models.ForecastPoint{},
		Status:    models.StatusInsufficientData,
	}
	if len(series) < e.cfg.ExtrapolationMin {
		e.stamp(&f, today, "extrapolation")
		return f, nil
	}

	f.Volatility = statistics.Volatility(series)
	last := series[len(series)-1]
	for i := 1; i <= periods; i++ {
		est := last + f.Trend.Slope*float64(i)
		width := f.Volatility.StdDev * (1 + 0.02*float64(i))
		f.Points = append(f.Points, models.ForecastPoint{
			HorizonOffsetDays: i,
			PointEstimate:     util.RoundCents(math.Max(0, est)),
			LowerBound:        util.RoundCents(math.Max(0, est-width)),
			UpperBound:        util.RoundCents(est + width),
			Confidence:        math.Max(10, 100-1.5*float64(i)),
			BasisNote:         "linear extrapolation from last price",
		})
	}
	f.Status = models.StatusOK
	e.stamp(&f, today, "extrapolation")
	return f, nil
}

// Reband restates stored points at another confidence level. Each point's
// standard error is recovered from its current band and confidence.
func Reband(points []models.ForecastPoint, level float64) []models.ForecastPoint {
	stdErrors := make([]float64, len(points))
	for i, p := range points {
		if p.Confidence <= 0 || p.Confidence >= 100 {
			continue
		}
		if z := statistics.ZForLevel(p.Confidence / 100); z > 0 {
			stdErrors[i] = (p.UpperBound - p.LowerBound) / (2 * z)
		}
	}
	return AdjustConfidenceIntervals(points, level, stdErrors)
}

// AdjustConfidenceIntervals recomputes bounds at another confidence level.
// stdErrors is matched by position; a missing or non-positive entry falls
// back to 5% of the point estimate.
func AdjustConfidenceIntervals(points []models.ForecastPoint, level float64, stdErrors []float64) []models.ForecastPoint {
	z := statistics.ZForLevel(level)
	out := make([]models.ForecastPoint, len(points))
	for i, p := range points {
		se := math.Abs(p.PointEstimate) * 0.05
		if i < len(stdErrors) && stdErrors[i] > 0 {
			se = stdErrors[i]
		}
		p.LowerBound = util.RoundCents(p.PointEstimate - z*se)
		p.UpperBound = util.RoundCents(p.PointEstimate + z*se)
		p.Confidence = level * 100
		out[i] = p
	}
	return out
}

// ValidateAccuracy scores a forecast against actual values keyed by day.
// Only days present in both are compared; zero actuals are left out of MAPE.
func ValidateAccuracy(f models.Forecast, actuals map[time.Time]float64) models.ForecastAccuracy {
	acc := models.ForecastAccuracy{Status: models.StatusInsufficientData}

	var absSum, sqSum, pctSum float64
	pctN := 0
	for _, p := range f.Points {
		actual, ok := actuals[util.Day(p.Date)]
		if !ok {
			continue
		}
		diff := p.PointEstimate - actual
		absSum += math.Abs(diff)
		sqSum += diff * diff
		acc.Points++
		if actual != 0 {
			pctSum += math.Abs(diff / actual)
			pctN++
		}
	}
	if acc.Points == 0 {
		return acc
	}

	n := float64(acc.Points)
	acc.MAE = util.Round(absSum/n, 4)
	acc.RMSE = util.Round(math.Sqrt(sqSum/n), 4)
	if pctN > 0 {
		acc.MAPE = util.Round(pctSum/float64(pctN)*100, 2)
	}
	acc.Status = models.StatusOK
	return acc
}

// CompareCompetitors fits a trend per competitor over the competitor window.
// Competitors with too few observations are left out.
func (e *Engine) CompareCompetitors(ctx context.Context, productName string) ([]models.CompetitorTrend, error) {
	today := util.Day(e.now())
	prices, err := e.src.CompetitorPrices(ctx, productName, util.DaysAgo(today, e.cfg.CompetitorDays))
	if err != nil {
		return nil, fmt.Errorf("competitor prices %q: %w", productName, err)
	}

	out := []models.CompetitorTrend{}
	for name, obs := range features.GroupByCompetitor(prices) {
		if len(obs) < e.cfg.CompetitorMinPoints {
			continue
		}
		series := make([]float64, len(obs))
		for i, o := range obs {
			series[i] = o.Price
		}
		recent := series
		if len(recent) > 30 {
			recent = recent[len(recent)-30:]
		}
		out = append(out, models.CompetitorTrend{
			Competitor:   name,
			CurrentPrice: series[len(series)-1],
			Avg30d:       util.RoundCents(statistics.Mean(recent)),
			Trend:        statistics.DetectTrend(series, 0),
			DataPoints:   len(series),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Competitor < out[j].Competitor })
	return out, nil
}

// Report runs every forecast for one product concurrently. A failing part is
// recorded in Errors and does not fail the report.
func (e *Engine) Report(ctx context.Context, productID string) (models.ForecastReport, error) {
	product, err := e.src.GetProduct(ctx, productID)
	if err != nil {
		return models.ForecastReport{}, err
	}

	res := models.ForecastReport{
		ProductID:   productID,
		GeneratedAt: e.now().UTC(),
		Errors:      map[string]string{},
	}

	type item struct {
		name string
		val  interface{}
		err  error
	}
	ch := make(chan item, 5)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := e.ForecastPrices(ctx, productID, e.cfg.DefaultHorizon, e.cfg.DefaultLookback)
		ch <- item{"price", v, err}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := e.ForecastDemand(ctx, productID, e.cfg.DefaultHorizon, e.cfg.DefaultLookback, nil)
		ch <- item{"demand", v, err}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := e.ExtrapolateTrend(ctx, productID, e.cfg.DefaultHorizon)
		ch <- item{"extrapolation", v, err}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := e.CompareCompetitors(ctx, product.Name)
		ch <- item{"competitors", v, err}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := e.EstimatePriceElasticity(ctx, productID, e.cfg.DefaultLookback)
		ch <- item{"elasticity", v, err}
	}()

	go func() { wg.Wait(); close(ch) }()

	for it := range ch {
		if it.err != nil {
			res.Errors[it.name] = it.err.Error()
			continue
		}
		switch it.name {
		case "price":
			v := it.val.(models.Forecast)
			res.PriceForecast = v
			res.Trend = v.Trend
			res.Volatility = v.Volatility
		case "demand":
			res.DemandForecast = it.val.(models.Forecast)
		case "extrapolation":
			res.Extrapolation = it.val.(models.Forecast)
		case "competitors":
			res.Competitors = it.val.([]models.CompetitorTrend)
		case "elasticity":
			v := it.val.(models.ElasticityEstimate)
			res.Elasticity = &v
		}
	}

	if res.Elasticity != nil && res.DemandForecast.Status == models.StatusOK {
		volume := 0.0
		for _, p := range res.DemandForecast.Points {
			volume += p.PointEstimate
		}
		res.MarginScenarios = e.MarginScenarios(product, *res.Elasticity, volume)
	}

	if len(res.Errors) == 0 {
		res.Errors = nil
	}
	return res, nil
}

func (e *Engine) windows(horizon, lookback int) (int, int) {
	if horizon <= 0 {
		horizon = e.cfg.DefaultHorizon
	}
	if lookback <= 0 {
		lookback = e.cfg.DefaultLookback
	}
	return horizon, lookback
}

// stamp sets the calculation date and dates every point from it.
func (e *Engine) stamp(f *models.Forecast, today time.Time, basis string) {
	f.Date = today
	for i := range f.Points {
		f.Points[i].ProductID = f.ProductID
		f.Points[i].Date = today.AddDate(0, 0, f.Points[i].HorizonOffsetDays)
		if f.Points[i].BasisNote == "" {
			f.Points[i].BasisNote = basis
		}
	}
}
