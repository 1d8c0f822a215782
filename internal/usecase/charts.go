package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PriceIntel/internal/domain/models"
	"PriceIntel/internal/services/features"
	"PriceIntel/internal/services/forecasting"
	"PriceIntel/internal/services/statistics"
	"PriceIntel/pkg/util"
)

const (
	demandSmoothing     = 7
	forecastHistoryDays = 14
)

func chartDays(days int) int {
	if days <= 0 {
		return 30
	}
	return days
}

func labels(days []time.Time) []string {
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = util.FormatDay(d)
	}
	return out
}

func ptr(v float64) *float64 { return &v }

// PriceTrend charts the daily snapshot price with anomalies overlaid on the
// days they were observed.
func (d *DashboardAggregator) PriceTrend(ctx context.Context, productID string, days int) (models.ChartSeries, error) {
	if productID == "" {
		return models.ChartSeries{}, errors.New("product id required")
	}
	to := util.Day(d.now())
	from := util.DaysAgo(to, chartDays(days)-1)
	out := models.ChartSeries{ProductID: productID, Labels: []string{}, Datasets: []models.ChartDataset{}, GeneratedAt: d.now().UTC()}

	snaps, err := d.store.SnapshotHistory(ctx, productID, from, to)
	if err != nil {
		out.Error = fmt.Sprintf("snapshots: %v", err)
		return out, nil
	}
	anomalies, err := d.store.AnomaliesSince(ctx, productID, from)
	if err != nil {
		out.Error = fmt.Sprintf("anomalies: %v", err)
		return out, nil
	}

	obs := make([]models.PriceObservation, len(snaps))
	for i, s := range snaps {
		obs[i] = models.PriceObservation{ProductID: s.ProductID, Price: s.Price, Timestamp: s.Date, Source: models.SourceSelf}
	}
	span, prices := features.DailyPrices(obs, from, to)
	index := make(map[time.Time]int, len(span))
	for i, day := range span {
		index[day] = i
	}
	flagged := make([]*float64, len(span))
	for _, a := range anomalies {
		if i, ok := index[util.Day(a.ObservedAt)]; ok {
			flagged[i] = ptr(a.Price)
		}
	}

	out.Labels = labels(span)
	out.Datasets = []models.ChartDataset{
		{Label: "price", Data: prices},
		{Label: "anomalies", Data: flagged},
	}
	return out, nil
}

// DemandTrend charts daily units sold and their 7-day moving average.
func (d *DashboardAggregator) DemandTrend(ctx context.Context, productID string, days int) (models.ChartSeries, error) {
	if productID == "" {
		return models.ChartSeries{}, errors.New("product id required")
	}
	to := util.Day(d.now())
	from := util.DaysAgo(to, chartDays(days)-1)
	out := models.ChartSeries{ProductID: productID, Labels: []string{}, Datasets: []models.ChartDataset{}, GeneratedAt: d.now().UTC()}

	sales, err := d.sales.SalesHistory(ctx, productID, from)
	if err != nil {
		out.Error = fmt.Sprintf("sales: %v", err)
		return out, nil
	}
	span, units := features.DailyUnits(sales, from, to)

	unitData := make([]*float64, len(units))
	for i, u := range units {
		unitData[i] = ptr(u)
	}
	smoothed := make([]*float64, len(units))
	if ma, err := statistics.MovingAverage(units, demandSmoothing); err == nil {
		for i, v := range ma {
			smoothed[i+demandSmoothing-1] = ptr(util.Round(v, 2))
		}
	}

	out.Labels = labels(span)
	out.Datasets = []models.ChartDataset{
		{Label: "units", Data: unitData},
		{Label: "moving_average_7d", Data: smoothed},
	}
	return out, nil
}

// ForecastVsActual lines the latest price forecast up against the snapshot
// prices of the preceding two weeks and of any elapsed forecast days. A
// confidence in (0,1) restates the band at that level.
func (d *DashboardAggregator) ForecastVsActual(ctx context.Context, productID string, confidence float64) (models.ChartSeries, error) {
	if productID == "" {
		return models.ChartSeries{}, errors.New("product id required")
	}
	out := models.ChartSeries{ProductID: productID, Labels: []string{}, Datasets: []models.ChartDataset{}, GeneratedAt: d.now().UTC()}

	fc, err := d.store.LatestForecast(ctx, productID, models.ForecastPrice)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			out.Error = "no price forecast for product"
		} else {
			out.Error = fmt.Sprintf("forecast: %v", err)
		}
		return out, nil
	}

	if confidence > 0 && confidence < 1 {
		fc.Points = forecasting.Reband(fc.Points, confidence)
	}

	from := util.DaysAgo(fc.Date, forecastHistoryDays-1)
	to := fc.Date.AddDate(0, 0, fc.Horizon)
	snaps, err := d.store.SnapshotHistory(ctx, productID, from, to)
	if err != nil {
		out.Error = fmt.Sprintf("snapshots: %v", err)
		return out, nil
	}

	span := util.DayRange(from, to)
	index := make(map[time.Time]int, len(span))
	for i, day := range span {
		index[day] = i
	}
	actual := make([]*float64, len(span))
	predicted := make([]*float64, len(span))
	lower := make([]*float64, len(span))
	upper := make([]*float64, len(span))
	for _, s := range snaps {
		if i, ok := index[util.Day(s.Date)]; ok {
			actual[i] = ptr(s.Price)
		}
	}
	for _, p := range fc.Points {
		if i, ok := index[util.Day(p.Date)]; ok {
			predicted[i] = ptr(p.PointEstimate)
			lower[i] = ptr(p.LowerBound)
			upper[i] = ptr(p.UpperBound)
		}
	}

	out.Labels = labels(span)
	out.Datasets = []models.ChartDataset{
		{Label: "actual", Data: actual},
		{Label: "forecast", Data: predicted},
		{Label: "lower_bound", Data: lower},
		{Label: "upper_bound", Data: upper},
	}
	return out, nil
}
