package features

import (
	"math"
	"sort"
	"time"

	"PriceIntel/internal/domain/models"
	"PriceIntel/pkg/util"
)

// PriceSeries returns our own prices in time order.
func PriceSeries(obs []models.PriceObservation) []float64 {
	sorted := append([]models.PriceObservation(nil), obs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	out := make([]float64, 0, len(sorted))
	for _, o := range sorted {
		if o.Source != "" && o.Source != models.SourceSelf {
			continue
		}
		out = append(out, o.Price)
	}
	return out
}

// DailyPrices keeps our last observed price of each day in [from, to].
// Days without an observation are nil.
func DailyPrices(obs []models.PriceObservation, from, to time.Time) ([]time.Time, []*float64) {
	days := util.DayRange(from, to)
	byDay := make(map[time.Time]models.PriceObservation, len(obs))
	for _, o := range obs {
		if o.Source != "" && o.Source != models.SourceSelf {
			continue
		}
		d := util.Day(o.Timestamp)
		if prev, ok := byDay[d]; !ok || !o.Timestamp.Before(prev.Timestamp) {
			byDay[d] = o
		}
	}

	values := make([]*float64, len(days))
	for i, d := range days {
		if o, ok := byDay[d]; ok {
			p := o.Price
			values[i] = &p
		}
	}
	return days, values
}

// DailyUnits sums quantities per day over [from, to]; days without sales are 0.
func DailyUnits(sales []models.SalesRecord, from, to time.Time) ([]time.Time, []float64) {
	days := util.DayRange(from, to)
	index := make(map[time.Time]int, len(days))
	for i, d := range days {
		index[d] = i
	}
	units := make([]float64, len(days))
	for _, s := range sales {
		if i, ok := index[util.Day(s.Timestamp)]; ok {
			units[i] += float64(s.Quantity)
		}
	}
	return days, units
}

// AlignPriceQuantity pairs the day's closing price with the day's unit sales,
// for days that have both. Competitor observations are ignored.
func AlignPriceQuantity(obs []models.PriceObservation, sales []models.SalesRecord) (prices, quantities []float64) {
	closing := make(map[time.Time]models.PriceObservation)
	for _, o := range obs {
		if o.Source != "" && o.Source != models.SourceSelf {
			continue
		}
		d := util.Day(o.Timestamp)
		if prev, ok := closing[d]; !ok || !o.Timestamp.Before(prev.Timestamp) {
			closing[d] = o
		}
	}
	units := make(map[time.Time]float64)
	for _, s := range sales {
		units[util.Day(s.Timestamp)] += float64(s.Quantity)
	}

	days := make([]time.Time, 0, len(closing))
	for d := range closing {
		if _, ok := units[d]; ok {
			days = append(days, d)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	for _, d := range days {
		prices = append(prices, closing[d].Price)
		quantities = append(quantities, units[d])
	}
	return prices, quantities
}

// ComputeLogReturns computes r_t = ln(p_t / p_{t-1}); non-positive prices give 0.
func ComputeLogReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev, cur := prices[i-1], prices[i]
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// GroupByCompetitor splits competitor observations into time-ordered series.
func GroupByCompetitor(prices []models.CompetitorPrice) map[string][]models.CompetitorPrice {
	out := make(map[string][]models.CompetitorPrice)
	for _, p := range prices {
		out[p.Competitor] = append(out[p.Competitor], p)
	}
	for k := range out {
		s := out[k]
		sort.SliceStable(s, func(i, j int) bool { return s[i].Timestamp.Before(s[j].Timestamp) })
	}
	return out
}

// LatestCompetitorPrices keeps each competitor's newest price.
func LatestCompetitorPrices(prices []models.CompetitorPrice) []float64 {
	groups := GroupByCompetitor(prices)
	names := make([]string, 0, len(groups))
	for n := range groups {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]float64, 0, len(names))
	for _, n := range names {
		s := groups[n]
		out = append(out, s[len(s)-1].Price)
	}
	return out
}
