// Package affinity mines co-purchase structure from sales baskets: pairwise
// association rules, co-occurrence correlation, bundles, cross-sell, upsell
// and per-segment preferences.
package affinity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"PriceIntel/internal/domain/models"
	domrepo "PriceIntel/internal/domain/repository"
	"PriceIntel/pkg/util"
)

type Config struct {
	Rules            RuleConfig
	BasketSampleSize int
	// WindowDays bounds correlation, bundle and cross-sell lookups.
	WindowDays      int
	PriceWindowDays int
	ProfileDays     int
	CohortSize      int
	CorrelationCap  int
	BundleDiscount  float64
	UpsellCeiling   float64
	UpsellLimit     int
	PreferenceLimit int
	CrossSellLimit  int
	UpsellMargin    float64
	BundleSize      int
}

func DefaultConfig() Config {
	return Config{
		Rules: RuleConfig{
			MinSupport:      0.02,
			MinConfidence:   0.3,
			MinLift:         1.2,
			MinTransactions: 100,
			MaxRules:        100,
		},
		BasketSampleSize: 5000,
		WindowDays:       90,
		PriceWindowDays:  30,
		ProfileDays:      180,
		CohortSize:       100,
		CorrelationCap:   50000,
		BundleDiscount:   0.05,
		UpsellCeiling:    1.5,
		UpsellLimit:      10,
		PreferenceLimit:  20,
		CrossSellLimit:   10,
		UpsellMargin:     1.2,
		BundleSize:       3,
	}
}

// Source is the slice of the data provider the analyzer reads.
type Source interface {
	domrepo.CatalogSource
	domrepo.SalesSource
	domrepo.BasketSource
}

type Analyzer struct {
	src      Source
	cfg      Config
	segments map[models.Segment]SegmentRule
	now      func() time.Time
}

func New(src Source, cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.BasketSampleSize <= 0 {
		cfg.BasketSampleSize = def.BasketSampleSize
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = def.WindowDays
	}
	if cfg.PriceWindowDays <= 0 {
		cfg.PriceWindowDays = def.PriceWindowDays
	}
	if cfg.ProfileDays <= 0 {
		cfg.ProfileDays = def.ProfileDays
	}
	if cfg.CohortSize <= 0 {
		cfg.CohortSize = def.CohortSize
	}
	if cfg.CorrelationCap <= 0 {
		cfg.CorrelationCap = def.CorrelationCap
	}
	if cfg.BundleDiscount < 0 || cfg.BundleDiscount >= 1 {
		cfg.BundleDiscount = def.BundleDiscount
	}
	if cfg.UpsellCeiling <= 1 {
		cfg.UpsellCeiling = def.UpsellCeiling
	}
	if cfg.UpsellLimit <= 0 {
		cfg.UpsellLimit = def.UpsellLimit
	}
	if cfg.PreferenceLimit <= 0 {
		cfg.PreferenceLimit = def.PreferenceLimit
	}
	if cfg.CrossSellLimit <= 0 {
		cfg.CrossSellLimit = def.CrossSellLimit
	}
	if cfg.UpsellMargin <= 0 {
		cfg.UpsellMargin = def.UpsellMargin
	}
	if cfg.BundleSize < 2 {
		cfg.BundleSize = def.BundleSize
	}

	a := &Analyzer{src: src, cfg: cfg, now: time.Now, segments: map[models.Segment]SegmentRule{}}
	for _, s := range DefaultSegments {
		a.segments[s.Segment] = s
	}
	return a
}

func (a *Analyzer) WithClock(now func() time.Time) *Analyzer {
	a.now = now
	return a
}

// WithSegment adds or replaces a segment predicate.
func (a *Analyzer) WithSegment(rule SegmentRule) *Analyzer {
	a.segments[rule.Segment] = rule
	return a
}

func (a *Analyzer) since(days int) time.Time {
	return util.DaysAgo(a.now(), days)
}

func (a *Analyzer) BasketAssociations(ctx context.Context, daysBack, minItems int) (models.RuleSet, error) {
	if daysBack <= 0 {
		daysBack = a.cfg.WindowDays
	}
	if minItems < 2 {
		minItems = 2
	}

	baskets, err := a.src.Baskets(ctx, a.since(daysBack), minItems, a.cfg.BasketSampleSize)
	if err != nil {
		return models.RuleSet{}, fmt.Errorf("load baskets: %w", err)
	}

	rs := MineRules(baskets, a.cfg.Rules)
	rs.Date = util.Day(a.now())
	rs.DaysBack = daysBack
	return rs, nil
}

// ProductCorrelation ranks the top products by volume and computes their
// co-occurrence rates from one basket fetch.
func (a *Analyzer) ProductCorrelation(ctx context.Context, limit int) (models.CorrelationMatrix, error) {
	if limit <= 0 {
		limit = 50
	}
	since := a.since(a.cfg.WindowDays)

	top, err := a.src.TopProducts(ctx, since, limit)
	if err != nil {
		return models.CorrelationMatrix{}, fmt.Errorf("top products: %w", err)
	}
	ids := make([]string, len(top))
	for i, p := range top {
		ids[i] = p.ProductID
	}
	if len(ids) == 0 {
		return models.CorrelationMatrix{ProductIDs: []string{}, Values: [][]float64{}}, nil
	}

	baskets, err := a.src.Baskets(ctx, since, 1, a.cfg.CorrelationCap)
	if err != nil {
		return models.CorrelationMatrix{}, fmt.Errorf("load baskets: %w", err)
	}
	return Correlate(ids, baskets), nil
}

// BundleRecommendations groups the anchor with its bundleSize-1 most
// co-purchased partners and prices the bundle at a discount off the summed
// average prices.
func (a *Analyzer) BundleRecommendations(ctx context.Context, productID string, bundleSize int) (models.BundleRecommendation, error) {
	if bundleSize < 2 {
		bundleSize = a.cfg.BundleSize
	}
	rec := models.BundleRecommendation{
		AnchorProductID: productID,
		Date:            util.Day(a.now()),
		MemberIDs:       []string{},
		Members:         []models.BundleMember{},
		Status:          models.StatusInsufficientCorrelations,
	}

	baskets, err := a.src.BasketsContaining(ctx, productID, a.since(a.cfg.WindowDays))
	if err != nil {
		return rec, fmt.Errorf("baskets containing %s: %w", productID, err)
	}
	ranked, counts, anchorBaskets := partners(productID, baskets)
	if anchorBaskets == 0 || len(ranked) < bundleSize-1 {
		return rec, nil
	}

	ids := append([]string{productID}, ranked[:bundleSize-1]...)
	prices, err := a.src.AveragePrices(ctx, ids, a.since(a.cfg.PriceWindowDays))
	if err != nil {
		return rec, fmt.Errorf("average prices: %w", err)
	}

	total, rateSum := 0.0, 0.0
	for i, id := range ids {
		price, ok := prices[id]
		if !ok {
			p, err := a.src.GetProduct(ctx, id)
			if err != nil {
				return rec, fmt.Errorf("product %s: %w", id, err)
			}
			price = p.Price
		}
		m := models.BundleMember{ProductID: id, AvgUnitPrice: util.RoundCents(price), CoPurchaseRate: 1}
		if i > 0 {
			m.CoPurchaseRate = round3(float64(counts[id]) / float64(anchorBaskets))
			rateSum += m.CoPurchaseRate
		}
		total += price
		rec.Members = append(rec.Members, m)
	}

	rec.MemberIDs = ids
	rec.TotalPrice = util.RoundCents(total)
	rec.AverageUnitPrice = util.RoundCents(total / float64(len(ids)))
	rec.CoPurchaseRate = round3(rateSum / float64(len(ids)-1))
	rec.SuggestedBundlePrice = util.RoundCents(total * (1 - a.cfg.BundleDiscount))
	rec.Savings = util.RoundCents(rec.TotalPrice - rec.SuggestedBundlePrice)
	rec.Status = models.StatusOK
	return rec, nil
}

// CrossSellOpportunities ranks what the product's recent buyers also bought.
func (a *Analyzer) CrossSellOpportunities(ctx context.Context, productID string, limit int) ([]models.CrossSellItem, error) {
	if limit <= 0 {
		limit = a.cfg.CrossSellLimit
	}
	since := a.since(a.cfg.WindowDays)

	history, err := a.src.SalesHistory(ctx, productID, since)
	if err != nil {
		return nil, fmt.Errorf("sales history %s: %w", productID, err)
	}
	cohort := make([]string, 0, a.cfg.CohortSize)
	seen := make(map[string]struct{})
	for _, s := range history {
		if s.CustomerID == "" {
			continue
		}
		if _, ok := seen[s.CustomerID]; ok {
			continue
		}
		seen[s.CustomerID] = struct{}{}
		cohort = append(cohort, s.CustomerID)
		if len(cohort) == a.cfg.CohortSize {
			break
		}
	}
	if len(cohort) == 0 {
		return []models.CrossSellItem{}, nil
	}

	sales, err := a.src.CustomerSales(ctx, cohort, since)
	if err != nil {
		return nil, fmt.Errorf("cohort sales: %w", err)
	}

	type agg struct {
		purchases int
		customers map[string]struct{}
	}
	byProduct := make(map[string]*agg)
	for _, s := range sales {
		if s.ProductID == productID {
			continue
		}
		g, ok := byProduct[s.ProductID]
		if !ok {
			g = &agg{customers: map[string]struct{}{}}
			byProduct[s.ProductID] = g
		}
		g.purchases++
		g.customers[s.CustomerID] = struct{}{}
	}

	names, err := a.productNames(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.CrossSellItem, 0, len(byProduct))
	for id, g := range byProduct {
		out = append(out, models.CrossSellItem{
			ProductID:     id,
			ProductName:   names[id],
			Customers:     len(g.customers),
			PurchaseCount: g.purchases,
			CohortShare:   round3(float64(len(g.customers)) / float64(len(cohort))),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PurchaseCount != out[j].PurchaseCount {
			return out[i].PurchaseCount > out[j].PurchaseCount
		}
		return out[i].ProductID < out[j].ProductID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpsellOpportunities lists active products of the same category priced in
// [price*margin, price*margin*ceiling], cheapest first.
func (a *Analyzer) UpsellOpportunities(ctx context.Context, productID string, margin float64) ([]models.UpsellItem, error) {
	if margin <= 0 {
		margin = a.cfg.UpsellMargin
	}
	current, err := a.src.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", productID, err)
	}
	if current.Price <= 0 {
		return []models.UpsellItem{}, nil
	}

	peers, err := a.src.ProductsByCategory(ctx, current.Category)
	if err != nil {
		return nil, fmt.Errorf("category %q: %w", current.Category, err)
	}

	lo := current.Price * margin
	hi := lo * a.cfg.UpsellCeiling
	var candidates []models.Product
	for _, p := range peers {
		if p.ID == productID || !p.Active || p.Price < lo || p.Price > hi {
			continue
		}
		candidates = append(candidates, p)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Price != candidates[j].Price {
			return candidates[i].Price < candidates[j].Price
		}
		return candidates[i].ID < candidates[j].ID
	})
	if len(candidates) > a.cfg.UpsellLimit {
		candidates = candidates[:a.cfg.UpsellLimit]
	}
	if len(candidates) == 0 {
		return []models.UpsellItem{}, nil
	}

	ids := make([]string, len(candidates))
	for i, p := range candidates {
		ids[i] = p.ID
	}
	volumes, err := a.src.ProductVolumes(ctx, ids, a.since(a.cfg.WindowDays))
	if err != nil {
		return nil, fmt.Errorf("product volumes: %w", err)
	}

	out := make([]models.UpsellItem, 0, len(candidates))
	for _, p := range candidates {
		out = append(out, models.UpsellItem{
			ProductID:     p.ID,
			ProductName:   p.Name,
			Price:         p.Price,
			PriceIncrease: util.RoundCents(p.Price - current.Price),
			IncreasePct:   util.Round(util.PercentChange(current.Price, p.Price), 1),
			UnitsSold90d:  volumes[p.ID].Units,
		})
	}
	return out, nil
}

// SegmentAffinity evaluates the segment predicate over customer profiles
// built from one sales fetch and ranks the members' product preferences.
func (a *Analyzer) SegmentAffinity(ctx context.Context, segment models.Segment) (models.SegmentAffinity, error) {
	rule, ok := a.segments[segment]
	if !ok {
		return models.SegmentAffinity{}, fmt.Errorf("unknown segment %q", segment)
	}

	now := a.now()
	sales, err := a.src.SalesSince(ctx, a.since(a.cfg.ProfileDays), 0)
	if err != nil {
		return models.SegmentAffinity{}, fmt.Errorf("sales since: %w", err)
	}

	members := make(map[string]struct{})
	for id, p := range BuildProfiles(sales, now) {
		if rule.Match(*p, now) {
			members[id] = struct{}{}
		}
	}

	res := models.SegmentAffinity{
		Segment:     segment,
		Customers:   len(members),
		Preferences: []models.ProductPreference{},
		Status:      models.StatusInsufficientData,
	}
	if len(members) == 0 {
		return res, nil
	}
	res.Preferences = rankPreferences(sales, members, a.cfg.PreferenceLimit)
	res.Status = models.StatusOK
	return res, nil
}

// Segments lists the registered segment names in a stable order.
func (a *Analyzer) Segments() []models.Segment {
	out := make([]models.Segment, 0, len(a.segments))
	for s := range a.segments {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ProductAffinityReport runs bundle, cross-sell and upsell concurrently.
// A failing part is reported in Errors.
func (a *Analyzer) ProductAffinityReport(ctx context.Context, productID string) (models.ProductAffinityReport, error) {
	res := models.ProductAffinityReport{
		ProductID: productID,
		CrossSell: []models.CrossSellItem{},
		Upsell:    []models.UpsellItem{},
		Errors:    map[string]string{},
	}

	type item struct {
		name string
		val  interface{}
		err  error
	}
	ch := make(chan item, 3)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := a.BundleRecommendations(ctx, productID, a.cfg.BundleSize)
		ch <- item{"bundle", v, err}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := a.CrossSellOpportunities(ctx, productID, a.cfg.CrossSellLimit)
		ch <- item{"cross_sell", v, err}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := a.UpsellOpportunities(ctx, productID, a.cfg.UpsellMargin)
		ch <- item{"upsell", v, err}
	}()

	go func() { wg.Wait(); close(ch) }()

	for it := range ch {
		if it.err != nil {
			res.Errors[it.name] = it.err.Error()
			continue
		}
		switch it.name {
		case "bundle":
			res.Bundle = it.val.(models.BundleRecommendation)
		case "cross_sell":
			res.CrossSell = it.val.([]models.CrossSellItem)
		case "upsell":
			res.Upsell = it.val.([]models.UpsellItem)
		}
	}

	if len(res.Errors) == 0 {
		res.Errors = nil
	}
	return res, nil
}

func (a *Analyzer) productNames(ctx context.Context) (map[string]string, error) {
	products, err := a.src.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	out := make(map[string]string, len(products))
	for _, p := range products {
		out[p.ID] = p.Name
	}
	return out, nil
}

func round2(v float64) float64 { return util.Round(v, 2) }

func round3(v float64) float64 { return util.Round(v, 3) }
