package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"PriceIntel/internal/domain/models"
	domrepo "PriceIntel/internal/domain/repository"
	"PriceIntel/internal/services/affinity"
	"PriceIntel/internal/services/forecasting"
	"PriceIntel/internal/services/statistics"
	"PriceIntel/pkg/util"
)

var calcDate = time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return calcDate.Add(6 * time.Hour) }

// fakeProvider serves a small deterministic catalog. failPrices and
// panicCompetitors inject per-entity faults; the *Err fields fail whole calls.
type fakeProvider struct {
	mu sync.Mutex

	products    []models.Product
	prices      map[string][]models.PriceObservation
	competitors map[string][]models.CompetitorPrice
	sales       []models.SalesRecord
	inventory   []models.InventoryLevel

	failPrices       map[string]bool
	panicCompetitors map[string]bool
	inventoryErr     error
	listErr          error
	pingErr          error
	calls            map[string]int
}

var _ domrepo.DataProvider = (*fakeProvider)(nil)

func newFakeProvider() *fakeProvider {
	f := &fakeProvider{
		products: []models.Product{
			{ID: "p1", Name: "Widget", Category: "tools", Price: 12, Cost: 7, Active: true},
			{ID: "p2", Name: "Gadget", Category: "tools", Price: 20, Cost: 11, Active: true},
			{ID: "p3", Name: "Gizmo", Category: "toys", Price: 9, Cost: 4, Active: true},
			{ID: "p4", Name: "Retired", Category: "toys", Price: 3, Cost: 1, Active: false},
		},
		prices:           map[string][]models.PriceObservation{},
		competitors:      map[string][]models.CompetitorPrice{},
		failPrices:       map[string]bool{},
		panicCompetitors: map[string]bool{},
		calls:            map[string]int{},
	}

	for i := 0; i < 30; i++ {
		ts := calcDate.AddDate(0, 0, i-30).Add(9 * time.Hour)
		f.prices["p1"] = append(f.prices["p1"], models.PriceObservation{ProductID: "p1", Timestamp: ts, Price: 15 - 0.1*float64(i), Source: models.SourceSelf})
		f.prices["p2"] = append(f.prices["p2"], models.PriceObservation{ProductID: "p2", Timestamp: ts, Price: 20, Source: models.SourceSelf})
		f.prices["p3"] = append(f.prices["p3"], models.PriceObservation{ProductID: "p3", Timestamp: ts, Price: 9 + float64(i%2)*0.2, Source: models.SourceSelf})
	}

	yesterday := calcDate.AddDate(0, 0, -1).Add(10 * time.Hour)
	f.competitors["Widget"] = []models.CompetitorPrice{
		{ProductID: "p1", Competitor: "acme", Price: 10, Timestamp: yesterday},
		{ProductID: "p1", Competitor: "globex", Price: 11, Timestamp: yesterday},
	}
	f.competitors["Gadget"] = []models.CompetitorPrice{
		{ProductID: "p2", Competitor: "acme", Price: 21, Timestamp: yesterday},
		{ProductID: "p2", Competitor: "globex", Price: 23, Timestamp: yesterday},
	}

	for i := 0; i < 28; i++ {
		ts := calcDate.AddDate(0, 0, i-28).Add(14 * time.Hour)
		order := fmt.Sprintf("o%d", i)
		cust := fmt.Sprintf("c%d", i%5)
		f.sales = append(f.sales, models.SalesRecord{ProductID: "p1", OrderID: order, CustomerID: cust, Timestamp: ts, Quantity: 3, UnitPrice: 12})
		f.sales = append(f.sales, models.SalesRecord{ProductID: "p2", OrderID: order, CustomerID: cust, Timestamp: ts, Quantity: 1, UnitPrice: 20})
		if i%3 == 0 {
			f.sales = append(f.sales, models.SalesRecord{ProductID: "p3", OrderID: order, CustomerID: cust, Timestamp: ts, Quantity: 1, UnitPrice: 9})
		}
	}

	f.inventory = []models.InventoryLevel{
		{ProductID: "p1", OnHand: 3, ReorderPoint: 10},
		{ProductID: "p2", OnHand: 0, ReorderPoint: 5},
		{ProductID: "p3", OnHand: 100, ReorderPoint: 10},
	}
	return f
}

func (f *fakeProvider) count(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeProvider) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeProvider) Ping(context.Context) error { return f.pingErr }

func (f *fakeProvider) ListProducts(context.Context) ([]models.Product, error) {
	f.count("list_products")
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.Product(nil), f.products...), nil
}

func (f *fakeProvider) GetProduct(_ context.Context, id string) (models.Product, error) {
	for _, p := range f.products {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Product{}, models.ErrNotFound
}

func (f *fakeProvider) ProductsByCategory(_ context.Context, category string) ([]models.Product, error) {
	var out []models.Product
	for _, p := range f.products {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProvider) InventoryLevels(context.Context) ([]models.InventoryLevel, error) {
	if f.inventoryErr != nil {
		return nil, f.inventoryErr
	}
	return append([]models.InventoryLevel(nil), f.inventory...), nil
}

func (f *fakeProvider) PriceHistory(_ context.Context, id string, since time.Time) ([]models.PriceObservation, error) {
	f.count("price_history")
	if f.failPrices[id] {
		return nil, errors.New("provider timeout")
	}
	var out []models.PriceObservation
	for _, o := range f.prices[id] {
		if !o.Timestamp.Before(since) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeProvider) CompetitorPrices(_ context.Context, name string, since time.Time) ([]models.CompetitorPrice, error) {
	if f.panicCompetitors[name] {
		panic("corrupt competitor row")
	}
	var out []models.CompetitorPrice
	for _, c := range f.competitors[name] {
		if !c.Timestamp.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeProvider) salesWhere(keep func(models.SalesRecord) bool) []models.SalesRecord {
	var out []models.SalesRecord
	for _, s := range f.sales {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeProvider) SalesHistory(_ context.Context, id string, since time.Time) ([]models.SalesRecord, error) {
	return f.salesWhere(func(s models.SalesRecord) bool { return s.ProductID == id && !s.Timestamp.Before(since) }), nil
}

func (f *fakeProvider) SalesSince(_ context.Context, since time.Time, limit int) ([]models.SalesRecord, error) {
	out := f.salesWhere(func(s models.SalesRecord) bool { return !s.Timestamp.Before(since) })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeProvider) CustomerSales(_ context.Context, ids []string, since time.Time) ([]models.SalesRecord, error) {
	set := map[string]bool{}
	for _, id := range ids {
		set[id] = true
	}
	return f.salesWhere(func(s models.SalesRecord) bool { return set[s.CustomerID] && !s.Timestamp.Before(since) }), nil
}

func (f *fakeProvider) volumes(since time.Time) map[string]models.ProductVolume {
	out := map[string]models.ProductVolume{}
	orders := map[string]map[string]bool{}
	for _, s := range f.sales {
		if s.Timestamp.Before(since) {
			continue
		}
		v := out[s.ProductID]
		v.ProductID = s.ProductID
		v.Units += s.Quantity
		v.Revenue += s.Revenue()
		if orders[s.ProductID] == nil {
			orders[s.ProductID] = map[string]bool{}
		}
		orders[s.ProductID][s.OrderID] = true
		v.Orders = len(orders[s.ProductID])
		out[s.ProductID] = v
	}
	return out
}

func (f *fakeProvider) TopProducts(_ context.Context, since time.Time, limit int) ([]models.ProductVolume, error) {
	var out []models.ProductVolume
	for _, v := range f.volumes(since) {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Units != out[j].Units {
			return out[i].Units > out[j].Units
		}
		return out[i].ProductID < out[j].ProductID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeProvider) ProductVolumes(_ context.Context, ids []string, since time.Time) (map[string]models.ProductVolume, error) {
	all := f.volumes(since)
	out := map[string]models.ProductVolume{}
	for _, id := range ids {
		if v, ok := all[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (f *fakeProvider) AveragePrices(_ context.Context, ids []string, since time.Time) (map[string]float64, error) {
	out := map[string]float64{}
	for _, id := range ids {
		sum, n := 0.0, 0
		for _, s := range f.sales {
			if s.ProductID == id && !s.Timestamp.Before(since) {
				sum += s.UnitPrice
				n++
			}
		}
		if n > 0 {
			out[id] = sum / float64(n)
		}
	}
	return out, nil
}

func (f *fakeProvider) baskets(since time.Time) []models.Basket {
	byOrder := map[string]map[string]bool{}
	var order []string
	for _, s := range f.sales {
		if s.Timestamp.Before(since) {
			continue
		}
		if byOrder[s.OrderID] == nil {
			byOrder[s.OrderID] = map[string]bool{}
			order = append(order, s.OrderID)
		}
		byOrder[s.OrderID][s.ProductID] = true
	}
	out := make([]models.Basket, 0, len(order))
	for _, id := range order {
		b := models.Basket{OrderID: id}
		for p := range byOrder[id] {
			b.ProductIDs = append(b.ProductIDs, p)
		}
		sort.Strings(b.ProductIDs)
		out = append(out, b)
	}
	return out
}

func (f *fakeProvider) Baskets(_ context.Context, since time.Time, minItems, limit int) ([]models.Basket, error) {
	var out []models.Basket
	for _, b := range f.baskets(since) {
		if len(b.ProductIDs) >= minItems {
			out = append(out, b)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeProvider) BasketsContaining(_ context.Context, id string, since time.Time) ([]models.Basket, error) {
	var out []models.Basket
	for _, b := range f.baskets(since) {
		for _, p := range b.ProductIDs {
			if p == id {
				out = append(out, b)
				break
			}
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.PipelineEvent
}

func (r *recordingPublisher) PublishEvent(_ context.Context, ev models.PipelineEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) Count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recordingPublisher) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type stubLocker struct {
	held     bool
	token    string
	err      error
	unlocked int
	// lostAfter makes Refresh report the lock lost once it was renewed that many times.
	lostAfter int
	refreshes int
}

func (s *stubLocker) TryLock(_ context.Context, _ string, token string, _ time.Duration) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if s.held {
		return false, nil
	}
	s.held, s.token = true, token
	return true, nil
}

func (s *stubLocker) Refresh(_ context.Context, _ string, token string, _ time.Duration) (bool, error) {
	if s.lostAfter > 0 && s.refreshes >= s.lostAfter {
		return false, nil
	}
	s.refreshes++
	return s.held && s.token == token, nil
}

func (s *stubLocker) Unlock(_ context.Context, _ string, token string) error {
	if s.token == token {
		s.held = false
	}
	s.unlocked++
	return nil
}

type stubQueue struct {
	msgType string
	payload interface{}
}

func (q *stubQueue) Enqueue(_ context.Context, msgType string, payload interface{}) (string, error) {
	q.msgType = msgType
	q.payload = payload
	return "job-1", nil
}

type countingMetrics struct {
	mu    sync.Mutex
	runs  []string
	tasks map[string]int
}

func (c *countingMetrics) RecordRun(status string, _ time.Duration, _ time.Time) {
	c.mu.Lock()
	c.runs = append(c.runs, status)
	c.mu.Unlock()
}

func (c *countingMetrics) RecordTask(task string, _, failed, _ int, _ time.Duration) {
	c.mu.Lock()
	if c.tasks == nil {
		c.tasks = map[string]int{}
	}
	c.tasks[task] += failed
	c.mu.Unlock()
}

// newTestDeps wires the real analytic components over the fake provider.
func newTestDeps(p *fakeProvider, store domrepo.ArtifactStore) OrchestratorDeps {
	analyzer := statistics.New(statistics.DefaultConfig())
	return OrchestratorDeps{
		Provider:   p,
		Store:      store,
		Analyzer:   analyzer,
		Forecaster: forecasting.New(p, analyzer, forecasting.DefaultConfig()).WithClock(fixedClock),
		Affinity:   affinity.New(p, affinity.DefaultConfig()).WithClock(fixedClock),
		Clock:      fixedClock,
	}
}

func testPipelineConfig() PipelineConfig {
	cfg := DefaultPipelineConfig()
	cfg.Workers = 4
	cfg.EntityTimeout = 2 * time.Second
	return cfg
}

func day(offset int) time.Time { return util.DaysAgo(calcDate, -offset) }
