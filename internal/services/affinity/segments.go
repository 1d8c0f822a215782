package affinity

import (
	"sort"
	"time"

	"PriceIntel/internal/domain/models"
)

// CustomerProfile summarizes one customer's purchases inside the profile window.
type CustomerProfile struct {
	CustomerID   string
	FirstSeen    time.Time
	LastSeen     time.Time
	Purchases90d int
	Revenue90d   float64
}

// SegmentRule is a named membership predicate evaluated against a profile.
type SegmentRule struct {
	Segment     models.Segment
	Description string
	Match       func(p CustomerProfile, now time.Time) bool
}

// DefaultSegments is the segment table. Adding a segment is a new entry here.
var DefaultSegments = []SegmentRule{
	{
		Segment:     models.SegmentHighValue,
		Description: "spent at least 500 in the last 90 days",
		Match: func(p CustomerProfile, _ time.Time) bool {
			return p.Revenue90d >= 500
		},
	},
	{
		Segment:     models.SegmentFrequentBuyer,
		Description: "ten or more purchases in the last 90 days",
		Match: func(p CustomerProfile, _ time.Time) bool {
			return p.Purchases90d >= 10
		},
	},
	{
		Segment:     models.SegmentNewCustomer,
		Description: "first purchase within the last 30 days",
		Match: func(p CustomerProfile, now time.Time) bool {
			return !p.FirstSeen.Before(now.AddDate(0, 0, -30))
		},
	},
	{
		Segment:     models.SegmentAtRisk,
		Description: "bought 90 to 180 days ago and not since",
		Match: func(p CustomerProfile, now time.Time) bool {
			return p.LastSeen.Before(now.AddDate(0, 0, -90))
		},
	},
}

// BuildProfiles folds sales into per-customer profiles. Records without a
// customer are ignored.
func BuildProfiles(sales []models.SalesRecord, now time.Time) map[string]*CustomerProfile {
	recent := now.AddDate(0, 0, -90)
	out := make(map[string]*CustomerProfile)
	for _, s := range sales {
		if s.CustomerID == "" {
			continue
		}
		p, ok := out[s.CustomerID]
		if !ok {
			p = &CustomerProfile{CustomerID: s.CustomerID, FirstSeen: s.Timestamp, LastSeen: s.Timestamp}
			out[s.CustomerID] = p
		}
		if s.Timestamp.Before(p.FirstSeen) {
			p.FirstSeen = s.Timestamp
		}
		if s.Timestamp.After(p.LastSeen) {
			p.LastSeen = s.Timestamp
		}
		if !s.Timestamp.Before(recent) {
			p.Purchases90d++
			p.Revenue90d += s.Revenue()
		}
	}
	return out
}

// rankPreferences aggregates purchases of the given customers by product.
func rankPreferences(sales []models.SalesRecord, members map[string]struct{}, limit int) []models.ProductPreference {
	byProduct := make(map[string]*models.ProductPreference)
	for _, s := range sales {
		if _, ok := members[s.CustomerID]; !ok {
			continue
		}
		p, ok := byProduct[s.ProductID]
		if !ok {
			p = &models.ProductPreference{ProductID: s.ProductID}
			byProduct[s.ProductID] = p
		}
		p.PurchaseCount++
		p.Units += s.Quantity
		p.Revenue += s.Revenue()
	}

	out := make([]models.ProductPreference, 0, len(byProduct))
	for _, p := range byProduct {
		p.Revenue = round2(p.Revenue)
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PurchaseCount != out[j].PurchaseCount {
			return out[i].PurchaseCount > out[j].PurchaseCount
		}
		if out[i].Revenue != out[j].Revenue {
			return out[i].Revenue > out[j].Revenue
		}
		return out[i].ProductID < out[j].ProductID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
