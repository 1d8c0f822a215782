package affinity

import (
	"sort"

	"PriceIntel/internal/domain/models"
)

// RuleConfig holds the mining thresholds.
type RuleConfig struct {
	MinSupport      float64
	MinConfidence   float64
	MinLift         float64
	MinTransactions int
	MaxRules        int
}

type pair struct{ a, b string }

func newPair(x, y string) pair {
	if x > y {
		x, y = y, x
	}
	return pair{x, y}
}

// distinct drops duplicate and empty ids, keeping first-seen order.
func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// countItems tallies single-item and pairwise occurrences in one pass.
func countItems(baskets []models.Basket) (map[string]int, map[pair]int) {
	singles := make(map[string]int)
	pairs := make(map[pair]int)
	for _, b := range baskets {
		ids := distinct(b.ProductIDs)
		for i, x := range ids {
			singles[x]++
			for _, y := range ids[i+1:] {
				pairs[newPair(x, y)]++
			}
		}
	}
	return singles, pairs
}

// MineRules derives pairwise association rules in both directions. Larger
// itemsets are not mined.
func MineRules(baskets []models.Basket, cfg RuleConfig) models.RuleSet {
	rs := models.RuleSet{
		Transactions: len(baskets),
		Rules:        []models.AssociationRule{},
		Status:       models.StatusInsufficientData,
	}
	if len(baskets) == 0 || len(baskets) < cfg.MinTransactions {
		return rs
	}

	singles, pairs := countItems(baskets)
	total := float64(len(baskets))
	rs.PairsObserved = len(pairs)

	rule := func(from, to string, c int) models.AssociationRule {
		conf := float64(c) / float64(singles[from])
		base := float64(singles[to]) / total
		lift := 0.0
		if base > 0 {
			lift = conf / base
		}
		return models.AssociationRule{
			AntecedentID: from,
			ConsequentID: to,
			Support:      float64(c) / total,
			Confidence:   conf,
			Lift:         lift,
			Count:        c,
		}
	}

	for p, c := range pairs {
		for _, r := range []models.AssociationRule{rule(p.a, p.b, c), rule(p.b, p.a, c)} {
			if r.Support < cfg.MinSupport || r.Confidence < cfg.MinConfidence || r.Lift < cfg.MinLift {
				rs.RulesFiltered++
				continue
			}
			rs.Rules = append(rs.Rules, r)
		}
	}

	sort.Slice(rs.Rules, func(i, j int) bool {
		a, b := rs.Rules[i], rs.Rules[j]
		if a.Lift != b.Lift {
			return a.Lift > b.Lift
		}
		if a.Support != b.Support {
			return a.Support > b.Support
		}
		if a.AntecedentID != b.AntecedentID {
			return a.AntecedentID < b.AntecedentID
		}
		return a.ConsequentID < b.ConsequentID
	})
	if cfg.MaxRules > 0 && len(rs.Rules) > cfg.MaxRules {
		rs.Rules = rs.Rules[:cfg.MaxRules]
	}
	rs.Status = models.StatusOK
	return rs
}

// Correlate builds the co-occurrence rate matrix for ids from a single set of
// baskets: Values[i][j] = baskets with both / baskets with ids[i].
func Correlate(ids []string, baskets []models.Basket) models.CorrelationMatrix {
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	n := len(ids)
	counts := make([][]int, n)
	for i := range counts {
		counts[i] = make([]int, n)
	}
	for _, b := range baskets {
		var present []int
		for _, id := range distinct(b.ProductIDs) {
			if i, ok := index[id]; ok {
				present = append(present, i)
			}
		}
		for _, i := range present {
			for _, j := range present {
				counts[i][j]++
			}
		}
	}

	values := make([][]float64, n)
	for i := range values {
		values[i] = make([]float64, n)
		for j := range values[i] {
			switch {
			case i == j:
				values[i][j] = 1
			case counts[i][i] > 0:
				values[i][j] = round3(float64(counts[i][j]) / float64(counts[i][i]))
			}
		}
	}
	return models.CorrelationMatrix{ProductIDs: append([]string(nil), ids...), Values: values}
}

// partners ranks products co-purchased with anchor by basket count.
func partners(anchor string, baskets []models.Basket) (ranked []string, counts map[string]int, anchorBaskets int) {
	counts = make(map[string]int)
	for _, b := range baskets {
		ids := distinct(b.ProductIDs)
		has := false
		for _, id := range ids {
			if id == anchor {
				has = true
				break
			}
		}
		if !has {
			continue
		}
		anchorBaskets++
		for _, id := range ids {
			if id != anchor {
				counts[id]++
			}
		}
	}

	ranked = make([]string, 0, len(counts))
	for id := range counts {
		ranked = append(ranked, id)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if counts[ranked[i]] != counts[ranked[j]] {
			return counts[ranked[i]] > counts[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	return ranked, counts, anchorBaskets
}
