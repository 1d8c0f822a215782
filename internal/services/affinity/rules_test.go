package affinity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceIntel/internal/domain/models"
)

func basketsOf(n int, ids ...string) []models.Basket {
	out := make([]models.Basket, n)
	for i := range out {
		out[i] = models.Basket{ProductIDs: append([]string(nil), ids...)}
	}
	return out
}

// 100 transactions: A in 40, B in 30, both in 20.
func scenarioBaskets() []models.Basket {
	var b []models.Basket
	b = append(b, basketsOf(20, "A", "B")...)
	b = append(b, basketsOf(20, "A")...)
	b = append(b, basketsOf(10, "B")...)
	b = append(b, basketsOf(50, "C")...)
	return b
}

func TestMineRulesScenario(t *testing.T) {
	rs := MineRules(scenarioBaskets(), DefaultConfig().Rules)

	require.Equal(t, models.StatusOK, rs.Status)
	assert.Equal(t, 100, rs.Transactions)
	assert.Equal(t, 1, rs.PairsObserved)
	require.Len(t, rs.Rules, 2)

	byDir := map[string]models.AssociationRule{}
	for _, r := range rs.Rules {
		byDir[r.AntecedentID+">"+r.ConsequentID] = r
	}
	ab, ba := byDir["A>B"], byDir["B>A"]

	assert.InDelta(t, 0.20, ab.Support, 1e-9)
	assert.InDelta(t, 0.20, ba.Support, 1e-9)
	assert.InDelta(t, 0.50, ab.Confidence, 1e-9)
	assert.InDelta(t, 0.667, ba.Confidence, 1e-3)
	assert.InDelta(t, 1.667, ab.Lift, 1e-3)
	assert.Equal(t, 20, ab.Count)
}

func TestMineRulesThresholds(t *testing.T) {
	cfg := DefaultConfig().Rules
	cfg.MinLift = 2

	rs := MineRules(scenarioBaskets(), cfg)
	assert.Equal(t, models.StatusOK, rs.Status)
	assert.Empty(t, rs.Rules)
	assert.Equal(t, 2, rs.RulesFiltered)
}

func TestMineRulesTooFewTransactions(t *testing.T) {
	rs := MineRules(basketsOf(50, "A", "B"), DefaultConfig().Rules)
	assert.Equal(t, models.StatusInsufficientData, rs.Status)
	assert.Empty(t, rs.Rules)

	empty := MineRules(nil, RuleConfig{})
	assert.Equal(t, models.StatusInsufficientData, empty.Status)
}

func TestMineRulesSortedByLift(t *testing.T) {
	var b []models.Basket
	b = append(b, basketsOf(30, "A", "B")...)
	b = append(b, basketsOf(10, "A")...)
	b = append(b, basketsOf(10, "C", "D")...)
	b = append(b, basketsOf(50, "E")...)

	rs := MineRules(b, DefaultConfig().Rules)
	require.NotEmpty(t, rs.Rules)
	for i := 1; i < len(rs.Rules); i++ {
		assert.GreaterOrEqual(t, rs.Rules[i-1].Lift, rs.Rules[i].Lift)
	}
	// C and D only ever appear together: lift 100/10
	assert.InDelta(t, 10, rs.Rules[0].Lift, 1e-9)
}

func TestMineRulesIgnoresDuplicateItems(t *testing.T) {
	b := scenarioBaskets()
	b[0].ProductIDs = []string{"A", "B", "A", "B"}

	rs := MineRules(b, DefaultConfig().Rules)
	require.Len(t, rs.Rules, 2)
	assert.Equal(t, 20, rs.Rules[0].Count)
}

func TestCorrelate(t *testing.T) {
	baskets := []models.Basket{
		{ProductIDs: []string{"A", "B"}},
		{ProductIDs: []string{"A", "A"}},
		{ProductIDs: []string{"A", "B", "C"}},
		{ProductIDs: []string{"B", "Z"}},
	}

	m := Correlate([]string{"A", "B", "C"}, baskets)
	require.Len(t, m.Values, 3)

	for i := range m.ProductIDs {
		assert.Equal(t, 1.0, m.Values[i][i])
	}
	ab, _ := m.Get("A", "B")
	assert.InDelta(t, 0.667, ab, 1e-9)
	ac, _ := m.Get("A", "C")
	assert.InDelta(t, 0.333, ac, 1e-9)
	ca, _ := m.Get("C", "A")
	assert.InDelta(t, 1.0, ca, 1e-9)

	_, ok := m.Get("A", "Z")
	assert.False(t, ok)
}
