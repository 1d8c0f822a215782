package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"PriceIntel/internal/domain/models"
)

func TestDashboardWorkbook(t *testing.T) {
	acc := 93.5
	d := models.Dashboard{
		GeneratedAt: time.Date(2026, 3, 20, 6, 0, 0, 0, time.UTC),
		KPI:         &models.KPISummary{Revenue30d: 1658, Transactions30d: 28, ForecastAccuracyPct: &acc, LastRunStatus: models.RunSuccess},
		Alerts: &models.AlertsPanel{Alerts: []models.Alert{
			{ID: "a1", Severity: models.SeverityCritical, Type: models.AlertLowStock, ProductID: "p2", Message: "out of stock"},
		}},
		Recommendations: &models.RecommendationsPanel{
			Prices:  []models.PriceRecommendation{{ProductID: "p1", Type: "undercut", CurrentPrice: 12, RecommendedPrice: 10.29}},
			Bundles: []models.BundleRecommendation{{AnchorProductID: "p1", MemberIDs: []string{"p1", "p2"}}},
		},
		Errors: map[string]string{
			models.PanelDemand:   "velocity: timeout",
			models.PanelAffinity: "rule set: timeout",
		},
	}

	b, err := DashboardWorkbook(d)
	require.NoError(t, err)
	require.NotEmpty(t, b)

	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{SheetSummary, SheetPrices, SheetDemand, SheetCompetitive, SheetAlerts, SheetRecommendations, SheetErrors}, f.GetSheetList())

	summary, err := ReadSheet(b, SheetSummary)
	require.NoError(t, err)
	assert.Equal(t, []string{"Metric", "Value"}, summary[0])
	assert.Equal(t, []string{"Revenue (30d)", "1658"}, summary[2])
	assert.Equal(t, "93.5", summary[8][1])

	demand, err := ReadSheet(b, SheetDemand)
	require.NoError(t, err)
	assert.Len(t, demand, 1, "failed panel keeps only its header")

	alerts, err := ReadSheet(b, SheetAlerts)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "critical", alerts[1][1])

	recs, err := ReadSheet(b, SheetRecommendations)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "p1, p2", recs[2][2])

	errs, err := ReadSheet(b, SheetErrors)
	require.NoError(t, err)
	require.Len(t, errs, 3)
	assert.Equal(t, models.PanelAffinity, errs[1][0])
	assert.Equal(t, models.PanelDemand, errs[2][0])
}
