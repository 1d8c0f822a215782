package export

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"PriceIntel/internal/domain/models"
	"PriceIntel/pkg/util"
)

// Sheet names in workbook order.
const (
	SheetSummary         = "Summary"
	SheetPrices          = "Prices"
	SheetDemand          = "Demand"
	SheetCompetitive     = "Competitive"
	SheetAlerts          = "Alerts"
	SheetRecommendations = "Recommendations"
	SheetErrors          = "Errors"
)

const timeLayout = "2006-01-02 15:04"

type sheet struct {
	name   string
	header []interface{}
	rows   [][]interface{}
}

// DashboardWorkbook renders a dashboard as an xlsx file. Panels that failed
// are listed on the Errors sheet and their own sheets hold only a header.
func DashboardWorkbook(d models.Dashboard) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	for i, s := range sheets(d) {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.name); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			return nil, err
		}
		if err := writeSheet(f, s, bold); err != nil {
			return nil, fmt.Errorf("sheet %s: %w", s.name, err)
		}
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, s sheet, style int) error {
	if err := f.SetSheetRow(s.name, "A1", &s.header); err != nil {
		return err
	}
	if err := f.SetRowStyle(s.name, 1, 1, style); err != nil {
		return err
	}
	for i, row := range s.rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(s.name, cell, &row); err != nil {
			return err
		}
	}
	last, err := excelize.ColumnNumberToName(len(s.header))
	if err != nil {
		return err
	}
	return f.SetColWidth(s.name, "A", last, 18)
}

func sheets(d models.Dashboard) []sheet {
	return []sheet{
		summarySheet(d),
		pricesSheet(d.Price),
		demandSheet(d.Demand),
		competitiveSheet(d.Competitive),
		alertsSheet(d.Alerts),
		recommendationsSheet(d.Recommendations),
		errorsSheet(d.Errors),
	}
}

func summarySheet(d models.Dashboard) sheet {
	s := sheet{name: SheetSummary, header: []interface{}{"Metric", "Value"}}
	s.rows = append(s.rows, []interface{}{"Generated at", d.GeneratedAt.Format(timeLayout)})
	k := d.KPI
	if k == nil {
		return s
	}
	accuracy := interface{}("n/a")
	if k.ForecastAccuracyPct != nil {
		accuracy = *k.ForecastAccuracyPct
	}
	s.rows = append(s.rows,
		[]interface{}{"Revenue (30d)", k.Revenue30d},
		[]interface{}{"Transactions (30d)", k.Transactions30d},
		[]interface{}{"Average transaction", k.AvgTransaction},
		[]interface{}{"Products with price changes", k.ProductsWithChanges},
		[]interface{}{"Average price change %", k.AvgPriceChange},
		[]interface{}{"Anomalies (7d)", k.Anomalies7d},
		[]interface{}{"Forecast accuracy %", accuracy},
		[]interface{}{"Last run", k.LastRunStatus},
	)
	return s
}

func pricesSheet(p *models.PriceIntelPanel) sheet {
	s := sheet{name: SheetPrices, header: []interface{}{"Product ID", "Product", "Price", "Min", "Max", "Avg", "Trend", "Volatility (CV)", "Anomalies (7d)", "Confidence"}}
	if p == nil {
		return s
	}
	for _, it := range p.Data {
		s.rows = append(s.rows, []interface{}{
			it.ProductID, it.ProductName, it.CurrentPrice, it.Min, it.Max, it.Avg,
			string(it.Trend.Direction), util.Round(it.Volatility.CoefficientOfVariation, 4), it.Anomalies7d, it.ConfidenceScore,
		})
	}
	return s
}

func demandSheet(p *models.DemandPanel) sheet {
	s := sheet{name: SheetDemand, header: []interface{}{"Product ID", "Product", "Units (7d)", "Units (30d)", "Units (90d)", "Orders (30d)", "Avg daily units"}}
	if p == nil {
		return s
	}
	for _, it := range p.Data {
		v := it.Velocity
		s.rows = append(s.rows, []interface{}{it.ProductID, it.ProductName, v.Units7d, v.Units30d, v.Units90d, v.Orders30d, v.AvgDailyUnits})
	}
	return s
}

func competitiveSheet(p *models.CompetitivePanel) sheet {
	s := sheet{name: SheetCompetitive, header: []interface{}{"Product ID", "Product", "Our price", "Competitors", "Min", "Avg", "Max", "Percentile", "Strategy"}}
	if p == nil {
		return s
	}
	for _, c := range p.Data {
		s.rows = append(s.rows, []interface{}{c.ProductID, c.ProductName, c.OurPrice, c.CompetitorCount, c.MinPrice, c.AvgPrice, c.MaxPrice, c.Percentile, c.StrategyLabel})
	}
	return s
}

func alertsSheet(p *models.AlertsPanel) sheet {
	s := sheet{name: SheetAlerts, header: []interface{}{"Time", "Severity", "Type", "Product ID", "Message", "Suggested action"}}
	if p == nil {
		return s
	}
	for _, a := range p.Alerts {
		s.rows = append(s.rows, []interface{}{a.Timestamp.Format(timeLayout), a.Severity, a.Type, a.ProductID, a.Message, a.SuggestedAction})
	}
	return s
}

func recommendationsSheet(p *models.RecommendationsPanel) sheet {
	s := sheet{name: SheetRecommendations, header: []interface{}{"Kind", "Product ID", "Detail", "Current", "Recommended", "Change %", "Expires"}}
	if p == nil {
		return s
	}
	for _, r := range p.Prices {
		s.rows = append(s.rows, []interface{}{"price", r.ProductID, r.Type, r.CurrentPrice, r.RecommendedPrice, r.ChangePct, util.FormatDay(r.ExpiresAt)})
	}
	for _, b := range p.Bundles {
		s.rows = append(s.rows, []interface{}{"bundle", b.AnchorProductID, strings.Join(b.MemberIDs, ", "), b.TotalPrice, b.SuggestedBundlePrice, "", ""})
	}
	return s
}

func errorsSheet(errs map[string]string) sheet {
	s := sheet{name: SheetErrors, header: []interface{}{"Panel", "Error"}}
	for _, name := range sortedKeys(errs) {
		s.rows = append(s.rows, []interface{}{name, errs[name]})
	}
	return s
}

// ReadSheet returns every row of one sheet, for tests and tooling.
func ReadSheet(b []byte, name string) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.GetRows(name)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
