package models

// CorrelationMatrix is row-major: Values[i][j] = orders with both i and j / orders with i.
type CorrelationMatrix struct {
	ProductIDs []string    `json:"product_ids"`
	Values     [][]float64 `json:"values"`
}

func (m CorrelationMatrix) Get(a, b string) (float64, bool) {
	ia, ib := -1, -1
	for i, id := range m.ProductIDs {
		if id == a {
			ia = i
		}
		if id == b {
			ib = i
		}
	}
	if ia < 0 || ib < 0 {
		return 0, false
	}
	return m.Values[ia][ib], true
}

type CrossSellItem struct {
	ProductID     string  `json:"product_id"`
	ProductName   string  `json:"product_name"`
	Customers     int     `json:"customers"`
	PurchaseCount int     `json:"purchase_count"`
	CohortShare   float64 `json:"cohort_share"`
}

type UpsellItem struct {
	ProductID     string  `json:"product_id"`
	ProductName   string  `json:"product_name"`
	Price         float64 `json:"price"`
	PriceIncrease float64 `json:"price_increase"`
	IncreasePct   float64 `json:"increase_pct"`
	UnitsSold90d  int     `json:"units_sold_90d"`
}

type Segment string

const (
	SegmentHighValue     Segment = "high_value"
	SegmentFrequentBuyer Segment = "frequent_buyer"
	SegmentNewCustomer   Segment = "new_customer"
	SegmentAtRisk        Segment = "at_risk"
)

type ProductPreference struct {
	ProductID     string  `json:"product_id"`
	PurchaseCount int     `json:"purchase_count"`
	Units         int     `json:"units"`
	Revenue       float64 `json:"revenue"`
}

type SegmentAffinity struct {
	Segment     Segment             `json:"segment"`
	Customers   int                 `json:"customers"`
	Preferences []ProductPreference `json:"preferences"`
	Status      string              `json:"status"`
}

type ProductAffinityReport struct {
	ProductID string               `json:"product_id"`
	Bundle    BundleRecommendation `json:"bundle"`
	CrossSell []CrossSellItem      `json:"cross_sell"`
	Upsell    []UpsellItem         `json:"upsell"`
	Errors    map[string]string    `json:"errors,omitempty"`
}
