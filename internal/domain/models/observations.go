package models

import "time"

// SourceSelf marks our own price in a PriceObservation.
const SourceSelf = "self"

// PriceObservation is one ingested price point. Source is SourceSelf or a competitor name.
type PriceObservation struct {
	ProductID    string    `json:"product_id"`
	Timestamp    time.Time `json:"timestamp"`
	Price        float64   `json:"price"`
	Source       string    `json:"source"`
	IsAnomaly    bool      `json:"is_anomaly"`
	AnomalyScore float64   `json:"anomaly_score"`
}

type SalesRecord struct {
	ProductID  string    `json:"product_id"`
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	Timestamp  time.Time `json:"timestamp"`
	Quantity   int       `json:"quantity"`
	UnitPrice  float64   `json:"unit_price"`
}

func (s SalesRecord) Revenue() float64 { return float64(s.Quantity) * s.UnitPrice }

type CompetitorPrice struct {
	ProductID  string    `json:"product_id"`
	Competitor string    `json:"competitor"`
	Price      float64   `json:"price"`
	Timestamp  time.Time `json:"timestamp"`
}

type Product struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Price    float64 `json:"price"`
	Cost     float64 `json:"cost"`
	Active   bool    `json:"active"`
}

// ProductVolume is a sales aggregate used to rank products.
type ProductVolume struct {
	ProductID string  `json:"product_id"`
	Units     int     `json:"units"`
	Orders    int     `json:"orders"`
	Revenue   float64 `json:"revenue"`
}

type InventoryLevel struct {
	ProductID    string    `json:"product_id"`
	OnHand       int       `json:"on_hand"`
	ReorderPoint int       `json:"reorder_point"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Basket is the set of distinct products of one order.
type Basket struct {
	OrderID    string   `json:"order_id"`
	ProductIDs []string `json:"product_ids"`
}
