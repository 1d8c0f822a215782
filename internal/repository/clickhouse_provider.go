package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"PriceIntel/internal/domain/models"
	domrepo "PriceIntel/internal/domain/repository"
	pkgch "PriceIntel/pkg/clickhouse"
	applogger "PriceIntel/pkg/logger"
	"PriceIntel/pkg/util"
)

// ClickHouseSchema creates the source tables for local development. In
// production they are owned by the ingestion side.
var ClickHouseSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
        product_id String,
        name       String,
        category   LowCardinality(String),
        price      Float64,
        cost       Float64,
        active     Bool,
        updated_at DateTime DEFAULT now()
    ) ENGINE = ReplacingMergeTree(updated_at) ORDER BY product_id`,
	`CREATE TABLE IF NOT EXISTS price_history (
        product_id    String,
        observed_at   DateTime,
        price         Float64,
        source        LowCardinality(String),
        is_anomaly    Bool DEFAULT false,
        anomaly_score Float64 DEFAULT 0
    ) ENGINE = MergeTree ORDER BY (product_id, observed_at)`,
	`CREATE TABLE IF NOT EXISTS competitor_prices (
        product_id   String,
        product_name String,
        competitor   LowCardinality(String),
        price        Float64,
        observed_at  DateTime
    ) ENGINE = MergeTree ORDER BY (product_name, competitor, observed_at)`,
	`CREATE TABLE IF NOT EXISTS sales (
        order_id    String,
        product_id  String,
        customer_id String,
        sold_at     DateTime,
        quantity    Int32,
        unit_price  Float64
    ) ENGINE = MergeTree ORDER BY (sold_at, order_id)`,
	`CREATE TABLE IF NOT EXISTS inventory (
        product_id    String,
        on_hand       Int32,
        reorder_point Int32,
        updated_at    DateTime
    ) ENGINE = ReplacingMergeTree(updated_at) ORDER BY product_id`,
}

// ClickHouseProvider implements DataProvider over the retail source tables.
type ClickHouseProvider struct {
	db *sql.DB
	l  *applogger.Logger
}

var _ domrepo.DataProvider = (*ClickHouseProvider)(nil)

func NewClickHouseProvider(ch *pkgch.Client, l *applogger.Logger) *ClickHouseProvider {
	if l == nil {
		l = applogger.Nop()
	}
	return &ClickHouseProvider{db: ch.DB(), l: l.With(applogger.String("component", "clickhouse_provider"))}
}

func (s *ClickHouseProvider) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// query runs q and hands every row to scan, logging failures and timing the
// way every read in this provider is logged.
func (s *ClickHouseProvider) query(ctx context.Context, op, q string, scan func(*sql.Rows) error, args ...interface{}) error {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse query error", applogger.String("op", op), applogger.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		if err := scan(rows); err != nil {
			s.l.Error("clickhouse scan error", applogger.String("op", op), applogger.Error(err))
			return fmt.Errorf("%s scan: %w", op, err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		s.l.Error("clickhouse rows error", applogger.String("op", op), applogger.Error(err))
		return fmt.Errorf("%s rows: %w", op, err)
	}
	s.l.Debug("clickhouse query ok",
		applogger.String("op", op),
		applogger.Int("rows", n),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return nil
}

const productColumns = `product_id, name, category, price, cost, active`

func scanProduct(rows *sql.Rows) (models.Product, error) {
	var p models.Product
	err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.Cost, &p.Active)
	return p, err
}

func (s *ClickHouseProvider) ListProducts(ctx context.Context) ([]models.Product, error) {
	q := `SELECT ` + productColumns + ` FROM products FINAL ORDER BY product_id`
	out := make([]models.Product, 0, 256)
	err := s.query(ctx, "list_products", q, func(rows *sql.Rows) error {
		p, err := scanProduct(rows)
		out = append(out, p)
		return err
	})
	return out, err
}

func (s *ClickHouseProvider) GetProduct(ctx context.Context, productID string) (models.Product, error) {
	q := `SELECT ` + productColumns + ` FROM products FINAL WHERE product_id = ? LIMIT 1`
	var (
		p     models.Product
		found bool
	)
	err := s.query(ctx, "get_product", q, func(rows *sql.Rows) error {
		var err error
		p, err = scanProduct(rows)
		found = true
		return err
	}, productID)
	if err != nil {
		return models.Product{}, err
	}
	if !found {
		return models.Product{}, fmt.Errorf("product %s: %w", productID, models.ErrNotFound)
	}
	return p, nil
}

func (s *ClickHouseProvider) ProductsByCategory(ctx context.Context, category string) ([]models.Product, error) {
	q := `SELECT ` + productColumns + ` FROM products FINAL WHERE category = ? ORDER BY price ASC`
	var out []models.Product
	err := s.query(ctx, "products_by_category", q, func(rows *sql.Rows) error {
		p, err := scanProduct(rows)
		out = append(out, p)
		return err
	}, category)
	return out, err
}

func (s *ClickHouseProvider) InventoryLevels(ctx context.Context) ([]models.InventoryLevel, error) {
	const q = `SELECT product_id, on_hand, reorder_point, updated_at FROM inventory FINAL ORDER BY product_id`
	var out []models.InventoryLevel
	err := s.query(ctx, "inventory_levels", q, func(rows *sql.Rows) error {
		var lvl models.InventoryLevel
		err := rows.Scan(&lvl.ProductID, &lvl.OnHand, &lvl.ReorderPoint, &lvl.UpdatedAt)
		out = append(out, lvl)
		return err
	})
	return out, err
}

func (s *ClickHouseProvider) PriceHistory(ctx context.Context, productID string, since time.Time) ([]models.PriceObservation, error) {
	const q = `
        SELECT product_id, observed_at, price, source, is_anomaly, anomaly_score
        FROM price_history
        WHERE product_id = ? AND observed_at >= ?
        ORDER BY observed_at ASC
    `
	out := make([]models.PriceObservation, 0, 128)
	err := s.query(ctx, "price_history", q, func(rows *sql.Rows) error {
		var o models.PriceObservation
		err := rows.Scan(&o.ProductID, &o.Timestamp, &o.Price, &o.Source, &o.IsAnomaly, &o.AnomalyScore)
		out = append(out, o)
		return err
	}, productID, since)
	return out, err
}

func (s *ClickHouseProvider) CompetitorPrices(ctx context.Context, productName string, since time.Time) ([]models.CompetitorPrice, error) {
	const q = `
        SELECT product_id, competitor, price, observed_at
        FROM competitor_prices
        WHERE product_name = ? AND observed_at >= ?
        ORDER BY observed_at ASC
    `
	var out []models.CompetitorPrice
	err := s.query(ctx, "competitor_prices", q, func(rows *sql.Rows) error {
		var c models.CompetitorPrice
		err := rows.Scan(&c.ProductID, &c.Competitor, &c.Price, &c.Timestamp)
		out = append(out, c)
		return err
	}, productName, since)
	return out, err
}

const salesColumns = `product_id, order_id, customer_id, sold_at, quantity, unit_price`

func scanSale(rows *sql.Rows) (models.SalesRecord, error) {
	var r models.SalesRecord
	err := rows.Scan(&r.ProductID, &r.OrderID, &r.CustomerID, &r.Timestamp, &r.Quantity, &r.UnitPrice)
	return r, err
}

func (s *ClickHouseProvider) SalesHistory(ctx context.Context, productID string, since time.Time) ([]models.SalesRecord, error) {
	q := `SELECT ` + salesColumns + ` FROM sales WHERE product_id = ? AND sold_at >= ? ORDER BY sold_at ASC`
	var out []models.SalesRecord
	err := s.query(ctx, "sales_history", q, func(rows *sql.Rows) error {
		r, err := scanSale(rows)
		out = append(out, r)
		return err
	}, productID, since)
	return out, err
}

func (s *ClickHouseProvider) SalesSince(ctx context.Context, since time.Time, limit int) ([]models.SalesRecord, error) {
	q := `SELECT ` + salesColumns + ` FROM sales WHERE sold_at >= ? ORDER BY sold_at DESC`
	args := []interface{}{since}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	var out []models.SalesRecord
	err := s.query(ctx, "sales_since", q, func(rows *sql.Rows) error {
		r, err := scanSale(rows)
		out = append(out, r)
		return err
	}, args...)
	return out, err
}

func (s *ClickHouseProvider) CustomerSales(ctx context.Context, customerIDs []string, since time.Time) ([]models.SalesRecord, error) {
	if len(customerIDs) == 0 {
		return nil, nil
	}
	q := `SELECT ` + salesColumns + ` FROM sales WHERE has(?, customer_id) AND sold_at >= ? ORDER BY sold_at ASC`
	var out []models.SalesRecord
	err := s.query(ctx, "customer_sales", q, func(rows *sql.Rows) error {
		r, err := scanSale(rows)
		out = append(out, r)
		return err
	}, customerIDs, since)
	return out, err
}

func scanVolume(rows *sql.Rows) (models.ProductVolume, error) {
	var v models.ProductVolume
	err := rows.Scan(&v.ProductID, &v.Units, &v.Orders, &v.Revenue)
	return v, err
}

func (s *ClickHouseProvider) TopProducts(ctx context.Context, since time.Time, limit int) ([]models.ProductVolume, error) {
	const q = `
        SELECT product_id, toInt64(sum(quantity)) AS units, toInt64(uniqExact(order_id)) AS orders, sum(quantity * unit_price) AS revenue
        FROM sales
        WHERE sold_at >= ?
        GROUP BY product_id
        ORDER BY units DESC, product_id ASC
        LIMIT ?
    `
	var out []models.ProductVolume
	err := s.query(ctx, "top_products", q, func(rows *sql.Rows) error {
		v, err := scanVolume(rows)
		out = append(out, v)
		return err
	}, since, limit)
	return out, err
}

func (s *ClickHouseProvider) ProductVolumes(ctx context.Context, productIDs []string, since time.Time) (map[string]models.ProductVolume, error) {
	out := make(map[string]models.ProductVolume, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	const q = `
        SELECT product_id, toInt64(sum(quantity)) AS units, toInt64(uniqExact(order_id)) AS orders, sum(quantity * unit_price) AS revenue
        FROM sales
        WHERE has(?, product_id) AND sold_at >= ?
        GROUP BY product_id
    `
	err := s.query(ctx, "product_volumes", q, func(rows *sql.Rows) error {
		v, err := scanVolume(rows)
		out[v.ProductID] = v
		return err
	}, productIDs, since)
	return out, err
}

func (s *ClickHouseProvider) AveragePrices(ctx context.Context, productIDs []string, since time.Time) (map[string]float64, error) {
	out := make(map[string]float64, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	const q = `
        SELECT product_id, avg(price)
        FROM price_history
        WHERE has(?, product_id) AND source = ? AND observed_at >= ?
        GROUP BY product_id
    `
	err := s.query(ctx, "average_prices", q, func(rows *sql.Rows) error {
		var (
			id  string
			avg float64
		)
		err := rows.Scan(&id, &avg)
		out[id] = avg
		return err
	}, productIDs, models.SourceSelf, since)
	return out, err
}

// Product ids are joined with commas so a basket scans as one string column.
func scanBasket(rows *sql.Rows) (models.Basket, error) {
	var (
		b   models.Basket
		ids string
	)
	if err := rows.Scan(&b.OrderID, &ids); err != nil {
		return b, err
	}
	b.ProductIDs = util.SplitCSV(ids)
	return b, nil
}

func (s *ClickHouseProvider) Baskets(ctx context.Context, since time.Time, minItems, limit int) ([]models.Basket, error) {
	q := `
        SELECT order_id, arrayStringConcat(arraySort(groupUniqArray(product_id)), ',') AS items
        FROM sales
        WHERE sold_at >= ?
        GROUP BY order_id
        HAVING uniqExact(product_id) >= ?
        ORDER BY max(sold_at) DESC, order_id ASC
    `
	args := []interface{}{since, minItems}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	var out []models.Basket
	err := s.query(ctx, "baskets", q, func(rows *sql.Rows) error {
		b, err := scanBasket(rows)
		out = append(out, b)
		return err
	}, args...)
	return out, err
}

func (s *ClickHouseProvider) BasketsContaining(ctx context.Context, productID string, since time.Time) ([]models.Basket, error) {
	const q = `
        SELECT order_id, arrayStringConcat(arraySort(groupUniqArray(product_id)), ',') AS items
        FROM sales
        WHERE sold_at >= ?
          AND order_id IN (SELECT order_id FROM sales WHERE product_id = ? AND sold_at >= ?)
        GROUP BY order_id
        ORDER BY order_id ASC
    `
	var out []models.Basket
	err := s.query(ctx, "baskets_containing", q, func(rows *sql.Rows) error {
		b, err := scanBasket(rows)
		out = append(out, b)
		return err
	}, since, productID, since)
	return out, err
}

// IsNotFound reports whether err marks a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}
