package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"PriceIntel/internal/domain/models"
	domrepo "PriceIntel/internal/domain/repository"
	applogger "PriceIntel/pkg/logger"
	"PriceIntel/pkg/postgres"
	"PriceIntel/pkg/util"
)

// PostgresStore persists pipeline artifacts. Writes are upserts on the natural
// key; forecasts and rule sets are replaced inside a transaction.
type PostgresStore struct {
	db *sqlx.DB
	l  *applogger.Logger
}

var _ domrepo.ArtifactStore = (*PostgresStore)(nil)

func NewPostgresStore(pg *postgres.Client, l *applogger.Logger) *PostgresStore {
	return NewPostgresStoreFromDB(pg.DB(), l)
}

func NewPostgresStoreFromDB(db *sqlx.DB, l *applogger.Logger) *PostgresStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &PostgresStore{db: db, l: l.With(applogger.String("component", "postgres_store"))}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CheckTables(ctx context.Context) map[string]error {
	out := make(map[string]error, len(domrepo.ArtifactTables))
	for _, t := range domrepo.ArtifactTables {
		var exists bool
		if err := s.db.GetContext(ctx, &exists, `SELECT to_regclass($1) IS NOT NULL`, t); err != nil {
			out[t] = err
			continue
		}
		if !exists {
			out[t] = fmt.Errorf("table %s does not exist", t)
			continue
		}
		out[t] = nil
	}
	return out
}

func (s *PostgresStore) exec(ctx context.Context, op, q string, args ...interface{}) error {
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		s.l.Error("postgres write error", applogger.String("op", op), applogger.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *PostgresStore) namedExec(ctx context.Context, op, q string, arg interface{}) error {
	if _, err := s.db.NamedExecContext(ctx, q, arg); err != nil {
		s.l.Error("postgres write error", applogger.String("op", op), applogger.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *PostgresStore) selectInto(ctx context.Context, op string, dest interface{}, q string, args ...interface{}) error {
	start := time.Now()
	if err := s.db.SelectContext(ctx, dest, q, args...); err != nil {
		s.l.Error("postgres query error", applogger.String("op", op), applogger.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	s.l.Debug("postgres query ok", applogger.String("op", op), applogger.Duration("duration_ms", time.Since(start)))
	return nil
}

func (s *PostgresStore) getInto(ctx context.Context, op string, dest interface{}, q string, args ...interface{}) error {
	if err := s.db.GetContext(ctx, dest, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		s.l.Error("postgres query error", applogger.String("op", op), applogger.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func limitArg(limit int) interface{} {
	if limit <= 0 {
		return nil
	}
	return limit
}

// ---- writes ----

func (s *PostgresStore) UpsertPriceSnapshot(ctx context.Context, snap models.PriceSnapshot) error {
	snap.Date = util.Day(snap.Date)
	return s.namedExec(ctx, "upsert_price_snapshot", `
        INSERT INTO price_snapshots (product_id, snapshot_date, product_name, price, cost)
        VALUES (:product_id, :snapshot_date, :product_name, :price, :cost)
        ON CONFLICT (product_id, snapshot_date) DO UPDATE SET
            product_name = EXCLUDED.product_name,
            price = EXCLUDED.price,
            cost = EXCLUDED.cost`, snap)
}

func (s *PostgresStore) UpsertInventoryStatus(ctx context.Context, inv models.InventoryStatus) error {
	inv.Date = util.Day(inv.Date)
	return s.namedExec(ctx, "upsert_inventory_status", `
        INSERT INTO inventory_status (product_id, status_date, on_hand, reorder_point, status)
        VALUES (:product_id, :status_date, :on_hand, :reorder_point, :status)
        ON CONFLICT (product_id, status_date) DO UPDATE SET
            on_hand = EXCLUDED.on_hand,
            reorder_point = EXCLUDED.reorder_point,
            status = EXCLUDED.status`, inv)
}

func (s *PostgresStore) UpsertVelocity(ctx context.Context, v models.VelocitySnapshot) error {
	v.Date = util.Day(v.Date)
	return s.namedExec(ctx, "upsert_velocity", `
        INSERT INTO sales_velocity (product_id, recorded_date, units_7d, units_30d, units_90d, orders_30d, avg_daily_units)
        VALUES (:product_id, :recorded_date, :units_7d, :units_30d, :units_90d, :orders_30d, :avg_daily_units)
        ON CONFLICT (product_id, recorded_date) DO UPDATE SET
            units_7d = EXCLUDED.units_7d,
            units_30d = EXCLUDED.units_30d,
            units_90d = EXCLUDED.units_90d,
            orders_30d = EXCLUDED.orders_30d,
            avg_daily_units = EXCLUDED.avg_daily_units`, v)
}

func (s *PostgresStore) UpsertStatistics(ctx context.Context, st models.PriceStatistics) error {
	trend, err := json.Marshal(st.Trend)
	if err != nil {
		return fmt.Errorf("marshal trend: %w", err)
	}
	vol, err := json.Marshal(st.Volatility)
	if err != nil {
		return fmt.Errorf("marshal volatility: %w", err)
	}
	interval, err := json.Marshal(st.MeanInterval)
	if err != nil {
		return fmt.Errorf("marshal mean interval: %w", err)
	}
	return s.exec(ctx, "upsert_statistics", `
        INSERT INTO price_statistics (product_id, stat_date, trend, volatility, anomaly_count, seasonal, confidence_score, data_points, mean_interval, return_volatility)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (product_id, stat_date) DO UPDATE SET
            trend = EXCLUDED.trend,
            volatility = EXCLUDED.volatility,
            anomaly_count = EXCLUDED.anomaly_count,
            seasonal = EXCLUDED.seasonal,
            confidence_score = EXCLUDED.confidence_score,
            data_points = EXCLUDED.data_points,
            mean_interval = EXCLUDED.mean_interval,
            return_volatility = EXCLUDED.return_volatility`,
		st.ProductID, util.Day(st.Date), trend, vol, st.AnomalyCount, st.Seasonal, st.ConfidenceScore, st.DataPoints, interval, st.ReturnVolatility)
}

func (s *PostgresStore) UpsertAnomaly(ctx context.Context, a models.AnomalyRecord) error {
	a.DetectedOn = util.Day(a.DetectedOn)
	return s.namedExec(ctx, "upsert_anomaly", `
        INSERT INTO price_anomalies (product_id, observed_at, price, z_score, severity, percentile, detected_on)
        VALUES (:product_id, :observed_at, :price, :z_score, :severity, :percentile, :detected_on)
        ON CONFLICT (product_id, observed_at) DO UPDATE SET
            price = EXCLUDED.price,
            z_score = EXCLUDED.z_score,
            severity = EXCLUDED.severity,
            percentile = EXCLUDED.percentile,
            detected_on = EXCLUDED.detected_on`, a)
}

func (s *PostgresStore) ReplaceForecast(ctx context.Context, f models.Forecast) error {
	trend, err := json.Marshal(f.Trend)
	if err != nil {
		return fmt.Errorf("marshal trend: %w", err)
	}
	vol, err := json.Marshal(f.Volatility)
	if err != nil {
		return fmt.Errorf("marshal volatility: %w", err)
	}
	var seasonality interface{}
	if f.Seasonality != nil {
		raw, err := json.Marshal(f.Seasonality)
		if err != nil {
			return fmt.Errorf("marshal seasonality: %w", err)
		}
		seasonality = raw
	}
	date := util.Day(f.Date)

	return s.inTx(ctx, "replace_forecast", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM forecast_points WHERE product_id = $1 AND forecast_date = $2 AND kind = $3`,
			f.ProductID, date, string(f.Kind)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO forecasts (product_id, forecast_date, kind, horizon, lookback, trend, volatility, seasonality, status)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
            ON CONFLICT (product_id, forecast_date, kind) DO UPDATE SET
                horizon = EXCLUDED.horizon,
                lookback = EXCLUDED.lookback,
                trend = EXCLUDED.trend,
                volatility = EXCLUDED.volatility,
                seasonality = EXCLUDED.seasonality,
                status = EXCLUDED.status`,
			f.ProductID, date, string(f.Kind), f.Horizon, f.Lookback, trend, vol, seasonality, f.Status); err != nil {
			return err
		}
		for _, p := range f.Points {
			if _, err := tx.ExecContext(ctx, `
                INSERT INTO forecast_points (product_id, forecast_date, kind, horizon_offset_days, target_date,
                    point_estimate, lower_bound, upper_bound, confidence, basis_note)
                VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				f.ProductID, date, string(f.Kind), p.HorizonOffsetDays, util.Day(p.Date),
				p.PointEstimate, p.LowerBound, p.UpperBound, p.Confidence, p.BasisNote); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) ReplaceRuleSet(ctx context.Context, rs models.RuleSet) error {
	date := util.Day(rs.Date)
	return s.inTx(ctx, "replace_rule_set", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM association_rules WHERE rule_date = $1`, date); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO rule_sets (rule_date, days_back, transactions, pairs_observed, rules_filtered, status)
            VALUES ($1, $2, $3, $4, $5, $6)
            ON CONFLICT (rule_date) DO UPDATE SET
                days_back = EXCLUDED.days_back,
                transactions = EXCLUDED.transactions,
                pairs_observed = EXCLUDED.pairs_observed,
                rules_filtered = EXCLUDED.rules_filtered,
                status = EXCLUDED.status`,
			date, rs.DaysBack, rs.Transactions, rs.PairsObserved, rs.RulesFiltered, rs.Status); err != nil {
			return err
		}
		for _, r := range rs.Rules {
			if _, err := tx.ExecContext(ctx, `
                INSERT INTO association_rules (rule_date, antecedent_id, consequent_id, support, confidence, lift, pair_count)
                VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				date, r.AntecedentID, r.ConsequentID, r.Support, r.Confidence, r.Lift, r.Count); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) UpsertBundle(ctx context.Context, b models.BundleRecommendation) error {
	members, err := json.Marshal(b.Members)
	if err != nil {
		return fmt.Errorf("marshal members: %w", err)
	}
	return s.exec(ctx, "upsert_bundle", `
        INSERT INTO bundle_recommendations (anchor_product_id, bundle_date, members, total_price, average_unit_price,
            co_purchase_rate, suggested_bundle_price, savings, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (anchor_product_id, bundle_date) DO UPDATE SET
            members = EXCLUDED.members,
            total_price = EXCLUDED.total_price,
            average_unit_price = EXCLUDED.average_unit_price,
            co_purchase_rate = EXCLUDED.co_purchase_rate,
            suggested_bundle_price = EXCLUDED.suggested_bundle_price,
            savings = EXCLUDED.savings,
            status = EXCLUDED.status`,
		b.AnchorProductID, util.Day(b.Date), members, b.TotalPrice, b.AverageUnitPrice,
		b.CoPurchaseRate, b.SuggestedBundlePrice, b.Savings, b.Status)
}

func (s *PostgresStore) UpsertCompetitivePosition(ctx context.Context, p models.CompetitivePosition) error {
	return s.exec(ctx, "upsert_competitive_position", `
        INSERT INTO competitive_positions (product_id, position_date, product_name, our_price, percentile, rank, total,
            strategy_label, competitor_count, min_price, max_price, avg_price, gap_to_lowest, gap_pct_to_lowest,
            price_advantage, score)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
        ON CONFLICT (product_id, position_date) DO UPDATE SET
            product_name = EXCLUDED.product_name,
            our_price = EXCLUDED.our_price,
            percentile = EXCLUDED.percentile,
            rank = EXCLUDED.rank,
            total = EXCLUDED.total,
            strategy_label = EXCLUDED.strategy_label,
            competitor_count = EXCLUDED.competitor_count,
            min_price = EXCLUDED.min_price,
            max_price = EXCLUDED.max_price,
            avg_price = EXCLUDED.avg_price,
            gap_to_lowest = EXCLUDED.gap_to_lowest,
            gap_pct_to_lowest = EXCLUDED.gap_pct_to_lowest,
            price_advantage = EXCLUDED.price_advantage,
            score = EXCLUDED.score`,
		p.ProductID, util.Day(p.Date), p.ProductName, p.OurPrice, p.Percentile, p.Rank, p.Total,
		p.StrategyLabel, p.CompetitorCount, p.MinPrice, p.MaxPrice, p.AvgPrice, p.GapToLowest, p.GapPctToLowest,
		p.PriceAdvantage, p.Score)
}

func (s *PostgresStore) UpsertRecommendation(ctx context.Context, r models.PriceRecommendation) error {
	return s.exec(ctx, "upsert_recommendation", `
        INSERT INTO price_recommendations (product_id, rec_date, rec_type, current_price, recommended_price, change_pct,
            priority, reasoning, confidence, status, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (product_id, rec_date) DO UPDATE SET
            rec_type = EXCLUDED.rec_type,
            current_price = EXCLUDED.current_price,
            recommended_price = EXCLUDED.recommended_price,
            change_pct = EXCLUDED.change_pct,
            priority = EXCLUDED.priority,
            reasoning = EXCLUDED.reasoning,
            confidence = EXCLUDED.confidence,
            status = EXCLUDED.status,
            expires_at = EXCLUDED.expires_at`,
		r.ProductID, util.Day(r.Date), r.Type, r.CurrentPrice, r.RecommendedPrice, r.ChangePct,
		r.Priority, r.Reasoning, r.Confidence, r.Status, r.ExpiresAt)
}

func (s *PostgresStore) AppendAlerts(ctx context.Context, alerts []models.Alert) (int, error) {
	if len(alerts) == 0 {
		return 0, nil
	}
	for _, a := range alerts {
		if a.ID == "" {
			return 0, fmt.Errorf("alert %s without id", a.Type)
		}
	}
	inserted := 0
	err := s.inTx(ctx, "append_alerts", func(tx *sqlx.Tx) error {
		for _, a := range alerts {
			res, err := tx.ExecContext(ctx, `
                INSERT INTO alerts (id, alert_type, severity, product_id, message, created_at, suggested_action)
                VALUES ($1, $2, $3, $4, $5, $6, $7)
                ON CONFLICT (id) DO NOTHING`,
				a.ID, a.Type, a.Severity, a.ProductID, a.Message, a.Timestamp, a.SuggestedAction)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *PostgresStore) AppendRun(ctx context.Context, run models.PipelineRun) error {
	tasks, err := json.Marshal(run.Tasks)
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}
	return s.exec(ctx, "append_run", `
        INSERT INTO pipeline_runs (run_id, triggered_by, calculation_date, started_at, completed_at, status, duration_seconds, tasks)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.RunID, run.TriggeredBy, util.Day(run.CalculationDate), run.StartedAt, run.CompletedAt,
		run.Status, run.DurationSeconds, tasks)
}

func (s *PostgresStore) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.l.Error("postgres begin error", applogger.String("op", op), applogger.Error(err))
		return fmt.Errorf("%s begin: %w", op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		s.l.Error("postgres tx error", applogger.String("op", op), applogger.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		s.l.Error("postgres commit error", applogger.String("op", op), applogger.Error(err))
		return fmt.Errorf("%s commit: %w", op, err)
	}
	return nil
}

// ---- reads ----

const snapshotColumns = `product_id, snapshot_date, product_name, price, cost`

func (s *PostgresStore) PreviousSnapshot(ctx context.Context, productID string, before time.Time) (models.PriceSnapshot, error) {
	var out models.PriceSnapshot
	err := s.getInto(ctx, "previous_snapshot", &out, `
        SELECT `+snapshotColumns+` FROM price_snapshots
        WHERE product_id = $1 AND snapshot_date < $2
        ORDER BY snapshot_date DESC LIMIT 1`, productID, util.Day(before))
	return out, err
}

func (s *PostgresStore) SnapshotHistory(ctx context.Context, productID string, from, to time.Time) ([]models.PriceSnapshot, error) {
	out := []models.PriceSnapshot{}
	err := s.selectInto(ctx, "snapshot_history", &out, `
        SELECT `+snapshotColumns+` FROM price_snapshots
        WHERE product_id = $1 AND snapshot_date BETWEEN $2 AND $3
        ORDER BY snapshot_date`, productID, util.Day(from), util.Day(to))
	return out, err
}

func (s *PostgresStore) SnapshotsSince(ctx context.Context, from time.Time) ([]models.PriceSnapshot, error) {
	out := []models.PriceSnapshot{}
	err := s.selectInto(ctx, "snapshots_since", &out, `
        SELECT `+snapshotColumns+` FROM price_snapshots
        WHERE snapshot_date >= $1
        ORDER BY snapshot_date, product_id`, util.Day(from))
	return out, err
}

type statisticsRow struct {
	ProductID       string    `db:"product_id"`
	Date            time.Time `db:"stat_date"`
	Trend           []byte    `db:"trend"`
	Volatility      []byte    `db:"volatility"`
	AnomalyCount    int       `db:"anomaly_count"`
	Seasonal        bool      `db:"seasonal"`
	ConfidenceScore float64   `db:"confidence_score"`
	DataPoints      int       `db:"data_points"`
	MeanInterval    []byte    `db:"mean_interval"`
	ReturnVol       float64   `db:"return_volatility"`
}

func (r statisticsRow) model() (models.PriceStatistics, error) {
	st := models.PriceStatistics{
		ProductID:        r.ProductID,
		Date:             r.Date,
		AnomalyCount:     r.AnomalyCount,
		Seasonal:         r.Seasonal,
		ConfidenceScore:  r.ConfidenceScore,
		DataPoints:       r.DataPoints,
		ReturnVolatility: r.ReturnVol,
	}
	if err := json.Unmarshal(r.Trend, &st.Trend); err != nil {
		return st, fmt.Errorf("decode trend: %w", err)
	}
	if err := json.Unmarshal(r.Volatility, &st.Volatility); err != nil {
		return st, fmt.Errorf("decode volatility: %w", err)
	}
	if len(r.MeanInterval) > 0 {
		if err := json.Unmarshal(r.MeanInterval, &st.MeanInterval); err != nil {
			return st, fmt.Errorf("decode mean interval: %w", err)
		}
	}
	return st, nil
}

const statisticsColumns = `product_id, stat_date, trend, volatility, anomaly_count, seasonal, confidence_score, data_points, mean_interval, return_volatility`

func (s *PostgresStore) GetStatistics(ctx context.Context, productID string, date time.Time) (models.PriceStatistics, error) {
	var row statisticsRow
	if err := s.getInto(ctx, "get_statistics", &row, `
        SELECT `+statisticsColumns+` FROM price_statistics
        WHERE product_id = $1 AND stat_date = $2`, productID, util.Day(date)); err != nil {
		return models.PriceStatistics{}, err
	}
	return row.model()
}

func (s *PostgresStore) LatestStatistics(ctx context.Context, limit int) ([]models.PriceStatistics, error) {
	var rows []statisticsRow
	if err := s.selectInto(ctx, "latest_statistics", &rows, `
        SELECT `+statisticsColumns+` FROM price_statistics
        WHERE stat_date = (SELECT max(stat_date) FROM price_statistics)
        ORDER BY confidence_score DESC, product_id
        LIMIT $1`, limitArg(limit)); err != nil {
		return nil, err
	}
	out := make([]models.PriceStatistics, 0, len(rows))
	for _, r := range rows {
		st, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *PostgresStore) LatestVelocity(ctx context.Context, limit int) ([]models.VelocitySnapshot, error) {
	out := []models.VelocitySnapshot{}
	err := s.selectInto(ctx, "latest_velocity", &out, `
        SELECT product_id, recorded_date, units_7d, units_30d, units_90d, orders_30d, avg_daily_units
        FROM sales_velocity
        WHERE recorded_date = (SELECT max(recorded_date) FROM sales_velocity)
        ORDER BY units_30d DESC, product_id
        LIMIT $1`, limitArg(limit))
	return out, err
}

type forecastRow struct {
	ProductID   string    `db:"product_id"`
	Date        time.Time `db:"forecast_date"`
	Kind        string    `db:"kind"`
	Horizon     int       `db:"horizon"`
	Lookback    int       `db:"lookback"`
	Trend       []byte    `db:"trend"`
	Volatility  []byte    `db:"volatility"`
	Seasonality []byte    `db:"seasonality"`
	Status      string    `db:"status"`
}

func (r forecastRow) model() (models.Forecast, error) {
	f := models.Forecast{
		ProductID: r.ProductID,
		Kind:      models.ForecastKind(r.Kind),
		Date:      r.Date,
		Horizon:   r.Horizon,
		Lookback:  r.Lookback,
		Status:    r.Status,
		Points:    []models.ForecastPoint{},
	}
	if err := json.Unmarshal(r.Trend, &f.Trend); err != nil {
		return f, fmt.Errorf("decode trend: %w", err)
	}
	if err := json.Unmarshal(r.Volatility, &f.Volatility); err != nil {
		return f, fmt.Errorf("decode volatility: %w", err)
	}
	if len(r.Seasonality) > 0 {
		f.Seasonality = &models.SeasonalityProfile{}
		if err := json.Unmarshal(r.Seasonality, f.Seasonality); err != nil {
			return f, fmt.Errorf("decode seasonality: %w", err)
		}
	}
	return f, nil
}

type forecastPointRow struct {
	ProductID     string    `db:"product_id"`
	ForecastDate  time.Time `db:"forecast_date"`
	Offset        int       `db:"horizon_offset_days"`
	TargetDate    time.Time `db:"target_date"`
	PointEstimate float64   `db:"point_estimate"`
	LowerBound    float64   `db:"lower_bound"`
	UpperBound    float64   `db:"upper_bound"`
	Confidence    float64   `db:"confidence"`
	BasisNote     string    `db:"basis_note"`
}

func (r forecastPointRow) model() models.ForecastPoint {
	return models.ForecastPoint{
		ProductID:         r.ProductID,
		HorizonOffsetDays: r.Offset,
		Date:              r.TargetDate,
		PointEstimate:     r.PointEstimate,
		LowerBound:        r.LowerBound,
		UpperBound:        r.UpperBound,
		Confidence:        r.Confidence,
		BasisNote:         r.BasisNote,
	}
}

const (
	forecastColumns      = `product_id, forecast_date, kind, horizon, lookback, trend, volatility, seasonality, status`
	forecastPointColumns = `product_id, forecast_date, horizon_offset_days, target_date, point_estimate, lower_bound, upper_bound, confidence, basis_note`
)

func (s *PostgresStore) LatestForecast(ctx context.Context, productID string, kind models.ForecastKind) (models.Forecast, error) {
	var row forecastRow
	if err := s.getInto(ctx, "latest_forecast", &row, `
        SELECT `+forecastColumns+` FROM forecasts
        WHERE product_id = $1 AND kind = $2
        ORDER BY forecast_date DESC LIMIT 1`, productID, string(kind)); err != nil {
		return models.Forecast{}, err
	}
	f, err := row.model()
	if err != nil {
		return f, err
	}
	var points []forecastPointRow
	if err := s.selectInto(ctx, "latest_forecast_points", &points, `
        SELECT `+forecastPointColumns+` FROM forecast_points
        WHERE product_id = $1 AND forecast_date = $2 AND kind = $3
        ORDER BY horizon_offset_days`, productID, row.Date, string(kind)); err != nil {
		return models.Forecast{}, err
	}
	for _, p := range points {
		f.Points = append(f.Points, p.model())
	}
	return f, nil
}

func (s *PostgresStore) ForecastsBetween(ctx context.Context, kind models.ForecastKind, from, to time.Time) ([]models.Forecast, error) {
	from, to = util.Day(from), util.Day(to)
	var headers []forecastRow
	if err := s.selectInto(ctx, "forecasts_between", &headers, `
        SELECT `+forecastColumns+` FROM forecasts
        WHERE kind = $1 AND forecast_date BETWEEN $2 AND $3
        ORDER BY forecast_date, product_id`, string(kind), from, to); err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		return []models.Forecast{}, nil
	}
	var points []forecastPointRow
	if err := s.selectInto(ctx, "forecasts_between_points", &points, `
        SELECT `+forecastPointColumns+` FROM forecast_points
        WHERE kind = $1 AND forecast_date BETWEEN $2 AND $3
        ORDER BY forecast_date, product_id, horizon_offset_days`, string(kind), from, to); err != nil {
		return nil, err
	}

	out := make([]models.Forecast, 0, len(headers))
	index := make(map[string]int, len(headers))
	for _, h := range headers {
		f, err := h.model()
		if err != nil {
			return nil, err
		}
		index[dayKey(h.ProductID, h.Date)] = len(out)
		out = append(out, f)
	}
	for _, p := range points {
		if i, ok := index[dayKey(p.ProductID, p.ForecastDate)]; ok {
			out[i].Points = append(out[i].Points, p.model())
		}
	}
	return out, nil
}

type ruleSetRow struct {
	Date          time.Time `db:"rule_date"`
	DaysBack      int       `db:"days_back"`
	Transactions  int       `db:"transactions"`
	PairsObserved int       `db:"pairs_observed"`
	RulesFiltered int       `db:"rules_filtered"`
	Status        string    `db:"status"`
}

type ruleRow struct {
	AntecedentID string  `db:"antecedent_id"`
	ConsequentID string  `db:"consequent_id"`
	Support      float64 `db:"support"`
	Confidence   float64 `db:"confidence"`
	Lift         float64 `db:"lift"`
	Count        int     `db:"pair_count"`
}

func (s *PostgresStore) LatestRuleSet(ctx context.Context) (models.RuleSet, error) {
	var head ruleSetRow
	if err := s.getInto(ctx, "latest_rule_set", &head, `
        SELECT rule_date, days_back, transactions, pairs_observed, rules_filtered, status
        FROM rule_sets ORDER BY rule_date DESC LIMIT 1`); err != nil {
		return models.RuleSet{}, err
	}
	var rows []ruleRow
	if err := s.selectInto(ctx, "latest_rules", &rows, `
        SELECT antecedent_id, consequent_id, support, confidence, lift, pair_count
        FROM association_rules WHERE rule_date = $1
        ORDER BY lift DESC, support DESC, antecedent_id, consequent_id`, head.Date); err != nil {
		return models.RuleSet{}, err
	}
	rs := models.RuleSet{
		Date:          head.Date,
		DaysBack:      head.DaysBack,
		Transactions:  head.Transactions,
		PairsObserved: head.PairsObserved,
		RulesFiltered: head.RulesFiltered,
		Status:        head.Status,
		Rules:         make([]models.AssociationRule, 0, len(rows)),
	}
	for _, r := range rows {
		rs.Rules = append(rs.Rules, models.AssociationRule{
			AntecedentID: r.AntecedentID,
			ConsequentID: r.ConsequentID,
			Support:      r.Support,
			Confidence:   r.Confidence,
			Lift:         r.Lift,
			Count:        r.Count,
		})
	}
	return rs, nil
}

type bundleRow struct {
	AnchorProductID      string    `db:"anchor_product_id"`
	Date                 time.Time `db:"bundle_date"`
	Members              []byte    `db:"members"`
	TotalPrice           float64   `db:"total_price"`
	AverageUnitPrice     float64   `db:"average_unit_price"`
	CoPurchaseRate       float64   `db:"co_purchase_rate"`
	SuggestedBundlePrice float64   `db:"suggested_bundle_price"`
	Savings              float64   `db:"savings"`
	Status               string    `db:"status"`
}

func (s *PostgresStore) LatestBundles(ctx context.Context, limit int) ([]models.BundleRecommendation, error) {
	var rows []bundleRow
	if err := s.selectInto(ctx, "latest_bundles", &rows, `
        SELECT anchor_product_id, bundle_date, members, total_price, average_unit_price, co_purchase_rate,
            suggested_bundle_price, savings, status
        FROM bundle_recommendations
        WHERE bundle_date = (SELECT max(bundle_date) FROM bundle_recommendations) AND status = $1
        ORDER BY co_purchase_rate DESC, anchor_product_id
        LIMIT $2`, models.StatusOK, limitArg(limit)); err != nil {
		return nil, err
	}
	out := make([]models.BundleRecommendation, 0, len(rows))
	for _, r := range rows {
		b := models.BundleRecommendation{
			AnchorProductID:      r.AnchorProductID,
			Date:                 r.Date,
			TotalPrice:           r.TotalPrice,
			AverageUnitPrice:     r.AverageUnitPrice,
			CoPurchaseRate:       r.CoPurchaseRate,
			SuggestedBundlePrice: r.SuggestedBundlePrice,
			Savings:              r.Savings,
			Status:               r.Status,
		}
		if err := json.Unmarshal(r.Members, &b.Members); err != nil {
			return nil, fmt.Errorf("decode bundle members: %w", err)
		}
		for _, m := range b.Members {
			b.MemberIDs = append(b.MemberIDs, m.ProductID)
		}
		out = append(out, b)
	}
	return out, nil
}

type positionRow struct {
	ProductID       string    `db:"product_id"`
	ProductName     string    `db:"product_name"`
	Date            time.Time `db:"position_date"`
	OurPrice        float64   `db:"our_price"`
	Percentile      float64   `db:"percentile"`
	Rank            int       `db:"rank"`
	Total           int       `db:"total"`
	StrategyLabel   string    `db:"strategy_label"`
	CompetitorCount int       `db:"competitor_count"`
	MinPrice        float64   `db:"min_price"`
	MaxPrice        float64   `db:"max_price"`
	AvgPrice        float64   `db:"avg_price"`
	GapToLowest     float64   `db:"gap_to_lowest"`
	GapPctToLowest  float64   `db:"gap_pct_to_lowest"`
	PriceAdvantage  bool      `db:"price_advantage"`
	Score           float64   `db:"score"`
}

func (r positionRow) model() models.CompetitivePosition {
	return models.CompetitivePosition(r)
}

const positionColumns = `product_id, position_date, product_name, our_price, percentile, rank, total, strategy_label,
    competitor_count, min_price, max_price, avg_price, gap_to_lowest, gap_pct_to_lowest, price_advantage, score`

func (s *PostgresStore) GetCompetitivePosition(ctx context.Context, productID string, date time.Time) (models.CompetitivePosition, error) {
	var row positionRow
	if err := s.getInto(ctx, "get_competitive_position", &row, `
        SELECT `+positionColumns+` FROM competitive_positions
        WHERE product_id = $1 AND position_date = $2`, productID, util.Day(date)); err != nil {
		return models.CompetitivePosition{}, err
	}
	return row.model(), nil
}

func (s *PostgresStore) LatestCompetitivePositions(ctx context.Context, limit int) ([]models.CompetitivePosition, error) {
	var rows []positionRow
	if err := s.selectInto(ctx, "latest_competitive_positions", &rows, `
        SELECT `+positionColumns+` FROM competitive_positions
        WHERE position_date = (SELECT max(position_date) FROM competitive_positions)
        ORDER BY score DESC, product_id
        LIMIT $1`, limitArg(limit)); err != nil {
		return nil, err
	}
	out := make([]models.CompetitivePosition, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (s *PostgresStore) AnomaliesSince(ctx context.Context, productID string, from time.Time) ([]models.AnomalyRecord, error) {
	out := []models.AnomalyRecord{}
	err := s.selectInto(ctx, "anomalies_since", &out, `
        SELECT product_id, observed_at, price, z_score, severity, percentile, detected_on
        FROM price_anomalies
        WHERE observed_at >= $1 AND ($2 = '' OR product_id = $2)
        ORDER BY observed_at, product_id`, from, productID)
	return out, err
}

type alertRow struct {
	ID              string    `db:"id"`
	Type            string    `db:"alert_type"`
	Severity        string    `db:"severity"`
	ProductID       string    `db:"product_id"`
	Message         string    `db:"message"`
	Timestamp       time.Time `db:"created_at"`
	SuggestedAction string    `db:"suggested_action"`
}

func (s *PostgresStore) AlertsSince(ctx context.Context, from time.Time, limit int) ([]models.Alert, error) {
	var rows []alertRow
	if err := s.selectInto(ctx, "alerts_since", &rows, `
        SELECT id, alert_type, severity, product_id, message, created_at, suggested_action
        FROM alerts WHERE created_at >= $1
        ORDER BY created_at DESC, id
        LIMIT $2`, from, limitArg(limit)); err != nil {
		return nil, err
	}
	out := make([]models.Alert, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Alert(r))
	}
	return out, nil
}

type recommendationRow struct {
	ProductID        string    `db:"product_id"`
	Date             time.Time `db:"rec_date"`
	Type             string    `db:"rec_type"`
	CurrentPrice     float64   `db:"current_price"`
	RecommendedPrice float64   `db:"recommended_price"`
	ChangePct        float64   `db:"change_pct"`
	Priority         string    `db:"priority"`
	Reasoning        string    `db:"reasoning"`
	Confidence       float64   `db:"confidence"`
	Status           string    `db:"status"`
	ExpiresAt        time.Time `db:"expires_at"`
}

func (s *PostgresStore) ActiveRecommendations(ctx context.Context, asOf time.Time, limit int) ([]models.PriceRecommendation, error) {
	var rows []recommendationRow
	if err := s.selectInto(ctx, "active_recommendations", &rows, `
        SELECT * FROM (
            SELECT DISTINCT ON (product_id)
                product_id, rec_date, rec_type, current_price, recommended_price, change_pct,
                priority, reasoning, confidence, status, expires_at
            FROM price_recommendations
            WHERE status = $1 AND expires_at > $2
            ORDER BY product_id, rec_date DESC
        ) newest
        ORDER BY abs(change_pct) DESC, product_id
        LIMIT $3`, models.RecommendationPending, asOf, limitArg(limit)); err != nil {
		return nil, err
	}
	out := make([]models.PriceRecommendation, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.PriceRecommendation(r))
	}
	return out, nil
}

type runRow struct {
	RunID           string    `db:"run_id"`
	TriggeredBy     string    `db:"triggered_by"`
	CalculationDate time.Time `db:"calculation_date"`
	StartedAt       time.Time `db:"started_at"`
	CompletedAt     time.Time `db:"completed_at"`
	Status          string    `db:"status"`
	DurationSeconds float64   `db:"duration_seconds"`
	Tasks           []byte    `db:"tasks"`
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]models.PipelineRun, error) {
	var rows []runRow
	if err := s.selectInto(ctx, "list_runs", &rows, `
        SELECT run_id, triggered_by, calculation_date, started_at, completed_at, status, duration_seconds, tasks
        FROM pipeline_runs
        ORDER BY started_at DESC, run_id
        LIMIT $1`, limitArg(limit)); err != nil {
		return nil, err
	}
	out := make([]models.PipelineRun, 0, len(rows))
	for _, r := range rows {
		run := models.PipelineRun{
			RunID:           r.RunID,
			TriggeredBy:     r.TriggeredBy,
			CalculationDate: r.CalculationDate,
			StartedAt:       r.StartedAt,
			CompletedAt:     r.CompletedAt,
			Status:          r.Status,
			DurationSeconds: r.DurationSeconds,
		}
		if err := json.Unmarshal(r.Tasks, &run.Tasks); err != nil {
			return nil, fmt.Errorf("decode run tasks: %w", err)
		}
		out = append(out, run)
	}
	return out, nil
}
