package repository

// PostgresSchema creates the artifact tables. Primary keys are the natural
// artifact keys so every write can be an ON CONFLICT upsert.
var PostgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS price_snapshots (
        product_id    TEXT NOT NULL,
        snapshot_date DATE NOT NULL,
        product_name  TEXT NOT NULL DEFAULT '',
        price         DOUBLE PRECISION NOT NULL,
        cost          DOUBLE PRECISION NOT NULL DEFAULT 0,
        PRIMARY KEY (product_id, snapshot_date)
    )`,
	`CREATE TABLE IF NOT EXISTS inventory_status (
        product_id    TEXT NOT NULL,
        status_date   DATE NOT NULL,
        on_hand       INTEGER NOT NULL,
        reorder_point INTEGER NOT NULL,
        status        TEXT NOT NULL,
        PRIMARY KEY (product_id, status_date)
    )`,
	`CREATE TABLE IF NOT EXISTS sales_velocity (
        product_id      TEXT NOT NULL,
        recorded_date   DATE NOT NULL,
        units_7d        INTEGER NOT NULL,
        units_30d       INTEGER NOT NULL,
        units_90d       INTEGER NOT NULL,
        orders_30d      INTEGER NOT NULL,
        avg_daily_units DOUBLE PRECISION NOT NULL,
        PRIMARY KEY (product_id, recorded_date)
    )`,
	`CREATE TABLE IF NOT EXISTS price_statistics (
        product_id       TEXT NOT NULL,
        stat_date        DATE NOT NULL,
        trend            JSONB NOT NULL,
        volatility       JSONB NOT NULL,
        anomaly_count    INTEGER NOT NULL,
        seasonal         BOOLEAN NOT NULL,
        confidence_score DOUBLE PRECISION NOT NULL,
        data_points      INTEGER NOT NULL,
        mean_interval    JSONB NOT NULL DEFAULT '{}',
        return_volatility DOUBLE PRECISION NOT NULL DEFAULT 0,
        PRIMARY KEY (product_id, stat_date)
    )`,
	`ALTER TABLE price_statistics ADD COLUMN IF NOT EXISTS mean_interval JSONB NOT NULL DEFAULT '{}'`,
	`ALTER TABLE price_statistics ADD COLUMN IF NOT EXISTS return_volatility DOUBLE PRECISION NOT NULL DEFAULT 0`,
	`CREATE TABLE IF NOT EXISTS price_anomalies (
        product_id  TEXT NOT NULL,
        observed_at TIMESTAMPTZ NOT NULL,
        price       DOUBLE PRECISION NOT NULL,
        z_score     DOUBLE PRECISION NOT NULL,
        severity    TEXT NOT NULL,
        percentile  DOUBLE PRECISION NOT NULL,
        detected_on DATE NOT NULL,
        PRIMARY KEY (product_id, observed_at)
    )`,
	`CREATE TABLE IF NOT EXISTS forecasts (
        product_id    TEXT NOT NULL,
        forecast_date DATE NOT NULL,
        kind          TEXT NOT NULL,
        horizon       INTEGER NOT NULL,
        lookback      INTEGER NOT NULL,
        trend         JSONB NOT NULL,
        volatility    JSONB NOT NULL,
        seasonality   JSONB,
        status        TEXT NOT NULL,
        PRIMARY KEY (product_id, forecast_date, kind)
    )`,
	`CREATE TABLE IF NOT EXISTS forecast_points (
        product_id          TEXT NOT NULL,
        forecast_date       DATE NOT NULL,
        kind                TEXT NOT NULL,
        horizon_offset_days INTEGER NOT NULL,
        target_date         DATE NOT NULL,
        point_estimate      DOUBLE PRECISION NOT NULL,
        lower_bound         DOUBLE PRECISION NOT NULL,
        upper_bound         DOUBLE PRECISION NOT NULL,
        confidence          DOUBLE PRECISION NOT NULL DEFAULT 0,
        basis_note          TEXT NOT NULL DEFAULT '',
        PRIMARY KEY (product_id, forecast_date, kind, horizon_offset_days)
    )`,
	`CREATE TABLE IF NOT EXISTS rule_sets (
        rule_date      DATE PRIMARY KEY,
        days_back      INTEGER NOT NULL,
        transactions   INTEGER NOT NULL,
        pairs_observed INTEGER NOT NULL,
        rules_filtered INTEGER NOT NULL,
        status         TEXT NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS association_rules (
        rule_date     DATE NOT NULL,
        antecedent_id TEXT NOT NULL,
        consequent_id TEXT NOT NULL,
        support       DOUBLE PRECISION NOT NULL,
        confidence    DOUBLE PRECISION NOT NULL,
        lift          DOUBLE PRECISION NOT NULL,
        pair_count    INTEGER NOT NULL,
        PRIMARY KEY (rule_date, antecedent_id, consequent_id)
    )`,
	`CREATE TABLE IF NOT EXISTS bundle_recommendations (
        anchor_product_id      TEXT NOT NULL,
        bundle_date            DATE NOT NULL,
        members                JSONB NOT NULL,
        total_price            DOUBLE PRECISION NOT NULL,
        average_unit_price     DOUBLE PRECISION NOT NULL,
        co_purchase_rate       DOUBLE PRECISION NOT NULL,
        suggested_bundle_price DOUBLE PRECISION NOT NULL,
        savings                DOUBLE PRECISION NOT NULL,
        status                 TEXT NOT NULL,
        PRIMARY KEY (anchor_product_id, bundle_date)
    )`,
	`CREATE TABLE IF NOT EXISTS competitive_positions (
        product_id        TEXT NOT NULL,
        position_date     DATE NOT NULL,
        product_name      TEXT NOT NULL DEFAULT '',
        our_price         DOUBLE PRECISION NOT NULL,
        percentile        DOUBLE PRECISION NOT NULL,
        rank              INTEGER NOT NULL,
        total             INTEGER NOT NULL,
        strategy_label    TEXT NOT NULL,
        competitor_count  INTEGER NOT NULL,
        min_price         DOUBLE PRECISION NOT NULL,
        max_price         DOUBLE PRECISION NOT NULL,
        avg_price         DOUBLE PRECISION NOT NULL,
        gap_to_lowest     DOUBLE PRECISION NOT NULL,
        gap_pct_to_lowest DOUBLE PRECISION NOT NULL,
        price_advantage   BOOLEAN NOT NULL,
        score             DOUBLE PRECISION NOT NULL,
        PRIMARY KEY (product_id, position_date)
    )`,
	`CREATE TABLE IF NOT EXISTS price_recommendations (
        product_id        TEXT NOT NULL,
        rec_date          DATE NOT NULL,
        rec_type          TEXT NOT NULL,
        current_price     DOUBLE PRECISION NOT NULL,
        recommended_price DOUBLE PRECISION NOT NULL,
        change_pct        DOUBLE PRECISION NOT NULL,
        priority          TEXT NOT NULL,
        reasoning         TEXT NOT NULL,
        confidence        DOUBLE PRECISION NOT NULL,
        status            TEXT NOT NULL,
        expires_at        TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (product_id, rec_date)
    )`,
	`CREATE TABLE IF NOT EXISTS alerts (
        id               TEXT PRIMARY KEY,
        alert_type       TEXT NOT NULL,
        severity         TEXT NOT NULL,
        product_id       TEXT NOT NULL DEFAULT '',
        message          TEXT NOT NULL,
        created_at       TIMESTAMPTZ NOT NULL,
        suggested_action TEXT NOT NULL DEFAULT ''
    )`,
	`CREATE INDEX IF NOT EXISTS alerts_created_at_idx ON alerts (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
        run_id           TEXT PRIMARY KEY,
        triggered_by     TEXT NOT NULL,
        calculation_date DATE NOT NULL,
        started_at       TIMESTAMPTZ NOT NULL,
        completed_at     TIMESTAMPTZ NOT NULL,
        status           TEXT NOT NULL,
        duration_seconds DOUBLE PRECISION NOT NULL,
        tasks            JSONB NOT NULL
    )`,
}
