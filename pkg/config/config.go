package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"PriceIntel/pkg/logger"
	"PriceIntel/pkg/util"
)

type Config struct {
	Environment string          `yaml:"environment" default:"development"`
	Server      ServerConfig    `yaml:"server"`
	Logger      logger.Config   `yaml:"logger"`
	Metrics     MetricsConfig   `yaml:"metrics"`
	ClickHouse  ClickHouse      `yaml:"clickhouse"`
	Postgres    Postgres        `yaml:"postgres"`
	Redis       Redis           `yaml:"redis"`
	Cache       Cache           `yaml:"cache"`
	Kafka       Kafka           `yaml:"kafka"`
	Queue       Queue           `yaml:"queue"`
	Storage     Storage         `yaml:"storage"`
	Provider    Provider        `yaml:"provider"`
	Analytics   AnalyticsConfig `yaml:"analytics"`
	Pipeline    Pipeline        `yaml:"pipeline"`
	Dashboard   Dashboard       `yaml:"dashboard"`
	Events      Events          `yaml:"events"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	AllowOrigins    []string      `yaml:"allow_origins" default:"[\"*\"]"`
	// TriggerRate is the per-client limit on manual pipeline triggers.
	TriggerRate  float64 `yaml:"trigger_rate" default:"0.1"`
	TriggerBurst int     `yaml:"trigger_burst" default:"2"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type ClickHouse struct {
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"retail"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	InitSchema       bool          `yaml:"init_schema"`
}

type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" default:"10"`
	MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"30m"`
	QueryTimeout    time.Duration `yaml:"query_timeout" default:"10s"`
	InitSchema      bool          `yaml:"init_schema" default:"true"`
}

type Redis struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix" default:"priceintel"`
}

type Cache struct {
	MemoryMaxItems int           `yaml:"memory_max_items" default:"1000"`
	DefaultTTL     time.Duration `yaml:"default_ttl" default:"5m"`
}

type Kafka struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
	AlertsTopic  string   `yaml:"alerts_topic" default:"priceintel.alerts"`
	RunsTopic    string   `yaml:"runs_topic" default:"priceintel.runs"`
	LogsTopic    string   `yaml:"logs_topic" default:"priceintel.logs"`
	TriggerTopic string   `yaml:"trigger_topic" default:"priceintel.pipeline.trigger"`
	Producer     struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"5"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"50ms"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		RequiredAcks int           `yaml:"required_acks" default:"-1"`
		Compression  string        `yaml:"compression" default:"snappy"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID    string        `yaml:"group_id" default:"priceintel-trigger"`
		Workers    int           `yaml:"workers" default:"1"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"500ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"10s"`
		DLQTopic   string        `yaml:"dlq_topic"`
	} `yaml:"consumer"`
}

type Queue struct {
	Enabled      bool          `yaml:"enabled"`
	Name         string        `yaml:"name" default:"pipeline"`
	Workers      int           `yaml:"workers" default:"1"`
	MaxRetries   int           `yaml:"max_retries" default:"12"`
	RetryBackoff time.Duration `yaml:"retry_backoff" default:"5m"`
	PollInterval time.Duration `yaml:"poll_interval" default:"1s"`
}

// Storage selects the artifact store implementation.
type Storage struct {
	Driver string `yaml:"driver" default:"postgres"`
}

type Provider struct {
	Timeout        time.Duration `yaml:"timeout" default:"10s"`
	RatePerSecond  float64       `yaml:"rate_per_second" default:"50"`
	Burst          int           `yaml:"burst" default:"10"`
	BreakerTimeout time.Duration `yaml:"breaker_timeout" default:"30s"`
	BreakerTrips   uint32        `yaml:"breaker_trips" default:"5"`
}

// AnalyticsConfig is the threshold value object handed to the analyzers.
type AnalyticsConfig struct {
	MinSupport           float64 `yaml:"min_support" default:"0.02"`
	MinConfidence        float64 `yaml:"min_confidence" default:"0.3"`
	MinLift              float64 `yaml:"min_lift" default:"1.2"`
	MinTransactions      int     `yaml:"min_transactions" default:"100"`
	BasketSampleSize     int     `yaml:"basket_sample_size" default:"5000"`
	MaxRules             int     `yaml:"max_rules" default:"100"`
	AnomalyZThreshold    float64 `yaml:"anomaly_z_threshold" default:"2.0"`
	CriticalZ            float64 `yaml:"critical_z" default:"3.0"`
	SeasonalitySignif    float64 `yaml:"seasonality_significance" default:"0.01"`
	SeasonalPeriod       int     `yaml:"seasonal_period" default:"7"`
	ConfidenceLevel      float64 `yaml:"confidence_level" default:"0.95"`
	MinForecastPoints    int     `yaml:"min_forecast_points" default:"7"`
	CompetitiveBand      float64 `yaml:"competitive_band" default:"0.05"`
	UpsellMargin         float64 `yaml:"upsell_margin" default:"1.2"`
	BundleSize           int     `yaml:"bundle_size" default:"3"`
	BundleDiscount       float64 `yaml:"bundle_discount" default:"0.05"`
	SignificantChangePct float64 `yaml:"significant_change_pct" default:"10"`
	LowStockThreshold    int     `yaml:"low_stock_threshold" default:"5"`
}

type Pipeline struct {
	Workers           int           `yaml:"workers" default:"8"`
	EntityTimeout     time.Duration `yaml:"entity_timeout" default:"30s"`
	LockTTL           time.Duration `yaml:"lock_ttl" default:"2h"`
	OverlapPolicy     string        `yaml:"overlap_policy" default:"skip"`
	ForecastTopN      int           `yaml:"forecast_top_n" default:"20"`
	ForecastHorizon   int           `yaml:"forecast_horizon" default:"14"`
	ForecastLookback  int           `yaml:"forecast_lookback_days" default:"90"`
	StatisticsWindow  int           `yaml:"statistics_window_days" default:"30"`
	AffinityDaysBack  int           `yaml:"affinity_days_back" default:"90"`
	BundleProducts    int           `yaml:"bundle_products" default:"5"`
	RecommendationCap int           `yaml:"recommendation_cap" default:"50"`
	MaxEntities       int           `yaml:"max_entities" default:"5000"`
}

type Dashboard struct {
	CacheTTL     time.Duration `yaml:"cache_ttl" default:"60s"`
	PanelTimeout time.Duration `yaml:"panel_timeout" default:"5s"`
	DefaultLimit int           `yaml:"default_limit" default:"10"`
}

// Events tunes the pipeline event dispatcher.
type Events struct {
	BufferSize        int           `yaml:"buffer_size" default:"1024"`
	ProgressPerSecond float64       `yaml:"progress_per_second" default:"2"`
	ProgressBurst     int           `yaml:"progress_burst" default:"5"`
	RetryMax          int           `yaml:"retry_max" default:"5"`
	BackoffMin        time.Duration `yaml:"backoff_min" default:"500ms"`
	BackoffMax        time.Duration `yaml:"backoff_max" default:"30s"`
	Websocket         bool          `yaml:"websocket" default:"true"`
}

// Load reads a YAML configuration file and applies defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// Default returns a configuration built purely from defaults.
func Default() *Config {
	var c Config
	_ = defaults.Set(&c)
	return &c
}

// LoadWithEnv loads an optional .env file, then the YAML file, then applies
// PRICEINTEL_* overrides.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PRICEINTEL_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("PRICEINTEL_POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("PRICEINTEL_CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("PRICEINTEL_CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("PRICEINTEL_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("PRICEINTEL_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitCSV(v)
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("PRICEINTEL_PIPELINE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("PRICEINTEL_PIPELINE_WORKERS: %w", err)
		}
		c.Pipeline.Workers = n
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Storage.Driver {
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required when storage.driver is 'postgres'")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver must be 'postgres' or 'memory', got '%s'", c.Storage.Driver)
	}
	if c.Pipeline.OverlapPolicy != "skip" && c.Pipeline.OverlapPolicy != "queue" {
		return fmt.Errorf("pipeline.overlap_policy must be 'skip' or 'queue', got '%s'", c.Pipeline.OverlapPolicy)
	}
	if c.Pipeline.OverlapPolicy == "queue" && !c.Queue.Enabled {
		return fmt.Errorf("pipeline.overlap_policy 'queue' requires queue.enabled")
	}
	if c.Queue.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("queue.enabled requires redis.enabled")
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be >= 1")
	}
	if c.Pipeline.EntityTimeout <= 0 {
		return fmt.Errorf("pipeline.entity_timeout must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}

	a := c.Analytics
	if a.MinSupport <= 0 || a.MinSupport > 1 {
		return fmt.Errorf("analytics.min_support must be in (0,1], got %v", a.MinSupport)
	}
	if a.MinConfidence <= 0 || a.MinConfidence > 1 {
		return fmt.Errorf("analytics.min_confidence must be in (0,1], got %v", a.MinConfidence)
	}
	if a.MinLift < 0 {
		return fmt.Errorf("analytics.min_lift must be >= 0")
	}
	if a.SeasonalPeriod < 2 {
		return fmt.Errorf("analytics.seasonal_period must be >= 2")
	}
	if a.ConfidenceLevel <= 0 || a.ConfidenceLevel >= 1 {
		return fmt.Errorf("analytics.confidence_level must be in (0,1)")
	}
	if a.BundleSize < 2 {
		return fmt.Errorf("analytics.bundle_size must be >= 2")
	}
	return nil
}
