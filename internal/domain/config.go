package domain

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Scoring pipeline settings
	Scoring ScoringConfig `json:"scoring"`

	// Ring detection settings
	Ring RingConfig `json:"ring"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ScoringConfig holds the tuning knobs for the scoring pipeline.
// The numeric defaults are tuning placeholders and should be
// recalibrated against labeled data before production use.
type ScoringConfig struct {
	// ModelDir is the directory holding scorer artifacts.
	ModelDir string `json:"modelDir"`

	// Per-scorer sigmoid calibration parameters.
	Calibration map[ScorerID]CalibrationParams `json:"calibration"`

	// Fusion label thresholds. A fused score >= ThresholdHigh is HIGH,
	// >= ThresholdMedium is MEDIUM, below is LOW.
	ThresholdMedium float64 `json:"thresholdMedium"`
	ThresholdHigh   float64 `json:"thresholdHigh"`

	// ScorerTimeout bounds each scorer per call; a scorer that does
	// not respond in time is excluded from fusion for that call.
	ScorerTimeout time.Duration `json:"scorerTimeout"`

	// HistoryWindow is the maximum number of prior user transactions
	// consumed by the feature builder.
	HistoryWindow int `json:"historyWindow"`
}

// CalibrationParams configure the logistic transform for one scorer.
type CalibrationParams struct {
	// Steepness (k) of the sigmoid. Must be > 0.
	Steepness float64 `json:"steepness"`

	// Center (loc) of the sigmoid.
	Center float64 `json:"center"`

	// Gamma sharpens the calibrated probability (p^gamma), applied
	// after the sigmoid. 1.0 leaves the probability unchanged.
	// Only the relational scorer uses a non-unit gamma.
	Gamma float64 `json:"gamma"`
}

// RingConfig holds ring detection settings.
type RingConfig struct {
	// MinShared is the default minimum shared_count for an edge to
	// participate in cluster detection.
	MinShared int64 `json:"minShared"`

	// UpdateRetries bounds retries when the graph write lock is busy.
	UpdateRetries int `json:"updateRetries"`

	// LockTimeout bounds a single write-lock acquisition attempt.
	LockTimeout time.Duration `json:"lockTimeout"`

	// ReplayLookback bounds how far back persisted transactions are
	// replayed into the graph at startup. Zero disables replay.
	ReplayLookback time.Duration `json:"replayLookback"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Scoring: ScoringConfig{
			ModelDir: "./models",
			Calibration: map[ScorerID]CalibrationParams{
				ScorerReconstruction: {Steepness: 8.0, Center: 0.7, Gamma: 1.0},
				ScorerDensity:        {Steepness: 8.0, Center: 0.0, Gamma: 1.0},
				ScorerRelational:     {Steepness: 8.0, Center: 0.5, Gamma: 1.0},
			},
			ThresholdMedium: 0.3,
			ThresholdHigh:   0.7,
			ScorerTimeout:   150 * time.Millisecond,
			HistoryWindow:   50,
		},
		Ring: RingConfig{
			MinShared:      2,
			UpdateRetries:  3,
			LockTimeout:    250 * time.Millisecond,
			ReplayLookback: 24 * time.Hour,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadFromEnv applies HARRIER_* environment overrides to the config.
// Unparseable values are returned as errors rather than ignored.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("HARRIER_HOST"); v != "" {
		c.Server.Host = v
	}
	if err := envInt("HARRIER_PORT", &c.Server.Port); err != nil {
		return err
	}
	if v := os.Getenv("HARRIER_MODEL_DIR"); v != "" {
		c.Scoring.ModelDir = v
	}

	recon := c.Scoring.Calibration[ScorerReconstruction]
	density := c.Scoring.Calibration[ScorerDensity]
	relational := c.Scoring.Calibration[ScorerRelational]
	for _, bind := range []struct {
		key string
		dst *float64
	}{
		{"HARRIER_RECON_STEEPNESS", &recon.Steepness},
		{"HARRIER_RECON_CENTER", &recon.Center},
		{"HARRIER_DENSITY_STEEPNESS", &density.Steepness},
		{"HARRIER_DENSITY_CENTER", &density.Center},
		{"HARRIER_RELATIONAL_STEEPNESS", &relational.Steepness},
		{"HARRIER_RELATIONAL_CENTER", &relational.Center},
		{"HARRIER_RELATIONAL_GAMMA", &relational.Gamma},
		{"HARRIER_THRESHOLD_MEDIUM", &c.Scoring.ThresholdMedium},
		{"HARRIER_THRESHOLD_HIGH", &c.Scoring.ThresholdHigh},
	} {
		if err := envFloat(bind.key, bind.dst); err != nil {
			return err
		}
	}
	c.Scoring.Calibration[ScorerReconstruction] = recon
	c.Scoring.Calibration[ScorerDensity] = density
	c.Scoring.Calibration[ScorerRelational] = relational

	if err := envDurationMs("HARRIER_SCORER_TIMEOUT_MS", &c.Scoring.ScorerTimeout); err != nil {
		return err
	}
	if err := envInt("HARRIER_HISTORY_WINDOW", &c.Scoring.HistoryWindow); err != nil {
		return err
	}
	if err := envInt64("HARRIER_MIN_SHARED", &c.Ring.MinShared); err != nil {
		return err
	}
	if err := envInt("HARRIER_GRAPH_RETRIES", &c.Ring.UpdateRetries); err != nil {
		return err
	}

	if v := os.Getenv("HARRIER_SQLITE_PATH"); v != "" {
		c.Repository.SQLitePath = v
	}
	if v := os.Getenv("HARRIER_POSTGRES_HOST"); v != "" {
		c.Repository.PostgresHost = v
	}
	if v := os.Getenv("HARRIER_POSTGRES_USER"); v != "" {
		c.Repository.PostgresUser = v
	}
	if v := os.Getenv("HARRIER_POSTGRES_PASSWORD"); v != "" {
		c.Repository.PostgresPassword = v
	}
	if v := os.Getenv("HARRIER_POSTGRES_DB"); v != "" {
		c.Repository.PostgresDB = v
	}
	if v := os.Getenv("HARRIER_REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := os.Getenv("HARRIER_NATS_URL"); v != "" {
		c.EventBus.NATSUrl = v
	}

	return nil
}

// Validate checks the configuration at startup. Any error here is
// fatal: bad calibration parameters must never be silently clamped.
func (c *Config) Validate() error {
	for id, p := range c.Scoring.Calibration {
		if p.Steepness <= 0 {
			return fmt.Errorf("config invalid: %s steepness must be > 0, got %v", id, p.Steepness)
		}
		if p.Gamma <= 0 {
			return fmt.Errorf("config invalid: %s gamma must be > 0, got %v", id, p.Gamma)
		}
	}
	if c.Scoring.ThresholdMedium < 0 || c.Scoring.ThresholdHigh > 1 {
		return fmt.Errorf("config invalid: thresholds must lie in [0,1]")
	}
	if c.Scoring.ThresholdMedium >= c.Scoring.ThresholdHigh {
		return fmt.Errorf("config invalid: medium threshold %v must be below high threshold %v",
			c.Scoring.ThresholdMedium, c.Scoring.ThresholdHigh)
	}
	if c.Scoring.ScorerTimeout <= 0 {
		return fmt.Errorf("config invalid: scorer timeout must be positive")
	}
	if c.Scoring.HistoryWindow <= 0 {
		return fmt.Errorf("config invalid: history window must be positive")
	}
	if c.Ring.MinShared < 1 {
		return fmt.Errorf("config invalid: min shared count must be >= 1")
	}
	if c.Ring.UpdateRetries < 0 {
		return fmt.Errorf("config invalid: graph update retries must be >= 0")
	}
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config invalid: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envInt64(key string, dst *int64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("config invalid: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("config invalid: %s: %w", key, err)
	}
	*dst = f
	return nil
}

func envDurationMs(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config invalid: %s: %w", key, err)
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}
