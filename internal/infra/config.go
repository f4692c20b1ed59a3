package infra

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`
	PGHost      string `env:"PGHOST" envDefault:"localhost"`
	PGPort      int    `env:"PGPORT" envDefault:"5432"`
	PGUser      string `env:"PGUSER" envDefault:"trailpass"`
	PGPassword  string `env:"PGPASSWORD" envDefault:"trailpass"`
	PGDatabase  string `env:"PGDATABASE" envDefault:"trailpass"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"false"`

	// Pool sizing
	DBMaxConns        int32         `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns        int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	DBConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"5m"`

	// StoreBackend selects "postgres" or the in-process "memory" store. The
	// memory store serializes every transaction and is refused when APP_ENV
	// is production.
	StoreBackend string `env:"STORE_BACKEND" envDefault:"postgres"`

	// Redis (stats cache)
	RedisURL      string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RedisEnabled  bool          `env:"REDIS_ENABLED" envDefault:"false"`
	StatsCacheTTL time.Duration `env:"STATS_CACHE_TTL" envDefault:"60s"`

	// JWT
	JWTSecret         string        `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	JWTIssuer         string        `env:"JWT_ISSUER" envDefault:"trailpass"`
	JWTUserExpiry     time.Duration `env:"JWT_USER_EXPIRY" envDefault:"24h"`
	JWTOperatorExpiry time.Duration `env:"JWT_OPERATOR_EXPIRY" envDefault:"8h"`

	// Server
	APIPort            int    `env:"API_PORT" envDefault:"3100"`
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`
	SubmitRateLimit    int    `env:"SUBMIT_RATE_LIMIT" envDefault:"30"`

	// Kafka
	KafkaBrokers string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled bool   `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaTopic   string `env:"KAFKA_TOPIC" envDefault:"trailpass.progression"`

	// Outbox relay
	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"2s"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`

	// Reward engine
	CatalogTTL             time.Duration `env:"CATALOG_TTL" envDefault:"30s"`
	AttractionCompletionXP int64         `env:"ATTRACTION_COMPLETION_XP" envDefault:"50"`
	TierEPBronze           int64         `env:"TIER_EP_BRONZE" envDefault:"50"`
	TierEPSilver           int64         `env:"TIER_EP_SILVER" envDefault:"100"`
	TierEPGold             int64         `env:"TIER_EP_GOLD" envDefault:"200"`
	QualityGoldMin         int           `env:"QUALITY_GOLD_MIN" envDefault:"90"`
	QualitySilverMin       int           `env:"QUALITY_SILVER_MIN" envDefault:"70"`

	// Reconciler
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"15m"`
	ReconcileRepair   bool          `env:"RECONCILE_REPAIR" envDefault:"false"`

	// Tracing
	OTelEnabled     bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure    bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"false"`
	OTelSampleRatio float64 `env:"OTEL_SAMPLER_RATIO" envDefault:"0.1"`
	Environment     string  `env:"APP_ENV" envDefault:"development"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks for insecure or inconsistent configuration.
// Set ALLOW_INSECURE_DEFAULTS=true to bypass the JWT checks (local dev only).
func (c *Config) Validate() error {
	if err := c.validateEngine(); err != nil {
		return err
	}
	if c.AllowInsecureDefaults {
		return nil
	}
	if c.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET is set to the insecure default; set a strong secret or set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is too short (%d chars); minimum 32 characters required", len(c.JWTSecret))
	}
	return nil
}

func (c *Config) validateEngine() error {
	if c.StoreBackend != "postgres" && c.StoreBackend != "memory" {
		return fmt.Errorf("STORE_BACKEND must be postgres or memory, got %q", c.StoreBackend)
	}
	if c.StoreBackend == "memory" && c.Environment == "production" {
		return fmt.Errorf("STORE_BACKEND=memory is for development only")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("pool sizing must satisfy 0 <= DB_MIN_CONNS (%d) <= DB_MAX_CONNS (%d), DB_MAX_CONNS > 0",
			c.DBMinConns, c.DBMaxConns)
	}
	if c.DBConnMaxLifetime <= 0 || c.DBConnMaxIdleTime <= 0 {
		return fmt.Errorf("DB_CONN_MAX_LIFETIME and DB_CONN_MAX_IDLE_TIME must be positive")
	}
	if c.JWTUserExpiry <= 0 || c.JWTOperatorExpiry <= 0 {
		return fmt.Errorf("JWT_USER_EXPIRY and JWT_OPERATOR_EXPIRY must be positive")
	}
	if c.QualitySilverMin < 0 || c.QualityGoldMin > 100 || c.QualitySilverMin > c.QualityGoldMin {
		return fmt.Errorf("quality thresholds must satisfy 0 <= QUALITY_SILVER_MIN (%d) <= QUALITY_GOLD_MIN (%d) <= 100",
			c.QualitySilverMin, c.QualityGoldMin)
	}
	if c.AttractionCompletionXP < 0 {
		return fmt.Errorf("ATTRACTION_COMPLETION_XP must not be negative, got %d", c.AttractionCompletionXP)
	}
	if c.TierEPBronze < 0 || c.TierEPSilver < 0 || c.TierEPGold < 0 {
		return fmt.Errorf("tier EP bonuses must not be negative")
	}
	if c.OutboxBatchSize <= 0 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be positive, got %d", c.OutboxBatchSize)
	}
	if c.OutboxPollInterval <= 0 || c.ReconcileInterval <= 0 {
		return fmt.Errorf("OUTBOX_POLL_INTERVAL and RECONCILE_INTERVAL must be positive")
	}
	if c.OTelSampleRatio < 0 || c.OTelSampleRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLER_RATIO must be within 0..1, got %v", c.OTelSampleRatio)
	}
	return nil
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}
