package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	BackendAuto      = "auto"
	BackendFirestore = "firestore"
	BackendMongo     = "mongo"
	BackendPostgres  = "postgres"
	BackendLocal     = "local"
	BackendMemory    = "memory"
)

type Config struct {
	Port          string `env:"PORT" envDefault:"8080"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN" envDefault:"http://127.0.0.1:3000"`

	StoreBackend            string `env:"STORE_BACKEND" envDefault:"auto"`
	FirebaseProjectID       string `env:"FIREBASE_PROJECT_ID"`
	FirebaseCredentialsPath string `env:"FIREBASE_CREDENTIALS_PATH"`
	MongoURI                string `env:"MONGODB_URI"`
	MongoDatabase           string `env:"MONGODB_DATABASE" envDefault:"vendify"`
	DatabaseURL             string `env:"DATABASE_URL"`
	LocalStorePath          string `env:"LOCAL_STORE_PATH" envDefault:"./data/vendify.json"`

	RedisAddr            string `env:"REDIS_ADDR"`
	RedisPassword        string `env:"REDIS_PASSWORD"`
	RedisDB              int    `env:"REDIS_DB" envDefault:"0"`
	StatsCacheTTLSeconds int    `env:"STATS_CACHE_TTL_SECONDS" envDefault:"30"`

	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogEncoding   string `env:"LOG_ENCODING" envDefault:"json"`
	LogFile       string `env:"LOG_FILE"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"50"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
	LogMaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"14"`

	ReceiptSigningSecret     string  `env:"RECEIPT_SIGNING_SECRET"`
	WholesaleDiscountPercent float64 `env:"WHOLESALE_DISCOUNT_PERCENT" envDefault:"15"`
	WholesaleMinOrderQty     int     `env:"WHOLESALE_MIN_ORDER_QTY" envDefault:"10"`
	OutboxDrainSeconds       int     `env:"OUTBOX_DRAIN_INTERVAL_SECONDS" envDefault:"15"`
	QuoteValidityDays        int     `env:"QUOTE_VALIDITY_DAYS" envDefault:"30"`
	ReorderLeadDays          int     `env:"REORDER_LEAD_DAYS" envDefault:"7"`
	ReorderCoverDays         int     `env:"REORDER_COVER_DAYS" envDefault:"30"`
	RequestTimeoutSeconds    int     `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"15"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	cfg.ReceiptSigningSecret = strings.TrimSpace(cfg.ReceiptSigningSecret)

	if cfg.StatsCacheTTLSeconds < 1 {
		cfg.StatsCacheTTLSeconds = 30
	}
	if cfg.OutboxDrainSeconds < 1 {
		cfg.OutboxDrainSeconds = 15
	}
	if cfg.WholesaleDiscountPercent < 0 || cfg.WholesaleDiscountPercent >= 100 {
		return Config{}, fmt.Errorf("WHOLESALE_DISCOUNT_PERCENT must be in [0, 100), got %v", cfg.WholesaleDiscountPercent)
	}
	if cfg.WholesaleMinOrderQty < 1 {
		cfg.WholesaleMinOrderQty = 1
	}
	if cfg.QuoteValidityDays < 1 {
		cfg.QuoteValidityDays = 30
	}
	if cfg.RequestTimeoutSeconds < 1 {
		cfg.RequestTimeoutSeconds = 15
	}
	switch cfg.StoreBackend {
	case BackendAuto, BackendFirestore, BackendMongo, BackendPostgres, BackendLocal, BackendMemory:
	default:
		return Config{}, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// RemoteBackend resolves "auto" to the first remote store with enough
// configuration, or BackendLocal when none is configured.
func (c Config) RemoteBackend() string {
	switch c.StoreBackend {
	case BackendFirestore, BackendMongo, BackendPostgres, BackendLocal, BackendMemory:
		return c.StoreBackend
	}
	switch {
	case c.FirebaseProjectID != "":
		return BackendFirestore
	case c.MongoURI != "":
		return BackendMongo
	case c.DatabaseURL != "":
		return BackendPostgres
	default:
		return BackendLocal
	}
}

func (c Config) StatsCacheTTL() time.Duration {
	return time.Duration(c.StatsCacheTTLSeconds) * time.Second
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c Config) OutboxDrainInterval() time.Duration {
	return time.Duration(c.OutboxDrainSeconds) * time.Second
}
