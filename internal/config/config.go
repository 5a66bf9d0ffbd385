package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	Billing BillingConfig
	Chain   ChainConfig
	Stripe  StripeConfig
	Blob    BlobConfig

	SchedulerInterval   time.Duration
	SchedulerJobTimeout time.Duration
}

// BillingConfig controls invoice period and pricing behavior.
type BillingConfig struct {
	// Timezone used to compute calendar-month boundaries. Sessions and
	// invoices are stored in UTC regardless.
	Timezone string
	Currency string
	// Fallback hourly rate when a seat has none configured.
	DefaultHourlyRate int64
}

// ChainConfig points the proof anchor at a public ledger RPC endpoint.
type ChainConfig struct {
	RPCEndpoint   string
	ChainID       int64
	PrivateKey    string
	Confirmations uint64
}

// StripeConfig carries payment-ledger credentials.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
}

// BlobConfig selects the usage-record blob store backend.
type BlobConfig struct {
	// "fs" or "memory".
	Type string
	Root string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "cafebilling"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "cafebilling"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),

		Billing: BillingConfig{
			Timezone:          getenv("BILLING_TIMEZONE", "Asia/Tokyo"),
			Currency:          getenv("BILLING_CURRENCY", "jpy"),
			DefaultHourlyRate: getenvInt64("BILLING_DEFAULT_HOURLY_RATE", 600),
		},
		Chain: ChainConfig{
			RPCEndpoint:   getenv("CHAIN_RPC_ENDPOINT", "https://api.avax.network/ext/bc/C/rpc"),
			ChainID:       getenvInt64("CHAIN_ID", 43114),
			PrivateKey:    getenv("CHAIN_PRIVATE_KEY", ""),
			Confirmations: uint64(getenvInt64("CHAIN_CONFIRMATIONS", 1)),
		},
		Stripe: StripeConfig{
			APIKey:        getenv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getenv("STRIPE_WEBHOOK_SECRET", ""),
		},
		Blob: BlobConfig{
			Type: getenv("BLOB_STORE_TYPE", "fs"),
			Root: getenv("BLOB_STORE_ROOT", "data/blobs"),
		},

		SchedulerInterval:   getenvDuration("SCHEDULER_INTERVAL", time.Minute),
		SchedulerJobTimeout: getenvDuration("SCHEDULER_JOB_TIMEOUT", 2*time.Minute),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid int for %s: %q", key, v)
		return fallback
	}
	return n
}

func getenvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("config: invalid int for %s: %q", key, v)
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("config: invalid duration for %s: %q", key, v)
		return fallback
	}
	return d
}
