package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	Redis     RedisConfig
	RateLimit RateLimitConfig

	Reconcile ReconcileConfig
	Gateway   GatewayConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// RateLimitConfig throttles webhook ingress per client address. It needs Redis.
type RateLimitConfig struct {
	Enabled bool
	Rate    float64
	Burst   int
}

type ReconcileConfig struct {
	WebhookKey         string
	StoreTimeout       time.Duration
	LockTTL            time.Duration
	FulfillmentChannel string
}

// GatewayConfig seeds the settings store when no settings file is mounted.
type GatewayConfig struct {
	SettingsFile         string
	MerchantID           string
	SharedSecret         string
	SandboxMode          bool
	APIBaseURL           string
	APIUsername          string
	APIPassword          string
	APITimeout           time.Duration
	ReturnURL            string
	ButtonLabel          string
	DefaultPaymentMethod string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:           getenv("APP_SERVICE", "payrecon"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		NodeID:            getenvInt64("NODE_ID", 1),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "payrecon"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "payrecon.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", false),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled: getenvBool("RATE_LIMIT_ENABLED", false),
			Rate:    getenvFloat("RATE_LIMIT_WEBHOOK_RATE", 20),
			Burst:   getenvInt("RATE_LIMIT_WEBHOOK_BURST", 40),
		},
		Reconcile: ReconcileConfig{
			WebhookKey:         strings.ToLower(getenv("WEBHOOK_KEY", "2checkout")),
			StoreTimeout:       getenvDuration("STORE_TIMEOUT", 5*time.Second),
			LockTTL:            getenvDuration("LOCK_TTL", 30*time.Second),
			FulfillmentChannel: getenv("FULFILLMENT_CHANNEL", "payrecon.transaction.cleared"),
		},
		Gateway: GatewayConfig{
			SettingsFile:         strings.TrimSpace(getenv("GATEWAY_SETTINGS_FILE", "")),
			MerchantID:           strings.TrimSpace(getenv("GATEWAY_MERCHANT_ID", "")),
			SharedSecret:         strings.TrimSpace(getenv("GATEWAY_SECRET_WORD", "")),
			SandboxMode:          getenvBool("GATEWAY_SANDBOX", false),
			APIBaseURL:           strings.TrimRight(getenv("GATEWAY_API_URL", "https://www.2checkout.com/api"), "/"),
			APIUsername:          strings.TrimSpace(getenv("GATEWAY_API_USERNAME", "")),
			APIPassword:          strings.TrimSpace(getenv("GATEWAY_API_PASSWORD", "")),
			APITimeout:           getenvDuration("GATEWAY_API_TIMEOUT", 15*time.Second),
			ReturnURL:            strings.TrimSpace(getenv("GATEWAY_RETURN_URL", "")),
			ButtonLabel:          getenv("GATEWAY_BUTTON_LABEL", "Pay with 2Checkout"),
			DefaultPaymentMethod: getenv("GATEWAY_DEFAULT_PAYMENT_METHOD", "CC"),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
