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
	DBConnMaxIdleTime int

	// App Store integration.
	AppStoreEnvironment  string
	AppStoreBundleID     string
	AppStoreRootCAFile   string
	AppStoreCertCacheTTL time.Duration

	// Legacy receipt verification endpoint.
	ReceiptVerifyURL        string
	ReceiptVerifySandboxURL string
	ReceiptSharedSecret     string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "hearth"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: environment,
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "hearth"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		AppStoreEnvironment:  getenv("APPSTORE_ENVIRONMENT", defaultAppStoreEnvironment(environment)),
		AppStoreBundleID:     strings.TrimSpace(getenv("APPSTORE_BUNDLE_ID", "")),
		AppStoreRootCAFile:   getenv("APPSTORE_ROOT_CA_FILE", "/etc/hearth/apple-roots.pem"),
		AppStoreCertCacheTTL: getenvDuration("APPSTORE_CERT_CACHE_TTL", 4*time.Hour),

		ReceiptVerifyURL:        getenv("RECEIPT_VERIFY_URL", "https://buy.itunes.apple.com/verifyReceipt"),
		ReceiptVerifySandboxURL: getenv("RECEIPT_VERIFY_SANDBOX_URL", "https://sandbox.itunes.apple.com/verifyReceipt"),
		ReceiptSharedSecret:     strings.TrimSpace(getenv("RECEIPT_SHARED_SECRET", "")),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// defaultAppStoreEnvironment maps the deployment environment onto the
// environment tag the platform stamps into signed payloads.
func defaultAppStoreEnvironment(environment string) string {
	if environment == "production" {
		return "Production"
	}
	return "Sandbox"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
