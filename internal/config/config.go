package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Secrets and connection details are required and
// enforced by must(); operational knobs fall back to sane defaults so a dev
// environment only needs the database, gateway and JWT variables set.
type Config struct {
	Env           string        // application environment (e.g. "dev", "prod")
	Port          string        // HTTP port to listen on
	DBUser        string        // database username
	DBPass        string        // database password (optional)
	DBHost        string        // database host address
	DBPort        string        // database port number
	DBName        string        // database name
	JWTSecret     string        // secret used to verify bearer tokens
	GatewayKeyID  string        // payment gateway key id, echoed to clients
	GatewaySecret string        // payment gateway signing secret
	BcryptCost    int           // bcrypt cost for transfer code secrets
	HoldTTL       time.Duration // how long a reservation holds inventory
	SweepInterval time.Duration // cadence of the expired-reservation sweeper
	BundleTTL     time.Duration // claim window for share bundles
	TransferTTL   time.Duration // redemption window for transfer codes
	FeeFlatPaise  int64         // flat platform fee per order, in paise
	FeePercent    int64         // percentage platform fee on the discounted total
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:           must("APP_ENV"),
		Port:          must("APP_PORT"),
		DBUser:        must("DB_USER"),
		DBPass:        os.Getenv("DB_PASS"), // empty allowed
		DBHost:        must("DB_HOST"),
		DBPort:        must("DB_PORT"),
		DBName:        must("DB_NAME"),
		JWTSecret:     must("JWT_SECRET"),
		GatewayKeyID:  must("GATEWAY_KEY_ID"),
		GatewaySecret: must("GATEWAY_SECRET"),
		BcryptCost:    envInt("BCRYPT_COST", 10),
		HoldTTL:       envDur("HOLD_TTL", 10*time.Minute),
		SweepInterval: envDur("SWEEP_INTERVAL", time.Minute),
		BundleTTL:     envDur("BUNDLE_TTL", 72*time.Hour),
		TransferTTL:   envDur("TRANSFER_TTL", 48*time.Hour),
		FeeFlatPaise:  envInt64("FEE_FLAT_PAISE", 5000),
		FeePercent:    envInt64("FEE_PERCENT", 2),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envInt64(k string, d int64) int64 {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
