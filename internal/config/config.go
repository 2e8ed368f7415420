package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string
	AMQPURL     string

	LockTimeout time.Duration

	GraceSweepInterval time.Duration
	GraceSweepBatch    int

	LateReleaseInterval time.Duration
	LateReleaseBatch    int

	RelayInterval time.Duration
	RelayBatch    int

	SettingsCacheTTL time.Duration

	RateLimitPerMinute        int
	RateLimitBurst            int
	AccountRateLimitPerMinute int
	AccountRateLimitBurst     int
}

func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:                      port,
		DatabaseURL:               os.Getenv("DB_DSN"),
		AMQPURL:                   os.Getenv("AMQP_URL"),
		LockTimeout:               readDurationSeconds("LOCK_TIMEOUT_SECONDS", 2),
		GraceSweepInterval:        readDurationSeconds("GRACE_SWEEP_INTERVAL_SECONDS", 30),
		GraceSweepBatch:           readInt("GRACE_SWEEP_BATCH_SIZE", 100),
		LateReleaseInterval:       readDurationSeconds("LATE_RELEASE_INTERVAL_SECONDS", 60),
		LateReleaseBatch:          readInt("LATE_RELEASE_BATCH_SIZE", 100),
		RelayInterval:             readDurationSeconds("OUTBOX_RELAY_INTERVAL_SECONDS", 2),
		RelayBatch:                readInt("OUTBOX_RELAY_BATCH_SIZE", 100),
		SettingsCacheTTL:          readDurationSeconds("SETTINGS_CACHE_TTL_SECONDS", 60),
		RateLimitPerMinute:        readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:            readInt("RATE_LIMIT_BURST", 30),
		AccountRateLimitPerMinute: readInt("ACCOUNT_RATE_LIMIT_PER_MIN", 600),
		AccountRateLimitBurst:     readInt("ACCOUNT_RATE_LIMIT_BURST", 120),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
