package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/bher20/flightsearch/pkg/providers"
)

const providersEnv = "FLIGHTSEARCH_PROVIDERS_JSON"

type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	DBDriver    string
	DBDSN       string
	AutoMigrate bool

	Providers []providers.Descriptor
	// SearchDeadline of zero means the longest provider timeout plus 5s.
	SearchDeadline   time.Duration
	TargetCurrency   string
	Timezone         string
	MaxUpdateRetries uint64

	RatesURL         string
	RatesSchedule    string
	RatesOnStart     bool
	RatesInsecureTLS bool

	KafkaBrokers string
	KafkaTopic   string

	AlertWebhookURL  string
	AlertWebhookType string
}

// Load reads a .env file when present, then builds the Config from the
// environment.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("error loading .env file, using system environment variables")
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables, with sane defaults.
func FromEnv() Config {
	timeout := getEnvInt("FLIGHTSEARCH_PROVIDER_TIMEOUT_SECONDS", 90)
	return Config{
		Port:      getEnv("PORT", "8000"),
		LogLevel:  getEnv("FLIGHTSEARCH_LOG_LEVEL", "info"),
		LogFormat: getEnv("FLIGHTSEARCH_LOG_FORMAT", "text"),

		DBDriver:    getEnv("FLIGHTSEARCH_DB_DRIVER", "memory"),
		DBDSN:       getEnv("FLIGHTSEARCH_DB_DSN", ""),
		AutoMigrate: getEnvBool("FLIGHTSEARCH_AUTO_MIGRATE", true),

		Providers: providersFromEnv([]providers.Descriptor{
			{Name: "provider_a", URL: getEnv("FLIGHTSEARCH_PROVIDER_A_URL", "http://provider_a:9001/search"), TimeoutSeconds: timeout},
			{Name: "provider_b", URL: getEnv("FLIGHTSEARCH_PROVIDER_B_URL", "http://provider_b:9002/search"), TimeoutSeconds: timeout},
		}),
		SearchDeadline:   time.Duration(getEnvInt("FLIGHTSEARCH_SEARCH_DEADLINE_SECONDS", 0)) * time.Second,
		TargetCurrency:   strings.ToUpper(getEnv("FLIGHTSEARCH_TARGET_CURRENCY", "KZT")),
		Timezone:         getEnv("FLIGHTSEARCH_TIMEZONE", "Asia/Almaty"),
		MaxUpdateRetries: uint64(getEnvPositive("FLIGHTSEARCH_MAX_UPDATE_RETRIES", 10)),

		RatesURL:         getEnv("FLIGHTSEARCH_RATES_URL", ""),
		RatesSchedule:    getEnv("FLIGHTSEARCH_RATES_SCHEDULE", "0 12 * * *"),
		RatesOnStart:     getEnvBool("FLIGHTSEARCH_RATES_ON_START", true),
		RatesInsecureTLS: getEnvBool("FLIGHTSEARCH_RATES_INSECURE_TLS", false),

		KafkaBrokers: getEnv("FLIGHTSEARCH_KAFKA_BROKERS", ""),
		KafkaTopic:   getEnv("FLIGHTSEARCH_KAFKA_TOPIC", "search.completed"),

		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
		AlertWebhookType: getEnv("ALERT_WEBHOOK_TYPE", ""),
	}
}

// Deadline returns how long a search may stay PENDING.
func (c Config) Deadline() time.Duration {
	if c.SearchDeadline > 0 {
		return c.SearchDeadline
	}
	longest := 0
	for _, p := range c.Providers {
		if p.TimeoutSeconds > longest {
			longest = p.TimeoutSeconds
		}
	}
	return time.Duration(longest)*time.Second + 5*time.Second
}

// Location resolves Timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		logrus.WithError(err).WithField("timezone", c.Timezone).Warn("unknown timezone, using UTC")
		return time.UTC
	}
	return loc
}

// providersFromEnv lets FLIGHTSEARCH_PROVIDERS_JSON replace the default list.
func providersFromEnv(defaults []providers.Descriptor) []providers.Descriptor {
	raw := os.Getenv(providersEnv)
	if raw == "" {
		return defaults
	}
	var out []providers.Descriptor
	if err := json.Unmarshal([]byte(raw), &out); err != nil || len(out) == 0 {
		logrus.WithError(err).Warn("invalid " + providersEnv + ", using defaults")
		return defaults
	}
	for i := range out {
		if out[i].TimeoutSeconds <= 0 {
			out[i].TimeoutSeconds = 90
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		logrus.Warnf("invalid %s value %q, using %d", key, raw, fallback)
		return fallback
	}
	return v
}

// getEnvPositive is getEnvInt for settings that must be at least 1.
func getEnvPositive(key string, fallback int) int {
	v := getEnvInt(key, fallback)
	if v < 1 {
		logrus.Warnf("%s must be at least 1, using %d", key, fallback)
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		logrus.Warnf("invalid %s value %q, using %t", key, raw, fallback)
		return fallback
	}
	return v
}
