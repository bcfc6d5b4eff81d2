package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr          string
	DatabaseURL   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroupID  string
	InsightTTL    time.Duration
	SweepInterval time.Duration
}

const (
	defaultAddr          = ":8070"
	defaultKafkaTopic    = "production-records"
	defaultKafkaGroupID  = "insight-engine"
	defaultTTLDays       = 7
	defaultSweepInterval = 10 * time.Minute
)

func Load() (Config, error) {
	cfg := Config{
		Addr:          getEnv("INSIGHT_ENGINE_ADDR", defaultAddr),
		DatabaseURL:   firstNonEmpty(os.Getenv("INSIGHT_ENGINE_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		KafkaBrokers:  splitList(os.Getenv("INSIGHT_ENGINE_KAFKA_BROKERS")),
		KafkaTopic:    getEnv("INSIGHT_ENGINE_KAFKA_TOPIC", defaultKafkaTopic),
		KafkaGroupID:  getEnv("INSIGHT_ENGINE_KAFKA_GROUP", defaultKafkaGroupID),
		InsightTTL:    time.Duration(getInt("INSIGHT_ENGINE_TTL_DAYS", defaultTTLDays)) * 24 * time.Hour,
		SweepInterval: getDuration("INSIGHT_ENGINE_SWEEP_INTERVAL", defaultSweepInterval),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL or INSIGHT_ENGINE_DATABASE_URL required")
	}
	return cfg, nil
}

// Deferred reports whether insight generation runs through Kafka instead of
// inline on the save path.
func (c Config) Deferred() bool {
	return len(c.KafkaBrokers) > 0
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(val string) []string {
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
