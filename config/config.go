// Package config reads the environment settings shared by the binaries.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the infrastructure settings every service needs.
type Config struct {
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	LogLevel      string

	// Subscription: "exchangeType:token,..." (1=NSE, 2=NFO, 3=BSE or a name)
	SubscribeTokens string

	// Dynamic timeframes (comma-separated seconds, e.g. "60,300,900")
	EnabledTFs string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		RedisAddr:       GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   GetEnv("REDIS_PASSWORD", ""),
		SQLitePath:      GetEnv("SQLITE_PATH", "data/candles.db"),
		MetricsAddr:     GetEnv("METRICS_ADDR", ":9091"),
		LogLevel:        GetEnv("LOG_LEVEL", "info"),
		SubscribeTokens: GetEnv("SUBSCRIBE_TOKENS", ""),
		EnabledTFs:      GetEnv("ENABLED_TFS", "60,120,180,300"),
	}
}

// ParseTFs parses EnabledTFs into timeframe durations in seconds.
// An invalid value or an empty list is an error.
func (c *Config) ParseTFs() ([]int, error) {
	return ParseTFs(c.EnabledTFs)
}

// TokenKeys returns the subscribed instruments as "exchange:token" keys.
func (c *Config) TokenKeys() []string {
	return ParseTokenKeys(c.SubscribeTokens)
}

// ParseTFs parses a comma-separated list of positive timeframes.
func ParseTFs(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	tfs := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid TF value %q", p)
		}
		tfs = append(tfs, n)
	}
	if len(tfs) == 0 {
		return nil, fmt.Errorf("no TFs enabled")
	}
	return tfs, nil
}

// ParseTokenKeys parses "exchangeType:token,..." into "exchange:token" keys.
// Numeric exchange types follow the broker convention (1=NSE, 2=NFO, 3=BSE);
// names pass through upper-cased. Malformed pairs are skipped.
func ParseTokenKeys(s string) []string {
	if s == "" {
		return nil
	}
	var keys []string
	for _, pair := range strings.Split(s, ",") {
		exchange, token, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || exchange == "" || token == "" {
			continue
		}
		switch exchange {
		case "1":
			exchange = "NSE"
		case "2":
			exchange = "NFO"
		case "3":
			exchange = "BSE"
		default:
			exchange = strings.ToUpper(exchange)
		}
		keys = append(keys, exchange+":"+token)
	}
	return keys
}

// GetEnv returns the variable or fallback when unset or empty.
func GetEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

// GetInt returns the variable as an int, or fallback when unset or invalid.
func GetInt(key string, fallback int) int {
	n, err := strconv.Atoi(GetEnv(key, ""))
	if err != nil {
		return fallback
	}
	return n
}
