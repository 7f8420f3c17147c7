// Package config loads the server configuration from the environment,
// optionally preloaded from .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the server configuration.
type Config struct {
	Port        string
	LogLevel    slog.Level
	DatabaseURL string // empty selects the in-memory store
	RedisURL    string // empty disables the read-through cache
	NATSURL     string // empty disables NATS publishing
	CacheTTL    time.Duration

	Owner             string
	OracleSigners     []string // hex ed25519 public keys; empty accepts unsigned updates
	PriceSpreadBps    int64
	MaxPriceAge       time.Duration
	FundingInterval   time.Duration
	FundingRateFactor int64
}

// Load reads the given .env files (".env" when none are named) and then
// the process environment. Process variables win over file values; a
// missing file is not an error.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	fileVals := map[string]string{}
	for _, f := range files {
		vals, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Config{}, fmt.Errorf("read %s: %w", f, err)
		}
		for k, v := range vals {
			fileVals[k] = v
		}
	}
	return FromEnv(func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return fileVals[key]
	})
}

// FromEnv builds a Config from getenv, applying defaults.
func FromEnv(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}
	cfg := Config{
		Port:              p.str("PORT", "8080"),
		DatabaseURL:       p.str("DATABASE_URL", ""),
		RedisURL:          p.str("REDIS_URL", ""),
		NATSURL:           p.str("NATS_URL", ""),
		CacheTTL:          p.duration("CACHE_TTL", 30*time.Second),
		Owner:             p.str("VAULT_OWNER", "gov"),
		OracleSigners:     p.list("ORACLE_SIGNERS"),
		PriceSpreadBps:    p.int("PRICE_SPREAD_BPS", 0),
		MaxPriceAge:       p.duration("MAX_PRICE_AGE", 0),
		FundingInterval:   p.duration("FUNDING_INTERVAL", time.Second),
		FundingRateFactor: p.int("FUNDING_RATE_FACTOR", 23),
	}
	if lvl := getenv("LOG_LEVEL"); lvl != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(lvl)); err != nil {
			p.errs = append(p.errs, fmt.Errorf("LOG_LEVEL: %w", err))
		}
	}
	if cfg.FundingInterval <= 0 {
		p.errs = append(p.errs, fmt.Errorf("FUNDING_INTERVAL must be positive, got %s", cfg.FundingInterval))
	}
	if cfg.PriceSpreadBps < 0 {
		p.errs = append(p.errs, fmt.Errorf("PRICE_SPREAD_BPS must not be negative, got %d", cfg.PriceSpreadBps))
	}
	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) int(key string, def int64) int64 {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return dur
}

func (p *parser) list(key string) []string {
	var out []string
	for _, s := range strings.Split(p.getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
