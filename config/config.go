// Package config loads settings from the environment and an optional .env
// file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kevinGC/seatseeker/crawler"
)

// Config holds every setting the CLI and server read from the environment.
type Config struct {
	Port string

	// Scraping.
	Proxies         []*url.URL
	UserAgents      []string
	Origin          string
	RequestInterval crawler.DurationRange
	FetchAttempts   int
	FetchTimeout    time.Duration
	UseBrowser      bool

	// DatabaseURL locates the theater directory. Empty disables theater
	// lookups.
	DatabaseURL string

	LogLevel  slog.Level
	LogFormat string

	// ScrapeRateLimit is how many scrape requests per minute one client may
	// make, with bursts up to ScrapeBurst.
	ScrapeRateLimit float64
	ScrapeBurst     int
}

// Load reads configuration from the environment. Variables also set in the
// given .env files (default ".env") fill in anything the environment
// doesn't; a missing file is not an error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	fileEnv, err := godotenv.Read(files...)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("no .env file found, using environment only", "files", files)
		fileEnv = map[string]string{}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read %v: %w", files, err)
	}
	env := environment(fileEnv)

	cfg := &Config{
		Port:            env.get("PORT", "8080"),
		UserAgents:      splitList(env.get("USER_AGENTS", ""), "|"),
		Origin:          strings.TrimRight(env.get("SITE_ORIGIN", crawler.DefaultOrigin), "/"),
		FetchAttempts:   env.getInt("FETCH_ATTEMPTS", 3),
		FetchTimeout:    env.getDuration("FETCH_TIMEOUT", 30*time.Second),
		UseBrowser:      env.getBool("USE_BROWSER", false),
		DatabaseURL:     env.get("DATABASE_URL", ""),
		LogFormat:       strings.ToLower(env.get("LOG_FORMAT", "text")),
		ScrapeRateLimit: env.getFloat("SCRAPE_RATE_LIMIT", 6),
		ScrapeBurst:     env.getInt("SCRAPE_BURST", 2),
	}

	if cfg.Proxies, err = crawler.ParseProxies(env.get("PROXY_LIST", "")); err != nil {
		return nil, fmt.Errorf("invalid PROXY_LIST: %w", err)
	}
	if cfg.RequestInterval, err = crawler.ParseDurationRange(env.get("REQUEST_INTERVAL", "3s-5s")); err != nil {
		return nil, fmt.Errorf("invalid REQUEST_INTERVAL: %w", err)
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(env.get("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("invalid LOG_FORMAT %q: must be text or json", cfg.LogFormat)
	}
	if cfg.FetchAttempts < 1 {
		return nil, fmt.Errorf("invalid FETCH_ATTEMPTS %d: must be at least 1", cfg.FetchAttempts)
	}

	return cfg, nil
}

// FetcherOptions returns the HTTP fetcher settings cfg describes.
func (c *Config) FetcherOptions() crawler.FetcherOptions {
	return crawler.FetcherOptions{
		Proxies:    crawler.NewProxyRotator(c.Proxies),
		UserAgents: c.UserAgents,
		Attempts:   c.FetchAttempts,
		Timeout:    c.FetchTimeout,
		Referer:    c.Origin + "/",
	}
}

// environment looks variables up in the process environment first, then in
// values read from .env files.
type environment map[string]string

func (e environment) get(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if val := e[key]; val != "" {
		return val
	}
	return fallback
}

func (e environment) getInt(key string, fallback int) int {
	val := e.get(key, "")
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("ignoring invalid integer setting", "key", key, "value", val)
		return fallback
	}
	return n
}

func (e environment) getFloat(key string, fallback float64) float64 {
	val := e.get(key, "")
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		slog.Warn("ignoring invalid number setting", "key", key, "value", val)
		return fallback
	}
	return f
}

func (e environment) getBool(key string, fallback bool) bool {
	val := e.get(key, "")
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		slog.Warn("ignoring invalid boolean setting", "key", key, "value", val)
		return fallback
	}
	return b
}

func (e environment) getDuration(key string, fallback time.Duration) time.Duration {
	val := e.get(key, "")
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("ignoring invalid duration setting", "key", key, "value", val)
		return fallback
	}
	return d
}

// splitList splits list on sep, dropping blank entries. User agents contain
// commas, so they're separated by "|".
func splitList(list, sep string) []string {
	var out []string
	for _, item := range strings.Split(list, sep) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
