// Package config loads service settings.
//
// Sources are applied in order, later ones winning:
//
//  1. built-in defaults
//  2. an optional YAML file
//  3. .env.local and .env in the working directory (never override the real environment)
//  4. environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

type Config struct {
	Port      int             `yaml:"port"`
	LogLevel  string          `yaml:"log_level"`
	Graph     GraphConfig     `yaml:"graph"`
	SocialAPI SocialAPIConfig `yaml:"socialapi"`
	Cache     CacheConfig     `yaml:"cache"`
	Staleness StalenessConfig `yaml:"staleness"`
	Mutuals   MutualsConfig   `yaml:"mutuals"`
}

type GraphConfig struct {
	Backend    string      `yaml:"backend"` // sqlite or neo4j
	SQLitePath string      `yaml:"sqlite_path"`
	Neo4j      Neo4jConfig `yaml:"neo4j"`
}

type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type SocialAPIConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"api_key"`
	Timeout           string  `yaml:"timeout"`
	PageSize          int     `yaml:"page_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type CacheConfig struct {
	Backend  string      `yaml:"backend"` // memory or redis
	TTL      string      `yaml:"ttl"`
	Capacity int         `yaml:"capacity"`
	Redis    RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type StalenessConfig struct {
	MaxAge         string  `yaml:"max_age"` // Go duration, or whole days like "45d"
	DriftThreshold float64 `yaml:"drift_threshold"`
}

type MutualsConfig struct {
	Ranking string `yaml:"ranking"` // query, followers or alphabetical
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Port:     8080,
		LogLevel: "info",
		Graph: GraphConfig{
			Backend:    "sqlite",
			SQLitePath: "data/berri.db",
			Neo4j:      Neo4jConfig{User: "neo4j"},
		},
		SocialAPI: SocialAPIConfig{
			BaseURL:           "https://api.socialapi.me",
			Timeout:           "30s",
			PageSize:          200,
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Cache: CacheConfig{
			Backend:  "memory",
			TTL:      "5m",
			Capacity: 1000,
			Redis:    RedisConfig{Addr: "localhost:6379", KeyPrefix: "berri"},
		},
		Staleness: StalenessConfig{
			MaxAge:         "45d",
			DriftThreshold: 0.10,
		},
		Mutuals: MutualsConfig{Ranking: "query"},
	}
}

// Load builds the configuration. path may be empty to skip the YAML file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	loadDotEnvs()

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Mutuals.Ranking = strings.ToLower(strings.TrimSpace(cfg.Mutuals.Ranking))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnvs loads optional .env files. Missing files are not an error,
// and variables already set in the environment are kept.
func loadDotEnvs() {
	for _, f := range []string{".env.local", ".env"} {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Port = port
	}
	str("LOG_LEVEL", &c.LogLevel)

	str("GRAPH_BACKEND", &c.Graph.Backend)
	str("DB_PATH", &c.Graph.SQLitePath)
	str("NEO4J_URI", &c.Graph.Neo4j.URI)
	str("NEO4J_USER", &c.Graph.Neo4j.User)
	str("NEO4J_PASSWORD", &c.Graph.Neo4j.Password)
	str("NEO4J_DATABASE", &c.Graph.Neo4j.Database)

	str("SOCIALAPI_KEY", &c.SocialAPI.APIKey)
	str("SOCIALAPI_BASE_URL", &c.SocialAPI.BaseURL)

	str("CACHE_BACKEND", &c.Cache.Backend)
	str("REDIS_ADDR", &c.Cache.Redis.Addr)
	str("REDIS_PASSWORD", &c.Cache.Redis.Password)

	str("STALENESS_MAX_AGE", &c.Staleness.MaxAge)
	str("MUTUAL_RANKING", &c.Mutuals.Ranking)
	return nil
}

// Validate rejects settings the service cannot run with. A missing social
// API key is allowed here: requests then fail with a configuration error.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}

	switch c.Graph.Backend {
	case "sqlite":
		if c.Graph.SQLitePath == "" {
			errs = append(errs, errors.New("graph.sqlite_path is required for the sqlite backend"))
		}
	case "neo4j":
		if c.Graph.Neo4j.URI == "" {
			errs = append(errs, errors.New("graph.neo4j.uri is required for the neo4j backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown graph backend %q", c.Graph.Backend))
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("cache.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}
	if c.Cache.Capacity <= 0 {
		errs = append(errs, errors.New("cache.capacity must be positive"))
	}
	if _, err := ParseDuration(c.Cache.TTL); err != nil {
		errs = append(errs, fmt.Errorf("cache.ttl: %w", err))
	}

	if _, err := ParseDuration(c.SocialAPI.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("socialapi.timeout: %w", err))
	}
	if c.SocialAPI.PageSize <= 0 || c.SocialAPI.PageSize > 200 {
		errs = append(errs, fmt.Errorf("socialapi.page_size %d must be in 1..200", c.SocialAPI.PageSize))
	}
	if c.SocialAPI.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("socialapi.requests_per_second must not be negative"))
	}

	if _, err := ParseDuration(c.Staleness.MaxAge); err != nil {
		errs = append(errs, fmt.Errorf("staleness.max_age: %w", err))
	}
	if c.Staleness.DriftThreshold <= 0 {
		errs = append(errs, errors.New("staleness.drift_threshold must be positive"))
	}

	switch strings.ToLower(strings.TrimSpace(c.Mutuals.Ranking)) {
	case "", "query", "followers", "alphabetical":
	default:
		errs = append(errs, fmt.Errorf("unknown mutuals.ranking %q", c.Mutuals.Ranking))
	}

	return errors.Join(errs...)
}

// ParseDuration accepts Go durations ("90m", "1080h") and whole days ("45d").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid day count %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return d, nil
}

// MaxAgeDuration returns the parsed staleness max age. Call after Validate.
func (s StalenessConfig) MaxAgeDuration() time.Duration {
	d, _ := ParseDuration(s.MaxAge)
	return d
}

// TTLDuration returns the parsed cache TTL. Call after Validate.
func (c CacheConfig) TTLDuration() time.Duration {
	d, _ := ParseDuration(c.TTL)
	return d
}

// TimeoutDuration returns the parsed upstream timeout. Call after Validate.
func (s SocialAPIConfig) TimeoutDuration() time.Duration {
	d, _ := ParseDuration(s.Timeout)
	return d
}
