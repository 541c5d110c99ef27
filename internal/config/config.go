package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server        ServerConfig       `json:"server"`
	Database      DatabaseConfig     `json:"database"`
	Clustering    ClusteringConfig   `json:"clustering"`
	Matching      MatchingConfig     `json:"matching"`
	Ranking       RankingConfig      `json:"ranking"`
	SourceWeights map[string]float64 `json:"source_weights"`
	Schedule      ScheduleConfig     `json:"schedule"`
	Notify        NotifyConfig       `json:"notify"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type ClusteringConfig struct {
	SimilarityThreshold float64 `json:"similarity_threshold"`
	MinClusterSize      int     `json:"min_cluster_size"`
	MaxClusterSize      int     `json:"max_cluster_size"`
	BatchSize           int     `json:"batch_size"`
}

type MatchingConfig struct {
	MinScore      float64 `json:"min_score"`
	Limit         int     `json:"limit"`
	RatePerSecond float64 `json:"rate_per_second"`
	BrandsFile    string  `json:"brands_file"`
}

type RankingConfig struct {
	Timezone        string   `json:"timezone"`
	ExcludedSources []string `json:"excluded_sources"`
	CacheTTL        string   `json:"cache_ttl"`
}

// ScheduleConfig holds cron expressions; an empty one disables the job.
type ScheduleConfig struct {
	Cluster     string `json:"cluster"`
	Match       string `json:"match"`
	RankDaily   string `json:"rank_daily"`
	RankMonthly string `json:"rank_monthly"`
	Timeout     string `json:"timeout"`
}

type NotifyConfig struct {
	Top     int           `json:"top"`
	Slack   ChannelConfig `json:"slack"`
	Discord ChannelConfig `json:"discord"`
}

type ChannelConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

// defaultTimezone is where the ranked audience lives.
const defaultTimezone = "Asia/Seoul"

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable
// references and fills unset fields with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Defaults()
	return &cfg, nil
}

// Defaults fills zero values with the documented defaults.
func (c *Config) Defaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Clustering.SimilarityThreshold == 0 {
		c.Clustering.SimilarityThreshold = 0.7
	}
	if c.Clustering.MinClusterSize == 0 {
		c.Clustering.MinClusterSize = 2
	}
	if c.Clustering.MaxClusterSize == 0 {
		c.Clustering.MaxClusterSize = 50
	}
	if c.Clustering.BatchSize == 0 {
		c.Clustering.BatchSize = 1000
	}
	if c.Matching.MinScore == 0 {
		c.Matching.MinScore = 30
	}
	if c.Matching.Limit == 0 {
		c.Matching.Limit = 20
	}
	if c.Ranking.Timezone == "" {
		c.Ranking.Timezone = defaultTimezone
	}
	if c.Notify.Top == 0 {
		c.Notify.Top = 10
	}
}

// Location resolves the ranking timezone. Hosts without tzdata fall back
// to a fixed +09:00 zone for the default.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Ranking.Timezone)
	if err == nil {
		return loc, nil
	}
	if c.Ranking.Timezone == defaultTimezone {
		return time.FixedZone("KST", 9*60*60), nil
	}
	return nil, fmt.Errorf("load timezone %q: %w", c.Ranking.Timezone, err)
}

// Duration parses an optional duration string, returning def when empty.
func Duration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return d, nil
}
