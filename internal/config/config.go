package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the remediation engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Runner    RunnerConfig    `yaml:"runner"`
	Ticketing TicketingConfig `yaml:"ticketing"`
	Store     StoreConfig     `yaml:"store"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
	Cache     CacheConfig     `yaml:"cache"`
}

// ServerConfig controls the health listener and metrics endpoint.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// OracleConfig configures the decision-oracle chat endpoint.
type OracleConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
}

// RunnerConfig configures the automation runner (AWX-compatible) API.
type RunnerConfig struct {
	BaseURL    string        `yaml:"baseURL"`
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout"`
	CatalogTTL time.Duration `yaml:"catalogTTL"`
}

// TicketingConfig configures the incident-tracking system API.
type TicketingConfig struct {
	BaseURL  string        `yaml:"baseURL"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Token    string        `yaml:"token"`
	Timeout  time.Duration `yaml:"timeout"`
}

// StoreConfig configures the stage-record document store.
type StoreConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CatalogConfig controls loading of the label-to-playbook policy table.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// ExecutorConfig bounds remote job execution.
type ExecutorConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	JobTimeout   time.Duration `yaml:"jobTimeout"`
}

// SchedulerConfig controls the ticketing poller.
type SchedulerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	PollInterval     time.Duration `yaml:"pollInterval"`
	IncidentsPerPoll int           `yaml:"incidentsPerPoll"`
	MaxConcurrent    int           `yaml:"maxConcurrent"`
	ProcessedTTL     time.Duration `yaml:"processedTTL"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls Valkey-backed caching of catalog snapshots and
// scheduler dedupe keys.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("REMEDY_ENGINE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50061",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Oracle: OracleConfig{
			Model:   "llama3",
			Timeout: 60 * time.Second,
		},
		Runner: RunnerConfig{
			Timeout:    30 * time.Second,
			CatalogTTL: time.Minute,
		},
		Ticketing: TicketingConfig{Timeout: 30 * time.Second},
		Store:     StoreConfig{Timeout: 5 * time.Second},
		Catalog:   CatalogConfig{Path: "configs/playbook-policy.yaml"},
		Executor: ExecutorConfig{
			PollInterval: 2 * time.Second,
			JobTimeout:   5 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			Enabled:          true,
			PollInterval:     30 * time.Second,
			IncidentsPerPoll: 5,
			MaxConcurrent:    2,
			ProcessedTTL:     24 * time.Hour,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REMEDY_ENGINE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("REMEDY_ENGINE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("REMEDY_ORACLE_BASE_URL"); v != "" {
		cfg.Oracle.BaseURL = v
	}
	if v := os.Getenv("REMEDY_ORACLE_MODEL"); v != "" {
		cfg.Oracle.Model = v
	}
	if v := os.Getenv("REMEDY_RUNNER_BASE_URL"); v != "" {
		cfg.Runner.BaseURL = v
	}
	if v := os.Getenv("REMEDY_RUNNER_TOKEN"); v != "" {
		cfg.Runner.Token = v
	}
	if v := os.Getenv("REMEDY_RUNNER_CATALOG_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Runner.CatalogTTL = d
		}
	}
	if v := os.Getenv("REMEDY_TICKETING_BASE_URL"); v != "" {
		cfg.Ticketing.BaseURL = v
	}
	if v := os.Getenv("REMEDY_TICKETING_USERNAME"); v != "" {
		cfg.Ticketing.Username = v
	}
	if v := os.Getenv("REMEDY_TICKETING_PASSWORD"); v != "" {
		cfg.Ticketing.Password = v
	}
	if v := os.Getenv("REMEDY_TICKETING_TOKEN"); v != "" {
		cfg.Ticketing.Token = v
	}
	if v := os.Getenv("REMEDY_STORE_ENDPOINT"); v != "" {
		cfg.Store.Endpoint = v
	}
	if v := os.Getenv("REMEDY_STORE_API_KEY"); v != "" {
		cfg.Store.APIKey = v
	}
	if v := os.Getenv("REMEDY_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}
	if v := os.Getenv("REMEDY_EXECUTOR_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Executor.PollInterval = d
		}
	}
	if v := os.Getenv("REMEDY_EXECUTOR_JOB_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Executor.JobTimeout = d
		}
	}
	if v := os.Getenv("REMEDY_SCHEDULER_ENABLED"); v != "" {
		cfg.Scheduler.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("REMEDY_SCHEDULER_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.PollInterval = d
		}
	}
	if v := os.Getenv("REMEDY_SCHEDULER_INCIDENTS_PER_POLL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.IncidentsPerPoll = n
		}
	}
	if v := os.Getenv("REMEDY_SCHEDULER_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.MaxConcurrent = n
		}
	}
	if v := os.Getenv("REMEDY_ENGINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("REMEDY_ENGINE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("REMEDY_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("REMEDY_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("REMEDY_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("REMEDY_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("REMEDY_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("REMEDY_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("REMEDY_CACHE_MAX_RETRIES"); v != "" {
		if retry, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxRetries = retry
		}
	}
}
