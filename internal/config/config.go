// File: internal/config/config.go
package config

import (
	"fmt"
	"math"
	"runtime"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Scraper ScraperConfig `mapstructure:"scraper" yaml:"scraper"`
	Site    SiteConfig    `mapstructure:"site" yaml:"site"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins       []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	RateLimitRPS      float64       `mapstructure:"rate_limit_rps" yaml:"rate_limit_rps"`
	RateLimitBurst    int           `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
	CompressionLevel  int           `mapstructure:"compression_level" yaml:"compression_level"`
}

// EngineConfig configures the task scheduler.
type EngineConfig struct {
	// WorkerConcurrency of 0 derives the worker count from the host's logical cores.
	WorkerConcurrency int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	QueueSize         int           `mapstructure:"queue_size" yaml:"queue_size"`
	JobTimeout        time.Duration `mapstructure:"job_timeout" yaml:"job_timeout"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless      bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath      string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args          []string      `mapstructure:"args" yaml:"args"`
	WindowWidth   int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight  int           `mapstructure:"window_height" yaml:"window_height"`
	UserAgent     string        `mapstructure:"user_agent" yaml:"user_agent"`
	LaunchTimeout time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	CloseTimeout  time.Duration `mapstructure:"close_timeout" yaml:"close_timeout"`
}

// ScraperConfig tunes the page interaction protocol.
type ScraperConfig struct {
	ReadyTimeout time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout"`
	FilterSettle time.Duration `mapstructure:"filter_settle" yaml:"filter_settle"`
	// MaxPageSteps caps the pagination loop. Zero leaves it unbounded, in which case
	// only the caller's job timeout bounds a request for an unreachable page.
	MaxPageSteps int `mapstructure:"max_page_steps" yaml:"max_page_steps"`
}

// SiteConfig holds the two base URLs of the scraped site.
type SiteConfig struct {
	SearchPageURL string `mapstructure:"search_page_url" yaml:"search_page_url"`
	CarPageURL    string `mapstructure:"car_page_url" yaml:"car_page_url"`
}

// CacheConfig configures the response cache used by the filter endpoints.
type CacheConfig struct {
	Backend     string        `mapstructure:"backend" yaml:"backend"`
	TTL         time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Size        int           `mapstructure:"size" yaml:"size"`
	RedisAddr   string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPrefix string        `mapstructure:"redis_prefix" yaml:"redis_prefix"`
}

// TracingConfig toggles the stdout span exporter.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Pretty  bool `mapstructure:"pretty" yaml:"pretty"`
}

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "carlot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "red")

	// -- Server --
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.read_header_timeout", "10s")
	v.SetDefault("server.idle_timeout", "2m")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit_rps", 0)
	v.SetDefault("server.rate_limit_burst", 10)
	v.SetDefault("server.compression_level", 5)

	// -- Engine --
	v.SetDefault("engine.worker_concurrency", 0)
	v.SetDefault("engine.queue_size", 1000)
	v.SetDefault("engine.job_timeout", "30s")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 720)
	v.SetDefault("browser.launch_timeout", "60s")
	v.SetDefault("browser.close_timeout", "10s")

	// -- Scraper --
	v.SetDefault("scraper.ready_timeout", "30s")
	v.SetDefault("scraper.filter_settle", "300ms")
	v.SetDefault("scraper.max_page_steps", 0)

	// -- Cache --
	v.SetDefault("cache.backend", CacheBackendMemory)
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.size", 256)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_prefix", "carlot:")

	// -- Tracing --
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.pretty", false)
}

// BindEnv wires the environment variables that predate the CARLOT_ prefix.
func BindEnv(v *viper.Viper) {
	_ = v.BindEnv("site.search_page_url", "CARLOT_SITE_SEARCH_PAGE_URL", "SEARCHPAGE_URL")
	_ = v.BindEnv("site.car_page_url", "CARLOT_SITE_CAR_PAGE_URL", "CARPAGE_URL")
	_ = v.BindEnv("cache.redis_addr", "CARLOT_CACHE_REDIS_ADDR", "REDIS_ADDR")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	BindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	var err error
	if c.Logger.LogFile, err = homedir.Expand(c.Logger.LogFile); err != nil {
		return fmt.Errorf("logger.log_file: %w", err)
	}
	if c.Browser.ExecPath, err = homedir.Expand(c.Browser.ExecPath); err != nil {
		return fmt.Errorf("browser.exec_path: %w", err)
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Site.SearchPageURL) == "" {
		return fmt.Errorf("site.search_page_url is required (SEARCHPAGE_URL)")
	}
	if strings.TrimSpace(c.Site.CarPageURL) == "" {
		return fmt.Errorf("site.car_page_url is required (CARPAGE_URL)")
	}
	if c.Engine.WorkerConcurrency < 0 {
		return fmt.Errorf("engine.worker_concurrency must not be negative")
	}
	if c.Engine.QueueSize <= 0 {
		return fmt.Errorf("engine.queue_size must be a positive integer")
	}
	if c.Engine.JobTimeout <= 0 {
		return fmt.Errorf("engine.job_timeout must be a positive duration")
	}
	if c.Scraper.ReadyTimeout <= 0 {
		return fmt.Errorf("scraper.ready_timeout must be a positive duration")
	}
	if c.Scraper.MaxPageSteps < 0 {
		return fmt.Errorf("scraper.max_page_steps must not be negative")
	}
	switch c.Cache.Backend {
	case CacheBackendMemory, CacheBackendRedis:
	default:
		return fmt.Errorf("cache.backend must be %q or %q, got %q", CacheBackendMemory, CacheBackendRedis, c.Cache.Backend)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be a positive duration")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be a positive duration")
	}
	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("server.rate_limit_rps must not be negative")
	}
	return nil
}

// logicalCores is swapped in tests.
var logicalCores = func() (int, error) { return cpu.Counts(true) }

// Workers resolves the scheduler's worker count. An explicit setting wins;
// otherwise it is one and a half times the logical core count, at least one.
func (e EngineConfig) Workers() int {
	if e.WorkerConcurrency > 0 {
		return e.WorkerConcurrency
	}
	n, err := logicalCores()
	if err != nil || n <= 0 {
		n = runtime.NumCPU()
	}
	return max(1, int(math.Ceil(float64(n)*1.5)))
}
