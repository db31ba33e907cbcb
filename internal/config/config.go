// Package config loads imagery-cli configuration and bootstraps logging.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Providers    ProvidersConfig    `yaml:"providers" mapstructure:"providers"`
	Google       GoogleConfig       `yaml:"google" mapstructure:"google"`
	Foursquare   FoursquareConfig   `yaml:"foursquare" mapstructure:"foursquare"`
	Unsplash     UnsplashConfig     `yaml:"unsplash" mapstructure:"unsplash"`
	Pexels       PexelsConfig       `yaml:"pexels" mapstructure:"pexels"`
	Pricing      PricingConfig      `yaml:"pricing" mapstructure:"pricing"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Staleness    StalenessConfig    `yaml:"staleness" mapstructure:"staleness"`
	Coordinator  CoordinatorConfig  `yaml:"coordinator" mapstructure:"coordinator"`
	Runner       RunnerConfig       `yaml:"runner" mapstructure:"runner"`
	Resilience   ResilienceConfig   `yaml:"resilience" mapstructure:"resilience"`
	Temporal     TemporalConfig     `yaml:"temporal" mapstructure:"temporal"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend. For sqlite, DatabaseURL is
// the database file path.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ProvidersConfig selects where the provider registry is read from.
type ProvidersConfig struct {
	// Source is "file" or "store".
	Source       string `yaml:"source" mapstructure:"source"`
	File         string `yaml:"file" mapstructure:"file"`
	CacheTTLSecs int    `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
}

// CacheTTL returns the registry cache TTL.
func (c ProvidersConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}

// GoogleConfig holds Google Places API settings.
type GoogleConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	MaxPhotos int    `yaml:"max_photos" mapstructure:"max_photos"`
	MaxWidth  int    `yaml:"max_width" mapstructure:"max_width"`
}

// FoursquareConfig holds Foursquare Places API settings.
type FoursquareConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Limit   int    `yaml:"limit" mapstructure:"limit"`
}

// UnsplashConfig holds Unsplash API settings.
type UnsplashConfig struct {
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	PerPage   int    `yaml:"per_page" mapstructure:"per_page"`
}

// PexelsConfig holds Pexels API settings.
type PexelsConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	PerPage int    `yaml:"per_page" mapstructure:"per_page"`
}

// PricingConfig overrides per-image prices from the provider registry.
type PricingConfig struct {
	PerImage map[string]float64 `yaml:"per_image" mapstructure:"per_image"`
}

// OrchestratorConfig configures provider fan-in for one entity.
type OrchestratorConfig struct {
	ProviderTimeoutSecs int  `yaml:"provider_timeout_secs" mapstructure:"provider_timeout_secs"`
	CircuitBreakers     bool `yaml:"circuit_breakers" mapstructure:"circuit_breakers"`
}

// ProviderTimeout returns the per-call provider timeout.
func (c OrchestratorConfig) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSecs) * time.Second
}

// StalenessConfig configures refresh thresholds.
type StalenessConfig struct {
	EmptyAfterDays     int      `yaml:"empty_after_days" mapstructure:"empty_after_days"`
	FoundAfterDays     int      `yaml:"found_after_days" mapstructure:"found_after_days"`
	GalleryRefreshDays int      `yaml:"gallery_refresh_days" mapstructure:"gallery_refresh_days"`
	Categories         []string `yaml:"categories" mapstructure:"categories"`
}

// CoordinatorConfig configures fan-out planning.
type CoordinatorConfig struct {
	MinVenues int `yaml:"min_venues" mapstructure:"min_venues"`
}

// RunnerConfig configures the job execution pool.
type RunnerConfig struct {
	Concurrency        int     `yaml:"concurrency" mapstructure:"concurrency"`
	BatchSize          int     `yaml:"batch_size" mapstructure:"batch_size"`
	PollIntervalSecs   int     `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	AttemptTimeoutSecs int     `yaml:"attempt_timeout_secs" mapstructure:"attempt_timeout_secs"`
	MaxAttempts        int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffInitialSecs int     `yaml:"backoff_initial_secs" mapstructure:"backoff_initial_secs"`
	BackoffMaxSecs     int     `yaml:"backoff_max_secs" mapstructure:"backoff_max_secs"`
	BackoffMultiplier  float64 `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	BackoffJitter      float64 `yaml:"backoff_jitter" mapstructure:"backoff_jitter"`
}

// ResilienceConfig configures per-provider circuit breakers.
type ResilienceConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// TemporalConfig configures the Temporal activity worker.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures webhook alerts on job outcomes and breakers.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinFinishedJobs      int     `yaml:"min_finished_jobs" mapstructure:"min_finished_jobs"`
	DeadJobThreshold     int     `yaml:"dead_job_threshold" mapstructure:"dead_job_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("IMAGERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	// Secrets usually arrive via env only; AutomaticEnv needs the keys known.
	for _, k := range []string{"store.database_url", "google.key", "foursquare.key", "unsplash.access_key", "pexels.key", "monitoring.webhook_url"} {
		v.SetDefault(k, "")
	}
	v.SetDefault("providers.source", "file")
	v.SetDefault("providers.file", "providers.yaml")
	v.SetDefault("providers.cache_ttl_secs", 300)
	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("google.max_photos", 10)
	v.SetDefault("google.max_width", 1600)
	v.SetDefault("foursquare.base_url", "https://api.foursquare.com/v3")
	v.SetDefault("foursquare.limit", 10)
	v.SetDefault("unsplash.base_url", "https://api.unsplash.com")
	v.SetDefault("unsplash.per_page", 10)
	v.SetDefault("pexels.base_url", "https://api.pexels.com/v1")
	v.SetDefault("pexels.per_page", 10)
	v.SetDefault("orchestrator.provider_timeout_secs", 15)
	v.SetDefault("orchestrator.circuit_breakers", true)
	v.SetDefault("staleness.empty_after_days", 7)
	v.SetDefault("staleness.found_after_days", 90)
	v.SetDefault("staleness.gallery_refresh_days", 30)
	v.SetDefault("staleness.categories", []string{"landmarks", "streets", "food", "nature"})
	v.SetDefault("coordinator.min_venues", 1)
	v.SetDefault("runner.concurrency", 5)
	v.SetDefault("runner.batch_size", 20)
	v.SetDefault("runner.poll_interval_secs", 5)
	v.SetDefault("runner.attempt_timeout_secs", 120)
	v.SetDefault("runner.max_attempts", 5)
	v.SetDefault("runner.backoff_initial_secs", 30)
	v.SetDefault("runner.backoff_max_secs", 1800)
	v.SetDefault("runner.backoff_multiplier", 2.0)
	v.SetDefault("runner.backoff_jitter", 0.25)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "imagery-enrichment")
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.min_finished_jobs", 10)
	v.SetDefault("monitoring.dead_job_threshold", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes: serve,
// coordinate, work, enrich, temporal, sync, list, migrate.
func (c *Config) Validate(mode string) error {
	var missing []string

	switch mode {
	case "serve", "coordinate", "work", "enrich", "temporal", "sync", "migrate":
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url")
		}
	case "list":
		if c.Providers.Source == "store" && c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url")
		}
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	switch mode {
	case "serve", "work", "enrich", "temporal":
		if !c.HasProviderCredentials() {
			missing = append(missing, "google.key|foursquare.key|unsplash.access_key|pexels.key")
		}
	}
	if mode == "temporal" {
		if c.Temporal.HostPort == "" {
			missing = append(missing, "temporal.host_port")
		}
		if c.Temporal.TaskQueue == "" {
			missing = append(missing, "temporal.task_queue")
		}
	}
	if c.Providers.Source == "file" && c.Providers.File == "" {
		missing = append(missing, "providers.file")
	}
	if len(missing) > 0 {
		return eris.Errorf("config: missing required fields for %s: %s", mode, strings.Join(missing, ", "))
	}

	if mode == "serve" && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return eris.Errorf("config: server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Runner.Concurrency < 1 || c.Runner.Concurrency > 100 {
		return eris.Errorf("config: runner.concurrency must be 1-100, got %d", c.Runner.Concurrency)
	}
	if c.Runner.MaxAttempts < 1 {
		return eris.Errorf("config: runner.max_attempts must be >= 1, got %d", c.Runner.MaxAttempts)
	}
	if c.Staleness.EmptyAfterDays < 1 || c.Staleness.FoundAfterDays < 1 || c.Staleness.GalleryRefreshDays < 1 {
		return eris.New("config: staleness thresholds must be positive")
	}
	if c.Orchestrator.ProviderTimeoutSecs < 1 {
		return eris.Errorf("config: orchestrator.provider_timeout_secs must be >= 1, got %d", c.Orchestrator.ProviderTimeoutSecs)
	}
	switch c.Providers.Source {
	case "file", "store":
	default:
		return eris.Errorf("config: providers.source must be file or store, got %q", c.Providers.Source)
	}
	return nil
}

// HasProviderCredentials reports whether at least one image provider has a
// key configured.
func (c *Config) HasProviderCredentials() bool {
	return c.Google.Key != "" || c.Foursquare.Key != "" || c.Unsplash.AccessKey != "" || c.Pexels.Key != ""
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
