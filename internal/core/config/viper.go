package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/solatis/cascade/internal/logging"
)

// LoadConfig loads configuration with viper.
// Precedence: environment (CASCADE_ prefix, "." -> "_") > config file > defaults.
// The CLI applies its own flags on top of the result.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix("CASCADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{
		Engine: EngineConfig{
			RulesSource:    v.GetString("engine.rules_source"),
			RulesDir:       v.GetString("engine.rules_dir"),
			Workers:        v.GetInt("engine.workers"),
			QueueSize:      v.GetInt("engine.queue_size"),
			HotReload:      v.GetBool("engine.hot_reload"),
			ReloadDebounce: v.GetDuration("engine.reload_debounce"),
		},
		API: APIConfig{
			Host:           v.GetString("api.host"),
			Port:           v.GetInt("api.port"),
			MaxConnections: v.GetInt("api.max_connections"),
			RequestTimeout: v.GetDuration("api.request_timeout"),
			Auth:           v.GetBool("api.auth"),
		},
		Metrics: MetricsConfig{Addr: v.GetString("metrics.addr")},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		DB: DBConfig{URL: v.GetString("db.url")},
	}

	cfg.Archive.BasePath = v.GetString("archive.base_path")
	cfg.Archive.DefaultPath = v.GetString("archive.default_path")
	cfg.Archive.Paths = v.GetStringMapString("archive.paths")
	cfg.Archive.DiscriminatorKey = v.GetString("archive.discriminator_key")
	cfg.Archive.EventKey = v.GetString("archive.event_key")
	cfg.Archive.CacheCapacity = v.GetInt("archive.cache_capacity")
	cfg.Archive.CacheTTL = v.GetDuration("archive.cache_ttl")
	cfg.Archive.SweepInterval = v.GetDuration("archive.sweep_interval")
	cfg.Archive.Separator = v.GetString("archive.separator")

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("engine.rules_source", d.Engine.RulesSource)
	v.SetDefault("engine.rules_dir", d.Engine.RulesDir)
	v.SetDefault("engine.workers", d.Engine.Workers)
	v.SetDefault("engine.queue_size", d.Engine.QueueSize)
	v.SetDefault("engine.hot_reload", d.Engine.HotReload)
	v.SetDefault("engine.reload_debounce", d.Engine.ReloadDebounce.String())

	v.SetDefault("api.host", d.API.Host)
	v.SetDefault("api.port", d.API.Port)
	v.SetDefault("api.max_connections", d.API.MaxConnections)
	v.SetDefault("api.request_timeout", d.API.RequestTimeout.String())
	v.SetDefault("api.auth", d.API.Auth)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("db.url", "")

	v.SetDefault("archive.base_path", d.Archive.BasePath)
	v.SetDefault("archive.default_path", d.Archive.DefaultPath)
	v.SetDefault("archive.paths", map[string]string{})
	v.SetDefault("archive.discriminator_key", d.Archive.DiscriminatorKey)
	v.SetDefault("archive.event_key", d.Archive.EventKey)
	v.SetDefault("archive.cache_capacity", d.Archive.CacheCapacity)
	v.SetDefault("archive.cache_ttl", d.Archive.CacheTTL.String())
	v.SetDefault("archive.sweep_interval", d.Archive.SweepInterval.String())
	v.SetDefault("archive.separator", d.Archive.Separator)
}

// Validate checks ranges and cross-field requirements.
func Validate(cfg *Config) error {
	switch cfg.Engine.RulesSource {
	case RulesSourceDir:
		if cfg.Engine.RulesDir == "" {
			return fmt.Errorf("engine.rules_dir is required when rules_source is %q", RulesSourceDir)
		}
	case RulesSourceSQL:
		if cfg.DB.URL == "" {
			return fmt.Errorf("db.url is required when rules_source is %q", RulesSourceSQL)
		}
		if cfg.Engine.HotReload {
			return fmt.Errorf("engine.hot_reload requires rules_source %q", RulesSourceDir)
		}
	default:
		return fmt.Errorf("engine.rules_source must be %q or %q, got %q", RulesSourceDir, RulesSourceSQL, cfg.Engine.RulesSource)
	}
	if cfg.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be positive, got %d", cfg.Engine.Workers)
	}
	if cfg.Engine.QueueSize < 0 {
		return fmt.Errorf("engine.queue_size must not be negative, got %d", cfg.Engine.QueueSize)
	}

	if cfg.API.Port <= 0 || cfg.API.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.API.Port)
	}
	if cfg.API.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive, got %d", cfg.API.MaxConnections)
	}
	if cfg.API.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.API.RequestTimeout)
	}

	if !logging.ValidLevel(cfg.Log.Level) {
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("log.format must be json or text, got %q", cfg.Log.Format)
	}

	if err := cfg.Archive.Validate(); err != nil {
		return err
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets.
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.IsSet("hmac_secret") || v.IsSet("api.hmac_secret") {
		return fmt.Errorf("HMAC secrets not allowed in config files (use CASCADE_HMAC_SECRET environment variable)")
	}
	return nil
}
