package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Port                      string        `mapstructure:"PORT"`
	Env                       string        `mapstructure:"ENV"`
	DatabaseURL               string        `mapstructure:"DATABASE_URL"`
	DBMaxConns                int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns                int32         `mapstructure:"DB_MIN_CONNS"`
	AuthSigningKey            string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer                string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience              string        `mapstructure:"AUTH_AUDIENCE"`
	DefaultBranch             string        `mapstructure:"DEFAULT_BRANCH"`
	CORSOrigins               []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS              float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst            int           `mapstructure:"RATE_LIMIT_BURST"`
	PipelinePageSize          int           `mapstructure:"PIPELINE_PAGE_SIZE"`
	PipelineExportPageSize    int           `mapstructure:"PIPELINE_EXPORT_PAGE_SIZE"`
	PipelineExportConcurrency int           `mapstructure:"PIPELINE_EXPORT_CONCURRENCY"`
	SearchDebounce            time.Duration `mapstructure:"SEARCH_DEBOUNCE"`
	RequestTimeout            time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	ClinicTimezone            string        `mapstructure:"CLINIC_TIMEZONE"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "DEFAULT_BRANCH",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"PIPELINE_PAGE_SIZE", "PIPELINE_EXPORT_PAGE_SIZE", "PIPELINE_EXPORT_CONCURRENCY",
	"SEARCH_DEBOUNCE", "REQUEST_TIMEOUT", "CLINIC_TIMEZONE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_BRANCH", "main")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("PIPELINE_PAGE_SIZE", 10)
	v.SetDefault("PIPELINE_EXPORT_PAGE_SIZE", 100)
	v.SetDefault("PIPELINE_EXPORT_CONCURRENCY", 4)
	v.SetDefault("SEARCH_DEBOUNCE", "400ms")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("CLINIC_TIMEZONE", "Asia/Ho_Chi_Minh")

	// Bind explicitly so Unmarshal sees env-only keys.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitOrigins(strings.Join(cfg.CORSOrigins, ","))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Warn().Msg("running in development mode: every request is authenticated as admin")
	}

	return cfg, nil
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves CLINIC_TIMEZONE. "Today" and naive timestamps are read in it.
func (c *Config) Location() (*time.Location, error) {
	if c.ClinicTimezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.IsProduction() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required in production")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.PipelinePageSize <= 0 {
		return fmt.Errorf("PIPELINE_PAGE_SIZE must be positive, got %d", c.PipelinePageSize)
	}
	if c.PipelineExportPageSize <= 0 {
		return fmt.Errorf("PIPELINE_EXPORT_PAGE_SIZE must be positive, got %d", c.PipelineExportPageSize)
	}
	if c.PipelineExportConcurrency <= 0 {
		return fmt.Errorf("PIPELINE_EXPORT_CONCURRENCY must be positive, got %d", c.PipelineExportConcurrency)
	}
	if c.SearchDebounce <= 0 {
		return fmt.Errorf("SEARCH_DEBOUNCE must be positive, got %s", c.SearchDebounce)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.DBMaxConns <= 0 {
		return fmt.Errorf("DB_MAX_CONNS must be positive, got %d", c.DBMaxConns)
	}
	return nil
}
