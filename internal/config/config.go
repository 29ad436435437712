package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/fhir-core/server/internal/registry"
)

// Config is the process-wide configuration surface, loaded once at startup
// via viper (env vars + optional .env file) and never mutated afterward.
// Per spec §6 "Configuration surface".
type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	// JWT claim reading for the tenant/identity lifecycle seam (not a full
	// authN/authZ plugin chain — that orchestrator is out of scope, see
	// DESIGN.md).
	AuthIssuer   string `mapstructure:"AUTH_ISSUER"`
	AuthAudience string `mapstructure:"AUTH_AUDIENCE"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`

	// FHIR surface, spec §6.
	ConfigBasePath  string   `mapstructure:"CONFIG_BASE_PATH"`
	ServerBasePath  string   `mapstructure:"SERVER_BASE_PATH"`
	DefaultVersion  string   `mapstructure:"DEFAULT_VERSION"`
	EnabledVersions []string `mapstructure:"ENABLED_VERSIONS"`

	ValidationEnabled                bool   `mapstructure:"VALIDATION_ENABLED"`
	ValidationProfileValidation      string `mapstructure:"VALIDATION_PROFILE_VALIDATION"`
	ValidationValidateSearchParams   bool   `mapstructure:"VALIDATION_VALIDATE_SEARCH_PARAMETERS"`
	ValidationFailOnUnknownSearch    bool   `mapstructure:"VALIDATION_FAIL_ON_UNKNOWN_SEARCH_PARAMETERS"`

	TenantEnabled       bool   `mapstructure:"TENANT_ENABLED"`
	TenantHeaderName    string `mapstructure:"TENANT_HEADER_NAME"`
	TenantDefaultID     string `mapstructure:"TENANT_DEFAULT_TENANT_ID"`
	TenantCacheTTLSecs  int    `mapstructure:"TENANT_CACHE_TTL_SECONDS"`

	RegistryHotReload bool `mapstructure:"REGISTRY_HOT_RELOAD"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	v.SetDefault("CONFIG_BASE_PATH", "./config")
	v.SetDefault("SERVER_BASE_PATH", "/fhir")
	v.SetDefault("DEFAULT_VERSION", "R5")
	v.SetDefault("ENABLED_VERSIONS", "R4B,R5")

	v.SetDefault("VALIDATION_ENABLED", true)
	v.SetDefault("VALIDATION_PROFILE_VALIDATION", "lenient")
	v.SetDefault("VALIDATION_VALIDATE_SEARCH_PARAMETERS", true)
	v.SetDefault("VALIDATION_FAIL_ON_UNKNOWN_SEARCH_PARAMETERS", false)

	v.SetDefault("TENANT_ENABLED", false)
	v.SetDefault("TENANT_HEADER_NAME", "X-Tenant-ID")
	v.SetDefault("TENANT_DEFAULT_TENANT_ID", "default")
	v.SetDefault("TENANT_CACHE_TTL_SECONDS", 300)

	v.SetDefault("REGISTRY_HOT_RELOAD", false)

	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"CORS_ORIGINS", "AUTH_ISSUER", "AUTH_AUDIENCE",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
		"CONFIG_BASE_PATH", "SERVER_BASE_PATH", "DEFAULT_VERSION", "ENABLED_VERSIONS",
		"VALIDATION_ENABLED", "VALIDATION_PROFILE_VALIDATION",
		"VALIDATION_VALIDATE_SEARCH_PARAMETERS", "VALIDATION_FAIL_ON_UNKNOWN_SEARCH_PARAMETERS",
		"TENANT_ENABLED", "TENANT_HEADER_NAME", "TENANT_DEFAULT_TENANT_ID", "TENANT_CACHE_TTL_SECONDS",
		"REGISTRY_HOT_RELOAD",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	if cfg.EnabledVersions == nil {
		if versions := v.GetString("ENABLED_VERSIONS"); versions != "" {
			cfg.EnabledVersions = strings.Split(versions, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is internally consistent before
// the server starts accepting requests.
func (c *Config) Validate() error {
	if c.ValidationProfileValidation != "strict" && c.ValidationProfileValidation != "lenient" && c.ValidationProfileValidation != "off" {
		return fmt.Errorf("VALIDATION_PROFILE_VALIDATION must be \"strict\", \"lenient\", or \"off\", got %q", c.ValidationProfileValidation)
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	if len(c.RegistryVersions()) == 0 {
		return fmt.Errorf("ENABLED_VERSIONS must name at least one of R4B, R5")
	}
	if !c.versionKnown(c.DefaultVersion) {
		return fmt.Errorf("DEFAULT_VERSION %q must be one of ENABLED_VERSIONS", c.DefaultVersion)
	}

	return nil
}

func (c *Config) versionKnown(v string) bool {
	for _, ev := range c.EnabledVersions {
		if ev == v {
			return true
		}
	}
	return false
}

// RegistryVersions converts the configured ENABLED_VERSIONS strings into
// registry.Version values, dropping anything unrecognized.
func (c *Config) RegistryVersions() []registry.Version {
	out := make([]registry.Version, 0, len(c.EnabledVersions))
	for _, v := range c.EnabledVersions {
		switch registry.Version(v) {
		case registry.R4B, registry.R5:
			out = append(out, registry.Version(v))
		}
	}
	return out
}

// RegistryConfig builds the registry.Config used by registry.Load from this
// Config's version settings.
func (c *Config) RegistryConfig() registry.Config {
	return registry.Config{
		DefaultVersion:  registry.Version(c.DefaultVersion),
		EnabledVersions: c.RegistryVersions(),
	}
}
