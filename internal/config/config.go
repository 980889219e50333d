// Package config loads the hub configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/heremaps/xyz-hub-sub003/internal/core/domain"
)

// EnvPrefix prefixes environment overrides: XYZHUB_SERVER__PORT sets server.port.
const EnvPrefix = "XYZHUB_"

type Config struct {
	Server  ServerConfig  `koanf:"server" yaml:"server"`
	Storage StorageConfig `koanf:"storage" yaml:"storage"`
	// Storages are additional named back-ends spaces may select.
	Storages []StorageConfig `koanf:"storages" yaml:"storages,omitempty"`
	Limits   LimitsConfig    `koanf:"limits" yaml:"limits"`
	Tenants  []TenantConfig  `koanf:"tenants" yaml:"tenants,omitempty"`
	Spaces   []SpaceConfig   `koanf:"spaces" yaml:"spaces,omitempty"`
	Tracing  TracingConfig   `koanf:"tracing" yaml:"tracing"`
	Log      LogConfig       `koanf:"log" yaml:"log"`
}

type ServerConfig struct {
	Port int `koanf:"port" yaml:"port"`
	// RequestTimeout is a duration string like "30s".
	RequestTimeout string `koanf:"request_timeout" yaml:"request_timeout"`
	MaxBodyBytes   int64  `koanf:"max_body_bytes" yaml:"max_body_bytes"`
}

// Timeout returns the parsed request timeout, or 0 when unset or invalid.
func (s ServerConfig) Timeout() time.Duration {
	d, err := time.ParseDuration(s.RequestTimeout)
	if err != nil {
		return 0
	}
	return d
}

type StorageConfig struct {
	ID   string `koanf:"id" yaml:"id,omitempty"`
	Type string `koanf:"type" yaml:"type"` // memory, sqlite, postgres, s3
	// DSN is the data source name of the sql back-ends.
	DSN      string `koanf:"dsn" yaml:"dsn,omitempty"`
	Bucket   string `koanf:"bucket" yaml:"bucket,omitempty"`
	Prefix   string `koanf:"prefix" yaml:"prefix,omitempty"`
	Region   string `koanf:"region" yaml:"region,omitempty"`
	Endpoint string `koanf:"endpoint" yaml:"endpoint,omitempty"`
	// PathStyle addresses buckets by path, as S3-compatible servers expect.
	PathStyle bool `koanf:"path_style" yaml:"path_style,omitempty"`
}

type LimitsConfig struct {
	// GlobalInflightMB caps the request bytes processed at once; 0 disables
	// throttling.
	GlobalInflightMB int64   `koanf:"global_inflight_mb" yaml:"global_inflight_mb"`
	Threshold        float64 `koanf:"threshold" yaml:"threshold"`
	DefaultShare     float64 `koanf:"default_share" yaml:"default_share"`
	// Shares overrides the share of the global limit per storage id.
	Shares map[string]float64 `koanf:"shares" yaml:"shares,omitempty"`
}

type TenantConfig struct {
	ID      string         `koanf:"id" yaml:"id"`
	Name    string         `koanf:"name" yaml:"name,omitempty"`
	APIKeys []APIKeyConfig `koanf:"api_keys" yaml:"api_keys"`
}

type APIKeyConfig struct {
	KeyHash     string `koanf:"key_hash" yaml:"key_hash"`
	Description string `koanf:"description" yaml:"description,omitempty"`
}

// SpaceConfig declares a space that is not stored but served from
// configuration.
type SpaceConfig struct {
	ID            string `koanf:"id" yaml:"id"`
	Owner         string `koanf:"owner" yaml:"owner,omitempty"`
	Title         string `koanf:"title" yaml:"title,omitempty"`
	Storage       string `koanf:"storage" yaml:"storage,omitempty"`
	EnableUUID    bool   `koanf:"enable_uuid" yaml:"enable_uuid,omitempty"`
	EnableHistory bool   `koanf:"enable_history" yaml:"enable_history,omitempty"`
	PrefixID      string `koanf:"prefix_id" yaml:"prefix_id,omitempty"`
	ReadOnly      bool   `koanf:"read_only" yaml:"read_only,omitempty"`
	MaxFeatures   int64  `koanf:"max_features" yaml:"max_features,omitempty"`
}

// Space converts the declaration into a space definition.
func (s SpaceConfig) Space() *domain.Space {
	return &domain.Space{
		ID:            s.ID,
		Owner:         s.Owner,
		Title:         s.Title,
		Storage:       s.Storage,
		EnableUUID:    s.EnableUUID,
		EnableHistory: s.EnableHistory,
		PrefixID:      s.PrefixID,
		ReadOnly:      s.ReadOnly,
		MaxFeatures:   s.MaxFeatures,
	}
}

// DeclaredSpaces returns the configured space definitions.
func (c *Config) DeclaredSpaces() []*domain.Space {
	out := make([]*domain.Space, 0, len(c.Spaces))
	for _, s := range c.Spaces {
		out = append(out, s.Space())
	}
	return out
}

type TracingConfig struct {
	Enabled     bool   `koanf:"enabled" yaml:"enabled"`
	ServiceName string `koanf:"service_name" yaml:"service_name"`
}

type LogConfig struct {
	Level string `koanf:"level" yaml:"level"` // debug, info, warn, error
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (a missing file is tolerated), applies XYZHUB_ environment
// overrides and fills defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	defaults := map[string]any{
		"server.port":            8080,
		"server.request_timeout": "30s",
		"server.max_body_bytes":  int64(10 << 20),
		"storage.type":           "memory",
		"limits.threshold":       0.9,
		"limits.default_share":   0.5,
		"tracing.service_name":   "xyzhub",
		"log.level":              "info",
	}
	for key, v := range defaults {
		if !k.Exists(key) {
			if err := k.Set(key, v); err != nil {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Storage = expandStorage(cfg.Storage)
	for i := range cfg.Storages {
		cfg.Storages[i] = expandStorage(cfg.Storages[i])
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func expandStorage(s StorageConfig) StorageConfig {
	s.DSN = substituteEnvVars(s.DSN)
	s.Bucket = substituteEnvVars(s.Bucket)
	s.Endpoint = substituteEnvVars(s.Endpoint)
	return s
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate reports configuration errors that would only surface at request
// time otherwise.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.RequestTimeout != "" && c.Server.Timeout() == 0 {
		errs = append(errs, fmt.Errorf("server.request_timeout: invalid duration %q", c.Server.RequestTimeout))
	}
	if c.Limits.Threshold <= 0 || c.Limits.Threshold > 1 {
		errs = append(errs, fmt.Errorf("limits.threshold must be in (0, 1], got %v", c.Limits.Threshold))
	}

	ids := map[string]bool{"default": true}
	if err := validateStorage(c.Storage); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}
	for i, s := range c.Storages {
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("storages[%d]: id is required", i))
		} else if ids[s.ID] {
			errs = append(errs, fmt.Errorf("storages[%d]: duplicate id %q", i, s.ID))
		}
		ids[s.ID] = true
		if err := validateStorage(s); err != nil {
			errs = append(errs, fmt.Errorf("storages[%d]: %w", i, err))
		}
	}

	for i, t := range c.Tenants {
		if t.ID == "" {
			errs = append(errs, fmt.Errorf("tenants[%d]: id is required", i))
		}
	}
	for i, s := range c.Spaces {
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("spaces[%d]: id is required", i))
		}
		if s.Storage != "" && !ids[s.Storage] {
			errs = append(errs, fmt.Errorf("spaces[%d]: unknown storage %q", i, s.Storage))
		}
	}
	return errors.Join(errs...)
}

func validateStorage(s StorageConfig) error {
	switch s.Type {
	case "memory":
		return nil
	case "sqlite", "postgres":
		if s.DSN == "" {
			return fmt.Errorf("%s storage needs a dsn", s.Type)
		}
		return nil
	case "s3":
		if s.Bucket == "" {
			return errors.New("s3 storage needs a bucket")
		}
		return nil
	default:
		return fmt.Errorf("unknown storage type %q", s.Type)
	}
}
