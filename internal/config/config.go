// Package config loads the exec-server's YAML configuration, grounded
// on the reference's per-service config.go pattern (loadYAML + typed
// sub-structs + post-load defaulting), generalized across every
// ambient and domain dependency this service wires.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"coderunner/internal/common/cache"
	"coderunner/internal/common/db"
	"coderunner/internal/common/storage"
	"coderunner/internal/execengine/langspec"
	"coderunner/internal/execengine/pool"
	"coderunner/pkg/utils/logger"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultGRPCHealthAddr  = "0.0.0.0:9090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownTimeout = 15 * time.Second
	defaultMaxCodeBytes    = 1 << 20
	defaultHotTTL          = 2 * time.Hour
	defaultColdTTL         = 24 * time.Hour
	defaultSweepInterval   = 5 * time.Minute
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// GRPCConfig holds the gRPC health listener's address.
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// AuthConfig controls the API-key/session-token authentication layer.
type AuthConfig struct {
	Enabled   bool              `yaml:"enabled"`
	JWTSecret string            `yaml:"jwtSecret"`
	JWTIssuer string            `yaml:"jwtIssuer"`
	TokenTTL  time.Duration     `yaml:"tokenTTL"`
	Keys      map[string]string `yaml:"keys"` // keyID -> bcrypt hash
}

// StateStoreConfig controls the two-tier session snapshot store.
type StateStoreConfig struct {
	MaxSnapshotBytes int64         `yaml:"maxSnapshotBytes"`
	HotTTL           time.Duration `yaml:"hotTTL"`
	ColdTTL          time.Duration `yaml:"coldTTL"`
	SweepInterval    time.Duration `yaml:"sweepInterval"`
	Bucket           string        `yaml:"bucket"`
}

// PoolLanguageConfig configures one interactive language's pre-warmed
// population, mirroring pool.Config's YAML-facing fields.
type PoolLanguageConfig struct {
	Language       string        `yaml:"language"`
	Target         int           `yaml:"target"`
	Launchers      int           `yaml:"launchers"`
	TTL            time.Duration `yaml:"ttl"`
	AcquireTimeout time.Duration `yaml:"acquireTimeout"`
}

// AppConfig is the exec-server's full configuration surface.
type AppConfig struct {
	Server ServerConfig  `yaml:"server"`
	GRPC   GRPCConfig    `yaml:"grpc"`
	Logger logger.Config `yaml:"logger"`
	Auth   AuthConfig    `yaml:"auth"`

	Redis    cache.RedisConfig     `yaml:"redis"`
	MinIO    storage.MinIOConfig   `yaml:"minio"`
	Database db.MySQLConfig        `yaml:"database"`
	Audit    AuditConfig           `yaml:"audit"`
	State    StateStoreConfig      `yaml:"stateStore"`
	Pools    []PoolLanguageConfig  `yaml:"pools"`
	Limits   ExecutionLimitsConfig `yaml:"limits"`
	Intake   IntakeConfig          `yaml:"intake"`
}

// AuditConfig controls the optional MySQL execution audit log.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ExecutionLimitsConfig bounds request validation.
type ExecutionLimitsConfig struct {
	MaxCodeBytes    int64         `yaml:"maxCodeBytes"`
	DefaultWallTime time.Duration `yaml:"defaultWallTime"`
}

// IntakeConfig controls the optional Kafka batch-queue intake.
type IntakeConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	Topic         string   `yaml:"topic"`
	ConsumerGroup string   `yaml:"consumerGroup"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// Load reads and defaults the exec-server configuration at path.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.MinIO.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.State.Bucket == "" {
		cfg.State.Bucket = cfg.MinIO.Bucket
	}
	if len(cfg.Pools) == 0 {
		return nil, fmt.Errorf("at least one interactive language pool must be configured")
	}

	applyRedisDefaults(&cfg.Redis)

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.GRPC.Addr == "" {
		cfg.GRPC.Addr = defaultGRPCHealthAddr
	}

	if cfg.Limits.MaxCodeBytes <= 0 {
		cfg.Limits.MaxCodeBytes = defaultMaxCodeBytes
	}
	if cfg.Limits.DefaultWallTime <= 0 {
		cfg.Limits.DefaultWallTime = 10 * time.Second
	}

	if cfg.State.MaxSnapshotBytes <= 0 {
		cfg.State.MaxSnapshotBytes = 8 * 1024 * 1024
	}
	if cfg.State.HotTTL <= 0 {
		cfg.State.HotTTL = defaultHotTTL
	}
	if cfg.State.ColdTTL <= 0 {
		cfg.State.ColdTTL = defaultColdTTL
	}
	if cfg.State.SweepInterval <= 0 {
		cfg.State.SweepInterval = defaultSweepInterval
	}

	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}

	return &cfg, nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 20
	}
}

// ToPoolConfigs adapts the YAML-facing pool list into pool.Config values.
func (c *AppConfig) ToPoolConfigs() []pool.Config {
	out := make([]pool.Config, 0, len(c.Pools))
	for _, p := range c.Pools {
		out = append(out, pool.Config{
			Language:       p.Language,
			Target:         p.Target,
			Launchers:      p.Launchers,
			TTL:            p.TTL,
			AcquireTimeout: p.AcquireTimeout,
		})
	}
	return out
}

// ShutdownTimeout bounds graceful shutdown across the HTTP and gRPC
// listeners.
func (c *AppConfig) ShutdownTimeout() time.Duration {
	return defaultShutdownTimeout
}

// LanguageSpecs returns the static language catalog wired into
// langspec.StaticRepository. Language command templates are fixed
// per-binary rather than YAML-configurable, since they encode the
// sandbox image's actual toolchain paths.
func LanguageSpecs() []langspec.LanguageSpec {
	return langspec.DefaultLanguageSpecs()
}
