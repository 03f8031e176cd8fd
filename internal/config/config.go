package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Artifacts ArtifactConfig
	Inference InferenceConfig
	Logger    LoggerConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Driver          string
	SQLitePath      string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectRetries  uint64
}

// DSN builds a postgres connection URL.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: url.Values{"sslmode": []string{d.SSLMode}}.Encode(),
	}
	return u.String()
}

type ArtifactConfig struct {
	Backend string
	Dir     string
	// MaxSize is the largest accepted upload in bytes; zero disables the limit.
	MaxSize int64
	S3      S3Config
}

type S3Config struct {
	Bucket         string
	Prefix         string
	Region         string
	Endpoint       string
	ForcePathStyle bool
}

type InferenceConfig struct {
	Timeout         time.Duration
	HandleCacheSize int
}

type LoggerConfig struct {
	Level  string
	Format string
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	BackendLocal = "local"
	BackendS3    = "s3"
)

// Load reads configuration from defaults, an optional config file and the
// environment, in increasing precedence.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("LOGGER_LEVEL", "info")
	v.SetDefault("LOGGER_FORMAT", "json")
	v.SetDefault("DATABASE_DRIVER", DriverSQLite)
	v.SetDefault("DATABASE_SQLITE_PATH", "models.db")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "")
	v.SetDefault("DATABASE_NAME", "model_registry")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 10)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 2)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("DATABASE_CONNECT_RETRIES", 5)
	v.SetDefault("ARTIFACT_BACKEND", BackendLocal)
	v.SetDefault("ARTIFACT_DIR", "./models")
	v.SetDefault("ARTIFACT_MAX_SIZE", "512MB")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("INFERENCE_TIMEOUT", "30s")
	v.SetDefault("HANDLE_CACHE_SIZE", 64)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	// Env
	v.AutomaticEnv()

	maxSize, err := parseSize(v.GetString("ARTIFACT_MAX_SIZE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            v.GetString("SERVER_HOST"),
			Port:            v.GetInt("SERVER_PORT"),
			ShutdownTimeout: durationOr(v.GetString("SERVER_SHUTDOWN_TIMEOUT"), 10*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(v.GetString("DATABASE_DRIVER")),
			SQLitePath:      v.GetString("DATABASE_SQLITE_PATH"),
			Host:            v.GetString("DATABASE_HOST"),
			Port:            v.GetInt("DATABASE_PORT"),
			User:            v.GetString("DATABASE_USER"),
			Password:        v.GetString("DATABASE_PASSWORD"),
			Name:            v.GetString("DATABASE_NAME"),
			SSLMode:         v.GetString("DATABASE_SSLMODE"),
			MaxOpenConns:    v.GetInt("DATABASE_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DATABASE_MAX_IDLE_CONNS"),
			ConnMaxLifetime: durationOr(v.GetString("DATABASE_CONN_MAX_LIFETIME"), 30*time.Minute),
			ConnectRetries:  v.GetUint64("DATABASE_CONNECT_RETRIES"),
		},
		Artifacts: ArtifactConfig{
			Backend: strings.ToLower(v.GetString("ARTIFACT_BACKEND")),
			Dir:     v.GetString("ARTIFACT_DIR"),
			MaxSize: maxSize,
			S3: S3Config{
				Bucket:         v.GetString("S3_BUCKET"),
				Prefix:         v.GetString("S3_PREFIX"),
				Region:         v.GetString("S3_REGION"),
				Endpoint:       v.GetString("S3_ENDPOINT"),
				ForcePathStyle: v.GetBool("S3_FORCE_PATH_STYLE"),
			},
		},
		Inference: InferenceConfig{
			Timeout:         durationOr(v.GetString("INFERENCE_TIMEOUT"), 30*time.Second),
			HandleCacheSize: v.GetInt("HANDLE_CACHE_SIZE"),
		},
		Logger: LoggerConfig{
			Level:  v.GetString("LOGGER_LEVEL"),
			Format: v.GetString("LOGGER_FORMAT"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.Database.Driver)
	}
	switch c.Artifacts.Backend {
	case BackendLocal:
		if c.Artifacts.Dir == "" {
			return fmt.Errorf("ARTIFACT_DIR is required for the local backend")
		}
	case BackendS3:
		if c.Artifacts.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unsupported ARTIFACT_BACKEND %q", c.Artifacts.Backend)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid SERVER_PORT %d", c.Server.Port)
	}
	return nil
}

// parseSize accepts human sizes such as "512MB" or "1GiB"; "0" disables the limit.
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid ARTIFACT_MAX_SIZE %q: %w", s, err)
	}
	return n, nil
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
