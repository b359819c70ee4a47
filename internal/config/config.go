// Package config resolves server settings from defaults, an optional YAML file and the
// environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gj2101/boutview/internal/clock"
)

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

// Enabled reports whether media should come from a bucket instead of a directory.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	ServePath          string        `yaml:"serve_path"`
	Port               int           `yaml:"port"`
	CORSOrigins        []string      `yaml:"cors_origins"`
	DatasetHosts       []string      `yaml:"dataset_hosts"`
	S3                 S3Config      `yaml:"s3"`
	StoreDSN           string        `yaml:"store_dsn"`
	DurationMode       clock.Mode    `yaml:"duration_mode"`
	FixedDuration      float64       `yaml:"fixed_duration_seconds"`
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
	GeoIPDB            string        `yaml:"geoip_db"`
	Log                LogConfig     `yaml:"log"`
}

func Default() *Config {
	return &Config{
		Port:               8091,
		CORSOrigins:        []string{"http://localhost:5173", "https://gj2101-gui.vercel.app"},
		S3:                 S3Config{Region: "us-east-1"},
		StoreDSN:           "memory",
		DurationMode:       clock.Derived,
		FixedDuration:      clock.DefaultFixedTotal,
		SessionIdleTimeout: 30 * time.Minute,
		Log:                LogConfig{Level: "info", Format: "text"},
	}
}

// Load starts from Default, applies the YAML file at path when it exists and then the
// environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.ServePath = getEnv("SERVE_PATH", c.ServePath)
	c.StoreDSN = getEnv("STORE_DSN", c.StoreDSN)
	c.GeoIPDB = getEnv("GEOIP_DB", c.GeoIPDB)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.S3.Endpoint = getEnv("S3_ENDPOINT", c.S3.Endpoint)
	c.S3.Bucket = getEnv("S3_BUCKET", c.S3.Bucket)
	c.S3.Prefix = getEnv("S3_PREFIX", c.S3.Prefix)
	c.S3.AccessKey = getEnv("S3_ACCESS_KEY", c.S3.AccessKey)
	c.S3.SecretKey = getEnv("S3_SECRET_KEY", c.S3.SecretKey)
	c.S3.Region = getEnv("S3_REGION", c.S3.Region)

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		c.CORSOrigins = splitList(origins)
	}
	if hosts := os.Getenv("DATASET_HOSTS"); hosts != "" {
		c.DatasetHosts = splitList(hosts)
	}

	port, err := getEnvInt("PORT", c.Port)
	if err != nil {
		return err
	}
	c.Port = port

	if v := os.Getenv("DURATION_MODE"); v != "" {
		mode, err := clock.ParseMode(v)
		if err != nil {
			return fmt.Errorf("DURATION_MODE: %w", err)
		}
		c.DurationMode = mode
	}
	if v := os.Getenv("FIXED_DURATION_SECONDS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("FIXED_DURATION_SECONDS must be a number: %w", err)
		}
		c.FixedDuration = f
	}
	if v := os.Getenv("SESSION_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SESSION_IDLE_TIMEOUT must be a duration: %w", err)
		}
		c.SessionIdleTimeout = d
	}
	return nil
}

// Validate checks the settings the serve command depends on.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if _, err := clock.ParseMode(string(c.DurationMode)); err != nil {
		return err
	}
	if c.DurationMode == clock.Fixed && !(c.FixedDuration > 0) {
		return fmt.Errorf("fixed duration must be positive, got %v", c.FixedDuration)
	}
	if c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("session idle timeout must be positive, got %v", c.SessionIdleTimeout)
	}
	if c.ServePath == "" && !c.S3.Enabled() {
		return errors.New("either SERVE_PATH or S3_BUCKET must be set")
	}
	if c.ServePath != "" && c.S3.Enabled() {
		return errors.New("SERVE_PATH and S3_BUCKET are mutually exclusive")
	}
	return nil
}

func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
