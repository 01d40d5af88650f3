// Package config resolves server settings from defaults, an optional YAML
// file and the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// Tracing exporters.
const (
	TracingNone   = "none"
	TracingStdout = "stdout"
)

type Config struct {
	Port       string `yaml:"port"`
	GinMode    string `yaml:"gin_mode"`
	Env        string `yaml:"env"`
	CORSOrigin string `yaml:"cors_origin"`
	Tracing    string `yaml:"tracing"`

	Log    LogConfig    `yaml:"log"`
	Store  StoreConfig  `yaml:"store"`
	Cache  CacheConfig  `yaml:"cache"`
	Stream StreamConfig `yaml:"stream"`
	Ingest IngestConfig `yaml:"ingest"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`

	// DatabaseURL takes precedence over the discrete DB fields.
	DatabaseURL string         `yaml:"database_url"`
	DB          DatabaseConfig `yaml:"db"`
	Badger      BadgerConfig   `yaml:"badger"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Port     string `yaml:"port"`
	SSLMode  string `yaml:"sslmode"`
}

type BadgerConfig struct {
	Path       string        `yaml:"path"`
	InMemory   bool          `yaml:"in_memory"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval"`
}

type CacheConfig struct {
	Size int `yaml:"size"`
}

type StreamConfig struct {
	PulseInterval    time.Duration `yaml:"pulse_interval"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
}

type IngestConfig struct {
	// RateLimit is requests per second on POST /api/logs. Zero disables it.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Port:       "8080",
		GinMode:    "debug",
		Env:        "local",
		CORSOrigin: "http://localhost:5173",
		Tracing:    TracingNone,
		Log:        LogConfig{Level: "INFO"},
		Store: StoreConfig{
			Driver: DriverBadger,
			DB: DatabaseConfig{
				Host:    "localhost",
				User:    "postgres",
				Name:    "secureflow",
				Port:    "5432",
				SSLMode: "disable",
			},
			Badger: BadgerConfig{
				Path:       "data/badger",
				SyncWrites: true,
				GCInterval: 5 * time.Minute,
			},
		},
		Cache:  CacheConfig{Size: 500},
		Stream: StreamConfig{PulseInterval: 15 * time.Second, SubscriberBuffer: 64},
		Ingest: IngestConfig{Burst: 20},
	}
}

// Load reads .env if present, then the YAML file at path (or
// SECUREFLOW_CONFIG when path is empty; no file is fine), then the
// environment. The returned config is validated.
func Load(path string) (*Config, error) {
	if err := loadDotenv(".env"); err != nil {
		return nil, err
	}

	if path == "" {
		path = os.Getenv("SECUREFLOW_CONFIG")
	}
	return LoadFile(path)
}

// loadDotenv exports the variables in file. A missing file is normal
// outside development; a malformed one is an error.
func loadDotenv(file string) error {
	if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", file, err)
	}
	return nil
}

// LoadFile is Load without the .env step.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	parse := func(key string, fn func(string) error) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			if err := fn(strings.TrimSpace(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}

	str("PORT", &c.Port)
	str("GIN_MODE", &c.GinMode)
	str("ENV", &c.Env)
	str("CORS_ORIGIN", &c.CORSOrigin)
	str("TRACING", &c.Tracing)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)

	str("STORE_DRIVER", &c.Store.Driver)
	str("DATABASE_URL", &c.Store.DatabaseURL)
	str("DB_HOST", &c.Store.DB.Host)
	str("DB_USER", &c.Store.DB.User)
	str("DB_PASSWORD", &c.Store.DB.Password)
	str("DB_NAME", &c.Store.DB.Name)
	str("DB_PORT", &c.Store.DB.Port)
	str("DB_SSLMODE", &c.Store.DB.SSLMode)
	str("BADGER_PATH", &c.Store.Badger.Path)
	parse("BADGER_IN_MEMORY", func(v string) (err error) {
		c.Store.Badger.InMemory, err = strconv.ParseBool(v)
		return err
	})
	parse("BADGER_SYNC_WRITES", func(v string) (err error) {
		c.Store.Badger.SyncWrites, err = strconv.ParseBool(v)
		return err
	})
	parse("BADGER_GC_INTERVAL", func(v string) (err error) {
		c.Store.Badger.GCInterval, err = time.ParseDuration(v)
		return err
	})

	parse("CACHE_SIZE", func(v string) (err error) {
		c.Cache.Size, err = strconv.Atoi(v)
		return err
	})
	parse("PULSE_INTERVAL", func(v string) (err error) {
		c.Stream.PulseInterval, err = time.ParseDuration(v)
		return err
	})
	parse("SUBSCRIBER_BUFFER", func(v string) (err error) {
		c.Stream.SubscriberBuffer, err = strconv.Atoi(v)
		return err
	})
	parse("INGEST_RATE_LIMIT", func(v string) (err error) {
		c.Ingest.RateLimit, err = strconv.ParseFloat(v, 64)
		return err
	})
	parse("INGEST_BURST", func(v string) (err error) {
		c.Ingest.Burst, err = strconv.Atoi(v)
		return err
	})

	return errors.Join(errs...)
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	c.Store.Driver = strings.ToLower(c.Store.Driver)
	switch c.Store.Driver {
	case DriverPostgres, DriverBadger:
	default:
		errs = append(errs, fmt.Errorf("store driver %q: must be %s or %s", c.Store.Driver, DriverPostgres, DriverBadger))
	}
	if c.Store.Driver == DriverBadger && !c.Store.Badger.InMemory && c.Store.Badger.Path == "" {
		errs = append(errs, errors.New("badger path is required unless in_memory is set"))
	}
	if c.Cache.Size <= 0 {
		errs = append(errs, fmt.Errorf("cache size %d: must be positive", c.Cache.Size))
	}
	if c.Stream.PulseInterval <= 0 {
		errs = append(errs, fmt.Errorf("pulse interval %s: must be positive", c.Stream.PulseInterval))
	}
	if c.Stream.SubscriberBuffer <= 0 {
		errs = append(errs, fmt.Errorf("subscriber buffer %d: must be positive", c.Stream.SubscriberBuffer))
	}
	if c.Ingest.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("ingest rate limit %v: must not be negative", c.Ingest.RateLimit))
	}
	switch c.Tracing {
	case "", TracingNone, TracingStdout:
	default:
		errs = append(errs, fmt.Errorf("tracing %q: must be %s or %s", c.Tracing, TracingNone, TracingStdout))
	}
	return errors.Join(errs...)
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	if c.Store.DatabaseURL != "" {
		return c.Store.DatabaseURL
	}
	db := c.Store.DB
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		db.Host, db.User, db.Password, db.Name, db.Port, db.SSLMode)
}

// IsLocal reports whether the server runs on a developer machine.
func (c *Config) IsLocal() bool {
	return c.Env == "" || c.Env == "local"
}
