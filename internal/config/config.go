package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Time selection policies for the booking wizard.
const (
	TimeModeAuto     = "auto"
	TimeModeExplicit = "explicit"
)

// Reservation submission modes.
const (
	ReservationAtomic     = "atomic"
	ReservationSequential = "sequential"
)

// Provisioning modes.
const (
	ProvisionBatch      = "batch"
	ProvisionSequential = "sequential"
)

// Session stores.
const (
	SessionStoreFile   = "file"
	SessionStoreRedis  = "redis"
	SessionStoreMemory = "memory"
)

type Config struct {
	Server struct {
		Port         int `yaml:"port"`
		ReadTimeout  int `yaml:"read_timeout_seconds"`
		WriteTimeout int `yaml:"write_timeout_seconds"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Client struct {
		BaseURL         string `yaml:"base_url"`
		TimeoutSeconds  int    `yaml:"timeout_seconds"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"client"`

	Session struct {
		Store    string `yaml:"store"`
		Path     string `yaml:"path"`
		TTLHours int    `yaml:"ttl_hours"`
	} `yaml:"session"`

	Booking struct {
		TimeMode        string `yaml:"time_mode"`
		OffsetMinutes   int    `yaml:"offset_minutes"`
		ReservationMode string `yaml:"reservation_mode"`
	} `yaml:"booking"`

	Provisioning struct {
		Mode             string `yaml:"mode"`
		MaxFloors        int    `yaml:"max_floors"`
		MaxSlotsPerFloor int    `yaml:"max_slots_per_floor"`
	} `yaml:"provisioning"`

	RateLimit struct {
		RequestsPerMinute int `yaml:"requests_per_minute"`
		Burst             int `yaml:"burst"`
	} `yaml:"ratelimit"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`
}

// Load reads the YAML config at path. A .env file next to the working directory is
// loaded first so that ${ENV_VAR} placeholders can refer to it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Database.Path == "" {
		c.Database.Path = "data/parkslot.db"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Client.BaseURL == "" {
		c.Client.BaseURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	if c.Session.Store == "" {
		c.Session.Store = SessionStoreFile
	}
	if c.Session.Path == "" {
		c.Session.Path = "data/session.json"
	}
	if c.Booking.TimeMode == "" {
		c.Booking.TimeMode = TimeModeAuto
	}
	if c.Booking.ReservationMode == "" {
		c.Booking.ReservationMode = ReservationAtomic
	}
	if c.Provisioning.Mode == "" {
		c.Provisioning.Mode = ProvisionBatch
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	c.Session.Store = strings.ToLower(c.Session.Store)
	c.Booking.TimeMode = strings.ToLower(c.Booking.TimeMode)
	c.Booking.ReservationMode = strings.ToLower(c.Booking.ReservationMode)
	c.Provisioning.Mode = strings.ToLower(c.Provisioning.Mode)

	switch c.Session.Store {
	case SessionStoreFile, SessionStoreRedis, SessionStoreMemory:
	default:
		return fmt.Errorf("unknown session.store %q", c.Session.Store)
	}
	switch c.Booking.TimeMode {
	case TimeModeAuto, TimeModeExplicit:
	default:
		return fmt.Errorf("unknown booking.time_mode %q", c.Booking.TimeMode)
	}
	switch c.Booking.ReservationMode {
	case ReservationAtomic, ReservationSequential:
	default:
		return fmt.Errorf("unknown booking.reservation_mode %q", c.Booking.ReservationMode)
	}
	switch c.Provisioning.Mode {
	case ProvisionBatch, ProvisionSequential:
	default:
		return fmt.Errorf("unknown provisioning.mode %q", c.Provisioning.Mode)
	}
	if c.Session.Store == SessionStoreRedis && c.Redis.Address == "" {
		return errors.New("session.store redis requires redis.address")
	}
	return nil
}

func (c *Config) SessionTTL() time.Duration {
	if c.Session.TTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Session.TTLHours) * time.Hour
}

func (c *Config) ReservationOffset() time.Duration {
	if c.Booking.OffsetMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Booking.OffsetMinutes) * time.Minute
}

func (c *Config) ClientTimeout() time.Duration {
	if c.Client.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Client.TimeoutSeconds) * time.Second
}

// CacheTTL is zero when the catalog cache is disabled.
func (c *Config) CacheTTL() time.Duration {
	if c.Client.CacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Client.CacheTTLSeconds) * time.Second
}

func (c *Config) MaxFloors() int {
	if c.Provisioning.MaxFloors <= 0 {
		return 50
	}
	return c.Provisioning.MaxFloors
}

func (c *Config) MaxSlotsPerFloor() int {
	if c.Provisioning.MaxSlotsPerFloor <= 0 {
		return 500
	}
	return c.Provisioning.MaxSlotsPerFloor
}

func (c *Config) RateLimitPerMinute() int {
	if c.RateLimit.RequestsPerMinute <= 0 {
		return 30
	}
	return c.RateLimit.RequestsPerMinute
}

func (c *Config) RateLimitBurst() int {
	if c.RateLimit.Burst <= 0 {
		return 5
	}
	return c.RateLimit.Burst
}

func (c *Config) ReadTimeout() time.Duration {
	if c.Server.ReadTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.ReadTimeout) * time.Second
}

func (c *Config) WriteTimeout() time.Duration {
	if c.Server.WriteTimeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Server.WriteTimeout) * time.Second
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}

func (c *Config) BackupRetention() time.Duration {
	if c.Backup.RetentionDays <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(c.Backup.RetentionDays) * 24 * time.Hour
}

func (c *Config) BackupDir() string {
	if c.Backup.Path == "" {
		return filepath.Join(filepath.Dir(c.Database.Path), "backups")
	}
	return c.Backup.Path
}
