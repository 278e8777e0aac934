package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/btserial/pkg/link"
	"gopkg.in/yaml.v3"
)

// Supported transports
const (
	TransportRFCOMM = "rfcomm" // Classic Bluetooth serial port through BlueZ
	TransportNUS    = "nus"    // BLE Nordic UART Service
)

// Config holds application configuration
type Config struct {
	LogLevel  string `yaml:"log_level" default:"info"`
	Prefix    string `yaml:"prefix"`
	Transport string `yaml:"transport" default:"rfcomm"`

	// Classic transport
	Adapter       string `yaml:"adapter" default:"hci0"`
	ServiceUUID   string `yaml:"service_uuid" default:"00001101-0000-1000-8000-00805F9B34FB"`
	RFCOMMChannel uint8  `yaml:"rfcomm_channel" default:"1"`

	// BLE transport
	ScanTimeout time.Duration `yaml:"scan_timeout" default:"10s"`

	// Link manager
	MaxAttempts    int           `yaml:"max_attempts" default:"30"`
	RetryInterval  time.Duration `yaml:"retry_interval" default:"1s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"10s"`
	ReadBufferSize int           `yaml:"read_buffer_size" default:"125"`
	IdleInterval   time.Duration `yaml:"idle_interval" default:"10ms"`
	StopTimeout    time.Duration `yaml:"stop_timeout" default:"1s"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file on top of the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	switch c.Transport {
	case TransportRFCOMM, TransportNUS:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q (want %s or %s)", c.Transport, TransportRFCOMM, TransportNUS))
	}
	if _, err := uuid.Parse(c.ServiceUUID); err != nil {
		errs = append(errs, fmt.Errorf("service_uuid: %w", err))
	}
	if c.RFCOMMChannel < 1 || c.RFCOMMChannel > 30 {
		errs = append(errs, fmt.Errorf("rfcomm_channel must be in 1..30, got %d", c.RFCOMMChannel))
	}
	if c.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("max_attempts must not be negative, got %d", c.MaxAttempts))
	}
	if c.ReadBufferSize < 0 {
		errs = append(errs, fmt.Errorf("read_buffer_size must not be negative, got %d", c.ReadBufferSize))
	}

	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c *Config) Level() (logrus.Level, error) {
	level, err := logrus.ParseLevel(strings.TrimSpace(c.LogLevel))
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, _ := c.Level()
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// LinkOptions maps the config onto link.Options. Adapter, Factory, Handler
// and Notifier are left for the caller to wire.
func (c *Config) LinkOptions(logger *logrus.Logger) (link.Options, error) {
	serviceID, err := uuid.Parse(c.ServiceUUID)
	if err != nil {
		return link.Options{}, fmt.Errorf("service_uuid: %w", err)
	}

	return link.Options{
		Prefix:         c.Prefix,
		ServiceID:      serviceID,
		Logger:         logger,
		MaxAttempts:    c.MaxAttempts,
		RetryInterval:  c.RetryInterval,
		ConnectTimeout: c.ConnectTimeout,
		ReadBufferSize: c.ReadBufferSize,
		IdleInterval:   c.IdleInterval,
		StopTimeout:    c.StopTimeout,
	}, nil
}
