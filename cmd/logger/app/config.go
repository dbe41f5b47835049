package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/signal-logger/internal/upload"
)

const (
	defaultDataDirectory        = "data"
	defaultExportDirectory      = "exports"
	defaultDatabase             = "signal-logger.sqlite"
	defaultPollInterval         = 2 * time.Second
	defaultDiscoveryInterval    = 30 * time.Second
	defaultCommandTimeout       = 10 * time.Second
	defaultParseErrorsThreshold = 5
	defaultPowerSupplyDirectory = "/sys/class/power_supply"
	defaultAPIAddr              = "127.0.0.1:8080"
	defaultNATSSubject          = "signal.records"
)

// Config represents the main application configuration
type Config struct {
	Settings Settings       `yaml:"settings"`
	Storage  StorageConfig  `yaml:"storage"`
	Radio    RadioConfig    `yaml:"radio"`
	Position PositionConfig `yaml:"position"`
	Sync     SyncConfig     `yaml:"sync"`
	API      APIConfig      `yaml:"api"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
	DeviceID string `yaml:"deviceId"` // Generated and persisted when empty
}

// Level returns the configured log level, defaulting to info
func (s Settings) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// StorageConfig represents storage settings
type StorageConfig struct {
	DataDirectory   string `yaml:"dataDirectory"`
	ExportDirectory string `yaml:"exportDirectory"` // Relative paths are resolved against DataDirectory
	Database        string `yaml:"database"`
}

// RadioConfig represents the cellular modem settings
type RadioConfig struct {
	PollInterval      TimeDuration `yaml:"pollInterval"`
	DiscoveryInterval TimeDuration `yaml:"discoveryInterval"`
	CommandTimeout    TimeDuration `yaml:"commandTimeout"`
	ListCommand       []string     `yaml:"listCommand"`
	ReadCommand       []string     `yaml:"readCommand"` // "{subscription}" is replaced with the subscription id
}

// PositionConfig represents the location provider settings
type PositionConfig struct {
	Command              []string `yaml:"command"`
	ParseErrorsThreshold uint8    `yaml:"parseErrorsThreshold"`
}

// SyncConfig represents the upload settings. Exactly one of Endpoint and
// NATSURL must be set when sync is enabled.
type SyncConfig struct {
	Enabled        bool         `yaml:"enabled"`
	Schedule       string       `yaml:"schedule"`
	BatchSize      int          `yaml:"batchSize"`
	Endpoint       string       `yaml:"endpoint"`
	NATSURL        string       `yaml:"natsUrl"`
	NATSSubject    string       `yaml:"natsSubject"`
	AuthSecret     string       `yaml:"authSecret"`
	Timeout        TimeDuration `yaml:"timeout"`
	RequireNetwork bool         `yaml:"requireNetwork"`
	MinBattery     int          `yaml:"minBattery"` // Percent, 0 disables the check
	PowerSupplyDir string       `yaml:"powerSupplyDirectory"`
}

// APIConfig represents the control API settings
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// LoadConfig reads, defaults and validates the configuration file
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	var config Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err = dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	config.setDefaults()
	if err = config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) setDefaults() {
	if c.Storage.DataDirectory == "" {
		c.Storage.DataDirectory = defaultDataDirectory
	}
	if c.Storage.ExportDirectory == "" {
		c.Storage.ExportDirectory = defaultExportDirectory
	}
	if c.Storage.Database == "" {
		c.Storage.Database = defaultDatabase
	}

	if c.Radio.PollInterval == 0 {
		c.Radio.PollInterval = NewTimeDuration(defaultPollInterval)
	}
	if c.Radio.DiscoveryInterval == 0 {
		c.Radio.DiscoveryInterval = NewTimeDuration(defaultDiscoveryInterval)
	}
	if c.Radio.CommandTimeout == 0 {
		c.Radio.CommandTimeout = NewTimeDuration(defaultCommandTimeout)
	}

	if c.Position.ParseErrorsThreshold == 0 {
		c.Position.ParseErrorsThreshold = defaultParseErrorsThreshold
	}

	if c.Sync.Schedule == "" {
		c.Sync.Schedule = upload.DefaultSchedule
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = upload.DefaultBatchSize
	}
	if c.Sync.Timeout == 0 {
		c.Sync.Timeout = NewTimeDuration(upload.DefaultTimeout)
	}
	if c.Sync.NATSSubject == "" {
		c.Sync.NATSSubject = defaultNATSSubject
	}
	if c.Sync.PowerSupplyDir == "" {
		c.Sync.PowerSupplyDir = defaultPowerSupplyDirectory
	}

	if c.API.Addr == "" {
		c.API.Addr = defaultAPIAddr
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	var errs []error

	if c.Settings.LogLevel != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(c.Settings.LogLevel)); err != nil {
			errs = append(errs, fmt.Errorf("settings.logLevel: %w", err))
		}
	}

	if len(c.Radio.ListCommand) == 0 {
		errs = append(errs, errors.New("radio.listCommand is required"))
	}
	if len(c.Radio.ReadCommand) == 0 {
		errs = append(errs, errors.New("radio.readCommand is required"))
	}
	for name, d := range map[string]TimeDuration{
		"radio.pollInterval":      c.Radio.PollInterval,
		"radio.discoveryInterval": c.Radio.DiscoveryInterval,
		"radio.commandTimeout":    c.Radio.CommandTimeout,
		"sync.timeout":            c.Sync.Timeout,
	} {
		if err := d.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if len(c.Position.Command) == 0 {
		errs = append(errs, errors.New("position.command is required"))
	}

	if c.Sync.Enabled {
		errs = append(errs, c.Sync.validate()...)
	}

	return errors.Join(errs...)
}

func (s *SyncConfig) validate() []error {
	var errs []error

	switch {
	case s.Endpoint == "" && s.NATSURL == "":
		errs = append(errs, errors.New("sync: one of endpoint or natsUrl is required"))
	case s.Endpoint != "" && s.NATSURL != "":
		errs = append(errs, errors.New("sync: endpoint and natsUrl are mutually exclusive"))
	case s.Endpoint != "":
		if u, err := url.Parse(s.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("sync.endpoint: invalid URL '%s'", s.Endpoint))
		}
	}

	if s.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("sync.batchSize: must be positive: %d", s.BatchSize))
	}
	if s.MinBattery < 0 || s.MinBattery > 100 {
		errs = append(errs, fmt.Errorf("sync.minBattery: must be between 0 and 100: %d", s.MinBattery))
	}

	return errs
}

// reachabilityAddr returns the host:port probed before a scheduled sync
func (s *SyncConfig) reachabilityAddr() (string, error) {
	raw := s.Endpoint
	if raw == "" {
		// nats.Connect accepts a comma separated server list
		raw, _, _ = strings.Cut(s.NATSURL, ",")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing sync address: %w", err)
	}
	if u.Port() != "" {
		return u.Host, nil
	}

	switch u.Scheme {
	case "https", "tls":
		return u.Host + ":443", nil
	case "http":
		return u.Host + ":80", nil
	default:
		return u.Host + ":4222", nil
	}
}

type TimeDuration time.Duration

func NewTimeDuration(d time.Duration) TimeDuration {
	return TimeDuration(d)
}

func (d *TimeDuration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.TimeDuration: failed to parse: %s", err)
	}

	*d = TimeDuration(duration)
	return nil
}

func (d TimeDuration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d TimeDuration) Validate() error {
	duration := time.Duration(d)

	if duration < 0 {
		return fmt.Errorf("must not be negative: %s", duration)
	}
	if duration > 0 && duration < 100*time.Millisecond {
		return fmt.Errorf("must be at least 100ms: %s given", duration)
	}

	return nil
}

func (d TimeDuration) Duration() time.Duration {
	return time.Duration(d)
}

func (d TimeDuration) String() string {
	return time.Duration(d).String()
}
