package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/shake-guard/internal/domain/shake"
)

// LocationStrategy selects how the resolver obtains a fix.
type LocationStrategy string

const (
	// StrategyFresh requests a new high-accuracy fix.
	StrategyFresh LocationStrategy = "fresh"
	// StrategyLastKnown returns the cached fix immediately, if any.
	StrategyLastKnown LocationStrategy = "last_known"
)

// Config holds the static settings of the daemon and the control CLI.
type Config struct {
	// ContactAddress is the emergency contact the alert is sent to.
	ContactAddress string `yaml:"contact_address"`
	// ShakeThreshold is the magnitude delta in m/s² that fires a shake.
	ShakeThreshold float64 `yaml:"shake_threshold"`
	// LocationStrategy selects fresh or last-known location lookups.
	LocationStrategy LocationStrategy `yaml:"location_strategy"`
	// LocationTimeout bounds a lookup; zero means no hard timeout.
	LocationTimeout time.Duration `yaml:"location_timeout"`
	// SampleInterval is the minimum spacing between delivered samples.
	SampleInterval time.Duration `yaml:"sample_interval"`
	// SampleBuffer is the capacity of the sample channel.
	SampleBuffer int `yaml:"sample_buffer"`
	// SensorName is the sensor queried from the platform.
	SensorName string `yaml:"sensor_name"`
	// PlaceCall enables the follow-up voice call.
	PlaceCall bool `yaml:"place_call"`
	// WakeLock keeps the device awake while the daemon runs.
	WakeLock bool `yaml:"wake_lock"`
	// SendTimeout bounds message and call transports.
	SendTimeout time.Duration `yaml:"send_timeout"`
	// ListenAddress is the gRPC control surface address.
	ListenAddress string `yaml:"listen_addr"`
	// MetricsAddress exposes Prometheus metrics when set.
	MetricsAddress string `yaml:"metrics_addr"`
	// Permissions lists granted capabilities.
	Permissions map[shake.Capability]bool `yaml:"permissions"`
	// LogLevel is the minimum log level name.
	LogLevel string `yaml:"log_level"`
}

const (
	// DefaultConfigFilename is the default settings file.
	DefaultConfigFilename = "shake-guard-settings.yaml"

	// DefaultShakeThreshold is the magnitude delta that fires a shake.
	DefaultShakeThreshold = 12.0

	// DefaultSampleInterval matches a UI-refresh sensor cadence.
	DefaultSampleInterval = 60 * time.Millisecond

	// DefaultSampleBuffer is the default sample channel capacity.
	DefaultSampleBuffer = 32

	// DefaultSendTimeout bounds a single transport invocation.
	DefaultSendTimeout = 30 * time.Second

	// DefaultListenAddress is where the control surface listens.
	DefaultListenAddress = "127.0.0.1:50071"

	// DefaultSensorName is the platform accelerometer name.
	DefaultSensorName = "accelerometer"

	// DefaultTimeout bounds control RPCs issued by the CLI.
	DefaultTimeout = 5 * time.Second

	// DefaultFilePermissions restricts settings files to the owner.
	DefaultFilePermissions = 0o600
)

// ErrInvalidLogLevel is returned for log level names the logger does not know.
var ErrInvalidLogLevel = errors.New("unknown log level")

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errContactRequired is returned when no emergency contact is configured.
	errContactRequired = errors.New("contact address must be provided")
	// errInvalidThreshold is returned for a non-positive shake threshold.
	errInvalidThreshold = errors.New("shake threshold must be positive")
	// errInvalidStrategy is returned for an unknown location strategy.
	errInvalidStrategy = errors.New("unknown location strategy")
	// errNegativeDuration is returned for negative timeouts and intervals.
	errNegativeDuration = errors.New("durations must not be negative")
	// errUnknownCapability is returned for permission keys outside the known set.
	errUnknownCapability = errors.New("unknown capability")
)

// Load reads settings from path and validates them.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes settings to path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks required fields and fills defaults in place.
//
//nolint:cyclop // A flat list of field checks reads better than helpers.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.ContactAddress == "" {
		return errContactRequired
	}

	if cfg.ShakeThreshold == 0 {
		cfg.ShakeThreshold = DefaultShakeThreshold
	}

	if cfg.ShakeThreshold < 0 {
		return fmt.Errorf("%v: %w", cfg.ShakeThreshold, errInvalidThreshold)
	}

	switch cfg.LocationStrategy {
	case "":
		cfg.LocationStrategy = StrategyFresh
	case StrategyFresh, StrategyLastKnown:
	default:
		return fmt.Errorf("%q: %w", cfg.LocationStrategy, errInvalidStrategy)
	}

	if cfg.LocationTimeout < 0 || cfg.SampleInterval < 0 || cfg.SendTimeout < 0 {
		return errNegativeDuration
	}

	if cfg.SampleInterval == 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}

	if cfg.SampleBuffer <= 0 {
		cfg.SampleBuffer = DefaultSampleBuffer
	}

	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}

	if cfg.SensorName == "" {
		cfg.SensorName = DefaultSensorName
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.ListenAddress); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}

	if cfg.MetricsAddress != "" {
		if _, err := net.ResolveTCPAddr("tcp", cfg.MetricsAddress); err != nil {
			return fmt.Errorf("invalid metrics address: %w", err)
		}
	}

	for capability := range cfg.Permissions {
		switch capability {
		case shake.CapabilitySendMessage, shake.CapabilityLocation, shake.CapabilityPlaceCall:
		default:
			return fmt.Errorf("%q: %w", capability, errUnknownCapability)
		}
	}

	return nil
}
