package robot

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"time"
)

const DefaultConfigFile = "biped.json"

// Defaults of the reference robot.
const (
	DefaultPort      = "/dev/tty.usbserial-210"
	DefaultProtocol  = "lx16a"
	DefaultTimeoutMs = 100
	DefaultWalkSteps = 6
	DefaultStepMs    = 500
	DefaultDanceSec  = 15
	DefaultPhraseMs  = 400
)

// Config holds the robot configuration
type Config struct {
	Port     string `json:"port"`
	Protocol string `json:"protocol"` // lx16a, feetech or sim
	BaudRate int    `json:"baud_rate,omitempty"`
	// TimeoutMs bounds every bus read.
	TimeoutMs int `json:"timeout_ms"`
	// RequireAllServos makes a missing servo at startup fatal instead of
	// running degraded.
	RequireAllServos bool        `json:"require_all_servos"`
	Calibration      Calibration `json:"calibration"`
	// Choreography optionally points at a YAML file overriding the
	// built-in step and dance keyframes.
	Choreography string      `json:"choreography,omitempty"`
	Walk         WalkConfig  `json:"walk"`
	Dance        DanceConfig `json:"dance"`
}

// WalkConfig holds walking defaults
type WalkConfig struct {
	Steps  int `json:"steps"`
	StepMs int `json:"step_ms"`
}

// DanceConfig holds dancing defaults
type DanceConfig struct {
	DurationSec float64 `json:"duration_sec"`
	PhraseMs    int     `json:"phrase_ms"`
}

// DefaultConfig returns the configuration of the reference robot.
func DefaultConfig() *Config {
	return &Config{
		Port:        DefaultPort,
		Protocol:    DefaultProtocol,
		TimeoutMs:   DefaultTimeoutMs,
		Calibration: DefaultCalibration(),
		Walk:        WalkConfig{Steps: DefaultWalkSteps, StepMs: DefaultStepMs},
		Dance:       DanceConfig{DurationSec: DefaultDanceSec, PhraseMs: DefaultPhraseMs},
	}
}

// Timeout returns the bus timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// LoadConfigFrom loads configuration from a specific file. Fields missing
// from the file keep their defaults.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	cfg.Calibration = nil
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if len(cfg.Calibration) == 0 {
		cfg.Calibration = DefaultCalibration()
	}
	if err := cfg.Calibration.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigOrDefault loads path, falling back to DefaultConfig when the
// file does not exist.
func LoadConfigOrDefault(path string) (*Config, error) {
	cfg, err := LoadConfigFrom(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
