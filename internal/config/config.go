// Package config loads the YAML configuration shared by the cds55xx command
// and the MQTT bridge.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/hipsterbrown/cds55xx-servo/cds55xx"
)

// Defaults applied to fields left empty in the file.
const (
	DefaultBaudRate      = 1000000
	DefaultMinCommandGap = time.Millisecond
	DefaultLogLevel      = "info"
	DefaultMQTTClientID  = "cds55xx-bridge"
	DefaultMQTTTopic     = "cds55xx/command"
	DefaultQueueSize     = 64
)

// Config is the top level of the configuration file.
type Config struct {
	Port            string        `yaml:"port"`
	BaudRate        int           `yaml:"baud_rate"`
	MinCommandGap   time.Duration `yaml:"min_command_gap"`
	LogLevel        string        `yaml:"log_level"`
	CalibrationFile string        `yaml:"calibration_file"`
	Servos          []ServoConfig `yaml:"servos"`
	MQTT            MQTTConfig    `yaml:"mqtt"`
}

// ServoConfig names one servo on the bus.
type ServoConfig struct {
	Name  string `yaml:"name"`
	ID    int    `yaml:"id"`
	Model string `yaml:"model"`
}

// MQTTConfig configures the command bridge.
type MQTTConfig struct {
	Broker    string `yaml:"broker"`
	ClientID  string `yaml:"client_id"`
	Topic     string `yaml:"topic"`
	QoS       byte   `yaml:"qos"`
	QueueSize int    `yaml:"queue_size"`
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates YAML configuration data.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.MinCommandGap == 0 {
		c.MinCommandGap = DefaultMinCommandGap
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	for i := range c.Servos {
		if c.Servos[i].Model == "" {
			c.Servos[i].Model = cds55xx.ModelCDS5516.Name
		}
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = DefaultMQTTClientID
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = DefaultMQTTTopic
	}
	if c.MQTT.QueueSize == 0 {
		c.MQTT.QueueSize = DefaultQueueSize
	}
}

// Validate checks the configuration for values the bus cannot use.
func (c *Config) Validate() error {
	var errs []error

	if c.BaudRate < 0 {
		errs = append(errs, fmt.Errorf("baud_rate must be positive, got %d", c.BaudRate))
	}
	if c.MinCommandGap < 0 {
		errs = append(errs, fmt.Errorf("min_command_gap must not be negative, got %s", c.MinCommandGap))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	names := make(map[string]bool, len(c.Servos))
	ids := make(map[int]bool, len(c.Servos))
	for _, s := range c.Servos {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("servo %d has no name", s.ID))
		} else if names[s.Name] {
			errs = append(errs, fmt.Errorf("duplicate servo name %q", s.Name))
		}
		names[s.Name] = true

		if s.ID < 0 || s.ID > cds55xx.MaxServoID {
			errs = append(errs, fmt.Errorf("servo %q: %w: %d", s.Name, cds55xx.ErrInvalidID, s.ID))
		} else if ids[s.ID] {
			errs = append(errs, fmt.Errorf("duplicate servo id %d", s.ID))
		}
		ids[s.ID] = true

		if _, ok := cds55xx.GetModel(s.Model); !ok {
			errs = append(errs, fmt.Errorf("servo %q: unknown model %q", s.Name, s.Model))
		}
	}

	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.MQTT.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("mqtt queue_size must not be negative, got %d", c.MQTT.QueueSize))
	}

	return errors.Join(errs...)
}

// Level returns the parsed log level.
func (c *Config) Level() zapcore.Level {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// ServoByName looks up a configured servo.
func (c *Config) ServoByName(name string) (ServoConfig, bool) {
	for _, s := range c.Servos {
		if s.Name == name {
			return s, true
		}
	}
	return ServoConfig{}, false
}

// BuildServos creates a Servo for every configured entry, in file order, and
// attaches calibrations from CalibrationFile when one is set.
func (c *Config) BuildServos(codec *cds55xx.Codec) ([]*cds55xx.Servo, error) {
	var calibrations map[int]*cds55xx.MotorCalibration
	if c.CalibrationFile != "" {
		var err error
		calibrations, err = cds55xx.LoadCalibrations(c.CalibrationFile)
		if err != nil {
			return nil, err
		}
	}

	servos := make([]*cds55xx.Servo, 0, len(c.Servos))
	for _, s := range c.Servos {
		model, ok := cds55xx.GetModel(s.Model)
		if !ok {
			return nil, fmt.Errorf("servo %q: unknown model %q", s.Name, s.Model)
		}
		servo := cds55xx.NewServo(codec, s.ID, model)
		if cal, ok := calibrations[s.ID]; ok {
			servo.SetCalibration(cal)
		}
		servos = append(servos, servo)
	}
	return servos, nil
}
