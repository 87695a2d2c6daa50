// Package config loads the turret's YAML configuration: pin assignments,
// motor parameters, joystick mapping, laser safety envelope, tracking
// defaults, MQTT broker, and logging sinks. Ingested once at startup;
// never consulted by the core packages directly.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rndmzd/laser-turret/internal/hw/gpio"
	"github.com/rndmzd/laser-turret/internal/obslog"
	"github.com/rndmzd/laser-turret/internal/turreterr"
)

// GPIOConfig holds the limit-switch pins per axis.
type GPIOConfig struct {
	XCWLimitPin  int `yaml:"x_cw_limit_pin"`
	XCCWLimitPin int `yaml:"x_ccw_limit_pin"`
	YCWLimitPin  int `yaml:"y_cw_limit_pin"`
	YCCWLimitPin int `yaml:"y_ccw_limit_pin"`
}

// MotorConfig holds one axis's stepper wiring and microstep settings.
type MotorConfig struct {
	StepPin     int `yaml:"step_pin"`
	DirPin      int `yaml:"dir_pin"`
	EnablePin   int `yaml:"enable_pin"`
	MS1Pin      int `yaml:"ms1_pin"`
	MS2Pin      int `yaml:"ms2_pin"`
	MS3Pin      int `yaml:"ms3_pin"`
	StepsPerRev int `yaml:"steps_per_rev"`
	Microsteps  int `yaml:"microsteps"`

	UARTPort string `yaml:"uart_port,omitempty"`
	UARTBaud int    `yaml:"uart_baud,omitempty"`
	UARTAddr int    `yaml:"uart_addr,omitempty"`
}

// ControlConfig holds joystick mapping and acceleration parameters.
type ControlConfig struct {
	MaxStepsPerUpdate int     `yaml:"max_steps_per_update"`
	Deadzone          float64 `yaml:"deadzone"`
	SpeedScaling      float64 `yaml:"speed_scaling"`
	StepDelaySec      float64 `yaml:"step_delay"`
	IdleTimeoutSec    int     `yaml:"idle_timeout_sec"`
	AccelerationSteps int     `yaml:"acceleration_steps"`
}

// LaserConfig holds the laser output pin and safety envelope.
type LaserConfig struct {
	Pin               int `yaml:"pin"`
	FrequencyHz       int `yaml:"frequency_hz"`
	MaxPowerPct       int `yaml:"max_power_pct"`
	DefaultCooldownMs int `yaml:"default_cooldown_ms"`
	DefaultPulseMs    int `yaml:"default_pulse_ms"`
}

// TrackingConfig holds the default calibration values ingested when no
// persisted calibration file exists.
type TrackingConfig struct {
	DeadZonePixels    float64 `yaml:"dead_zone_pixels"`
	XStepsPerPixel    float64 `yaml:"x_steps_per_pixel"`
	YStepsPerPixel    float64 `yaml:"y_steps_per_pixel"`
	MaxStepsFromHomeX int     `yaml:"max_steps_from_home_x"`
	MaxStepsFromHomeY int     `yaml:"max_steps_from_home_y"`
	Kp                float64 `yaml:"kp"`
	Ki                float64 `yaml:"ki"`
	Kd                float64 `yaml:"kd"`
	RecenterOnLoss    bool    `yaml:"recenter_on_loss"`
	HomeRecenterRate  int     `yaml:"home_recenter_rate_steps_per_tick"`
	CalibrationPath   string  `yaml:"calibration_path"`
}

// MQTTConfig holds the joystick feed's broker connection.
type MQTTConfig struct {
	Broker string `yaml:"broker"`
	Port   int    `yaml:"port"`
	Topic  string `yaml:"topic"`
}

// Config aggregates all turret configuration.
type Config struct {
	MockGPIO bool `yaml:"mock_gpio"`

	GPIO     GPIOConfig     `yaml:"gpio"`
	MotorX   MotorConfig    `yaml:"motor_x"`
	MotorY   MotorConfig    `yaml:"motor_y"`
	Control  ControlConfig  `yaml:"control"`
	Laser    LaserConfig    `yaml:"laser"`
	Tracking TrackingConfig `yaml:"tracking"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Log      obslog.Config  `yaml:"log"`
	Listen   string         `yaml:"listen"`
}

// MaxConfigFileBytes bounds the size of a config file Load will read,
// guarding against an oversized or malformed file being fed to the
// YAML decoder.
const MaxConfigFileBytes = 1 << 20 // 1 MiB

// ValidateConfigPath rejects paths that escape the configs/ directory,
// lack a .yaml extension, or contain traversal segments. Load calls
// this before touching the filesystem.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path must not be empty")
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	clean := filepath.Clean(path)
	if strings.Contains(clean, "..") {
		return fmt.Errorf("config path %q must not contain traversal segments", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must live under a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file, applies defaults, and validates pin
// assignments. Validation failures are fatal per the pin-assignment
// rules: duplicates or out-of-range pins abort startup.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file %q exceeds %d bytes", path, MaxConfigFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with every numeric field at its spec-mandated
// default, suitable as a base before unmarshalling a partial file.
func Default() Config {
	return Config{
		MockGPIO: false,
		Listen:   ":8090",
		Control: ControlConfig{
			MaxStepsPerUpdate: 50,
			Deadzone:          5,
			SpeedScaling:      0.10,
			StepDelaySec:      0.0005,
			IdleTimeoutSec:    120,
			AccelerationSteps: 20,
		},
		Laser: LaserConfig{
			FrequencyHz:       1000,
			MaxPowerPct:       100,
			DefaultCooldownMs: 1000,
			DefaultPulseMs:    200,
		},
		Tracking: TrackingConfig{
			DeadZonePixels:    3,
			XStepsPerPixel:    1,
			YStepsPerPixel:    1,
			MaxStepsFromHomeX: 4000,
			MaxStepsFromHomeY: 4000,
			Kp:                0.3,
			Kd:                0.05,
			RecenterOnLoss:    true,
			HomeRecenterRate:  2,
			CalibrationPath:   "calibration.yaml",
		},
		MQTT: MQTTConfig{
			Broker: "localhost",
			Port:   1883,
			Topic:  "laserturret",
		},
		Log: obslog.Config{
			Level:  "info",
			Format: "console",
		},
	}
}

func (c *Config) applyDefaults() error {
	if c.MotorX.StepsPerRev == 0 {
		c.MotorX.StepsPerRev = 200
	}
	if c.MotorY.StepsPerRev == 0 {
		c.MotorY.StepsPerRev = 200
	}
	if c.MotorX.Microsteps == 0 {
		c.MotorX.Microsteps = 8
	}
	if c.MotorY.Microsteps == 0 {
		c.MotorY.Microsteps = 8
	}
	return nil
}

// Validate checks pin uniqueness/range and value bounds. Per the
// external-interfaces contract, all pins must be unique and within the
// platform's valid BCM range.
func (c *Config) Validate() error {
	pins := map[string]int{
		"gpio.x_cw_limit_pin":  c.GPIO.XCWLimitPin,
		"gpio.x_ccw_limit_pin": c.GPIO.XCCWLimitPin,
		"gpio.y_cw_limit_pin":  c.GPIO.YCWLimitPin,
		"gpio.y_ccw_limit_pin": c.GPIO.YCCWLimitPin,
		"motor_x.step_pin":     c.MotorX.StepPin,
		"motor_x.dir_pin":      c.MotorX.DirPin,
		"motor_y.step_pin":     c.MotorY.StepPin,
		"motor_y.dir_pin":      c.MotorY.DirPin,
		"laser.pin":            c.Laser.Pin,
	}
	if c.MotorX.EnablePin > 0 {
		pins["motor_x.enable_pin"] = c.MotorX.EnablePin
	}
	if c.MotorY.EnablePin > 0 {
		pins["motor_y.enable_pin"] = c.MotorY.EnablePin
	}
	if c.MotorX.UARTPort == "" {
		for name, p := range map[string]int{"motor_x.ms1_pin": c.MotorX.MS1Pin, "motor_x.ms2_pin": c.MotorX.MS2Pin, "motor_x.ms3_pin": c.MotorX.MS3Pin} {
			if p > 0 {
				pins[name] = p
			}
		}
	}
	if c.MotorY.UARTPort == "" {
		for name, p := range map[string]int{"motor_y.ms1_pin": c.MotorY.MS1Pin, "motor_y.ms2_pin": c.MotorY.MS2Pin, "motor_y.ms3_pin": c.MotorY.MS3Pin} {
			if p > 0 {
				pins[name] = p
			}
		}
	}

	if err := gpio.ValidatePins(pins); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if c.Laser.MaxPowerPct < 0 || c.Laser.MaxPowerPct > 100 {
		return fmt.Errorf("config: %w: laser.max_power_pct must be in [0,100], got %d", turreterr.ErrInvalidConfig, c.Laser.MaxPowerPct)
	}
	if c.Control.Deadzone < 0 || c.Control.Deadzone > 100 {
		return fmt.Errorf("config: %w: control.deadzone must be in [0,100], got %v", turreterr.ErrInvalidConfig, c.Control.Deadzone)
	}
	return nil
}

// StepDelay returns the minimum per-step delay as a Duration.
func (c *Config) StepDelay() time.Duration {
	return time.Duration(c.Control.StepDelaySec * float64(time.Second))
}

// IdleTimeout returns the arbiter's idle watchdog window.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Control.IdleTimeoutSec) * time.Second
}

// DefaultCooldown returns the laser's default post-fire cooldown.
func (c *Config) DefaultCooldown() time.Duration {
	return time.Duration(c.Laser.DefaultCooldownMs) * time.Millisecond
}

// DefaultPulse returns the laser's default fire duration.
func (c *Config) DefaultPulse() time.Duration {
	return time.Duration(c.Laser.DefaultPulseMs) * time.Millisecond
}
