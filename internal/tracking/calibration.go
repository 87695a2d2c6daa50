// Package tracking composes a pair of stepper axes with calibration and
// PID state, converting pixel-space target signals into bounded step
// commands serialized through a single mover task.
package tracking

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Calibration is the persisted blob shared by both axes: per-axis pixel
// scaling and travel bounds, shared PID gains, and loss-of-target
// recentering behavior.
type Calibration struct {
	XStepsPerPixel    float64 `yaml:"x_steps_per_pixel"`
	YStepsPerPixel    float64 `yaml:"y_steps_per_pixel"`
	DeadZonePixels    float64 `yaml:"dead_zone_pixels"`
	MaxStepsFromHomeX int     `yaml:"max_steps_from_home_x"`
	MaxStepsFromHomeY int     `yaml:"max_steps_from_home_y"`
	Kp                float64 `yaml:"kp"`
	Ki                float64 `yaml:"ki"`
	Kd                float64 `yaml:"kd"`
	RecenterOnLoss    bool    `yaml:"recenter_on_loss"`
	HomeRecenterRate  int     `yaml:"home_recenter_rate_steps_per_tick"`
}

// DefaultCalibration returns conservative, always-valid defaults.
func DefaultCalibration() Calibration {
	return Calibration{
		XStepsPerPixel:     1.0,
		YStepsPerPixel:     1.0,
		DeadZonePixels:     3,
		MaxStepsFromHomeX:  4000,
		MaxStepsFromHomeY:  4000,
		Kp:                 0.3,
		Ki:                 0.0,
		Kd:                 0.05,
		RecenterOnLoss:     true,
		HomeRecenterRate:   2,
	}
}

func (c Calibration) gains() Gains { return Gains{Kp: c.Kp, Ki: c.Ki, Kd: c.Kd} }

// LoadCalibration reads a YAML calibration blob, falling back to
// DefaultCalibration if the file does not exist.
func LoadCalibration(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultCalibration(), nil
	}
	if err != nil {
		return Calibration{}, fmt.Errorf("read calibration file: %w", err)
	}
	cal := DefaultCalibration()
	if err := yaml.Unmarshal(data, &cal); err != nil {
		return Calibration{}, fmt.Errorf("unmarshal calibration yaml: %w", err)
	}
	return cal, nil
}

// SaveCalibration writes cal to path atomically: marshal to a sibling
// temp file, fsync, then rename over the destination, so a crash mid-write
// never leaves a truncated calibration file.
func SaveCalibration(path string, cal Calibration) error {
	data, err := yaml.Marshal(cal)
	if err != nil {
		return fmt.Errorf("marshal calibration yaml: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".calibration-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp calibration file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp calibration file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp calibration file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp calibration file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename calibration file into place: %w", err)
	}
	return nil
}
