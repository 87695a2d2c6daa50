package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------- ValidateConfigPath ----------

func TestValidateConfigPath_Valid(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	require.NoError(t, os.Mkdir(cfgDir, 0o755))
	path := filepath.Join(cfgDir, "turret.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	assert.NoError(t, ValidateConfigPath(path))
}

func TestValidateConfigPath_PathTraversal(t *testing.T) {
	cases := []string{
		"../../etc/passwd",
		"configs/../../../etc/shadow",
	}
	for _, path := range cases {
		assert.Error(t, ValidateConfigPath(path), path)
	}
}

func TestValidateConfigPath_WrongExtension(t *testing.T) {
	cases := []string{
		"configs/turret.json",
		"configs/turret.yml",
		"configs/turret",
	}
	for _, path := range cases {
		assert.Error(t, ValidateConfigPath(path), path)
	}
}

func TestValidateConfigPath_NotInConfigsDir(t *testing.T) {
	cases := []string{
		"other/turret.yaml",
		"turret.yaml",
		"/tmp/turret.yaml",
	}
	for _, path := range cases {
		assert.Error(t, ValidateConfigPath(path), path)
	}
}

func TestValidateConfigPath_EmptyPath(t *testing.T) {
	assert.Error(t, ValidateConfigPath(""))
}

// ---------- Load ----------

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	require.NoError(t, os.Mkdir(cfgDir, 0o755))
	path := filepath.Join(cfgDir, "turret.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validYAML = `
gpio:
  x_cw_limit_pin: 5
  x_ccw_limit_pin: 6
  y_cw_limit_pin: 13
  y_ccw_limit_pin: 19
motor_x:
  step_pin: 17
  dir_pin: 27
  enable_pin: 22
  ms1_pin: 23
  ms2_pin: 24
  ms3_pin: 25
  steps_per_rev: 200
  microsteps: 8
motor_y:
  step_pin: 16
  dir_pin: 20
  enable_pin: 21
  ms1_pin: 26
  ms2_pin: 12
  ms3_pin: 7
  steps_per_rev: 200
  microsteps: 8
laser:
  pin: 18
  max_power_pct: 80
control:
  max_steps_per_update: 40
  deadzone: 8
  speed_scaling: 0.2
`

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 17, cfg.MotorX.StepPin)
	assert.Equal(t, 200, cfg.MotorX.StepsPerRev)
	assert.Equal(t, 8, cfg.MotorX.Microsteps)
	assert.Equal(t, 18, cfg.Laser.Pin)
	assert.Equal(t, 80, cfg.Laser.MaxPowerPct)
	assert.Equal(t, 40, cfg.Control.MaxStepsPerUpdate)
}

func TestLoad_DefaultValues(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 120, cfg.Control.IdleTimeoutSec)
	assert.Equal(t, 1000, cfg.Laser.DefaultCooldownMs)
	assert.Equal(t, 200, cfg.Laser.DefaultPulseMs)
	assert.InDelta(t, 0.3, cfg.Tracking.Kp, 1e-9)
}

func TestLoad_PinCollisionRejected(t *testing.T) {
	yaml := strings.ReplaceAll(validYAML, "step_pin: 16", "step_pin: 17")
	path := writeConfig(t, yaml)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collision")
}

func TestLoad_PinOutOfRangeRejected(t *testing.T) {
	yaml := strings.ReplaceAll(validYAML, "step_pin: 17", "step_pin: 99")
	path := writeConfig(t, yaml)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_LaserPowerOutOfRangeRejected(t *testing.T) {
	yaml := strings.ReplaceAll(validYAML, "max_power_pct: 80", "max_power_pct: 150")
	path := writeConfig(t, yaml)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_FileTooLarge(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	require.NoError(t, os.Mkdir(cfgDir, 0o755))
	path := filepath.Join(cfgDir, "turret.yaml")
	data := make([]byte, MaxConfigFileBytes+1)
	for i := range data {
		data[i] = '#'
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "{{{{invalid yaml!!!!")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_FileNotFound(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	require.NoError(t, os.Mkdir(cfgDir, 0o755))
	path := filepath.Join(cfgDir, "nonexistent.yaml")
	_, err := Load(path)
	require.Error(t, err)
}

// ---------- accessor methods ----------

func TestConfig_DurationAccessors(t *testing.T) {
	cfg := Default()
	cfg.Control.StepDelaySec = 0.001
	cfg.Control.IdleTimeoutSec = 60
	cfg.Laser.DefaultCooldownMs = 500
	cfg.Laser.DefaultPulseMs = 100

	assert.Equal(t, time.Millisecond, cfg.StepDelay())
	assert.Equal(t, 60*time.Second, cfg.IdleTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.DefaultCooldown())
	assert.Equal(t, 100*time.Millisecond, cfg.DefaultPulse())
}
