package arbiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rndmzd/laser-turret/internal/hw/gpio"
	"github.com/rndmzd/laser-turret/internal/hw/laser"
	"github.com/rndmzd/laser-turret/internal/hw/stepper"
	"github.com/rndmzd/laser-turret/internal/tracking"
)

func newTestArbiter(t *testing.T) *Arbiter {
	t.Helper()
	drv := gpio.NewMockDriver()

	xCfg := stepper.Config{Name: "x", StepPin: 1, DirPin: 2, EnablePin: 3, StepsPerRev: 200, Microsteps: 16, MinStepDelay: time.Microsecond}
	yCfg := stepper.Config{Name: "y", StepPin: 4, DirPin: 5, EnablePin: 6, StepsPerRev: 200, Microsteps: 16, MinStepDelay: time.Microsecond}
	x, err := stepper.New(drv, xCfg)
	require.NoError(t, err)
	y, err := stepper.New(drv, yCfg)
	require.NoError(t, err)

	cal := tracking.DefaultCalibration()
	cal.MaxStepsFromHomeX = 1000
	cal.MaxStepsFromHomeY = 1000
	tc := tracking.New(x, y, cal)
	t.Cleanup(tc.Stop)

	out, err := laser.NewOutput(drv, 12, 1000, "test")
	require.NoError(t, err)
	lc := laser.NewController(out, laser.Config{MaxPowerPct: 100, DefaultCooldown: 10 * time.Millisecond, DefaultPulse: 5 * time.Millisecond})

	a := New(tc, lc, Config{Deadzone: 5, SpeedScaling: 0.10, MaxStepsPerUpdate: 50, IdleTimeout: time.Hour, DefaultFireMs: 50})
	t.Cleanup(a.Stop)

	_ = tc.SetMode(nil, tracking.CameraIdle)
	return a
}

func TestJoystickAxisSteps_MatchesScenarioF(t *testing.T) {
	dx := joystickAxisSteps(50, 5, 0.10, 50)
	dy := joystickAxisSteps(-30, 5, 0.10, 50)
	assert.Equal(t, 2, dx)
	assert.Equal(t, -1, dy)
}

func TestParseJoystickLine(t *testing.T) {
	s, err := parseJoystickLine("50,-30,false,false,0")
	require.NoError(t, err)
	assert.Equal(t, 50.0, s.X)
	assert.Equal(t, -30.0, s.Y)
	assert.False(t, s.JoyBtn)
	assert.False(t, s.LaserBtn)
	assert.Equal(t, 0, s.Power)
}

func TestParseJoystickLine_Malformed(t *testing.T) {
	_, err := parseJoystickLine("not,valid,csv")
	require.Error(t, err)

	_, err = parseJoystickLine("200,0,false,false,0")
	require.Error(t, err)
}

func TestArbiter_LaserFireRejectedWhenDisarmed(t *testing.T) {
	a := newTestArbiter(t)
	err := a.Submit(LaserFire{DurationMs: 10})
	require.Error(t, err)
}

func TestArbiter_LaserArmThenFireSucceeds(t *testing.T) {
	a := newTestArbiter(t)
	require.NoError(t, a.Submit(LaserArm{Armed: true}))
	require.NoError(t, a.Submit(LaserSetPower{Pct: 50}))
	require.NoError(t, a.Submit(LaserFire{DurationMs: 5}))
}

func TestArbiter_DisableSubmittedDuringJogSucceeds(t *testing.T) {
	a := newTestArbiter(t)

	started, done := make(chan struct{}), make(chan struct{})
	go func() {
		close(started)
		_ = a.Submit(Jog{Axis: "x", Steps: 1000000, Direction: 1})
		close(done)
	}()
	<-started
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, a.Submit(Disable{}))
	<-done
}

func TestArbiter_SnapshotPublishesAfterActivity(t *testing.T) {
	a := newTestArbiter(t)
	require.Eventually(t, func() bool {
		return a.Snapshot().Seq > 0
	}, time.Second, 10*time.Millisecond)
}
