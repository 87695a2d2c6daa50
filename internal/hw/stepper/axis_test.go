package stepper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rndmzd/laser-turret/internal/hw/gpio"
	"github.com/rndmzd/laser-turret/internal/turreterr"
)

func testConfig() Config {
	return Config{
		Name:              "pan",
		StepPin:           17,
		DirPin:            27,
		EnablePin:         22,
		CWLimitPin:        23,
		CCWLimitPin:       24,
		HasLimits:         true,
		StepsPerRev:       200,
		Microsteps:        16,
		MinStepDelay:      1 * time.Microsecond,
		AccelerationSteps: 0,
	}
}

func newTestAxis(t *testing.T) (*Axis, *gpio.MockDriver) {
	t.Helper()
	drv := gpio.NewMockDriver()
	a, err := New(drv, testConfig())
	require.NoError(t, err)
	return a, drv
}

func TestAxis_StepAccumulatesPosition(t *testing.T) {
	a, _ := newTestAxis(t)

	out, err := a.Step(context.Background(), CW, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, out.StepsEmitted)
	assert.Equal(t, Completed, out.TerminatedBy)
	assert.EqualValues(t, 10, a.Position())

	out, err = a.Step(context.Background(), CCW, 4, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, out.StepsEmitted)
	assert.EqualValues(t, 6, a.Position())
}

func TestAxis_ZeroStepsCompletesImmediately(t *testing.T) {
	a, _ := newTestAxis(t)
	out, err := a.Step(context.Background(), CW, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, out.StepsEmitted)
	assert.Equal(t, Completed, out.TerminatedBy)
}

func TestAxis_LimitBlocksFurtherStepsUntilOppositeDirection(t *testing.T) {
	a, drv := newTestAxis(t)

	drv.TriggerEdge(a.cfg.CWLimitPin, gpio.Low)
	require.Equal(t, LimitReached, a.Status().Kind)

	out, err := a.Step(context.Background(), CW, 5, 0)
	require.Error(t, err)
	assert.Equal(t, 0, out.StepsEmitted)
	assert.Equal(t, LimitHit, out.TerminatedBy)

	// Repeating the same-direction request keeps failing.
	out, err = a.Step(context.Background(), CW, 5, 0)
	assert.Equal(t, 0, out.StepsEmitted)
	assert.Equal(t, LimitHit, out.TerminatedBy)
	_ = err

	// A step in the opposite direction clears the latch and succeeds.
	out, err = a.Step(context.Background(), CCW, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, out.StepsEmitted)
	assert.Equal(t, Completed, out.TerminatedBy)
}

func TestAxis_SetHomeHereZeroesPosition(t *testing.T) {
	a, _ := newTestAxis(t)
	_, err := a.Step(context.Background(), CW, 7, 0)
	require.NoError(t, err)
	require.EqualValues(t, 7, a.Position())

	a.SetHomeHere()
	assert.EqualValues(t, 0, a.Position())
}

func TestAxis_HomeCentersWithinOneStep(t *testing.T) {
	a, drv := newTestAxis(t)

	go func() {
		time.Sleep(5 * time.Millisecond)
		drv.TriggerEdge(a.cfg.CCWLimitPin, gpio.Low)
		time.Sleep(5 * time.Millisecond)
		drv.TriggerEdge(a.cfg.CWLimitPin, gpio.Low)
	}()

	err := a.Home(context.Background(), 2, 2*time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 0, a.Position(), 1)
}

func TestAxis_HomeTimesOutWhenLimitNeverFires(t *testing.T) {
	a, _ := newTestAxis(t)

	err := a.Home(context.Background(), 2, 20*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, turreterr.ErrTimeout)

	status := a.Status()
	assert.Equal(t, Errored, status.Kind)
	assert.True(t, errors.Is(status.ErrorKind, turreterr.ErrTimeout))
}

func TestAxis_StepClampsToMaxStepsFromHome(t *testing.T) {
	drv := gpio.NewMockDriver()
	cfg := testConfig()
	cfg.MaxStepsFromHome = 5
	a, err := New(drv, cfg)
	require.NoError(t, err)

	out, err := a.Step(context.Background(), CW, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, out.StepsEmitted)
	assert.Equal(t, LimitHit, out.TerminatedBy)
	assert.EqualValues(t, 5, a.Position())
}

func TestAxis_HomeIgnoresMaxStepsFromHome(t *testing.T) {
	drv := gpio.NewMockDriver()
	cfg := testConfig()
	cfg.MaxStepsFromHome = 2
	a, err := New(drv, cfg)
	require.NoError(t, err)

	go func() {
		time.Sleep(5 * time.Millisecond)
		drv.TriggerEdge(a.cfg.CCWLimitPin, gpio.Low)
		time.Sleep(5 * time.Millisecond)
		drv.TriggerEdge(a.cfg.CWLimitPin, gpio.Low)
	}()

	err = a.Home(context.Background(), 2, 2*time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 0, a.Position(), 1)
}

func TestAxis_NegativeCountRejected(t *testing.T) {
	a, _ := newTestAxis(t)
	_, err := a.Step(context.Background(), CW, -1, 0)
	require.Error(t, err)
}

func TestAxis_ReleaseWithoutEnablePinIsNoop(t *testing.T) {
	drv := gpio.NewMockDriver()
	cfg := testConfig()
	cfg.EnablePin = 0
	a, err := New(drv, cfg)
	require.NoError(t, err)
	assert.NoError(t, a.Release())
}
