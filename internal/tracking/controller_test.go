package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rndmzd/laser-turret/internal/hw/gpio"
	"github.com/rndmzd/laser-turret/internal/hw/stepper"
	"github.com/rndmzd/laser-turret/internal/turreterr"
)

func newTestAxes(t *testing.T) (*stepper.Axis, *stepper.Axis) {
	t.Helper()
	drv := gpio.NewMockDriver()
	xCfg := stepper.Config{
		Name: "x", StepPin: 1, DirPin: 2, EnablePin: 3,
		StepsPerRev: 200, Microsteps: 16, MinStepDelay: time.Microsecond,
	}
	yCfg := stepper.Config{
		Name: "y", StepPin: 4, DirPin: 5, EnablePin: 6,
		StepsPerRev: 200, Microsteps: 16, MinStepDelay: time.Microsecond,
	}
	x, err := stepper.New(drv, xCfg)
	require.NoError(t, err)
	y, err := stepper.New(drv, yCfg)
	require.NoError(t, err)
	return x, y
}

func TestController_MoveByClampsToMaxStepsFromHome(t *testing.T) {
	x, y := newTestAxes(t)
	cal := DefaultCalibration()
	cal.MaxStepsFromHomeX = 10
	cal.MaxStepsFromHomeY = 10
	c := New(x, y, cal)
	defer c.Stop()
	c.setModeLocked(CameraIdle)

	res, err := c.MoveBy(context.Background(), 50, -50)
	require.NoError(t, err)
	assert.Equal(t, 10, res.X.StepsEmitted)
	assert.Equal(t, 10, res.Y.StepsEmitted)
	assert.EqualValues(t, 10, x.Position())
	assert.EqualValues(t, -10, y.Position())
}

func TestController_MoveByRejectedInCrosshairMode(t *testing.T) {
	x, y := newTestAxes(t)
	c := New(x, y, DefaultCalibration())
	defer c.Stop()

	_, err := c.MoveBy(context.Background(), 5, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, turreterr.ErrModeDisabled)
}

func TestController_CenterOnPixelRespectsDeadZone(t *testing.T) {
	x, y := newTestAxes(t)
	cal := DefaultCalibration()
	cal.DeadZonePixels = 5
	cal.XStepsPerPixel = 1
	cal.YStepsPerPixel = 1
	cal.MaxStepsFromHomeX = 1000
	cal.MaxStepsFromHomeY = 1000
	c := New(x, y, cal)
	defer c.Stop()
	c.setModeLocked(CameraIdle)

	res, err := c.CenterOnPixel(context.Background(), 102, 240, 200, 480)
	require.NoError(t, err)
	assert.Equal(t, 0, res.X.StepsEmitted)
	assert.Equal(t, 0, res.Y.StepsEmitted)
}

func TestController_CalibrateAxisRejectsZeroPixels(t *testing.T) {
	x, y := newTestAxes(t)
	c := New(x, y, DefaultCalibration())
	defer c.Stop()

	err := c.CalibrateAxis("x", 0, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, turreterr.ErrInvalidConfig)
}

func TestController_TrackTargetEnqueuesCoalescedMove(t *testing.T) {
	x, y := newTestAxes(t)
	cal := DefaultCalibration()
	cal.Kp = 1
	cal.Ki = 0
	cal.Kd = 0
	cal.XStepsPerPixel = 1
	cal.YStepsPerPixel = 1
	cal.DeadZonePixels = 0
	cal.MaxStepsFromHomeX = 1000
	cal.MaxStepsFromHomeY = 1000
	c := New(x, y, cal)
	defer c.Stop()
	c.setModeLocked(CameraIdle)

	err := c.TrackTarget(150, 240, 100, 480, time.Now())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return x.Position() != 0
	}, time.Second, time.Millisecond)
}

func TestController_EnqueueMoveReplacesPendingDelta(t *testing.T) {
	x, y := newTestAxes(t)
	c := New(x, y, DefaultCalibration())
	// Stop the mover before exercising enqueueMove so nothing drains the
	// pending delta between the two calls below.
	c.Stop()

	c.enqueueMove(5, 5)
	c.enqueueMove(3, -2)

	c.pendingMu.Lock()
	dx, dy, valid := c.pendingDX, c.pendingDY, c.pendingValid
	c.pendingMu.Unlock()

	assert.True(t, valid)
	assert.Equal(t, 3, dx)
	assert.Equal(t, -2, dy)
}

func TestController_SetPIDRejectsNegativeGains(t *testing.T) {
	x, y := newTestAxes(t)
	c := New(x, y, DefaultCalibration())
	defer c.Stop()

	err := c.SetPID(-1, 0, 0)
	require.Error(t, err)
}
