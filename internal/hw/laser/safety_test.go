package laser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rndmzd/laser-turret/internal/hw/gpio"
	"github.com/rndmzd/laser-turret/internal/turreterr"
)

func newTestController(t *testing.T) (*Controller, *gpio.MockDriver) {
	t.Helper()
	drv := gpio.NewMockDriver()
	out, err := NewOutput(drv, 12, 1000, "test-laser")
	require.NoError(t, err)
	c := NewController(out, Config{
		MaxPowerPct:     80,
		DefaultCooldown: 20 * time.Millisecond,
		DefaultPulse:    5 * time.Millisecond,
	})
	return c, drv
}

func TestController_FireRejectedWhenDisarmed(t *testing.T) {
	c, _ := newTestController(t)
	c.SetPower(50)

	err := c.Fire(context.Background(), 5*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, turreterr.ErrModeDisabled)
	assert.False(t, c.out.IsOn())
	assert.Equal(t, 0, c.out.PowerPct())
}

func TestController_FireSucceedsAndThenCoolsDown(t *testing.T) {
	c, _ := newTestController(t)
	c.Arm(true)
	c.SetPower(50)

	err := c.Fire(context.Background(), 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Status().FireCount)
	assert.False(t, c.out.IsOn())

	err = c.Fire(context.Background(), 5*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, turreterr.ErrCooldown)
}

func TestController_SetPowerClampsToMax(t *testing.T) {
	c, _ := newTestController(t)
	assert.Equal(t, 80, c.SetPower(150))
	assert.Equal(t, 0, c.SetPower(-10))
}

func TestController_DisarmCancelsInFlightBurstAndZeroesDuty(t *testing.T) {
	c, _ := newTestController(t)
	c.Arm(true)
	c.SetPower(60)

	done := make(chan error, 1)
	go func() {
		done <- c.Burst(context.Background(), 5, 50*time.Millisecond, 10*time.Millisecond)
	}()

	time.Sleep(10 * time.Millisecond)
	c.Arm(false)

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, turreterr.ErrCancelled)
	assert.False(t, c.out.IsOn())
	assert.Equal(t, 0, c.out.PowerPct())
	assert.Equal(t, 1, c.Status().FireCount)
}

func TestController_BurstCreditsCompletedCyclesWhenDisarmedMidCycle(t *testing.T) {
	c, _ := newTestController(t)
	c.Arm(true)
	c.SetPower(40)

	done := make(chan error, 1)
	go func() {
		done <- c.Burst(context.Background(), 5, 100*time.Millisecond, 100*time.Millisecond)
	}()

	time.Sleep(250 * time.Millisecond)
	c.Arm(false)

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, turreterr.ErrCancelled)
	assert.False(t, c.out.IsOn())
	assert.Equal(t, 0, c.out.PowerPct())
	assert.Equal(t, 2, c.Status().FireCount)
}

func TestController_SecondFireDuringBurstIsBusy(t *testing.T) {
	c, _ := newTestController(t)
	c.Arm(true)
	c.SetPower(40)

	done := make(chan error, 1)
	go func() {
		done <- c.Burst(context.Background(), 3, 30*time.Millisecond, 5*time.Millisecond)
	}()
	time.Sleep(5 * time.Millisecond)

	err := c.Fire(context.Background(), 5*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, turreterr.ErrBusy)

	c.Arm(false)
	<-done
}
