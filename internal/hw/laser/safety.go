package laser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rndmzd/laser-turret/internal/obslog"
	"github.com/rndmzd/laser-turret/internal/turreterr"
)

// Config holds the safety envelope for one laser output.
type Config struct {
	MaxPowerPct     int
	DefaultCooldown time.Duration
	DefaultPulse    time.Duration
}

// State is the full, read-only snapshot returned by Status.
type State struct {
	Armed         bool
	PowerPct      int
	IsOn          bool
	FireCount     int
	CooldownUntil time.Time
}

// Controller composes an Output with arm state, cooldown timers, and
// fire/burst sequencing, matching LaserSafetyController's public surface.
type Controller struct {
	out *Output
	cfg Config

	mu            sync.Mutex
	armed         bool
	powerPct      int
	fireCount     int
	cooldownUntil time.Time
	busy          bool
	cancelActive  context.CancelFunc
}

// NewController wraps out with the given safety envelope. The laser
// starts disarmed at zero power.
func NewController(out *Output, cfg Config) *Controller {
	if cfg.MaxPowerPct <= 0 {
		cfg.MaxPowerPct = 100
	}
	return &Controller{out: out, cfg: cfg}
}

// Arm toggles the armed state. Disarming forces power to zero and
// cancels any in-flight burst.
func (c *Controller) Arm(armed bool) {
	c.mu.Lock()
	c.armed = armed
	cancel := c.cancelActive
	c.mu.Unlock()

	if !armed {
		if cancel != nil {
			cancel()
		}
		_ = c.out.Off()
	}
	obslog.L().Info("laser_arm", zap.Bool("armed", armed))
}

// SetPower clamps pct to [0, MaxPowerPct] and records it for the next
// fire/burst. It does not drive the output directly — only fire/burst
// change live duty, so changing the configured power never illuminates
// the beam on its own.
func (c *Controller) SetPower(pct int) int {
	if pct < 0 {
		pct = 0
	}
	if pct > c.cfg.MaxPowerPct {
		pct = c.cfg.MaxPowerPct
	}
	c.mu.Lock()
	c.powerPct = pct
	c.mu.Unlock()
	return pct
}

// Status returns the full laser state.
func (c *Controller) Status() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Armed:         c.armed,
		PowerPct:      c.powerPct,
		IsOn:          c.out.IsOn(),
		FireCount:     c.fireCount,
		CooldownUntil: c.cooldownUntil,
	}
}

// Fire rejects if disarmed, busy with another fire/burst, or still
// within cooldown. Otherwise it drives duty to the current power level
// for duration, then guarantees duty returns to zero and starts the
// cooldown window, on every exit path including cancellation.
func (c *Controller) Fire(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		duration = c.cfg.DefaultPulse
	}

	fireCtx, cancel, reject := c.beginExclusive(ctx)
	if reject != nil {
		return reject
	}
	defer c.endExclusive()
	defer cancel()

	return c.runPulse(fireCtx, duration, true)
}

// Burst runs count on/off cycles. fire_count increments once per
// on-cycle attempted, even one cancelled mid-flight; cooldown starts only
// after the last on-cycle, including when that cycle is cut short.
func (c *Controller) Burst(ctx context.Context, count int, onDuration, offDuration time.Duration) error {
	if count <= 0 {
		return fmt.Errorf("%w: burst count must be positive", turreterr.ErrInvalidConfig)
	}

	burstCtx, cancel, reject := c.beginExclusive(ctx)
	if reject != nil {
		return reject
	}
	defer c.endExclusive()
	defer cancel()

	for i := 0; i < count; i++ {
		last := i == count-1
		if err := c.runPulse(burstCtx, onDuration, last); err != nil {
			return err
		}
		if !last {
			if err := sleepCancelable(burstCtx, offDuration); err != nil {
				return err
			}
		}
	}
	return nil
}

// beginExclusive validates arm/cooldown/busy state and, if accepted,
// marks the controller busy and derives a cancellable context that Arm
// can stop mid-pulse.
func (c *Controller) beginExclusive(ctx context.Context) (context.Context, context.CancelFunc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.armed {
		return nil, nil, turreterr.Reject(turreterr.ErrModeDisabled, "laser is disarmed")
	}
	if c.busy {
		return nil, nil, turreterr.Reject(turreterr.ErrBusy, "fire or burst already in progress")
	}
	if now().Before(c.cooldownUntil) {
		return nil, nil, turreterr.Reject(turreterr.ErrCooldown, "laser cooling down")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.busy = true
	c.cancelActive = cancel
	return runCtx, cancel, nil
}

func (c *Controller) endExclusive() {
	c.mu.Lock()
	c.busy = false
	c.cancelActive = nil
	c.mu.Unlock()
}

// runPulse drives duty high for duration and guarantees it returns to
// zero on the way out. fire_count increments once per on-cycle attempt,
// including one cut short by cancellation — the beam did fire, if only
// for part of the requested duration. Cooldown starts only when
// applyCooldown is true (the final cycle of a fire or burst), so a burst
// cut short by disarm still credits the cycles it actually ran without
// starting a cooldown window for a burst that never reached its last
// cycle.
func (c *Controller) runPulse(ctx context.Context, duration time.Duration, applyCooldown bool) error {
	c.mu.Lock()
	pct := c.powerPct
	c.mu.Unlock()

	if err := c.out.SetDuty(pct); err != nil {
		return err
	}

	sleepErr := sleepCancelable(ctx, duration)

	offErr := c.out.Off()

	c.mu.Lock()
	c.fireCount++
	if applyCooldown {
		c.cooldownUntil = now().Add(c.cfg.DefaultCooldown)
	}
	c.mu.Unlock()

	obslog.L().Info("laser_pulse", zap.Int("power_pct", pct), zap.Duration("duration", duration), zap.Bool("cancelled", sleepErr != nil))

	if offErr != nil {
		return offErr
	}
	return sleepErr
}

func sleepCancelable(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return turreterr.Reject(turreterr.ErrCancelled, "laser pulse cancelled")
	}
}

// now is a seam for deterministic tests.
var now = time.Now
