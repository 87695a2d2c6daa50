package tracking

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rndmzd/laser-turret/internal/hw/stepper"
	"github.com/rndmzd/laser-turret/internal/obslog"
	"github.com/rndmzd/laser-turret/internal/turreterr"
)

// Mode is the tracking state machine's current state.
type Mode int

const (
	Crosshair Mode = iota
	CameraIdle
	CameraHoming
	CameraTracking
	CameraDisabled
)

func (m Mode) String() string {
	switch m {
	case Crosshair:
		return "crosshair"
	case CameraIdle:
		return "camera_idle"
	case CameraHoming:
		return "camera_homing"
	case CameraTracking:
		return "camera_tracking"
	case CameraDisabled:
		return "camera_disabled"
	default:
		return "unknown"
	}
}

// MoveResult aggregates the per-axis outcome of one combined move.
type MoveResult struct {
	X stepper.StepOutcome
	Y stepper.StepOutcome
}

const lossWatchInterval = 50 * time.Millisecond

// Controller owns a pan/tilt axis pair, shared calibration, and per-axis
// PID state, serializing all motion through a single moveMu so that at
// most one axis-pair movement is ever in flight, whether it arrives
// synchronously (MoveBy) or via the coalescing TrackTarget queue.
type Controller struct {
	x, y *stepper.Axis

	calMu sync.Mutex
	cal   Calibration
	pidX  PIDState
	pidY  PIDState

	stateMu      sync.Mutex
	mode         Mode
	lastTargetTS time.Time
	hasTarget    bool

	moveMu sync.Mutex // serializes actual axis movement

	pendingMu    sync.Mutex
	pendingDX    int
	pendingDY    int
	pendingValid bool
	wake         chan struct{}

	lossTimeout    time.Duration
	homeTimeout    time.Duration
	homeBackoff    int
	stopCh         chan struct{}
	moverWG        sync.WaitGroup
}

// New builds a Controller around two configured axes.
func New(x, y *stepper.Axis, cal Calibration) *Controller {
	c := &Controller{
		x:           x,
		y:           y,
		cal:         cal,
		mode:        Crosshair,
		wake:        make(chan struct{}, 1),
		lossTimeout: 500 * time.Millisecond,
		homeTimeout: 30 * time.Second,
		homeBackoff: 4,
		stopCh:      make(chan struct{}),
	}
	c.moverWG.Add(2)
	go c.moverLoop()
	go c.lossWatchLoop()
	return c
}

// Stop terminates the mover and loss-watch background goroutines.
func (c *Controller) Stop() {
	close(c.stopCh)
	c.moverWG.Wait()
}

func (c *Controller) moverLoop() {
	defer c.moverWG.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.wake:
			for {
				c.pendingMu.Lock()
				if !c.pendingValid {
					c.pendingMu.Unlock()
					break
				}
				dx, dy := c.pendingDX, c.pendingDY
				c.pendingValid = false
				c.pendingMu.Unlock()

				if _, err := c.moveBy(context.Background(), dx, dy); err != nil {
					obslog.L().Warn("tracking_mover_move_failed", zap.Error(err))
				}
			}
		}
	}
}

func (c *Controller) lossWatchLoop() {
	defer c.moverWG.Done()
	ticker := time.NewTicker(lossWatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.checkTargetLoss()
		}
	}
}

func (c *Controller) checkTargetLoss() {
	c.stateMu.Lock()
	if !c.hasTarget || c.mode != CameraTracking {
		c.stateMu.Unlock()
		return
	}
	age := time.Since(c.lastTargetTS)
	c.stateMu.Unlock()

	if age < c.lossTimeout {
		return
	}

	c.calMu.Lock()
	recenter := c.cal.RecenterOnLoss
	rate := c.cal.HomeRecenterRate
	c.calMu.Unlock()
	if !recenter {
		return
	}

	c.stateMu.Lock()
	c.pidX.Reset()
	c.pidY.Reset()
	c.stateMu.Unlock()

	dx := stepToward(c.x.Position(), rate)
	dy := stepToward(c.y.Position(), rate)
	if dx != 0 || dy != 0 {
		c.enqueueMove(dx, dy)
	}
}

func stepToward(position int32, rate int) int {
	if position == 0 {
		return 0
	}
	if int(position) < rate && int(position) > -rate {
		return -int(position)
	}
	if position > 0 {
		return -rate
	}
	return rate
}

// enqueueMove replaces any pending, not-yet-applied delta with this one.
// Each caller computes dx/dy as the full correction from the axis's
// current position, so a newer sample supersedes an older one rather
// than stacking with it.
func (c *Controller) enqueueMove(dx, dy int) {
	c.pendingMu.Lock()
	c.pendingDX, c.pendingDY = dx, dy
	c.pendingValid = true
	c.pendingMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// SetMode transitions the tracking mode, requesting a home before
// returning to Crosshair from any camera state.
func (c *Controller) SetMode(ctx context.Context, mode Mode) error {
	c.stateMu.Lock()
	cur := c.mode
	c.stateMu.Unlock()

	if mode == Crosshair && cur != Crosshair {
		c.setModeLocked(CameraHoming)
		if err := c.Home(ctx); err != nil {
			return err
		}
		c.setModeLocked(Crosshair)
		return nil
	}

	if mode == CameraIdle && cur == Crosshair {
		c.setModeLocked(CameraIdle)
		return nil
	}

	c.setModeLocked(mode)
	return nil
}

func (c *Controller) setModeLocked(mode Mode) {
	c.stateMu.Lock()
	c.mode = mode
	c.stateMu.Unlock()
}

// ModeState returns the current mode.
func (c *Controller) ModeState() Mode {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.mode
}

func (c *Controller) requireMotionAllowed() error {
	if c.ModeState() == Crosshair {
		return turreterr.Reject(turreterr.ErrModeDisabled, "motion disabled in crosshair mode")
	}
	return nil
}

// Enable re-asserts both axes' enable pins.
func (c *Controller) Enable() error {
	if err := c.x.Enable(); err != nil {
		return err
	}
	return c.y.Enable()
}

// Disable releases both axes and transitions to CameraDisabled.
func (c *Controller) Disable() error {
	c.setModeLocked(CameraDisabled)
	if err := c.x.Release(); err != nil {
		return err
	}
	return c.y.Release()
}

// Home homes both axes sequentially, blocking until both complete or an
// error occurs.
func (c *Controller) Home(ctx context.Context) error {
	c.moveMu.Lock()
	defer c.moveMu.Unlock()

	if err := c.x.Home(ctx, c.homeBackoff, c.homeTimeout); err != nil {
		return err
	}
	if err := c.y.Home(ctx, c.homeBackoff, c.homeTimeout); err != nil {
		return err
	}
	return nil
}

// SetHomeHere zeroes both axes' positions without moving.
func (c *Controller) SetHomeHere() {
	c.x.SetHomeHere()
	c.y.SetHomeHere()
}

// MoveBy issues a synchronous, bounds-clamped relative move on both axes.
func (c *Controller) MoveBy(ctx context.Context, dx, dy int) (MoveResult, error) {
	if err := c.requireMotionAllowed(); err != nil {
		return MoveResult{}, err
	}
	if c.ModeState() == CameraIdle {
		c.setModeLocked(CameraTracking)
	}
	return c.moveBy(ctx, dx, dy)
}

func (c *Controller) moveBy(ctx context.Context, dx, dy int) (MoveResult, error) {
	c.moveMu.Lock()
	defer c.moveMu.Unlock()

	c.calMu.Lock()
	maxX, maxY := c.cal.MaxStepsFromHomeX, c.cal.MaxStepsFromHomeY
	c.calMu.Unlock()

	targetX := clampInt(int(c.x.Position())+dx, -maxX, maxX)
	targetY := clampInt(int(c.y.Position())+dy, -maxY, maxY)
	stepsX := targetX - int(c.x.Position())
	stepsY := targetY - int(c.y.Position())

	var res MoveResult
	if stepsX != 0 {
		out, err := c.x.Step(ctx, dirOf(stepsX), absInt(stepsX), 0)
		res.X = out
		if err != nil && out.TerminatedBy != stepper.LimitHit {
			return res, err
		}
	} else {
		res.X = stepper.StepOutcome{TerminatedBy: stepper.Completed}
	}
	if stepsY != 0 {
		out, err := c.y.Step(ctx, dirOf(stepsY), absInt(stepsY), 0)
		res.Y = out
		if err != nil && out.TerminatedBy != stepper.LimitHit {
			return res, err
		}
	} else {
		res.Y = stepper.StepOutcome{TerminatedBy: stepper.Completed}
	}
	return res, nil
}

func dirOf(delta int) stepper.Direction {
	if delta > 0 {
		return stepper.CW
	}
	return stepper.CCW
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CenterOnPixel converts a pixel offset from frame center into a step
// delta via steps_per_pixel and issues it through MoveBy. Offsets within
// dead_zone_pixels on an axis produce zero motion on that axis.
func (c *Controller) CenterOnPixel(ctx context.Context, px, py, frameW, frameH int) (MoveResult, error) {
	c.calMu.Lock()
	cal := c.cal
	c.calMu.Unlock()

	ex := float64(px) - float64(frameW)/2
	ey := float64(py) - float64(frameH)/2
	if math.Abs(ex) <= cal.DeadZonePixels {
		ex = 0
	}
	if math.Abs(ey) <= cal.DeadZonePixels {
		ey = 0
	}

	dx := int(math.Round(ex * cal.XStepsPerPixel))
	dy := int(math.Round(ey * cal.YStepsPerPixel))
	return c.MoveBy(ctx, dx, dy)
}

// TrackTarget runs the per-axis PID step for a detector-sourced centroid
// and enqueues the resulting delta to the coalescing mover, per the
// tracking algorithm. It returns immediately.
func (c *Controller) TrackTarget(cx, cy, frameW, frameH int, ts time.Time) error {
	if err := c.requireMotionAllowed(); err != nil {
		return err
	}
	if c.ModeState() == CameraIdle {
		c.setModeLocked(CameraTracking)
	}

	c.calMu.Lock()
	cal := c.cal
	gains := cal.gains()
	iMaxX := IMax(float64(cal.MaxStepsFromHomeX), gains)
	iMaxY := IMax(float64(cal.MaxStepsFromHomeY), gains)
	c.calMu.Unlock()

	ex := float64(cx) - float64(frameW)/2
	ey := float64(cy) - float64(frameH)/2

	c.stateMu.Lock()
	ux := c.pidX.Update(ex, ts, gains, cal.DeadZonePixels, iMaxX)
	uy := c.pidY.Update(ey, ts, gains, cal.DeadZonePixels, iMaxY)
	c.lastTargetTS = ts
	c.hasTarget = true
	c.stateMu.Unlock()

	dx := int(math.Round(ux * cal.XStepsPerPixel))
	dy := int(math.Round(uy * cal.YStepsPerPixel))

	if dx != 0 || dy != 0 {
		c.enqueueMove(dx, dy)
	}
	return nil
}

// LastTargetAge returns the time since the last successful TrackTarget
// call, or a very large duration if no target has ever been seen.
func (c *Controller) LastTargetAge() time.Duration {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if !c.hasTarget {
		return time.Duration(math.MaxInt64)
	}
	return time.Since(c.lastTargetTS)
}

// CalibrateAxis updates steps_per_pixel for the named axis ("x" or "y")
// from an observed pixels_moved/steps_executed pair.
func (c *Controller) CalibrateAxis(axis string, pixelsMoved, stepsExecuted float64) error {
	if pixelsMoved == 0 {
		return fmt.Errorf("%w: pixels_moved must be non-zero", turreterr.ErrInvalidConfig)
	}
	ratio := stepsExecuted / pixelsMoved

	c.calMu.Lock()
	defer c.calMu.Unlock()
	switch axis {
	case "x":
		c.cal.XStepsPerPixel = ratio
	case "y":
		c.cal.YStepsPerPixel = ratio
	default:
		return fmt.Errorf("%w: unknown axis %q", turreterr.ErrInvalidConfig, axis)
	}
	return nil
}

// SetPID validates and stores new shared PID gains.
func (c *Controller) SetPID(kp, ki, kd float64) error {
	if kp < 0 || ki < 0 || kd < 0 {
		return fmt.Errorf("%w: pid gains must be non-negative", turreterr.ErrInvalidConfig)
	}
	c.calMu.Lock()
	c.cal.Kp, c.cal.Ki, c.cal.Kd = kp, ki, kd
	c.calMu.Unlock()
	return nil
}

// GetPID returns the current shared PID gains.
func (c *Controller) GetPID() Gains {
	c.calMu.Lock()
	defer c.calMu.Unlock()
	return c.cal.gains()
}

// Calibration returns a copy of the current calibration blob, suitable
// for telemetry echo or persistence.
func (c *Controller) Calibration() Calibration {
	c.calMu.Lock()
	defer c.calMu.Unlock()
	return c.cal
}

// XPosition returns the pan axis's current step position.
func (c *Controller) XPosition() int32 { return c.x.Position() }

// YPosition returns the tilt axis's current step position.
func (c *Controller) YPosition() int32 { return c.y.Position() }

// XStatus returns the pan axis's current status.
func (c *Controller) XStatus() stepper.Status { return c.x.Status() }

// YStatus returns the tilt axis's current status.
func (c *Controller) YStatus() stepper.Status { return c.y.Status() }
