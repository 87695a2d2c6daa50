// Package stepper drives one pan or tilt axis: step/direction/enable
// generation with a trapezoidal acceleration profile, limit-switch
// interlocks, and position accounting. It generalizes the teacher's
// Stepper (fixed-delay, no limits) to the full algorithm in the turret
// core's motion spec.
package stepper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rndmzd/laser-turret/internal/hw/gpio"
	"github.com/rndmzd/laser-turret/internal/obslog"
	"github.com/rndmzd/laser-turret/internal/turreterr"
)

// Direction of travel. CW/CCW are arbitrary but fixed per axis wiring.
type Direction int

const (
	None Direction = iota
	CW
	CCW
)

func (d Direction) String() string {
	switch d {
	case CW:
		return "cw"
	case CCW:
		return "ccw"
	default:
		return "none"
	}
}

// StatusKind is the axis lifecycle state.
type StatusKind int

const (
	Idle StatusKind = iota
	Moving
	LimitReached
	Homing
	Errored
)

// Status is the full axis status, including the direction for
// LimitReached and the error kind for Errored.
type Status struct {
	Kind      StatusKind
	Limit     Direction // valid when Kind == LimitReached
	ErrorKind error     // valid when Kind == Errored
}

// TerminatedBy describes why a Step call stopped emitting pulses.
type TerminatedBy int

const (
	Completed TerminatedBy = iota
	LimitHit
	Cancelled
	ErrorTerminated
)

func (t TerminatedBy) String() string {
	switch t {
	case Completed:
		return "completed"
	case LimitHit:
		return "limit_hit"
	case Cancelled:
		return "cancelled"
	default:
		return "error"
	}
}

// StepOutcome reports what happened during one Step call.
type StepOutcome struct {
	StepsEmitted int
	TerminatedBy TerminatedBy
}

// Config is the immutable hardware configuration for one axis.
type Config struct {
	Name        string
	StepPin     int
	DirPin      int
	EnablePin   int
	CWLimitPin  int
	CCWLimitPin int
	HasLimits   bool

	// MicrostepPins are MS1/MS2/MS3 (A4988/DRV8825 style). Unused when
	// UART is non-nil: microstepping is then configured once over the
	// serial bus instead (see uart.go).
	MicrostepPins [3]int
	UART          *UARTConfig

	StepsPerRev       int
	Microsteps        int // one of 1,2,4,8,16
	MinStepDelay      time.Duration
	AccelerationSteps int

	// MaxStepsFromHome bounds Step to [-MaxStepsFromHome, +MaxStepsFromHome]
	// around the zeroed home position; a step that would cross the bound
	// terminates the run with LimitHit instead of being emitted. 0 means
	// unbounded. Ignored while a Home sequence is in progress, since the
	// bound is only meaningful once position 0 has been established.
	MaxStepsFromHome int
}

func (c Config) Validate() error {
	if c.StepsPerRev <= 0 {
		return fmt.Errorf("%w: %s steps_per_rev must be positive", turreterr.ErrInvalidConfig, c.Name)
	}
	switch c.Microsteps {
	case 1, 2, 4, 8, 16:
	default:
		return fmt.Errorf("%w: %s microsteps must be one of 1,2,4,8,16, got %d", turreterr.ErrInvalidConfig, c.Name, c.Microsteps)
	}
	if c.MinStepDelay <= 0 {
		return fmt.Errorf("%w: %s min_step_delay must be positive", turreterr.ErrInvalidConfig, c.Name)
	}
	if c.AccelerationSteps < 0 {
		return fmt.Errorf("%w: %s acceleration_steps must be >= 0", turreterr.ErrInvalidConfig, c.Name)
	}
	return nil
}

// Axis is one pan or tilt stepper motor.
type Axis struct {
	gpio gpio.Driver
	cfg  Config

	mu             sync.Mutex
	position       int32
	status         Status
	lastDirection  Direction
	triggeredLimit Direction
	homing         bool
}

// New constructs an Axis, configuring GPIO pins and, if cfg.UART is set,
// writing the TMC2209 microstep registers once over the serial bus.
func New(drv gpio.Driver, cfg Config) (*Axis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Axis{gpio: drv, cfg: cfg}

	if err := drv.Configure(cfg.StepPin, gpio.Output, gpio.PullNone); err != nil {
		return nil, fmt.Errorf("%w: configure step pin: %v", turreterr.ErrHardware, err)
	}
	if err := drv.Configure(cfg.DirPin, gpio.Output, gpio.PullNone); err != nil {
		return nil, fmt.Errorf("%w: configure dir pin: %v", turreterr.ErrHardware, err)
	}
	if cfg.EnablePin > 0 {
		if err := drv.Configure(cfg.EnablePin, gpio.Output, gpio.PullNone); err != nil {
			return nil, fmt.Errorf("%w: configure enable pin: %v", turreterr.ErrHardware, err)
		}
		_ = drv.Write(cfg.EnablePin, gpio.High) // active low: start disabled
	}

	if cfg.UART != nil {
		if err := configureUARTMicrostepping(cfg.UART, cfg.Microsteps); err != nil {
			return nil, fmt.Errorf("%w: uart microstep config: %v", turreterr.ErrHardware, err)
		}
	} else {
		for _, p := range cfg.MicrostepPins {
			if p > 0 {
				_ = drv.Configure(p, gpio.Output, gpio.PullNone)
			}
		}
		setMicrostepPins(drv, cfg.MicrostepPins, cfg.Microsteps)
	}

	if cfg.HasLimits {
		if err := drv.Configure(cfg.CWLimitPin, gpio.Input, gpio.PullUp); err != nil {
			return nil, fmt.Errorf("%w: configure cw limit: %v", turreterr.ErrHardware, err)
		}
		if err := drv.Configure(cfg.CCWLimitPin, gpio.Input, gpio.PullUp); err != nil {
			return nil, fmt.Errorf("%w: configure ccw limit: %v", turreterr.ErrHardware, err)
		}
		if err := drv.Watch(cfg.CWLimitPin, gpio.EdgeFalling, true, a.onLimitEdge(CW)); err != nil {
			return nil, fmt.Errorf("%w: watch cw limit: %v", turreterr.ErrHardware, err)
		}
		if err := drv.Watch(cfg.CCWLimitPin, gpio.EdgeFalling, true, a.onLimitEdge(CCW)); err != nil {
			return nil, fmt.Errorf("%w: watch ccw limit: %v", turreterr.ErrHardware, err)
		}
	}

	return a, nil
}

func setMicrostepPins(drv gpio.Driver, pins [3]int, microsteps int) {
	table := map[int][3]gpio.Level{
		1:  {gpio.Low, gpio.Low, gpio.Low},
		2:  {gpio.High, gpio.Low, gpio.Low},
		4:  {gpio.Low, gpio.High, gpio.Low},
		8:  {gpio.High, gpio.High, gpio.Low},
		16: {gpio.High, gpio.High, gpio.High},
	}
	levels, ok := table[microsteps]
	if !ok {
		return
	}
	for i, p := range pins {
		if p > 0 {
			_ = drv.Write(p, levels[i])
		}
	}
}

// onLimitEdge is the non-blocking handler the GPIO abstraction invokes
// from a platform thread: it only records the triggered direction and
// updates status, per the real-time-safety requirement in spec.md §4.1.
func (a *Axis) onLimitEdge(dir Direction) gpio.EdgeHandler {
	return func(pin int, level gpio.Level) {
		a.mu.Lock()
		a.triggeredLimit = dir
		a.status = Status{Kind: LimitReached, Limit: dir}
		a.mu.Unlock()
		obslog.L().Warn("limit_triggered", zap.String("axis", a.cfg.Name), zap.String("direction", dir.String()))
	}
}

// Position returns the current step count from home.
func (a *Axis) Position() int32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position
}

// Status returns the current axis status.
func (a *Axis) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// SetHomeHere zeroes position without moving.
func (a *Axis) SetHomeHere() {
	a.mu.Lock()
	a.position = 0
	a.mu.Unlock()
}

// Release drives the enable pin to its inactive level.
func (a *Axis) Release() error {
	if a.cfg.EnablePin <= 0 {
		return nil
	}
	if err := a.gpio.Write(a.cfg.EnablePin, gpio.High); err != nil {
		return fmt.Errorf("%w: release enable pin: %v", turreterr.ErrHardware, err)
	}
	return nil
}

// Enable drives the enable pin to its active (low) level.
func (a *Axis) Enable() error {
	if a.cfg.EnablePin <= 0 {
		return nil
	}
	if err := a.gpio.Write(a.cfg.EnablePin, gpio.Low); err != nil {
		return fmt.Errorf("%w: enable: %v", turreterr.ErrHardware, err)
	}
	return nil
}

func (a *Axis) limitPin(dir Direction) int {
	if dir == CW {
		return a.cfg.CWLimitPin
	}
	return a.cfg.CCWLimitPin
}

// Step emits up to count pulses in direction, honoring limit switches, a
// cooperative cancellation context, and a trapezoidal acceleration
// profile (spec.md §4.2). Negative count is rejected.
func (a *Axis) Step(ctx context.Context, dir Direction, count int, minDelay time.Duration) (StepOutcome, error) {
	if count < 0 {
		return StepOutcome{}, fmt.Errorf("%w: negative step count", turreterr.ErrInvalidConfig)
	}
	if minDelay <= 0 {
		minDelay = a.cfg.MinStepDelay
	}

	a.mu.Lock()
	if a.triggeredLimit == dir {
		a.mu.Unlock()
		return StepOutcome{StepsEmitted: 0, TerminatedBy: LimitHit}, turreterr.Reject(turreterr.ErrLimitBlocked, fmt.Sprintf("%s limit engaged", dir))
	}
	a.status = Status{Kind: Moving}
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		if a.status.Kind == Moving {
			a.status = Status{Kind: Idle}
		}
		a.mu.Unlock()
	}()

	if count == 0 {
		return StepOutcome{TerminatedBy: Completed}, nil
	}

	dirLevel := gpio.High
	if dir == CCW {
		dirLevel = gpio.Low
	}
	if err := a.gpio.Write(a.cfg.DirPin, dirLevel); err != nil {
		a.enterHardwareError()
		return StepOutcome{TerminatedBy: ErrorTerminated}, fmt.Errorf("%w: set direction: %v", turreterr.ErrHardware, err)
	}
	time.Sleep(2 * time.Microsecond) // direction setup time

	accel := a.cfg.AccelerationSteps
	if accel > count/2 {
		accel = count / 2
	}

	emitted := 0
	outcome := Completed

	for i := 0; i < count; i++ {
		limitFlag := a.limitFlag()
		if limitFlag == dir {
			outcome = LimitHit
			break
		}
		if a.softLimitBlocks(dir) {
			outcome = LimitHit
			break
		}
		select {
		case <-ctx.Done():
			outcome = Cancelled
		default:
		}
		if outcome == Cancelled {
			break
		}

		delay := stepDelay(i, count, accel, minDelay)

		start := time.Now()
		if err := a.pulse(); err != nil {
			a.enterHardwareError()
			return StepOutcome{StepsEmitted: emitted, TerminatedBy: ErrorTerminated}, err
		}
		elapsed := time.Since(start)
		if elapsed > minDelay*50 {
			a.enterTimeoutError()
			return StepOutcome{StepsEmitted: emitted, TerminatedBy: ErrorTerminated}, fmt.Errorf("%w: step exceeded %v", turreterr.ErrTimeout, minDelay*50)
		}
		if remaining := delay - elapsed; remaining > 0 {
			time.Sleep(remaining)
		}

		a.mu.Lock()
		if dir == CW {
			a.position++
		} else {
			a.position--
		}
		a.lastDirection = dir
		if a.triggeredLimit == oppositeOf(dir) {
			a.triggeredLimit = None
		}
		a.mu.Unlock()
		emitted++
	}

	a.mu.Lock()
	if outcome == LimitHit {
		a.status = Status{Kind: LimitReached, Limit: dir}
	} else {
		a.status = Status{Kind: Idle}
	}
	a.mu.Unlock()

	obslog.Move(a.cfg.Name, emitted, dir.String(), outcome.String())
	return StepOutcome{StepsEmitted: emitted, TerminatedBy: outcome}, nil
}

func oppositeOf(dir Direction) Direction {
	if dir == CW {
		return CCW
	}
	return CW
}

// limitFlag reads the software-tracked triggered limit (set by the edge
// handler) and, when no limit switches are wired, always reports none.
func (a *Axis) limitFlag() Direction {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.triggeredLimit
}

// softLimitBlocks reports whether taking one more step in dir would push
// position past MaxStepsFromHome. A zero MaxStepsFromHome leaves Step
// unbounded; callers that want clamping (such as tracking.Controller)
// still pre-clamp their own target, so this is a backstop for direct
// Step callers rather than the primary enforcement point.
func (a *Axis) softLimitBlocks(dir Direction) bool {
	if a.cfg.MaxStepsFromHome <= 0 {
		return false
	}
	a.mu.Lock()
	pos := a.position
	homing := a.homing
	a.mu.Unlock()
	if homing {
		// Home seeks to the hardware limit before position 0 is
		// established; MaxStepsFromHome is only meaningful afterward.
		return false
	}
	if dir == CW {
		return int(pos)+1 > a.cfg.MaxStepsFromHome
	}
	return int(pos)-1 < -a.cfg.MaxStepsFromHome
}

func (a *Axis) pulse() error {
	if err := a.gpio.Write(a.cfg.StepPin, gpio.High); err != nil {
		return fmt.Errorf("%w: step pulse high: %v", turreterr.ErrHardware, err)
	}
	time.Sleep(2 * time.Microsecond)
	if err := a.gpio.Write(a.cfg.StepPin, gpio.Low); err != nil {
		return fmt.Errorf("%w: step pulse low: %v", turreterr.ErrHardware, err)
	}
	return nil
}

// stepDelay computes the trapezoidal (or triangular, for short moves)
// per-step delay: ramps from 4*minDelay down to minDelay over the first
// accel steps, holds at minDelay, then ramps symmetrically back up over
// the last accel steps.
func stepDelay(i, count, accel int, minDelay time.Duration) time.Duration {
	if accel <= 0 {
		return minDelay
	}
	if i < accel {
		ratio := float64(i+1) / float64(accel)
		return minDelay + time.Duration(float64(3*minDelay)*(1-ratio))
	}
	if i >= count-accel {
		ratio := float64(count-i) / float64(accel)
		return minDelay + time.Duration(float64(3*minDelay)*(1-ratio))
	}
	return minDelay
}

func (a *Axis) enterHardwareError() {
	_ = a.Release()
	a.mu.Lock()
	a.status = Status{Kind: Errored, ErrorKind: turreterr.ErrHardware}
	a.mu.Unlock()
}

func (a *Axis) enterTimeoutError() {
	a.enterErrorState(turreterr.ErrTimeout)
}

func (a *Axis) enterErrorState(kind error) {
	_ = a.Release()
	a.mu.Lock()
	a.status = Status{Kind: Errored, ErrorKind: kind}
	a.mu.Unlock()
}

// Home drives CCW until the CCW limit triggers, backs off backoffSteps,
// then counts CW until the CW limit triggers, returns CCW to
// total_travel/2, and resets position to 0. Requires limit switches.
func (a *Axis) Home(ctx context.Context, backoffSteps int, timeout time.Duration) error {
	if !a.cfg.HasLimits {
		return fmt.Errorf("%w: axis %s has no limit switches to home against", turreterr.ErrInvalidConfig, a.cfg.Name)
	}

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a.mu.Lock()
	a.status = Status{Kind: Homing}
	a.triggeredLimit = None
	a.homing = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.homing = false
		a.mu.Unlock()
	}()

	fail := func(kind, err error) error {
		a.enterErrorState(kind)
		return err
	}

	// seek drives dir until the matching limit fires, treating a Cancelled
	// termination as a homing failure regardless of whether Step itself
	// returned an error: Step only surfaces an error for hardware/
	// per-step-timeout faults, never for context cancellation.
	seek := func(dir Direction, what string) (StepOutcome, error) {
		out, err := a.Step(hctx, dir, 1<<30, a.cfg.MinStepDelay)
		if out.TerminatedBy == LimitHit {
			return out, nil
		}
		if out.TerminatedBy == Cancelled {
			if hctx.Err() == context.DeadlineExceeded {
				return out, fail(turreterr.ErrTimeout, fmt.Errorf("%w: %s", turreterr.ErrTimeout, what))
			}
			return out, fail(turreterr.ErrCancelled, fmt.Errorf("%w: %s", turreterr.ErrCancelled, what))
		}
		if err != nil {
			return out, fail(turreterr.ErrHardware, err)
		}
		return out, fail(turreterr.ErrTimeout, fmt.Errorf("%w: %s did not reach limit", turreterr.ErrTimeout, what))
	}

	// Drive CCW until the CCW limit fires.
	if _, err := seek(CCW, "home ccw seek"); err != nil {
		return err
	}

	if backoffSteps > 0 {
		if _, err := a.Step(hctx, CW, backoffSteps, a.cfg.MinStepDelay); err != nil {
			return fail(turreterr.ErrTimeout, err)
		}
	}

	// Count CW until the CW limit fires, tracking the travel distance.
	a.mu.Lock()
	startPos := a.position
	a.mu.Unlock()

	if _, err := seek(CW, "home cw seek"); err != nil {
		return err
	}

	a.mu.Lock()
	totalTravel := a.position - startPos
	a.mu.Unlock()

	half := int(totalTravel) / 2
	if half > 0 {
		if _, err := a.Step(hctx, CCW, half, a.cfg.MinStepDelay); err != nil {
			return fail(turreterr.ErrTimeout, err)
		}
	}

	a.SetHomeHere()
	a.mu.Lock()
	a.status = Status{Kind: Idle}
	a.mu.Unlock()
	return nil
}
