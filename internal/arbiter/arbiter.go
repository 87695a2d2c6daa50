package arbiter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rndmzd/laser-turret/internal/hw/laser"
	"github.com/rndmzd/laser-turret/internal/obslog"
	"github.com/rndmzd/laser-turret/internal/tracking"
	"github.com/rndmzd/laser-turret/internal/turreterr"
)

const channelCapacity = 64

// Config holds the joystick mapping and idle-watchdog parameters ingested
// once at startup.
type Config struct {
	Deadzone          float64
	SpeedScaling      float64
	MaxStepsPerUpdate int
	IdleTimeout       time.Duration
	DefaultFireMs     int
}

type request struct {
	cmd  Command
	resp chan error
}

// Arbiter serializes all producers onto a bounded command channel and
// dispatches them to the tracking and laser controllers it owns.
type Arbiter struct {
	tracking *tracking.Controller
	laserCtl *laser.Controller
	cfg      Config

	priorityCh chan *request
	normalCh   chan *request
	stopCh     chan struct{}
	wg         sync.WaitGroup

	activityMu    sync.Mutex
	lastActivity  time.Time
	idleTriggered bool

	lastJoyLaserBtn bool

	seq atomic.Uint64

	snapshotMu sync.Mutex
	snapshot   Snapshot
}

// New builds an Arbiter around the given controllers and starts its
// consumer, idle-watchdog, and telemetry loops.
func New(tc *tracking.Controller, lc *laser.Controller, cfg Config) *Arbiter {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	if cfg.DefaultFireMs <= 0 {
		cfg.DefaultFireMs = 200
	}
	a := &Arbiter{
		tracking:     tc,
		laserCtl:     lc,
		cfg:          cfg,
		priorityCh:   make(chan *request, 8),
		normalCh:     make(chan *request, channelCapacity),
		stopCh:       make(chan struct{}),
		lastActivity: time.Now(),
	}
	a.wg.Add(2)
	go a.consumeLoop()
	go a.telemetryLoop()
	return a
}

// Stop terminates the arbiter's background loops.
func (a *Arbiter) Stop() {
	close(a.stopCh)
	a.wg.Wait()
}

// Submit enqueues cmd and blocks until it has been dispatched, returning
// the Ok|Rejected(reason) result. Producers back off naturally on a full
// channel rather than spinning, since the send blocks.
func (a *Arbiter) Submit(cmd Command) error {
	req := &request{cmd: cmd, resp: make(chan error, 1)}
	ch := a.normalCh
	if isSafetyCommand(cmd) {
		ch = a.priorityCh
	}
	select {
	case ch <- req:
	case <-a.stopCh:
		return fmt.Errorf("%w: arbiter stopped", turreterr.ErrCancelled)
	}
	select {
	case err := <-req.resp:
		return err
	case <-a.stopCh:
		return fmt.Errorf("%w: arbiter stopped", turreterr.ErrCancelled)
	}
}

func (a *Arbiter) consumeLoop() {
	defer a.wg.Done()
	idleCheck := time.NewTicker(1 * time.Second)
	defer idleCheck.Stop()

	for {
		// Priority commands always drain first, non-blockingly.
		select {
		case req := <-a.priorityCh:
			a.dispatch(req)
			continue
		default:
		}

		select {
		case <-a.stopCh:
			return
		case req := <-a.priorityCh:
			a.dispatch(req)
		case req := <-a.normalCh:
			a.dispatch(req)
		case <-idleCheck.C:
			a.checkIdle()
		}
	}
}

func (a *Arbiter) dispatch(req *request) {
	a.markActivity()
	req.resp <- a.handle(req.cmd)
}

func (a *Arbiter) markActivity() {
	a.activityMu.Lock()
	a.lastActivity = time.Now()
	wasIdle := a.idleTriggered
	a.idleTriggered = false
	a.activityMu.Unlock()

	if wasIdle {
		if err := a.tracking.Enable(); err != nil {
			obslog.L().Warn("idle_reenable_failed", zap.Error(err))
		}
	}
}

func (a *Arbiter) checkIdle() {
	a.activityMu.Lock()
	elapsed := time.Since(a.lastActivity)
	alreadyTriggered := a.idleTriggered
	if elapsed >= a.cfg.IdleTimeout && !alreadyTriggered {
		a.idleTriggered = true
	}
	trigger := a.idleTriggered && !alreadyTriggered
	a.activityMu.Unlock()

	if trigger {
		obslog.L().Warn("idle_watchdog_triggered", zap.Duration("idle_for", elapsed))
		_ = a.tracking.Disable()
		a.laserCtl.Arm(false)
	}
}

func (a *Arbiter) handle(cmd Command) error {
	ctx := context.Background()
	switch c := cmd.(type) {
	case Jog:
		dx, dy := 0, 0
		if c.Axis == "x" {
			dx = c.Steps * c.Direction
		} else {
			dy = c.Steps * c.Direction
		}
		_, err := a.tracking.MoveBy(ctx, dx, dy)
		return err
	case MoveAbsolute:
		_, err := a.tracking.MoveBy(ctx, c.XSteps-int(a.tracking.XPosition()), c.YSteps-int(a.tracking.YPosition()))
		return err
	case CenterOnPixel:
		_, err := a.tracking.CenterOnPixel(ctx, c.X, c.Y, c.FrameW, c.FrameH)
		return err
	case TrackTarget:
		return a.tracking.TrackTarget(c.CX, c.CY, c.FrameW, c.FrameH, c.TS)
	case SetMode:
		return a.tracking.SetMode(ctx, c.Mode)
	case Home:
		return a.tracking.Home(ctx)
	case SetHome:
		a.tracking.SetHomeHere()
		return nil
	case Disable:
		return a.tracking.Disable()
	case Enable:
		return a.tracking.Enable()
	case LaserArm:
		a.laserCtl.Arm(c.Armed)
		return nil
	case LaserSetPower:
		a.laserCtl.SetPower(c.Pct)
		return nil
	case LaserFire:
		d := time.Duration(c.DurationMs) * time.Millisecond
		if d > 5*time.Second {
			d = 5 * time.Second
		}
		return a.laserCtl.Fire(ctx, d)
	case LaserBurst:
		on := time.Duration(c.OnMs) * time.Millisecond
		off := time.Duration(c.OffMs) * time.Millisecond
		return a.laserCtl.Burst(ctx, c.Count, on, off)
	default:
		return fmt.Errorf("%w: unknown command type %T", turreterr.ErrMalformed, cmd)
	}
}

func (a *Arbiter) telemetryLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(500 * time.Millisecond) // 2 Hz
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.publishSnapshot()
		}
	}
}

func (a *Arbiter) publishSnapshot() {
	snap := Snapshot{
		Seq:           a.seq.Add(1),
		Timestamp:     time.Now(),
		Mode:          a.tracking.ModeState(),
		X:             AxisSnapshot{Position: a.tracking.XPosition(), Status: a.tracking.XStatus()},
		Y:             AxisSnapshot{Position: a.tracking.YPosition(), Status: a.tracking.YStatus()},
		Laser:         a.laserCtl.Status(),
		LastTargetAge: a.tracking.LastTargetAge(),
		PID:           a.tracking.GetPID(),
		Calibration:   a.tracking.Calibration(),
	}
	a.snapshotMu.Lock()
	a.snapshot = snap
	a.snapshotMu.Unlock()
}

// Snapshot returns the most recently published telemetry snapshot.
func (a *Arbiter) Snapshot() Snapshot {
	a.snapshotMu.Lock()
	defer a.snapshotMu.Unlock()
	return a.snapshot
}

// HandleJoystick applies the deadzone/speed-scaling mapping to a decoded
// joystick sample and submits the resulting motion and, on a laser_btn
// rising edge while armed, a fire command.
func (a *Arbiter) HandleJoystick(j JoystickSample) {
	a.markActivity()

	dx := joystickAxisSteps(j.X, a.cfg.Deadzone, a.cfg.SpeedScaling, a.cfg.MaxStepsPerUpdate)
	dy := joystickAxisSteps(j.Y, a.cfg.Deadzone, a.cfg.SpeedScaling, a.cfg.MaxStepsPerUpdate)
	if dx != 0 || dy != 0 {
		if _, err := a.tracking.MoveBy(context.Background(), dx, dy); err != nil {
			obslog.L().Debug("joystick_move_rejected", zap.Error(err))
		}
	}

	risingEdge := j.LaserBtn && !a.lastJoyLaserBtn
	a.lastJoyLaserBtn = j.LaserBtn
	if risingEdge && a.laserCtl.Status().Armed {
		a.laserCtl.SetPower(j.Power)
		d := time.Duration(a.cfg.DefaultFireMs) * time.Millisecond
		if err := a.laserCtl.Fire(context.Background(), d); err != nil {
			obslog.L().Debug("joystick_fire_rejected", zap.Error(err))
		}
	}
}

// joystickAxisSteps implements the fixed deadzone/scaling formula from
// the joystick mapping scenario: magnitude is clamped to [0, 100-deadzone]
// then scaled by speedScaling*maxStepsPerUpdate/(100-deadzone).
func joystickAxisSteps(v float64, deadzone, speedScaling float64, maxStepsPerUpdate int) int {
	abs := v
	sign := 1.0
	if abs < 0 {
		abs = -abs
		sign = -1.0
	}
	if abs < deadzone {
		return 0
	}
	span := 100 - deadzone
	magnitude := abs - deadzone
	if magnitude > span {
		magnitude = span
	}
	if magnitude < 0 {
		magnitude = 0
	}
	steps := magnitude * speedScaling * float64(maxStepsPerUpdate) / span
	return int(sign * roundHalfAwayFromZero(steps))
}

func roundHalfAwayFromZero(v float64) float64 {
	if v < 0 {
		return -roundHalfAwayFromZero(-v)
	}
	whole := float64(int64(v))
	frac := v - whole
	if frac >= 0.5 {
		return whole + 1
	}
	return whole
}
