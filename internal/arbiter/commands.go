// Package arbiter fans commands from multiple producers (joystick feed,
// detector callbacks, operator transport) onto a bounded channel and
// dispatches them to the tracking and laser controllers, serializing all
// decisions through a single consumer task.
package arbiter

import (
	"time"

	"github.com/rndmzd/laser-turret/internal/tracking"
)

// Command is a tagged variant consumed by the Arbiter. Concrete types
// below implement it with a no-op marker method; dispatch uses a type
// switch, not reflection.
type Command interface {
	commandKind() string
}

type Jog struct {
	Axis      string // "x" or "y"
	Steps     int
	Direction int // +1 = CW, -1 = CCW
}

func (Jog) commandKind() string { return "jog" }

type MoveAbsolute struct {
	XSteps, YSteps int
}

func (MoveAbsolute) commandKind() string { return "move_absolute" }

type CenterOnPixel struct {
	X, Y, FrameW, FrameH int
}

func (CenterOnPixel) commandKind() string { return "center_on_pixel" }

type TrackTarget struct {
	CX, CY, FrameW, FrameH int
	TS                     time.Time
}

func (TrackTarget) commandKind() string { return "track_target" }

type SetMode struct {
	Mode tracking.Mode
}

func (SetMode) commandKind() string { return "set_mode" }

type Home struct{}

func (Home) commandKind() string { return "home" }

type SetHome struct{}

func (SetHome) commandKind() string { return "set_home" }

type Disable struct{}

func (Disable) commandKind() string { return "disable" }

type Enable struct{}

func (Enable) commandKind() string { return "enable" }

type LaserArm struct {
	Armed bool
}

func (LaserArm) commandKind() string { return "laser_arm" }

type LaserSetPower struct {
	Pct int
}

func (LaserSetPower) commandKind() string { return "laser_set_power" }

type LaserFire struct {
	DurationMs int
}

func (LaserFire) commandKind() string { return "laser_fire" }

type LaserBurst struct {
	Count       int
	OnMs, OffMs int
}

func (LaserBurst) commandKind() string { return "laser_burst" }

// isSafetyCommand reports whether a command must preempt pending motion
// commands already buffered, per the arbiter's priority ordering.
func isSafetyCommand(cmd Command) bool {
	switch c := cmd.(type) {
	case Disable:
		return true
	case LaserArm:
		return !c.Armed
	default:
		return false
	}
}
