package arbiter

import (
	"time"

	"github.com/rndmzd/laser-turret/internal/hw/laser"
	"github.com/rndmzd/laser-turret/internal/hw/stepper"
	"github.com/rndmzd/laser-turret/internal/tracking"
)

// AxisSnapshot is the telemetry-visible state of one axis.
type AxisSnapshot struct {
	Position int32
	Status   stepper.Status
}

// Snapshot is the full read-only telemetry structure published at a
// fixed cadence, carrying a monotonically increasing sequence number so
// clients can deduplicate.
type Snapshot struct {
	Seq           uint64
	Timestamp     time.Time
	Mode          tracking.Mode
	X             AxisSnapshot
	Y             AxisSnapshot
	Laser         laser.State
	LastTargetAge time.Duration
	PID           tracking.Gains
	Calibration   tracking.Calibration
	LastError     string
}
