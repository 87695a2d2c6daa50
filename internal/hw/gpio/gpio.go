// Package gpio is the hardware-neutral GPIO abstraction the rest of the
// turret core is built on: digital I/O, debounced edge watching, and PWM
// channels, with a real go-rpio backed driver and an in-memory mock for
// tests. Selection happens once at process start (gpio.Open) and the
// chosen Driver is handed to owning components by reference.
package gpio

import (
	"errors"
	"fmt"

	"github.com/rndmzd/laser-turret/internal/turreterr"
)

// Level is the logical state of a digital pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// Mode indicates whether a pin is configured for input or output.
type Mode int

const (
	Input Mode = iota
	Output
)

// Pull selects an input pin's pull resistor.
type Pull int

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Edge selects which transition Watch should report.
type Edge int

const (
	EdgeRising Edge = iota
	EdgeFalling
	EdgeBoth
)

// EdgeHandler is invoked from a platform thread on a matching, debounced
// edge. Per the concurrency model, handlers must be non-blocking: they
// should only record state (e.g. set an atomic flag) and return.
type EdgeHandler func(pin int, level Level)

// PWMHandle controls one PWM-capable pin.
type PWMHandle interface {
	Start(dutyPct float64) error
	SetDuty(dutyPct float64) error
	SetFreq(hz int) error
	Stop() error
}

// Driver is the capability set every GPIO backend must implement.
type Driver interface {
	Configure(pin int, mode Mode, pull Pull) error
	Write(pin int, level Level) error
	Read(pin int) (Level, error)
	Watch(pin int, edge Edge, debounce bool, handler EdgeHandler) error
	Unwatch(pin int) error
	PWM(pin int, freqHz int) (PWMHandle, error)
	Release(pins ...int) error
}

// ErrInvalidDuty is returned by PWMHandle implementations when asked for
// a negative or NaN duty cycle. Values above 100 are clamped to 100.
var ErrInvalidDuty = errors.New("gpio: duty cycle must be a non-negative number")

func clampDuty(pct float64) (float64, error) {
	if isNaN(pct) || pct < 0 {
		return 0, ErrInvalidDuty
	}
	if pct > 100 {
		return 100, nil
	}
	return pct, nil
}

func isNaN(f float64) bool { return f != f }

// ValidatePins checks that pins are unique and within the platform's
// valid BCM range [0, 27]. Fatal (InvalidConfig) at startup per the pin
// assignment rules.
func ValidatePins(pins map[string]int) error {
	seen := make(map[int]string, len(pins))
	for name, pin := range pins {
		if pin < 0 || pin > 27 {
			return fmt.Errorf("%w: pin %s=%d out of valid BCM range [0,27]", turreterr.ErrInvalidConfig, name, pin)
		}
		if owner, ok := seen[pin]; ok {
			return fmt.Errorf("%w: pin collision: %s and %s both assigned pin %d", turreterr.ErrInvalidConfig, owner, name, pin)
		}
		seen[pin] = name
	}
	return nil
}
