// Package laser wraps one PWM channel into a clamped, safety-gated laser
// output and composes it into an arm/cooldown/burst sequencing state
// machine, generalizing the teacher's stepper PWM handling into the
// hazardous-output domain.
package laser

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rndmzd/laser-turret/internal/hw/gpio"
	"github.com/rndmzd/laser-turret/internal/obslog"
	"github.com/rndmzd/laser-turret/internal/turreterr"
)

// Output wraps one PWM-capable pin with a clamped duty cycle and an
// on/off flag reflecting live output, mirroring LaserControl's
// pwm.start/change_duty_cycle pairing.
type Output struct {
	name string
	pwm  gpio.PWMHandle

	mu       sync.Mutex
	powerPct int
	isOn     bool
}

// NewOutput configures pin for PWM at freqHz and starts it at 0% duty.
func NewOutput(drv gpio.Driver, pin int, freqHz int, name string) (*Output, error) {
	if err := drv.Configure(pin, gpio.Output, gpio.PullNone); err != nil {
		return nil, fmt.Errorf("%w: configure laser pin: %v", turreterr.ErrHardware, err)
	}
	pwm, err := drv.PWM(pin, freqHz)
	if err != nil {
		return nil, fmt.Errorf("%w: laser pwm: %v", turreterr.ErrHardware, err)
	}
	if err := pwm.Start(0); err != nil {
		return nil, fmt.Errorf("%w: laser pwm start: %v", turreterr.ErrHardware, err)
	}
	o := &Output{name: name, pwm: pwm}
	obslog.L().Info("laser_output_init", zap.String("name", name), zap.Int("pin", pin), zap.Int("freq_hz", freqHz))
	return o, nil
}

// SetDuty drives the PWM channel to pct (0-100, already clamped by the
// caller) and records the on/off flag.
func (o *Output) SetDuty(pct int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.pwm.SetDuty(float64(pct)); err != nil {
		return fmt.Errorf("%w: laser set duty: %v", turreterr.ErrHardware, err)
	}
	o.powerPct = pct
	o.isOn = pct > 0
	return nil
}

// Off drives duty to zero and records 0 as the last duty level written.
// The power level for the next fire is kept by the Controller, not here.
func (o *Output) Off() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.pwm.SetDuty(0); err != nil {
		return fmt.Errorf("%w: laser off: %v", turreterr.ErrHardware, err)
	}
	o.powerPct = 0
	o.isOn = false
	return nil
}

// PowerPct returns the last duty level written (0 when off).
func (o *Output) PowerPct() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.powerPct
}

// IsOn reports whether duty is currently above zero.
func (o *Output) IsOn() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.isOn
}

// Release zeroes duty and stops the PWM channel.
func (o *Output) Release() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.isOn = false
	o.powerPct = 0
	return o.pwm.Stop()
}
