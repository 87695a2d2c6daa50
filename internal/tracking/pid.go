package tracking

import "time"

const (
	minDT = 1 * time.Millisecond
	maxDT = 200 * time.Millisecond
)

// PIDState is one axis's independent PID memory: last error, integrated
// error, and the timestamp of the last update. The Controller resets it
// to zero on target loss; mode changes and homing leave it unchanged.
type PIDState struct {
	lastError float64
	integral  float64
	lastTS    time.Time
	hasPrior  bool
}

// Reset clears accumulated PID memory.
func (p *PIDState) Reset() {
	*p = PIDState{}
}

// Gains are the PID coefficients, shared across axes per the
// calibration blob.
type Gains struct {
	Kp, Ki, Kd float64
}

// Update advances the PID state by one sample and returns the pixel-unit
// control output u. deadZone and iMax implement the dead-zone reset and
// integral clamp from the tracking algorithm.
func (p *PIDState) Update(e float64, ts time.Time, gains Gains, deadZone, iMax float64) float64 {
	if absf(e) <= deadZone {
		e = 0
		p.integral = 0
	}

	var dt time.Duration
	derivativeZero := !p.hasPrior
	if p.hasPrior {
		dt = ts.Sub(p.lastTS)
		if dt < minDT {
			dt = minDT
		}
		if dt > maxDT {
			dt = maxDT
			derivativeZero = true
		}
	} else {
		dt = minDT
	}

	dtSeconds := dt.Seconds()
	p.integral += e * dtSeconds
	if iMax > 0 {
		p.integral = clampf(p.integral, -iMax, iMax)
	} else if gains.Ki == 0 {
		p.integral = 0
	}

	derivative := 0.0
	if !derivativeZero {
		derivative = (e - p.lastError) / dtSeconds
	}

	u := gains.Kp*e + gains.Ki*p.integral + gains.Kd*derivative

	p.lastError = e
	p.lastTS = ts
	p.hasPrior = true

	return u
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// IMax derives the integral clamp from max_steps_from_home / kp, or 0
// (disabled) when ki == 0.
func IMax(maxStepsFromHome float64, gains Gains) float64 {
	if gains.Ki == 0 || gains.Kp == 0 {
		return 0
	}
	return maxStepsFromHome / gains.Kp
}
