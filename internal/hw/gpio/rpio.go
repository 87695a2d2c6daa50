package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/stianeikeland/go-rpio/v4"

	"github.com/rndmzd/laser-turret/internal/obslog"
)

// RPiDriver is the real backend, built on the teacher's go-rpio
// dependency. go-rpio has no native edge-interrupt API, so Watch starts a
// polling goroutine per pin and applies the same debounce policy the mock
// driver simulates: a 100ms suppression window plus a 1ms-later
// confirmation read, matching the abstraction's contract in spec.md §4.1.
type RPiDriver struct {
	mu       sync.Mutex
	pins     map[int]rpio.Pin
	stopPoll map[int]chan struct{}
}

// OpenReal maps GPIO memory via go-rpio. Requires running on the target
// board (or as root with /dev/gpiomem access).
func OpenReal() (*RPiDriver, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("gpio: open go-rpio: %w", err)
	}
	return &RPiDriver{
		pins:     make(map[int]rpio.Pin),
		stopPoll: make(map[int]chan struct{}),
	}, nil
}

func (d *RPiDriver) pin(n int) rpio.Pin {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pins[n]; ok {
		return p
	}
	p := rpio.Pin(n)
	d.pins[n] = p
	return p
}

func (d *RPiDriver) Configure(pin int, mode Mode, pull Pull) error {
	p := d.pin(pin)
	switch mode {
	case Output:
		p.Output()
	default:
		p.Input()
		switch pull {
		case PullUp:
			p.PullUp()
		case PullDown:
			p.PullDown()
		default:
			p.PullOff()
		}
	}
	obslog.GPIOEvent("configure", pin, mode)
	return nil
}

func (d *RPiDriver) Write(pin int, level Level) error {
	p := d.pin(pin)
	if level == High {
		p.High()
	} else {
		p.Low()
	}
	obslog.GPIOEvent("write", pin, level)
	return nil
}

func (d *RPiDriver) Read(pin int) (Level, error) {
	p := d.pin(pin)
	return p.Read() == rpio.High, nil
}

func (d *RPiDriver) Watch(pin int, edge Edge, debounce bool, handler EdgeHandler) error {
	_ = d.Configure(pin, Input, PullUp)

	d.mu.Lock()
	if stop, ok := d.stopPoll[pin]; ok {
		close(stop)
	}
	stop := make(chan struct{})
	d.stopPoll[pin] = stop
	d.mu.Unlock()

	go d.pollEdges(pin, edge, debounce, handler, stop)
	return nil
}

// pollEdges samples the pin at a rate fast enough to catch limit-switch
// transitions, implementing the debounce contract in software since
// go-rpio has no hardware IRQ path: a matching transition is ignored if
// it comes within 100ms of the last one that fired, and it must still
// read the same level 1ms after detection before the handler fires.
func (d *RPiDriver) pollEdges(pin int, edge Edge, debounce bool, handler EdgeHandler, stop chan struct{}) {
	p := d.pin(pin)
	prev := p.Read()
	var lastFired time.Time
	ticker := time.NewTicker(500 * time.Microsecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			cur := p.Read()
			if cur == prev {
				continue
			}
			curLevel := cur == rpio.High
			prevLevel := prev == rpio.High
			prev = cur

			matches := (edge == EdgeRising && !prevLevel && curLevel) ||
				(edge == EdgeFalling && prevLevel && !curLevel) ||
				(edge == EdgeBoth)
			if !matches {
				continue
			}

			now := time.Now()
			if debounce {
				if now.Sub(lastFired) < 100*time.Millisecond {
					continue
				}
				time.Sleep(1 * time.Millisecond)
				if p.Read() != cur {
					continue
				}
				lastFired = now
			}

			if handler != nil {
				handler(pin, Level(curLevel))
			}
		}
	}
}

func (d *RPiDriver) Unwatch(pin int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if stop, ok := d.stopPoll[pin]; ok {
		close(stop)
		delete(d.stopPoll, pin)
	}
	return nil
}

func (d *RPiDriver) PWM(pin int, freqHz int) (PWMHandle, error) {
	p := d.pin(pin)
	p.Pwm()
	p.Freq(freqHz)
	return &rpioPWM{pin: p, freqHz: freqHz}, nil
}

func (d *RPiDriver) Release(pins ...int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	targets := pins
	if len(targets) == 0 {
		for p := range d.pins {
			targets = append(targets, p)
		}
	}
	for _, n := range targets {
		if stop, ok := d.stopPoll[n]; ok {
			close(stop)
			delete(d.stopPoll, n)
		}
		if p, ok := d.pins[n]; ok {
			p.Input()
			if len(pins) != 0 {
				delete(d.pins, n)
			}
		}
	}
	if len(pins) == 0 {
		d.pins = make(map[int]rpio.Pin)
		return rpio.Close()
	}
	return nil
}

type rpioPWM struct {
	mu     sync.Mutex
	pin    rpio.Pin
	freqHz int
	duty   float64
}

const rpioCycleLen = 100

func (p *rpioPWM) Start(dutyPct float64) error {
	d, err := clampDuty(dutyPct)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.duty = d
	p.pin.DutyCycle(uint32(d), rpioCycleLen)
	p.mu.Unlock()
	return nil
}

func (p *rpioPWM) SetDuty(dutyPct float64) error { return p.Start(dutyPct) }

func (p *rpioPWM) SetFreq(hz int) error {
	p.mu.Lock()
	p.freqHz = hz
	p.pin.Freq(hz)
	p.mu.Unlock()
	return nil
}

func (p *rpioPWM) Stop() error {
	p.mu.Lock()
	p.duty = 0
	p.pin.DutyCycle(0, rpioCycleLen)
	p.mu.Unlock()
	return nil
}
