package gpio

import (
	"sync"
	"time"
)

// MockDriver is an in-memory Driver for tests. TriggerEdge lets a test
// script an edge event the way original_source's MockGPIO.trigger_event
// does: it only invokes the registered handler when the transition
// matches the watched edge, and applies the same debounce policy a real
// backend would (100ms suppression, rejected if the pin doesn't confirm
// active 1ms later).
type MockDriver struct {
	mu       sync.Mutex
	pins     map[int]*mockPin
	watchers map[int]*watcher
}

type mockPin struct {
	mode  Mode
	pull  Pull
	level Level
}

type watcher struct {
	edge      Edge
	debounce  bool
	handler   EdgeHandler
	lastFired time.Time
}

// NewMockDriver returns an empty mock GPIO backend.
func NewMockDriver() *MockDriver {
	return &MockDriver{
		pins:     make(map[int]*mockPin),
		watchers: make(map[int]*watcher),
	}
}

func (m *MockDriver) Configure(pin int, mode Mode, pull Pull) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	level := Low
	if mode == Input && pull == PullUp {
		level = High
	}
	m.pins[pin] = &mockPin{mode: mode, pull: pull, level: level}
	return nil
}

func (m *MockDriver) Write(pin int, level Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pins[pin]
	if !ok {
		p = &mockPin{mode: Output}
		m.pins[pin] = p
	}
	p.level = level
	return nil
}

func (m *MockDriver) Read(pin int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pins[pin]
	if !ok {
		return Low, nil
	}
	return p.level, nil
}

func (m *MockDriver) Watch(pin int, edge Edge, debounce bool, handler EdgeHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers[pin] = &watcher{edge: edge, debounce: debounce, handler: handler}
	return nil
}

func (m *MockDriver) Unwatch(pin int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watchers, pin)
	return nil
}

func (m *MockDriver) PWM(pin int, freqHz int) (PWMHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &mockPWM{pin: pin, freqHz: freqHz}, nil
}

func (m *MockDriver) Release(pins ...int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(pins) == 0 {
		for pin := range m.pins {
			m.pins[pin].level = Low
		}
		return nil
	}
	for _, pin := range pins {
		if p, ok := m.pins[pin]; ok {
			p.level = Low
		}
		delete(m.watchers, pin)
	}
	return nil
}

// TriggerEdge simulates a level change on pin, invoking the watcher's
// handler only if the transition matches the watched edge and, when
// debounce is enabled, the pin is not within the 100ms suppression
// window and a 1ms-later confirmation read still shows the new level.
func (m *MockDriver) TriggerEdge(pin int, level Level) {
	m.mu.Lock()
	p, ok := m.pins[pin]
	if !ok {
		p = &mockPin{mode: Input}
		m.pins[pin] = p
	}
	old := p.level
	p.level = level
	w, watched := m.watchers[pin]
	m.mu.Unlock()

	if !watched {
		return
	}

	matches := (w.edge == EdgeRising && !bool(old) && bool(level)) ||
		(w.edge == EdgeFalling && bool(old) && !bool(level)) ||
		(w.edge == EdgeBoth && old != level)
	if !matches {
		return
	}

	if w.debounce {
		now := time.Now()
		if now.Sub(w.lastFired) < 100*time.Millisecond {
			return
		}
		time.Sleep(1 * time.Millisecond)
		m.mu.Lock()
		confirmed := m.pins[pin].level
		m.mu.Unlock()
		if confirmed != level {
			return
		}
		w.lastFired = now
	}

	if w.handler != nil {
		w.handler(pin, level)
	}
}

type mockPWM struct {
	mu     sync.Mutex
	pin    int
	freqHz int
	duty   float64
}

func (p *mockPWM) Start(dutyPct float64) error {
	d, err := clampDuty(dutyPct)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.duty = d
	p.mu.Unlock()
	return nil
}

func (p *mockPWM) SetDuty(dutyPct float64) error {
	return p.Start(dutyPct)
}

func (p *mockPWM) SetFreq(hz int) error {
	p.mu.Lock()
	p.freqHz = hz
	p.mu.Unlock()
	return nil
}

func (p *mockPWM) Stop() error {
	p.mu.Lock()
	p.duty = 0
	p.mu.Unlock()
	return nil
}

// DutyCycle returns the handle's current duty percentage, for assertions.
func (p *mockPWM) DutyCycle() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty
}
