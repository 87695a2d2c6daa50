package gpio

import "sync"

var (
	backendOnce sync.Once
	backend     Driver
	backendErr  error
)

// Open selects and memoizes the process-wide GPIO backend: the real
// go-rpio driver, or a MockDriver when mock is true. Mirrors
// original_source's get_gpio_backend singleton — the rest of the system
// takes the returned Driver by reference and never touches package-level
// state directly.
func Open(mock bool) (Driver, error) {
	backendOnce.Do(func() {
		if mock {
			backend = NewMockDriver()
			return
		}
		backend, backendErr = OpenReal()
	})
	return backend, backendErr
}
