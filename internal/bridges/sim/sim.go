// Package sim provides an in-memory protocol adapter for commissioning,
// demos and tests.
//
// Values are addressed by Address.Key. A key that was never set reads as 0.
// Outputs can be linked to feedback keys so that writing a contactor output
// also moves its running feedback, and individual keys can be made to fail
// with any adapter error.
package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-farm/internal/bridges"
)

// Adapter is the simulator. It is safe for concurrent use so tests can
// drive it while the store polls it.
type Adapter struct {
	mu         sync.Mutex
	values     map[string]float64
	failures   map[string]error
	links      map[string][]string
	connectErr error
	connected  bool
	writes     int
}

// New creates a simulator with the given initial values.
func New(initial map[string]float64) *Adapter {
	a := &Adapter{
		values:   make(map[string]float64, len(initial)),
		failures: make(map[string]error),
		links:    make(map[string][]string),
	}
	for k, v := range initial {
		a.values[k] = v
	}
	return a
}

// Protocol implements bridges.Adapter.
func (a *Adapter) Protocol() string { return "sim" }

// Connect implements bridges.Adapter.
func (a *Adapter) Connect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connectErr != nil {
		return fmt.Errorf("%w: %w", bridges.ErrTransportClosed, a.connectErr)
	}
	a.connected = true
	return nil
}

// Close implements bridges.Adapter.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

// Read implements bridges.Adapter.
func (a *Adapter) Read(ctx context.Context, addr bridges.Address) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", bridges.ErrTimeout, err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.check(addr); err != nil {
		return 0, err
	}
	return a.values[addr.Key], nil
}

// Write implements bridges.Adapter. Linked feedback keys follow the value.
func (a *Adapter) Write(ctx context.Context, addr bridges.Address, value float64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", bridges.ErrTimeout, err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.check(addr); err != nil {
		return err
	}
	a.values[addr.Key] = value
	for _, fb := range a.links[addr.Key] {
		if _, failing := a.failures[fb]; !failing {
			a.values[fb] = value
		}
	}
	a.writes++
	return nil
}

func (a *Adapter) check(addr bridges.Address) error {
	if !a.connected {
		return bridges.ErrTransportClosed
	}
	if addr.Key == "" {
		return fmt.Errorf("%w: simulator address needs a key", bridges.ErrUnsupportedAddress)
	}
	if err := a.failures[addr.Key]; err != nil {
		return err
	}
	return nil
}

// Set stores a value as if the field device changed it.
func (a *Adapter) Set(key string, value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[key] = value
}

// Value returns the current value of key.
func (a *Adapter) Value(key string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.values[key]
}

// Fail makes every read and write of key return err. A nil err clears it.
func (a *Adapter) Fail(key string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		delete(a.failures, key)
		return
	}
	a.failures[key] = err
}

// FailConnect makes Connect fail with err until cleared with nil. The
// current session is dropped.
func (a *Adapter) FailConnect(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectErr = err
	if err != nil {
		a.connected = false
	}
}

// Link makes writes to output also set feedback.
func (a *Adapter) Link(output, feedback string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.links[output] = append(a.links[output], feedback)
}

// Writes returns how many successful writes the simulator has served.
func (a *Adapter) Writes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writes
}
