// Package gpio drives valve relays with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"fmt"
	"log"
	"sync"
)

// Writer drives relay outputs.
type Writer interface {
	// Write energises (open = true) or releases the relay of valve n.
	Write(valve int, open bool) error

	// Close releases all relays and GPIO resources.
	Close() error
}

// DefaultChip is the GPIO character device used on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// DefaultPins is the BCM pin assignment of a common 4-channel relay HAT,
// indexed by valve number.
var DefaultPins = []int{5, 6, 13, 19}

// Bank adapts a Writer to the open/close calls the scheduler makes.
// Write errors are logged and counted, never returned.
type Bank struct {
	w Writer

	mu       sync.Mutex
	failures int
}

// NewBank wraps w.
func NewBank(w Writer) *Bank {
	return &Bank{w: w}
}

// OpenValve energises the relay of valve n.
func (b *Bank) OpenValve(n int) {
	b.write(n, true)
}

// CloseValve releases the relay of valve n.
func (b *Bank) CloseValve(n int) {
	b.write(n, false)
}

func (b *Bank) write(n int, open bool) {
	if err := b.w.Write(n, open); err != nil {
		log.Printf("gpio: valve %d %s: %v", n, openString(open), err)
		b.mu.Lock()
		b.failures++
		b.mu.Unlock()
	}
}

// Failures returns the number of failed relay writes.
func (b *Bank) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func openString(open bool) string {
	if open {
		return "open"
	}
	return "close"
}

func checkValve(valve, count int) error {
	if valve < 0 || valve >= count {
		return fmt.Errorf("valve %d out of range (0..%d)", valve, count-1)
	}
	return nil
}
