//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealWriter drives relays on actual hardware using Linux GPIO character device.
type RealWriter struct {
	chip      *gpiocdev.Chip
	lines     []*gpiocdev.Line
	activeLow bool
}

// NewRealWriter requests one output line per valve, indexed like pins.
// Every relay starts released. Set activeLow for relay boards that energise
// on a low level.
func NewRealWriter(chipName string, pins []int, activeLow bool) (*RealWriter, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer("irrigator"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	w := &RealWriter{chip: chip, activeLow: activeLow}
	for valve, pin := range pins {
		opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
		if activeLow {
			opts = append(opts, gpiocdev.AsActiveLow)
		}
		line, err := chip.RequestLine(pin, opts...)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("request valve %d pin %d: %w", valve, pin, err)
		}
		w.lines = append(w.lines, line)
	}
	return w, nil
}

// Write energises or releases the relay of valve.
// Values are logical: 1 = energised regardless of board polarity.
func (w *RealWriter) Write(valve int, open bool) error {
	if err := checkValve(valve, len(w.lines)); err != nil {
		return err
	}
	v := 0
	if open {
		v = 1
	}
	if err := w.lines[valve].SetValue(v); err != nil {
		return fmt.Errorf("set valve %d: %w", valve, err)
	}
	return nil
}

// Close releases every relay, then reconfigures the pins as inputs biased
// towards the released level so the board stays off across reboot.
func (w *RealWriter) Close() error {
	var errs []error

	bias := gpiocdev.WithPullDown
	if w.activeLow {
		bias = gpiocdev.WithPullUp
	}
	for valve, line := range w.lines {
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("release valve %d: %w", valve, err))
		}
		if err := line.Reconfigure(gpiocdev.AsInput, bias); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure valve %d: %w", valve, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close valve %d: %w", valve, err))
		}
	}
	w.lines = nil
	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		w.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
