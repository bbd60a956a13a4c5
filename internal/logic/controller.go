package logic

import (
	"sync"
	"time"
)

// Completion records a slice that elapsed during Tick.
type Completion struct {
	Valve int
	Event EventID
	At    time.Duration
}

// ControllerStats counts arbitration outcomes since startup.
type ControllerStats struct {
	Grants  int
	Denials int
}

type holder struct {
	event    EventID
	end      time.Duration
	parallel bool
}

// ValveController arbitrates access to the physical valves.
//
// A valve has at most one holder unless every holder, including the
// requester, is a parallel event. The controller keeps only event ids;
// events are resolved through the Registry when a slice completes.
type ValveController struct {
	mu       sync.Mutex
	valves   Valves
	held     [][]holder
	registry Registry
	stats    ControllerStats
}

// NewValveController creates a controller for count valves numbered
// 0..count-1.
func NewValveController(valves Valves, count int) *ValveController {
	if count < 0 {
		count = 0
	}
	return &ValveController{
		valves: valves,
		held:   make([][]holder, count),
	}
}

// SetRegistry sets the lookup used to notify events of completed slices.
func (c *ValveController) SetRegistry(r Registry) {
	c.mu.Lock()
	c.registry = r
	c.mu.Unlock()
}

// Valves returns the number of valves under control.
func (c *ValveController) Valves() int {
	return len(c.held)
}

// RegisterEvent requests valve for length starting at now on behalf of
// event id. It returns false if the valve is held by another event that
// cannot share it; the caller retries on a later pass.
func (c *ValveController) RegisterEvent(valve int, length time.Duration, id EventID, parallel bool, now time.Duration) bool {
	if length <= 0 || valve < 0 || valve >= len(c.held) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	holders := c.held[valve]
	for i := range holders {
		if holders[i].event == id {
			holders[i].end = now + length
			c.stats.Grants++
			return true
		}
	}

	if len(holders) > 0 && !(parallel && allParallel(holders)) {
		c.stats.Denials++
		return false
	}

	c.held[valve] = append(holders, holder{event: id, end: now + length, parallel: parallel})
	c.stats.Grants++
	if len(holders) == 0 && c.valves != nil {
		c.valves.OpenValve(valve)
	}
	return true
}

// Tick releases every slice that has ended at or before now, closing
// valves left without holders, and notifies the owning events.
// Completions are returned in valve order.
func (c *ValveController) Tick(now time.Duration) []Completion {
	c.mu.Lock()
	var done []Completion
	for v, holders := range c.held {
		if len(holders) == 0 {
			continue
		}
		kept := holders[:0]
		for _, h := range holders {
			if h.end <= now {
				done = append(done, Completion{Valve: v, Event: h.event, At: now})
				continue
			}
			kept = append(kept, h)
		}
		c.held[v] = kept
		if len(kept) == 0 && c.valves != nil {
			c.valves.CloseValve(v)
		}
	}
	registry := c.registry
	c.mu.Unlock()

	if registry != nil {
		for _, d := range done {
			if l, ok := registry.Lookup(d.Event); ok {
				l.OnCycleFinished(now)
			}
		}
	}
	return done
}

// Release ends the slice held by id before its deadline without notifying
// the event. It returns the unused part of the slice and whether a slice
// was held.
func (c *ValveController) Release(id EventID, now time.Duration) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for v, holders := range c.held {
		for i, h := range holders {
			if h.event != id {
				continue
			}
			c.held[v] = append(holders[:i], holders[i+1:]...)
			if len(c.held[v]) == 0 && c.valves != nil {
				c.valves.CloseValve(v)
			}
			unused := h.end - now
			if unused < 0 {
				unused = 0
			}
			return unused, true
		}
	}
	return 0, false
}

// CloseAll drops every holder and closes every valve.
func (c *ValveController) CloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for v := range c.held {
		c.held[v] = nil
		if c.valves != nil {
			c.valves.CloseValve(v)
		}
	}
}

// Holders returns the events currently holding valve.
func (c *ValveController) Holders(valve int) []EventID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if valve < 0 || valve >= len(c.held) {
		return nil
	}
	ids := make([]EventID, 0, len(c.held[valve]))
	for _, h := range c.held[valve] {
		ids = append(ids, h.event)
	}
	return ids
}

// IsOpen reports whether valve currently has a holder.
func (c *ValveController) IsOpen(valve int) bool {
	return len(c.Holders(valve)) > 0
}

// Stats returns a copy of the arbitration counters.
func (c *ValveController) Stats() ControllerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func allParallel(holders []holder) bool {
	for _, h := range holders {
		if !h.parallel {
			return false
		}
	}
	return true
}
