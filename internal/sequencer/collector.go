package sequencer

import "sync"

// Collector is a Sink that keeps every scheduled trigger in memory.
type Collector struct {
	mu       sync.Mutex
	triggers []Trigger
	cancels  int
}

func (c *Collector) Schedule(tr Trigger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.triggers = append(c.triggers, tr)
}

// Cancel forgets every collected trigger.
func (c *Collector) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.triggers = nil
	c.cancels++
}

// Triggers returns a copy of the collected triggers.
func (c *Collector) Triggers() []Trigger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Trigger(nil), c.triggers...)
}

// Cancels returns how many times Cancel was called.
func (c *Collector) Cancels() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancels
}

// Fanout schedules every trigger on each of its sinks.
type Fanout []Sink

func (f Fanout) Schedule(tr Trigger) {
	for _, s := range f {
		s.Schedule(tr)
	}
}

func (f Fanout) Cancel() {
	for _, s := range f {
		s.Cancel()
	}
}
