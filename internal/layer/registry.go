// Package layer holds the recorded loops and their step patterns.
package layer

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/audiolibrelab/jamloop/internal/clock"
	"github.com/audiolibrelab/jamloop/internal/looperr"
	"github.com/gopxl/beep"
)

// ID identifies a layer. IDs are never reused within a registry.
type ID uint64

// Notes is the 16-step pattern of a layer, indexed by step.
type Notes [clock.StepsPerLoop]bool

// Count returns the number of active steps.
func (n Notes) Count() int {
	c := 0
	for _, on := range n {
		if on {
			c++
		}
	}
	return c
}

// Layer is one recorded loop. The buffer is owned by the layer and never
// written after creation.
type Layer struct {
	ID     ID
	Buffer *beep.Buffer
	Notes  Notes
	Muted  bool
}

// Frames returns the number of frames in the layer's buffer.
func (l Layer) Frames() int {
	if l.Buffer == nil {
		return 0
	}
	return l.Buffer.Len()
}

// Snapshot is an immutable, ordered view of the registry.
type Snapshot []Layer

// Find returns the layer with the given id.
func (s Snapshot) Find(id ID) (Layer, bool) {
	for _, l := range s {
		if l.ID == id {
			return l, true
		}
	}
	return Layer{}, false
}

// Registry stores layers in insertion order. Every mutation publishes a new
// snapshot, so readers never lock and never see a half-applied edit.
type Registry struct {
	mu     sync.Mutex
	lastID ID
	layers atomic.Pointer[Snapshot]
}

func NewRegistry() *Registry {
	r := &Registry{}
	empty := Snapshot{}
	r.layers.Store(&empty)
	return r
}

// Snapshot returns the current layers.
func (r *Registry) Snapshot() Snapshot {
	return *r.layers.Load()
}

// Len returns the number of layers.
func (r *Registry) Len() int {
	return len(r.Snapshot())
}

// Get returns the layer with the given id.
func (r *Registry) Get(id ID) (Layer, error) {
	l, ok := r.Snapshot().Find(id)
	if !ok {
		return Layer{}, looperr.Absent("layer %d does not exist", id)
	}
	return l, nil
}

// Add appends a layer and returns its fresh id.
func (r *Registry) Add(buf *beep.Buffer, notes Notes) ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastID++
	id := r.lastID

	cur := r.Snapshot()
	next := make(Snapshot, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, Layer{ID: id, Buffer: buf, Notes: notes})
	r.layers.Store(&next)

	slog.Debug("Layer added", "layer_id", id, "frames", next[len(next)-1].Frames(), "active_steps", notes.Count())
	return id
}

// Remove deletes a layer and releases its buffer. Unknown ids are ignored.
func (r *Registry) Remove(id ID) bool {
	return r.update(id, func(cur Snapshot, i int) Snapshot {
		next := make(Snapshot, 0, len(cur)-1)
		next = append(next, cur[:i]...)
		return append(next, cur[i+1:]...)
	})
}

// RemoveAll deletes every layer. The id counter keeps counting.
func (r *Registry) RemoveAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.Snapshot())
	empty := Snapshot{}
	r.layers.Store(&empty)
	return n
}

// SetMuted sets the mute flag of a layer. Unknown ids are ignored.
func (r *Registry) SetMuted(id ID, muted bool) bool {
	return r.update(id, func(cur Snapshot, i int) Snapshot {
		next := append(Snapshot(nil), cur...)
		next[i].Muted = muted
		return next
	})
}

// SetNote sets one step of a layer's pattern. An index outside the loop is
// a range violation and leaves the pattern untouched; unknown ids are ignored.
func (r *Registry) SetNote(id ID, index int, on bool) (bool, error) {
	if index < 0 || index >= clock.StepsPerLoop {
		return false, looperr.Range("note index %d outside [0,%d)", index, clock.StepsPerLoop)
	}
	return r.update(id, func(cur Snapshot, i int) Snapshot {
		next := append(Snapshot(nil), cur...)
		next[i].Notes[index] = on
		return next
	}), nil
}

func (r *Registry) update(id ID, fn func(cur Snapshot, i int) Snapshot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.Snapshot()
	for i := range cur {
		if cur[i].ID == id {
			next := fn(cur, i)
			r.layers.Store(&next)
			return true
		}
	}
	slog.Debug("Ignoring edit of unknown layer", "layer_id", id)
	return false
}
