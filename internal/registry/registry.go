// Package registry tracks the set of live compositor outputs. It is read
// and written only by the event-pump goroutine, so it needs no internal
// locking of its own — the mutex is retained only to make that
// single-writer invariant cheap to assert in debug builds and safe if a
// future caller violates it.
package registry

import (
	"sort"
	"sync"
)

// Output is a live monitor presented by the compositor.
type Output struct {
	Name string

	// PixelW/PixelH is the physical pixel size; zero until the compositor's
	// mode event has been applied.
	PixelW, PixelH int

	// Scale is the logical scale factor (rational >= 1; fractional scales
	// like 1.5 are valid).
	Scale float64

	// X/Y is the layout position in compositor coordinates.
	X, Y int

	// Ready is set by MarkReady, which the event pump calls on the
	// compositor's done event for this output, and cleared on re-announce.
	// MarkReady does not check which of width, height, scale and position
	// have been reported.
	Ready bool

	// HDRCapabilities carries the output's advertised HDR support. The
	// engine never computes tone-mapping itself; it only forwards this
	// value to the Player so an external HDR policy collaborator can act
	// on it. Conservative SDR default, mirroring
	// original_source/src/backend/wayland/output.rs.
	HDRCapabilities HDRCapabilities

	// generation increments each time this name is re-registered (e.g.
	// after a compositor reconnect): a Surface holds (name, generation)
	// rather than a pointer, and treats a generation mismatch as "output
	// gone".
	generation uint64
}

// HDRCapabilities is a conservative placeholder; no Wayland HDR protocol
// is stable enough yet to fill it in with real data.
type HDRCapabilities struct {
	HDRCapable bool
}

// Registry holds the mapping from output name to Output.
type Registry struct {
	mu      sync.Mutex
	outputs map[string]*Output
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{outputs: make(map[string]*Output)}
}

// Register announces a new output, or re-announces one already known
// (idempotent across compositor reconnects): the generation counter is
// bumped and the readiness bit is cleared so mode/geometry/scale events
// must re-arrive before it becomes ready again.
func (r *Registry) Register(name string) *Output {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.outputs[name]; ok {
		existing.generation++
		existing.Ready = false
		existing.PixelW, existing.PixelH = 0, 0
		return existing
	}
	out := &Output{Name: name}
	r.outputs[name] = out
	return out
}

// UpdateGeometry applies a compositor geometry event (position).
func (r *Registry) UpdateGeometry(name string, x, y int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.outputs[name]; ok {
		o.X, o.Y = x, y
	}
}

// UpdateMode applies a compositor mode event (physical pixel size).
func (r *Registry) UpdateMode(name string, w, h int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.outputs[name]; ok {
		o.PixelW, o.PixelH = w, h
	}
}

// UpdateScale applies a compositor scale event.
func (r *Registry) UpdateScale(name string, scale float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.outputs[name]; ok {
		o.Scale = scale
	}
}

// MarkReady marks an output ready once the compositor's "done" event has
// arrived. The engine never mutates outputs beyond this readiness bit.
func (r *Registry) MarkReady(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.outputs[name]; ok {
		o.Ready = true
	}
}

// Remove tears down an output on compositor removal. It is idempotent:
// removing an unknown name is a no-op.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.outputs, name)
}

// Get returns the current state of name, if known (ready or not).
func (r *Registry) Get(name string) (Output, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.outputs[name]
	if !ok {
		return Output{}, false
	}
	return *o, true
}

// Generation returns the current generation counter for name, used by
// Surface to detect a stale weak reference.
func (r *Registry) Generation(name string) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.outputs[name]
	if !ok {
		return 0, false
	}
	return o.generation, true
}

// ReadyOutputs returns a snapshot of every output whose readiness bit is
// set, sorted by name for deterministic iteration.
func (r *Registry) ReadyOutputs() []Output {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Output, 0, len(r.outputs))
	for _, o := range r.outputs {
		if o.Ready {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns every known output name (ready or not), for debugging. The
// engine's "outputs" command lists ready outputs only and does not use it.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.outputs))
	for name := range r.outputs {
		names = append(names, name)
	}
	return names
}
