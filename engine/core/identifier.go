package core

import "fmt"

// Handle identifies an entry of a Registry. The generation is bumped every
// time a slot is released, so handles to released entries are detected.
type Handle struct {
	index      uint32
	generation uint32
}

// InvalidHandle is the zero Handle; registries never hand it out.
var InvalidHandle = Handle{}

func (h Handle) IsValid() bool {
	return h.generation != 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.index, h.generation)
}

type slot[T any] struct {
	value      T
	generation uint32
	live       bool
}

// Registry is an arena of owners addressed by generation-checked handles.
// It does no locking: it belongs to the thread that records commands.
type Registry[T any] struct {
	slots []slot[T]
	free  []uint32
}

func NewRegistry[T any](capacity int) *Registry[T] {
	return &Registry[T]{
		slots: make([]slot[T], 0, capacity),
	}
}

// Acquire stores owner and returns its handle, reusing a released slot when
// one is available.
func (r *Registry[T]) Acquire(owner T) Handle {
	if n := len(r.free); n > 0 {
		idx := r.free[n-1]
		r.free = r.free[:n-1]
		s := &r.slots[idx]
		s.value = owner
		s.live = true
		return Handle{index: idx, generation: s.generation}
	}

	// If here, no existing free slots, so push one.
	r.slots = append(r.slots, slot[T]{value: owner, generation: 1, live: true})
	return Handle{index: uint32(len(r.slots) - 1), generation: 1}
}

// Get returns the owner of h, or false when h was released or never issued.
func (r *Registry[T]) Get(h Handle) (T, bool) {
	var zero T
	if !h.IsValid() || int(h.index) >= len(r.slots) {
		return zero, false
	}
	s := &r.slots[h.index]
	if !s.live || s.generation != h.generation {
		return zero, false
	}
	return s.value, true
}

func (r *Registry[T]) Release(h Handle) error {
	if !h.IsValid() || int(h.index) >= len(r.slots) {
		return fmt.Errorf("release %s: %w", h, ErrInvalidHandle)
	}
	s := &r.slots[h.index]
	if !s.live || s.generation != h.generation {
		return fmt.Errorf("release %s: %w", h, ErrStaleHandle)
	}

	var zero T
	s.value = zero
	s.live = false
	s.generation++
	if s.generation == 0 {
		s.generation = 1
	}
	r.free = append(r.free, h.index)
	return nil
}

// Len returns the number of live entries.
func (r *Registry[T]) Len() int {
	return len(r.slots) - len(r.free)
}
