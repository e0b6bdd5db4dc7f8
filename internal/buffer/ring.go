package buffer

// Ring is a fixed-capacity buffer that keeps the most recent entries.
type Ring[T any] struct {
	slots []T
	head  int
	used  int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{slots: make([]T, capacity)}
}

func (r *Ring[T]) Add(entry T) {
	if r == nil || len(r.slots) == 0 {
		return
	}
	if r.used < len(r.slots) {
		r.slots[(r.head+r.used)%len(r.slots)] = entry
		r.used++
		return
	}
	r.slots[r.head] = entry
	r.head = (r.head + 1) % len(r.slots)
}

func (r *Ring[T]) Len() int {
	if r == nil {
		return 0
	}
	return r.used
}

func (r *Ring[T]) Cap() int {
	if r == nil {
		return 0
	}
	return len(r.slots)
}

// Snapshot returns the retained entries, oldest first.
func (r *Ring[T]) Snapshot() []T {
	if r == nil || r.used == 0 {
		return nil
	}
	out := make([]T, r.used)
	for i := range out {
		out[i] = r.slots[(r.head+i)%len(r.slots)]
	}
	return out
}
