package ingest

// Window retains the identifiers of the most recently ingested events so
// redelivered events can be recognized with bounded memory. Once full, each
// new identifier evicts the oldest one. Duplicates arriving after their
// identifier has been evicted are indistinguishable from new events; the
// window size bounds that exposure.
type Window struct {
	capacity int
	order    []string
	next     int
	seen     map[string]struct{}
}

// NewWindow creates a window retaining up to capacity identifiers.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{
		capacity: capacity,
		order:    make([]string, capacity),
		seen:     make(map[string]struct{}, capacity),
	}
}

// Seen reports whether id is inside the retained window.
func (w *Window) Seen(id string) bool {
	_, ok := w.seen[id]
	return ok
}

// Remember records id, evicting the oldest retained identifier once the
// window is full. Recording an identifier already present is a no-op.
func (w *Window) Remember(id string) {
	if _, ok := w.seen[id]; ok {
		return
	}
	if old := w.order[w.next]; old != "" {
		delete(w.seen, old)
	}
	w.order[w.next] = id
	w.seen[id] = struct{}{}
	w.next = (w.next + 1) % w.capacity
}

// Len returns the number of retained identifiers.
func (w *Window) Len() int {
	return len(w.seen)
}

// Capacity returns the configured retention bound.
func (w *Window) Capacity() int {
	return w.capacity
}
