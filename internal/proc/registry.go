package proc

import "sync"

// Registry tracks every live subprocess spawned by a Runner so that a
// shutdown coordinator can terminate all of them at once. It is
// constructed by the caller and injected into each Runner rather than
// living as package-global state.
type Registry struct {
	mu      sync.Mutex
	handles map[*Handle]struct{}
}

// NewRegistry creates an empty process registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[*Handle]struct{})}
}

func (r *Registry) add(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[h] = struct{}{}
}

func (r *Registry) remove(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, h)
}

// Contains reports whether the handle is still tracked as live.
func (r *Registry) Contains(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[h]
	return ok
}

// Len returns the number of live subprocesses.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// TerminateAll signals graceful termination to every live subprocess.
// Used during shutdown; each runner still settles its own invocation and
// removes its handle.
func (r *Registry) TerminateAll() {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.Terminate()
	}
}
