// Package registry tracks the named background processes of one
// orchestration scope and polls them for output and liveness.
//
// A Registry is shared by reference between whatever spawns processes, the
// Poller and the teardown manager. Access follows single-writer discipline:
// one goroutine drives orchestration and mutates the registry, while teardown
// only takes snapshots. The mutex makes snapshots safe if a late insertion
// races with teardown.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/randomizedcoder/go-procctl/internal/process"
)

// ErrNameInUse is returned when a name is still bound to a running process.
var ErrNameInUse = errors.New("process name already in use")

// Entry is one named handle.
type Entry struct {
	Name   string
	Handle *process.Handle
}

// Registry is an ordered mapping from process name to handle.
type Registry struct {
	mu      sync.Mutex
	order   []string
	handles map[string]*process.Handle
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		handles: make(map[string]*process.Handle),
	}
}

// Add takes ownership of h under name. A name whose previous process has
// exited may be rebound; the old handle's streams are closed first.
func (r *Registry) Add(name string, h *process.Handle) error {
	if name == "" {
		return errors.New("process name must not be empty")
	}
	if h == nil {
		return fmt.Errorf("add %q: nil handle", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.handles[name]; ok {
		if old.Poll().Running() {
			return fmt.Errorf("add %q: %w", name, ErrNameInUse)
		}
		_ = old.Close()
		r.handles[name] = h
		return nil
	}

	r.order = append(r.order, name)
	r.handles[name] = h
	return nil
}

// Get returns the handle bound to name.
func (r *Registry) Get(name string) (*process.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[name]
	return h, ok
}

// Entries returns a snapshot of all entries in insertion order.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]Entry, 0, len(r.order))
	for _, name := range r.order {
		entries = append(entries, Entry{Name: name, Handle: r.handles[name]})
	}
	return entries
}

// Handles returns a snapshot of all handles in insertion order.
func (r *Registry) Handles() []*process.Handle {
	entries := r.Entries()
	handles := make([]*process.Handle, len(entries))
	for i, e := range entries {
		handles[i] = e.Handle
	}
	return handles
}

// Names returns the registered names in insertion order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Clear drops every entry. Called once teardown has completed.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = nil
	r.handles = make(map[string]*process.Handle)
}
