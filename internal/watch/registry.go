package watch

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/bft-labs/logship/internal/domain"
)

// Registry tracks the live tailers and directory watchers of one agent.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	tailers  map[string]*Tailer
	watchers map[string]*DirectoryWatcher
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tailers:  make(map[string]*Tailer),
		watchers: make(map[string]*DirectoryWatcher),
	}
}

// LoadOrCreateTailer returns the tailer registered for path, or registers the
// one built by create. created reports whether create was called.
func (r *Registry) LoadOrCreateTailer(path string, create func() *Tailer) (t *Tailer, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tailers[path]; ok {
		return t, false
	}
	t = create()
	r.tailers[path] = t
	return t, true
}

// Tailer returns the tailer registered for path.
func (r *Registry) Tailer(path string) (*Tailer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tailers[path]
	return t, ok
}

// RemoveTailer forgets the tailer for path. It does not stop it.
func (r *Registry) RemoveTailer(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tailers, path)
}

// Tailers returns a snapshot of all tailers sorted by path.
func (r *Registry) Tailers() []*Tailer {
	r.mu.Lock()
	out := make([]*Tailer, 0, len(r.tailers))
	for _, t := range r.tailers {
		out = append(out, t)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out
}

// TailersIn returns the tailers whose file lives directly in dir.
func (r *Registry) TailersIn(dir string) []*Tailer {
	var out []*Tailer
	for _, t := range r.Tailers() {
		if filepath.Dir(t.Path()) == dir {
			out = append(out, t)
		}
	}
	return out
}

// AddWatcher registers w under its directory.
// Returns domain.ErrAlreadyWatched if the directory already has a watcher.
func (r *Registry) AddWatcher(w *DirectoryWatcher) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.watchers[w.Dir()]; ok {
		return domain.ErrAlreadyWatched
	}
	r.watchers[w.Dir()] = w
	return nil
}

// RemoveWatcher unregisters and returns the watcher for dir.
func (r *Registry) RemoveWatcher(dir string) (*DirectoryWatcher, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.watchers[dir]
	if ok {
		delete(r.watchers, dir)
	}
	return w, ok
}

// forgetWatcher unregisters w if it is still the watcher registered for its
// directory. A newer watcher for the same directory is left alone.
func (r *Registry) forgetWatcher(w *DirectoryWatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.watchers[w.Dir()] == w {
		delete(r.watchers, w.Dir())
	}
}

// Watchers returns a snapshot of all directory watchers sorted by directory.
func (r *Registry) Watchers() []*DirectoryWatcher {
	r.mu.Lock()
	out := make([]*DirectoryWatcher, 0, len(r.watchers))
	for _, w := range r.watchers {
		out = append(out, w)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Dir() < out[j].Dir() })
	return out
}
