package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/pkg/log"
)

// WatcherConfig configures a DirectoryWatcher.
type WatcherConfig struct {
	// Pattern is a filepath.Match glob applied to file names; empty matches all.
	Pattern string
	// Ignore lists absolute paths that must never be tailed, such as the
	// agent's own state file when it lives in a watched directory.
	Ignore []string
	// Tailer is passed to every tailer the watcher creates.
	Tailer TailerConfig
	// OnNewTailer, if set, is called after a new tailer has started.
	OnNewTailer func(*Tailer)
}

// DirectoryWatcher tails every file that changes directly inside one
// directory. Subdirectories are not followed.
type DirectoryWatcher struct {
	dir      string
	cfg      WatcherConfig
	registry *Registry
	log      log.Logger
	ignore   map[string]struct{}

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	// tailerCtx is the parent context handed to tailers; they outlive the
	// watcher's own loop and are stopped explicitly.
	tailerCtx context.Context
}

// NewDirectoryWatcher creates a watcher for dir sharing registry.
func NewDirectoryWatcher(dir string, registry *Registry, cfg WatcherConfig) *DirectoryWatcher {
	cfg.Tailer = cfg.Tailer.withDefaults()
	ignore := make(map[string]struct{}, len(cfg.Ignore))
	for _, p := range cfg.Ignore {
		ignore[filepath.Clean(p)] = struct{}{}
	}
	return &DirectoryWatcher{
		dir:      dir,
		cfg:      cfg,
		registry: registry,
		log:      cfg.Tailer.Logger.With(log.String("dir", dir)),
		ignore:   ignore,
		state:    StateCreated,
		done:     make(chan struct{}),
	}
}

// Dir returns the watched directory.
func (w *DirectoryWatcher) Dir() string { return w.dir }

// State returns the current lifecycle state.
func (w *DirectoryWatcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Done is closed once the event loop has exited.
func (w *DirectoryWatcher) Done() <-chan struct{} { return w.done }

// Start subscribes to the directory and begins handling events.
// Subscription errors are returned and leave the watcher stopped.
func (w *DirectoryWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateRunning, StateStopping:
		return domain.ErrAlreadyRunning
	case StateStopped:
		return domain.ErrAlreadyStopped
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.stopLocked()
		w.log.Error("failed to create filesystem watcher", log.Err(err))
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		w.stopLocked()
		w.log.Error("failed to watch directory", log.Err(err))
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.tailerCtx = ctx
	w.state = StateRunning

	go w.run(runCtx, fsw)

	w.log.Info("watching directory")
	return nil
}

// Stop ends the event loop, even while it is blocked waiting for events.
// An event already being handled may finish; wait on Done before assuming no
// more tailers will be created. Tailers created by the watcher keep running.
func (w *DirectoryWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateCreated:
		w.stopLocked()
	case StateRunning:
		w.state = StateStopping
		w.cancel()
	}
}

func (w *DirectoryWatcher) stopLocked() {
	w.state = StateStopped
	close(w.done)
}

func (w *DirectoryWatcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	defer func() {
		if err := fsw.Close(); err != nil {
			w.log.Warn("failed to close filesystem watcher", log.Err(err))
		}
		w.registry.forgetWatcher(w)
		w.mu.Lock()
		w.cancel()
		w.stopLocked()
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("directory watcher interrupted, exiting")
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if w.isSelf(event) {
				w.log.Warn("watched directory was removed or renamed, stopping watcher", log.String("op", event.Op.String()))
				return
			}
			w.handle(event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.log.Warn("filesystem events overflowed, some changes may be picked up late")
				continue
			}
			w.log.Error("directory watcher failed", log.Err(err))
			return
		}
	}
}

// isSelf reports whether event removes or renames the watched directory.
func (w *DirectoryWatcher) isSelf(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	return filepath.Clean(event.Name) == filepath.Clean(w.dir)
}

func (w *DirectoryWatcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	if w.State() != StateRunning {
		return
	}

	path, err := filepath.Abs(event.Name)
	if err != nil {
		w.log.Warn("could not resolve path", log.String("name", event.Name), log.Err(err))
		return
	}
	if !w.accepts(path) {
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	t, created := w.registry.LoadOrCreateTailer(path, func() *Tailer {
		return NewTailer(path, w.storedOffset(path), w.cfg.Tailer)
	})
	if created {
		if err := t.Start(w.tailerCtx); err != nil {
			w.log.Error("failed to start tailer", log.String("file", path), log.Err(err))
			return
		}
		if w.cfg.OnNewTailer != nil {
			w.cfg.OnNewTailer(t)
		}
		w.log.Info("tailing new file", log.String("file", path), log.Int64("offset", t.Offset()))
	}
	t.WakeUp()
}

func (w *DirectoryWatcher) accepts(path string) bool {
	if _, skip := w.ignore[path]; skip {
		return false
	}
	if w.cfg.Pattern == "" {
		return true
	}
	ok, err := filepath.Match(w.cfg.Pattern, filepath.Base(path))
	return err == nil && ok
}

// storedOffset returns the persisted offset for path, or 0.
func (w *DirectoryWatcher) storedOffset(path string) int64 {
	store := w.cfg.Tailer.Store
	if store == nil {
		return 0
	}
	records, err := store.ListTailerOffsets()
	if err != nil {
		w.log.Warn("could not read stored offsets", log.Err(err))
	}
	for _, rec := range records {
		if rec.Path == path {
			return rec.Offset
		}
	}
	return 0
}
