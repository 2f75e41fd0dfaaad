package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/internal/metrics"
	"github.com/bft-labs/logship/internal/ports"
	"github.com/bft-labs/logship/internal/shutdown"
	"github.com/bft-labs/logship/internal/watch"
	"github.com/bft-labs/logship/pkg/log"
)

// Config holds the supervisor settings.
type Config struct {
	// StateFile is the offset store path; the instance lock lives next to it.
	StateFile string
	// Directories are watched on start in addition to the stored ones.
	Directories []string
	// FilePattern filters file names inside watched directories.
	FilePattern string
	// ChunkSize is the number of lines per published batch.
	ChunkSize int
	// Pool configures the consumer workers.
	Pool PoolConfig
}

// Deps holds the adapters the supervisor wires together.
// Consumer and Indexer may be nil to run a tail-only agent.
type Deps struct {
	Store      ports.OffsetStore
	Producer   ports.Producer
	Consumer   ports.Consumer
	Indexer    ports.Indexer
	Resolver   ports.Resolver
	Terminator *shutdown.Terminator
	Metrics    *metrics.Metrics
	Logger     log.Logger
}

// TailerStatus is a snapshot of one tailed file.
type TailerStatus struct {
	Path   string
	Offset int64
	State  string
}

// Supervisor owns the directory watchers, file tailers and consumer pool of
// one agent process.
type Supervisor struct {
	cfg      Config
	deps     Deps
	logger   log.Logger
	lc       *Lifecycle
	registry *watch.Registry
	lock     *flock.Flock
	pool     *Pool

	mu  sync.Mutex
	ctx context.Context
}

// New validates the configuration and creates a stopped supervisor.
func New(cfg Config, deps Deps) (*Supervisor, error) {
	if cfg.StateFile == "" {
		return nil, domain.NewConfigError("state_file", "must not be empty")
	}
	if deps.Store == nil || deps.Producer == nil {
		return nil, fmt.Errorf("%w: store and producer are required", domain.ErrInvalidConfig)
	}
	if deps.Logger == nil {
		deps.Logger = log.NewNoopLogger()
	}
	if deps.Terminator == nil {
		deps.Terminator = shutdown.New(shutdown.WithLogger(deps.Logger))
	}

	s := &Supervisor{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger,
		lc:       NewLifecycle(deps.Logger),
		registry: watch.NewRegistry(),
		lock:     flock.New(cfg.StateFile + ".lock"),
	}
	if deps.Consumer != nil && deps.Indexer != nil {
		s.pool = NewPool(cfg.Pool, deps.Consumer, deps.Indexer, deps.Resolver, deps.Metrics, deps.Logger)
	}
	return s, nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return s.lc.State()
}

// Start takes the instance lock, resumes every stored directory and tailer
// and starts the consumer pool.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.lc.CanStart() {
		return domain.ErrAlreadyRunning
	}
	if err := s.lc.TransitionTo(StateStarting, "start requested"); err != nil {
		return err
	}

	if err := s.acquireLock(); err != nil {
		_ = s.lc.TransitionTo(StateCrashed, err.Error())
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.lc.SetCancel(cancel)
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.deps.Terminator.Start()

	for _, dir := range s.startupDirectories() {
		if err := s.Watch(dir); err != nil && !errors.Is(err, domain.ErrAlreadyWatched) {
			s.logger.Error("could not watch directory", log.String("dir", dir), log.Err(err))
		}
	}
	s.restoreTailers(ctx)

	if s.pool != nil {
		s.pool.Start(ctx)
		s.lc.Go(func() { <-s.pool.Done() })
	}

	return s.lc.TransitionTo(StateRunning, "started")
}

func (s *Supervisor) acquireLock() error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.StateFile), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	locked, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", s.lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("%w: %s is held", domain.ErrInstanceLocked, s.lock.Path())
	}
	return nil
}

// startupDirectories merges the configured and stored directories.
func (s *Supervisor) startupDirectories() []string {
	dirs := append([]string(nil), s.cfg.Directories...)
	stored, err := s.deps.Store.ListWatchedDirectories()
	if err != nil {
		s.logger.Error("could not read watched directories, continuing without them", log.Err(err))
	}
	return append(dirs, stored...)
}

// restoreTailers restarts a tailer for every file with a stored offset in a
// watched directory and wakes it once to catch up on lines written while the
// agent was down. Offsets of un-watched directories stay stored but idle.
func (s *Supervisor) restoreTailers(ctx context.Context) {
	records, err := s.deps.Store.ListTailerOffsets()
	if err != nil {
		s.logger.Error("could not read stored offsets, continuing without them", log.Err(err))
		return
	}

	watched := make(map[string]bool)
	for _, w := range s.registry.Watchers() {
		watched[w.Dir()] = true
	}

	for _, rec := range records {
		if !watched[filepath.Dir(rec.Path)] {
			continue
		}
		if _, err := os.Stat(rec.Path); err != nil {
			s.logger.Warn("skipping stored file", log.String("file", rec.Path), log.Err(err))
			continue
		}
		t, created := s.registry.LoadOrCreateTailer(rec.Path, func() *watch.Tailer {
			return watch.NewTailer(rec.Path, rec.Offset, s.tailerConfig())
		})
		if created {
			if err := t.Start(ctx); err != nil {
				s.logger.Error("failed to start tailer", log.String("file", rec.Path), log.Err(err))
				continue
			}
			s.track(t)
			s.logger.Info("resumed tailing", log.String("file", rec.Path), log.Int64("offset", rec.Offset))
		}
		t.WakeUp()
	}
}

func (s *Supervisor) tailerConfig() watch.TailerConfig {
	return watch.TailerConfig{
		Producer:  s.deps.Producer,
		Store:     s.deps.Store,
		Logger:    s.logger,
		Metrics:   s.deps.Metrics,
		ChunkSize: s.cfg.ChunkSize,
	}
}

// track counts a tailer's goroutine until it exits.
func (s *Supervisor) track(t *watch.Tailer) {
	s.lc.Go(func() { <-t.Done() })
}

func (s *Supervisor) runContext() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return nil, domain.ErrNotRunning
	}
	switch s.lc.State() {
	case StateStarting, StateRunning:
		return s.ctx, nil
	default:
		return nil, domain.ErrNotRunning
	}
}

// Watch starts tailing files in dir and records it for the next start.
func (s *Supervisor) Watch(dir string) error {
	abs, err := validateDirectory(dir)
	if err != nil {
		return err
	}
	ctx, err := s.runContext()
	if err != nil {
		return err
	}

	w := watch.NewDirectoryWatcher(abs, s.registry, watch.WatcherConfig{
		Pattern:     s.cfg.FilePattern,
		Ignore:      s.ownFiles(),
		Tailer:      s.tailerConfig(),
		OnNewTailer: s.track,
	})
	if err := s.registry.AddWatcher(w); err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		s.registry.RemoveWatcher(abs)
		return err
	}
	s.lc.Go(func() { <-w.Done() })

	if err := s.deps.Store.AddDirectoryIfAbsent(abs); err != nil {
		s.logger.Error("could not record watched directory", log.String("dir", abs), log.Err(err))
	}
	return nil
}

// Unwatch stops the watcher for dir and every tailer of a file in it, and
// forgets the directory. Stored offsets are kept so a later Watch resumes.
func (s *Supervisor) Unwatch(dir string) error {
	abs, err := filepath.Abs(strings.TrimSpace(dir))
	if err != nil {
		return domain.NewConfigError("directory", "%v", err)
	}

	w, ok := s.registry.RemoveWatcher(abs)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotWatched, abs)
	}
	w.Stop()
	<-w.Done()
	for _, t := range s.registry.TailersIn(abs) {
		t.Stop()
		s.registry.RemoveTailer(t.Path())
	}

	if err := s.deps.Store.RemoveDirectory(abs); err != nil {
		s.logger.Error("could not remove watched directory", log.String("dir", abs), log.Err(err))
	}
	s.logger.Info("stopped watching directory", log.String("dir", abs))
	return nil
}

// Directories returns the watched directories.
func (s *Supervisor) Directories() []string {
	watchers := s.registry.Watchers()
	out := make([]string, len(watchers))
	for i, w := range watchers {
		out[i] = w.Dir()
	}
	return out
}

// Tailers returns the tailed files with their offsets.
func (s *Supervisor) Tailers() []TailerStatus {
	tailers := s.registry.Tailers()
	out := make([]TailerStatus, len(tailers))
	for i, t := range tailers {
		out[i] = TailerStatus{Path: t.Path(), Offset: t.Offset(), State: t.State().String()}
	}
	return out
}

// ShutdownTimeout returns the force-exit grace period in seconds.
func (s *Supervisor) ShutdownTimeout() int {
	return s.deps.Terminator.MaxTimeout()
}

// SetShutdownTimeout changes the force-exit grace period.
func (s *Supervisor) SetShutdownTimeout(seconds int) error {
	return s.deps.Terminator.SetMaxTimeout(seconds)
}

// Shutdown stops directory watchers, then tailers, then consumers, arms the
// force-exit timer and waits for every goroutine. Stops are cooperative; a
// component stuck past the grace period is ended by the terminator.
func (s *Supervisor) Shutdown() error {
	if !s.lc.CanStop() {
		return domain.ErrNotRunning
	}
	if err := s.lc.TransitionTo(StateStopping, "shutdown requested"); err != nil {
		return err
	}

	// Watchers must be fully exited before the tailer snapshot, or an event
	// handled during the stop could start a tailer nobody stops.
	watchers := s.registry.Watchers()
	for _, w := range watchers {
		w.Stop()
	}
	for _, w := range watchers {
		<-w.Done()
	}
	for _, t := range s.registry.Tailers() {
		t.Stop()
	}
	if s.pool != nil {
		s.pool.Stop()
	}
	s.deps.Terminator.WakeUp()

	timeout := time.Duration(s.deps.Terminator.MaxTimeout()) * time.Second
	waitErr := s.lc.WaitWithTimeout(timeout)
	s.lc.Cancel()

	if err := s.lock.Unlock(); err != nil {
		s.logger.Error("failed to release instance lock", log.Err(err))
	}

	if waitErr != nil {
		_ = s.lc.TransitionTo(StateCrashed, waitErr.Error())
		return waitErr
	}
	return s.lc.TransitionTo(StateStopped, "all components stopped")
}

// ownFiles lists the agent's files that must never be tailed.
func (s *Supervisor) ownFiles() []string {
	state, err := filepath.Abs(s.cfg.StateFile)
	if err != nil {
		state = s.cfg.StateFile
	}
	return []string{state, state + ".tmp", state + ".lock"}
}

// validateDirectory rejects "", ".", ".." and paths that are not existing
// directories, and returns the absolute path.
func validateDirectory(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	switch dir {
	case "", ".", "..":
		return "", domain.NewConfigError("directory", "%q is not a valid directory", dir)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", domain.NewConfigError("directory", "%v", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", domain.NewConfigError("directory", "%s does not exist", abs)
	}
	if !info.IsDir() {
		return "", domain.NewConfigError("directory", "%s is not a directory", abs)
	}
	return abs, nil
}
