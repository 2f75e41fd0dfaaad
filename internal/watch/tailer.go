package watch

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/internal/metrics"
	"github.com/bft-labs/logship/internal/ports"
	"github.com/bft-labs/logship/pkg/log"
)

const (
	// DefaultChunkSize is the number of lines published per batch.
	DefaultChunkSize = 100

	// lockTimeout bounds how long a pass waits for the shared file lock.
	lockTimeout = 5 * time.Second
	lockRetry   = 50 * time.Millisecond
)

// TailerConfig holds the collaborators shared by every tailer.
type TailerConfig struct {
	Producer  ports.Producer
	Store     ports.OffsetStore
	Logger    log.Logger
	Metrics   *metrics.Metrics
	ChunkSize int
}

func (c TailerConfig) withDefaults() TailerConfig {
	if c.Logger == nil {
		c.Logger = log.NewNoopLogger()
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	return c
}

// Tailer follows one log file and publishes its new lines.
//
// The read loop sleeps until woken. Wakes are coalesced into a single
// pending flag, so a wake that arrives during a pass is honoured by the next
// pass and never lost.
type Tailer struct {
	path string
	cfg  TailerConfig
	log  log.Logger

	lastReadLine atomic.Int64
	state        atomic.Int32
	exiting      atomic.Bool

	wake chan struct{}
	done chan struct{}
}

// NewTailer creates a tailer for path that resumes after offset consumed
// lines. A negative offset means the file has not been read yet.
func NewTailer(path string, offset int64, cfg TailerConfig) *Tailer {
	cfg = cfg.withDefaults()
	t := &Tailer{
		path: path,
		cfg:  cfg,
		log:  cfg.Logger.With(log.String("file", path)),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	t.lastReadLine.Store(domain.NormalizeOffset(offset))
	return t
}

// Path returns the absolute path of the tailed file.
func (t *Tailer) Path() string { return t.path }

// Offset returns the number of lines consumed so far.
func (t *Tailer) Offset() int64 { return t.lastReadLine.Load() }

// State returns the current lifecycle state.
func (t *Tailer) State() State { return State(t.state.Load()) }

// Done is closed once the read loop has exited.
func (t *Tailer) Done() <-chan struct{} { return t.done }

// Start launches the read loop. The loop sleeps until the first WakeUp.
func (t *Tailer) Start(ctx context.Context) error {
	if !t.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		if t.State() == StateRunning {
			return domain.ErrAlreadyRunning
		}
		return domain.ErrAlreadyStopped
	}
	t.cfg.Metrics.TailerStarted()
	go t.run(ctx)
	return nil
}

// WakeUp asks the loop to read the file again. It never blocks.
func (t *Tailer) WakeUp() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Stop asks the loop to exit once its current pass is over.
func (t *Tailer) Stop() {
	if t.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
		close(t.done)
		return
	}
	t.exiting.Store(true)
	t.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	t.WakeUp()
}

func (t *Tailer) run(ctx context.Context) {
	defer close(t.done)
	defer t.state.Store(int32(StateStopped))
	defer t.cfg.Metrics.TailerStopped()

	// A pass is never cut short by cancellation; ctx only ends the idle wait.
	passCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			t.log.Debug("tailer interrupted, exiting")
			return
		case <-t.wake:
		}

		if t.exiting.Load() {
			t.log.Debug("tailer stopped")
			return
		}
		t.readAndStore(passCtx)
	}
}

// readAndStore publishes every complete line past the current offset.
func (t *Tailer) readAndStore(ctx context.Context) {
	lock := flock.New(t.path, flock.SetFlag(os.O_RDONLY))

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	locked, err := lock.TryRLockContext(lockCtx, lockRetry)
	cancel()
	if err != nil || !locked {
		t.log.Warn("could not lock file, skipping pass", log.Err(err))
		return
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			t.log.Error("failed to release file lock", log.Err(err))
		}
	}()

	f, err := os.Open(t.path)
	if err != nil {
		t.log.Warn("could not open file, skipping pass", log.Err(err))
		return
	}
	defer f.Close()

	start := t.lastReadLine.Load()
	r := bufio.NewReader(f)
	batch := domain.NewBatch(t.path, t.cfg.ChunkSize)

	var idx int64
	for {
		line, err := r.ReadString('\n')
		if errors.Is(err, io.EOF) {
			// A trailing line without newline is still being written.
			break
		}
		if err != nil {
			t.log.Error("read failed", log.Err(err))
			break
		}

		if idx < start {
			idx++
			continue
		}
		batch.Add(idx, strings.TrimRight(line, "\r\n"))
		idx++

		if batch.Size() >= t.cfg.ChunkSize {
			if !t.flush(ctx, batch) {
				return
			}
			batch = domain.NewBatch(t.path, t.cfg.ChunkSize)
		}
	}

	if idx < start {
		t.log.Warn("file shrank below stored offset, restarting from the beginning",
			log.Int64("offset", start),
			log.Int64("lines", idx),
		)
		t.lastReadLine.Store(0)
		t.persist(0)
		t.WakeUp()
		return
	}

	if !batch.Empty() {
		t.flush(ctx, batch)
	}
}

// flush publishes the batch and advances the offset past it.
// Returns false if the queue rejected the batch.
func (t *Tailer) flush(ctx context.Context, batch *domain.Batch) bool {
	err := t.cfg.Producer.Publish(ctx, *batch)
	t.cfg.Metrics.ObservePublish(batch.Size(), err)
	if err != nil {
		t.log.Error("publish failed, will retry on next change",
			log.Int64("first_line", batch.FirstLine),
			log.Int("lines", batch.Size()),
			log.Err(err),
		)
		return false
	}

	next := batch.Next()
	t.lastReadLine.Store(next)
	t.persist(next)
	t.log.Debug("published lines", log.Int64("first_line", batch.FirstLine), log.Int("lines", batch.Size()))
	return true
}

func (t *Tailer) persist(offset int64) {
	if t.cfg.Store == nil {
		return
	}
	if err := t.cfg.Store.UpdateTailerOffset(t.path, offset); err != nil {
		t.log.Error("failed to persist offset", log.Int64("offset", offset), log.Err(err))
	}
}
