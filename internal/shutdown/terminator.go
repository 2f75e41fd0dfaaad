// Package shutdown bounds how long a graceful shutdown may take.
//
// A [Terminator] sleeps until woken at the start of shutdown. If the process
// is still alive after the configured timeout, it prints a short countdown
// and exits with status 1.
package shutdown

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/pkg/log"
)

const (
	// DefaultMaxTimeout is the grace period in seconds.
	DefaultMaxTimeout = 10
	// countdown is the number of final seconds announced on the output.
	countdown = 5
)

// Option configures a Terminator.
type Option func(*Terminator)

// WithOutput sets where the countdown is printed. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(t *Terminator) { t.out = w }
}

// WithExit replaces os.Exit.
func WithExit(exit func(code int)) Option {
	return func(t *Terminator) { t.exit = exit }
}

// WithAfter replaces time.After, letting tests control the clock.
func WithAfter(after func(time.Duration) <-chan time.Time) Option {
	return func(t *Terminator) { t.after = after }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(t *Terminator) { t.logger = logger }
}

// Terminator force-exits the process a fixed time after shutdown began.
type Terminator struct {
	out    io.Writer
	exit   func(code int)
	after  func(time.Duration) <-chan time.Time
	logger log.Logger

	mu         sync.Mutex
	maxTimeout int

	wake      chan struct{}
	wakeOnce  sync.Once
	startOnce sync.Once
	done      chan struct{}
}

// New creates a terminator with the default timeout.
func New(opts ...Option) *Terminator {
	t := &Terminator{
		out:        os.Stdout,
		exit:       os.Exit,
		after:      time.After,
		logger:     log.NewNoopLogger(),
		maxTimeout: DefaultMaxTimeout,
		wake:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetMaxTimeout sets the grace period in seconds. It must exceed the
// countdown, so values of 5 or less are rejected.
func (t *Terminator) SetMaxTimeout(seconds int) error {
	if seconds <= countdown {
		return domain.NewConfigError("shutdown_timeout", "must be more than %d seconds, got %d", countdown, seconds)
	}
	t.mu.Lock()
	t.maxTimeout = seconds
	t.mu.Unlock()
	return nil
}

// MaxTimeout returns the grace period in seconds.
func (t *Terminator) MaxTimeout() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxTimeout
}

// Start launches the background timer. It stays asleep until WakeUp.
func (t *Terminator) Start() {
	t.startOnce.Do(func() {
		go t.run()
	})
}

// WakeUp begins the countdown. Calling it again has no effect.
func (t *Terminator) WakeUp() {
	t.wakeOnce.Do(func() {
		close(t.wake)
	})
}

// Done is closed after the exit function returns, which only happens when
// it has been replaced.
func (t *Terminator) Done() <-chan struct{} {
	return t.done
}

func (t *Terminator) run() {
	defer close(t.done)

	<-t.wake

	grace := t.MaxTimeout() - countdown
	t.logger.Debug("shutdown started, force exit armed", log.Int("timeout_seconds", t.MaxTimeout()))
	<-t.after(time.Duration(grace) * time.Second)

	t.logger.Warn("shutdown is taking too long, forcing exit")
	fmt.Fprintf(t.out, "The program will force shut within %d seconds.\n", countdown)
	for i := countdown; i > 0; i-- {
		fmt.Fprintln(t.out, i)
		<-t.after(time.Second)
	}
	fmt.Fprintln(t.out, "Good bye...")

	t.exit(1)
}
