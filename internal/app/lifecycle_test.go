package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/pkg/log"
)

func TestState_String(t *testing.T) {
	if got := StateStopping.String(); got != "Stopping" {
		t.Errorf("StateStopping.String() = %q", got)
	}
	if got := State(42).String(); got != "Unknown" {
		t.Errorf("State(42).String() = %q, want Unknown", got)
	}
}

func TestLifecycle_TransitionMatrix(t *testing.T) {
	all := []State{StateStopped, StateStarting, StateRunning, StateStopping, StateCrashed}
	allowed := map[[2]State]bool{
		{StateStopped, StateStarting}:  true,
		{StateStarting, StateRunning}:  true,
		{StateStarting, StateStopping}: true,
		{StateStarting, StateCrashed}:  true,
		{StateRunning, StateStopping}:  true,
		{StateRunning, StateCrashed}:   true,
		{StateStopping, StateStopped}:  true,
		{StateStopping, StateCrashed}:  true,
		{StateCrashed, StateStarting}:  true,
	}

	for _, from := range all {
		for _, to := range all {
			l := NewLifecycle(log.NewNoopLogger())
			l.state = from

			err := l.TransitionTo(to, "test")
			switch {
			case allowed[[2]State{from, to}]:
				if err != nil || l.State() != to {
					t.Errorf("%v -> %v: err = %v, state = %v", from, to, err, l.State())
				}
			case from == StateStopped || from == StateCrashed:
				if !errors.Is(err, domain.ErrNotRunning) || l.State() != from {
					t.Errorf("%v -> %v: err = %v, want ErrNotRunning and no change", from, to, err)
				}
			default:
				if !errors.Is(err, domain.ErrAlreadyRunning) || l.State() != from {
					t.Errorf("%v -> %v: err = %v, want ErrAlreadyRunning and no change", from, to, err)
				}
			}
		}
	}
}

func TestLifecycle_CanStartCanStop(t *testing.T) {
	tests := []struct {
		state    State
		canStart bool
		canStop  bool
	}{
		{StateStopped, true, false},
		{StateStarting, false, true},
		{StateRunning, false, true},
		{StateStopping, false, false},
		{StateCrashed, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			l := NewLifecycle(nil)
			l.state = tt.state
			if got := l.CanStart(); got != tt.canStart {
				t.Errorf("CanStart() = %v, want %v", got, tt.canStart)
			}
			if got := l.CanStop(); got != tt.canStop {
				t.Errorf("CanStop() = %v, want %v", got, tt.canStop)
			}
		})
	}
}

func TestLifecycle_Cancel(t *testing.T) {
	l := NewLifecycle(nil)
	l.Cancel() // nothing set yet

	ctx, cancel := context.WithCancel(context.Background())
	l.SetCancel(cancel)
	l.Cancel()

	select {
	case <-ctx.Done():
	default:
		t.Error("run context not canceled")
	}
}

func TestLifecycle_WaitDrainsTrackedGoroutines(t *testing.T) {
	l := NewLifecycle(nil)

	// Stand-ins for a watcher, a tailer and a pool goroutine that each run
	// until their stop signal.
	stop := make(chan struct{})
	var finished sync.WaitGroup
	finished.Add(3)
	for i := 0; i < 3; i++ {
		l.Go(func() {
			defer finished.Done()
			<-stop
		})
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(stop)
	}()

	if err := l.WaitWithTimeout(2 * time.Second); err != nil {
		t.Fatalf("WaitWithTimeout() = %v, want nil", err)
	}
	finished.Wait()
}

func TestLifecycle_WaitTimesOutOnStuckGoroutine(t *testing.T) {
	l := NewLifecycle(nil)

	release := make(chan struct{})
	defer close(release)
	l.Go(func() { <-release })

	start := time.Now()
	err := l.WaitWithTimeout(30 * time.Millisecond)
	if !errors.Is(err, domain.ErrShutdownTimeout) {
		t.Fatalf("WaitWithTimeout() = %v, want ErrShutdownTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("returned after %v, before the timeout", elapsed)
	}
}

func TestLifecycle_ConcurrentUse(t *testing.T) {
	l := NewLifecycle(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = l.CanStart()
				_ = l.TransitionTo(StateStarting, "race")
				_ = l.TransitionTo(StateRunning, "race")
				l.Go(func() {})
			}
		}()
	}
	wg.Wait()

	if err := l.WaitWithTimeout(time.Second); err != nil {
		t.Fatalf("WaitWithTimeout() = %v", err)
	}
	if s := l.State(); s != StateRunning {
		t.Errorf("State() = %v, want Running", s)
	}
}
