package watch

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/bft-labs/logship/internal/domain"
)

func startTailer(t *testing.T, path string, offset int64, cfg TailerConfig) *Tailer {
	t.Helper()
	tl := NewTailer(path, offset, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	if err := tl.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		tl.Stop()
		cancel()
		<-tl.Done()
	})
	return tl
}

func TestTailer_ChunkedPass(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, "one\ntwo\nthree\n")

	prod := &mockProducer{}
	store := newMemStore()
	tl := startTailer(t, path, 0, TailerConfig{Producer: prod, Store: store, ChunkSize: 2})
	tl.WakeUp()

	waitFor(t, "offset 3", func() bool { return tl.Offset() == 3 })

	want := []domain.Batch{
		{Source: path, FirstLine: 0, Lines: []string{"one", "two"}},
		{Source: path, FirstLine: 2, Lines: []string{"three"}},
	}
	if got := prod.Batches(); !reflect.DeepEqual(got, want) {
		t.Errorf("batches = %+v, want %+v", got, want)
	}
	if off, _ := store.offset(path); off != 3 {
		t.Errorf("stored offset = %d, want 3", off)
	}
}

func TestTailer_ResumeFromOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, "l0\nl1\nl2\nl3\nl4\n")

	prod := &mockProducer{}
	tl := startTailer(t, path, 3, TailerConfig{Producer: prod, Store: newMemStore()})
	tl.WakeUp()

	waitFor(t, "offset 5", func() bool { return tl.Offset() == 5 })

	if got, want := prod.Lines(), []string{"l3", "l4"}; !reflect.DeepEqual(got, want) {
		t.Errorf("lines = %v, want %v", got, want)
	}
	if got := prod.Batches()[0].FirstLine; got != 3 {
		t.Errorf("FirstLine = %d, want 3", got)
	}
}

func TestTailer_NegativeOffsetStartsAtZero(t *testing.T) {
	tl := NewTailer("/var/log/app.log", -1, TailerConfig{})
	if got := tl.Offset(); got != 0 {
		t.Errorf("Offset() = %d, want 0", got)
	}
}

func TestTailer_PartialLineWaits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, "done\nhalf")

	prod := &mockProducer{}
	tl := startTailer(t, path, 0, TailerConfig{Producer: prod, Store: newMemStore()})
	tl.WakeUp()
	waitFor(t, "offset 1", func() bool { return tl.Offset() == 1 })

	appendFile(t, path, "way\n")
	tl.WakeUp()
	waitFor(t, "offset 2", func() bool { return tl.Offset() == 2 })

	if got, want := prod.Lines(), []string{"done", "halfway"}; !reflect.DeepEqual(got, want) {
		t.Errorf("lines = %v, want %v", got, want)
	}
}

func TestTailer_PublishFailureRetries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, "a\nb\n")

	prod := &mockProducer{fail: 1}
	store := newMemStore()
	tl := startTailer(t, path, 0, TailerConfig{Producer: prod, Store: store})

	tl.WakeUp()
	waitFor(t, "failed publish", func() bool {
		prod.mu.Lock()
		defer prod.mu.Unlock()
		return prod.fail == 0
	})
	if got := tl.Offset(); got != 0 {
		t.Fatalf("Offset() after failure = %d, want 0", got)
	}
	if _, ok := store.offset(path); ok {
		t.Fatal("offset persisted after failed publish")
	}

	tl.WakeUp()
	waitFor(t, "offset 2", func() bool { return tl.Offset() == 2 })
	if got, want := prod.Lines(), []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("lines = %v, want %v", got, want)
	}
}

func TestTailer_TruncatedFileRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, "x\ny\n")

	prod := &mockProducer{}
	store := newMemStore()
	tl := startTailer(t, path, 10, TailerConfig{Producer: prod, Store: store})
	tl.WakeUp()

	waitFor(t, "re-read after truncation", func() bool { return len(prod.Lines()) == 2 })
	if got := tl.Offset(); got != 2 {
		t.Errorf("Offset() = %d, want 2", got)
	}
	if got, want := prod.Lines(), []string{"x", "y"}; !reflect.DeepEqual(got, want) {
		t.Errorf("lines = %v, want %v", got, want)
	}
}

func TestTailer_MissingFileKeepsRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone.log")

	prod := &mockProducer{}
	tl := startTailer(t, path, 0, TailerConfig{Producer: prod, Store: newMemStore()})
	tl.WakeUp()

	writeFile(t, path, "late\n")
	tl.WakeUp()
	waitFor(t, "offset 1", func() bool { return tl.Offset() == 1 })

	if tl.State() != StateRunning {
		t.Errorf("State() = %v, want Running", tl.State())
	}
}

func TestTailer_Lifecycle(t *testing.T) {
	t.Run("stop before start", func(t *testing.T) {
		tl := NewTailer("/tmp/none.log", 0, TailerConfig{})
		tl.Stop()
		waitDone(t, tl.Done())
		if err := tl.Start(context.Background()); !errors.Is(err, domain.ErrAlreadyStopped) {
			t.Errorf("Start() error = %v, want ErrAlreadyStopped", err)
		}
	})

	t.Run("double start", func(t *testing.T) {
		tl := NewTailer("/tmp/none.log", 0, TailerConfig{})
		if err := tl.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		defer func() { tl.Stop(); <-tl.Done() }()
		if err := tl.Start(context.Background()); !errors.Is(err, domain.ErrAlreadyRunning) {
			t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
		}
	})

	t.Run("stop while idle", func(t *testing.T) {
		tl := NewTailer("/tmp/none.log", 0, TailerConfig{})
		if err := tl.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		tl.Stop()
		waitDone(t, tl.Done())
		if tl.State() != StateStopped {
			t.Errorf("State() = %v, want Stopped", tl.State())
		}
	})

	t.Run("context cancel", func(t *testing.T) {
		tl := NewTailer("/tmp/none.log", 0, TailerConfig{})
		ctx, cancel := context.WithCancel(context.Background())
		if err := tl.Start(ctx); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		cancel()
		waitDone(t, tl.Done())
	})
}

func TestTailer_StopDuringPassFinishesPass(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, "l0\nl1\nl2\nl3\n")

	prod := newBlockingProducer()
	store := newMemStore()
	tl := NewTailer(path, 0, TailerConfig{Producer: prod, Store: store, ChunkSize: 2})
	if err := tl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	tl.WakeUp()

	waitDone(t, prod.entered) // first chunk is being published
	tl.Stop()

	select {
	case <-tl.Done():
		t.Fatal("loop exited while a publish was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(prod.release)
	waitDone(t, tl.Done())

	if got, want := prod.Lines(), []string{"l0", "l1", "l2", "l3"}; !reflect.DeepEqual(got, want) {
		t.Errorf("lines = %v, want the whole pass %v", got, want)
	}
	if tl.Offset() != 4 {
		t.Errorf("Offset() = %d, want 4", tl.Offset())
	}
	if off, _ := store.offset(path); off != 4 {
		t.Errorf("stored offset = %d, want 4", off)
	}
	if tl.State() != StateStopped {
		t.Errorf("State() = %v, want Stopped", tl.State())
	}
}

func TestTailer_WakeDuringPassRunsAnotherPass(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, "a\n")

	prod := newBlockingProducer()
	tl := startTailer(t, path, 0, TailerConfig{Producer: prod, Store: newMemStore()})
	tl.WakeUp()

	// The first pass has hit end of file and is publishing "a".
	waitDone(t, prod.entered)
	appendFile(t, path, "b\n")
	tl.WakeUp()
	close(prod.release)

	waitFor(t, "second pass", func() bool { return tl.Offset() == 2 })

	if got, want := prod.Lines(), []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("lines = %v, want %v", got, want)
	}
	if n := prod.Calls(); n != 2 {
		t.Errorf("publish calls = %d, want one per pass", n)
	}
}
