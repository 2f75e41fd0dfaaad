package watch

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/logship/internal/domain"
)

// mockProducer records published batches and can be told to fail.
type mockProducer struct {
	mu      sync.Mutex
	batches []domain.Batch
	fail    int // number of upcoming calls to reject
}

func (p *mockProducer) Publish(_ context.Context, b domain.Batch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail > 0 {
		p.fail--
		return errors.New("queue unavailable")
	}
	lines := make([]string, len(b.Lines))
	copy(lines, b.Lines)
	b.Lines = lines
	p.batches = append(p.batches, b)
	return nil
}

func (p *mockProducer) Close() error { return nil }

func (p *mockProducer) Batches() []domain.Batch {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Batch, len(p.batches))
	copy(out, p.batches)
	return out
}

func (p *mockProducer) Lines() []string {
	var out []string
	for _, b := range p.Batches() {
		out = append(out, b.Lines...)
	}
	return out
}

// memStore is an in-memory OffsetStore.
type memStore struct {
	mu      sync.Mutex
	dirs    []string
	offsets map[string]int64
}

func newMemStore() *memStore {
	return &memStore{offsets: make(map[string]int64)}
}

func (s *memStore) ListWatchedDirectories() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dirs...), nil
}

func (s *memStore) AddDirectoryIfAbsent(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.dirs {
		if d == dir {
			return nil
		}
	}
	s.dirs = append(s.dirs, dir)
	return nil
}

func (s *memStore) RemoveDirectory(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.dirs {
		if d == dir {
			s.dirs = append(s.dirs[:i], s.dirs[i+1:]...)
			break
		}
	}
	return nil
}

func (s *memStore) ListTailerOffsets() ([]domain.OffsetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OffsetRecord
	for p, o := range s.offsets {
		out = append(out, domain.OffsetRecord{Path: p, Offset: o})
	}
	return out, nil
}

func (s *memStore) UpdateTailerOffset(path string, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[path] = offset
	return nil
}

func (s *memStore) offset(path string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offsets[path]
	return o, ok
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not exit")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("append %s: %v", path, err)
	}
}

// blockingProducer holds every Publish until release is closed. entered
// receives a signal when a Publish call starts waiting.
type blockingProducer struct {
	mockProducer
	entered chan struct{}
	release chan struct{}
	calls   int
}

func newBlockingProducer() *blockingProducer {
	return &blockingProducer{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (p *blockingProducer) Publish(ctx context.Context, b domain.Batch) error {
	select {
	case p.entered <- struct{}{}:
	default:
	}
	<-p.release
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.mockProducer.Publish(ctx, b)
}

func (p *blockingProducer) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
