package app

import (
	"context"
	"errors"
	"sync"

	"github.com/bft-labs/logship/internal/domain"
)

// mockIndexer records indexed entries and can fail a number of calls.
type mockIndexer struct {
	mu      sync.Mutex
	entries []domain.LogEntry
	fail    int
	calls   int
}

func (m *mockIndexer) Index(_ context.Context, e domain.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.fail > 0 {
		m.fail--
		return errors.New("index unavailable")
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockIndexer) Entries() []domain.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.LogEntry(nil), m.entries...)
}

func (m *mockIndexer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type staticResolver struct {
	en domain.Enrichment
}

func (r staticResolver) Resolve(context.Context, string) domain.Enrichment {
	return r.en
}

// recordingProducer keeps published lines in order.
type recordingProducer struct {
	mu    sync.Mutex
	lines []string
}

func (p *recordingProducer) Publish(_ context.Context, b domain.Batch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lines = append(p.lines, b.Lines...)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func (p *recordingProducer) Lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.lines...)
}
