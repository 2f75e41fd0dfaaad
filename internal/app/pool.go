package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/internal/metrics"
	"github.com/bft-labs/logship/internal/parser"
	"github.com/bft-labs/logship/internal/ports"
	"github.com/bft-labs/logship/pkg/log"
)

// DefaultWorkers is the number of consumer goroutines.
const DefaultWorkers = 50

// PoolConfig configures the consumer pool.
type PoolConfig struct {
	Workers        int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Pool runs a fixed number of workers that take lines off the queue, parse
// and enrich them, and store the result in the search index.
type Pool struct {
	cfg      PoolConfig
	consumer ports.Consumer
	indexer  ports.Indexer
	resolver ports.Resolver
	metrics  *metrics.Metrics
	logger   log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

// NewPool creates a pool. resolver may be nil to skip enrichment.
func NewPool(cfg PoolConfig, consumer ports.Consumer, indexer ports.Indexer, resolver ports.Resolver, m *metrics.Metrics, logger log.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Pool{
		cfg:      cfg,
		consumer: consumer,
		indexer:  indexer,
		resolver: resolver,
		metrics:  m,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the workers. They run until Stop or ctx cancellation.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	go func() {
		p.wg.Wait()
		close(p.done)
	}()

	p.logger.Info("consumer pool started", log.Int("workers", p.cfg.Workers))
}

// Stop asks every worker to finish its current message and exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		p.cancel = func() {}
		close(p.done)
		return
	}
	p.cancel()
}

// Done is closed once all workers have exited.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	logger := p.logger.With(log.Int("worker", id))
	retry := newBackoff(p.cfg.BackoffInitial, p.cfg.BackoffMax)
	reconnect := newBackoff(p.cfg.BackoffInitial, p.cfg.BackoffMax)

	handle := func(ctx context.Context, msg domain.Message) error {
		err := p.process(ctx, logger, msg)
		if err == nil {
			retry.Reset()
			return nil
		}
		// Delay the redelivery so a failing index is not hammered.
		_ = retry.Wait(ctx)
		return err
	}

	for {
		err := p.consumer.Consume(ctx, handle)
		if ctx.Err() != nil {
			return
		}
		logger.Error("consumer stopped, reconnecting", log.Err(err))
		if reconnect.Wait(ctx) != nil {
			return
		}
	}
}

// process parses, enriches and indexes one message. Malformed lines are
// dropped and reported as handled.
func (p *Pool) process(ctx context.Context, logger log.Logger, msg domain.Message) error {
	entry, err := parser.ParseMessage(msg)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedLine) {
			p.metrics.ObserveParseError()
			logger.Warn("dropping unparsable line",
				log.String("source", msg.Source),
				log.Int64("line", msg.Line),
				log.Err(err),
			)
			return nil
		}
		return err
	}

	if p.resolver != nil {
		entry.Apply(p.resolver.Resolve(ctx, entry.RemoteIP))
	}

	err = p.indexer.Index(ctx, entry)
	p.metrics.ObserveIndex(err)
	if err != nil {
		logger.Error("failed to index record, requeueing",
			log.String("source", msg.Source),
			log.Int64("line", msg.Line),
			log.Err(err),
		)
		return err
	}
	return nil
}
