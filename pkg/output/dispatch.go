package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ericogr/luxmeter/pkg/logger"
	"github.com/ericogr/luxmeter/pkg/metrics"
)

// ErrQueueClosed is returned by Dispatch after Wait has been called.
var ErrQueueClosed = errors.New("dispatch queue closed")

// Request is one persistence write.
type Request struct {
	Kind  Kind
	Value float64
	Trace []float64
	At    time.Time
}

// Apply performs the write against s.
func (r Request) Apply(ctx context.Context, s Sink) error {
	switch r.Kind {
	case KindRaw:
		return s.InsertRaw(ctx, r.Value, r.At)
	case KindDerived:
		return s.InsertDerived(ctx, r.Value, r.Trace, r.At)
	default:
		return fmt.Errorf("unknown record kind %q", r.Kind)
	}
}

// Dispatcher runs persistence writes off the caller's goroutine. Dispatch
// never blocks on I/O. Wait blocks until every accepted request finished.
type Dispatcher interface {
	Dispatch(req Request)
	Wait()
}

// Detached starts one goroutine per request with a single attempt.
type Detached struct {
	sink    Sink
	log     *slog.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

func NewDetached(sink Sink, log *slog.Logger, m *metrics.Metrics) *Detached {
	return &Detached{sink: sink, log: logger.OrDefault(log).With("component", "persist"), metrics: m}
}

func (d *Detached) Dispatch(req Request) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		report(d.log, d.metrics, req, req.Apply(context.Background(), d.sink))
	}()
}

func (d *Detached) Wait() { d.wg.Wait() }

type QueueOptions struct {
	Size    int
	Workers int
	Retry   Backoff
}

// Queued feeds a bounded queue drained by a fixed set of workers that retry
// failed writes with exponential backoff. Requests arriving while the queue
// is full are dropped.
type Queued struct {
	sink    Sink
	log     *slog.Logger
	metrics *metrics.Metrics
	retry   Backoff

	mu     sync.RWMutex
	closed bool
	queue  chan Request
	wg     sync.WaitGroup
}

func NewQueued(sink Sink, opts QueueOptions, log *slog.Logger, m *metrics.Metrics) *Queued {
	if opts.Size <= 0 {
		opts.Size = 1
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	q := &Queued{
		sink:    sink,
		log:     logger.OrDefault(log).With("component", "persist"),
		metrics: m,
		retry:   opts.Retry,
		queue:   make(chan Request, opts.Size),
	}
	for i := 0; i < opts.Workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	return q
}

func (q *Queued) Dispatch(req Request) {
	if err := q.TryDispatch(req); err != nil {
		q.log.Warn("persistence request dropped", "kind", req.Kind, "error", err)
		q.metrics.PersistDrop(string(req.Kind))
	}
}

// TryDispatch enqueues req without blocking.
func (q *Queued) TryDispatch(req Request) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.queue <- req:
		return nil
	default:
		return fmt.Errorf("queue full (%d)", cap(q.queue))
	}
}

// Wait stops accepting requests and drains the queue.
func (q *Queued) Wait() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.queue)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queued) work() {
	defer q.wg.Done()
	for req := range q.queue {
		err := Retry(context.Background(), q.retry, func() error {
			return req.Apply(context.Background(), q.sink)
		})
		report(q.log, q.metrics, req, err)
	}
}

func report(log *slog.Logger, m *metrics.Metrics, req Request, err error) {
	if err != nil {
		log.Error("persistence write failed", "kind", req.Kind, "value", req.Value, "error", err)
		m.PersistFailure(string(req.Kind))
		return
	}
	m.PersistWrite(string(req.Kind))
}
