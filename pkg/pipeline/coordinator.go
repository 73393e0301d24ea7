// Package pipeline drains ingested samples once per refresh tick, converts
// them and fans the results out to the buffers, the presentation layer and
// the persistence dispatcher.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/ericogr/luxmeter/pkg/conversion"
	"github.com/ericogr/luxmeter/pkg/logger"
	"github.com/ericogr/luxmeter/pkg/metrics"
	"github.com/ericogr/luxmeter/pkg/output"
	"github.com/ericogr/luxmeter/pkg/series"
	"github.com/ericogr/luxmeter/pkg/solver"
)

// ConversionCompleted is emitted once per converted sample.
type ConversionCompleted struct {
	Raw         series.Sample
	Value       float64
	Trace       []float64
	Outcome     solver.Outcome
	Substituted bool
}

type Options struct {
	Capacity    int
	EventBuffer int
	Log         *slog.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Coordinator owns all buffer mutation. Tick is not safe for concurrent
// use; buffer readers may run concurrently.
type Coordinator struct {
	raw     *series.Buffer
	derived *series.Buffer

	params   *conversion.Store
	conv     *conversion.Converter
	samples  <-chan series.Sample
	events   chan ConversionCompleted
	dispatch output.Dispatcher

	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewCoordinator wires the tick stage. A nil dispatcher disables persistence.
func NewCoordinator(samples <-chan series.Sample, params *conversion.Store, conv *conversion.Converter, d output.Dispatcher, opts Options) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	return &Coordinator{
		raw:      series.NewBuffer(opts.Capacity),
		derived:  series.NewBuffer(opts.Capacity),
		params:   params,
		conv:     conv,
		samples:  samples,
		events:   make(chan ConversionCompleted, opts.EventBuffer),
		dispatch: d,
		log:      logger.OrDefault(opts.Log).With("component", "pipeline"),
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
}

func (c *Coordinator) Raw() *series.Buffer     { return c.raw }
func (c *Coordinator) Derived() *series.Buffer { return c.derived }

// Events is drained by the presentation layer.
func (c *Coordinator) Events() <-chan ConversionCompleted { return c.events }

// Tick processes every sample currently queued, in arrival order, and
// returns how many were processed. It never blocks.
func (c *Coordinator) Tick() int {
	n := 0
	defer func() {
		if n > 0 {
			c.metrics.SetBufferLength("raw", c.raw.Len())
			c.metrics.SetBufferLength("derived", c.derived.Len())
		}
	}()
	for {
		select {
		case s, ok := <-c.samples:
			if !ok {
				c.log.Info("sample channel closed")
				c.samples = nil
				return n
			}
			c.process(s)
			n++
		default:
			return n
		}
	}
}

func (c *Coordinator) process(s series.Sample) {
	c.raw.Append(s)

	res := c.conv.Convert(s.Y, c.params.Get())
	c.derived.Append(series.Sample{X: s.X, Y: res.Value})
	c.metrics.Conversion(res.Outcome.String(), res.Substituted, res.GuessRepaired)
	c.log.Debug("sample converted",
		"raw", s.Y,
		"value", res.Value,
		"outcome", res.Outcome.String(),
		"iterations", len(res.Trace)-1)

	ev := ConversionCompleted{Raw: s, Value: res.Value, Trace: res.Trace, Outcome: res.Outcome, Substituted: res.Substituted}
	select {
	case c.events <- ev:
	default:
		c.log.Warn("conversion event dropped", "raw", s.Y)
		c.metrics.EventDropped()
	}

	if c.dispatch != nil {
		at := c.now()
		c.dispatch.Dispatch(output.Request{Kind: output.KindRaw, Value: s.Y, At: at})
		c.dispatch.Dispatch(output.Request{Kind: output.KindDerived, Value: res.Value, Trace: res.Trace, At: at})
	}
}

// SetCapacity resizes both buffers. Shrinking evicts the oldest samples.
func (c *Coordinator) SetCapacity(n int) {
	er := c.raw.SetCapacity(n)
	ed := c.derived.SetCapacity(n)
	c.log.Info("buffer capacity changed", "capacity", n, "evicted_raw", er, "evicted_derived", ed)
	c.metrics.SetBufferLength("raw", c.raw.Len())
	c.metrics.SetBufferLength("derived", c.derived.Len())
}

// ClearAll empties both buffers and keeps their capacity.
func (c *Coordinator) ClearAll() {
	c.raw.Clear()
	c.derived.Clear()
	c.log.Info("buffers cleared")
	c.metrics.SetBufferLength("raw", 0)
	c.metrics.SetBufferLength("derived", 0)
}

// Run ticks every interval until ctx is done. after, when set, runs right
// after each tick on the same goroutine, which is where the presentation
// layer refreshes.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration, after func(processed int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := c.Tick()
			if after != nil {
				after(n)
			}
		}
	}
}
