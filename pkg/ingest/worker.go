// Package ingest reads newline-delimited samples from a device port and
// forwards them to the pipeline.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ericogr/luxmeter/pkg/logger"
	"github.com/ericogr/luxmeter/pkg/metrics"
	"github.com/ericogr/luxmeter/pkg/sensor"
	"github.com/ericogr/luxmeter/pkg/series"
)

// MaxLineLength bounds the unterminated line buffer.
const MaxLineLength = 4096

type State int32

const (
	Connecting State = iota
	Connected
	Disconnected
	Failed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the worker has stopped in this state.
func (s State) Terminal() bool {
	return s == Disconnected || s == Failed
}

// StatusChanged is a human readable status update for the presentation layer.
type StatusChanged struct {
	Text  string
	State State
	At    time.Time
}

// Opener opens the device port.
type Opener func() (sensor.Port, error)

type Options struct {
	// Address and BaudRate only appear in status messages.
	Address      string
	BaudRate     int
	PollInterval time.Duration
	// Start is the reference for sample X values. Defaults to Now().
	Start   time.Time
	Now     func() time.Time
	Log     *slog.Logger
	Metrics *metrics.Metrics
}

// Worker owns the device connection. It never touches the series buffers;
// samples leave only through the samples channel.
type Worker struct {
	open    Opener
	samples chan<- series.Sample
	status  chan<- StatusChanged
	opts    Options
	log     *slog.Logger

	state atomic.Int32
	line  []byte
	// discarding drops input up to the next newline after an overlong line.
	discarding bool
}

func NewWorker(open Opener, samples chan<- series.Sample, status chan<- StatusChanged, opts Options) *Worker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Start.IsZero() {
		opts.Start = opts.Now()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	w := &Worker{
		open:    open,
		samples: samples,
		status:  status,
		opts:    opts,
		log:     logger.OrDefault(opts.Log).With("component", "ingest", "address", opts.Address),
	}
	w.state.Store(int32(Connecting))
	return w
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

// Run drives the state machine until a terminal state is reached or ctx is
// cancelled, and returns the final state. There is no reconnect: a new
// Worker is needed to recover.
func (w *Worker) Run(ctx context.Context) State {
	w.transition(Connecting, fmt.Sprintf("connecting to %s", w.opts.Address))

	port, err := w.open()
	if err != nil {
		w.log.Error("open failed", "error", err)
		w.transition(Failed, fmt.Sprintf("failed to open %s: %v", w.opts.Address, err))
		return Failed
	}
	defer port.Close()

	w.transition(Connected, fmt.Sprintf("connected to %s (%d bps)", w.opts.Address, w.opts.BaudRate))

	buf := make([]byte, 256)
	for {
		if ctx.Err() != nil {
			w.transition(Disconnected, "stopped")
			return Disconnected
		}
		n, err := port.Read(buf)
		if n > 0 {
			if !w.consume(ctx, buf[:n]) {
				w.transition(Disconnected, "stopped")
				return Disconnected
			}
		}
		if sensor.IsTimeout(n, err) {
			if !w.idle(ctx) {
				w.transition(Disconnected, "stopped")
				return Disconnected
			}
			continue
		}
		if err != nil {
			w.log.Error("read failed", "error", err)
			w.transition(Disconnected, fmt.Sprintf("read error: %v", err))
			return Disconnected
		}
	}
}

func (w *Worker) idle(ctx context.Context) bool {
	t := time.NewTimer(w.opts.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// consume appends data to the line buffer and handles every complete line.
// It returns false when the worker must stop.
func (w *Worker) consume(ctx context.Context, data []byte) bool {
	if w.discarding {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return true
		}
		w.discarding = false
		data = data[i+1:]
	}
	w.line = append(w.line, data...)
	start := 0
	for {
		i := bytes.IndexByte(w.line[start:], '\n')
		if i < 0 {
			break
		}
		text := strings.TrimSpace(string(w.line[start : start+i]))
		start += i + 1
		if text == "" {
			continue
		}
		if !w.handleLine(ctx, text) {
			return false
		}
	}
	n := copy(w.line, w.line[start:])
	w.line = w.line[:n]

	if len(w.line) > MaxLineLength {
		w.log.Warn("discarding unterminated line", "bytes", len(w.line))
		w.opts.Metrics.ParseError()
		w.emit(fmt.Sprintf("line too long (%d bytes), discarded", len(w.line)))
		w.line = w.line[:0]
		w.discarding = true
	}
	return true
}

func (w *Worker) handleLine(ctx context.Context, text string) bool {
	v, err := parseValue(text)
	if err != nil {
		w.log.Warn("parse error", "line", text, "error", err)
		w.opts.Metrics.ParseError()
		w.emit(fmt.Sprintf("parse error: '%s'", text))
		return true
	}

	s := series.Sample{X: w.opts.Now().Sub(w.opts.Start).Seconds(), Y: v}
	// no zero-fill on a failed send: the worker stops instead
	select {
	case w.samples <- s:
	case <-ctx.Done():
		return false
	}
	w.opts.Metrics.SampleIngested()
	w.emit(fmt.Sprintf("received %s", text))
	return true
}

// parseValue accepts a base-10 decimal with optional sign and exponent.
func parseValue(text string) (float64, error) {
	if strings.ContainsAny(text, "xX_") {
		return 0, fmt.Errorf("not a decimal number")
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value")
	}
	return v, nil
}

func (w *Worker) transition(s State, text string) {
	w.state.Store(int32(s))
	w.opts.Metrics.SetWorkerState(int(s))
	w.log.Info("state changed", "state", s.String(), "status", text)
	w.emit(text)
}

// emit never blocks. Updates are dropped while the status channel is full.
func (w *Worker) emit(text string) {
	st := StatusChanged{Text: text, State: w.State(), At: w.opts.Now()}
	select {
	case w.status <- st:
	default:
		w.log.Debug("status dropped", "status", text)
	}
}
