package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ericogr/luxmeter/pkg/logger"
	"github.com/ericogr/luxmeter/pkg/metrics"
	"github.com/ericogr/luxmeter/pkg/sensor"
	"github.com/ericogr/luxmeter/pkg/series"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type step struct {
	data string
	err  error
}

// scriptedPort serves queued steps and times out when none is queued.
type scriptedPort struct {
	steps  chan step
	mu     sync.Mutex
	closed bool
}

func newScriptedPort(steps ...step) *scriptedPort {
	p := &scriptedPort{steps: make(chan step, 64)}
	for _, s := range steps {
		p.steps <- s
	}
	return p
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	select {
	case s := <-p.steps:
		return copy(b, s.data), s.err
	case <-time.After(2 * time.Millisecond):
		return 0, sensor.ErrTimeout
	}
}

func (p *scriptedPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *scriptedPort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func drainStatus(ch <-chan StatusChanged) []StatusChanged {
	var out []StatusChanged
	for {
		select {
		case s := <-ch:
			out = append(out, s)
		default:
			return out
		}
	}
}

func TestWorkerLineProtocol(t *testing.T) {
	port := newScriptedPort(
		step{data: "12.5\r\n"},
		step{data: "abc\n"},
		step{data: "7"},
		step{data: "\n"},
	)
	samples := make(chan series.Sample, 8)
	status := make(chan StatusChanged, 64)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	w := NewWorker(func() (sensor.Port, error) { return port, nil }, samples, status, Options{
		Address:      "/dev/ttyTEST",
		BaudRate:     9600,
		PollInterval: time.Millisecond,
		Log:          logger.Discard(),
		Metrics:      m,
	})

	done := make(chan State, 1)
	go func() { done <- w.Run(context.Background()) }()

	var got []float64
	for len(got) < 2 {
		select {
		case s := <-samples:
			got = append(got, s.Y)
			assert.GreaterOrEqual(t, s.X, 0.0)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for samples, got %v", got)
		}
	}
	assert.Equal(t, []float64{12.5, 7}, got)
	assert.Equal(t, Connected, w.State())

	port.steps <- step{err: errors.New("device unplugged")}
	select {
	case st := <-done:
		assert.Equal(t, Disconnected, st)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after read error")
	}
	assert.Equal(t, Disconnected, w.State())
	assert.True(t, port.isClosed())
	assert.Empty(t, samples)

	var parseErrors int
	statuses := drainStatus(status)
	for _, s := range statuses {
		if strings.HasPrefix(s.Text, "parse error") {
			parseErrors++
			assert.Contains(t, s.Text, "abc")
		}
	}
	assert.Equal(t, 1, parseErrors)
	assert.Equal(t, "connecting to /dev/ttyTEST", statuses[0].Text)
	assert.Equal(t, "connected to /dev/ttyTEST (9600 bps)", statuses[1].Text)
	last := statuses[len(statuses)-1]
	assert.Equal(t, Disconnected, last.State)
	assert.Contains(t, last.Text, "device unplugged")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SamplesIngested))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParseErrors))
	assert.Equal(t, float64(Disconnected), testutil.ToFloat64(m.WorkerState))
}

func TestWorkerOpenFailure(t *testing.T) {
	status := make(chan StatusChanged, 8)
	w := NewWorker(func() (sensor.Port, error) { return nil, errors.New("no such device") },
		make(chan series.Sample, 1), status, Options{Address: "/dev/ttyMISSING", Log: logger.Discard()})

	assert.Equal(t, Failed, w.Run(context.Background()))
	assert.Equal(t, Failed, w.State())
	assert.True(t, w.State().Terminal())

	statuses := drainStatus(status)
	require.Len(t, statuses, 2)
	assert.Contains(t, statuses[1].Text, "/dev/ttyMISSING")
	assert.Contains(t, statuses[1].Text, "no such device")
	assert.Equal(t, Failed, statuses[1].State)
}

func TestWorkerMultipleLinesPerRead(t *testing.T) {
	port := newScriptedPort(step{data: "1\n2\n3"}, step{data: "\n\n-4.5e1\n"})
	samples := make(chan series.Sample, 8)
	w := NewWorker(func() (sensor.Port, error) { return port, nil }, samples, nil, Options{Log: logger.Discard()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan State, 1)
	go func() { done <- w.Run(ctx) }()

	var got []float64
	for len(got) < 4 {
		select {
		case s := <-samples:
			got = append(got, s.Y)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.Equal(t, []float64{1, 2, 3, -45}, got)

	cancel()
	select {
	case st := <-done:
		assert.Equal(t, Disconnected, st)
	case <-time.After(2 * time.Second):
		t.Fatal("worker ignored cancellation")
	}
}

func TestWorkerStopsWhenReceiverGone(t *testing.T) {
	// unbuffered and never read: the send can only end through ctx
	port := newScriptedPort(step{data: "5\n"})
	samples := make(chan series.Sample)
	w := NewWorker(func() (sensor.Port, error) { return port, nil }, samples, nil, Options{Log: logger.Discard()})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Equal(t, Disconnected, w.Run(ctx))
}

func TestWorkerDiscardsOverlongLine(t *testing.T) {
	long := strings.Repeat("9", MaxLineLength+1)
	samples := make(chan series.Sample, 4)
	status := make(chan StatusChanged, 16)
	ctx := context.Background()

	w := NewWorker(nil, samples, status, Options{Log: logger.Discard()})
	require.True(t, w.consume(ctx, []byte(long)))
	assert.Empty(t, w.line)

	// the rest of the overlong line is dropped, not parsed
	require.True(t, w.consume(ctx, []byte("999")))
	require.True(t, w.consume(ctx, []byte("123\n8")))
	assert.Empty(t, samples)
	require.True(t, w.consume(ctx, []byte("\n")))

	require.Len(t, samples, 1)
	s := <-samples
	assert.Equal(t, 8.0, s.Y)
	found := false
	for _, st := range drainStatus(status) {
		if strings.HasPrefix(st.Text, "line too long") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"12.5", 12.5, true},
		{"-3", -3, true},
		{"+0.25", 0.25, true},
		{"1e3", 1000, true},
		{"abc", 0, false},
		{"NaN", 0, false},
		{"inf", 0, false},
		{"-Infinity", 0, false},
		{"0x1p4", 0, false},
		{"1_000", 0, false},
		{"1.2.3", 0, false},
	}
	for _, tt := range tests {
		got, err := parseValue(tt.in)
		if tt.ok {
			require.NoError(t, err, tt.in)
			assert.Equal(t, tt.want, got, tt.in)
		} else {
			assert.Error(t, err, tt.in)
		}
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.False(t, Connected.Terminal())
}
