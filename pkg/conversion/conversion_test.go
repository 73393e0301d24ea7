package conversion

import (
	"bytes"
	"math"
	"sync"
	"testing"

	"github.com/ericogr/luxmeter/pkg/logger"
	"github.com/ericogr/luxmeter/pkg/solver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConverter() *Converter {
	return NewConverter(DeviceScale(3.3, 1000), logger.Discard())
}

func TestDeviceScale(t *testing.T) {
	assert.InDelta(t, 0.0033, DeviceScale(3.3, 1000), 1e-15)
	assert.Equal(t, 0.0, DeviceScale(3.3, 0))
}

func TestModelGuardsNonPositiveEstimates(t *testing.T) {
	f, fp := model(0.0001, 1.05, 0.33)
	for _, e := range []float64{0, -1e-9, -1, -1e6} {
		assert.Equal(t, Sentinel, f(e), "f(%v)", e)
		assert.Equal(t, Sentinel, fp(e), "f'(%v)", e)
	}
	assert.InDelta(t, 0.0001-0.33, f(1), 1e-12)
	assert.InDelta(t, 0.0001*1.05, fp(1), 1e-12)
}

func TestConvertKnownReadings(t *testing.T) {
	c := newTestConverter()
	p := DefaultParams()

	prev := 0.0
	for _, raw := range []float64{100, 200, 300} {
		res := c.Convert(raw, p)
		require.False(t, res.Substituted, "raw=%v", raw)
		assert.Equal(t, solver.Converged, res.Outcome)
		assert.False(t, math.IsNaN(res.Value) || math.IsInf(res.Value, 0))
		assert.Greater(t, res.Value, prev, "monotonic in raw")

		want := math.Pow(res.Measured/p.ModelA, 1/p.ModelB)
		assert.InEpsilon(t, want, res.Value, 1e-6)
		assert.Equal(t, p.InitialGuess, res.Trace[0])
		assert.Equal(t, res.Value, res.Trace[len(res.Trace)-1])
		prev = res.Value
	}
}

func TestConvertRepairsNonPositiveGuess(t *testing.T) {
	c := newTestConverter()
	for _, g := range []float64{0, -3} {
		p := DefaultParams()
		p.InitialGuess = g
		res := c.Convert(100, p)
		assert.True(t, res.GuessRepaired)
		assert.Equal(t, 1.0, res.Trace[0])
		assert.False(t, res.Substituted)
	}
}

func TestConvertSubstitutesNegativeRoot(t *testing.T) {
	// A negative reading drives the first Newton step below zero, where the
	// guarded model keeps walking away from the physical domain.
	res := newTestConverter().Convert(-100, DefaultParams())
	assert.True(t, res.Substituted)
	assert.Equal(t, 0.0, res.Value)
	assert.Less(t, res.Trace[len(res.Trace)-1], 0.0)
}

func TestConvertSubstitutesNaN(t *testing.T) {
	p := DefaultParams()
	p.ModelA = math.NaN()
	res := newTestConverter().Convert(100, p)
	assert.True(t, res.Substituted)
	assert.Equal(t, 0.0, res.Value)
}

func TestConvertLogsSubstitutionAtWarn(t *testing.T) {
	var buf bytes.Buffer
	c := NewConverter(DeviceScale(3.3, 1000), logger.New("warn", "json", &buf))

	c.Convert(100, DefaultParams())
	assert.Empty(t, buf.String())

	c.Convert(-100, DefaultParams())
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), "invalid solution replaced")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
		sub  bool
	}{
		{1.5, 1.5, false},
		{0, 0, false},
		{-0.1, 0, true},
		{math.NaN(), 0, true},
		{math.Inf(1), 0, true},
		{math.Inf(-1), 0, true},
	}
	for _, tt := range tests {
		got, sub := validate(tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.sub, sub)
	}
}

func TestStore(t *testing.T) {
	s := NewStore(DefaultParams())
	got := s.Update(func(p *Params) { p.ModelB = 2 })
	assert.Equal(t, 2.0, got.ModelB)
	assert.Equal(t, 2.0, s.Get().ModelB)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.Set(Params{ModelA: float64(i), ModelB: 1, InitialGuess: 1, Tolerance: 1e-6, MaxIterations: 5})
		}(i)
		go func() {
			defer wg.Done()
			_ = s.Get()
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, s.Get().MaxIterations)
}
