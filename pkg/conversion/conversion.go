// Package conversion maps raw device readings to physical units by
// inverting the power-law calibration model measured = A * e^B.
package conversion

import (
	"log/slog"
	"math"
	"sync"

	"github.com/ericogr/luxmeter/pkg/logger"
	"github.com/ericogr/luxmeter/pkg/solver"
)

// Sentinel is returned by the model functions for non-positive estimates.
const Sentinel = math.MaxFloat64

// Params holds the calibration model and solver settings.
type Params struct {
	ModelA        float64 `json:"model_a"`
	ModelB        float64 `json:"model_b"`
	InitialGuess  float64 `json:"initial_guess"`
	Tolerance     float64 `json:"tolerance"`
	MaxIterations int     `json:"max_iterations"`
}

func DefaultParams() Params {
	return Params{
		ModelA:        0.0001,
		ModelB:        1.05,
		InitialGuess:  1.0,
		Tolerance:     1e-6,
		MaxIterations: 20,
	}
}

// Store guards Params shared between a configuration writer and the
// conversion reader.
type Store struct {
	mu sync.RWMutex
	p  Params
}

func NewStore(p Params) *Store {
	return &Store{p: p}
}

func (s *Store) Get() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p
}

func (s *Store) Set(p Params) {
	s.mu.Lock()
	s.p = p
	s.mu.Unlock()
}

// Update applies fn to the current params under the write lock.
func (s *Store) Update(fn func(*Params)) Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.p)
	return s.p
}

// Result is one converted sample.
type Result struct {
	Value    float64
	Measured float64
	// Trace holds the solver estimates indexed by iteration.
	Trace         []float64
	Outcome       solver.Outcome
	GuessRepaired bool
	Substituted   bool
}

// Converter rescales raw readings and solves the calibration model.
type Converter struct {
	scale float64
	log   *slog.Logger
}

// NewConverter returns a converter that multiplies raw readings by scale
// before solving (for example 3.3/1000 volts per count).
func NewConverter(scale float64, log *slog.Logger) *Converter {
	return &Converter{scale: scale, log: logger.OrDefault(log)}
}

// DeviceScale returns fullScaleVolts/fullScaleCounts, or 0 when counts is 0.
func DeviceScale(fullScaleVolts, fullScaleCounts float64) float64 {
	if fullScaleCounts == 0 {
		return 0
	}
	return fullScaleVolts / fullScaleCounts
}

func (c *Converter) Scale() float64 { return c.scale }

// Convert never fails: degenerate or invalid solutions become 0.0 and the
// Result records it.
func (c *Converter) Convert(raw float64, p Params) Result {
	measured := raw * c.scale
	f, fp := model(p.ModelA, p.ModelB, measured)

	res := Result{Measured: measured}
	guess := p.InitialGuess
	if guess <= 0 {
		c.log.Warn("initial guess repaired", "initial_guess", guess, "replacement", 1.0)
		guess = 1.0
		res.GuessRepaired = true
	}

	sol := solver.NewtonRaphson(f, fp, guess, p.Tolerance, p.MaxIterations)
	res.Trace = sol.Trace.Estimates()
	res.Outcome = sol.Outcome
	res.Value, res.Substituted = validate(sol.Root)
	if res.Substituted {
		c.log.Warn("invalid solution replaced",
			"raw", raw,
			"root", sol.Root,
			"outcome", sol.Outcome.String(),
			"iterations", len(res.Trace)-1)
	}
	return res
}

func model(a, b, measured float64) (f, fp solver.Func) {
	f = func(e float64) float64 {
		if e <= 0 {
			return Sentinel
		}
		return a*math.Pow(e, b) - measured
	}
	fp = func(e float64) float64 {
		if e <= 0 {
			return Sentinel
		}
		return a * b * math.Pow(e, b-1)
	}
	return f, fp
}

func validate(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, true
	}
	return v, false
}
