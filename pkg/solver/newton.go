// Package solver implements the Newton-Raphson root finder used by the
// conversion stage.
package solver

import "math"

// DerivativeEpsilon is the magnitude below which f'(x) is treated as zero.
const DerivativeEpsilon = 1e-12

// Func is a scalar function of one variable.
type Func func(float64) float64

// Outcome reports why the iteration stopped.
type Outcome int

const (
	Converged Outcome = iota
	Degenerate
	Exhausted
)

func (o Outcome) String() string {
	switch o {
	case Converged:
		return "converged"
	case Degenerate:
		return "degenerate"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Step is one entry of the iteration trace. Iteration 0 is the initial guess.
type Step struct {
	Iteration int     `json:"iteration"`
	Estimate  float64 `json:"estimate"`
}

// Trace is the ordered list of estimates produced by a solve.
type Trace []Step

// Estimates returns the estimates only, indexed by iteration.
func (t Trace) Estimates() []float64 {
	out := make([]float64, len(t))
	for i, s := range t {
		out[i] = s.Estimate
	}
	return out
}

// Result is the outcome of NewtonRaphson. Root is best-effort: callers
// must validate it (it may be non-finite or out of the physical domain).
type Result struct {
	Root    float64
	Trace   Trace
	Outcome Outcome
}

// NewtonRaphson iterates x_{n+1} = x_n - f(x_n)/f'(x_n) starting at x0.
//
// Each iteration first checks |f'(x_n)| < DerivativeEpsilon and, if so,
// stops without applying the update. Otherwise the update is appended to
// the trace and the run stops when |x_{n+1} - x_n| < tol. After maxIter
// iterations the last estimate is returned. The trace therefore holds
// between 1 and maxIter+1 entries.
//
// NewtonRaphson holds no state and is safe for concurrent use.
func NewtonRaphson(f, fp Func, x0, tol float64, maxIter int) Result {
	if maxIter < 0 {
		maxIter = 0
	}
	x := x0
	trace := make(Trace, 1, maxIter+1)
	trace[0] = Step{Iteration: 0, Estimate: x0}

	for i := 0; i < maxIter; i++ {
		fpx := fp(x)
		if math.Abs(fpx) < DerivativeEpsilon {
			return Result{Root: x, Trace: trace, Outcome: Degenerate}
		}
		next := x - f(x)/fpx
		trace = append(trace, Step{Iteration: i + 1, Estimate: next})
		if math.Abs(next-x) < tol {
			return Result{Root: next, Trace: trace, Outcome: Converged}
		}
		x = next
	}
	return Result{Root: x, Trace: trace, Outcome: Exhausted}
}
