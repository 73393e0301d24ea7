package output

import (
	"context"
	"errors"
	"time"
)

// ErrQueryUnsupported is returned by insert-only sinks.
var ErrQueryUnsupported = errors.New("query not supported by sink")

type Kind string

const (
	KindRaw     Kind = "raw"
	KindDerived Kind = "derived"
)

// Record is one persisted value. Trace is empty for raw records.
type Record struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Value     float64   `json:"value"`
	Trace     []float64 `json:"trace,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink persists raw samples and derived results. Implementations hold a
// long-lived connection and must be safe for concurrent use.
type Sink interface {
	InsertRaw(ctx context.Context, value float64, at time.Time) error
	InsertDerived(ctx context.Context, value float64, trace []float64, at time.Time) error
	QueryAllRaw(ctx context.Context) ([]Record, error)
	QueryAllDerived(ctx context.Context) ([]Record, error)
	Close() error
}

// helper constructors are in subpackages
