package output

import (
	"context"
	"errors"
	"time"
)

// Multi fans inserts out to every sink and answers queries from the first
// sink that supports them.
type Multi struct {
	sinks []Sink
}

func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) InsertRaw(ctx context.Context, value float64, at time.Time) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.InsertRaw(ctx, value, at); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) InsertDerived(ctx context.Context, value float64, trace []float64, at time.Time) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.InsertDerived(ctx, value, trace, at); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) QueryAllRaw(ctx context.Context) ([]Record, error) {
	return m.query(func(s Sink) ([]Record, error) { return s.QueryAllRaw(ctx) })
}

func (m *Multi) QueryAllDerived(ctx context.Context) ([]Record, error) {
	return m.query(func(s Sink) ([]Record, error) { return s.QueryAllDerived(ctx) })
}

func (m *Multi) query(q func(Sink) ([]Record, error)) ([]Record, error) {
	for _, s := range m.sinks {
		recs, err := q(s)
		if errors.Is(err, ErrQueryUnsupported) {
			continue
		}
		return recs, err
	}
	return nil, ErrQueryUnsupported
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
