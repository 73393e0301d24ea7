package console

import (
	"context"
	"fmt"
	"time"

	"github.com/ericogr/luxmeter/pkg/output"
)

type ConsoleOutput struct{}

func NewConsole() output.Sink { return &ConsoleOutput{} }

func (c *ConsoleOutput) InsertRaw(_ context.Context, value float64, at time.Time) error {
	fmt.Printf("%s kind=%s value=%.6f\n", at.Format(time.RFC3339), output.KindRaw, value)
	return nil
}

func (c *ConsoleOutput) InsertDerived(_ context.Context, value float64, trace []float64, at time.Time) error {
	iterations := 0
	if len(trace) > 0 {
		iterations = len(trace) - 1
	}
	fmt.Printf("%s kind=%s value=%.6f iterations=%d\n", at.Format(time.RFC3339), output.KindDerived, value, iterations)
	return nil
}

func (c *ConsoleOutput) QueryAllRaw(context.Context) ([]output.Record, error) {
	return nil, output.ErrQueryUnsupported
}

func (c *ConsoleOutput) QueryAllDerived(context.Context) ([]output.Record, error) {
	return nil, output.ErrQueryUnsupported
}

func (c *ConsoleOutput) Close() error { return nil }
