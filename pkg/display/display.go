// Package display is the headless presentation layer: once per tick it
// drains the status and conversion channels and prints a summary line.
package display

import (
	"fmt"
	"io"
	"time"

	"github.com/ericogr/luxmeter/pkg/ingest"
	"github.com/ericogr/luxmeter/pkg/pipeline"
	"github.com/ericogr/luxmeter/pkg/series"
)

// Light levels for a raw photodiode reading. Higher readings mean darker.
const (
	BrightBelow = 300.0
	NormalBelow = 600.0
)

func Classify(raw float64) string {
	switch {
	case raw < BrightBelow:
		return "bright"
	case raw < NormalBelow:
		return "normal"
	default:
		return "dark"
	}
}

type Display struct {
	w       io.Writer
	status  <-chan ingest.StatusChanged
	events  <-chan pipeline.ConversionCompleted
	raw     *series.Buffer
	derived *series.Buffer

	lastStatus ingest.StatusChanged
	lastEvent  *pipeline.ConversionCompleted
}

func New(w io.Writer, status <-chan ingest.StatusChanged, events <-chan pipeline.ConversionCompleted, raw, derived *series.Buffer) *Display {
	return &Display{w: w, status: status, events: events, raw: raw, derived: derived}
}

// Status returns the latest status seen.
func (d *Display) Status() ingest.StatusChanged { return d.lastStatus }

// Refresh drains both channels without blocking. The latest status and the
// latest event win. It prints a line when anything new arrived and reports
// whether it did.
func (d *Display) Refresh() bool {
	changed := false
	for drained := false; !drained; {
		select {
		case s := <-d.status:
			d.lastStatus = s
			changed = true
		default:
			drained = true
		}
	}
	for drained := false; !drained; {
		select {
		case ev := <-d.events:
			d.lastEvent = &ev
			changed = true
		default:
			drained = true
		}
	}
	if changed {
		fmt.Fprintln(d.w, d.Line())
	}
	return changed
}

// Line renders the current summary. Buffer lengths are read one lock at a
// time.
func (d *Display) Line() string {
	line := fmt.Sprintf("%s status=%q raw_len=%d derived_len=%d",
		time.Now().Format(time.RFC3339), d.lastStatus.Text, d.raw.Len(), d.derived.Len())
	if ev := d.lastEvent; ev != nil {
		line += fmt.Sprintf(" raw=%.2f light=%s value=%.4f iterations=%d",
			ev.Raw.Y, Classify(ev.Raw.Y), ev.Value, len(ev.Trace)-1)
		if ev.Substituted {
			line += " substituted=true"
		}
	}
	return line
}
