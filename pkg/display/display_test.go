package display

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ericogr/luxmeter/pkg/ingest"
	"github.com/ericogr/luxmeter/pkg/pipeline"
	"github.com/ericogr/luxmeter/pkg/series"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		raw  float64
		want string
	}{
		{0, "bright"},
		{299.99, "bright"},
		{300, "normal"},
		{599, "normal"},
		{600, "dark"},
		{1000, "dark"},
	}
	for _, tt := range tests {
		if got := Classify(tt.raw); got != tt.want {
			t.Fatalf("Classify(%v) = %q; want %q", tt.raw, got, tt.want)
		}
	}
}

func TestRefreshLatestWins(t *testing.T) {
	status := make(chan ingest.StatusChanged, 4)
	events := make(chan pipeline.ConversionCompleted, 4)
	raw := series.NewBuffer(10)
	derived := series.NewBuffer(10)
	raw.Append(series.Sample{X: 0, Y: 650})
	derived.Append(series.Sample{X: 0, Y: 12.5})

	var out bytes.Buffer
	d := New(&out, status, events, raw, derived)

	if d.Refresh() {
		t.Fatal("nothing queued, expected no refresh")
	}
	if out.Len() != 0 {
		t.Fatalf("unexpected output: %q", out.String())
	}

	status <- ingest.StatusChanged{Text: "connecting to /dev/ttyUSB0"}
	status <- ingest.StatusChanged{Text: "connected to /dev/ttyUSB0 (9600 bps)", State: ingest.Connected}
	events <- pipeline.ConversionCompleted{Raw: series.Sample{Y: 100}, Value: 1, Trace: []float64{1}}
	events <- pipeline.ConversionCompleted{Raw: series.Sample{Y: 650}, Value: 12.5, Trace: []float64{1, 8, 12.5}, Substituted: true}

	if !d.Refresh() {
		t.Fatal("expected refresh")
	}
	if d.Status().State != ingest.Connected {
		t.Fatalf("latest status should win: %+v", d.Status())
	}
	line := out.String()
	for _, want := range []string{
		`status="connected to /dev/ttyUSB0 (9600 bps)"`,
		"raw_len=1", "derived_len=1",
		"raw=650.00", "light=dark", "value=12.5000", "iterations=2", "substituted=true",
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q missing %q", line, want)
		}
	}
	if strings.Count(line, "\n") != 1 {
		t.Fatalf("expected exactly one line, got %q", line)
	}
}
