package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/ericogr/luxmeter/pkg/output"
)

func captureStdout(f func()) string {
	r, w, _ := os.Pipe()
	stdout := os.Stdout
	os.Stdout = w
	outC := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		outC <- buf.String()
	}()
	f()
	_ = w.Close()
	os.Stdout = stdout
	return <-outC
}

func TestConsoleInsert(t *testing.T) {
	c := NewConsole()
	ts := time.Date(2025, 9, 19, 14, 41, 54, 0, time.UTC)
	out := captureStdout(func() {
		_ = c.InsertRaw(context.Background(), 123, ts)
		_ = c.InsertDerived(context.Background(), 1.234567, []float64{1, 2, 1.234567}, ts)
	})
	want := "2025-09-19T14:41:54Z kind=raw value=123.000000\n" +
		"2025-09-19T14:41:54Z kind=derived value=1.234567 iterations=2\n"
	if out != want {
		t.Fatalf("console output mismatch:\n got: %q\nwant: %q", out, want)
	}
}

func TestConsoleQueryUnsupported(t *testing.T) {
	c := NewConsole()
	if _, err := c.QueryAllDerived(context.Background()); !errors.Is(err, output.ErrQueryUnsupported) {
		t.Fatalf("expected ErrQueryUnsupported, got %v", err)
	}
}
