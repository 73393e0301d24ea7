package sensor

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// IsTimeout reports whether a Port read result is an idle timeout rather
// than data or a failure.
func IsTimeout(n int, err error) bool {
	if err == nil {
		return n == 0
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// FormatLine renders v in the device line protocol.
func FormatLine(v float64) []byte {
	b := strconv.AppendFloat(nil, v, 'f', 2, 64)
	return append(b, '\n')
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// LinePort adapts a Sensor to the serial line protocol: every interval it
// takes one reading, scales it from volts to device counts and serves it
// as a newline-terminated decimal line. Not safe for concurrent reads.
type LinePort struct {
	sensor        Sensor
	interval      time.Duration
	timeout       time.Duration
	countsPerVolt float64

	next    time.Time
	pending []byte

	now   func() time.Time
	sleep func(time.Duration)
}

func NewLinePort(s Sensor, interval, timeout time.Duration, countsPerVolt float64) *LinePort {
	return &LinePort{
		sensor:        s,
		interval:      interval,
		timeout:       timeout,
		countsPerVolt: countsPerVolt,
		now:           time.Now,
		sleep:         time.Sleep,
	}
}

func (l *LinePort) Read(p []byte) (int, error) {
	if len(l.pending) == 0 {
		if wait := l.next.Sub(l.now()); wait > 0 {
			if l.timeout > 0 && wait > l.timeout {
				l.sleep(l.timeout)
				return 0, ErrTimeout
			}
			l.sleep(wait)
		}
		r, err := l.sensor.Read()
		if err != nil {
			return 0, err
		}
		l.next = l.now().Add(l.interval)
		l.pending = FormatLine(r.Value * l.countsPerVolt)
	}
	n := copy(p, l.pending)
	l.pending = l.pending[n:]
	return n, nil
}

func (l *LinePort) Close() error {
	return l.sensor.Close()
}
