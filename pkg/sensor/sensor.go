package sensor

import (
	"errors"
	"fmt"
	"time"

	"github.com/ericogr/luxmeter/pkg/config"
)

var (
	// ErrTimeout is returned by a Port read that saw no data before its
	// timeout. It is an idle condition, not a failure.
	ErrTimeout = errors.New("read timeout")

	ErrUnknownSource = errors.New("unknown source type")
)

// Port is a byte stream carrying newline-delimited ASCII samples.
type Port interface {
	Read(p []byte) (int, error)
	Close() error
}

// Reading is one ADC conversion.
type Reading struct {
	Channel   int       `json:"channel"`
	Raw       int16     `json:"raw"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Sensor produces voltage readings that a line port turns into device lines.
type Sensor interface {
	Read() (Reading, error)
	Close() error
}

// Open opens the source described by src. ADS1115 and simulated sources
// emit the same line protocol as a serial device, with readings scaled
// from volts to device counts using dev.
func Open(src config.SourceConfig, dev config.DeviceConfig) (Port, error) {
	timeout := time.Duration(src.ReadTimeoutMs) * time.Millisecond
	interval := time.Duration(src.IntervalMs) * time.Millisecond
	countsPerVolt := 0.0
	if dev.FullScaleVolts > 0 {
		countsPerVolt = dev.FullScaleCounts / dev.FullScaleVolts
	}

	switch src.Type {
	case config.SourceSerial:
		return OpenSerial(src.Address, src.BaudRate, timeout)
	case config.SourceADS1115:
		s, err := NewADS1115Sensor(src)
		if err != nil {
			return nil, err
		}
		return NewLinePort(s, interval, timeout, countsPerVolt), nil
	case config.SourceSimulation:
		s := NewFakeSensor(time.Now().UnixNano(), dev.FullScaleVolts)
		return NewLinePort(s, interval, timeout, countsPerVolt), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, src.Type)
	}
}

// Describe returns a human readable address for status messages.
func Describe(src config.SourceConfig) string {
	switch src.Type {
	case config.SourceSerial:
		return src.Address
	case config.SourceADS1115:
		return fmt.Sprintf("i2c-%s@0x%02x/ch%d", src.I2CBus, src.I2CAddress, src.ADCChannel)
	default:
		return src.Type
	}
}
