package sensor

import (
	"fmt"
	"time"

	"github.com/ericogr/luxmeter/pkg/config"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	pointerConv   = 0x00
	pointerConfig = 0x01
)

type ADS1115Sensor struct {
	dev        *i2c.Dev
	bus        i2c.BusCloser
	channel    int
	sampleRate int
	pgaFS      float64
}

func NewADS1115Sensor(cfg config.SourceConfig) (Sensor, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("open i2c: %w", err)
	}
	dev := &i2c.Dev{Addr: uint16(cfg.I2CAddress), Bus: bus}
	return &ADS1115Sensor{dev: dev, bus: bus, channel: cfg.ADCChannel, sampleRate: cfg.SampleRate, pgaFS: 4.096}, nil
}

func (s *ADS1115Sensor) Close() error {
	if s.bus != nil {
		return s.bus.Close()
	}
	return nil
}

// ConversionDelay is how long a single-shot conversion takes at rate SPS.
func ConversionDelay(rate int) time.Duration {
	if rate <= 0 {
		rate = 128
	}
	return time.Duration(int(1000.0/float64(rate))+2) * time.Millisecond
}

func (s *ADS1115Sensor) Read() (Reading, error) {
	now := time.Now()
	msb, lsb, err := s.configForChannel(s.channel, s.sampleRate)
	if err != nil {
		return Reading{}, err
	}
	if err := s.dev.Tx([]byte{pointerConfig, msb, lsb}, nil); err != nil {
		return Reading{}, fmt.Errorf("write config: %w", err)
	}
	time.Sleep(ConversionDelay(s.sampleRate))
	readBuf := make([]byte, 2)
	if err := s.dev.Tx([]byte{pointerConv}, readBuf); err != nil {
		return Reading{}, fmt.Errorf("read conv: %w", err)
	}
	raw := int16(readBuf[0])<<8 | int16(readBuf[1])
	return Reading{Channel: s.channel, Raw: raw, Value: s.volts(raw), Timestamp: now}, nil
}

func (s *ADS1115Sensor) volts(raw int16) float64 {
	return float64(raw) * s.pgaFS / 32768.0
}

func (s *ADS1115Sensor) configForChannel(channel, rate int) (byte, byte, error) {
	var mux byte
	switch channel {
	case 0:
		mux = 0x4
	case 1:
		mux = 0x5
	case 2:
		mux = 0x6
	case 3:
		mux = 0x7
	default:
		return 0, 0, fmt.Errorf("invalid channel %d", channel)
	}
	// PGA: ±4.096V -> bits 001
	pga := byte(0x1)
	var dr byte
	switch rate {
	case 8:
		dr = 0x0
	case 16:
		dr = 0x1
	case 32:
		dr = 0x2
	case 64:
		dr = 0x3
	case 250:
		dr = 0x5
	case 475:
		dr = 0x6
	case 860:
		dr = 0x7
	default:
		dr = 0x4
	}
	var cfg uint16 = 0x8000 // OS = 1 (start single conversion)
	cfg |= uint16(mux) << 12
	cfg |= uint16(pga) << 9
	cfg |= 1 << 8 // single-shot mode
	cfg |= uint16(dr) << 5
	cfg |= 0x3 // comparator disabled
	return byte(cfg >> 8), byte(cfg & 0xFF), nil
}
