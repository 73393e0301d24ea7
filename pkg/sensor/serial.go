package sensor

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// OpenSerial opens a serial device in 8N1 mode. Reads return (0, nil) when
// timeout elapses without data.
func OpenSerial(address string, baud int, timeout time.Duration) (Port, error) {
	p, err := serial.Open(address, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", address, err)
	}
	if err := p.SetReadTimeout(timeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return p, nil
}
