// Package serial wraps a line-oriented transport for the G-code front
// end: a real USB/UART port in production, a pipe or buffer in tests.
package serial

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Port is a line-oriented read/write transport. Unlike the teacher's
// binary-protocol Port, there is no Flush: G-code lines are newline
// terminated and written whole, so nothing is ever left buffered.
type Port interface {
	io.ReadWriteCloser
}

// Config holds serial port configuration.
type Config struct {
	Device      string
	Baud        int
	ReadTimeout int // milliseconds, 0 = blocking
}

// DefaultConfig returns a default configuration for a USB CDC G-code link.
func DefaultConfig(device string, baud int) *Config {
	return &Config{Device: device, Baud: baud, ReadTimeout: 100}
}

// nativePort wraps github.com/tarm/serial.
type nativePort struct {
	port *serial.Port
}

// Open opens a native serial port.
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, fmt.Errorf("serial: config cannot be nil")
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: time.Duration(cfg.ReadTimeout) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}
	return &nativePort{port: port}, nil
}

func (p *nativePort) Read(b []byte) (int, error)  { return p.port.Read(b) }
func (p *nativePort) Write(b []byte) (int, error) { return p.port.Write(b) }
func (p *nativePort) Close() error                { return p.port.Close() }
