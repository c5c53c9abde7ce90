package transport

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Port is a byte-stream device. The tarm/serial implementation backs real
// hardware; tests substitute an in-memory port.
type Port interface {
	io.ReadWriteCloser
}

// PortConfig holds serial port configuration.
type PortConfig struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM4")
	Device string

	// Baud rate
	Baud int

	// ReadTimeout bounds each Read so the reader can notice shutdown
	// (0 = blocking)
	ReadTimeout time.Duration
}

// OpenPort opens a native serial port.
func OpenPort(cfg PortConfig) (Port, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("serial device is required")
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}

	return port, nil
}
