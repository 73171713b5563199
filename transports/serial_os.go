//go:build !baremetal

package transports

import (
	"errors"
	"fmt"

	"go.bug.st/serial"
)

// DefaultBaudRate is the factory baud rate of CDS55xx servos.
const DefaultBaudRate = 1000000

// SerialTransport implements a send-only transport over a hardware serial
// port (UART adapter or USB-CDC).
type SerialTransport struct {
	port     serial.Port
	portName string
}

// SerialConfig holds configuration for opening a serial port.
type SerialConfig struct {
	Port     string
	BaudRate int
}

// OpenSerial opens a serial port with the given configuration.
func OpenSerial(cfg SerialConfig) (*SerialTransport, error) {
	if cfg.Port == "" {
		return nil, errors.New("serial port path is required")
	}

	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}

	// Drop anything queued before we owned the port.
	if err := port.ResetOutputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to reset output buffer: %w", err)
	}

	return &SerialTransport{
		port:     port,
		portName: cfg.Port,
	}, nil
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

func (t *SerialTransport) Write(p []byte) (int, error) {
	return t.port.Write(p)
}

// Drain blocks until the OS has transmitted all written bytes.
func (t *SerialTransport) Drain() error {
	return t.port.Drain()
}

func (t *SerialTransport) Close() error {
	return t.port.Close()
}

// PortName returns the serial port name.
func (t *SerialTransport) PortName() string {
	return t.portName
}
