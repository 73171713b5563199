//go:build baremetal

package transports

import (
	"errors"
	"fmt"
	"machine"
)

// DefaultBaudRate is the factory baud rate of CDS55xx servos.
const DefaultBaudRate = 1000000

// MCUTransport implements a send-only transport over a microcontroller UART.
type MCUTransport struct {
	*machine.UART
}

// SerialConfig holds configuration for opening a UART.
// Port is the UART index: "0" or "1".
type SerialConfig struct {
	Port     string
	BaudRate int
}

var currentTransport MCUTransport

// OpenSerial configures a UART with the given configuration.
func OpenSerial(cfg SerialConfig) (*MCUTransport, error) {
	if cfg.Port == "" {
		return nil, errors.New("serial port path is required")
	}

	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}

	switch cfg.Port {
	case "0":
		currentTransport = MCUTransport{machine.UART0}
	case "1":
		currentTransport = MCUTransport{machine.UART1}
	default:
		return nil, fmt.Errorf("unknown UART %s", cfg.Port)
	}

	if err := currentTransport.Configure(machine.UARTConfig{BaudRate: uint32(cfg.BaudRate)}); err != nil {
		return nil, fmt.Errorf("failed to configure UART %s: %w", cfg.Port, err)
	}

	return &currentTransport, nil
}

// Drain is a no-op: UART writes block until the bytes are queued in hardware.
func (t *MCUTransport) Drain() error {
	return nil
}

func (t *MCUTransport) Close() error {
	return nil
}
