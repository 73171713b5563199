package cds55xx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hipsterbrown/cds55xx-servo/transports"
)

// Bus owns the link to a chain of servos. It implements Transmitter and
// writes one frame at a time, so frames from concurrent callers never
// interleave on the wire.
type Bus struct {
	transport Transport
	logger    *zap.Logger

	mu          sync.Mutex
	lastCmdTime time.Time
	minCmdGap   time.Duration
	closed      bool
}

// BusConfig holds configuration for creating a new Bus.
type BusConfig struct {
	// Transport is the underlying communication transport.
	// If nil, Port must be specified to open a serial connection.
	Transport Transport

	// Port is the serial port path (e.g., "/dev/ttyUSB0").
	// Ignored if Transport is provided.
	Port string

	// BaudRate is the communication speed. Default is 1000000.
	BaudRate int

	// MinCommandGap is the minimum time between frames. Default is 1ms.
	MinCommandGap time.Duration

	// Logger receives a debug entry per frame. Default is a no-op logger.
	Logger *zap.Logger
}

// NewBus creates a new servo bus with the given configuration.
func NewBus(cfg BusConfig) (*Bus, error) {
	// Set defaults
	if cfg.BaudRate == 0 {
		cfg.BaudRate = transports.DefaultBaudRate
	}
	if cfg.MinCommandGap == 0 {
		cfg.MinCommandGap = time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	// Get or create transport
	transport := cfg.Transport
	if transport == nil {
		if cfg.Port == "" {
			return nil, errors.New("either Transport or Port must be specified")
		}
		var err error
		transport, err = transports.OpenSerial(transports.SerialConfig{
			Port:     cfg.Port,
			BaudRate: cfg.BaudRate,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port: %w", err)
		}
		cfg.Logger.Info("serial port opened",
			zap.String("port", cfg.Port),
			zap.Int("baud_rate", cfg.BaudRate),
		)
	}

	return &Bus{
		transport: transport,
		logger:    cfg.Logger,
		minCmdGap: cfg.MinCommandGap,
	}, nil
}

// Close closes the bus and releases resources.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	return b.transport.Close()
}

// Transmit writes one frame and waits until it has left the transmit buffer.
// Nothing is read back: the protocol is send-only.
func (b *Bus) Transmit(ctx context.Context, frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	if err := b.waitCommandGapLocked(ctx); err != nil {
		return err
	}

	n, err := b.transport.Write(frame)
	if err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("incomplete write: %d of %d bytes", n, len(frame))
	}
	if err := b.transport.Drain(); err != nil {
		return fmt.Errorf("drain failed: %w", err)
	}

	b.lastCmdTime = time.Now()

	if ce := b.logger.Check(zap.DebugLevel, "frame sent"); ce != nil {
		ce.Write(zap.String("frame", fmt.Sprintf("% X", frame)), zap.Int("bytes", n))
	}

	return nil
}

// Internal methods

func (b *Bus) waitCommandGapLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	wait := b.minCmdGap - time.Since(b.lastCmdTime)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
