package cds55xx

import (
	"context"
	"io"
)

// Transmitter pushes one complete frame onto the servo link. It must return
// only once the frame has been sent or has failed.
type Transmitter interface {
	Transmit(ctx context.Context, frame []byte) error
}

// TransmitFunc is func type of Transmitter.
type TransmitFunc func(ctx context.Context, frame []byte) error

// Transmit implements Transmitter.
func (f TransmitFunc) Transmit(ctx context.Context, frame []byte) error {
	return f(ctx, frame)
}

// Transport is the interface for low-level access to the servo link.
// This abstraction allows for testing with mock implementations.
type Transport interface {
	io.WriteCloser

	// Drain blocks until all written data has left the transmit buffer.
	Drain() error
}
