// internal/transport/transport.go

// Package transport opens byte streams to a named peer. The link layer sees
// only Stream; the concrete kind (serial tty, BlueZ RFCOMM, TCP bridge, USB
// bulk bridge) is chosen from configuration.
package transport

import (
	"context"
	"errors"
	"io"
	"sync"

	"link-service/internal/model"
)

var (
	ErrTransportOpenFailed  = errors.New("transport open failed")
	ErrTransportWriteFailed = errors.New("transport write failed")
	ErrAdapterUnavailable   = errors.New("bluetooth adapter unavailable")
	ErrPermissionDenied     = errors.New("bluetooth permission denied")
	ErrNotSupported         = errors.New("transport not supported on this platform")
)

// Stream is an open byte pipe to the peer. Read blocks until data arrives,
// the peer goes away, or Close is called from another goroutine.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// Transport opens streams to peers of one kind
type Transport interface {
	Open(ctx context.Context, peer model.PeerDescriptor) (Stream, error)
	Kind() model.TransportKind
}

// Preflighter is implemented by transports that can report adapter or
// permission problems before a connect attempt.
type Preflighter interface {
	Preflight(ctx context.Context, peer model.PeerDescriptor) error
}

// Guard wraps s so that Close reaches the underlying stream at most once.
// Later calls return the first result.
func Guard(s Stream) Stream {
	if g, ok := s.(*guarded); ok {
		return g
	}
	return &guarded{Stream: s}
}

type guarded struct {
	Stream
	once sync.Once
	err  error
}

func (g *guarded) Close() error {
	g.once.Do(func() {
		g.err = g.Stream.Close()
	})
	return g.err
}
