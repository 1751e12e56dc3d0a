package link

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"link-service/internal/model"
	"link-service/internal/transport"
)

var errStreamClosed = errors.New("stream closed")

// fakeStream feeds chunks to Read one at a time. Closing the feed makes
// Read return (0, io.EOF); Close makes a blocked Read fail.
type fakeStream struct {
	feed     chan []byte
	closed   chan struct{}
	once     sync.Once
	closes   atomic.Int32
	leftover []byte

	// ignoreClose keeps Read blocked after Close, like a driver that
	// never returns.
	ignoreClose bool

	// starve makes every Read return (0, nil), like a driver whose
	// port vanished without reporting an error.
	starve bool

	mu       sync.Mutex
	written  bytes.Buffer
	writeErr error
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		feed:   make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Read(p []byte) (int, error) {
	if s.starve {
		return 0, nil
	}
	if len(s.leftover) > 0 {
		n := copy(p, s.leftover)
		s.leftover = s.leftover[n:]
		return n, nil
	}

	closed := s.closed
	if s.ignoreClose {
		closed = nil
	}
	select {
	case chunk, ok := <-s.feed:
		if !ok {
			return 0, io.EOF
		}
		n := copy(p, chunk)
		s.leftover = append(s.leftover[:0], chunk[n:]...)
		return n, nil
	case <-closed:
		return 0, errStreamClosed
	}
}

func (s *fakeStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	return s.written.Write(p)
}

func (s *fakeStream) Close() error {
	s.closes.Add(1)
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) Written() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.String()
}

func (s *fakeStream) SetWriteErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// fakeTransport hands out a new fakeStream per successful Open
type fakeTransport struct {
	mu      sync.Mutex
	openErr error
	panics  bool
	streams []*fakeStream
	prepare func(*fakeStream)
	peers   []model.PeerDescriptor
	block   chan struct{}
}

func (f *fakeTransport) Kind() model.TransportKind {
	return model.TransportSerial
}

func (f *fakeTransport) Open(ctx context.Context, p model.PeerDescriptor) (transport.Stream, error) {
	f.mu.Lock()
	f.peers = append(f.peers, p)
	openErr, panics, block := f.openErr, f.panics, f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if panics {
		panic("driver exploded")
	}
	if openErr != nil {
		return nil, openErr
	}

	s := newFakeStream()
	if f.prepare != nil {
		f.prepare(s)
	}
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeTransport) SetOpenErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr = err
}

func (f *fakeTransport) Streams() []*fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeStream(nil), f.streams...)
}

func (f *fakeTransport) Last() *fakeStream {
	streams := f.Streams()
	if len(streams) == 0 {
		return nil
	}
	return streams[len(streams)-1]
}

// preflightTransport adds a Preflighter to fakeTransport
type preflightTransport struct {
	*fakeTransport
	err error
}

func (p *preflightTransport) Preflight(context.Context, model.PeerDescriptor) error {
	return p.err
}
