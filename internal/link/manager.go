// internal/link/manager.go

// Package link controls the single connection to the peer. A Manager owns
// the connection state; one worker goroutine executes Connect, Disconnect
// and Send in submission order, and a reader goroutine per link ingests
// inbound lines. Everything observable is published to an eventlog.Log.
package link

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"link-service/internal/config"
	"link-service/internal/eventlog"
	"link-service/internal/model"
	"link-service/internal/peer"
	"link-service/internal/transport"
	"link-service/internal/utils"
)

// Options tunes a Manager
type Options struct {
	PeerName       string
	ConnectTimeout time.Duration
	StopTimeout    time.Duration
	ReadBufferSize int
	MaxLineLength  int
	QueueSize      int
}

// OptionsFromConfig maps the link configuration section
func OptionsFromConfig(cfg config.LinkConfig) Options {
	return Options{
		PeerName:       cfg.PeerName,
		ConnectTimeout: cfg.ConnectTimeout,
		StopTimeout:    cfg.StopTimeout,
		ReadBufferSize: cfg.ReadBufferSize,
		MaxLineLength:  cfg.MaxLineLength,
		QueueSize:      cfg.QueueSize,
	}
}

func (o Options) withDefaults() Options {
	if o.StopTimeout <= 0 {
		o.StopTimeout = 2 * time.Second
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = 1024
	}
	if o.MaxLineLength <= 0 {
		o.MaxLineLength = 4096
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 16
	}
	return o
}

// StateListener observes state transitions. Listeners run on the worker
// goroutine and must not call back into the Manager synchronously.
type StateListener func(state model.ConnectionState)

type requestKind int

const (
	requestConnect requestKind = iota
	requestDisconnect
	requestSend
)

type request struct {
	kind    requestKind
	ctx     context.Context
	command string
	reply   chan error
}

// activeLink is one open connection. Fields are immutable after creation.
type activeLink struct {
	id          uuid.UUID
	peer        model.PeerDescriptor
	stream      transport.Stream
	writer      *bufio.Writer
	reader      *reader
	connectedAt time.Time

	bytesSent    atomic.Int64
	commandsSent atomic.Int64
}

// Manager owns the connection state and the active link
type Manager struct {
	opts      Options
	transport transport.Transport
	registry  peer.Registry
	events    *eventlog.Log
	logger    *utils.LinkLogger

	state   atomic.Int32
	current atomic.Pointer[activeLink]

	listenersMu sync.Mutex
	listeners   []StateListener

	requests  chan request
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// link is owned by the worker goroutine
	link *activeLink
}

// NewManager creates a Manager and starts its worker
func NewManager(opts Options, tr transport.Transport, registry peer.Registry, events *eventlog.Log, logger *zap.Logger) *Manager {
	opts = opts.withDefaults()
	m := &Manager{
		opts:      opts,
		transport: tr,
		registry:  registry,
		events:    events,
		logger:    utils.NewLinkLogger(logger, opts.PeerName, tr.Kind()),
		requests:  make(chan request, opts.QueueSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	m.state.Store(int32(model.StateDisconnected))
	go m.run()
	return m
}

// State returns the current connection state
func (m *Manager) State() model.ConnectionState {
	return model.ConnectionState(m.state.Load())
}

// PeerName returns the configured peer name
func (m *Manager) PeerName() string {
	return m.opts.PeerName
}

// OnStateChanged registers a listener for state transitions
func (m *Manager) OnStateChanged(fn StateListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Connect opens the link to the configured peer and returns once the
// attempt has finished.
func (m *Manager) Connect(ctx context.Context) error {
	if m.State().Active() {
		return ErrAlreadyActive
	}
	return m.submit(ctx, request{kind: requestConnect})
}

// ConnectAsync starts a connect attempt; the channel yields its result
func (m *Manager) ConnectAsync(ctx context.Context) <-chan error {
	result := make(chan error, 1)
	if m.State().Active() {
		result <- ErrAlreadyActive
		return result
	}
	go func() {
		result <- m.submit(ctx, request{kind: requestConnect})
	}()
	return result
}

// Disconnect tears the link down. Without a link it does nothing.
func (m *Manager) Disconnect(ctx context.Context) error {
	return m.submit(ctx, request{kind: requestDisconnect})
}

// Preflight reports adapter or permission problems for the configured
// peer without connecting.
func (m *Manager) Preflight(ctx context.Context) error {
	pf, ok := m.transport.(transport.Preflighter)
	if !ok {
		return nil
	}
	desc := model.PeerDescriptor{Name: m.opts.PeerName, Transport: m.transport.Kind()}
	if found, ok, err := m.registry.Lookup(ctx, m.opts.PeerName); err == nil && ok {
		desc = found
	}
	return pf.Preflight(ctx, desc)
}

// Close disconnects and stops the worker. Further calls return ErrClosed.
func (m *Manager) Close(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		err = m.Disconnect(ctx)
		close(m.quit)
	})

	select {
	case <-m.done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (m *Manager) submit(ctx context.Context, req request) error {
	req.ctx = ctx
	req.reply = make(chan error, 1)

	select {
	case <-m.quit:
		return ErrClosed
	default:
	}

	select {
	case m.requests <- req:
	case <-m.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run() {
	defer close(m.done)

	for {
		var readerDone <-chan struct{}
		if m.link != nil {
			readerDone = m.link.reader.done
		}

		select {
		case req := <-m.requests:
			req.reply <- m.handle(req)
		case <-readerDone:
			m.handleReaderExit()
		case <-m.quit:
			m.shutdown()
			return
		}
	}
}

func (m *Manager) handle(req request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Link operation panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("link operation panicked: %v", r)
		}
	}()

	switch req.kind {
	case requestConnect:
		return m.connect(req.ctx)
	case requestDisconnect:
		return m.disconnect()
	case requestSend:
		return m.send(req.ctx, req.command)
	}
	return fmt.Errorf("unknown request kind %d", req.kind)
}

func (m *Manager) connect(ctx context.Context) error {
	if m.link != nil || m.State().Active() {
		return ErrAlreadyActive
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	name := m.opts.PeerName
	desc, found, err := m.registry.Lookup(ctx, name)
	if err != nil {
		m.events.Error(fmt.Sprintf("Connection failed: %v", err), nil)
		return fmt.Errorf("resolve peer %s: %w", name, err)
	}
	if !found {
		m.events.Error(fmt.Sprintf("%s not paired. Pair it in system settings first.", name), nil)
		return fmt.Errorf("%w: %s", ErrPeerNotFound, name)
	}

	linkID := uuid.New()
	m.setState(model.StateConnecting)
	m.events.Info(fmt.Sprintf("Connecting to %s ...", name), &linkID)

	start := time.Now()
	stream, err := m.open(ctx, desc)
	if err != nil {
		m.setState(model.StateDisconnected)
		m.events.Error(fmt.Sprintf("Connection failed: %v", err), &linkID)
		m.logger.LogConnection("connect", time.Since(start), err)
		if errors.Is(err, ErrTransportOpenFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrTransportOpenFailed, err)
	}

	stream = transport.Guard(stream)
	l := &activeLink{
		id:          linkID,
		peer:        desc,
		stream:      stream,
		writer:      bufio.NewWriter(stream),
		connectedAt: time.Now(),
	}
	l.reader = newReader(stream, m.events, linkID, m.opts, m.logger.With(zap.String("link_id", linkID.String())))

	m.link = l
	m.current.Store(l)
	m.setState(model.StateConnected)
	m.events.Info(fmt.Sprintf("Connected to %s", name), &linkID)
	m.logger.LogConnection("connect", time.Since(start), nil)
	l.reader.start()
	return nil
}

// open calls the transport with the connect timeout applied. A panicking
// or misbehaving transport is reported as an ordinary open failure.
func (m *Manager) open(ctx context.Context, desc model.PeerDescriptor) (stream transport.Stream, err error) {
	if m.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.ConnectTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			stream, err = nil, fmt.Errorf("transport panicked: %v", r)
		}
	}()

	stream, err = m.transport.Open(ctx, desc)
	if err == nil && stream == nil {
		err = errors.New("transport returned no stream")
	}
	return stream, err
}

func (m *Manager) disconnect() error {
	l := m.link
	if l == nil {
		return nil
	}

	m.setState(model.StateDisconnecting)
	start := time.Now()
	m.stopLink(l)

	m.link = nil
	m.current.Store(nil)
	m.setState(model.StateDisconnected)
	m.events.Info(fmt.Sprintf("Disconnected from %s", l.peer.Name), &l.id)
	m.logger.LogConnection("disconnect", time.Since(start), nil)
	return nil
}

// stopLink signals the reader, closes the stream to unblock its read and
// waits at most StopTimeout for it to exit.
func (m *Manager) stopLink(l *activeLink) {
	l.reader.stop()
	if err := l.writer.Flush(); err != nil {
		m.logger.Debug("Flush on disconnect failed", zap.Error(err))
	}
	if err := l.stream.Close(); err != nil {
		m.logger.Debug("Stream close returned error", zap.Error(err))
	}

	timer := time.NewTimer(m.opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-l.reader.done:
	case <-timer.C:
		m.logger.Warn("Reader did not stop in time", zap.Duration("timeout", m.opts.StopTimeout))
	}
}

func (m *Manager) handleReaderExit() {
	l := m.link
	m.link = nil
	m.current.Store(nil)

	l.stream.Close()
	m.setState(model.StateDisconnected)
	m.logger.LogConnection("drop", time.Since(l.connectedAt), l.reader.err)
}

func (m *Manager) shutdown() {
	if m.link != nil {
		if err := m.disconnect(); err != nil {
			m.logger.Warn("Disconnect on shutdown failed", zap.Error(err))
		}
	}
	for {
		select {
		case req := <-m.requests:
			req.reply <- ErrClosed
		default:
			return
		}
	}
}

func (m *Manager) setState(s model.ConnectionState) {
	prev := model.ConnectionState(m.state.Swap(int32(s)))
	if prev == s {
		return
	}
	m.logger.Debug("Link state changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", s),
	)

	m.listenersMu.Lock()
	listeners := append([]StateListener(nil), m.listeners...)
	m.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}
