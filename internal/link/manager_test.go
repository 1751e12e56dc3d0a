package link

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"link-service/internal/config"
	"link-service/internal/eventlog"
	"link-service/internal/model"
	"link-service/internal/peer"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type harness struct {
	t         *testing.T
	manager   *Manager
	transport *fakeTransport
	events    *eventlog.Log

	mu     sync.Mutex
	states []model.ConnectionState
}

func newHarness(t *testing.T, tr *fakeTransport, mutate ...func(*Options)) *harness {
	t.Helper()
	registry, err := peer.NewStatic([]config.PeerConfig{
		{Name: "HC-05", Address: "/dev/rfcomm0"},
	}, model.TransportSerial)
	require.NoError(t, err)

	return newHarnessWith(t, tr, registry, mutate...)
}

func newHarnessWith(t *testing.T, tr *fakeTransport, registry peer.Registry, mutate ...func(*Options)) *harness {
	t.Helper()
	opts := Options{
		PeerName:       "HC-05",
		ConnectTimeout: time.Second,
		StopTimeout:    500 * time.Millisecond,
		ReadBufferSize: 1024,
		MaxLineLength:  4096,
	}
	for _, fn := range mutate {
		fn(&opts)
	}

	h := &harness{t: t, transport: tr, events: eventlog.New()}
	h.manager = NewManager(opts, tr, registry, h.events, zap.NewNop())
	h.manager.OnStateChanged(func(s model.ConnectionState) {
		h.mu.Lock()
		h.states = append(h.states, s)
		h.mu.Unlock()
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		h.manager.Close(ctx)
	})
	return h
}

func (h *harness) States() []model.ConnectionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.ConnectionState(nil), h.states...)
}

func (h *harness) connect() *fakeStream {
	h.t.Helper()
	require.NoError(h.t, h.manager.Connect(context.Background()))
	require.Equal(h.t, model.StateConnected, h.manager.State())
	return h.transport.Last()
}

func (h *harness) entries(category model.Category) []string {
	var out []string
	for _, e := range h.events.Snapshot() {
		if e.Category == category {
			out = append(out, e.Message)
		}
	}
	return out
}

func (h *harness) messages() []string {
	var out []string
	for _, e := range h.events.Snapshot() {
		out = append(out, e.Message)
	}
	return out
}

func (h *harness) waitState(want model.ConnectionState) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.manager.State() == want }, waitFor, tick,
		"state never became %s", want)
}

func (h *harness) waitReceived(n int) []string {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return len(h.entries(model.CategoryReceived)) >= n }, waitFor, tick)
	return h.entries(model.CategoryReceived)
}

func TestConnectSendReceiveRoundTrip(t *testing.T) {
	h := newHarness(t, &fakeTransport{})
	stream := h.connect()

	require.NoError(t, h.manager.Send(context.Background(), "Box1_LED_ON"))
	assert.Equal(t, "Box1_LED_ON\n", stream.Written())
	assert.Equal(t, []string{"Box1_LED_ON"}, h.entries(model.CategorySent))

	stream.feed <- []byte("ACK\nDONE\n")
	assert.Equal(t, []string{"ACK", "DONE"}, h.waitReceived(2))

	assert.Equal(t, []string{"Connecting to HC-05 ...", "Connected to HC-05"}, h.messages()[:2])
	assert.Equal(t, "/dev/rfcomm0", h.transport.peers[0].Address)
}

func TestPartialLineReassembly(t *testing.T) {
	h := newHarness(t, &fakeTransport{})
	stream := h.connect()

	stream.feed <- []byte("Box1_O")
	stream.feed <- []byte("PEN\n")
	stream.feed <- []byte("MARK\n")

	got := h.waitReceived(2)
	assert.Equal(t, []string{"Box1_OPEN", "MARK"}, got)
}

func TestInboundLinesAreTrimmedAndBlankLinesDropped(t *testing.T) {
	h := newHarness(t, &fakeTransport{})
	stream := h.connect()

	stream.feed <- []byte("  \r\n  TEMP=21.5 \r\n\n\nEND\n")

	assert.Equal(t, []string{"TEMP=21.5", "END"}, h.waitReceived(2))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.entries(model.CategoryReceived), 2)
}

func TestOverlongLineIsFlushed(t *testing.T) {
	h := newHarness(t, &fakeTransport{}, func(o *Options) {
		o.ReadBufferSize = 4
		o.MaxLineLength = 8
	})
	stream := h.connect()

	stream.feed <- []byte("ABCDEFGHIJ")
	stream.feed <- []byte("K\n")

	assert.Equal(t, []string{"ABCDEFGHIJ", "K"}, h.waitReceived(2))
}

func TestConnectFailure(t *testing.T) {
	tr := &fakeTransport{openErr: errors.New("device not reachable")}
	h := newHarness(t, tr)

	err := h.manager.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransportOpenFailed)

	assert.Equal(t, model.StateDisconnected, h.manager.State())
	assert.Equal(t, []model.ConnectionState{model.StateConnecting, model.StateDisconnected}, h.States())
	assert.Equal(t, []string{"Connection failed: device not reachable"}, h.entries(model.CategoryError))

	assert.ErrorIs(t, h.manager.Send(context.Background(), "Box1_LED_ON"), ErrNotConnected)

	// A later attempt may succeed; there is no automatic retry.
	tr.SetOpenErr(nil)
	h.connect()
	assert.Len(t, tr.peers, 2)
}

func TestConnectPanickingTransport(t *testing.T) {
	h := newHarness(t, &fakeTransport{panics: true})

	err := h.manager.Connect(context.Background())
	assert.ErrorIs(t, err, ErrTransportOpenFailed)
	assert.Equal(t, model.StateDisconnected, h.manager.State())
	assert.Len(t, h.entries(model.CategoryError), 1)
}

func TestConnectTimeout(t *testing.T) {
	tr := &fakeTransport{block: make(chan struct{})}
	h := newHarness(t, tr, func(o *Options) { o.ConnectTimeout = 30 * time.Millisecond })

	err := h.manager.Connect(context.Background())
	assert.ErrorIs(t, err, ErrTransportOpenFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, model.StateDisconnected, h.manager.State())
}

func TestPeerNotFound(t *testing.T) {
	empty, err := peer.NewStatic(nil, model.TransportSerial)
	require.NoError(t, err)
	tr := &fakeTransport{}
	h := newHarnessWith(t, tr, empty)

	err = h.manager.Connect(context.Background())
	assert.ErrorIs(t, err, ErrPeerNotFound)
	assert.Equal(t, model.StateDisconnected, h.manager.State())
	assert.Empty(t, h.States())
	assert.Equal(t, []string{"HC-05 not paired. Pair it in system settings first."}, h.entries(model.CategoryError))
	assert.Empty(t, tr.Streams())
}

func TestConnectWhileActive(t *testing.T) {
	h := newHarness(t, &fakeTransport{})
	h.connect()
	before := h.events.Len()

	assert.ErrorIs(t, h.manager.Connect(context.Background()), ErrAlreadyActive)
	assert.ErrorIs(t, <-h.manager.ConnectAsync(context.Background()), ErrAlreadyActive)
	assert.Equal(t, before, h.events.Len())
	assert.Len(t, h.transport.Streams(), 1)
}

func TestConnectAsync(t *testing.T) {
	h := newHarness(t, &fakeTransport{})

	select {
	case err := <-h.manager.ConnectAsync(context.Background()):
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("no completion signal")
	}
	assert.Equal(t, model.StateConnected, h.manager.State())
}

func TestDisconnectWhenDisconnectedIsNoop(t *testing.T) {
	h := newHarness(t, &fakeTransport{})

	require.NoError(t, h.manager.Disconnect(context.Background()))
	assert.Equal(t, model.StateDisconnected, h.manager.State())
	assert.Zero(t, h.events.Len())
	assert.Empty(t, h.States())
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t, &fakeTransport{})
	stream := h.connect()

	require.NoError(t, h.manager.Disconnect(context.Background()))
	assert.Equal(t, model.StateDisconnected, h.manager.State())
	assert.Equal(t, int32(1), stream.closes.Load())
	assert.Equal(t, []model.ConnectionState{
		model.StateConnecting, model.StateConnected, model.StateDisconnecting, model.StateDisconnected,
	}, h.States())

	msgs := h.messages()
	assert.Equal(t, []string{"Bluetooth link closed", "Disconnected from HC-05"}, msgs[len(msgs)-2:])
	assert.Empty(t, h.entries(model.CategoryError))

	// Second disconnect adds nothing.
	n := h.events.Len()
	require.NoError(t, h.manager.Disconnect(context.Background()))
	assert.Equal(t, n, h.events.Len())
	assert.Equal(t, int32(1), stream.closes.Load())

	assert.ErrorIs(t, h.manager.Send(context.Background(), "Box1_LED_OFF"), ErrNotConnected)

	// Reconnecting opens a fresh stream.
	second := h.connect()
	assert.NotSame(t, stream, second)
}

func TestDisconnectIsBoundedWhenReadNeverReturns(t *testing.T) {
	tr := &fakeTransport{prepare: func(s *fakeStream) { s.ignoreClose = true }}
	h := newHarness(t, tr, func(o *Options) { o.StopTimeout = 50 * time.Millisecond })
	h.connect()

	start := time.Now()
	require.NoError(t, h.manager.Disconnect(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, model.StateDisconnected, h.manager.State())
	assert.Contains(t, h.messages(), "Disconnected from HC-05")
}

func TestMidSessionDrop(t *testing.T) {
	h := newHarness(t, &fakeTransport{})
	stream := h.connect()

	stream.feed <- []byte("LAST\n")
	close(stream.feed)

	h.waitState(model.StateDisconnected)
	assert.Equal(t, int32(1), stream.closes.Load())

	msgs := h.messages()
	assert.Equal(t, "LAST", msgs[len(msgs)-2])
	assert.Equal(t, "Bluetooth link closed", msgs[len(msgs)-1])
	assert.NotContains(t, msgs, "Disconnected from HC-05")
	require.Eventually(t, func() bool {
		states := h.States()
		return states[len(states)-1] == model.StateDisconnected
	}, waitFor, tick)

	assert.ErrorIs(t, h.manager.Send(context.Background(), "Box1_LED_ON"), ErrNotConnected)

	// Disconnect after a drop is a no-op.
	n := h.events.Len()
	require.NoError(t, h.manager.Disconnect(context.Background()))
	assert.Equal(t, n, h.events.Len())
	assert.Equal(t, int32(1), stream.closes.Load())
}

func TestMidSessionDropOnEmptyReads(t *testing.T) {
	tr := &fakeTransport{prepare: func(s *fakeStream) { s.starve = true }}
	h := newHarness(t, tr)
	// The reader may give up before Connect's caller looks at the state.
	require.NoError(t, h.manager.Connect(context.Background()))
	stream := h.transport.Last()

	h.waitState(model.StateDisconnected)
	assert.Contains(t, h.messages(), "Connected to HC-05")
	assert.Equal(t, int32(1), stream.closes.Load())

	msgs := h.messages()
	assert.Equal(t, "Bluetooth link closed", msgs[len(msgs)-1])
	assert.NotContains(t, msgs, "Disconnected from HC-05")
	assert.Empty(t, h.entries(model.CategoryError))
	assert.ErrorIs(t, h.manager.Send(context.Background(), "Box1_LED_ON"), ErrNotConnected)

	require.NoError(t, h.manager.Disconnect(context.Background()))
	assert.Equal(t, int32(1), stream.closes.Load())
}

func TestSendWriteFailure(t *testing.T) {
	h := newHarness(t, &fakeTransport{})
	stream := h.connect()
	stream.SetWriteErr(errors.New("broken pipe"))

	err := h.manager.Send(context.Background(), "Box2_OPEN")
	assert.ErrorIs(t, err, ErrTransportWriteFailed)
	assert.Equal(t, []string{"Failed to send 'Box2_OPEN': broken pipe"}, h.entries(model.CategoryError))
	assert.Empty(t, h.entries(model.CategorySent))

	// A write failure does not tear the link down.
	assert.Equal(t, model.StateConnected, h.manager.State())

	stream.SetWriteErr(nil)
	require.NoError(t, h.manager.Send(context.Background(), "Box2_OPEN"))
	assert.Equal(t, "Box2_OPEN\n", stream.Written())
}

func TestSendTrailingTerminator(t *testing.T) {
	h := newHarness(t, &fakeTransport{})
	stream := h.connect()

	require.NoError(t, h.manager.Send(context.Background(), "Box1_LED_ON\n"))
	assert.Equal(t, "Box1_LED_ON\n", stream.Written())
	assert.Equal(t, []string{"Box1_LED_ON"}, h.entries(model.CategorySent))

	require.NoError(t, h.manager.Send(context.Background(), "Box1_LED_OFF\r\n"))
	assert.Equal(t, "Box1_LED_ON\nBox1_LED_OFF\n", stream.Written())
	assert.Equal(t, []string{"Box1_LED_ON", "Box1_LED_OFF"}, h.entries(model.CategorySent))

	for _, bad := range []string{"\n", "Box1_OPEN\n\n", "Box1\nBox2\n", "Box1_OPEN\r"} {
		assert.ErrorIs(t, h.manager.Send(context.Background(), bad), ErrInvalidCommand, "%q", bad)
	}
	assert.Equal(t, "Box1_LED_ON\nBox1_LED_OFF\n", stream.Written())
}

func TestSendInvalidCommand(t *testing.T) {
	h := newHarness(t, &fakeTransport{})
	h.connect()

	assert.ErrorIs(t, h.manager.Send(context.Background(), ""), ErrInvalidCommand)
	assert.ErrorIs(t, h.manager.Send(context.Background(), "Box1\nBox2"), ErrInvalidCommand)
	assert.Empty(t, h.transport.Last().Written())
}

func TestEventOrdering(t *testing.T) {
	h := newHarness(t, &fakeTransport{})
	stream := h.connect()

	require.NoError(t, h.manager.Send(context.Background(), "Box3_CLOSE"))
	stream.feed <- []byte("CLOSED\n")
	h.waitReceived(1)
	require.NoError(t, h.manager.Disconnect(context.Background()))

	index := make(map[string]int)
	for i, m := range h.messages() {
		index[m] = i
	}
	assert.Less(t, index["Connecting to HC-05 ..."], index["Connected to HC-05"])
	assert.Less(t, index["Connected to HC-05"], index["Box3_CLOSE"])
	assert.Less(t, index["Connected to HC-05"], index["CLOSED"])
	assert.Less(t, index["Box3_CLOSE"], index["Bluetooth link closed"])
	assert.Less(t, index["CLOSED"], index["Bluetooth link closed"])

	// Every entry of one attempt carries the same link id.
	var linkID string
	for _, e := range h.events.Snapshot() {
		require.NotNil(t, e.LinkID, e.Message)
		if linkID == "" {
			linkID = e.LinkID.String()
		}
		assert.Equal(t, linkID, e.LinkID.String())
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t, &fakeTransport{})

	s := h.manager.Status()
	assert.Equal(t, model.StateDisconnected, s.State)
	assert.Equal(t, "HC-05", s.PeerName)
	assert.Nil(t, s.LinkID)

	stream := h.connect()
	require.NoError(t, h.manager.Send(context.Background(), "Box1_OPEN"))
	stream.feed <- []byte("OK\n")
	h.waitReceived(1)

	s = h.manager.Status()
	assert.Equal(t, model.StateConnected, s.State)
	require.NotNil(t, s.LinkID)
	require.NotNil(t, s.Peer)
	assert.Equal(t, "/dev/rfcomm0", s.Peer.Address)
	assert.Equal(t, int64(len("Box1_OPEN\n")), s.BytesSent)
	assert.Equal(t, int64(1), s.CommandsSent)
	assert.Equal(t, int64(3), s.BytesReceived)
	assert.Equal(t, int64(1), s.LinesReceived)
}

func TestPreflight(t *testing.T) {
	registry, err := peer.NewStatic([]config.PeerConfig{{Name: "HC-05", Address: "/dev/rfcomm0"}}, model.TransportSerial)
	require.NoError(t, err)

	pt := &preflightTransport{fakeTransport: &fakeTransport{}, err: ErrAdapterUnavailable}
	m := NewManager(Options{PeerName: "HC-05"}, pt, registry, eventlog.New(), zap.NewNop())
	defer m.Close(context.Background())

	assert.ErrorIs(t, m.Preflight(context.Background()), ErrAdapterUnavailable)

	plain := newHarness(t, &fakeTransport{})
	assert.NoError(t, plain.manager.Preflight(context.Background()))
}

func TestCloseDisconnectsAndRejectsFurtherCalls(t *testing.T) {
	h := newHarness(t, &fakeTransport{})
	stream := h.connect()

	require.NoError(t, h.manager.Close(context.Background()))
	assert.Equal(t, model.StateDisconnected, h.manager.State())
	assert.Equal(t, int32(1), stream.closes.Load())
	assert.Contains(t, h.messages(), "Disconnected from HC-05")

	assert.ErrorIs(t, h.manager.Connect(context.Background()), ErrClosed)
	assert.ErrorIs(t, h.manager.Disconnect(context.Background()), ErrClosed)
	assert.NoError(t, h.manager.Close(context.Background()))
}

func TestConcurrentOperationsKeepStateConsistent(t *testing.T) {
	tr := &fakeTransport{}
	h := newHarness(t, tr)

	var mu sync.Mutex
	var invalid []model.ConnectionState
	h.manager.OnStateChanged(func(s model.ConnectionState) {
		if !s.Valid() {
			mu.Lock()
			invalid = append(invalid, s)
			mu.Unlock()
		}
	})

	var workers sync.WaitGroup
	for w := 0; w < 8; w++ {
		workers.Add(1)
		go func(seed int64) {
			defer workers.Done()
			rnd := rand.New(rand.NewSource(seed))
			for i := 0; i < 50; i++ {
				switch rnd.Intn(4) {
				case 0:
					h.manager.Connect(context.Background())
				case 1:
					h.manager.Disconnect(context.Background())
				case 2:
					h.manager.Send(context.Background(), fmt.Sprintf("Box%d_LED_ON", seed))
				case 3:
					if s := tr.Last(); s != nil && rnd.Intn(4) == 0 {
						select {
						case s.feed <- []byte("PING\n"):
						default:
						}
					}
				}
				assert.True(t, h.manager.State().Valid())
			}
		}(int64(w))
	}
	workers.Wait()

	require.NoError(t, h.manager.Disconnect(context.Background()))
	assert.Equal(t, model.StateDisconnected, h.manager.State())
	mu.Lock()
	assert.Empty(t, invalid)
	mu.Unlock()

	// Every stream that was opened was closed exactly once.
	for i, s := range tr.Streams() {
		assert.Equal(t, int32(1), s.closes.Load(), "stream %d", i)
	}

	// Sent entries only ever appear while a link exists.
	connected := false
	for _, e := range h.events.Snapshot() {
		switch {
		case e.Category == model.CategoryInfo && e.Message == "Connected to HC-05":
			connected = true
		case e.Category == model.CategoryInfo && e.Message == "Bluetooth link closed":
			connected = false
		case e.Category == model.CategorySent:
			assert.True(t, connected, "sent %q without a link", e.Message)
		}
	}
}
