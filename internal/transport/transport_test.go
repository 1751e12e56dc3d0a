package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"link-service/internal/config"
	"link-service/internal/model"
)

type countingStream struct {
	bytes.Buffer
	closes int
}

func (c *countingStream) Close() error {
	c.closes++
	return errors.New("closed")
}

func TestGuardClosesOnce(t *testing.T) {
	inner := &countingStream{}
	s := Guard(inner)

	err1 := s.Close()
	err2 := s.Close()

	assert.Equal(t, 1, inner.closes)
	assert.EqualError(t, err1, "closed")
	assert.Equal(t, err1, err2)
	assert.Same(t, s, Guard(s))
}

func TestPortOptionsNormalize(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"}, opts)

	opts, err = PortOptions{BaudRate: 38400, Parity: "even", StopBits: 2}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "E", opts.Parity)

	_, err = PortOptions{DataBits: 9}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{StopBits: 3}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{Parity: "mark"}.Normalize()
	assert.Error(t, err)
}

func TestPortOptionsSerialMode(t *testing.T) {
	mode, err := PortOptions{StopBits: 2, Parity: "odd"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 9600, mode.BaudRate)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.OddParity, mode.Parity)

	mode, err = PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, serial.NoParity, mode.Parity)
}

func TestSerialOpenFailure(t *testing.T) {
	s := NewSerial(config.SerialTransportConfig{BaudRate: 9600}, zap.NewNop())
	var gotName string
	s.openPort = func(name string, mode *serial.Mode) (serial.Port, error) {
		gotName = name
		return nil, errors.New("no such file or directory")
	}

	_, err := s.Open(context.Background(), model.PeerDescriptor{Name: "HC-05", Address: "/dev/rfcomm0"})
	require.Error(t, err)
	assert.Equal(t, "/dev/rfcomm0", gotName)
	assert.Contains(t, err.Error(), "no such file or directory")

	_, err = s.Open(context.Background(), model.PeerDescriptor{Name: "HC-05"})
	assert.Error(t, err)
}

func TestSerialPreflight(t *testing.T) {
	s := NewSerial(config.SerialTransportConfig{}, zap.NewNop())
	s.listPorts = func() ([]string, error) { return []string{"/dev/ttyS0", "/dev/rfcomm0"}, nil }
	s.detailPorts = nil

	assert.NoError(t, s.Preflight(context.Background(), model.PeerDescriptor{Address: "/dev/rfcomm0"}))
	err := s.Preflight(context.Background(), model.PeerDescriptor{Address: "/dev/rfcomm7"})
	assert.ErrorIs(t, err, ErrAdapterUnavailable)

	s.listPorts = func() ([]string, error) { return nil, errors.New("enumeration failed") }
	assert.NoError(t, s.Preflight(context.Background(), model.PeerDescriptor{Address: "/dev/rfcomm7"}))
}

func TestTCPRoundTripAndCloseUnblocksRead(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	tr := NewTCP(config.TCPTransportConfig{KeepAlive: true, WriteTimeout: time.Second}, zap.NewNop())
	stream, err := tr.Open(context.Background(), model.PeerDescriptor{Name: "bridge", Address: ln.Addr().String()})
	require.NoError(t, err)

	var peer net.Conn
	select {
	case peer = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not accept")
	}
	defer peer.Close()

	_, err = stream.Write([]byte("Box1_LED_ON\n"))
	require.NoError(t, err)
	buf := make([]byte, 64)
	n, err := peer.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "Box1_LED_ON\n", string(buf[:n]))

	_, err = peer.Write([]byte("ACK\n"))
	require.NoError(t, err)
	n, err = stream.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ACK\n", string(buf[:n]))

	readErr := make(chan error, 1)
	go func() {
		_, err := stream.Read(buf)
		readErr <- err
	}()
	require.NoError(t, stream.Close())

	select {
	case err := <-readErr:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close did not unblock read")
	}
}

func TestTCPPeerCloseIsEOF(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	tr := NewTCP(config.TCPTransportConfig{}, zap.NewNop())
	stream, err := tr.Open(context.Background(), model.PeerDescriptor{Address: ln.Addr().String()})
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Read(make([]byte, 16))
	assert.ErrorIs(t, err, io.EOF)
}

func TestTCPInvalidAddress(t *testing.T) {
	tr := NewTCP(config.TCPTransportConfig{}, zap.NewNop())
	_, err := tr.Open(context.Background(), model.PeerDescriptor{Name: "bridge", Address: "no-port"})
	assert.Error(t, err)
}

func TestParseUSBAddress(t *testing.T) {
	vid, pid, err := parseUSBAddress("10c4:EA60")
	require.NoError(t, err)
	assert.Equal(t, "10c4", vid.String())
	assert.Equal(t, "ea60", pid.String())

	vid, _, err = parseUSBAddress("0x0403:0x6001")
	require.NoError(t, err)
	assert.Equal(t, "0403", vid.String())

	for _, bad := range []string{"", "10c4", "zzzz:0001", "10c4:1ffff"} {
		_, _, err := parseUSBAddress(bad)
		assert.Error(t, err, bad)
	}
}

func TestFactory(t *testing.T) {
	cfg := config.TransportsConfig{
		Serial: config.SerialTransportConfig{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "none"},
		RFCOMM: config.RFCOMMTransportConfig{Adapter: "hci0"},
		USB:    config.USBTransportConfig{Config: 1, InEndpoint: 0x81, OutEndpoint: 0x01},
	}

	for _, kind := range []model.TransportKind{
		model.TransportSerial, model.TransportRFCOMM, model.TransportTCP, model.TransportUSB,
	} {
		tr, err := New(kind, cfg, zap.NewNop())
		require.NoError(t, err, kind)
		assert.Equal(t, kind, tr.Kind())
	}

	_, err := New("carrier-pigeon", cfg, zap.NewNop())
	assert.Error(t, err)

	bad := cfg
	bad.Serial.Parity = "mark"
	_, err = New(model.TransportSerial, bad, zap.NewNop())
	assert.Error(t, err)

	bad = cfg
	bad.USB.OutEndpoint = 0x80
	_, err = New(model.TransportUSB, bad, zap.NewNop())
	assert.Error(t, err)
}

func TestSerialAndRFCOMMPreflighters(t *testing.T) {
	var _ Preflighter = (*Serial)(nil)
	var _ Preflighter = (*RFCOMM)(nil)
}

func TestLookupBridge(t *testing.T) {
	b, ok := LookupBridge(0x10c4, 0xea60)
	require.True(t, ok)
	assert.Equal(t, "Silicon Labs CP210x", b.String())
	assert.False(t, b.CDC)

	_, ok = LookupBridge(0xdead, 0xbeef)
	assert.False(t, ok)
}

func TestSerialPreflightIdentifiesBridge(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewSerial(config.SerialTransportConfig{}, zap.New(core))
	s.listPorts = func() ([]string, error) { return []string{"/dev/ttyUSB0"}, nil }
	s.detailPorts = func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{
			{Name: "/dev/ttyS0"},
			{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1a86", PID: "7523"},
		}, nil
	}

	require.NoError(t, s.Preflight(context.Background(), model.PeerDescriptor{Address: "/dev/ttyUSB0"}))
	entries := logs.FilterMessage("Serial port is a USB bridge").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "QinHeng CH340", entries[0].ContextMap()["bridge"])
}
