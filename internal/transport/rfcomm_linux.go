// internal/transport/rfcomm_linux.go
//go:build linux

package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"

	dbus "github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"link-service/internal/bluez"
	"link-service/internal/config"
	"link-service/internal/model"
)

var profileCounter uint64

// RFCOMM connects to the module's SPP service through BlueZ. It registers
// a client Profile1, asks the device to connect that profile and receives
// the RFCOMM socket from BlueZ.
type RFCOMM struct {
	config config.RFCOMMTransportConfig
	logger *zap.Logger
}

// NewRFCOMM creates a BlueZ RFCOMM transport
func NewRFCOMM(cfg config.RFCOMMTransportConfig, logger *zap.Logger) *RFCOMM {
	if cfg.ServiceUUID == "" {
		cfg.ServiceUUID = bluez.SPPUUID
	}
	if cfg.Adapter == "" {
		cfg.Adapter = "hci0"
	}
	return &RFCOMM{
		config: cfg,
		logger: logger.With(zap.String("protocol", "rfcomm"), zap.String("adapter", cfg.Adapter)),
	}
}

// Kind returns model.TransportRFCOMM
func (r *RFCOMM) Kind() model.TransportKind {
	return model.TransportRFCOMM
}

// Preflight checks that the adapter exists, is powered and reachable
func (r *RFCOMM) Preflight(ctx context.Context, _ model.PeerDescriptor) error {
	client, err := bluez.Connect()
	if err != nil {
		return mapBluezError(err)
	}
	defer client.Close()

	return mapBluezError(client.AdapterPowered(ctx, r.config.Adapter))
}

// Open connects the SPP profile on the peer and returns the socket
func (r *RFCOMM) Open(ctx context.Context, peer model.PeerDescriptor) (Stream, error) {
	devPath := dbus.ObjectPath(peer.Path)
	if devPath == "" {
		if peer.Address == "" {
			return nil, fmt.Errorf("bluetooth address for %s is not configured", peer.Name)
		}
		devPath = bluez.DevicePath(r.config.Adapter, peer.Address)
	}

	r.logger.Info("Opening RFCOMM connection",
		zap.String("device", string(devPath)),
		zap.String("uuid", r.config.ServiceUUID),
	)

	client, err := bluez.Connect()
	if err != nil {
		return nil, mapBluezError(err)
	}

	s := &rfcommStream{client: client}
	fd, err := s.connect(ctx, devPath, r.config.ServiceUUID, peer.Channel)
	if err != nil {
		s.release()
		r.logger.Error("Failed to open RFCOMM connection", zap.Error(err))
		return nil, mapBluezError(err)
	}

	// A non-blocking descriptor lets the runtime poller interrupt a pending
	// Read when the file is closed.
	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		s.release()
		return nil, fmt.Errorf("set non-blocking: %w", err)
	}
	s.File = os.NewFile(uintptr(fd), "rfcomm:"+peer.Address)

	r.logger.Info("RFCOMM connection opened successfully", zap.String("device", string(devPath)))
	return s, nil
}

type rfcommStream struct {
	*os.File
	client  *bluez.Client
	profile dbus.ObjectPath
	mu      sync.Mutex
}

func (s *rfcommStream) connect(ctx context.Context, devPath dbus.ObjectPath, uuid string, channel uint8) (int, error) {
	bus := s.client.Conn()

	prof := &clientProfile{ch: make(chan int, 1)}
	id := atomic.AddUint64(&profileCounter, 1)
	s.profile = dbus.ObjectPath("/link_service/profile/client" + strconv.FormatUint(id, 10))
	if err := bus.Export(prof, s.profile, bluez.ProfileInterface); err != nil {
		return 0, fmt.Errorf("export client profile: %w", err)
	}

	opts := map[string]dbus.Variant{
		"Role": dbus.MakeVariant("client"),
	}
	if channel > 0 {
		opts["Channel"] = dbus.MakeVariant(uint16(channel))
	}
	pm := bus.Object(bluez.Service, dbus.ObjectPath("/org/bluez"))
	if call := pm.CallWithContext(ctx, bluez.ProfileManagerIface+".RegisterProfile", 0, s.profile, uuid, opts); call.Err != nil {
		s.profile = ""
		return 0, fmt.Errorf("RegisterProfile: %w", call.Err)
	}

	dev := bus.Object(bluez.Service, devPath)
	if call := dev.CallWithContext(ctx, bluez.DeviceIface+".ConnectProfile", 0, uuid); call.Err != nil {
		return 0, fmt.Errorf("ConnectProfile: %w", call.Err)
	}

	select {
	case <-ctx.Done():
		prof.abandon()
		return 0, fmt.Errorf("connect canceled: %w", ctx.Err())
	case fd := <-prof.ch:
		return fd, nil
	}
}

// Close closes the socket, then unregisters the profile and drops the bus
func (s *rfcommStream) Close() error {
	var err error
	if s.File != nil {
		err = s.File.Close()
	}
	s.release()
	return err
}

func (s *rfcommStream) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return
	}
	if s.profile != "" {
		bus := s.client.Conn()
		pm := bus.Object(bluez.Service, dbus.ObjectPath("/org/bluez"))
		_ = pm.Call(bluez.ProfileManagerIface+".UnregisterProfile", 0, s.profile).Err
		_ = bus.Export(nil, s.profile, bluez.ProfileInterface)
	}
	s.client.Close()
	s.client = nil
}

// clientProfile implements org.bluez.Profile1 and hands the first
// connection's descriptor to the waiting Open.
type clientProfile struct {
	mu        sync.Mutex
	ch        chan int
	delivered bool
	abandoned bool
}

func (p *clientProfile) Release() *dbus.Error { return nil }

func (p *clientProfile) Cancel() *dbus.Error { return nil }

func (p *clientProfile) RequestDisconnection(_ dbus.ObjectPath) *dbus.Error { return nil }

func (p *clientProfile) NewConnection(_ dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.delivered || p.abandoned {
		syscall.Close(int(fd))
		return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []interface{}{"no receiver"}}
	}
	p.delivered = true
	p.ch <- int(fd)
	return nil
}

// abandon makes late connections close their descriptor. A descriptor that
// already arrived is closed here.
func (p *clientProfile) abandon() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.abandoned = true
	select {
	case fd := <-p.ch:
		syscall.Close(fd)
	default:
	}
}

func mapBluezError(err error) error {
	err = bluez.Classify(err)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bluez.ErrAccessDenied):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, bluez.ErrNoAdapter), errors.Is(err, bluez.ErrAdapterOff):
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}
	return err
}
