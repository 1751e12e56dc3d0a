// internal/transport/usb.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"link-service/internal/config"
	"link-service/internal/model"
)

// USB talks to the module through a USB bulk bridge (a CDC or vendor
// serial adapter). peer.Address is "vid:pid" in hex, e.g. "10c4:ea60".
type USB struct {
	config config.USBTransportConfig
	logger *zap.Logger
}

// NewUSB creates a USB bridge transport
func NewUSB(cfg config.USBTransportConfig, logger *zap.Logger) *USB {
	return &USB{
		config: cfg,
		logger: logger.With(zap.String("protocol", "usb")),
	}
}

// Kind returns model.TransportUSB
func (u *USB) Kind() model.TransportKind {
	return model.TransportUSB
}

// Open claims the configured interface and both bulk endpoints
func (u *USB) Open(ctx context.Context, peer model.PeerDescriptor) (Stream, error) {
	vendorID, productID, err := parseUSBAddress(peer.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid USB address %q for %s: %w", peer.Address, peer.Name, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.String("vendor_id", vendorID.String()),
		zap.String("product_id", productID.String()),
		zap.Int("interface", u.config.Interface),
	}
	if b, ok := LookupBridge(vendorID, productID); ok {
		fields = append(fields, zap.Stringer("bridge", b), zap.Bool("cdc", b.CDC))
	}
	u.logger.Info("Opening USB connection", fields...)

	s := &usbStream{usb: gousb.NewContext()}
	if err := s.open(u.config, vendorID, productID, u.logger); err != nil {
		s.release()
		u.logger.Error("Failed to open USB connection", zap.Error(err))
		return nil, classifyUSBError(err)
	}
	s.readCtx, s.cancel = context.WithCancel(context.Background())

	u.logger.Info("USB connection opened successfully")
	return s, nil
}

type usbStream struct {
	usb  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint

	readCtx context.Context
	cancel  context.CancelFunc
	readMu  sync.Mutex
}

func (s *usbStream) open(cfg config.USBTransportConfig, vendorID, productID gousb.ID, logger *zap.Logger) error {
	devices, err := s.usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == vendorID && desc.Product == productID
	})
	if err != nil && len(devices) == 0 {
		return fmt.Errorf("failed to enumerate USB devices: %w", err)
	}
	if len(devices) == 0 {
		return fmt.Errorf("%w: USB device not found (VID: %s, PID: %s)", ErrAdapterUnavailable, vendorID, productID)
	}
	if len(devices) > 1 {
		for _, d := range devices[1:] {
			d.Close()
		}
		logger.Warn("Multiple matching USB devices found, using first one")
	}
	s.dev = devices[0]

	if err := s.dev.SetAutoDetach(true); err != nil {
		logger.Debug("Kernel driver auto-detach unavailable", zap.Error(err))
	}

	if s.cfg, err = s.dev.Config(cfg.Config); err != nil {
		return fmt.Errorf("failed to select configuration %d: %w", cfg.Config, err)
	}
	if s.intf, err = s.cfg.Interface(cfg.Interface, cfg.AltSetting); err != nil {
		return fmt.Errorf("failed to claim interface %d: %w", cfg.Interface, err)
	}
	// gousb addresses endpoints by number; the direction bit is implied.
	if s.in, err = s.intf.InEndpoint(cfg.InEndpoint & 0x0f); err != nil {
		return fmt.Errorf("failed to get in endpoint: %w", err)
	}
	if s.out, err = s.intf.OutEndpoint(cfg.OutEndpoint & 0x0f); err != nil {
		return fmt.Errorf("failed to get out endpoint: %w", err)
	}
	return nil
}

func (s *usbStream) Read(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	return s.in.ReadContext(s.readCtx, p)
}

func (s *usbStream) Write(p []byte) (int, error) {
	n, err := s.out.Write(p)
	if err == nil && n != len(p) {
		return n, fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(p))
	}
	return n, err
}

// Close aborts a pending read, waits for it, then releases the device
func (s *usbStream) Close() error {
	s.cancel()
	s.readMu.Lock()
	defer s.readMu.Unlock()
	s.release()
	return nil
}

func (s *usbStream) release() {
	if s.intf != nil {
		s.intf.Close()
		s.intf = nil
	}
	if s.cfg != nil {
		s.cfg.Close()
		s.cfg = nil
	}
	if s.dev != nil {
		s.dev.Close()
		s.dev = nil
	}
	if s.usb != nil {
		s.usb.Close()
		s.usb = nil
	}
}

// parseUSBAddress parses "vid:pid" where both parts are hex, with or
// without a 0x prefix.
func parseUSBAddress(addr string) (gousb.ID, gousb.ID, error) {
	vid, pid, ok := strings.Cut(addr, ":")
	if !ok {
		return 0, 0, errors.New("expected vid:pid")
	}
	vendorID, err := parseHexID(vid)
	if err != nil {
		return 0, 0, fmt.Errorf("vendor id: %w", err)
	}
	productID, err := parseHexID(pid)
	if err != nil {
		return 0, 0, fmt.Errorf("product id: %w", err)
	}
	return vendorID, productID, nil
}

func parseHexID(hexStr string) (gousb.ID, error) {
	hexStr = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(hexStr)), "0x")
	id, err := strconv.ParseUint(hexStr, 16, 16)
	if err != nil {
		return 0, err
	}
	return gousb.ID(id), nil
}

func classifyUSBError(err error) error {
	if errors.Is(err, gousb.ErrorAccess) {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if errors.Is(err, gousb.ErrorNoDevice) {
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}
	return err
}
