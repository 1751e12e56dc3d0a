// internal/transport/serial.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"link-service/internal/config"
	"link-service/internal/model"
)

// PortOptions describes the line settings of a serial port
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and fills in HC-05 factory defaults
// (9600 8N1) for unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 9600
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("invalid parity %q: expected none, even or odd", opts.Parity)
	}

	return opts, nil
}

// SerialMode converts the options into the mode go.bug.st/serial opens with
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}

	return mode, nil
}

// Serial opens the OS serial device bound to the peer, e.g. /dev/rfcomm0
// after `rfcomm bind` or the outgoing COM port on Windows.
type Serial struct {
	options PortOptions
	logger  *zap.Logger

	openPort    func(name string, mode *serial.Mode) (serial.Port, error)
	listPorts   func() ([]string, error)
	detailPorts func() ([]*enumerator.PortDetails, error)
}

// NewSerial creates a serial transport
func NewSerial(cfg config.SerialTransportConfig, logger *zap.Logger) *Serial {
	return &Serial{
		options: PortOptions{
			BaudRate: cfg.BaudRate,
			DataBits: cfg.DataBits,
			StopBits: cfg.StopBits,
			Parity:   cfg.Parity,
		},
		logger:      logger.With(zap.String("protocol", "serial")),
		openPort:    serial.Open,
		listPorts:   serial.GetPortsList,
		detailPorts: enumerator.GetDetailedPortsList,
	}
}

// Kind returns model.TransportSerial
func (s *Serial) Kind() model.TransportKind {
	return model.TransportSerial
}

// Open opens the port named by peer.Address
func (s *Serial) Open(ctx context.Context, peer model.PeerDescriptor) (Stream, error) {
	if peer.Address == "" {
		return nil, fmt.Errorf("serial port for %s is not configured", peer.Name)
	}

	mode, err := s.options.SerialMode()
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.logger.Info("Opening serial port",
		zap.String("port", peer.Address),
		zap.Int("baud_rate", mode.BaudRate),
	)

	port, err := s.openPort(peer.Address, mode)
	if err != nil {
		s.logger.Error("Failed to open serial port", zap.Error(err))
		return nil, classifySerialError(peer.Address, err)
	}

	// Opening may race with a cancelled connect; do not leak the port.
	if err := ctx.Err(); err != nil {
		port.Close()
		return nil, err
	}

	s.logger.Info("Serial port opened successfully", zap.String("port", peer.Address))
	return port, nil
}

// Preflight reports ErrAdapterUnavailable when the port does not exist
func (s *Serial) Preflight(_ context.Context, peer model.PeerDescriptor) error {
	ports, err := s.listPorts()
	if err != nil {
		// Enumeration is best effort; let Open report the real problem.
		s.logger.Debug("Serial port enumeration failed", zap.Error(err))
		return nil
	}

	want := peer.Address
	if resolved, err := filepath.EvalSymlinks(want); err == nil {
		want = resolved
	}
	for _, p := range ports {
		if p == peer.Address || p == want {
			s.describe(p)
			return nil
		}
	}
	return fmt.Errorf("%w: serial port %s not present", ErrAdapterUnavailable, peer.Address)
}

// describe logs which USB bridge, if any, backs port
func (s *Serial) describe(port string) {
	if s.detailPorts == nil {
		return
	}
	details, err := s.detailPorts()
	if err != nil {
		return
	}
	for _, d := range details {
		if d.Name != port || !d.IsUSB {
			continue
		}
		fields := []zap.Field{
			zap.String("port", port),
			zap.String("vid", d.VID),
			zap.String("pid", d.PID),
			zap.String("serial_number", d.SerialNumber),
		}
		vid, vErr := parseHexID(d.VID)
		pid, pErr := parseHexID(d.PID)
		if vErr == nil && pErr == nil {
			if b, ok := LookupBridge(vid, pid); ok {
				fields = append(fields, zap.Stringer("bridge", b))
			}
		}
		s.logger.Info("Serial port is a USB bridge", fields...)
		return
	}
}

func classifySerialError(port string, err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PermissionDenied:
			return fmt.Errorf("%w: open %s: %v", ErrPermissionDenied, port, err)
		case serial.PortNotFound:
			return fmt.Errorf("%w: open %s: %v", ErrAdapterUnavailable, port, err)
		}
	}
	return fmt.Errorf("open serial port %s: %w", port, err)
}
