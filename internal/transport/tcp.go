// internal/transport/tcp.go
package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"link-service/internal/config"
	"link-service/internal/model"
)

// TCP reaches the module through a serial-over-TCP bridge (ser2net and
// similar). peer.Address is "host:port".
type TCP struct {
	config config.TCPTransportConfig
	logger *zap.Logger
}

// NewTCP creates a TCP bridge transport
func NewTCP(cfg config.TCPTransportConfig, logger *zap.Logger) *TCP {
	return &TCP{
		config: cfg,
		logger: logger.With(zap.String("protocol", "tcp")),
	}
}

// Kind returns model.TransportTCP
func (t *TCP) Kind() model.TransportKind {
	return model.TransportTCP
}

// Open dials peer.Address. The dial honours ctx.
func (t *TCP) Open(ctx context.Context, peer model.PeerDescriptor) (Stream, error) {
	if _, _, err := net.SplitHostPort(peer.Address); err != nil {
		return nil, fmt.Errorf("invalid bridge address %q for %s: %w", peer.Address, peer.Name, err)
	}

	t.logger.Info("Opening TCP connection", zap.String("address", peer.Address))

	dialer := &net.Dialer{}
	if t.config.KeepAlive {
		dialer.KeepAlive = 30 * time.Second
	} else {
		dialer.KeepAlive = -1
	}

	conn, err := dialer.DialContext(ctx, "tcp", peer.Address)
	if err != nil {
		t.logger.Error("Failed to open TCP connection", zap.Error(err))
		return nil, fmt.Errorf("failed to connect to %s: %w", peer.Address, err)
	}

	t.logger.Info("TCP connection opened successfully", zap.String("address", peer.Address))
	return &tcpStream{Conn: conn, writeTimeout: t.config.WriteTimeout}, nil
}

// tcpStream bounds each write so a stalled bridge surfaces as a write
// failure instead of blocking the dispatcher.
type tcpStream struct {
	net.Conn
	writeTimeout time.Duration
}

func (s *tcpStream) Write(p []byte) (int, error) {
	if s.writeTimeout > 0 {
		if err := s.Conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return s.Conn.Write(p)
}
