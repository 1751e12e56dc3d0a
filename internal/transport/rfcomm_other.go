// internal/transport/rfcomm_other.go
//go:build !linux

package transport

import (
	"context"

	"go.uber.org/zap"

	"link-service/internal/config"
	"link-service/internal/model"
)

// RFCOMM requires BlueZ; elsewhere bind the module to a serial port and use
// the serial transport.
type RFCOMM struct {
	logger *zap.Logger
}

// NewRFCOMM creates an RFCOMM transport that always reports ErrNotSupported
func NewRFCOMM(_ config.RFCOMMTransportConfig, logger *zap.Logger) *RFCOMM {
	return &RFCOMM{logger: logger.With(zap.String("protocol", "rfcomm"))}
}

// Kind returns model.TransportRFCOMM
func (r *RFCOMM) Kind() model.TransportKind {
	return model.TransportRFCOMM
}

// Preflight returns ErrAdapterUnavailable
func (r *RFCOMM) Preflight(context.Context, model.PeerDescriptor) error {
	return ErrAdapterUnavailable
}

// Open returns ErrNotSupported
func (r *RFCOMM) Open(context.Context, model.PeerDescriptor) (Stream, error) {
	return nil, ErrNotSupported
}
