// internal/link/errors.go
package link

import (
	"errors"

	"link-service/internal/command"
	"link-service/internal/transport"
)

var (
	ErrAlreadyActive       = errors.New("link already active")
	ErrPeerNotFound        = errors.New("peer not paired")
	ErrNotConnected        = errors.New("not connected")
	ErrTransportReadFailed = errors.New("transport read failed")
	ErrClosed              = errors.New("link manager closed")

	ErrInvalidCommand       = command.ErrInvalidCommand
	ErrTransportOpenFailed  = transport.ErrTransportOpenFailed
	ErrTransportWriteFailed = transport.ErrTransportWriteFailed
	ErrAdapterUnavailable   = transport.ErrAdapterUnavailable
	ErrPermissionDenied     = transport.ErrPermissionDenied
	ErrNotSupported         = transport.ErrNotSupported
)
