// internal/handler/errors.go
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"link-service/internal/link"
	"link-service/internal/service"
	"link-service/internal/utils"
)

// linkError is the HTTP rendering of a link failure
type linkError struct {
	Status  int
	Code    string
	Message string
}

// classify maps link and service errors to a status, a stable code and the
// operator facing message. Permission and adapter problems are checked
// before the generic open failure they are usually wrapped in.
func classify(err error, peerName string) linkError {
	switch {
	case errors.Is(err, link.ErrAlreadyActive):
		return linkError{http.StatusConflict, "ALREADY_ACTIVE", "Already connected or connecting"}
	case errors.Is(err, link.ErrPeerNotFound):
		return linkError{http.StatusNotFound, "PEER_NOT_FOUND", fmt.Sprintf("%s not paired. Pair it in system settings first.", peerName)}
	case errors.Is(err, link.ErrNotConnected):
		return linkError{http.StatusConflict, "NOT_CONNECTED", fmt.Sprintf("Connect to %s first", peerName)}
	case errors.Is(err, link.ErrInvalidCommand), errors.Is(err, service.ErrCommandMissing):
		return linkError{http.StatusBadRequest, "INVALID_COMMAND", "Invalid command"}
	case errors.Is(err, service.ErrUnknownAction):
		return linkError{http.StatusNotFound, "UNKNOWN_ACTION", "Unknown actuator action"}
	case errors.Is(err, link.ErrPermissionDenied):
		return linkError{http.StatusForbidden, "PERMISSION_DENIED", "Bluetooth permission is required"}
	case errors.Is(err, link.ErrAdapterUnavailable):
		return linkError{http.StatusServiceUnavailable, "ADAPTER_UNAVAILABLE", "Bluetooth adapter unavailable"}
	case errors.Is(err, link.ErrNotSupported):
		return linkError{http.StatusNotImplemented, "NOT_SUPPORTED", "Transport not supported on this platform"}
	case errors.Is(err, link.ErrTransportOpenFailed):
		return linkError{http.StatusBadGateway, "CONNECT_FAILED", "Unable to connect"}
	case errors.Is(err, link.ErrTransportWriteFailed):
		return linkError{http.StatusBadGateway, "SEND_FAILED", "Send failed"}
	case errors.Is(err, link.ErrClosed):
		return linkError{http.StatusServiceUnavailable, "SHUTTING_DOWN", "Link controller is shutting down"}
	case errors.Is(err, service.ErrPeersUnlisted), errors.Is(err, service.ErrArchiveDisabled):
		return linkError{http.StatusNotImplemented, "NOT_AVAILABLE", "Not available with the current configuration"}
	case errors.Is(err, context.DeadlineExceeded):
		return linkError{http.StatusGatewayTimeout, "TIMEOUT", "Operation timed out"}
	default:
		return linkError{http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error"}
	}
}

func respondLinkError(c *gin.Context, err error, peerName string) {
	le := classify(err, peerName)
	utils.CodedErrorResponse(c, le.Status, le.Code, le.Message, err)
}
