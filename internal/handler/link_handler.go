// internal/handler/link_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"link-service/internal/service"
	"link-service/internal/utils"
)

// LinkHandler handles link lifecycle and command HTTP requests
type LinkHandler struct {
	linkService *service.LinkService
	logger      *utils.ServiceLogger
}

// NewLinkHandler creates a new link handler
func NewLinkHandler(linkService *service.LinkService, logger *zap.Logger) *LinkHandler {
	return &LinkHandler{
		linkService: linkService,
		logger:      utils.NewServiceLogger(logger, "link-handler"),
	}
}

// GetStatus returns the link state
// @Summary Link status
// @Description Get the connection state, the configured peer and link counters
// @Tags Link
// @Produce json
// @Success 200 {object} utils.APIResponse{data=link.Status} "Link status"
// @Router /link [get]
func (h *LinkHandler) GetStatus(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Link status retrieved", h.linkService.Status())
}

// Connect opens the link to the configured peer
// @Summary Connect
// @Description Check the adapter, then open the link to the configured peer. Returns once the attempt has finished.
// @Tags Link
// @Produce json
// @Success 200 {object} utils.APIResponse{data=link.Status} "Connected"
// @Failure 403 {object} utils.APIResponse "Bluetooth permission is required"
// @Failure 404 {object} utils.APIResponse "Peer not paired"
// @Failure 409 {object} utils.APIResponse "Already connected or connecting"
// @Failure 502 {object} utils.APIResponse "Unable to connect"
// @Failure 503 {object} utils.APIResponse "Bluetooth adapter unavailable"
// @Router /link/connect [post]
func (h *LinkHandler) Connect(c *gin.Context) {
	if err := h.linkService.Connect(c.Request.Context()); err != nil {
		respondLinkError(c, err, h.linkService.Status().PeerName)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Connected", h.linkService.Status())
}

// Disconnect closes the link
// @Summary Disconnect
// @Description Close the link. Does nothing when no link is open.
// @Tags Link
// @Produce json
// @Success 200 {object} utils.APIResponse{data=link.Status} "Disconnected"
// @Router /link/disconnect [post]
func (h *LinkHandler) Disconnect(c *gin.Context) {
	if err := h.linkService.Disconnect(c.Request.Context()); err != nil {
		h.logger.Error("Failed to disconnect", zap.Error(err))
		respondLinkError(c, err, h.linkService.Status().PeerName)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Disconnected", h.linkService.Status())
}

// SendCommand writes a command token to the peer
// @Summary Send command
// @Description Send a raw token, or the token configured for an actuator action. The token is written followed by a newline.
// @Tags Link
// @Accept json
// @Produce json
// @Param request body service.SendCommandRequest true "Command"
// @Success 200 {object} utils.APIResponse{data=service.SendResult} "Command sent"
// @Failure 400 {object} utils.APIResponse "Invalid command"
// @Failure 404 {object} utils.APIResponse "Unknown actuator action"
// @Failure 409 {object} utils.APIResponse "Not connected"
// @Failure 502 {object} utils.APIResponse "Send failed"
// @Router /link/commands [post]
func (h *LinkHandler) SendCommand(c *gin.Context) {
	var req service.SendCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.linkService.SendCommand(c.Request.Context(), &req)
	if err != nil {
		respondLinkError(c, err, h.linkService.Status().PeerName)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Command sent", res)
}

// ListCommands returns the command vocabulary
// @Summary Command vocabulary
// @Description Get the configured command tokens grouped by actuator
// @Tags Commands
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]command.Actuator} "Commands"
// @Router /commands [get]
func (h *LinkHandler) ListCommands(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Commands retrieved", h.linkService.Commands())
}

// ListPeers returns the trusted peers
// @Summary Trusted peers
// @Description List the already paired peers known to the peer registry
// @Tags Peers
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]model.PeerDescriptor} "Peers"
// @Failure 501 {object} utils.APIResponse "Registry cannot list peers"
// @Failure 500 {object} utils.APIResponse "Internal server error"
// @Router /peers [get]
func (h *LinkHandler) ListPeers(c *gin.Context) {
	peers, err := h.linkService.Peers(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list peers", zap.Error(err))
		respondLinkError(c, err, h.linkService.Status().PeerName)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Peers retrieved", gin.H{
		"peers": peers,
		"total": len(peers),
	})
}
