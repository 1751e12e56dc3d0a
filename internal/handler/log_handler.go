// internal/handler/log_handler.go
package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"link-service/internal/model"
	"link-service/internal/repository"
	"link-service/internal/service"
	"link-service/internal/utils"
)

// LogHandler serves the event log
type LogHandler struct {
	linkService *service.LinkService
	archiver    *service.LogArchiver
	logger      *utils.ServiceLogger
}

// NewLogHandler creates a new log handler. archiver may be nil when the
// database is disabled.
func NewLogHandler(linkService *service.LinkService, archiver *service.LogArchiver, logger *zap.Logger) *LogHandler {
	return &LogHandler{
		linkService: linkService,
		archiver:    archiver,
		logger:      utils.NewServiceLogger(logger, "log-handler"),
	}
}

// LogResponse is the body of GET /log
type LogResponse struct {
	Entries []model.LogEntry `json:"entries"`
	Lines   []string         `json:"lines"`
	Next    uint64           `json:"next"`
}

// GetLog returns the event log of this process
// @Summary Event log
// @Description Get log entries in arrival order. Pass the previous response's next value as since to poll for new entries.
// @Tags Log
// @Produce json
// @Param since query int false "Return entries with a sequence number greater than this" default(0)
// @Success 200 {object} utils.APIResponse{data=LogResponse} "Log entries"
// @Failure 400 {object} utils.APIResponse "Invalid since value"
// @Router /log [get]
func (h *LogHandler) GetLog(c *gin.Context) {
	var since uint64
	if raw := c.Query("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid since value", err)
			return
		}
		since = v
	}

	entries := h.linkService.Log(since)
	resp := LogResponse{
		Entries: entries,
		Lines:   make([]string, len(entries)),
		Next:    since,
	}
	for i, e := range entries {
		resp.Lines[i] = e.Display()
	}
	if n := len(entries); n > 0 {
		resp.Next = entries[n-1].Seq
	}

	utils.SuccessResponse(c, http.StatusOK, "Log retrieved", resp)
}

// GetHistory returns archived entries across restarts
// @Summary Archived event log
// @Description Get persisted log entries, newest first. Requires the database.
// @Tags Log
// @Produce json
// @Param category query string false "Filter by category" Enums(INFO, SENT, RECEIVED, ERROR)
// @Param link_id query string false "Filter by link id"
// @Param from query string false "Only entries logged at or after this RFC 3339 time"
// @Param limit query int false "Maximum entries" default(200)
// @Success 200 {object} utils.APIResponse{data=[]model.LogEntry} "Archived entries"
// @Failure 400 {object} utils.APIResponse "Invalid filter"
// @Failure 501 {object} utils.APIResponse "Archive disabled"
// @Router /log/history [get]
func (h *LogHandler) GetHistory(c *gin.Context) {
	filter := &repository.LogFilter{}

	if raw := c.Query("category"); raw != "" {
		cat := model.Category(raw)
		if !cat.Valid() {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid category", nil)
			return
		}
		filter.Category = &cat
	}
	if raw := c.Query("link_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid link_id", err)
			return
		}
		filter.LinkID = &id
	}
	if raw := c.Query("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid from time", err)
			return
		}
		filter.From = &from
	}
	if raw := c.Query("limit"); raw != "" {
		if l, err := strconv.Atoi(raw); err == nil && l > 0 {
			filter.Limit = l
		}
	}

	entries, err := h.archiver.History(c.Request.Context(), filter)
	if err != nil {
		h.logger.Warn("Failed to read archived log", zap.Error(err))
		respondLinkError(c, err, h.linkService.Status().PeerName)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Archived log retrieved", entries)
}
