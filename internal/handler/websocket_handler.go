// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"link-service/internal/config"
	"link-service/internal/service"
	"link-service/internal/utils"
)

const (
	wsReadDeadline  = 60 * time.Second
	wsPingInterval  = 54 * time.Second
	wsWriteDeadline = 10 * time.Second
	wsCommandWait   = 30 * time.Second
)

// WebSocketHandler pushes the event log and state changes to browsers and
// accepts link commands over the same socket.
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	connections *ConnectionManager
	linkService *service.LinkService
	logger      *utils.ServiceLogger
	eventBus    *EventBus
}

// NewWebSocketHandler creates a new WebSocket handler and hooks it to the
// link state.
func NewWebSocketHandler(linkService *service.LinkService, security *config.SecurityConfig, logger *zap.Logger) *WebSocketHandler {
	h := &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return security.OriginAllowed(r.Header.Get("Origin"))
			},
		},
		connections: NewConnectionManager(),
		linkService: linkService,
		logger:      utils.NewServiceLogger(logger, "websocket-handler"),
		eventBus:    NewEventBus(logger),
	}

	states := h.eventBus.Subscribe(EventStateChanged)
	go h.eventBus.Start()
	go h.forwardEvents(states)

	linkService.OnStateChanged(h.eventBus.PublishState)
	return h
}

// HandleLogConnection upgrades to the log feed. Entries after the since
// query parameter are replayed first.
// @Summary Event log feed
// @Description WebSocket feed of log_entry and state_changed messages. Clients may send send_command, connect, disconnect and ping messages.
// @Tags Log
// @Param since query int false "Replay entries with a sequence number greater than this" default(0)
// @Router /ws/log [get]
func (h *WebSocketHandler) HandleLogConnection(c *gin.Context) {
	var since uint64
	if raw := c.Query("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid since value", err)
			return
		}
		since = v
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 256),
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
		done:        make(chan struct{}),
	}

	h.connections.Register(client)
	h.logger.Info("Log WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
		zap.Uint64("since", since),
	)

	h.sendMessage(client, &WebSocketMessage{
		Type:      MessageStatus,
		Data:      h.linkService.Status(),
		Timestamp: time.Now(),
	})

	go h.pumpLog(client, since)
	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// pumpLog forwards log entries to one client. The subscription keeps its
// own cursor, so a slow client delays only itself and loses nothing.
func (h *WebSocketHandler) pumpLog(client *Client, since uint64) {
	sub := h.linkService.Subscribe(since)
	defer sub.Close()

	for {
		select {
		case entry, ok := <-sub.C():
			if !ok {
				return
			}
			msg, err := json.Marshal(&WebSocketMessage{
				Type:      MessageLogEntry,
				Data:      entry,
				Timestamp: time.Now(),
			})
			if err != nil {
				h.logger.Error("Failed to marshal log entry", zap.Error(err))
				continue
			}
			select {
			case client.Send <- msg:
			case <-client.Done():
				return
			}
		case <-client.Done():
			return
		}
	}
}

// forwardEvents broadcasts bus events until the bus closes
func (h *WebSocketHandler) forwardEvents(events <-chan Event) {
	for event := range events {
		h.broadcast(&WebSocketMessage{
			Type:      event.Type,
			Data:      event.Data,
			Timestamp: event.Timestamp,
		})
	}
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		client.Connection.Close()
	}()

	client.Connection.SetReadDeadline(time.Now().Add(wsReadDeadline))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			return
		}

		var message inboundMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.sendError(client, "", "invalid message")
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-client.Done():
			client.Connection.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *inboundMessage) {
	switch message.Type {
	case MessageSendCommand:
		var req service.SendCommandRequest
		if len(message.Data) == 0 || json.Unmarshal(message.Data, &req) != nil {
			h.sendError(client, message.RequestID, "command is required")
			return
		}
		go h.execute(client, message, func(ctx context.Context) (interface{}, error) {
			return h.linkService.SendCommand(ctx, &req)
		})

	case MessageConnect:
		go h.execute(client, message, func(ctx context.Context) (interface{}, error) {
			return nil, h.linkService.Connect(ctx)
		})

	case MessageDisconnect:
		go h.execute(client, message, func(ctx context.Context) (interface{}, error) {
			return nil, h.linkService.Disconnect(ctx)
		})

	case MessagePing:
		h.sendMessage(client, &WebSocketMessage{
			Type:      MessagePong,
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})

	default:
		h.logger.Warn("Unknown message type",
			zap.String("type", message.Type),
			zap.String("client_id", client.ID),
		)
		h.sendError(client, message.RequestID, "unknown message type: "+message.Type)
	}
}

// execute runs a link operation for a client and reports the outcome
func (h *WebSocketHandler) execute(client *Client, message *inboundMessage, op func(ctx context.Context) (interface{}, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), wsCommandWait)
	defer cancel()

	result, err := op(ctx)

	data := map[string]interface{}{
		"command": message.Type,
		"success": err == nil,
	}
	if result != nil {
		data["result"] = result
	}
	if err != nil {
		le := classify(err, h.linkService.Status().PeerName)
		data["code"] = le.Code
		data["error"] = le.Message
		data["details"] = err.Error()
	}

	h.sendMessage(client, &WebSocketMessage{
		Type:      MessageCommandResponse,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: message.RequestID,
	})
}

// sendMessage queues a message for one client
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	select {
	case client.Send <- messageBytes:
	case <-client.Done():
	default:
		h.logger.Warn("Client send channel full, dropping message",
			zap.String("client_id", client.ID),
			zap.String("type", message.Type),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, requestID, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type:      MessageError,
		Data:      map[string]interface{}{"error": errorMsg},
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}

// broadcast sends a message to every client without blocking
func (h *WebSocketHandler) broadcast(message *WebSocketMessage) {
	for _, client := range h.connections.Clients() {
		h.sendMessage(client, message)
	}
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}

// Close disconnects every client and stops event forwarding
func (h *WebSocketHandler) Close() {
	h.eventBus.Close()
	h.connections.CloseAll()
}
