// internal/service/link_service.go
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"link-service/internal/command"
	"link-service/internal/eventlog"
	"link-service/internal/link"
	"link-service/internal/model"
	"link-service/internal/peer"
	"link-service/internal/utils"
)

var (
	ErrUnknownAction  = errors.New("unknown actuator action")
	ErrPeersUnlisted  = errors.New("peer registry cannot list peers")
	ErrCommandMissing = errors.New("command or actuator/action is required")
)

// Controller is the part of link.Manager the service drives
type Controller interface {
	State() model.ConnectionState
	Status() link.Status
	PeerName() string
	Preflight(ctx context.Context) error
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Send(ctx context.Context, cmd string) error
	OnStateChanged(fn link.StateListener)
}

// SendCommandRequest carries either a raw token or an actuator/action pair
type SendCommandRequest struct {
	Command  string `json:"command,omitempty" example:"LED_ON"`
	Actuator string `json:"actuator,omitempty" example:"Box1"`
	Action   string `json:"action,omitempty" example:"open"`
}

// SendResult reports what was written to the link
type SendResult struct {
	Command string `json:"command"`
	Known   bool   `json:"known"`
}

// LinkService handles the link use cases behind the HTTP and WebSocket adapters
type LinkService struct {
	controller Controller
	peers      peer.Registry
	vocabulary *command.Vocabulary
	events     *eventlog.Log
	logger     *utils.ServiceLogger
}

// NewLinkService creates a new link service instance
func NewLinkService(
	controller Controller,
	peers peer.Registry,
	vocabulary *command.Vocabulary,
	events *eventlog.Log,
	logger *zap.Logger,
) *LinkService {
	return &LinkService{
		controller: controller,
		peers:      peers,
		vocabulary: vocabulary,
		events:     events,
		logger:     utils.NewServiceLogger(logger, "link-service"),
	}
}

// Status returns the current link status
func (s *LinkService) Status() link.Status {
	return s.controller.Status()
}

// State returns the current connection state
func (s *LinkService) State() model.ConnectionState {
	return s.controller.State()
}

// Start records the initial log entries. A missing or unsupported adapter is
// logged once here; later connect attempts only report it to the caller.
func (s *LinkService) Start(ctx context.Context) {
	s.events.Info("Awaiting connection...", nil)

	err := s.controller.Preflight(ctx)
	switch {
	case err == nil:
	case errors.Is(err, link.ErrAdapterUnavailable), errors.Is(err, link.ErrNotSupported):
		s.events.Error("Bluetooth not supported on this device", nil)
		s.logger.Warn("Adapter unavailable at startup", zap.Error(err))
	default:
		s.logger.Info("Startup preflight failed", zap.Error(err))
	}
}

// Connect checks the adapter and permissions, then opens the link.
// An active link is reported before any adapter probing so a busy port is
// not mistaken for a missing one.
func (s *LinkService) Connect(ctx context.Context) error {
	if s.controller.State().Active() {
		return link.ErrAlreadyActive
	}

	if err := s.controller.Preflight(ctx); err != nil {
		s.logger.Warn("Connect preflight failed",
			zap.String("peer", s.controller.PeerName()),
			zap.Error(err),
		)
		return err
	}

	if err := s.controller.Connect(ctx); err != nil {
		s.logger.Info("Connect attempt failed", zap.Error(err))
		return err
	}

	s.logger.Info("Link connected", zap.String("peer", s.controller.PeerName()))
	return nil
}

// Disconnect closes the link; without one it does nothing
func (s *LinkService) Disconnect(ctx context.Context) error {
	return s.controller.Disconnect(ctx)
}

// SendCommand resolves the request to a token and writes it to the link
func (s *LinkService) SendCommand(ctx context.Context, req *SendCommandRequest) (*SendResult, error) {
	cmd, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	known := s.vocabulary == nil || s.vocabulary.Known(cmd)
	if !known {
		s.logger.Debug("Sending token outside the vocabulary", zap.String("command", cmd))
	}

	if err := s.controller.Send(ctx, cmd); err != nil {
		return nil, err
	}
	return &SendResult{Command: cmd, Known: known}, nil
}

func (s *LinkService) resolve(req *SendCommandRequest) (string, error) {
	if req.Command != "" {
		return req.Command, nil
	}
	if req.Actuator == "" || req.Action == "" {
		return "", ErrCommandMissing
	}
	if s.vocabulary == nil {
		return "", fmt.Errorf("%w: %s/%s", ErrUnknownAction, req.Actuator, req.Action)
	}
	token, ok := s.vocabulary.Token(req.Actuator, req.Action)
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnknownAction, req.Actuator, req.Action)
	}
	return token, nil
}

// Commands returns the vocabulary grouped by actuator
func (s *LinkService) Commands() []command.Actuator {
	if s.vocabulary == nil {
		return []command.Actuator{}
	}
	return s.vocabulary.Actuators()
}

// Log returns entries with a sequence number greater than since
func (s *LinkService) Log(since uint64) []model.LogEntry {
	if since == 0 {
		return s.events.Snapshot()
	}
	return s.events.Since(since)
}

// Subscribe opens a push feed starting after since
func (s *LinkService) Subscribe(since uint64) *eventlog.Subscription {
	return s.events.SubscribeFrom(since)
}

// Peers lists the trusted peers known to the registry
func (s *LinkService) Peers(ctx context.Context) ([]model.PeerDescriptor, error) {
	lister, ok := s.peers.(peer.Lister)
	if !ok {
		return nil, ErrPeersUnlisted
	}
	peers, err := lister.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list peers: %w", err)
	}
	return peers, nil
}

// OnStateChanged forwards state transitions to fn
func (s *LinkService) OnStateChanged(fn link.StateListener) {
	s.controller.OnStateChanged(fn)
}
