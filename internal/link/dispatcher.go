// internal/link/dispatcher.go
package link

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"link-service/internal/command"
	"link-service/internal/model"
)

// Send writes cmd followed by "\n". A single trailing "\n" or "\r\n" on cmd
// is taken as that terminator. It fails with ErrInvalidCommand for empty or
// multi-line commands and with ErrNotConnected when no link is up.
func (m *Manager) Send(ctx context.Context, cmd string) error {
	cmd = trimTerminator(cmd)
	if err := command.Validate(cmd); err != nil {
		return err
	}
	if m.State() != model.StateConnected {
		return ErrNotConnected
	}
	return m.submit(ctx, request{kind: requestSend, command: cmd})
}

func trimTerminator(cmd string) string {
	if s, ok := strings.CutSuffix(cmd, "\n"); ok {
		return strings.TrimSuffix(s, "\r")
	}
	return cmd
}

func (m *Manager) send(ctx context.Context, cmd string) error {
	l := m.link
	if l == nil || m.State() != model.StateConnected {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	n, err := l.writer.WriteString(cmd + "\n")
	if err == nil {
		err = l.writer.Flush()
	}
	if err != nil {
		// bufio.Writer keeps its first error; start clean for the next send.
		l.writer.Reset(l.stream)
		m.events.Error(fmt.Sprintf("Failed to send '%s': %v", cmd, err), &l.id)
		m.logger.Warn("Command write failed", zap.String("command", cmd), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrTransportWriteFailed, err)
	}

	l.bytesSent.Add(int64(n))
	l.commandsSent.Add(1)
	m.events.Append(model.CategorySent, cmd, &l.id)
	return nil
}

// Status is a point-in-time view of the link
type Status struct {
	State         model.ConnectionState `json:"state"`
	PeerName      string                `json:"peer_name"`
	Transport     model.TransportKind   `json:"transport"`
	LinkID        *uuid.UUID            `json:"link_id,omitempty"`
	Peer          *model.PeerDescriptor `json:"peer,omitempty"`
	ConnectedAt   *time.Time            `json:"connected_at,omitempty"`
	BytesSent     int64                 `json:"bytes_sent"`
	BytesReceived int64                 `json:"bytes_received"`
	CommandsSent  int64                 `json:"commands_sent"`
	LinesReceived int64                 `json:"lines_received"`
}

// Status returns the state plus counters of the current link, if any
func (m *Manager) Status() Status {
	s := Status{
		State:     m.State(),
		PeerName:  m.opts.PeerName,
		Transport: m.transport.Kind(),
	}
	l := m.current.Load()
	if l == nil {
		return s
	}

	id := l.id
	desc := l.peer
	at := l.connectedAt
	s.LinkID = &id
	s.Peer = &desc
	s.ConnectedAt = &at
	s.BytesSent = l.bytesSent.Load()
	s.CommandsSent = l.commandsSent.Load()
	s.BytesReceived = l.reader.bytesRead.Load()
	s.LinesReceived = l.reader.lines.Load()
	return s
}
