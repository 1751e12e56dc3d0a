// internal/model/state.go
package model

import "fmt"

// ConnectionState represents the lifecycle state of the link to the peer
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Valid reports whether s is one of the defined states
func (s ConnectionState) Valid() bool {
	return s >= StateDisconnected && s <= StateDisconnecting
}

// Active reports whether a connect attempt is running or a link is up
func (s ConnectionState) Active() bool {
	return s == StateConnecting || s == StateConnected
}

// MarshalText implements encoding.TextMarshaler
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *ConnectionState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "disconnected":
		*s = StateDisconnected
	case "connecting":
		*s = StateConnecting
	case "connected":
		*s = StateConnected
	case "disconnecting":
		*s = StateDisconnecting
	default:
		return fmt.Errorf("invalid connection state: %q", text)
	}
	return nil
}
