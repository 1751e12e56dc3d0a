// internal/model/peer.go
package model

import "time"

// TransportKind names a transport implementation
type TransportKind string

const (
	TransportSerial TransportKind = "serial"
	TransportRFCOMM TransportKind = "rfcomm"
	TransportTCP    TransportKind = "tcp"
	TransportUSB    TransportKind = "usb"
)

// Valid reports whether k names a known transport
func (k TransportKind) Valid() bool {
	switch k {
	case TransportSerial, TransportRFCOMM, TransportTCP, TransportUSB:
		return true
	}
	return false
}

// PeerDescriptor identifies a trusted remote peripheral.
//
// Address is interpreted by the transport: a device path for serial
// ("/dev/rfcomm0", "COM5"), a MAC address for rfcomm, "host:port" for tcp and
// "vid:pid" for usb. A descriptor is never mutated once resolved.
type PeerDescriptor struct {
	Name      string        `json:"name"`
	Address   string        `json:"address"`
	Transport TransportKind `json:"transport"`
	Path      string        `json:"path,omitempty"`    // BlueZ object path, when known
	Channel   uint8         `json:"channel,omitempty"` // RFCOMM channel, 0 = resolve via SDP
	Source    string        `json:"source,omitempty"`  // registry that resolved it
	AddedAt   time.Time     `json:"added_at,omitempty"`
}
