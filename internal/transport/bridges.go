// internal/transport/bridges.go
package transport

import (
	"fmt"

	"github.com/google/gousb"
)

// Bridge describes a USB to UART chip commonly wired to an HC-05
type Bridge struct {
	Vendor string
	Chip   string
	// CDC bridges are driven by the kernel ACM driver; vendor bridges need
	// their own driver detached before the bulk endpoints can be claimed.
	CDC bool
}

// String returns "vendor chip"
func (b Bridge) String() string {
	return fmt.Sprintf("%s %s", b.Vendor, b.Chip)
}

type bridgeKey struct {
	vendor  gousb.ID
	product gousb.ID
}

var knownBridges = map[bridgeKey]Bridge{
	{0x10c4, 0xea60}: {Vendor: "Silicon Labs", Chip: "CP210x"},
	{0x10c4, 0xea70}: {Vendor: "Silicon Labs", Chip: "CP2105"},
	{0x1a86, 0x7523}: {Vendor: "QinHeng", Chip: "CH340"},
	{0x1a86, 0x55d4}: {Vendor: "QinHeng", Chip: "CH9102", CDC: true},
	{0x0403, 0x6001}: {Vendor: "FTDI", Chip: "FT232R"},
	{0x0403, 0x6015}: {Vendor: "FTDI", Chip: "FT231X"},
	{0x067b, 0x2303}: {Vendor: "Prolific", Chip: "PL2303"},
	{0x2341, 0x0043}: {Vendor: "Arduino", Chip: "Uno R3 (ATmega16U2)", CDC: true},
	{0x2e8a, 0x000a}: {Vendor: "Raspberry Pi", Chip: "Pico CDC", CDC: true},
}

// LookupBridge identifies a known USB serial bridge
func LookupBridge(vendor, product gousb.ID) (Bridge, bool) {
	b, ok := knownBridges[bridgeKey{vendor, product}]
	return b, ok
}
