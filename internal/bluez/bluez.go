// internal/bluez/bluez.go

// Package bluez holds the small part of the BlueZ D-Bus API the service
// uses: adapter state, bonded devices and SPP profile registration.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"strings"

	dbus "github.com/godbus/dbus/v5"
)

const (
	Service             = "org.bluez"
	ProfileInterface    = "org.bluez.Profile1"
	ProfileManagerIface = "org.bluez.ProfileManager1"
	DeviceIface         = "org.bluez.Device1"
	AdapterIface        = "org.bluez.Adapter1"
	ObjectManagerIface  = "org.freedesktop.DBus.ObjectManager"
	PropertiesIface     = "org.freedesktop.DBus.Properties"

	// SPPUUID is the Serial Port Profile the HC-05 advertises
	SPPUUID = "00001101-0000-1000-8000-00805f9b34fb"
)

var (
	ErrNoAdapter      = errors.New("bluetooth adapter not found")
	ErrAdapterOff     = errors.New("bluetooth adapter is powered off")
	ErrAccessDenied   = errors.New("access to bluetooth denied")
	ErrDeviceNotFound = errors.New("bluetooth device not found")
)

// Device is a Device1 object as reported by the object manager
type Device struct {
	Path    dbus.ObjectPath
	Address string
	Name    string
	Alias   string
	Paired  bool
	Trusted bool
	UUIDs   []string
}

// DisplayName prefers the user-set alias
func (d Device) DisplayName() string {
	if d.Alias != "" {
		return d.Alias
	}
	return d.Name
}

// HasUUID reports whether the device advertises uuid
func (d Device) HasUUID(uuid string) bool {
	for _, u := range d.UUIDs {
		if strings.EqualFold(u, uuid) {
			return true
		}
	}
	return false
}

// AdapterPath returns the object path of an adapter such as "hci0"
func AdapterPath(adapter string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapter)
}

// DevicePath returns the object path BlueZ uses for mac under adapter
func DevicePath(adapter, mac string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("/org/bluez/%s/dev_%s",
		adapter, strings.ReplaceAll(strings.ToUpper(mac), ":", "_")))
}

// MACFromPath extracts the address from a .../dev_XX_XX_XX_XX_XX_XX path
func MACFromPath(p dbus.ObjectPath) string {
	s := string(p)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(s[idx+5:], "_", ":")
}

// Classify maps D-Bus errors onto the package sentinels where possible
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		switch dbusErr.Name {
		case "org.freedesktop.DBus.Error.AccessDenied", "org.bluez.Error.NotPermitted",
			"org.bluez.Error.NotAuthorized":
			return fmt.Errorf("%w: %v", ErrAccessDenied, err)
		case "org.freedesktop.DBus.Error.UnknownObject", "org.freedesktop.DBus.Error.ServiceUnknown",
			"org.bluez.Error.NotReady":
			return fmt.Errorf("%w: %v", ErrNoAdapter, err)
		case "org.freedesktop.DBus.Error.UnknownMethod":
			return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
		}
	}
	return err
}

// Client wraps a system bus connection
type Client struct {
	bus *dbus.Conn
}

// Connect opens a private connection to the system bus
func Connect() (*Client, error) {
	bus, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: connect system bus: %v", ErrNoAdapter, err)
	}
	return &Client{bus: bus}, nil
}

// Conn exposes the underlying bus connection
func (c *Client) Conn() *dbus.Conn {
	return c.bus
}

// Close closes the bus connection
func (c *Client) Close() error {
	return c.bus.Close()
}

// AdapterPowered reports ErrNoAdapter or ErrAdapterOff when adapter cannot
// be used.
func (c *Client) AdapterPowered(ctx context.Context, adapter string) error {
	obj := c.bus.Object(Service, AdapterPath(adapter))
	var powered dbus.Variant
	call := obj.CallWithContext(ctx, PropertiesIface+".Get", 0, AdapterIface, "Powered")
	if call.Err != nil {
		err := Classify(call.Err)
		if errors.Is(err, ErrDeviceNotFound) {
			return fmt.Errorf("%w: %s", ErrNoAdapter, adapter)
		}
		return err
	}
	if err := call.Store(&powered); err != nil {
		return fmt.Errorf("decode Powered: %w", err)
	}
	if on, ok := powered.Value().(bool); !ok || !on {
		return fmt.Errorf("%w: %s", ErrAdapterOff, adapter)
	}
	return nil
}

// Devices lists the Device1 objects under adapter
func (c *Client) Devices(ctx context.Context, adapter string) ([]Device, error) {
	obj := c.bus.Object(Service, dbus.ObjectPath("/"))
	var objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := obj.CallWithContext(ctx, ObjectManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, Classify(call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("decode GetManagedObjects: %w", err)
	}

	prefix := string(AdapterPath(adapter)) + "/"
	var out []Device
	for path, ifaces := range objs {
		if adapter != "" && !strings.HasPrefix(string(path), prefix) {
			continue
		}
		if dev, ok := deviceFromProps(path, ifaces[DeviceIface]); ok {
			out = append(out, dev)
		}
	}
	return out, nil
}

func deviceFromProps(path dbus.ObjectPath, props map[string]dbus.Variant) (Device, bool) {
	if props == nil {
		return Device{}, false
	}
	dev := Device{Path: path}
	if v, ok := props["Address"]; ok {
		dev.Address, _ = v.Value().(string)
	}
	if v, ok := props["Name"]; ok {
		dev.Name, _ = v.Value().(string)
	}
	if v, ok := props["Alias"]; ok {
		dev.Alias, _ = v.Value().(string)
	}
	if v, ok := props["Paired"]; ok {
		dev.Paired, _ = v.Value().(bool)
	}
	if v, ok := props["Trusted"]; ok {
		dev.Trusted, _ = v.Value().(bool)
	}
	if v, ok := props["UUIDs"]; ok {
		dev.UUIDs, _ = v.Value().([]string)
	}
	if dev.Address == "" {
		dev.Address = MACFromPath(path)
	}
	return dev, true
}
