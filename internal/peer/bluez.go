// internal/peer/bluez.go
package peer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"link-service/internal/bluez"
	"link-service/internal/model"
)

// deviceSource lists BlueZ devices; satisfied by *bluez.Client
type deviceSource interface {
	Devices(ctx context.Context, adapter string) ([]bluez.Device, error)
	Close() error
}

// BlueZ resolves peers from the devices bonded with the local adapter
type BlueZ struct {
	adapter string
	logger  *zap.Logger
	dial    func() (deviceSource, error)
}

// NewBlueZ creates a registry over the bonded devices of adapter
func NewBlueZ(adapter string, logger *zap.Logger) *BlueZ {
	return &BlueZ{
		adapter: adapter,
		logger:  logger.With(zap.String("component", "bluez_registry")),
		dial: func() (deviceSource, error) {
			return bluez.Connect()
		},
	}
}

// Lookup returns the first paired device whose name or alias is name
func (b *BlueZ) Lookup(ctx context.Context, name string) (model.PeerDescriptor, bool, error) {
	peers, err := b.List(ctx)
	if err != nil {
		return model.PeerDescriptor{}, false, err
	}
	for _, p := range peers {
		if p.Name == name {
			return p, true, nil
		}
	}
	return model.PeerDescriptor{}, false, nil
}

// List returns the paired devices
func (b *BlueZ) List(ctx context.Context) ([]model.PeerDescriptor, error) {
	src, err := b.dial()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	devices, err := src.Devices(ctx, b.adapter)
	if err != nil {
		return nil, fmt.Errorf("list bluetooth devices: %w", err)
	}

	var out []model.PeerDescriptor
	for _, d := range devices {
		if !d.Paired {
			continue
		}
		if !d.HasUUID(bluez.SPPUUID) && len(d.UUIDs) > 0 {
			b.logger.Debug("Paired device does not advertise SPP",
				zap.String("address", d.Address),
				zap.String("name", d.DisplayName()),
			)
		}
		for _, name := range uniqueNames(d) {
			out = append(out, model.PeerDescriptor{
				Name:      name,
				Address:   d.Address,
				Transport: model.TransportRFCOMM,
				Path:      string(d.Path),
				Source:    "bluez",
			})
		}
	}
	return out, nil
}

func uniqueNames(d bluez.Device) []string {
	switch {
	case d.Name == "" && d.Alias == "":
		return nil
	case d.Name == "" || d.Name == d.Alias:
		return []string{d.Alias}
	case d.Alias == "":
		return []string{d.Name}
	}
	return []string{d.Name, d.Alias}
}
