// internal/peer/factory.go
package peer

import (
	"fmt"

	"go.uber.org/zap"

	"link-service/internal/config"
	"link-service/internal/model"
	"link-service/internal/repository"
)

// FromConfig chains the registries named in link.registry, in order.
// repo may be nil when no "database" registry is configured.
func FromConfig(cfg *config.Config, repo repository.PeerRepository, logger *zap.Logger) (*Chain, error) {
	names := cfg.Link.Registry
	if len(names) == 0 {
		names = []string{"config"}
	}

	var registries []Registry
	for _, name := range names {
		switch name {
		case "config":
			static, err := NewStatic(cfg.Peers, model.TransportKind(cfg.Link.Transport))
			if err != nil {
				return nil, err
			}
			registries = append(registries, static)
		case "bluez":
			registries = append(registries, NewBlueZ(cfg.Transports.RFCOMM.Adapter, logger))
		case "database":
			if repo == nil {
				return nil, fmt.Errorf("peer registry %q needs a database connection", name)
			}
			registries = append(registries, NewStore(repo))
		default:
			return nil, fmt.Errorf("unknown peer registry %q", name)
		}
	}

	logger.Info("Peer registry configured", zap.Strings("registries", names))
	return NewChain(logger, registries...), nil
}
