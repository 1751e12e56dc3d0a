// internal/peer/registry.go

// Package peer resolves the configured peer name to a trusted (already
// paired) peripheral. Pairing itself happens outside the service.
package peer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"link-service/internal/config"
	"link-service/internal/model"
)

// Registry looks up trusted peers by exact name
type Registry interface {
	Lookup(ctx context.Context, name string) (model.PeerDescriptor, bool, error)
}

// Lister is implemented by registries that can enumerate their peers
type Lister interface {
	List(ctx context.Context) ([]model.PeerDescriptor, error)
}

// Static serves the peers listed in configuration
type Static struct {
	peers []model.PeerDescriptor
}

// NewStatic builds a registry from configured peers. Peers without an
// explicit transport use defaultTransport.
func NewStatic(peers []config.PeerConfig, defaultTransport model.TransportKind) (*Static, error) {
	s := &Static{}
	seen := make(map[string]bool, len(peers))
	for _, p := range peers {
		kind := defaultTransport
		if p.Transport != "" {
			kind = model.TransportKind(p.Transport)
		}
		if !kind.Valid() {
			return nil, fmt.Errorf("peer %s: unsupported transport %q", p.Name, kind)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("peer %s: listed twice", p.Name)
		}
		seen[p.Name] = true
		s.peers = append(s.peers, model.PeerDescriptor{
			Name:      p.Name,
			Address:   p.Address,
			Transport: kind,
			Channel:   p.Channel,
			Source:    "config",
		})
	}
	return s, nil
}

// Lookup finds a configured peer
func (s *Static) Lookup(_ context.Context, name string) (model.PeerDescriptor, bool, error) {
	for _, p := range s.peers {
		if p.Name == name {
			return p, true, nil
		}
	}
	return model.PeerDescriptor{}, false, nil
}

// List returns the configured peers
func (s *Static) List(_ context.Context) ([]model.PeerDescriptor, error) {
	out := make([]model.PeerDescriptor, len(s.peers))
	copy(out, s.peers)
	return out, nil
}

// Chain asks each registry in turn; the first one that knows the name wins
type Chain struct {
	registries []Registry
	logger     *zap.Logger
}

// NewChain creates a chained registry
func NewChain(logger *zap.Logger, registries ...Registry) *Chain {
	return &Chain{
		registries: registries,
		logger:     logger.With(zap.String("component", "peer_registry")),
	}
}

// Lookup returns the first match. A failing registry does not hide a match
// in a later one; if nothing matches, the first failure is returned.
func (c *Chain) Lookup(ctx context.Context, name string) (model.PeerDescriptor, bool, error) {
	var firstErr error
	for _, r := range c.registries {
		peer, found, err := r.Lookup(ctx, name)
		if err != nil {
			c.logger.Warn("Peer registry lookup failed",
				zap.String("peer", name),
				zap.String("registry", fmt.Sprintf("%T", r)),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if found {
			return peer, true, nil
		}
	}
	return model.PeerDescriptor{}, false, firstErr
}

// List merges the peers of every listable registry, first name wins
func (c *Chain) List(ctx context.Context) ([]model.PeerDescriptor, error) {
	var out []model.PeerDescriptor
	seen := make(map[string]bool)
	for _, r := range c.registries {
		l, ok := r.(Lister)
		if !ok {
			continue
		}
		peers, err := l.List(ctx)
		if err != nil {
			c.logger.Warn("Peer registry list failed",
				zap.String("registry", fmt.Sprintf("%T", r)),
				zap.Error(err),
			)
			continue
		}
		for _, p := range peers {
			if !seen[p.Name] {
				seen[p.Name] = true
				out = append(out, p)
			}
		}
	}
	return out, nil
}
