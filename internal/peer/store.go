// internal/peer/store.go
package peer

import (
	"context"
	"errors"

	"link-service/internal/model"
	"link-service/internal/repository"
)

// Store serves trusted peers kept in the database
type Store struct {
	repo repository.PeerRepository
}

// NewStore creates a registry backed by repo
func NewStore(repo repository.PeerRepository) *Store {
	return &Store{repo: repo}
}

// Lookup finds a stored peer
func (s *Store) Lookup(ctx context.Context, name string) (model.PeerDescriptor, bool, error) {
	p, err := s.repo.GetByName(ctx, name)
	if errors.Is(err, repository.ErrNotFound) {
		return model.PeerDescriptor{}, false, nil
	}
	if err != nil {
		return model.PeerDescriptor{}, false, err
	}
	return *p, true, nil
}

// List returns every stored peer
func (s *Store) List(ctx context.Context) ([]model.PeerDescriptor, error) {
	peers, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.PeerDescriptor, 0, len(peers))
	for _, p := range peers {
		out = append(out, *p)
	}
	return out, nil
}

// Add stores a new trusted peer
func (s *Store) Add(ctx context.Context, p model.PeerDescriptor) (model.PeerDescriptor, error) {
	if err := s.repo.Create(ctx, &p); err != nil {
		return model.PeerDescriptor{}, err
	}
	return p, nil
}

// Remove deletes a trusted peer
func (s *Store) Remove(ctx context.Context, name string) error {
	return s.repo.Delete(ctx, name)
}
