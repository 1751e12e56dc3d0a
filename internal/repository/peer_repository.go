// internal/repository/peer_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"link-service/internal/database"
	"link-service/internal/model"
)

// peerRepository implements PeerRepository interface
type peerRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewPeerRepository creates a new trusted peer repository
func NewPeerRepository(db *database.DB, logger *zap.Logger) PeerRepository {
	return &peerRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores a trusted peer
func (r *peerRepository) Create(ctx context.Context, peer *model.PeerDescriptor) error {
	query := `
		INSERT INTO trusted_peers (name, address, transport, channel)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		peer.Name, peer.Address, string(peer.Transport), int16(peer.Channel),
	).Scan(&peer.AddedAt)
	if err != nil {
		r.logger.Error("Failed to create trusted peer", zap.Error(err), zap.String("name", peer.Name))
		return fmt.Errorf("failed to create trusted peer: %w", err)
	}

	peer.Source = "database"
	r.logger.Info("Trusted peer created successfully", zap.String("name", peer.Name))
	return nil
}

// GetByName retrieves a trusted peer by its exact name
func (r *peerRepository) GetByName(ctx context.Context, name string) (*model.PeerDescriptor, error) {
	query := `
		SELECT name, address, transport, channel, created_at
		FROM trusted_peers WHERE name = $1
	`

	peer, err := scanPeer(r.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("trusted peer %s: %w", name, ErrNotFound)
		}
		r.logger.Error("Failed to get trusted peer", zap.Error(err), zap.String("name", name))
		return nil, fmt.Errorf("failed to get trusted peer: %w", err)
	}

	return peer, nil
}

// List returns all trusted peers ordered by name
func (r *peerRepository) List(ctx context.Context) ([]*model.PeerDescriptor, error) {
	query := `
		SELECT name, address, transport, channel, created_at
		FROM trusted_peers ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list trusted peers: %w", err)
	}
	defer rows.Close()

	peers := []*model.PeerDescriptor{}
	for rows.Next() {
		peer, err := scanPeer(rows)
		if err != nil {
			r.logger.Error("Failed to scan trusted peer", zap.Error(err))
			continue
		}
		peers = append(peers, peer)
	}

	return peers, rows.Err()
}

// Delete removes a trusted peer
func (r *peerRepository) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM trusted_peers WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete trusted peer: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trusted peer %s: %w", name, ErrNotFound)
	}

	r.logger.Info("Trusted peer deleted", zap.String("name", name))
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPeer(row rowScanner) (*model.PeerDescriptor, error) {
	var (
		peer      model.PeerDescriptor
		transport string
		channel   int16
	)
	if err := row.Scan(&peer.Name, &peer.Address, &transport, &channel, &peer.AddedAt); err != nil {
		return nil, err
	}
	peer.Transport = model.TransportKind(transport)
	peer.Channel = uint8(channel)
	peer.Source = "database"
	return &peer, nil
}
