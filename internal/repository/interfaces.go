// internal/repository/interfaces.go
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"link-service/internal/model"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// PeerRepository defines trusted peer data access operations
type PeerRepository interface {
	Create(ctx context.Context, peer *model.PeerDescriptor) error
	GetByName(ctx context.Context, name string) (*model.PeerDescriptor, error)
	List(ctx context.Context) ([]*model.PeerDescriptor, error)
	Delete(ctx context.Context, name string) error
}

// LogRepository defines persisted event log operations
type LogRepository interface {
	// AppendBatch stores entries produced by the service instance bootID
	AppendBatch(ctx context.Context, bootID uuid.UUID, entries []model.LogEntry) error
	List(ctx context.Context, filter *LogFilter) ([]*model.LogEntry, error)
	DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
}

// LogFilter represents persisted log listing filters
type LogFilter struct {
	Category *model.Category `json:"category,omitempty"`
	LinkID   *uuid.UUID      `json:"link_id,omitempty"`
	From     *time.Time      `json:"from,omitempty"`
	Limit    int             `json:"limit"`
}
