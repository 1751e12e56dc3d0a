// internal/repository/log_repository.go
package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"link-service/internal/database"
	"link-service/internal/model"
)

// logRepository implements LogRepository interface
type logRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewLogRepository creates a new persisted log repository
func NewLogRepository(db *database.DB, logger *zap.Logger) LogRepository {
	return &logRepository{
		db:     db,
		logger: logger,
	}
}

// AppendBatch copies entries into link_log in one transaction
func (r *logRepository) AppendBatch(ctx context.Context, bootID uuid.UUID, entries []model.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	start := time.Now()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("link_log",
		"id", "boot_id", "seq", "logged_at", "category", "message", "link_id"))
	if err != nil {
		return fmt.Errorf("failed to prepare copy: %w", err)
	}

	for _, e := range entries {
		var linkID interface{}
		if e.LinkID != nil {
			linkID = e.LinkID.String()
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID.String(), bootID.String(), int64(e.Seq), e.Timestamp,
			string(e.Category), e.Message, linkID,
		); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to copy log entry %d: %w", e.Seq, err)
		}
	}

	// An argument-less Exec flushes the COPY buffer.
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to flush log entries: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit log entries: %w", err)
	}

	r.logger.Debug("Log entries persisted",
		zap.Int("count", len(entries)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// List returns persisted entries, newest first
func (r *logRepository) List(ctx context.Context, filter *LogFilter) ([]*model.LogEntry, error) {
	if filter == nil {
		filter = &LogFilter{}
	}

	var (
		conditions []string
		args       []interface{}
	)
	if filter.Category != nil {
		args = append(args, string(*filter.Category))
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.LinkID != nil {
		args = append(args, *filter.LinkID)
		conditions = append(conditions, fmt.Sprintf("link_id = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("logged_at >= $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT id, seq, logged_at, category, message, link_id FROM link_log`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY logged_at DESC, seq DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	defer rows.Close()

	entries := []*model.LogEntry{}
	for rows.Next() {
		var (
			entry    model.LogEntry
			seq      int64
			category string
			linkID   uuid.NullUUID
		)
		if err := rows.Scan(&entry.ID, &seq, &entry.Timestamp, &category, &entry.Message, &linkID); err != nil {
			r.logger.Error("Failed to scan log entry", zap.Error(err))
			continue
		}
		entry.Seq = uint64(seq)
		entry.Category = model.Category(category)
		if linkID.Valid {
			id := linkID.UUID
			entry.LinkID = &id
		}
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// DeleteOlderThan removes entries logged before olderThan
func (r *logRepository) DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM link_log WHERE logged_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old log entries: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Info("Old log entries deleted", zap.Int64("removed", removed))
	return removed, nil
}
