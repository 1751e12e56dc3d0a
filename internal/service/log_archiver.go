// internal/service/log_archiver.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"link-service/internal/eventlog"
	"link-service/internal/model"
	"link-service/internal/repository"
	"link-service/internal/utils"
)

// ErrArchiveDisabled is returned by history queries when no database is configured
var ErrArchiveDisabled = errors.New("log archive is disabled")

// ArchiverOptions tunes a LogArchiver
type ArchiverOptions struct {
	BatchSize     int
	FlushInterval time.Duration
	Retention     time.Duration
	MaxPending    int
}

func (o ArchiverOptions) withDefaults() ArchiverOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 64
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 2 * time.Second
	}
	if o.Retention <= 0 {
		o.Retention = 30 * 24 * time.Hour
	}
	if o.MaxPending < o.BatchSize {
		o.MaxPending = 64 * o.BatchSize
	}
	return o
}

// LogArchiver copies the in-memory event log into PostgreSQL. Entries are
// written in batches tagged with the boot id of this process, so sequence
// numbers restarting at 1 never collide.
type LogArchiver struct {
	repo   repository.LogRepository
	events *eventlog.Log
	opts   ArchiverOptions
	bootID uuid.UUID
	logger *utils.ServiceLogger

	pending []model.LogEntry
	cursor  uint64
	done    chan struct{}
}

// NewLogArchiver creates an archiver; call Run to start it
func NewLogArchiver(repo repository.LogRepository, events *eventlog.Log, opts ArchiverOptions, logger *zap.Logger) *LogArchiver {
	return &LogArchiver{
		repo:   repo,
		events: events,
		opts:   opts.withDefaults(),
		bootID: uuid.New(),
		logger: utils.NewServiceLogger(logger, "log-archiver"),
		done:   make(chan struct{}),
	}
}

// BootID identifies the rows written by this process
func (a *LogArchiver) BootID() uuid.UUID {
	return a.bootID
}

// Done is closed once Run has returned
func (a *LogArchiver) Done() <-chan struct{} {
	return a.done
}

// Run archives every entry from the start of the log until ctx is
// cancelled, then flushes what is left.
func (a *LogArchiver) Run(ctx context.Context) {
	defer close(a.done)

	sub := a.events.SubscribeFrom(0)
	defer sub.Close()

	flush := time.NewTicker(a.opts.FlushInterval)
	defer flush.Stop()

	a.logger.Info("Log archiver started", zap.String("boot_id", a.bootID.String()))

	for {
		select {
		case entry, ok := <-sub.C():
			if !ok {
				a.final()
				return
			}
			a.add(entry)
			if len(a.pending) >= a.opts.BatchSize {
				a.flush(ctx)
			}

		case <-flush.C:
			a.flush(ctx)

		case <-ctx.Done():
			a.final()
			return
		}
	}
}

func (a *LogArchiver) add(entry model.LogEntry) {
	if len(a.pending) >= a.opts.MaxPending {
		// database has been unreachable for a while; keep the newest entries
		drop := len(a.pending) - a.opts.MaxPending + 1
		a.logger.Warn("Archive backlog full, dropping oldest entries", zap.Int("dropped", drop))
		a.pending = append(a.pending[:0], a.pending[drop:]...)
	}
	a.pending = append(a.pending, entry)
	a.cursor = entry.Seq
}

func (a *LogArchiver) flush(ctx context.Context) {
	if len(a.pending) == 0 {
		return
	}

	start := time.Now()
	err := a.repo.AppendBatch(ctx, a.bootID, a.pending)
	a.logger.LogDatabaseQuery("append link_log batch", time.Since(start), err)
	if err != nil {
		// retried on the next flush
		return
	}
	a.pending = a.pending[:0]
}

// final drains the entries still queued in the log and writes them with a
// fresh deadline, since the run context is already gone.
func (a *LogArchiver) final() {
	for _, entry := range a.events.Since(a.cursor) {
		a.add(entry)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.flush(ctx)
	if len(a.pending) > 0 {
		a.logger.Warn("Log archiver stopped with unwritten entries", zap.Int("pending", len(a.pending)))
	}
	a.logger.Info("Log archiver stopped")
}

// Cleanup removes archived entries older than the retention window
func (a *LogArchiver) Cleanup(ctx context.Context) (int64, error) {
	removed, err := a.repo.DeleteOlderThan(ctx, time.Now().Add(-a.opts.Retention))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup link log: %w", err)
	}
	if removed > 0 {
		a.logger.Info("Cleaned up archived log entries", zap.Int64("deleted", removed))
	}
	return removed, nil
}

// History queries archived entries across restarts
func (a *LogArchiver) History(ctx context.Context, filter *repository.LogFilter) ([]*model.LogEntry, error) {
	if a == nil || a.repo == nil {
		return nil, ErrArchiveDisabled
	}
	if filter == nil {
		filter = &repository.LogFilter{}
	}
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 200
	}
	entries, err := a.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived log: %w", err)
	}
	return entries, nil
}
