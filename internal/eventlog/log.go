// internal/eventlog/log.go

// Package eventlog keeps the ordered, timestamped record of everything the
// link controller observes. Entries are append-only; consumers either poll
// (Snapshot, Since) or subscribe for push delivery.
package eventlog

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"link-service/internal/model"
)

// Hook observes every appended entry. Hooks run on the appending goroutine,
// one entry at a time in Seq order, and must neither block nor append.
type Hook func(entry model.LogEntry)

// Log is an append-only event log safe for concurrent use
type Log struct {
	mu      sync.Mutex
	hookMu  sync.Mutex
	entries []model.LogEntry
	subs    map[*Subscription]struct{}
	hooks   []Hook
	now     func() time.Time
}

// Option configures a Log
type Option func(*Log)

// WithHook registers a hook invoked after each append
func WithHook(h Hook) Option {
	return func(l *Log) {
		l.hooks = append(l.hooks, h)
	}
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// New creates an empty log
func New(opts ...Option) *Log {
	l := &Log{
		subs: make(map[*Subscription]struct{}),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records a new entry and returns it. It never blocks on consumers.
func (l *Log) Append(category model.Category, message string, linkID *uuid.UUID) model.LogEntry {
	l.mu.Lock()
	entry := model.LogEntry{
		ID:        uuid.New(),
		Seq:       uint64(len(l.entries)) + 1,
		Timestamp: l.now(),
		Category:  category,
		Message:   message,
		LinkID:    linkID,
	}
	l.entries = append(l.entries, entry)
	for s := range l.subs {
		s.notify()
	}
	if len(l.hooks) == 0 {
		l.mu.Unlock()
		return entry
	}

	// Taken before mu is released so hooks see entries in Seq order
	// without holding up Snapshot and subscribers.
	l.hookMu.Lock()
	l.mu.Unlock()
	defer l.hookMu.Unlock()
	for _, h := range l.hooks {
		h(entry)
	}
	return entry
}

// Info appends an Info entry
func (l *Log) Info(message string, linkID *uuid.UUID) model.LogEntry {
	return l.Append(model.CategoryInfo, message, linkID)
}

// Error appends an Error entry
func (l *Log) Error(message string, linkID *uuid.UUID) model.LogEntry {
	return l.Append(model.CategoryError, message, linkID)
}

// Len returns the number of entries appended so far
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Snapshot returns a copy of all entries in append order
func (l *Log) Snapshot() []model.LogEntry {
	return l.Since(0)
}

// Since returns a copy of the entries whose Seq is greater than seq
func (l *Log) Since(seq uint64) []model.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sinceLocked(seq)
}

func (l *Log) sinceLocked(seq uint64) []model.LogEntry {
	if seq >= uint64(len(l.entries)) {
		return nil
	}
	out := make([]model.LogEntry, uint64(len(l.entries))-seq)
	copy(out, l.entries[seq:])
	return out
}

// Subscribe returns a subscription delivering every entry appended after
// this call, in order and without loss.
func (l *Log) Subscribe() *Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subscribeLocked(uint64(len(l.entries)))
}

// SubscribeFrom returns a subscription that first replays entries with Seq
// greater than seq and then follows new ones.
func (l *Log) SubscribeFrom(seq uint64) *Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subscribeLocked(seq)
}

func (l *Log) subscribeLocked(cursor uint64) *Subscription {
	s := newSubscription(l, cursor)
	l.subs[s] = struct{}{}
	s.notify()
	go s.run()
	return s
}

func (l *Log) unsubscribe(s *Subscription) {
	l.mu.Lock()
	delete(l.subs, s)
	l.mu.Unlock()
}

// Subscribers returns the number of active subscriptions
func (l *Log) Subscribers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}
