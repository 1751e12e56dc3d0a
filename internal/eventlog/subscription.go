// internal/eventlog/subscription.go
package eventlog

import (
	"sync"

	"link-service/internal/model"
)

// Subscription pushes log entries to a single consumer.
//
// Delivery is cursor based: the subscription reads entries from the log
// itself, so a slow consumer delays only its own feed and never causes an
// entry to be dropped or the appender to block.
type Subscription struct {
	log    *Log
	ch     chan model.LogEntry
	wake   chan struct{}
	done   chan struct{}
	cursor uint64
	once   sync.Once
}

func newSubscription(l *Log, cursor uint64) *Subscription {
	return &Subscription{
		log:    l,
		ch:     make(chan model.LogEntry, 64),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		cursor: cursor,
	}
}

// C returns the delivery channel. It is closed after Close.
func (s *Subscription) C() <-chan model.LogEntry {
	return s.ch
}

// Close stops delivery and releases the subscription
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.log.unsubscribe(s)
		close(s.done)
	})
}

// notify wakes the pump; coalesces with a pending wake-up
func (s *Subscription) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	defer close(s.ch)

	for {
		select {
		case <-s.wake:
		case <-s.done:
			return
		}

		for _, entry := range s.log.Since(s.cursor) {
			select {
			case s.ch <- entry:
				s.cursor = entry.Seq
			case <-s.done:
				return
			}
		}
	}
}
