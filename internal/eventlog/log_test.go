package eventlog

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"link-service/internal/model"
)

func TestAppendAssignsSequenceAndTimestamp(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 9, 30, 15, 0, time.UTC)
	l := New(WithClock(func() time.Time { return fixed }))

	linkID := uuid.New()
	first := l.Info("Connecting to HC-05 ...", nil)
	second := l.Append(model.CategorySent, "Box1_LED_ON", &linkID)

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, fixed, second.Timestamp)
	assert.NotEqual(t, first.ID, second.ID)
	require.NotNil(t, second.LinkID)
	assert.Equal(t, linkID, *second.LinkID)
	assert.Equal(t, "[09:30:15] TX: Box1_LED_ON", second.Display())
	assert.Equal(t, 2, l.Len())
}

func TestSnapshotIsACopy(t *testing.T) {
	l := New()
	l.Info("one", nil)

	snap := l.Snapshot()
	snap[0].Message = "mutated"

	assert.Equal(t, "one", l.Snapshot()[0].Message)
}

func TestSince(t *testing.T) {
	l := New()
	for i := 0; i < 5; i++ {
		l.Info(fmt.Sprintf("entry %d", i), nil)
	}

	got := l.Since(3)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(4), got[0].Seq)
	assert.Equal(t, uint64(5), got[1].Seq)

	assert.Empty(t, l.Since(5))
	assert.Empty(t, l.Since(99))
}

func TestConcurrentAppendKeepsEveryEntry(t *testing.T) {
	l := New()

	const writers, perWriter = 8, 200
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				l.Append(model.CategoryReceived, fmt.Sprintf("w%d-%d", w, i), nil)
			}
		}(w)
	}
	wg.Wait()

	entries := l.Snapshot()
	require.Len(t, entries, writers*perWriter)
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.Seq)
		seen[e.Message] = true
	}
	assert.Len(t, seen, writers*perWriter)
}

func TestHooksSeeEveryEntry(t *testing.T) {
	var mu sync.Mutex
	var got []string
	l := New(WithHook(func(e model.LogEntry) {
		mu.Lock()
		got = append(got, e.Message)
		mu.Unlock()
	}))

	l.Info("a", nil)
	l.Error("b", nil)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestHooksObserveSeqOrderUnderConcurrency(t *testing.T) {
	const writers, perWriter = 8, 200

	var mu sync.Mutex
	var seqs []uint64
	l := New(WithHook(func(e model.LogEntry) {
		mu.Lock()
		seqs = append(seqs, e.Seq)
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				l.Info("tick", nil)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seqs, writers*perWriter)
	for i, seq := range seqs {
		if !assert.Equal(t, uint64(i+1), seq, "hook call %d", i) {
			break
		}
	}
}

func receive(t *testing.T, s *Subscription) model.LogEntry {
	t.Helper()
	select {
	case e, ok := <-s.C():
		require.True(t, ok, "subscription closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for entry")
	}
	return model.LogEntry{}
}

func TestSubscriptionDeliversInOrderWithoutLoss(t *testing.T) {
	l := New()
	l.Info("before subscribe", nil)

	sub := l.Subscribe()
	defer sub.Close()

	// Far more than the channel buffer, appended before the consumer reads.
	const n = 500
	for i := 0; i < n; i++ {
		l.Append(model.CategoryReceived, fmt.Sprintf("line %d", i), nil)
	}

	for i := 0; i < n; i++ {
		e := receive(t, sub)
		assert.Equal(t, fmt.Sprintf("line %d", i), e.Message)
		assert.Equal(t, uint64(i+2), e.Seq)
	}
}

func TestSubscribeFromReplays(t *testing.T) {
	l := New()
	l.Info("one", nil)
	l.Info("two", nil)

	sub := l.SubscribeFrom(0)
	defer sub.Close()

	assert.Equal(t, "one", receive(t, sub).Message)
	assert.Equal(t, "two", receive(t, sub).Message)

	l.Info("three", nil)
	assert.Equal(t, "three", receive(t, sub).Message)
}

func TestSubscriptionClose(t *testing.T) {
	l := New()
	sub := l.Subscribe()
	assert.Equal(t, 1, l.Subscribers())

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, l.Subscribers())

	select {
	case _, ok := <-sub.C():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}

	// Appending after close must not block or panic.
	l.Info("after close", nil)
}
