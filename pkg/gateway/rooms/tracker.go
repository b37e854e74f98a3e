package rooms

import (
	"context"
	"sync"
)

// tracker counts live work (websocket connections and agent start-ups) so a
// draining server can cancel it and wait for it to unwind.
type tracker struct {
	mu      sync.Mutex
	entries map[uint64]*trackedWork
	next    uint64
	wg      sync.WaitGroup
}

type trackedWork struct {
	room   string
	cancel func()
	once   sync.Once
}

func newTracker() *tracker {
	return &tracker{entries: make(map[uint64]*trackedWork)}
}

func (t *tracker) add(room string, cancel func()) (done func()) {
	w := &trackedWork{room: room, cancel: cancel}
	t.mu.Lock()
	t.next++
	id := t.next
	t.entries[id] = w
	t.wg.Add(1)
	t.mu.Unlock()

	return func() {
		w.once.Do(func() {
			t.mu.Lock()
			delete(t.entries, id)
			t.mu.Unlock()
			t.wg.Done()
		})
	}
}

func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// cancel calls the cancel func of every entry for room, or of every entry
// when room is empty.
func (t *tracker) cancel(room string) int {
	var cancels []func()
	t.mu.Lock()
	for _, w := range t.entries {
		if w.cancel == nil || (room != "" && w.room != room) {
			continue
		}
		cancels = append(cancels, w.cancel)
	}
	t.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	return len(cancels)
}

func (t *tracker) wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
