package swarm

import (
	"context"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/sync"
)

// Unbounded FIFO with a blocking, cancellable dequeue. Used for discovered peer candidates, peers
// awaiting closure, and piece writes.
type asyncQueue[T any] struct {
	mu    sync.Mutex
	items []T
	added chansync.BroadcastCond
}

func (q *asyncQueue[T]) Enqueue(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.added.Broadcast()
}

func (q *asyncQueue[T]) popLocked() (ret T) {
	ret = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return
}

// Dequeue blocks until an item is available or ctx is done.
func (q *asyncQueue[T]) Dequeue(ctx context.Context) (ret T, ok bool) {
	for {
		q.mu.Lock()
		if len(q.items) != 0 {
			ret = q.popLocked()
			q.mu.Unlock()
			return ret, true
		}
		added := q.added.Signaled()
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return
		case <-added:
		}
	}
}

// TryDequeue returns the head without blocking.
func (q *asyncQueue[T]) TryDequeue() (ret T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return
	}
	return q.popLocked(), true
}

func (q *asyncQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
