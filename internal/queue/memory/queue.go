// Package memory provides the bounded in-process run queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ilse31/anime-scrapper/internal/crawler"
)

// Queue is a bounded in-memory queue of run requests.
type Queue struct {
	ch      chan crawler.RunRequest
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a queue holding at most capacity pending requests.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch: make(chan crawler.RunRequest, capacity),
	}
}

// TryEnqueue adds req without blocking. It reports false when the queue is
// full or closed.
func (q *Queue) TryEnqueue(req crawler.RunRequest) bool {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- req:
		return true
	default:
		return false
	}
}

// Dequeue pops the next request, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawler.RunRequest, error) {
	select {
	case <-ctx.Done():
		return crawler.RunRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case req, ok := <-q.ch:
		if !ok {
			return crawler.RunRequest{}, crawler.ErrQueueClosed
		}
		return req, nil
	}
}

// Len returns the number of pending requests.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting requests. Pending requests can still be dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
