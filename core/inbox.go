package core

import (
	"sync"
)

// inbox is the apartment call queue: many producers, one consumer (the
// owning thread). wake holds at most one pending signal; the consumer
// drains the queue completely after each wake-up.
type inbox struct {
	mu       sync.Mutex
	queue    []*CallRequest
	capacity int
	closed   bool
	wake     chan struct{}
}

func newInbox(capacity int) *inbox {
	return &inbox{
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}
}

func (q *inbox) push(req *CallRequest) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrApartmentGone
	}
	if q.capacity > 0 && len(q.queue) >= q.capacity {
		q.mu.Unlock()
		return ErrInboxFull
	}
	q.queue = append(q.queue, req)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *inbox) pop() *CallRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.queue) == 0 {
		return nil
	}
	req := q.queue[0]
	q.queue[0] = nil
	q.queue = q.queue[1:]
	return req
}

// close rejects further pushes and hands back whatever was still queued.
func (q *inbox) close() []*CallRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	pending := q.queue
	q.queue = nil
	return pending
}

func (q *inbox) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

func (q *inbox) setCapacity(capacity int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.capacity = capacity
}
