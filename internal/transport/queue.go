package transport

import (
	"sync"

	"github.com/1ureka/nearby/internal/nearby"
)

// eventQueue is an unbounded FIFO in front of the Events channel, so the
// receive loop and link callbacks never block on a slow consumer.
type eventQueue struct {
	out chan nearby.Event

	mu     sync.Mutex
	items  []nearby.Event
	closed bool
	wake   chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		out:  make(chan nearby.Event),
		wake: make(chan struct{}, 1),
	}
}

// push appends ev. Events pushed after close are dropped.
func (q *eventQueue) push(ev nearby.Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.signal()
}

// close lets run deliver what is queued and then close out.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *eventQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// run forwards queued events to out in order. It returns after close once
// the queue is drained.
func (q *eventQueue) run() {
	defer close(q.out)

	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.wake
			continue
		}
		ev := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		q.out <- ev
	}
}
