package audiofetch

import "sync"

type commandKind int

const (
	cmdFetch commandKind = iota
	cmdClose
)

// command is a message from controllers and file handles to the fetch
// scheduler of one file.
type command struct {
	kind commandKind
	rng  Range
}

// commandQueue is an unbounded multi-producer, single-consumer queue. The
// consumer selects on notify and drains everything pending at once.
type commandQueue struct {
	lk     sync.Mutex
	items  []command
	closed bool
	notify chan struct{}
}

func newCommandQueue() *commandQueue {
	return &commandQueue{notify: make(chan struct{}, 1)}
}

// push appends c. It returns false if the consumer is gone.
func (q *commandQueue) push(c command) bool {
	q.lk.Lock()
	defer q.lk.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, c)
	q.poke()
	return true
}

// poke wakes the consumer without queueing anything.
func (q *commandQueue) poke() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// drain returns all pending commands and whether the queue is still open.
func (q *commandQueue) drain() ([]command, bool) {
	q.lk.Lock()
	defer q.lk.Unlock()

	items := q.items
	q.items = nil
	return items, !q.closed
}

// close makes every further push fail and wakes the consumer.
func (q *commandQueue) close() {
	q.lk.Lock()
	defer q.lk.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.poke()
}

func (q *commandQueue) isClosed() bool {
	q.lk.Lock()
	defer q.lk.Unlock()
	return q.closed
}
