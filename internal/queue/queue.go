// Package queue provides the bounded hand-off queue between the receiver
// and the writer.
//
// The queue is the sole synchronization point between the two workers: a
// full queue blocks the producer (explicit backpressure, never a drop), an
// empty queue blocks the consumer up to a timeout so it can still act on
// time-based flush triggers.
package queue

import (
	"sync/atomic"
	"time"

	"github.com/xtxerr/tickstore/internal/codec"
)

// Queue is a capacity-bounded concurrent FIFO of messages.
type Queue struct {
	ch chan codec.Message

	// Statistics
	pushCount atomic.Int64
	popCount  atomic.Int64
}

// New creates a queue with the given capacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{
		ch: make(chan codec.Message, capacity),
	}
}

// Push adds a message, blocking while the queue is full.
func (q *Queue) Push(m codec.Message) {
	q.ch <- m
	q.pushCount.Add(1)
}

// TryPush adds a message without blocking.
// Returns false if the queue is full.
func (q *Queue) TryPush(m codec.Message) bool {
	select {
	case q.ch <- m:
		q.pushCount.Add(1)
		return true
	default:
		return false
	}
}

// Pop removes the oldest message, blocking up to timeout when empty.
// Returns false on timeout.
func (q *Queue) Pop(timeout time.Duration) (codec.Message, bool) {
	select {
	case m := <-q.ch:
		q.popCount.Add(1)
		return m, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m := <-q.ch:
		q.popCount.Add(1)
		return m, true
	case <-timer.C:
		return codec.Message{}, false
	}
}

// Len returns the current number of queued messages.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Stats holds queue statistics.
type Stats struct {
	Pushes int64
	Pops   int64
	Len    int
	Cap    int
}

// Stats returns a snapshot of queue statistics.
func (q *Queue) Stats() Stats {
	return Stats{
		Pushes: q.pushCount.Load(),
		Pops:   q.popCount.Load(),
		Len:    len(q.ch),
		Cap:    cap(q.ch),
	}
}
