package rdnstap

import (
	"sync"
)

// Multiple-producer, single-consumer queue of frames between the resolver
// goroutines and the dispatcher. Pushing never blocks beyond the internal mutex.
// The consumer is told the queue is closed once all producers have been closed
// and all frames have been consumed, or the queue was aborted.
type queue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	frames    []Frame
	producers int
	maxSize   int // 0 means unbounded
	aborted   bool
	metrics   *TapMetrics
}

func newQueue(maxSize int, metrics *TapMetrics) *queue {
	q := &queue{
		maxSize: maxSize,
		metrics: metrics,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) addProducer() {
	q.mu.Lock()
	q.producers++
	q.mu.Unlock()
}

func (q *queue) removeProducer() {
	q.mu.Lock()
	q.producers--
	if q.producers == 0 {
		q.cond.Broadcast()
	}
	q.mu.Unlock()
}

// Adds a frame to the end of the queue. Returns false if the frame was dropped
// because the queue is full or has been aborted.
func (q *queue) push(f Frame) bool {
	q.mu.Lock()
	if q.aborted {
		q.mu.Unlock()
		q.metrics.dropped.Add("shutdown", 1)
		return false
	}
	if q.maxSize > 0 && len(q.frames) >= q.maxSize {
		q.mu.Unlock()
		q.metrics.dropped.Add("queue-full", 1)
		return false
	}
	q.frames = append(q.frames, f)
	q.metrics.queued.Set(int64(len(q.frames)))
	q.mu.Unlock()
	q.metrics.enqueued.Add(1)
	q.cond.Signal()
	return true
}

// Puts a frame that failed to send back at the head of the queue so it's the
// next one to be sent. Not subject to the size limit.
func (q *queue) requeue(f Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.aborted {
		q.metrics.dropped.Add("shutdown", 1)
		return
	}
	q.frames = append(q.frames, Frame{})
	copy(q.frames[1:], q.frames)
	q.frames[0] = f
	q.metrics.queued.Set(int64(len(q.frames)))
}

// Blocks until a frame is available. Returns false once the queue is closed and
// empty.
func (q *queue) pop() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.frames) == 0 && q.producers > 0 && !q.aborted {
		q.cond.Wait()
	}
	if q.aborted || len(q.frames) == 0 {
		return Frame{}, false
	}
	f := q.frames[0]
	q.frames[0] = Frame{}
	q.frames = q.frames[1:]
	q.metrics.queued.Set(int64(len(q.frames)))
	return f, true
}

// Drops everything in the queue and wakes up the consumer. Returns the number of
// frames that were dropped.
func (q *queue) abort() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.frames)
	q.aborted = true
	q.frames = nil
	q.metrics.queued.Set(0)
	q.metrics.dropped.Add("shutdown", int64(n))
	q.cond.Broadcast()
	return n
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}
