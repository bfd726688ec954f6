package session

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Put after Close and by Next once a closed
// queue has been drained.
var ErrQueueClosed = errors.New("frame queue closed")

// Drop reasons reported to the drop handler.
const (
	DropStale     = "stale"     // frame index already consumed
	DropDuplicate = "duplicate" // frame index already buffered
	DropGap       = "gap"       // missing frame skipped to keep the queue moving
)

// Queue is a bounded buffer of frame batches keyed by frame index. Put blocks
// while the buffer is full. Next yields batches in strictly increasing frame
// order, holding early arrivals until the expected index shows up. When the
// buffer is full and the expected index is still missing, Next skips to the
// lowest buffered index.
type Queue struct {
	mu       sync.Mutex
	capacity int
	next     int64
	pending  map[int64]FrameInput
	closed   bool
	changed  chan struct{}
	onDrop   func(frame int64, reason string)
}

// NewQueue returns a queue holding at most capacity batches whose first
// expected frame index is first.
func NewQueue(capacity int, first int64) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		capacity: capacity,
		next:     first,
		pending:  make(map[int64]FrameInput, capacity),
		changed:  make(chan struct{}),
	}
}

// SetDropHandler installs fn to be told about every dropped or skipped frame.
// fn runs with the queue lock held and must not call back into the queue.
func (q *Queue) SetDropHandler(fn func(frame int64, reason string)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onDrop = fn
}

// Put enqueues a batch, blocking while the queue is full. Stale and duplicate
// batches are dropped without error.
func (q *Queue) Put(ctx context.Context, in FrameInput) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if in.Frame < q.next {
			q.dropLocked(in.Frame, DropStale)
			q.mu.Unlock()
			return nil
		}
		if _, dup := q.pending[in.Frame]; dup {
			q.dropLocked(in.Frame, DropDuplicate)
			q.mu.Unlock()
			return nil
		}
		if len(q.pending) < q.capacity {
			q.pending[in.Frame] = in
			q.notifyLocked()
			q.mu.Unlock()
			return nil
		}
		ch := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Next returns the batch with the lowest deliverable frame index, blocking
// until one is available, the queue is closed and drained, or ctx is done.
func (q *Queue) Next(ctx context.Context) (FrameInput, error) {
	for {
		q.mu.Lock()
		if in, ok := q.pending[q.next]; ok {
			q.takeLocked(in)
			q.mu.Unlock()
			return in, nil
		}
		if len(q.pending) > 0 && (q.closed || len(q.pending) >= q.capacity) {
			lowest := q.lowestLocked()
			for f := q.next; f < lowest; f++ {
				q.dropLocked(f, DropGap)
			}
			in := q.pending[lowest]
			q.takeLocked(in)
			q.mu.Unlock()
			return in, nil
		}
		if q.closed {
			q.mu.Unlock()
			return FrameInput{}, ErrQueueClosed
		}
		ch := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return FrameInput{}, ctx.Err()
		case <-ch:
		}
	}
}

// Close stops accepting batches. Buffered batches remain readable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.notifyLocked()
	}
}

// Len returns the number of buffered batches.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) takeLocked(in FrameInput) {
	delete(q.pending, in.Frame)
	q.next = in.Frame + 1
	q.notifyLocked()
}

func (q *Queue) lowestLocked() int64 {
	first := true
	var lowest int64
	for f := range q.pending {
		if first || f < lowest {
			lowest, first = f, false
		}
	}
	return lowest
}

func (q *Queue) dropLocked(frame int64, reason string) {
	tracef("queue: dropping frame %d (%s)", frame, reason)
	if q.onDrop != nil {
		q.onDrop(frame, reason)
	}
}

// notifyLocked wakes every goroutine blocked in Put or Next.
func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
