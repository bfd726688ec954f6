package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dropLog struct {
	mu     sync.Mutex
	drops  []string
	frames []int64
}

func (d *dropLog) record(frame int64, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drops = append(d.drops, reason)
	d.frames = append(d.frames, frame)
}

func (d *dropLog) dropped() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.frames...)
}

func (d *dropLog) reasons() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.drops...)
}

func frame(n int64) FrameInput {
	return FrameInput{Frame: n, Timestamp: time.Duration(n) * frameDt}
}

func nextFrames(t *testing.T, q *Queue, n int) []int64 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var out []int64
	for i := 0; i < n; i++ {
		in, err := q.Next(ctx)
		require.NoError(t, err)
		out = append(out, in.Frame)
	}
	return out
}

func TestQueue_ReordersOutOfOrderArrivals(t *testing.T) {
	t.Parallel()
	q := NewQueue(8, 0)
	ctx := context.Background()
	for _, f := range []int64{2, 0, 3, 1} {
		require.NoError(t, q.Put(ctx, frame(f)))
	}
	assert.Equal(t, []int64{0, 1, 2, 3}, nextFrames(t, q, 4))
	assert.Equal(t, 0, q.Len())
}

func TestQueue_DropsStaleAndDuplicate(t *testing.T) {
	t.Parallel()
	var log dropLog
	q := NewQueue(8, 0)
	q.SetDropHandler(log.record)
	ctx := context.Background()

	require.NoError(t, q.Put(ctx, frame(0)))
	assert.Equal(t, []int64{0}, nextFrames(t, q, 1))

	require.NoError(t, q.Put(ctx, frame(0)))
	require.NoError(t, q.Put(ctx, frame(2)))
	require.NoError(t, q.Put(ctx, frame(2)))
	assert.Equal(t, []string{DropStale, DropDuplicate}, log.reasons())
	assert.Equal(t, 1, q.Len())
}

func TestQueue_PutBlocksWhenFull(t *testing.T) {
	t.Parallel()
	q := NewQueue(2, 0)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, frame(0)))
	require.NoError(t, q.Put(ctx, frame(1)))

	done := make(chan error, 1)
	go func() { done <- q.Put(ctx, frame(2)) }()

	select {
	case err := <-done:
		t.Fatalf("Put returned %v on a full queue", err)
	case <-time.After(50 * time.Millisecond):
	}

	assert.Equal(t, []int64{0}, nextFrames(t, q, 1))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Put did not resume after Next")
	}
	assert.Equal(t, []int64{1, 2}, nextFrames(t, q, 2))
}

func TestQueue_SkipsGapWhenFull(t *testing.T) {
	t.Parallel()
	var log dropLog
	q := NewQueue(2, 0)
	q.SetDropHandler(log.record)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, frame(2)))
	require.NoError(t, q.Put(ctx, frame(1)))

	assert.Equal(t, []int64{1, 2}, nextFrames(t, q, 2))
	assert.Equal(t, []string{DropGap}, log.reasons())

	// The skipped frame is now stale.
	require.NoError(t, q.Put(ctx, frame(0)))
	assert.Equal(t, []string{DropGap, DropStale}, log.reasons())
}

func TestQueue_SkipsWideGapReportsEveryFrame(t *testing.T) {
	t.Parallel()
	var log dropLog
	q := NewQueue(2, 0)
	q.SetDropHandler(log.record)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, frame(5)))
	require.NoError(t, q.Put(ctx, frame(6)))

	assert.Equal(t, []int64{5, 6}, nextFrames(t, q, 2))
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, log.dropped())
	assert.Equal(t, []string{DropGap, DropGap, DropGap, DropGap, DropGap}, log.reasons())
}

func TestQueue_CloseDrains(t *testing.T) {
	t.Parallel()
	q := NewQueue(4, 0)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, frame(3)))
	require.NoError(t, q.Put(ctx, frame(1)))
	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Put(ctx, frame(4)), ErrQueueClosed)
	assert.Equal(t, []int64{1, 3}, nextFrames(t, q, 2))
	_, err := q.Next(ctx)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_CloseWakesWaitingNext(t *testing.T) {
	t.Parallel()
	q := NewQueue(4, 0)
	done := make(chan error, 1)
	go func() {
		_, err := q.Next(context.Background())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("Next did not observe Close")
	}
}

func TestQueue_ContextCancellation(t *testing.T) {
	t.Parallel()
	q := NewQueue(1, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Next(ctx)
	assert.True(t, errors.Is(err, context.Canceled))

	require.NoError(t, q.Put(context.Background(), frame(0)))
	err = q.Put(ctx, frame(1))
	assert.True(t, errors.Is(err, context.Canceled))
}
