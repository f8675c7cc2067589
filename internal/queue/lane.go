package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrEmptyLaneID is returned when Do is called with an empty lane ID.
	ErrEmptyLaneID = errors.New("queue: lane ID must not be empty")

	// ErrClosed is returned for work submitted after Close.
	ErrClosed = errors.New("queue: closed")
)

type workItem struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// lane runs its work items one at a time on a single goroutine.
type lane struct {
	work chan workItem
}

func (l *lane) run(wg *sync.WaitGroup) {
	defer wg.Done()
	for item := range l.work {
		if err := item.ctx.Err(); err != nil {
			item.done <- err
			continue
		}
		item.done <- safeExec(item.ctx, item.fn)
	}
}

func safeExec(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: panic: %v", r)
		}
	}()
	return fn(ctx)
}

// laneBufferSize is the capacity of each lane's work channel.
var laneBufferSize = 256

// LaneQueue serializes work per lane. Different lanes run concurrently; work
// within one lane runs in FIFO order.
type LaneQueue struct {
	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup
}

// NewLaneQueue creates a new LaneQueue ready for use.
func NewLaneQueue() *LaneQueue {
	return &LaneQueue{lanes: make(map[string]*lane)}
}

// Do runs fn on laneID and blocks until it finishes or ctx is done. fn
// receives ctx. Work whose ctx is done before it starts is skipped.
func (q *LaneQueue) Do(ctx context.Context, laneID string, fn func(context.Context) error) error {
	if laneID == "" {
		return ErrEmptyLaneID
	}
	item := workItem{ctx: ctx, fn: fn, done: make(chan error, 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	l := q.laneLocked(laneID)
	// Submitting under the lock keeps Close from closing the channel mid-send.
	select {
	case l.work <- item:
		q.mu.Unlock()
	default:
		q.mu.Unlock()
		if err := q.submitSlow(ctx, laneID, item); err != nil {
			return err
		}
	}

	select {
	case err := <-item.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// submitSlow waits for buffer space without holding the lock across the wait.
func (q *LaneQueue) submitSlow(ctx context.Context, laneID string, item workItem) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		l := q.laneLocked(laneID)
		select {
		case l.work <- item:
			q.mu.Unlock()
			return nil
		default:
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-item.ctx.Done():
			return item.ctx.Err()
		default:
		}
		waitBriefly(ctx)
	}
}

func (q *LaneQueue) laneLocked(laneID string) *lane {
	if l, ok := q.lanes[laneID]; ok {
		return l
	}
	l := &lane{work: make(chan workItem, laneBufferSize)}
	q.lanes[laneID] = l
	q.wg.Add(1)
	go l.run(&q.wg)
	return l
}

// LaneCount returns the number of lanes created so far.
func (q *LaneQueue) LaneCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}

// Close stops accepting work, lets queued work drain and waits for every
// lane worker to exit. It is safe to call more than once.
func (q *LaneQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		for _, l := range q.lanes {
			close(l.work)
		}
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// fullLaneBackoff is how long a submitter sleeps when a lane buffer is full.
var fullLaneBackoff = time.Millisecond

func waitBriefly(ctx context.Context) {
	t := time.NewTimer(fullLaneBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
