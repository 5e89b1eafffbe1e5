package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrQueueClosed is returned when submitting to a closed queue.
var ErrQueueClosed = errors.New("sched: task queue closed")

// Lane is a priority class of the task queue.
type Lane int

const (
	// Normal tasks run in submission order.
	Normal Lane = iota
	// Idle tasks start only when no normal task is waiting.
	Idle
)

func (l Lane) String() string {
	if l == Idle {
		return "idle"
	}
	return "normal"
}

// Task is a unit of work. The context is cancelled when the queue is
// closed with Abort.
type Task func(ctx context.Context) error

type pending struct {
	fn     Task
	result chan error
}

// TaskQueue runs tasks one at a time on a single worker goroutine.
type TaskQueue struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	cond   *sync.Cond
	lanes  [2][]*pending
	closed bool
	done   chan struct{}
}

// NewTaskQueue starts the worker. Close must be called to stop it.
func NewTaskQueue(ctx context.Context) *TaskQueue {
	ctx, cancel := context.WithCancel(ctx)
	q := &TaskQueue{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Submit queues fn on lane. The returned channel receives the task's error
// once it has run.
func (q *TaskQueue) Submit(lane Lane, fn Task) (<-chan error, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	p := &pending{fn: fn, result: make(chan error, 1)}
	q.lanes[lane] = append(q.lanes[lane], p)
	queueDepth.WithLabelValues(lane.String()).Set(float64(len(q.lanes[lane])))
	q.cond.Signal()
	return p.result, nil
}

// Do submits fn and waits for it to finish or for ctx to end.
func (q *TaskQueue) Do(ctx context.Context, lane Lane, fn Task) error {
	result, err := q.Submit(lane, fn)
	if err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of tasks waiting on lane, not counting the one
// running.
func (q *TaskQueue) Len(lane Lane) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes[lane])
}

// Close stops accepting tasks, lets the queued ones finish and waits for
// the worker to exit.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
	<-q.done
	q.cancel()
}

// Abort is Close with the running task's context cancelled and the waiting
// tasks failed with ErrQueueClosed.
func (q *TaskQueue) Abort() {
	q.mu.Lock()
	q.closed = true
	for lane, tasks := range q.lanes {
		for _, p := range tasks {
			p.result <- ErrQueueClosed
		}
		q.lanes[lane] = nil
		queueDepth.WithLabelValues(Lane(lane).String()).Set(0)
	}
	q.cond.Signal()
	q.mu.Unlock()
	q.cancel()
	<-q.done
}

func (q *TaskQueue) next() (*pending, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.lanes[Normal]) == 0 && len(q.lanes[Idle]) == 0 {
		if q.closed {
			return nil, false
		}
		q.cond.Wait()
	}
	lane := Normal
	if len(q.lanes[Normal]) == 0 {
		lane = Idle
	}
	p := q.lanes[lane][0]
	q.lanes[lane] = q.lanes[lane][1:]
	queueDepth.WithLabelValues(lane.String()).Set(float64(len(q.lanes[lane])))
	return p, true
}

func (q *TaskQueue) run() {
	defer close(q.done)
	for {
		p, ok := q.next()
		if !ok {
			return
		}
		p.result <- q.call(p.fn)
	}
}

func (q *TaskQueue) call(fn Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(q.ctx)
}
