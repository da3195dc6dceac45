// Package tasks runs fire-and-forget background work on a bounded worker
// pool. Side effects (embedding, linking, extraction, ledger commits) go
// through here so the write path never blocks on them.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Submitter accepts background work. Submit reports whether the task was
// accepted; rejection means the queue is saturated and the work is dropped.
type Submitter interface {
	Submit(name string, fn func(context.Context)) bool
}

// Config for the queue. Zero values get sensible defaults.
type Config struct {
	// Workers is the number of goroutines draining the queue. Default 4.
	Workers int

	// QueueSize bounds pending tasks. Default 256.
	QueueSize int

	// TaskTimeout caps each task's context. Default 30s.
	TaskTimeout time.Duration

	Logger *log.Logger
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
}

type task struct {
	name string
	fn   func(context.Context)
}

// Queue is a bounded task queue with a fixed worker pool. Saturation drops
// tasks rather than blocking callers; drops are logged so backpressure is
// observable.
type Queue struct {
	cfg    Config
	ch     chan task
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	logger *log.Logger
}

// NewQueue starts the worker pool.
func NewQueue(cfg Config) *Queue {
	cfg.applyDefaults()

	q := &Queue{
		cfg:    cfg,
		ch:     make(chan task, cfg.QueueSize),
		logger: cfg.Logger.With("component", "tasks"),
	}

	q.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go q.worker()
	}
	return q
}

// Submit enqueues a task without blocking. Returns false (and logs) when
// the queue is saturated or closed.
func (q *Queue) Submit(name string, fn func(context.Context)) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("task rejected, queue closed", "task", name)
		return false
	}

	select {
	case q.ch <- task{name: name, fn: fn}:
		q.mu.Unlock()
		return true
	default:
		q.mu.Unlock()
		q.logger.Warn("task dropped, queue saturated", "task", name)
		return false
	}
}

// Close stops accepting tasks and waits for in-flight and queued tasks to
// drain.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for t := range q.ch {
		q.run(t)
	}
}

func (q *Queue) run(t task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task panicked", "task", t.name, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.TaskTimeout)
	defer cancel()
	t.fn(ctx)
}

// Inline runs submitted tasks synchronously on the caller's goroutine.
// Used in tests where side effects must complete deterministically.
type Inline struct{}

func (Inline) Submit(_ string, fn func(context.Context)) bool {
	fn(context.Background())
	return true
}

// Discard rejects every task. Stands in for an absent queue.
type Discard struct{}

func (Discard) Submit(string, func(context.Context)) bool { return false }
