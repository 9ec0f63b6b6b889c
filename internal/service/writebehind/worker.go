// Package writebehind runs best-effort side effects off the signaling loop.
package writebehind

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"signaling-backend/pkg/logger"
)

// Recorder counts dropped and failed jobs
type Recorder interface {
	RecordWriteBehindDropped(job string)
	RecordWriteBehindError(job string)
}

type job struct {
	name string
	run  func(ctx context.Context) error
}

// Worker executes jobs one at a time in submission order. Job failures are
// logged and counted, never reported back to the submitter.
type Worker struct {
	jobs     chan job
	timeout  time.Duration
	recorder Recorder

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// New creates a worker with a queue of size jobs, each bounded by timeout.
// recorder may be nil.
func New(size int, timeout time.Duration, recorder Recorder) *Worker {
	w := &Worker{
		jobs:     make(chan job, size),
		timeout:  timeout,
		recorder: recorder,
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue schedules fn without blocking. It returns false when the queue is
// full or the worker is stopped; the job is dropped in that case.
func (w *Worker) Enqueue(name string, fn func(ctx context.Context) error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}
	select {
	case w.jobs <- job{name: name, run: fn}:
		return true
	default:
		logger.Warn("Write-behind queue full, dropping job",
			zap.String("job", name))
		if w.recorder != nil {
			w.recorder.RecordWriteBehindDropped(name)
		}
		return false
	}
}

// Stop refuses new jobs and waits for queued ones to finish or ctx to end
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) run() {
	defer close(w.done)
	for j := range w.jobs {
		w.execute(j)
	}
}

func (w *Worker) execute(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Write-behind job panicked",
				zap.String("job", j.name),
				zap.Any("panic", r))
			if w.recorder != nil {
				w.recorder.RecordWriteBehindError(j.name)
			}
		}
	}()

	if err := j.run(ctx); err != nil {
		logger.Warn("Write-behind job failed",
			zap.String("job", j.name),
			zap.Error(err))
		if w.recorder != nil {
			w.recorder.RecordWriteBehindError(j.name)
		}
	}
}
