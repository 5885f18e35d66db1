// Package queue hands confirmed analyses to the processing worker.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

var ErrClosed = errors.New("dispatcher closed")

// Handler processes one analysis. Returned errors are logged, never surfaced to the dispatcher's caller.
type Handler func(ctx context.Context, analysisID uuid.UUID) error

// Dispatcher enqueues work without waiting for it to run.
type Dispatcher interface {
	Dispatch(ctx context.Context, analysisID uuid.UUID) error
}

// LocalDispatcher runs jobs on a fixed pool of goroutines in this process.
type LocalDispatcher struct {
	handler Handler
	jobs    chan uuid.UUID
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

func NewLocalDispatcher(handler Handler, workers, buffer int) *LocalDispatcher {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &LocalDispatcher{
		handler: handler,
		jobs:    make(chan uuid.UUID, buffer),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

func (d *LocalDispatcher) run() {
	defer d.wg.Done()
	for id := range d.jobs {
		if err := d.handler(d.ctx, id); err != nil {
			slog.Error("analysis processing failed", "analysis_id", id.String(), "error", err.Error())
		}
	}
}

// Dispatch blocks only while the buffer is full.
func (d *LocalDispatcher) Dispatch(ctx context.Context, analysisID uuid.UUID) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.jobs <- analysisID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work and waits for queued jobs to drain or ctx to expire.
func (d *LocalDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}
