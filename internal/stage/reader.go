package stage

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RecordSource yields records one at a time, returning io.EOF when
// exhausted. avroio.PartitionedReader satisfies it.
type RecordSource interface {
	Next(ctx context.Context) (map[string]any, error)
}

// QueueReader iterates a record source from a dedicated worker goroutine
// and hands records to consumers through a bounded queue.
//
// An error inside the worker terminates it and marks the stage done;
// records already enqueued remain consumable.
type QueueReader struct {
	log    *zap.Logger
	source RecordSource

	queue    chan map[string]any
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewQueueReader wraps source with a queue of the given size; size <= 0
// uses DefaultQueueSize.
func NewQueueReader(log *zap.Logger, source RecordSource, size int) *QueueReader {
	if log == nil {
		log = zap.NewNop()
	}
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &QueueReader{
		log:    log,
		source: source,
		queue:  make(chan map[string]any, size),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (r *QueueReader) Start(ctx context.Context) {
	go r.worker(ctx)
}

func (r *QueueReader) worker(ctx context.Context) {
	defer close(r.done)
	for {
		record, err := r.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			r.log.Error("error in reader worker", zap.Error(err))
			return
		}
		select {
		case r.queue <- record:
		case <-r.stop:
			return
		}
	}
}

// Poll waits up to timeout for the next record. The second return is false
// when no record arrived within the timeout.
func (r *QueueReader) Poll(timeout time.Duration) (map[string]any, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case record := <-r.queue:
		return record, true
	case <-timer.C:
		return nil, false
	}
}

// Empty reports whether the queue is drained and the worker has finished.
func (r *QueueReader) Empty() bool {
	select {
	case <-r.done:
		return len(r.queue) == 0
	default:
		return false
	}
}

// Stop signals the worker to terminate and waits for it to exit.
func (r *QueueReader) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}
