// Package stage decouples producers and consumers from Avro writers and
// readers via a bounded handoff queue and a single worker goroutine per
// stage. The queue is the only synchronization boundary; neither stage
// requires thread safety from the wrapped writer or reader.
package stage

import (
	"sync"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/GeoffMall/avrokit/internal/avroio"
)

var Error = errs.Class("stage")

// DefaultQueueSize bounds the handoff queue between a producer and the
// stage worker.
const DefaultQueueSize = 1024

// DeferredWriter accepts records and appends them to the wrapped writer
// asynchronously from a dedicated worker goroutine.
//
// Stop drains the queue before returning, so no enqueued record is lost at
// a clean shutdown. Append errors inside the worker are logged and
// swallowed; the worker does not die on a single bad record.
type DeferredWriter struct {
	log    *zap.Logger
	writer avroio.Appendable

	queue    chan any
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewDeferredWriter wraps writer with a queue of the given size; size <= 0
// uses DefaultQueueSize.
func NewDeferredWriter(log *zap.Logger, writer avroio.Appendable, size int) *DeferredWriter {
	if log == nil {
		log = zap.NewNop()
	}
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &DeferredWriter{
		log:    log,
		writer: writer,
		queue:  make(chan any, size),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (w *DeferredWriter) Start() {
	go w.worker()
}

func (w *DeferredWriter) worker() {
	defer close(w.done)
	for {
		select {
		case datum := <-w.queue:
			w.append(datum)
		case <-w.stop:
			// Drain whatever producers managed to enqueue before Stop.
			for {
				select {
				case datum := <-w.queue:
					w.append(datum)
				default:
					return
				}
			}
		}
	}
}

func (w *DeferredWriter) append(datum any) {
	if err := w.writer.Append(datum); err != nil {
		w.log.Error("error in writer worker", zap.Error(err))
	}
}

// Append enqueues a record. With block false it fails immediately when the
// queue is full; with a positive timeout it waits at most that long.
func (w *DeferredWriter) Append(datum any, block bool, timeout time.Duration) error {
	if !block {
		select {
		case w.queue <- datum:
			return nil
		default:
			return Error.New("queue is full")
		}
	}
	if timeout <= 0 {
		w.queue <- datum
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case w.queue <- datum:
		return nil
	case <-timer.C:
		return Error.New("timed out enqueueing record after %s", timeout)
	}
}

// Stop signals termination and waits for the worker to drain the queue and
// exit.
func (w *DeferredWriter) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}
