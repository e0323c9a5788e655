package stage

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"
)

// memWriter collects appended records.
type memWriter struct {
	mu      sync.Mutex
	records []any
	fail    bool
}

func (w *memWriter) Append(datum any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errs.New("append failed")
	}
	w.records = append(w.records, datum)
	return nil
}

func (w *memWriter) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.records)
}

// sliceSource yields records from a slice, then io.EOF.
type sliceSource struct {
	records []map[string]any
	index   int
	err     error
}

func (s *sliceSource) Next(ctx context.Context) (map[string]any, error) {
	if s.index >= len(s.records) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	record := s.records[s.index]
	s.index++
	return record, nil
}

func TestDeferredWriter_StopDrainsQueue(t *testing.T) {
	sink := &memWriter{}
	writer := NewDeferredWriter(nil, sink, 100)
	writer.Start()

	for i := 0; i < 50; i++ {
		require.NoError(t, writer.Append(i, true, 0))
	}
	writer.Stop()

	// Everything enqueued before Stop is written.
	assert.Equal(t, 50, sink.len())
}

func TestDeferredWriter_SwallowsAppendErrors(t *testing.T) {
	sink := &memWriter{fail: true}
	writer := NewDeferredWriter(nil, sink, 10)
	writer.Start()

	require.NoError(t, writer.Append("datum", true, 0))
	writer.Stop()
	// The worker survived the failing append and terminated cleanly.
	assert.Equal(t, 0, sink.len())
}

func TestDeferredWriter_NonBlockingFull(t *testing.T) {
	sink := &memWriter{}
	writer := NewDeferredWriter(nil, sink, 1)
	// Worker not started: the queue fills up.
	require.NoError(t, writer.Append("a", false, 0))
	assert.Error(t, writer.Append("b", false, 0))
}

func TestDeferredWriter_BlockingTimeout(t *testing.T) {
	sink := &memWriter{}
	writer := NewDeferredWriter(nil, sink, 1)
	require.NoError(t, writer.Append("a", true, 10*time.Millisecond))
	err := writer.Append("b", true, 10*time.Millisecond)
	assert.Error(t, err)
}

func TestQueueReader_ConsumesAll(t *testing.T) {
	source := &sliceSource{records: []map[string]any{
		{"id": 1}, {"id": 2}, {"id": 3},
	}}
	reader := NewQueueReader(nil, source, 10)
	reader.Start(context.Background())

	var got []map[string]any
	for {
		record, ok := reader.Poll(time.Second)
		if !ok {
			break
		}
		got = append(got, record)
		if len(got) == 3 {
			break
		}
	}
	require.Len(t, got, 3)
	assert.Equal(t, 1, got[0]["id"])

	// Worker finished and the queue is drained.
	assert.Eventually(t, reader.Empty, time.Second, 10*time.Millisecond)
}

func TestQueueReader_EmptyBeforeDone(t *testing.T) {
	source := &sliceSource{records: []map[string]any{{"id": 1}}}
	reader := NewQueueReader(nil, source, 10)
	// Not started: not empty because the worker has not signaled done.
	assert.False(t, reader.Empty())

	reader.Start(context.Background())
	record, ok := reader.Poll(time.Second)
	require.True(t, ok)
	assert.Equal(t, 1, record["id"])
}

func TestQueueReader_SourceErrorTerminatesWorker(t *testing.T) {
	source := &sliceSource{
		records: []map[string]any{{"id": 1}},
		err:     errs.New("read failed"),
	}
	reader := NewQueueReader(nil, source, 10)
	reader.Start(context.Background())

	record, ok := reader.Poll(time.Second)
	require.True(t, ok)
	assert.Equal(t, 1, record["id"])

	assert.Eventually(t, reader.Empty, time.Second, 10*time.Millisecond)
}

func TestQueueReader_Stop(t *testing.T) {
	// An endless source: Stop must still terminate the worker.
	source := &endlessSource{}
	reader := NewQueueReader(nil, source, 1)
	reader.Start(context.Background())

	_, ok := reader.Poll(time.Second)
	require.True(t, ok)
	reader.Stop()
}

type endlessSource struct{ n int }

func (s *endlessSource) Next(ctx context.Context) (map[string]any, error) {
	s.n++
	return map[string]any{"n": s.n}, nil
}
