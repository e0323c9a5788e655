package tool

import (
	"bytes"
	"container/heap"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hamba/avro/v2"
	"go.uber.org/zap"

	"github.com/GeoffMall/avrokit/internal/avroio"
	"github.com/GeoffMall/avrokit/internal/url"
)

// DefaultSortBatchSize is how many records the sorter holds in memory per
// spill file.
const DefaultSortBatchSize = 1000

// Sorter sorts an OCF file on a projected key larger than memory: records
// are batch-sorted into spill files, then k-way merged through a heap.
//
// Sort fields are top-level field names. Null values order before every
// non-null value. The sorter is not order-preserving for equal keys beyond
// a stable tie-break on spill-file index.
type Sorter struct {
	log *zap.Logger
}

// NewSorter returns a Sorter logging to log.
func NewSorter(log *zap.Logger) *Sorter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sorter{log: log}
}

// Run sorts input into output on sortFields. batchSize <= 0 uses
// DefaultSortBatchSize.
func (s *Sorter) Run(ctx context.Context, input, output url.URL, sortFields []string, reverse bool, batchSize int) error {
	if len(sortFields) == 0 {
		return Error.New("at least one sort field is required")
	}
	if batchSize <= 0 {
		batchSize = DefaultSortBatchSize
	}

	reader, err := avroio.NewReader(ctx, input.WithMode(url.ModeRead))
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close(ctx) }()

	recordSchema, err := reader.Schema()
	if err != nil {
		return err
	}

	tmp, err := os.MkdirTemp("", "avrokit-sort-")
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	// Phase 1: batch, sort in memory, spill.
	var spills []url.URL
	batch := make([]map[string]any, 0, batchSize)
	spill := func() error {
		spillURL, err := s.writeBatch(ctx, recordSchema, tmp, len(spills), batch, sortFields, reverse)
		if err != nil {
			return err
		}
		spills = append(spills, spillURL)
		batch = batch[:0]
		return nil
	}
	err = reader.ForEach(func(record map[string]any) error {
		batch = append(batch, record)
		if len(batch) >= batchSize {
			return spill()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(batch) > 0 {
		if err := spill(); err != nil {
			return err
		}
	}
	s.log.Debug("spilled batches", zap.Int("count", len(spills)))

	// Phase 2: k-way merge of the spill files.
	return s.merge(ctx, recordSchema, spills, output, sortFields, reverse)
}

// writeBatch sorts one batch in memory and writes it to a spill file.
func (s *Sorter) writeBatch(ctx context.Context, recordSchema avro.Schema, dir string, id int, batch []map[string]any, sortFields []string, reverse bool) (url.URL, error) {
	sort.SliceStable(batch, func(i, j int) bool {
		cmp := compareKeys(sortKey(batch[i], sortFields), sortKey(batch[j], sortFields))
		if reverse {
			return cmp > 0
		}
		return cmp < 0
	})

	spillURL, err := url.Parse(filepath.Join(dir, fmt.Sprintf("batch_%05d.avro", id)), url.ModeWrite)
	if err != nil {
		return nil, err
	}
	writer, err := avroio.NewWriter(ctx, spillURL, recordSchema)
	if err != nil {
		return nil, err
	}
	for _, record := range batch {
		if err := writer.Append(record); err != nil {
			_ = writer.Close(ctx)
			return nil, err
		}
	}
	if err := writer.Close(ctx); err != nil {
		return nil, err
	}
	return spillURL, nil
}

func (s *Sorter) merge(ctx context.Context, recordSchema avro.Schema, spills []url.URL, output url.URL, sortFields []string, reverse bool) error {
	writer, err := avroio.NewWriter(ctx, output.WithMode(url.ModeWrite), recordSchema)
	if err != nil {
		return err
	}
	defer func() { _ = writer.Close(ctx) }()

	readers := make([]*avroio.Reader, len(spills))
	defer func() {
		for _, r := range readers {
			if r != nil {
				_ = r.Close(ctx)
			}
		}
	}()

	h := &mergeHeap{reverse: reverse}
	for i, spill := range spills {
		reader, err := avroio.NewReader(ctx, spill.WithMode(url.ModeRead))
		if err != nil {
			return err
		}
		readers[i] = reader
		if reader.HasNext() {
			record, err := reader.Decode()
			if err != nil {
				return err
			}
			h.items = append(h.items, mergeItem{
				key:    sortKey(record, sortFields),
				record: record,
				spill:  i,
			})
		}
	}
	heap.Init(h)

	for h.Len() > 0 {
		item := heap.Pop(h).(mergeItem)
		if err := writer.Append(item.record); err != nil {
			return err
		}
		reader := readers[item.spill]
		if reader.HasNext() {
			record, err := reader.Decode()
			if err != nil {
				return err
			}
			heap.Push(h, mergeItem{
				key:    sortKey(record, sortFields),
				record: record,
				spill:  item.spill,
			})
		} else if err := reader.Err(); err != nil {
			return err
		}
	}
	return writer.Close(ctx)
}

// sortKey projects the sort fields out of a record.
func sortKey(record map[string]any, sortFields []string) []any {
	acc := make([]any, len(sortFields))
	for i, f := range sortFields {
		acc[i] = record[f]
	}
	return acc
}

// compareKeys compares projected keys element-wise.
func compareKeys(a, b []any) int {
	for i := range a {
		if i >= len(b) {
			return 1
		}
		if cmp := compareValues(a[i], b[i]); cmp != 0 {
			return cmp
		}
	}
	if len(a) < len(b) {
		return -1
	}
	return 0
}

// compareValues orders two Avro values. Nulls order first; mismatched types
// fall back to their formatted representation so the ordering stays total.
func compareValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	switch av := a.(type) {
	case int:
		if bv, ok := toInt64(b); ok {
			return compareInt64(int64(av), bv)
		}
	case int32:
		if bv, ok := toInt64(b); ok {
			return compareInt64(int64(av), bv)
		}
	case int64:
		if bv, ok := toInt64(b); ok {
			return compareInt64(av, bv)
		}
	case float32:
		if bv, ok := toFloat64(b); ok {
			return compareFloat64(float64(av), bv)
		}
	case float64:
		if bv, ok := toFloat64(b); ok {
			return compareFloat64(av, bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case !av && bv:
				return -1
			case av && !bv:
				return 1
			}
			return 0
		}
	case []byte:
		if bv, ok := b.([]byte); ok {
			return bytes.Compare(av, bv)
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// mergeItem is one head-of-spill record in the merge heap.
type mergeItem struct {
	key    []any
	record map[string]any
	spill  int
}

// mergeHeap orders head records by key, inverted under reverse, with a
// stable tie-break on spill-file index.
type mergeHeap struct {
	items   []mergeItem
	reverse bool
}

func (h *mergeHeap) Len() int { return len(h.items) }

func (h *mergeHeap) Less(i, j int) bool {
	cmp := compareKeys(h.items[i].key, h.items[j].key)
	if h.reverse {
		cmp = -cmp
	}
	if cmp != 0 {
		return cmp < 0
	}
	return h.items[i].spill < h.items[j].spill
}

func (h *mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *mergeHeap) Push(x any) { h.items = append(h.items, x.(mergeItem)) }

func (h *mergeHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
