package tool

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeoffMall/avrokit/internal/avroio"
	"github.com/GeoffMall/avrokit/internal/url"
)

// shuffledIDs returns a deterministic permutation of [0, n).
func shuffledIDs(n int) []map[string]any {
	acc := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		acc = append(acc, map[string]any{"id": (i * 7919) % n})
	}
	return acc
}

func TestSorter_ExternalMergeSort(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	in := filepath.Join(dir, "in.avro")
	writeRecords(t, ctx, in, idSchemaJSON, shuffledIDs(1000))

	out := filepath.Join(dir, "out.avro")
	err := NewSorter(nil).Run(ctx,
		fileURL(t, in, url.ModeRead),
		fileURL(t, out, url.ModeWrite),
		[]string{"id"}, false, 50)
	require.NoError(t, err)

	ids := readIDs(t, ctx, out)
	require.Len(t, ids, 1000)
	seen := make(map[int]int)
	for i, id := range ids {
		if i > 0 {
			assert.LessOrEqual(t, ids[i-1], id)
		}
		seen[id]++
	}
	// Output multiset equals input multiset.
	assert.Len(t, seen, 1000)
}

func TestSorter_Reverse(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	in := filepath.Join(dir, "in.avro")
	writeRecords(t, ctx, in, idSchemaJSON, shuffledIDs(100))

	out := filepath.Join(dir, "out.avro")
	err := NewSorter(nil).Run(ctx,
		fileURL(t, in, url.ModeRead),
		fileURL(t, out, url.ModeWrite),
		[]string{"id"}, true, 30)
	require.NoError(t, err)

	ids := readIDs(t, ctx, out)
	require.Len(t, ids, 100)
	for i := 1; i < len(ids); i++ {
		assert.GreaterOrEqual(t, ids[i-1], ids[i])
	}
}

func TestSorter_NullsOrderFirst(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	in := filepath.Join(dir, "in.avro")

	nullableSchema := `{
		"type": "record",
		"name": "Row",
		"fields": [{"name": "id", "type": ["null", "int"], "default": null}]
	}`
	records := []map[string]any{
		{"id": map[string]any{"int": 5}},
		{"id": nil},
		{"id": map[string]any{"int": 1}},
		{"id": nil},
	}
	writeRecords(t, ctx, in, nullableSchema, records)

	out := filepath.Join(dir, "out.avro")
	err := NewSorter(nil).Run(ctx,
		fileURL(t, in, url.ModeRead),
		fileURL(t, out, url.ModeWrite),
		[]string{"id"}, false, 2)
	require.NoError(t, err)

	reader, err := avroio.NewReader(ctx, fileURL(t, out, url.ModeRead))
	require.NoError(t, err)
	defer func() { _ = reader.Close(ctx) }()

	var values []any
	require.NoError(t, reader.ForEach(func(record map[string]any) error {
		values = append(values, record["id"])
		return nil
	}))
	require.Len(t, values, 4)
	assert.Nil(t, values[0])
	assert.Nil(t, values[1])
}

func TestSorter_MultipleFields(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	in := filepath.Join(dir, "in.avro")

	pairSchema := `{
		"type": "record",
		"name": "Pair",
		"fields": [
			{"name": "a", "type": "int"},
			{"name": "b", "type": "int"}
		]
	}`
	records := []map[string]any{
		{"a": 2, "b": 1},
		{"a": 1, "b": 2},
		{"a": 1, "b": 1},
		{"a": 2, "b": 0},
	}
	writeRecords(t, ctx, in, pairSchema, records)

	out := filepath.Join(dir, "out.avro")
	err := NewSorter(nil).Run(ctx,
		fileURL(t, in, url.ModeRead),
		fileURL(t, out, url.ModeWrite),
		[]string{"a", "b"}, false, 10)
	require.NoError(t, err)

	reader, err := avroio.NewReader(ctx, fileURL(t, out, url.ModeRead))
	require.NoError(t, err)
	defer func() { _ = reader.Close(ctx) }()

	var got [][2]int
	require.NoError(t, reader.ForEach(func(record map[string]any) error {
		got = append(got, [2]int{record["a"].(int), record["b"].(int)})
		return nil
	}))
	assert.Equal(t, [][2]int{{1, 1}, {1, 2}, {2, 0}, {2, 1}}, got)
}

func TestSorter_RequiresSortFields(t *testing.T) {
	ctx := context.Background()
	err := NewSorter(nil).Run(ctx,
		fileURL(t, filepath.Join(t.TempDir(), "in.avro"), url.ModeRead),
		fileURL(t, filepath.Join(t.TempDir(), "out.avro"), url.ModeWrite),
		nil, false, 10)
	assert.Error(t, err)
}

func TestCompareValues(t *testing.T) {
	assert.Equal(t, 0, compareValues(nil, nil))
	assert.Equal(t, -1, compareValues(nil, 1))
	assert.Equal(t, 1, compareValues(1, nil))
	assert.Equal(t, -1, compareValues(1, 2))
	assert.Equal(t, 1, compareValues(int64(5), int32(3)))
	assert.Equal(t, -1, compareValues("a", "b"))
	assert.Equal(t, -1, compareValues(false, true))
	assert.Equal(t, -1, compareValues(1.5, 2.5))
	assert.Equal(t, -1, compareValues([]byte{1}, []byte{2}))
}
