package avroio

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/hamba/avro/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeoffMall/avrokit/internal/url"
)

const userSchemaJSON = `{
	"type": "record",
	"name": "User",
	"fields": [
		{"name": "name", "type": "string"},
		{"name": "age", "type": "int"},
		{"name": "emails", "type": {"type": "array", "items": "string"}}
	]
}`

func userSchema(t *testing.T) avro.Schema {
	t.Helper()
	s, err := avro.Parse(userSchemaJSON)
	require.NoError(t, err)
	return s
}

func userRecord(i int) map[string]any {
	return map[string]any{
		"name":   fmt.Sprintf("user-%03d", i),
		"age":    i,
		"emails": []any{"a@example.com", "b@example.com", "c@example.com"},
	}
}

func fileURL(t *testing.T, path string, mode url.Mode) url.URL {
	t.Helper()
	u, err := url.Parse(path, mode)
	require.NoError(t, err)
	return u
}

// writeUsers writes n user records to path and returns its URL.
func writeUsers(t *testing.T, ctx context.Context, path string, n int) url.URL {
	t.Helper()
	u := fileURL(t, path, url.ModeWrite)
	writer, err := NewWriter(ctx, u, userSchema(t))
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, writer.Append(userRecord(i)))
	}
	require.NoError(t, writer.Close(ctx))
	return u
}

func readAll(t *testing.T, ctx context.Context, path string) []map[string]any {
	t.Helper()
	reader, err := NewReader(ctx, fileURL(t, path, url.ModeRead))
	require.NoError(t, err)
	defer func() { _ = reader.Close(ctx) }()

	var records []map[string]any
	require.NoError(t, reader.ForEach(func(record map[string]any) error {
		records = append(records, record)
		return nil
	}))
	return records
}

func TestWriterReader_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "users.avro")
	writeUsers(t, ctx, path, 100)

	records := readAll(t, ctx, path)
	require.Len(t, records, 100)
	for i, record := range records {
		assert.Equal(t, fmt.Sprintf("user-%03d", i), record["name"])
		assert.Equal(t, i, record["age"])
		emails, ok := record["emails"].([]any)
		require.True(t, ok)
		assert.Len(t, emails, 3)
	}
}

func TestWriter_RequiresBinaryMode(t *testing.T) {
	ctx := context.Background()
	u := fileURL(t, filepath.Join(t.TempDir(), "out.avro"), url.ModeWriteText)
	_, err := NewWriter(ctx, u, userSchema(t))
	assert.Error(t, err)
}

func TestWriter_RequiresSchemaForNewFile(t *testing.T) {
	ctx := context.Background()
	u := fileURL(t, filepath.Join(t.TempDir(), "out.avro"), url.ModeAppend)
	_, err := NewWriter(ctx, u, nil)
	assert.Error(t, err)
}

func TestWriter_AppendReusesExistingSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "users.avro")
	writeUsers(t, ctx, path, 5)

	// No schema: the writer picks it up from the existing file.
	writer, err := NewWriter(ctx, fileURL(t, path, url.ModeAppend), nil)
	require.NoError(t, err)
	for i := 5; i < 8; i++ {
		require.NoError(t, writer.Append(userRecord(i)))
	}
	require.NoError(t, writer.Close(ctx))

	records := readAll(t, ctx, path)
	require.Len(t, records, 8)
	assert.Equal(t, "user-007", records[7]["name"])
}

func TestReader_InputOffsetAdvances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "users.avro")
	writeUsers(t, ctx, path, 50)

	reader, err := NewReader(ctx, fileURL(t, path, url.ModeRead))
	require.NoError(t, err)
	defer func() { _ = reader.Close(ctx) }()

	var last int64
	require.NoError(t, reader.ForEach(func(record map[string]any) error {
		offset := reader.InputOffset()
		assert.GreaterOrEqual(t, offset, last)
		last = offset
		return nil
	}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), last)
}

func TestPartitionedReader_AcrossDirectory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for i := 0; i < 10; i++ {
		writeUsers(t, ctx, filepath.Join(dir, fmt.Sprintf("part-%05d.avro", i)), 10)
	}

	reader, err := NewPartitionedReader(ctx, fileURL(t, dir, url.ModeRead))
	require.NoError(t, err)
	defer func() { _ = reader.Close(ctx) }()

	count := 0
	require.NoError(t, reader.ForEach(ctx, func(record map[string]any) error {
		count++
		return nil
	}))
	assert.Equal(t, 100, count)
}

func TestPartitionedReader_Empty(t *testing.T) {
	ctx := context.Background()
	pattern := filepath.Join(t.TempDir(), "part-*.avro")

	reader, err := NewPartitionedReader(ctx, fileURL(t, pattern, url.ModeRead))
	require.NoError(t, err)
	_, err = reader.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestCompact(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeUsers(t, ctx, filepath.Join(dir, "in", "a.avro"), 4)
	writeUsers(t, ctx, filepath.Join(dir, "in", "b.avro"), 6)

	out := filepath.Join(dir, "out.avro")
	err := Compact(ctx, nil,
		[]url.URL{fileURL(t, filepath.Join(dir, "in"), url.ModeRead)},
		fileURL(t, out, url.ModeWrite))
	require.NoError(t, err)

	records := readAll(t, ctx, out)
	assert.Len(t, records, 10)
	// Order preserved within and across inputs.
	assert.Equal(t, "user-000", records[0]["name"])
	assert.Equal(t, "user-005", records[9]["name"])
}

func TestCompact_NoSources(t *testing.T) {
	ctx := context.Background()
	pattern := filepath.Join(t.TempDir(), "part-*.avro")
	err := Compact(ctx, nil,
		[]url.URL{fileURL(t, pattern, url.ModeRead)},
		fileURL(t, filepath.Join(t.TempDir(), "out.avro"), url.ModeWrite))
	assert.Error(t, err)
}
