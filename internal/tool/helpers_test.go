package tool

import (
	"context"
	"testing"

	"github.com/hamba/avro/v2"
	"github.com/stretchr/testify/require"

	"github.com/GeoffMall/avrokit/internal/avroio"
	"github.com/GeoffMall/avrokit/internal/url"
)

const idSchemaJSON = `{
	"type": "record",
	"name": "Row",
	"fields": [{"name": "id", "type": "int"}]
}`

func parseSchema(t *testing.T, s string) avro.Schema {
	t.Helper()
	parsed, err := avro.Parse(s)
	require.NoError(t, err)
	return parsed
}

func fileURL(t *testing.T, path string, mode url.Mode) url.URL {
	t.Helper()
	u, err := url.Parse(path, mode)
	require.NoError(t, err)
	return u
}

// writeRecords writes records to path with the given schema and writer
// options.
func writeRecords(t *testing.T, ctx context.Context, path, schemaJSON string, records []map[string]any, opts ...avroio.WriterOption) {
	t.Helper()
	writer, err := avroio.NewWriter(ctx, fileURL(t, path, url.ModeWrite), parseSchema(t, schemaJSON), opts...)
	require.NoError(t, err)
	for _, record := range records {
		require.NoError(t, writer.Append(record))
	}
	require.NoError(t, writer.Close(ctx))
}

// idRecords builds records {id: from} .. {id: to-1}.
func idRecords(from, to int) []map[string]any {
	acc := make([]map[string]any, 0, to-from)
	for i := from; i < to; i++ {
		acc = append(acc, map[string]any{"id": i})
	}
	return acc
}

// readIDs reads back the id column of every record at path, in order.
func readIDs(t *testing.T, ctx context.Context, path string) []int {
	t.Helper()
	reader, err := avroio.NewReader(ctx, fileURL(t, path, url.ModeRead))
	require.NoError(t, err)
	defer func() { _ = reader.Close(ctx) }()

	var ids []int
	require.NoError(t, reader.ForEach(func(record map[string]any) error {
		ids = append(ids, record["id"].(int))
		return nil
	}))
	return ids
}
