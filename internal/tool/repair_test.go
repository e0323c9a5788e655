package tool

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeoffMall/avrokit/internal/avroio"
	"github.com/GeoffMall/avrokit/internal/container"
	"github.com/GeoffMall/avrokit/internal/url"
)

// corruptFirstBlockSync overwrites the first block's trailing sync marker,
// returning the byte offset that was corrupted.
func corruptFirstBlockSync(t *testing.T, path string) int64 {
	t.Helper()
	fh, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer func() { _ = fh.Close() }()

	_, err = container.ReadHeader(fh)
	require.NoError(t, err)
	_, size, err := container.ReadBlockHeader(fh)
	require.NoError(t, err)
	pos, err := fh.Seek(0, io.SeekCurrent)
	require.NoError(t, err)

	syncOffset := pos + size
	garbage := make([]byte, container.SyncSize)
	for i := range garbage {
		garbage[i] = 0xff
	}
	_, err = fh.WriteAt(garbage, syncOffset)
	require.NoError(t, err)
	return syncOffset
}

func TestRepair_RecoversBlocksAfterCorruption(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	in := filepath.Join(dir, "in.avro")
	// 10 blocks of 10 records each.
	writeRecords(t, ctx, in, idSchemaJSON, idRecords(0, 100), avroio.WithBlockLength(10))
	corruptFirstBlockSync(t, in)

	out := filepath.Join(dir, "out.avro")
	reports, err := NewRepair(nil).Run(ctx,
		fileURL(t, in, url.ModeRead),
		fileURL(t, out, url.ModeWrite), false)
	require.NoError(t, err)
	require.Len(t, reports, 1)

	report := reports[0]
	assert.Equal(t, in, report.InputURL)
	assert.Equal(t, out, report.OutputURL)
	assert.Greater(t, report.CorruptBlocks, int64(0))

	// The output opens cleanly and holds fewer records than the original:
	// the corrupted block is lost, and the resync consumes the following
	// block's body up to its trailing sync marker.
	ids := readIDs(t, ctx, out)
	assert.Less(t, len(ids), 100)
	assert.Equal(t, 80, len(ids))
	// Recovery resumes in input order after the corruption.
	assert.Equal(t, 20, ids[0])
	assert.Equal(t, 99, ids[len(ids)-1])
}

func TestRepair_CleanFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	in := filepath.Join(dir, "in.avro")
	writeRecords(t, ctx, in, idSchemaJSON, idRecords(0, 50), avroio.WithBlockLength(10))

	out := filepath.Join(dir, "out.avro")
	reports, err := NewRepair(nil).Run(ctx,
		fileURL(t, in, url.ModeRead),
		fileURL(t, out, url.ModeWrite), false)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, int64(0), reports[0].CorruptBlocks)
	assert.Equal(t, int64(5), reports[0].Blocks)

	ids := readIDs(t, ctx, out)
	require.Len(t, ids, 50)
	for i, id := range ids {
		assert.Equal(t, i, id)
	}
}

func TestRepair_TruncatedFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	in := filepath.Join(dir, "in.avro")
	writeRecords(t, ctx, in, idSchemaJSON, idRecords(0, 100), avroio.WithBlockLength(10))

	// Cut the file mid-way through the final block.
	info, err := os.Stat(in)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(in, info.Size()-20))

	out := filepath.Join(dir, "out.avro")
	reports, err := NewRepair(nil).Run(ctx,
		fileURL(t, in, url.ModeRead),
		fileURL(t, out, url.ModeWrite), false)
	require.NoError(t, err)

	ids := readIDs(t, ctx, out)
	assert.Equal(t, 90, len(ids))
	require.Len(t, reports, 1)
	assert.Equal(t, int64(9), reports[0].Blocks)
	assert.Equal(t, int64(0), reports[0].CorruptBlocks)
}

func TestRepair_DryRun(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	in := filepath.Join(dir, "in.avro")
	writeRecords(t, ctx, in, idSchemaJSON, idRecords(0, 30), avroio.WithBlockLength(10))
	corruptFirstBlockSync(t, in)

	out := filepath.Join(dir, "out.avro")
	reports, err := NewRepair(nil).Run(ctx,
		fileURL(t, in, url.ModeRead),
		fileURL(t, out, url.ModeWrite), true)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "(dry run)", reports[0].OutputURL)

	// Nothing was written to the real output.
	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err))
}

func TestRepair_DirectoryInput(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeRecords(t, ctx, filepath.Join(dir, "in", "a.avro"), idSchemaJSON, idRecords(0, 10))
	writeRecords(t, ctx, filepath.Join(dir, "in", "b.avro"), idSchemaJSON, idRecords(10, 20))

	reports, err := NewRepair(nil).Run(ctx,
		fileURL(t, filepath.Join(dir, "in"), url.ModeRead),
		fileURL(t, filepath.Join(dir, "out"), url.ModeWrite), false)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Len(t, readIDs(t, ctx, filepath.Join(dir, "out", "a.avro")), 10)
	assert.Len(t, readIDs(t, ctx, filepath.Join(dir, "out", "b.avro")), 10)
}

func TestRepair_UnsupportedCodec(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	in := filepath.Join(dir, "in.avro")
	writeRecords(t, ctx, in, idSchemaJSON, idRecords(0, 10), avroio.WithCodec("deflate"))

	_, err := NewRepair(nil).Run(ctx,
		fileURL(t, in, url.ModeRead),
		fileURL(t, filepath.Join(dir, "out.avro"), url.ModeWrite), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedCodec)
}
