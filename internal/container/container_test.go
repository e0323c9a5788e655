package container

import (
	"bytes"
	"io"
	"testing"

	"github.com/hamba/avro/v2/ocf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userSchema = `{
	"type": "record",
	"name": "User",
	"fields": [
		{"name": "name", "type": "string"},
		{"name": "age", "type": "int"}
	]
}`

// encodeUsers returns a complete OCF byte sequence holding n records.
func encodeUsers(t *testing.T, n int, opts ...ocf.EncoderFunc) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc, err := ocf.NewEncoder(userSchema, &buf, opts...)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, enc.Encode(map[string]any{"name": "user", "age": i}))
	}
	require.NoError(t, enc.Close())
	return buf.Bytes()
}

func TestReadVarint_RoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 2, -2, 63, 64, -64, -65, 1000, -1000, 1 << 40, -(1 << 40)} {
		var buf bytes.Buffer
		require.NoError(t, WriteVarint(&buf, v))
		got, err := ReadVarint(&buf)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestReadVarint_EOF(t *testing.T) {
	_, err := ReadVarint(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)

	// A continuation bit with no following byte is a cut-off varint.
	_, err = ReadVarint(bytes.NewReader([]byte{0x80}))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadHeader(t *testing.T) {
	data := encodeUsers(t, 3)
	r := bytes.NewReader(data)

	header, err := ReadHeader(r)
	require.NoError(t, err)
	assert.Equal(t, "null", header.Codec())
	assert.NotEmpty(t, header.SchemaBytes())

	s, err := header.Schema()
	require.NoError(t, err)
	assert.Contains(t, s.String(), `"User"`)

	// The stream is positioned at the first block.
	pos, err := r.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, header.Length, pos)
}

func TestReadHeader_BadMagic(t *testing.T) {
	_, err := ReadHeader(bytes.NewReader([]byte("not an avro file")))
	assert.Error(t, err)
}

func TestReadBlock(t *testing.T) {
	data := encodeUsers(t, 5)
	r := bytes.NewReader(data)
	header, err := ReadHeader(r)
	require.NoError(t, err)

	block, err := ReadBlock(r, header.Sync)
	require.NoError(t, err)
	assert.Equal(t, int64(5), block.Count)
	assert.Equal(t, int64(len(block.Data)), block.Size)
	assert.Equal(t, header.Sync, block.Sync)

	_, err = ReadBlock(r, header.Sync)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadBlock_SyncMismatch(t *testing.T) {
	data := encodeUsers(t, 5)
	r := bytes.NewReader(data)
	header, err := ReadHeader(r)
	require.NoError(t, err)

	var wrong [SyncSize]byte
	copy(wrong[:], header.Sync[:])
	wrong[0] ^= 0xff

	_, err = ReadBlock(r, wrong)
	assert.ErrorIs(t, err, ErrSyncMismatch)
}

func TestScanToNextSync(t *testing.T) {
	sync := []byte("0123456789abcdef")
	payload := append(bytes.Repeat([]byte{0x00}, 100), sync...)
	payload = append(payload, []byte("tail")...)
	r := bytes.NewReader(payload)

	found, err := ScanToNextSync(r, sync)
	require.NoError(t, err)
	require.True(t, found)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "tail", string(rest))
}

func TestScanToNextSync_StraddlesChunkBoundary(t *testing.T) {
	sync := []byte("0123456789abcdef")
	// Place the marker so it begins just before the 8 KiB chunk boundary
	// and finishes in the next chunk.
	payload := bytes.Repeat([]byte{0x00}, scanChunkSize-7)
	payload = append(payload, sync...)
	payload = append(payload, []byte("after")...)
	r := bytes.NewReader(payload)

	found, err := ScanToNextSync(r, sync)
	require.NoError(t, err)
	require.True(t, found)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "after", string(rest))
}

func TestScanToNextSync_NotFound(t *testing.T) {
	sync := []byte("0123456789abcdef")
	r := bytes.NewReader(bytes.Repeat([]byte{0x01}, 3*scanChunkSize))

	found, err := ScanToNextSync(r, sync)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWriteBlockHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteBlockHeader(&buf, 7, 1234))

	count, size, err := ReadBlockHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
	assert.Equal(t, int64(1234), size)
}

func TestReadBlockHeader_TruncatedBetweenVarints(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteVarint(&buf, 7))

	_, _, err := ReadBlockHeader(&buf)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
