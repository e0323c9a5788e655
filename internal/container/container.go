// Package container implements block-level framing for Avro Object Container
// Files: header parsing, block reads, zig-zag varints, and the sync-marker
// scan used to re-anchor after corruption.
//
// The package reads the container layout directly so that callers get exact
// byte positions; record payloads stay opaque and are handed to the Avro
// codec by higher layers.
package container

import (
	"bytes"
	"errors"
	"io"

	"github.com/hamba/avro/v2"
	"github.com/zeebo/errs"
)

var Error = errs.Class("container")

// ErrSyncMismatch is returned by ReadBlock when a block's trailing sync
// marker does not match the file header's sync marker.
var ErrSyncMismatch = errs.New("block sync marker mismatch")

// SyncSize is the length of the sync marker in bytes.
const SyncSize = 16

// Metadata keys every OCF header carries.
const (
	SchemaKey = "avro.schema"
	CodecKey  = "avro.codec"
)

var magic = [4]byte{'O', 'b', 'j', 1}

// scanChunkSize is how much ScanToNextSync reads per step.
const scanChunkSize = 8 * 1024

// Header is a parsed OCF header.
type Header struct {
	Meta   map[string][]byte
	Sync   [SyncSize]byte
	Length int64 // bytes the header occupies, i.e. the offset of the first block
}

// Schema parses the avro.schema metadata entry.
func (h *Header) Schema() (avro.Schema, error) {
	schema, err := avro.Parse(string(h.Meta[SchemaKey]))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return schema, nil
}

// SchemaBytes returns the raw avro.schema metadata bytes.
func (h *Header) SchemaBytes() []byte { return h.Meta[SchemaKey] }

// Codec returns the codec name, defaulting to "null" when absent.
func (h *Header) Codec() string {
	if c, ok := h.Meta[CodecKey]; ok && len(c) > 0 {
		return string(c)
	}
	return "null"
}

// Block is one OCF data block. Data holds the codec-compressed record bytes.
type Block struct {
	Count int64
	Size  int64
	Data  []byte
	Sync  [SyncSize]byte
}

// ReadHeader parses the OCF header and leaves the stream positioned at the
// first block.
func ReadHeader(r io.Reader) (*Header, error) {
	cr := &countingReader{r: r}

	var m [4]byte
	if _, err := io.ReadFull(cr, m[:]); err != nil {
		return nil, Error.New("reading magic: %w", err)
	}
	if m != magic {
		return nil, Error.New("invalid avro file: bad magic")
	}

	meta := make(map[string][]byte)
	for {
		count, err := ReadVarint(cr)
		if err != nil {
			return nil, Error.New("reading metadata: %w", err)
		}
		if count == 0 {
			break
		}
		if count < 0 {
			// Negative counts carry the block byte size, which we do not
			// need when reading sequentially.
			count = -count
			if _, err := ReadVarint(cr); err != nil {
				return nil, Error.New("reading metadata: %w", err)
			}
		}
		for i := int64(0); i < count; i++ {
			key, err := readBytes(cr)
			if err != nil {
				return nil, Error.New("reading metadata key: %w", err)
			}
			value, err := readBytes(cr)
			if err != nil {
				return nil, Error.New("reading metadata value: %w", err)
			}
			meta[string(key)] = value
		}
	}

	h := &Header{Meta: meta}
	if _, err := io.ReadFull(cr, h.Sync[:]); err != nil {
		return nil, Error.New("reading sync marker: %w", err)
	}
	h.Length = cr.n
	return h, nil
}

// ReadBlockHeader reads a block's record count and payload size.
// A clean end of stream before the first byte returns io.EOF.
func ReadBlockHeader(r io.Reader) (count, size int64, err error) {
	count, err = ReadVarint(r)
	if err != nil {
		return 0, 0, err
	}
	size, err = ReadVarint(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, 0, err
	}
	if size < 0 || count < 0 {
		return 0, 0, Error.New("invalid block header: count=%d size=%d", count, size)
	}
	return count, size, nil
}

// ReadBlock reads one complete block and verifies its trailing sync marker
// against sync. On mismatch it returns the block read so far together with
// ErrSyncMismatch, so callers can account for the bytes consumed. A clean
// end of stream returns io.EOF.
func ReadBlock(r io.Reader, sync [SyncSize]byte) (*Block, error) {
	count, size, err := ReadBlockHeader(r)
	if err != nil {
		return nil, err
	}
	b := &Block{Count: count, Size: size, Data: make([]byte, size)}
	if _, err := io.ReadFull(r, b.Data); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, b.Sync[:]); err != nil {
		return nil, err
	}
	if b.Sync != sync {
		return b, ErrSyncMismatch
	}
	return b, nil
}

// WriteBlockHeader emits a block's count and size as zig-zag varints.
func WriteBlockHeader(w io.Writer, count, size int64) error {
	if err := WriteVarint(w, count); err != nil {
		return err
	}
	return WriteVarint(w, size)
}

// ReadVarint reads a zig-zag encoded varint long. io.EOF is returned only
// when the stream ends before the first byte; a varint cut off mid-way
// returns io.ErrUnexpectedEOF.
func ReadVarint(r io.Reader) (int64, error) {
	var buf [1]byte
	var n uint64
	var shift uint
	for i := 0; ; i++ {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			if errors.Is(err, io.EOF) && i > 0 {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		b := buf[0]
		n |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift > 63 {
			return 0, Error.New("varint overflow")
		}
	}
	return int64(n>>1) ^ -int64(n&1), nil
}

// WriteVarint writes v as a zig-zag encoded varint long.
func WriteVarint(w io.Writer, v int64) error {
	n := uint64(v<<1) ^ uint64(v>>63)
	var buf [10]byte
	i := 0
	for n >= 0x80 {
		buf[i] = byte(n) | 0x80
		n >>= 7
		i++
	}
	buf[i] = byte(n)
	_, err := w.Write(buf[:i+1])
	return Error.Wrap(err)
}

// ScanToNextSync reads forward in chunks until it finds the sync byte
// sequence, then repositions the stream immediately after the match. It
// returns false on end of stream. Markers that straddle chunk boundaries are
// found by retaining the last SyncSize-1 bytes between chunks.
func ScanToNextSync(r io.ReadSeeker, sync []byte) (bool, error) {
	buf := make([]byte, 0, scanChunkSize+SyncSize)
	chunk := make([]byte, scanChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if idx := bytes.Index(buf, sync); idx >= 0 {
				rewind := int64(len(buf) - idx - len(sync))
				if rewind > 0 {
					if _, err := r.Seek(-rewind, io.SeekCurrent); err != nil {
						return false, Error.Wrap(err)
					}
				}
				return true, nil
			}
			if keep := len(sync) - 1; len(buf) > keep {
				tail := buf[len(buf)-keep:]
				next := make([]byte, keep, scanChunkSize+SyncSize)
				copy(next, tail)
				buf = next
			}
		}
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		if err != nil {
			return false, Error.Wrap(err)
		}
	}
}

// readBytes reads an Avro bytes value: a varint length followed by that many
// bytes.
func readBytes(r io.Reader) ([]byte, error) {
	size, err := ReadVarint(r)
	if err != nil {
		return nil, err
	}
	if size < 0 {
		return nil, Error.New("negative bytes length %d", size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// countingReader tracks how many bytes have been consumed from r.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
