// Package avroio reads and writes Avro OCF data through the url storage
// abstraction: single-file readers and writers plus partitioned variants
// that span many files.
package avroio

import (
	"context"
	"io"

	"github.com/hamba/avro/v2"
	"github.com/hamba/avro/v2/ocf"
	"github.com/zeebo/errs"

	"github.com/GeoffMall/avrokit/internal/url"
)

var Error = errs.Class("avroio")

// Reader streams records from one OCF file at a URL. Records are decoded
// into map[string]any for schema-agnostic processing.
type Reader struct {
	u       url.URL
	counted *countingReader
	dec     *ocf.Decoder
}

// NewReader opens u for reading and positions the decoder at the first
// record.
func NewReader(ctx context.Context, u url.URL) (*Reader, error) {
	ru := u
	if !u.Mode().IsRead() || !u.Mode().IsBinary() {
		ru = u.WithMode(url.ModeRead)
	}
	stream, err := ru.Open(ctx)
	if err != nil {
		return nil, err
	}
	counted := &countingReader{r: stream}
	dec, err := ocf.NewDecoder(counted)
	if err != nil {
		_ = ru.Close(ctx)
		return nil, Error.Wrap(err)
	}
	return &Reader{u: ru, counted: counted, dec: dec}, nil
}

// Metadata returns the OCF header metadata.
func (r *Reader) Metadata() map[string][]byte {
	return r.dec.Metadata()
}

// Schema parses the file's writer schema out of the header metadata.
func (r *Reader) Schema() (avro.Schema, error) {
	s, err := avro.Parse(string(r.dec.Metadata()["avro.schema"]))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return s, nil
}

// HasNext reports whether another record is available.
func (r *Reader) HasNext() bool {
	return r.dec.HasNext()
}

// Decode reads the next record. Call HasNext first.
func (r *Reader) Decode() (map[string]any, error) {
	var record map[string]any
	if err := r.dec.Decode(&record); err != nil {
		return nil, Error.Wrap(err)
	}
	return record, nil
}

// Err returns the first decoder error encountered, excluding end of stream.
func (r *Reader) Err() error {
	return Error.Wrap(r.dec.Error())
}

// InputOffset returns how many bytes have been consumed from the underlying
// stream. The decoder reads ahead in chunks, so the offset advances in
// steps, but deltas between records still sum to the total bytes read;
// that is the contract the size-targeted partitioner relies on.
func (r *Reader) InputOffset() int64 {
	return r.counted.n
}

// ForEach decodes every remaining record, calling fn for each.
func (r *Reader) ForEach(fn func(record map[string]any) error) error {
	for r.dec.HasNext() {
		record, err := r.Decode()
		if err != nil {
			return err
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	return r.Err()
}

// Close releases the underlying URL stream.
func (r *Reader) Close(ctx context.Context) error {
	return r.u.Close(ctx)
}

// PartitionedReader iterates records across every file a set of URLs
// expands to, in expansion order.
type PartitionedReader struct {
	expanded []url.URL
	index    int
	current  *Reader
}

// NewPartitionedReader expands urls and opens the first file. An empty
// expansion yields a reader that is immediately exhausted.
func NewPartitionedReader(ctx context.Context, urls ...url.URL) (*PartitionedReader, error) {
	expanded, err := url.FlattenURLs(ctx, urls, true)
	if err != nil {
		return nil, err
	}
	p := &PartitionedReader{expanded: expanded}
	if len(expanded) > 0 {
		if err := p.openNext(ctx); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *PartitionedReader) openNext(ctx context.Context) error {
	if p.current != nil {
		if err := p.current.Close(ctx); err != nil {
			return err
		}
		p.current = nil
	}
	if p.index >= len(p.expanded) {
		return io.EOF
	}
	reader, err := NewReader(ctx, p.expanded[p.index])
	if err != nil {
		return err
	}
	p.current = reader
	return nil
}

// Next returns the next record across all expanded files, or io.EOF when
// every file is exhausted.
func (p *PartitionedReader) Next(ctx context.Context) (map[string]any, error) {
	for {
		if p.current == nil {
			return nil, io.EOF
		}
		if p.current.HasNext() {
			return p.current.Decode()
		}
		if err := p.current.Err(); err != nil {
			return nil, err
		}
		p.index++
		if err := p.openNext(ctx); err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, err
		}
	}
}

// ForEach calls fn for every record across all expanded files.
func (p *PartitionedReader) ForEach(ctx context.Context, fn func(record map[string]any) error) error {
	for {
		record, err := p.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(record); err != nil {
			return err
		}
	}
}

// Close closes the currently open file, if any.
func (p *PartitionedReader) Close(ctx context.Context) error {
	if p.current == nil {
		return nil
	}
	err := p.current.Close(ctx)
	p.current = nil
	return err
}

// countingReader tracks bytes consumed from the wrapped stream.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
