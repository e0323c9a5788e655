package avroio

import (
	"context"
	"io"

	"github.com/hamba/avro/v2"
	"github.com/hamba/avro/v2/ocf"

	"github.com/GeoffMall/avrokit/internal/container"
	"github.com/GeoffMall/avrokit/internal/url"
)

// Appendable accepts records one at a time. Writer, PartitionedWriter, and
// the async stage writer all satisfy it.
type Appendable interface {
	Append(datum any) error
}

// WriterOption configures a Writer.
type WriterOption func(*writerConfig)

type writerConfig struct {
	codec       string
	blockLength int
}

// WithCodec sets the block compression codec ("null" or "deflate").
func WithCodec(codec string) WriterOption {
	return func(cfg *writerConfig) { cfg.codec = codec }
}

// WithBlockLength sets how many records are buffered per block.
func WithBlockLength(n int) WriterOption {
	return func(cfg *writerConfig) { cfg.blockLength = n }
}

// Writer writes records to one OCF file at a URL.
//
// Opening a URL in append mode against an existing non-empty file reuses the
// file's schema and continues its block sequence; in that case the schema
// argument may be nil. New files require a schema.
type Writer struct {
	u   url.URL
	enc *ocf.Encoder
}

// NewWriter opens u for writing and emits (or re-reads) the OCF header.
func NewWriter(ctx context.Context, u url.URL, s avro.Schema, opts ...WriterOption) (*Writer, error) {
	if !u.Mode().IsBinary() {
		return nil, Error.New("URL must be opened in binary mode")
	}
	if !u.Mode().IsWrite() && !u.Mode().IsAppend() {
		return nil, Error.New("URL must be opened in write or append mode")
	}

	cfg := writerConfig{codec: "null"}
	for _, opt := range opts {
		opt(&cfg)
	}

	appendExisting := false
	if u.Mode().IsAppend() {
		exists, err := u.Exists(ctx)
		if err != nil {
			return nil, err
		}
		if exists {
			size, err := u.Size(ctx)
			if err != nil {
				return nil, err
			}
			appendExisting = size > 0
		}
	}
	if s == nil && !appendExisting {
		return nil, Error.New("schema must be provided for new files")
	}

	stream, err := u.Open(ctx)
	if err != nil {
		return nil, err
	}

	if appendExisting {
		// Reuse the schema already in the file; the ocf encoder detects the
		// existing container through the seeker and appends to it.
		if _, err := stream.Seek(0, io.SeekStart); err != nil {
			_ = u.Close(ctx)
			return nil, Error.Wrap(err)
		}
		header, err := container.ReadHeader(stream)
		if err != nil {
			_ = u.Close(ctx)
			return nil, err
		}
		s, err = header.Schema()
		if err != nil {
			_ = u.Close(ctx)
			return nil, err
		}
		cfg.codec = header.Codec()
		if _, err := stream.Seek(0, io.SeekStart); err != nil {
			_ = u.Close(ctx)
			return nil, Error.Wrap(err)
		}
	}

	encOpts := []ocf.EncoderFunc{ocf.WithCodec(ocf.CodecName(cfg.codec))}
	if cfg.blockLength > 0 {
		encOpts = append(encOpts, ocf.WithBlockLength(cfg.blockLength))
	}
	enc, err := ocf.NewEncoderWithSchema(s, stream, encOpts...)
	if err != nil {
		_ = u.Close(ctx)
		return nil, Error.Wrap(err)
	}
	return &Writer{u: u, enc: enc}, nil
}

// Append writes one record.
func (w *Writer) Append(datum any) error {
	if w.enc == nil {
		return Error.New("writer is closed")
	}
	return Error.Wrap(w.enc.Encode(datum))
}

// Flush forces the current block out to the stream.
func (w *Writer) Flush() error {
	if w.enc == nil {
		return Error.New("writer is closed")
	}
	return Error.Wrap(w.enc.Flush())
}

// Close flushes the final block and releases the URL stream. For
// object-store URLs this is the point where the staged file uploads.
// Close is idempotent.
func (w *Writer) Close(ctx context.Context) error {
	if w.enc == nil {
		return nil
	}
	encErr := w.enc.Close()
	w.enc = nil
	closeErr := w.u.Close(ctx)
	if encErr != nil {
		return Error.Wrap(encErr)
	}
	return closeErr
}
