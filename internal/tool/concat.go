// Package tool implements the block-granularity OCF algorithms: concat,
// repair, fast count, partitioning, external-merge sort, stats, and header
// inspection. Tools take URLs, obtain streams from them, and hand frames to
// either the Avro codec or the container framing routines.
package tool

import (
	"context"
	"errors"
	"io"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/GeoffMall/avrokit/internal/avroio"
	"github.com/GeoffMall/avrokit/internal/container"
	"github.com/GeoffMall/avrokit/internal/schema"
	"github.com/GeoffMall/avrokit/internal/url"
)

var Error = errs.Class("tool")

// progressInterval is how often record-level operations log progress.
const progressInterval = 100000

// Concat merges OCF files into one output. When every input carries
// byte-identical schema metadata and the desired codec, blocks are copied
// verbatim without decoding records; otherwise records are decoded and
// re-encoded.
type Concat struct {
	log *zap.Logger
}

// NewConcat returns a Concat tool logging to log.
func NewConcat(log *zap.Logger) *Concat {
	if log == nil {
		log = zap.NewNop()
	}
	return &Concat{log: log}
}

// Run concatenates inputs into output using codec. forceRecord skips the
// block-level fast path.
func (c *Concat) Run(ctx context.Context, inputs []url.URL, output url.URL, codec string, forceRecord bool) error {
	urls, err := url.FlattenURLs(ctx, inputs, true)
	if err != nil {
		return err
	}
	if !forceRecord {
		ok, err := c.CheckSchemasAndCodecs(ctx, urls, codec)
		if err != nil {
			return err
		}
		if ok {
			return c.blockConcat(ctx, urls, output)
		}
	}
	return c.recordConcat(ctx, urls, output, codec)
}

// CheckSchemasAndCodecs reports whether every input's schema metadata bytes
// are byte-identical to the first input's and every input's codec equals
// the desired codec. Only then is block-level concatenation sound.
func (c *Concat) CheckSchemasAndCodecs(ctx context.Context, urls []url.URL, desiredCodec string) (bool, error) {
	if len(urls) == 0 {
		return true, nil
	}
	baseSchema, baseCodec, err := c.schemaAndCodec(ctx, urls[0])
	if err != nil {
		return false, err
	}
	if baseCodec != desiredCodec {
		c.log.Debug("codec mismatch",
			zap.String("codec", baseCodec), zap.String("desired", desiredCodec))
		return false, nil
	}
	for _, u := range urls[1:] {
		s, codec, err := c.schemaAndCodec(ctx, u)
		if err != nil {
			return false, err
		}
		if string(s) != string(baseSchema) || codec != baseCodec {
			c.log.Debug("schema or codec mismatch", zap.String("url", u.String()))
			return false, nil
		}
	}
	c.log.Debug("all schemas and codecs match")
	return true, nil
}

func (c *Concat) schemaAndCodec(ctx context.Context, u url.URL) ([]byte, string, error) {
	ru := u.WithMode(url.ModeRead)
	stream, err := ru.Open(ctx)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = ru.Close(ctx) }()

	header, err := container.ReadHeader(stream)
	if err != nil {
		return nil, "", err
	}
	return header.SchemaBytes(), header.Codec(), nil
}

// blockConcat copies raw compressed blocks from every input into the
// output. The first input's header (and therefore its sync marker) becomes
// the output's; every copied block is terminated with that marker instead
// of the input's own.
func (c *Concat) blockConcat(ctx context.Context, inputs []url.URL, output url.URL) error {
	c.log.Debug("block concatenating", zap.String("output", output.String()))

	wu := output.WithMode(url.ModeWrite)
	out, err := wu.Open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = wu.Close(ctx) }()

	var outputSync [container.SyncSize]byte

	for i, input := range inputs {
		err := func() error {
			ru := input.WithMode(url.ModeRead)
			in, err := ru.Open(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = ru.Close(ctx) }()

			header, err := container.ReadHeader(in)
			if err != nil {
				return err
			}
			if i == 0 {
				// Copy the first input's raw header range verbatim; it
				// establishes the output's schema, codec, and sync marker.
				if _, err := in.Seek(0, io.SeekStart); err != nil {
					return Error.Wrap(err)
				}
				if _, err := io.CopyN(out, in, header.Length); err != nil {
					return Error.Wrap(err)
				}
				outputSync = header.Sync
			}

			for {
				count, size, err := container.ReadBlockHeader(in)
				if err != nil {
					// EOF, a cut-off varint, or a malformed block header all
					// mean there are no more complete blocks to copy.
					return nil
				}
				data := make([]byte, size)
				if _, err := io.ReadFull(in, data); err != nil {
					return nil
				}
				// Discard the input's trailing sync marker; a short read
				// here means the final block was never terminated.
				if _, err := io.CopyN(io.Discard, in, container.SyncSize); err != nil {
					return nil
				}
				if err := container.WriteBlockHeader(out, count, size); err != nil {
					return err
				}
				if _, err := out.Write(data); err != nil {
					return Error.Wrap(err)
				}
				if _, err := out.Write(outputSync[:]); err != nil {
					return Error.Wrap(err)
				}
			}
		}()
		if err != nil {
			return err
		}
	}
	return wu.Close(ctx)
}

// recordConcat decodes every record from every input and re-encodes it into
// the output with the desired codec.
func (c *Concat) recordConcat(ctx context.Context, inputs []url.URL, output url.URL, codec string) error {
	c.log.Debug("concatenating by records",
		zap.String("output", output.String()), zap.String("codec", codec))

	s, err := schema.ReadFromFirstNonEmpty(ctx, inputs)
	if err != nil {
		return err
	}
	if s == nil {
		return Error.New("no non-empty avro files found")
	}

	writer, err := avroio.NewWriter(ctx, output.WithMode(url.ModeWrite), s, avroio.WithCodec(codec))
	if err != nil {
		return err
	}
	defer func() { _ = writer.Close(ctx) }()

	var count int64
	for _, input := range inputs {
		c.log.Debug("reading", zap.String("url", input.String()))
		reader, err := avroio.NewReader(ctx, input.WithMode(url.ModeRead))
		if err != nil {
			return err
		}
		err = reader.ForEach(func(record map[string]any) error {
			if err := writer.Append(record); err != nil {
				return err
			}
			count++
			if count%progressInterval == 0 {
				c.log.Debug("processed records", zap.Int64("count", count))
			}
			return nil
		})
		closeErr := reader.Close(ctx)
		if err != nil {
			return err
		}
		if closeErr != nil {
			return closeErr
		}
	}
	c.log.Debug("processed records (done)", zap.Int64("count", count))
	return writer.Close(ctx)
}

// eofLike reports whether err is an end-of-stream condition.
func eofLike(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
