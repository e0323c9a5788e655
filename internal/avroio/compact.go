package avroio

import (
	"context"

	"go.uber.org/zap"

	"github.com/GeoffMall/avrokit/internal/schema"
	"github.com/GeoffMall/avrokit/internal/url"
)

// Compact streams records from every file the source URLs expand to into a
// single destination file, preserving record order within and across
// sources. The destination uses the schema of the first non-empty source.
func Compact(ctx context.Context, log *zap.Logger, src []url.URL, dst url.URL, opts ...WriterOption) error {
	if log == nil {
		log = zap.NewNop()
	}
	srcURLs, err := url.FlattenURLs(ctx, src, true)
	if err != nil {
		return err
	}
	if len(srcURLs) == 0 {
		return Error.New("no source URLs found to compact")
	}
	s, err := schema.ReadFromFirstNonEmpty(ctx, srcURLs)
	if err != nil {
		return err
	}
	if s == nil {
		return Error.New("no avro schema found in source URLs")
	}

	writer, err := NewWriter(ctx, dst.WithMode(url.ModeWrite), s, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = writer.Close(ctx) }()

	for _, u := range srcURLs {
		log.Debug("compacting", zap.String("url", u.String()))
		reader, err := NewReader(ctx, u.WithMode(url.ModeRead))
		if err != nil {
			return err
		}
		err = reader.ForEach(func(record map[string]any) error {
			return writer.Append(record)
		})
		closeErr := reader.Close(ctx)
		if err != nil {
			return err
		}
		if closeErr != nil {
			return closeErr
		}
	}
	return writer.Close(ctx)
}
