package tool

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/GeoffMall/avrokit/internal/container"
	"github.com/GeoffMall/avrokit/internal/url"
)

// Count counts records in OCF files by reading only block headers and
// seeking over payloads, so it never decodes a record.
type Count struct {
	log *zap.Logger
}

// NewCount returns a Count tool logging to log.
func NewCount(log *zap.Logger) *Count {
	if log == nil {
		log = zap.NewNop()
	}
	return &Count{log: log}
}

// Run counts records across every file the inputs expand to.
func (c *Count) Run(ctx context.Context, inputs []url.URL) (int64, error) {
	urls, err := url.FlattenURLs(ctx, inputs, true)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, u := range urls {
		c.log.Debug("reading", zap.String("url", u.String()))
		n, err := c.countOne(ctx, u)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (c *Count) countOne(ctx context.Context, u url.URL) (int64, error) {
	ru := u.WithMode(url.ModeRead)
	stream, err := ru.Open(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = ru.Close(ctx) }()
	return c.fastCount(stream)
}

// fastCount scans block headers on a seekable stream. A sync-marker
// mismatch is not an error: it is the expected shape of a file still open
// for writing, so the scan stops and returns the records counted so far.
func (c *Count) fastCount(stream url.Stream) (int64, error) {
	header, err := container.ReadHeader(stream)
	if err != nil {
		return 0, err
	}
	var total int64
	for {
		count, size, err := container.ReadBlockHeader(stream)
		if eofLike(err) {
			break
		}
		if err != nil {
			return 0, err
		}
		total += count
		if _, err := stream.Seek(size, io.SeekCurrent); err != nil {
			return 0, Error.Wrap(err)
		}
		var sync [container.SyncSize]byte
		if _, err := io.ReadFull(stream, sync[:]); err != nil {
			if eofLike(err) {
				c.warnOpenFile(total)
				break
			}
			return 0, Error.Wrap(err)
		}
		if sync != header.Sync {
			c.warnOpenFile(total)
			break
		}
	}
	return total, nil
}

func (c *Count) warnOpenFile(total int64) {
	c.log.Warn("file may still be open for writing; stopped at the first block without a valid sync marker",
		zap.Int64("records", total))
}
