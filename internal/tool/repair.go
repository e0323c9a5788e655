package tool

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hamba/avro/v2"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/GeoffMall/avrokit/internal/avroio"
	"github.com/GeoffMall/avrokit/internal/container"
	"github.com/GeoffMall/avrokit/internal/url"
)

// ErrUnsupportedCodec is returned when repair encounters a codec it cannot
// re-frame. Only the null codec is supported.
var ErrUnsupportedCodec = errs.New("unsupported codec")

// RepairReport summarizes one repaired file.
type RepairReport struct {
	InputURL      string `json:"input_url"`
	OutputURL     string `json:"output_url"`
	Blocks        int64  `json:"count_blocks"`
	CorruptBlocks int64  `json:"count_corrupt_blocks"`
}

// Repair scans a possibly truncated or byte-corrupted OCF file and recovers
// every intact block, resynchronizing on the sync marker after corruption.
// The block is the atomic unit of repair: a block whose sync marker fails is
// counted corrupt and skipped whole; a block with a record that fails to
// decode is counted corrupt, the records decoded before it are kept, and the
// rest of the block is dropped.
type Repair struct {
	log *zap.Logger
}

// NewRepair returns a Repair tool logging to log.
func NewRepair(log *zap.Logger) *Repair {
	if log == nil {
		log = zap.NewNop()
	}
	return &Repair{log: log}
}

// Run repairs input into output. When input expands to multiple files,
// output is treated as a parent and each expanded input is repaired into
// output joined with the input's basename. With dryRun the output is
// written to a local scratch path and deleted afterwards.
func (r *Repair) Run(ctx context.Context, input, output url.URL, dryRun bool) ([]RepairReport, error) {
	mappings, err := r.urlMapping(ctx, input, output)
	if err != nil {
		return nil, err
	}
	acc := make([]RepairReport, 0, len(mappings))
	for _, m := range mappings {
		report, err := r.repairOne(ctx, m.Src, m.Dst, dryRun)
		if err != nil {
			return nil, err
		}
		acc = append(acc, report)
	}
	return acc, nil
}

func (r *Repair) urlMapping(ctx context.Context, input, output url.URL) ([]url.Mapping, error) {
	expanded, err := input.Expand(ctx)
	if err != nil {
		return nil, err
	}
	if len(expanded) > 1 {
		return url.CreateURLMapping(ctx, input, output)
	}
	return []url.Mapping{{Src: input, Dst: output}}, nil
}

func (r *Repair) repairOne(ctx context.Context, input, output url.URL, dryRun bool) (RepairReport, error) {
	report := RepairReport{InputURL: input.String(), OutputURL: output.String()}

	ru := input.WithMode(url.ModeRead)
	stream, err := ru.Open(ctx)
	if err != nil {
		return report, err
	}
	defer func() { _ = ru.Close(ctx) }()

	header, err := container.ReadHeader(stream)
	if err != nil {
		return report, err
	}
	if codec := header.Codec(); codec != "null" {
		r.log.Debug("unsupported codec", zap.String("codec", codec))
		return report, errs.Wrap(ErrUnsupportedCodec)
	}
	s, err := header.Schema()
	if err != nil {
		return report, err
	}
	r.log.Debug("repairing",
		zap.String("input", input.String()),
		zap.String("codec", header.Codec()))

	if dryRun {
		// Write to a local scratch path we delete after the run.
		scratch := filepath.Join(os.TempDir(), "avrokit-repair-"+uuid.NewString())
		output, err = url.Parse(scratch, url.ModeWrite)
		if err != nil {
			return report, err
		}
		report.OutputURL = "(dry run)"
		r.log.Debug("using scratch output for dry run", zap.String("path", scratch))
	}

	writer, err := avroio.NewWriter(ctx, output.WithMode(url.ModeWrite), s)
	if err != nil {
		return report, err
	}
	defer func() { _ = writer.Close(ctx) }()

	if err := r.scanBlocks(stream, header, s, writer, &report); err != nil {
		return report, err
	}
	if err := writer.Close(ctx); err != nil {
		return report, err
	}
	if dryRun {
		if err := output.Delete(ctx); err != nil {
			return report, err
		}
	}
	return report, nil
}

// scanBlocks walks the block sequence, appending every decodable record and
// resynchronizing after each corrupt block.
func (r *Repair) scanBlocks(stream url.Stream, header *container.Header, s avro.Schema, writer *avroio.Writer, report *RepairReport) error {
	for {
		blockStart, err := stream.Seek(0, io.SeekCurrent)
		if err != nil {
			return Error.Wrap(err)
		}

		count, size, err := container.ReadBlockHeader(stream)
		if eofLike(err) {
			return nil
		}
		if err != nil {
			// Malformed block header: count it and look for the next anchor.
			report.CorruptBlocks++
			r.log.Debug("error reading block header",
				zap.Int64("offset", blockStart), zap.Error(err))
			found, scanErr := container.ScanToNextSync(stream, header.Sync[:])
			if scanErr != nil {
				return scanErr
			}
			if !found {
				r.log.Debug("no more sync markers found")
				return nil
			}
			continue
		}

		data := make([]byte, size)
		if _, err := io.ReadFull(stream, data); err != nil {
			// The declared payload overruns the file.
			return nil
		}
		report.Blocks++

		var sync [container.SyncSize]byte
		if _, err := io.ReadFull(stream, sync[:]); err != nil {
			return nil
		}
		if sync != header.Sync {
			report.CorruptBlocks++
			r.log.Debug("sync marker mismatch",
				zap.Int64("offset", blockStart+size))
			found, scanErr := container.ScanToNextSync(stream, header.Sync[:])
			if scanErr != nil {
				return scanErr
			}
			if !found {
				r.log.Debug("no more sync markers found")
				return nil
			}
			continue
		}

		// Decode each record in the block; one bad record abandons the
		// remainder of the block.
		dec := avro.NewDecoderForSchema(s, bytes.NewReader(data))
		for i := int64(0); i < count; i++ {
			var record map[string]any
			if err := dec.Decode(&record); err != nil {
				report.CorruptBlocks++
				r.log.Debug("error decoding record",
					zap.Int64("block_offset", blockStart),
					zap.Int64("record", i),
					zap.Error(err))
				break
			}
			if err := writer.Append(record); err != nil {
				return err
			}
		}
	}
}
