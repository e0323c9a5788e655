package tool

import (
	"context"

	"go.uber.org/zap"

	"github.com/GeoffMall/avrokit/internal/avroio"
	"github.com/GeoffMall/avrokit/internal/schema"
	"github.com/GeoffMall/avrokit/internal/url"
)

// Partitioner splits a logical OCF stream into a fixed number of output
// parts of approximately equal size. Partition boundaries are driven by the
// running input byte position, not record count: that keeps partitions
// sized in input-file terms without the writer having to expose output byte
// accounting.
type Partitioner struct {
	log *zap.Logger
}

// NewPartitioner returns a Partitioner logging to log.
func NewPartitioner(log *zap.Logger) *Partitioner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Partitioner{log: log}
}

// Run partitions input into count parts under output, which is a directory
// pattern such as dir/part-*.avro. An output that already expands to files
// is an error unless force is set, in which case it is deleted first.
func (p *Partitioner) Run(ctx context.Context, input, output url.URL, count int, force bool) error {
	if count <= 0 {
		return Error.New("partition count must be positive, got %d", count)
	}

	existing, err := output.Expand(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		if !force {
			return Error.New("output URL %s already exists", output)
		}
		if err := output.Delete(ctx); err != nil {
			return err
		}
	}

	inputs, err := input.Expand(ctx)
	if err != nil {
		return err
	}
	s, err := schema.ReadFromFirstNonEmpty(ctx, inputs)
	if err != nil {
		return err
	}
	if s == nil {
		return Error.New("no valid avro schema found in input files")
	}

	target, err := p.partitionSize(ctx, input, count)
	if err != nil {
		return err
	}

	writer, err := avroio.NewPartitionedWriter(ctx, output.WithMode(url.ModeWrite), s,
		avroio.WithLogger(p.log))
	if err != nil {
		return err
	}
	defer func() { _ = writer.Close(ctx) }()
	p.log.Info("writing", zap.String("url", writer.CurrentURL().String()))

	var sizeCur int64
	for _, in := range inputs {
		reader, err := avroio.NewReader(ctx, in.WithMode(url.ModeRead))
		if err != nil {
			return err
		}
		var posLast int64
		err = reader.ForEach(func(record map[string]any) error {
			if err := writer.Append(record); err != nil {
				return err
			}
			// Charge this record the input bytes consumed since the last
			// one; deltas sum to the file's total size.
			posCur := reader.InputOffset()
			sizeCur += posCur - posLast
			posLast = posCur
			if sizeCur >= target {
				if err := writer.Roll(ctx); err != nil {
					return err
				}
				sizeCur = 0
				p.log.Info("writing", zap.String("url", writer.CurrentURL().String()))
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
	return writer.Close(ctx)
}

// partitionSize computes the byte-size target per partition as the total
// expanded input size divided by the partition count.
func (p *Partitioner) partitionSize(ctx context.Context, input url.URL, count int) (int64, error) {
	expanded, err := input.Expand(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, u := range expanded {
		size, err := u.Size(ctx)
		if err != nil {
			return 0, err
		}
		total += size
	}
	p.log.Info("computed partition size",
		zap.String("input", input.String()),
		zap.Int64("total_bytes", total),
		zap.Int64("partition_bytes", total/int64(count)))
	return total / int64(count), nil
}
