package avroio

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/hamba/avro/v2"
	"go.uber.org/zap"

	"github.com/GeoffMall/avrokit/internal/url"
)

// Namer generates successive partition filenames. Filenames must be
// lexicographically sortable so the writer can find the latest one.
type Namer interface {
	Next(previous string) (string, error)
}

// SequentialNamer names partitions part-NNNNN.avro with a zero-padded
// five-digit counter starting at 00000.
type SequentialNamer struct{}

var partPattern = regexp.MustCompile(`part-(\d+)`)

func (SequentialNamer) Next(previous string) (string, error) {
	i := 0
	if previous != "" {
		match := partPattern.FindStringSubmatch(previous)
		if match == nil {
			return "", Error.New("invalid filename format: %s", previous)
		}
		n, err := strconv.Atoi(match[1])
		if err != nil {
			return "", Error.New("invalid filename format: %s", previous)
		}
		i = n + 1
	}
	return fmt.Sprintf("part-%05d.avro", i), nil
}

// TimeNamerFormat is the layout time-partitioned filenames use.
const TimeNamerFormat = "2006-01-02_15-04-05"

// TimeNamer names partitions by the current wall-clock time, ignoring the
// previous name. Two rolls within the same second would collide, so a
// sub-second suffix (nanoseconds) is appended when the generated name
// matches the previous one.
type TimeNamer struct {
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (n TimeNamer) Next(previous string) (string, error) {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	t := now()
	name := t.Format(TimeNamerFormat)
	if name == previous {
		name = fmt.Sprintf("%s_%09d", name, t.Nanosecond())
	}
	return name, nil
}

// PartitionedWriterOption configures a PartitionedWriter.
type PartitionedWriterOption func(*partitionedWriterConfig)

type partitionedWriterConfig struct {
	namer      Namer
	codec      string
	log        *zap.Logger
	writerOpts []WriterOption
}

// WithNamer overrides the default sequential partition naming.
func WithNamer(n Namer) PartitionedWriterOption {
	return func(cfg *partitionedWriterConfig) { cfg.namer = n }
}

// WithPartitionCodec sets the codec for every partition file.
func WithPartitionCodec(codec string) PartitionedWriterOption {
	return func(cfg *partitionedWriterConfig) { cfg.codec = codec }
}

// WithLogger attaches a logger for roll events.
func WithLogger(log *zap.Logger) PartitionedWriterOption {
	return func(cfg *partitionedWriterConfig) { cfg.log = log }
}

// PartitionedWriter writes records into a rolling sequence of partition
// files under a destination pattern. It owns at most one open output at a
// time: rolling closes the current file before opening the next.
type PartitionedWriter struct {
	base   url.URL
	schema avro.Schema
	cfg    partitionedWriterConfig

	current url.URL
	writer  *Writer
}

// NewPartitionedWriter opens the first partition file under base, which is
// typically a glob pattern like dir/part-*.avro.
func NewPartitionedWriter(ctx context.Context, base url.URL, s avro.Schema, opts ...PartitionedWriterOption) (*PartitionedWriter, error) {
	if !base.Mode().IsWrite() || !base.Mode().IsBinary() {
		return nil, Error.New("URL must be opened in binary write mode")
	}
	cfg := partitionedWriterConfig{
		namer: SequentialNamer{},
		codec: "null",
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	p := &PartitionedWriter{base: base, schema: s, cfg: cfg}
	if err := p.openNext(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// findLastFilename returns the lexicographically last basename among the
// files the destination pattern currently expands to, or "" when there are
// none yet.
func (p *PartitionedWriter) findLastFilename(ctx context.Context) (string, error) {
	expanded, err := p.base.Expand(ctx)
	if err != nil {
		return "", err
	}
	if len(expanded) == 0 {
		return "", nil
	}
	names := make([]string, 0, len(expanded))
	for _, u := range expanded {
		names = append(names, url.Basename(u))
	}
	sort.Strings(names)
	return names[len(names)-1], nil
}

func (p *PartitionedWriter) openNext(ctx context.Context) error {
	if p.writer != nil {
		if err := p.writer.Close(ctx); err != nil {
			return err
		}
		p.writer = nil
	}
	last, err := p.findLastFilename(ctx)
	if err != nil {
		return err
	}
	next, err := p.cfg.namer.Next(last)
	if err != nil {
		return err
	}
	p.current = p.base.WithPath(next)
	writer, err := NewWriter(ctx, p.current, p.schema,
		append([]WriterOption{WithCodec(p.cfg.codec)}, p.cfg.writerOpts...)...)
	if err != nil {
		return err
	}
	p.writer = writer
	p.cfg.log.Debug("opened partition", zap.String("url", p.current.String()))
	return nil
}

// CurrentURL returns the partition file currently being written.
func (p *PartitionedWriter) CurrentURL() url.URL { return p.current }

// Append writes one record to the current partition.
func (p *PartitionedWriter) Append(datum any) error {
	if p.writer == nil {
		return Error.New("writer is not open")
	}
	return p.writer.Append(datum)
}

// Flush flushes the current partition file.
func (p *PartitionedWriter) Flush() error {
	if p.writer == nil {
		return Error.New("writer is not open")
	}
	return p.writer.Flush()
}

// Roll closes the current partition and opens the next one.
func (p *PartitionedWriter) Roll(ctx context.Context) error {
	if p.writer == nil {
		return Error.New("writer is not open")
	}
	return p.openNext(ctx)
}

// Close closes the current partition.
func (p *PartitionedWriter) Close(ctx context.Context) error {
	if p.writer == nil {
		return nil
	}
	err := p.writer.Close(ctx)
	p.writer = nil
	p.current = nil
	return err
}

// GroupTimePartitions buckets time-partitioned files by hour or day,
// parsed from their basenames. Files whose names do not parse are skipped.
func GroupTimePartitions(ctx context.Context, src []url.URL, resolution string, expand bool) (map[time.Time][]url.URL, error) {
	urls, err := url.FlattenURLs(ctx, src, expand)
	if err != nil {
		return nil, err
	}
	acc := make(map[time.Time][]url.URL)
	for _, u := range urls {
		t, err := time.Parse(TimeNamerFormat, url.Basename(u))
		if err != nil {
			continue
		}
		var bucket time.Time
		switch resolution {
		case "hour":
			bucket = t.Truncate(time.Hour)
		case "day":
			bucket = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		default:
			return nil, Error.New("unsupported time resolution: %s", resolution)
		}
		acc[bucket] = append(acc[bucket], u)
	}
	for _, group := range acc {
		sort.Slice(group, func(i, j int) bool { return group[i].String() < group[j].String() })
	}
	return acc, nil
}
