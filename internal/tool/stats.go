package tool

import (
	"context"

	"go.uber.org/zap"

	"github.com/GeoffMall/avrokit/internal/avroio"
	"github.com/GeoffMall/avrokit/internal/url"
)

// StatsReport aggregates record and byte accounting across a set of OCF
// files.
type StatsReport struct {
	Count            int64            `json:"count"`
	CountByFile      map[string]int64 `json:"count_by_file"`
	CountNullByField map[string]int64 `json:"count_null_by_field"`
	SizeBytes        int64            `json:"size_bytes"`
	SizeBytesByFile  map[string]int64 `json:"size_bytes_by_file"`
}

// Stats computes record counts, per-field null counts, and byte sizes for
// every file the inputs expand to.
type Stats struct {
	log *zap.Logger
}

// NewStats returns a Stats tool logging to log.
func NewStats(log *zap.Logger) *Stats {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stats{log: log}
}

// Run collects statistics across the expanded inputs.
func (s *Stats) Run(ctx context.Context, inputs []url.URL) (*StatsReport, error) {
	urls, err := url.FlattenURLs(ctx, inputs, true)
	if err != nil {
		return nil, err
	}
	report := &StatsReport{
		CountByFile:      make(map[string]int64),
		CountNullByField: make(map[string]int64),
		SizeBytesByFile:  make(map[string]int64),
	}
	for _, u := range urls {
		s.log.Debug("reading", zap.String("url", u.String()))

		size, err := u.Size(ctx)
		if err != nil {
			return nil, err
		}
		report.SizeBytes += size
		report.SizeBytesByFile[u.String()] = size

		reader, err := avroio.NewReader(ctx, u.WithMode(url.ModeRead))
		if err != nil {
			return nil, err
		}
		err = reader.ForEach(func(record map[string]any) error {
			report.Count++
			report.CountByFile[u.String()]++
			for field, value := range record {
				if _, ok := report.CountNullByField[field]; !ok {
					report.CountNullByField[field] = 0
				}
				if value == nil {
					report.CountNullByField[field]++
				}
			}
			return nil
		})
		closeErr := reader.Close(ctx)
		if err != nil {
			return nil, err
		}
		if closeErr != nil {
			return nil, closeErr
		}
	}
	return report, nil
}
