package url

import (
	"context"
	"path"
)

// Mapping pairs a concrete source URL with its destination.
type Mapping struct {
	Src URL
	Dst URL
}

// CreateURLMapping expands src and maps each concrete source to a
// destination. A single source maps directly onto dst; multiple sources
// treat dst as a parent and map each source to dst joined with the source's
// basename.
func CreateURLMapping(ctx context.Context, src, dst URL) ([]Mapping, error) {
	expanded, err := src.Expand(ctx)
	if err != nil {
		return nil, err
	}
	if len(expanded) == 1 {
		return []Mapping{{Src: src, Dst: dst}}, nil
	}
	acc := make([]Mapping, 0, len(expanded))
	for _, s := range expanded {
		acc = append(acc, Mapping{Src: s, Dst: dst.WithPath(Basename(s))})
	}
	return acc, nil
}

// Basename returns the last path segment of the URL.
func Basename(u URL) string {
	return path.Base(u.String())
}

// FlattenURLs flattens a URL list, dropping nils, optionally expanding each
// URL, and deduplicating by URL string while preserving first-seen order.
func FlattenURLs(ctx context.Context, urls []URL, expand bool) ([]URL, error) {
	var acc []URL
	for _, u := range urls {
		if u == nil {
			continue
		}
		if !expand {
			acc = append(acc, u)
			continue
		}
		expanded, err := u.Expand(ctx)
		if err != nil {
			return nil, err
		}
		acc = append(acc, expanded...)
	}

	seen := make(map[string]bool, len(acc))
	deduped := acc[:0]
	for _, u := range acc {
		if seen[u.String()] {
			continue
		}
		seen[u.String()] = true
		deduped = append(deduped, u)
	}
	return deduped, nil
}
