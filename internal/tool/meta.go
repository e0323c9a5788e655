package tool

import (
	"context"

	"github.com/hamba/avro/v2"

	"github.com/GeoffMall/avrokit/internal/container"
	"github.com/GeoffMall/avrokit/internal/schema"
	"github.com/GeoffMall/avrokit/internal/url"
)

// GetMeta returns the OCF header metadata map of the file at u.
func GetMeta(ctx context.Context, u url.URL) (map[string][]byte, error) {
	ru := u.WithMode(url.ModeRead)
	stream, err := ru.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ru.Close(ctx) }()

	header, err := container.ReadHeader(stream)
	if err != nil {
		return nil, err
	}
	return header.Meta, nil
}

// GetSchema returns the writer schema of the file at u.
func GetSchema(ctx context.Context, u url.URL) (avro.Schema, error) {
	return schema.Read(ctx, u)
}
