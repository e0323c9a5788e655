// Package schema provides Avro schema helpers: reading schemas out of OCF
// headers, dot-path flattening, field append, and forward-compatibility
// validation between schema versions.
package schema

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/hamba/avro/v2"
	"github.com/zeebo/errs"

	"github.com/GeoffMall/avrokit/internal/container"
	"github.com/GeoffMall/avrokit/internal/url"
)

var Error = errs.Class("schema")

// Read extracts the writer schema from the OCF file at u.
func Read(ctx context.Context, u url.URL) (avro.Schema, error) {
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
	return header.Schema()
}

// ReadFromFirstNonEmpty returns the schema of the first URL that exists and
// has a non-zero size, or nil when no such URL is found.
func ReadFromFirstNonEmpty(ctx context.Context, urls []url.URL) (avro.Schema, error) {
	for _, u := range urls {
		exists, err := u.Exists(ctx)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		size, err := u.Size(ctx)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			continue
		}
		return Read(ctx, u)
	}
	return nil, nil
}

// AddFields appends field definitions (in Avro JSON form) to a record schema
// and re-parses the result.
func AddFields(s avro.Schema, fields []map[string]any) (avro.Schema, error) {
	if s.Type() != avro.Record {
		return nil, Error.New("schema is not a record")
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(s.String()), &doc); err != nil {
		return nil, Error.Wrap(err)
	}
	existing, ok := doc["fields"].([]any)
	if !ok {
		return nil, Error.New("schema has no fields list")
	}
	for _, f := range fields {
		existing = append(existing, f)
	}
	doc["fields"] = existing
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	out, err := avro.Parse(string(raw))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return out, nil
}

// unionSegment is the path segment under which record branches of a union
// are flattened.
const unionSegment = "__union__"

// FlattenFields flattens a record schema into a map from dot-path to field.
// Records recurse with the field name appended. Unions emit one entry for
// the union field itself plus, for each record branch, a recursive
// flattening under "__union__.<branch-index>".
func FlattenFields(s avro.Schema) map[string]*avro.Field {
	acc := make(map[string]*avro.Field)
	flattenInto(acc, s, nil)
	return acc
}

func flattenInto(acc map[string]*avro.Field, s avro.Schema, path []string) {
	record, ok := s.(*avro.RecordSchema)
	if !ok {
		return
	}
	for _, field := range record.Fields() {
		name := append(append([]string{}, path...), field.Name())
		switch ft := field.Type().(type) {
		case *avro.RecordSchema:
			flattenInto(acc, ft, name)
		case *avro.UnionSchema:
			acc[strings.Join(name, ".")] = field
			for i, branch := range ft.Types() {
				if _, ok := branch.(*avro.RecordSchema); ok {
					branchPath := append(append([]string{}, name...), unionSegment, strconv.Itoa(i))
					flattenInto(acc, branch, branchPath)
				}
			}
		default:
			acc[strings.Join(name, ".")] = field
		}
	}
}

// ValidateEvolution checks that next is a forward-compatible successor of
// prev: all data written with prev must be readable with next.
//
// Allowed operations: adding a field with a default, removing a field that
// had a default, changing a default, making a field an optional (two-branch
// nullable) union, widening an enum's symbols, and widening a union's
// branches.
func ValidateEvolution(prev, next avro.Schema) error {
	prevFields := FlattenFields(prev)
	nextFields := FlattenFields(next)

	for path, field := range nextFields {
		old, ok := prevFields[path]
		if !ok {
			if !field.HasDefault() {
				return Error.New("field %s is missing a default value", path)
			}
			continue
		}
		if old.HasDefault() && !field.HasDefault() {
			return Error.New("field %s default value cannot be removed", path)
		}
		if schemasEqual(old.Type(), field.Type()) {
			continue
		}
		oldEnum, oldIsEnum := old.Type().(*avro.EnumSchema)
		newEnum, newIsEnum := field.Type().(*avro.EnumSchema)
		if oldIsEnum && newIsEnum {
			if !subset(oldEnum.Symbols(), newEnum.Symbols()) {
				return Error.New("field %s enum symbols have narrowed from %v to %v",
					path, oldEnum.Symbols(), newEnum.Symbols())
			}
			continue
		}
		oldUnion, oldIsUnion := old.Type().(*avro.UnionSchema)
		newUnion, newIsUnion := field.Type().(*avro.UnionSchema)
		if oldIsUnion && newIsUnion {
			if !subset(schemaStrings(oldUnion.Types()), schemaStrings(newUnion.Types())) {
				return Error.New("field %s union branches have narrowed", path)
			}
			continue
		}
		if !newIsUnion {
			return Error.New("field %s type has changed from %s to %s",
				path, old.Type().Type(), field.Type().Type())
		}
		if !isNullableUnion(newUnion) {
			return Error.New("field %s type has changed from %s to a non-nullable union",
				path, old.Type().Type())
		}
	}

	for path, field := range prevFields {
		if _, ok := nextFields[path]; !ok && !field.HasDefault() {
			return Error.New("field %s is missing a default value", path)
		}
	}
	return nil
}

// isNullableUnion reports whether s is a two-branch union with a null branch.
func isNullableUnion(s *avro.UnionSchema) bool {
	types := s.Types()
	if len(types) != 2 {
		return false
	}
	return types[0].Type() == avro.Null || types[1].Type() == avro.Null
}

// schemasEqual compares schemas by canonical textual form.
func schemasEqual(a, b avro.Schema) bool {
	return a.String() == b.String()
}

func schemaStrings(schemas []avro.Schema) []string {
	acc := make([]string, len(schemas))
	for i, s := range schemas {
		acc[i] = s.String()
	}
	return acc
}

func subset(old, next []string) bool {
	seen := make(map[string]bool, len(next))
	for _, s := range next {
		seen[s] = true
	}
	for _, s := range old {
		if !seen[s] {
			return false
		}
	}
	return true
}
