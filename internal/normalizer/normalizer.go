// Package normalizer casts parsed spreadsheet rows onto the target schema.
//
// Casting never fails: a value that cannot be converted becomes null.
// Unknown source columns are dropped and missing target columns are null.
// Every output row carries the audit columns source_file, checksum and
// ingest_ts after the schema columns.
package normalizer

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/sheetload/internal/events"
	"github.com/dshills/sheetload/pkg/types"
)

// IngestTimeLayout is the text layout of the ingest_ts audit column
const IngestTimeLayout = "2006-01-02T15:04:05.000000Z"

var truthy = map[string]struct{}{
	"true": {},
	"1":    {},
	"yes":  {},
	"y":    {},
}

// Normalizer applies one schema
type Normalizer struct {
	schema types.Schema
	sink   events.Sink
	now    func() time.Time
}

// Option configures a Normalizer
type Option func(*Normalizer)

// WithClock overrides the clock used for ingest_ts
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// New creates a normalizer. The schema is assumed to be validated.
func New(schema types.Schema, sink events.Sink, opts ...Option) *Normalizer {
	if sink == nil {
		sink = events.Discard
	}
	n := &Normalizer{schema: schema, sink: sink, now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts rows into a table of schema columns plus audit columns.
// sourceFile identifies the origin file; fingerprint is its checksum.
func (n *Normalizer) Normalize(ctx context.Context, rows []types.RawRow, sourceFile, fingerprint string) (*types.Table, error) {
	table := types.NewTable(n.schema.WithAudit())
	ingestTS := types.StringValue(n.now().UTC().Format(IngestTimeLayout))
	source := types.StringValue(sourceFile)
	checksum := types.StringValue(fingerprint)

	known := make(map[string]struct{}, len(n.schema))
	for _, f := range n.schema {
		known[f.Name] = struct{}{}
	}
	dropped := make(map[string]struct{})
	requiredNulls := make(map[string]int)

	for _, raw := range rows {
		for col := range raw {
			if _, ok := known[col]; !ok {
				dropped[col] = struct{}{}
			}
		}

		out := make([]types.Value, 0, len(n.schema)+3)
		for _, f := range n.schema {
			v := Cast(raw[f.Name], f.Type)
			if v.IsNull() && !f.Nullable() {
				requiredNulls[f.Name]++
			}
			out = append(out, v)
		}
		out = append(out, source, checksum, ingestTS)

		if err := table.Append(out); err != nil {
			return nil, err
		}
	}

	if len(dropped) > 0 {
		n.sink.Emit(ctx, events.LevelDebug, "normalizer.columns_dropped", events.Fields{
			"source_file": sourceFile,
			"columns":     sortedKeys(dropped),
		})
	}
	if len(requiredNulls) > 0 {
		n.sink.Emit(ctx, events.LevelWarn, "normalizer.required_nulls", events.Fields{
			"source_file": sourceFile,
			"columns":     requiredNulls,
		})
	}
	return table, nil
}

// Cast converts one raw cell to the given type. Empty and unparseable
// input yields null.
func Cast(raw string, t types.FieldType) types.Value {
	if raw == "" {
		return types.NullValue()
	}

	switch t {
	case types.TypeInteger:
		f, ok := parseNumber(raw)
		if !ok {
			return types.NullValue()
		}
		truncated := math.Trunc(f)
		if truncated < math.MinInt64 || truncated >= math.MaxInt64 {
			return types.NullValue()
		}
		return types.IntegerValue(int64(truncated))
	case types.TypeFloat:
		f, ok := parseNumber(raw)
		if !ok {
			return types.NullValue()
		}
		return types.FloatValue(f)
	case types.TypeBoolean:
		_, ok := truthy[strings.ToLower(raw)]
		return types.BooleanValue(ok)
	default:
		// STRING, DATE and TIMESTAMP pass through unchanged
		return types.StringValue(raw)
	}
}

func parseNumber(raw string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
