package normalizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/sheetload/internal/events"
	"github.com/dshills/sheetload/pkg/types"
)

var fixedNow = time.Date(2024, 7, 1, 9, 30, 0, 123456000, time.UTC)

func newTestNormalizer(schema types.Schema, sink events.Sink) *Normalizer {
	return New(schema, sink, WithClock(func() time.Time { return fixedNow }))
}

func TestNormalize_CastsAndAudits(t *testing.T) {
	schema := types.Schema{
		{Name: "A", Type: types.TypeInteger},
		{Name: "B", Type: types.TypeBoolean},
	}
	n := newTestNormalizer(schema, nil)

	table, err := n.Normalize(context.Background(), []types.RawRow{
		{"A": "3.7", "B": "yes"},
		{"A": "", "B": ""},
	}, "in/report.xlsx", "abc123")
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())

	a, _ := table.Value(0, "A")
	assert.Equal(t, types.IntegerValue(3), a)
	b, _ := table.Value(0, "B")
	assert.Equal(t, types.BooleanValue(true), b)

	for _, col := range []string{types.ColumnSourceFile, types.ColumnChecksum, types.ColumnIngestTS} {
		v, ok := table.Value(0, col)
		require.True(t, ok)
		assert.False(t, v.IsNull(), col)
	}
	src, _ := table.Value(0, types.ColumnSourceFile)
	assert.Equal(t, "in/report.xlsx", src.Text())
	sum, _ := table.Value(0, types.ColumnChecksum)
	assert.Equal(t, "abc123", sum.Text())
	ts, _ := table.Value(0, types.ColumnIngestTS)
	assert.Equal(t, "2024-07-01T09:30:00.123456Z", ts.Text())

	a, _ = table.Value(1, "A")
	assert.True(t, a.IsNull())
	b, _ = table.Value(1, "B")
	assert.True(t, b.IsNull())
}

func TestNormalize_ColumnOrderAndUnknowns(t *testing.T) {
	schema := types.Schema{
		{Name: "Name", Type: types.TypeString},
		{Name: "Missing", Type: types.TypeFloat},
	}
	rec := &events.Recorder{}
	n := newTestNormalizer(schema, rec)

	table, err := n.Normalize(context.Background(), []types.RawRow{
		{"Extra": "x", "Name": "alice", "Another": "y"},
	}, "f.xlsx", "c")
	require.NoError(t, err)

	assert.Equal(t, []string{"Name", "Missing", "source_file", "checksum", "ingest_ts"}, table.Columns.Names())
	missing, _ := table.Value(0, "Missing")
	assert.True(t, missing.IsNull())

	dropped := rec.Named("normalizer.columns_dropped")
	require.Len(t, dropped, 1)
	assert.Equal(t, []string{"Another", "Extra"}, dropped[0].Fields["columns"])
}

func TestNormalize_RequiredNullsWarn(t *testing.T) {
	schema := types.Schema{{Name: "ID", Type: types.TypeInteger, Mode: types.ModeRequired}}
	rec := &events.Recorder{}
	n := newTestNormalizer(schema, rec)

	_, err := n.Normalize(context.Background(), []types.RawRow{{"ID": "x"}, {"ID": "2"}}, "f.xlsx", "c")
	require.NoError(t, err)

	warns := rec.Named("normalizer.required_nulls")
	require.Len(t, warns, 1)
	assert.Equal(t, map[string]int{"ID": 1}, warns[0].Fields["columns"])
}

func TestNormalize_EmptyInput(t *testing.T) {
	n := newTestNormalizer(types.Schema{{Name: "A", Type: types.TypeString}}, nil)

	table, err := n.Normalize(context.Background(), nil, "f.xlsx", "c")
	require.NoError(t, err)
	assert.Equal(t, 0, table.Len())
	assert.Len(t, table.Columns, 4)
}

func TestCast(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		typ  types.FieldType
		want types.Value
	}{
		{"integer truncates", "3.7", types.TypeInteger, types.IntegerValue(3)},
		{"integer negative truncates toward zero", "-3.7", types.TypeInteger, types.IntegerValue(-3)},
		{"integer exponent", "1e3", types.TypeInteger, types.IntegerValue(1000)},
		{"integer surrounding space", " 42 ", types.TypeInteger, types.IntegerValue(42)},
		{"integer garbage", "abc", types.TypeInteger, types.NullValue()},
		{"integer infinity", "inf", types.TypeInteger, types.NullValue()},
		{"integer overflow", "1e30", types.TypeInteger, types.NullValue()},
		{"float", "2.5", types.TypeFloat, types.FloatValue(2.5)},
		{"float garbage", "n/a", types.TypeFloat, types.NullValue()},
		{"float nan", "NaN", types.TypeFloat, types.NullValue()},
		{"boolean yes", "YES", types.TypeBoolean, types.BooleanValue(true)},
		{"boolean y", "y", types.TypeBoolean, types.BooleanValue(true)},
		{"boolean one", "1", types.TypeBoolean, types.BooleanValue(true)},
		{"boolean True", "True", types.TypeBoolean, types.BooleanValue(true)},
		{"boolean no", "no", types.TypeBoolean, types.BooleanValue(false)},
		{"boolean other", "maybe", types.TypeBoolean, types.BooleanValue(false)},
		{"string", " keep spaces ", types.TypeString, types.StringValue(" keep spaces ")},
		{"date passthrough", "2024-01-02", types.TypeDate, types.StringValue("2024-01-02")},
		{"timestamp passthrough", "2024-01-02 03:04:05", types.TypeTimestamp, types.StringValue("2024-01-02 03:04:05")},
		{"empty is null", "", types.TypeString, types.NullValue()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Cast(tt.raw, tt.typ))
		})
	}
}
