package serializer

import (
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/dshills/sheetload/pkg/types"
)

// parquetBatch bounds the rows buffered per WriteRows call
const parquetBatch = 1024

// parquetSchema builds an all-optional schema for the table columns.
// Group orders its fields by name, so the physical column order is
// returned alongside.
func parquetSchema(columns types.Schema) (*parquet.Schema, []string) {
	group := make(parquet.Group, len(columns))
	for _, c := range columns {
		group[c.Name] = parquet.Optional(parquetNode(c.Type))
	}
	schema := parquet.NewSchema("sheetload", group)

	fields := schema.Fields()
	order := make([]string, len(fields))
	for i, f := range fields {
		order[i] = f.Name()
	}
	return schema, order
}

func parquetNode(t types.FieldType) parquet.Node {
	switch t {
	case types.TypeInteger:
		return parquet.Int(64)
	case types.TypeFloat:
		return parquet.Leaf(parquet.DoubleType)
	case types.TypeBoolean:
		return parquet.Leaf(parquet.BooleanType)
	default:
		return parquet.String()
	}
}

func parquetValue(v types.Value) parquet.Value {
	switch v.Kind() {
	case types.KindString:
		s, _ := v.AsString()
		return parquet.ByteArrayValue([]byte(s))
	case types.KindInteger:
		i, _ := v.AsInteger()
		return parquet.Int64Value(i)
	case types.KindFloat:
		f, _ := v.AsFloat()
		return parquet.DoubleValue(f)
	case types.KindBoolean:
		b, _ := v.AsBoolean()
		return parquet.BooleanValue(b)
	default:
		return parquet.NullValue()
	}
}

func writeParquet(w io.Writer, table *types.Table) ([]string, error) {
	schema, order := parquetSchema(table.Columns)

	// Map physical column position to table column position
	source := make([]int, len(order))
	for i, name := range order {
		source[i] = table.ColumnIndex(name)
		if source[i] < 0 {
			return nil, fmt.Errorf("parquet column %q missing from table", name)
		}
	}

	writer := parquet.NewWriter(w, schema, parquet.Compression(&parquet.Snappy))

	batch := make([]parquet.Row, 0, parquetBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := writer.WriteRows(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for _, row := range table.Rows {
		out := make(parquet.Row, len(order))
		for col, src := range source {
			v := row[src]
			def := 1
			if v.IsNull() {
				def = 0
			}
			out[col] = parquetValue(v).Level(0, def, col)
		}
		batch = append(batch, out)
		if len(batch) == parquetBatch {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}
	return order, nil
}
