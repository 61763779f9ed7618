// Package types provides shared type definitions for sheetload.
//
// # Target Schema
//
// A Schema is the ordered list of columns every ingested file is normalized
// to. Each SchemaField has a name, a FieldType and an optional mode:
//
//	schema := types.Schema{
//	    {Name: "vehicle_id", Type: types.TypeString, Mode: types.ModeRequired},
//	    {Name: "mileage", Type: types.TypeInteger},
//	    {Name: "passed", Type: types.TypeBoolean},
//	}
//	if err := schema.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//
// The warehouse table always carries three extra audit columns after the
// schema columns (source_file, checksum, ingest_ts); see AuditFields.
//
// # Values
//
// Normalized cells are Values, a closed variant of
// String | Integer | Float | Boolean | Null. Consumers switch on Kind:
//
//	switch v.Kind() {
//	case types.KindInteger:
//	    n, _ := v.AsInteger()
//	case types.KindNull:
//	    // write a null
//	}
//
// # Tables
//
// Table holds normalized rows aligned with an ordered column list.
// Table.Append rejects rows whose width differs from the column count.
package types
