package types

import (
	"fmt"
	"strings"
)

// FieldType is the warehouse type of a target column
type FieldType string

const (
	TypeString    FieldType = "STRING"
	TypeInteger   FieldType = "INTEGER"
	TypeFloat     FieldType = "FLOAT"
	TypeBoolean   FieldType = "BOOLEAN"
	TypeDate      FieldType = "DATE"
	TypeTimestamp FieldType = "TIMESTAMP"
)

// Valid reports whether t is one of the supported field types
func (t FieldType) Valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeFloat, TypeBoolean, TypeDate, TypeTimestamp:
		return true
	}
	return false
}

// FieldMode is the nullability of a target column
type FieldMode string

const (
	ModeNullable FieldMode = "NULLABLE"
	ModeRequired FieldMode = "REQUIRED"
)

// Audit column names appended to every normalized row
const (
	ColumnSourceFile = "source_file"
	ColumnChecksum   = "checksum"
	ColumnIngestTS   = "ingest_ts"
)

// SchemaField describes one named, typed column of the target schema
type SchemaField struct {
	Name string    `mapstructure:"name" yaml:"name" json:"name"`
	Type FieldType `mapstructure:"type" yaml:"type" json:"type"`
	Mode FieldMode `mapstructure:"mode" yaml:"mode,omitempty" json:"mode,omitempty"`
}

// Nullable reports whether the column accepts nulls. An empty mode means NULLABLE.
func (f SchemaField) Nullable() bool {
	return f.Mode != ModeRequired
}

// Schema is the ordered list of target columns
type Schema []SchemaField

// AuditFields returns the three fixed audit columns in their table order
func AuditFields() Schema {
	return Schema{
		{Name: ColumnSourceFile, Type: TypeString, Mode: ModeNullable},
		{Name: ColumnChecksum, Type: TypeString, Mode: ModeNullable},
		{Name: ColumnIngestTS, Type: TypeTimestamp, Mode: ModeNullable},
	}
}

func isAuditColumn(name string) bool {
	switch strings.ToLower(name) {
	case ColumnSourceFile, ColumnChecksum, ColumnIngestTS:
		return true
	}
	return false
}

// Validate checks field names, types and modes
func (s Schema) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSchema, ErrEmptySchema)
	}

	seen := make(map[string]struct{}, len(s))
	for i, f := range s {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("%w: field %d: %w", ErrInvalidSchema, i, ErrEmptyFieldName)
		}
		key := strings.ToLower(f.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: %q: %w", ErrInvalidSchema, f.Name, ErrDuplicateField)
		}
		seen[key] = struct{}{}

		if isAuditColumn(f.Name) {
			return fmt.Errorf("%w: %q: %w", ErrInvalidSchema, f.Name, ErrReservedFieldName)
		}
		if !f.Type.Valid() {
			return fmt.Errorf("%w: %q has type %q: %w", ErrInvalidSchema, f.Name, f.Type, ErrUnknownFieldType)
		}
		switch f.Mode {
		case "", ModeNullable, ModeRequired:
		default:
			return fmt.Errorf("%w: %q has mode %q: %w", ErrInvalidSchema, f.Name, f.Mode, ErrUnknownFieldMode)
		}
	}
	return nil
}

// Names returns the column names in order
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// WithAudit returns a copy of the schema followed by the audit columns
func (s Schema) WithAudit() Schema {
	out := make(Schema, 0, len(s)+3)
	out = append(out, s...)
	return append(out, AuditFields()...)
}
