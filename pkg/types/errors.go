package types

import "errors"

// Domain errors for schema and table validation
var (
	// Schema errors
	ErrInvalidSchema     = errors.New("invalid schema")
	ErrEmptySchema       = errors.New("schema must declare at least one field")
	ErrEmptyFieldName    = errors.New("field name cannot be empty")
	ErrDuplicateField    = errors.New("duplicate field name")
	ErrUnknownFieldType  = errors.New("unknown field type")
	ErrUnknownFieldMode  = errors.New("unknown field mode")
	ErrReservedFieldName = errors.New("field name is reserved for audit columns")

	// Table errors
	ErrRowWidth = errors.New("row width does not match column count")
)
