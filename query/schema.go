// Package query implements the Query Coordinator (C6): per-endpoint
// parameter extraction, validation, compilation, fork decision,
// act-as-fork partition enumeration, and completion. Grounded on
// FeatureBase's executor.go Execute*/validate* methods and
// http_handler.go's query-string parsing.
package query

import "github.com/perple-io/openset/errors"

// ColumnType is one of the column kinds the filter-mode compatibility
// matrix below distinguishes.
type ColumnType int

const (
	ColumnInt ColumnType = iota
	ColumnDouble
	ColumnText
	ColumnBool
)

// FilterMode is a column filter's comparison kind, parsed off one of
// the mutually-exclusive query parameters (gt|gte|lt|lte|eq|between&and|rx|sub).
type FilterMode int

const (
	FilterAll FilterMode = iota
	FilterEq
	FilterBetween
	FilterGt
	FilterGte
	FilterLt
	FilterLte
	FilterRegex
	FilterSub
)

// allowedModes is the column-type/filter-mode compatibility matrix.
var allowedModes = map[ColumnType]map[FilterMode]bool{
	ColumnInt: {
		FilterAll: true, FilterEq: true, FilterBetween: true,
		FilterGt: true, FilterGte: true, FilterLt: true, FilterLte: true,
	},
	ColumnDouble: {
		FilterAll: true, FilterEq: true, FilterBetween: true,
		FilterGt: true, FilterGte: true, FilterLt: true, FilterLte: true,
	},
	ColumnText: {
		FilterAll: true, FilterEq: true, FilterRegex: true, FilterSub: true,
	},
	ColumnBool: {
		FilterAll: true, FilterEq: true,
	},
}

// CheckFilterMode returns a parse/syntax_error if mode is not
// compatible with colType ("Column filter mode incompatible with
// column type -> 4xx parse/syntax_error").
func CheckFilterMode(colType ColumnType, mode FilterMode) error {
	if allowedModes[colType][mode] {
		return nil
	}
	switch colType {
	case ColumnInt, ColumnDouble:
		return errors.New(errors.CodeSyntaxError, "specified filter type not compatible with integer or double column")
	case ColumnText:
		return errors.New(errors.CodeSyntaxError, "specified filter type not compatible with text column")
	default:
		return errors.New(errors.CodeSyntaxError, "specified filter type not compatible with bool column")
	}
}

// Schema is the consumed columnar storage engine surface the
// Coordinator needs: table existence, column type/name resolution, and
// segment TTL mutation. The columnar storage engine itself is an
// out-of-scope external collaborator.
type Schema interface {
	TableExists(table string) bool

	// ColumnType resolves column's type within table. ok is false if
	// the column does not exist (surfaced by the caller as
	// config/general_config_error).
	ColumnType(table, column string) (ColumnType, bool)

	// SetSegmentTTL records a TTL (seconds) for a named segment within
	// table, invoked by the Segment endpoint for sections flagged
	// ttl=N.
	SetSegmentTTL(table, segment string, ttlSeconds int) error
}
