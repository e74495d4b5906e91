package query

import (
	"regexp"

	"github.com/perple-io/openset/errors"
)

// ValidateTable checks table existence.
func ValidateTable(schema Schema, table string) error {
	if table == "" || !schema.TableExists(table) {
		return errors.Newf(errors.CodeGeneralError, "table not found: %q", table)
	}
	return nil
}

// ValidateScriptPresent checks that script endpoints received a
// non-empty body.
func ValidateScriptPresent(script string) error {
	if script == "" {
		return errors.New(errors.CodeGeneralError, "query script required")
	}
	return nil
}

// ValidateSortColumn resolves sort against schema, returning
// query/general_error ("unknown sort column") if it does not exist.
// An empty sort is always valid (no sort requested).
func ValidateSortColumn(schema Schema, table, sort string) error {
	if sort == "" {
		return nil
	}
	if _, ok := schema.ColumnType(table, sort); !ok {
		return errors.Newf(errors.CodeGeneralError, "unknown sort column: %q", sort)
	}
	return nil
}

// ValidateColumnFilter resolves column's type and checks it against
// filter.Mode per the compatibility matrix, and compiles a regex filter
// eagerly so a bad pattern is rejected before any partition work is
// scheduled.
func ValidateColumnFilter(schema Schema, table, column string, filter ColumnFilter) (*regexp.Regexp, error) {
	colType, ok := schema.ColumnType(table, column)
	if !ok {
		return nil, errors.Newf(errors.CodeGeneralConfigError, "unknown column: %q", column)
	}
	if err := CheckFilterMode(colType, filter.Mode); err != nil {
		return nil, err
	}
	if filter.Mode == FilterRegex {
		re, err := regexp.Compile(filter.Regex)
		if err != nil {
			return nil, errors.Newf(errors.CodeSyntaxError, "invalid regular expression %q: %v", filter.Regex, err)
		}
		return re, nil
	}
	return nil, nil
}

// ValidatePerson checks the id/sid mutual-exclusion rule ("Person query
// with both id=0 and absent sid -> 4xx query/general_error").
func ValidatePerson(id uint64, sid string) error {
	if id == 0 && sid == "" {
		return errors.New(errors.CodeGeneralError, "person query requires id or sid")
	}
	return nil
}

// ValidateSegments requires a non-empty segment list for endpoints
// where an empty segment list is disallowed.
func ValidateSegments(segments []string) error {
	if len(segments) == 0 {
		return errors.New(errors.CodeSyntaxError, "segments list must not be empty")
	}
	return nil
}
