package memstore

import (
	"strconv"
	"strings"

	"github.com/perple-io/openset/errors"
	"github.com/perple-io/openset/query"
)

// Script is memstore's CompiledQuery: a parsed, one-line-per-operation
// program. The language is intentionally tiny -- one verb per line,
// "count" or "sum <column>" -- since memstore exists to exercise the
// Coordinator and scheduler end to end, not to demonstrate a query
// language.
type Script struct {
	Op     string // "count" or "sum"
	Column string // set when Op == "sum"
}

func parseScriptLine(line string) (Script, error) {
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Script{}, errors.New(errors.CodeSyntaxError, "empty script")
	}
	switch fields[0] {
	case "count":
		return Script{Op: "count"}, nil
	case "sum":
		if len(fields) != 2 {
			return Script{}, errors.New(errors.CodeSyntaxError, "sum requires exactly one column argument")
		}
		return Script{Op: "sum", Column: fields[1]}, nil
	default:
		return Script{}, errors.Newf(errors.CodeSyntaxError, "unknown script verb %q", fields[0])
	}
}

// CompileScript implements query.Compiler. vars is accepted but unused:
// memstore's scripts take no inline variables.
func (s *Store) CompileScript(table, script string, vars query.Vars) (query.CompiledQuery, error) {
	if s.table(table) == nil {
		return nil, errors.Newf(errors.CodeGeneralError, "table not found: %q", table)
	}
	for _, line := range strings.Split(script, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return parseScriptLine(line)
	}
	return nil, errors.New(errors.CodeSyntaxError, "script has no operations")
}

// CompileSegments implements query.Compiler, parsing one
// "@segment name [ttl=N] [refresh=N]" declaration per non-blank line,
// each paired with a "count" body that defines membership as "has any
// event at all" -- memstore's stand-in for a real segment predicate.
func (s *Store) CompileSegments(table, script string) ([]query.SegmentSection, error) {
	if s.table(table) == nil {
		return nil, errors.Newf(errors.CodeGeneralError, "table not found: %q", table)
	}
	var out []query.SegmentSection
	for _, line := range strings.Split(script, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if fields[0] != "@segment" || len(fields) < 2 {
			return nil, errors.Newf(errors.CodeSyntaxError, "expected @segment declaration, got %q", line)
		}
		sec := query.SegmentSection{Name: fields[1], Query: Script{Op: "count"}}
		for _, opt := range fields[2:] {
			kv := strings.SplitN(opt, "=", 2)
			if len(kv) != 2 {
				continue
			}
			n, err := strconv.Atoi(kv[1])
			if err != nil {
				return nil, errors.Newf(errors.CodeSyntaxError, "invalid integer in %q", opt)
			}
			switch kv[0] {
			case "ttl":
				sec.TTL = n
			case "refresh":
				sec.Refresh = n
			}
		}
		out = append(out, sec)
	}
	if len(out) == 0 {
		return nil, errors.New(errors.CodeSyntaxError, "batch script declares no segments")
	}
	return out, nil
}

// CompileBatch implements query.Compiler, splitting script into
// blank-line-separated sections, each either an "@segment ..."
// declaration or an "@use name\n<kind>\n<body>" query section.
func (s *Store) CompileBatch(table, script string) ([]query.BatchSection, error) {
	if s.table(table) == nil {
		return nil, errors.Newf(errors.CodeGeneralError, "table not found: %q", table)
	}
	var out []query.BatchSection
	for _, block := range strings.Split(script, "\n\n") {
		lines := nonEmptyLines(block)
		if len(lines) == 0 {
			continue
		}
		fields := strings.Fields(lines[0])
		switch fields[0] {
		case "@segment":
			sec, err := s.CompileSegments(table, lines[0])
			if err != nil {
				return nil, err
			}
			out = append(out, query.BatchSection{Kind: "segment", Name: sec[0].Name, Table: table, Query: sec[0].Query})
		case "@use":
			if len(fields) < 2 || len(lines) < 3 {
				return nil, errors.New(errors.CodeSyntaxError, "@use section requires a name, a kind line, and a script line")
			}
			kind := lines[1]
			if kind != "event" && kind != "column" && kind != "histogram" {
				return nil, errors.Newf(errors.CodeSyntaxError, "unknown batch section kind %q", kind)
			}
			q, err := parseScriptLine(lines[2])
			if err != nil {
				return nil, err
			}
			out = append(out, query.BatchSection{Kind: kind, Name: fields[1], Table: table, Query: q})
		default:
			return nil, errors.Newf(errors.CodeSyntaxError, "expected @segment or @use, got %q", lines[0])
		}
	}
	if len(out) == 0 {
		return nil, errors.New(errors.CodeSyntaxError, "batch script declares no sections")
	}
	return out, nil
}

func nonEmptyLines(block string) []string {
	var out []string
	for _, l := range strings.Split(block, "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
