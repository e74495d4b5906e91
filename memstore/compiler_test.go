package memstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perple-io/openset/query"
)

func newCompilerStore() *Store {
	s := New(4)
	s.DefineTable("events", map[string]query.ColumnType{"age": query.ColumnInt})
	return s
}

func TestParseScriptLine_Count(t *testing.T) {
	s, err := parseScriptLine("count")
	require.NoError(t, err)
	assert.Equal(t, Script{Op: "count"}, s)
}

func TestParseScriptLine_SumRequiresColumn(t *testing.T) {
	s, err := parseScriptLine("sum revenue")
	require.NoError(t, err)
	assert.Equal(t, Script{Op: "sum", Column: "revenue"}, s)

	_, err = parseScriptLine("sum")
	assert.Error(t, err)
	_, err = parseScriptLine("sum a b")
	assert.Error(t, err)
}

func TestParseScriptLine_EmptyIsError(t *testing.T) {
	_, err := parseScriptLine("   ")
	assert.Error(t, err)
}

func TestParseScriptLine_UnknownVerbIsError(t *testing.T) {
	_, err := parseScriptLine("explode")
	assert.Error(t, err)
}

func TestStore_CompileScript_UnknownTableErrors(t *testing.T) {
	s := newCompilerStore()
	_, err := s.CompileScript("missing", "count", nil)
	assert.Error(t, err)
}

func TestStore_CompileScript_SkipsBlankLinesAndTakesFirstOp(t *testing.T) {
	s := newCompilerStore()
	q, err := s.CompileScript("events", "\n\ncount\nsum age\n", nil)
	require.NoError(t, err)
	assert.Equal(t, Script{Op: "count"}, q)
}

func TestStore_CompileScript_EmptyScriptIsError(t *testing.T) {
	s := newCompilerStore()
	_, err := s.CompileScript("events", "\n\n", nil)
	assert.Error(t, err)
}

func TestStore_CompileSegments_ParsesNameAndOptions(t *testing.T) {
	s := newCompilerStore()
	secs, err := s.CompileSegments("events", "@segment vip ttl=60 refresh=30")
	require.NoError(t, err)
	require.Len(t, secs, 1)
	assert.Equal(t, "vip", secs[0].Name)
	assert.Equal(t, 60, secs[0].TTL)
	assert.Equal(t, 30, secs[0].Refresh)
	assert.Equal(t, Script{Op: "count"}, secs[0].Query)
}

func TestStore_CompileSegments_MultipleSections(t *testing.T) {
	s := newCompilerStore()
	secs, err := s.CompileSegments("events", "@segment a\n@segment b ttl=10")
	require.NoError(t, err)
	require.Len(t, secs, 2)
	assert.Equal(t, "a", secs[0].Name)
	assert.Equal(t, "b", secs[1].Name)
}

func TestStore_CompileSegments_NotASegmentDeclarationIsError(t *testing.T) {
	s := newCompilerStore()
	_, err := s.CompileSegments("events", "count")
	assert.Error(t, err)
}

func TestStore_CompileSegments_BadIntegerOptionIsError(t *testing.T) {
	s := newCompilerStore()
	_, err := s.CompileSegments("events", "@segment vip ttl=soon")
	assert.Error(t, err)
}

func TestStore_CompileSegments_EmptyIsError(t *testing.T) {
	s := newCompilerStore()
	_, err := s.CompileSegments("events", "\n")
	assert.Error(t, err)
}

func TestStore_CompileSegments_UnknownTableErrors(t *testing.T) {
	s := newCompilerStore()
	_, err := s.CompileSegments("missing", "@segment vip")
	assert.Error(t, err)
}

func TestStore_CompileBatch_SegmentAndUseSections(t *testing.T) {
	s := newCompilerStore()
	script := "@segment vip ttl=60\n\n@use total\nevent\ncount"
	secs, err := s.CompileBatch("events", script)
	require.NoError(t, err)
	require.Len(t, secs, 2)

	assert.Equal(t, "segment", secs[0].Kind)
	assert.Equal(t, "vip", secs[0].Name)

	assert.Equal(t, "event", secs[1].Kind)
	assert.Equal(t, "total", secs[1].Name)
	assert.Equal(t, Script{Op: "count"}, secs[1].Query)
}

func TestStore_CompileBatch_UnknownSectionKindIsError(t *testing.T) {
	s := newCompilerStore()
	_, err := s.CompileBatch("events", "@use total\nbogus\ncount")
	assert.Error(t, err)
}

func TestStore_CompileBatch_UseSectionRequiresNameKindAndBody(t *testing.T) {
	s := newCompilerStore()
	_, err := s.CompileBatch("events", "@use total\nevent")
	assert.Error(t, err)
}

func TestStore_CompileBatch_UnrecognizedBlockIsError(t *testing.T) {
	s := newCompilerStore()
	_, err := s.CompileBatch("events", "bogus block")
	assert.Error(t, err)
}

func TestStore_CompileBatch_EmptyIsError(t *testing.T) {
	s := newCompilerStore()
	_, err := s.CompileBatch("events", "\n\n")
	assert.Error(t, err)
}

func TestStore_CompileBatch_UnknownTableErrors(t *testing.T) {
	s := newCompilerStore()
	_, err := s.CompileBatch("missing", "@use total\nevent\ncount")
	assert.Error(t, err)
}
