package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recq/engine/ast"
	"recq/lib/errs"
)

func TestParsePipelines(t *testing.T) {
	t.Parallel()
	scenarios := []struct {
		in    string
		names []string
	}{
		{"id", []string{"id"}},
		{".", []string{"id"}},
		{"select(a)", []string{"select"}},
		{".a", []string{"select"}},
		{"a | b | c", []string{"a", "b", "c"}},
		{"explode | filter(. > 2)", []string{"explode", "filter"}},
		{"map(x * 10) | sum", []string{"map", "sum"}},
		{"limit(3) | collect", []string{"limit", "collect"}},
		{"x + 1", []string{"select"}},
		{"# leading comment\nid", []string{"id"}},
	}
	for _, s := range scenarios {
		q, err := Parse(s.in)
		require.NoError(t, err, s.in)
		var names []string
		for _, p := range q.Processes {
			names = append(names, p.Name)
		}
		assert.Equal(t, s.names, names, s.in)
	}
}

func TestParseDesugarsBareExpressions(t *testing.T) {
	t.Parallel()
	q, err := Parse(".a.b[0]")
	require.NoError(t, err)
	require.Len(t, q.Processes, 1)
	p := q.Processes[0]
	assert.Equal(t, "select", p.Name)
	require.Len(t, p.Args, 1)
	idx, ok := p.Args[0].(ast.Index)
	require.True(t, ok)
	member, ok := idx.On.(ast.Member)
	require.True(t, ok)
	assert.Equal(t, "b", member.Property)
}

func TestParsePrecedence(t *testing.T) {
	t.Parallel()
	scenarios := []struct {
		in   string
		want string
	}{
		{"1 + 2 * 3", "(1 + (2 * 3))"},
		{"(1 + 2) * 3", "((1 + 2) * 3)"},
		{"a == 1 || b == 2 && c == 3", "((a == 1) || ((b == 2) && (c == 3)))"},
		{"-a + 2", "(-a + 2)"},
		{"!(a && b)", "!(a && b)"},
		{"1 + 2 < 3 * 4", "((1 + 2) < (3 * 4))"},
	}
	for _, s := range scenarios {
		tree, err := ParseExpression(s.in)
		require.NoError(t, err, s.in)
		assert.Equal(t, s.want, ast.ToString(tree), s.in)
	}
}

func TestParseLiterals(t *testing.T) {
	t.Parallel()
	tree, err := ParseExpression(`"a\tb"`)
	require.NoError(t, err)
	atom, ok := tree.(ast.Atom)
	require.True(t, ok)
	assert.Equal(t, ast.AtomString, atom.AtomType)
	assert.Equal(t, "a\tb", atom.Lexeme)

	tree, err = ParseExpression("1.5e2")
	require.NoError(t, err)
	atom = tree.(ast.Atom)
	assert.Equal(t, ast.AtomDouble, atom.AtomType)

	tree, err = ParseExpression("null")
	require.NoError(t, err)
	atom = tree.(ast.Atom)
	assert.Equal(t, ast.AtomNull, atom.AtomType)
}

func TestParseErrorsCarryOffsets(t *testing.T) {
	t.Parallel()
	scenarios := []struct {
		in     string
		offset int
	}{
		{"select(", 7},
		{"a |", 3},
		{"a..b", 2},
		{`"unterminated`, 13},
		{"f(a,)", 4},
		{"x[1", 3},
	}
	for _, s := range scenarios {
		_, err := Parse(s.in)
		require.Error(t, err, s.in)
		var syn *errs.SyntaxError
		require.ErrorAs(t, err, &syn, s.in)
		assert.Equal(t, s.offset, syn.Offset, "%q: %v", s.in, err)
	}
}

func TestParseRejectsTrailingInput(t *testing.T) {
	t.Parallel()
	_, err := Parse("a b")
	assert.Error(t, err)
}

func TestQueryString(t *testing.T) {
	t.Parallel()
	q, err := Parse("map(x + 1) | limit(3)")
	require.NoError(t, err)
	assert.Equal(t, "map((x + 1)) | limit(3)", ast.QueryString(q))
}
