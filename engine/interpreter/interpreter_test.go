package interpreter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recq/engine/parser"
	"recq/lib/errs"
	"recq/lib/value"
)

func evalStr(t *testing.T, expr string, record value.Value) (value.Value, error) {
	t.Helper()
	tree, err := parser.ParseExpression(expr)
	require.NoError(t, err, expr)
	return Eval(tree, record)
}

func TestEvalAgainstRecord(t *testing.T) {
	t.Parallel()
	rec := value.NewDictFromKV(
		[]string{"a", "b", "xs", "nested"},
		[]value.Value{
			value.Int(2),
			value.String("hi"),
			value.NewList(value.Int(10), value.Int(20)),
			value.NewDictFromKV([]string{"k"}, []value.Value{value.Bool(true)}),
		},
	)
	scenarios := []struct {
		expr string
		want value.Value
	}{
		{".", rec},
		{"a", value.Int(2)},
		{".a", value.Int(2)},
		{"a + 1", value.Int(3)},
		{"a * 10 == 20", value.Bool(true)},
		{`b + "!"`, value.String("hi!")},
		{"xs[1]", value.Int(20)},
		{"nested.k", value.Bool(true)},
		{".nested.k", value.Bool(true)},
		{"missing", value.Nil},
		{".missing", value.Nil},
		{"xs[99]", value.Nil},
		{"a.b", value.Nil}, // member access on a non-dict is a soft miss
		{"length(xs)", value.Int(2)},
		{"length(b)", value.Int(2)},
		{`type(a)`, value.String("int")},
		{"keys(nested)", value.NewList(value.String("k"))},
		{"values(nested)", value.NewList(value.Bool(true))},
		{"contains(xs, 10)", value.Bool(true)},
		{"contains(xs, 11)", value.Bool(false)},
		{`contains(b, "h")`, value.Bool(true)},
		{"abs(0 - a)", value.Int(2)},
		{"floor(2.9)", value.Double(2)},
		{"ceil(2.1)", value.Double(3)},
		{"round(2.5)", value.Double(3)},
		{"-a", value.Int(-2)},
		{"!(a == 2)", value.Bool(false)},
	}
	for _, s := range scenarios {
		got, err := evalStr(t, s.expr, rec)
		require.NoError(t, err, s.expr)
		assert.True(t, s.want.Equal(got), "%s: want %s got %s", s.expr, s.want, got)
	}
}

func TestEvalAtomPrecision(t *testing.T) {
	t.Parallel()
	got, err := evalStr(t, "18446744073709551615", value.Nil)
	require.NoError(t, err)
	assert.Equal(t, value.UInt(18446744073709551615), got)

	got, err = evalStr(t, "9007199254740993", value.Nil)
	require.NoError(t, err)
	assert.Equal(t, value.Int(9007199254740993), got)
}

func TestEvalTypeMismatch(t *testing.T) {
	t.Parallel()
	rec := value.NewDictFromKV([]string{"a"}, []value.Value{value.Int(1)})
	_, err := evalStr(t, `a + "x"`, rec)
	var tm *errs.TypeMismatch
	assert.ErrorAs(t, err, &tm)
}

func TestEvalShortCircuit(t *testing.T) {
	t.Parallel()
	rec := value.NewDictFromKV([]string{"a"}, []value.Value{value.Bool(false)})
	// the right side would be a type error if evaluated
	got, err := evalStr(t, "a && (1 + true == 2)", rec)
	require.NoError(t, err)
	assert.Equal(t, value.Bool(false), got)
}

func TestEvalUnknownFunction(t *testing.T) {
	t.Parallel()
	_, err := evalStr(t, "frobnicate(1)", value.Nil)
	assert.Error(t, err)
}

func TestEnvScoping(t *testing.T) {
	t.Parallel()
	env := NewEnv(nil)
	require.NoError(t, env.Define("x", value.Int(1)))
	child := env.PushEnv()
	require.NoError(t, child.Define("x", value.Int(2)))
	v, ok := child.Lookup("x")
	assert.True(t, ok)
	assert.Equal(t, value.Int(2), v)
	v, ok = env.Lookup("x")
	assert.True(t, ok)
	assert.Equal(t, value.Int(1), v)
	_, ok = env.Lookup("missing")
	assert.False(t, ok)
	assert.Error(t, env.Define("x", value.Int(3)), "redefinition in the same scope")
}
