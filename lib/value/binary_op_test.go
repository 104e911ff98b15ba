package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recq/lib/errs"
)

func TestArithmetic(t *testing.T) {
	t.Parallel()
	scenarios := []struct {
		left  Value
		op    string
		right Value
		want  Value
	}{
		{Int(2), "+", Int(3), Int(5)},
		{Int(2), "-", Int(3), Int(-1)},
		{Int(4), "*", Int(3), Int(12)},
		{Int(2), "+", Double(0.5), Double(2.5)},
		{Double(1.5), "*", Int(2), Double(3)},
		{UInt(10), "+", UInt(5), UInt(15)},
		{Int(3), "+", UInt(4), Int(7)},
		{UInt(4), "-", Int(1), Int(3)},
		{String("foo"), "+", String("bar"), String("foobar")},
		{Int(7), "%", Int(3), Int(1)},
		{Int(7), "/", Int(2), Double(3.5)},
	}
	for _, s := range scenarios {
		got, err := s.left.Op(s.op, s.right)
		require.NoError(t, err, "%s %s %s", s.left, s.op, s.right)
		assert.Equal(t, s.want, got, "%s %s %s", s.left, s.op, s.right)
	}
}

func TestArithmeticOverflowPromotes(t *testing.T) {
	t.Parallel()
	// I64 + U64 beyond either width goes to Double instead of wrapping
	got, err := Int(1).Op("+", UInt(math.MaxUint64))
	require.NoError(t, err)
	assert.IsType(t, Double(0), got)

	got, err = Int(math.MaxInt64).Op("+", Int(1))
	require.NoError(t, err)
	assert.IsType(t, Double(0), got)

	got, err = UInt(math.MaxUint64).Op("+", UInt(1))
	require.NoError(t, err)
	assert.IsType(t, Double(0), got)
}

func TestArithmeticTypeMismatch(t *testing.T) {
	t.Parallel()
	scenarios := []struct {
		left  Value
		op    string
		right Value
	}{
		{String("a"), "-", String("b")},
		{Bool(true), "+", Int(1)},
		{Int(1), "+", String("a")},
		{NewList(), "*", NewList()},
		{Double(1), "%", Double(2)},
		{Int(1), "&&", Int(2)},
	}
	for _, s := range scenarios {
		_, err := s.left.Op(s.op, s.right)
		var tm *errs.TypeMismatch
		assert.ErrorAs(t, err, &tm, "%s %s %s", s.left, s.op, s.right)
	}
}

func TestDivisionByZero(t *testing.T) {
	t.Parallel()
	_, err := Int(1).Op("/", Int(0))
	assert.Error(t, err)
	_, err = Int(1).Op("%", Int(0))
	assert.Error(t, err)
}

func TestComparisons(t *testing.T) {
	t.Parallel()
	scenarios := []struct {
		left  Value
		op    string
		right Value
		want  bool
	}{
		{Int(1), "<", Int(2), true},
		{Int(2), "<=", Int(2), true},
		{Double(1.5), ">", Int(1), true},
		{UInt(math.MaxUint64), ">", Int(math.MaxInt64), true},
		{String("a"), "<", String("b"), true},
		{Int(1), "==", UInt(1), true},
		{Int(1), "!=", Int(2), true},
	}
	for _, s := range scenarios {
		got, err := s.left.Op(s.op, s.right)
		require.NoError(t, err, "%s %s %s", s.left, s.op, s.right)
		assert.Equal(t, Bool(s.want), got, "%s %s %s", s.left, s.op, s.right)
	}
}

func TestLogical(t *testing.T) {
	t.Parallel()
	got, err := Bool(true).Op("&&", Bool(false))
	require.NoError(t, err)
	assert.Equal(t, Bool(false), got)
	got, err = Bool(false).Op("||", Bool(true))
	require.NoError(t, err)
	assert.Equal(t, Bool(true), got)
}

func TestIndexSoftMisses(t *testing.T) {
	t.Parallel()
	l := NewList(Int(10), Int(20))
	got, err := l.Op("[]", Int(1))
	require.NoError(t, err)
	assert.Equal(t, Int(20), got)

	// out of range and mistyped indexes are Nil, not errors
	got, err = l.Op("[]", Int(9))
	require.NoError(t, err)
	assert.Equal(t, Nil, got)
	got, err = l.Op("[]", String("x"))
	require.NoError(t, err)
	assert.Equal(t, Nil, got)

	d := NewDictFromKV([]string{"k"}, []Value{Int(1)})
	got, err = d.Op("[]", String("k"))
	require.NoError(t, err)
	assert.Equal(t, Int(1), got)
	got, err = d.Op("[]", String("nope"))
	require.NoError(t, err)
	assert.Equal(t, Nil, got)
}

func TestUnary(t *testing.T) {
	t.Parallel()
	got, err := Unary("-", Int(5))
	assert.NoError(t, err)
	assert.Equal(t, Int(-5), got)

	got, err = Unary("-", Double(1.5))
	assert.NoError(t, err)
	assert.Equal(t, Double(-1.5), got)

	got, err = Unary("!", Bool(true))
	assert.NoError(t, err)
	assert.Equal(t, Bool(false), got)

	_, err = Unary("!", Int(1))
	assert.Error(t, err)
}
