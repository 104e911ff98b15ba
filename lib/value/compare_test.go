package value

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareRanks(t *testing.T) {
	t.Parallel()
	// canonical cross-variant order
	ordered := []Value{
		Nil,
		Bool(false),
		Bool(true),
		Int(-3),
		Int(7),
		UInt(math.MaxUint64),
		Double(0.5),
		Double(math.NaN()), // NaN after every other double
		Char('a'),
		String("a"),
		String("b"),
		Bytes("a"),
		NewList(Int(1)),
		NewList(Int(1), Int(0)),
		NewDictFromKV([]string{"a"}, []Value{Int(1)}),
	}
	for i := range ordered {
		for j := range ordered {
			want := 0
			switch {
			case i < j:
				want = -1
			case i > j:
				want = 1
			}
			assert.Equal(t, want, Compare(ordered[i], ordered[j]),
				"Compare(%s, %s)", ordered[i], ordered[j])
		}
	}
}

func TestCompareNumericMixed(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, Compare(Int(5), UInt(5)))
	assert.Equal(t, -1, Compare(Int(-1), UInt(0)))
	assert.Equal(t, 1, Compare(UInt(math.MaxUint64), Int(math.MaxInt64)))
}

func TestCompareSortsCanonically(t *testing.T) {
	t.Parallel()
	vals := []Value{String("b"), Int(2), Nil, Double(math.Inf(-1)), Int(1), Bool(true)}
	sort.SliceStable(vals, func(i, j int) bool { return Compare(vals[i], vals[j]) < 0 })
	assert.Equal(t, []Value{Nil, Bool(true), Int(1), Int(2), Double(math.Inf(-1)), String("b")}, vals)
}
