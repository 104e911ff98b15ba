package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromJSON(t *testing.T) {
	t.Parallel()
	scenarios := []struct {
		in   string
		want Value
	}{
		{`null`, Nil},
		{`true`, Bool(true)},
		{`42`, Int(42)},
		{`-7`, Int(-7)},
		{`18446744073709551615`, UInt(math.MaxUint64)},
		{`1.25`, Double(1.25)},
		{`1e3`, Double(1000)},
		{`"hi\nthere"`, String("hi\nthere")},
		{`[1, "a", null]`, NewList(Int(1), String("a"), Nil)},
		{
			`{"b": 1, "a": 2}`,
			NewDictFromKV([]string{"b", "a"}, []Value{Int(1), Int(2)}),
		},
	}
	for _, s := range scenarios {
		got, err := FromJSON([]byte(s.in))
		require.NoError(t, err, s.in)
		assert.True(t, s.want.Equal(got), "parse %s: got %s", s.in, got)
	}
}

func TestToJSON(t *testing.T) {
	t.Parallel()
	scenarios := []struct {
		in   Value
		want string
	}{
		{Nil, `null`},
		{Bool(false), `false`},
		{Int(-3), `-3`},
		{UInt(math.MaxUint64), `18446744073709551615`},
		{Double(1.25), `1.25`},
		{Double(math.NaN()), `null`},
		{Char('q'), `"q"`},
		{String("say \"hi\""), `"say \"hi\""`},
		{Bytes("ab"), `"YWI="`},
		{NewList(Int(1), Int(2)), `[1,2]`},
		{
			NewDictFromKV([]string{"z", "a"}, []Value{Int(1), NewList()}),
			`{"z":1,"a":[]}`,
		},
	}
	for _, s := range scenarios {
		assert.Equal(t, s.want, string(ToJSON(s.in)), "%s", s.in)
	}
}

func TestJSONRoundTripKeepsOrder(t *testing.T) {
	t.Parallel()
	in := `{"z":1,"m":{"q":[1,2],"a":true},"a":null}`
	v, err := FromJSON([]byte(in))
	require.NoError(t, err)
	assert.Equal(t, in, string(ToJSON(v)))
}

func TestJSONNumbersStayExact(t *testing.T) {
	t.Parallel()
	// integers larger than a double can hold survive the round trip
	v, err := FromJSON([]byte(`9007199254740993`))
	require.NoError(t, err)
	assert.Equal(t, Int(9007199254740993), v)
	assert.Equal(t, `9007199254740993`, string(ToJSON(v)))
}

func TestToJSONIndent(t *testing.T) {
	t.Parallel()
	v := NewDictFromKV([]string{"a"}, []Value{NewList(Int(1))})
	want := "{\n  \"a\": [\n    1\n  ]\n}"
	assert.Equal(t, want, string(ToJSONIndent(v)))
}
