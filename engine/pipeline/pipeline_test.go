package pipeline

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recq/codec"
	"recq/engine/operators"
	"recq/engine/parser"
	"recq/lib/errs"
	"recq/lib/value"
)

// sliceSource feeds fixed records and counts how many were pulled, so
// early-termination behavior is observable.
type sliceSource struct {
	records []value.Value
	reads   int
	closed  bool
}

func (s *sliceSource) Next() (value.Value, error) {
	if s.closed || s.reads >= len(s.records) {
		return value.Nil, io.EOF
	}
	s.reads++
	return s.records[s.reads-1], nil
}

func (s *sliceSource) Close() { s.closed = true }

func runQuery(t *testing.T, query string, records ...value.Value) []value.Value {
	t.Helper()
	out, err := tryQuery(query, records...)
	require.NoError(t, err, query)
	return out
}

func tryQuery(query string, records ...value.Value) ([]value.Value, error) {
	q, err := parser.Parse(query)
	if err != nil {
		return nil, err
	}
	pipe, err := New(q, operators.DefaultDeps())
	if err != nil {
		return nil, err
	}
	var out []value.Value
	err = pipe.Run(&sliceSource{records: records}, func(v value.Value) error {
		out = append(out, v)
		return nil
	})
	return out, err
}

func dict(keys []string, vals ...value.Value) value.Value {
	return value.NewDictFromKV(keys, vals)
}

func TestIdentity(t *testing.T) {
	t.Parallel()
	recs := []value.Value{value.Int(1), value.String("a"), value.Nil}
	assert.Equal(t, recs, runQuery(t, "id", recs...))
	assert.Equal(t, recs, runQuery(t, ".", recs...))
}

func TestSelectProjects(t *testing.T) {
	t.Parallel()
	out := runQuery(t, "select(a)",
		dict([]string{"a", "b"}, value.Int(1), value.Int(2)),
		dict([]string{"a", "b"}, value.Int(3), value.Int(4)),
	)
	assert.Equal(t, []value.Value{value.Int(1), value.Int(3)}, out)
}

func TestSelectDropsMisses(t *testing.T) {
	t.Parallel()
	out := runQuery(t, "select(a)",
		dict([]string{"a"}, value.Int(1)),
		dict([]string{"b"}, value.Int(2)), // no 'a': dropped
		value.Int(7),                      // not a dict: dropped
		dict([]string{"a"}, value.Int(3)),
	)
	assert.Equal(t, []value.Value{value.Int(1), value.Int(3)}, out)
}

func TestExplodeFilter(t *testing.T) {
	t.Parallel()
	out := runQuery(t, "explode | filter(. > 2)",
		value.NewList(value.Int(1), value.Int(2), value.Int(3), value.Int(4), value.Int(5)),
	)
	assert.Equal(t, []value.Value{value.Int(3), value.Int(4), value.Int(5)}, out)
}

func TestExplodeDict(t *testing.T) {
	t.Parallel()
	out := runQuery(t, "explode",
		dict([]string{"a", "b"}, value.Int(1), value.Int(2)),
	)
	require.Len(t, out, 2)
	assert.True(t, value.NewList(value.String("a"), value.Int(1)).Equal(out[0]))
	assert.True(t, value.NewList(value.String("b"), value.Int(2)).Equal(out[1]))
}

func TestMapSum(t *testing.T) {
	t.Parallel()
	out := runQuery(t, "map(x * 10) | sum",
		dict([]string{"x"}, value.Int(1)),
		dict([]string{"x"}, value.Int(2)),
		dict([]string{"x"}, value.Int(3)),
	)
	assert.Equal(t, []value.Value{value.Int(60)}, out)
}

func TestMapFailsHard(t *testing.T) {
	t.Parallel()
	_, err := tryQuery("map(a + 1)",
		dict([]string{"a"}, value.String("not a number")),
	)
	var tm *errs.TypeMismatch
	assert.ErrorAs(t, err, &tm)
}

func TestAggregates(t *testing.T) {
	t.Parallel()
	nums := []value.Value{
		value.Int(3), value.String("skip me"), value.Int(1), value.Double(2.5),
	}
	assert.Equal(t, []value.Value{value.Int(4)}, runQuery(t, "count", nums...))
	assert.Equal(t, []value.Value{value.Double(6.5)}, runQuery(t, "sum", nums...))
	assert.Equal(t, []value.Value{value.Int(1)}, runQuery(t, "min", nums...))
	assert.Equal(t, []value.Value{value.Int(3)}, runQuery(t, "max", nums...))

	out := runQuery(t, "avg", value.Int(1), value.Int(2))
	require.Len(t, out, 1)
	assert.True(t, value.Double(1.5).Equal(out[0]))
}

func TestCountEmpty(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []value.Value{value.Int(0)}, runQuery(t, "count"))
}

func TestCollect(t *testing.T) {
	t.Parallel()
	out := runQuery(t, "collect", value.Int(1), value.Int(2))
	require.Len(t, out, 1)
	assert.True(t, value.NewList(value.Int(1), value.Int(2)).Equal(out[0]))
}

func TestSortCanonical(t *testing.T) {
	t.Parallel()
	out := runQuery(t, "sort", value.Int(3), value.String("a"), value.Int(1), value.Nil)
	assert.Equal(t, []value.Value{value.Nil, value.Int(1), value.Int(3), value.String("a")}, out)
}

func TestSortByKey(t *testing.T) {
	t.Parallel()
	out := runQuery(t, "sort(-a)",
		dict([]string{"a"}, value.Int(1)),
		dict([]string{"a"}, value.Int(2)),
		dict([]string{"a"}, value.Int(3)),
	)
	require.Len(t, out, 3)
	first, _ := out[0].(value.Dict).Get("a")
	last, _ := out[2].(value.Dict).Get("a")
	assert.Equal(t, value.Int(3), first)
	assert.Equal(t, value.Int(1), last)
}

func TestUniqAdjacent(t *testing.T) {
	t.Parallel()
	out := runQuery(t, "uniq",
		value.Int(1), value.Int(1), value.Int(2), value.Int(1),
	)
	assert.Equal(t, []value.Value{value.Int(1), value.Int(2), value.Int(1)}, out)
}

func TestLimitSkip(t *testing.T) {
	t.Parallel()
	recs := []value.Value{value.Int(1), value.Int(2), value.Int(3), value.Int(4)}
	assert.Equal(t, []value.Value{value.Int(1), value.Int(2)}, runQuery(t, "limit(2)", recs...))
	assert.Equal(t, []value.Value{value.Int(3), value.Int(4)}, runQuery(t, "skip(2)", recs...))
	assert.Equal(t, []value.Value{value.Int(2)}, runQuery(t, "skip(1) | limit(1)", recs...))
}

func TestLimitTerminatesEarly(t *testing.T) {
	t.Parallel()
	src := &sliceSource{records: []value.Value{
		value.Int(1), value.Int(2), value.Int(3), value.Int(4), value.Int(5),
	}}
	q, err := parser.Parse("limit(2)")
	require.NoError(t, err)
	pipe, err := New(q, operators.DefaultDeps())
	require.NoError(t, err)
	var n int
	require.NoError(t, pipe.Run(src, func(value.Value) error { n++; return nil }))
	assert.Equal(t, 2, n)
	assert.LessOrEqual(t, src.reads, 3, "limit(2) must not drain the source")
}

func TestUnknownOperator(t *testing.T) {
	t.Parallel()
	_, err := tryQuery("definitely_not_an_operator")
	var unknown *errs.UnknownOperator
	assert.ErrorAs(t, err, &unknown)
}

func TestOrderPreserved(t *testing.T) {
	t.Parallel()
	var recs []value.Value
	for i := 0; i < 100; i++ {
		recs = append(recs, dict([]string{"i"}, value.Int(i)))
	}
	out := runQuery(t, "filter(i % 2 == 0) | map(i * 2)", recs...)
	require.Len(t, out, 50)
	for i := 1; i < len(out); i++ {
		assert.Equal(t, 1, value.Compare(out[i], out[i-1]), "order must be preserved")
	}
}

func TestPipelineAssociativity(t *testing.T) {
	t.Parallel()
	recs := []value.Value{
		value.NewList(value.Int(5), value.Int(1)),
		value.NewList(value.Int(4), value.Int(2)),
	}
	a := runQuery(t, "explode | filter(. > 1) | sort", recs...)
	// (explode | filter) | sort
	b := runQuery(t, "sort", runQuery(t, "explode | filter(. > 1)", recs...)...)
	// explode | (filter | sort)
	c := runQuery(t, "filter(. > 1) | sort", runQuery(t, "explode", recs...)...)
	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
}

func TestTeeWritesSideSink(t *testing.T) {
	t.Parallel()
	var side bytes.Buffer
	deps := operators.DefaultDeps()
	deps.OpenSink = func(path string) (io.WriteCloser, error) {
		assert.Equal(t, "out.jsonl", path)
		return nopWriteCloser{&side}, nil
	}
	q, err := parser.Parse(`tee("out.jsonl")`)
	require.NoError(t, err)
	pipe, err := New(q, deps)
	require.NoError(t, err)
	var out []value.Value
	require.NoError(t, pipe.Run(
		&sliceSource{records: []value.Value{value.Int(1), value.Int(2)}},
		func(v value.Value) error { out = append(out, v); return nil },
	))
	assert.Equal(t, []value.Value{value.Int(1), value.Int(2)}, out)
	assert.Equal(t, "1\n2\n", side.String())
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func TestStatesProgress(t *testing.T) {
	t.Parallel()
	q, err := parser.Parse("map(. + 1) | sum")
	require.NoError(t, err)
	pipe, err := New(q, operators.DefaultDeps())
	require.NoError(t, err)
	out := pipe.Open(&sliceSource{records: []value.Value{value.Int(1), value.Int(2)}})
	assert.Equal(t, []State{Ready, Ready}, pipe.States())

	v, err := out.Next()
	require.NoError(t, err)
	assert.Equal(t, value.Int(5), v)
	// sum consumed its whole upstream before emitting
	assert.Equal(t, []State{Done, Draining}, pipe.States())

	_, err = out.Next()
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, []State{Done, Done}, pipe.States())
}

func TestResourceCeiling(t *testing.T) {
	t.Parallel()
	q, err := parser.Parse("sort")
	require.NoError(t, err)
	deps := operators.DefaultDeps()
	deps.MaxBuffer = 2
	pipe, err := New(q, deps)
	require.NoError(t, err)
	err = pipe.Run(
		&sliceSource{records: []value.Value{value.Int(1), value.Int(2), value.Int(3)}},
		func(value.Value) error { return nil },
	)
	var re *errs.ResourceExhausted
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "sort", re.Operator)
}

// End-to-end: bytes in, bytes out, through the JSON codec on both ends.
func TestEndToEndJSON(t *testing.T) {
	t.Parallel()
	scenarios := []struct {
		in    string
		query string
		out   string
	}{
		{"{\"a\":1,\"b\":2}\n{\"a\":3,\"b\":4}", "select(a)", "1\n3\n"},
		{"[1,2,3,4,5]", "explode | filter(. > 2)", "3\n4\n5\n"},
		{"{\"x\":1}\n{\"x\":2}\n{\"x\":3}", "map(x * 10) | sum", "60\n"},
		{"{\"a\":1}\n{\"a\":2}\n{\"a\":3}", "sort(-a)", "{\"a\":3}\n{\"a\":2}\n{\"a\":1}\n"},
		{"1 2 3", "id", "1\n2\n3\n"},
	}
	for _, s := range scenarios {
		q, err := parser.Parse(s.query)
		require.NoError(t, err, s.query)
		pipe, err := New(q, operators.DefaultDeps())
		require.NoError(t, err, s.query)

		format, err := codec.Lookup("json")
		require.NoError(t, err)
		src, err := format.NewSource(strings.NewReader(s.in), codec.Options{})
		require.NoError(t, err)
		var outBuf bytes.Buffer
		sink, err := format.NewSink(&outBuf, codec.Options{})
		require.NoError(t, err)

		require.NoError(t, pipe.Run(Source(src.Read), sink.Write), s.query)
		require.NoError(t, sink.Close())
		assert.Equal(t, s.out, outBuf.String(), s.query)
	}
}
