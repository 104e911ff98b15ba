package operators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recq/engine/parser"
	"recq/lib/errs"
)

func TestLocate(t *testing.T) {
	t.Parallel()
	for _, name := range []string{
		"id", "select", "map", "filter", "tee",
		"explode", "collect", "count", "sum", "min", "max", "avg",
		"sort", "uniq", "limit", "skip",
	} {
		op, err := Locate(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, op.Signature().Name)
	}

	_, err := Locate("frobnicate")
	var unknown *errs.UnknownOperator
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "frobnicate", unknown.Name)
}

func TestClasses(t *testing.T) {
	t.Parallel()
	scenarios := []struct {
		name  string
		class Class
	}{
		{"id", Pure},
		{"map", Pure},
		{"explode", StatefulBounded},
		{"limit", StatefulBounded},
		{"uniq", StatefulBounded},
		{"collect", Terminal},
		{"sort", Terminal},
		{"count", Terminal},
		{"sum", Terminal},
	}
	for _, s := range scenarios {
		op, err := Locate(s.name)
		require.NoError(t, err)
		assert.Equal(t, s.class, op.Signature().Class, s.name)
	}
}

func TestArityChecks(t *testing.T) {
	t.Parallel()
	scenarios := []struct {
		query string
		ok    bool
	}{
		{"map(x)", true},
		{"map(x, 1)", false},
		{"limit(3)", true},
		{"limit(-1)", false},
		{`limit("x")`, false},
		{"sort", true},
		{"sort(a)", true},
		{"sort(a, b)", false},
		{"count(1)", false},
	}
	for _, s := range scenarios {
		q, err := parser.Parse(s.query)
		require.NoError(t, err, s.query)
		proc := q.Processes[0]
		op, err := Locate(proc.Name)
		require.NoError(t, err, s.query)
		_, err = op.New(proc.Args, DefaultDeps())
		if s.ok {
			assert.NoError(t, err, s.query)
		} else {
			assert.Error(t, err, s.query)
		}
	}
}
