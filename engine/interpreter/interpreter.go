package interpreter

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"recq/engine/ast"
	"recq/lib/value"
)

// Interpreter evaluates expression trees against one record. Field
// access on non-dicts and missing keys yield Nil rather than an error so
// that select() can use them as soft misses; operator type errors
// surface as TypeMismatch.
type Interpreter struct {
	env *Env
}

var _ ast.VisitorValue = Interpreter{}

func NewInterpreter(record value.Value) Interpreter {
	env := NewEnv(nil)
	_ = env.Define("@", record)
	return Interpreter{env: env}
}

// Eval evaluates tree with record as the implicit root.
func Eval(tree ast.Ast, record value.Value) (value.Value, error) {
	return tree.AcceptValue(NewInterpreter(record))
}

func (i Interpreter) record() value.Value {
	v, _ := i.env.Lookup("@")
	return v
}

func (i Interpreter) VisitAtom(at ast.AtomType, lexeme string) (value.Value, error) {
	switch at {
	case ast.AtomInt:
		if n, err := strconv.ParseInt(lexeme, 10, 64); err == nil {
			return value.Int(n), nil
		}
		if n, err := strconv.ParseUint(lexeme, 10, 64); err == nil {
			return value.UInt(n), nil
		}
		// fall through to double for integers beyond 64 bits
		fallthrough
	case ast.AtomDouble:
		f, err := strconv.ParseFloat(lexeme, 64)
		if err != nil {
			return value.Nil, err
		}
		return value.Double(f), nil
	case ast.AtomString:
		return value.String(lexeme), nil
	case ast.AtomBool:
		b, err := strconv.ParseBool(lexeme)
		if err != nil {
			return value.Nil, err
		}
		return value.Bool(b), nil
	case ast.AtomNull:
		return value.Nil, nil
	}
	return value.Nil, fmt.Errorf("invalid atom type: %v", at)
}

// VisitVar resolves an identifier against the current record's keys; a
// miss or a non-dict record yields Nil.
func (i Interpreter) VisitVar(name string) (value.Value, error) {
	if v, ok := i.env.Lookup(name); ok && name == "@" {
		return v, nil
	}
	if d, ok := i.record().(value.Dict); ok {
		if v, ok := d.Get(name); ok {
			return v, nil
		}
	}
	return value.Nil, nil
}

func (i Interpreter) VisitAt() (value.Value, error) {
	return i.record(), nil
}

func (i Interpreter) VisitMember(on ast.Ast, property string) (value.Value, error) {
	val, err := on.AcceptValue(i)
	if err != nil {
		return value.Nil, err
	}
	d, ok := val.(value.Dict)
	if !ok {
		return value.Nil, nil
	}
	v, _ := d.Get(property)
	return v, nil
}

func (i Interpreter) VisitIndex(on ast.Ast, index ast.Ast) (value.Value, error) {
	val, err := on.AcceptValue(i)
	if err != nil {
		return value.Nil, err
	}
	idx, err := index.AcceptValue(i)
	if err != nil {
		return value.Nil, err
	}
	return val.Op("[]", idx)
}

func (i Interpreter) VisitUnary(op string, operand ast.Ast) (value.Value, error) {
	val, err := operand.AcceptValue(i)
	if err != nil {
		return value.Nil, err
	}
	return value.Unary(op, val)
}

func (i Interpreter) VisitBinary(left ast.Ast, op string, right ast.Ast) (value.Value, error) {
	l, err := left.AcceptValue(i)
	if err != nil {
		return value.Nil, err
	}
	// short-circuit before evaluating the right side
	if lb, ok := l.(value.Bool); ok {
		if op == "&&" && !bool(lb) {
			return value.Bool(false), nil
		}
		if op == "||" && bool(lb) {
			return value.Bool(true), nil
		}
	}
	r, err := right.AcceptValue(i)
	if err != nil {
		return value.Nil, err
	}
	return l.Op(op, r)
}

func (i Interpreter) VisitCall(name string, args []ast.Ast) (value.Value, error) {
	vals := make([]value.Value, len(args))
	for j, a := range args {
		v, err := a.AcceptValue(i)
		if err != nil {
			return value.Nil, err
		}
		vals[j] = v
	}
	fn, ok := builtins[name]
	if !ok {
		return value.Nil, fmt.Errorf("unknown function: '%s'", name)
	}
	if err := fn.checkArity(name, len(vals)); err != nil {
		return value.Nil, err
	}
	return fn.apply(vals)
}

type builtin struct {
	minArgs int
	maxArgs int
	apply   func([]value.Value) (value.Value, error)
}

func (b builtin) checkArity(name string, n int) error {
	if n < b.minArgs || n > b.maxArgs {
		return fmt.Errorf("function '%s' takes %d to %d arguments but got %d", name, b.minArgs, b.maxArgs, n)
	}
	return nil
}

var builtins = map[string]builtin{
	"length": {1, 1, func(args []value.Value) (value.Value, error) {
		switch t := args[0].(type) {
		case value.String:
			return value.Int(len(t)), nil
		case value.Bytes:
			return value.Int(len(t)), nil
		case value.List:
			return value.Int(t.Len()), nil
		case value.Dict:
			return value.Int(t.Len()), nil
		}
		return value.Nil, fmt.Errorf("length not defined on %s", value.TypeName(args[0]))
	}},
	"type": {1, 1, func(args []value.Value) (value.Value, error) {
		return value.String(value.TypeName(args[0])), nil
	}},
	"keys": {1, 1, func(args []value.Value) (value.Value, error) {
		d, ok := args[0].(value.Dict)
		if !ok {
			return value.Nil, fmt.Errorf("keys not defined on %s", value.TypeName(args[0]))
		}
		return value.NewList(d.Keys()...), nil
	}},
	"values": {1, 1, func(args []value.Value) (value.Value, error) {
		d, ok := args[0].(value.Dict)
		if !ok {
			return value.Nil, fmt.Errorf("values not defined on %s", value.TypeName(args[0]))
		}
		return value.NewList(d.Vals()...), nil
	}},
	"contains": {2, 2, func(args []value.Value) (value.Value, error) {
		switch t := args[0].(type) {
		case value.List:
			for _, v := range t.Values() {
				if v.Equal(args[1]) {
					return value.Bool(true), nil
				}
			}
			return value.Bool(false), nil
		case value.Dict:
			_, ok := t.GetKey(args[1])
			return value.Bool(ok), nil
		case value.String:
			s, ok := args[1].(value.String)
			if !ok {
				return value.Nil, fmt.Errorf("contains on a string needs a string argument")
			}
			return value.Bool(strings.Contains(string(t), string(s))), nil
		}
		return value.Nil, fmt.Errorf("contains not defined on %s", value.TypeName(args[0]))
	}},
	"floor": {1, 1, mathFn(math.Floor)},
	"ceil":  {1, 1, mathFn(math.Ceil)},
	"round": {1, 1, mathFn(math.Round)},
	"abs": {1, 1, func(args []value.Value) (value.Value, error) {
		switch t := args[0].(type) {
		case value.Int:
			if t < 0 {
				return value.Unary("-", t)
			}
			return t, nil
		case value.UInt:
			return t, nil
		case value.Double:
			return value.Double(math.Abs(float64(t))), nil
		}
		return value.Nil, fmt.Errorf("abs not defined on %s", value.TypeName(args[0]))
	}},
}

// mathFn lifts a float function over the numeric variants; integers pass
// through unchanged since they are already integral.
func mathFn(f func(float64) float64) func([]value.Value) (value.Value, error) {
	return func(args []value.Value) (value.Value, error) {
		switch t := args[0].(type) {
		case value.Int:
			return t, nil
		case value.UInt:
			return t, nil
		case value.Double:
			return value.Double(f(float64(t))), nil
		}
		return value.Nil, fmt.Errorf("not defined on %s", value.TypeName(args[0]))
	}
}
