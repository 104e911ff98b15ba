package operators

import (
	"io"

	"go.uber.org/zap"

	"recq/engine/ast"
	"recq/engine/interpreter"
	"recq/lib/value"
)

func init() {
	ops := []Operator{
		IdOperator{},
		SelectOperator{},
		MapOperator{},
		FilterOperator{},
		TeeOperator{},
	}
	for _, op := range ops {
		if err := Register(op); err != nil {
			panic(err)
		}
	}
}

func evalStatic(tree ast.Ast) (value.Value, error) {
	return interpreter.Eval(tree, value.Nil)
}

// IdOperator passes every record through unchanged.
type IdOperator struct{}

func (IdOperator) Signature() Signature {
	return Signature{Name: "id", Class: Pure}
}

func (IdOperator) New(args []ast.Ast, deps Deps) (Stage, error) {
	if err := checkArity(Signature{Name: "id"}, args); err != nil {
		return nil, err
	}
	return stageFunc(func(up Stream) Stream { return up }), nil
}

type stageFunc func(up Stream) Stream

func (f stageFunc) Open(up Stream) Stream { return f(up) }

// SelectOperator emits expr(record) when it evaluates cleanly to a
// non-Nil value and drops the record otherwise. Evaluation errors are
// soft: the record is dropped with a diagnostic.
type SelectOperator struct{}

func (SelectOperator) Signature() Signature {
	return Signature{Name: "select", Class: Pure, MinArgs: 1, MaxArgs: 1}
}

func (op SelectOperator) New(args []ast.Ast, deps Deps) (Stage, error) {
	if err := checkArity(op.Signature(), args); err != nil {
		return nil, err
	}
	expr := args[0]
	log := deps.Log
	return stageFunc(func(up Stream) Stream {
		return &selectStream{up: up, expr: expr, log: log}
	}), nil
}

type selectStream struct {
	up   Stream
	expr ast.Ast
	log  *zap.Logger
}

func (s *selectStream) Next() (value.Value, error) {
	for {
		rec, err := s.up.Next()
		if err != nil {
			return value.Nil, err
		}
		out, err := interpreter.Eval(s.expr, rec)
		if err != nil {
			s.log.Debug("select dropped record", zap.Error(err))
			continue
		}
		if out.Equal(value.Nil) {
			continue
		}
		return out, nil
	}
}

func (s *selectStream) Close() { s.up.Close() }

// MapOperator emits expr(record) unconditionally; an evaluation error
// fails the stream.
type MapOperator struct{}

func (MapOperator) Signature() Signature {
	return Signature{Name: "map", Class: Pure, MinArgs: 1, MaxArgs: 1}
}

func (op MapOperator) New(args []ast.Ast, deps Deps) (Stage, error) {
	if err := checkArity(op.Signature(), args); err != nil {
		return nil, err
	}
	expr := args[0]
	return stageFunc(func(up Stream) Stream {
		return &mapStream{up: up, expr: expr}
	}), nil
}

type mapStream struct {
	up   Stream
	expr ast.Ast
}

func (s *mapStream) Next() (value.Value, error) {
	rec, err := s.up.Next()
	if err != nil {
		return value.Nil, err
	}
	return interpreter.Eval(s.expr, rec)
}

func (s *mapStream) Close() { s.up.Close() }

// FilterOperator emits the record unchanged when expr(record) is truthy.
// Like select, evaluation errors drop the record softly.
type FilterOperator struct{}

func (FilterOperator) Signature() Signature {
	return Signature{Name: "filter", Class: Pure, MinArgs: 1, MaxArgs: 1}
}

func (op FilterOperator) New(args []ast.Ast, deps Deps) (Stage, error) {
	if err := checkArity(op.Signature(), args); err != nil {
		return nil, err
	}
	expr := args[0]
	log := deps.Log
	return stageFunc(func(up Stream) Stream {
		return &filterStream{up: up, expr: expr, log: log}
	}), nil
}

type filterStream struct {
	up   Stream
	expr ast.Ast
	log  *zap.Logger
}

func (s *filterStream) Next() (value.Value, error) {
	for {
		rec, err := s.up.Next()
		if err != nil {
			return value.Nil, err
		}
		keep, err := interpreter.Eval(s.expr, rec)
		if err != nil {
			s.log.Debug("filter dropped record", zap.Error(err))
			continue
		}
		if value.Truthy(keep) {
			return rec, nil
		}
	}
}

func (s *filterStream) Close() { s.up.Close() }

// TeeOperator passes records through and additionally writes each one as
// a JSON line to the given path.
type TeeOperator struct{}

func (TeeOperator) Signature() Signature {
	return Signature{Name: "tee", Class: Pure, MinArgs: 1, MaxArgs: 1}
}

func (op TeeOperator) New(args []ast.Ast, deps Deps) (Stage, error) {
	if err := checkArity(op.Signature(), args); err != nil {
		return nil, err
	}
	path, err := staticString("tee", args[0])
	if err != nil {
		return nil, err
	}
	w, err := deps.OpenSink(path)
	if err != nil {
		return nil, err
	}
	return stageFunc(func(up Stream) Stream {
		return &teeStream{up: up, w: w}
	}), nil
}

type teeStream struct {
	up Stream
	w  io.WriteCloser
}

func (s *teeStream) Next() (value.Value, error) {
	rec, err := s.up.Next()
	if err != nil {
		if err == io.EOF {
			s.w.Close()
		}
		return value.Nil, err
	}
	line := append(value.ToJSON(rec), '\n')
	if _, err := s.w.Write(line); err != nil {
		return value.Nil, err
	}
	return rec, nil
}

func (s *teeStream) Close() {
	s.w.Close()
	s.up.Close()
}
