package operators

import (
	"io"
	"sort"

	"recq/engine/ast"
	"recq/engine/interpreter"
	"recq/lib/errs"
	"recq/lib/value"
)

func init() {
	ops := []Operator{
		ExplodeOperator{},
		CollectOperator{},
		CountOperator{},
		aggOperator{name: "sum"},
		aggOperator{name: "min"},
		aggOperator{name: "max"},
		aggOperator{name: "avg"},
		SortOperator{},
		UniqOperator{},
		LimitOperator{},
		SkipOperator{},
	}
	for _, op := range ops {
		if err := Register(op); err != nil {
			panic(err)
		}
	}
}

// ExplodeOperator flattens containers: a List emits its elements, a Dict
// emits one [key, value] pair per entry, anything else passes through.
type ExplodeOperator struct{}

func (ExplodeOperator) Signature() Signature {
	return Signature{Name: "explode", Class: StatefulBounded}
}

func (op ExplodeOperator) New(args []ast.Ast, deps Deps) (Stage, error) {
	if err := checkArity(op.Signature(), args); err != nil {
		return nil, err
	}
	return stageFunc(func(up Stream) Stream {
		return &explodeStream{up: up}
	}), nil
}

type explodeStream struct {
	up      Stream
	pending []value.Value
}

func (s *explodeStream) Next() (value.Value, error) {
	for {
		if len(s.pending) > 0 {
			out := s.pending[0]
			s.pending = s.pending[1:]
			return out, nil
		}
		rec, err := s.up.Next()
		if err != nil {
			return value.Nil, err
		}
		switch t := rec.(type) {
		case value.List:
			if t.Len() == 0 {
				continue
			}
			s.pending = t.Values()
		case value.Dict:
			if t.Len() == 0 {
				continue
			}
			pairs := t.Pairs()
			s.pending = make([]value.Value, len(pairs))
			for i, p := range pairs {
				s.pending[i] = value.NewList(p.Key, p.Val)
			}
		default:
			return rec, nil
		}
	}
}

func (s *explodeStream) Close() { s.up.Close() }

// CollectOperator buffers the whole stream and emits a single List at
// end-of-stream.
type CollectOperator struct{}

func (CollectOperator) Signature() Signature {
	return Signature{Name: "collect", Class: Terminal}
}

func (op CollectOperator) New(args []ast.Ast, deps Deps) (Stage, error) {
	if err := checkArity(op.Signature(), args); err != nil {
		return nil, err
	}
	limit := deps.MaxBuffer
	return stageFunc(func(up Stream) Stream {
		return &collectStream{up: up, limit: limit}
	}), nil
}

type collectStream struct {
	up    Stream
	limit int
	done  bool
}

func (s *collectStream) Next() (value.Value, error) {
	if s.done {
		return value.Nil, io.EOF
	}
	var buf []value.Value
	for {
		rec, err := s.up.Next()
		if err == io.EOF {
			s.done = true
			return value.NewList(buf...), nil
		}
		if err != nil {
			return value.Nil, err
		}
		if len(buf) >= s.limit {
			return value.Nil, &errs.ResourceExhausted{Operator: "collect", Limit: s.limit}
		}
		buf = append(buf, rec)
	}
}

func (s *collectStream) Close() { s.up.Close() }

// CountOperator emits one Int: the number of upstream records.
type CountOperator struct{}

func (CountOperator) Signature() Signature {
	return Signature{Name: "count", Class: Terminal}
}

func (op CountOperator) New(args []ast.Ast, deps Deps) (Stage, error) {
	if err := checkArity(op.Signature(), args); err != nil {
		return nil, err
	}
	return stageFunc(func(up Stream) Stream {
		return &countStream{up: up}
	}), nil
}

type countStream struct {
	up   Stream
	done bool
}

func (s *countStream) Next() (value.Value, error) {
	if s.done {
		return value.Nil, io.EOF
	}
	var n int64
	for {
		_, err := s.up.Next()
		if err == io.EOF {
			s.done = true
			return value.Int(n), nil
		}
		if err != nil {
			return value.Nil, err
		}
		n++
	}
}

func (s *countStream) Close() { s.up.Close() }

// aggOperator covers the single-value numeric aggregates. Non-numeric
// records are skipped; an all-skipped stream yields Nil.
type aggOperator struct {
	name string
}

func (a aggOperator) Signature() Signature {
	return Signature{Name: a.name, Class: Terminal}
}

func (a aggOperator) New(args []ast.Ast, deps Deps) (Stage, error) {
	if err := checkArity(a.Signature(), args); err != nil {
		return nil, err
	}
	name := a.name
	return stageFunc(func(up Stream) Stream {
		return &aggStream{up: up, name: name}
	}), nil
}

type aggStream struct {
	up   Stream
	name string
	done bool
}

func isNumeric(v value.Value) bool {
	switch v.(type) {
	case value.Int, value.UInt, value.Double:
		return true
	}
	return false
}

func (s *aggStream) Next() (value.Value, error) {
	if s.done {
		return value.Nil, io.EOF
	}
	var acc value.Value = value.Nil
	var n int64
	for {
		rec, err := s.up.Next()
		if err == io.EOF {
			s.done = true
			if s.name == "avg" && n > 0 {
				return acc.Op("/", value.Int(n))
			}
			return acc, nil
		}
		if err != nil {
			return value.Nil, err
		}
		if !isNumeric(rec) {
			continue
		}
		n++
		if acc.Equal(value.Nil) && s.name != "sum" && s.name != "avg" {
			acc = rec
			continue
		}
		switch s.name {
		case "sum", "avg":
			if acc.Equal(value.Nil) {
				acc = rec
			} else if acc, err = acc.Op("+", rec); err != nil {
				return value.Nil, err
			}
		case "min":
			if less, err := rec.Op("<", acc); err != nil {
				return value.Nil, err
			} else if less == value.Bool(true) {
				acc = rec
			}
		case "max":
			if more, err := rec.Op(">", acc); err != nil {
				return value.Nil, err
			} else if more == value.Bool(true) {
				acc = rec
			}
		}
	}
}

func (s *aggStream) Close() { s.up.Close() }

// SortOperator buffers everything and emits in canonical order, or by an
// expression-derived key. The sort is stable so equal keys keep input
// order.
type SortOperator struct{}

func (SortOperator) Signature() Signature {
	return Signature{Name: "sort", Class: Terminal, MinArgs: 0, MaxArgs: 1}
}

func (op SortOperator) New(args []ast.Ast, deps Deps) (Stage, error) {
	if err := checkArity(op.Signature(), args); err != nil {
		return nil, err
	}
	var key ast.Ast
	if len(args) == 1 {
		key = args[0]
	}
	limit := deps.MaxBuffer
	return stageFunc(func(up Stream) Stream {
		return &sortStream{up: up, key: key, limit: limit}
	}), nil
}

type sortStream struct {
	up     Stream
	key    ast.Ast
	limit  int
	sorted []value.Value
	done   bool
}

func (s *sortStream) Next() (value.Value, error) {
	if !s.done {
		if err := s.drain(); err != nil {
			return value.Nil, err
		}
		s.done = true
	}
	if len(s.sorted) == 0 {
		return value.Nil, io.EOF
	}
	out := s.sorted[0]
	s.sorted = s.sorted[1:]
	return out, nil
}

func (s *sortStream) drain() error {
	type keyed struct {
		key value.Value
		rec value.Value
	}
	var buf []keyed
	for {
		rec, err := s.up.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if len(buf) >= s.limit {
			return &errs.ResourceExhausted{Operator: "sort", Limit: s.limit}
		}
		k := rec
		if s.key != nil {
			if k, err = interpreter.Eval(s.key, rec); err != nil {
				return err
			}
		}
		buf = append(buf, keyed{key: k, rec: rec})
	}
	sort.SliceStable(buf, func(i, j int) bool {
		return value.Compare(buf[i].key, buf[j].key) < 0
	})
	s.sorted = make([]value.Value, len(buf))
	for i, kv := range buf {
		s.sorted[i] = kv.rec
	}
	return nil
}

func (s *sortStream) Close() { s.up.Close() }

// UniqOperator drops records structurally equal to their predecessor.
type UniqOperator struct{}

func (UniqOperator) Signature() Signature {
	return Signature{Name: "uniq", Class: StatefulBounded}
}

func (op UniqOperator) New(args []ast.Ast, deps Deps) (Stage, error) {
	if err := checkArity(op.Signature(), args); err != nil {
		return nil, err
	}
	return stageFunc(func(up Stream) Stream {
		return &uniqStream{up: up}
	}), nil
}

type uniqStream struct {
	up   Stream
	prev value.Value
}

func (s *uniqStream) Next() (value.Value, error) {
	for {
		rec, err := s.up.Next()
		if err != nil {
			return value.Nil, err
		}
		if s.prev != nil && rec.Equal(s.prev) {
			continue
		}
		s.prev = rec
		return rec, nil
	}
}

func (s *uniqStream) Close() { s.up.Close() }

// LimitOperator emits the first n records, then cancels the upstream so
// the source stops reading.
type LimitOperator struct{}

func (LimitOperator) Signature() Signature {
	return Signature{Name: "limit", Class: StatefulBounded, MinArgs: 1, MaxArgs: 1}
}

func (op LimitOperator) New(args []ast.Ast, deps Deps) (Stage, error) {
	if err := checkArity(op.Signature(), args); err != nil {
		return nil, err
	}
	n, err := staticInt("limit", args[0])
	if err != nil {
		return nil, err
	}
	return stageFunc(func(up Stream) Stream {
		return &limitStream{up: up, left: n}
	}), nil
}

type limitStream struct {
	up   Stream
	left int
}

func (s *limitStream) Next() (value.Value, error) {
	if s.left <= 0 {
		s.up.Close()
		return value.Nil, io.EOF
	}
	rec, err := s.up.Next()
	if err != nil {
		return value.Nil, err
	}
	s.left--
	return rec, nil
}

func (s *limitStream) Close() { s.up.Close() }

// SkipOperator drops the first n records.
type SkipOperator struct{}

func (SkipOperator) Signature() Signature {
	return Signature{Name: "skip", Class: StatefulBounded, MinArgs: 1, MaxArgs: 1}
}

func (op SkipOperator) New(args []ast.Ast, deps Deps) (Stage, error) {
	if err := checkArity(op.Signature(), args); err != nil {
		return nil, err
	}
	n, err := staticInt("skip", args[0])
	if err != nil {
		return nil, err
	}
	return stageFunc(func(up Stream) Stream {
		return &skipStream{up: up, left: n}
	}), nil
}

type skipStream struct {
	up   Stream
	left int
}

func (s *skipStream) Next() (value.Value, error) {
	for s.left > 0 {
		if _, err := s.up.Next(); err != nil {
			return value.Nil, err
		}
		s.left--
	}
	return s.up.Next()
}

func (s *skipStream) Close() { s.up.Close() }
