package operators

import (
	"fmt"
	"io"
	"os"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"recq/engine/ast"
	"recq/lib/errs"
	"recq/lib/value"
)

// Class describes the memory and emission behavior of an operator so the
// pipeline can reason about buffering and early termination.
type Class uint8

const (
	// Pure operators hold no state across records and emit zero or one
	// output per input.
	Pure Class = iota
	// StatefulBounded operators hold O(1) state (counters, the previous
	// record) and may emit mid-stream.
	StatefulBounded
	// Terminal operators buffer until upstream end-of-stream and emit
	// only while draining.
	Terminal
)

type Signature struct {
	Name    string
	Class   Class
	MinArgs int
	MaxArgs int
}

// Stream is a pull iterator of records. Next returns io.EOF after the
// last record; Close cancels the upstream without draining it and must be
// idempotent.
type Stream interface {
	Next() (value.Value, error)
	Close()
}

// Deps carries the ambient collaborators a stage may need. Log receives
// soft-drop diagnostics; OpenSink opens the side sink for tee; MaxBuffer
// caps the record count a terminal operator may hold.
type Deps struct {
	Log       *zap.Logger
	OpenSink  func(path string) (io.WriteCloser, error)
	MaxBuffer int
}

// DefaultMaxBuffer caps terminal-operator buffers; exceeding it surfaces
// ResourceExhausted rather than unbounded growth.
const DefaultMaxBuffer = 1 << 22

func DefaultDeps() Deps {
	return Deps{
		Log:       zap.NewNop(),
		OpenSink:  func(path string) (io.WriteCloser, error) { return os.Create(path) },
		MaxBuffer: DefaultMaxBuffer,
	}
}

// Operator is a factory for pipeline stages. One Operator is registered
// per name; New is called once per occurrence in a query so stages never
// share state.
type Operator interface {
	Signature() Signature
	New(args []ast.Ast, deps Deps) (Stage, error)
}

// Stage is one instantiated pipeline element: Open wires it to its
// upstream and returns its output stream.
type Stage interface {
	Open(up Stream) Stream
}

var registry = make(map[string]Operator)

// Register adds an operator under its signature name. It is called from
// init functions; a duplicate name is a programmer error.
func Register(op Operator) error {
	name := op.Signature().Name
	if _, ok := registry[name]; ok {
		return fmt.Errorf("can not register operator: name '%s' already taken", name)
	}
	registry[name] = op
	return nil
}

// Locate resolves a pipeline stage name.
func Locate(name string) (Operator, error) {
	op, ok := registry[name]
	if !ok {
		return nil, &errs.UnknownOperator{Name: name}
	}
	return op, nil
}

// Names lists registered operator names for diagnostics.
func Names() []string {
	names := lo.Keys(registry)
	slices.Sort(names)
	return names
}

func checkArity(sig Signature, args []ast.Ast) error {
	if len(args) < sig.MinArgs || len(args) > sig.MaxArgs {
		return &errs.UsageError{Msg: fmt.Sprintf(
			"operator '%s' takes %d to %d arguments but got %d",
			sig.Name, sig.MinArgs, sig.MaxArgs, len(args))}
	}
	return nil
}

// staticInt evaluates an argument that must be a non-negative integer
// constant, like the n of limit(n).
func staticInt(name string, arg ast.Ast) (int, error) {
	v, err := evalStatic(arg)
	if err != nil {
		return 0, err
	}
	n, ok := v.(value.Int)
	if !ok || n < 0 {
		return 0, &errs.UsageError{Msg: fmt.Sprintf("operator '%s' needs a non-negative integer argument, got %s", name, v.String())}
	}
	return int(n), nil
}

// staticString evaluates an argument that must be a string constant,
// like the path of tee(path).
func staticString(name string, arg ast.Ast) (string, error) {
	v, err := evalStatic(arg)
	if err != nil {
		return "", err
	}
	s, ok := v.(value.String)
	if !ok {
		return "", &errs.UsageError{Msg: fmt.Sprintf("operator '%s' needs a string argument, got %s", name, v.String())}
	}
	return string(s), nil
}
