// Package pipeline composes parsed queries into a pull-driven chain of
// operator stages and drives records through it.
//
// The chain is lazy: each stage pulls from the one before it, so
// back-pressure is local and limit(n) can cancel the source as soon as
// its quota is met. Terminal operators see upstream end-of-stream as an
// explicit io.EOF from their input, emit their buffered output while
// draining, and then report io.EOF themselves.
package pipeline

import (
	"io"

	"go.uber.org/zap"

	"recq/engine/ast"
	"recq/engine/operators"
	"recq/lib/value"
)

// State tracks one stage through its lifecycle.
type State uint8

const (
	Ready State = iota
	Running
	Draining
	Done
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Done:
		return "done"
	}
	return "invalid"
}

// Pipeline is a compiled query: a chain of operator stages ready to be
// wired to a source.
type Pipeline struct {
	query  ast.Query
	stages []operators.Stage
	deps   operators.Deps
	mons   []*monitor
}

// New resolves every process of the query against the operator registry
// and instantiates its stage. Unknown names surface UnknownOperator.
func New(query ast.Query, deps operators.Deps) (*Pipeline, error) {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.OpenSink == nil || deps.MaxBuffer == 0 {
		def := operators.DefaultDeps()
		if deps.OpenSink == nil {
			deps.OpenSink = def.OpenSink
		}
		if deps.MaxBuffer == 0 {
			deps.MaxBuffer = def.MaxBuffer
		}
	}
	stages := make([]operators.Stage, len(query.Processes))
	for i, proc := range query.Processes {
		op, err := operators.Locate(proc.Name)
		if err != nil {
			return nil, err
		}
		stage, err := op.New(proc.Args, deps)
		if err != nil {
			return nil, err
		}
		stages[i] = stage
	}
	return &Pipeline{query: query, stages: stages, deps: deps}, nil
}

func (p *Pipeline) String() string {
	return ast.QueryString(p.query)
}

// States reports the current lifecycle state of every stage, in pipeline
// order. Only meaningful after Open.
func (p *Pipeline) States() []State {
	out := make([]State, len(p.mons))
	for i, m := range p.mons {
		out[i] = m.state
	}
	return out
}

// Open wires the stages to src and returns the output end of the chain.
func (p *Pipeline) Open(src operators.Stream) operators.Stream {
	p.mons = make([]*monitor, 0, len(p.stages))
	cur := src
	var upstream *monitor
	for _, stage := range p.stages {
		m := &monitor{inner: stage.Open(cur), up: upstream}
		p.mons = append(p.mons, m)
		upstream = m
		cur = m
	}
	return cur
}

// Run pulls every record through the chain into emit. It returns the
// first stream error, or nil after a clean drain.
func (p *Pipeline) Run(src operators.Stream, emit func(value.Value) error) error {
	out := p.Open(src)
	defer out.Close()
	for {
		rec, err := out.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := emit(rec); err != nil {
			return err
		}
	}
}

// Source adapts a read function (a codec source) to the head of a
// chain. After Close it reports io.EOF without reading further, which is
// how limit's cancellation stops the input.
func Source(read func() (value.Value, error)) operators.Stream {
	return &sourceStream{read: read}
}

type sourceStream struct {
	read   func() (value.Value, error)
	closed bool
}

func (s *sourceStream) Next() (value.Value, error) {
	if s.closed {
		return value.Nil, io.EOF
	}
	return s.read()
}

func (s *sourceStream) Close() { s.closed = true }

// monitor wraps a stage's stream to observe lifecycle transitions. A
// stage is Draining when it still emits after its upstream finished;
// cancellation or end-of-stream moves it to Done.
type monitor struct {
	inner operators.Stream
	up    *monitor
	state State
}

func (m *monitor) Next() (value.Value, error) {
	if m.state == Ready {
		m.state = Running
	}
	rec, err := m.inner.Next()
	switch {
	case err == io.EOF:
		m.state = Done
	case err == nil && m.state == Running && m.up != nil && m.up.state == Done:
		m.state = Draining
	}
	return rec, err
}

func (m *monitor) Close() {
	m.state = Done
	m.inner.Close()
}
