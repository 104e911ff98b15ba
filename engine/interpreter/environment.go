package interpreter

import (
	"fmt"

	"recq/lib/value"
)

// Env is a chain of lexical scopes. The base scope binds '@' to the
// current record; operators may push further scopes for their own
// bindings.
type Env struct {
	parent *Env
	table  map[string]value.Value
}

func NewEnv(parent *Env) *Env {
	return &Env{
		parent: parent,
		table:  make(map[string]value.Value),
	}
}

func (e *Env) Define(name string, v value.Value) error {
	if _, ok := e.table[name]; ok {
		return fmt.Errorf("re-defining symbol: '%s'", name)
	}
	e.table[name] = v
	return nil
}

func (e *Env) Lookup(name string) (value.Value, bool) {
	if ret, ok := e.table[name]; ok {
		return ret, true
	}
	if e.parent == nil {
		return value.Nil, false
	}
	return e.parent.Lookup(name)
}

// PushEnv creates an environment that is a child of the caller.
func (e *Env) PushEnv() *Env {
	return NewEnv(e)
}
