package ast

import (
	"recq/lib/value"
)

// Query is a parsed pipeline: a non-empty ordered list of processes
// composed with '|'.
type Query struct {
	Processes []Process
}

// Process is one pipeline stage: a named operator with zero or more
// expression arguments. Identity is the operator named "id" with no
// arguments; a bare expression stage desugars to select(expr) in the
// parser.
type Process struct {
	Name string
	Args []Ast
	// Offset is the byte offset of the stage in the query string, kept
	// for diagnostics.
	Offset int
}

// VisitorValue evaluates expression trees to values. The interpreter is
// the only production implementation; tests supply others.
type VisitorValue interface {
	VisitAtom(at AtomType, lexeme string) (value.Value, error)
	VisitVar(name string) (value.Value, error)
	VisitAt() (value.Value, error)
	VisitMember(on Ast, property string) (value.Value, error)
	VisitIndex(on Ast, index Ast) (value.Value, error)
	VisitUnary(op string, operand Ast) (value.Value, error)
	VisitBinary(left Ast, op string, right Ast) (value.Value, error)
	VisitCall(name string, args []Ast) (value.Value, error)
}

// VisitorString renders expression trees back to text.
type VisitorString interface {
	VisitAtom(at AtomType, lexeme string) string
	VisitVar(name string) string
	VisitAt() string
	VisitMember(on Ast, property string) string
	VisitIndex(on Ast, index Ast) string
	VisitUnary(op string, operand Ast) string
	VisitBinary(left Ast, op string, right Ast) string
	VisitCall(name string, args []Ast) string
}

type Ast interface {
	AcceptValue(v VisitorValue) (value.Value, error)
	AcceptString(v VisitorString) string
}

var _ Ast = Atom{}
var _ Ast = Var{}
var _ Ast = At{}
var _ Ast = Member{}
var _ Ast = Index{}
var _ Ast = Unary{}
var _ Ast = Binary{}
var _ Ast = Call{}

type AtomType uint8

const (
	AtomInt AtomType = iota
	AtomUInt
	AtomDouble
	AtomString
	AtomBool
	AtomNull
)

// Atom is a literal; Lexeme keeps the source spelling so numeric
// precision is decided at evaluation, not lexing.
type Atom struct {
	AtomType AtomType
	Lexeme   string
}

func (a Atom) AcceptValue(v VisitorValue) (value.Value, error) {
	return v.VisitAtom(a.AtomType, a.Lexeme)
}
func (a Atom) AcceptString(v VisitorString) string {
	return v.VisitAtom(a.AtomType, a.Lexeme)
}

// Var is an identifier in expression position; binding against record
// fields or builtins happens at evaluation.
type Var struct {
	Name string
}

func (r Var) AcceptValue(v VisitorValue) (value.Value, error) {
	return v.VisitVar(r.Name)
}
func (r Var) AcceptString(v VisitorString) string {
	return v.VisitVar(r.Name)
}

// At is the bare '.': the current record.
type At struct{}

func (a At) AcceptValue(v VisitorValue) (value.Value, error) {
	return v.VisitAt()
}
func (a At) AcceptString(v VisitorString) string {
	return v.VisitAt()
}

type Member struct {
	On       Ast
	Property string
}

func (m Member) AcceptValue(v VisitorValue) (value.Value, error) {
	return v.VisitMember(m.On, m.Property)
}
func (m Member) AcceptString(v VisitorString) string {
	return v.VisitMember(m.On, m.Property)
}

type Index struct {
	On  Ast
	Idx Ast
}

func (i Index) AcceptValue(v VisitorValue) (value.Value, error) {
	return v.VisitIndex(i.On, i.Idx)
}
func (i Index) AcceptString(v VisitorString) string {
	return v.VisitIndex(i.On, i.Idx)
}

type Unary struct {
	Op      string
	Operand Ast
}

func (u Unary) AcceptValue(v VisitorValue) (value.Value, error) {
	return v.VisitUnary(u.Op, u.Operand)
}
func (u Unary) AcceptString(v VisitorString) string {
	return v.VisitUnary(u.Op, u.Operand)
}

type Binary struct {
	Left  Ast
	Op    string
	Right Ast
}

func (b Binary) AcceptValue(v VisitorValue) (value.Value, error) {
	return v.VisitBinary(b.Left, b.Op, b.Right)
}
func (b Binary) AcceptString(v VisitorString) string {
	return v.VisitBinary(b.Left, b.Op, b.Right)
}

type Call struct {
	Name string
	Args []Ast
}

func (c Call) AcceptValue(v VisitorValue) (value.Value, error) {
	return v.VisitCall(c.Name, c.Args)
}
func (c Call) AcceptString(v VisitorString) string {
	return v.VisitCall(c.Name, c.Args)
}
