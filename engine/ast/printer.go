package ast

import (
	"fmt"
	"strings"
)

// Printer renders an Ast back to query-language text, used in
// diagnostics and the pipeline's String().
type Printer struct{}

var _ VisitorString = Printer{}

func ToString(tree Ast) string {
	return tree.AcceptString(Printer{})
}

// QueryString renders a whole pipeline.
func QueryString(q Query) string {
	stages := make([]string, len(q.Processes))
	for i, p := range q.Processes {
		if len(p.Args) == 0 {
			stages[i] = p.Name
			continue
		}
		args := make([]string, len(p.Args))
		for j, a := range p.Args {
			args[j] = ToString(a)
		}
		stages[i] = fmt.Sprintf("%s(%s)", p.Name, strings.Join(args, ", "))
	}
	return strings.Join(stages, " | ")
}

func (p Printer) VisitAtom(at AtomType, lexeme string) string {
	if at == AtomString {
		return fmt.Sprintf("%q", lexeme)
	}
	return lexeme
}

func (p Printer) VisitVar(name string) string { return name }

func (p Printer) VisitAt() string { return "." }

func (p Printer) VisitMember(on Ast, property string) string {
	if _, ok := on.(At); ok {
		return "." + property
	}
	return fmt.Sprintf("%s.%s", on.AcceptString(p), property)
}

func (p Printer) VisitIndex(on Ast, index Ast) string {
	return fmt.Sprintf("%s[%s]", on.AcceptString(p), index.AcceptString(p))
}

func (p Printer) VisitUnary(op string, operand Ast) string {
	return fmt.Sprintf("%s%s", op, operand.AcceptString(p))
}

func (p Printer) VisitBinary(left Ast, op string, right Ast) string {
	return fmt.Sprintf("(%s %s %s)", left.AcceptString(p), op, right.AcceptString(p))
}

func (p Printer) VisitCall(name string, args []Ast) string {
	strs := make([]string, len(args))
	for i, a := range args {
		strs[i] = a.AcceptString(p)
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(strs, ", "))
}
