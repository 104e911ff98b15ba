package value

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is the uniform in-memory record representation shared by every
// codec and operator. It is a closed sum: the variants below are the only
// implementations.
type Value interface {
	isValue()
	Equal(v Value) bool
	Op(opt string, other Value) (Value, error)
	String() string
	Clone() Value
}

var _ Value = Nil
var _ Value = Bool(true)
var _ Value = Int(0)
var _ Value = UInt(0)
var _ Value = Double(0)
var _ Value = Char('x')
var _ Value = String("")
var _ Value = Bytes(nil)
var _ Value = List{}
var _ Value = Dict{}

type nil_ struct{}

// Nil represents both null and absence.
var Nil = nil_{}

func (n nil_) isValue() {}
func (n nil_) Equal(v Value) bool {
	_, ok := v.(nil_)
	return ok
}
func (n nil_) String() string { return "null" }
func (n nil_) Clone() Value   { return Nil }
func (n nil_) Op(opt string, other Value) (Value, error) {
	return route(n, opt, other)
}

type Bool bool

func (b Bool) isValue() {}
func (b Bool) Equal(v Value) bool {
	o, ok := v.(Bool)
	return ok && o == b
}
func (b Bool) String() string { return strconv.FormatBool(bool(b)) }
func (b Bool) Clone() Value   { return b }
func (b Bool) Op(opt string, other Value) (Value, error) {
	return route(b, opt, other)
}

type Int int64

func (i Int) isValue() {}
func (i Int) Equal(v Value) bool {
	switch o := v.(type) {
	case Int:
		return o == i
	case UInt:
		return i >= 0 && uint64(i) == uint64(o)
	default:
		return false
	}
}
func (i Int) String() string { return strconv.FormatInt(int64(i), 10) }
func (i Int) Clone() Value   { return i }
func (i Int) Op(opt string, other Value) (Value, error) {
	return route(i, opt, other)
}

// UInt holds unsigned integers so that values above 2^63-1 round-trip
// losslessly. Codecs produce UInt only when the wire value does not fit
// in Int.
type UInt uint64

func (u UInt) isValue() {}
func (u UInt) Equal(v Value) bool {
	switch o := v.(type) {
	case UInt:
		return o == u
	case Int:
		return o >= 0 && uint64(o) == uint64(u)
	default:
		return false
	}
}
func (u UInt) String() string { return strconv.FormatUint(uint64(u), 10) }
func (u UInt) Clone() Value   { return u }
func (u UInt) Op(opt string, other Value) (Value, error) {
	return route(u, opt, other)
}

type Double float64

func (d Double) isValue() {}
func (d Double) Equal(v Value) bool {
	// NaN != NaN per IEEE; this falls out of the == below.
	o, ok := v.(Double)
	return ok && o == d
}
func (d Double) String() string { return strconv.FormatFloat(float64(d), 'g', -1, 64) }
func (d Double) Clone() Value   { return d }
func (d Double) Op(opt string, other Value) (Value, error) {
	return route(d, opt, other)
}

// Char is a single Unicode code point, kept apart from String for formats
// that distinguish the two.
type Char rune

func (c Char) isValue() {}
func (c Char) Equal(v Value) bool {
	o, ok := v.(Char)
	return ok && o == c
}
func (c Char) String() string { return string(rune(c)) }
func (c Char) Clone() Value   { return c }
func (c Char) Op(opt string, other Value) (Value, error) {
	return route(c, opt, other)
}

type String string

func (s String) isValue() {}
func (s String) Equal(v Value) bool {
	o, ok := v.(String)
	return ok && o == s
}
func (s String) String() string { return string(s) }
func (s String) Clone() Value   { return s }
func (s String) Op(opt string, other Value) (Value, error) {
	return route(s, opt, other)
}

type Bytes []byte

func (b Bytes) isValue() {}
func (b Bytes) Equal(v Value) bool {
	o, ok := v.(Bytes)
	if !ok || len(o) != len(b) {
		return false
	}
	for i := range b {
		if b[i] != o[i] {
			return false
		}
	}
	return true
}
func (b Bytes) String() string { return fmt.Sprintf("b%q", string(b)) }
func (b Bytes) Clone() Value {
	c := make(Bytes, len(b))
	copy(c, b)
	return c
}
func (b Bytes) Op(opt string, other Value) (Value, error) {
	return route(b, opt, other)
}

type List struct {
	values []Value
}

func NewList(values ...Value) List {
	return List{values: values}
}

func (l List) isValue() {}
func (l List) Equal(v Value) bool {
	o, ok := v.(List)
	if !ok || len(o.values) != len(l.values) {
		return false
	}
	for i, lv := range l.values {
		if !lv.Equal(o.values[i]) {
			return false
		}
	}
	return true
}
func (l List) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range l.values {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(v.String())
	}
	sb.WriteByte(']')
	return sb.String()
}
func (l List) Clone() Value {
	c := make([]Value, len(l.values))
	for i, v := range l.values {
		c[i] = v.Clone()
	}
	return List{values: c}
}
func (l List) Op(opt string, other Value) (Value, error) {
	return route(l, opt, other)
}

func (l List) Len() int { return len(l.values) }

func (l List) At(i int) (Value, error) {
	if i < 0 || i >= len(l.values) {
		return Nil, fmt.Errorf("index %d out of range for list of length %d", i, len(l.values))
	}
	return l.values[i], nil
}

func (l *List) Append(v ...Value) {
	l.values = append(l.values, v...)
}

func (l List) Values() []Value { return l.values }

// Pair is one entry of a Dict. Keys are full Values: most formats use
// strings but CBOR and MessagePack allow anything.
type Pair struct {
	Key Value
	Val Value
}

// Dict is an insertion-ordered sequence of key-value pairs. Duplicate keys
// are kept when the source format allowed them; lookups return the first
// match.
type Dict struct {
	pairs []Pair
}

func NewDict(pairs ...Pair) Dict {
	return Dict{pairs: pairs}
}

// NewDictFromKV builds a Dict with string keys, pairing keys[i] with
// vals[i]. Convenience for codecs, builtins and tests.
func NewDictFromKV(keys []string, vals []Value) Dict {
	d := Dict{pairs: make([]Pair, 0, len(keys))}
	for i, k := range keys {
		d.pairs = append(d.pairs, Pair{String(k), vals[i]})
	}
	return d
}

func (d Dict) isValue() {}
func (d Dict) Equal(v Value) bool {
	o, ok := v.(Dict)
	if !ok || len(o.pairs) != len(d.pairs) {
		return false
	}
	for i, p := range d.pairs {
		if !p.Key.Equal(o.pairs[i].Key) || !p.Val.Equal(o.pairs[i].Val) {
			return false
		}
	}
	return true
}
func (d Dict) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, p := range d.pairs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.Key.String())
		sb.WriteString(": ")
		sb.WriteString(p.Val.String())
	}
	sb.WriteByte('}')
	return sb.String()
}
func (d Dict) Clone() Value {
	c := make([]Pair, len(d.pairs))
	for i, p := range d.pairs {
		c[i] = Pair{p.Key.Clone(), p.Val.Clone()}
	}
	return Dict{pairs: c}
}
func (d Dict) Op(opt string, other Value) (Value, error) {
	return route(d, opt, other)
}

func (d Dict) Len() int { return len(d.pairs) }

// Get returns the value of the first pair whose key is String(name).
func (d Dict) Get(name string) (Value, bool) {
	for _, p := range d.pairs {
		if k, ok := p.Key.(String); ok && string(k) == name {
			return p.Val, true
		}
	}
	return Nil, false
}

// GetKey returns the value of the first pair whose key equals k.
func (d Dict) GetKey(k Value) (Value, bool) {
	for _, p := range d.pairs {
		if p.Key.Equal(k) {
			return p.Val, true
		}
	}
	return Nil, false
}

// Set appends a new pair; it does not replace an existing key.
func (d *Dict) Set(k, v Value) {
	d.pairs = append(d.pairs, Pair{k, v})
}

func (d Dict) Pairs() []Pair { return d.pairs }

// Keys returns the keys in insertion order.
func (d Dict) Keys() []Value {
	ks := make([]Value, len(d.pairs))
	for i, p := range d.pairs {
		ks[i] = p.Key
	}
	return ks
}

// Vals returns the values in insertion order.
func (d Dict) Vals() []Value {
	vs := make([]Value, len(d.pairs))
	for i, p := range d.pairs {
		vs[i] = p.Val
	}
	return vs
}

// TypeName reports the variant name used in diagnostics and by the
// 'type' builtin.
func TypeName(v Value) string {
	switch v.(type) {
	case nil_:
		return "null"
	case Bool:
		return "bool"
	case Int:
		return "int"
	case UInt:
		return "uint"
	case Double:
		return "double"
	case Char:
		return "char"
	case String:
		return "string"
	case Bytes:
		return "bytes"
	case List:
		return "list"
	case Dict:
		return "dict"
	}
	return fmt.Sprintf("%T", v)
}

// Truthy implements the truthiness rule of the query language: Bool true,
// any non-zero number, and non-empty String/Bytes/List/Dict are truthy.
// Nil, false, zero (including 0.0 and -0.0) and empty containers are not.
func Truthy(v Value) bool {
	switch t := v.(type) {
	case nil_:
		return false
	case Bool:
		return bool(t)
	case Int:
		return t != 0
	case UInt:
		return t != 0
	case Double:
		return t != 0 // -0.0 == 0 in IEEE, so -0.0 is falsy
	case Char:
		return true
	case String:
		return len(t) > 0
	case Bytes:
		return len(t) > 0
	case List:
		return t.Len() > 0
	case Dict:
		return t.Len() > 0
	}
	return false
}
