package value

import (
	"fmt"
	"math"

	"recq/lib/errs"
)

func route(l Value, opt string, other Value) (Value, error) {
	switch opt {
	case "+":
		return add(l, other)
	case "-":
		return sub(l, other)
	case "*":
		return mul(l, other)
	case "/":
		return div(l, other)
	case "%":
		return modulo(l, other)
	case "==":
		return Bool(l.Equal(other)), nil
	case "!=":
		return Bool(!l.Equal(other)), nil
	case "<", "<=", ">", ">=":
		return cmp(l, opt, other)
	case "&&":
		return and(l, other)
	case "||":
		return or(l, other)
	case "[]":
		return index(l, other)
	}
	return Nil, &errs.TypeMismatch{Op: opt, Msg: "operator not defined"}
}

func mismatch(op string, l, r Value) error {
	return &errs.TypeMismatch{
		Op:  op,
		Msg: fmt.Sprintf("not defined between %s and %s", TypeName(l), TypeName(r)),
	}
}

// num normalizes the three numeric variants for pairwise arithmetic.
// kind is 0 for signed, 1 for unsigned, 2 for double.
func num(v Value) (i int64, u uint64, f float64, kind int, ok bool) {
	switch t := v.(type) {
	case Int:
		return int64(t), 0, 0, 0, true
	case UInt:
		return 0, uint64(t), 0, 1, true
	case Double:
		return 0, 0, float64(t), 2, true
	}
	return 0, 0, 0, 0, false
}

func toF(v Value) float64 {
	switch t := v.(type) {
	case Int:
		return float64(t)
	case UInt:
		return float64(t)
	case Double:
		return float64(t)
	}
	panic("toF on non-number")
}

// arith applies one of + - * to a numeric pair under the widening policy:
// anything with a Double widens to Double; Int/UInt stay integral, and a
// mixed signed/unsigned pair that does not fit either width promotes to
// Double instead of wrapping.
func arith(op string, l, r Value) (Value, error) {
	li, lu, _, lk, ok := num(l)
	if !ok {
		return Nil, mismatch(op, l, r)
	}
	ri, ru, _, rk, ok := num(r)
	if !ok {
		return Nil, mismatch(op, l, r)
	}
	if lk == 2 || rk == 2 {
		lf, rf := toF(l), toF(r)
		switch op {
		case "+":
			return Double(lf + rf), nil
		case "-":
			return Double(lf - rf), nil
		case "*":
			return Double(lf * rf), nil
		}
	}
	if lk == 0 && rk == 0 {
		switch op {
		case "+":
			if sum, ok := addI64(li, ri); ok {
				return Int(sum), nil
			}
		case "-":
			if d, ok := addI64(li, -ri); ri != math.MinInt64 && ok {
				return Int(d), nil
			}
		case "*":
			if p, ok := mulI64(li, ri); ok {
				return Int(p), nil
			}
		}
		return Double(applyF(op, float64(li), float64(ri))), nil
	}
	if lk == 1 && rk == 1 {
		switch op {
		case "+":
			if lu+ru >= lu {
				return UInt(lu + ru), nil
			}
		case "-":
			if lu >= ru {
				return UInt(lu - ru), nil
			}
		case "*":
			if ru == 0 || lu*ru/ru == lu {
				return UInt(lu * ru), nil
			}
		}
		return Double(applyF(op, float64(lu), float64(ru))), nil
	}
	// mixed signed/unsigned: compute in whichever integral domain holds
	// both operands, else promote to Double
	if lk == 0 {
		if ru <= math.MaxInt64 {
			return arith(op, Int(li), Int(int64(ru)))
		}
		if li >= 0 {
			return arith(op, UInt(uint64(li)), UInt(ru))
		}
	} else {
		if lu <= math.MaxInt64 {
			return arith(op, Int(int64(lu)), Int(ri))
		}
		if ri >= 0 {
			return arith(op, UInt(lu), UInt(uint64(ri)))
		}
	}
	return Double(applyF(op, toF(l), toF(r))), nil
}

func applyF(op string, l, r float64) float64 {
	switch op {
	case "+":
		return l + r
	case "-":
		return l - r
	case "*":
		return l * r
	}
	panic("bad arith op " + op)
}

func addI64(a, b int64) (int64, bool) {
	s := a + b
	if (a > 0 && b > 0 && s < 0) || (a < 0 && b < 0 && s >= 0) {
		return 0, false
	}
	return s, true
}

func mulI64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	p := a * b
	if p/b != a {
		return 0, false
	}
	return p, true
}

func add(l, r Value) (Value, error) {
	if ls, ok := l.(String); ok {
		if rs, ok := r.(String); ok {
			return ls + rs, nil
		}
	}
	return arith("+", l, r)
}

func sub(l, r Value) (Value, error) { return arith("-", l, r) }
func mul(l, r Value) (Value, error) { return arith("*", l, r) }

// div always yields a Double, mirroring the query language's single
// division operator.
func div(l, r Value) (Value, error) {
	_, _, _, _, lok := num(l)
	_, _, _, _, rok := num(r)
	if !lok || !rok {
		return Nil, mismatch("/", l, r)
	}
	rf := toF(r)
	if rf == 0 {
		return Nil, &errs.TypeMismatch{Op: "/", Msg: "division by zero"}
	}
	return Double(toF(l) / rf), nil
}

func modulo(l, r Value) (Value, error) {
	li, ok := l.(Int)
	if !ok {
		return Nil, mismatch("%", l, r)
	}
	ri, ok := r.(Int)
	if !ok {
		return Nil, mismatch("%", l, r)
	}
	if ri == 0 {
		return Nil, &errs.TypeMismatch{Op: "%", Msg: "division by zero"}
	}
	return li % ri, nil
}

func cmp(l Value, op string, r Value) (Value, error) {
	_, _, _, _, lok := num(l)
	_, _, _, _, rok := num(r)
	var c int
	switch {
	case lok && rok:
		c = compareNumeric(l, r)
	default:
		ls, lsok := l.(String)
		rs, rsok := r.(String)
		if !lsok || !rsok {
			return Nil, mismatch(op, l, r)
		}
		switch {
		case ls < rs:
			c = -1
		case ls > rs:
			c = 1
		}
	}
	switch op {
	case "<":
		return Bool(c < 0), nil
	case "<=":
		return Bool(c <= 0), nil
	case ">":
		return Bool(c > 0), nil
	case ">=":
		return Bool(c >= 0), nil
	}
	panic("bad cmp op " + op)
}

func and(l, r Value) (Value, error) {
	lb, ok := l.(Bool)
	if !ok {
		return Nil, mismatch("&&", l, r)
	}
	rb, ok := r.(Bool)
	if !ok {
		return Nil, mismatch("&&", l, r)
	}
	return lb && rb, nil
}

func or(l, r Value) (Value, error) {
	lb, ok := l.(Bool)
	if !ok {
		return Nil, mismatch("||", l, r)
	}
	rb, ok := r.(Bool)
	if !ok {
		return Nil, mismatch("||", l, r)
	}
	return lb || rb, nil
}

// index implements v[k]. Missing keys and out-of-range or mistyped
// indices yield Nil so that select() can treat them as soft misses.
func index(l, r Value) (Value, error) {
	switch t := l.(type) {
	case List:
		i, ok := r.(Int)
		if !ok {
			return Nil, nil
		}
		if int(i) < 0 || int(i) >= t.Len() {
			return Nil, nil
		}
		v, _ := t.At(int(i))
		return v, nil
	case Dict:
		if v, ok := t.GetKey(r); ok {
			return v, nil
		}
		return Nil, nil
	}
	return Nil, nil
}
