package value

import (
	"fmt"
	"math"

	"recq/lib/errs"
)

// Unary applies ! or - to a value.
func Unary(op string, v Value) (Value, error) {
	switch op {
	case "!":
		b, ok := v.(Bool)
		if !ok {
			return Nil, &errs.TypeMismatch{Op: "!", Msg: fmt.Sprintf("not defined on %s", TypeName(v))}
		}
		return !b, nil
	case "-":
		switch t := v.(type) {
		case Int:
			if t == math.MinInt64 {
				return Double(-float64(t)), nil
			}
			return -t, nil
		case UInt:
			if uint64(t) <= math.MaxInt64 {
				return Int(-int64(t)), nil
			}
			return Double(-float64(t)), nil
		case Double:
			return -t, nil
		}
		return Nil, &errs.TypeMismatch{Op: "-", Msg: fmt.Sprintf("not defined on %s", TypeName(v))}
	}
	return Nil, &errs.TypeMismatch{Op: op, Msg: "unknown unary operator"}
}
