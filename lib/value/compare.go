package value

import (
	"bytes"
	"math"
	"math/big"
)

// rank fixes the cross-variant order used by Compare: Nil < Bool <
// Int/UInt < Double < Char < String < Bytes < List < Dict. Int and UInt
// share a rank and compare numerically.
func rank(v Value) int {
	switch v.(type) {
	case nil_:
		return 0
	case Bool:
		return 1
	case Int, UInt:
		return 2
	case Double:
		return 3
	case Char:
		return 4
	case String:
		return 5
	case Bytes:
		return 6
	case List:
		return 7
	case Dict:
		return 8
	}
	return 9
}

// Compare is the canonical total order over Values used by sort-like
// operators. It returns -1, 0 or 1. NaN sorts after every other Double.
func Compare(a, b Value) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return sign(ra - rb)
	}
	switch av := a.(type) {
	case nil_:
		return 0
	case Bool:
		bv := b.(Bool)
		switch {
		case av == bv:
			return 0
		case !bool(av):
			return -1
		}
		return 1
	case Int:
		return compareNumeric(a, b)
	case UInt:
		return compareNumeric(a, b)
	case Double:
		bv := b.(Double)
		an, bn := math.IsNaN(float64(av)), math.IsNaN(float64(bv))
		switch {
		case an && bn:
			return 0
		case an:
			return 1
		case bn:
			return -1
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case Char:
		bv := b.(Char)
		return sign(int(av) - int(bv))
	case String:
		bv := b.(String)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case Bytes:
		return bytes.Compare(av, b.(Bytes))
	case List:
		bv := b.(List)
		n := av.Len()
		if bv.Len() < n {
			n = bv.Len()
		}
		for i := 0; i < n; i++ {
			x, _ := av.At(i)
			y, _ := bv.At(i)
			if c := Compare(x, y); c != 0 {
				return c
			}
		}
		return sign(av.Len() - bv.Len())
	case Dict:
		bv := b.(Dict)
		n := av.Len()
		if bv.Len() < n {
			n = bv.Len()
		}
		ap, bp := av.Pairs(), bv.Pairs()
		for i := 0; i < n; i++ {
			if c := Compare(ap[i].Key, bp[i].Key); c != 0 {
				return c
			}
			if c := Compare(ap[i].Val, bp[i].Val); c != 0 {
				return c
			}
		}
		return sign(av.Len() - bv.Len())
	}
	return 0
}

// compareNumeric orders any mix of Int, UInt and Double numerically.
// Int/UInt pairs compare exactly; a Double operand compares via big.Float
// so that 2^64-1 and nearby doubles order correctly.
func compareNumeric(a, b Value) int {
	ai, aIsInt := a.(Int)
	au, aIsUint := a.(UInt)
	bi, bIsInt := b.(Int)
	bu, bIsUint := b.(UInt)
	switch {
	case aIsInt && bIsInt:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	case aIsUint && bIsUint:
		switch {
		case au < bu:
			return -1
		case au > bu:
			return 1
		}
		return 0
	case aIsInt && bIsUint:
		if ai < 0 {
			return -1
		}
		return compareNumeric(UInt(uint64(ai)), b)
	case aIsUint && bIsInt:
		return -compareNumeric(b, a)
	}
	// at least one Double; NaN sorts after every number
	an := isNaN(a)
	bn := isNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return 1
	case bn:
		return -1
	}
	// big.Float has no infinities either
	if ia := infSign(a); ia != 0 {
		if ia == infSign(b) {
			return 0
		}
		return ia
	}
	if ib := infSign(b); ib != 0 {
		return -ib
	}
	var x, y big.Float
	setBig(&x, a)
	setBig(&y, b)
	return x.Cmp(&y)
}

func infSign(v Value) int {
	if d, ok := v.(Double); ok {
		if math.IsInf(float64(d), 1) {
			return 1
		}
		if math.IsInf(float64(d), -1) {
			return -1
		}
	}
	return 0
}

func isNaN(v Value) bool {
	d, ok := v.(Double)
	return ok && math.IsNaN(float64(d))
}

func setBig(f *big.Float, v Value) {
	switch t := v.(type) {
	case Int:
		f.SetInt64(int64(t))
	case UInt:
		f.SetUint64(uint64(t))
	case Double:
		f.SetFloat64(float64(t))
	}
}

func sign(x int) int {
	switch {
	case x < 0:
		return -1
	case x > 0:
		return 1
	}
	return 0
}
