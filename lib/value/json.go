package value

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"

	"github.com/buger/jsonparser"
)

// FromJSON parses one JSON value into a Value. Object key order is kept;
// numbers become Int when they fit, UInt for larger non-negative
// integers, Double otherwise.
func FromJSON(data []byte) (Value, error) {
	vdata, vtype, _, err := jsonparser.Get(data)
	if err != nil {
		return nil, err
	}
	return parseJSON(vdata, vtype)
}

func parseJSON(vdata []byte, vtype jsonparser.ValueType) (Value, error) {
	switch vtype {
	case jsonparser.Null:
		return Nil, nil
	case jsonparser.Boolean:
		v, err := jsonparser.ParseBoolean(vdata)
		if err != nil {
			return nil, err
		}
		return Bool(v), nil
	case jsonparser.Number:
		return parseJSONNumber(vdata)
	case jsonparser.String:
		v, err := jsonparser.ParseString(vdata)
		if err != nil {
			return nil, err
		}
		return String(v), nil
	case jsonparser.Array:
		var ret List
		var errs []error
		_, err := jsonparser.ArrayEach(vdata, func(value []byte, dataType jsonparser.ValueType, offset int, err error) {
			if err != nil {
				errs = append(errs, err)
				return
			}
			// ArrayEach strips the quotes of string elements, so value is
			// already the unescaped-ready payload
			v, err := parseJSON(value, dataType)
			if err != nil {
				errs = append(errs, err)
				return
			}
			ret.Append(v)
		})
		if err != nil {
			return nil, err
		}
		if len(errs) != 0 {
			return nil, errs[0]
		}
		return ret, nil
	case jsonparser.Object:
		var ret Dict
		err := jsonparser.ObjectEach(vdata, func(key []byte, value []byte, dataType jsonparser.ValueType, offset int) error {
			k, err := jsonparser.ParseString(key)
			if err != nil {
				return err
			}
			v, err := parseJSON(value, dataType)
			if err != nil {
				return err
			}
			ret.Set(String(k), v)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return ret, nil
	}
	return nil, fmt.Errorf("unknown json value type")
}

func parseJSONNumber(vdata []byte) (Value, error) {
	s := string(vdata)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(v), nil
	}
	if v, err := strconv.ParseUint(s, 10, 64); err == nil {
		return UInt(v), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return Double(v), nil
}

// ToJSON serializes one value as compact JSON. Lossy mappings: Bytes are
// base64 strings, Char is a one-rune string, non-string dict keys are
// stringified, NaN and infinities become null.
func ToJSON(v Value) []byte {
	var buf bytes.Buffer
	appendJSON(&buf, v, 0, -1)
	return buf.Bytes()
}

// ToJSONIndent is ToJSON with two-space indentation.
func ToJSONIndent(v Value) []byte {
	var buf bytes.Buffer
	appendJSON(&buf, v, 0, 0)
	return buf.Bytes()
}

func indent(buf *bytes.Buffer, depth int) {
	buf.WriteByte('\n')
	for i := 0; i < depth; i++ {
		buf.WriteString("  ")
	}
}

// appendJSON writes v. depth tracks nesting for the indented form;
// level < 0 means compact.
func appendJSON(buf *bytes.Buffer, v Value, depth, level int) {
	pretty := level >= 0
	switch t := v.(type) {
	case nil_:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(bool(t)))
	case Int:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case UInt:
		buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case Double:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			buf.WriteString("null")
			return
		}
		appendJSONFloat(buf, f)
	case Char:
		appendJSONString(buf, string(rune(t)))
	case String:
		appendJSONString(buf, string(t))
	case Bytes:
		appendJSONString(buf, base64.StdEncoding.EncodeToString(t))
	case List:
		if t.Len() == 0 {
			buf.WriteString("[]")
			return
		}
		buf.WriteByte('[')
		for i, e := range t.Values() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if pretty {
				indent(buf, depth+1)
			}
			appendJSON(buf, e, depth+1, level)
		}
		if pretty {
			indent(buf, depth)
		}
		buf.WriteByte(']')
	case Dict:
		if t.Len() == 0 {
			buf.WriteString("{}")
			return
		}
		buf.WriteByte('{')
		for i, p := range t.Pairs() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if pretty {
				indent(buf, depth+1)
			}
			appendJSONString(buf, keyString(p.Key))
			buf.WriteByte(':')
			if pretty {
				buf.WriteByte(' ')
			}
			appendJSON(buf, p.Val, depth+1, level)
		}
		if pretty {
			indent(buf, depth)
		}
		buf.WriteByte('}')
	}
}

// keyString stringifies a dict key for sinks that require string keys.
func keyString(k Value) string {
	if s, ok := k.(String); ok {
		return string(s)
	}
	return k.String()
}

// appendJSONFloat matches encoding/json: fixed notation for moderate
// exponents, scientific otherwise.
func appendJSONFloat(buf *bytes.Buffer, f float64) {
	abs := math.Abs(f)
	format := byte('f')
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'e'
	}
	b := strconv.AppendFloat(nil, f, format, -1, 64)
	if format == 'e' {
		// clean up e-09 to e-9
		n := len(b)
		if n >= 4 && b[n-4] == 'e' && b[n-3] == '-' && b[n-2] == '0' {
			b[n-2] = b[n-1]
			b = b[:n-1]
		}
	}
	buf.Write(b)
}

var jsonEscape = map[byte]string{
	'"':  `\"`,
	'\\': `\\`,
	'\n': `\n`,
	'\r': `\r`,
	'\t': `\t`,
}

func appendJSONString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if esc, ok := jsonEscape[c]; ok {
			buf.WriteString(s[start:i])
			buf.WriteString(esc)
			start = i + 1
			continue
		}
		if c < 0x20 {
			buf.WriteString(s[start:i])
			fmt.Fprintf(buf, `\u%04x`, c)
			start = i + 1
		}
	}
	buf.WriteString(s[start:])
	buf.WriteByte('"')
}
