package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"recq/lib/errs"
	"recq/lib/value"
)

func init() {
	register(Format{
		Name:      "toml",
		NewSource: newTOMLSource,
		NewSink:   newTOMLSink,
	})
}

// tomlSource treats the whole input as one record. The decoder hands
// back Go maps, which lose declaration order; MetaData.Keys has the
// order of appearance, so the Dict is rebuilt from both.
type tomlSource struct {
	r    io.Reader
	done bool
	fail error
}

func newTOMLSource(r io.Reader, opts Options) (Source, error) {
	return &tomlSource{r: r}, nil
}

func (s *tomlSource) Read() (value.Value, error) {
	if s.fail != nil {
		return value.Nil, s.fail
	}
	if s.done {
		s.fail = io.EOF
		return value.Nil, io.EOF
	}
	s.done = true
	var root map[string]interface{}
	md, err := toml.NewDecoder(s.r).Decode(&root)
	if err != nil {
		s.fail = &errs.ParseError{Format: "toml", Pos: -1, Msg: err.Error(), Err: err}
		return value.Nil, s.fail
	}
	order := keyOrder{}
	for _, k := range md.Keys() {
		order.note([]string(k))
	}
	v, err := fromTOML(root, nil, order)
	if err != nil {
		s.fail = &errs.ParseError{Format: "toml", Pos: -1, Msg: err.Error(), Err: err}
		return value.Nil, s.fail
	}
	return v, nil
}

// keyOrder records the first appearance position of every dotted path.
type keyOrder map[string]int

func (o keyOrder) note(path []string) {
	joined := strings.Join(path, "\x00")
	if _, ok := o[joined]; !ok {
		o[joined] = len(o)
	}
}

func (o keyOrder) at(path []string) int {
	if n, ok := o[strings.Join(path, "\x00")]; ok {
		return n
	}
	return int(^uint(0) >> 1) // unseen keys go last
}

func fromTOML(in interface{}, path []string, order keyOrder) (value.Value, error) {
	switch t := in.(type) {
	case bool:
		return value.Bool(t), nil
	case int64:
		return value.Int(t), nil
	case float64:
		return value.Double(t), nil
	case string:
		return value.String(t), nil
	case time.Time:
		return value.String(t.Format(time.RFC3339Nano)), nil
	case []interface{}:
		var out value.List
		for _, e := range t {
			v, err := fromTOML(e, path, order)
			if err != nil {
				return value.Nil, err
			}
			out.Append(v)
		}
		return out, nil
	case []map[string]interface{}:
		var out value.List
		for _, e := range t {
			v, err := fromTOML(e, path, order)
			if err != nil {
				return value.Nil, err
			}
			out.Append(v)
		}
		return out, nil
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.SliceStable(keys, func(i, j int) bool {
			return order.at(append(path, keys[i])) < order.at(append(path, keys[j]))
		})
		var out value.Dict
		for _, k := range keys {
			v, err := fromTOML(t[k], append(path, k), order)
			if err != nil {
				return value.Nil, err
			}
			out.Set(value.String(k), v)
		}
		return out, nil
	}
	return value.Nil, fmt.Errorf("unexpected toml value type %T", in)
}

// tomlSink accepts exactly one Dict record per stream; TOML has no
// framing for more.
type tomlSink struct {
	w     io.Writer
	wrote bool
}

func newTOMLSink(w io.Writer, opts Options) (Sink, error) {
	return &tomlSink{w: w}, nil
}

func (s *tomlSink) Write(v value.Value) error {
	if s.wrote {
		return &errs.SerializeError{Format: "toml", Msg: "toml output holds a single record"}
	}
	s.wrote = true
	d, ok := v.(value.Dict)
	if !ok {
		return &errs.SerializeError{Format: "toml", Msg: fmt.Sprintf("top-level value must be a dict, got %s", value.TypeName(v))}
	}
	var buf bytes.Buffer
	if err := emitTOMLTable(&buf, nil, d); err != nil {
		return err
	}
	_, err := s.w.Write(buf.Bytes())
	return err
}

func (s *tomlSink) Close() error { return nil }

// emitTOMLTable writes inline keys first, then sub-tables and arrays of
// tables, preserving pair order within each group.
func emitTOMLTable(buf *bytes.Buffer, prefix []string, d value.Dict) error {
	type sub struct {
		key string
		val value.Value
	}
	var tables, arrays []sub
	for _, p := range d.Pairs() {
		key := tomlKeyString(p.Key)
		switch t := p.Val.(type) {
		case value.Dict:
			tables = append(tables, sub{key, t})
			continue
		case value.List:
			if allDicts(t) {
				arrays = append(arrays, sub{key, t})
				continue
			}
		}
		lit, err := tomlValue(p.Val)
		if err != nil {
			return err
		}
		fmt.Fprintf(buf, "%s = %s\n", tomlKey(key), lit)
	}
	for _, sb := range tables {
		path := append(append([]string{}, prefix...), sb.key)
		fmt.Fprintf(buf, "\n[%s]\n", tomlPath(path))
		if err := emitTOMLTable(buf, path, sb.val.(value.Dict)); err != nil {
			return err
		}
	}
	for _, sb := range arrays {
		path := append(append([]string{}, prefix...), sb.key)
		for _, e := range sb.val.(value.List).Values() {
			fmt.Fprintf(buf, "\n[[%s]]\n", tomlPath(path))
			if err := emitTOMLTable(buf, path, e.(value.Dict)); err != nil {
				return err
			}
		}
	}
	return nil
}

func allDicts(l value.List) bool {
	if l.Len() == 0 {
		return false
	}
	for _, e := range l.Values() {
		if _, ok := e.(value.Dict); !ok {
			return false
		}
	}
	return true
}

// tomlValue renders a scalar, an inline array, or an inline table.
func tomlValue(v value.Value) (string, error) {
	switch t := v.(type) {
	case value.Bool:
		return strconv.FormatBool(bool(t)), nil
	case value.Int:
		return strconv.FormatInt(int64(t), 10), nil
	case value.UInt:
		if uint64(t) > math.MaxInt64 {
			return "", &errs.SerializeError{Format: "toml", Msg: fmt.Sprintf("integer %d exceeds toml's signed 64-bit range", uint64(t))}
		}
		return strconv.FormatUint(uint64(t), 10), nil
	case value.Double:
		f := float64(t)
		switch {
		case math.IsNaN(f):
			return "nan", nil
		case math.IsInf(f, 1):
			return "inf", nil
		case math.IsInf(f, -1):
			return "-inf", nil
		}
		s := strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0" // keep the float/int distinction on re-parse
		}
		return s, nil
	case value.Char:
		return tomlString(string(rune(t))), nil
	case value.String:
		return tomlString(string(t)), nil
	case value.Bytes:
		return tomlString(base64.StdEncoding.EncodeToString(t)), nil
	case value.List:
		parts := make([]string, 0, t.Len())
		for _, e := range t.Values() {
			p, err := tomlValue(e)
			if err != nil {
				return "", err
			}
			parts = append(parts, p)
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	case value.Dict:
		parts := make([]string, 0, t.Len())
		for _, p := range t.Pairs() {
			lit, err := tomlValue(p.Val)
			if err != nil {
				return "", err
			}
			parts = append(parts, fmt.Sprintf("%s = %s", tomlKey(tomlKeyString(p.Key)), lit))
		}
		return "{" + strings.Join(parts, ", ") + "}", nil
	}
	return "", &errs.SerializeError{Format: "toml", Msg: "toml has no null"}
}

func tomlKeyString(k value.Value) string {
	if s, ok := k.(value.String); ok {
		return string(s)
	}
	return k.String()
}

func tomlKey(k string) string {
	if k == "" {
		return `""`
	}
	for i := 0; i < len(k); i++ {
		c := k[i]
		if !(c == '_' || c == '-' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')) {
			return tomlString(k)
		}
	}
	return k
}

func tomlPath(path []string) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = tomlKey(p)
	}
	return strings.Join(parts, ".")
}

func tomlString(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&sb, `\u%04X`, r)
			} else {
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
