package codec

import (
	"encoding/json"
	"io"
	"sort"

	"github.com/hjson/hjson-go/v4"

	"recq/lib/errs"
	"recq/lib/value"
)

func init() {
	register(Format{
		Name:      "hjson",
		NewSource: newHJSONSource,
		// HJSON is parse-only: its sink writes standard JSON
		NewSink: newJSONSink,
	})
}

// hjsonSource treats the whole input as a single HJSON document; the
// format has no framing for multiple top-level values.
type hjsonSource struct {
	r    io.Reader
	done bool
	fail error
}

func newHJSONSource(r io.Reader, opts Options) (Source, error) {
	return &hjsonSource{r: r}, nil
}

func (s *hjsonSource) Read() (value.Value, error) {
	if s.fail != nil {
		return value.Nil, s.fail
	}
	if s.done {
		s.fail = io.EOF
		return value.Nil, io.EOF
	}
	s.done = true
	data, err := io.ReadAll(s.r)
	if err != nil {
		s.fail = &errs.ParseError{Format: "hjson", Pos: -1, Msg: err.Error(), Err: err}
		return value.Nil, s.fail
	}
	var root interface{}
	opts := hjson.DefaultDecoderOptions()
	opts.UseJSONNumber = true
	if err := hjson.UnmarshalWithOptions(data, &root, opts); err != nil {
		s.fail = &errs.ParseError{Format: "hjson", Pos: -1, Msg: err.Error(), Err: err}
		return value.Nil, s.fail
	}
	v, err := fromHJSON(root)
	if err != nil {
		s.fail = &errs.ParseError{Format: "hjson", Pos: -1, Msg: err.Error(), Err: err}
		return value.Nil, s.fail
	}
	return v, nil
}

// fromHJSON converts the decoder's representation: objects arrive as
// *hjson.OrderedMap, which keeps declaration order.
func fromHJSON(in interface{}) (value.Value, error) {
	switch t := in.(type) {
	case nil:
		return value.Nil, nil
	case bool:
		return value.Bool(t), nil
	case string:
		return value.String(t), nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return value.Int(n), nil
		}
		f, err := t.Float64()
		if err != nil {
			return value.Nil, err
		}
		return value.Double(f), nil
	case float64:
		return value.Double(t), nil
	case []interface{}:
		var out value.List
		for _, e := range t {
			v, err := fromHJSON(e)
			if err != nil {
				return value.Nil, err
			}
			out.Append(v)
		}
		return out, nil
	case *hjson.OrderedMap:
		var out value.Dict
		for _, k := range t.Keys {
			v, err := fromHJSON(t.Map[k])
			if err != nil {
				return value.Nil, err
			}
			out.Set(value.String(k), v)
		}
		return out, nil
	case hjson.OrderedMap:
		return fromHJSON(&t)
	case map[string]interface{}:
		// only reached for destinations the decoder refuses to order;
		// fall back to sorted keys so output stays deterministic
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out value.Dict
		for _, k := range keys {
			v, err := fromHJSON(t[k])
			if err != nil {
				return value.Nil, err
			}
			out.Set(value.String(k), v)
		}
		return out, nil
	}
	return value.Nil, &errs.ParseError{Format: "hjson", Pos: -1, Msg: "unexpected decoded type"}
}
