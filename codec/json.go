package codec

import (
	"encoding/json"
	"io"

	"recq/lib/errs"
	"recq/lib/value"
)

func init() {
	register(Format{
		Name:      "json",
		NewSource: newJSONSource,
		NewSink:   newJSONSink,
	})
}

// jsonSource reads whitespace-separated top-level JSON values. The
// stdlib decoder handles the framing; each raw record then goes through
// the ordered parser in lib/value so key order and integer width
// survive.
type jsonSource struct {
	dec  *json.Decoder
	fail error
}

func newJSONSource(r io.Reader, opts Options) (Source, error) {
	return &jsonSource{dec: json.NewDecoder(r)}, nil
}

func (s *jsonSource) Read() (value.Value, error) {
	if s.fail != nil {
		return value.Nil, s.fail
	}
	var raw json.RawMessage
	if err := s.dec.Decode(&raw); err != nil {
		if err == io.EOF {
			s.fail = io.EOF
			return value.Nil, io.EOF
		}
		s.fail = &errs.ParseError{Format: "json", Pos: s.dec.InputOffset(), Msg: err.Error(), Err: err}
		return value.Nil, s.fail
	}
	v, err := value.FromJSON(raw)
	if err != nil {
		s.fail = &errs.ParseError{Format: "json", Pos: s.dec.InputOffset(), Msg: err.Error(), Err: err}
		return value.Nil, s.fail
	}
	return v, nil
}

// jsonSink writes one record per line, compact by default.
type jsonSink struct {
	w      io.Writer
	indent bool
}

func newJSONSink(w io.Writer, opts Options) (Sink, error) {
	return &jsonSink{w: w, indent: opts.Indent}, nil
}

func (s *jsonSink) Write(v value.Value) error {
	var b []byte
	if s.indent {
		b = value.ToJSONIndent(v)
	} else {
		b = value.ToJSON(v)
	}
	b = append(b, '\n')
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	return nil
}

func (s *jsonSink) Close() error { return nil }
