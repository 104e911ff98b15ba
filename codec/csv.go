package codec

import (
	"encoding/csv"
	"io"

	"recq/lib/errs"
	"recq/lib/value"
)

func init() {
	register(Format{
		Name:      "csv",
		NewSource: newCSVSource,
		NewSink:   newCSVSink,
	})
}

// csvSource reads one record per row. With a header, rows become Dicts
// keyed by column name; without, they become Lists. All fields stay
// Strings: CSV carries no type information and the query language can
// coerce explicitly.
type csvSource struct {
	r      *csv.Reader
	header []string
	first  bool
	useHdr bool
	fail   error
}

func newCSVSource(r io.Reader, opts Options) (Source, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	return &csvSource{r: cr, first: true, useHdr: opts.CSVHeader}, nil
}

func (s *csvSource) Read() (value.Value, error) {
	if s.fail != nil {
		return value.Nil, s.fail
	}
	if s.first && s.useHdr {
		s.first = false
		hdr, err := s.r.Read()
		if err == io.EOF {
			s.fail = io.EOF
			return value.Nil, io.EOF
		}
		if err != nil {
			s.fail = csvParseErr(err)
			return value.Nil, s.fail
		}
		s.header = hdr
	}
	row, err := s.r.Read()
	if err == io.EOF {
		s.fail = io.EOF
		return value.Nil, io.EOF
	}
	if err != nil {
		s.fail = csvParseErr(err)
		return value.Nil, s.fail
	}
	if s.header != nil {
		var out value.Dict
		for i, field := range row {
			key := ""
			if i < len(s.header) {
				key = s.header[i]
			}
			out.Set(value.String(key), value.String(field))
		}
		return out, nil
	}
	var out value.List
	for _, field := range row {
		out.Append(value.String(field))
	}
	return out, nil
}

func csvParseErr(err error) error {
	pos := int64(-1)
	if pe, ok := err.(*csv.ParseError); ok {
		pos = int64(pe.Line)
	}
	return &errs.ParseError{Format: "csv", Pos: pos, Msg: err.Error(), Err: err}
}

// csvSink derives its header from the first Dict record; Lists write as
// bare rows. Scalar cells use their text form, containers fall back to
// JSON so no data silently disappears.
type csvSink struct {
	w      *csv.Writer
	header []string
	wrote  bool
	useHdr bool
}

func newCSVSink(w io.Writer, opts Options) (Sink, error) {
	return &csvSink{w: csv.NewWriter(w), useHdr: opts.CSVHeader}, nil
}

func (s *csvSink) Write(v value.Value) error {
	defer s.w.Flush()
	switch t := v.(type) {
	case value.Dict:
		if !s.wrote {
			s.wrote = true
			for _, k := range t.Keys() {
				s.header = append(s.header, cell(k))
			}
			if s.useHdr {
				if err := s.w.Write(s.header); err != nil {
					return err
				}
			}
		}
		row := make([]string, 0, len(s.header))
		for _, name := range s.header {
			f, _ := t.Get(name)
			row = append(row, cell(f))
		}
		return s.w.Write(row)
	case value.List:
		s.wrote = true
		row := make([]string, 0, t.Len())
		for _, e := range t.Values() {
			row = append(row, cell(e))
		}
		return s.w.Write(row)
	}
	s.wrote = true
	return s.w.Write([]string{cell(v)})
}

func cell(v value.Value) string {
	switch v.(type) {
	case value.List, value.Dict, value.Bytes:
		return string(value.ToJSON(v))
	}
	if v.Equal(value.Nil) {
		return ""
	}
	return v.String()
}

func (s *csvSink) Close() error {
	s.w.Flush()
	return s.w.Error()
}
