package codec

import (
	"io"
	"math"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"

	"recq/lib/errs"
	"recq/lib/value"
)

func init() {
	register(Format{
		Name:      "msgpack",
		NewSource: newMsgpackSource,
		NewSink:   newMsgpackSink,
	})
}

// msgpackSource walks the wire tokens itself instead of letting the
// library build Go maps: map entry order and the int/uint distinction
// must survive.
type msgpackSource struct {
	dec  *msgpack.Decoder
	fail error
}

func newMsgpackSource(r io.Reader, opts Options) (Source, error) {
	return &msgpackSource{dec: msgpack.NewDecoder(r)}, nil
}

func (s *msgpackSource) Read() (value.Value, error) {
	if s.fail != nil {
		return value.Nil, s.fail
	}
	v, err := s.decodeValue()
	if err != nil {
		if err == io.EOF {
			s.fail = io.EOF
			return value.Nil, io.EOF
		}
		s.fail = &errs.ParseError{Format: "msgpack", Pos: -1, Msg: err.Error(), Err: err}
		return value.Nil, s.fail
	}
	return v, nil
}

func (s *msgpackSource) decodeValue() (value.Value, error) {
	code, err := s.dec.PeekCode()
	if err != nil {
		return value.Nil, err
	}
	switch {
	case code == msgpcode.Nil:
		return value.Nil, s.dec.DecodeNil()
	case code == msgpcode.True || code == msgpcode.False:
		b, err := s.dec.DecodeBool()
		return value.Bool(b), err
	case msgpcode.IsFixedNum(code) || code == msgpcode.Int8 || code == msgpcode.Int16 ||
		code == msgpcode.Int32 || code == msgpcode.Int64:
		n, err := s.dec.DecodeInt64()
		return value.Int(n), err
	case code == msgpcode.Uint8 || code == msgpcode.Uint16 ||
		code == msgpcode.Uint32 || code == msgpcode.Uint64:
		n, err := s.dec.DecodeUint64()
		if err != nil {
			return value.Nil, err
		}
		if n <= math.MaxInt64 {
			return value.Int(int64(n)), nil
		}
		return value.UInt(n), nil
	case code == msgpcode.Float:
		f, err := s.dec.DecodeFloat32()
		return value.Double(float64(f)), err
	case code == msgpcode.Double:
		f, err := s.dec.DecodeFloat64()
		return value.Double(f), err
	case msgpcode.IsString(code):
		str, err := s.dec.DecodeString()
		return value.String(str), err
	case msgpcode.IsBin(code):
		b, err := s.dec.DecodeBytes()
		return value.Bytes(b), err
	case msgpcode.IsFixedArray(code) || code == msgpcode.Array16 || code == msgpcode.Array32:
		n, err := s.dec.DecodeArrayLen()
		if err != nil {
			return value.Nil, err
		}
		var out value.List
		for i := 0; i < n; i++ {
			e, err := s.decodeValue()
			if err != nil {
				return value.Nil, err
			}
			out.Append(e)
		}
		return out, nil
	case msgpcode.IsFixedMap(code) || code == msgpcode.Map16 || code == msgpcode.Map32:
		n, err := s.dec.DecodeMapLen()
		if err != nil {
			return value.Nil, err
		}
		var out value.Dict
		for i := 0; i < n; i++ {
			k, err := s.decodeValue()
			if err != nil {
				return value.Nil, err
			}
			v, err := s.decodeValue()
			if err != nil {
				return value.Nil, err
			}
			out.Set(k, v)
		}
		return out, nil
	case msgpcode.IsExt(code):
		// extension payloads pass through as tagged dicts, mirroring the
		// CBOR tag promotion
		id, data, err := s.dec.DecodeExtHeader()
		if err != nil {
			return value.Nil, err
		}
		buf := make([]byte, data)
		if _, err := io.ReadFull(s.dec.Buffered(), buf); err != nil {
			return value.Nil, err
		}
		var out value.Dict
		out.Set(value.String("tag"), value.Int(int64(id)))
		out.Set(value.String("value"), value.Bytes(buf))
		return out, nil
	}
	// unreachable: every code is covered above
	_, err = s.dec.DecodeInterface()
	if err != nil {
		return value.Nil, err
	}
	return value.Nil, nil
}

type msgpackSink struct {
	enc *msgpack.Encoder
	w   io.Writer
}

func newMsgpackSink(w io.Writer, opts Options) (Sink, error) {
	return &msgpackSink{enc: msgpack.NewEncoder(w), w: w}, nil
}

func (s *msgpackSink) Write(v value.Value) error {
	if err := s.encodeValue(v); err != nil {
		return &errs.SerializeError{Format: "msgpack", Msg: err.Error()}
	}
	return nil
}

func (s *msgpackSink) encodeValue(v value.Value) error {
	switch t := v.(type) {
	case value.Bool:
		return s.enc.EncodeBool(bool(t))
	case value.Int:
		return s.enc.EncodeInt(int64(t))
	case value.UInt:
		return s.enc.EncodeUint(uint64(t))
	case value.Double:
		return s.enc.EncodeFloat64(float64(t))
	case value.Char:
		return s.enc.EncodeString(string(rune(t)))
	case value.String:
		return s.enc.EncodeString(string(t))
	case value.Bytes:
		return s.enc.EncodeBytes(t)
	case value.List:
		if err := s.enc.EncodeArrayLen(t.Len()); err != nil {
			return err
		}
		for _, e := range t.Values() {
			if err := s.encodeValue(e); err != nil {
				return err
			}
		}
		return nil
	case value.Dict:
		if err := s.enc.EncodeMapLen(t.Len()); err != nil {
			return err
		}
		for _, p := range t.Pairs() {
			if err := s.encodeValue(p.Key); err != nil {
				return err
			}
			if err := s.encodeValue(p.Val); err != nil {
				return err
			}
		}
		return nil
	}
	return s.enc.EncodeNil()
}

func (s *msgpackSink) Close() error { return nil }
