package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"recq/lib/errs"
	"recq/lib/value"
)

func init() {
	register(Format{
		Name:      "cbor",
		NewSource: newCBORSource,
		NewSink:   newCBORSink,
	})
}

// The CBOR codec walks the wire tokens directly. The ecosystem decoders
// hand back Go maps, which would drop the entry order, duplicate keys
// and non-string keys the record model must keep, so the item walker
// lives here. Tags are promoted to {"tag": n, "value": v} dicts and
// restored on the way out.

const (
	cborMajorUint   = 0
	cborMajorNegInt = 1
	cborMajorBytes  = 2
	cborMajorText   = 3
	cborMajorArray  = 4
	cborMajorMap    = 5
	cborMajorTag    = 6
	cborMajorSimple = 7
)

type cborSource struct {
	r    *bufio.Reader
	pos  int64
	fail error
}

func newCBORSource(r io.Reader, opts Options) (Source, error) {
	return &cborSource{r: bufio.NewReader(r)}, nil
}

func (s *cborSource) Read() (value.Value, error) {
	if s.fail != nil {
		return value.Nil, s.fail
	}
	// a clean EOF between items ends the stream
	if _, err := s.r.Peek(1); err == io.EOF {
		s.fail = io.EOF
		return value.Nil, io.EOF
	}
	v, err := s.decodeItem()
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = fmt.Errorf("truncated item")
		}
		s.fail = &errs.ParseError{Format: "cbor", Pos: s.pos, Msg: err.Error(), Err: nil}
		return value.Nil, s.fail
	}
	return v, nil
}

func (s *cborSource) readByte() (byte, error) {
	b, err := s.r.ReadByte()
	if err == nil {
		s.pos++
	}
	return b, err
}

func (s *cborSource) readFull(buf []byte) error {
	n, err := io.ReadFull(s.r, buf)
	s.pos += int64(n)
	return err
}

// head reads one initial byte plus its argument. info is the additional
// info field, which the simple/float major type needs to pick the float
// width; additional info 31 (indefinite length) returns indefinite=true.
func (s *cborSource) head() (major, info byte, arg uint64, indefinite bool, err error) {
	ib, err := s.readByte()
	if err != nil {
		return 0, 0, 0, false, err
	}
	major = ib >> 5
	info = ib & 0x1f
	switch {
	case info < 24:
		return major, info, uint64(info), false, nil
	case info == 24:
		b, err := s.readByte()
		return major, info, uint64(b), false, err
	case info == 25:
		var buf [2]byte
		err := s.readFull(buf[:])
		return major, info, uint64(binary.BigEndian.Uint16(buf[:])), false, err
	case info == 26:
		var buf [4]byte
		err := s.readFull(buf[:])
		return major, info, uint64(binary.BigEndian.Uint32(buf[:])), false, err
	case info == 27:
		var buf [8]byte
		err := s.readFull(buf[:])
		return major, info, binary.BigEndian.Uint64(buf[:]), false, err
	case info == 31:
		return major, info, 0, true, nil
	}
	return 0, 0, 0, false, fmt.Errorf("reserved additional info %d", info)
}

func (s *cborSource) decodeItem() (value.Value, error) {
	major, info, arg, indef, err := s.head()
	if err != nil {
		return value.Nil, err
	}
	switch major {
	case cborMajorUint:
		if arg <= math.MaxInt64 {
			return value.Int(int64(arg)), nil
		}
		return value.UInt(arg), nil
	case cborMajorNegInt:
		if arg <= math.MaxInt64 {
			return value.Int(-1 - int64(arg)), nil
		}
		// -1-arg underflows int64; approximate like the float path
		return value.Double(-1 - float64(arg)), nil
	case cborMajorBytes:
		b, err := s.decodeChunks(cborMajorBytes, arg, indef)
		return value.Bytes(b), err
	case cborMajorText:
		b, err := s.decodeChunks(cborMajorText, arg, indef)
		return value.String(b), err
	case cborMajorArray:
		var out value.List
		if indef {
			for {
				stop, e, err := s.decodeItemOrBreak()
				if err != nil {
					return value.Nil, err
				}
				if stop {
					return out, nil
				}
				out.Append(e)
			}
		}
		for i := uint64(0); i < arg; i++ {
			e, err := s.decodeItem()
			if err != nil {
				return value.Nil, err
			}
			out.Append(e)
		}
		return out, nil
	case cborMajorMap:
		var out value.Dict
		if indef {
			for {
				stop, k, err := s.decodeItemOrBreak()
				if err != nil {
					return value.Nil, err
				}
				if stop {
					return out, nil
				}
				v, err := s.decodeItem()
				if err != nil {
					return value.Nil, err
				}
				out.Set(k, v)
			}
		}
		for i := uint64(0); i < arg; i++ {
			k, err := s.decodeItem()
			if err != nil {
				return value.Nil, err
			}
			v, err := s.decodeItem()
			if err != nil {
				return value.Nil, err
			}
			out.Set(k, v)
		}
		return out, nil
	case cborMajorTag:
		inner, err := s.decodeItem()
		if err != nil {
			return value.Nil, err
		}
		var out value.Dict
		if arg <= math.MaxInt64 {
			out.Set(value.String("tag"), value.Int(int64(arg)))
		} else {
			out.Set(value.String("tag"), value.UInt(arg))
		}
		out.Set(value.String("value"), inner)
		return out, nil
	case cborMajorSimple:
		return decodeCBORSimple(info, arg, indef)
	}
	return value.Nil, fmt.Errorf("bad major type %d", major)
}

func (s *cborSource) decodeItemOrBreak() (bool, value.Value, error) {
	b, err := s.r.Peek(1)
	if err != nil {
		return false, value.Nil, err
	}
	if b[0] == 0xff {
		_, err := s.readByte()
		return true, value.Nil, err
	}
	v, err := s.decodeItem()
	return false, v, err
}

// decodeChunks reads a definite string body or the chunks of an
// indefinite one.
func (s *cborSource) decodeChunks(major byte, arg uint64, indef bool) ([]byte, error) {
	if !indef {
		if arg > math.MaxInt32 {
			return nil, &errs.ResourceExhausted{Operator: "cbor string", Limit: math.MaxInt32}
		}
		buf := make([]byte, arg)
		return buf, s.readFull(buf)
	}
	var out []byte
	for {
		b, err := s.r.Peek(1)
		if err != nil {
			return nil, err
		}
		if b[0] == 0xff {
			_, err := s.readByte()
			return out, err
		}
		m, _, n, ind, err := s.head()
		if err != nil {
			return nil, err
		}
		if m != major || ind {
			return nil, fmt.Errorf("bad chunk in indefinite string")
		}
		buf := make([]byte, n)
		if err := s.readFull(buf); err != nil {
			return nil, err
		}
		out = append(out, buf...)
	}
}

func decodeCBORSimple(info byte, arg uint64, indef bool) (value.Value, error) {
	if indef {
		return value.Nil, fmt.Errorf("unexpected break")
	}
	switch info {
	case 25:
		return value.Double(float16ToFloat64(uint16(arg))), nil
	case 26:
		return value.Double(float64(math.Float32frombits(uint32(arg)))), nil
	case 27:
		return value.Double(math.Float64frombits(arg)), nil
	}
	switch arg {
	case 20:
		return value.Bool(false), nil
	case 21:
		return value.Bool(true), nil
	case 22, 23: // null, undefined
		return value.Nil, nil
	}
	// unassigned simple value
	return value.Int(int64(arg)), nil
}

// float16ToFloat64 expands an IEEE half-precision value.
func float16ToFloat64(h uint16) float64 {
	sign := float64(1)
	if h&0x8000 != 0 {
		sign = -1
	}
	exp := int((h >> 10) & 0x1f)
	frac := float64(h & 0x3ff)
	switch exp {
	case 0:
		return sign * frac * math.Pow(2, -24)
	case 31:
		if frac == 0 {
			return sign * math.Inf(1)
		}
		return math.NaN()
	}
	return sign * (1 + frac/1024) * math.Pow(2, float64(exp-15))
}

type cborSink struct {
	w *bufio.Writer
}

func newCBORSink(w io.Writer, opts Options) (Sink, error) {
	return &cborSink{w: bufio.NewWriter(w)}, nil
}

func (s *cborSink) Write(v value.Value) error {
	if err := s.encodeItem(v); err != nil {
		return &errs.SerializeError{Format: "cbor", Msg: err.Error()}
	}
	return s.w.Flush()
}

func (s *cborSink) Close() error { return s.w.Flush() }

func (s *cborSink) head(major byte, arg uint64) error {
	switch {
	case arg < 24:
		return s.w.WriteByte(major<<5 | byte(arg))
	case arg <= 0xff:
		if err := s.w.WriteByte(major<<5 | 24); err != nil {
			return err
		}
		return s.w.WriteByte(byte(arg))
	case arg <= 0xffff:
		if err := s.w.WriteByte(major<<5 | 25); err != nil {
			return err
		}
		var buf [2]byte
		binary.BigEndian.PutUint16(buf[:], uint16(arg))
		_, err := s.w.Write(buf[:])
		return err
	case arg <= 0xffffffff:
		if err := s.w.WriteByte(major<<5 | 26); err != nil {
			return err
		}
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(arg))
		_, err := s.w.Write(buf[:])
		return err
	}
	if err := s.w.WriteByte(major<<5 | 27); err != nil {
		return err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], arg)
	_, err := s.w.Write(buf[:])
	return err
}

func (s *cborSink) encodeItem(v value.Value) error {
	switch t := v.(type) {
	case value.Bool:
		if t {
			return s.w.WriteByte(cborMajorSimple<<5 | 21)
		}
		return s.w.WriteByte(cborMajorSimple<<5 | 20)
	case value.Int:
		if t >= 0 {
			return s.head(cborMajorUint, uint64(t))
		}
		return s.head(cborMajorNegInt, uint64(-1-int64(t)))
	case value.UInt:
		return s.head(cborMajorUint, uint64(t))
	case value.Double:
		if err := s.w.WriteByte(cborMajorSimple<<5 | 27); err != nil {
			return err
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(float64(t)))
		_, err := s.w.Write(buf[:])
		return err
	case value.Char:
		str := string(rune(t))
		if err := s.head(cborMajorText, uint64(len(str))); err != nil {
			return err
		}
		_, err := s.w.WriteString(str)
		return err
	case value.String:
		if err := s.head(cborMajorText, uint64(len(t))); err != nil {
			return err
		}
		_, err := s.w.WriteString(string(t))
		return err
	case value.Bytes:
		if err := s.head(cborMajorBytes, uint64(len(t))); err != nil {
			return err
		}
		_, err := s.w.Write(t)
		return err
	case value.List:
		if err := s.head(cborMajorArray, uint64(t.Len())); err != nil {
			return err
		}
		for _, e := range t.Values() {
			if err := s.encodeItem(e); err != nil {
				return err
			}
		}
		return nil
	case value.Dict:
		if tag, inner, ok := asTagDict(t); ok {
			if err := s.head(cborMajorTag, tag); err != nil {
				return err
			}
			return s.encodeItem(inner)
		}
		if err := s.head(cborMajorMap, uint64(t.Len())); err != nil {
			return err
		}
		for _, p := range t.Pairs() {
			if err := s.encodeItem(p.Key); err != nil {
				return err
			}
			if err := s.encodeItem(p.Val); err != nil {
				return err
			}
		}
		return nil
	}
	// Nil
	return s.w.WriteByte(cborMajorSimple<<5 | 22)
}

// asTagDict recognizes the tagged-value promotion shape produced by the
// source so tags survive a cbor→cbor round trip.
func asTagDict(d value.Dict) (uint64, value.Value, bool) {
	pairs := d.Pairs()
	if len(pairs) != 2 {
		return 0, value.Nil, false
	}
	k0, ok0 := pairs[0].Key.(value.String)
	k1, ok1 := pairs[1].Key.(value.String)
	if !ok0 || !ok1 || k0 != "tag" || k1 != "value" {
		return 0, value.Nil, false
	}
	switch n := pairs[0].Val.(type) {
	case value.Int:
		if n >= 0 {
			return uint64(n), pairs[1].Val, true
		}
	case value.UInt:
		return uint64(n), pairs[1].Val, true
	}
	return 0, value.Nil, false
}
