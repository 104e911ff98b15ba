package codec

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"math/big"

	"recq/lib/errs"
	"recq/lib/value"
)

func init() {
	register(Format{
		Name:      "smile",
		NewSource: newSmileSource,
		NewSink:   newSmileSink,
	})
}

// The Smile codec implements the wire format directly; the Go ecosystem
// has no maintained encoder. Values are self-delimiting tokens after a
// ":)\n" header. The writer never emits shared-string references or raw
// binary, both optional per the format; the reader accepts them.

const (
	smileTokNull       = 0x21
	smileTokFalse      = 0x22
	smileTokTrue       = 0x23
	smileTokInt32      = 0x24
	smileTokInt64      = 0x25
	smileTokBigInt     = 0x26
	smileTokFloat32    = 0x28
	smileTokFloat64    = 0x29
	smileTokEmptyStr   = 0x20
	smileTokLongASCII  = 0xe0
	smileTokLongUTF8   = 0xe4
	smileTokBinary7    = 0xe8
	smileTokStartArray = 0xf8
	smileTokEndArray   = 0xf9
	smileTokStartObj   = 0xfa
	smileTokEndObj     = 0xfb
	smileTokStringEnd  = 0xfc
	smileTokEndMarker  = 0xff

	smileKeyEmpty    = 0x20
	smileKeyLongUTF8 = 0x34
)

type smileSource struct {
	r          *bufio.Reader
	pos        int64
	havehdr    bool
	sharedKeys bool
	sharedVals bool
	keyTable   []string
	valTable   []string
	fail       error
}

func newSmileSource(r io.Reader, opts Options) (Source, error) {
	return &smileSource{r: bufio.NewReader(r)}, nil
}

func (s *smileSource) Read() (value.Value, error) {
	if s.fail != nil {
		return value.Nil, s.fail
	}
	if !s.havehdr {
		if err := s.header(); err != nil {
			if err == io.EOF {
				s.fail = io.EOF
				return value.Nil, io.EOF
			}
			s.fail = &errs.ParseError{Format: "smile", Pos: s.pos, Msg: err.Error()}
			return value.Nil, s.fail
		}
		s.havehdr = true
	}
	b, err := s.r.Peek(1)
	if err == io.EOF {
		s.fail = io.EOF
		return value.Nil, io.EOF
	}
	if err == nil && b[0] == smileTokEndMarker {
		s.readByte()
		s.fail = io.EOF
		return value.Nil, io.EOF
	}
	// back-to-back documents each carry their own header
	if err == nil && b[0] == ':' {
		if err := s.header(); err != nil {
			s.fail = &errs.ParseError{Format: "smile", Pos: s.pos, Msg: err.Error()}
			return value.Nil, s.fail
		}
	}
	v, err := s.decodeValue()
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = fmt.Errorf("truncated document")
		}
		s.fail = &errs.ParseError{Format: "smile", Pos: s.pos, Msg: err.Error()}
		return value.Nil, s.fail
	}
	return v, nil
}

func (s *smileSource) header() error {
	var hdr [4]byte
	if _, err := io.ReadFull(s.r, hdr[:]); err != nil {
		return err
	}
	s.pos += 4
	if hdr[0] != ':' || hdr[1] != ')' || hdr[2] != '\n' {
		return fmt.Errorf("bad header %q", hdr[:3])
	}
	s.sharedKeys = hdr[3]&0x01 != 0
	s.sharedVals = hdr[3]&0x02 != 0
	s.keyTable = s.keyTable[:0]
	s.valTable = s.valTable[:0]
	return nil
}

func (s *smileSource) readByte() (byte, error) {
	b, err := s.r.ReadByte()
	if err == nil {
		s.pos++
	}
	return b, err
}

func (s *smileSource) readFull(buf []byte) error {
	n, err := io.ReadFull(s.r, buf)
	s.pos += int64(n)
	return err
}

// vint reads the unsigned variable-length integer: leading bytes carry 7
// bits, the final byte has its high bit set and carries 6.
func (s *smileSource) vint() (uint64, error) {
	var out uint64
	for i := 0; i < 11; i++ {
		b, err := s.readByte()
		if err != nil {
			return 0, err
		}
		if b&0x80 != 0 {
			return out<<6 | uint64(b&0x3f), nil
		}
		out = out<<7 | uint64(b)
	}
	return 0, fmt.Errorf("vint too long")
}

func unzigzag(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// sevenBits reads n bytes each carrying 7 significant bits and returns
// their big-endian accumulation.
func (s *smileSource) sevenBits(n int) (uint64, error) {
	var acc uint64
	for i := 0; i < n; i++ {
		b, err := s.readByte()
		if err != nil {
			return 0, err
		}
		acc = acc<<7 | uint64(b&0x7f)
	}
	return acc, nil
}

func (s *smileSource) decodeValue() (value.Value, error) {
	tok, err := s.readByte()
	if err != nil {
		return value.Nil, err
	}
	switch {
	case tok >= 0x01 && tok <= 0x1f: // short shared value string
		idx := int(tok) - 1
		if idx >= len(s.valTable) {
			return value.Nil, fmt.Errorf("shared string reference %d out of range", idx)
		}
		return value.String(s.valTable[idx]), nil
	case tok == smileTokEmptyStr:
		return value.String(""), nil
	case tok == smileTokNull:
		return value.Nil, nil
	case tok == smileTokFalse:
		return value.Bool(false), nil
	case tok == smileTokTrue:
		return value.Bool(true), nil
	case tok == smileTokInt32, tok == smileTokInt64:
		u, err := s.vint()
		if err != nil {
			return value.Nil, err
		}
		return value.Int(unzigzag(u)), nil
	case tok == smileTokBigInt:
		return s.decodeBigInt()
	case tok == smileTokFloat32:
		acc, err := s.sevenBits(5)
		if err != nil {
			return value.Nil, err
		}
		return value.Double(float64(math.Float32frombits(uint32(acc)))), nil
	case tok == smileTokFloat64:
		acc, err := s.sevenBits(10)
		if err != nil {
			return value.Nil, err
		}
		return value.Double(math.Float64frombits(acc)), nil
	case tok >= 0x40 && tok <= 0x5f: // tiny ASCII
		return s.shortString(int(tok&0x1f) + 1)
	case tok >= 0x60 && tok <= 0x7f: // small ASCII
		return s.shortString(int(tok&0x1f) + 33)
	case tok >= 0x80 && tok <= 0x9f: // tiny Unicode
		return s.shortString(int(tok&0x1f) + 2)
	case tok >= 0xa0 && tok <= 0xbf: // small Unicode
		return s.shortString(int(tok&0x1f) + 34)
	case tok >= 0xc0 && tok <= 0xdf: // small int
		return value.Int(unzigzag(uint64(tok & 0x1f))), nil
	case tok >= smileTokLongASCII && tok < smileTokLongASCII+4,
		tok >= smileTokLongUTF8 && tok < smileTokLongUTF8+4:
		b, err := s.untilMarker()
		return value.String(b), err
	case tok >= smileTokBinary7 && tok < smileTokBinary7+4:
		return s.decodeBinary7()
	case tok >= 0xec && tok <= 0xef: // long shared value string
		nb, err := s.readByte()
		if err != nil {
			return value.Nil, err
		}
		idx := int(tok&0x03)<<8 | int(nb)
		if idx >= len(s.valTable) {
			return value.Nil, fmt.Errorf("shared string reference %d out of range", idx)
		}
		return value.String(s.valTable[idx]), nil
	case tok == smileTokStartArray:
		var out value.List
		for {
			b, err := s.r.Peek(1)
			if err != nil {
				return value.Nil, err
			}
			if b[0] == smileTokEndArray {
				s.readByte()
				return out, nil
			}
			e, err := s.decodeValue()
			if err != nil {
				return value.Nil, err
			}
			out.Append(e)
		}
	case tok == smileTokStartObj:
		var out value.Dict
		for {
			b, err := s.r.Peek(1)
			if err != nil {
				return value.Nil, err
			}
			if b[0] == smileTokEndObj {
				s.readByte()
				return out, nil
			}
			k, err := s.decodeKey()
			if err != nil {
				return value.Nil, err
			}
			v, err := s.decodeValue()
			if err != nil {
				return value.Nil, err
			}
			out.Set(value.String(k), v)
		}
	case tok == 0xfd: // raw binary
		n, err := s.vint()
		if err != nil {
			return value.Nil, err
		}
		buf := make([]byte, n)
		if err := s.readFull(buf); err != nil {
			return value.Nil, err
		}
		return value.Bytes(buf), nil
	}
	return value.Nil, fmt.Errorf("unexpected token 0x%02x", tok)
}

// shortString reads a length-prefixed string and records it in the
// shared table when sharing is on.
func (s *smileSource) shortString(n int) (value.Value, error) {
	buf := make([]byte, n)
	if err := s.readFull(buf); err != nil {
		return value.Nil, err
	}
	str := string(buf)
	if s.sharedVals && len(s.valTable) < 1024 {
		s.valTable = append(s.valTable, str)
	}
	return value.String(str), nil
}

func (s *smileSource) untilMarker() (string, error) {
	var out []byte
	for {
		b, err := s.readByte()
		if err != nil {
			return "", err
		}
		if b == smileTokStringEnd {
			return string(out), nil
		}
		out = append(out, b)
	}
}

func (s *smileSource) decodeKey() (string, error) {
	tok, err := s.readByte()
	if err != nil {
		return "", err
	}
	switch {
	case tok == smileKeyEmpty:
		return "", nil
	case tok >= 0x30 && tok <= 0x33: // long shared key
		nb, err := s.readByte()
		if err != nil {
			return "", err
		}
		idx := int(tok&0x03)<<8 | int(nb)
		if idx >= len(s.keyTable) {
			return "", fmt.Errorf("shared key reference %d out of range", idx)
		}
		return s.keyTable[idx], nil
	case tok == smileKeyLongUTF8:
		return s.untilMarker()
	case tok >= 0x40 && tok <= 0x7f: // short shared key
		idx := int(tok - 0x40)
		if idx >= len(s.keyTable) {
			return "", fmt.Errorf("shared key reference %d out of range", idx)
		}
		return s.keyTable[idx], nil
	case tok >= 0x80 && tok <= 0xbf: // short ASCII
		return s.keyString(int(tok&0x3f) + 1)
	case tok >= 0xc0 && tok <= 0xf7: // short Unicode
		return s.keyString(int(tok&0x3f) + 2)
	}
	return "", fmt.Errorf("unexpected key token 0x%02x", tok)
}

func (s *smileSource) keyString(n int) (string, error) {
	buf := make([]byte, n)
	if err := s.readFull(buf); err != nil {
		return "", err
	}
	key := string(buf)
	if s.sharedKeys && len(s.keyTable) < 1024 {
		s.keyTable = append(s.keyTable, key)
	}
	return key, nil
}

func (s *smileSource) decodeBigInt() (value.Value, error) {
	raw, err := s.decode7BitPayload()
	if err != nil {
		return value.Nil, err
	}
	n := new(big.Int).SetBytes(raw)
	// leading byte carries the sign in two's complement
	if len(raw) > 0 && raw[0]&0x80 != 0 {
		n.Sub(n, new(big.Int).Lsh(big.NewInt(1), uint(len(raw)*8)))
	}
	if n.IsInt64() {
		return value.Int(n.Int64()), nil
	}
	if n.IsUint64() {
		return value.UInt(n.Uint64()), nil
	}
	f, _ := new(big.Float).SetInt(n).Float64()
	return value.Double(f), nil
}

func (s *smileSource) decodeBinary7() (value.Value, error) {
	raw, err := s.decode7BitPayload()
	if err != nil {
		return value.Nil, err
	}
	return value.Bytes(raw), nil
}

// decode7BitPayload reads a vint byte count followed by ceil(8n/7)
// septets holding the data left-aligned.
func (s *smileSource) decode7BitPayload() ([]byte, error) {
	n, err := s.vint()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if n > math.MaxInt32 {
		return nil, fmt.Errorf("binary payload too large")
	}
	septets := (int(n)*8 + 6) / 7
	out := make([]byte, 0, n)
	var acc uint64
	var bits int
	for i := 0; i < septets; i++ {
		b, err := s.readByte()
		if err != nil {
			return nil, err
		}
		acc = acc<<7 | uint64(b&0x7f)
		bits += 7
		for bits >= 8 && len(out) < int(n) {
			bits -= 8
			out = append(out, byte(acc>>uint(bits)))
		}
	}
	return out, nil
}

type smileSink struct {
	w *bufio.Writer
}

func newSmileSink(w io.Writer, opts Options) (Sink, error) {
	s := &smileSink{w: bufio.NewWriter(w)}
	// version 0, no shared names or values, no raw binary
	if _, err := s.w.Write([]byte{':', ')', '\n', 0x00}); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *smileSink) Write(v value.Value) error {
	if err := s.encodeValue(v); err != nil {
		return &errs.SerializeError{Format: "smile", Msg: err.Error()}
	}
	return s.w.Flush()
}

func (s *smileSink) Close() error { return s.w.Flush() }

func (s *smileSink) vint(u uint64) error {
	// emit 7-bit groups, then the terminal byte with 6 bits and the high
	// bit set
	var tmp [10]byte
	n := 0
	last := byte(u&0x3f) | 0x80
	u >>= 6
	for u != 0 {
		tmp[n] = byte(u & 0x7f)
		u >>= 7
		n++
	}
	for i := n - 1; i >= 0; i-- {
		if err := s.w.WriteByte(tmp[i]); err != nil {
			return err
		}
	}
	return s.w.WriteByte(last)
}

func zigzag(n int64) uint64 {
	return uint64(n<<1) ^ uint64(n>>63)
}

func (s *smileSink) sevenBits(acc uint64, n int) error {
	for i := n - 1; i >= 0; i-- {
		if err := s.w.WriteByte(byte(acc >> uint(7*i) & 0x7f)); err != nil {
			return err
		}
	}
	return nil
}

func isASCII(str string) bool {
	for i := 0; i < len(str); i++ {
		if str[i] >= 0x80 {
			return false
		}
	}
	return true
}

func (s *smileSink) encodeValue(v value.Value) error {
	switch t := v.(type) {
	case value.Bool:
		if t {
			return s.w.WriteByte(smileTokTrue)
		}
		return s.w.WriteByte(smileTokFalse)
	case value.Int:
		n := int64(t)
		if n >= -16 && n <= 15 {
			return s.w.WriteByte(0xc0 | byte(zigzag(n)))
		}
		tok := byte(smileTokInt32)
		if n < math.MinInt32 || n > math.MaxInt32 {
			tok = smileTokInt64
		}
		if err := s.w.WriteByte(tok); err != nil {
			return err
		}
		return s.vint(zigzag(n))
	case value.UInt:
		if uint64(t) <= math.MaxInt64 {
			return s.encodeValue(value.Int(int64(t)))
		}
		// two's-complement bytes with a zero sign byte
		raw := append([]byte{0}, new(big.Int).SetUint64(uint64(t)).Bytes()...)
		if err := s.w.WriteByte(smileTokBigInt); err != nil {
			return err
		}
		return s.encode7BitPayload(raw)
	case value.Double:
		if err := s.w.WriteByte(smileTokFloat64); err != nil {
			return err
		}
		return s.sevenBits(math.Float64bits(float64(t)), 10)
	case value.Char:
		return s.encodeString(string(rune(t)))
	case value.String:
		return s.encodeString(string(t))
	case value.Bytes:
		if err := s.w.WriteByte(smileTokBinary7); err != nil {
			return err
		}
		return s.encode7BitPayload(t)
	case value.List:
		if err := s.w.WriteByte(smileTokStartArray); err != nil {
			return err
		}
		for _, e := range t.Values() {
			if err := s.encodeValue(e); err != nil {
				return err
			}
		}
		return s.w.WriteByte(smileTokEndArray)
	case value.Dict:
		if err := s.w.WriteByte(smileTokStartObj); err != nil {
			return err
		}
		for _, p := range t.Pairs() {
			key := p.Key
			ks, ok := key.(value.String)
			if !ok {
				ks = value.String(key.String())
			}
			if err := s.encodeKey(string(ks)); err != nil {
				return err
			}
			if err := s.encodeValue(p.Val); err != nil {
				return err
			}
		}
		return s.w.WriteByte(smileTokEndObj)
	}
	return s.w.WriteByte(smileTokNull)
}

func (s *smileSink) encodeString(str string) error {
	n := len(str)
	ascii := isASCII(str)
	switch {
	case n == 0:
		return s.w.WriteByte(smileTokEmptyStr)
	case ascii && n <= 32:
		if err := s.w.WriteByte(0x40 | byte(n-1)); err != nil {
			return err
		}
	case ascii && n <= 64:
		if err := s.w.WriteByte(0x60 | byte(n-33)); err != nil {
			return err
		}
	case !ascii && n >= 2 && n <= 33:
		if err := s.w.WriteByte(0x80 | byte(n-2)); err != nil {
			return err
		}
	case !ascii && n <= 65:
		if err := s.w.WriteByte(0xa0 | byte(n-34)); err != nil {
			return err
		}
	default:
		tok := byte(smileTokLongUTF8)
		if ascii {
			tok = smileTokLongASCII
		}
		if err := s.w.WriteByte(tok); err != nil {
			return err
		}
		if _, err := s.w.WriteString(str); err != nil {
			return err
		}
		return s.w.WriteByte(smileTokStringEnd)
	}
	_, err := s.w.WriteString(str)
	return err
}

func (s *smileSink) encodeKey(key string) error {
	n := len(key)
	ascii := isASCII(key)
	switch {
	case n == 0:
		return s.w.WriteByte(smileKeyEmpty)
	case ascii && n <= 64:
		if err := s.w.WriteByte(0x80 | byte(n-1)); err != nil {
			return err
		}
	case !ascii && n >= 2 && n <= 57:
		if err := s.w.WriteByte(0xc0 | byte(n-2)); err != nil {
			return err
		}
	default:
		if err := s.w.WriteByte(smileKeyLongUTF8); err != nil {
			return err
		}
		if _, err := s.w.WriteString(key); err != nil {
			return err
		}
		return s.w.WriteByte(smileTokStringEnd)
	}
	_, err := s.w.WriteString(key)
	return err
}

// encode7BitPayload writes the vint raw length then the data as
// left-aligned septets.
func (s *smileSink) encode7BitPayload(data []byte) error {
	if err := s.vint(uint64(len(data))); err != nil {
		return err
	}
	var acc uint64
	var bits int
	for _, b := range data {
		acc = acc<<8 | uint64(b)
		bits += 8
		for bits >= 7 {
			bits -= 7
			if err := s.w.WriteByte(byte(acc >> uint(bits) & 0x7f)); err != nil {
				return err
			}
		}
	}
	if bits > 0 {
		if err := s.w.WriteByte(byte(acc << uint(7-bits) & 0x7f)); err != nil {
			return err
		}
	}
	return nil
}
