package codec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"github.com/golang/snappy"
	"github.com/hamba/avro/v2"

	"recq/lib/errs"
	"recq/lib/value"
)

func init() {
	register(Format{
		Name:      "avro",
		NewSource: newAvroSource,
		NewSink:   newAvroSink,
	})
}

var avroMagic = [4]byte{'O', 'b', 'j', 1}

// avroSource reads either a container file (magic + embedded schema +
// blocks, null or snappy codec) or a single-object stream, which needs
// the schema supplied out of band.
type avroSource struct {
	r      *bufio.Reader
	schema avro.Schema
	extern string // out-of-band schema JSON for single-object framing

	container bool
	started   bool
	codec     string
	sync      [16]byte
	block     *bytes.Reader // records remaining in the current block
	remaining int64

	fail error
}

func newAvroSource(r io.Reader, opts Options) (Source, error) {
	return &avroSource{r: bufio.NewReader(r), extern: opts.AvroSchema}, nil
}

func (s *avroSource) Read() (value.Value, error) {
	if s.fail != nil {
		return value.Nil, s.fail
	}
	v, err := s.read()
	if err != nil && err != io.EOF {
		err = &errs.ParseError{Format: "avro", Pos: -1, Msg: err.Error(), Err: err}
	}
	if err != nil {
		s.fail = err
		return value.Nil, err
	}
	return v, nil
}

func (s *avroSource) read() (value.Value, error) {
	if !s.started {
		if err := s.start(); err != nil {
			return value.Nil, err
		}
		s.started = true
	}
	if s.container {
		return s.readContainer()
	}
	return s.readSingleObject()
}

func (s *avroSource) start() error {
	head, err := s.r.Peek(2)
	if err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return err
	}
	if head[0] == avroMagic[0] && head[1] == avroMagic[1] {
		s.container = true
		return s.readHeader()
	}
	if head[0] == 0xc3 && head[1] == 0x01 {
		if s.extern == "" {
			return &errs.SchemaNotFound{Symbol: "single-object avro stream needs an external schema"}
		}
		sch, err := avro.Parse(s.extern)
		if err != nil {
			return fmt.Errorf("avro schema: %v", err)
		}
		s.schema = sch
		return nil
	}
	return fmt.Errorf("input is neither an avro container nor single-object framed")
}

func (s *avroSource) readHeader() error {
	var magic [4]byte
	if _, err := io.ReadFull(s.r, magic[:]); err != nil {
		return err
	}
	if magic != avroMagic {
		return fmt.Errorf("bad container magic")
	}
	meta := map[string][]byte{}
	for {
		n, err := readAvroLong(s.r)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		if n < 0 {
			// negative block count is followed by a byte size we ignore
			if _, err := readAvroLong(s.r); err != nil {
				return err
			}
			n = -n
		}
		for i := int64(0); i < n; i++ {
			k, err := readAvroBytes(s.r)
			if err != nil {
				return err
			}
			v, err := readAvroBytes(s.r)
			if err != nil {
				return err
			}
			meta[string(k)] = v
		}
	}
	if _, err := io.ReadFull(s.r, s.sync[:]); err != nil {
		return err
	}
	schemaJSON, ok := meta["avro.schema"]
	if !ok {
		return &errs.SchemaNotFound{Symbol: "avro.schema"}
	}
	sch, err := avro.Parse(string(schemaJSON))
	if err != nil {
		return fmt.Errorf("avro schema: %v", err)
	}
	s.schema = sch
	s.codec = "null"
	if c, ok := meta["avro.codec"]; ok {
		s.codec = string(c)
	}
	if s.codec != "null" && s.codec != "snappy" {
		return fmt.Errorf("unsupported avro codec %q", s.codec)
	}
	return nil
}

func (s *avroSource) readContainer() (value.Value, error) {
	for s.block == nil || s.remaining == 0 {
		if err := s.nextBlock(); err != nil {
			return value.Nil, err
		}
	}
	s.remaining--
	return decodeAvro(s.block, s.schema)
}

func (s *avroSource) nextBlock() error {
	count, err := readAvroLong(s.r)
	if err != nil {
		if err == io.ErrUnexpectedEOF {
			return io.EOF
		}
		return err
	}
	size, err := readAvroLong(s.r)
	if err != nil {
		return err
	}
	if size < 0 || count < 0 {
		return fmt.Errorf("negative block framing")
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(s.r, data); err != nil {
		return err
	}
	var sync [16]byte
	if _, err := io.ReadFull(s.r, sync[:]); err != nil {
		return err
	}
	if sync != s.sync {
		return fmt.Errorf("sync marker mismatch")
	}
	if s.codec == "snappy" {
		if len(data) < 4 {
			return fmt.Errorf("snappy block too short")
		}
		sum := binary.BigEndian.Uint32(data[len(data)-4:])
		raw, err := snappy.Decode(nil, data[:len(data)-4])
		if err != nil {
			return fmt.Errorf("snappy: %v", err)
		}
		if crc32.ChecksumIEEE(raw) != sum {
			return fmt.Errorf("snappy block checksum mismatch")
		}
		data = raw
	}
	s.block = bytes.NewReader(data)
	s.remaining = count
	return nil
}

func (s *avroSource) readSingleObject() (value.Value, error) {
	var marker [2]byte
	if _, err := io.ReadFull(s.r, marker[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return value.Nil, io.EOF
		}
		return value.Nil, err
	}
	if marker[0] != 0xc3 || marker[1] != 0x01 {
		return value.Nil, fmt.Errorf("bad single-object marker")
	}
	// 8-byte schema fingerprint; the schema came out of band
	var fp [8]byte
	if _, err := io.ReadFull(s.r, fp[:]); err != nil {
		return value.Nil, err
	}
	return decodeAvro(s.r, s.schema)
}

type byteAndFullReader interface {
	io.Reader
	io.ByteReader
}

func readAvroLong(r io.ByteReader) (int64, error) {
	u, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, err
	}
	return int64(u>>1) ^ -int64(u&1), nil
}

func readAvroBytes(r byteAndFullReader) ([]byte, error) {
	n, err := readAvroLong(r)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("negative length")
	}
	buf := make([]byte, n)
	_, err = io.ReadFull(r, buf)
	return buf, err
}

// decodeAvro reads one datum of the given schema. Record field order
// follows the schema, which is what the writer used.
func decodeAvro(r byteAndFullReader, schema avro.Schema) (value.Value, error) {
	switch schema.Type() {
	case avro.Null:
		return value.Nil, nil
	case avro.Boolean:
		b, err := r.ReadByte()
		return value.Bool(b != 0), err
	case avro.Int, avro.Long:
		n, err := readAvroLong(r)
		return value.Int(n), err
	case avro.Float:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return value.Nil, err
		}
		return value.Double(float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[:])))), nil
	case avro.Double:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return value.Nil, err
		}
		return value.Double(math.Float64frombits(binary.LittleEndian.Uint64(buf[:]))), nil
	case avro.Bytes:
		b, err := readAvroBytes(r)
		return value.Bytes(b), err
	case avro.String:
		b, err := readAvroBytes(r)
		return value.String(b), err
	case avro.Record:
		rec := schema.(*avro.RecordSchema)
		var out value.Dict
		for _, f := range rec.Fields() {
			v, err := decodeAvro(r, f.Type())
			if err != nil {
				return value.Nil, err
			}
			out.Set(value.String(f.Name()), v)
		}
		return out, nil
	case avro.Enum:
		idx, err := readAvroLong(r)
		if err != nil {
			return value.Nil, err
		}
		symbols := schema.(*avro.EnumSchema).Symbols()
		if idx < 0 || int(idx) >= len(symbols) {
			return value.Nil, fmt.Errorf("enum index %d out of range", idx)
		}
		return value.String(symbols[idx]), nil
	case avro.Array:
		items := schema.(*avro.ArraySchema).Items()
		var out value.List
		for {
			n, err := readAvroLong(r)
			if err != nil {
				return value.Nil, err
			}
			if n == 0 {
				return out, nil
			}
			if n < 0 {
				if _, err := readAvroLong(r); err != nil { // byte size, unused
					return value.Nil, err
				}
				n = -n
			}
			for i := int64(0); i < n; i++ {
				v, err := decodeAvro(r, items)
				if err != nil {
					return value.Nil, err
				}
				out.Append(v)
			}
		}
	case avro.Map:
		vals := schema.(*avro.MapSchema).Values()
		var out value.Dict
		for {
			n, err := readAvroLong(r)
			if err != nil {
				return value.Nil, err
			}
			if n == 0 {
				return out, nil
			}
			if n < 0 {
				if _, err := readAvroLong(r); err != nil {
					return value.Nil, err
				}
				n = -n
			}
			for i := int64(0); i < n; i++ {
				k, err := readAvroBytes(r)
				if err != nil {
					return value.Nil, err
				}
				v, err := decodeAvro(r, vals)
				if err != nil {
					return value.Nil, err
				}
				out.Set(value.String(k), v)
			}
		}
	case avro.Union:
		types := schema.(*avro.UnionSchema).Types()
		idx, err := readAvroLong(r)
		if err != nil {
			return value.Nil, err
		}
		if idx < 0 || int(idx) >= len(types) {
			return value.Nil, fmt.Errorf("union index %d out of range", idx)
		}
		return decodeAvro(r, types[idx])
	case avro.Fixed:
		size := schema.(*avro.FixedSchema).Size()
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return value.Nil, err
		}
		return value.Bytes(buf), nil
	case avro.Ref:
		return decodeAvro(r, schema.(*avro.RefSchema).Schema())
	}
	return value.Nil, fmt.Errorf("unsupported avro schema type %s", schema.Type())
}

// avroSink writes a container file, one block per record so boundaries
// flush. The schema is mandatory: Avro cannot describe records without
// one.
type avroSink struct {
	w      io.Writer
	schema avro.Schema
	sync   [16]byte
	opened bool
}

func newAvroSink(w io.Writer, opts Options) (Sink, error) {
	if opts.AvroSchema == "" {
		return nil, &errs.UsageError{Msg: "avro output needs --avro-schema"}
	}
	sch, err := avro.Parse(opts.AvroSchema)
	if err != nil {
		return nil, &errs.UsageError{Msg: fmt.Sprintf("avro schema: %v", err)}
	}
	s := &avroSink{w: w, schema: sch}
	// deterministic sync marker derived from the schema text
	sum := crc32.ChecksumIEEE([]byte(sch.String()))
	for i := range s.sync {
		s.sync[i] = byte(sum >> uint(8*(i%4)))
	}
	return s, nil
}

func (s *avroSink) header() error {
	var buf bytes.Buffer
	buf.Write(avroMagic[:])
	writeAvroLong(&buf, 2)
	writeAvroBytes(&buf, []byte("avro.schema"))
	writeAvroBytes(&buf, []byte(s.schema.String()))
	writeAvroBytes(&buf, []byte("avro.codec"))
	writeAvroBytes(&buf, []byte("null"))
	writeAvroLong(&buf, 0)
	buf.Write(s.sync[:])
	_, err := s.w.Write(buf.Bytes())
	return err
}

func (s *avroSink) Write(v value.Value) error {
	if !s.opened {
		if err := s.header(); err != nil {
			return err
		}
		s.opened = true
	}
	var datum bytes.Buffer
	if err := encodeAvro(&datum, s.schema, v); err != nil {
		return &errs.SerializeError{Format: "avro", Msg: err.Error()}
	}
	var block bytes.Buffer
	writeAvroLong(&block, 1)
	writeAvroLong(&block, int64(datum.Len()))
	block.Write(datum.Bytes())
	block.Write(s.sync[:])
	_, err := s.w.Write(block.Bytes())
	return err
}

func (s *avroSink) Close() error {
	if !s.opened {
		return s.header()
	}
	return nil
}

func writeAvroLong(buf *bytes.Buffer, n int64) {
	var tmp [binary.MaxVarintLen64]byte
	l := binary.PutUvarint(tmp[:], uint64(n<<1)^uint64(n>>63))
	buf.Write(tmp[:l])
}

func writeAvroBytes(buf *bytes.Buffer, b []byte) {
	writeAvroLong(buf, int64(len(b)))
	buf.Write(b)
}

// encodeAvro writes one datum under the schema, coercing where the
// model is close enough (Int into long, Int/UInt into double).
func encodeAvro(buf *bytes.Buffer, schema avro.Schema, v value.Value) error {
	switch schema.Type() {
	case avro.Null:
		if !v.Equal(value.Nil) {
			return fmt.Errorf("schema wants null, got %s", value.TypeName(v))
		}
		return nil
	case avro.Boolean:
		b, ok := v.(value.Bool)
		if !ok {
			return fmt.Errorf("schema wants boolean, got %s", value.TypeName(v))
		}
		if b {
			return buf.WriteByte(1)
		}
		return buf.WriteByte(0)
	case avro.Int, avro.Long:
		switch t := v.(type) {
		case value.Int:
			writeAvroLong(buf, int64(t))
			return nil
		case value.UInt:
			if uint64(t) > math.MaxInt64 {
				return fmt.Errorf("integer %d exceeds avro long range", uint64(t))
			}
			writeAvroLong(buf, int64(t))
			return nil
		}
		return fmt.Errorf("schema wants an integer, got %s", value.TypeName(v))
	case avro.Float, avro.Double:
		var f float64
		switch t := v.(type) {
		case value.Int:
			f = float64(t)
		case value.UInt:
			f = float64(t)
		case value.Double:
			f = float64(t)
		default:
			return fmt.Errorf("schema wants a number, got %s", value.TypeName(v))
		}
		if schema.Type() == avro.Float {
			var tmp [4]byte
			binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(float32(f)))
			buf.Write(tmp[:])
			return nil
		}
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(f))
		buf.Write(tmp[:])
		return nil
	case avro.Bytes:
		b, ok := v.(value.Bytes)
		if !ok {
			return fmt.Errorf("schema wants bytes, got %s", value.TypeName(v))
		}
		writeAvroBytes(buf, b)
		return nil
	case avro.String:
		switch t := v.(type) {
		case value.String:
			writeAvroBytes(buf, []byte(t))
			return nil
		case value.Char:
			writeAvroBytes(buf, []byte(string(rune(t))))
			return nil
		}
		return fmt.Errorf("schema wants a string, got %s", value.TypeName(v))
	case avro.Record:
		d, ok := v.(value.Dict)
		if !ok {
			return fmt.Errorf("schema wants a record, got %s", value.TypeName(v))
		}
		for _, f := range schema.(*avro.RecordSchema).Fields() {
			fv, ok := d.Get(f.Name())
			if !ok {
				fv = value.Nil
			}
			if err := encodeAvro(buf, f.Type(), fv); err != nil {
				return fmt.Errorf("field %s: %v", f.Name(), err)
			}
		}
		return nil
	case avro.Enum:
		str, ok := v.(value.String)
		if !ok {
			return fmt.Errorf("schema wants an enum symbol, got %s", value.TypeName(v))
		}
		for i, sym := range schema.(*avro.EnumSchema).Symbols() {
			if sym == string(str) {
				writeAvroLong(buf, int64(i))
				return nil
			}
		}
		return fmt.Errorf("unknown enum symbol %q", string(str))
	case avro.Array:
		l, ok := v.(value.List)
		if !ok {
			return fmt.Errorf("schema wants an array, got %s", value.TypeName(v))
		}
		if l.Len() > 0 {
			writeAvroLong(buf, int64(l.Len()))
			for _, e := range l.Values() {
				if err := encodeAvro(buf, schema.(*avro.ArraySchema).Items(), e); err != nil {
					return err
				}
			}
		}
		writeAvroLong(buf, 0)
		return nil
	case avro.Map:
		d, ok := v.(value.Dict)
		if !ok {
			return fmt.Errorf("schema wants a map, got %s", value.TypeName(v))
		}
		if d.Len() > 0 {
			writeAvroLong(buf, int64(d.Len()))
			for _, p := range d.Pairs() {
				ks, ok := p.Key.(value.String)
				if !ok {
					ks = value.String(p.Key.String())
				}
				writeAvroBytes(buf, []byte(ks))
				if err := encodeAvro(buf, schema.(*avro.MapSchema).Values(), p.Val); err != nil {
					return err
				}
			}
		}
		writeAvroLong(buf, 0)
		return nil
	case avro.Union:
		types := schema.(*avro.UnionSchema).Types()
		for i, t := range types {
			var probe bytes.Buffer
			if err := encodeAvro(&probe, t, v); err == nil {
				writeAvroLong(buf, int64(i))
				buf.Write(probe.Bytes())
				return nil
			}
		}
		return fmt.Errorf("value %s fits no branch of the union", value.TypeName(v))
	case avro.Fixed:
		b, ok := v.(value.Bytes)
		if !ok || len(b) != schema.(*avro.FixedSchema).Size() {
			return fmt.Errorf("schema wants fixed(%d)", schema.(*avro.FixedSchema).Size())
		}
		buf.Write(b)
		return nil
	case avro.Ref:
		return encodeAvro(buf, schema.(*avro.RefSchema).Schema(), v)
	}
	return fmt.Errorf("unsupported avro schema type %s", schema.Type())
}
