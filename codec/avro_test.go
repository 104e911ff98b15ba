package codec

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"testing"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recq/lib/value"
)

const userSchema = `{
  "type": "record",
  "name": "User",
  "fields": [
    {"name": "name", "type": "string"},
    {"name": "age", "type": "long"},
    {"name": "email", "type": ["null", "string"], "default": null},
    {"name": "scores", "type": {"type": "array", "items": "double"}}
  ]
}`

func userRecord(name string, age int64) value.Value {
	return value.NewDictFromKV(
		[]string{"name", "age", "email", "scores"},
		[]value.Value{
			value.String(name),
			value.Int(age),
			value.Nil,
			value.NewList(value.Double(1.5), value.Double(2.5)),
		},
	)
}

func TestAvroContainerRoundTrip(t *testing.T) {
	t.Parallel()
	opts := Options{AvroSchema: userSchema}
	out := roundTrip(t, "avro", opts, userRecord("Ada", 36), userRecord("Grace", 85))
	require.Len(t, out, 2)
	assert.True(t, userRecord("Ada", 36).Equal(out[0]), "got %s", out[0])
	assert.True(t, userRecord("Grace", 85).Equal(out[1]))
}

func TestAvroSinkNeedsSchema(t *testing.T) {
	t.Parallel()
	f, _ := Lookup("avro")
	var buf bytes.Buffer
	_, err := f.NewSink(&buf, Options{})
	assert.Error(t, err)
}

func TestAvroUnionPicksBranch(t *testing.T) {
	t.Parallel()
	opts := Options{AvroSchema: userSchema}
	rec := value.NewDictFromKV(
		[]string{"name", "age", "email", "scores"},
		[]value.Value{
			value.String("Ada"),
			value.Int(36),
			value.String("ada@example.com"),
			value.NewList(),
		},
	)
	out := roundTrip(t, "avro", opts, rec)
	require.Len(t, out, 1)
	email, _ := out[0].(value.Dict).Get("email")
	assert.Equal(t, value.String("ada@example.com"), email)
}

// buildSnappyContainer writes a container whose single block is
// snappy-compressed, the way other writers produce them.
func buildSnappyContainer(t *testing.T, schemaJSON string, datum []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(avroMagic[:])
	writeAvroLong(&buf, 2)
	writeAvroBytes(&buf, []byte("avro.schema"))
	writeAvroBytes(&buf, []byte(schemaJSON))
	writeAvroBytes(&buf, []byte("avro.codec"))
	writeAvroBytes(&buf, []byte("snappy"))
	writeAvroLong(&buf, 0)
	sync := bytes.Repeat([]byte{0xab}, 16)
	buf.Write(sync)

	compressed := snappy.Encode(nil, datum)
	var crc [4]byte
	binary.BigEndian.PutUint32(crc[:], crc32.ChecksumIEEE(datum))
	block := append(compressed, crc[:]...)

	writeAvroLong(&buf, 1)
	writeAvroLong(&buf, int64(len(block)))
	buf.Write(block)
	buf.Write(sync)
	return buf.Bytes()
}

func TestAvroSnappyBlocks(t *testing.T) {
	t.Parallel()
	var datum bytes.Buffer
	writeAvroBytes(&datum, []byte("Ada")) // name
	writeAvroLong(&datum, 36)             // age
	writeAvroLong(&datum, 0)              // email: union branch null
	writeAvroLong(&datum, 0)              // scores: empty array
	wire := buildSnappyContainer(t, userSchema, datum.Bytes())

	f, _ := Lookup("avro")
	src, err := f.NewSource(bytes.NewReader(wire), Options{})
	require.NoError(t, err)
	v, err := src.Read()
	require.NoError(t, err)
	d := v.(value.Dict)
	name, _ := d.Get("name")
	age, _ := d.Get("age")
	assert.Equal(t, value.String("Ada"), name)
	assert.Equal(t, value.Int(36), age)

	_, err = src.Read()
	assert.Equal(t, io.EOF, err)
}

func TestAvroSingleObjectFraming(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	buf.Write([]byte{0xc3, 0x01})
	buf.Write(bytes.Repeat([]byte{0x11}, 8)) // fingerprint, unchecked
	writeAvroBytes(&buf, []byte("Grace"))
	writeAvroLong(&buf, 85)
	writeAvroLong(&buf, 0)
	writeAvroLong(&buf, 0)

	f, _ := Lookup("avro")
	src, err := f.NewSource(bytes.NewReader(buf.Bytes()), Options{AvroSchema: userSchema})
	require.NoError(t, err)
	v, err := src.Read()
	require.NoError(t, err)
	name, _ := v.(value.Dict).Get("name")
	assert.Equal(t, value.String("Grace"), name)

	_, err = src.Read()
	assert.Equal(t, io.EOF, err)
}

func TestAvroSingleObjectNeedsSchema(t *testing.T) {
	t.Parallel()
	f, _ := Lookup("avro")
	src, err := f.NewSource(bytes.NewReader([]byte{0xc3, 0x01, 0, 0, 0, 0, 0, 0, 0, 0}), Options{})
	require.NoError(t, err)
	_, err = src.Read()
	assert.Error(t, err)
}
