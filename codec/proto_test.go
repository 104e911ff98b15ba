package codec

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"

	"recq/lib/value"
)

// eventDescriptor builds a small message descriptor in memory; the
// registry normally supplies these from compiled descriptor sets.
func eventDescriptor(t *testing.T) protoreflect.MessageDescriptor {
	t.Helper()
	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("event.proto"),
		Package: proto.String("test"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{{
			Name: proto.String("Event"),
			Field: []*descriptorpb.FieldDescriptorProto{
				{
					Name:   proto.String("name"),
					Number: proto.Int32(1),
					Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
					Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
				},
				{
					Name:   proto.String("count"),
					Number: proto.Int32(2),
					Type:   descriptorpb.FieldDescriptorProto_TYPE_INT64.Enum(),
					Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
				},
				{
					Name:   proto.String("tags"),
					Number: proto.Int32(3),
					Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
					Label:  descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum(),
				},
			},
		}},
	}
	fd, err := protodesc.NewFile(fdp, nil)
	require.NoError(t, err)
	return fd.Messages().ByName("Event")
}

func TestProtobufRoundTrip(t *testing.T) {
	t.Parallel()
	desc := eventDescriptor(t)
	opts := Options{ProtoMessage: "test.Event", ProtoDescriptor: desc}
	rec := value.NewDictFromKV(
		[]string{"name", "count", "tags"},
		[]value.Value{
			value.String("click"),
			value.Int(7),
			value.NewList(value.String("a"), value.String("b")),
		},
	)
	out := roundTrip(t, "protobuf", opts, rec, rec)
	require.Len(t, out, 2)
	for _, got := range out {
		d := got.(value.Dict)
		name, _ := d.Get("name")
		count, _ := d.Get("count")
		tags, _ := d.Get("tags")
		assert.Equal(t, value.String("click"), name)
		assert.Equal(t, value.Int(7), count)
		assert.True(t, value.NewList(value.String("a"), value.String("b")).Equal(tags))
	}
}

func TestProtobufNeedsDescriptor(t *testing.T) {
	t.Parallel()
	f, _ := Lookup("protobuf")
	_, err := f.NewSource(bytes.NewReader(nil), Options{ProtoMessage: "missing.Message"})
	assert.Error(t, err)
	var buf bytes.Buffer
	_, err = f.NewSink(&buf, Options{})
	assert.Error(t, err)
}

func TestProtobufRejectsUnknownField(t *testing.T) {
	t.Parallel()
	desc := eventDescriptor(t)
	f, _ := Lookup("protobuf")
	var buf bytes.Buffer
	sink, err := f.NewSink(&buf, Options{ProtoDescriptor: desc})
	require.NoError(t, err)
	err = sink.Write(value.NewDictFromKV([]string{"bogus"}, []value.Value{value.Int(1)}))
	assert.Error(t, err)
}

func TestProtobufEOF(t *testing.T) {
	t.Parallel()
	desc := eventDescriptor(t)
	f, _ := Lookup("protobuf")
	src, err := f.NewSource(bytes.NewReader(nil), Options{ProtoDescriptor: desc})
	require.NoError(t, err)
	_, err = src.Read()
	assert.Equal(t, io.EOF, err)
}
