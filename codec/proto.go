package codec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"recq/lib/errs"
	"recq/lib/value"
)

func init() {
	register(Format{
		Name:      "protobuf",
		NewSource: newProtoSource,
		NewSink:   newProtoSink,
	})
}

// protoSource reads varint length-delimited frames of one message type.
// The descriptor arrives resolved; the registry did the lookup.
type protoSource struct {
	r    *bufio.Reader
	desc protoreflect.MessageDescriptor
	fail error
}

func newProtoSource(r io.Reader, opts Options) (Source, error) {
	if opts.ProtoDescriptor == nil {
		return nil, &errs.SchemaNotFound{Symbol: opts.ProtoMessage}
	}
	return &protoSource{r: bufio.NewReader(r), desc: opts.ProtoDescriptor}, nil
}

func (s *protoSource) Read() (value.Value, error) {
	if s.fail != nil {
		return value.Nil, s.fail
	}
	msg := dynamicpb.NewMessage(s.desc)
	if err := protodelim.UnmarshalFrom(s.r, msg); err != nil {
		if errors.Is(err, io.EOF) {
			s.fail = io.EOF
			return value.Nil, io.EOF
		}
		s.fail = &errs.ParseError{Format: "protobuf", Pos: -1, Msg: err.Error(), Err: err}
		return value.Nil, s.fail
	}
	return fromProtoMessage(msg), nil
}

// fromProtoMessage walks fields in declaration order so the Dict is
// stable across runs; Range would be unordered.
func fromProtoMessage(msg protoreflect.Message) value.Value {
	var out value.Dict
	fields := msg.Descriptor().Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if fd.HasPresence() && !msg.Has(fd) {
			continue
		}
		out.Set(value.String(string(fd.Name())), fromProtoValue(fd, msg.Get(fd)))
	}
	return out
}

func fromProtoValue(fd protoreflect.FieldDescriptor, v protoreflect.Value) value.Value {
	switch {
	case fd.IsList():
		l := v.List()
		var out value.List
		for i := 0; i < l.Len(); i++ {
			out.Append(fromProtoScalar(fd, l.Get(i)))
		}
		return out
	case fd.IsMap():
		m := v.Map()
		keys := make([]protoreflect.MapKey, 0, m.Len())
		m.Range(func(k protoreflect.MapKey, _ protoreflect.Value) bool {
			keys = append(keys, k)
			return true
		})
		sortMapKeys(fd.MapKey(), keys)
		var out value.Dict
		for _, k := range keys {
			out.Set(fromProtoScalar(fd.MapKey(), k.Value()), fromProtoScalar(fd.MapValue(), m.Get(k)))
		}
		return out
	}
	return fromProtoScalar(fd, v)
}

func fromProtoScalar(fd protoreflect.FieldDescriptor, v protoreflect.Value) value.Value {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return value.Bool(v.Bool())
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return value.Int(v.Int())
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return value.Int(int64(v.Uint()))
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		u := v.Uint()
		if u <= math.MaxInt64 {
			return value.Int(int64(u))
		}
		return value.UInt(u)
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return value.Double(v.Float())
	case protoreflect.StringKind:
		return value.String(v.String())
	case protoreflect.BytesKind:
		return value.Bytes(v.Bytes())
	case protoreflect.EnumKind:
		ev := fd.Enum().Values().ByNumber(v.Enum())
		if ev != nil {
			return value.String(string(ev.Name()))
		}
		return value.Int(int64(v.Enum()))
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return fromProtoMessage(v.Message())
	}
	return value.Nil
}

func sortMapKeys(fd protoreflect.FieldDescriptor, keys []protoreflect.MapKey) {
	// map entries have no wire order; sort for deterministic output
	lessFn := func(a, b protoreflect.MapKey) bool {
		switch fd.Kind() {
		case protoreflect.BoolKind:
			return !a.Bool() && b.Bool()
		case protoreflect.StringKind:
			return a.String() < b.String()
		case protoreflect.Uint32Kind, protoreflect.Uint64Kind,
			protoreflect.Fixed32Kind, protoreflect.Fixed64Kind:
			return a.Value().Uint() < b.Value().Uint()
		}
		return a.Value().Int() < b.Value().Int()
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && lessFn(keys[j], keys[j-1]); j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
}

// protoSink writes varint length-delimited frames.
type protoSink struct {
	w    io.Writer
	desc protoreflect.MessageDescriptor
}

func newProtoSink(w io.Writer, opts Options) (Sink, error) {
	if opts.ProtoDescriptor == nil {
		return nil, &errs.SchemaNotFound{Symbol: opts.ProtoMessage}
	}
	return &protoSink{w: w, desc: opts.ProtoDescriptor}, nil
}

func (s *protoSink) Write(v value.Value) error {
	d, ok := v.(value.Dict)
	if !ok {
		return &errs.SerializeError{Format: "protobuf", Msg: fmt.Sprintf("record must be a dict, got %s", value.TypeName(v))}
	}
	msg := dynamicpb.NewMessage(s.desc)
	if err := intoProtoMessage(msg, d); err != nil {
		return &errs.SerializeError{Format: "protobuf", Msg: err.Error()}
	}
	if _, err := protodelim.MarshalTo(s.w, msg); err != nil {
		return err
	}
	return nil
}

func (s *protoSink) Close() error { return nil }

func intoProtoMessage(msg *dynamicpb.Message, d value.Dict) error {
	fields := msg.Descriptor().Fields()
	for _, p := range d.Pairs() {
		name, ok := p.Key.(value.String)
		if !ok {
			return fmt.Errorf("field keys must be strings, got %s", value.TypeName(p.Key))
		}
		fd := fields.ByName(protoreflect.Name(name))
		if fd == nil {
			return fmt.Errorf("message %s has no field %q", msg.Descriptor().FullName(), string(name))
		}
		if p.Val.Equal(value.Nil) {
			continue
		}
		pv, err := toProtoValue(msg, fd, p.Val)
		if err != nil {
			return fmt.Errorf("field %s: %v", string(name), err)
		}
		msg.Set(fd, pv)
	}
	return nil
}

func toProtoValue(msg *dynamicpb.Message, fd protoreflect.FieldDescriptor, v value.Value) (protoreflect.Value, error) {
	switch {
	case fd.IsList():
		l, ok := v.(value.List)
		if !ok {
			return protoreflect.Value{}, fmt.Errorf("expected list")
		}
		out := msg.NewField(fd).List()
		for _, e := range l.Values() {
			sv, err := toProtoScalar(msg, fd, e)
			if err != nil {
				return protoreflect.Value{}, err
			}
			out.Append(sv)
		}
		return protoreflect.ValueOfList(out), nil
	case fd.IsMap():
		d, ok := v.(value.Dict)
		if !ok {
			return protoreflect.Value{}, fmt.Errorf("expected dict")
		}
		out := msg.NewField(fd).Map()
		for _, p := range d.Pairs() {
			kv, err := toProtoScalar(msg, fd.MapKey(), p.Key)
			if err != nil {
				return protoreflect.Value{}, err
			}
			vv, err := toProtoScalar(msg, fd.MapValue(), p.Val)
			if err != nil {
				return protoreflect.Value{}, err
			}
			out.Set(kv.MapKey(), vv)
		}
		return protoreflect.ValueOfMap(out), nil
	}
	return toProtoScalar(msg, fd, v)
}

func toProtoScalar(msg *dynamicpb.Message, fd protoreflect.FieldDescriptor, v value.Value) (protoreflect.Value, error) {
	bad := func() (protoreflect.Value, error) {
		return protoreflect.Value{}, fmt.Errorf("can not convert %s to %s", value.TypeName(v), fd.Kind())
	}
	switch fd.Kind() {
	case protoreflect.BoolKind:
		b, ok := v.(value.Bool)
		if !ok {
			return bad()
		}
		return protoreflect.ValueOfBool(bool(b)), nil
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		n, ok := asInt64(v)
		if !ok || n < math.MinInt32 || n > math.MaxInt32 {
			return bad()
		}
		return protoreflect.ValueOfInt32(int32(n)), nil
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		n, ok := asInt64(v)
		if !ok {
			return bad()
		}
		return protoreflect.ValueOfInt64(n), nil
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		n, ok := asUint64(v)
		if !ok || n > math.MaxUint32 {
			return bad()
		}
		return protoreflect.ValueOfUint32(uint32(n)), nil
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		n, ok := asUint64(v)
		if !ok {
			return bad()
		}
		return protoreflect.ValueOfUint64(n), nil
	case protoreflect.FloatKind:
		f, ok := asFloat64(v)
		if !ok {
			return bad()
		}
		return protoreflect.ValueOfFloat32(float32(f)), nil
	case protoreflect.DoubleKind:
		f, ok := asFloat64(v)
		if !ok {
			return bad()
		}
		return protoreflect.ValueOfFloat64(f), nil
	case protoreflect.StringKind:
		switch t := v.(type) {
		case value.String:
			return protoreflect.ValueOfString(string(t)), nil
		case value.Char:
			return protoreflect.ValueOfString(string(rune(t))), nil
		}
		return bad()
	case protoreflect.BytesKind:
		b, ok := v.(value.Bytes)
		if !ok {
			return bad()
		}
		return protoreflect.ValueOfBytes(b), nil
	case protoreflect.EnumKind:
		switch t := v.(type) {
		case value.String:
			ev := fd.Enum().Values().ByName(protoreflect.Name(t))
			if ev == nil {
				return protoreflect.Value{}, fmt.Errorf("unknown enum value %q", string(t))
			}
			return protoreflect.ValueOfEnum(ev.Number()), nil
		case value.Int:
			return protoreflect.ValueOfEnum(protoreflect.EnumNumber(t)), nil
		}
		return bad()
	case protoreflect.MessageKind, protoreflect.GroupKind:
		d, ok := v.(value.Dict)
		if !ok {
			return bad()
		}
		sub := dynamicpb.NewMessage(fd.Message())
		if err := intoProtoMessage(sub, d); err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfMessage(sub), nil
	}
	return bad()
}

func asInt64(v value.Value) (int64, bool) {
	switch t := v.(type) {
	case value.Int:
		return int64(t), true
	case value.UInt:
		if uint64(t) <= math.MaxInt64 {
			return int64(t), true
		}
	}
	return 0, false
}

func asUint64(v value.Value) (uint64, bool) {
	switch t := v.(type) {
	case value.Int:
		if t >= 0 {
			return uint64(t), true
		}
	case value.UInt:
		return uint64(t), true
	}
	return 0, false
}

func asFloat64(v value.Value) (float64, bool) {
	switch t := v.(type) {
	case value.Int:
		return float64(t), true
	case value.UInt:
		return float64(t), true
	case value.Double:
		return float64(t), true
	}
	return 0, false
}
