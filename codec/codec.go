// Package codec bridges the wire formats to the Value model. Each format
// contributes a Source (incremental parser) and a Sink (per-record
// serializer); both sides speak only Values so operators never see wire
// bytes.
package codec

import (
	"fmt"
	"io"

	"github.com/samber/lo"
	"golang.org/x/exp/slices"
	"google.golang.org/protobuf/reflect/protoreflect"

	"recq/lib/value"
)

// Source produces records one at a time, returning io.EOF after the
// last. Malformed input surfaces errs.ParseError and poisons the stream:
// a source must keep returning the same error once it has failed.
type Source interface {
	Read() (value.Value, error)
}

// Sink serializes records one at a time. Write must flush at record
// boundaries so downstream consumers see progress; Close flushes
// anything buffered and releases the writer.
type Sink interface {
	Write(v value.Value) error
	Close() error
}

// Options carries the format-specific knobs a codec may need. Zero
// values mean defaults.
type Options struct {
	// CSVHeader controls whether the first CSV row is a header.
	CSVHeader bool
	// ProtoMessage is the fully-qualified message name for protobuf
	// streams; ProtoDescriptor is its resolved descriptor. The driver
	// performs the registry lookup so codecs never touch the filesystem.
	ProtoMessage    string
	ProtoDescriptor protoreflect.MessageDescriptor
	// AvroSchema is the out-of-band schema JSON for single-object Avro
	// streams and for the Avro sink.
	AvroSchema string
	// Indent selects indented output on sinks that support it.
	Indent bool
}

// Format is one wire format's factory pair.
type Format struct {
	Name      string
	NewSource func(r io.Reader, opts Options) (Source, error)
	NewSink   func(w io.Writer, opts Options) (Sink, error)
}

var formats = make(map[string]Format)

func register(f Format) {
	if _, ok := formats[f.Name]; ok {
		panic(fmt.Sprintf("codec %q registered twice", f.Name))
	}
	formats[f.Name] = f
}

// Lookup resolves a format by name.
func Lookup(name string) (Format, error) {
	f, ok := formats[name]
	if !ok {
		return Format{}, fmt.Errorf("unknown format: '%s' (known: %v)", name, Names())
	}
	return f, nil
}

// Names lists registered formats, sorted.
func Names() []string {
	names := lo.Keys(formats)
	slices.Sort(names)
	return names
}
