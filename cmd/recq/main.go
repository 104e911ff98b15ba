// Command recq is a record-oriented filter: it reads structured records
// from stdin in one wire format, pushes them through a small pipeline
// language, and writes them to stdout in another.
//
//	recq -i json -o yaml 'explode | filter(. > 2) | sort'
//	recq protobuf add api/event.proto
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/alexflint/go-arg"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"recq/codec"
	"recq/engine/operators"
	"recq/engine/parser"
	"recq/engine/pipeline"
	"recq/lib/errs"
	"recq/schema"
)

type protobufAddCmd struct {
	Path string `arg:"positional,required" help:".proto file to compile into the registry"`
}

type protobufListCmd struct{}

type protobufCmd struct {
	Add  *protobufAddCmd  `arg:"subcommand:add"`
	List *protobufListCmd `arg:"subcommand:list"`
}

type cliArgs struct {
	Protobuf *protobufCmd `arg:"subcommand:protobuf" help:"manage the protobuf schema registry"`

	Query  string `arg:"positional" default:"id" help:"pipeline query"`
	Input  string `arg:"-i,--input" default:"json" help:"input format"`
	Output string `arg:"-o,--output" default:"json" help:"output format"`

	CSVNoHeader  bool   `arg:"--csv-no-header" help:"first CSV row is data, not a header"`
	ProtoMessage string `arg:"--proto-message" help:"fully-qualified protobuf message name"`
	AvroSchema   string `arg:"--avro-schema" help:"path to an avro schema JSON"`
	Indented     bool   `arg:"--indented" help:"indent JSON output"`
	Verbose      bool   `arg:"-v,--verbose" help:"log dropped records and pipeline progress"`
}

func (cliArgs) Description() string {
	return "recq reads records from stdin, transforms them, and writes them to stdout"
}

const (
	exitOK     = 0
	exitStream = 1
	exitUsage  = 2
	exitIO     = 3
)

func main() {
	var args cliArgs
	p, err := arg.NewParser(arg.Config{Program: "recq"}, &args)
	if err != nil {
		panic(err)
	}
	if err := p.Parse(os.Args[1:]); err != nil {
		if err == arg.ErrHelp {
			p.WriteHelp(os.Stdout)
			os.Exit(exitOK)
		}
		fmt.Fprintln(os.Stderr, err)
		p.WriteUsage(os.Stderr)
		os.Exit(exitUsage)
	}
	os.Exit(run(args))
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func run(args cliArgs) int {
	log := newLogger(args.Verbose)
	defer log.Sync()

	if args.Protobuf != nil {
		return runProtobuf(args.Protobuf, log)
	}

	query, err := parser.Parse(args.Query)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	inFormat, err := codec.Lookup(args.Input)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}
	outFormat, err := codec.Lookup(args.Output)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	opts, code := buildOptions(args, inFormat.Name, outFormat.Name)
	if code != exitOK {
		return code
	}

	deps := operators.DefaultDeps()
	deps.Log = log
	pipe, err := pipeline.New(query, deps)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	src, err := inFormat.NewSource(os.Stdin, opts)
	if err != nil {
		return report(err)
	}
	sink, err := outFormat.NewSink(os.Stdout, opts)
	if err != nil {
		return report(err)
	}

	runErr := pipe.Run(pipeline.Source(src.Read), sink.Write)
	if runErr == nil {
		runErr = sink.Close()
	}
	if runErr != nil {
		if errors.Is(runErr, syscall.EPIPE) {
			// downstream went away; that is a clean stop
			return exitOK
		}
		return report(runErr)
	}
	return exitOK
}

// buildOptions resolves the format-specific flags, including the
// registry lookup for protobuf streams.
func buildOptions(args cliArgs, inName, outName string) (codec.Options, int) {
	opts := codec.Options{
		CSVHeader:    !args.CSVNoHeader,
		ProtoMessage: args.ProtoMessage,
		Indent:       args.Indented,
	}
	if args.AvroSchema != "" {
		raw, err := os.ReadFile(args.AvroSchema)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return opts, exitIO
		}
		opts.AvroSchema = string(raw)
	}
	if inName == "protobuf" || outName == "protobuf" {
		if args.ProtoMessage == "" {
			fmt.Fprintln(os.Stderr, "protobuf streams need --proto-message")
			return opts, exitUsage
		}
		reg, err := openRegistry()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return opts, exitIO
		}
		desc, err := reg.LookupMessage(args.ProtoMessage)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return opts, exitUsage
		}
		opts.ProtoDescriptor = desc
	}
	return opts, exitOK
}

func openRegistry() (*schema.Registry, error) {
	dir, err := schema.DefaultDir()
	if err != nil {
		return nil, err
	}
	return schema.Open(dir)
}

func runProtobuf(cmd *protobufCmd, log *zap.Logger) int {
	reg, err := openRegistry()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitIO
	}
	switch {
	case cmd.Add != nil:
		if err := reg.AddProto(cmd.Add.Path); err != nil {
			fmt.Fprintln(os.Stderr, err)
			if errs.IsUsage(err) {
				return exitUsage
			}
			return exitIO
		}
		log.Info("schema added", zap.String("path", cmd.Add.Path))
		return exitOK
	case cmd.List != nil:
		names, err := reg.List()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitIO
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return exitOK
	}
	fmt.Fprintln(os.Stderr, "protobuf needs a subcommand: add or list")
	return exitUsage
}

// report maps an error to its exit code per the stream/usage/io
// contract.
func report(err error) int {
	fmt.Fprintln(os.Stderr, err)
	switch {
	case errs.IsUsage(err):
		return exitUsage
	case isStreamError(err):
		return exitStream
	case errors.Is(err, io.ErrClosedPipe):
		return exitIO
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return exitIO
	}
	return exitStream
}

func isStreamError(err error) bool {
	var pe *errs.ParseError
	var se *errs.SerializeError
	var tm *errs.TypeMismatch
	var re *errs.ResourceExhausted
	return errors.As(err, &pe) || errors.As(err, &se) || errors.As(err, &tm) || errors.As(err, &re)
}
