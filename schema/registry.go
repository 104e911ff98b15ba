// Package schema owns the on-disk store of compiled Protobuf descriptor
// sets. It is the only component that touches the filesystem for
// schemas; codecs receive resolved descriptors by reference.
package schema

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"

	"recq/lib/errs"
)

// Registry is rooted at a directory of .pb descriptor-set files, one per
// added proto file. The layout is internal but stable: descriptors/ holds
// the compiled sets, sources/ the .proto files they came from so imports
// keep resolving on later adds.
type Registry struct {
	root string
}

// Open returns the registry under dir, creating its layout if needed.
func Open(dir string) (*Registry, error) {
	for _, sub := range []string{"descriptors", "sources"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, err
		}
	}
	return &Registry{root: dir}, nil
}

// DefaultDir is the per-user registry location.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "recq", "protobuf"), nil
}

func (r *Registry) descriptorDir() string { return filepath.Join(r.root, "descriptors") }
func (r *Registry) sourceDir() string     { return filepath.Join(r.root, "sources") }

// AddProto copies the .proto source into the registry and compiles it
// with the protoc on PATH, producing a self-contained descriptor set
// (--include_imports). Imports resolve against previously added sources
// and the file's own directory; a missing import surfaces as
// SchemaNotFound naming the file.
func (r *Registry) AddProto(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	base := filepath.Base(path)
	if err := os.WriteFile(filepath.Join(r.sourceDir(), base), src, 0o644); err != nil {
		return err
	}
	out := filepath.Join(r.descriptorDir(), strings.TrimSuffix(base, filepath.Ext(base))+".pb")
	cmd := exec.Command("protoc",
		"--descriptor_set_out="+out,
		"--include_imports",
		"-I", r.sourceDir(),
		"-I", filepath.Dir(path),
		filepath.Join(r.sourceDir(), base),
	)
	stderr := &strings.Builder{}
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if strings.Contains(msg, "was not found") || strings.Contains(msg, "File not found") {
			return &errs.SchemaNotFound{Symbol: firstMissingImport(msg)}
		}
		return fmt.Errorf("protoc: %v: %s", err, msg)
	}
	return nil
}

func firstMissingImport(protocStderr string) string {
	for _, line := range strings.Split(protocStderr, "\n") {
		if i := strings.Index(line, "File not found."); i >= 0 {
			return strings.TrimSpace(strings.TrimSuffix(line[:i], ":"))
		}
	}
	return strings.TrimSpace(protocStderr)
}

// files loads every stored descriptor set into one resolver.
func (r *Registry) files() (*protoregistry.Files, error) {
	entries, err := os.ReadDir(r.descriptorDir())
	if err != nil {
		return nil, err
	}
	merged := &descriptorpb.FileDescriptorSet{}
	seen := map[string]bool{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pb") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(r.descriptorDir(), e.Name()))
		if err != nil {
			return nil, err
		}
		var fds descriptorpb.FileDescriptorSet
		if err := proto.Unmarshal(raw, &fds); err != nil {
			return nil, fmt.Errorf("corrupt descriptor set %s: %v", e.Name(), err)
		}
		for _, f := range fds.File {
			if seen[f.GetName()] {
				continue
			}
			seen[f.GetName()] = true
			merged.File = append(merged.File, f)
		}
	}
	return protodesc.NewFiles(merged)
}

// LookupMessage resolves a fully-qualified message name to its
// descriptor.
func (r *Registry) LookupMessage(name string) (protoreflect.MessageDescriptor, error) {
	files, err := r.files()
	if err != nil {
		return nil, err
	}
	desc, err := files.FindDescriptorByName(protoreflect.FullName(name))
	if err != nil {
		return nil, &errs.SchemaNotFound{Symbol: name}
	}
	md, ok := desc.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, &errs.SchemaNotFound{Symbol: name}
	}
	return md, nil
}

// List returns the fully-qualified names of every registered message,
// sorted.
func (r *Registry) List() ([]string, error) {
	files, err := r.files()
	if err != nil {
		return nil, err
	}
	var names []string
	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		collectMessages(fd.Messages(), &names)
		return true
	})
	sort.Strings(names)
	return names, nil
}

func collectMessages(msgs protoreflect.MessageDescriptors, out *[]string) {
	for i := 0; i < msgs.Len(); i++ {
		m := msgs.Get(i)
		*out = append(*out, string(m.FullName()))
		collectMessages(m.Messages(), out)
	}
}
