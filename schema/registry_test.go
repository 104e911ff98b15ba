package schema

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recq/lib/errs"
)

func requireProtoc(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("protoc"); err != nil {
		t.Skip("protoc not on PATH")
	}
}

const eventProto = `syntax = "proto3";
package demo;

message Event {
  string name = 1;
  int64 count = 2;
}
`

const wrapperProto = `syntax = "proto3";
package demo;

import "event.proto";

message Wrapper {
  Event event = 1;
}
`

func writeProto(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestAddAndLookup(t *testing.T) {
	requireProtoc(t)
	reg, err := Open(t.TempDir())
	require.NoError(t, err)
	src := t.TempDir()

	require.NoError(t, reg.AddProto(writeProto(t, src, "event.proto", eventProto)))

	md, err := reg.LookupMessage("demo.Event")
	require.NoError(t, err)
	assert.Equal(t, "demo.Event", string(md.FullName()))
	assert.Equal(t, 2, md.Fields().Len())

	names, err := reg.List()
	require.NoError(t, err)
	assert.Contains(t, names, "demo.Event")
}

func TestLookupMissing(t *testing.T) {
	reg, err := Open(t.TempDir())
	require.NoError(t, err)
	_, err = reg.LookupMessage("no.Such")
	var nf *errs.SchemaNotFound
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "no.Such", nf.Symbol)
}

func TestImportsResolveAcrossAdds(t *testing.T) {
	requireProtoc(t)
	reg, err := Open(t.TempDir())
	require.NoError(t, err)
	src := t.TempDir()
	writeProto(t, src, "event.proto", eventProto)

	// wrapper imports event.proto from its own directory on first add
	require.NoError(t, reg.AddProto(writeProto(t, src, "wrapper.proto", wrapperProto)))
	_, err = reg.LookupMessage("demo.Wrapper")
	require.NoError(t, err)
	_, err = reg.LookupMessage("demo.Event")
	assert.NoError(t, err, "--include_imports keeps the closure")
}

func TestMissingImportIsSchemaNotFound(t *testing.T) {
	requireProtoc(t)
	reg, err := Open(t.TempDir())
	require.NoError(t, err)
	src := t.TempDir()
	path := writeProto(t, src, "orphan.proto", `syntax = "proto3";
import "does_not_exist.proto";
message Orphan {}
`)
	err = reg.AddProto(path)
	var nf *errs.SchemaNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestListEmpty(t *testing.T) {
	reg, err := Open(t.TempDir())
	require.NoError(t, err)
	names, err := reg.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}
