package main

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	})
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd.PersistentFlags())
	for _, c := range rootCmd.Commands() {
		resetFlags(c.Flags())
	}
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "pvm version "))
}

func TestRun_Demo(t *testing.T) {
	out, err := execute(t, "run", "--compensate")
	require.NoError(t, err)

	assert.Contains(t, out, "service book-hotel")
	assert.Contains(t, out, "compensation thrown: 3 handler(s)")
	assert.Contains(t, out, "completed")
	assert.Less(t, strings.Index(out, "service cancel-flight"), strings.Index(out, "service cancel-hotel"),
		"flights were booked last so they are cancelled first")
}

func TestRun_SQLiteDefinition(t *testing.T) {
	dir := t.TempDir()
	defPath := filepath.Join(dir, "review.yaml")
	require.NoError(t, os.WriteFile(defPath, []byte(`
id: review
activities:
  - {id: start, type: start, outgoing: [check]}
  - {id: check, type: service, behavior: lint, outgoing: [approve]}
  - {id: approve, type: task, name: Approve, outgoing: [end]}
  - {id: end, type: end}
`), 0o644))
	t.Setenv("PVM_STORE_BACKEND", "sqlite")
	t.Setenv("PVM_SQLITE_PATH", filepath.Join(dir, "pvm.db"))

	out, err := execute(t, "run", defPath)
	require.NoError(t, err)
	assert.Contains(t, out, "service lint")
	assert.Contains(t, out, "completing Approve")
	assert.Contains(t, out, "instance_end")

	out, err = execute(t, "instances")
	require.NoError(t, err)
	assert.Contains(t, out, "review\tcompleted")
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(good, []byte("id: a\nactivities:\n  - {id: s, type: start}\n"), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte("id: b\nactivities:\n  - {id: s, type: start, outgoing: [x]}\n"), 0o644))

	out, err := execute(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "a is valid")

	_, err = execute(t, "validate", bad)
	assert.Error(t, err)
}

func TestUnknownBackend(t *testing.T) {
	_, err := execute(t, "--store", "etcd", "instances")
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestGraph_Demo(t *testing.T) {
	out, err := execute(t, "graph")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.Contains(t, out, "hotel -. compensate .-> undo_hotel")
}

func TestRun_FileBackend(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PVM_FILE_PATH", dir)

	_, err := execute(t, "--store", "file", "run")
	require.NoError(t, err)

	out, err := execute(t, "--store", "file", "instances")
	require.NoError(t, err)
	assert.Contains(t, out, "trip\tcompleted")

	id := strings.SplitN(out, "\t", 2)[0]
	out, err = execute(t, "--store", "file", "history", id)
	require.NoError(t, err)
	assert.Contains(t, out, "instance_end")
}

func TestRun_EncryptedFileBackend(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PVM_FILE_PATH", dir)
	t.Setenv("PVM_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{9}, 32)))

	_, err := execute(t, "--store", "file", "run", "--var", "secret=swordfish")
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "instances"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(dir, "instances", entries[0].Name()))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "swordfish")
	assert.Contains(t, string(data), "__encrypted__")

	out, err := execute(t, "--store", "file", "instances")
	require.NoError(t, err)
	assert.Contains(t, out, "trip\tcompleted")
}

func TestRun_Tools(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	dir := t.TempDir()
	tools := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(tools, []byte(`
tools:
  - name: book-hotel
    command: sh
    args: ["-c", "echo booked $PVM_ARG_GUEST > hotel.txt"]
    inputs: [guest]
`), 0o644))
	t.Setenv("PVM_TOOLS_DIR", dir)

	out, err := execute(t, "run", "--tools", tools, "--var", "guest=arthur")
	require.NoError(t, err)
	assert.NotContains(t, out, "service book-hotel")
	assert.Contains(t, out, "service book-flight")

	data, err := os.ReadFile(filepath.Join(dir, "hotel.txt"))
	require.NoError(t, err)
	assert.Equal(t, "booked arthur\n", string(data))
}
