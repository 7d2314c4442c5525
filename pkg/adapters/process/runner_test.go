package process_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pvm"
	"github.com/aretw0/pvm/pkg/adapters/process"
	"github.com/aretw0/pvm/pkg/dsl"
	"github.com/aretw0/pvm/pkg/registry"
)

type scope struct {
	vars map[string]any
}

func newScope(vars map[string]any) *scope {
	if vars == nil {
		vars = map[string]any{}
	}
	return &scope{vars: vars}
}

func (s *scope) ExecutionID() string { return "e1" }
func (s *scope) ActivityID() string  { return "act" }
func (s *scope) Variable(name string) (any, bool) {
	v, ok := s.vars[name]
	return v, ok
}
func (s *scope) SetVariable(name string, value any) { s.vars[name] = value }

func skipWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestRunner_Behavior(t *testing.T) {
	skipWindows(t)
	runner := process.NewRunner()
	runner.Register("greet", process.Tool{
		Command: "sh",
		Args:    []string{"-c", `echo "hello $PVM_ARG_NAME from $PVM_ACTIVITY_ID"`},
		Inputs:  []string{"name"},
		SaveTo:  "greeting",
	})

	s := newScope(map[string]any{"name": "arthur"})
	require.NoError(t, runner.Behavior("greet")(context.Background(), s))
	assert.Equal(t, "hello arthur from act", s.vars["greeting"])
}

func TestRunner_JSONObjectIsMerged(t *testing.T) {
	skipWindows(t)
	runner := process.NewRunner()
	runner.Register("quote", process.Tool{
		Command: "sh",
		Args:    []string{"-c", `echo '{"price": 42, "currency": "EUR"}'`},
	})

	s := newScope(nil)
	require.NoError(t, runner.Behavior("quote")(context.Background(), s))
	assert.Equal(t, float64(42), s.vars["price"])
	assert.Equal(t, "EUR", s.vars["currency"])
}

func TestRunner_StructuredInputIsJSON(t *testing.T) {
	skipWindows(t)
	runner := process.NewRunner()
	runner.Register("dump", process.Tool{
		Command: "sh",
		Args:    []string{"-c", `printf '%s' "$PVM_ARG_ITEMS"`},
		Inputs:  []string{"items"},
		SaveTo:  "out",
	})

	s := newScope(map[string]any{"items": []any{"a", "b"}})
	require.NoError(t, runner.Behavior("dump")(context.Background(), s))
	assert.Equal(t, []any{"a", "b"}, s.vars["out"])
}

func TestRunner_Failure(t *testing.T) {
	skipWindows(t)
	runner := process.NewRunner()
	runner.Register("fail", process.Tool{
		Command: "sh",
		Args:    []string{"-c", `echo "no stock" >&2; exit 3`},
	})

	err := runner.Behavior("fail")(context.Background(), newScope(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no stock")
}

func TestRunner_Unregistered(t *testing.T) {
	runner := process.NewRunner()
	err := runner.Behavior("hacker_script")(context.Background(), newScope(nil))
	assert.ErrorContains(t, err, "not registered")
}

func TestRunner_BaseDir(t *testing.T) {
	skipWindows(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), []byte("x"), 0o644))

	runner := process.NewRunner(process.WithBaseDir(dir))
	runner.Register("ls", process.Tool{Command: "ls", SaveTo: "files"})

	s := newScope(nil)
	require.NoError(t, runner.Behavior("ls")(context.Background(), s))
	assert.Equal(t, "marker", s.vars["files"])
}

func TestRunner_FailingToolRollsBackCommand(t *testing.T) {
	skipWindows(t)
	runner := process.NewRunner()
	runner.Register("reserve", process.Tool{
		Command: "sh",
		Args:    []string{"-c", `echo '{"reserved": true}'`},
	})
	runner.Register("charge", process.Tool{
		Command: "sh",
		Args:    []string{"-c", `exit 1`},
	})
	reg := registry.NewRegistry()
	runner.RegisterAll(reg)
	assert.Equal(t, []string{"charge", "reserve"}, reg.Names())

	def := dsl.New("order").
		Add("start").Start().Go("wait").
		Add("wait").Task("Wait").Go("reserve").
		Add("reserve").Service("reserve").Go("charge").
		Add("charge").Service("charge").Go("end").
		Add("end").End().
		Done().MustBuild()

	eng, err := pvm.New(pvm.WithBehaviors(reg))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, eng.Deploy(ctx, def))
	id, err := eng.StartProcessInstance(ctx, "order", nil)
	require.NoError(t, err)

	require.Error(t, eng.CompleteTask(ctx, id, "wait", nil))
	vars, err := eng.Variables(ctx, id, "")
	require.NoError(t, err)
	assert.NotContains(t, vars, "reserved")
}
