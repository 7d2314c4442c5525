package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"sync"

	"github.com/aretw0/pvm/pkg/registry"
)

// EnvPrefix prefixes the environment variables a tool receives its inputs in.
const EnvPrefix = "PVM_ARG_"

// Runner runs allow-listed local processes as service behaviors.
// Only commands registered by name can be run; variable values are passed
// through the environment, never as command-line flags.
type Runner struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	baseDir string
}

// Tool is an allowed command execution.
type Tool struct {
	Command string
	Args    []string
	Env     map[string]string
	// Inputs names the variables exported to the process.
	Inputs []string
	// SaveTo receives the output when it is not a JSON object.
	// A JSON object is merged into the scope key by key.
	SaveTo string
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithTools populates the allow-list from a loaded config.
func WithTools(tools map[string]ToolConfig) RunnerOption {
	return func(r *Runner) {
		for name, tool := range tools {
			r.tools[name] = tool.Tool()
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// NewRunner creates a new process runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		tools: make(map[string]Tool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted command to the allow-list.
func (r *Runner) Register(name string, tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = tool
}

// Names returns the allowed tool names in sorted order.
func (r *Runner) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// RegisterAll registers one behavior per allowed tool.
func (r *Runner) RegisterAll(reg *registry.Registry) {
	for _, name := range r.Names() {
		reg.Register(name, r.Behavior(name))
	}
}

// Behavior returns the service behavior running the named tool.
func (r *Runner) Behavior(name string) registry.Behavior {
	return func(ctx context.Context, scope registry.Scope) error {
		r.mu.RLock()
		tool, ok := r.tools[name]
		r.mu.RUnlock()
		if !ok {
			return fmt.Errorf("process tool not registered: %s", name)
		}

		out, err := r.run(ctx, tool, scope)
		if err != nil {
			return fmt.Errorf("tool %s: %w", name, err)
		}
		apply(scope, tool.SaveTo, out)
		return nil
	}
}

func (r *Runner) run(ctx context.Context, tool Tool, scope registry.Scope) (any, error) {
	cmd := exec.CommandContext(ctx, tool.Command, tool.Args...)
	cmd.Dir = r.baseDir

	env := cmd.Environ()
	for k, v := range tool.Env {
		env = append(env, k+"="+v)
	}
	env = append(env,
		"PVM_EXECUTION_ID="+scope.ExecutionID(),
		"PVM_ACTIVITY_ID="+scope.ActivityID(),
	)
	for _, name := range tool.Inputs {
		v, _ := scope.Variable(name)
		env = append(env, EnvPrefix+strings.ToUpper(name)+"="+encode(v))
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("execution failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return decode(stdout.String()), nil
}

func encode(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case int, int64, float64, bool:
		return fmt.Sprintf("%v", v)
	default:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", v)
	}
}

// decode auto-detects JSON output and falls back to the trimmed text.
func decode(output string) any {
	trimmed := strings.TrimSpace(output)
	if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return trimmed
}

func apply(scope registry.Scope, saveTo string, out any) {
	if saveTo != "" {
		scope.SetVariable(saveTo, out)
		return
	}
	if obj, ok := out.(map[string]any); ok {
		for k, v := range obj {
			scope.SetVariable(k, v)
		}
	}
}
