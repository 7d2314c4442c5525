package command

import (
	"errors"
	"fmt"

	"github.com/aretw0/pvm/pkg/domain"
	"github.com/aretw0/pvm/pkg/ports"
)

// ConfigurationError is returned when a command asks for a session nobody registered a factory for.
type ConfigurationError struct {
	Tag ports.SessionTag
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("no session factory configured for %s", e.Tag)
}

// CommandExecutionError wraps a failure that carries no engine type of its own.
type CommandExecutionError struct {
	Command string
	Err     error
}

func (e *CommandExecutionError) Error() string {
	return fmt.Sprintf("exception while executing command %s: %v", e.Command, e.Err)
}

func (e *CommandExecutionError) Unwrap() error {
	return e.Err
}

// IsEngineError reports whether err already has an engine type and should propagate unwrapped.
func IsEngineError(err error) bool {
	if domain.IsDomainError(err) {
		return true
	}
	var cfg *ConfigurationError
	if errors.As(err, &cfg) {
		return true
	}
	var exec *CommandExecutionError
	return errors.As(err, &exec)
}

// PanicError carries a value recovered from a panicking command, operation or session.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
