// Package exec provides abstractions for command execution.
// This package enables testable code by allowing CLI commands to be mocked.
package exec

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
)

// CommandExecutor defines an interface for executing external commands.
// This abstraction allows the 1Password CLI to be faked in tests.
type CommandExecutor interface {
	// Execute runs name with args. env holds extra KEY=VALUE entries appended
	// to the current process environment for this invocation only.
	// Returns stdout, stderr, and any error that occurred.
	Execute(ctx context.Context, env []string, name string, args ...string) (stdout []byte, stderr []byte, err error)
}

// RealCommandExecutor executes actual commands using os/exec.
type RealCommandExecutor struct{}

// Execute spawns one process and waits for it to exit.
func (r *RealCommandExecutor) Execute(ctx context.Context, env []string, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// DefaultExecutor returns the standard production executor.
func DefaultExecutor() CommandExecutor {
	return &RealCommandExecutor{}
}

// ExitCode extracts the process exit status from an Execute error.
// It returns 0 for a nil error and -1 when the process never ran.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return -1
}

// IsNotFound reports whether err means the executable could not be located.
func IsNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound)
}
