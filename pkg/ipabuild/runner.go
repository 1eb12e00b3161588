package ipabuild

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// ErrToolFailed is matched by every error returned from a Runner when the
// external tool could not be started or exited non-zero.
var ErrToolFailed = errors.New("tool invocation failed")

// ToolError describes a failed external tool invocation
type ToolError struct {
	Name     string
	Args     []string
	ExitCode int // -1 if the process never started
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	cmdline := strings.TrimSpace(e.Name + " " + strings.Join(e.Args, " "))
	if e.ExitCode < 0 {
		return fmt.Sprintf("failed to run %s: %v", cmdline, e.Err)
	}
	msg := fmt.Sprintf("%s exited with status %d", cmdline, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

func (e *ToolError) Is(target error) bool {
	return target == ErrToolFailed
}

// Runner invokes external tools. Every call blocks until the child exits.
type Runner interface {
	// Run executes the tool, streaming its output.
	Run(name string, args ...string) error
	// Output executes the tool and returns its captured standard output.
	Output(name string, args ...string) ([]byte, error)
}

// ExecRunner runs tools found on PATH with os/exec
type ExecRunner struct {
	Dir    string    // Working directory, empty for the current one
	Stdout io.Writer // Defaults to os.Stdout
	Stderr io.Writer // Defaults to os.Stderr
}

// NewExecRunner creates a runner that executes tools in dir
func NewExecRunner(dir string) *ExecRunner {
	return &ExecRunner{Dir: dir}
}

// Run executes name with args and streams stdout/stderr to the configured writers
func (r *ExecRunner) Run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Dir = r.Dir
	cmd.Stdout = r.stdout()
	cmd.Stderr = r.stderr()

	return toolError(name, args, cmd.Run(), "")
}

// Output executes name with args and returns stdout. Stderr is kept for the error message.
func (r *ExecRunner) Output(name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(name, args...)
	cmd.Dir = r.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := toolError(name, args, cmd.Run(), stderr.String()); err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}

func (r *ExecRunner) stdout() io.Writer {
	if r.Stdout != nil {
		return r.Stdout
	}
	return os.Stdout
}

func (r *ExecRunner) stderr() io.Writer {
	if r.Stderr != nil {
		return r.Stderr
	}
	return os.Stderr
}

func toolError(name string, args []string, err error, stderr string) error {
	if err == nil {
		return nil
	}

	te := &ToolError{
		Name:     name,
		Args:     args,
		ExitCode: -1,
		Stderr:   stderr,
		Err:      err,
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		te.ExitCode = exitErr.ExitCode()
	}
	return te
}
