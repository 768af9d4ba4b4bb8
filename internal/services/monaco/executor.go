package monaco

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"time"
)

// waitDelay bounds how long Wait keeps the output pipe open after the child exits,
// in case a grandchild inherited it.
const waitDelay = 5 * time.Second

// CommandSpec describes one child process.
type CommandSpec struct {
	Path string
	Args []string
	Dir  string
	Env  []string // complete environment of the child
}

// Process is a started child.
type Process interface {
	// Output is stdout and stderr merged in emission order. It reaches EOF after Wait returns.
	Output() io.ReadCloser
	// Wait blocks until the child exits. A non-zero exit is reported as code, not as error.
	Wait() (int, error)
	// Pid returns the OS process id, or 0 if unknown.
	Pid() int
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Start(ctx context.Context, spec CommandSpec) (Process, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Start launches the command. Cancelling ctx kills the child.
func (e *DefaultExecutor) Start(ctx context.Context, spec CommandSpec) (Process, error) {
	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.WaitDelay = waitDelay

	pr, pw := io.Pipe()
	// The same writer for both streams makes os/exec share one pipe, which keeps order.
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		return nil, err
	}

	return &process{cmd: cmd, pr: pr, pw: pw}, nil
}

type process struct {
	cmd *exec.Cmd
	pr  *io.PipeReader
	pw  *io.PipeWriter
}

func (p *process) Output() io.ReadCloser {
	return p.pr
}

func (p *process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *process) Wait() (int, error) {
	err := p.cmd.Wait()
	_ = p.pw.Close()

	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	code := -1
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}
	return code, err
}
