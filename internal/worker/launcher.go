package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"github.com/vmihailenco/msgpack/v5"
)

// Launcher runs a job somewhere and returns its result.
type Launcher interface {
	Launch(ctx context.Context, req Request) (*Result, error)
}

// CrashError reports a worker process that was killed by a signal.
type CrashError struct {
	JobID  string
	Signal syscall.Signal
}

func (e *CrashError) Error() string {
	return fmt.Sprintf("worker: job %s: process killed by %s", e.JobID, e.Signal)
}

// InProcessLauncher runs jobs in the calling process.
type InProcessLauncher struct {
	Logger *slog.Logger
}

// Launch executes req directly.
func (l InProcessLauncher) Launch(ctx context.Context, req Request) (*Result, error) {
	return Execute(ctx, req, l.Logger)
}

// ProcessLauncher runs each job in a fresh child process so that a crash in
// the solver only loses that job. The child must call Serve on its stdin
// and stdout.
type ProcessLauncher struct {
	// Path is the executable to start. Empty means the running binary.
	Path string
	// Args are passed to the child, typically the hidden worker command.
	Args []string
	// Env replaces the child environment when not nil.
	Env []string
	// Stderr receives the child's logs. Nil means os.Stderr.
	Stderr io.Writer
}

// NewProcessLauncher re-executes the running binary with the worker command.
func NewProcessLauncher() *ProcessLauncher {
	return &ProcessLauncher{Args: []string{"worker"}}
}

// Launch starts a child, sends it req and waits for the reply.
func (l *ProcessLauncher) Launch(ctx context.Context, req Request) (*Result, error) {
	path := l.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("worker: locate executable: %w", err)
		}
		path = exe
	}

	payload, err := msgpack.Marshal(&req)
	if err != nil {
		return nil, fmt.Errorf("worker: encode request: %w", err)
	}

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, path, l.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = l.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if l.Env != nil {
		cmd.Env = l.Env
	}

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("worker: job %s: %w", req.JobID, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				return nil, &CrashError{JobID: req.JobID, Signal: ws.Signal()}
			}
			if stdout.Len() > 0 {
				return decodeReply(req.JobID, stdout.Bytes())
			}
		}
		return nil, fmt.Errorf("worker: job %s: %w", req.JobID, err)
	}
	return decodeReply(req.JobID, stdout.Bytes())
}
