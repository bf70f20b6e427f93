package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

const (
	// processWaitDelay bounds how long Wait blocks on pipes held open by
	// descendants after the process itself has exited.
	processWaitDelay = 100 * time.Millisecond

	// DefaultStderrLimit caps how much stderr is retained for diagnostics.
	DefaultStderrLimit = 64 * 1024
)

var errEmptyCommand = errors.New("stream: empty command")

// Process is one running instance of a streamed command.
type Process interface {
	// Stdout is the process's standard output. It reaches EOF when the
	// process exits or is killed.
	Stdout() io.Reader
	// Wait reaps the process. A nil error means a clean (zero) exit.
	Wait() error
	// Stderr returns the captured standard error, valid after Wait.
	Stderr() string
	// Kill terminates the process and releases Stdout, so a blocked read
	// returns. It is safe to call more than once.
	Kill() error
}

// Launcher starts processes for a Reader.
type Launcher interface {
	Launch(ctx context.Context, argv []string) (Process, error)
}

// ExecLauncher launches real subprocesses with os/exec.
type ExecLauncher struct {
	// Env replaces the inherited environment when non-nil.
	Env []string
	// StderrLimit caps retained stderr; zero means DefaultStderrLimit.
	StderrLimit int
}

// Launch starts argv. Cancellation is handled by the Reader through Kill, so
// the process is not bound to ctx.
func (l ExecLauncher) Launch(_ context.Context, argv []string) (Process, error) {
	if len(argv) == 0 {
		return nil, errEmptyCommand
	}

	cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec // argv is built by the caller
	if l.Env != nil {
		cmd.Env = l.Env
	} else {
		cmd.Env = os.Environ()
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	limit := l.StderrLimit
	if limit <= 0 {
		limit = DefaultStderrLimit
	}
	stderr := &limitedBuffer{max: limit}
	cmd.Stderr = stderr
	cmd.WaitDelay = processWaitDelay

	if err = cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *limitedBuffer
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Wait() error       { return p.cmd.Wait() }
func (p *execProcess) Stderr() string    { return p.stderr.String() }

// Kill kills the process and closes our end of its stdout. A descendant
// that inherited stdout can keep the pipe open after the process dies, so
// closing it is what unblocks a pending read.
func (p *execProcess) Kill() error {
	var err error
	if p.cmd.Process != nil {
		if killErr := p.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			err = killErr
		}
	}
	if closeErr := p.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && err == nil {
		err = closeErr
	}
	return err
}

// limitedBuffer keeps the first max bytes written to it and discards the rest.
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// exitCode extracts the exit status from a Wait error, or -1.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
