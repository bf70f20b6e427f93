package gerrit

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
)

// CommandRunner executes an external command and returns its stdout, stderr, and error.
// This interface enables testing without spawning real subprocesses.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)
}

// execRunner is the default CommandRunner that uses exec.CommandContext.
type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Runner is the package-level CommandRunner. Replace in tests with a mock.
var Runner CommandRunner = &execRunner{} //nolint:gochecknoglobals // Required for test injection

// exitCoder is implemented by *exec.ExitError.
type exitCoder interface {
	ExitCode() int
}

// asCommandError converts a non-zero exit into a *CommandError. It reports
// false for failures that are not exit statuses, such as a missing binary.
func asCommandError(args []string, stderr []byte, err error) (*CommandError, bool) {
	var ec exitCoder
	if !errors.As(err, &ec) {
		return nil, false
	}
	return &CommandError{
		Args:     append([]string(nil), args...),
		ExitCode: ec.ExitCode(),
		Stderr:   string(stderr),
	}, true
}
