// Package gerrit talks to a Gerrit server over its ssh command interface.
//
// One-shot commands are answered from the local disk cache when a fresh entry
// exists and are otherwise run over ssh, stored, and re-read through the
// cache. stream-events is served by a reconnecting stream instead.
package gerrit

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for remote discovery and command dispatch.
var (
	// ErrNoRemote indicates the git remote used to locate the server is not configured.
	ErrNoRemote = errors.New("unable to determine address of gerrit server")

	// ErrUnsupportedURL indicates a remote URL that is not ssh://.
	ErrUnsupportedURL = errors.New("only ssh:// repository urls are supported")

	// ErrNoCommand indicates dispatch was asked to run an empty command line.
	ErrNoCommand = errors.New("no gerrit command given")
)

// CommandError reports a command that exited non-zero. It carries the
// server's stderr text, which is usually the only useful diagnostic.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = fmt.Sprintf("exit status %d", e.ExitCode)
	}
	if len(e.Args) == 0 {
		return "command failed: " + msg
	}
	return fmt.Sprintf("%s failed: %s", e.Args[0], msg)
}
