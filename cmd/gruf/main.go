// Command gruf is a command line client for the Gerrit ssh interface.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rshade/gruf/internal/cli"
	"github.com/rshade/gruf/internal/gerrit"
	"github.com/rshade/gruf/pkg/version"
)

// exitInterrupted is the conventional status for a SIGINT-terminated command.
const exitInterrupted = 130

func run(ctx context.Context) error {
	root := cli.NewRootCmd(version.GetVersion())
	return root.ExecuteContext(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	interrupted := ctx.Err() != nil
	stop()

	if interrupted {
		os.Exit(exitInterrupted)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "gruf: %v\n", err)
		os.Exit(extractExitCode(err))
	}
}

// extractExitCode maps an error to the process exit status. A failed gerrit
// command exits with the remote command's status.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}
	var cmdErr *gerrit.CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode > 0 {
		return cmdErr.ExitCode
	}
	return 1
}
