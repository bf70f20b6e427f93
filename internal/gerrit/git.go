package gerrit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rshade/gruf/internal/logging"
)

// DefaultRemoteName is the git remote consulted when none is configured.
const DefaultRemoteName = "gerrit"

// GitRemote reads remote.<name>.url from the current repository's git config
// and parses it.
func GitRemote(ctx context.Context, runner CommandRunner, name string) (Remote, error) {
	if name == "" {
		name = DefaultRemoteName
	}
	key := "remote." + name + ".url"
	logging.FromContext(ctx).Debug().
		Ctx(ctx).
		Str("component", "gerrit").
		Str("operation", "git_remote").
		Str("key", key).
		Msg("looking up git config")

	stdout, _, err := runner.Run(ctx, "git", "config", "--get", key)
	if err != nil {
		var ec exitCoder
		if errors.As(err, &ec) {
			// git config --get exits 1 when the key is unset.
			return Remote{}, fmt.Errorf("%w: remote %q", ErrNoRemote, name)
		}
		return Remote{}, fmt.Errorf("running git config: %w", err)
	}

	raw := strings.TrimSpace(string(stdout))
	if raw == "" {
		return Remote{}, fmt.Errorf("%w: remote %q", ErrNoRemote, name)
	}
	return ParseRemoteURL(raw)
}

// RevParse resolves a git revision to its commit id.
func RevParse(ctx context.Context, runner CommandRunner, rev string) (string, error) {
	logging.FromContext(ctx).Debug().
		Ctx(ctx).
		Str("component", "gerrit").
		Str("operation", "rev_parse").
		Str("rev", rev).
		Msg("looking up rev")

	args := []string{"rev-parse", "--verify", rev + "^{commit}"}
	stdout, stderr, err := runner.Run(ctx, "git", args...)
	if err != nil {
		if cmdErr, ok := asCommandError(append([]string{"git"}, args...), stderr, err); ok {
			return "", fmt.Errorf("resolving %q: %w", rev, cmdErr)
		}
		return "", fmt.Errorf("running git rev-parse: %w", err)
	}
	return strings.TrimSpace(string(stdout)), nil
}
