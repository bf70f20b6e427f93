package gerrit

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/google/shlex"
)

// Kind selects how a command's output is obtained.
type Kind int

const (
	// KindCached commands are read-only and served through the disk cache.
	KindCached Kind = iota
	// KindUncached commands change server state and always run.
	KindUncached
	// KindStreaming commands never exit on their own and are read through a
	// reconnecting stream.
	KindStreaming
	// KindAdmin commands act on local state and never reach the server.
	KindAdmin
)

func (k Kind) String() string {
	switch k {
	case KindCached:
		return "cached"
	case KindUncached:
		return "uncached"
	case KindStreaming:
		return "streaming"
	case KindAdmin:
		return "admin"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Local administrative commands. They act on the cache or config file and
// never reach the server.
const (
	CmdInvalidateCache = "invalidate-cache"
	CmdCacheStats      = "cache-stats"
	CmdCachePrune      = "cache-prune"
	CmdConfigInit      = "config-init"
)

// Command describes one entry of the dispatch table.
type Command struct {
	Name string
	Kind Kind
	// Flags are inserted between the command name and the user's arguments.
	Flags []string
	// ExpandQuery applies query aliases and git: revisions to the arguments.
	ExpandQuery bool
}

// Args returns the full gerrit argument vector for userArgs.
func (c Command) Args(userArgs []string) []string {
	args := make([]string, 0, 1+len(c.Flags)+len(userArgs))
	args = append(args, c.Name)
	args = append(args, c.Flags...)
	return append(args, userArgs...)
}

//nolint:gochecknoglobals // Static dispatch table.
var commandTable = map[string]Command{
	"query": {
		Kind:        KindCached,
		Flags:       []string{"--format", "json", "--current-patch-set", "--comments", "--all-approvals"},
		ExpandQuery: true,
	},
	"ls-projects":   {Kind: KindCached, Flags: []string{"--format", "json"}},
	"ls-groups":     {Kind: KindCached, Flags: []string{"-v"}},
	"ls-members":    {Kind: KindCached},
	"version":       {Kind: KindCached},
	"apropos":       {Kind: KindCached},
	"review":        {Kind: KindUncached, ExpandQuery: true},
	"ban-commit":    {Kind: KindUncached},
	"create-branch": {Kind: KindUncached},
	"set-reviewers": {Kind: KindUncached},
	"rename-group":  {Kind: KindUncached},
	"stream-events": {Kind: KindStreaming},

	CmdInvalidateCache: {Kind: KindAdmin},
	CmdCacheStats:      {Kind: KindAdmin},
	CmdCachePrune:      {Kind: KindAdmin},
	CmdConfigInit:      {Kind: KindAdmin},
}

// Lookup returns the table entry for name. Unknown commands are passed to the
// server verbatim and cached.
func Lookup(name string) Command {
	cmd, ok := commandTable[name]
	if !ok {
		cmd = Command{Kind: KindCached}
	}
	cmd.Name = name
	return cmd
}

// DefaultQueryMap returns the built-in query aliases.
func DefaultQueryMap() map[string]string {
	return map[string]string{
		"mine": "owner:self",
		"here": "project:{project}",
		"open": "status:open",
	}
}

// MergeQueryMap returns the defaults overlaid with overrides.
func MergeQueryMap(overrides map[string]string) map[string]string {
	m := DefaultQueryMap()
	maps.Copy(m, overrides)
	return m
}

const gitRevPrefix = "git:"

// expandQuery rewrites query arguments: an alias is replaced by its
// (placeholder-substituted, shell-split) expansion and git:<rev> by the
// commit id it resolves to. Everything else is kept.
func (c *Client) expandQuery(ctx context.Context, args []string) ([]string, error) {
	placeholders := strings.NewReplacer(
		"{project}", c.remote.Project,
		"{user}", c.remote.User,
		"{host}", c.remote.Host,
		"{port}", strconv.Itoa(c.remote.Port),
	)

	out := make([]string, 0, len(args))
	for _, arg := range args {
		if expansion, ok := c.queryMap[arg]; ok {
			words, err := shlex.Split(placeholders.Replace(expansion))
			if err != nil {
				return nil, fmt.Errorf("expanding query alias %q: %w", arg, err)
			}
			out = append(out, words...)
			continue
		}
		if rev, ok := strings.CutPrefix(arg, gitRevPrefix); ok {
			id, err := RevParse(ctx, c.runner, rev)
			if err != nil {
				return nil, err
			}
			out = append(out, id)
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}
