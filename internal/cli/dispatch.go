package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"

	"github.com/google/shlex"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rshade/gruf/internal/cache"
	"github.com/rshade/gruf/internal/config"
	"github.com/rshade/gruf/internal/gerrit"
	"github.com/rshade/gruf/internal/logging"
	"github.com/rshade/gruf/internal/stream"
)

// expandAlias replaces a command alias with its command line. The alias's
// words come before the user's arguments. Aliases are not recursive.
func expandAlias(aliases map[string]config.AliasConfig, args []string) ([]string, error) {
	alias, ok := aliases[args[0]]
	if !ok {
		return args, nil
	}
	words, err := shlex.Split(alias.Cmd)
	if err != nil {
		return nil, fmt.Errorf("expanding alias %q: %w", args[0], err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("alias %q expands to nothing", args[0])
	}
	return append(words, args[1:]...), nil
}

// dispatch runs one gerrit or admin command and writes its output lines.
func dispatch(cmd *cobra.Command, cfg *config.Config, deps Deps, args []string) error {
	ctx := cmd.Context()

	args, err := expandAlias(cfg.CmdAlias, args)
	if err != nil {
		return err
	}
	command := gerrit.Lookup(args[0])
	userArgs := args[1:]

	logger.Debug().
		Ctx(ctx).
		Str("command", command.Name).
		Stringer("kind", command.Kind).
		Strs("args", userArgs).
		Msg("dispatching")

	if command.Kind == gerrit.KindAdmin {
		return runAdmin(ctx, cmd.OutOrStdout(), cfg, command.Name, userArgs)
	}

	var store *cache.Cache
	if !cfg.Cache.Disabled {
		if store, err = openCache(cfg); err != nil {
			return err
		}
	}

	remote, err := gerrit.GitRemote(ctx, deps.Runner, cfg.Remote)
	if err != nil {
		return err
	}
	logger.Debug().Ctx(ctx).Str("host", remote.Host).Str("project", remote.Project).Msg("resolved remote")

	opts := []gerrit.Option{
		gerrit.WithRunner(deps.Runner),
		gerrit.WithQueryMap(cfg.QueryMap),
		gerrit.WithLogger(logging.ComponentLogger(rootLogger, "gerrit")),
		gerrit.WithStreamReader(stream.New(
			stream.WithLauncher(deps.Launcher),
			stream.WithLogger(logging.ComponentLogger(rootLogger, "stream")),
		)),
	}
	if store != nil {
		opts = append(opts, gerrit.WithCache(store))
	}
	client := gerrit.NewClient(remote, opts...)
	if logger.GetLevel() <= zerolog.DebugLevel {
		logServerVersion(ctx, client)
	}

	gerritArgs, err := client.Prepare(ctx, command, userArgs)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch command.Kind {
	case gerrit.KindStreaming:
		s := client.Stream(ctx, gerritArgs...)
		logger.Debug().Ctx(ctx).Str("session", s.ID()).Msg("following event stream")
		if err = writeLines(out, s.All(), true); err != nil {
			_ = s.Close()
			return err
		}
		return s.Err()
	case gerrit.KindUncached:
		lr, execErr := client.Exec(ctx, gerritArgs...)
		if execErr != nil {
			return execErr
		}
		return writeReader(out, lr)
	default:
		lr, fetchErr := client.Fetch(ctx, gerritArgs...)
		if fetchErr != nil {
			return fetchErr
		}
		return writeReader(out, lr)
	}
}

// logServerVersion records the server version for debugging. It goes through
// the cache like any other read-only command.
func logServerVersion(ctx context.Context, client *gerrit.Client) {
	v, err := client.ServerVersion(ctx)
	if err != nil {
		logger.Debug().Ctx(ctx).Err(err).Msg("cannot determine server version")
		return
	}
	logger.Debug().Ctx(ctx).Str("server_version", v.String()).Msg("connected to gerrit")
}

// openCache builds the response cache from the merged config.
func openCache(cfg *config.Config) (*cache.Cache, error) {
	lifetime, ok, err := cfg.CacheLifetime()
	if err != nil {
		return nil, err
	}
	if !ok {
		lifetime = gerrit.DefaultCacheLifetime
	}

	opts := []cache.Option{
		cache.WithLifetime(lifetime),
		cache.WithLogger(logging.ComponentLogger(rootLogger, "cache")),
	}
	if cfg.Cache.Dir != "" {
		opts = append(opts, cache.WithRoot(cfg.Cache.Dir))
	}
	return cache.New(gerrit.CacheNamespace, opts...)
}

func writeReader(w io.Writer, lr *cache.LineReader) error {
	if err := writeLines(w, lr.All(), false); err != nil {
		_ = lr.Close()
		return err
	}
	return lr.Err()
}

// writeLines copies lines to w. Streaming output is flushed per line so a
// pipe consumer sees events as they arrive.
func writeLines(w io.Writer, lines iter.Seq[string], flushEach bool) error {
	bw := bufio.NewWriter(w)
	for line := range lines {
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		if flushEach {
			if err := bw.Flush(); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}
