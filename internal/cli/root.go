// Package cli implements the gruf command line.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rshade/gruf/internal/config"
	"github.com/rshade/gruf/internal/gerrit"
	"github.com/rshade/gruf/internal/stream"
)

// isTerminal checks if the given file is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// rootLogger is the configured process logger; logger is its cli component.
var (
	rootLogger = zerolog.Nop() //nolint:gochecknoglobals // Set once per invocation by setupLogging
	logger     = zerolog.Nop() //nolint:gochecknoglobals // Required for zerolog context integration
)

// ErrNoCommand is returned when gruf is run without a gerrit command.
var ErrNoCommand = errors.New("you must specify a gerrit command")

// Deps are the external collaborators of the root command. Zero values select
// the real implementations.
type Deps struct {
	// Runner runs git and one-shot ssh commands.
	Runner gerrit.CommandRunner
	// Launcher starts streaming ssh processes.
	Launcher stream.Launcher
}

// rootFlags holds the global flag values.
type rootFlags struct {
	debug         bool
	verbose       bool
	remote        string
	configPath    string
	cacheLifetime int
	noCache       bool
}

// NewRootCmd creates the root Cobra command for the gruf CLI.
func NewRootCmd(ver string) *cobra.Command {
	return NewRootCmdWithDeps(ver, Deps{})
}

// NewRootCmdWithDeps creates the root command with injected collaborators for testability.
func NewRootCmdWithDeps(ver string, deps Deps) *cobra.Command {
	if deps.Runner == nil {
		deps.Runner = gerrit.Runner
	}
	if deps.Launcher == nil {
		deps.Launcher = stream.ExecLauncher{}
	}

	var flags rootFlags
	cmd := &cobra.Command{
		Use:           "gruf [flags] <command> [args...]",
		Short:         "A command line client for the Gerrit ssh interface",
		Long:          rootCmdLong,
		Version:       ver,
		Example:       rootCmdExample,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 {
				return ErrNoCommand
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags, args[0] == gerrit.CmdConfigInit)
			if err != nil {
				return err
			}

			logResult := setupLogging(cmd, cfg.Logging)
			defer func() { _ = logResult.Close() }()

			return dispatch(cmd, cfg, deps, args)
		},
	}

	// Everything after the gerrit command belongs to the server.
	cmd.Flags().SetInterspersed(false)

	cmd.Flags().BoolVarP(&flags.debug, "debug", "d", false, "enable debug logging")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable informational logging")
	cmd.Flags().StringVarP(&flags.remote, "remote", "r", "",
		"git remote that points at the gerrit server (default \"gerrit\")")
	cmd.Flags().StringVarP(&flags.configPath, "config", "f", "",
		"config file (default $XDG_CONFIG_HOME/gruf/gruf.yml)")
	cmd.Flags().IntVarP(&flags.cacheLifetime, "cache-lifetime", "L", 0,
		"seconds a cached response stays fresh (0 = always refetch, overrides config file and env var)")
	cmd.Flags().BoolVar(&flags.noCache, "no-cache", false, "bypass the response cache")

	return cmd
}

// loadConfig merges defaults, the config file, the environment and flags,
// in increasing order of precedence.
// A missing config file is tolerated when creating one.
func loadConfig(cmd *cobra.Command, flags rootFlags, creating bool) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil && !(creating && errors.Is(err, fs.ErrNotExist)) {
		return nil, err
	}
	cfg.ApplyEnv()

	if cmd.Flags().Changed("cache-lifetime") {
		if flags.cacheLifetime < 0 {
			return nil, fmt.Errorf("cache-lifetime must be >= 0, got %d", flags.cacheLifetime)
		}
		cfg.Cache.Lifetime = strconv.Itoa(flags.cacheLifetime)
	}
	if flags.noCache {
		cfg.Cache.Disabled = true
	}
	if flags.remote != "" {
		cfg.Remote = flags.remote
	}
	switch {
	case flags.debug:
		cfg.Logging.Level = zerolog.LevelDebugValue
	case flags.verbose:
		cfg.Logging.Level = zerolog.LevelInfoValue
	}

	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

const rootCmdLong = `gruf runs Gerrit ssh commands for the repository in the current directory.

The server is located through the "gerrit" git remote (see --remote). Read-only
commands are cached on disk; stream-events reconnects automatically when the
connection drops.`

const rootCmdExample = `  # List open changes in this project
  gruf query here open

  # Show your own changes, bypassing the cache
  gruf --no-cache query mine

  # Approve and verify the change for the current commit
  gruf confirm git:HEAD

  # Follow server events
  gruf stream-events

  # Drop all cached responses
  gruf invalidate-cache`
