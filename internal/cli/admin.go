package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rshade/gruf/internal/cache"
	"github.com/rshade/gruf/internal/config"
	"github.com/rshade/gruf/internal/gerrit"
)

// printer is the locale-aware message printer for number formatting.
//
//nolint:gochecknoglobals // Global printer is idiomatic for x/text/message usage.
var printer = message.NewPrinter(language.English)

// runAdmin executes a local maintenance command.
func runAdmin(ctx context.Context, w io.Writer, cfg *config.Config, name string, args []string) error {
	if name == gerrit.CmdConfigInit {
		return initConfig(w, cfg.ConfigPath(), slices.Contains(args, "--force"))
	}

	store, err := openCache(cfg)
	if err != nil {
		return err
	}

	switch name {
	case gerrit.CmdInvalidateCache:
		n, sweepErr := store.InvalidateAll(ctx)
		if sweepErr != nil {
			return sweepErr
		}
		_, err = printer.Fprintf(w, "removed %d cached responses from %s\n", n, store.Dir())
		return err

	case gerrit.CmdCachePrune:
		n, sweepErr := store.Prune(ctx)
		if sweepErr != nil {
			return sweepErr
		}
		_, err = printer.Fprintf(w, "pruned %d expired responses from %s\n", n, store.Dir())
		return err

	case gerrit.CmdCacheStats:
		stats, statsErr := store.Stats()
		if statsErr != nil {
			return statsErr
		}
		if slices.Contains(args, "--json") {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}
		return renderStats(w, stats)

	default:
		return fmt.Errorf("unknown admin command %q", name)
	}
}

func renderStats(w io.Writer, stats cache.Stats) error {
	_, err := printer.Fprintf(w,
		"directory: %s\nentries:   %d\nsize:      %d bytes\nexpired:   %d\nlifetime:  %s\n",
		stats.Dir, stats.Entries, stats.TotalBytes, stats.Expired, cache.FormatDuration(stats.Lifetime))
	return err
}

// initConfig writes a config file populated with the built-in defaults.
func initConfig(w io.Writer, path string, force bool) error {
	if path == "" {
		return errors.New("cannot determine config file location, use --config")
	}

	if !force {
		_, err := os.Stat(path)
		if err == nil {
			return errors.New("configuration file already exists, use --force to overwrite")
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("cannot access config path %s: %w", path, err)
		}
	}

	defaults := config.New()
	defaults.QueryMap = gerrit.DefaultQueryMap()
	defaults.Cache.Lifetime = fmt.Sprintf("%d", int(gerrit.DefaultCacheLifetime.Seconds()))
	if err := defaults.Save(path); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	_, err := fmt.Fprintf(w, "Configuration initialized at %s\n", path)
	return err
}
