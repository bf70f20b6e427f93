package cache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// sweepConcurrency bounds how many shard directories are swept at once.
const sweepConcurrency = 16

// Stats summarizes the namespace on disk.
type Stats struct {
	Dir        string        `json:"dir"`
	Entries    int           `json:"entries"`
	TotalBytes int64         `json:"totalBytes"`
	Expired    int           `json:"expired"`
	Lifetime   time.Duration `json:"lifetime"`
}

// InvalidateAll removes every file under the namespace's shard directories and
// returns how many were removed. Directories are left in place. Individual
// delete failures are logged and skipped.
func (c *Cache) InvalidateAll(ctx context.Context) (int, error) {
	return c.sweep(ctx, "invalidate_all", func(fs.FileInfo) bool { return true })
}

// Prune removes only entries whose age exceeds the lifetime, including
// temporary files abandoned by interrupted stores. Temporary files younger
// than a minute are kept even when the lifetime is zero.
func (c *Cache) Prune(ctx context.Context) (int, error) {
	return c.sweep(ctx, "prune", func(info fs.FileInfo) bool {
		if strings.HasPrefix(info.Name(), tempPrefix) {
			// A young temp file may belong to a Store still in progress.
			return c.now().Sub(info.ModTime()) > max(c.lifetime, tempGracePeriod)
		}
		return c.expired(info.ModTime())
	})
}

func (c *Cache) sweep(ctx context.Context, op string, match func(fs.FileInfo) bool) (int, error) {
	shards, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, &IOError{Op: op, Path: c.dir, Err: err}
	}

	var removed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)

	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		dir := filepath.Join(c.dir, shard.Name())
		g.Go(func() error {
			r, f := c.sweepShard(gctx, op, dir, match)
			removed.Add(r)
			failed.Add(f)
			return gctx.Err()
		})
	}
	err = g.Wait()

	c.log.Info().
		Str("operation", op).
		Str("dir", c.dir).
		Int64("removed", removed.Load()).
		Int64("failed", failed.Load()).
		Msg("cache sweep finished")

	return int(removed.Load()), err
}

func (c *Cache) sweepShard(
	ctx context.Context,
	op string,
	dir string,
	match func(fs.FileInfo) bool,
) (removed, failed int64) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		c.log.Warn().Err(err).Str("operation", op).Str("dir", dir).Msg("cannot read shard directory")
		return 0, 1
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, failed
		}
		if !entry.Type().IsRegular() {
			continue
		}
		info, infoErr := entry.Info()
		if infoErr != nil {
			// Removed concurrently.
			continue
		}
		if !match(info) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if rmErr := c.remove(path); rmErr != nil {
			if errors.Is(rmErr, fs.ErrNotExist) {
				continue
			}
			c.log.Warn().Err(rmErr).Str("operation", op).Str("path", path).Msg("cannot remove cache file")
			failed++
			continue
		}
		removed++
	}
	return removed, failed
}

// Stats walks the namespace and reports entry count, size and how many
// entries have expired. Temporary files are not counted.
func (c *Cache) Stats() (Stats, error) {
	stats := Stats{Dir: c.dir, Lifetime: c.lifetime}

	shards, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return stats, nil
		}
		return stats, &IOError{Op: "stats", Path: c.dir, Err: err}
	}

	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		entries, readErr := os.ReadDir(filepath.Join(c.dir, shard.Name()))
		if readErr != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.Type().IsRegular() || !isFingerprint(entry.Name()) {
				continue
			}
			info, infoErr := entry.Info()
			if infoErr != nil {
				continue
			}
			stats.Entries++
			stats.TotalBytes += info.Size()
			if c.expired(info.ModTime()) {
				stats.Expired++
			}
		}
	}
	return stats, nil
}
