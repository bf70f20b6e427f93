package cache

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	shardPrefixLen = 2
	shardCount     = 256
	defaultDirPerm = 0o700
	tempPattern    = ".tmp-*"
	tempPrefix     = ".tmp-"

	// tempGracePeriod is the minimum age before Prune treats a temporary file
	// as abandoned, whatever the lifetime.
	tempGracePeriod = time.Minute
)

// Cache is a disk cache namespace rooted at <root>/<appID>.
// It is safe for concurrent use; see the package documentation.
type Cache struct {
	root     string
	appID    string
	dir      string
	lifetime time.Duration
	dirPerm  os.FileMode
	now      func() time.Time
	remove   func(string) error
	log      zerolog.Logger

	treeReady atomic.Bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithRoot sets the root cache directory shared by all applications.
func WithRoot(dir string) Option {
	return func(c *Cache) {
		c.root = dir
	}
}

// WithLifetime sets how long an entry stays fresh. Zero means every entry is
// already expired unless the lookup bypasses expiry.
func WithLifetime(d time.Duration) Option {
	return func(c *Cache) {
		c.lifetime = d
	}
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithLogger sets the logger used for cache diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) {
		c.log = l
	}
}

// WithDirPerm sets the permissions used when creating cache directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.dirPerm = mode
	}
}

// New returns the cache namespace for appID. Directories are created on the
// first Store, not here.
func New(appID string, opts ...Option) (*Cache, error) {
	id, err := sanitizeAppID(appID)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		appID:    id,
		lifetime: DefaultLifetime,
		dirPerm:  defaultDirPerm,
		now:      time.Now,
		remove:   os.Remove,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.lifetime < 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidLifetime, c.lifetime)
	}
	if c.root == "" {
		root, rootErr := DefaultRoot()
		if rootErr != nil {
			return nil, rootErr
		}
		c.root = root
	}
	c.dir = filepath.Join(c.root, c.appID)

	c.log.Debug().
		Str("dir", c.dir).
		Dur("lifetime", c.lifetime).
		Msg("initialized cache")

	return c, nil
}

// sanitizeAppID replaces path separators so each application gets exactly one
// subdirectory of the root.
func sanitizeAppID(appID string) (string, error) {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_")
	id := r.Replace(strings.TrimSpace(appID))
	if id == "" || id == "." || id == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidAppID, appID)
	}
	return id, nil
}

// Dir returns the namespace directory.
func (c *Cache) Dir() string {
	return c.dir
}

// AppID returns the sanitized application id.
func (c *Cache) AppID() string {
	return c.appID
}

// Lifetime returns the freshness window applied by Load.
func (c *Cache) Lifetime() time.Duration {
	return c.lifetime
}

// Path returns the file that holds (or would hold) the entry for key.
func (c *Cache) Path(key string) string {
	return c.location(Fingerprint(key))
}

func (c *Cache) location(fp string) string {
	return filepath.Join(c.dir, fp[:shardPrefixLen], fp)
}

// ensureTree creates the namespace directory and all shard directories.
// It is idempotent and cheap after the first success.
func (c *Cache) ensureTree() error {
	if c.treeReady.Load() {
		return nil
	}
	for i := range shardCount {
		dir := filepath.Join(c.dir, fmt.Sprintf("%02x", i))
		if err := os.MkdirAll(dir, c.dirPerm); err != nil {
			return &IOError{Op: "mkdir", Path: dir, Err: err}
		}
	}
	c.treeReady.Store(true)
	return nil
}

// Store writes content for key, replacing any existing entry. The content is
// written to a temporary file in the shard directory and renamed into place.
func (c *Cache) Store(key string, content []byte) error {
	if err := c.ensureTree(); err != nil {
		return err
	}

	fp := Fingerprint(key)
	path := c.location(fp)
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, tempPattern)
	if errors.Is(err, fs.ErrNotExist) {
		// Shard removed behind our back; recreate it once.
		if mkErr := os.MkdirAll(dir, c.dirPerm); mkErr != nil {
			return &IOError{Op: "mkdir", Path: dir, Err: mkErr}
		}
		tmp, err = os.CreateTemp(dir, tempPattern)
	}
	if err != nil {
		return &IOError{Op: "store", Path: dir, Err: err}
	}
	tmpPath := tmp.Name()

	if _, err = tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return &IOError{Op: "store", Path: tmpPath, Err: err}
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return &IOError{Op: "store", Path: tmpPath, Err: err}
	}
	if err = os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return &IOError{Op: "store", Path: path, Err: err}
	}

	c.log.Debug().
		Str("operation", "store").
		Str("fingerprint", fp).
		Int("bytes", len(content)).
		Msg("stored in cache")
	return nil
}

// Open looks up key and returns an open handle on its content. The caller
// must close it. A missing or expired entry yields ErrNotFound; expired
// entries are removed on the way out unless bypassExpiry is set.
func (c *Cache) Open(key string, bypassExpiry bool) (*os.File, error) {
	fp := Fingerprint(key)
	path := c.location(fp)

	f, err := os.Open(path) //nolint:gosec // path is derived from a fingerprint
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.log.Debug().Str("operation", "load").Str("fingerprint", fp).Msg("not found in cache")
			return nil, ErrNotFound
		}
		return nil, &IOError{Op: "load", Path: path, Err: err}
	}
	if bypassExpiry {
		c.log.Debug().Str("operation", "load").Str("fingerprint", fp).Msg("found in cache (expiry bypassed)")
		return f, nil
	}

	// Check the handle we hold, not the path: a concurrent Store may rename a
	// fresh file over the path at any moment.
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, &IOError{Op: "stat", Path: path, Err: err}
	}
	if c.expired(info.ModTime()) {
		_ = f.Close()
		c.evict(path, info)
		c.log.Debug().
			Str("operation", "load").
			Str("fingerprint", fp).
			Time("stored_at", info.ModTime()).
			Msg("expired in cache")
		return nil, ErrNotFound
	}

	c.log.Debug().Str("operation", "load").Str("fingerprint", fp).Msg("found in cache")
	return f, nil
}

// Load returns the full content stored for key.
func (c *Cache) Load(key string, bypassExpiry bool) ([]byte, error) {
	f, err := c.Open(key, bypassExpiry)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, &IOError{Op: "read", Path: f.Name(), Err: err}
	}
	return data, nil
}

// LoadLines returns a line-by-line view of the entry for key. The file stays
// open until the lines are consumed or the reader is closed.
func (c *Cache) LoadLines(key string, bypassExpiry bool) (*LineReader, error) {
	f, err := c.Open(key, bypassExpiry)
	if err != nil {
		return nil, err
	}
	return NewLineReader(f), nil
}

// Invalidate removes the entry for key. A missing entry is not an error.
func (c *Cache) Invalidate(key string) error {
	fp := Fingerprint(key)
	path := c.location(fp)

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &IOError{Op: "invalidate", Path: path, Err: err}
	}
	c.log.Debug().Str("operation", "invalidate").Str("fingerprint", fp).Msg("invalidated cache entry")
	return nil
}

func (c *Cache) expired(storedAt time.Time) bool {
	if c.lifetime == 0 {
		return true
	}
	return c.now().Sub(storedAt) > c.lifetime
}

// evict removes a stale entry unless it has already gone or been replaced by
// a newer Store since it was opened.
func (c *Cache) evict(path string, stale fs.FileInfo) {
	cur, err := os.Stat(path)
	if err != nil {
		return
	}
	if !os.SameFile(stale, cur) {
		return
	}
	if err = os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.log.Warn().Err(err).Str("path", path).Msg("failed to remove expired cache entry")
	}
}
