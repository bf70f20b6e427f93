package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable clock for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	base := []Option{WithRoot(t.TempDir()), WithLifetime(time.Minute)}
	c, err := New("gruf.gerrit", append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func TestFingerprint(t *testing.T) {
	t.Run("KnownVectors", func(t *testing.T) {
		assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", Fingerprint(""))
		assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", Fingerprint("abc"))
	})

	t.Run("Deterministic", func(t *testing.T) {
		for _, key := range []string{"query", "user:host:29418\x00query\x00status:open", "\x00\xff"} {
			fp := Fingerprint(key)
			assert.Equal(t, fp, Fingerprint(key))
			assert.Len(t, fp, FingerprintLen)
			assert.True(t, isFingerprint(fp))
		}
	})

	t.Run("Distinct", func(t *testing.T) {
		assert.NotEqual(t, Fingerprint("a"), Fingerprint("b"))
	})
}

func TestNew(t *testing.T) {
	t.Run("LazyTree", func(t *testing.T) {
		root := t.TempDir()
		c, err := New("app", WithRoot(root))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "app"), c.Dir())
		assert.Equal(t, DefaultLifetime, c.Lifetime())
		assert.NoDirExists(t, c.Dir())
	})

	t.Run("SanitizesAppID", func(t *testing.T) {
		c, err := New("gruf/gerrit:prod", WithRoot(t.TempDir()))
		require.NoError(t, err)
		assert.Equal(t, "gruf_gerrit_prod", c.AppID())
	})

	t.Run("RejectsReservedAppID", func(t *testing.T) {
		for _, id := range []string{"", "  ", ".", ".."} {
			_, err := New(id, WithRoot(t.TempDir()))
			assert.ErrorIs(t, err, ErrInvalidAppID, "appID %q", id)
		}
	})

	t.Run("RejectsNegativeLifetime", func(t *testing.T) {
		_, err := New("app", WithRoot(t.TempDir()), WithLifetime(-time.Second))
		assert.ErrorIs(t, err, ErrInvalidLifetime)
	})

	t.Run("DefaultRootFromEnv", func(t *testing.T) {
		root := t.TempDir()
		t.Setenv(EnvCacheDir, root)
		c, err := New("app")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "app"), c.Dir())
	})
}

func TestStoreLoad(t *testing.T) {
	c := newTestCache(t)

	t.Run("MissBeforeStore", func(t *testing.T) {
		_, err := c.Load("absent", false)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		content := []byte("{\"type\":\"stats\"}\n\x00binary\xff\n")
		require.NoError(t, c.Store("k", content))

		got, err := c.Load("k", false)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})

	t.Run("EmptyContent", func(t *testing.T) {
		require.NoError(t, c.Store("empty", nil))
		got, err := c.Load("empty", false)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, c.Store("k", []byte("first")))
		require.NoError(t, c.Store("k", []byte("second")))
		got, err := c.Load("k", false)
		require.NoError(t, err)
		assert.Equal(t, "second", string(got))
	})

	t.Run("NoTempFilesLeft", func(t *testing.T) {
		matches, err := filepath.Glob(filepath.Join(c.Dir(), "*", ".tmp-*"))
		require.NoError(t, err)
		assert.Empty(t, matches)
	})
}

func TestStore_RecreatesMissingShard(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Store("warmup", []byte("x")))

	shard := filepath.Dir(c.Path("k"))
	require.NoError(t, os.RemoveAll(shard))

	require.NoError(t, c.Store("k", []byte("v")))
	got, err := c.Load("k", false)
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
}

func TestLoad_Expiry(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, WithLifetime(time.Minute), WithClock(clock.Now))

	require.NoError(t, c.Store("k", []byte("content")))
	clock.Advance(time.Minute + time.Second)

	_, err := c.Load("k", false)
	require.ErrorIs(t, err, ErrNotFound)

	// The first post-expiry lookup evicted the entry.
	_, err = c.Load("k", true)
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoFileExists(t, c.Path("k"))
}

func TestLoad_BypassBeforeEviction(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, WithLifetime(time.Minute), WithClock(clock.Now))

	require.NoError(t, c.Store("k", []byte("content")))
	clock.Advance(time.Hour)

	got, err := c.Load("k", true)
	require.NoError(t, err)
	assert.Equal(t, "content", string(got))
	assert.FileExists(t, c.Path("k"))
}

func TestLoad_FreshWithinLifetime(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, WithLifetime(time.Minute), WithClock(clock.Now))

	require.NoError(t, c.Store("k", []byte("content")))
	clock.Advance(30 * time.Second)

	got, err := c.Load("k", false)
	require.NoError(t, err)
	assert.Equal(t, "content", string(got))
}

func TestLoad_ZeroLifetimeAlwaysExpired(t *testing.T) {
	c := newTestCache(t, WithLifetime(0))
	require.NoError(t, c.Store("k", []byte("content")))

	got, err := c.Load("k", true)
	require.NoError(t, err)
	assert.Equal(t, "content", string(got))

	_, err = c.Load("k", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoad_IOErrorIsNotAMiss(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Store("warmup", []byte("x")))

	// A directory where the entry file should be cannot be read as content.
	require.NoError(t, os.MkdirAll(c.Path("k"), 0o700))

	_, err := c.Load("k", false)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "read", ioErr.Op)
	assert.Equal(t, c.Path("k"), ioErr.Path)
}

func TestInvalidate(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Store("k1", []byte("one")))
	require.NoError(t, c.Store("k2", []byte("two")))

	require.NoError(t, c.Invalidate("k1"))
	_, err := c.Load("k1", false)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := c.Load("k2", false)
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	assert.NoError(t, c.Invalidate("k1"), "invalidating a missing entry is not an error")
	assert.NoError(t, c.Invalidate("never-stored"))
}

func TestInvalidateAll(t *testing.T) {
	c := newTestCache(t)
	keys := make([]string, 50)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
		require.NoError(t, c.Store(keys[i], []byte(keys[i])))
	}
	// A temp file abandoned by an interrupted store is swept too.
	stray := filepath.Join(c.Dir(), "00", ".tmp-abandoned")
	require.NoError(t, os.WriteFile(stray, []byte("partial"), 0o600))

	removed, err := c.InvalidateAll(t.Context())
	require.NoError(t, err)
	assert.Equal(t, len(keys)+1, removed)

	for _, k := range keys {
		_, loadErr := c.Load(k, true)
		assert.ErrorIs(t, loadErr, ErrNotFound, "key %s", k)
	}
	assert.NoFileExists(t, stray)

	shards, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	assert.Len(t, shards, shardCount, "shard directories are left in place")
}

func TestInvalidateAll_ContinuesPastDeleteFailures(t *testing.T) {
	var logs bytes.Buffer
	c := newTestCache(t, WithLogger(zerolog.New(&logs)))

	keys := make([]string, 20)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
		require.NoError(t, c.Store(keys[i], []byte(keys[i])))
	}
	stuck := c.Path(keys[7])
	c.remove = func(path string) error {
		if path == stuck {
			return fs.ErrPermission
		}
		return os.Remove(path)
	}

	removed, err := c.InvalidateAll(t.Context())
	require.NoError(t, err)
	assert.Equal(t, len(keys)-1, removed)

	for _, k := range keys {
		_, loadErr := c.Load(k, true)
		if c.Path(k) == stuck {
			assert.NoError(t, loadErr, "undeletable entry survives")
			continue
		}
		assert.ErrorIs(t, loadErr, ErrNotFound, "key %s", k)
	}
	assert.Contains(t, logs.String(), "cannot remove cache file")
	assert.Contains(t, logs.String(), stuck)
	assert.Contains(t, logs.String(), `"failed":1`)
}

func TestInvalidateAll_EmptyNamespace(t *testing.T) {
	c := newTestCache(t)
	removed, err := c.InvalidateAll(t.Context())
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestInvalidateAll_Canceled(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Store("k", []byte("v")))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := c.InvalidateAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInvalidateAll_LeavesOtherNamespaces(t *testing.T) {
	root := t.TempDir()
	a, err := New("app-a", WithRoot(root))
	require.NoError(t, err)
	b, err := New("app-b", WithRoot(root))
	require.NoError(t, err)

	require.NoError(t, a.Store("k", []byte("a")))
	require.NoError(t, b.Store("k", []byte("b")))

	_, err = a.InvalidateAll(t.Context())
	require.NoError(t, err)

	got, err := b.Load("k", false)
	require.NoError(t, err)
	assert.Equal(t, "b", string(got))
}

func TestSharding(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Store("k", []byte("v")))

	shards, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	require.Len(t, shards, shardCount)
	assert.Equal(t, "00", shards[0].Name())
	assert.Equal(t, "ff", shards[shardCount-1].Name())

	seen := make(map[string]string)
	for i := range 500 {
		key := fmt.Sprintf("key-%d", i)
		fp := Fingerprint(key)
		path := c.Path(key)

		assert.Equal(t, filepath.Join(c.Dir(), fp[:2], fp), path)
		if other, dup := seen[path]; dup {
			t.Fatalf("keys %q and %q share location %s", other, key, path)
		}
		seen[path] = key
	}
}

func TestConcurrentStoreRace(t *testing.T) {
	c := newTestCache(t)
	content := bytes.Repeat([]byte("0123456789abcdef"), 64*1024)

	var torn atomic.Int64
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Store("k", content))
		}()
		go func() {
			defer wg.Done()
			got, err := c.Load("k", false)
			if errors.Is(err, ErrNotFound) {
				return
			}
			if assert.NoError(t, err) && !bytes.Equal(content, got) {
				torn.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, torn.Load(), "readers must never observe a partial entry")
	got, err := c.Load("k", false)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestLoadLines(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Store("k", []byte("a\nb\r\nc")))

	t.Run("AllLines", func(t *testing.T) {
		lr, err := c.LoadLines("k", false)
		require.NoError(t, err)
		lines, err := lr.Lines()
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, lines)
		assert.True(t, lr.closed)
	})

	t.Run("EarlyBreakCloses", func(t *testing.T) {
		lr, err := c.LoadLines("k", false)
		require.NoError(t, err)
		for line := range lr.All() {
			assert.Equal(t, "a", line)
			break
		}
		assert.True(t, lr.closed)
		assert.NoError(t, lr.Close())
	})

	t.Run("Miss", func(t *testing.T) {
		_, err := c.LoadLines("absent", false)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("InMemory", func(t *testing.T) {
		lines, err := ReadLines([]byte("x\ny\n")).Lines()
		require.NoError(t, err)
		assert.Equal(t, []string{"x", "y"}, lines)
	})
}

func TestPruneAndStats(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, WithLifetime(time.Minute), WithClock(clock.Now))

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.Entries)

	require.NoError(t, c.Store("old", []byte("12345")))
	// Backdate one entry past the lifetime.
	past := clock.Now().Add(-2 * time.Minute)
	require.NoError(t, os.Chtimes(c.Path("old"), past, past))
	require.NoError(t, c.Store("new", []byte("123")))

	stats, err = c.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, int64(8), stats.TotalBytes)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, c.Dir(), stats.Dir)

	removed, err := c.Prune(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = c.Load("new", false)
	require.NoError(t, err)
	assert.NoFileExists(t, c.Path("old"))
}

func TestPrune_KeepsInFlightTempFiles(t *testing.T) {
	c := newTestCache(t, WithLifetime(0))
	require.NoError(t, c.Store("k", []byte("v")))

	shard := filepath.Join(c.Dir(), "00")
	inFlight := filepath.Join(shard, ".tmp-inflight")
	require.NoError(t, os.WriteFile(inFlight, []byte("partial"), 0o600))
	abandoned := filepath.Join(shard, ".tmp-abandoned")
	require.NoError(t, os.WriteFile(abandoned, []byte("partial"), 0o600))
	past := time.Now().Add(-2 * tempGracePeriod)
	require.NoError(t, os.Chtimes(abandoned, past, past))

	removed, err := c.Prune(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, removed, "the entry and the abandoned temp file")

	assert.FileExists(t, inFlight)
	assert.NoFileExists(t, abandoned)
	assert.NoFileExists(t, c.Path("k"))
}
