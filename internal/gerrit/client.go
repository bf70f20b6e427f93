package gerrit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rshade/gruf/internal/cache"
	"github.com/rshade/gruf/internal/logging"
	"github.com/rshade/gruf/internal/stream"
)

// Client defaults.
const (
	// CacheNamespace is the cache application id for server responses.
	CacheNamespace = "gruf.gerrit"

	// DefaultCacheLifetime is how long a response is served from the cache.
	DefaultCacheLifetime = 300 * time.Second

	sshBinary = "ssh"
)

// sshOptions disable everything an interactive session would negotiate.
//
//nolint:gochecknoglobals // Fixed ssh argument prefix.
var sshOptions = []string{
	"-n",
	"-T",
	"-e", "none",
	"-o", "BatchMode=yes",
	"-o", "ForwardAgent=no",
	"-o", "ForwardX11=no",
}

// Client runs gerrit commands against one remote.
type Client struct {
	remote   Remote
	cache    *cache.Cache
	runner   CommandRunner
	streams  *stream.Reader
	queryMap map[string]string
	log      zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithCache serves cacheable commands through c. Without it every command
// runs against the server.
func WithCache(c *cache.Cache) Option {
	return func(cl *Client) {
		cl.cache = c
	}
}

// WithRunner replaces the package Runner for one-shot commands.
func WithRunner(r CommandRunner) Option {
	return func(cl *Client) {
		cl.runner = r
	}
}

// WithStreamReader sets the reader used for streaming commands.
func WithStreamReader(r *stream.Reader) Option {
	return func(cl *Client) {
		cl.streams = r
	}
}

// WithQueryMap adds query aliases on top of the defaults.
func WithQueryMap(m map[string]string) Option {
	return func(cl *Client) {
		cl.queryMap = MergeQueryMap(m)
	}
}

// WithLogger sets the client's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) {
		cl.log = l
	}
}

// NewClient returns a Client for remote.
func NewClient(remote Remote, opts ...Option) *Client {
	c := &Client{
		remote:   remote,
		runner:   Runner,
		queryMap: DefaultQueryMap(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.streams == nil {
		c.streams = stream.New(stream.WithLogger(logging.ComponentLogger(c.log, "stream")))
	}
	return c
}

// Remote returns the server the client talks to.
func (c *Client) Remote() Remote { return c.remote }

// Cache returns the response cache, or nil when caching is disabled.
func (c *Client) Cache() *cache.Cache { return c.cache }

// SSHArgs returns the full ssh argv that runs args on the server. Arguments
// containing spaces are double-quoted because the server re-splits the
// command line.
func (c *Client) SSHArgs(args []string) []string {
	argv := make([]string, 0, len(sshOptions)+5+len(args))
	argv = append(argv, sshBinary)
	argv = append(argv, sshOptions...)
	argv = append(argv, "-p", strconv.Itoa(c.remote.Port), c.remote.Destination(), "gerrit")
	return append(argv, quoteArgs(args)...)
}

// CacheKey derives the cache key for args. The login identity is part of the
// key because different users see different results.
func (c *Client) CacheKey(args []string) string {
	parts := append([]string{c.remote.identity()}, quoteArgs(args)...)
	return strings.Join(parts, "\x00")
}

// Prepare builds the argument vector for cmd, applying query expansion when
// the command accepts it.
func (c *Client) Prepare(ctx context.Context, cmd Command, userArgs []string) ([]string, error) {
	if cmd.ExpandQuery {
		expanded, err := c.expandQuery(ctx, userArgs)
		if err != nil {
			return nil, err
		}
		userArgs = expanded
	}
	return cmd.Args(userArgs), nil
}

// Fetch returns the output of args, from the cache when a fresh entry exists
// and from the server otherwise. A fetched response is stored and then read
// back through the cache.
func (c *Client) Fetch(ctx context.Context, args ...string) (*cache.LineReader, error) {
	if c.cache == nil {
		return c.Exec(ctx, args...)
	}

	key := c.CacheKey(args)
	log := c.log.With().
		Str("operation", "fetch").
		Str("fingerprint", cache.Fingerprint(key)).
		Logger()

	lr, err := c.cache.LoadLines(key, false)
	if err == nil {
		log.Debug().Ctx(ctx).Msg("cache hit")
		return lr, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		return nil, err
	}
	log.Debug().Ctx(ctx).Msg("cache miss")

	out, err := c.run(ctx, args)
	if err != nil {
		return nil, err
	}
	if err = c.cache.Store(key, out); err != nil {
		return nil, err
	}
	// The entry was just written; do not let a zero lifetime hide it.
	return c.cache.LoadLines(key, true)
}

// Exec runs args on the server without consulting the cache.
func (c *Client) Exec(ctx context.Context, args ...string) (*cache.LineReader, error) {
	out, err := c.run(ctx, args)
	if err != nil {
		return nil, err
	}
	return cache.ReadLines(out), nil
}

// Stream runs args as a long-lived command and returns its reconnecting
// line stream.
func (c *Client) Stream(ctx context.Context, args ...string) *stream.Stream {
	return c.streams.Open(ctx, c.SSHArgs(args))
}

func (c *Client) run(ctx context.Context, args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, ErrNoCommand
	}
	argv := c.SSHArgs(args)
	c.log.Info().
		Ctx(ctx).
		Str("operation", "run").
		Str("host", c.remote.Host).
		Strs("args", args).
		Msg("running gerrit command")

	start := time.Now()
	stdout, stderr, err := c.runner.Run(ctx, argv[0], argv[1:]...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if cmdErr, ok := asCommandError(args, stderr, err); ok {
			return nil, cmdErr
		}
		return nil, fmt.Errorf("running %s: %w", sshBinary, err)
	}

	c.log.Debug().
		Ctx(ctx).
		Int("output_bytes", len(stdout)).
		Dur("elapsed", time.Since(start)).
		Msg("gerrit command completed")
	return stdout, nil
}

func quoteArgs(args []string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		if strings.Contains(arg, " ") {
			arg = `"` + arg + `"`
		}
		out[i] = arg
	}
	return out
}
