// Package stream turns a long-lived subprocess into a lazy, reconnecting
// sequence of output lines.
//
// A Stream runs its command on a worker goroutine and hands lines to the
// consumer over a bounded channel, so a slow consumer blocks the reader
// rather than buffering output in memory. When the process exits non-zero the
// worker logs the captured stderr, waits out the backoff and relaunches the
// same command; the consumer sees only a pause. A zero exit ends the stream.
package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/rshade/gruf/internal/logging"
)

// Reader defaults.
const (
	DefaultReconnectInterval = 5 * time.Second
	DefaultBufferSize        = 64
)

// ErrGaveUp is reported by Err when a bounded backoff policy stops retrying.
var ErrGaveUp = errors.New("stream: reconnect attempts exhausted")

// errDisconnected marks a non-clean process exit. It never leaves the package.
var errDisconnected = errors.New("stream disconnected")

// State is a stage of the stream's reconnect state machine.
type State int32

const (
	StateStarting State = iota
	StateStreaming
	StateBackoff
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateBackoff:
		return "backoff"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Reader opens reconnecting streams. A zero Reader is not usable; use New.
type Reader struct {
	launcher   Launcher
	newBackOff func() backoff.BackOff
	bufferSize int
	log        zerolog.Logger
	onState    func(State)
}

// Option configures a Reader.
type Option func(*Reader)

// WithLauncher replaces the os/exec launcher.
func WithLauncher(l Launcher) Option {
	return func(r *Reader) {
		r.launcher = l
	}
}

// WithInterval sets a fixed delay between reconnect attempts.
func WithInterval(d time.Duration) Option {
	return func(r *Reader) {
		r.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(d) }
	}
}

// WithBackOff installs a custom reconnect policy, for example an exponential
// backoff with jitter. A policy that returns backoff.Stop ends the stream
// with ErrGaveUp.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(r *Reader) {
		r.newBackOff = newBackOff
	}
}

// WithBufferSize sets how many lines may be queued ahead of the consumer.
func WithBufferSize(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.bufferSize = n
		}
	}
}

// WithLogger sets the logger used for reconnect diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Reader) {
		r.log = l
	}
}

// WithStateHook registers fn to be called on every state transition, from
// the worker goroutine.
func WithStateHook(fn func(State)) Option {
	return func(r *Reader) {
		r.onState = fn
	}
}

// New returns a Reader.
func New(opts ...Option) *Reader {
	r := &Reader{
		launcher:   ExecLauncher{},
		bufferSize: DefaultBufferSize,
		log:        zerolog.Nop(),
	}
	WithInterval(DefaultReconnectInterval)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stream is one reconnecting session. Consume it with Lines or All, and
// release it with Close.
type Stream struct {
	argv    []string
	id      string
	r       *Reader
	log     zerolog.Logger
	lines   chan string
	done    chan struct{}
	cancel  context.CancelFunc
	stopped sync.Once

	state      atomic.Int32
	reconnects atomic.Int64
	err        error
}

// Open starts streaming argv. The stream stops when ctx is cancelled, when
// Close is called, or when the command exits cleanly.
func (r *Reader) Open(ctx context.Context, argv []string) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	id := logging.NewID()
	s := &Stream{
		argv:   append([]string(nil), argv...),
		id:     id,
		r:      r,
		log:    r.log.With().Str("session", id).Logger(),
		lines:  make(chan string, r.bufferSize),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go s.run(ctx)
	return s
}

// ID returns the session identifier used in log events.
func (s *Stream) ID() string { return s.id }

// Lines returns the line channel. It is closed when the stream terminates.
func (s *Stream) Lines() <-chan string { return s.lines }

// Done is closed once the worker has exited and the process is reaped.
func (s *Stream) Done() <-chan struct{} { return s.done }

// State returns the current state.
func (s *Stream) State() State { return State(s.state.Load()) }

// Reconnects returns how many times the command has been relaunched.
func (s *Stream) Reconnects() int { return int(s.reconnects.Load()) }

// All returns a single-pass sequence over the stream's lines. Breaking out
// of the loop closes the stream.
func (s *Stream) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		defer s.Close()
		for line := range s.lines {
			if !yield(line) {
				return
			}
		}
	}
}

// Close stops the stream, kills any running process and waits until it has
// been reaped. It returns the same error as Err.
func (s *Stream) Close() error {
	s.stopped.Do(s.cancel)
	<-s.done
	return s.err
}

// Err returns why the stream ended abnormally: the command could not be
// found, or the backoff policy gave up. It is nil while the stream runs and
// after a clean exit or cancellation.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Stream) setState(st State) {
	s.state.Store(int32(st))
	if s.r.onState != nil {
		s.r.onState(st)
	}
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.lines)
	defer s.setState(StateTerminated)
	defer s.stopped.Do(s.cancel)

	bo := s.r.newBackOff()
	bo.Reset()

	for attempt := 1; ; attempt++ {
		s.setState(StateStarting)
		s.log.Debug().
			Int("attempt", attempt).
			Strs("argv", s.argv).
			Msg("launching stream command")

		proc, err := s.r.launcher.Launch(ctx, s.argv)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if isFatalLaunchError(err) {
				s.err = fmt.Errorf("launching %s: %w", s.argv0(), err)
				s.log.Error().Err(err).Msg("stream command cannot be started")
				return
			}
			s.log.Warn().Err(err).Int("attempt", attempt).Msg("failed to launch stream command")
			if !s.sleep(ctx, bo) {
				return
			}
			continue
		}

		s.setState(StateStreaming)
		sent, err := s.pump(ctx, proc)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			s.log.Debug().Int("lines", sent).Msg("stream command exited cleanly")
			return
		}

		s.reconnects.Add(1)
		s.log.Warn().
			Int("exit_code", exitCode(err)).
			Str("stderr", strings.TrimSpace(proc.Stderr())).
			Int("lines", sent).
			Msg("lost connection")
		if sent > 0 {
			bo.Reset()
		}
		if !s.sleep(ctx, bo) {
			return
		}
	}
}

// pump copies lines from proc to the consumer until the process exits, then
// reaps it. It returns the number of lines delivered and errDisconnected
// (wrapping the wait error) on a non-clean exit.
func (s *Stream) pump(ctx context.Context, proc Process) (int, error) {
	stop := context.AfterFunc(ctx, func() { _ = proc.Kill() })
	defer stop()

	sent := 0
	br := bufio.NewReader(proc.Stdout())
	for {
		line, readErr := br.ReadString('\n')
		if line != "" {
			select {
			case s.lines <- trimEOL(line):
				sent++
			case <-ctx.Done():
				_ = proc.Kill()
				_ = proc.Wait()
				return sent, ctx.Err()
			}
		}
		if readErr != nil {
			break
		}
	}

	if err := proc.Wait(); err != nil {
		return sent, fmt.Errorf("%w: %w", errDisconnected, err)
	}
	return sent, nil
}

// sleep waits for the next backoff interval. It reports false when the
// stream should terminate instead.
func (s *Stream) sleep(ctx context.Context, bo backoff.BackOff) bool {
	s.setState(StateBackoff)
	d := bo.NextBackOff()
	if d == backoff.Stop {
		s.err = ErrGaveUp
		s.log.Error().Msg("giving up on stream command")
		return false
	}

	s.log.Debug().Dur("backoff", d).Msg("waiting before reconnect")
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Stream) argv0() string {
	if len(s.argv) == 0 {
		return "<empty>"
	}
	return s.argv[0]
}

func isFatalLaunchError(err error) bool {
	return errors.Is(err, exec.ErrNotFound) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, errEmptyCommand)
}

func trimEOL(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
