/*
Package process launches child processes and demultiplexes their
standard streams into sinks.

A caller claims each output stream either with a sink, which receives
the stream's bytes incrementally, or as a raw pipe, which the caller
reads itself. Unclaimed output is discarded. The process handle resolves
only after the process has exited and every sink-owned pipe has closed,
whichever order those events arrive in.
*/
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/xid"

	"github.com/dudk/buildprof"
	"github.com/dudk/buildprof/metric"
)

// ErrStreamClaimed is returned by Start if both a sink and a raw pipe
// are requested for the same output stream.
var ErrStreamClaimed = errors.New("process: stream claimed twice")

type (
	// Handle represents one live child process. It is owned exclusively
	// by its Start call site until Wait reports the final exit.
	Handle struct {
		ID string

		cmd    *exec.Cmd
		mux    *mux
		stdout io.ReadCloser
		stderr io.ReadCloser
	}

	options struct {
		dir        string
		env        []string
		stdin      io.Reader
		stdout     buildprof.Sink
		stderr     buildprof.Sink
		stdoutPipe bool
		stderrPipe bool
		log        buildprof.Logger
	}

	// Option configures the process before it is started.
	Option func(*options)
)

// WithDir sets the working directory of the process.
func WithDir(dir string) Option {
	return func(o *options) {
		o.dir = dir
	}
}

// WithEnv appends environment overrides in "key=value" form to the
// inherited environment.
func WithEnv(env ...string) Option {
	return func(o *options) {
		o.env = append(os.Environ(), env...)
	}
}

// WithStdin supplies the process input. Without it the process reads
// from the null device.
func WithStdin(r io.Reader) Option {
	return func(o *options) {
		o.stdin = r
	}
}

// WithStdout routes the stdout stream into the sink.
func WithStdout(sink buildprof.Sink) Option {
	return func(o *options) {
		o.stdout = sink
	}
}

// WithStderr routes the stderr stream into the sink.
func WithStderr(sink buildprof.Sink) Option {
	return func(o *options) {
		o.stderr = sink
	}
}

// WithStdoutPipe requests a raw readable stdout stream. Mutually
// exclusive with WithStdout.
func WithStdoutPipe() Option {
	return func(o *options) {
		o.stdoutPipe = true
	}
}

// WithStderrPipe requests a raw readable stderr stream. Mutually
// exclusive with WithStderr.
func WithStderrPipe() Option {
	return func(o *options) {
		o.stderrPipe = true
	}
}

// WithLogger sets logger to the process. If this option is not
// provided, silent logger is used.
func WithLogger(log buildprof.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// Start spawns a child process with provided program and arguments.
// Configuration conflicts and spawn failures are reported here, never
// deferred into the returned handle.
func Start(ctx context.Context, prog string, args []string, opts ...Option) (*Handle, error) {
	o := options{
		log: buildprof.Silent(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.stdout != nil && o.stdoutPipe {
		return nil, fmt.Errorf("stdout: %w", ErrStreamClaimed)
	}
	if o.stderr != nil && o.stderrPipe {
		return nil, fmt.Errorf("stderr: %w", ErrStreamClaimed)
	}

	cmd := exec.CommandContext(ctx, prog, args...)
	cmd.Dir = o.dir
	if o.env != nil {
		cmd.Env = o.env
	}
	cmd.Stdin = o.stdin

	h := &Handle{
		ID:  xid.New().String(),
		cmd: cmd,
	}
	h.mux = newMux(h.ID, o.log)

	// write ends passed to the child, closed in the parent after start
	childEnds := make([]io.Closer, 0, 2)
	// everything opened so far, closed if the spawn fails
	opened := make([]io.Closer, 0, 4)
	closeAll := func(closers []io.Closer) {
		for _, c := range closers {
			c.Close()
		}
	}

	plumb := func(sink buildprof.Sink, raw bool, name string) (*os.File, io.ReadCloser, error) {
		if sink == nil && !raw {
			return nil, nil, nil
		}
		r, w, err := os.Pipe()
		if err != nil {
			return nil, nil, err
		}
		opened = append(opened, r, w)
		childEnds = append(childEnds, w)
		if sink != nil {
			h.mux.claim(name, r, sink)
			return w, nil, nil
		}
		return w, r, nil
	}

	w, raw, err := plumb(o.stdout, o.stdoutPipe, "stdout")
	if err != nil {
		return nil, err
	}
	if w != nil {
		cmd.Stdout = w
		h.stdout = raw
	}
	w, raw, err = plumb(o.stderr, o.stderrPipe, "stderr")
	if err != nil {
		closeAll(opened)
		return nil, err
	}
	if w != nil {
		cmd.Stderr = w
		h.stderr = raw
	}

	if err := cmd.Start(); err != nil {
		closeAll(opened)
		return nil, fmt.Errorf("process: start %s: %w", prog, err)
	}
	// the child holds its own copies now
	closeAll(childEnds)

	o.log.Debug("started", h.ID, prog, strings.Join(args, " "))
	metric.Meter("process").Processes(1)

	h.mux.start(func() error {
		err := cmd.Wait()
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return &ExitError{Code: ee.ExitCode()}
		}
		return err
	})
	return h, nil
}

// Wait blocks until the process has exited and all sink-owned pipes
// have closed. It returns nil for a zero exit status, *ExitError for a
// non-zero one, or the transport error.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.mux.done():
		return h.mux.exitError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stdout returns the raw stdout pipe. It is non-nil only if the stream
// was claimed with WithStdoutPipe; the caller owns the pipe and must
// read it to completion.
func (h *Handle) Stdout() io.ReadCloser {
	return h.stdout
}

// Stderr returns the raw stderr pipe. It is non-nil only if the stream
// was claimed with WithStderrPipe.
func (h *Handle) Stderr() io.ReadCloser {
	return h.stderr
}

// ExitError reports a process that exited with a non-zero status. The
// status is not interpreted beyond being non-zero.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("process: exit status %d", e.Code)
}
