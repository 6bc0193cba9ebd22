package profile

import (
	"context"
	"fmt"

	"github.com/kballard/go-shellquote"

	"github.com/dudk/buildprof"
	"github.com/dudk/buildprof/process"
)

// BuildCommander lists the compile command lines of a checkout without
// running them. Build systems differ here; any of them that can print
// its commands fits behind this interface.
type BuildCommander interface {
	BuildCommands(ctx context.Context, targets ...string) ([]string, error)
}

// ShellCommander lists compile commands by running a dry-run shell
// command, e.g. "scons --dry-run --no-cache", in the working copy and
// collecting its stdout lines. Targets are appended quoted.
type ShellCommander struct {
	// Dir is the working copy root.
	Dir string
	// Command is the dry-run command line, interpreted by sh.
	Command string
	// Log receives progress output.
	Log buildprof.Logger
}

// BuildCommands implements BuildCommander.
func (s ShellCommander) BuildCommands(ctx context.Context, targets ...string) ([]string, error) {
	cmdline := s.Command
	if len(targets) > 0 {
		cmdline = cmdline + " " + shellquote.Join(targets...)
	}
	log := s.Log
	if log == nil {
		log = buildprof.Silent()
	}
	log.Debug("build commands:", cmdline)

	sink := buildprof.NewLineSink()
	h, err := process.Start(ctx, "sh", []string{"-c", cmdline},
		process.WithDir(s.Dir),
		process.WithStdout(sink),
		process.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("build commands: %w", err)
	}
	if err := h.Wait(ctx); err != nil {
		return nil, fmt.Errorf("build commands %q: %w", cmdline, err)
	}
	return sink.Lines(ctx)
}
