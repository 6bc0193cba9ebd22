/*
Package profile assembles the preprocess-and-hash pipeline and the
policy pieces of the profiling driver.

For every compile command of a checkout it spawns the preprocessor,
streams its stdout into a fresh digest sink and awaits the hash, with
the whole fleet throttled by the batch operator. Timed compilations and
the commit sampling heuristics live here too; the surrounding loop is
owned by the caller.
*/
package profile

import (
	"context"

	"github.com/dudk/buildprof"
	"github.com/dudk/buildprof/batch"
	"github.com/dudk/buildprof/buildcmd"
	"github.com/dudk/buildprof/datacache"
	"github.com/dudk/buildprof/digest"
	"github.com/dudk/buildprof/metric"
	"github.com/dudk/buildprof/process"
)

// Profiler preprocesses and times compilations of one working copy.
// The zero value needs Dir and MaxConcurrent; a nil Log is silent.
type Profiler struct {
	// Dir is the working copy root all commands run in.
	Dir string
	// MaxConcurrent bounds the number of preprocessor processes in
	// flight.
	MaxConcurrent int
	// MaxSamples bounds the number of compile records kept per
	// preprocessed input.
	MaxSamples int
	// TimePath is the GNU time binary used to measure compilations.
	// Empty means /usr/bin/time.
	TimePath string
	// Log receives progress output.
	Log buildprof.Logger
}

func (p *Profiler) log() buildprof.Logger {
	if p.Log == nil {
		return buildprof.Silent()
	}
	return p.Log
}

// HashCommand runs a command in dir and returns the digest of its
// stdout. A process that fails to spawn or exits non-zero yields an
// error instead of a sum.
func HashCommand(ctx context.Context, dir string, args []string, options ...process.Option) (digest.Sum, error) {
	sink := digest.New()
	options = append(options, process.WithDir(dir), process.WithStdout(sink))
	h, err := process.Start(ctx, args[0], args[1:], options...)
	if err != nil {
		return digest.Sum{}, err
	}
	// the sink resolves no later than the handle: the stdout pipe must
	// close before the transport is released
	if err := h.Wait(ctx); err != nil {
		return digest.Sum{}, err
	}
	return sink.Await(ctx)
}

// UpdateSources turns dry-run build output lines into the source
// listing of the current checkout: one entry per compile command, with
// the invocation template, the filtered-arguments hash and, for every
// source whose preprocessor run succeeded, the hash of the
// preprocessed output. At most MaxConcurrent preprocessors run at
// once; a failed preprocessor run leaves its entry without a
// preprocessed hash and never disturbs its siblings.
func (p *Profiler) UpdateSources(ctx context.Context, lines []string) (map[string]datacache.SourceMeta, error) {
	sources := make(map[string]datacache.SourceMeta)
	tasks := make([]batch.Task[digest.Sum], 0, len(lines))
	for _, line := range lines {
		cmd, ok := buildcmd.Parse(line)
		if !ok {
			continue
		}
		sources[cmd.Source] = datacache.SourceMeta{
			CompilerArgs:     cmd.Template(),
			FilteredArgsHash: cmd.FilteredArgsHash().Hex(),
		}
		args := cmd.PreprocessArgs()
		tasks = append(tasks, batch.Task[digest.Sum]{
			ID: cmd.Source,
			Do: func(ctx context.Context) (digest.Sum, error) {
				return HashCommand(ctx, p.Dir, args, process.WithLogger(p.log()))
			},
		})
	}

	results, err := batch.Each(ctx, batch.Feed(ctx, tasks), p.MaxConcurrent)
	if err != nil {
		return nil, err
	}
	meter := metric.Meter("profile")
	done := 0
	for r := range results {
		done++
		if r.Err != nil {
			p.log().Debug("preprocess failed", r.ID, r.Err)
			continue
		}
		meta := sources[r.ID]
		meta.PreprocessedHash = r.Value.Hex()
		sources[r.ID] = meta
		meter.Digests(1)
		if done%progressEvery == 0 {
			p.log().Info("preprocessed", done, "of", len(tasks), "sources")
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return sources, nil
}
