package profile

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/dudk/buildprof"
	"github.com/dudk/buildprof/datacache"
	"github.com/dudk/buildprof/metric"
	"github.com/dudk/buildprof/process"
)

const defaultTimePath = "/usr/bin/time"

// TimedCompile runs a compile command under GNU time and returns the
// measured record. The measurement line is written to the command's
// stdout stream; the last non-empty line carries user-CPU seconds,
// peak resident memory in kilobytes and the major page fault count.
// Any failure, spawn, exit status or unparsable output, yields a
// record marked failed rather than an error: one broken compilation
// must not end a profiling run.
func (p *Profiler) TimedCompile(ctx context.Context, args []string) datacache.CompileRecord {
	timePath := p.TimePath
	if timePath == "" {
		timePath = defaultTimePath
	}
	wrapped := make([]string, 0, len(args)+5)
	wrapped = append(wrapped, "-o", "/dev/stdout", "-f", "%U %M %F", "--quiet")
	wrapped = append(wrapped, args...)

	now := time.Now().Unix()
	sink := buildprof.NewLineSink()
	h, err := process.Start(ctx, timePath, wrapped,
		process.WithDir(p.Dir),
		process.WithStdout(sink),
		process.WithLogger(p.log()),
	)
	if err != nil {
		p.log().Debug("timed compile spawn failed", err)
		return datacache.CompileRecord{Failed: true}
	}
	werr := h.Wait(ctx)
	lines, lerr := sink.Lines(ctx)

	// a record without a measurement carries no timestamp: it must not
	// push back the next-compile threshold
	rec := parseTimeOutput(lines)
	if !rec.Failed {
		rec.Timestamp = now
	}
	if werr != nil || lerr != nil {
		rec.Failed = true
	}
	meter := metric.Meter("profile")
	meter.Samples(1)
	meter.Elapsed(time.Duration(rec.Duration * float64(time.Second)))
	return rec
}

// parseTimeOutput extracts the measurement from the last non-empty
// line of the combined command-and-time output.
func parseTimeOutput(lines []string) datacache.CompileRecord {
	last := ""
	for _, line := range lines {
		if s := strings.TrimSpace(line); s != "" {
			last = s
		}
	}
	fields := strings.Fields(last)
	if len(fields) != 3 {
		return datacache.CompileRecord{Failed: true}
	}
	duration, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return datacache.CompileRecord{Failed: true}
	}
	memory, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return datacache.CompileRecord{Failed: true}
	}
	faults, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return datacache.CompileRecord{Failed: true}
	}
	return datacache.CompileRecord{
		Duration:   duration,
		Memory:     memory,
		PageFaults: faults,
	}
}
