package profile

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/dudk/buildprof"
	"github.com/dudk/buildprof/buildcmd"
	"github.com/dudk/buildprof/datacache"
	"github.com/dudk/buildprof/gitrepo"
	"github.com/dudk/buildprof/metric"
	"github.com/dudk/buildprof/process"
)

const (
	// considerDelayHours backs off commits whose every source compiled
	// recently.
	considerDelayHours = 13
	// compileDelayHours backs off individual sources.
	compileDelayHours = 11
	// keepRecordsDays is the age past which compile records are pruned.
	keepRecordsDays = 360
	// progressEvery spaces the compiled-sources progress lines.
	progressEvery = 75
)

// SourceRepo is the slice of git operations the runner needs to put a
// working copy onto a commit.
type SourceRepo interface {
	Checkout(ctx context.Context, sha string) error
	Clean(ctx context.Context) error
}

// Runner walks a sampled commit list, refreshing source listings and
// recording timed compilations into the cache. It owns the skip
// policy: a commit whose sources all compiled within their backoff
// window is not rebuilt.
type Runner struct {
	// Repo is the working copy the commits are checked out in.
	Repo SourceRepo
	// Cache persists per-commit listings and compile records.
	Cache *datacache.Cache
	// Commander lists the compile commands of the current checkout.
	Commander BuildCommander
	// Profiler preprocesses and times compilations.
	Profiler *Profiler
	// Configure prepares a fresh checkout for command listing. Nil
	// means no configure step. A *process.ExitError from it marks the
	// commit as failed to configure instead of ending the run.
	Configure func(ctx context.Context) error
	// Targets restrict the build command listing.
	Targets []string
	// RefreshThreshold is the unix time before which a stored source
	// listing counts as stale.
	RefreshThreshold int64
	// Deadline bounds the run. It is checked between commits and
	// between compilations only.
	Deadline Deadline
	// Rand drives commit sampling.
	Rand *rand.Rand
	// Log receives progress output.
	Log buildprof.Logger
}

func (r *Runner) log() buildprof.Logger {
	if r.Log == nil {
		return buildprof.Silent()
	}
	return r.Log
}

// Run samples commits until the list or the deadline is exhausted. A
// reached deadline ends the run cleanly; any other error aborts it.
func (r *Runner) Run(ctx context.Context, commits []gitrepo.Commit) error {
	if r.Rand == nil {
		r.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	meter := metric.Meter("runner")
	total := len(commits)
	for len(commits) > 0 {
		if err := r.Deadline.Check(); err != nil {
			r.log().Info("deadline reached,", len(commits), "commits left")
			return nil
		}
		i := PickCommit(r.Rand, len(commits))
		c := commits[i]
		commits = append(commits[:i], commits[i+1:]...)
		r.log().Info(total-len(commits), "/", total, "checking", c)

		eligible, err := r.Consider(ctx, c)
		if err != nil {
			return err
		}
		if !eligible {
			continue
		}
		if err := r.Process(ctx, c); err != nil {
			if errors.Is(err, ErrDeadline) {
				r.log().Info("deadline reached,", len(commits), "commits left")
				return nil
			}
			return err
		}
		meter.Commits(1)
	}
	return nil
}

// Consider decides whether a commit is worth a full build. A commit
// that failed to configure before, has no compilable sources, or whose
// sources all compiled within the backoff window is skipped.
func (r *Runner) Consider(ctx context.Context, c gitrepo.Commit) (bool, error) {
	meta, sources, err := r.loadOrRefresh(ctx, c)
	if err != nil {
		return false, err
	}
	// An empty listing with configure reported ok still means nothing
	// to compile: the build scripts can fail after configure.
	if len(sources) == 0 {
		r.log().Debug("skipping, configure failed at",
			time.Unix(meta.LastRefresh, 0).UTC())
		return false, nil
	}

	stamps := make([][]int64, 0, len(sources))
	fullBuilds := -1
	for srcPath, s := range sources {
		if s.PreprocessedHash == "" {
			continue
		}
		if err := r.Deadline.Check(); err != nil {
			return false, err
		}
		ts := r.Cache.Timestamps(srcPath, s.FilteredArgsHash, s.PreprocessedHash)
		stamps = append(stamps, ts)
		if fullBuilds < 0 || len(ts) < fullBuilds {
			fullBuilds = len(ts)
		}
	}
	if fullBuilds > 0 {
		now := time.Now().Unix()
		fresh := true
		for _, ts := range stamps {
			if now >= datacache.NextCompileThreshold(considerDelayHours, ts) {
				fresh = false
				break
			}
		}
		if fresh {
			r.log().Debug("skipping, all sources compiled recently")
			return false, nil
		}
	}
	r.log().Info(fullBuilds, "full builds,", len(stamps), "compilable sources")
	return true, nil
}

// Process refreshes a stale commit, times every source past its
// backoff threshold and persists the records, least recently compiled
// first.
func (r *Runner) Process(ctx context.Context, c gitrepo.Commit) error {
	meta, err := r.Cache.LoadCommitMeta(c.SHA)
	if err != nil {
		return err
	}
	var sources map[string]datacache.SourceMeta
	if meta.LastRefresh < r.RefreshThreshold || !coversTargets(meta.Targets, r.Targets) {
		if sources, err = r.refresh(ctx, c); err != nil {
			return err
		}
	} else {
		if err = r.prepare(ctx, c); err != nil {
			if isExitFailure(err) {
				r.log().Info("configure failed:", err)
				return nil
			}
			return err
		}
		if sources, err = r.Cache.LoadSources(c.SHA); err != nil {
			return err
		}
	}

	type unit struct {
		threshold int64
		srcPath   string
		argHash   string
		cppHash   string
	}
	now := time.Now().Unix()
	units := make([]unit, 0, len(sources))
	for srcPath, s := range sources {
		if s.PreprocessedHash == "" {
			continue
		}
		ts := r.Cache.Timestamps(srcPath, s.FilteredArgsHash, s.PreprocessedHash)
		threshold := datacache.NextCompileThreshold(compileDelayHours, ts)
		if now < threshold {
			continue
		}
		units = append(units, unit{threshold, srcPath, s.FilteredArgsHash, s.PreprocessedHash})
	}
	if len(units) == 0 {
		return nil
	}
	sort.Slice(units, func(i, j int) bool {
		if units[i].threshold != units[j].threshold {
			return units[i].threshold < units[j].threshold
		}
		return units[i].srcPath < units[j].srcPath
	})

	r.log().Info("timing compilation,", len(units), "sources eligible")
	for done, u := range units {
		if err := r.Deadline.Check(); err != nil {
			return err
		}
		args, err := buildcmd.ExpandTemplate(
			sources[u.srcPath].CompilerArgs, u.srcPath+".o", u.srcPath)
		if err != nil {
			return err
		}
		rec := r.Profiler.TimedCompile(ctx, args)
		r.Cache.Prune(u.srcPath, u.argHash, daysAgo(keepRecordsDays))
		r.Cache.AppendRecord(u.srcPath, u.argHash, u.cppHash, rec, r.Profiler.MaxSamples)
		if err := r.Cache.SaveSourceData(u.srcPath, u.argHash); err != nil {
			return err
		}
		if (done+1)%progressEvery == 0 {
			r.log().Info("compiled", done+1, "/", len(units), "sources,", c)
		}
	}
	return nil
}

// loadOrRefresh returns the stored listing of a commit, rebuilding it
// for commits never seen before.
func (r *Runner) loadOrRefresh(ctx context.Context, c gitrepo.Commit) (datacache.CommitMeta, map[string]datacache.SourceMeta, error) {
	meta, err := r.Cache.LoadCommitMeta(c.SHA)
	switch {
	case err == nil:
		if meta.ConfigureOK != nil && !*meta.ConfigureOK {
			return meta, nil, nil
		}
		sources, err := r.Cache.LoadSources(c.SHA)
		if err == nil {
			return meta, sources, nil
		}
		if !isNotExist(err) {
			return meta, nil, err
		}
	case !isNotExist(err):
		return meta, nil, err
	}

	sources, err := r.refresh(ctx, c)
	if err != nil {
		return meta, nil, err
	}
	meta, err = r.Cache.LoadCommitMeta(c.SHA)
	return meta, sources, err
}

// refresh puts the working copy onto the commit, rebuilds its source
// listing and persists both. A configure or listing failure is stored
// as a failed commit, not returned as an error.
func (r *Runner) refresh(ctx context.Context, c gitrepo.Commit) (map[string]datacache.SourceMeta, error) {
	ok := true
	var sources map[string]datacache.SourceMeta
	if err := r.prepare(ctx, c); err != nil {
		if !isExitFailure(err) {
			return nil, err
		}
		r.log().Info("configure failed:", err)
		ok = false
	}
	if ok {
		lines, err := r.Commander.BuildCommands(ctx, r.Targets...)
		switch {
		case err == nil:
			if sources, err = r.Profiler.UpdateSources(ctx, lines); err != nil {
				return nil, err
			}
		case isExitFailure(err):
			r.log().Info("build command listing failed:", err)
			ok = false
		default:
			return nil, err
		}
	}
	meta := datacache.CommitMeta{
		CommitDate:    c.Date,
		CommitSubject: c.Subject,
		LastRefresh:   time.Now().Unix(),
		ConfigureOK:   &ok,
		Targets:       r.Targets,
	}
	if err := r.Cache.SaveCommit(c.SHA, meta, sources); err != nil {
		return nil, err
	}
	return sources, nil
}

// prepare puts the working copy onto the commit and configures it.
func (r *Runner) prepare(ctx context.Context, c gitrepo.Commit) error {
	if err := r.Repo.Clean(ctx); err != nil {
		return err
	}
	if err := r.Repo.Checkout(ctx, c.SHA); err != nil {
		return err
	}
	if r.Configure == nil {
		return nil
	}
	return r.Configure(ctx)
}

// coversTargets reports whether a listing built for saved targets also
// covers the requested ones. A listing restricted to other targets may
// be missing sources and must be rebuilt.
func coversTargets(saved, requested []string) bool {
	if len(requested) == 0 {
		return len(saved) == 0
	}
	set := make(map[string]bool, len(saved))
	for _, t := range saved {
		set[t] = true
	}
	for _, t := range requested {
		if !set[t] {
			return false
		}
	}
	return true
}

func isExitFailure(err error) bool {
	var ee *process.ExitError
	return errors.As(err, &ee)
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

func daysAgo(days int) int64 {
	return time.Now().Add(-time.Duration(days) * 24 * time.Hour).Unix()
}
