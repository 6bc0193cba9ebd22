/*
Package gitrepo drives a git working copy through child processes. It
covers the operations the profiling driver needs: shallow cloning,
deepening fetches down to a cutoff date, commit listing and forced
checkouts.
*/
package gitrepo

import (
	"context"
	"fmt"
	"strings"

	"github.com/dudk/buildprof"
	"github.com/dudk/buildprof/process"
)

// Repo is a git working copy rooted at Dir, cloned from URL. A Repo
// opened with Open has no origin and operates on an existing copy.
type Repo struct {
	URL string
	Dir string

	log buildprof.Logger
}

// Option configures a repo.
type Option func(*Repo)

// WithLogger sets logger to the repo. If this option is not provided,
// silent logger is used.
func WithLogger(log buildprof.Logger) Option {
	return func(r *Repo) {
		r.log = log
	}
}

// Clone makes a shallow single-branch clone of url into dir without
// checking a branch out. History is deepened later, one fetch at a
// time, only as far as the profiling window requires.
func Clone(ctx context.Context, url, dir string, options ...Option) (*Repo, error) {
	r := &Repo{
		URL: url,
		Dir: dir,
		log: buildprof.Silent(),
	}
	for _, option := range options {
		option(r)
	}
	args := []string{
		"clone", "--no-local", "--no-checkout",
		"--single-branch", "--depth=100",
		"--", url, dir,
	}
	h, err := process.Start(ctx, "git", args, process.WithLogger(r.log))
	if err != nil {
		return nil, err
	}
	if err := h.Wait(ctx); err != nil {
		return nil, fmt.Errorf("gitrepo: clone %s: %w", url, err)
	}
	return r, nil
}

// Open wraps an existing working copy without cloning anything.
func Open(dir string, options ...Option) *Repo {
	r := &Repo{
		Dir: dir,
		log: buildprof.Silent(),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Git runs a git command in the repo and fails on non-zero exit.
func (r *Repo) Git(ctx context.Context, args ...string) error {
	h, err := process.Start(ctx, "git", append([]string{"-C", r.Dir}, args...),
		process.WithLogger(r.log))
	if err != nil {
		return err
	}
	if err := h.Wait(ctx); err != nil {
		return fmt.Errorf("gitrepo: git %s: %w", args[0], err)
	}
	return nil
}

// Capture runs a git command in the repo and returns its output lines.
func (r *Repo) Capture(ctx context.Context, args ...string) ([]string, error) {
	sink := buildprof.NewLineSink()
	h, err := process.Start(ctx, "git", append([]string{"-C", r.Dir}, args...),
		process.WithStdout(sink),
		process.WithLogger(r.log))
	if err != nil {
		return nil, err
	}
	lines, serr := sink.Lines(ctx)
	if err := h.Wait(ctx); err != nil {
		return nil, fmt.Errorf("gitrepo: git %s: %w", args[0], err)
	}
	if serr != nil {
		return nil, serr
	}
	return lines, nil
}

// TipSHA returns the hash of the current HEAD.
func (r *Repo) TipSHA(ctx context.Context) (string, error) {
	lines, err := r.Capture(ctx, "rev-parse", "--verify", "--default", "HEAD")
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("gitrepo: no output from rev-parse")
	}
	return strings.TrimSpace(lines[0]), nil
}

// Checkout forces the working copy onto the commit.
func (r *Repo) Checkout(ctx context.Context, sha string) error {
	return r.Git(ctx, "checkout", "--force", sha, "--")
}

// Clean removes everything not tracked by git, including ignored files.
func (r *Repo) Clean(ctx context.Context) error {
	return r.Git(ctx, "clean", "-dffqx", "--")
}

// FetchBranch deepens the branch history until a commit older than
// since is present, and returns the remote ref name. git interprets
// since in any format accepted by git log --until.
func (r *Repo) FetchBranch(ctx context.Context, branch, since string) (string, error) {
	remote := "origin/" + branch
	err := r.Git(ctx, "config", "--add", "remote.origin.fetch",
		fmt.Sprintf("+refs/heads/%s:refs/remotes/%s", branch, remote))
	if err != nil {
		return "", err
	}
	for {
		if err := r.Git(ctx, "fetch", "--deepen", "100", "origin", branch); err != nil {
			return "", err
		}
		older, err := r.Capture(ctx, "rev-list", "-1", "--first-parent",
			"--until", since, remote, "--")
		if err != nil {
			return "", err
		}
		for _, line := range older {
			if strings.TrimSpace(line) != "" {
				return remote, nil
			}
		}
	}
}

// CommitsSince lists first-parent commits of the branches newer than
// since, most recent first, skipping commits marked to skip CI.
func (r *Repo) CommitsSince(ctx context.Context, since string, branches ...string) ([]Commit, error) {
	remotes := make([]string, 0, len(branches))
	for _, b := range branches {
		remote, err := r.FetchBranch(ctx, b, since)
		if err != nil {
			return nil, err
		}
		remotes = append(remotes, remote)
	}

	skipArgs := append([]string{
		"log", "--first-parent", "--format=%H", "-F", "-i",
		"--grep=[skip ci]", "--grep=[skip travis]",
		"--since", since,
	}, append(remotes, "--")...)
	skipLines, err := r.Capture(ctx, skipArgs...)
	if err != nil {
		return nil, err
	}
	skipped := make(map[string]bool, len(skipLines))
	for _, line := range skipLines {
		skipped[strings.TrimSpace(line)] = true
	}

	logArgs := append([]string{
		"log", "--first-parent", "--format=%H %ct %s",
		"--since", since,
	}, append(remotes, "--")...)
	logLines, err := r.Capture(ctx, logArgs...)
	if err != nil {
		return nil, err
	}
	return parseCommits(logLines, skipped), nil
}
