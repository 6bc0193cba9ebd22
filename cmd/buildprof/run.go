package main

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/xid"
	"github.com/spf13/cobra"

	"github.com/dudk/buildprof"
	"github.com/dudk/buildprof/datacache"
	"github.com/dudk/buildprof/gitrepo"
	"github.com/dudk/buildprof/log"
	"github.com/dudk/buildprof/process"
	"github.com/dudk/buildprof/profile"
)

// refreshFloor keeps stored source listings from before the first
// deployed data format from being trusted.
const refreshFloor = 1575734000

var runFlags struct {
	sourceRepository string
	dataDir          string
	workDir          string
	since            string
	configure        string
	buildCommand     string
	targets          []string
	maxSamples       int
	maxConcurrent    int
	deadline         time.Duration
}

var runCmd = &cobra.Command{
	Use:   "run [flags] [BRANCH...]",
	Short: "Sample commits and record timed compilations",
	RunE:  runProfile,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.sourceRepository, "source-repository", "",
		"git URL of the profiled project")
	f.StringVar(&runFlags.dataDir, "data-dir", "./data",
		"directory the records are accumulated in")
	f.StringVar(&runFlags.workDir, "work-dir", "",
		"working copy location (default under the system temp dir)")
	f.StringVar(&runFlags.since, "since", "2015-07-04",
		"oldest commit date to profile, any format git log accepts")
	f.StringVar(&runFlags.configure, "configure", "",
		"shell command run in the working copy after each checkout")
	f.StringVar(&runFlags.buildCommand, "build-command", "",
		"dry-run shell command printing the compile commands")
	f.StringSliceVar(&runFlags.targets, "target", nil,
		"build targets passed to the dry-run command")
	f.IntVar(&runFlags.maxSamples, "max-samples", 15,
		"compile records kept per preprocessed input")
	f.IntVar(&runFlags.maxConcurrent, "max-concurrent", 4,
		"preprocessor processes in flight")
	f.DurationVar(&runFlags.deadline, "deadline", 0,
		"wall clock budget for the run, 0 means unbounded")
	cobra.CheckErr(runCmd.MarkFlagRequired("source-repository"))
	cobra.CheckErr(runCmd.MarkFlagRequired("build-command"))
	rootCmd.AddCommand(runCmd)
}

func runProfile(cmd *cobra.Command, branches []string) error {
	logger := log.New(verbose)
	ctx := cmd.Context()
	if len(branches) == 0 {
		branches = []string{"master"}
	}

	run := xid.New()
	workDir := runFlags.workDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "buildprof", run.String())
	}
	logger.Info("run ", run, " in ", workDir)
	if err := os.MkdirAll(filepath.Dir(workDir), 0o755); err != nil {
		return err
	}

	repo, err := gitrepo.Clone(ctx, runFlags.sourceRepository, workDir,
		gitrepo.WithLogger(logger))
	if err != nil {
		return err
	}
	commits, err := repo.CommitsSince(ctx, runFlags.since, branches...)
	if err != nil {
		return err
	}
	logger.Info("found ", len(commits), " commits")
	if len(commits) == 0 {
		return nil
	}

	cache, err := datacache.New(runFlags.dataDir, datacache.WithLogger(logger))
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	runner := &profile.Runner{
		Repo:      repo,
		Cache:     cache,
		Commander: profile.ShellCommander{Dir: workDir, Command: runFlags.buildCommand, Log: logger},
		Profiler: &profile.Profiler{
			Dir:           workDir,
			MaxConcurrent: runFlags.maxConcurrent,
			MaxSamples:    runFlags.maxSamples,
			Log:           logger,
		},
		Configure:        configureStep(workDir, logger),
		Targets:          runFlags.targets,
		RefreshThreshold: refreshThreshold(rng),
		Deadline:         profile.Until(runFlags.deadline),
		Rand:             rng,
		Log:              logger,
	}
	if err := runner.Run(ctx, commits); err != nil {
		return err
	}
	return cache.SaveModified()
}

// configureStep wraps the --configure command, if any, into the
// runner's configure hook.
func configureStep(dir string, logger buildprof.Logger) func(context.Context) error {
	command := runFlags.configure
	if command == "" {
		return nil
	}
	return func(ctx context.Context) error {
		h, err := process.Start(ctx, "sh", []string{"-c", command},
			process.WithDir(dir),
			process.WithLogger(logger))
		if err != nil {
			return err
		}
		return h.Wait(ctx)
	}
}

// refreshThreshold spreads listing refreshes over runs: stored
// listings older than 2-4 weeks are rebuilt, and ones from before the
// floor always are.
func refreshThreshold(rng *rand.Rand) int64 {
	days := 14 + rng.Intn(15)
	threshold := time.Now().AddDate(0, 0, -days).Unix()
	if threshold < refreshFloor {
		threshold = refreshFloor
	}
	return threshold
}
