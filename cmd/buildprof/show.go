package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/dudk/buildprof/datacache"
)

var showFlags struct {
	dataDir string
}

var showCmd = &cobra.Command{
	Use:   "show SHA...",
	Short: "Print cached data of commits",
	Args:  cobra.MinimumNArgs(1),
	RunE:  showCommits,
}

func init() {
	showCmd.Flags().StringVar(&showFlags.dataDir, "data-dir", "./data",
		"directory the records are accumulated in")
	rootCmd.AddCommand(showCmd)
}

func showCommits(cmd *cobra.Command, shas []string) error {
	cache, err := datacache.New(showFlags.dataDir)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	for _, sha := range shas {
		meta, err := cache.LoadCommitMeta(sha)
		if err != nil {
			return fmt.Errorf("commit %s: %w", sha, err)
		}
		date := time.Unix(meta.CommitDate, 0).UTC().Format("2006-01-02 15:04:05")
		fmt.Fprintf(w, "commit %s %s %q\n", sha, date, meta.CommitSubject)
		if meta.ConfigureOK != nil && !*meta.ConfigureOK {
			fmt.Fprintln(w, "  configure failed")
			continue
		}
		sources, err := cache.LoadSources(sha)
		if err != nil {
			return fmt.Errorf("commit %s: %w", sha, err)
		}
		paths := make([]string, 0, len(sources))
		for path := range sources {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		for _, path := range paths {
			s := sources[path]
			if s.PreprocessedHash == "" {
				fmt.Fprintf(w, "  %s: preprocess failed\n", path)
				continue
			}
			samples := len(cache.Timestamps(path, s.FilteredArgsHash, s.PreprocessedHash))
			fmt.Fprintf(w, "  %s: %d samples\n", path, samples)
		}
	}
	return nil
}
