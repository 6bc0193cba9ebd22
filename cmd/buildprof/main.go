// Command buildprof walks the history of a git repository and records
// how long each commit's sources take to compile.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "buildprof",
	Short: "Record compile times across a git history",
	Long: `Buildprof samples commits of a source repository, preprocesses their
compile commands to tell identical inputs apart and times the
compilations, accumulating the records in a YAML data directory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "buildprof:", err)
		os.Exit(1)
	}
}
