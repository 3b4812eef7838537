package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "daybook",
	Short:         "Journal knowledge graph: entities, relationships and related notes",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(entryCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(relatedCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// stdout receives command results; progress and diagnostics go to stderr.
var stdout io.Writer = os.Stdout

func printf(format string, args ...any) {
	fmt.Fprintf(stdout, format, args...)
}
