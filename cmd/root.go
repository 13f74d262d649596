// Package cmd provides the CLI commands for flowstash using Cobra.
package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	dbPath  string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "flowstash",
	Short: "Chunk store and query surface for captured HTTP traffic",
	Long: `Flowstash is the persistence layer for a traffic capture tool. It
stores chunks of captured HTTP exchanges in SQLite and serves derived,
query-friendly projections so flows can be listed and filtered without
reconstructing full flow objects.

Examples:
  flowstash flows --db capture.db                      # Flow table
  flowstash flows --db capture.db --method get         # Case-insensitive method filter
  flowstash flows --db capture.db --filter 'status >= 400 && size > 1024'
  flowstash headers --db capture.db Apple              # Substring header search
  flowstash chunks --db capture.db <mid>               # Raw chunks for one flow
  flowstash stats --db capture.db                      # Per-kind storage stats`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.WarnLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			Level(level).With().Timestamp().Logger()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "flowstash.db",
		"Path to the capture database")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")

	rootCmd.AddGroup(
		&cobra.Group{ID: "query", Title: "Query Commands:"},
		&cobra.Group{ID: "info", Title: "Information Commands:"},
	)

	rootCmd.AddCommand(flowsCmd)
	rootCmd.AddCommand(headersCmd)
	rootCmd.AddCommand(chunksCmd)
	rootCmd.AddCommand(statsCmd)
}
