package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flowstash/flowstash/pkg/query"
)

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Show per-kind storage statistics",
	GroupID: "info",
	Example: `  flowstash stats --db capture.db`,
	RunE:    runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	engine, err := query.Open(dbPath)
	if err != nil {
		return err
	}
	defer engine.Close()

	stats, err := engine.KindStats(cmd.Context())
	if err != nil {
		return fmt.Errorf("query stats: %w", err)
	}
	flowCount, err := engine.FlowCount(cmd.Context())
	if err != nil {
		return fmt.Errorf("query flow count: %w", err)
	}

	fmt.Printf("%-20s  %8s  %12s\n", "KIND", "CHUNKS", "BYTES")
	fmt.Println(strings.Repeat("-", 44))
	var chunks int
	var bytes int64
	for _, s := range stats {
		fmt.Printf("%-20s  %8d  %12d\n", s.Kind, s.Chunks, s.Bytes)
		chunks += s.Chunks
		bytes += s.Bytes
	}
	fmt.Println(strings.Repeat("-", 44))
	fmt.Printf("%-20s  %8d  %12d\n", "total", chunks, bytes)
	fmt.Printf("\n%d flow(s)\n", flowCount)
	return nil
}
