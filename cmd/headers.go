package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flowstash/flowstash/pkg/query"
)

var (
	headersMID   string
	headersLimit int
)

var headersCmd = &cobra.Command{
	Use:     "headers [substring]",
	Short:   "Search the header projection",
	Long:    `Display one row per header entry per flow, optionally matching a substring against the "key=value" composite.`,
	GroupID: "query",
	Example: `  flowstash headers --db capture.db
  flowstash headers --db capture.db Apple
  flowstash headers --db capture.db --mid <mid>`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHeaders,
}

func init() {
	headersCmd.Flags().StringVar(&headersMID, "mid", "", "Restrict to one flow")
	headersCmd.Flags().IntVar(&headersLimit, "limit", 0, "Maximum rows (0 = unlimited)")
}

func runHeaders(cmd *cobra.Command, args []string) error {
	engine, err := query.Open(dbPath)
	if err != nil {
		return err
	}
	defer engine.Close()

	f := query.HeaderFilter{MID: headersMID, Limit: headersLimit}
	if len(args) > 0 {
		f.Substring = args[0]
	}

	headers, err := engine.Headers(cmd.Context(), f)
	if err != nil {
		return fmt.Errorf("query headers: %w", err)
	}

	fmt.Printf("%-36s  %s\n", "MID", "HEADER")
	fmt.Println(strings.Repeat("-", 90))
	for _, h := range headers {
		fmt.Printf("%-36s  %s\n", h.MID, h.KV)
	}
	fmt.Printf("\n%d header(s)\n", len(headers))
	return nil
}
