package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flowstash/flowstash/filter"
	"github.com/flowstash/flowstash/pkg/query"
)

var (
	flowsMethod string
	flowsHost   string
	flowsStatus int
	flowsFilter string
	flowsLimit  int
	flowsOffset int
)

var flowsCmd = &cobra.Command{
	Use:     "flows",
	Short:   "List the flow table projection",
	Long:    `Display one summary row per captured flow, derived from stored chunks at query time.`,
	GroupID: "query",
	Example: `  flowstash flows --db capture.db
  flowstash flows --db capture.db --method get --limit 20
  flowstash flows --db capture.db --filter 'content_type == "text/html" && duration > 0.5'`,
	RunE: runFlows,
}

func init() {
	flowsCmd.Flags().StringVar(&flowsMethod, "method", "", "Filter by HTTP method (case-insensitive)")
	flowsCmd.Flags().StringVar(&flowsHost, "host", "", "Filter by host")
	flowsCmd.Flags().IntVar(&flowsStatus, "status", 0, "Filter by status code")
	flowsCmd.Flags().StringVar(&flowsFilter, "filter", "", "Filter expression over flow rows")
	flowsCmd.Flags().IntVar(&flowsLimit, "limit", 0, "Maximum rows (0 = unlimited)")
	flowsCmd.Flags().IntVar(&flowsOffset, "offset", 0, "Rows to skip")
}

func runFlows(cmd *cobra.Command, args []string) error {
	engine, err := query.Open(dbPath)
	if err != nil {
		return err
	}
	defer engine.Close()

	var pred func(*query.FlowRow) bool
	if flowsFilter != "" {
		pred, err = filter.Compile(flowsFilter)
		if err != nil {
			return err
		}
	}

	flows, err := engine.FlowTable(cmd.Context(), query.FlowFilter{
		Method:     flowsMethod,
		Host:       flowsHost,
		StatusCode: flowsStatus,
		Limit:      flowsLimit,
		Offset:     flowsOffset,
	})
	if err != nil {
		return fmt.Errorf("query flows: %w", err)
	}

	fmt.Printf("%-36s  %-7s  %-30s  %-6s  %-24s  %10s  %8s\n",
		"MID", "METHOD", "HOST+PATH", "STATUS", "CONTENT-TYPE", "SIZE", "DURATION")
	fmt.Println(strings.Repeat("-", 130))

	shown := 0
	for _, f := range flows {
		if pred != nil && !pred(f) {
			continue
		}
		status := "-"
		if f.StatusCode != nil {
			status = fmt.Sprintf("%d", *f.StatusCode)
		}
		duration := "-"
		if f.Duration != nil {
			duration = fmt.Sprintf("%.3fs", *f.Duration)
		}
		fmt.Printf("%-36s  %-7s  %-30s  %-6s  %-24s  %10d  %8s\n",
			f.MID, f.Method, trunc(f.Host+f.Path, 30), status, f.ContentType, f.Size, duration)
		shown++
	}

	fmt.Printf("\n%d flow(s)\n", shown)
	return nil
}

func trunc(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
