package cmd

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/flowstash/flowstash/pkg/store"
	"github.com/flowstash/flowstash/pkg/store/sqlite"
)

var chunksCmd = &cobra.Command{
	Use:     "chunks <mid>",
	Short:   "List the raw chunks stored for one flow",
	GroupID: "info",
	Example: `  flowstash chunks --db capture.db 9f5a...`,
	Args:    cobra.ExactArgs(1),
	RunE:    runChunks,
}

func runChunks(cmd *cobra.Command, args []string) error {
	s, err := sqlite.New(store.Config{DBPath: dbPath, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("open capture db: %w", err)
	}
	defer s.Close()
	s.SetLogger(log.Logger)

	chunks, err := s.ListByMID(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}

	fmt.Printf("%-8s  %-4s  %-18s  %-8s  %s\n", "ID", "SEQ", "KIND", "BYTES", "METHOD")
	fmt.Println(strings.Repeat("-", 60))
	for _, c := range chunks {
		fmt.Printf("%-8d  %-4d  %-18s  %-8d  %s\n",
			c.ID, c.Seq, c.Kind, len(c.Payload), c.DerivedMethod)
	}
	fmt.Printf("\n%d chunk(s)\n", len(chunks))
	return nil
}
