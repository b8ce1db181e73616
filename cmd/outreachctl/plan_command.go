package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/timmy/outreach/internal/batch"
	"github.com/timmy/outreach/internal/config"
)

func newPlanCommand(opts *rootOptions) *cobra.Command {
	var items int
	var chunkSize int
	var file string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the chunk plan for an upload",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				n, err := countTargets(file)
				if err != nil {
					return err
				}
				items = n
			}
			if chunkSize == 0 {
				cfg, err := config.Load(opts.configPath)
				if err != nil {
					return err
				}
				chunkSize = cfg.Orchestrator.ChunkSize
			}

			plan, err := batch.Plan(items, chunkSize)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(plan))
			for _, d := range plan {
				rows = append(rows, []string{
					strconv.Itoa(d.ChunkNumber),
					strconv.Itoa(d.Start),
					strconv.Itoa(d.End),
					strconv.Itoa(d.Count),
					d.State,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"Chunk", "Start", "End", "Items", "State"},
				rows,
				[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignLeft},
				[]string{strconv.Itoa(len(plan)), "", "", strconv.Itoa(items), ""},
			))
			fmt.Fprintf(out, "%d items in %d chunks of up to %d\n", items, len(plan), chunkSize)
			return nil
		},
	}

	cmd.Flags().IntVar(&items, "items", 0, "Number of target URLs in the upload")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Items per chunk (defaults to orchestrator.chunk_size)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "File with one target URL per line; overrides --items")

	return cmd
}

// countTargets counts non-blank lines in a target list.
func countTargets(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open targets: %w", err)
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			n++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read targets: %w", err)
	}
	return n, nil
}
