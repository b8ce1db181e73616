package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
	"github.com/timmy/outreach/internal/service"
)

type apiError struct {
	Error string `json:"error"`
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <upload-id>",
		Short: "Show the reconciliation snapshot of an upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := fetchSnapshot(cmd, opts.server, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Upload %s: %s, %d/%d items (%d%%)\n",
				args[0], snap.Status, snap.Current, snap.Total, snap.Progress)

			rows := make([][]string, 0, len(snap.Chunks))
			failed := 0
			for _, ch := range snap.Chunks {
				failed += ch.FailedCount
				rows = append(rows, []string{
					strconv.Itoa(ch.ChunkNumber),
					ch.ID,
					string(ch.State),
					ch.Status.String(),
					fmt.Sprintf("%d/%d", ch.ProcessedCount, ch.ItemCount),
					strconv.Itoa(ch.FailedCount),
					strconv.Itoa(ch.ProgressPercent) + "%",
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"#", "Chunk", "State", "Status", "Processed", "Failed", "Progress"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
				[]string{"", "", "", snap.Status, fmt.Sprintf("%d/%d", snap.Current, snap.Total), strconv.Itoa(failed), strconv.Itoa(snap.Progress) + "%"},
			))
			return nil
		},
	}
	return cmd
}

func fetchSnapshot(cmd *cobra.Command, server, uploadID string) (*service.Snapshot, error) {
	var snap service.Snapshot
	var apiErr apiError

	resp, err := resty.New().
		SetTimeout(15*time.Second).
		R().
		SetContext(cmd.Context()).
		SetResult(&snap).
		SetError(&apiErr).
		Get(strings.TrimRight(server, "/") + "/api/v1/uploads/" + uploadID)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	if resp.IsError() {
		if apiErr.Error != "" {
			return nil, fmt.Errorf("fetch snapshot: %s (%d)", apiErr.Error, resp.StatusCode())
		}
		return nil, fmt.Errorf("fetch snapshot: HTTP %d", resp.StatusCode())
	}
	return &snap, nil
}
