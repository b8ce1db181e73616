package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/timmy/outreach/internal/logger"
	"github.com/timmy/outreach/internal/progress"
)

func newWatchCommand(opts *rootOptions) *cobra.Command {
	var uploadID, chunkID string
	var phases bool
	var count int
	var baseDelay time.Duration
	var maxAttempts int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream progress events for an upload or a chunk",
		RunE: func(cmd *cobra.Command, args []string) error {
			topics, err := watchTopics(uploadID, chunkID, phases)
			if err != nil {
				return err
			}
			wsURL, err := progressURL(opts.server)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := progress.NewClient(progress.ClientOptions{
				URL:         wsURL,
				BaseDelay:   baseDelay,
				MaxAttempts: maxAttempts,
				Logger: logger.New(&logger.Config{
					Level:       "warn",
					Format:      "text",
					Output:      cmd.ErrOrStderr(),
					ServiceName: "outreachctl",
				}),
			})
			defer client.Close()

			return streamEvents(ctx, cmd, client, topics, count)
		},
	}

	cmd.Flags().StringVar(&uploadID, "upload", "", "Upload id to follow")
	cmd.Flags().StringVar(&chunkID, "chunk", "", "Chunk id to follow")
	cmd.Flags().BoolVar(&phases, "phases", false, "With --chunk, also follow per-phase updates")
	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many events (0 streams until interrupted)")
	cmd.Flags().DurationVar(&baseDelay, "reconnect-delay", time.Second, "Base reconnect delay")
	cmd.Flags().IntVar(&maxAttempts, "reconnect-attempts", 5, "Consecutive failed connection attempts before giving up")

	return cmd
}

func watchTopics(uploadID, chunkID string, phases bool) ([]string, error) {
	var topics []string
	if uploadID != "" {
		topics = append(topics, progress.Topic(progress.KindFileUpload, uploadID))
	}
	if chunkID != "" {
		topics = append(topics, progress.Topic(progress.KindChunk, chunkID))
		if phases {
			topics = append(topics,
				progress.Topic(progress.KindScraping, chunkID),
				progress.Topic(progress.KindGeneration, chunkID),
				progress.Topic(progress.KindSubmission, chunkID),
			)
		}
	}
	if len(topics) == 0 {
		return nil, errors.New("one of --upload or --chunk is required")
	}
	return topics, nil
}

// progressURL turns the API base URL into the websocket endpoint.
func progressURL(server string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}

func streamEvents(ctx context.Context, cmd *cobra.Command, client *progress.Client, topics []string, count int) error {
	events := make(chan progress.Event, 64)
	offline := make(chan struct{})
	var once sync.Once

	client.OnStateChange(func(s progress.State) {
		fmt.Fprintf(cmd.ErrOrStderr(), "connection %s\n", s)
		if s == progress.StateOffline {
			once.Do(func() { close(offline) })
		}
	})
	for _, topic := range topics {
		if err := client.Subscribe(topic, func(evt progress.Event) {
			select {
			case events <- evt:
			default:
			}
		}); err != nil {
			return err
		}
	}

	// A failed first dial keeps retrying in the background
	if err := client.Open(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "initial connect failed: %v\n", err)
	}

	out := cmd.OutOrStdout()
	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-offline:
			return fmt.Errorf("progress channel offline after %d failed connection attempts", client.Attempt())
		case evt := <-events:
			line, err := json.Marshal(evt.Data)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s\n", evt.Type, line)
			seen++
			if count > 0 && seen >= count {
				return nil
			}
		}
	}
}
