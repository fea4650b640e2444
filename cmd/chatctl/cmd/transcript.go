package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfrund/chatsession/internal/chat"
	"github.com/nfrund/chatsession/internal/view"
)

var (
	transcriptFormat  string
	transcriptTimeout time.Duration
)

var transcriptCmd = &cobra.Command{
	Use:   "transcript",
	Short: "Print the chat history and exit",
	Long: `Connect, wait for the history to arrive and print it as text or as an HTML
fragment with date separators.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if transcriptFormat != "text" && transcriptFormat != "html" {
			return fmt.Errorf("unsupported output format %q, use text or html", transcriptFormat)
		}
		c, _, err := newContainer()
		if err != nil {
			return err
		}
		defer c.Close()

		deps, err := c.Dependencies()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), transcriptTimeout)
		defer cancel()
		if err := deps.Session.Start(ctx); err != nil {
			return err
		}
		if err := waitForBacklog(ctx, deps.Session); err != nil {
			return err
		}

		entries := deps.Session.Timeline()
		if transcriptFormat == "text" {
			writeTimeline(cmd.OutOrStdout(), entries)
			return nil
		}
		out, err := deps.Renderer.RenderComponent(view.Transcript(entries))
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(append(out, '\n'))
		return err
	},
}

// waitForBacklog polls until the history arrived. A session that gave up on
// connecting reports its last error.
func waitForBacklog(ctx context.Context, s *chat.Session) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for !s.BacklogDelivered() {
		select {
		case <-ctx.Done():
			if err := s.Err(); err != nil {
				return fmt.Errorf("waiting for history: %w", err)
			}
			return fmt.Errorf("waiting for history: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(transcriptCmd)
	transcriptCmd.Flags().StringVarP(&transcriptFormat, "format", "f", "text", "Output format (text, html)")
	transcriptCmd.Flags().DurationVar(&transcriptTimeout, "timeout", 10*time.Second, "How long to wait for the history")
}
