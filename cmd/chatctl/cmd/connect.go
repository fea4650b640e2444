package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfrund/chatsession/internal/chat"
	"github.com/nfrund/chatsession/internal/content"
	"github.com/nfrund/chatsession/internal/domain"
	"github.com/nfrund/chatsession/internal/pubsub"
	"github.com/nfrund/chatsession/internal/store"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Join the chat interactively",
	Long: `Connect to the chat, print the transcript as it arrives and send every line read
from stdin. Sending too quickly locks input for a while; the remaining time is shown
on stderr.`,
	RunE: runConnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)
}

// printer keeps the terminal in step with the store. A backlog merge can insert
// anywhere, so it reprints the whole timeline; live appends print one line.
type printer struct {
	mu      sync.Mutex
	out     io.Writer
	session *chat.Session
	lastKey string
	printed int
}

func (p *printer) onStoreChange(_ context.Context, e chat.StoreEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e.Kind == store.ChangeBacklog {
		fmt.Fprintln(p.out, "--- history ---")
		entries := p.session.Timeline()
		writeTimeline(p.out, entries)
		p.printed = e.Len
		if n := len(entries); n > 0 {
			p.lastKey = entries[n-1].DateKey
		}
		return nil
	}

	msgs := p.session.Snapshot()
	for _, m := range msgs[min(p.printed, len(msgs)):] {
		if key := m.DateKey(); key != p.lastKey {
			fmt.Fprintln(p.out, formatBoundary(key))
			p.lastKey = key
		}
		fmt.Fprintln(p.out, formatMessage(m))
	}
	p.printed = len(msgs)
	return nil
}

func runConnect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, cfg, err := newContainer()
	if err != nil {
		return err
	}
	defer c.Close()

	deps, err := c.Dependencies()
	if err != nil {
		return err
	}
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	p := &printer{out: out, session: deps.Session}

	if err := pubsub.Subscribe(ctx, deps.Bus, chat.StoreChangedTopic, p.onStoreChange); err != nil {
		return err
	}
	if err := pubsub.Subscribe(ctx, deps.Bus, chat.ConnectionStateTopic, func(_ context.Context, e chat.StateEvent) error {
		fmt.Fprintf(errOut, "* %s\n", e.State)
		if e.State == domain.StateReconnecting.String() {
			fmt.Fprintf(errOut, "* %s\n", deps.Content.Pick(content.PoolReconnect))
		}
		return nil
	}); err != nil {
		return err
	}
	if err := pubsub.Subscribe(ctx, deps.Bus, chat.GatePenaltyTopic, func(_ context.Context, e chat.PenaltyEvent) error {
		go countdown(ctx, errOut, e.Until)
		return nil
	}); err != nil {
		return err
	}

	if cfg.ContentWatch && cfg.ContentDir != "" {
		go func() {
			if err := deps.Content.Watch(ctx); err != nil {
				deps.Logger.Warn("Content watch stopped", "error", err)
			}
		}()
	}

	fmt.Fprintln(errOut, deps.Content.Pick(content.PoolGreetings))
	if err := deps.Session.Start(ctx); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := deps.Session.Send(ctx, line); err != nil {
				reportSendError(errOut, deps.Content, err)
			}
		}
	}
}

func reportSendError(w io.Writer, pools *content.Pools, err error) {
	var rej *domain.RateLimitRejection
	switch {
	case errors.As(err, &rej):
		fmt.Fprintf(w, "! %s (%s left)\n", pools.Pick(content.PoolCooldown), rej.Remaining.Round(time.Second))
	case errors.Is(err, domain.ErrNotConnected):
		fmt.Fprintln(w, "! not connected, message kept")
	default:
		fmt.Fprintf(w, "! send failed: %v\n", err)
	}
}

// countdown prints the remaining lockout once per second.
func countdown(ctx context.Context, w io.Writer, until time.Time) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		left := time.Until(until).Round(time.Second)
		if left <= 0 {
			fmt.Fprintln(w, "* sending unlocked")
			return
		}
		fmt.Fprintf(w, "* sending locked, %s left\n", left)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
