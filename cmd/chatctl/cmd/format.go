package cmd

import (
	"fmt"
	"io"

	"github.com/nfrund/chatsession/internal/domain"
	"github.com/nfrund/chatsession/internal/store"
	"github.com/nfrund/chatsession/internal/view"
)

func formatMessage(m domain.ChatMessage) string {
	if m.SentAtLocalTime == "" {
		return fmt.Sprintf("%s: %s", m.SenderDisplayName, m.Text)
	}
	return fmt.Sprintf("[%s] %s: %s", m.SentAtLocalTime, m.SenderDisplayName, m.Text)
}

func formatBoundary(dateKey string) string {
	return "--- " + view.DateLabel(dateKey) + " ---"
}

// writeTimeline prints entries one per line.
func writeTimeline(w io.Writer, entries []store.Entry) {
	for _, e := range entries {
		if e.Kind == store.EntryBoundary {
			fmt.Fprintln(w, formatBoundary(e.DateKey))
			continue
		}
		fmt.Fprintln(w, formatMessage(e.Message))
	}
}
