package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/chatsession/internal/content"
	"github.com/nfrund/chatsession/internal/domain"
	"github.com/nfrund/chatsession/internal/store"
)

func TestWriteTimeline(t *testing.T) {
	var buf bytes.Buffer
	writeTimeline(&buf, store.BuildTimeline([]domain.ChatMessage{
		{SenderDisplayName: "ann", Text: "hi", SentAtDate: "2026-01-30", SentAtLocalTime: "09:00:00"},
		{SenderDisplayName: "bob", Text: "yo", SentAtDate: "2026-01-30"},
	}))
	assert.Equal(t, "--- Friday, January 30, 2026 ---\n[09:00:00] ann: hi\nbob: yo\n", buf.String())
}

func TestReportSendError(t *testing.T) {
	pools := content.New(nil, "")
	require.NoError(t, pools.Load())

	var buf bytes.Buffer
	reportSendError(&buf, pools, &domain.RateLimitRejection{Remaining: 14600 * time.Millisecond})
	assert.Contains(t, buf.String(), "(15s left)")

	buf.Reset()
	reportSendError(&buf, pools, domain.ErrNotConnected)
	assert.Equal(t, "! not connected, message kept\n", buf.String())

	buf.Reset()
	reportSendError(&buf, pools, errors.New("boom"))
	assert.Equal(t, "! send failed: boom\n", buf.String())
}

func TestCountdownStopsOnceUnlocked(t *testing.T) {
	var buf bytes.Buffer
	countdown(context.Background(), &buf, time.Now().Add(-time.Second))
	assert.Equal(t, "* sending unlocked\n", buf.String())
}

func TestTopicsCommandListsSessionTopics(t *testing.T) {
	var buf bytes.Buffer
	writeTopicsTable(&buf, nil)
	assert.Contains(t, buf.String(), "No topics found")

	buf.Reset()
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"topics", "--format", "table"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "chat.connection.state")
	assert.Contains(t, buf.String(), "chat.gate.penalty")
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "chatctl v"+version+"\n", buf.String())
}
