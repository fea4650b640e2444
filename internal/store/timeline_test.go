package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nfrund/chatsession/internal/domain"
)

func TestTimeline_BoundaryOnDateChange(t *testing.T) {
	s := New()
	s.AppendLive(domain.ChatMessage{ID: "1", SenderDisplayName: "a", SentAtDate: "2026-01-30"})
	s.AppendLive(domain.ChatMessage{ID: "2", SenderDisplayName: "a", SentAtDate: "2026-01-30"})
	s.AppendLive(domain.ChatMessage{ID: "3", SenderDisplayName: "a", SentAtDate: "2026-01-31"})

	entries := s.Timeline()

	kinds := make([]EntryKind, len(entries))
	for i, e := range entries {
		kinds[i] = e.Kind
	}
	assert.Equal(t, []EntryKind{EntryBoundary, EntryMessage, EntryMessage, EntryBoundary, EntryMessage}, kinds)
	assert.Equal(t, "2026-01-30", entries[0].DateKey)
	assert.Equal(t, "2026-01-31", entries[3].DateKey)
	assert.Equal(t, "3", entries[4].Message.ID)
}

func TestTimeline_MissingDateUsesUnknownBucket(t *testing.T) {
	entries := BuildTimeline([]domain.ChatMessage{
		{ID: "1", SentAtDate: "2026-01-30"},
		{ID: "2"},
		{ID: "3"},
	})

	assert.Len(t, entries, 5)
	assert.Equal(t, EntryBoundary, entries[2].Kind)
	assert.Equal(t, domain.UnknownDate, entries[2].DateKey)
}

func TestTimeline_Empty(t *testing.T) {
	assert.Empty(t, BuildTimeline(nil))
}
