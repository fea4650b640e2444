package store

import "github.com/nfrund/chatsession/internal/domain"

// EntryKind distinguishes timeline rows.
type EntryKind int

const (
	EntryBoundary EntryKind = iota
	EntryMessage
)

// Entry is one row of the rendered timeline. Boundary rows carry only DateKey.
type Entry struct {
	Kind    EntryKind
	DateKey string
	Message domain.ChatMessage
}

// Timeline returns the sequence with a boundary row before the first message
// of every new date key.
func (s *Store) Timeline() []Entry {
	return BuildTimeline(s.Snapshot())
}

// BuildTimeline inserts day boundaries into msgs.
func BuildTimeline(msgs []domain.ChatMessage) []Entry {
	entries := make([]Entry, 0, len(msgs)+1)
	prev := ""
	for i, m := range msgs {
		key := m.DateKey()
		if i == 0 || key != prev {
			entries = append(entries, Entry{Kind: EntryBoundary, DateKey: key})
			prev = key
		}
		entries = append(entries, Entry{Kind: EntryMessage, DateKey: key, Message: m})
	}
	return entries
}
