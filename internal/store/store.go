// Package store holds the ordered, de-duplicated message sequence of one chat
// session and derives the day-separated timeline the view renders.
package store

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/nfrund/chatsession/internal/domain"
)

// ChangeKind tells listeners which ingestion path mutated the store.
type ChangeKind string

const (
	ChangeLive    ChangeKind = "live"
	ChangeBacklog ChangeKind = "backlog"
)

// Change describes one mutation of the sequence.
type Change struct {
	Kind  ChangeKind `json:"kind"`
	Added int        `json:"added"`
	Len   int        `json:"len"`
}

type record struct {
	msg domain.ChatMessage
	key string
}

// Store is safe for concurrent use. Listeners run after the lock is released,
// on the goroutine that performed the mutation.
type Store struct {
	mu        sync.RWMutex
	records   []record
	seen      map[string]struct{}
	listeners []func(Change)
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used by the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		seen:   make(map[string]struct{}),
		logger: slog.Default().With("component", "store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnChange registers fn to be called after every mutation that changed the sequence.
func (s *Store) OnChange(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func idKey(id string) string { return "i:" + id }

func contentKey(m domain.ChatMessage) string { return "c:" + m.ContentKey() }

// keyOf is the identity used for de-duplication. Messages without an ID fall
// back to their content.
func keyOf(m domain.ChatMessage) string {
	if m.ID != "" {
		return idKey(m.ID)
	}
	return contentKey(m)
}

// AppendLive appends a message from the live subscription. A message whose ID
// has been seen is ignored. It reports whether the message was added.
func (s *Store) AppendLive(msg domain.ChatMessage) bool {
	s.mu.Lock()
	key := keyOf(msg)
	if msg.ID != "" {
		if _, dup := s.seen[key]; dup {
			s.mu.Unlock()
			s.logger.Debug("Dropping duplicate live message", "id", msg.ID)
			return false
		}
	}
	s.records = append(s.records, record{msg: msg, key: key})
	s.seen[key] = struct{}{}
	change := Change{Kind: ChangeLive, Added: 1, Len: len(s.records)}
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, change)
	return true
}

// MergeBacklog folds a history batch into the sequence. Entries already present
// are skipped and act as anchors: entries after an anchor are placed after it.
// A new entry is placed at the current cursor, past any existing messages that
// are strictly older than it, but never past a later anchor. Messages whose
// time cannot be determined are not skipped. Merging the same batch twice is
// the same as merging it once. It returns the number of entries inserted.
func (s *Store) MergeBacklog(msgs []domain.ChatMessage) int {
	if len(msgs) == 0 {
		return 0
	}

	s.mu.Lock()
	pendingAnchors := make(map[string]int)
	for _, m := range msgs {
		if _, ok := s.seen[keyOf(m)]; ok {
			pendingAnchors[keyOf(m)]++
		}
	}

	cursor := 0
	added := 0
	for _, m := range msgs {
		key := keyOf(m)
		if _, ok := s.seen[key]; ok {
			if n := pendingAnchors[key]; n > 1 {
				pendingAnchors[key] = n - 1
			} else {
				delete(pendingAnchors, key)
			}
			if idx := s.indexOf(key); idx >= cursor {
				cursor = idx + 1
			}
			continue
		}

		pos := cursor
		if at, ok := m.SentAt(); ok {
			for pos < len(s.records) {
				r := s.records[pos]
				if _, anchor := pendingAnchors[r.key]; anchor {
					break
				}
				rt, rok := r.msg.SentAt()
				if !rok || !rt.Before(at) {
					break
				}
				pos++
			}
		}
		s.records = slices.Insert(s.records, pos, record{msg: m, key: key})
		s.seen[key] = struct{}{}
		cursor = pos + 1
		added++
	}

	if added == 0 {
		s.mu.Unlock()
		s.logger.Debug("Backlog batch contained no new messages", "size", len(msgs))
		return 0
	}
	change := Change{Kind: ChangeBacklog, Added: added, Len: len(s.records)}
	listeners := s.listeners
	s.mu.Unlock()

	s.logger.Debug("Merged backlog", "size", len(msgs), "added", added)
	notify(listeners, change)
	return added
}

// indexOf must be called with s.mu held.
func (s *Store) indexOf(key string) int {
	_, idx, ok := lo.FindIndexOf(s.records, func(r record) bool { return r.key == key })
	if !ok {
		return -1
	}
	return idx
}

// Snapshot returns a copy of the current sequence.
func (s *Store) Snapshot() []domain.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Map(s.records, func(r record, _ int) domain.ChatMessage { return r.msg })
}

// Len returns the number of messages held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Last returns the newest message in sequence order.
func (s *Store) Last() (domain.ChatMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return domain.ChatMessage{}, false
	}
	return s.records[len(s.records)-1].msg, true
}

func notify(listeners []func(Change), c Change) {
	for _, fn := range listeners {
		fn(c)
	}
}
