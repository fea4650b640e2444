package topicmgr

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrDuplicate is returned when a topic name is registered twice.
var ErrDuplicate = errors.New("topic already registered")

// ErrNotFound is returned for unknown topic names.
var ErrNotFound = errors.New("topic not found")

// Topic names are dot-separated lower-case segments, e.g. chat.store.changed.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9]*(\.[a-z][a-z0-9]*)+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("topicname", func(fl validator.FieldLevel) bool {
		return namePattern.MatchString(fl.Field().String())
	})
	return v
}

// Entry is a registered topic.
type Entry struct {
	Topic        Topic     `json:"topic"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Manager is a thread-safe topic registry.
type Manager struct {
	mu     sync.RWMutex
	topics map[string]Entry
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{topics: make(map[string]Entry)}
}

var (
	defaultManager *Manager
	defaultOnce    sync.Once
)

// Default returns the process-wide registry used by package-level event definitions.
func Default() *Manager {
	defaultOnce.Do(func() {
		defaultManager = NewManager()
	})
	return defaultManager
}

// Register validates and stores topic.
func (m *Manager) Register(topic Topic) error {
	if topic == nil {
		return errors.New("topic cannot be nil")
	}
	cfg := TopicConfig{
		Name:        topic.Name(),
		Module:      topic.Module(),
		Description: topic.Description(),
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid topic %q: %w", topic.Name(), err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.topics[topic.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, topic.Name())
	}
	m.topics[topic.Name()] = Entry{Topic: topic, RegisteredAt: time.Now()}
	return nil
}

// MustRegister is Register for package-level definitions; it panics on error.
func (m *Manager) MustRegister(topic Topic) {
	if err := m.Register(topic); err != nil {
		panic(fmt.Sprintf("topicmgr: %v", err))
	}
}

// Get looks up a topic by name.
func (m *Manager) Get(name string) (Topic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.topics[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e.Topic, nil
}

// List returns all topics sorted by name.
func (m *Manager) List() []Topic {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Topic, 0, len(m.topics))
	for _, e := range m.topics {
		out = append(out, e.Topic)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ListByModule returns the topics owned by module, sorted by name.
func (m *Manager) ListByModule(module string) []Topic {
	var out []Topic
	for _, t := range m.List() {
		if t.Module() == module {
			out = append(out, t)
		}
	}
	return out
}
