// Package topicmgr keeps the catalogue of event-bus topics a session publishes
// so they can be listed and validated in one place.
package topicmgr

import "maps"

// Topic describes one event-bus topic.
type Topic interface {
	Name() string
	Module() string
	Description() string
	Metadata() map[string]any
}

// TopicConfig holds the definition of a topic.
type TopicConfig struct {
	Name        string         `json:"name" validate:"required,topicname"`
	Module      string         `json:"module" validate:"required"`
	Description string         `json:"description" validate:"required"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// TypedTopic is the Topic implementation produced by Define.
type TypedTopic struct {
	config TopicConfig
}

var _ Topic = (*TypedTopic)(nil)

// Define creates a topic from config. The module defaults to the first
// segment of the name.
func Define(config TopicConfig) *TypedTopic {
	if config.Module == "" {
		config.Module = ModuleOf(config.Name)
	}
	return &TypedTopic{config: config}
}

func (t *TypedTopic) Name() string        { return t.config.Name }
func (t *TypedTopic) Module() string      { return t.config.Module }
func (t *TypedTopic) Description() string { return t.config.Description }
func (t *TypedTopic) String() string      { return t.config.Name }

// Metadata returns a copy of the topic metadata.
func (t *TypedTopic) Metadata() map[string]any {
	out := make(map[string]any, len(t.config.Metadata))
	maps.Copy(out, t.config.Metadata)
	return out
}

// ModuleOf returns the part of a topic name before the first dot.
func ModuleOf(name string) string {
	for i, ch := range name {
		if ch == '.' {
			return name[:i]
		}
	}
	return name
}
