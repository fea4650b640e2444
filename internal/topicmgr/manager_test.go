package topicmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RegisterAndList(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register(Define(TopicConfig{Name: "chat.store.changed", Description: "store mutated"})))
	require.NoError(t, m.Register(Define(TopicConfig{Name: "chat.connection.state", Description: "state changed"})))
	require.NoError(t, m.Register(Define(TopicConfig{Name: "dev.room.joined", Description: "joined"})))

	names := []string{}
	for _, topic := range m.List() {
		names = append(names, topic.Name())
	}
	assert.Equal(t, []string{"chat.connection.state", "chat.store.changed", "dev.room.joined"}, names)
	assert.Len(t, m.ListByModule("chat"), 2)

	got, err := m.Get("dev.room.joined")
	require.NoError(t, err)
	assert.Equal(t, "dev", got.Module())
}

func TestManager_RejectsDuplicatesAndBadNames(t *testing.T) {
	m := NewManager()
	topic := Define(TopicConfig{Name: "chat.gate.penalty", Description: "penalty"})
	require.NoError(t, m.Register(topic))
	assert.ErrorIs(t, m.Register(topic), ErrDuplicate)

	assert.Error(t, m.Register(Define(TopicConfig{Name: "Chat.Bad", Description: "x"})))
	assert.Error(t, m.Register(Define(TopicConfig{Name: "single", Description: "x"})))
	assert.Error(t, m.Register(Define(TopicConfig{Name: "chat.no.description"})))

	_, err := m.Get("chat.unknown")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Panics(t, func() { m.MustRegister(topic) })
}

func TestTypedTopic_MetadataIsCopied(t *testing.T) {
	topic := Define(TopicConfig{Name: "chat.a.b", Description: "d", Metadata: map[string]any{"k": 1}})
	md := topic.Metadata()
	md["k"] = 2
	assert.Equal(t, 1, topic.Metadata()["k"])
}
