package chat

import (
	"time"

	"github.com/nfrund/chatsession/internal/pubsub"
	"github.com/nfrund/chatsession/internal/store"
)

// StateEvent is published on every connection state transition.
type StateEvent struct {
	From  string `json:"from"`
	State string `json:"state"`
	At    int64  `json:"at"`
}

// StoreEvent is published after the message sequence changed.
type StoreEvent struct {
	Kind  store.ChangeKind `json:"kind"`
	Added int              `json:"added"`
	Len   int              `json:"len"`
}

// PenaltyEvent is published when a send lockout starts.
type PenaltyEvent struct {
	Until    time.Time `json:"until"`
	Duration string    `json:"duration"`
}

var (
	ConnectionStateTopic = pubsub.NewEvent[StateEvent]("chat.connection.state", "The connection manager changed state")
	StoreChangedTopic    = pubsub.NewEvent[StoreEvent]("chat.store.changed", "Messages were added to the transcript")
	GatePenaltyTopic     = pubsub.NewEvent[PenaltyEvent]("chat.gate.penalty", "Sending is locked for a while")
)
