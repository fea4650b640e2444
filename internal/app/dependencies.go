package app

import (
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/nfrund/chatsession/internal/chat"
	"github.com/nfrund/chatsession/internal/content"
	"github.com/nfrund/chatsession/internal/pubsub"
	"github.com/nfrund/chatsession/internal/rendering"
	"github.com/nfrund/chatsession/internal/topicmgr"
)

// Dependencies holds the services the command-line front ends work with.
type Dependencies struct {
	Session  *chat.Session
	Bus      *pubsub.WatermillBridge
	Content  *content.Pools
	Renderer rendering.Renderer
	TopicMgr *topicmgr.Manager
	Logger   *slog.Logger
}

// Dependencies resolves the full set, building the session if needed.
func (c *Container) Dependencies() (Dependencies, error) {
	session, err := c.Session()
	if err != nil {
		return Dependencies{}, err
	}
	bus, err := c.Bus()
	if err != nil {
		return Dependencies{}, err
	}
	pools, err := c.Content()
	if err != nil {
		return Dependencies{}, err
	}
	renderer, err := do.Invoke[rendering.Renderer](c.injector)
	if err != nil {
		return Dependencies{}, err
	}
	return Dependencies{
		Session:  session,
		Bus:      bus,
		Content:  pools,
		Renderer: renderer,
		TopicMgr: topicmgr.Default(),
		Logger:   c.Logger(),
	}, nil
}
