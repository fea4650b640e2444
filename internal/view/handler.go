package view

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/chatsession/internal/domain"
	"github.com/nfrund/chatsession/internal/rendering"
	"github.com/nfrund/chatsession/internal/store"
)

// Source is the read side of a chat session.
type Source interface {
	Timeline() []store.Entry
	State() domain.ConnectionState
	PenaltyRemaining() time.Duration
}

// DefaultPoll is how often the page refreshes the transcript.
const DefaultPoll = 2 * time.Second

// Handler serves the transcript page and its polled fragment.
type Handler struct {
	src      Source
	renderer rendering.Renderer
	title    string
	poll     time.Duration
}

// NewHandler creates a Handler. A zero poll uses DefaultPoll.
func NewHandler(src Source, renderer rendering.Renderer, title string, poll time.Duration) *Handler {
	if poll <= 0 {
		poll = DefaultPoll
	}
	if title == "" {
		title = "Chat"
	}
	return &Handler{src: src, renderer: renderer, title: title, poll: poll}
}

// Register mounts the handler's routes on e.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/", h.PageGet)
	e.GET("/timeline", h.TimelineGet)
}

// PageGet renders the full document.
func (h *Handler) PageGet(c echo.Context) error {
	return h.renderer.RenderPage(c, http.StatusOK, Page(h.title, h.src, "/timeline", h.poll))
}

// TimelineGet renders the fragment swapped in by htmx.
func (h *Handler) TimelineGet(c echo.Context) error {
	return h.renderer.RenderPage(c, http.StatusOK, Fragment(h.src))
}
