// Package view renders a read-only HTML transcript of a chat session.
package view

import (
	"time"

	g "maragu.dev/gomponents"
	hx "maragu.dev/gomponents-htmx"
	h "maragu.dev/gomponents/html"

	"github.com/nfrund/chatsession/internal/domain"
	"github.com/nfrund/chatsession/internal/store"
)

const htmxScript = "https://unpkg.com/htmx.org@2.0.4"

// DateLabel formats a timeline boundary for display.
func DateLabel(key string) string {
	if key == domain.UnknownDate {
		return "Earlier"
	}
	day, err := time.Parse(domain.DateLayout, key)
	if err != nil {
		return key
	}
	return day.Format("Monday, January 2, 2006")
}

// Transcript renders the timeline rows in order.
func Transcript(entries []store.Entry) g.Node {
	if len(entries) == 0 {
		return h.Div(h.ID("transcript"), h.P(h.Class("empty"), g.Text("No messages yet.")))
	}
	return h.Div(h.ID("transcript"),
		g.Map(entries, func(e store.Entry) g.Node {
			if e.Kind == store.EntryBoundary {
				return h.Div(h.Class("date-separator"), g.Attr("data-date", e.DateKey), g.Text(DateLabel(e.DateKey)))
			}
			return message(e.Message)
		}),
	)
}

func message(m domain.ChatMessage) g.Node {
	return h.Div(h.Class("message"),
		g.If(m.ID != "", g.Attr("data-id", m.ID)),
		g.If(m.SentAtLocalTime != "", h.Span(h.Class("time"), g.Text(m.SentAtLocalTime))),
		h.Span(h.Class("author"), g.Text(m.SenderDisplayName)),
		h.Span(h.Class("text"), g.Text(m.Text)),
	)
}

// Status renders the connection banner and, while locked, the remaining penalty.
func Status(state domain.ConnectionState, penalty time.Duration) g.Node {
	return h.Div(h.ID("status"), h.Class("status status-"+state.String()),
		g.Text(state.String()),
		g.If(penalty > 0, h.Span(h.Class("penalty"),
			g.Textf(" (sending locked for %s)", penalty.Round(time.Second)))),
	)
}

// Fragment is the part of the page the browser polls for.
func Fragment(src Source) g.Node {
	return g.Group{
		Status(src.State(), src.PenaltyRemaining()),
		Transcript(src.Timeline()),
	}
}

// Page is the full document. The body refreshes its content from path every poll.
func Page(title string, src Source, path string, poll time.Duration) g.Node {
	return h.Doctype(
		h.HTML(h.Lang("en"),
			h.Head(
				h.Meta(h.Charset("utf-8")),
				h.TitleEl(g.Text(title)),
				h.Script(h.Src(htmxScript)),
			),
			h.Body(
				h.H1(g.Text(title)),
				h.Main(
					hx.Get(path),
					hx.Trigger("every "+poll.String()),
					hx.Swap("innerHTML"),
					Fragment(src),
				),
			),
		),
	)
}
