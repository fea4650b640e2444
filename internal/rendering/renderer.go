package rendering

import (
	"bytes"
	"fmt"
	"io"

	"github.com/labstack/echo/v4"
	g "maragu.dev/gomponents"
)

// Renderer defines the contract for rendering gomponents nodes, either to bytes
// (HTMX fragments, CLI output) or straight into an echo response.
type Renderer interface {
	RenderComponent(node g.Node) ([]byte, error)
	RenderPage(c echo.Context, status int, node g.Node) error
}

// NodeRenderer is the gomponents Renderer. It also satisfies echo.Renderer.
type NodeRenderer struct{}

// New creates a NodeRenderer.
func New() *NodeRenderer {
	return &NodeRenderer{}
}

// RenderComponent renders node to a byte slice.
func (r *NodeRenderer) RenderComponent(node g.Node) ([]byte, error) {
	var buf bytes.Buffer
	if err := node.Render(&buf); err != nil {
		return nil, fmt.Errorf("failed to render component to bytes: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderPage writes node as a full HTTP response.
func (r *NodeRenderer) RenderPage(c echo.Context, status int, node g.Node) error {
	// Headers must be set before WriteHeader.
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(status)
	if err := node.Render(c.Response()); err != nil {
		c.Logger().Error("Failed to stream component to response writer:", err)
		return err
	}
	return nil
}

// Render implements echo.Renderer for c.Render(status, name, node).
func (r *NodeRenderer) Render(w io.Writer, _ string, data any, c echo.Context) error {
	node, ok := data.(g.Node)
	if !ok {
		return fmt.Errorf("unsupported component type: %T, want gomponents.Node", data)
	}
	if c.Response().Header().Get(echo.HeaderContentType) == "" {
		c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	}
	return node.Render(w)
}
