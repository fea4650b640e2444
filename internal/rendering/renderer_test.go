package rendering

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	g "maragu.dev/gomponents"
	h "maragu.dev/gomponents/html"
)

func TestRenderComponent(t *testing.T) {
	out, err := New().RenderComponent(h.P(h.Class("note"), g.Text("a < b")))
	require.NoError(t, err)
	assert.Equal(t, `<p class="note">a &lt; b</p>`, string(out))
}

func TestRenderPage(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, New().RenderPage(c, http.StatusTeapot, h.Span(g.Text("hi"))))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, echo.MIMETextHTMLCharsetUTF8, rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "<span>hi</span>", rec.Body.String())
}

func TestRenderRejectsNonNodes(t *testing.T) {
	e := echo.New()
	e.Renderer = New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	assert.Error(t, c.Render(http.StatusOK, "", "plain string"))
	require.NoError(t, c.Render(http.StatusOK, "", h.B(g.Text("ok"))))
	assert.Contains(t, rec.Body.String(), "<b>ok</b>")
}
