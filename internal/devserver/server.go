// Package devserver is a development backend that speaks the chat wire
// protocol: it issues short-lived tokens, accepts sockets, replays history and
// broadcasts posted messages. It keeps everything in memory.
package devserver

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/nfrund/chatsession/internal/config"
	"github.com/nfrund/chatsession/internal/credential"
	"github.com/nfrund/chatsession/internal/middleware"
	"github.com/nfrund/chatsession/internal/outbound"
)

// DefaultHeartbeatInterval is how often the server writes heartbeat frames.
const DefaultHeartbeatInterval = 4 * time.Second

// MaxMessageLength caps posted text, in runes.
const MaxMessageLength = 2000

var validate = validator.New()

type tokenRequest struct {
	DisplayName string `json:"displayName" validate:"required,max=32"`
}

// Server holds the dependencies of the development backend.
type Server struct {
	E *echo.Echo

	room              *Room
	signingKey        []byte
	tokenTTL          time.Duration
	heartbeatInterval time.Duration
	logger            *slog.Logger
	now               func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithHeartbeatInterval sets how often heartbeats are written to each socket.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeatInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a server from cfg.
func New(cfg config.DevServer, opts ...Option) *Server {
	s := &Server{
		signingKey:        []byte(cfg.SigningKey),
		tokenTTL:          cfg.TokenTTL,
		heartbeatInterval: DefaultHeartbeatInterval,
		logger:            slog.Default().With("component", "devserver"),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.room = NewRoom(cfg.HistoryLimit, s.logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.Logger(s.logger))

	e.GET("/up", s.handleUp)
	e.POST("/auth/token", s.handleToken)
	e.GET("/ws", s.handleSocket)
	e.POST("/messages", s.handlePostMessage, middleware.Auth(s.signingKey), middleware.RateLimiter(cfg.SendRate))

	s.E = e
	return s
}

// Room returns the chat room.
func (s *Server) Room() *Room { return s.room }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.E.ServeHTTP(w, r)
}

func (s *Server) handleUp(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) handleToken(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid body"})
	}
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if err := validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "displayName is required (max 32 characters)"})
	}

	token, err := credential.Issue(s.signingKey, uuid.NewString(), req.DisplayName, s.tokenTTL)
	if err != nil {
		middleware.FromContext(c.Request().Context()).Error("Failed to issue token", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not issue token"})
	}
	return c.JSON(http.StatusOK, credential.TokenResponse{Token: token})
}

func (s *Server) handlePostMessage(c echo.Context) error {
	logger := middleware.FromContext(c.Request().Context())
	claims := middleware.ClaimsFrom(c)

	var req outbound.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid body"})
	}
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "message is empty"})
	}
	if len([]rune(text)) > MaxMessageLength {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "message is too long"})
	}

	msg := newMessage(claims, text, s.now())
	if err := s.room.Post(msg); err != nil {
		logger.Error("Failed to post message", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not post message"})
	}
	logger.Debug("Message posted", "id", msg.ID, "user", claims.Subject)
	return c.NoContent(http.StatusCreated)
}
