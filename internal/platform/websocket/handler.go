package websocket

import (
	"net/http"
	"strings"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // call boards run on kiosk browsers of unknown origin
	},
}

// Handler upgrades Display and Dashboard channels and keeps them registered
// in the Directory for as long as their read loop lives.
type Handler struct {
	dir    *Directory
	logger zerolog.Logger
}

// NewHandler creates a new handler bound to the given Directory.
func NewHandler(dir *Directory, logger zerolog.Logger) *Handler {
	return &Handler{dir: dir, logger: logger}
}

// RegisterRoutes registers both channel endpoints on the provided Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws/llamador/:sucursal", h.HandleDisplay)
	g.GET("/ws/prellamador/:sucursal", h.HandleDashboard)
}

// HandleDisplay accepts a call-board connection for one branch.
func (h *Handler) HandleDisplay(c echo.Context) error {
	branch := normalizeBranch(c.Param("sucursal"))
	if branch == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sucursal is required")
	}
	key := DisplayKey(branch)

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(key, &gorillaConnAdapter{ws})
	h.dir.RegisterDisplay(key, client)
	h.logger.Info().Str("client_id", client.ID).Str("key", key).Msg("display connected")

	go h.readLoop(client, func() {
		h.dir.DeregisterDisplay(key, client)
		h.logger.Info().Str("client_id", client.ID).Str("key", key).Msg("display disconnected")
	})
	return nil
}

// HandleDashboard accepts an operator queue view for one branch.
func (h *Handler) HandleDashboard(c echo.Context) error {
	branch := normalizeBranch(c.Param("sucursal"))
	if branch == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sucursal is required")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(branch, &gorillaConnAdapter{ws})
	h.dir.RegisterDashboard(branch, client)
	h.logger.Info().Str("client_id", client.ID).Str("branch", branch).Msg("dashboard connected")

	go h.readLoop(client, func() {
		h.dir.DeregisterDashboard(branch, client)
		h.logger.Info().Str("client_id", client.ID).Str("branch", branch).Msg("dashboard disconnected")
	})
	return nil
}

// readLoop answers the application-level heartbeat and ignores everything
// else. Any read error ends the connection.
func (h *Handler) readLoop(client *Client, deregister func()) {
	defer func() {
		deregister()
		_ = client.Close()
	}()

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		if strings.TrimSpace(string(message)) != "ping" {
			continue
		}
		if err := client.Send([]byte("pong"), h.dir.sendTimeout); err != nil {
			h.logger.Warn().Err(err).Str("client_id", client.ID).Msg("pong failed")
			return
		}
	}
}

func normalizeBranch(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
