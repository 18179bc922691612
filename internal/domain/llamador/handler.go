package llamador

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/nobis/llamador/internal/platform/auth"
	"github.com/nobis/llamador/internal/platform/websocket"
)

const OperatorRole = "operador"

type Handler struct {
	ingestor      *Ingestor
	dispatcher    *Dispatcher
	registry      *Registry
	dir           *websocket.Directory
	movements     MovementLog
	dashboardPath string
	logger        zerolog.Logger
}

func NewHandler(ingestor *Ingestor, dispatcher *Dispatcher, registry *Registry, dir *websocket.Directory,
	movements MovementLog, dashboardPath string, logger zerolog.Logger) *Handler {
	if movements == nil {
		movements = NopMovementLog{}
	}
	return &Handler{
		ingestor:      ingestor,
		dispatcher:    dispatcher,
		registry:      registry,
		dir:           dir,
		movements:     movements,
		dashboardPath: dashboardPath,
		logger:        logger,
	}
}

// RegisterRoutes mounts the partner webhook and diagnostics on public and the
// operator actions on operator, which must already authenticate callers.
// webhookMW applies to the webhook route only.
func (h *Handler) RegisterRoutes(public *echo.Group, operator *echo.Group, webhookMW ...echo.MiddlewareFunc) {
	public.POST("/webhook/llamador", h.Webhook, webhookMW...)
	public.GET("/diagnostico", h.Diagnostico)

	ops := operator.Group("", auth.RequireRole(OperatorRole))
	ops.POST("/llamar", h.Llamar)
	ops.POST("/rellamar", h.Rellamar)
	ops.GET("/api/v1/registros", h.ListRegistros)
	ops.GET("/api/v1/movimientos", h.ListMovimientos)
}

func (h *Handler) Webhook(c echo.Context) error {
	var ev WebhookEvent
	if err := c.Bind(&ev); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid webhook payload"))
	}

	res, err := h.ingestor.Ingest(c.Request().Context(), ev)
	switch {
	case errors.Is(err, ErrValidation):
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, ErrUpstreamUnavailable):
		h.logger.Error().Err(err).Str("case_id", string(ev.CaseID)).Msg("webhook ingestion failed")
		return c.JSON(http.StatusBadGateway, errorBody("messaging partner unavailable"))
	case err != nil:
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// Llamar always sends the operator back to the queue view, whether or not a
// patient was actually called.
func (h *Handler) Llamar(c echo.Context) error {
	id, box, branch := callForm(c)
	if err := h.dispatcher.Call(c.Request().Context(), id, box, branch); err != nil {
		h.logger.Warn().Err(err).Str("registro_id", id).Msg("call not performed")
	}
	return c.Redirect(http.StatusSeeOther, h.dashboardURL(branch))
}

func (h *Handler) Rellamar(c echo.Context) error {
	id, box, branch := callForm(c)
	err := h.dispatcher.RepeatCall(c.Request().Context(), id, box, branch)
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, "registro_id, box and sucursal are required")
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "registro not found")
	case errors.Is(err, ErrNoActiveDisplay):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no hay llamadores activos para la sucursal")
	case err != nil:
		return err
	}
	return c.Redirect(http.StatusSeeOther, h.dashboardURL(branch))
}

func (h *Handler) Diagnostico(c echo.Context) error {
	return c.JSON(http.StatusOK, Diagnostics(h.dir))
}

func (h *Handler) ListRegistros(c echo.Context) error {
	branch := normalizeBranch(c.QueryParam("sucursal"))
	var records []CallRecord
	if branch == "" {
		records = h.registry.All()
	} else {
		records = h.registry.ByBranch(branch)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  records,
		"total": len(records),
	})
}

func (h *Handler) ListMovimientos(c echo.Context) error {
	branch := normalizeBranch(c.QueryParam("sucursal"))
	if branch == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sucursal is required")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	items, err := h.movements.ListByBranch(c.Request().Context(), branch, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list movimientos")
	}
	if items == nil {
		items = []*Movement{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  items,
		"total": len(items),
	})
}

func (h *Handler) dashboardURL(branch string) string {
	if branch == "" {
		return h.dashboardPath + "/"
	}
	return h.dashboardPath + "/" + url.PathEscape(branch)
}

func callForm(c echo.Context) (id, box, branch string) {
	return strings.TrimSpace(c.FormValue("registro_id")),
		strings.TrimSpace(c.FormValue("box")),
		normalizeBranch(c.FormValue("sucursal"))
}

func normalizeBranch(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"status": "error", "error": msg}
}
