package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/backoffice/internal/platform/auth"
	"github.com/clinic/backoffice/internal/platform/db"
	"github.com/clinic/backoffice/internal/platform/websocket"
	"github.com/clinic/backoffice/pkg/pagination"
)

type Handler struct {
	svc      *Service
	live     *websocket.Handler
	logger   zerolog.Logger
	pageSize int
	debounce time.Duration
}

// NewHandler wires the HTTP and live endpoints of the pipeline views.
func NewHandler(svc *Service, hub *websocket.Hub, pageSize int, debounce time.Duration, logger zerolog.Logger) *Handler {
	h := &Handler{
		svc:      svc,
		logger:   logger,
		pageSize: pageSize,
		debounce: debounce,
	}
	h.live = websocket.NewHandler(hub, h.newLiveSession, logger)
	return h
}

// AllowLiveOrigins sets the browser origins that may open the live view.
func (h *Handler) AllowLiveOrigins(origins []string) {
	h.live.AllowOrigins(origins)
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("/pipeline", auth.RequireRole("receptionist", "nurse", "doctor", "cashier"))
	staff.GET("/stages", h.ListStages)
	staff.GET("/live", h.live.HandleConnect)
	staff.GET("/:stage", h.ListStage)

	exports := api.Group("/pipeline", auth.RequireRole("cashier"))
	exports.GET("/:stage/export", h.ExportStage)
}

type stageInfo struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Discriminator string   `json:"discriminator"`
	Columns       []Column `json:"columns"`
}

func (h *Handler) ListStages(c echo.Context) error {
	out := make([]stageInfo, 0, len(Stages()))
	for _, s := range Stages() {
		out = append(out, stageInfo{
			ID:            s.String(),
			Title:         s.Title(),
			Discriminator: s.Discriminator(),
			Columns:       s.Columns(),
		})
	}
	return c.JSON(http.StatusOK, out)
}

type stageResponse struct {
	Columns []Column `json:"columns"`
	*pagination.Response
}

func (h *Handler) ListStage(c echo.Context) error {
	stage, err := ParseStage(c.Param("stage"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pg := pagination.FromContext(c, h.pageSize)

	table, total, err := h.svc.List(c.Request().Context(), stage, pg.Page, pg.PageSize, c.QueryParam("search"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "pipeline records unavailable")
	}
	return c.JSON(http.StatusOK, stageResponse{
		Columns:  table.Columns,
		Response: pagination.NewResponse(table.Rows, total, pg),
	})
}

func (h *Handler) ExportStage(c echo.Context) error {
	stage, err := ParseStage(c.Param("stage"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	table, err := h.svc.ExportTable(c.Request().Context(), stage, c.QueryParam("search"))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return echo.NewHTTPError(http.StatusBadGateway, "pipeline records unavailable")
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, XLSXContentType)
	res.Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", ExportFilename(stage, h.svc.Now())))
	res.WriteHeader(http.StatusOK)
	return EncodeXLSX(res, table)
}

func (h *Handler) newLiveSession(ctx context.Context, id string, send func([]byte) bool) (websocket.Session, error) {
	logger := h.logger.With().Str("session_id", id).Logger()
	return NewLiveSession(db.DetachConn(ctx), h.svc, LiveOptions{
		Stage:    StageReception,
		PageSize: h.pageSize,
		Debounce: h.debounce,
	}, send, logger), nil
}
