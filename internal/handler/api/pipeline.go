package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"PriceIntel/internal/domain/models"
	"PriceIntel/internal/service/ratelimit"
	xhttp "PriceIntel/pkg/http"
	applogger "PriceIntel/pkg/logger"
)

// PipelineService triggers runs and reports on them.
type PipelineService interface {
	Run(ctx context.Context, req models.RunRequest) (models.PipelineRun, error)
	HealthCheck(ctx context.Context) models.HealthStatus
}

// RunLister reads the run audit log.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]models.PipelineRun, error)
}

type PipelineHandler struct {
	svc     PipelineService
	runs    RunLister
	limiter *ratelimit.Limiter
	events  echo.HandlerFunc
	l       *applogger.Logger
}

// NewPipelineHandler wires the pipeline routes. limiter throttles triggers
// per client IP and may be nil; events serves the websocket stream and may
// be nil when streaming is disabled.
func NewPipelineHandler(svc PipelineService, runs RunLister, limiter *ratelimit.Limiter, events echo.HandlerFunc, l *applogger.Logger) *PipelineHandler {
	if l == nil {
		l = applogger.Nop()
	}
	return &PipelineHandler{svc: svc, runs: runs, limiter: limiter, events: events, l: l}
}

func (h *PipelineHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/pipeline/runs", h.Trigger)
	g.GET("/pipeline/runs", h.ListRuns)
	g.GET("/health", h.Health)
	if h.events != nil {
		g.GET("/ws/events", h.events)
	}
}

// Trigger runs the pipeline and answers with the run report. The run is
// detached from the request so a client hanging up does not cancel it.
func (h *PipelineHandler) Trigger(c echo.Context) error {
	if h.limiter != nil && !h.limiter.Allow(c.RealIP()) {
		h.l.Warn("pipeline trigger rate limited", applogger.String("remote", c.RealIP()))
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many pipeline triggers"))
	}
	req := &models.RunRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	run, err := h.svc.Run(context.WithoutCancel(c.Request().Context()), *req)
	if err != nil {
		h.l.Warn("pipeline trigger rejected", applogger.String("triggered_by", req.TriggeredBy), applogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.AcceptedResponse(c, run)
}

func (h *PipelineHandler) ListRuns(c echo.Context) error {
	req := &models.ListRunsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	runs, err := h.runs.ListRuns(c.Request().Context(), req.Limit)
	if err != nil {
		h.l.Error("list runs failed", applogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.ListResponse(c, runs, int64(len(runs)))
}

func (h *PipelineHandler) Health(c echo.Context) error {
	hs := h.svc.HealthCheck(c.Request().Context())
	status := http.StatusOK
	if hs.Status == models.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	return xhttp.DataResponse(c, status, hs)
}
