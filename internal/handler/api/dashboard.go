package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"PriceIntel/internal/domain/models"
	"PriceIntel/internal/service/export"
	xhttp "PriceIntel/pkg/http"
	applogger "PriceIntel/pkg/logger"
	"PriceIntel/pkg/util"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// DashboardService is the read side the dashboard routes need.
type DashboardService interface {
	Dashboard(ctx context.Context, f models.DashboardFilter) (models.Dashboard, error)
	PriceTrend(ctx context.Context, productID string, days int) (models.ChartSeries, error)
	DemandTrend(ctx context.Context, productID string, days int) (models.ChartSeries, error)
	ForecastVsActual(ctx context.Context, productID string, confidence float64) (models.ChartSeries, error)
}

type DashboardHandler struct {
	svc DashboardService
	l   *applogger.Logger
}

func NewDashboardHandler(svc DashboardService, l *applogger.Logger) *DashboardHandler {
	if l == nil {
		l = applogger.Nop()
	}
	return &DashboardHandler{svc: svc, l: l}
}

func (h *DashboardHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/dashboard", h.Dashboard)
	g.GET("/dashboard/export", h.Export)
	g.GET("/charts/price-trend", h.PriceTrend)
	g.GET("/charts/demand-trend", h.DemandTrend)
	g.GET("/charts/forecast", h.Forecast)
}

func (h *DashboardHandler) load(c echo.Context) (models.Dashboard, *xhttp.AppError, []xhttp.ValidationError) {
	req := &models.DashboardRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return models.Dashboard{}, nil, verr
	}
	dash, err := h.svc.Dashboard(c.Request().Context(), models.DashboardFilter{Limit: req.Limit, Days: req.Days})
	if err != nil {
		h.l.Error("dashboard failed", applogger.Error(err))
		return models.Dashboard{}, appError(err), nil
	}
	return dash, nil, nil
}

func (h *DashboardHandler) Dashboard(c echo.Context) error {
	dash, appErr, verr := h.load(c)
	switch {
	case verr != nil:
		return xhttp.BadRequestResponse(c, verr)
	case appErr != nil:
		return xhttp.AppErrorResponse(c, appErr)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, dash)
}

func (h *DashboardHandler) Export(c echo.Context) error {
	dash, appErr, verr := h.load(c)
	switch {
	case verr != nil:
		return xhttp.BadRequestResponse(c, verr)
	case appErr != nil:
		return xhttp.AppErrorResponse(c, appErr)
	}
	b, err := export.DashboardWorkbook(dash)
	if err != nil {
		h.l.Error("dashboard export failed", applogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	name := fmt.Sprintf("dashboard-%s.xlsx", util.FormatDay(dash.GeneratedAt))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, xlsxContentType, b)
}

func (h *DashboardHandler) PriceTrend(c echo.Context) error {
	req := &models.ChartRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return h.chart(c, "price_trend", func(ctx context.Context) (models.ChartSeries, error) {
		return h.svc.PriceTrend(ctx, req.ProductID, req.Days)
	})
}

func (h *DashboardHandler) DemandTrend(c echo.Context) error {
	req := &models.ChartRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return h.chart(c, "demand_trend", func(ctx context.Context) (models.ChartSeries, error) {
		return h.svc.DemandTrend(ctx, req.ProductID, req.Days)
	})
}

func (h *DashboardHandler) Forecast(c echo.Context) error {
	req := &models.ForecastChartRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return h.chart(c, "forecast_vs_actual", func(ctx context.Context) (models.ChartSeries, error) {
		return h.svc.ForecastVsActual(ctx, req.ProductID, req.Confidence)
	})
}

func (h *DashboardHandler) chart(c echo.Context, name string, fn func(context.Context) (models.ChartSeries, error)) error {
	series, err := fn(c.Request().Context())
	if err != nil {
		h.l.Error("chart failed", applogger.String("chart", name), applogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.SuccessResponse(c, series)
}
