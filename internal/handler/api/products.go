package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"PriceIntel/internal/domain/models"
	xhttp "PriceIntel/pkg/http"
	applogger "PriceIntel/pkg/logger"
)

type ProductService interface {
	ProductIntelligence(ctx context.Context, productID string) (models.ProductIntelligence, error)
	DemandScenario(ctx context.Context, productID string, horizon int, scenario models.DemandScenario) (models.Forecast, error)
}

type ProductHandler struct {
	svc ProductService
	l   *applogger.Logger
}

func NewProductHandler(svc ProductService, l *applogger.Logger) *ProductHandler {
	if l == nil {
		l = applogger.Nop()
	}
	return &ProductHandler{svc: svc, l: l}
}

func (h *ProductHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/products/:id/intelligence", h.Intelligence)
	e.GET("/api/products/:id/demand-scenario", h.DemandScenario)
}

func (h *ProductHandler) Intelligence(c echo.Context) error {
	req := &models.ProductRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	pi, err := h.svc.ProductIntelligence(c.Request().Context(), req.ProductID)
	if err != nil {
		h.l.Warn("product intelligence failed", applogger.String("product_id", req.ProductID), applogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.SuccessResponse(c, pi)
}

func (h *ProductHandler) DemandScenario(c echo.Context) error {
	req := &models.DemandScenarioRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	scenario := models.DemandScenario{PriceChangePct: req.PriceChangePct, Elasticity: req.Elasticity}
	f, err := h.svc.DemandScenario(c.Request().Context(), req.ProductID, req.Horizon, scenario)
	if err != nil {
		h.l.Warn("demand scenario failed", applogger.String("product_id", req.ProductID), applogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.SuccessResponse(c, f)
}
