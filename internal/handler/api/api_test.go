package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceIntel/internal/domain/models"
	"PriceIntel/internal/service/export"
	"PriceIntel/internal/service/ratelimit"
	xhttp "PriceIntel/pkg/http"
)

var now = time.Date(2026, 3, 20, 6, 0, 0, 0, time.UTC)

type fakeDashboard struct {
	filter     models.DashboardFilter
	confidence float64
	err        error
}

func (f *fakeDashboard) Dashboard(_ context.Context, filter models.DashboardFilter) (models.Dashboard, error) {
	f.filter = filter
	if f.err != nil {
		return models.Dashboard{}, f.err
	}
	return models.Dashboard{
		GeneratedAt: now,
		KPI:         &models.KPISummary{Revenue30d: 100},
		Errors:      map[string]string{models.PanelDemand: "velocity: timeout"},
	}, nil
}

func (f *fakeDashboard) PriceTrend(_ context.Context, id string, days int) (models.ChartSeries, error) {
	v := 10.0
	return models.ChartSeries{ProductID: id, Labels: []string{"2026-03-19", "2026-03-20"}, Datasets: []models.ChartDataset{{Label: "price", Data: []*float64{nil, &v}}}}, nil
}

func (f *fakeDashboard) DemandTrend(_ context.Context, id string, _ int) (models.ChartSeries, error) {
	return models.ChartSeries{ProductID: id}, nil
}

func (f *fakeDashboard) ForecastVsActual(_ context.Context, id string, confidence float64) (models.ChartSeries, error) {
	f.confidence = confidence
	return models.ChartSeries{ProductID: id, Error: "no price forecast for product"}, nil
}

type fakePipeline struct {
	run    models.PipelineRun
	err    error
	health models.HealthStatus
	reqs   []models.RunRequest
}

func (f *fakePipeline) Run(_ context.Context, req models.RunRequest) (models.PipelineRun, error) {
	f.reqs = append(f.reqs, req)
	return f.run, f.err
}

func (f *fakePipeline) HealthCheck(context.Context) models.HealthStatus { return f.health }

func (f *fakePipeline) ListRuns(_ context.Context, limit int) ([]models.PipelineRun, error) {
	runs := []models.PipelineRun{{RunID: "r2"}, {RunID: "r1"}}
	if limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}

type fakeProducts struct{}

func (fakeProducts) ProductIntelligence(_ context.Context, id string) (models.ProductIntelligence, error) {
	if id != "p1" {
		return models.ProductIntelligence{}, models.ErrNotFound
	}
	return models.ProductIntelligence{Product: models.Product{ID: "p1", Name: "Widget"}}, nil
}

func (fakeProducts) DemandScenario(_ context.Context, id string, horizon int, scenario models.DemandScenario) (models.Forecast, error) {
	if id != "p1" {
		return models.Forecast{}, models.ErrNotFound
	}
	if scenario.Elasticity == 0 {
		scenario.Elasticity = -2
	}
	return models.Forecast{ProductID: id, Kind: models.ForecastDemand, Horizon: horizon, Scenario: &scenario, Status: models.StatusOK}, nil
}

func newTestEcho(dash *fakeDashboard, pipe *fakePipeline, limiter *ratelimit.Limiter) *echo.Echo {
	e := echo.New()
	xhttp.Handlers{
		NewDashboardHandler(dash, nil),
		NewPipelineHandler(pipe, pipe, limiter, nil, nil),
		NewProductHandler(fakeProducts{}, nil),
	}.RegisterRoutes(e)
	return e
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, rec.Code, env.Status)
	require.NoError(t, json.Unmarshal(env.Data, into))
}

func TestDashboardRoute(t *testing.T) {
	dash := &fakeDashboard{}
	e := newTestEcho(dash, &fakePipeline{}, nil)

	rec := do(e, http.MethodGet, "/api/dashboard?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, dash.filter.Limit)
	assert.Equal(t, 30, dash.filter.Days)

	var got models.Dashboard
	decode(t, rec, &got)
	assert.Equal(t, 100.0, got.KPI.Revenue30d)
	assert.Equal(t, "velocity: timeout", got.Errors[models.PanelDemand])
}

func TestDashboardRoute_Validation(t *testing.T) {
	e := newTestEcho(&fakeDashboard{}, &fakePipeline{}, nil)

	rec := do(e, http.MethodGet, "/api/dashboard?limit=1000", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var verrs []xhttp.ValidationError
	decode(t, rec, &verrs)
	require.Len(t, verrs, 1)
	assert.Equal(t, xhttp.CodeValidation, verrs[0].Code)
}

func TestDashboardRoute_Failure(t *testing.T) {
	e := newTestEcho(&fakeDashboard{err: errors.New("cache down")}, &fakePipeline{}, nil)
	rec := do(e, http.MethodGet, "/api/dashboard", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestExportRoute(t *testing.T) {
	e := newTestEcho(&fakeDashboard{}, &fakePipeline{}, nil)

	rec := do(e, http.MethodGet, "/api/dashboard/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "dashboard-2026-03-20.xlsx")

	rows, err := export.ReadSheet(rec.Body.Bytes(), export.SheetErrors)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.PanelDemand, rows[1][0])
}

func TestChartRoutes(t *testing.T) {
	e := newTestEcho(&fakeDashboard{}, &fakePipeline{}, nil)

	rec := do(e, http.MethodGet, "/api/charts/price-trend?product_id=p1&days=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var series models.ChartSeries
	decode(t, rec, &series)
	assert.Equal(t, "p1", series.ProductID)
	require.Len(t, series.Datasets[0].Data, 2)
	assert.Nil(t, series.Datasets[0].Data[0])

	rec = do(e, http.MethodGet, "/api/charts/demand-trend", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "product_id is required")

	dash := &fakeDashboard{}
	e = newTestEcho(dash, &fakePipeline{}, nil)
	rec = do(e, http.MethodGet, "/api/charts/forecast?product_id=p9", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &series)
	assert.Equal(t, "no price forecast for product", series.Error)
	assert.Zero(t, dash.confidence)

	rec = do(e, http.MethodGet, "/api/charts/forecast?product_id=p9&confidence=0.99", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.99, dash.confidence)

	rec = do(e, http.MethodGet, "/api/charts/forecast?product_id=p9&confidence=95", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "confidence is a fraction")
}

func TestProductRoute(t *testing.T) {
	e := newTestEcho(&fakeDashboard{}, &fakePipeline{}, nil)

	rec := do(e, http.MethodGet, "/api/products/p1/intelligence", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pi models.ProductIntelligence
	decode(t, rec, &pi)
	assert.Equal(t, "Widget", pi.Product.Name)

	rec = do(e, http.MethodGet, "/api/products/p9/intelligence", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDemandScenarioRoute(t *testing.T) {
	e := newTestEcho(&fakeDashboard{}, &fakePipeline{}, nil)

	rec := do(e, http.MethodGet, "/api/products/p1/demand-scenario?price_change_pct=-10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var f models.Forecast
	decode(t, rec, &f)
	assert.Equal(t, 14, f.Horizon, "horizon defaults to two weeks")
	require.NotNil(t, f.Scenario)
	assert.Equal(t, -10.0, f.Scenario.PriceChangePct)
	assert.Equal(t, -2.0, f.Scenario.Elasticity)

	rec = do(e, http.MethodGet, "/api/products/p1/demand-scenario?price_change_pct=-95", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodGet, "/api/products/p9/demand-scenario?price_change_pct=5&horizon=7", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerRoute(t *testing.T) {
	t.Run("accepted with report", func(t *testing.T) {
		pipe := &fakePipeline{run: models.PipelineRun{RunID: "r1", Status: models.RunSuccess}}
		e := newTestEcho(&fakeDashboard{}, pipe, nil)

		rec := do(e, http.MethodPost, "/api/pipeline/runs", `{"triggered_by":"ops"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)
		var run models.PipelineRun
		decode(t, rec, &run)
		assert.Equal(t, "r1", run.RunID)
		assert.Equal(t, "ops", pipe.reqs[0].TriggeredBy)
	})

	t.Run("empty body defaults trigger", func(t *testing.T) {
		pipe := &fakePipeline{run: models.PipelineRun{RunID: "r1"}}
		e := newTestEcho(&fakeDashboard{}, pipe, nil)
		rec := do(e, http.MethodPost, "/api/pipeline/runs", "")
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "api", pipe.reqs[0].TriggeredBy)
	})

	t.Run("queued", func(t *testing.T) {
		pipe := &fakePipeline{run: models.PipelineRun{RunID: "job-1", Status: models.RunQueued}}
		rec := do(newTestEcho(&fakeDashboard{}, pipe, nil), http.MethodPost, "/api/pipeline/runs", "")
		require.Equal(t, http.StatusAccepted, rec.Code)
		var run models.PipelineRun
		decode(t, rec, &run)
		assert.Equal(t, models.RunQueued, run.Status)
	})

	t.Run("conflict while running", func(t *testing.T) {
		pipe := &fakePipeline{err: models.ErrRunInProgress}
		rec := do(newTestEcho(&fakeDashboard{}, pipe, nil), http.MethodPost, "/api/pipeline/runs", "")
		assert.Equal(t, http.StatusConflict, rec.Code)
		var errs []xhttp.AppError
		decode(t, rec, &errs)
		assert.Equal(t, xhttp.CodeConflict, errs[0].Code)
	})

	t.Run("rate limited", func(t *testing.T) {
		pipe := &fakePipeline{}
		e := newTestEcho(&fakeDashboard{}, pipe, ratelimit.New(0.001, 1))
		assert.Equal(t, http.StatusAccepted, do(e, http.MethodPost, "/api/pipeline/runs", "").Code)
		assert.Equal(t, http.StatusTooManyRequests, do(e, http.MethodPost, "/api/pipeline/runs", "").Code)
		assert.Len(t, pipe.reqs, 1)
	})
}

func TestListRunsRoute(t *testing.T) {
	e := newTestEcho(&fakeDashboard{}, &fakePipeline{}, nil)

	rec := do(e, http.MethodGet, "/api/pipeline/runs?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rows  []models.PipelineRun `json:"rows"`
		Total int64                `json:"total"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Rows, 1)
	assert.Equal(t, "r2", list.Rows[0].RunID)
}

func TestHealthRoute(t *testing.T) {
	pipe := &fakePipeline{health: models.HealthStatus{Status: models.HealthDegraded}}
	e := newTestEcho(&fakeDashboard{}, pipe, nil)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/api/health", "").Code)

	pipe.health.Status = models.HealthUnhealthy
	assert.Equal(t, http.StatusServiceUnavailable, do(e, http.MethodGet, "/api/health", "").Code)
}
