package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorResponseUsesErrorStatus(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, AppErrorResponse(c, NotFoundErrorf("product %s not found", "p1")))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body struct {
		Status int        `json:"status"`
		Data   []AppError `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, CodeNotFound, body.Data[0].Code)
	assert.Equal(t, "product p1 not found", body.Data[0].Message)
}

func TestAppErrorResponseHidesUnknownErrors(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, AppErrorResponse(c, errors.New("pq: password authentication failed")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

type windowQuery struct {
	Days int    `query:"days" default:"30" validate:"min=1,max=365"`
	Kind string `query:"kind" default:"price" validate:"oneof=price demand"`
}

func TestReadAndValidateRequest(t *testing.T) {
	e := echo.New()

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?days=7", nil), httptest.NewRecorder())
	var ok windowQuery
	assert.Nil(t, ReadAndValidateRequest(c, &ok))
	assert.Equal(t, 7, ok.Days)
	assert.Equal(t, "price", ok.Kind)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?days=900&kind=volume", nil), httptest.NewRecorder())
	var bad windowQuery
	errs := ReadAndValidateRequest(c, &bad)
	require.Len(t, errs, 2)
	assert.Equal(t, CodeValidation, errs[0].Code)
	assert.Equal(t, "Days", errs[0].Field)
}
