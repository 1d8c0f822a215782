package api

import (
	"errors"

	"PriceIntel/internal/domain/models"
	xhttp "PriceIntel/pkg/http"
)

// appError maps domain errors onto HTTP errors.
func appError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, models.ErrNotFound):
		return xhttp.NotFoundErrorf("%v", err).WithError(err)
	case errors.Is(err, models.ErrRunInProgress):
		return xhttp.ConflictError(err.Error()).WithError(err)
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}
