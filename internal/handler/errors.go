package handler

import (
	"errors"
	"net/http"
	"saas-billing/internal/apperror"

	"github.com/labstack/echo/v4"
)

// httpError maps a service error onto its status code. Errors of no known
// kind are returned as is and end up as 500.
func httpError(err error) error {
	var code int
	switch {
	case errors.Is(err, apperror.ErrSignature):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid webhook signature").SetInternal(err)
	case errors.Is(err, apperror.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, apperror.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, apperror.ErrStateConflict):
		code = http.StatusConflict
	case errors.Is(err, apperror.ErrGatewayRejected):
		code = http.StatusBadGateway
	case errors.Is(err, apperror.ErrGateway):
		code = http.StatusServiceUnavailable
	default:
		return err
	}
	return echo.NewHTTPError(code, apperror.Message(err)).SetInternal(err)
}
