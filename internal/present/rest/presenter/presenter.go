package presenter

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/totegamma/agrichain/internal/domain"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// OK wraps a successful response.
func OK(c echo.Context, payload any) error {
	return c.JSON(http.StatusOK, payload)
}

func Created(c echo.Context, payload any) error {
	return c.JSON(http.StatusCreated, payload)
}

// BadRequest logs err and answers with msg. The error text never reaches the
// client.
func BadRequest(c echo.Context, err error, msg string) error {
	slog.DebugContext(c.Request().Context(), "bad request", "msg", msg, "err", err)
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func BadRequestMessage(c echo.Context, msg string) error {
	slog.DebugContext(c.Request().Context(), "bad request", "msg", msg)
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func Unauthorized(c echo.Context, msg string) error {
	return c.JSON(http.StatusUnauthorized, errorResponse{Error: msg})
}

func NotFound(c echo.Context, msg string) error {
	return c.JSON(http.StatusNotFound, errorResponse{Error: msg})
}

// BadGateway reports a failed ledger mirror. payload carries whatever was
// committed locally before the mirror ran.
func BadGateway(c echo.Context, msg string, payload any) error {
	return c.JSON(http.StatusBadGateway, echo.Map{
		"success": false,
		"error":   msg,
		"data":    payload,
	})
}

// InternalError logs err and answers with a generic message.
func InternalError(c echo.Context, err error) error {
	slog.ErrorContext(c.Request().Context(), "internal error", "path", c.Path(), "err", err)
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
}

// Error maps a usecase error onto its status code.
func Error(c echo.Context, err error) error {
	var validation domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return Unauthorized(c, "unauthorized")
	case errors.Is(err, domain.ErrInvalidCredentials):
		return Unauthorized(c, "invalid credentials")
	case errors.As(err, &validation):
		return BadRequestMessage(c, validation.Message)
	case errors.Is(err, domain.ErrNotFound):
		return NotFound(c, err.Error())
	default:
		return InternalError(c, err)
	}
}
