// Package apierr renders errors as {"error": kind, "message": text} bodies.
package apierr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Error kinds returned in the "error" field.
const (
	KindValidation        = "ValidationError"
	KindNotFound          = "NotFound"
	KindConflict          = "Conflict"
	KindSlotUnavailable   = "SlotUnavailable"
	KindInvalidTransition = "InvalidTransition"
	KindInvalidState      = "InvalidState"
	KindUnauthorized      = "Unauthorized"
	KindForbidden         = "Forbidden"
	KindTooManyRequests   = "TooManyRequests"
	KindPayloadTooLarge   = "PayloadTooLarge"
	KindTimeout           = "Timeout"
	KindInternal          = "InternalError"
)

type Body struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func New(status int, kind, message string) *echo.HTTPError {
	return echo.NewHTTPError(status, Body{Error: kind, Message: message})
}

func Validation(message string) *echo.HTTPError {
	return New(http.StatusBadRequest, KindValidation, message)
}

func InvalidID(name string) *echo.HTTPError {
	return Validation("invalid " + name)
}

// Rule maps a sentinel error to a response.
type Rule struct {
	Target error
	Status int
	Kind   string
}

// Map returns the response of the first rule whose target err wraps. An
// unmatched error becomes a 500 that hides the cause from the client.
func Map(err error, rules ...Rule) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	for _, r := range rules {
		if errors.Is(err, r.Target) {
			return New(r.Status, r.Kind, err.Error())
		}
	}
	return &echo.HTTPError{
		Code:     http.StatusInternalServerError,
		Message:  Body{Error: KindInternal, Message: "internal server error"},
		Internal: err,
	}
}

func kindFor(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	case http.StatusTooManyRequests:
		return KindTooManyRequests
	case http.StatusRequestEntityTooLarge:
		return KindPayloadTooLarge
	case http.StatusGatewayTimeout:
		return KindTimeout
	default:
		return KindInternal
	}
}

// ErrorHandler replaces echo's default handler so every error, including
// router and middleware errors, leaves in the same shape. 5xx causes are
// logged.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		he, ok := err.(*echo.HTTPError)
		if !ok {
			he = Map(err)
		}

		body, ok := he.Message.(Body)
		if !ok {
			msg, isString := he.Message.(string)
			if !isString {
				msg = http.StatusText(he.Code)
			}
			body = Body{Error: kindFor(he.Code), Message: msg}
		}

		if he.Code >= http.StatusInternalServerError {
			cause := err
			if he.Internal != nil {
				cause = he.Internal
			}
			logger.Error().Err(cause).
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(he.Code)
			return
		}
		_ = c.JSON(he.Code, body)
	}
}
