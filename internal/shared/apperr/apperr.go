// Package apperr carries HTTP-aware domain errors from services to handlers.
package apperr

import (
	"errors"

	"backend-skatespots/internal/kv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Error struct {
	Status int
	Msg    string
}

func (e *Error) Error() string { return e.Msg }

func Invalid(msg string) *Error   { return &Error{Status: fiber.StatusBadRequest, Msg: msg} }
func Forbidden(msg string) *Error { return &Error{Status: fiber.StatusForbidden, Msg: msg} }
func NotFound(msg string) *Error  { return &Error{Status: fiber.StatusNotFound, Msg: msg} }
func Conflict(msg string) *Error  { return &Error{Status: fiber.StatusConflict, Msg: msg} }

// ToFiber maps err to a *fiber.Error. Unknown errors are logged and hidden
// behind a generic 500.
func ToFiber(err error) error {
	var ae *Error
	if errors.As(err, &ae) {
		return fiber.NewError(ae.Status, ae.Msg)
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, kv.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "not found")
	}
	if errors.Is(err, kv.ErrContention) {
		return fiber.NewError(fiber.StatusConflict, "resource busy, retry")
	}
	zap.L().Error("request failed", zap.Error(err))
	return fiber.NewError(fiber.StatusInternalServerError, "internal server error")
}
