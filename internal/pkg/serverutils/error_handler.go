package serverutils

import (
	"errors"

	"mindmate-be/internal/pkg/logger"
	"mindmate-be/internal/pkg/ratelimit"
	"mindmate-be/internal/service"
	"mindmate-be/pkg/token"

	"github.com/gofiber/fiber/v2"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// StatusFor maps a domain error to its HTTP status and client-facing detail.
func StatusFor(err error) (int, string) {
	var (
		validationErr *ValidationError
		providerErr   *service.ProviderError
		fiberErr      *fiber.Error
	)

	switch {
	case errors.Is(err, token.ErrUnauthenticated):
		return fiber.StatusUnauthorized, "Could not validate credentials"
	case errors.Is(err, service.ErrInvalidCredentials):
		return fiber.StatusUnauthorized, "Invalid credentials"
	case errors.Is(err, service.ErrNotFound):
		return fiber.StatusNotFound, "Session not found"
	case errors.Is(err, service.ErrConflict):
		return fiber.StatusBadRequest, "Email already registered"
	case errors.Is(err, ratelimit.ErrRateLimited):
		return fiber.StatusTooManyRequests, "Too many requests"
	case errors.As(err, &validationErr):
		return fiber.StatusUnprocessableEntity, validationErr.Message
	case errors.As(err, &providerErr):
		return fiber.StatusInternalServerError, providerErr.Detail
	case errors.As(err, &fiberErr):
		return fiberErr.Code, fiberErr.Message
	default:
		return fiber.StatusInternalServerError, "Internal server error"
	}
}

// ErrorHandlerMiddleware turns errors returned by later handlers into {"detail": ...} responses.
func ErrorHandlerMiddleware(log logger.ILogger) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		status, detail := StatusFor(err)
		if status == fiber.StatusInternalServerError {
			log.Error("HTTP", "Request failed", map[string]interface{}{
				"method": ctx.Method(),
				"path":   ctx.Path(),
				"error":  err.Error(),
			})
		}
		if status == fiber.StatusUnauthorized && errors.Is(err, token.ErrUnauthenticated) {
			ctx.Set(fiber.HeaderWWWAuthenticate, "Bearer")
		}
		return ctx.Status(status).JSON(ErrorResponse{Detail: detail})
	}
}
