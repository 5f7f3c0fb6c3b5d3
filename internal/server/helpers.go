package server

import (
	"errors"
	"log/slog"

	"stableposts/internal/middleware"
	"stableposts/internal/models"

	"github.com/gofiber/fiber/v2"
)

// respondWithServiceError maps a service error to its HTTP status. A missing
// post answers with notFoundStatus, which differs between reads and writes.
func respondWithServiceError(c *fiber.Ctx, err error, notFoundStatus int) error {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
	}

	switch appErr.Code {
	case models.CodeNotFound:
		return models.RespondWithError(c, notFoundStatus, err)
	case models.CodeValidation:
		return models.RespondWithError(c, fiber.StatusBadRequest, err)
	case models.CodeResourceExhausted:
		middleware.Logger.ErrorContext(c.UserContext(), "post store exhausted",
			slog.String("path", c.Path()), slog.String("error", err.Error()))
		return models.RespondWithError(c, fiber.StatusInsufficientStorage, err)
	default:
		middleware.Logger.ErrorContext(c.UserContext(), "request failed",
			slog.String("path", c.Path()), slog.String("error", err.Error()))
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}
}
