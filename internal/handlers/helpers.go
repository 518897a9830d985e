package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/snapvault/backend/internal/services"
	"github.com/snapvault/backend/pkg/utils"
)

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

// statusForKind maps domain error kinds to HTTP statuses. This is the only
// place that mapping lives; services never see status codes.
func statusForKind(kind services.ErrorKind) int {
	switch kind {
	case services.KindValidation:
		return fiber.StatusBadRequest
	case services.KindNotFound:
		return fiber.StatusNotFound
	case services.KindForbidden:
		return fiber.StatusForbidden
	case services.KindAlreadyMember:
		return fiber.StatusConflict
	case services.KindUnsupportedType:
		return fiber.StatusUnsupportedMediaType
	case services.KindTooLarge:
		return fiber.StatusRequestEntityTooLarge
	case services.KindContentMismatch:
		return fiber.StatusUnprocessableEntity
	case services.KindTooManyFiles:
		return fiber.StatusBadRequest
	case services.KindStorageWrite:
		return fiber.StatusBadGateway
	case services.KindConflict:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func respondServiceError(c *fiber.Ctx, err error) error {
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		return utils.ErrorWithKind(c, statusForKind(svcErr.Kind), string(svcErr.Kind), svcErr.Reason)
	}
	return utils.Error(c, fiber.StatusInternalServerError, "internal error")
}
