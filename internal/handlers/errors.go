package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/synesthesie/listings/internal/imageset"
	"github.com/synesthesie/listings/internal/services"
	"github.com/synesthesie/listings/internal/submission"
)

// respondError maps service errors to HTTP statuses.
func respondError(c *gin.Context, err error) {
	var statusErr *submission.StatusError
	switch {
	case errors.Is(err, services.ErrDraftNotFound),
		errors.Is(err, services.ErrListingNotFound),
		errors.Is(err, services.ErrUnknownEntry):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, imageset.ErrLimitReached),
		errors.Is(err, services.ErrPickInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, imageset.ErrPicker),
		errors.Is(err, imageset.ErrEmptyCollection),
		errors.Is(err, imageset.ErrNoFeatureImage),
		errors.Is(err, services.ErrImageMarked),
		errors.Is(err, services.ErrInvalidImageText),
		errors.Is(err, services.ErrInvalidKind),
		errors.Is(err, services.ErrInvalidTitle),
		errors.Is(err, services.ErrTooManyImages),
		errors.Is(err, services.ErrImageInfoMismatch),
		errors.Is(err, services.ErrUnknownImage):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.As(err, &statusErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": statusErr.Error()})
	default:
		log.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
		return uuid.Nil, false
	}
	return id, true
}
