package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/voyagehq/crm-ai-go/internal/middleware"
	"github.com/voyagehq/crm-ai-go/internal/utils"
)

// respondEngineError maps analytics engine errors onto HTTP statuses: bad
// input, thin data, unmappable questions and rejected SQL are the caller's
// problem, everything else is ours.
func respondEngineError(c *gin.Context, logger *logrus.Logger, err error, fallback string) {
	var validationErr *utils.ValidationError
	var dataErr *utils.InsufficientDataError
	var typeErr *utils.UnsupportedQueryTypeError
	var unsafeErr *utils.UnsafeQueryError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
	case errors.As(err, &dataErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": dataErr.Error()})
	case errors.As(err, &typeErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": typeErr.Error()})
	case errors.As(err, &unsafeErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": unsafeErr.Error()})
	default:
		middleware.RecordError(c, err, fallback)
		logger.WithError(err).Error(fallback)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
