package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yishak-cs/meal-metrics/internal/database"
	"github.com/yishak-cs/meal-metrics/internal/metrics"
	"github.com/yishak-cs/meal-metrics/internal/models"
	"github.com/yishak-cs/meal-metrics/internal/services"
)

// RespondWithError sends a standardized JSON error response
func RespondWithError(c *gin.Context, httpStatus int, code string, message string, details interface{}) {
	c.JSON(httpStatus, models.APIError{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// respondWithError maps an engine or service error onto an HTTP status and error code
func (h *APIHandler) respondWithError(c *gin.Context, err error) {
	status, code, details := classifyError(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "code", code, "error", err)
	} else {
		h.log.Debug("request rejected", "method", c.Request.Method, "path", c.FullPath(), "code", code, "error", err)
	}
	RespondWithError(c, status, code, err.Error(), details)
}

func classifyError(err error) (int, string, interface{}) {
	var (
		validation *metrics.ValidationError
		imbalance  *metrics.RowImbalanceError
		band       *metrics.WeightBandError
		remote     *metrics.RemoteCommitError
		initErr    *metrics.SessionInitError
		submission *metrics.SubmissionError
	)

	switch {
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity, models.ErrorCodeValidation, gin.H{
			"weight":   validation.Weight,
			"rows":     validation.Rows,
			"messages": validation.Messages(),
		}
	case errors.As(err, &imbalance):
		return http.StatusUnprocessableEntity, models.ErrorCodeValidation, imbalance
	case errors.As(err, &band):
		return http.StatusUnprocessableEntity, models.ErrorCodeValueOutOfRange, band
	case errors.As(err, &remote):
		return http.StatusBadGateway, models.ErrorCodeRemoteCommitFailed, gin.H{"row_key": remote.RowKey}
	case errors.As(err, &initErr):
		return http.StatusBadGateway, models.ErrorCodeSessionInitFailed, nil
	case errors.As(err, &submission):
		return http.StatusBadGateway, models.ErrorCodeSubmissionFailed, nil
	case errors.Is(err, services.ErrSessionNotFound):
		return http.StatusNotFound, models.ErrorCodeSessionNotFound, nil
	case errors.Is(err, metrics.ErrRowNotFound),
		errors.Is(err, metrics.ErrUnknownMealTime),
		errors.Is(err, database.ErrNoMealService):
		return http.StatusNotFound, models.ErrorCodeNotFound, nil
	case errors.Is(err, metrics.ErrUnknownCategory),
		errors.Is(err, metrics.ErrUnknownProtein),
		errors.Is(err, metrics.ErrProteinUnavailable):
		return http.StatusBadRequest, models.ErrorCodeInvalidEnumValue, nil
	case errors.Is(err, metrics.ErrCommitInProgress),
		errors.Is(err, metrics.ErrStaleSession),
		errors.Is(err, metrics.ErrSessionClosed):
		return http.StatusConflict, models.ErrorCodeConflict, nil
	case errors.Is(err, metrics.ErrSourceUnavailable):
		return http.StatusBadGateway, models.ErrorCodeSourceUnavailable, nil
	}
	return http.StatusInternalServerError, models.ErrorCodeInternalServerError, nil
}
