package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"milestonehub/internal/submission"
	"milestonehub/internal/upload"
	"milestonehub/pkg/circuitbreaker"
)

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	var verr *submission.ValidationError
	var serr *submission.SubmissionError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &serr):
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
			return http.StatusServiceUnavailable
		}
		if errors.Is(err, submission.ErrMilestoneConflict) || errors.Is(err, submission.ErrMilestoneNotOpen) {
			return http.StatusConflict
		}
		return http.StatusBadGateway
	case errors.Is(err, submission.ErrSessionNotFound),
		errors.Is(err, submission.ErrProjectNotFound),
		errors.Is(err, submission.ErrMilestoneNotFound),
		errors.Is(err, upload.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, submission.ErrAlreadySubmitted),
		errors.Is(err, submission.ErrSubmitInProgress),
		errors.Is(err, submission.ErrMilestoneNotOpen),
		errors.Is(err, upload.ErrSealed),
		errors.Is(err, upload.ErrNotRetryable):
		return http.StatusConflict
	case errors.Is(err, upload.ErrInvalidDescriptor),
		errors.Is(err, submission.ErrUnknownChecklistItem):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// abortWithError writes the error body. Validation failures carry their reasons.
func abortWithError(c *gin.Context, err error) {
	status := statusOf(err)
	body := gin.H{"error": err.Error()}

	var verr *submission.ValidationError
	if errors.As(err, &verr) {
		body["reasons"] = verr.Reasons
		if len(verr.Missing) > 0 {
			body["missing"] = verr.Missing
		}
	}
	if status == http.StatusInternalServerError {
		body["error"] = "internal error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}
