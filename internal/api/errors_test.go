package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"milestonehub/internal/submission"
	"milestonehub/internal/upload"
	"milestonehub/pkg/circuitbreaker"
)

func TestStatusOf(t *testing.T) {
	sinkErr := func(err error) error {
		return &submission.SubmissionError{SessionID: "s-1", MilestoneID: "ms-1", Err: err}
	}

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &submission.ValidationError{Reasons: []submission.Reason{submission.ReasonFilesMissing}}, http.StatusUnprocessableEntity},
		{"sink failure", sinkErr(errors.New("connection refused")), http.StatusBadGateway},
		{"breaker open", sinkErr(circuitbreaker.ErrCircuitBreakerOpen), http.StatusServiceUnavailable},
		{"sink conflict", sinkErr(submission.ErrMilestoneConflict), http.StatusConflict},
		{"unknown session", submission.ErrSessionNotFound, http.StatusNotFound},
		{"unknown milestone", fmt.Errorf("get milestone: %w", submission.ErrMilestoneNotFound), http.StatusNotFound},
		{"unknown file", upload.ErrFileNotFound, http.StatusNotFound},
		{"already submitted", submission.ErrAlreadySubmitted, http.StatusConflict},
		{"submit in progress", submission.ErrSubmitInProgress, http.StatusConflict},
		{"closed milestone", submission.ErrMilestoneNotOpen, http.StatusConflict},
		{"not retryable", upload.ErrNotRetryable, http.StatusConflict},
		{"bad descriptor", upload.ErrInvalidDescriptor, http.StatusBadRequest},
		{"bad checklist item", submission.ErrUnknownChecklistItem, http.StatusBadRequest},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, statusOf(tc.err))
		})
	}
}
