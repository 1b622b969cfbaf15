package submission

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMilestoneNotFound   = errors.New("milestone not found")
	ErrProjectNotFound     = errors.New("project not found")
	ErrMilestoneNotOpen    = errors.New("milestone is not open for submission")
	ErrMilestoneConflict   = errors.New("milestone was already submitted by another attempt")
	ErrSessionNotFound     = errors.New("submission session not found")
	ErrAlreadySubmitted    = errors.New("milestone already submitted")
	ErrSubmitInProgress    = errors.New("submission already in progress")
	ErrFilesMissing        = errors.New("files missing or still uploading")
	ErrUploadsFailed       = errors.New("one or more uploads failed")
	ErrChecklistIncomplete = errors.New("quality checklist incomplete")
)

// Reason names one unmet submit precondition.
type Reason string

const (
	ReasonFilesMissing        Reason = "files_missing"
	ReasonUploadsInProgress   Reason = "uploads_in_progress"
	ReasonUploadsFailed       Reason = "uploads_failed"
	ReasonChecklistIncomplete Reason = "checklist_incomplete"
)

func (r Reason) sentinel() error {
	switch r {
	case ReasonFilesMissing, ReasonUploadsInProgress:
		return ErrFilesMissing
	case ReasonUploadsFailed:
		return ErrUploadsFailed
	case ReasonChecklistIncomplete:
		return ErrChecklistIncomplete
	}
	return nil
}

// ValidationError is returned by Submit when the session is not ready.
// Nothing was mutated; the caller can fix the reasons and submit again.
type ValidationError struct {
	Reasons []Reason
	Missing []ChecklistItem
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Reasons))
	for _, r := range e.Reasons {
		parts = append(parts, string(r))
	}
	return "submission not ready: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Is(target error) bool {
	for _, r := range e.Reasons {
		if r.sentinel() == target {
			return true
		}
	}
	return false
}

// SubmissionError wraps a failed round-trip to the milestone sink. The session
// keeps its files and checklist so the same attempt can be submitted again.
type SubmissionError struct {
	SessionID   string
	MilestoneID string
	Err         error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit milestone %s (session %s): %v", e.MilestoneID, e.SessionID, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
