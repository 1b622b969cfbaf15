package submission

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"milestonehub/internal/model"
	"milestonehub/internal/upload"
)

// State is the coordinator state of a session. pending and in-progress are
// inherited from the milestone record; the others are derived.
type State string

const (
	StatePending       State = "pending"
	StateInProgress    State = "in-progress"
	StateReadyToSubmit State = "ready-to-submit"
	StateSubmitting    State = "submitting"
	StateSubmitFailed  State = "submit-failed"
	StateSubmitted     State = "submitted"
	StateDiscarded     State = "discarded"
)

type phase int

const (
	phaseOpen phase = iota
	phaseSubmitting
	phaseFailed
	phaseSubmitted
	phaseDiscarded
)

// Readiness explains whether Submit would be accepted right now.
type Readiness struct {
	Ready     bool             `json:"ready"`
	Reasons   []Reason         `json:"reasons,omitempty"`
	Aggregate upload.Aggregate `json:"aggregate"`
	Missing   []ChecklistItem  `json:"missing,omitempty"`
}

// Session is one submission attempt for one milestone: its files, their
// uploads and the quality checklist.
type Session struct {
	ID        string
	Project   model.Project
	CreatedAt time.Time

	key        string
	registry   *upload.Registry
	supervisor *upload.Supervisor
	gate       *QualityGate
	logger     *zap.Logger

	mu        sync.Mutex
	milestone model.Milestone
	phase     phase
	lastErr   error
	receipt   *Receipt
}

// Milestone returns a copy of the milestone as this session last saw it.
func (s *Session) Milestone() model.Milestone {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.milestone.Clone()
}

// IdempotencyKey is sent with every submit attempt of this session.
func (s *Session) IdempotencyKey() string {
	return s.key
}

// checkOpen reports why the session no longer accepts edits. Caller holds s.mu.
func (s *Session) checkOpen() error {
	switch s.phase {
	case phaseSubmitting:
		return ErrSubmitInProgress
	case phaseSubmitted:
		return ErrAlreadySubmitted
	case phaseDiscarded:
		return ErrSessionNotFound
	}
	return nil
}

func (s *Session) Register(d model.FileDescriptor) (model.UploadedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return model.UploadedFile{}, err
	}
	f, err := s.registry.Register(d)
	if err != nil {
		return model.UploadedFile{}, err
	}
	s.logger.Info("File registered",
		zap.String("file_id", f.ID),
		zap.String("file_name", f.Name),
		zap.Int64("size", f.Size),
		zap.Int("version", f.Version),
	)
	return f, nil
}

// Withdraw removes a file and cancels its upload. Unknown ids are a no-op.
func (s *Session) Withdraw(fileID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return false, err
	}
	removed, err := s.registry.Withdraw(fileID)
	if err != nil {
		return false, err
	}
	if removed {
		s.logger.Info("File withdrawn", zap.String("file_id", fileID))
	}
	return removed, nil
}

// Retry re-uploads a rejected file as a new version.
func (s *Session) Retry(fileID string) (model.UploadedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return model.UploadedFile{}, err
	}
	f, err := s.registry.Retry(fileID)
	if err != nil {
		return model.UploadedFile{}, err
	}
	s.logger.Info("File retried",
		zap.String("previous_id", fileID),
		zap.String("file_id", f.ID),
		zap.Int("version", f.Version),
	)
	return f, nil
}

func (s *Session) Files() []model.UploadedFile {
	return s.registry.List()
}

func (s *Session) File(id string) (model.UploadedFile, bool) {
	return s.registry.Get(id)
}

func (s *Session) Aggregate() upload.Aggregate {
	return s.supervisor.AggregateStatus()
}

func (s *Session) Toggle(item ChecklistItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return false, err
	}
	return s.gate.Toggle(item)
}

func (s *Session) SetChecklist(item ChecklistItem, checked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.gate.Set(item, checked)
}

func (s *Session) Gate() []ItemState {
	return s.gate.Items()
}

func (s *Session) Readiness() Readiness {
	return readinessOf(s.registry.Snapshot(), s.gate.Missing())
}

func readinessOf(snap upload.Snapshot, missing []ChecklistItem) Readiness {
	r := Readiness{
		Aggregate: upload.Aggregate{Completed: snap.Completed, Total: snap.Total},
		Missing:   missing,
	}
	if snap.Total == 0 {
		r.Reasons = append(r.Reasons, ReasonFilesMissing)
	}
	if snap.Uploading > 0 {
		r.Reasons = append(r.Reasons, ReasonUploadsInProgress)
	}
	if snap.Rejected > 0 {
		r.Reasons = append(r.Reasons, ReasonUploadsFailed)
	}
	if len(missing) > 0 {
		r.Reasons = append(r.Reasons, ReasonChecklistIncomplete)
	}
	r.Ready = len(r.Reasons) == 0
	return r
}

func (s *Session) State() State {
	s.mu.Lock()
	p := s.phase
	status := s.milestone.Status
	s.mu.Unlock()

	switch p {
	case phaseSubmitting:
		return StateSubmitting
	case phaseFailed:
		return StateSubmitFailed
	case phaseSubmitted:
		return StateSubmitted
	case phaseDiscarded:
		return StateDiscarded
	}
	if s.Readiness().Ready {
		return StateReadyToSubmit
	}
	if status == model.MilestonePending {
		return StatePending
	}
	return StateInProgress
}

// LastError is the error of the most recent failed submit, if any.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Receipt returns the receipt once the session has been submitted.
func (s *Session) Receipt() (Receipt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receipt == nil {
		return Receipt{}, false
	}
	return *s.receipt, true
}

// beginSubmit seals the registry and moves the session to submitting when it
// is ready. The file list returned is the exact set that will be submitted.
func (s *Session) beginSubmit() ([]model.UploadedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	// sealed membership cannot change; once no file is uploading the statuses are final too
	s.registry.Seal()
	snap := s.registry.Snapshot()
	r := readinessOf(snap, s.gate.Missing())
	if !r.Ready {
		s.registry.Unseal()
		return nil, &ValidationError{Reasons: r.Reasons, Missing: r.Missing}
	}

	s.phase = phaseSubmitting
	s.lastErr = nil
	return snap.Files, nil
}

func (s *Session) failSubmit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry.Unseal()
	s.phase = phaseFailed
	s.lastErr = err
}

// completeSubmit applies a confirmed submission. The registry stays sealed.
func (s *Session) completeSubmit(sub Submission, receipt Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	submittedAt := sub.SubmittedAt
	s.milestone.Status = model.MilestoneSubmitted
	s.milestone.SubmittedFiles = model.CloneFiles(sub.Files)
	s.milestone.Notes = sub.Notes
	s.milestone.SubmittedAt = &submittedAt

	s.registry.Clear()
	s.gate.Reset()
	s.phase = phaseSubmitted
	s.receipt = &receipt
}

// discard cancels every upload. It fails while a submit is in flight.
func (s *Session) discard() error {
	s.mu.Lock()
	if s.phase == phaseSubmitting {
		s.mu.Unlock()
		return ErrSubmitInProgress
	}
	wasSubmitted := s.phase == phaseSubmitted
	s.phase = phaseDiscarded
	s.mu.Unlock()

	s.supervisor.Close()
	if !wasSubmitted {
		s.registry.Clear()
	}
	return nil
}

// Summary is a point-in-time view of a session.
type Summary struct {
	ID          string               `json:"id"`
	ProjectID   string               `json:"project_id"`
	ProjectName string               `json:"project_name"`
	Milestone   model.Milestone      `json:"milestone"`
	State       State                `json:"state"`
	Files       []model.UploadedFile `json:"files"`
	Checklist   []ItemState          `json:"checklist"`
	Readiness   Readiness            `json:"readiness"`
	LastError   string               `json:"last_error,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

func (s *Session) Summary() Summary {
	out := Summary{
		ID:          s.ID,
		ProjectID:   s.Project.ID,
		ProjectName: s.Project.Name,
		Milestone:   s.Milestone(),
		State:       s.State(),
		Files:       s.Files(),
		Checklist:   s.Gate(),
		Readiness:   s.Readiness(),
		CreatedAt:   s.CreatedAt,
	}
	if err := s.LastError(); err != nil {
		var serr *SubmissionError
		if errors.As(err, &serr) {
			err = serr.Err
		}
		out.LastError = err.Error()
	}
	return out
}
