package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"milestonehub/internal/model"
	"milestonehub/internal/upload"
	"milestonehub/pkg/circuitbreaker"
	"milestonehub/pkg/logger"
	"milestonehub/pkg/metrics"
	"milestonehub/pkg/trace"
)

// Catalog is the read side of the external project/milestone store.
type Catalog interface {
	GetProject(ctx context.Context, projectID string) (model.Project, error)
	GetMilestone(ctx context.Context, projectID, milestoneID string) (model.Milestone, error)
}

// Sink applies the "milestone submitted" mutation. Implementations must treat a
// repeated Submission.Key as success without applying the mutation twice.
type Sink interface {
	SetMilestoneSubmitted(ctx context.Context, sub Submission) error
}

// Submission is the payload handed to the Sink.
type Submission struct {
	Key         string               `json:"key"`
	SessionID   string               `json:"session_id"`
	ProjectID   string               `json:"project_id"`
	MilestoneID string               `json:"milestone_id"`
	Files       []model.UploadedFile `json:"files"`
	Notes       string               `json:"notes,omitempty"`
	SubmittedAt time.Time            `json:"submitted_at"`
	TraceID     string               `json:"trace_id,omitempty"`
}

type Receipt struct {
	SessionID      string               `json:"session_id"`
	IdempotencyKey string               `json:"idempotency_key"`
	ProjectID      string               `json:"project_id"`
	MilestoneID    string               `json:"milestone_id"`
	Files          []model.UploadedFile `json:"files"`
	SubmittedAt    time.Time            `json:"submitted_at"`
}

type SubmitResult struct {
	Receipt Receipt
	Err     error
}

type Config struct {
	Upload        upload.SupervisorConfig
	SubmitTimeout time.Duration
	// RetainSubmitted keeps a submitted session readable for this long before
	// it is evicted.
	RetainSubmitted time.Duration
	Breaker         circuitbreaker.Config
	VersionPolicy   upload.VersionPolicy
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(c *Coordinator) { c.newID = gen }
}

// Coordinator owns the open sessions, at most one per milestone, and drives
// their submission to the sink.
type Coordinator struct {
	catalog   Catalog
	sink      Sink
	transport upload.Transport
	cfg       Config
	breaker   *circuitbreaker.CircuitBreaker
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string

	mu          sync.Mutex
	sessions    map[string]*Session
	byMilestone map[string]string
	expiry      map[string]time.Time // submitted session id -> eviction time
}

func NewCoordinator(catalog Catalog, sink Sink, transport upload.Transport, cfg Config, logger *zap.Logger, opts ...Option) *Coordinator {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	if cfg.RetainSubmitted <= 0 {
		cfg.RetainSubmitted = 15 * time.Minute
	}
	if cfg.VersionPolicy == nil {
		cfg.VersionPolicy = upload.BumpOnReupload
	}
	breakerCfg := cfg.Breaker
	breakerCfg.OnStateChange = func(from, to circuitbreaker.State) {
		metrics.SetSinkBreakerState(int(to))
		logger.Warn("Sink circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	c := &Coordinator{
		catalog:     catalog,
		sink:        sink,
		transport:   transport,
		cfg:         cfg,
		breaker:     circuitbreaker.NewCircuitBreaker(breakerCfg),
		logger:      logger,
		now:         time.Now,
		newID:       uuid.NewString,
		sessions:    make(map[string]*Session),
		byMilestone: make(map[string]string),
		expiry:      make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func milestoneKey(projectID, milestoneID string) string {
	return projectID + "/" + milestoneID
}

// Select opens a fresh session for a pending or in-progress milestone. An
// earlier session for the same milestone is discarded and its uploads cancelled.
func (c *Coordinator) Select(ctx context.Context, projectID, milestoneID string) (*Session, error) {
	m, err := c.catalog.GetMilestone(ctx, projectID, milestoneID)
	if err != nil {
		return nil, fmt.Errorf("get milestone %s/%s: %w", projectID, milestoneID, err)
	}
	if !m.Open() {
		return nil, fmt.Errorf("%w: %s is %s", ErrMilestoneNotOpen, milestoneID, m.Status)
	}
	p, err := c.catalog.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", projectID, err)
	}

	key := milestoneKey(projectID, milestoneID)

	c.mu.Lock()
	c.evictLocked()
	if prevID, ok := c.byMilestone[key]; ok {
		if err := c.sessions[prevID].discard(); err != nil {
			c.mu.Unlock()
			return nil, err
		}
		delete(c.sessions, prevID)
		c.logger.Info("Previous session discarded",
			zap.String("session_id", prevID),
			zap.String("milestone_id", milestoneID),
		)
	}
	s := c.newSession(p, m)
	c.sessions[s.ID] = s
	c.byMilestone[key] = s.ID
	c.mu.Unlock()

	logger.WithTrace(ctx, c.logger).Info("Session opened",
		zap.String("session_id", s.ID),
		zap.String("project_id", projectID),
		zap.String("milestone_id", milestoneID),
		zap.String("milestone_status", string(m.Status)),
	)
	return s, nil
}

func (c *Coordinator) newSession(p model.Project, m model.Milestone) *Session {
	id := c.newID()
	log := c.logger.With(zap.String("session_id", id), zap.String("milestone_id", m.ID))
	registry := upload.NewRegistry(
		upload.WithVersionPolicy(c.cfg.VersionPolicy),
		upload.WithClock(c.now),
	)
	return &Session{
		ID:         id,
		Project:    p,
		CreatedAt:  c.now(),
		key:        c.newID(),
		registry:   registry,
		supervisor: upload.NewSupervisor(registry, c.transport, c.cfg.Upload, log),
		gate:       NewQualityGate(),
		logger:     log,
		milestone:  m.Clone(),
	}
}

func (c *Coordinator) Session(id string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictLocked()
	s, ok := c.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Discard cancels a session's uploads and forgets it.
func (c *Coordinator) Discard(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if err := s.discard(); err != nil {
		return err
	}
	delete(c.sessions, id)
	delete(c.expiry, id)
	key := milestoneKey(s.Project.ID, s.Milestone().ID)
	if c.byMilestone[key] == id {
		delete(c.byMilestone, key)
	}
	return nil
}

// Submit hands the session's files to the sink once every upload finished and
// the checklist is complete. A failed attempt leaves the session as it was and
// can be repeated; the sink sees the same idempotency key every time.
func (c *Coordinator) Submit(ctx context.Context, sessionID, notes string) (Receipt, error) {
	s, err := c.Session(sessionID)
	if err != nil {
		return Receipt{}, err
	}

	log := logger.WithTrace(ctx, s.logger)

	start := time.Now()
	files, err := s.beginSubmit()
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			for _, r := range verr.Reasons {
				metrics.IncrementGateRejection(string(r))
			}
			metrics.RecordSubmission("rejected", time.Since(start))
			log.Info("Submit rejected", zap.Strings("reasons", reasonStrings(verr.Reasons)))
		}
		return Receipt{}, err
	}

	sub := Submission{
		Key:         s.key,
		SessionID:   s.ID,
		ProjectID:   s.Project.ID,
		MilestoneID: s.Milestone().ID,
		Files:       files,
		Notes:       notes,
		SubmittedAt: c.now(),
		TraceID:     trace.FromContext(ctx),
	}

	err = c.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
		defer cancel()
		return c.sink.SetMilestoneSubmitted(ctx, sub)
	})
	if err != nil {
		serr := &SubmissionError{SessionID: s.ID, MilestoneID: sub.MilestoneID, Err: err}
		s.failSubmit(serr)
		metrics.RecordSubmission("failed", time.Since(start))
		log.Error("Submit failed",
			zap.String("idempotency_key", sub.Key),
			zap.Int("files", len(files)),
			zap.Error(err),
		)
		return Receipt{}, serr
	}

	receipt := Receipt{
		SessionID:      s.ID,
		IdempotencyKey: sub.Key,
		ProjectID:      sub.ProjectID,
		MilestoneID:    sub.MilestoneID,
		Files:          model.CloneFiles(files),
		SubmittedAt:    sub.SubmittedAt,
	}
	s.completeSubmit(sub, receipt)
	s.supervisor.Close()

	c.mu.Lock()
	key := milestoneKey(sub.ProjectID, sub.MilestoneID)
	if c.byMilestone[key] == s.ID {
		delete(c.byMilestone, key)
	}
	c.expiry[s.ID] = c.now().Add(c.cfg.RetainSubmitted)
	c.mu.Unlock()

	metrics.RecordSubmission("submitted", time.Since(start))
	log.Info("Milestone submitted",
		zap.String("project_id", sub.ProjectID),
		zap.String("idempotency_key", sub.Key),
		zap.Int("files", len(files)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return receipt, nil
}

// SubmitAsync runs Submit in the background. The channel yields exactly one result.
func (c *Coordinator) SubmitAsync(ctx context.Context, sessionID, notes string) <-chan SubmitResult {
	ch := make(chan SubmitResult, 1)
	go func() {
		defer close(ch)
		r, err := c.Submit(ctx, sessionID, notes)
		ch <- SubmitResult{Receipt: r, Err: err}
	}()
	return ch
}

// Close discards every session that is not mid-submit.
func (c *Coordinator) Close() {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		if err := s.discard(); err != nil {
			c.logger.Warn("Session not discarded", zap.String("session_id", s.ID), zap.Error(err))
		}
	}
}

// evictLocked forgets submitted sessions whose retention has passed. Caller holds c.mu.
func (c *Coordinator) evictLocked() {
	now := c.now()
	for id, at := range c.expiry {
		if now.Before(at) {
			continue
		}
		if s, ok := c.sessions[id]; ok {
			_ = s.discard() // submitted sessions are never mid-submit
			delete(c.sessions, id)
		}
		delete(c.expiry, id)
	}
}

func reasonStrings(reasons []Reason) []string {
	out := make([]string, len(reasons))
	for i, r := range reasons {
		out[i] = string(r)
	}
	return out
}
