package repository

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"milestonehub/internal/model"
	"milestonehub/internal/submission"
)

type seedFile struct {
	Projects []model.Project `yaml:"projects"`
}

// LoadProjects reads the project catalog seed used by the in-memory store.
func LoadProjects(path string) ([]model.Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project seed %s: %w", path, err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse project seed %s: %w", path, err)
	}

	seen := make(map[string]bool, len(seed.Projects))
	for i := range seed.Projects {
		p := &seed.Projects[i]
		if p.ID == "" {
			return nil, fmt.Errorf("project seed %s: project %d has no id", path, i)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("project seed %s: duplicate project id %s", path, p.ID)
		}
		seen[p.ID] = true
		for j := range p.Milestones {
			p.Milestones[j].ProjectID = p.ID
		}
	}
	return seed.Projects, nil
}

type MemoryOption func(*MemoryStore)

// WithLatency simulates the round trip of a remote catalog on every submit.
func WithLatency(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.latency = d }
}

func WithLogger(l *zap.Logger) MemoryOption {
	return func(s *MemoryStore) { s.logger = l }
}

// MemoryStore is an in-process project catalog and milestone sink.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]*model.Project
	order    []string
	applied  map[string]string // project/milestone -> submission key

	latency time.Duration
	logger  *zap.Logger
}

func NewMemoryStore(projects []model.Project, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		projects: make(map[string]*model.Project, len(projects)),
		applied:  make(map[string]string),
		logger:   zap.NewNop(),
	}
	for _, p := range projects {
		c := p.Clone()
		s.projects[p.ID] = &c
		s.order = append(s.order, p.ID)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) ListProjects(_ context.Context) ([]model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Project, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.projects[id].Clone())
	}
	return out, nil
}

func (s *MemoryStore) GetProject(_ context.Context, projectID string) (model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[projectID]
	if !ok {
		return model.Project{}, fmt.Errorf("%w: %s", submission.ErrProjectNotFound, projectID)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) GetMilestone(_ context.Context, projectID, milestoneID string) (model.Milestone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, err := s.milestoneLocked(projectID, milestoneID)
	if err != nil {
		return model.Milestone{}, err
	}
	return m.Clone(), nil
}

func (s *MemoryStore) milestoneLocked(projectID, milestoneID string) (*model.Milestone, error) {
	p, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", submission.ErrProjectNotFound, projectID)
	}
	for i := range p.Milestones {
		if p.Milestones[i].ID == milestoneID {
			return &p.Milestones[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", submission.ErrMilestoneNotFound, projectID, milestoneID)
}

// SetMilestoneSubmitted applies a submission once per key. Replaying the key
// that was applied is a success without side effects.
func (s *MemoryStore) SetMilestoneSubmitted(ctx context.Context, sub submission.Submission) error {
	if s.latency > 0 {
		t := time.NewTimer(s.latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.milestoneLocked(sub.ProjectID, sub.MilestoneID)
	if err != nil {
		return err
	}

	key := sub.ProjectID + "/" + sub.MilestoneID
	if prev, ok := s.applied[key]; ok {
		if prev == sub.Key {
			s.logger.Info("Submission replayed",
				zap.String("milestone_id", sub.MilestoneID),
				zap.String("idempotency_key", sub.Key),
			)
			return nil
		}
		return fmt.Errorf("%w: %s", submission.ErrMilestoneConflict, sub.MilestoneID)
	}
	if !m.Open() {
		return fmt.Errorf("%w: %s is %s", submission.ErrMilestoneNotOpen, sub.MilestoneID, m.Status)
	}

	submittedAt := sub.SubmittedAt
	m.Status = model.MilestoneSubmitted
	m.SubmittedFiles = model.CloneFiles(sub.Files)
	m.Notes = sub.Notes
	m.SubmittedAt = &submittedAt
	s.applied[key] = sub.Key

	s.logger.Info("Milestone marked submitted",
		zap.String("project_id", sub.ProjectID),
		zap.String("milestone_id", sub.MilestoneID),
		zap.Int("files", len(sub.Files)),
	)
	return nil
}
