package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milestonehub/internal/model"
	"milestonehub/internal/submission"
)

const seedYAML = `
projects:
  - id: prj-harbor-bridge
    name: Harbor Bridge Retrofit
    client: Port Authority
    status: in-progress
    milestones:
      - id: ms-structural-survey
        name: Structural Survey
        due_date: 2026-11-30T00:00:00Z
        status: in-progress
        deliverables: [Survey report]
      - id: ms-handover
        name: Handover
        due_date: 2027-05-01T00:00:00Z
        status: approved
`

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "projects.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newSeededStore(t *testing.T, opts ...MemoryOption) *MemoryStore {
	t.Helper()
	projects, err := LoadProjects(writeSeed(t, seedYAML))
	require.NoError(t, err)
	return NewMemoryStore(projects, opts...)
}

func testSubmission(key string) submission.Submission {
	return submission.Submission{
		Key:         key,
		ProjectID:   "prj-harbor-bridge",
		MilestoneID: "ms-structural-survey",
		Files: []model.UploadedFile{
			{ID: "f-1", Name: "survey.pdf", Size: 1000, Status: model.FileUploaded, Progress: 100, Version: 1},
		},
		Notes:       "ready for review",
		SubmittedAt: time.Date(2026, 11, 20, 10, 0, 0, 0, time.UTC),
	}
}

func TestLoadProjects(t *testing.T) {
	projects, err := LoadProjects(writeSeed(t, seedYAML))
	require.NoError(t, err)
	require.Len(t, projects, 1)

	p := projects[0]
	assert.Equal(t, "Harbor Bridge Retrofit", p.Name)
	require.Len(t, p.Milestones, 2)
	assert.Equal(t, "prj-harbor-bridge", p.Milestones[0].ProjectID)
	assert.Equal(t, model.MilestoneInProgress, p.Milestones[0].Status)
	assert.Equal(t, 2026, p.Milestones[0].DueDate.Year())
	assert.Equal(t, []string{"Survey report"}, p.Milestones[0].Deliverables)
}

func TestLoadProjects_Errors(t *testing.T) {
	_, err := LoadProjects(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadProjects(writeSeed(t, "projects: [\n"))
	assert.Error(t, err)

	_, err = LoadProjects(writeSeed(t, "projects:\n  - id: a\n  - id: a\n"))
	assert.ErrorContains(t, err, "duplicate project id")
}

func TestLoadProjects_ShippedSeed(t *testing.T) {
	projects, err := LoadProjects("../../config/projects.yaml")
	require.NoError(t, err)
	assert.NotEmpty(t, projects)
}

func TestMemoryStore_Lookups(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()

	p, err := s.GetProject(ctx, "prj-harbor-bridge")
	require.NoError(t, err)
	assert.Len(t, p.Milestones, 2)

	_, err = s.GetProject(ctx, "prj-unknown")
	assert.ErrorIs(t, err, submission.ErrProjectNotFound)

	m, err := s.GetMilestone(ctx, "prj-harbor-bridge", "ms-structural-survey")
	require.NoError(t, err)
	assert.True(t, m.Open())

	_, err = s.GetMilestone(ctx, "prj-harbor-bridge", "ms-unknown")
	assert.ErrorIs(t, err, submission.ErrMilestoneNotFound)

	// returned values are copies
	p.Milestones[0].Status = model.MilestoneApproved
	m, _ = s.GetMilestone(ctx, "prj-harbor-bridge", "ms-structural-survey")
	assert.Equal(t, model.MilestoneInProgress, m.Status)

	all, err := s.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryStore_SetMilestoneSubmitted(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetMilestoneSubmitted(ctx, testSubmission("key-1")))

	m, err := s.GetMilestone(ctx, "prj-harbor-bridge", "ms-structural-survey")
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneSubmitted, m.Status)
	assert.Len(t, m.SubmittedFiles, 1)
	assert.Equal(t, "ready for review", m.Notes)
	require.NotNil(t, m.SubmittedAt)

	// same key: partially applied earlier attempt
	assert.NoError(t, s.SetMilestoneSubmitted(ctx, testSubmission("key-1")))

	err = s.SetMilestoneSubmitted(ctx, testSubmission("key-2"))
	assert.ErrorIs(t, err, submission.ErrMilestoneConflict)
}

func TestMemoryStore_ClosedMilestone(t *testing.T) {
	s := newSeededStore(t)
	sub := testSubmission("key-1")
	sub.MilestoneID = "ms-handover"

	err := s.SetMilestoneSubmitted(context.Background(), sub)
	assert.ErrorIs(t, err, submission.ErrMilestoneNotOpen)
}

func TestMemoryStore_LatencyRespectsContext(t *testing.T) {
	s := newSeededStore(t, WithLatency(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := s.SetMilestoneSubmitted(ctx, testSubmission("key-1"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	m, _ := s.GetMilestone(context.Background(), "prj-harbor-bridge", "ms-structural-survey")
	assert.Equal(t, model.MilestoneInProgress, m.Status)
}

func TestSubmittedPayload(t *testing.T) {
	sub := testSubmission("key-1")
	sub.TraceID = "trace-1"

	p := SubmittedPayload(sub)
	assert.Equal(t, "key-1", p.EventID)
	assert.Equal(t, "ms-structural-survey", p.MilestoneID)
	assert.Equal(t, "trace-1", p.TraceID)
	require.Len(t, p.Files, 1)
	assert.Equal(t, "survey.pdf", p.Files[0].Name)
	assert.Equal(t, 1, p.Files[0].Version)
}

func TestCheckSubmittable(t *testing.T) {
	sub := testSubmission("key-1")
	same, other := "key-1", "key-2"

	decided, err := checkSubmittable(model.MilestoneInProgress, nil, sub)
	assert.False(t, decided)
	assert.NoError(t, err)

	decided, err = checkSubmittable(model.MilestoneSubmitted, &same, sub)
	assert.True(t, decided)
	assert.NoError(t, err)

	decided, err = checkSubmittable(model.MilestoneSubmitted, &other, sub)
	assert.True(t, decided)
	assert.ErrorIs(t, err, submission.ErrMilestoneConflict)

	decided, err = checkSubmittable(model.MilestoneApproved, nil, sub)
	assert.True(t, decided)
	assert.ErrorIs(t, err, submission.ErrMilestoneNotOpen)
}
