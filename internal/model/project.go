package model

import "time"

type ProjectStatus string

const (
	ProjectInProgress ProjectStatus = "in-progress"
	ProjectReview     ProjectStatus = "review"
	ProjectCompleted  ProjectStatus = "completed"
)

type Project struct {
	ID            string        `json:"id" yaml:"id"`
	Name          string        `json:"name" yaml:"name"`
	Client        string        `json:"client" yaml:"client"`
	Location      string        `json:"location" yaml:"location"`
	ContractValue float64       `json:"contract_value" yaml:"contract_value"`
	Status        ProjectStatus `json:"status" yaml:"status"`
	Completion    int           `json:"completion" yaml:"completion"` // 0-100
	Milestones    []Milestone   `json:"milestones" yaml:"milestones"`
}

// Milestone looks up a milestone of the project by id.
func (p Project) Milestone(id string) (Milestone, bool) {
	for _, m := range p.Milestones {
		if m.ID == id {
			return m, true
		}
	}
	return Milestone{}, false
}

type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in-progress"
	MilestoneSubmitted  MilestoneStatus = "submitted"
	MilestoneApproved   MilestoneStatus = "approved"
	MilestoneRejected   MilestoneStatus = "rejected"
)

type Milestone struct {
	ID             string          `json:"id" yaml:"id"`
	ProjectID      string          `json:"project_id" yaml:"project_id"`
	Name           string          `json:"name" yaml:"name"`
	Description    string          `json:"description" yaml:"description"`
	DueDate        time.Time       `json:"due_date" yaml:"due_date"`
	Value          float64         `json:"value" yaml:"value"`
	Status         MilestoneStatus `json:"status" yaml:"status"`
	Deliverables   []string        `json:"deliverables" yaml:"deliverables"`
	SubmittedFiles []UploadedFile  `json:"submitted_files,omitempty" yaml:"-"`
	Notes          string          `json:"notes,omitempty" yaml:"-"`
	SubmittedAt    *time.Time      `json:"submitted_at,omitempty" yaml:"-"`
}

// Open reports whether the milestone can still receive a submission.
func (m Milestone) Open() bool {
	return m.Status == MilestonePending || m.Status == MilestoneInProgress
}

// Clone returns a copy that shares no slices with m.
func (m Milestone) Clone() Milestone {
	c := m
	c.Deliverables = append([]string(nil), m.Deliverables...)
	c.SubmittedFiles = CloneFiles(m.SubmittedFiles)
	if m.SubmittedAt != nil {
		t := *m.SubmittedAt
		c.SubmittedAt = &t
	}
	return c
}

// Clone returns a deep copy of the project and its milestones.
func (p Project) Clone() Project {
	c := p
	if p.Milestones != nil {
		c.Milestones = make([]Milestone, len(p.Milestones))
		for i, m := range p.Milestones {
			c.Milestones[i] = m.Clone()
		}
	}
	return c
}
