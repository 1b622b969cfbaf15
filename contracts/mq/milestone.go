package mq

import "time"

const (
	RoutingMilestoneSubmitted = "milestone.submitted"
	AggregateMilestone        = "milestone"
)

// SubmittedFile 随里程碑提交的交付文件
type SubmittedFile struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Type    string `json:"type"`
	Version int    `json:"version"`
}

// MilestoneSubmittedPayload 里程碑提交事件的 payload
// EventID 即提交会话的幂等键，消费端据此去重
type MilestoneSubmittedPayload struct {
	EventID     string          `json:"event_id"`
	ProjectID   string          `json:"project_id"`
	MilestoneID string          `json:"milestone_id"`
	Files       []SubmittedFile `json:"files"`
	Notes       string          `json:"notes,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	TraceID     string          `json:"trace_id,omitempty"`
}
