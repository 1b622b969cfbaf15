package mqhandler

import (
	"context"

	"go.uber.org/zap"

	mqcontracts "milestonehub/contracts/mq"
	"milestonehub/pkg/logger"
)

// LogNotifier records the reviewer notification in the service log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyReviewers(ctx context.Context, p mqcontracts.MilestoneSubmittedPayload) error {
	names := make([]string, 0, len(p.Files))
	for _, f := range p.Files {
		names = append(names, f.Name)
	}
	logger.WithTrace(ctx, n.logger).Info("Milestone ready for review",
		zap.String("project_id", p.ProjectID),
		zap.String("milestone_id", p.MilestoneID),
		zap.Strings("files", names),
		zap.String("notes", p.Notes),
		zap.Time("submitted_at", p.SubmittedAt),
	)
	return nil
}
