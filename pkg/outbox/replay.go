package outbox

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ReplayService 重新投递已放弃（failed）的事件
type ReplayService struct {
	store     Store
	publisher Publisher
	logger    *zap.Logger
}

func NewReplayService(store Store, publisher Publisher, logger *zap.Logger) *ReplayService {
	return &ReplayService{
		store:     store,
		publisher: publisher,
		logger:    logger.With(zap.String("component", "outbox_replay")),
	}
}

// ReplayEvent 立即发布一次；失败时把事件交回 Dispatcher 重新计数
func (s *ReplayService) ReplayEvent(ctx context.Context, eventID int64) error {
	event, err := s.store.GetEventByID(ctx, eventID)
	if err != nil {
		return err
	}

	if pubErr := publish(ctx, s.publisher, event); pubErr != nil {
		if err := s.store.ReplayEvent(ctx, eventID); err != nil {
			return errors.Join(fmt.Errorf("publish event %d: %w", eventID, pubErr), err)
		}
		return fmt.Errorf("publish event %d, requeued: %w", eventID, pubErr)
	}
	return s.store.MarkAsSent(ctx, eventID)
}

// ReplayFailedEvents 逐个重放最多 limit 个 failed 事件，返回成功数量
func (s *ReplayService) ReplayFailedEvents(ctx context.Context, limit int) (int, error) {
	events, err := s.store.GetFailedEvents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("load failed events: %w", err)
	}

	replayed := 0
	for _, event := range events {
		if err := s.ReplayEvent(ctx, event.ID); err != nil {
			s.logger.Warn("Replay failed",
				zap.Int64("event_id", event.ID),
				zap.String("routing_key", event.RoutingKey),
				zap.Error(err),
			)
			continue
		}
		replayed++
	}

	s.logger.Info("Outbox replay finished", zap.Int("failed_events", len(events)), zap.Int("replayed", replayed))
	return replayed, nil
}
