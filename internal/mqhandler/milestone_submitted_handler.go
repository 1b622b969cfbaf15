package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	mqcontracts "milestonehub/contracts/mq"
	"milestonehub/pkg/logger"
	"milestonehub/pkg/util"
)

const (
	handlerName       = "milestone_submitted"
	defaultMaxRetries = 5
)

// Notifier tells the reviewers of a project that a milestone is waiting for them.
type Notifier interface {
	NotifyReviewers(ctx context.Context, p mqcontracts.MilestoneSubmittedPayload) error
}

// DLQPublisher parks messages that cannot be processed.
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError string) error
}

type MilestoneSubmittedHandler struct {
	notifier     Notifier
	dlq          DLQPublisher
	deduper      *util.Deduper
	retryCounter *util.RetryCounter
	maxRetries   int64
	logger       *zap.Logger
}

func NewMilestoneSubmittedHandler(
	notifier Notifier,
	dlq DLQPublisher,
	deduper *util.Deduper,
	retryCounter *util.RetryCounter,
	logger *zap.Logger,
) *MilestoneSubmittedHandler {
	return &MilestoneSubmittedHandler{
		notifier:     notifier,
		dlq:          dlq,
		deduper:      deduper,
		retryCounter: retryCounter,
		maxRetries:   defaultMaxRetries,
		logger:       logger,
	}
}

// WithMaxRetries 设置进入 DLQ 之前的最大重试次数
func (h *MilestoneSubmittedHandler) WithMaxRetries(n int64) *MilestoneSubmittedHandler {
	if n > 0 {
		h.maxRetries = n
	}
	return h
}

// Handle 处理 milestone.submitted：去重 -> 通知评审 -> 失败分类（重试 / DLQ）
// 返回 error 表示需要 nack 重新投递
func (h *MilestoneSubmittedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p mqcontracts.MilestoneSubmittedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		// JSON decode 错误 - 不可重试，直接进 DLQ
		log.Error("Invalid MilestoneSubmittedPayload, sending to DLQ", zap.Error(err))
		h.deadLetter(ctx, log, raw, err)
		return nil
	}
	if p.EventID == "" {
		log.Error("MilestoneSubmittedPayload without event_id, sending to DLQ",
			zap.String("milestone_id", p.MilestoneID))
		h.deadLetter(ctx, log, raw, fmt.Errorf("missing event_id"))
		return nil
	}

	log = log.With(
		zap.String("event_id", p.EventID),
		zap.String("project_id", p.ProjectID),
		zap.String("milestone_id", p.MilestoneID),
	)

	if !h.deduper.AcquireOnce(ctx, handlerName, p.EventID) {
		log.Info("Duplicate milestone.submitted event skipped")
		return nil
	}

	retryKey := util.FormatRetryKey(handlerName, p.EventID)
	retryCount, err := h.retryCounter.IncrementAndGet(ctx, retryKey)
	if err != nil {
		// Redis 不可用时不阻止处理
		log.Warn("Retry counter unavailable", zap.Error(err))
		retryCount = 1
	}

	if err := h.notifier.NotifyReviewers(ctx, p); err != nil {
		return h.handleNotifyError(ctx, log, raw, p.EventID, retryKey, retryCount, err)
	}

	_ = h.retryCounter.Reset(ctx, retryKey)
	log.Info("Reviewers notified of milestone submission",
		zap.Int("files", len(p.Files)),
		zap.Int64("attempt", retryCount),
	)
	return nil
}

func (h *MilestoneSubmittedHandler) handleNotifyError(
	ctx context.Context,
	log *zap.Logger,
	raw json.RawMessage,
	eventID, retryKey string,
	retryCount int64,
	err error,
) error {
	isRetryable, errType := util.IsRetryableError(err)
	log.Warn("Reviewer notification failed",
		zap.String("error_type", errType),
		zap.Bool("retryable", isRetryable),
		zap.Int64("retry", retryCount),
		zap.Error(err),
	)

	if util.ShouldRetry(retryCount, h.maxRetries, isRetryable) {
		// 释放去重锁，重新投递时才能再次处理
		if relErr := h.deduper.Release(ctx, handlerName, eventID); relErr != nil {
			log.Warn("Failed to release dedup key", zap.Error(relErr))
		}
		return err // nack → 重试
	}

	if retryCount > h.maxRetries {
		log.Warn("Max retries exceeded, sending to DLQ")
	}
	h.deadLetter(ctx, log, raw, err)
	_ = h.retryCounter.Reset(ctx, retryKey)
	return nil // ack
}

func (h *MilestoneSubmittedHandler) deadLetter(ctx context.Context, log *zap.Logger, raw json.RawMessage, cause error) {
	if err := h.dlq.PublishToDLQ(ctx, mqcontracts.RoutingMilestoneSubmitted, raw, cause.Error()); err != nil {
		log.Error("Failed to publish to DLQ", zap.Error(err))
	}
}
