package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"milestonehub/pkg/metrics"
	"milestonehub/pkg/trace"
)

const (
	defaultMaxRetries = 5
	defaultInterval   = time.Second
	defaultBatchSize  = 100
)

// Dispatcher 轮询 outbox，把 pending 事件发布到 MQ
type Dispatcher struct {
	store      Store
	publisher  Publisher
	logger     *zap.Logger
	maxRetries int
	interval   time.Duration
	batchSize  int
}

func NewDispatcher(store Store, publisher Publisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:      store,
		publisher:  publisher,
		logger:     logger.With(zap.String("component", "outbox_dispatcher")),
		maxRetries: defaultMaxRetries,
		interval:   defaultInterval,
		batchSize:  defaultBatchSize,
	}
}

func (d *Dispatcher) WithMaxRetries(maxRetries int) *Dispatcher {
	if maxRetries > 0 {
		d.maxRetries = maxRetries
	}
	return d
}

func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Dispatcher) WithBatchSize(batchSize int) *Dispatcher {
	if batchSize > 0 {
		d.batchSize = batchSize
	}
	return d
}

// Start 按 interval 轮询，阻塞直到 ctx 结束
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Outbox dispatcher started",
		zap.Int("max_retries", d.maxRetries),
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
	)
	defer d.logger.Info("Outbox dispatcher stopped")

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

// drain 一批处理满说明还有积压，不等下一个 tick
func (d *Dispatcher) drain(ctx context.Context) {
	for ctx.Err() == nil {
		if d.ProcessPendingEvents(ctx) < d.batchSize {
			return
		}
	}
}

// ProcessPendingEvents 处理一批到期事件，返回成功发布并标记的数量
func (d *Dispatcher) ProcessPendingEvents(ctx context.Context) int {
	events, err := d.store.GetPendingEvents(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("Failed to load pending events", zap.Error(err))
		return 0
	}

	sent := 0
	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		if d.dispatch(ctx, event) {
			sent++
		}
	}
	if len(events) > 0 {
		d.logger.Debug("Outbox batch processed", zap.Int("events", len(events)), zap.Int("sent", sent))
	}
	return sent
}

func (d *Dispatcher) dispatch(ctx context.Context, event *Event) bool {
	log := d.logger.With(
		zap.Int64("event_id", event.ID),
		zap.String("routing_key", event.RoutingKey),
		zap.String("aggregate_id", event.AggregateID),
	)

	if err := publish(ctx, d.publisher, event); err != nil {
		metrics.IncrementOutboxPublish(event.RoutingKey, "failed")
		log.Error("Failed to publish event", zap.Int("retry_count", event.RetryCount), zap.Error(err))
		if err := d.store.MarkAsFailed(ctx, event.ID, d.maxRetries); err != nil {
			log.Error("Failed to record publish failure", zap.Error(err))
		}
		return false
	}

	metrics.IncrementOutboxPublish(event.RoutingKey, "sent")
	if err := d.store.MarkAsSent(ctx, event.ID); err != nil {
		// 下一轮会重复发布，消费端按 event_id 去重
		log.Error("Failed to mark event as sent", zap.Error(err))
		return false
	}
	return true
}

// publish 原样发布 payload，并沿用其中携带的 trace_id
func publish(ctx context.Context, publisher Publisher, event *Event) error {
	if !json.Valid(event.Payload) {
		return fmt.Errorf("outbox event %d: payload is not valid json", event.ID)
	}
	var envelope struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(event.Payload, &envelope); err == nil && envelope.TraceID != "" {
		ctx = trace.WithContext(ctx, envelope.TraceID)
	}
	return publisher.PublishWithContext(ctx, event.RoutingKey, event.Payload)
}
