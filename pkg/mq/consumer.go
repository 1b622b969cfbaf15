package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"milestonehub/pkg/metrics"
)

// 每个消费者最多同时持有的未确认消息数
const defaultPrefetch = 16

// MessageHandler 返回 nil 表示消息已处理（ack），否则 nack 并重新入队
type MessageHandler func(ctx context.Context, data json.RawMessage) error

type Consumer struct {
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	queue      string
	routingKey string
	handler    MessageHandler
	logger     *zap.Logger
}

// NewConsumer 为某个 routing key 创建消费者，同时声明它的死信队列
func NewConsumer(url, queueName, routingKey string, logger *zap.Logger) (*Consumer, error) {
	conn, ch, err := openChannel(url, queueName)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Consumer, error) {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	if _, err := declareBoundQueue(ch, DLQQueueName(routingKey), routingKey, DLQExchangeName); err != nil {
		return fail(err)
	}
	q, err := declareBoundQueue(ch, queueName, routingKey, ExchangeName)
	if err != nil {
		return fail(err)
	}
	if err := ch.Qos(defaultPrefetch, 0, false); err != nil {
		return fail(fmt.Errorf("set qos on %s: %w", queueName, err))
	}

	c := &Consumer{
		conn:       conn,
		channel:    ch,
		queue:      q.Name,
		routingKey: routingKey,
	}
	c.logger = logger.With(zap.String("queue", c.queue), zap.String("routing_key", routingKey))
	c.logger.Info("Consumer initialized", zap.String("dlq", DLQQueueName(routingKey)))
	return c, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming blocks until ctx is done or the broker closes the delivery channel.
func (c *Consumer) StartConsuming(ctx context.Context) error {
	if c.handler == nil {
		return errors.New("consumer handler not set")
	}

	// autoAck=false：由 settle 决定 ack / nack
	deliveries, err := c.channel.ConsumeWithContext(ctx, c.queue, c.queue, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	c.logger.Info("Consumer started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer stopped")
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed for queue %s", c.queue)
			}
			c.handle(ctx, msg)
		}
	}
}

// handle 保证每条消息都被 ack 或 nack，handler panic 也不例外
func (c *Consumer) handle(ctx context.Context, msg amqp091.Delivery) {
	start := time.Now()
	err := c.invoke(ContextFromHeaders(ctx, msg.Headers), msg.Body)
	metrics.RecordMQConsumeLatency(c.routingKey, c.queue, time.Since(start))
	c.settle(msg, err)
}

func (c *Consumer) invoke(ctx context.Context, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, body)
}

func (c *Consumer) settle(msg amqp091.Delivery, err error) {
	if err == nil {
		if ackErr := msg.Ack(false); ackErr != nil {
			c.logger.Error("Failed to ack message", zap.Uint64("delivery_tag", msg.DeliveryTag), zap.Error(ackErr))
		}
		return
	}

	c.logger.Error("Handler failed, requeueing",
		zap.Uint64("delivery_tag", msg.DeliveryTag),
		zap.Bool("redelivered", msg.Redelivered),
		zap.Int("message_size", len(msg.Body)),
		zap.Error(err),
	)
	if nackErr := msg.Nack(false, true); nackErr != nil {
		c.logger.Error("Failed to nack message", zap.Uint64("delivery_tag", msg.DeliveryTag), zap.Error(nackErr))
	}
}
