package mq

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rabbitmq/amqp091-go"

	"milestonehub/pkg/trace"
)

type Publisher struct {
	name    string
	conn    *amqp091.Connection
	channel *amqp091.Channel
	mu      sync.Mutex // amqp channel 不支持并发发布
}

// NewPublisher 连接 broker 并声明 exchange；name 用作连接名和死信来源
func NewPublisher(url, name string) (*Publisher, error) {
	conn, ch, err := openChannel(url, name)
	if err != nil {
		return nil, err
	}
	return &Publisher{
		name:    name,
		conn:    conn,
		channel: ch,
	}, nil
}

func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// PublishWithContext publishes an event and carries the trace id of ctx in the
// message headers.
func (p *Publisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.publish(ctx, ExchangeName, routingKey, body, Headers(ctx, nil))
}

func (p *Publisher) publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp091.Table) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.channel.PublishWithContext(
		ctx,
		exchange,
		routingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			Headers:      headers,
		},
	)
}

// Headers 在 headers 中写入 ctx 的 trace_id
func Headers(ctx context.Context, headers amqp091.Table) amqp091.Table {
	if headers == nil {
		headers = amqp091.Table{}
	}
	if traceID := trace.FromContext(ctx); traceID != "" {
		headers[trace.TraceIDKey] = traceID
	}
	return headers
}

// ContextFromHeaders 从消息 headers 中恢复 trace_id；没有时生成新的
func ContextFromHeaders(ctx context.Context, headers amqp091.Table) context.Context {
	if traceID, ok := headers[trace.TraceIDKey].(string); ok && traceID != "" {
		return trace.WithContext(ctx, traceID)
	}
	ctx, _ = trace.Ensure(ctx)
	return ctx
}
