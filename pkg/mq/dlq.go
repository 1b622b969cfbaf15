package mq

import (
	"context"

	"github.com/rabbitmq/amqp091-go"
)

const (
	DLQExchangeName = "events.dlq"

	HeaderOriginalError = "x-original-error"
	HeaderFailedAt      = "x-failed-at"
)

// DLQQueueName 某个 routing key 对应的死信队列名
func DLQQueueName(routingKey string) string {
	return routingKey + ".dlq"
}

// PublishToDLQ 把无法处理的消息原样投递到死信 exchange，并附上失败原因
func (p *Publisher) PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError string) error {
	headers := Headers(ctx, amqp091.Table{
		HeaderOriginalError: originalError,
		HeaderFailedAt:      p.name,
	})
	return p.publish(ctx, DLQExchangeName, routingKey, payload, headers)
}
