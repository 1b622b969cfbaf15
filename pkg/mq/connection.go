package mq

import (
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName = "events"

	heartbeat = 10 * time.Second
)

// Dial 建立 RabbitMQ 连接，连接名会显示在管理界面中
func Dial(url, name string) (*amqp091.Connection, error) {
	props := amqp091.NewConnectionProperties()
	props.SetClientConnectionName(name)

	conn, err := amqp091.DialConfig(url, amqp091.Config{
		Heartbeat:  heartbeat,
		Locale:     "en_US",
		Properties: props,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// openChannel 打开连接和 channel，并声明事件与死信两个 exchange
func openChannel(url, name string) (*amqp091.Connection, *amqp091.Channel, error) {
	conn, err := Dial(url, name)
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}

	for _, exchange := range []string{ExchangeName, DLQExchangeName} {
		if err := declareTopicExchange(ch, exchange); err != nil {
			ch.Close()
			conn.Close()
			return nil, nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
	}
	return conn, ch, nil
}

func declareTopicExchange(ch *amqp091.Channel, name string) error {
	return ch.ExchangeDeclare(
		name,
		amqp091.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}

// declareBoundQueue 声明持久化队列并绑定到 exchange
func declareBoundQueue(ch *amqp091.Channel, queue, routingKey, exchange string) (amqp091.Queue, error) {
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind queue %s: %w", queue, err)
	}
	return q, nil
}
