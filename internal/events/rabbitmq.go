package events

import (
	"context"
	"errors"
	"fmt"

	"PretzelMint/internal/contract"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig 描述 RabbitMQ 发布目标。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Exchange   string `json:"exchange"`
	Queue      string `json:"queue"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// RabbitMQPublisher 将状态快照投递到 RabbitMQ。
type RabbitMQPublisher struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	routingKey string
}

// NewRabbitMQPublisher 建立连接并声明目标队列；配置 exchange 时声明 fanout
// 交换机并把队列绑定上去。
func NewRabbitMQPublisher(cfg RabbitMQConfig) (*RabbitMQPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "pretzel.contract-state"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	fail := func(format string, err error) (*RabbitMQPublisher, error) {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf(format, err)
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		return fail("声明 RabbitMQ 队列失败: %w", err)
	}

	pub := &RabbitMQPublisher{conn: conn, ch: ch, routingKey: queue}
	if cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeFanout, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
			return fail("声明 RabbitMQ 交换机失败: %w", err)
		}
		if err := ch.QueueBind(queue, "", cfg.Exchange, false, nil); err != nil {
			return fail("绑定 RabbitMQ 队列失败: %w", err)
		}
		pub.exchange = cfg.Exchange
		pub.routingKey = ""
	}
	return pub, nil
}

// Publish 将快照投递到 RabbitMQ。
func (p *RabbitMQPublisher) Publish(ctx context.Context, state contract.State) error {
	if p == nil || p.ch == nil {
		return errors.New("RabbitMQ 发布器未初始化")
	}
	payload, err := encodeState(state)
	if err != nil {
		return err
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         envelopeType,
		Body:         payload,
	}); err != nil {
		return fmt.Errorf("RabbitMQ 发布状态失败: %w", err)
	}
	return nil
}

// Close 关闭 RabbitMQ 连接。
func (p *RabbitMQPublisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
