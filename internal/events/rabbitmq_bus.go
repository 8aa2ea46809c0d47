package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig 描述事件使用的交换机和队列。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Exchange   string `json:"exchange"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// RabbitMQBus 将事件发布到 fanout 交换机，并从绑定的队列消费。
// 路由键为事件类型。
type RabbitMQBus struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queue    string
	mu       sync.Mutex
}

// NewRabbitMQBus 连接 broker 并声明交换机和队列。
func NewRabbitMQBus(cfg RabbitMQConfig) (*RabbitMQBus, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "settlement.events"
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "settlement.journal"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	fail := func(step string, err error) (*RabbitMQBus, error) {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			return fail("set rabbitmq qos", err)
		}
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		return fail("declare exchange", err)
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		return fail("declare queue", err)
	}
	if err := ch.QueueBind(queue, "", exchange, false, nil); err != nil {
		return fail("bind queue", err)
	}
	return &RabbitMQBus{conn: conn, ch: ch, exchange: exchange, queue: queue}, nil
}

func (b *RabbitMQBus) Publish(ctx context.Context, event Event) error {
	if b == nil || b.ch == nil {
		return ErrClosed
	}
	msg, err := toPublishing(event)
	if err != nil {
		return err
	}
	// amqp channel 不支持并发发布。
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch.PublishWithContext(ctx, b.exchange, string(event.Type), false, false, msg)
}

func toPublishing(event Event) (amqp.Publishing, error) {
	raw, err := Marshal(event)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         string(event.Type),
		Timestamp:    event.OccurredAt,
		Body:         raw,
	}, nil
}

// Consume 确认处理成功的事件，失败的事件重新入队一次。
func (b *RabbitMQBus) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if b == nil || b.ch == nil {
		return ErrClosed
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	deliveries, err := b.ch.Consume(b.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("subscribe rabbitmq queue: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-deliveries:
					if !ok {
						return
					}
					event, err := Unmarshal(msg.Body)
					if err != nil {
						_ = msg.Reject(false)
						continue
					}
					if err := handler(ctx, event); err != nil {
						_ = msg.Nack(false, !msg.Redelivered)
						continue
					}
					_ = msg.Ack(false)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (b *RabbitMQBus) Close() error {
	if b == nil {
		return nil
	}
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
