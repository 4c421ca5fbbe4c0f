package rabbitmq

import (
	"context"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Consumer struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	queue      string
	maxRetries int
	retryDelay time.Duration
}

func NewConsumer(url, queue string, prefetch, maxRetries int, retryDelay time.Duration) (*Consumer, error) {
	conn, ch, err := dial(url, queue)
	if err != nil {
		return nil, err
	}
	// strict concurrency control
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Consumer{conn: conn, ch: ch, queue: queue, maxRetries: maxRetries, retryDelay: retryDelay}, nil
}

func (c *Consumer) Deliveries() (<-chan amqp.Delivery, error) {
	return c.ch.Consume(c.queue, "", false, false, false, false, nil)
}

// Retry sends d back through the retry queue, or to the DLQ once it has been
// retried maxRetries times. It reports whether the message was requeued.
func (c *Consumer) Retry(ctx context.Context, d amqp.Delivery) (bool, error) {
	n := RetryCount(d.Headers)
	if n >= c.maxRetries {
		return false, d.Nack(false, false)
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retryCountHeader] = int32(n + 1)

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := c.ch.PublishWithContext(cctx, "", c.queue+".retry", false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         d.Body,
		Expiration:   strconv.FormatInt(c.retryDelay.Milliseconds()*int64(n+1), 10),
		Timestamp:    time.Now(),
	})
	if err != nil {
		return false, d.Nack(false, false)
	}
	return true, d.Ack(false)
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
