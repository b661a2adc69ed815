package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQClient publishes and consumes durable queues over a single channel.
type RabbitMQClient struct {
	conn    *amqp.Connection
	channel *amqp.Channel

	mu                      sync.Mutex
	queueDeclarationHistory map[string]bool
}

func NewRabbitMQClient(ctx context.Context, amqpURL string, mainQueueNames []string) (*RabbitMQClient, error) {
	var conn *amqp.Connection
	err := backoff.Retry(func() (err error) {
		conn, err = amqp.Dial(amqpURL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to rabbitmq.. retrying...", "error", err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(3*time.Second), 5), ctx))
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		err2 := conn.Close()
		if err2 != nil {
			slog.Error("error occurred while closing connection", "error", err2.Error())
		}

		return nil, err
	}

	client := &RabbitMQClient{
		conn:                    conn,
		channel:                 ch,
		queueDeclarationHistory: map[string]bool{},
	}
	err = client.checkMainQueueDeclarations(mainQueueNames)
	if err != nil {
		slog.Error("Error while checking declarations of main queues", "error", err.Error())
		return nil, err
	}

	return client, nil
}

func (c *RabbitMQClient) PublishMessage(ctx context.Context, queueName string, body []byte) (err error) {
	err = c.checkQueueDeclaration(queueName)
	if err != nil {
		return err
	}

	return c.channel.PublishWithContext(
		ctx,
		"",        // exchange
		queueName, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
}

// ConsumeMessages delivers every message to handler until ctx is cancelled or the
// channel closes. Messages are acked when handler succeeds and dropped otherwise,
// so a poison message cannot wedge the queue.
func (c *RabbitMQClient) ConsumeMessages(ctx context.Context, consumerName, queueName string, handler func([]byte) error) error {
	err := c.checkQueueDeclaration(queueName)
	if err != nil {
		return err
	}

	msgs, err := c.channel.ConsumeWithContext(
		ctx,
		queueName,    // queue
		consumerName, // consumer
		false,        // auto-ack
		false,        // exclusive
		false,        // no-local
		false,        // no-wait
		nil,          // args
	)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return amqp.ErrClosed
			}

			if err := handler(d.Body); err != nil {
				slog.Error("handler failed, dropping message", "queue", queueName, "error", err)
				if nackErr := d.Nack(false, false); nackErr != nil {
					slog.Error("error occurred while nacking message", "error", nackErr)
				}
				continue
			}

			if ackErr := d.Ack(false); ackErr != nil {
				slog.Error("error occurred while acking message", "error", ackErr)
			}
		}
	}
}

func (c *RabbitMQClient) Close() error {
	err := c.channel.Close()
	if err != nil {
		return err
	}

	err = c.conn.Close()
	return err
}

func (c *RabbitMQClient) IsHealthy() bool {
	if c.conn.IsClosed() {
		slog.Error("RabbitMQ connection is closed, Rabbit is not healthy")
		return false
	}

	ch, err := c.conn.Channel()
	if err != nil {
		slog.Error("Failed to open RabbitMQ channel, Rabbit is not healthy", "error", err)
		return false
	}
	defer func() {
		err = ch.Close()
		if err != nil {
			slog.Error("Error occurred while closing rabbit channel created for health check", "error", err.Error())
		}
	}()

	return true
}

func (c *RabbitMQClient) checkMainQueueDeclarations(mainQueueNames []string) (err error) {
	for _, queueName := range mainQueueNames {
		err = c.checkQueueDeclaration(queueName)
		if err != nil {
			return err
		}
	}

	return nil
}

func (c *RabbitMQClient) checkQueueDeclaration(queueName string) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.queueDeclarationHistory[queueName] {
		return nil
	}

	_, err = c.channel.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return err
	}

	c.queueDeclarationHistory[queueName] = true
	return nil
}
