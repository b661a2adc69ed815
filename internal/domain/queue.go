package domain

import "context"

type Queue interface {
	IsHealthy() bool
	PublishMessage(ctx context.Context, queueName string, body []byte) error
	ConsumeMessages(ctx context.Context, consumerName, queueName string, handler func([]byte) error) error
	Close() error
}
