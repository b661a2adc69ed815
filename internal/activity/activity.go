package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sf7293/pipeline-board/internal/domain"
)

const (
	publishTimeout = 3 * time.Second
	storeTimeout   = 3 * time.Second
)

// ErrMalformedEntry marks queue messages that can never be recorded.
var ErrMalformedEntry = errors.New("malformed activity entry")

// NewEntry turns a committed mutation into its audit row.
func NewEntry(event domain.Event) (*domain.ActivityEntry, error) {
	taskID := event.TaskID
	entry := &domain.ActivityEntry{
		UserID:            event.Actor.UserID,
		TaskID:            &taskID,
		ActionType:        event.Type.ActionType(),
		ActionDescription: event.Actor.ActionDescription,
		CreatedAt:         event.At,
	}

	var err error
	if event.Previous != nil {
		if entry.OldData, err = json.Marshal(event.Previous); err != nil {
			return nil, fmt.Errorf("marshal old data: %w", err)
		}
	}
	if event.Task != nil {
		if entry.NewData, err = json.Marshal(event.Task); err != nil {
			return nil, fmt.Errorf("marshal new data: %w", err)
		}
	}

	return entry, nil
}

// QueueSink forwards activity entries to a queue so the worker can persist them off
// the request path.
type QueueSink struct {
	queue     domain.Queue
	queueName string
}

func NewQueueSink(queue domain.Queue, queueName string) *QueueSink {
	return &QueueSink{queue: queue, queueName: queueName}
}

func (s *QueueSink) Handle(ctx context.Context, event domain.Event) error {
	entry, err := NewEntry(event)
	if err != nil {
		return err
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	// The request may already be finishing, the audit row should still go out
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	return s.queue.PublishMessage(ctx, s.queueName, body)
}

// StoreSink writes activity entries directly, for deployments without RabbitMQ.
type StoreSink struct {
	store   domain.ActivityStore
	timeout time.Duration
}

func NewStoreSink(store domain.ActivityStore) *StoreSink {
	return &StoreSink{store: store, timeout: storeTimeout}
}

func (s *StoreSink) Handle(ctx context.Context, event domain.Event) error {
	entry, err := NewEntry(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	return s.store.InsertActivity(ctx, entry)
}

// Recorder persists entries consumed from the activity queue.
type Recorder struct {
	store domain.ActivityStore
}

func NewRecorder(store domain.ActivityStore) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) Handle(ctx context.Context, body []byte) error {
	entry := &domain.ActivityEntry{}
	if err := json.Unmarshal(body, entry); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}

	if err := r.store.InsertActivity(ctx, entry); err != nil {
		slog.ErrorContext(ctx, "error occurred while calling storage.InsertActivity", "user_id", entry.UserID, "action", entry.ActionType, "error", err)
		return err
	}

	slog.Info("activity recorded", "user_id", entry.UserID, "action", entry.ActionType)
	return nil
}
