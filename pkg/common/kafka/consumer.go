package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ai4ckd/platform/pkg/common/logger"
	"github.com/ai4ckd/platform/pkg/common/models"
	"github.com/segmentio/kafka-go"
)

type Consumer struct {
	reader *kafka.Reader
}

type EventHandler func(ctx context.Context, event models.Event) error

func NewConsumer(brokers []string, topic string, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{reader: reader}
}

// Consume blocks until ctx is done. A message is committed once the handler
// accepts it; handler errors leave it uncommitted so it is redelivered.
func (c *Consumer) Consume(ctx context.Context, handler EventHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			message, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Log.WithError(err).Error("Failed to fetch message")
				continue
			}

			event, err := decodeEvent(message)
			if err != nil {
				logger.Log.WithError(err).WithFields(map[string]interface{}{
					"topic":     message.Topic,
					"partition": message.Partition,
					"offset":    message.Offset,
				}).Error("Failed to unmarshal event")
				c.commit(ctx, message)
				continue
			}

			if err := handler(ctx, event); err != nil {
				logger.Log.WithError(err).WithFields(map[string]interface{}{
					"event_id": event.ID,
				}).Error("Failed to process event")
				// Don't commit on error, will retry
				continue
			}

			c.commit(ctx, message)
		}
	}
}

func (c *Consumer) commit(ctx context.Context, message kafka.Message) {
	if err := c.reader.CommitMessages(ctx, message); err != nil && !errors.Is(err, context.Canceled) {
		logger.Log.WithError(err).Error("Failed to commit message")
	}
}

func decodeEvent(message kafka.Message) (models.Event, error) {
	var event models.Event
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return models.Event{}, err
	}
	if event.Type == "" {
		for _, h := range message.Headers {
			if h.Key == "event-type" {
				event.Type = string(h.Value)
			}
		}
	}
	if event.Data == nil {
		return models.Event{}, fmt.Errorf("event %s has no data", event.ID)
	}
	return event, nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
