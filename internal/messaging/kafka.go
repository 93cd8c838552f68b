package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/lodestone-io/lodestone/internal/config"
	"github.com/lodestone-io/lodestone/internal/validation"
	"github.com/lodestone-io/lodestone/pkg/models"
)

const (
	contentEventsDLQSuffix = "-dlq"
	consumerGroup          = "recommendation-engine"
)

// MessageBus consumes content-mutation events and publishes training
// notifications. Malformed or repeatedly failing events land on the DLQ
// topic instead of blocking the stream.
type MessageBus struct {
	reader          *kafka.Reader
	dlqWriter       *kafka.Writer
	notifyWriter    *kafka.Writer
	validator       *validation.SchemaValidator
	structValidator *validator.Validate
	logger          *logrus.Logger
}

func NewMessageBus(cfg *config.Config, schemas *validation.SchemaValidator, logger *logrus.Logger) (*MessageBus, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Kafka.Topics.ContentEvents,
		GroupID:        consumerGroup,
		MinBytes:       10e3,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	dlqWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.Topics.ContentEvents + contentEventsDLQSuffix,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	notifyWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.Topics.TrainingCompleted,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}

	return &MessageBus{
		reader:          reader,
		dlqWriter:       dlqWriter,
		notifyWriter:    notifyWriter,
		validator:       schemas,
		structValidator: validator.New(),
		logger:          logger,
	}, nil
}

// ConsumeContentEvents reads content-mutation messages and passes each
// validated event to the handler until the context ends.
func (mb *MessageBus) ConsumeContentEvents(ctx context.Context, handler func(*models.ContentEvent) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			message, err := mb.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				mb.logger.WithError(err).Error("Failed to read content event")
				continue
			}

			if result := mb.validator.ValidateContentEvent(message.Value); !result.Valid {
				mb.logger.WithField("errors", result.Errors).Warn("Dropping invalid content event")
				mb.sendToDLQ(ctx, message, fmt.Errorf("schema validation failed"))
				continue
			}

			var event models.ContentEvent
			if err := json.Unmarshal(message.Value, &event); err != nil {
				mb.logger.WithError(err).Warn("Failed to decode content event")
				mb.sendToDLQ(ctx, message, err)
				continue
			}
			if event.Timestamp.IsZero() {
				event.Timestamp = time.Now()
			}
			if event.Item != nil {
				if err := mb.structValidator.Struct(event.Item); err != nil {
					mb.logger.WithError(err).WithField("item_id", event.ItemID).
						Warn("Dropping content event with invalid item payload")
					mb.sendToDLQ(ctx, message, err)
					continue
				}
			}

			if err := mb.processWithRetry(ctx, &event, handler); err != nil {
				mb.logger.WithError(err).WithField("item_id", event.ItemID).
					Error("Content event failed after retries")
				mb.sendToDLQ(ctx, message, err)
			}
		}
	}
}

func (mb *MessageBus) processWithRetry(ctx context.Context, event *models.ContentEvent, handler func(*models.ContentEvent) error) error {
	maxRetries := 3
	baseDelay := time.Second

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := handler(event); err != nil {
			mb.logger.WithError(err).WithFields(logrus.Fields{
				"item_id": event.ItemID,
				"attempt": attempt,
			}).Warn("Content event processing failed")
			if attempt == maxRetries {
				return fmt.Errorf("max retries exceeded: %w", err)
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("unexpected retry loop exit")
}

func (mb *MessageBus) sendToDLQ(ctx context.Context, original kafka.Message, cause error) {
	dlqMessage := kafka.Message{
		Key:   original.Key,
		Value: original.Value,
		Headers: []kafka.Header{
			{Key: "error", Value: []byte(cause.Error())},
			{Key: "dlq_timestamp", Value: []byte(time.Now().Format(time.RFC3339))},
		},
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mb.dlqWriter.WriteMessages(writeCtx, dlqMessage); err != nil {
		mb.logger.WithError(err).Error("Failed to write content event to DLQ")
	}
}

// PublishTrainingCompleted emits a job-completion notification. Implements
// the trainer's notifier contract.
func (mb *MessageBus) PublishTrainingCompleted(ctx context.Context, job *models.TrainingJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode training notification: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(job.ID.String()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "job_id", Value: []byte(job.ID.String())},
			{Key: "status", Value: []byte(job.Status)},
		},
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := mb.notifyWriter.WriteMessages(writeCtx, message); err != nil {
		return fmt.Errorf("failed to publish training notification: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"status": job.Status,
	}).Info("Training notification published")
	return nil
}

func (mb *MessageBus) Close() error {
	var errs []error
	if err := mb.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close consumer: %w", err))
	}
	if err := mb.dlqWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close DLQ writer: %w", err))
	}
	if err := mb.notifyWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close notification writer: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing message bus: %v", errs)
	}
	return nil
}

// Stats exposes consumer-side counters for the operator metrics surface.
func (mb *MessageBus) Stats() map[string]interface{} {
	stats := mb.reader.Stats()
	return map[string]interface{}{
		"consumer_lag":    stats.Lag,
		"consumer_offset": stats.Offset,
		"messages_read":   stats.Messages,
		"bytes_read":      stats.Bytes,
		"rebalances":      stats.Rebalances,
		"errors":          stats.Errors,
	}
}
