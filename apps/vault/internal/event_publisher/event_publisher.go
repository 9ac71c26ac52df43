package event_publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"

	"github.com/shanmukh0504/onesat/apps/vault/internal/metrics"
	"github.com/shanmukh0504/onesat/apps/vault/internal/model"
)

const (
	publishInterval   = 3 * time.Second
	publishBatchSize  = 100
	staleClaimSeconds = 300
)

type OutboxStore interface {
	GetUnsentEventsForProcessing(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkEventAsSent(ctx context.Context, eventID string) error
	MarkEventAsFailed(ctx context.Context, eventID string) error
	RequeueStaleEvents(ctx context.Context, olderThanSeconds int) (int64, error)
}

// messageProducer is the subset of *kafka.Producer used here.
type messageProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Close()
}

// EventPublisher relays outbox rows to Kafka.
type EventPublisher struct {
	logger     *zap.Logger
	producer   messageProducer
	kafkaTopic string
	outbox     OutboxStore
	mu         sync.Mutex
}

func NewEventPublisher(kafkaBroker, kafkaTopic string, logger *zap.Logger, outbox OutboxStore) (*EventPublisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"acks":              "all",
		"retries":           3,
		"retry.backoff.ms":  100,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return newEventPublisher(producer, kafkaTopic, logger, outbox), nil
}

func newEventPublisher(producer messageProducer, kafkaTopic string, logger *zap.Logger, outbox OutboxStore) *EventPublisher {
	return &EventPublisher{
		logger:     logger,
		producer:   producer,
		kafkaTopic: kafkaTopic,
		outbox:     outbox,
	}
}

func (ep *EventPublisher) StartPublishing(ctx context.Context) {
	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ep.PublishUnsentEvents(ctx); err != nil {
				ep.logger.Error("Error publishing events to Kafka", zap.Error(err))
			}
		}
	}
}

// PublishUnsentEvents sends one batch of outbox events. Events that fail to
// publish go back to unsent for the next round.
func (ep *EventPublisher) PublishUnsentEvents(ctx context.Context) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if _, err := ep.outbox.RequeueStaleEvents(ctx, staleClaimSeconds); err != nil {
		ep.logger.Warn("Failed to requeue stale outbox events", zap.Error(err))
	}

	outboxEvents, err := ep.outbox.GetUnsentEventsForProcessing(ctx, publishBatchSize)
	if err != nil {
		return err
	}

	successCount := 0
	for _, event := range outboxEvents {
		if err := ep.publishEventToKafka(event); err != nil {
			metrics.OutboxEventsPublished.WithLabelValues("failed").Inc()
			ep.logger.Error("Failed to publish event to Kafka", zap.String("event_id", event.EventID), zap.String("deposit_id", event.DepositID), zap.Error(err))
			if markErr := ep.outbox.MarkEventAsFailed(ctx, event.EventID); markErr != nil {
				ep.logger.Error("Failed to mark event as failed", zap.String("event_id", event.EventID), zap.Error(markErr))
			}
			continue
		}

		metrics.OutboxEventsPublished.WithLabelValues("sent").Inc()
		if err := ep.outbox.MarkEventAsSent(ctx, event.EventID); err != nil {
			// Published but still marked processing; it is requeued and sent again later.
			ep.logger.Error("Failed to mark event as sent", zap.String("event_id", event.EventID), zap.Error(err))
		} else {
			successCount++
		}
	}

	if successCount > 0 {
		ep.logger.Info("Published events to Kafka", zap.Int("success_count", successCount), zap.Int("attempted", len(outboxEvents)))
	}
	return nil
}

func (ep *EventPublisher) publishEventToKafka(event model.OutboxEvent) error {
	deliveryChan := make(chan kafka.Event, 1)

	err := ep.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &ep.kafkaTopic, Partition: kafka.PartitionAny},
		Key:            []byte(event.DepositID),
		Value:          event.EventBlob,
		Headers:        []kafka.Header{{Key: "event_type", Value: []byte(event.EventType)}},
	}, deliveryChan)
	if err != nil {
		return err
	}

	e := <-deliveryChan
	switch ev := e.(type) {
	case *kafka.Message:
		if ev.TopicPartition.Error != nil {
			return ev.TopicPartition.Error
		}
		return nil
	default:
		return fmt.Errorf("unexpected kafka event type: %T", e)
	}
}

func (ep *EventPublisher) Close() error {
	if ep.producer != nil {
		ep.producer.Close()
	}
	return nil
}
