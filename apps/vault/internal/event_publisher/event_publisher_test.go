package event_publisher

import (
	"context"
	"errors"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shanmukh0504/onesat/apps/vault/internal/model"
)

type fakeProducer struct {
	failKeys map[string]bool
	produced []*kafka.Message
	closed   bool
}

func (p *fakeProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	delivered := *msg
	if p.failKeys[string(msg.Key)] {
		delivered.TopicPartition.Error = errors.New("broker unavailable")
	} else {
		p.produced = append(p.produced, msg)
	}
	deliveryChan <- &delivered
	return nil
}

func (p *fakeProducer) Close() { p.closed = true }

type fakeOutbox struct {
	events []model.OutboxEvent
	sent   []string
	failed []string
}

func (o *fakeOutbox) GetUnsentEventsForProcessing(context.Context, int) ([]model.OutboxEvent, error) {
	events := o.events
	o.events = nil
	return events, nil
}

func (o *fakeOutbox) MarkEventAsSent(_ context.Context, id string) error {
	o.sent = append(o.sent, id)
	return nil
}

func (o *fakeOutbox) MarkEventAsFailed(_ context.Context, id string) error {
	o.failed = append(o.failed, id)
	return nil
}

func (o *fakeOutbox) RequeueStaleEvents(context.Context, int) (int64, error) { return 0, nil }

func TestPublishUnsentEvents(t *testing.T) {
	producer := &fakeProducer{failKeys: map[string]bool{"0xbad": true}}
	outbox := &fakeOutbox{events: []model.OutboxEvent{
		{EventID: "e1", EventType: model.EventTypeDepositSettled, DepositID: "0x01", EventBlob: []byte(`{"deposit_id":"0x01"}`)},
		{EventID: "e2", EventType: model.EventTypeDepositSettled, DepositID: "0xbad", EventBlob: []byte(`{}`)},
	}}
	ep := newEventPublisher(producer, "deposits", zap.NewNop(), outbox)

	require.NoError(t, ep.PublishUnsentEvents(context.Background()))

	assert.Equal(t, []string{"e1"}, outbox.sent)
	assert.Equal(t, []string{"e2"}, outbox.failed)
	require.Len(t, producer.produced, 1)
	msg := producer.produced[0]
	assert.Equal(t, "deposits", *msg.TopicPartition.Topic)
	assert.Equal(t, "0x01", string(msg.Key))
	assert.JSONEq(t, `{"deposit_id":"0x01"}`, string(msg.Value))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
}

func TestClose(t *testing.T) {
	producer := &fakeProducer{}
	ep := newEventPublisher(producer, "deposits", zap.NewNop(), &fakeOutbox{})
	require.NoError(t, ep.Close())
	assert.True(t, producer.closed)
}
