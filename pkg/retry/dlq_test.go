package retry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedPublish struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type fakeRawPublisher struct {
	published []recordedPublish
	err       error
}

func (f *fakeRawPublisher) Publish(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, recordedPublish{topic: topic, key: key, value: value, headers: headers})
	return nil
}

func TestKafkaDLQPublisher_PublishToDLQ(t *testing.T) {
	producer := &fakeRawPublisher{}
	p := NewKafkaDLQPublisher(producer, "booking-service")

	err := p.PublishToDLQ(context.Background(), &DLQMessage{
		ID:            "evt-1",
		OriginalTopic: "booking-events",
		OriginalKey:   "booking-1",
		Payload:       json.RawMessage(`{"a":1}`),
		Headers:       map[string]string{"event_type": "booking.confirmed"},
		Error:         "broker down",
		Attempts:      3,
	})
	require.NoError(t, err)
	require.Len(t, producer.published, 1)

	got := producer.published[0]
	assert.Equal(t, "booking-events.dlq", got.topic)
	assert.Equal(t, "booking-1", got.key)
	assert.Equal(t, "booking.confirmed", got.headers["original_event_type"])
	assert.Equal(t, "3", got.headers["attempts"])

	var decoded DLQMessage
	require.NoError(t, json.Unmarshal(got.value, &decoded))
	assert.Equal(t, "booking-service", decoded.Source)
	assert.False(t, decoded.MovedToDLQAt.IsZero())
}

func TestKafkaDLQPublisher_NilMessage(t *testing.T) {
	p := NewKafkaDLQPublisher(&fakeRawPublisher{}, "svc")
	assert.Error(t, p.PublishToDLQ(context.Background(), nil))
}

func TestDLQHandler_ProcessWithDLQ(t *testing.T) {
	errBroker := errors.New("broker down")

	t.Run("success does not touch the DLQ", func(t *testing.T) {
		producer := &fakeRawPublisher{}
		h := NewDLQHandler(NewKafkaDLQPublisher(producer, "svc"), fastConfig(2), "svc")

		err := h.ProcessWithDLQ(context.Background(), &MessageContext{Topic: "t"}, func(ctx context.Context) error { return nil })
		assert.NoError(t, err)
		assert.Empty(t, producer.published)
	})

	t.Run("exhausted retries go to the DLQ", func(t *testing.T) {
		producer := &fakeRawPublisher{}
		h := NewDLQHandler(NewKafkaDLQPublisher(producer, "svc"), fastConfig(2), "svc")

		calls := 0
		err := h.ProcessWithDLQ(context.Background(), &MessageContext{ID: "evt-1", Topic: "t", Key: "k"}, func(ctx context.Context) error {
			calls++
			return errBroker
		})
		assert.ErrorIs(t, err, errBroker)
		assert.Equal(t, 3, calls)
		require.Len(t, producer.published, 1)
		assert.Equal(t, "t.dlq", producer.published[0].topic)
	})

	t.Run("DLQ failure is reported", func(t *testing.T) {
		producer := &fakeRawPublisher{err: errors.New("dlq down")}
		h := NewDLQHandler(NewKafkaDLQPublisher(producer, "svc"), fastConfig(0), "svc")

		err := h.ProcessWithDLQ(context.Background(), &MessageContext{Topic: "t"}, func(ctx context.Context) error { return errBroker })
		assert.ErrorContains(t, err, "failed to publish to DLQ")
	})
}
