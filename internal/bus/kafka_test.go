package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/claimguard/internal/domain"
)

type recordingWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func newTestKafkaBus(w kafkaWriter) *KafkaBus {
	return &KafkaBus{
		writer:        w,
		brokers:       []string{"localhost:9092"},
		groupID:       "claimguard-test",
		subscriptions: make(map[string]*kafkaSubscription),
	}
}

func TestKafkaBusPublish(t *testing.T) {
	w := &recordingWriter{}
	b := newTestKafkaBus(w)

	err := b.Publish(context.Background(), domain.TopicClaimScored, []byte(`{"claimId":"c1"}`))
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	m := w.msgs[0]
	assert.Equal(t, domain.TopicClaimScored, m.Topic)
	assert.Equal(t, `{"claimId":"c1"}`, string(m.Value))
	assert.NotEmpty(t, m.Key)

	decoded := fromKafkaMessage(m)
	assert.Equal(t, string(m.Key), decoded.ID)
	assert.Equal(t, domain.TopicClaimScored, decoded.Topic)
	assert.NotZero(t, decoded.Timestamp)
	assert.Empty(t, decoded.Metadata)
}

func TestKafkaBusPublishErrors(t *testing.T) {
	t.Run("WriterFailure", func(t *testing.T) {
		b := newTestKafkaBus(&recordingWriter{err: errors.New("broker down")})
		err := b.Publish(context.Background(), "t", []byte("x"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broker down")
	})

	t.Run("EmptyTopic", func(t *testing.T) {
		b := newTestKafkaBus(&recordingWriter{})
		assert.Error(t, b.Publish(context.Background(), "", []byte("x")))
	})

	t.Run("AfterClose", func(t *testing.T) {
		w := &recordingWriter{}
		b := newTestKafkaBus(w)
		require.NoError(t, b.Close())
		assert.True(t, w.closed)
		assert.Error(t, b.Publish(context.Background(), "t", []byte("x")))

		_, err := b.Subscribe(context.Background(), "t", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		assert.Error(t, err)
	})
}

func TestFromKafkaMessage(t *testing.T) {
	at := time.Unix(1700000000, 0)
	m := kafkago.Message{
		Topic: "claimguard.claim.alert",
		Key:   []byte("key-1"),
		Value: []byte("payload"),
		Time:  at,
		Headers: []kafkago.Header{
			{Key: "trace_id", Value: []byte("trace-1")},
		},
	}

	msg := fromKafkaMessage(m)
	assert.Equal(t, "key-1", msg.ID, "key stands in for a missing message id header")
	assert.Equal(t, at.UnixNano(), msg.Timestamp)
	assert.Equal(t, "trace-1", msg.Metadata["trace_id"])
}
